package recorder

import (
	"log/slog"
	"sync/atomic"

	"github.com/breeze-rmm/screenrec/internal/capture"
	"github.com/breeze-rmm/screenrec/internal/container"
	"github.com/breeze-rmm/screenrec/internal/logging"
)

type route struct {
	c *container.Container
	w *container.TrackWriter
}

// Router hands samples from any number of delivery goroutines to the
// matching TrackWriter. Route never blocks and never logs per sample.
type Router struct {
	routes   [capture.TrackMicAudio + 1]route
	metrics  *Metrics
	log      *slog.Logger
	warnedBP [capture.TrackMicAudio + 1]atomic.Bool
}

// NewRouter routes every track of the given containers. A kind present in
// more than one container is routed to the first.
func NewRouter(metrics *Metrics, logger *slog.Logger, containers ...*container.Container) *Router {
	if metrics == nil {
		metrics = newMetrics()
	}
	if logger == nil {
		logger = logging.L("router")
	}
	r := &Router{metrics: metrics, log: logger}
	for _, c := range containers {
		if c == nil {
			continue
		}
		for _, w := range c.Tracks() {
			if r.routes[w.Kind()].w == nil {
				r.routes[w.Kind()] = route{c: c, w: w}
			}
		}
	}
	return r
}

// Metrics returns the router's counters.
func (r *Router) Metrics() *Metrics {
	return r.metrics
}

// Route applies the anchor and readiness policy to s and writes it when
// allowed. It reports whether the sample was accepted.
//
// A container's anchor is set by the first sample on its anchor track.
// Samples on other tracks are dropped until then, as are samples older
// than the anchor and samples the track cannot take right now.
func (r *Router) Route(s capture.Sample) bool {
	if !s.Kind.Valid() || r.routes[s.Kind].w == nil {
		r.metrics.unknown.Add(1)
		return false
	}
	rt := r.routes[s.Kind]
	tc := r.metrics.track(s.Kind)
	tc.received.Add(1)

	if rt.w.Finished() {
		tc.droppedFinished.Add(1)
		return false
	}

	anchor := rt.c.Anchor()
	at, ok := anchor.Get()
	if !ok {
		if s.Kind != rt.c.AnchorKind() {
			tc.droppedBeforeAnchor.Add(1)
			return false
		}
		if anchor.TrySet(s.PTS) {
			r.log.Info("timeline anchored", logging.KeyContainer, rt.c.Name(), logging.KeyTrack, s.Kind.String(), "pts", s.PTS)
		}
		at, _ = anchor.Get()
	}

	if s.PTS < at {
		tc.droppedEarly.Add(1)
		return false
	}

	if !rt.w.CanAccept() || !rt.w.Write(s) {
		if rt.w.Finished() {
			tc.droppedFinished.Add(1)
			return false
		}
		tc.droppedNotReady.Add(1)
		if r.warnedBP[s.Kind].CompareAndSwap(false, true) {
			r.log.Warn("track not ready, dropping samples", logging.KeyContainer, rt.c.Name(), logging.KeyTrack, s.Kind.String())
		}
		return false
	}

	tc.accepted.Add(1)
	return true
}
