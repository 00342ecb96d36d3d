package recorder

import (
	"sync/atomic"

	"github.com/samber/lo"

	"github.com/breeze-rmm/screenrec/internal/capture"
)

// trackCounters are the per-track delivery counters. They are updated on
// the delivery path, so they are plain atomics.
type trackCounters struct {
	received            atomic.Uint64
	accepted            atomic.Uint64
	droppedBeforeAnchor atomic.Uint64
	droppedEarly        atomic.Uint64
	droppedNotReady     atomic.Uint64
	droppedFinished     atomic.Uint64
}

// Metrics counts what happened to every delivered sample.
type Metrics struct {
	tracks  [capture.TrackMicAudio + 1]trackCounters
	unknown atomic.Uint64
}

func newMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) track(kind capture.TrackKind) *trackCounters {
	return &m.tracks[kind]
}

// TrackMetrics is a point-in-time copy of one track's counters.
type TrackMetrics struct {
	Kind                capture.TrackKind
	Received            uint64
	Accepted            uint64
	DroppedBeforeAnchor uint64
	DroppedEarly        uint64
	DroppedNotReady     uint64
	DroppedFinished     uint64
}

// Dropped is the total of every drop reason.
func (t TrackMetrics) Dropped() uint64 {
	return t.DroppedBeforeAnchor + t.DroppedEarly + t.DroppedNotReady + t.DroppedFinished
}

// MetricsSnapshot is a point-in-time copy of metrics for logging and
// reporting.
type MetricsSnapshot struct {
	Tracks  []TrackMetrics
	Unknown uint64
}

// Track returns the counters for kind.
func (s MetricsSnapshot) Track(kind capture.TrackKind) TrackMetrics {
	t, ok := lo.Find(s.Tracks, func(t TrackMetrics) bool { return t.Kind == kind })
	if !ok {
		return TrackMetrics{Kind: kind}
	}
	return t
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Unknown: m.unknown.Load()}
	for _, kind := range []capture.TrackKind{capture.TrackVideo, capture.TrackSystemAudio, capture.TrackMicAudio} {
		c := m.track(kind)
		snap.Tracks = append(snap.Tracks, TrackMetrics{
			Kind:                kind,
			Received:            c.received.Load(),
			Accepted:            c.accepted.Load(),
			DroppedBeforeAnchor: c.droppedBeforeAnchor.Load(),
			DroppedEarly:        c.droppedEarly.Load(),
			DroppedNotReady:     c.droppedNotReady.Load(),
			DroppedFinished:     c.droppedFinished.Load(),
		})
	}
	return snap
}

// LogAttrs flattens the snapshot into slog key/value pairs.
func (s MetricsSnapshot) LogAttrs() []any {
	attrs := make([]any, 0, len(s.Tracks)*4+2)
	for _, t := range s.Tracks {
		attrs = append(attrs,
			t.Kind.String()+".received", t.Received,
			t.Kind.String()+".accepted", t.Accepted,
			t.Kind.String()+".dropped", t.Dropped(),
			t.Kind.String()+".droppedNotReady", t.DroppedNotReady,
		)
	}
	if s.Unknown > 0 {
		attrs = append(attrs, "unknown", s.Unknown)
	}
	return attrs
}
