package container

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/screenrec/internal/capture"
)

// DefaultTrackBuffer is used when a TrackSpec leaves Buffer unset.
const DefaultTrackBuffer = 32

// TrackWriter is one output track of a Container.
//
// Write never blocks: it reserves a slot in the track's share of the
// container queue and hands a copy of the sample to the writer goroutine,
// or drops the sample. Finish is monotonic and waits for in-flight Write
// calls, so once it returns nothing more reaches the sink from this track.
type TrackWriter struct {
	c     *Container
	spec  TrackSpec
	index int
	depth int32

	mu       sync.RWMutex // Write holds R across enqueue, Finish holds W
	finished atomic.Bool
	pending  atomic.Int32

	written     atomic.Uint64
	writeErrors atomic.Uint64
	end         atomic.Int64 // furthest written sample end, ns after anchor
}

func newTrackWriter(c *Container, spec TrackSpec, index int) *TrackWriter {
	depth := spec.Buffer
	if depth <= 0 {
		depth = DefaultTrackBuffer
	}
	return &TrackWriter{c: c, spec: spec, index: index, depth: int32(depth)}
}

// Kind returns the track kind.
func (w *TrackWriter) Kind() capture.TrackKind {
	return w.spec.Kind
}

// Spec returns the spec the track was registered with.
func (w *TrackWriter) Spec() TrackSpec {
	return w.spec
}

// CanAccept reports whether a Write right now would find buffer capacity.
func (w *TrackWriter) CanAccept() bool {
	return !w.finished.Load() && w.c.Writing() && w.pending.Load() < w.depth
}

// Finished reports whether Finish has been called.
func (w *TrackWriter) Finished() bool {
	return w.finished.Load()
}

// Write queues s for the sink. It returns false, dropping the sample, when
// the kind does not match, the track is finished, the container is not
// writing, the anchor is unset, s precedes the anchor, or the track's
// buffer is full.
func (w *TrackWriter) Write(s capture.Sample) bool {
	if s.Kind != w.spec.Kind {
		return false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.finished.Load() || !w.c.Writing() {
		return false
	}
	anchor, ok := w.c.anchor.Get()
	if !ok || s.PTS < anchor {
		return false
	}
	if !w.reserve() {
		return false
	}

	data := make([]byte, len(s.Data))
	copy(data, s.Data)
	w.c.queue <- block{
		track:    w,
		at:       s.PTS - anchor,
		duration: s.Duration,
		keyframe: s.Keyframe,
		data:     data,
	}
	return true
}

// Finish marks the track finished. It is idempotent.
func (w *TrackWriter) Finish() {
	if w.finished.Load() {
		return
	}
	w.mu.Lock()
	w.finished.Store(true)
	w.mu.Unlock()
}

func (w *TrackWriter) reserve() bool {
	for {
		n := w.pending.Load()
		if n >= w.depth {
			return false
		}
		if w.pending.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (w *TrackWriter) release() {
	w.pending.Add(-1)
}

func (w *TrackWriter) recordWrite(at, duration time.Duration, err error) {
	if err != nil {
		w.writeErrors.Add(1)
		return
	}
	w.written.Add(1)
	end := int64(at + duration)
	for {
		cur := w.end.Load()
		if end <= cur || w.end.CompareAndSwap(cur, end) {
			return
		}
	}
}

// TrackStats is a point-in-time view of one track.
type TrackStats struct {
	Kind        capture.TrackKind
	Codec       string
	Written     uint64
	WriteErrors uint64
	Duration    time.Duration
	Finished    bool
}

func (w *TrackWriter) stats() TrackStats {
	return TrackStats{
		Kind:        w.spec.Kind,
		Codec:       w.spec.Codec,
		Written:     w.written.Load(),
		WriteErrors: w.writeErrors.Load(),
		Duration:    time.Duration(w.end.Load()),
		Finished:    w.finished.Load(),
	}
}
