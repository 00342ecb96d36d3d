// Package containertest provides an in-memory container.Sink that records
// what it is given and can be told to fail or stall.
package containertest

import (
	"sync"
	"time"

	"github.com/breeze-rmm/screenrec/internal/container"
)

// Write is one recorded WriteSample call.
type Write struct {
	Track    int
	At       time.Duration
	Keyframe bool
	Data     []byte
}

// Sink records calls. Set the error fields to make the matching call fail.
// When Gate is non-nil every WriteSample waits for a value (or the close)
// on it first.
type Sink struct {
	AddErr   error
	BeginErr error
	WriteErr error
	CloseErr error
	Gate     chan struct{}

	mu     sync.Mutex
	tracks []container.TrackSpec
	writes []Write
	began  bool
	closed int
}

func (s *Sink) AddTrack(spec container.TrackSpec) (int, error) {
	if s.AddErr != nil {
		return 0, s.AddErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, spec)
	return len(s.tracks) - 1, nil
}

func (s *Sink) Begin() error {
	if s.BeginErr != nil {
		return s.BeginErr
	}
	s.mu.Lock()
	s.began = true
	s.mu.Unlock()
	return nil
}

func (s *Sink) WriteSample(track int, at time.Duration, keyframe bool, data []byte) error {
	if s.Gate != nil {
		<-s.Gate
	}
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.mu.Lock()
	s.writes = append(s.writes, Write{Track: track, At: at, Keyframe: keyframe, Data: data})
	s.mu.Unlock()
	return nil
}

func (s *Sink) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return s.CloseErr
}

// Tracks returns the registered track specs.
func (s *Sink) Tracks() []container.TrackSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]container.TrackSpec(nil), s.tracks...)
}

// Writes returns the recorded writes.
func (s *Sink) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.writes...)
}

// WritesFor returns the recorded writes for one track index.
func (s *Sink) WritesFor(track int) []Write {
	var out []Write
	for _, w := range s.Writes() {
		if w.Track == track {
			out = append(out, w)
		}
	}
	return out
}

// Began reports whether Begin succeeded.
func (s *Sink) Began() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.began
}

// CloseCalls returns how many times Close ran.
func (s *Sink) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Factory hands out sinks by path, creating one per path on first use.
type Factory struct {
	// Err, when set, makes every creation fail.
	Err error
	// Prepare, when set, configures each new sink.
	Prepare func(path string, s *Sink)

	mu    sync.Mutex
	sinks map[string]*Sink
	order []string
}

// New implements container.SinkFactory.
func (f *Factory) New(path string, format container.Format) (container.Sink, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sinks == nil {
		f.sinks = make(map[string]*Sink)
	}
	s := &Sink{}
	if f.Prepare != nil {
		f.Prepare(path, s)
	}
	f.sinks[path] = s
	f.order = append(f.order, path)
	return s, nil
}

// Sink returns the sink created for path, or nil.
func (f *Factory) Sink(path string) *Sink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinks[path]
}

// Paths returns created paths in creation order.
func (f *Factory) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}
