// Package capturetest provides scripted capture sources for tests. Tests
// push samples, start confirmations and failures by hand so the recorder
// can be driven deterministically without a capture device.
package capturetest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/screenrec/internal/capture"
)

// Stream is a capture.Stream driven by the test.
type Stream struct {
	Config capture.StreamConfig

	samples  chan capture.Sample
	started  chan error
	errs     chan error
	stopped  chan struct{}
	stopOnce sync.Once
	stops    atomic.Int32
}

// NewStream returns a stream whose sample channel holds buffer samples.
func NewStream(buffer int) *Stream {
	return &Stream{
		samples: make(chan capture.Sample, buffer),
		started: make(chan error, 1),
		errs:    make(chan error, 4),
		stopped: make(chan struct{}),
	}
}

func (s *Stream) Samples() <-chan capture.Sample { return s.samples }
func (s *Stream) Started() <-chan error          { return s.started }
func (s *Stream) Errors() <-chan error           { return s.errs }

// Stop records the call. The sample channel is left open, like a platform
// source that keeps its delivery queue alive after stopping.
func (s *Stream) Stop() {
	s.stops.Add(1)
	s.stopOnce.Do(func() { close(s.stopped) })
}

// StopCalls returns how many times Stop was called.
func (s *Stream) StopCalls() int {
	return int(s.stops.Load())
}

// Stopped is closed on the first Stop.
func (s *Stream) Stopped() <-chan struct{} {
	return s.stopped
}

// ConfirmStart reports the asynchronous start result.
func (s *Stream) ConfirmStart(err error) {
	select {
	case s.started <- err:
	default:
	}
}

// Emit delivers a sample, blocking until the consumer takes it. It returns
// false if the stream was stopped first.
func (s *Stream) Emit(sample capture.Sample) bool {
	select {
	case <-s.stopped:
		return false
	default:
	}
	select {
	case s.samples <- sample:
		return true
	case <-s.stopped:
		return false
	}
}

// Fail reports a mid-stream error.
func (s *Stream) Fail(err error) {
	s.errs <- err
}

// Close closes the sample channel, as a source does when it ends.
func (s *Stream) Close() {
	close(s.samples)
}

// Screen is a scripted capture.ScreenSource.
type Screen struct {
	TargetList []capture.Target
	TargetsErr error
	OpenErr    error
	// AutoStart confirms start with StartErr as soon as the stream opens.
	AutoStart bool
	StartErr  error
	Buffer    int

	mu     sync.Mutex
	opened []*Stream
	ch     chan *Stream
	once   sync.Once
}

// NewScreen returns a screen source with one display that confirms start
// immediately.
func NewScreen() *Screen {
	return &Screen{
		TargetList: []capture.Target{{ID: "display-0", Name: "Display", Width: 1920, Height: 1080}},
		AutoStart:  true,
	}
}

func (s *Screen) Targets(ctx context.Context) ([]capture.Target, error) {
	if s.TargetsErr != nil {
		return nil, s.TargetsErr
	}
	return s.TargetList, nil
}

func (s *Screen) OpenScreen(target capture.Target, cfg capture.StreamConfig) (capture.Stream, error) {
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	st := NewStream(max(s.Buffer, 1))
	st.Config = cfg
	if s.AutoStart {
		st.ConfirmStart(s.StartErr)
	}
	s.record(st)
	return st, nil
}

// Opened yields every stream as it is opened.
func (s *Screen) Opened() <-chan *Stream {
	s.init()
	return s.ch
}

// Streams returns the streams opened so far.
func (s *Screen) Streams() []*Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Stream(nil), s.opened...)
}

func (s *Screen) init() {
	s.once.Do(func() { s.ch = make(chan *Stream, 16) })
}

func (s *Screen) record(st *Stream) {
	s.init()
	s.mu.Lock()
	s.opened = append(s.opened, st)
	s.mu.Unlock()
	s.ch <- st
}

// Mic is a scripted capture.MicSource.
type Mic struct {
	Device    capture.Device
	DeviceErr error
	OpenErr   error
	AutoStart bool
	StartErr  error
	Buffer    int

	mu     sync.Mutex
	opened []*Stream
	ch     chan *Stream
	once   sync.Once
}

// NewMic returns a microphone that is present and confirms start
// immediately.
func NewMic() *Mic {
	return &Mic{
		Device:    capture.Device{ID: "mic-0", Name: "Built-in Microphone"},
		AutoStart: true,
	}
}

// NewMissingMic returns a microphone source without a device.
func NewMissingMic() *Mic {
	return &Mic{DeviceErr: capture.ErrDeviceUnavailable}
}

func (m *Mic) DefaultDevice() (capture.Device, error) {
	if m.DeviceErr != nil {
		return capture.Device{}, m.DeviceErr
	}
	return m.Device, nil
}

func (m *Mic) OpenMic(device capture.Device) (capture.Stream, error) {
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	st := NewStream(max(m.Buffer, 1))
	if m.AutoStart {
		st.ConfirmStart(m.StartErr)
	}
	m.once.Do(func() { m.ch = make(chan *Stream, 16) })
	m.mu.Lock()
	m.opened = append(m.opened, st)
	m.mu.Unlock()
	m.ch <- st
	return st, nil
}

// Opened yields every stream as it is opened.
func (m *Mic) Opened() <-chan *Stream {
	m.once.Do(func() { m.ch = make(chan *Stream, 16) })
	return m.ch
}

// Streams returns the streams opened so far.
func (m *Mic) Streams() []*Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Stream(nil), m.opened...)
}
