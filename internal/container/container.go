// Package container multiplexes anchored sample streams into output files.
//
// A Container owns a sink, an ordered set of TrackWriters and one Anchor.
// Accepted samples are copied into a bounded queue drained by a single
// writer goroutine, which is the only code touching the sink once writing
// has begun. Delivery contexts therefore never wait on file I/O.
package container

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/screenrec/internal/capture"
	"github.com/breeze-rmm/screenrec/internal/logging"
	"github.com/breeze-rmm/screenrec/internal/workerpool"
)

var log = logging.L("container")

// State is the writing state of a Container.
type State int32

const (
	StateNotStarted State = iota
	StateWriting
	StateFinishing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateWriting:
		return "writing"
	case StateFinishing:
		return "finishing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Spec describes a container to open.
type Spec struct {
	Name       string
	Path       string
	Format     Format
	AnchorKind capture.TrackKind
	Tracks     []TrackSpec
}

// Executor runs finalization off the caller's goroutine. *workerpool.Pool
// satisfies it.
type Executor interface {
	Submit(task workerpool.Task) bool
}

// Options carries a Container's collaborators. Zero values are usable.
type Options struct {
	Sinks    SinkFactory
	Executor Executor
	Logger   *slog.Logger
}

type block struct {
	track    *TrackWriter
	at       time.Duration
	duration time.Duration
	keyframe bool
	data     []byte
}

// Container is one output file.
type Container struct {
	name       string
	path       string
	format     Format
	anchorKind capture.TrackKind

	sink   Sink
	tracks []*TrackWriter
	anchor Anchor
	state  atomic.Int32
	exec   Executor
	log    *slog.Logger

	queue      chan block
	drained    chan struct{}
	closeOnce  sync.Once
	closeErr   error
	firstError sync.Once
}

// Open clears any existing file at spec.Path, creates the sink and
// registers every track. On failure no file is left behind.
func Open(spec Spec, opts Options) (*Container, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log
	}
	logger = logger.With(logging.KeyContainer, spec.Name)

	if err := clearPath(spec.Path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSinkCreation, spec.Name, err)
	}

	factory := opts.Sinks
	if factory == nil {
		factory = DefaultSinks
	}
	sink, err := factory(spec.Path, spec.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSinkCreation, spec.Name, err)
	}

	c := &Container{
		name:       spec.Name,
		path:       spec.Path,
		format:     spec.Format,
		anchorKind: spec.AnchorKind,
		sink:       sink,
		exec:       opts.Executor,
		log:        logger,
		drained:    make(chan struct{}),
	}

	var anchorTrack bool
	for _, ts := range spec.Tracks {
		if !ts.Kind.Valid() {
			c.discard()
			return nil, fmt.Errorf("%w: %s: invalid track kind %d", ErrUnsupportedTrack, spec.Name, ts.Kind)
		}
		if c.Track(ts.Kind) != nil {
			c.discard()
			return nil, fmt.Errorf("%w: %s: duplicate %s track", ErrUnsupportedTrack, spec.Name, ts.Kind)
		}
		idx, err := sink.AddTrack(ts)
		if err != nil {
			c.discard()
			return nil, fmt.Errorf("%w: %s: %s: %v", ErrUnsupportedTrack, spec.Name, ts.Kind, err)
		}
		c.tracks = append(c.tracks, newTrackWriter(c, ts, idx))
		if ts.Kind == spec.AnchorKind {
			anchorTrack = true
		}
	}
	if len(spec.Tracks) > 0 && !anchorTrack {
		c.discard()
		return nil, fmt.Errorf("%w: %s: no %s track to anchor on", ErrUnsupportedTrack, spec.Name, spec.AnchorKind)
	}

	logger.Debug("container opened", logging.KeyPath, spec.Path, "tracks", len(c.tracks))
	return c, nil
}

func clearPath(path string) error {
	if _, err := os.Lstat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return os.Remove(path)
}

// Name returns the container's name.
func (c *Container) Name() string { return c.name }

// Path returns the output path.
func (c *Container) Path() string { return c.path }

// AnchorKind returns the track kind whose first sample sets the anchor.
func (c *Container) AnchorKind() capture.TrackKind { return c.anchorKind }

// Anchor returns the container's timeline anchor.
func (c *Container) Anchor() *Anchor { return &c.anchor }

// State returns the current writing state.
func (c *Container) State() State { return State(c.state.Load()) }

// Writing reports whether samples may currently be accepted.
func (c *Container) Writing() bool { return c.State() == StateWriting }

// Tracks returns the track writers in registration order.
func (c *Container) Tracks() []*TrackWriter {
	return append([]*TrackWriter(nil), c.tracks...)
}

// Track returns the writer for kind, or nil.
func (c *Container) Track(kind capture.TrackKind) *TrackWriter {
	for _, t := range c.tracks {
		if t.spec.Kind == kind {
			return t
		}
	}
	return nil
}

// BeginWriting moves the container to Writing and starts its writer
// goroutine.
func (c *Container) BeginWriting() error {
	if len(c.tracks) == 0 {
		return fmt.Errorf("%w: %s: no tracks registered", ErrWriterStart, c.name)
	}
	if c.State() != StateNotStarted {
		return fmt.Errorf("%w: %s: state %s", ErrWriterStart, c.name, c.State())
	}
	if err := c.sink.Begin(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWriterStart, c.name, err)
	}

	capacity := 0
	for _, t := range c.tracks {
		capacity += int(t.depth)
	}
	c.queue = make(chan block, capacity)
	go c.writeLoop()

	c.state.Store(int32(StateWriting))
	c.log.Debug("container writing")
	return nil
}

func (c *Container) writeLoop() {
	defer close(c.drained)
	for b := range c.queue {
		err := c.sink.WriteSample(b.track.index, b.at, b.keyframe, b.data)
		b.track.release()
		b.track.recordWrite(b.at, b.duration, err)
		if err != nil {
			c.firstError.Do(func() {
				c.log.Warn("sink write failed", logging.KeyTrack, b.track.spec.Kind.String(), logging.KeyError, err)
			})
		}
	}
}

// FinishTracks marks every track finished.
func (c *Container) FinishTracks() {
	for _, t := range c.tracks {
		t.Finish()
	}
}

// Finalize flushes and closes the sink asynchronously and calls onDone
// with the result. Every track must already be finished. onDone runs on
// the executor, or on a new goroutine when the executor refuses the task.
func (c *Container) Finalize(onDone func(error)) error {
	for _, t := range c.tracks {
		if !t.Finished() {
			return fmt.Errorf("%w: %s: %s track open", ErrTracksNotFinished, c.name, t.spec.Kind)
		}
	}
	if !c.state.CompareAndSwap(int32(StateWriting), int32(StateFinishing)) {
		return fmt.Errorf("%w: %s: state %s", ErrNotWriting, c.name, c.State())
	}

	task := func() {
		err := c.closeSink()
		if onDone != nil {
			onDone(err)
		}
	}
	if c.exec == nil || !c.exec.Submit(task) {
		go task()
	}
	return nil
}

// closeSink drains the queue and closes the sink. It runs once.
func (c *Container) closeSink() error {
	c.closeOnce.Do(func() {
		start := time.Now()
		if c.queue != nil {
			close(c.queue)
			<-c.drained
		}
		if err := c.sink.Close(); err != nil {
			c.closeErr = fmt.Errorf("finalize %s: %w", c.name, err)
		}
		c.state.Store(int32(StateClosed))

		st := c.Stats()
		c.log.Info("container finalized",
			logging.KeyPath, c.path,
			"anchored", st.Anchored,
			"duration", st.Duration,
			logging.KeyDurationMs, time.Since(start).Milliseconds(),
			logging.KeyError, c.closeErr,
		)
	})
	return c.closeErr
}

// Abort tears the container down after a failed setup: tracks are
// finished, the sink is closed and the output file removed. Safe to call
// in any state.
func (c *Container) Abort() {
	c.FinishTracks()
	c.state.CompareAndSwap(int32(StateWriting), int32(StateFinishing))
	if err := c.closeSink(); err != nil {
		c.log.Debug("abort close", logging.KeyError, err)
	}
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.log.Warn("failed to remove aborted output", logging.KeyPath, c.path, logging.KeyError, err)
	}
}

// discard releases a half-opened container.
func (c *Container) discard() {
	c.closeOnce.Do(func() {
		_ = c.sink.Close()
		c.state.Store(int32(StateClosed))
	})
	_ = os.Remove(c.path)
}

// Stats is a point-in-time view of a container.
type Stats struct {
	Name     string
	Path     string
	State    State
	Anchored bool
	Anchor   time.Duration
	Duration time.Duration
	Tracks   []TrackStats
}

// Stats returns a snapshot. Duration is the furthest written sample end
// across all tracks, relative to the anchor.
func (c *Container) Stats() Stats {
	anchor, ok := c.anchor.Get()
	st := Stats{
		Name:     c.name,
		Path:     c.path,
		State:    c.State(),
		Anchored: ok,
		Anchor:   anchor,
		Tracks:   make([]TrackStats, 0, len(c.tracks)),
	}
	for _, t := range c.tracks {
		ts := t.stats()
		if ts.Duration > st.Duration {
			st.Duration = ts.Duration
		}
		st.Tracks = append(st.Tracks, ts)
	}
	return st
}
