package recorder

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/screenrec/internal/capture"
	"github.com/breeze-rmm/screenrec/internal/container"
)

// State is the lifecycle state of a capture session.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRecording
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

var (
	// ErrSessionActive is reported when Start is called while a session is
	// starting, recording or stopping.
	ErrSessionActive = errors.New("capture session already active")

	// ErrStartCancelled is reported when Stop arrives before start
	// completed.
	ErrStartCancelled = errors.New("capture start cancelled")
)

// Session is one recording attempt.
type Session struct {
	id     string
	cfg    SessionConfig
	preset Preset
	log    *slog.Logger

	state         atomic.Int32
	stopRequested atomic.Bool
	quiescing     atomic.Bool // sources are being stopped
	stopCh        chan struct{}
	stopOnce      sync.Once
	failCh        chan error
	halt          chan struct{}
	pumps         sync.WaitGroup
	done          chan struct{}

	metrics *Metrics
	router  *Router

	// set during setup by the run goroutine, read after done or by Info
	mu          sync.Mutex
	main        *container.Container
	aux         *container.Container
	screen      capture.Stream
	mic         capture.Stream
	micDegraded string
	startedAt   time.Time
	stoppedAt   time.Time
	cause       error
}

func newSession(id string, cfg SessionConfig, logger *slog.Logger) *Session {
	s := &Session{
		id:      id,
		cfg:     cfg,
		log:     logger,
		stopCh:  make(chan struct{}),
		failCh:  make(chan error, 1),
		halt:    make(chan struct{}),
		done:    make(chan struct{}),
		metrics: newMetrics(),
	}
	s.state.Store(int32(StateStarting))
	return s
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session reached Stopped or Failed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the failure cause once the session is done.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.log.Debug("session state", "from", prev.String(), "to", st.String())
	}
}

func (s *Session) active() bool {
	return !s.State().Terminal()
}

// requestStop is idempotent and never blocks.
func (s *Session) requestStop() {
	s.stopRequested.Store(true)
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Session) stopping() bool {
	return s.stopRequested.Load()
}

// reportFailure records a mid-stream failure of the primary source and
// triggers an implicit stop. Only the first failure is kept.
func (s *Session) reportFailure(err error) {
	select {
	case s.failCh <- err:
	default:
	}
}

// settle records the terminal state. Done is closed separately so the
// outcome can be reported before waiters wake.
func (s *Session) settle(st State, cause error) {
	s.mu.Lock()
	s.cause = cause
	s.stoppedAt = time.Now()
	s.mu.Unlock()
	s.setState(st)
}

func (s *Session) finish(st State, cause error) {
	s.settle(st, cause)
	close(s.done)
}

func (s *Session) containers() []*container.Container {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*container.Container
	for _, c := range []*container.Container{s.main, s.aux} {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// SessionInfo is a snapshot of a session for reporting.
type SessionInfo struct {
	ID          string
	State       State
	Preset      Preset
	MainPath    string
	AuxPath     string
	MicDegraded string
	StartedAt   time.Time
	StoppedAt   time.Time
	Cause       error
	Metrics     MetricsSnapshot
	Containers  []container.Stats
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	info := SessionInfo{
		ID:       s.id,
		State:    s.State(),
		MainPath: s.cfg.MainPath,
		AuxPath:  s.cfg.AuxPath,
		Metrics:  s.metrics.Snapshot(),
	}
	s.mu.Lock()
	info.Preset = s.preset
	info.MicDegraded = s.micDegraded
	info.StartedAt = s.startedAt
	info.StoppedAt = s.stoppedAt
	info.Cause = s.cause
	s.mu.Unlock()
	for _, c := range s.containers() {
		info.Containers = append(info.Containers, c.Stats())
	}
	return info
}
