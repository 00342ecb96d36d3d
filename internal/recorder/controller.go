// Package recorder orchestrates a capture session: it opens the Main
// (video + system audio) and Aux (microphone) containers, starts the
// capture sources, routes their samples and finalizes both files on stop.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/breeze-rmm/screenrec/internal/capture"
	"github.com/breeze-rmm/screenrec/internal/container"
	"github.com/breeze-rmm/screenrec/internal/health"
	"github.com/breeze-rmm/screenrec/internal/logging"
	"github.com/breeze-rmm/screenrec/internal/workerpool"
)

var log = logging.L("recorder")

// Health component names.
const (
	ComponentScreen     = "screen"
	ComponentMicrophone = "microphone"
	ComponentMain       = "main"
	ComponentAux        = "aux"
)

// Audio track parameters shared by both containers.
const (
	audioSampleRate = 48000
	audioChannels   = 2
	audioBitrate    = 128_000
)

// SessionConfig is what the caller chooses per recording. Output naming is
// the caller's business.
type SessionConfig struct {
	Quality      Quality
	MainPath     string
	AuxPath      string
	Format       container.Format
	DisplayIndex int
	QueueDepth   int
	TrackBuffer  int
	// SkipMicrophone records without opening the microphone. The Aux
	// container is still produced.
	SkipMicrophone bool
	// ManifestPath, when set, receives a YAML summary after finalization.
	ManifestPath string
}

// Deps are the controller's collaborators.
type Deps struct {
	Screen capture.ScreenSource
	// Mic may be nil, which is treated like an absent device.
	Mic       capture.MicSource
	Sinks     container.SinkFactory
	Finalizer *workerpool.Pool
	Health    *health.Monitor
	Logger    *slog.Logger
}

// Controller runs at most one capture session at a time.
type Controller struct {
	deps Deps
	log  *slog.Logger

	mu      sync.Mutex
	current *Session
}

// New creates a controller. A nil Health gets a private monitor.
func New(deps Deps) *Controller {
	if deps.Health == nil {
		deps.Health = health.NewMonitor()
	}
	logger := deps.Logger
	if logger == nil {
		logger = log
	}
	return &Controller{deps: deps, log: logger}
}

// Start begins a session asynchronously. onResult is called exactly once:
// with nil when both containers are writing and the screen source confirmed
// start, or with the failure. ctx bounds setup only; once recording, Stop
// is the only way to end the session.
func (c *Controller) Start(ctx context.Context, cfg SessionConfig, onResult func(error)) {
	if onResult == nil {
		onResult = func(error) {}
	}

	c.mu.Lock()
	if cur := c.current; cur != nil && cur.active() {
		c.mu.Unlock()
		go onResult(ErrSessionActive)
		return
	}
	id := uuid.NewString()
	s := newSession(id, cfg, logging.WithSession(c.log, id))
	c.current = s
	c.mu.Unlock()

	go c.run(ctx, s, onResult)
}

// Stop ends the current session. It never blocks and may be called any
// number of times, including before start completed.
func (c *Controller) Stop() {
	if s := c.Session(); s != nil {
		s.requestStop()
	}
}

// IsRecording is true between a successful start and the first Stop.
func (c *Controller) IsRecording() bool {
	s := c.Session()
	return s != nil && s.State() == StateRecording && !s.stopping()
}

// State returns the current session's state, or Idle.
func (c *Controller) State() State {
	if s := c.Session(); s != nil {
		return s.State()
	}
	return StateIdle
}

// Session returns the most recent session, or nil.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Health returns the controller's health monitor.
func (c *Controller) Health() *health.Monitor {
	return c.deps.Health
}

// Done is closed when the current session has finished. Without a session
// it returns a closed channel.
func (c *Controller) Done() <-chan struct{} {
	if s := c.Session(); s != nil {
		return s.Done()
	}
	done := make(chan struct{})
	close(done)
	return done
}

// Wait blocks until the current session is done and returns its cause.
func (c *Controller) Wait(ctx context.Context) error {
	s := c.Session()
	if s == nil {
		return nil
	}
	select {
	case <-s.Done():
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops any session, waits for it to finish and drains the
// finalizer pool.
func (c *Controller) Close(ctx context.Context) error {
	c.Stop()
	err := c.Wait(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if c.deps.Finalizer != nil {
		return c.deps.Finalizer.Drain(ctx)
	}
	return nil
}

func (c *Controller) run(ctx context.Context, s *Session, onResult func(error)) {
	err := c.setup(ctx, s)
	switch {
	case err == nil:
	case errors.Is(err, ErrStartCancelled):
		s.log.Info("start cancelled by stop")
		c.teardown(s, nil)
		onResult(err)
		return
	default:
		s.log.Error("capture start failed", logging.KeyError, err)
		c.abort(s)
		c.deps.Health.Update(failedComponent(err), health.Unhealthy, err.Error())
		s.finish(StateFailed, err)
		onResult(err)
		return
	}

	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.setState(StateRecording)
	c.deps.Health.Update(ComponentScreen, health.Healthy, "")
	s.log.Info("recording",
		"preset", s.preset.String(),
		"main", s.cfg.MainPath,
		"aux", s.cfg.AuxPath,
	)
	onResult(nil)

	var cause error
	select {
	case <-s.stopCh:
	case cause = <-s.failCh:
		s.log.Error("screen stream failed, stopping", logging.KeyError, cause)
		c.deps.Health.Update(ComponentScreen, health.Unhealthy, cause.Error())
	}
	c.teardown(s, cause)
}

// setup performs every start step in order. Resources acquired so far are
// recorded on s so abort or teardown can release them.
func (c *Controller) setup(ctx context.Context, s *Session) error {
	preset, err := PresetFor(s.cfg.Quality)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.preset = preset
	s.mu.Unlock()

	if c.deps.Screen == nil {
		return fmt.Errorf("%w: no screen source", capture.ErrDeviceUnavailable)
	}
	targets, err := c.deps.Screen.Targets(ctx)
	if err != nil {
		return fmt.Errorf("enumerate capture targets: %w", err)
	}
	if len(targets) == 0 {
		return capture.ErrNoTargetsAvailable
	}
	target := targets[0]
	if idx := s.cfg.DisplayIndex; idx > 0 && idx < len(targets) {
		target = targets[idx]
	} else if idx != 0 {
		s.log.Warn("display index out of range, using primary", "index", idx, "displays", len(targets))
	}

	opts := container.Options{Sinks: c.deps.Sinks, Logger: s.log}
	if c.deps.Finalizer != nil {
		opts.Executor = c.deps.Finalizer
	}

	main, err := container.Open(mainSpec(s.cfg, preset), opts)
	if err != nil {
		return &componentError{component: ComponentMain, err: err}
	}
	s.mu.Lock()
	s.main = main
	s.mu.Unlock()

	aux, err := container.Open(auxSpec(s.cfg), opts)
	if err != nil {
		return &componentError{component: ComponentAux, err: err}
	}
	s.mu.Lock()
	s.aux = aux
	s.mu.Unlock()

	if s.stopping() {
		return ErrStartCancelled
	}

	if err := main.BeginWriting(); err != nil {
		return &componentError{component: ComponentMain, err: err}
	}
	if err := aux.BeginWriting(); err != nil {
		return &componentError{component: ComponentAux, err: err}
	}

	s.router = NewRouter(s.metrics, s.log, main, aux)

	c.startMic(s)

	screen, err := c.deps.Screen.OpenScreen(target, capture.StreamConfig{
		Width:        preset.Width,
		Height:       preset.Height,
		FPS:          preset.FPS,
		Bitrate:      preset.Bitrate,
		PixelFormat:  capture.PixelFormatBGRA,
		QueueDepth:   queueDepth(s.cfg.QueueDepth),
		CaptureAudio: true,
	})
	if err != nil {
		return fmt.Errorf("open screen stream: %w", err)
	}
	s.mu.Lock()
	s.screen = screen
	s.mu.Unlock()
	s.pumps.Add(1)
	go c.pump(s, screen, false)

	select {
	case err := <-screen.Started():
		if err != nil {
			return fmt.Errorf("screen stream start: %w", err)
		}
	case err := <-s.failCh:
		return err
	case <-s.stopCh:
		return ErrStartCancelled
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.stopping() {
		return ErrStartCancelled
	}
	return nil
}

// startMic opens the microphone. Every failure here degrades the session
// to an empty Aux container instead of failing it.
func (c *Controller) startMic(s *Session) {
	if s.cfg.SkipMicrophone {
		c.degradeMic(s, "microphone disabled")
		return
	}
	if c.deps.Mic == nil {
		c.degradeMic(s, "no microphone source")
		return
	}
	dev, err := c.deps.Mic.DefaultDevice()
	if err != nil {
		c.degradeMic(s, err.Error())
		return
	}
	st, err := c.deps.Mic.OpenMic(dev)
	if err != nil {
		c.degradeMic(s, err.Error())
		return
	}
	s.mu.Lock()
	s.mic = st
	s.mu.Unlock()
	c.deps.Health.Update(ComponentMicrophone, health.Healthy, dev.Name)
	s.pumps.Add(1)
	go c.pump(s, st, true)
}

func (c *Controller) degradeMic(s *Session, reason string) {
	s.mu.Lock()
	first := s.micDegraded == ""
	if first {
		s.micDegraded = reason
	}
	s.mu.Unlock()
	if first {
		s.log.Warn("recording without microphone", "reason", reason)
		c.deps.Health.Update(ComponentMicrophone, health.Degraded, reason)
	}
}

// pump is the delivery goroutine of one stream. It routes samples until the
// session halts. Microphone failures degrade the session; screen failures
// stop it.
func (c *Controller) pump(s *Session, st capture.Stream, isMic bool) {
	defer s.pumps.Done()

	samples := st.Samples()
	errs := st.Errors()
	var started <-chan error
	if isMic {
		started = st.Started()
	}

	for {
		select {
		case <-s.halt:
			return
		default:
		}

		select {
		case <-s.halt:
			return
		case smp, ok := <-samples:
			if !ok {
				samples = nil
				if !s.quiescing.Load() {
					c.streamFailed(s, isMic, errors.New("stream ended unexpectedly"))
				}
				continue
			}
			s.router.Route(smp)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.streamFailed(s, isMic, err)
		case err := <-started:
			started = nil
			if err != nil {
				c.streamFailed(s, isMic, err)
			}
		}
	}
}

func (c *Controller) streamFailed(s *Session, isMic bool, err error) {
	if s.quiescing.Load() {
		return
	}
	if isMic {
		c.degradeMic(s, err.Error())
		s.mu.Lock()
		aux := s.aux
		s.mu.Unlock()
		if aux != nil {
			if w := aux.Track(capture.TrackMicAudio); w != nil {
				w.Finish()
			}
		}
		return
	}
	s.reportFailure(fmt.Errorf("%w: %v", capture.ErrStreamFailed, err))
}

// stopSources stops the streams and joins the delivery goroutines.
func (s *Session) stopSources() {
	s.quiescing.Store(true)
	s.mu.Lock()
	screen, mic := s.screen, s.mic
	s.mu.Unlock()
	if screen != nil {
		screen.Stop()
	}
	if mic != nil {
		mic.Stop()
	}
	close(s.halt)
	s.pumps.Wait()
}

// abort releases everything after a failed setup. Output files are removed.
func (c *Controller) abort(s *Session) {
	s.stopSources()
	for _, ct := range s.containers() {
		ct.Abort()
	}
}

// teardown stops the sources, finishes every track and finalizes both
// containers concurrently. Containers that never began writing are
// aborted instead.
func (c *Controller) teardown(s *Session, cause error) {
	s.setState(StateStopping)
	s.stopSources()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, ct := range s.containers() {
		ct.FinishTracks()
		if !ct.Writing() {
			ct.Abort()
			continue
		}
		g.Go(func() error {
			err := finalizeAndWait(ct)
			component := ComponentMain
			if ct.AnchorKind() == capture.TrackMicAudio {
				component = ComponentAux
			}
			if err != nil {
				c.deps.Health.Update(component, health.Unhealthy, err.Error())
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			} else {
				c.deps.Health.Update(component, health.Healthy, "")
			}
			return err
		})
	}
	_ = g.Wait()

	final := errors.Join(append([]error{cause}, errs...)...)
	state := StateStopped
	if final != nil {
		state = StateFailed
	}
	s.settle(state, final)
	defer close(s.done)

	info := s.Info()
	s.log.Info("session finished",
		append([]any{"state", state.String(), logging.KeyError, final}, info.Metrics.LogAttrs()...)...,
	)

	if s.cfg.ManifestPath != "" {
		if err := WriteManifest(s.cfg.ManifestPath, NewManifest(info)); err != nil {
			s.log.Warn("failed to write manifest", logging.KeyPath, s.cfg.ManifestPath, logging.KeyError, err)
		}
	}
}

// componentError attributes a setup failure to the health component that
// caused it.
type componentError struct {
	component string
	err       error
}

func (e *componentError) Error() string { return e.err.Error() }
func (e *componentError) Unwrap() error { return e.err }

// failedComponent names the component to mark unhealthy for a setup
// failure. Anything not raised by a container is the screen's.
func failedComponent(err error) string {
	var ce *componentError
	if errors.As(err, &ce) {
		return ce.component
	}
	return ComponentScreen
}

func finalizeAndWait(ct *container.Container) error {
	done := make(chan error, 1)
	if err := ct.Finalize(func(err error) { done <- err }); err != nil {
		return err
	}
	return <-done
}

func queueDepth(n int) int {
	if n <= 0 {
		return capture.DefaultQueueDepth
	}
	return n
}

func trackBuffer(n int) int {
	if n <= 0 {
		return container.DefaultTrackBuffer
	}
	return n
}

func format(f container.Format) container.Format {
	if f == "" {
		return container.FormatWebM
	}
	return f
}

func mainSpec(cfg SessionConfig, p Preset) container.Spec {
	return container.Spec{
		Name:       "main",
		Path:       cfg.MainPath,
		Format:     format(cfg.Format),
		AnchorKind: capture.TrackVideo,
		Tracks: []container.TrackSpec{
			{
				Kind:    capture.TrackVideo,
				Codec:   container.CodecVP9,
				Width:   p.Width,
				Height:  p.Height,
				FPS:     p.FPS,
				Bitrate: p.Bitrate,
				Buffer:  trackBuffer(cfg.TrackBuffer),
			},
			audioTrack(capture.TrackSystemAudio, cfg.TrackBuffer),
		},
	}
}

func auxSpec(cfg SessionConfig) container.Spec {
	return container.Spec{
		Name:       "aux",
		Path:       cfg.AuxPath,
		Format:     format(cfg.Format),
		AnchorKind: capture.TrackMicAudio,
		Tracks:     []container.TrackSpec{audioTrack(capture.TrackMicAudio, cfg.TrackBuffer)},
	}
}

func audioTrack(kind capture.TrackKind, buffer int) container.TrackSpec {
	return container.TrackSpec{
		Kind:       kind,
		Codec:      container.CodecOpus,
		SampleRate: audioSampleRate,
		Channels:   audioChannels,
		Bitrate:    audioBitrate,
		Buffer:     trackBuffer(buffer),
	}
}
