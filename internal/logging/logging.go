package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Key constants for structured log fields.
const (
	KeyComponent  = "component"
	KeySessionID  = "sessionId"
	KeyContainer  = "container"
	KeyTrack      = "track"
	KeyPath       = "path"
	KeyDurationMs = "durationMs"
	KeyError      = "error"
)

type contextKey struct{}

// switchableHandler lets package-level loggers created before Init()
// pick up the configured handler once Init runs. Attribute and group
// derivations are replayed in order against the current handler.
type switchableHandler struct {
	state *switchableState
	ops   []handlerOp
}

type handlerOp struct {
	group string
	attrs []slog.Attr
}

// handlerBox gives the atomic cell one concrete type whatever handler
// implementation is installed.
type handlerBox struct {
	slog.Handler
}

type switchableState struct {
	current atomic.Pointer[handlerBox]
}

func newSwitchableHandler(h slog.Handler) *switchableHandler {
	state := &switchableState{}
	state.current.Store(&handlerBox{Handler: h})
	return &switchableHandler{state: state}
}

func (h *switchableHandler) set(handler slog.Handler) {
	h.state.current.Store(&handlerBox{Handler: handler})
}

func (h *switchableHandler) resolve() slog.Handler {
	var handler slog.Handler = h.state.current.Load().Handler
	for _, op := range h.ops {
		if op.group != "" {
			handler = handler.WithGroup(op.group)
		} else {
			handler = handler.WithAttrs(op.attrs)
		}
	}
	return handler
}

func (h *switchableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.resolve().Enabled(ctx, level)
}

func (h *switchableHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.resolve().Handle(ctx, record)
}

func (h *switchableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.derive(handlerOp{attrs: append([]slog.Attr(nil), attrs...)})
}

func (h *switchableHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.derive(handlerOp{group: name})
}

func (h *switchableHandler) derive(op handlerOp) *switchableHandler {
	ops := make([]handlerOp, 0, len(h.ops)+1)
	ops = append(ops, h.ops...)
	ops = append(ops, op)
	return &switchableHandler{state: h.state, ops: ops}
}

var (
	rootHandler   = newSwitchableHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	defaultLogger = slog.New(rootHandler)
)

func init() {
	slog.SetDefault(defaultLogger)
}

// Init initializes the global logger. Call once after config is loaded.
// format: "json" or "text" (default "text")
// level: "debug", "info", "warn", "error" (default "info")
// output: writer to log to (nil = os.Stderr)
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	rootHandler.set(handler)
}

// Options describes where and how logs are written.
type Options struct {
	Format     string
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Setup initializes the global logger from opts. When a log file is
// configured, records go to both stderr and the rotating file and the
// writer is returned so the caller can reopen or close it. A nil writer
// means stderr only.
func Setup(opts Options) (*RotatingWriter, error) {
	if opts.File == "" {
		Init(opts.Format, opts.Level, os.Stderr)
		return nil, nil
	}

	rw, err := NewRotatingWriter(opts.File, opts.MaxSizeMB, opts.MaxBackups)
	if err != nil {
		Init(opts.Format, opts.Level, os.Stderr)
		return nil, err
	}
	Init(opts.Format, opts.Level, TeeWriter(os.Stderr, rw))
	return rw, nil
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return defaultLogger.With(slog.String(KeyComponent, component))
}

// WithSession returns a child logger carrying the session correlation id.
func WithSession(logger *slog.Logger, sessionID string) *slog.Logger {
	return logger.With(slog.String(KeySessionID, sessionID))
}

// NewContext returns a new context carrying the given logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from context, falling back to the default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
