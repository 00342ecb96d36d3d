package health

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/breeze-rmm/screenrec/internal/logging"
)

var log = logging.L("health")

// Status represents the health status of a capture component.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
	Unknown   Status = "unknown"
)

// IsValid reports whether s is one of the defined statuses.
func (s Status) IsValid() bool {
	switch s {
	case Healthy, Degraded, Unhealthy, Unknown:
		return true
	}
	return false
}

// Check stores the latest health result for a named component.
type Check struct {
	Name      string    `yaml:"name"`
	Status    Status    `yaml:"status"`
	Message   string    `yaml:"message,omitempty"`
	UpdatedAt time.Time `yaml:"updatedAt"`
}

// Monitor tracks health checks for multiple components.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
	log    *slog.Logger
}

// NewMonitor creates a new health monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		checks: make(map[string]Check),
		log:    log,
	}
}

// WithLogger sets the logger that receives status transitions.
func (m *Monitor) WithLogger(logger *slog.Logger) *Monitor {
	if logger != nil {
		m.log = logger
	}
	return m
}

// Update records the health status for a named component and reports
// whether the status changed. Invalid statuses are recorded as Unhealthy.
// Only transitions are logged: a component entering a non-healthy status
// warns once, and recovering to Healthy logs at info.
func (m *Monitor) Update(name string, status Status, message string) bool {
	if !status.IsValid() {
		status = Unhealthy
	}

	m.mu.Lock()
	prev, existed := m.checks[name]
	m.checks[name] = Check{
		Name:      name,
		Status:    status,
		Message:   message,
		UpdatedAt: time.Now(),
	}
	m.mu.Unlock()

	changed := !existed || prev.Status != status
	switch {
	case !changed:
	case status != Healthy:
		m.log.Warn("component health changed", "name", name, "status", string(status), "message", message)
	case existed:
		m.log.Info("component recovered", "name", name, "from", string(prev.Status))
	}
	return changed
}

// Get returns the health check for a named component.
func (m *Monitor) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	return c, ok
}

// Overall returns the worst status across all registered checks, or
// Unknown when nothing has reported yet.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overallLocked()
}

func (m *Monitor) overallLocked() Status {
	if len(m.checks) == 0 {
		return Unknown
	}
	worst := Healthy
	for _, c := range m.checks {
		if statusRank(c.Status) > statusRank(worst) {
			worst = c.Status
		}
	}
	return worst
}

// All returns a snapshot of all current health checks sorted by name.
func (m *Monitor) All() []Check {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Check, 0, len(m.checks))
	for _, c := range m.checks {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Summary returns the overall status and per-component statuses taken
// under a single lock.
func (m *Monitor) Summary() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make(map[string]string, len(m.checks))
	for _, c := range m.checks {
		components[c.Name] = string(c.Status)
	}

	return map[string]any{
		"status":     string(m.overallLocked()),
		"components": components,
	}
}

func statusRank(s Status) int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	case Unknown:
		return 3
	default:
		return 2
	}
}
