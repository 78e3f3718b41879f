// Package health aggregates component health checks
package health

import (
	"sort"
	"sync"

	"position_trader/internal/core"
)

// Check returns nil while the component is healthy
type Check func() error

// ComponentStatus is the outcome of one check
type ComponentStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthManager aggregates health status from different components
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]Check
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger core.ILogger) *HealthManager {
	hm := &HealthManager{checks: make(map[string]Check)}
	if logger != nil {
		hm.logger = logger.WithField("component", "health_manager")
	}
	return hm
}

// Register adds a new health check for a component
func (hm *HealthManager) Register(component string, check Check) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
}

// Status runs every check and returns the results ordered by component name
func (hm *HealthManager) Status() []ComponentStatus {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	checks := make(map[string]Check, len(hm.checks))
	for k, v := range hm.checks {
		checks[k] = v
	}
	hm.mu.RUnlock()

	sort.Strings(names)
	out := make([]ComponentStatus, 0, len(names))
	for _, name := range names {
		st := ComponentStatus{Name: name, Healthy: true}
		if err := checks[name](); err != nil {
			st.Healthy = false
			st.Error = err.Error()
			if hm.logger != nil {
				hm.logger.Debug("Component unhealthy", "name", name, "error", err)
			}
		}
		out = append(out, st)
	}
	return out
}

// IsHealthy returns true if all registered components are healthy
func (hm *HealthManager) IsHealthy() bool {
	for _, st := range hm.Status() {
		if !st.Healthy {
			return false
		}
	}
	return true
}
