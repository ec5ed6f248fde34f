// Package health provides liveness and readiness probes for transparencyd
// over a small HTTP endpoint.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status of a component.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the component is degraded but functional.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one component probe.
type CheckResult struct {
	Status      Status    `json:"status"`
	Message     string    `json:"message,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Check probes one component.
type Check func(ctx context.Context) CheckResult

// Checker aggregates component probes.
type Checker struct {
	mu        sync.RWMutex
	checks    map[string]Check
	startTime time.Time
	ready     bool
}

// NewChecker creates an empty checker.
func NewChecker() *Checker {
	return &Checker{
		checks:    make(map[string]Check),
		startTime: time.Now(),
	}
}

// Register adds a named component probe.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// SetReady flips the readiness state.
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

// Report runs all probes and aggregates: unhealthy dominates, then
// degraded.
func (c *Checker) Report(ctx context.Context) (Status, map[string]CheckResult) {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	overall := StatusHealthy
	results := make(map[string]CheckResult, len(checks))
	for name, check := range checks {
		res := check(ctx)
		results[name] = res
		switch res.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	return overall, results
}

// Handler returns an http.Handler serving /healthz and /readyz.
func (c *Checker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		overall, results := c.Report(r.Context())
		code := http.StatusOK
		if overall == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(struct {
			Status  Status                 `json:"status"`
			Uptime  string                 `json:"uptime"`
			Results map[string]CheckResult `json:"components"`
		}{overall, time.Since(c.startTime).Round(time.Second).String(), results})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		c.mu.RLock()
		ready := c.ready
		c.mu.RUnlock()
		if !ready {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
