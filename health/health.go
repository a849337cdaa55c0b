package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health state of a component.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Checker tracks the liveness of long-running components such as the HTTP
// listener and the shares file watcher.
type Checker struct {
	mu         sync.RWMutex
	components map[string]Status
}

// NewChecker creates a Checker with no registered components.
func NewChecker() *Checker {
	return &Checker{
		components: make(map[string]Status),
	}
}

// Register adds a component with an initial status of down.
func (c *Checker) Register(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[name] = StatusDown
}

// SetStatus updates the health status of a named component.
func (c *Checker) SetStatus(name string, status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[name] = status
}

// Overall returns the aggregate status and a copy of the component statuses.
func (c *Checker) Overall() (Status, map[string]Status) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	overall := StatusUp
	comps := make(map[string]Status, len(c.components))
	for name, status := range c.components {
		comps[name] = status
		switch status {
		case StatusDown:
			overall = StatusDown
		case StatusDegraded:
			if overall == StatusUp {
				overall = StatusDegraded
			}
		}
	}
	return overall, comps
}

type response struct {
	Status     Status            `json:"status"`
	Components map[string]Status `json:"components"`
}

// ServeHTTP responds with the aggregated health status.
// Returns 200 when all components are up, 503 when any is down.
func (c *Checker) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	overall, comps := c.Overall()
	w.Header().Set("Content-Type", "application/json")
	if overall == StatusDown {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(response{
		Status:     overall,
		Components: comps,
	})
}

// Probe checks one dependency needed to serve traffic.
type Probe func(ctx context.Context) error

// DefaultProbeTimeout bounds each readiness probe.
const DefaultProbeTimeout = 2 * time.Second

// ReadinessChecker reports whether the server is ready to serve traffic:
// the ready flag is set and every probe passes.
type ReadinessChecker struct {
	mu      sync.RWMutex
	ready   bool
	probes  map[string]Probe
	timeout time.Duration
}

// NewReadinessChecker creates a ReadinessChecker in not-ready state.
func NewReadinessChecker() *ReadinessChecker {
	return &ReadinessChecker{probes: make(map[string]Probe), timeout: DefaultProbeTimeout}
}

// SetReady updates the readiness flag.
func (r *ReadinessChecker) SetReady(ready bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = ready
}

// AddProbe registers a dependency check run on every readiness request.
func (r *ReadinessChecker) AddProbe(name string, p Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes[name] = p
}

type readiness struct {
	Ready  bool              `json:"ready"`
	Failed map[string]string `json:"failed,omitempty"`
}

// Check runs the probes in name order and returns the failures.
func (r *ReadinessChecker) Check(ctx context.Context) (bool, map[string]string) {
	r.mu.RLock()
	ready := r.ready
	names := make([]string, 0, len(r.probes))
	for name := range r.probes {
		names = append(names, name)
	}
	probes := make(map[string]Probe, len(r.probes))
	for k, v := range r.probes {
		probes[k] = v
	}
	timeout := r.timeout
	r.mu.RUnlock()
	sort.Strings(names)

	var failed map[string]string
	for _, name := range names {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		err := probes[name](pctx)
		cancel()
		if err != nil {
			if failed == nil {
				failed = make(map[string]string)
			}
			failed[name] = err.Error()
		}
	}
	return ready && len(failed) == 0, failed
}

// ServeHTTP responds with readiness status.
// Returns 200 when ready, 503 when not ready.
func (r *ReadinessChecker) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ready, failed := r.Check(req.Context())
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(readiness{Ready: ready, Failed: failed})
}
