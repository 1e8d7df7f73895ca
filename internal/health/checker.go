package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Priority decides how a failing check affects the overall status.
type Priority string

const (
	// PriorityCritical failures make the system unhealthy
	PriorityCritical Priority = "critical"
	// PriorityLow failures only degrade it
	PriorityLow Priority = "low"
)

// Status of a check or of the whole system
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckFunction defines the signature for health check functions
type CheckFunction func(ctx context.Context) error

// Result represents the result of a health check
type Result struct {
	Check     string        `json:"check"`
	Priority  Priority      `json:"priority"`
	Status    Status        `json:"status"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// Report is the outcome of one Run.
type Report struct {
	Status    Status             `json:"status"`
	Timestamp time.Time          `json:"timestamp"`
	Checks    map[string]*Result `json:"checks"`
}

type check struct {
	name     string
	priority Priority
	fn       CheckFunction
}

// Checker runs registered checks on demand.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]*check
	timeout time.Duration
	last    *Report
}

// NewChecker creates a checker that bounds each check by timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		checks:  make(map[string]*check),
		timeout: timeout,
	}
}

// Register adds or replaces a check.
func (c *Checker) Register(name string, priority Priority, fn CheckFunction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = &check{name: name, priority: priority, fn: fn}
}

// Names returns the registered check names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes every check concurrently and aggregates the results.
func (c *Checker) Run(ctx context.Context) *Report {
	c.mu.RLock()
	checks := make([]*check, 0, len(c.checks))
	for _, ch := range c.checks {
		checks = append(checks, ch)
	}
	c.mu.RUnlock()

	resultsChan := make(chan *Result, len(checks))
	for _, ch := range checks {
		go func(ch *check) {
			resultsChan <- c.execute(ctx, ch)
		}(ch)
	}

	report := &Report{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]*Result, len(checks)),
	}
	for i := 0; i < len(checks); i++ {
		result := <-resultsChan
		report.Checks[result.Check] = result
		switch {
		case result.Status == StatusUnhealthy:
			report.Status = StatusUnhealthy
		case result.Status == StatusDegraded && report.Status == StatusHealthy:
			report.Status = StatusDegraded
		}
	}

	c.mu.Lock()
	c.last = report
	c.mu.Unlock()
	return report
}

// Last returns the report of the most recent Run, or nil.
func (c *Checker) Last() *Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Handler serves Run as JSON: 200 unless the system is unhealthy, then 503.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
}

func (c *Checker) execute(ctx context.Context, ch *check) (result *Result) {
	start := time.Now()
	result = &Result{
		Check:     ch.name,
		Priority:  ch.priority,
		Status:    StatusHealthy,
		Timestamp: start,
	}

	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			result.Error = fmt.Sprintf("check panicked: %v", r)
			result.Status = failedStatus(ch.priority)
		}
		result.Duration = time.Since(start)
	}()

	if err := ch.fn(checkCtx); err != nil {
		result.Error = err.Error()
		result.Status = failedStatus(ch.priority)
	}
	return result
}

func failedStatus(p Priority) Status {
	if p == PriorityCritical {
		return StatusUnhealthy
	}
	return StatusDegraded
}
