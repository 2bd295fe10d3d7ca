package monitoring

import (
	"context"
	"sync"
	"time"
)

// CheckFunc reports one dependency's health. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

type check struct {
	name    string
	run     CheckFunc
	every   time.Duration
	timeout time.Duration
}

// CheckResult is the cached outcome of one dependency check.
type CheckResult struct {
	Healthy   bool      `json:"healthy"`
	Detail    string    `json:"detail,omitempty"`
	Latency   string    `json:"latency"`
	CheckedAt time.Time `json:"checked_at"`
}

// HealthReport aggregates the cached results. Status is "healthy" only when
// every registered check passed its most recent run.
type HealthReport struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// HealthChecker runs registered dependency checks on their own cadence and
// caches the results, so the health endpoint reads the cache instead of
// hitting a possibly struggling backend on every request.
type HealthChecker struct {
	mu      sync.Mutex
	checks  []check
	results map[string]CheckResult
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		results: make(map[string]CheckResult),
	}
}

// Register adds a named check, run every `every` with the given per-run
// timeout. Register all checks before calling Run.
func (h *HealthChecker) Register(name string, fn CheckFunc, every, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check{name: name, run: fn, every: every, timeout: timeout})
}

// Run executes every check once, then keeps them running in the background
// until ctx is cancelled. The synchronous first pass means Report never
// serves an empty cache after Run returns.
func (h *HealthChecker) Run(ctx context.Context) {
	h.mu.Lock()
	checks := append([]check(nil), h.checks...)
	h.mu.Unlock()

	for _, c := range checks {
		h.runOne(ctx, c)
		go h.loop(ctx, c)
	}
}

// Report renders the cached results. A check that has not run yet counts as
// unhealthy so a half-started process does not report ready.
func (h *HealthChecker) Report() HealthReport {
	h.mu.Lock()
	defer h.mu.Unlock()

	report := HealthReport{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(h.checks)),
	}
	for _, c := range h.checks {
		result, ok := h.results[c.name]
		if !ok {
			result = CheckResult{Healthy: false, Detail: "not yet checked"}
		}
		report.Checks[c.name] = result
		if !result.Healthy {
			report.Status = "unhealthy"
		}
	}
	return report
}

func (h *HealthChecker) loop(ctx context.Context, c check) {
	ticker := time.NewTicker(c.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.runOne(ctx, c)
		}
	}
}

func (h *HealthChecker) runOne(ctx context.Context, c check) {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	err := c.run(runCtx)

	result := CheckResult{
		Healthy:   err == nil,
		Latency:   time.Since(started).String(),
		CheckedAt: started,
	}
	if err != nil {
		result.Detail = err.Error()
	}

	h.mu.Lock()
	h.results[c.name] = result
	h.mu.Unlock()
}
