package output

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// QueueProbe is satisfied by the stream worker pool.
type QueueProbe interface {
	IsRunning() bool
	QueueUtilization() float64
}

type CheckFunc func(ctx context.Context) error

type HealthStatus struct {
	Healthy     bool              `json:"healthy"`
	Status      string            `json:"status"`
	Checks      map[string]string `json:"checks"`
	Utilization float64           `json:"utilization_percent,omitempty"`
	Uptime      float64           `json:"uptime_seconds"`
	Reason      string            `json:"reason,omitempty"`
}

// HealthChecker runs named dependency checks and caches the result for
// CheckInterval.
type HealthChecker struct {
	checks    map[string]CheckFunc
	queue     QueueProbe
	timeout   time.Duration
	startTime time.Time

	lastCheck     HealthStatus
	lastCheckTime time.Time
	lastCheckMu   sync.RWMutex
	checkInterval time.Duration
	mu            sync.RWMutex
}

type HealthCheckerConfig struct {
	CheckTimeout  time.Duration
	CheckInterval time.Duration
}

func DefaultHealthCheckerConfig() HealthCheckerConfig {
	return HealthCheckerConfig{
		CheckTimeout:  2 * time.Second,
		CheckInterval: 5 * time.Second,
	}
}

func NewHealthChecker(config HealthCheckerConfig) *HealthChecker {
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = DefaultHealthCheckerConfig().CheckTimeout
	}
	return &HealthChecker{
		checks:        make(map[string]CheckFunc),
		timeout:       config.CheckTimeout,
		checkInterval: config.CheckInterval,
		startTime:     time.Now(),
	}
}

func (h *HealthChecker) AddCheck(name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = fn
}

func (h *HealthChecker) SetQueue(q QueueProbe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queue = q
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.lastCheckMu.RLock()
	if !h.lastCheckTime.IsZero() && time.Since(h.lastCheckTime) < h.checkInterval {
		cached := h.lastCheck
		h.lastCheckMu.RUnlock()
		return cached
	}
	h.lastCheckMu.RUnlock()

	status := h.performCheck(ctx)

	h.lastCheckMu.Lock()
	h.lastCheck = status
	h.lastCheckTime = time.Now()
	h.lastCheckMu.Unlock()

	return status
}

func (h *HealthChecker) performCheck(ctx context.Context) HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Healthy: true,
		Status:  "HEALTHY",
		Checks:  make(map[string]string, len(h.checks)),
		Uptime:  time.Since(h.startTime).Seconds(),
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	// Checks run concurrently; the reason names the first failure in name order.
	errs := make([]error, len(names))
	var g errgroup.Group
	for i, name := range names {
		fn := h.checks[name]
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			errs[i] = fn(checkCtx)
			return nil
		})
	}
	_ = g.Wait()

	for i, name := range names {
		if err := errs[i]; err != nil {
			status.Checks[name] = err.Error()
			if status.Healthy {
				status.Healthy = false
				status.Status = "UNAVAILABLE"
				status.Reason = fmt.Sprintf("%s: %v", name, err)
			}
			continue
		}
		status.Checks[name] = "ok"
	}

	if h.queue != nil && status.Healthy {
		if !h.queue.IsRunning() {
			status.Healthy = false
			status.Status = "OFFLINE"
			status.Reason = "worker pool not running"
			return status
		}
		status.Utilization = h.queue.QueueUtilization()
		switch {
		case status.Utilization >= 95:
			status.Healthy = false
			status.Status = "SATURATED"
			status.Reason = fmt.Sprintf("queue utilization at %.1f%%", status.Utilization)
		case status.Utilization >= 80:
			status.Status = "DEGRADED"
			status.Reason = fmt.Sprintf("queue utilization elevated at %.1f%%", status.Utilization)
		}
	}

	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
