package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusOK        HealthStatus = "ok"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth is the result of one check.
type ComponentHealth struct {
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	LatencyMS int64        `json:"latency_ms,omitempty"`
}

// HealthCheckResponse is the body served on /health.
type HealthCheckResponse struct {
	Status        HealthStatus               `json:"status"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Timestamp     string                     `json:"timestamp"`
	Checks        map[string]ComponentHealth `json:"checks"`
}

// HealthCheckFunc checks one component. It should return promptly once ctx
// is done.
type HealthCheckFunc func(ctx context.Context) ComponentHealth

// HealthChecker runs registered checks concurrently, each bounded by a
// per-check timeout.
type HealthChecker struct {
	version      string
	started      time.Time
	checkTimeout time.Duration

	mu     sync.RWMutex
	checks map[string]HealthCheckFunc
}

func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version:      version,
		started:      time.Now(),
		checkTimeout: 2 * time.Second,
		checks:       make(map[string]HealthCheckFunc),
	}
}

// RegisterCheck adds or replaces the check called name.
func (hc *HealthChecker) RegisterCheck(name string, check HealthCheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// Check runs every check and folds the results: any unhealthy component
// makes the whole unhealthy, otherwise any degraded one degrades it.
func (hc *HealthChecker) Check(ctx context.Context) HealthCheckResponse {
	hc.mu.RLock()
	checks := make(map[string]HealthCheckFunc, len(hc.checks))
	for name, fn := range hc.checks {
		checks[name] = fn
	}
	hc.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]ComponentHealth, len(checks))
	)
	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn HealthCheckFunc) {
			defer wg.Done()
			h := hc.runOne(ctx, fn)
			mu.Lock()
			results[name] = h
			mu.Unlock()
		}(name, fn)
	}
	wg.Wait()

	status := HealthStatusOK
	for _, h := range results {
		switch {
		case h.Status == HealthStatusUnhealthy:
			status = HealthStatusUnhealthy
		case h.Status == HealthStatusDegraded && status == HealthStatusOK:
			status = HealthStatusDegraded
		}
	}

	return HealthCheckResponse{
		Status:        status,
		Version:       hc.version,
		UptimeSeconds: int64(time.Since(hc.started).Seconds()),
		Timestamp:     time.Now().Format(time.RFC3339),
		Checks:        results,
	}
}

func (hc *HealthChecker) runOne(ctx context.Context, fn HealthCheckFunc) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, hc.checkTimeout)
	defer cancel()

	done := make(chan ComponentHealth, 1)
	go func() { done <- fn(ctx) }()
	select {
	case h := <-done:
		return h
	case <-ctx.Done():
		return ComponentHealth{Status: HealthStatusUnhealthy, Message: "check timed out"}
	}
}

// Handler serves the health report. Degraded still answers 200.
func (hc *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := hc.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// StoreCheck reports a store as unhealthy when ping fails and degraded
// when it answers slower than slow.
func StoreCheck(name string, slow time.Duration, ping func(ctx context.Context) error) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := ping(ctx)
		latency := time.Since(start)

		switch {
		case err != nil:
			return ComponentHealth{
				Status:    HealthStatusUnhealthy,
				Message:   fmt.Sprintf("%s: %v", name, err),
				LatencyMS: latency.Milliseconds(),
			}
		case latency > slow:
			return ComponentHealth{
				Status:    HealthStatusDegraded,
				Message:   name + " slow",
				LatencyMS: latency.Milliseconds(),
			}
		default:
			return ComponentHealth{
				Status:    HealthStatusOK,
				Message:   name + " responsive",
				LatencyMS: latency.Milliseconds(),
			}
		}
	}
}

// TCPCheck dials addr and reports whether something accepts connections
// there.
func TCPCheck(name, addr string) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		latency := time.Since(start).Milliseconds()
		if err != nil {
			return ComponentHealth{
				Status:    HealthStatusUnhealthy,
				Message:   fmt.Sprintf("%s not accepting on %s: %v", name, addr, err),
				LatencyMS: latency,
			}
		}
		conn.Close()
		return ComponentHealth{
			Status:    HealthStatusOK,
			Message:   fmt.Sprintf("%s listening on %s", name, addr),
			LatencyMS: latency,
		}
	}
}
