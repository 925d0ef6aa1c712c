// Package health monitors the remote inference services the pipeline
// depends on and serves the health endpoints.
//
// Each registered service is probed periodically. Failures accumulate: one
// or two consecutive failures mark the service DEGRADED, three mark it
// FAILED. A single success returns it to HEALTHY. An operator can clear a
// FAILED state via the reset endpoint without waiting for the next probe.
package health

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// State is the liveness classification of one service.
type State string

const (
	StateHealthy  State = "HEALTHY"
	StateDegraded State = "DEGRADED"
	StateFailed   State = "FAILED"
)

// failedThreshold is the consecutive failure count at which a service
// transitions from DEGRADED to FAILED.
const failedThreshold = 3

// ServiceHealth is the JSON snapshot of one service's state.
type ServiceHealth struct {
	ServiceID    string    `json:"service_id"`
	State        State     `json:"state"`
	FailureCount int       `json:"failure_count"`
	LastCheck    time.Time `json:"last_check"`
	LastSuccess  time.Time `json:"last_success,omitzero"`
	LastError    string    `json:"last_error,omitempty"`
	LatencyMs    float64   `json:"latency_ms"`
}

// CheckFunc probes one service. It must respect context cancellation.
type CheckFunc func(ctx context.Context) error

// HTTPCheck returns a [CheckFunc] that issues GET url and expects a 2xx
// response. A nil client falls back to [http.DefaultClient]; the per-probe
// timeout comes from the monitor's context deadline.
func HTTPCheck(client *http.Client, url string) CheckFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil
	}
}

type serviceState struct {
	check CheckFunc

	state        State
	failureCount int
	lastCheck    time.Time
	lastSuccess  time.Time
	lastError    string
	latency      time.Duration
}

// Monitor tracks the health of registered services.
type Monitor struct {
	mu       sync.Mutex
	services map[string]*serviceState
	order    []string

	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger
}

// Option configures a [Monitor].
type Option func(*Monitor)

// WithInterval sets the probe cadence. Default: 30s.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithTimeout bounds each individual probe. Default: 3s.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// WithLogger sets the logger for state transitions.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// NewMonitor creates an empty monitor; register services before calling Run.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		services: make(map[string]*serviceState),
		interval: 30 * time.Second,
		timeout:  3 * time.Second,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a service under the given ID. Services start HEALTHY until
// a probe says otherwise. Registering an existing ID replaces its check but
// keeps its state.
func (m *Monitor) Register(serviceID string, check CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.services[serviceID]; ok {
		existing.check = check
		return
	}
	m.services[serviceID] = &serviceState{check: check, state: StateHealthy}
	m.order = append(m.order, serviceID)
}

// Run probes all services immediately and then on every interval tick until
// ctx is cancelled. Always returns ctx.Err().
func (m *Monitor) Run(ctx context.Context) error {
	m.CheckAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll probes every registered service concurrently and applies the
// state transitions.
func (m *Monitor) CheckAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	m.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			m.checkOne(ctx, id)
			return nil
		})
	}
	g.Wait()
}

func (m *Monitor) checkOne(ctx context.Context, serviceID string) {
	m.mu.Lock()
	svc, ok := m.services[serviceID]
	if !ok {
		m.mu.Unlock()
		return
	}
	check := svc.check
	m.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	start := time.Now()
	err := check(probeCtx)
	latency := time.Since(start)
	cancel()

	if err != nil {
		m.recordFailure(serviceID, err, latency)
	} else {
		m.recordSuccess(serviceID, latency)
	}
}

func (m *Monitor) recordSuccess(serviceID string, latency time.Duration) {
	m.mu.Lock()
	svc := m.services[serviceID]
	prev := svc.state
	now := time.Now()
	svc.state = StateHealthy
	svc.failureCount = 0
	svc.lastCheck = now
	svc.lastSuccess = now
	svc.lastError = ""
	svc.latency = latency
	m.mu.Unlock()

	if prev != StateHealthy {
		m.log.Info("service recovered",
			"service", serviceID, "previous_state", string(prev))
	}
}

func (m *Monitor) recordFailure(serviceID string, err error, latency time.Duration) {
	m.mu.Lock()
	svc := m.services[serviceID]
	prev := svc.state
	svc.failureCount++
	svc.lastCheck = time.Now()
	svc.lastError = err.Error()
	svc.latency = latency
	if svc.failureCount >= failedThreshold {
		svc.state = StateFailed
	} else {
		svc.state = StateDegraded
	}
	next := svc.state
	count := svc.failureCount
	m.mu.Unlock()

	if next != prev {
		m.log.Warn("service state changed",
			"service", serviceID,
			"state", string(next),
			"failure_count", count,
			"error", err)
	}
}

// Reset clears the failure state of a service back to HEALTHY. Returns
// false when the service is unknown.
func (m *Monitor) Reset(serviceID string) bool {
	m.mu.Lock()
	svc, ok := m.services[serviceID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	prev := svc.state
	svc.state = StateHealthy
	svc.failureCount = 0
	svc.lastError = ""
	m.mu.Unlock()

	m.log.Info("service state reset", "service", serviceID, "previous_state", string(prev))
	return true
}

// Snapshot returns the current state of all services in registration order.
func (m *Monitor) Snapshot() []ServiceHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ServiceHealth, 0, len(m.order))
	for _, id := range m.order {
		svc := m.services[id]
		out = append(out, ServiceHealth{
			ServiceID:    id,
			State:        svc.state,
			FailureCount: svc.failureCount,
			LastCheck:    svc.lastCheck,
			LastSuccess:  svc.lastSuccess,
			LastError:    svc.lastError,
			LatencyMs:    float64(svc.latency) / float64(time.Millisecond),
		})
	}
	return out
}

// Healthy reports whether no service is FAILED. DEGRADED services still
// count as serving.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, svc := range m.services {
		if svc.state == StateFailed {
			return false
		}
	}
	return true
}
