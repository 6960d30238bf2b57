// Package health runs component health checks (database, external APIs,
// background runners) and serves liveness/readiness endpoints.
package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"coffee-catalog/pkg/logging"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// ComponentHealth is the result of one component check.
type ComponentHealth struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// SystemHealth aggregates all component results.
type SystemHealth struct {
	Status     Status                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     time.Duration              `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
}

// Checker is one registered health check.
type Checker struct {
	Name string
	Fn   func(ctx context.Context) ComponentHealth
}

type Manager struct {
	mu        sync.RWMutex
	checkers  []Checker
	startTime time.Time
	timeout   time.Duration
	log       *logging.ComponentLogger
}

func NewManager(timeout time.Duration, logger *logging.Logger) *Manager {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	m := &Manager{startTime: time.Now(), timeout: timeout}
	if logger != nil {
		m.log = logger.WithComponent("health")
	}
	return m
}

func (m *Manager) Register(name string, fn func(ctx context.Context) ComponentHealth) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, Checker{Name: name, Fn: fn})
}

// Check runs all registered checks concurrently. Overall status is the
// worst component status; degraded components do not fail readiness.
func (m *Manager) Check(ctx context.Context) SystemHealth {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	results := make(map[string]ComponentHealth, len(checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			start := time.Now()
			res := c.Fn(ctx)
			res.Name = c.Name
			res.LastChecked = time.Now()
			res.Duration = time.Since(start)
			mu.Lock()
			results[c.Name] = res
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	overall := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	if m.log != nil && overall != StatusHealthy {
		m.log.Warn("health check degraded", logging.String("status", string(overall)))
	}
	return SystemHealth{
		Status:     overall,
		Timestamp:  time.Now().UTC(),
		Uptime:     time.Since(m.startTime),
		Components: results,
	}
}

// LivenessHandler always reports the process as up.
func (m *Manager) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	})
}

// ReadinessHandler runs all checks and returns 503 when any component
// is unhealthy.
func (m *Manager) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sys := m.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if sys.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(sys)
	})
}

// DatabaseCheck pings the connection pool.
func DatabaseCheck(conn *sql.DB) func(ctx context.Context) ComponentHealth {
	return func(ctx context.Context) ComponentHealth {
		if err := conn.PingContext(ctx); err != nil {
			return ComponentHealth{Status: StatusUnhealthy, Error: err.Error()}
		}
		stats := conn.Stats()
		res := ComponentHealth{Status: StatusHealthy}
		if stats.OpenConnections >= stats.MaxOpenConnections && stats.MaxOpenConnections > 0 {
			res.Status = StatusDegraded
			res.Message = "connection pool exhausted"
		}
		return res
	}
}

// BreakerCheck reports an open circuit as degraded: the service still
// works, without that dependency.
func BreakerCheck(isOpen func() bool, name string) func(ctx context.Context) ComponentHealth {
	return func(ctx context.Context) ComponentHealth {
		if isOpen() {
			return ComponentHealth{Status: StatusDegraded, Message: name + " circuit open"}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}
