// Package throttle provides worker-local dequeue throttling: token-bucket
// rate limits and concurrency caps applied after a job is claimed but
// before it executes.
//
// This is deliberately distinct from the distributed admission limiter in
// package ratelimit. Admission bounds what enters the queue per tenant
// across all control-plane instances; throttle is a politeness valve each
// worker applies locally to smooth its own execution rate.
package throttle

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Config defines execution throttling for one queue.
type Config struct {
	// Queue is the queue name this config applies to.
	Queue string

	// MaxConcurrency limits how many jobs from this queue may run
	// simultaneously in the local worker process. Zero means no
	// queue-specific limit (the pool-wide concurrency still applies).
	MaxConcurrency int

	// RatePerSecond is the maximum sustained job executions per second
	// for this queue. Zero disables rate throttling.
	RatePerSecond float64

	// Burst is the burst size for the token bucket. Defaults to 1 when
	// RatePerSecond is set and Burst is zero.
	Burst int
}

// TenantConfig defines throttling for a specific tenant on a queue.
type TenantConfig struct {
	Queue          string
	TenantID       string
	RatePerSecond  float64
	Burst          int
	MaxConcurrency int
}

type queueState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

type tenantState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func newQueueState(cfg Config) *queueState {
	qs := &queueState{config: cfg}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return qs
}

func tenantKey(queue, tenantID string) string {
	return fmt.Sprintf("%s:%s", queue, tenantID)
}

// Manager tracks per-queue and per-tenant execution throttles for one
// worker process. It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	queues  map[string]*queueState
	tenants map[string]*tenantState
}

// NewManager creates a Manager with the given queue configurations.
// Queues not listed have no throttles.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues:  make(map[string]*queueState, len(configs)),
		tenants: make(map[string]*tenantState),
	}
	for _, cfg := range configs {
		m.queues[cfg.Queue] = newQueueState(cfg)
	}
	return m
}

// SetTenantConfig configures throttling for a specific tenant on a queue.
// Calling this again for the same queue+tenant replaces the previous
// configuration but preserves the active count.
func (m *Manager) SetTenantConfig(cfg TenantConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantKey(cfg.Queue, cfg.TenantID)
	existing := m.tenants[key]

	ts := &tenantState{maxConcurrency: cfg.MaxConcurrency}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	if existing != nil {
		ts.active = existing.active
	}
	m.tenants[key] = ts
}

// Acquire checks the throttles for the given queue and tenant. If the job
// may proceed it increments the active counters and returns true. The
// caller MUST call Release when the job finishes.
func (m *Manager) Acquire(queue, tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs != nil {
		if qs.limiter != nil && !qs.limiter.Allow() {
			return false
		}
		if qs.config.MaxConcurrency > 0 && qs.active >= qs.config.MaxConcurrency {
			return false
		}
	}

	if tenantID != "" {
		ts := m.tenants[tenantKey(queue, tenantID)]
		if ts != nil {
			if ts.limiter != nil && !ts.limiter.Allow() {
				return false
			}
			if ts.maxConcurrency > 0 && ts.active >= ts.maxConcurrency {
				return false
			}
			ts.active++
		}
	}

	if qs != nil {
		qs.active++
	}
	return true
}

// Release decrements the active counts for the queue and tenant.
func (m *Manager) Release(queue, tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}

	if tenantID != "" {
		if ts := m.tenants[tenantKey(queue, tenantID)]; ts != nil && ts.active > 0 {
			ts.active--
		}
	}
}

// ActiveCount returns the current number of active jobs for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}
