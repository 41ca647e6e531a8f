package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"dev.helix.sourcehub/internal/breaker"
	"dev.helix.sourcehub/internal/ratelimit"
)

// Status classifies a source's rolling health estimate.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusOffline  Status = "offline"
)

// RateLimit bounds how many requests may be sent to a source per window.
type RateLimit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// HealthCheckFunc is a caller-supplied active probe. A nil error means the
// source answered; any error or timeout counts as a failed probe.
type HealthCheckFunc func(ctx context.Context) error

// ServiceConfig is the immutable per-source descriptor, set once at
// registration.
type ServiceConfig struct {
	Name             string          `yaml:"name"`
	BaseURL          string          `yaml:"base_url"`
	Timeout          time.Duration   `yaml:"timeout"`
	RateLimit        RateLimit       `yaml:"rate_limit"`
	Breaker          breaker.Config  `yaml:"breaker"`
	Priority         int             `yaml:"priority"` // lower runs first
	QualityThreshold int             `yaml:"quality_threshold"`
	CacheTTL         time.Duration   `yaml:"cache_ttl"`
	HealthCheck      HealthCheckFunc `yaml:"-"`
}

// HealthStatus is the mutable rolling health record for one source.
// CircuitState is projected from the authoritative breaker at read time and
// is never stored here.
type HealthStatus struct {
	Status          Status        `json:"status"`
	Latency         time.Duration `json:"latency"`
	SuccessRate     float64       `json:"success_rate"`
	ErrorRate       float64       `json:"error_rate"`
	CircuitState    breaker.State `json:"circuit_state"`
	LastHealthCheck time.Time     `json:"last_health_check"`
}

// Registry holds per-source configuration and live health records. It is the
// only cross-cutting mutable shared state; all health mutation goes through
// Update under its lock.
type Registry struct {
	mu       sync.RWMutex
	configs  map[string]*ServiceConfig
	health   map[string]*HealthStatus
	limiters map[string]*ratelimit.Bucket
	breakers *breaker.Manager
	logger   *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		configs:  make(map[string]*ServiceConfig),
		health:   make(map[string]*HealthStatus),
		limiters: make(map[string]*ratelimit.Bucket),
		breakers: breaker.NewManager(logger),
		logger:   logger,
	}
}

// Register stores the config, seeds the health record and creates the
// breaker and rate limiter for the source. Registration is idempotent per
// name; the last write wins.
func (r *Registry) Register(cfg ServiceConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := cfg
	r.configs[cfg.Name] = &stored
	r.health[cfg.Name] = &HealthStatus{
		Status:      StatusOffline,
		SuccessRate: 100,
		ErrorRate:   0,
	}
	r.limiters[cfg.Name] = ratelimit.NewBucket(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	r.breakers.Register(cfg.Name, cfg.Breaker)

	r.logger.Info("source registered",
		zap.String("source", cfg.Name),
		zap.String("base_url", cfg.BaseURL),
		zap.Int("priority", cfg.Priority))
}

// Config returns the config for a source.
func (r *Registry) Config(name string) (*ServiceConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[name]
	return cfg, ok
}

// Breaker returns the circuit breaker for a source.
func (r *Registry) Breaker(name string) (*breaker.Breaker, bool) {
	return r.breakers.Get(name)
}

// Limiter returns the rate limiter for a source.
func (r *Registry) Limiter(name string) (*ratelimit.Bucket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.limiters[name]
	return l, ok
}

// Names returns all registered source names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	return names
}

// Update applies fn to the source's health record under the registry lock,
// making the read-modify-write atomic with respect to concurrent callers.
func (r *Registry) Update(name string, fn func(*HealthStatus)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs, ok := r.health[name]
	if !ok {
		return false
	}
	fn(hs)
	return true
}

// Health returns a copy of the source's health record with the circuit state
// projected from the breaker.
func (r *Registry) Health(name string) (HealthStatus, bool) {
	r.mu.RLock()
	hs, ok := r.health[name]
	if !ok {
		r.mu.RUnlock()
		return HealthStatus{}, false
	}
	snapshot := *hs
	r.mu.RUnlock()

	if b, ok := r.breakers.Get(name); ok {
		snapshot.CircuitState = b.State()
	}
	return snapshot, true
}

// Snapshot returns a read-only copy of every health record.
func (r *Registry) Snapshot() map[string]HealthStatus {
	r.mu.RLock()
	out := make(map[string]HealthStatus, len(r.health))
	for name, hs := range r.health {
		out[name] = *hs
	}
	r.mu.RUnlock()

	for name := range out {
		if b, ok := r.breakers.Get(name); ok {
			hs := out[name]
			hs.CircuitState = b.State()
			out[name] = hs
		}
	}
	return out
}
