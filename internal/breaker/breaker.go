package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the state of a circuit breaker.
type State string

const (
	CircuitClosed   State = "closed"    // Normal operation
	CircuitOpen     State = "open"      // Failing, rejecting calls
	CircuitHalfOpen State = "half_open" // Testing with limited trial calls
)

// ErrCircuitOpen is returned when the circuit is open and the call was
// rejected without being attempted.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyTrialCalls is returned when a half-open circuit already has its
// full budget of trial calls in flight.
var ErrTooManyTrialCalls = errors.New("circuit breaker half-open, trial budget exhausted")

// Config configures a circuit breaker.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold"` // consecutive failures to open
	SuccessThreshold int           `yaml:"success_threshold"` // consecutive half-open successes to close
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`  // how long to stay open before half-open
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
	}
}

// Breaker is the sole gate between the orchestrator and real network calls
// for one source. Every outbound attempt must go through Execute.
type Breaker struct {
	mu     sync.Mutex
	name   string
	config Config
	logger *zap.Logger

	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenInflight     int
	openedAt             time.Time

	totalRequests  int64
	totalSuccesses int64
	totalFailures  int64
}

// New creates a circuit breaker for the named source.
func New(name string, config Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	return &Breaker{
		name:   name,
		config: config,
		logger: logger,
		state:  CircuitClosed,
	}
}

// Execute runs fn if the circuit allows it, recording the outcome. When the
// circuit is open and the recovery timeout has not elapsed, fn is not invoked
// and ErrCircuitOpen is returned.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}
	err := fn(ctx)
	b.afterCall(err)
	return err
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++

	switch b.state {
	case CircuitOpen:
		if time.Since(b.openedAt) > b.config.RecoveryTimeout {
			b.transitionTo(CircuitHalfOpen)
			b.halfOpenInflight = 1
			return nil
		}
		return ErrCircuitOpen

	case CircuitHalfOpen:
		if b.halfOpenInflight >= b.config.SuccessThreshold {
			return ErrTooManyTrialCalls
		}
		b.halfOpenInflight++
		return nil
	}

	return nil
}

func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitHalfOpen && b.halfOpenInflight > 0 {
		b.halfOpenInflight--
	}

	if err != nil {
		b.recordFailure()
	} else {
		b.recordSuccess()
	}
}

func (b *Breaker) recordFailure() {
	b.totalFailures++
	b.consecutiveFailures++
	b.consecutiveSuccesses = 0

	switch b.state {
	case CircuitClosed:
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure while half-open reopens immediately.
		b.transitionTo(CircuitOpen)
	}
}

func (b *Breaker) recordSuccess() {
	b.totalSuccesses++
	b.consecutiveSuccesses++
	b.consecutiveFailures = 0

	if b.state == CircuitHalfOpen && b.consecutiveSuccesses >= b.config.SuccessThreshold {
		b.transitionTo(CircuitClosed)
	}
}

func (b *Breaker) transitionTo(newState State) {
	oldState := b.state
	b.state = newState

	switch newState {
	case CircuitOpen:
		b.openedAt = time.Now()
	case CircuitClosed:
		b.consecutiveFailures = 0
	case CircuitHalfOpen:
		b.consecutiveSuccesses = 0
		b.halfOpenInflight = 0
	}

	b.logger.Info("circuit state changed",
		zap.String("source", b.name),
		zap.String("from", string(oldState)),
		zap.String("to", string(newState)))
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen returns true if the circuit is open.
func (b *Breaker) IsOpen() bool {
	return b.State() == CircuitOpen
}

// Stats contains circuit breaker counters.
type Stats struct {
	Source               string    `json:"source"`
	State                State     `json:"state"`
	TotalRequests        int64     `json:"total_requests"`
	TotalSuccesses       int64     `json:"total_successes"`
	TotalFailures        int64     `json:"total_failures"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	OpenedAt             time.Time `json:"opened_at,omitempty"`
}

// Stats returns a snapshot of the breaker counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Source:               b.name,
		State:                b.state,
		TotalRequests:        b.totalRequests,
		TotalSuccesses:       b.totalSuccesses,
		TotalFailures:        b.totalFailures,
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		OpenedAt:             b.openedAt,
	}
}

// Reset forces the breaker back to closed with cleared counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CircuitClosed
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.halfOpenInflight = 0
}

// Manager holds one breaker per source name.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	logger   *zap.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		breakers: make(map[string]*Breaker),
		logger:   logger,
	}
}

// Register creates (or replaces) the breaker for a source.
func (m *Manager) Register(name string, config Config) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := New(name, config, m.logger)
	m.breakers[name] = b
	return b
}

// Get returns the breaker for a source.
func (m *Manager) Get(name string) (*Breaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.breakers[name]
	return b, ok
}

// AllStats returns a stats snapshot for every registered breaker.
func (m *Manager) AllStats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]Stats, len(m.breakers))
	for name, b := range m.breakers {
		stats[name] = b.Stats()
	}
	return stats
}
