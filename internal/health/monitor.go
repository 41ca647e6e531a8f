package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dev.helix.sourcehub/internal/breaker"
	"dev.helix.sourcehub/internal/registry"
)

const (
	// Latency EMA blend: new = old*0.8 + sample*0.2.
	emaKeep   = 0.8
	emaSample = 0.2
)

// Config configures the health monitor.
type Config struct {
	ProbeInterval time.Duration // active sweep cadence
	ProbeTimeout  time.Duration // hard per-probe timeout
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ProbeInterval: 30 * time.Second,
		ProbeTimeout:  5 * time.Second,
	}
}

// Monitor maintains the rolling health score per source. Two paths feed the
// same record: passive outcomes from real calls (Record) and the periodic
// active probe sweep (CheckAll).
type Monitor struct {
	registry *registry.Registry
	config   Config
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewMonitor creates a monitor over the given registry.
func NewMonitor(reg *registry.Registry, config Config, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = DefaultConfig().ProbeInterval
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	return &Monitor{
		registry: reg,
		config:   config,
		logger:   logger,
	}
}

// Record applies one real-call outcome to the source's health record. The
// success-rate curve is deliberately asymmetric (+1 on success, -2 on
// failure) so recovery is slow and degradation is fast, which damps flapping.
func (m *Monitor) Record(name string, success bool, latency time.Duration) {
	m.registry.Update(name, func(hs *registry.HealthStatus) {
		hs.Latency = time.Duration(float64(hs.Latency)*emaKeep + float64(latency)*emaSample)

		if success {
			hs.SuccessRate = min(100, hs.SuccessRate+1)
			hs.ErrorRate = max(0, hs.ErrorRate-2)
			if hs.SuccessRate >= 80 {
				hs.Status = registry.StatusHealthy
			} else {
				hs.Status = registry.StatusDegraded
			}
			return
		}

		hs.SuccessRate = max(0, hs.SuccessRate-2)
		hs.ErrorRate = min(100, hs.ErrorRate+2)
		switch {
		case hs.SuccessRate < 30:
			hs.Status = registry.StatusOffline
		case hs.SuccessRate < 60:
			hs.Status = registry.StatusDegraded
		default:
			hs.Status = registry.StatusHealthy
		}
	})
}

// IsHealthy reports whether a source is eligible as a fallback target.
func (m *Monitor) IsHealthy(name string) bool {
	hs, ok := m.registry.Health(name)
	if !ok {
		return false
	}
	return hs.Status != registry.StatusOffline &&
		hs.SuccessRate >= 50 &&
		hs.CircuitState != breaker.CircuitOpen
}

// Start launches the periodic probe sweep. It returns immediately; the loop
// stops when ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.config.ProbeInterval)
		defer ticker.Stop()

		m.logger.Info("health monitor started",
			zap.Duration("interval", m.config.ProbeInterval))

		for {
			select {
			case <-ticker.C:
				m.CheckAll(ctx)
			case <-ctx.Done():
				m.logger.Info("health monitor stopped")
				return
			}
		}
	}()
}

// Stop cancels the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.once.Do(func() {
		if m.cancel != nil {
			m.cancel()
			<-m.done
		}
	})
}

// CheckAll probes every registered source concurrently. Each probe runs under
// its own timeout; one slow or failing probe never blocks or fails the
// others. Probe errors are recorded as failures and swallowed here.
func (m *Monitor) CheckAll(ctx context.Context) {
	g := new(errgroup.Group)
	for _, name := range m.registry.Names() {
		name := name
		g.Go(func() error {
			m.probe(ctx, name)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) probe(ctx context.Context, name string) {
	cfg, ok := m.registry.Config(name)
	if !ok || cfg.HealthCheck == nil {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := runProbe(probeCtx, cfg.HealthCheck)
	latency := time.Since(start)

	if err != nil {
		// A timed-out probe is charged the full timeout.
		if probeCtx.Err() != nil {
			latency = m.config.ProbeTimeout
		}
		m.logger.Warn("health probe failed",
			zap.String("source", name),
			zap.Error(err))
	}

	m.Record(name, err == nil, latency)
	m.registry.Update(name, func(hs *registry.HealthStatus) {
		hs.LastHealthCheck = time.Now()
	})
}

// runProbe invokes the caller-supplied probe and enforces the context
// deadline even if the probe ignores its context.
func runProbe(ctx context.Context, check registry.HealthCheckFunc) error {
	result := make(chan error, 1)
	go func() {
		result <- check(ctx)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
