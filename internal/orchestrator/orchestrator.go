package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dev.helix.sourcehub/internal/breaker"
	"dev.helix.sourcehub/internal/cache"
	"dev.helix.sourcehub/internal/health"
	"dev.helix.sourcehub/internal/models"
	"dev.helix.sourcehub/internal/observability"
	"dev.helix.sourcehub/internal/quality"
	"dev.helix.sourcehub/internal/queue"
	"dev.helix.sourcehub/internal/registry"
)

const (
	// Responses scoring below this are returned but never cached.
	cacheQualityThreshold = 60
	// Cache hits always report this fixed optimistic score: TTL freshness is
	// the trust signal, not the stale computed number.
	cachedQualityScore = 85
)

// Options configures an Orchestrator. Nil fields get working defaults.
type Options struct {
	Registry *registry.Registry
	Monitor  *health.Monitor
	Cache    *cache.ResponseCache
	Scorer   *quality.Scorer
	Queue    *queue.Queue
	Metrics  *observability.Metrics
	Client   *http.Client
	Retry    RetryConfig
	Logger   *zap.Logger
}

// Orchestrator is the public entry point of the resilient multi-source
// layer. One instance is constructed at process start and passed by
// reference; there is no package-level state.
type Orchestrator struct {
	registry *registry.Registry
	monitor  *health.Monitor
	cache    *cache.ResponseCache
	scorer   *quality.Scorer
	queue    *queue.Queue
	metrics  *observability.Metrics
	client   *http.Client
	retry    RetryConfig
	logger   *zap.Logger

	totalRequests      int64
	successfulRequests int64
	failedRequests     int64
	fallbacksUsed      int64
	cacheHits          int64
}

// New creates an orchestrator from opts.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = registry.New(logger)
	}
	monitor := opts.Monitor
	if monitor == nil {
		monitor = health.NewMonitor(reg, health.DefaultConfig(), logger)
	}
	responseCache := opts.Cache
	if responseCache == nil {
		responseCache = cache.New(nil, nil, logger)
	}
	scorer := opts.Scorer
	if scorer == nil {
		scorer = quality.NewScorer()
	}
	workQueue := opts.Queue
	if workQueue == nil {
		workQueue = queue.New(queue.DefaultConfig(), logger)
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	retry := opts.Retry
	if retry.MaxRetries == 0 && retry.InitialDelay == 0 {
		retry = DefaultRetryConfig()
	}

	return &Orchestrator{
		registry: reg,
		monitor:  monitor,
		cache:    responseCache,
		scorer:   scorer,
		queue:    workQueue,
		metrics:  opts.Metrics,
		client:   client,
		retry:    retry,
		logger:   logger,
	}
}

// Start launches the background loops (health sweep, cache sweep, queue
// drain). They stop when ctx is cancelled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) {
	o.monitor.Start(ctx)
	o.cache.Start(ctx)
	o.queue.Start(ctx)
}

// Stop shuts down the background loops.
func (o *Orchestrator) Stop() {
	o.monitor.Stop()
	o.cache.Stop()
	o.queue.Stop()
}

// RegisterService registers a content source. Services are expected to be
// registered once at startup, before requests target them.
func (o *Orchestrator) RegisterService(cfg registry.ServiceConfig) {
	o.registry.Register(cfg)
}

// Registry exposes the underlying registry for collaborators that only need
// configuration lookups.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

// Monitor exposes the health monitor.
func (o *Orchestrator) Monitor() *health.Monitor {
	return o.monitor
}

// Schedule queues ancillary work on the batch scheduler.
func (o *Orchestrator) Schedule(priority int, task queue.Task) <-chan queue.Result {
	return o.queue.Enqueue(priority, task)
}

// Request executes one orchestrated call: cache first, then the primary
// source, then each fallback in order (skipping unhealthy ones) until one
// succeeds. Callers receive a ResponseEnvelope or an aggregated error; raw
// transport errors never escape.
func (o *Orchestrator) Request(ctx context.Context, source string, req *models.RequestDescriptor, fallbacks []string) (*models.ResponseEnvelope, error) {
	atomic.AddInt64(&o.totalRequests, 1)
	start := time.Now()
	requestID := uuid.NewString()

	cfg, ok := o.registry.Config(source)
	if !ok {
		atomic.AddInt64(&o.failedRequests, 1)
		return nil, fmt.Errorf("%s: %w", source, ErrServiceNotRegistered)
	}

	// The cache check strictly precedes any network attempt and
	// short-circuits the whole chain, fallbacks included.
	key := cache.Key(source, req.Endpoint, req.Params)
	if data, hit := o.cache.Get(ctx, key); hit {
		atomic.AddInt64(&o.cacheHits, 1)
		atomic.AddInt64(&o.successfulRequests, 1)
		o.metrics.ObserveCacheHit()
		return &models.ResponseEnvelope{
			Data: data,
			Metadata: models.ResponseMetadata{
				Source:       source,
				RequestID:    requestID,
				Timestamp:    time.Now(),
				Duration:     time.Since(start),
				QualityScore: cachedQualityScore,
				CacheHit:     true,
			},
		}, nil
	}

	var attempts []SourceError
	// A response that succeeded but scored below the source's quality
	// threshold is held back while the chain continues, and returned only if
	// nothing better turns up.
	var lowQuality *models.ResponseEnvelope

	env, err := o.attempt(ctx, cfg, req, key, requestID, source, false, start)
	switch {
	case err == nil && env.Metadata.QualityScore >= cfg.QualityThreshold:
		atomic.AddInt64(&o.successfulRequests, 1)
		return env, nil
	case err == nil:
		lowQuality = env
		attempts = append(attempts, SourceError{Source: source, Err: fmt.Errorf("quality %d below threshold %d", env.Metadata.QualityScore, cfg.QualityThreshold)})
	default:
		attempts = append(attempts, SourceError{Source: source, Err: err})
		o.logger.Warn("primary source failed",
			zap.String("source", source),
			zap.String("request_id", requestID),
			zap.Error(err))
	}

	for _, name := range fallbacks {
		fcfg, ok := o.registry.Config(name)
		if !ok {
			// Unregistered fallbacks are skipped; only the primary target
			// makes registration mandatory.
			continue
		}
		if !o.monitor.IsHealthy(name) {
			continue
		}

		fenv, ferr := o.attempt(ctx, fcfg, req, key, requestID, source, true, start)
		if ferr == nil {
			atomic.AddInt64(&o.successfulRequests, 1)
			atomic.AddInt64(&o.fallbacksUsed, 1)
			o.metrics.ObserveFallback()
			return fenv, nil
		}
		attempts = append(attempts, SourceError{Source: name, Err: ferr})
	}

	if lowQuality != nil {
		atomic.AddInt64(&o.successfulRequests, 1)
		return lowQuality, nil
	}

	atomic.AddInt64(&o.failedRequests, 1)
	return nil, &AllSourcesFailedError{Attempts: attempts}
}

// attempt performs one real call against a source: rate limit, breaker,
// retrying HTTP, scoring, caching, health bookkeeping. cacheSource is the
// primary target: the cache entry lives under the primary's request
// signature, so its TTL follows the primary even when a fallback answered.
func (o *Orchestrator) attempt(ctx context.Context, cfg *registry.ServiceConfig, req *models.RequestDescriptor, key, requestID, cacheSource string, fallback bool, start time.Time) (*models.ResponseEnvelope, error) {
	if limiter, ok := o.registry.Limiter(cfg.Name); ok && !limiter.Allow() {
		return nil, fmt.Errorf("%s: %w", cfg.Name, ErrRateLimited)
	}

	b, ok := o.registry.Breaker(cfg.Name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", cfg.Name, ErrServiceNotRegistered)
	}

	var body []byte
	attemptStart := time.Now()
	err := b.Execute(ctx, func(ctx context.Context) error {
		data, callErr := o.doHTTP(ctx, cfg, req)
		if callErr != nil {
			return callErr
		}
		body = data
		return nil
	})
	latency := time.Since(attemptStart)
	o.metrics.SetCircuitOpen(cfg.Name, b.IsOpen())

	if err != nil {
		// Breaker rejections never reached the network, so they do not feed
		// the passive health path; timeouts and transport errors do.
		if !errors.Is(err, breaker.ErrCircuitOpen) && !errors.Is(err, breaker.ErrTooManyTrialCalls) && !errors.Is(err, ErrRateLimited) {
			o.monitor.Record(cfg.Name, false, latency)
			o.metrics.ObserveAttempt(cfg.Name, false, latency)
		}
		return nil, err
	}

	o.monitor.Record(cfg.Name, true, latency)
	o.metrics.ObserveAttempt(cfg.Name, true, latency)

	score := o.scorer.Score(body, cfg.Name)
	if score >= cacheQualityThreshold {
		o.cache.Set(ctx, key, cacheSource, body)
	}

	return &models.ResponseEnvelope{
		Data: body,
		Metadata: models.ResponseMetadata{
			Source:       cfg.Name,
			RequestID:    requestID,
			Timestamp:    time.Now(),
			Duration:     time.Since(start),
			QualityScore: score,
			FallbackUsed: fallback,
		},
	}, nil
}

// doHTTP executes the retrying HTTP call under the per-request timeout.
func (o *Orchestrator) doHTTP(ctx context.Context, cfg *registry.ServiceConfig, req *models.RequestDescriptor) ([]byte, error) {
	timeout := cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	retryCfg := o.retry
	if req.Retries > 0 {
		retryCfg.MaxRetries = req.Retries
	}

	resp, err := executeWithRetry(callCtx, retryCfg, func() (*http.Response, error) {
		httpReq, buildErr := buildRequest(callCtx, cfg, req)
		if buildErr != nil {
			return nil, buildErr
		}
		return o.client.Do(httpReq)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", cfg.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, cfg.Name)
	}
	return body, nil
}

func buildRequest(ctx context.Context, cfg *registry.ServiceConfig, req *models.RequestDescriptor) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target := strings.TrimRight(cfg.BaseURL, "/") + req.Endpoint
	if len(req.Params) > 0 {
		values := url.Values{}
		for k, v := range req.Params {
			values.Set(k, v)
		}
		target += "?" + values.Encode()
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", cfg.Name, err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// BestService returns the preferred source among the currently healthy
// candidates: ascending priority first, then descending success rate. The
// second return is false when no candidate is healthy.
func (o *Orchestrator) BestService(candidates []string) (string, bool) {
	type candidate struct {
		name        string
		priority    int
		successRate float64
	}

	var healthy []candidate
	for _, name := range candidates {
		if !o.monitor.IsHealthy(name) {
			continue
		}
		cfg, ok := o.registry.Config(name)
		if !ok {
			continue
		}
		hs, _ := o.registry.Health(name)
		healthy = append(healthy, candidate{name: name, priority: cfg.Priority, successRate: hs.SuccessRate})
	}
	if len(healthy) == 0 {
		return "", false
	}

	sort.SliceStable(healthy, func(i, j int) bool {
		if healthy[i].priority != healthy[j].priority {
			return healthy[i].priority < healthy[j].priority
		}
		return healthy[i].successRate > healthy[j].successRate
	})
	return healthy[0].name, true
}

// HealthStatus returns a read-only snapshot of every source's health record.
func (o *Orchestrator) HealthStatus() map[string]registry.HealthStatus {
	return o.registry.Snapshot()
}

// Statistics returns a point-in-time snapshot of the orchestrator counters.
func (o *Orchestrator) Statistics() models.Statistics {
	return models.Statistics{
		TotalRequests:      atomic.LoadInt64(&o.totalRequests),
		SuccessfulRequests: atomic.LoadInt64(&o.successfulRequests),
		FailedRequests:     atomic.LoadInt64(&o.failedRequests),
		FallbacksUsed:      atomic.LoadInt64(&o.fallbacksUsed),
		CacheHits:          atomic.LoadInt64(&o.cacheHits),
		CacheSize:          o.cache.Len(),
		QueueSize:          o.queue.Len(),
	}
}
