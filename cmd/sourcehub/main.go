package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dev.helix.sourcehub/internal/cache"
	"dev.helix.sourcehub/internal/config"
	"dev.helix.sourcehub/internal/health"
	"dev.helix.sourcehub/internal/observability"
	"dev.helix.sourcehub/internal/orchestrator"
	"dev.helix.sourcehub/internal/queue"
	"dev.helix.sourcehub/internal/registry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	logger, err := buildLogger(cfg.Server.Mode)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	servicesPath := os.Getenv("SOURCEHUB_SERVICES_FILE")
	if servicesPath == "" {
		servicesPath = "services.yaml"
	}
	services, err := config.LoadServices(servicesPath)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	reg := registry.New(logger)
	monitor := health.NewMonitor(reg, health.Config{
		ProbeInterval: cfg.Health.ProbeInterval,
		ProbeTimeout:  cfg.Health.ProbeTimeout,
	}, logger)

	cacheCfg := &cache.Config{
		DefaultTTL:    cfg.Cache.DefaultTTL,
		SweepInterval: cfg.Cache.SweepInterval,
		TTLBySource:   make(map[string]time.Duration),
	}
	for _, svc := range services {
		if svc.CacheTTL > 0 {
			cacheCfg.TTLBySource[svc.Name] = svc.CacheTTL
		}
	}
	responseCache := cache.New(cacheCfg, rdb, logger)

	workQueue := queue.New(queue.Config{
		DrainInterval: cfg.Queue.DrainInterval,
		BatchSize:     cfg.Queue.BatchSize,
	}, logger)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(promReg)

	orch := orchestrator.New(orchestrator.Options{
		Registry: reg,
		Monitor:  monitor,
		Cache:    responseCache,
		Queue:    workQueue,
		Metrics:  metrics,
		Logger:   logger,
	})

	probeClient := &http.Client{Timeout: cfg.Health.ProbeTimeout}
	for _, svc := range services {
		if svc.HealthCheck == nil {
			svc.HealthCheck = httpProbe(probeClient, svc.BaseURL)
		}
		orch.RegisterService(svc)
		logger.Info("registered source",
			zap.String("name", svc.Name),
			zap.String("base_url", svc.BaseURL),
			zap.Int("priority", svc.Priority))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch.Start(ctx)
	defer orch.Stop()

	router := buildRouter(cfg.Server.Mode, orch, promReg)
	server := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("admin server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down admin server: %w", err)
	}
	return nil
}

func buildLogger(mode string) (*zap.Logger, error) {
	if mode == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// httpProbe is the default active health check: a GET against the source's
// base URL, where any response at all counts as alive.
func httpProbe(client *http.Client, baseURL string) registry.HealthCheckFunc {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

func buildRouter(mode string, orch *orchestrator.Orchestrator, promReg *prometheus.Registry) *gin.Engine {
	gin.SetMode(ginMode(mode))
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, orch.HealthStatus())
	})

	router.GET("/statusz", func(c *gin.Context) {
		c.JSON(http.StatusOK, orch.Statistics())
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))

	return router
}

func ginMode(mode string) string {
	if mode == "debug" {
		return gin.DebugMode
	}
	return gin.ReleaseMode
}
