package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"dev.helix.sourcehub/internal/breaker"
	"dev.helix.sourcehub/internal/registry"
)

// Config is the process-level configuration, loaded from the environment.
// Source definitions live in a separate YAML file (see LoadServices).
type Config struct {
	Server ServerConfig
	Redis  RedisConfig
	Health HealthConfig
	Cache  CacheConfig
	Queue  QueueConfig
}

type ServerConfig struct {
	Host string
	Port string
	Mode string // "debug" or "release"
}

// Addr returns the listen address for the admin HTTP server.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// RedisConfig configures the optional second cache tier. An empty Addr
// disables Redis entirely.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type HealthConfig struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

type CacheConfig struct {
	DefaultTTL    time.Duration
	SweepInterval time.Duration
}

type QueueConfig struct {
	DrainInterval time.Duration
	BatchSize     int
}

// Load reads configuration from the environment, after loading .env if one
// exists. Missing variables fall back to defaults, so a bare environment
// yields a runnable config.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host: getEnv("SOURCEHUB_HOST", "0.0.0.0"),
			Port: getEnv("SOURCEHUB_PORT", "8080"),
			Mode: getEnv("GIN_MODE", "release"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Health: HealthConfig{
			ProbeInterval: getDurationEnv("HEALTH_PROBE_INTERVAL", 30*time.Second),
			ProbeTimeout:  getDurationEnv("HEALTH_PROBE_TIMEOUT", 5*time.Second),
		},
		Cache: CacheConfig{
			DefaultTTL:    getDurationEnv("CACHE_DEFAULT_TTL", 10*time.Minute),
			SweepInterval: getDurationEnv("CACHE_SWEEP_INTERVAL", time.Minute),
		},
		Queue: QueueConfig{
			DrainInterval: getDurationEnv("QUEUE_DRAIN_INTERVAL", 100*time.Millisecond),
			BatchSize:     getIntEnv("QUEUE_BATCH_SIZE", 5),
		},
	}
}

// servicesFile is the YAML shape of the source definitions file.
type servicesFile struct {
	Services []registry.ServiceConfig `yaml:"services"`
}

// LoadServices parses source definitions from a YAML file and fills in
// per-source defaults for fields the file leaves at zero.
func LoadServices(path string) ([]registry.ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading services file: %w", err)
	}

	var file servicesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing services file %s: %w", path, err)
	}

	for i := range file.Services {
		svc := &file.Services[i]
		if svc.Name == "" {
			return nil, fmt.Errorf("services[%d]: name is required", i)
		}
		if svc.BaseURL == "" {
			return nil, fmt.Errorf("service %q: base_url is required", svc.Name)
		}
		applyServiceDefaults(svc)
	}
	return file.Services, nil
}

func applyServiceDefaults(svc *registry.ServiceConfig) {
	if svc.Timeout <= 0 {
		svc.Timeout = 10 * time.Second
	}
	defaults := breaker.DefaultConfig()
	if svc.Breaker.FailureThreshold <= 0 {
		svc.Breaker.FailureThreshold = defaults.FailureThreshold
	}
	if svc.Breaker.SuccessThreshold <= 0 {
		svc.Breaker.SuccessThreshold = defaults.SuccessThreshold
	}
	if svc.Breaker.RecoveryTimeout <= 0 {
		svc.Breaker.RecoveryTimeout = defaults.RecoveryTimeout
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
