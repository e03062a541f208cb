package config

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

var (
	instance *Config
	once     sync.Once
)

// Usage and validation messages, carried over verbatim from the original
// rtoussaint/ProxyServer argv validation so operator-facing text matches.
const (
	UsageMessage      = "Command should be: myprog <port> <cache size in MB>"
	PortRangeMessage  = "Port number should be equal to or larger than 1024 and smaller than 65535"
	CacheSizeMessage  = "Cache size must be between 1 MB and 100 MB"
	minPort           = 1024
	maxPort           = 65535
	minCacheSizeMB    = 1
	maxCacheSizeMB    = 100
	bytesPerMegabyte  = 1_000_000
)

// Config aggregates all component configurations for centralized management.
// This proxy takes exactly two positional CLI arguments (port, cache size
// in MB); there are no environment variables and no config file.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Cache     CacheConfig     `json:"cache"`
	RateLimit RateLimitConfig `json:"rateLimit"`
	Metrics   MetricsConfig   `json:"metrics"`
	Tracing   TracingConfig   `json:"tracing"`
}

// ServerConfig controls the core session/admission behavior.
type ServerConfig struct {
	Port                  int           `json:"port"`
	ClientReadTimeout     time.Duration `json:"clientReadTimeout"`
	MaxRequestBytes       int           `json:"maxRequestBytes"`
	MaxConcurrentSessions int64         `json:"maxConcurrentSessions"`
}

// CacheConfig controls the byte-budgeted LRU response cache.
type CacheConfig struct {
	CapacityBytes int64 `json:"capacityBytes"`
}

// RateLimitConfig controls the per-client-IP admission limiter that
// supplements the admission gate so one client cannot hold every session
// slot.
type RateLimitConfig struct {
	Enabled    bool `json:"enabled"`
	Capacity   int  `json:"capacity"`
	RefillRate int  `json:"refillRate"`
}

// MetricsConfig controls the ambient Prometheus/health exporter, which is
// served on its own loopback listener rather than the proxy's public port.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// TracingConfig defines OpenTelemetry tracing configuration.
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName"`
	ServiceVersion string  `json:"serviceVersion"`
	Environment    string  `json:"environment"`
	JaegerEndpoint string  `json:"jaegerEndpoint"`
	OTLPEndpoint   string  `json:"otlpEndpoint"`
	SamplingRatio  float64 `json:"samplingRatio"`
}

// New builds a Config from the already-validated port and cache size (MB).
func New(port, cacheSizeMB int) *Config {
	return &Config{
		Server: ServerConfig{
			Port:                  port,
			ClientReadTimeout:     time.Second,
			MaxRequestBytes:       5000,
			MaxConcurrentSessions: 5,
		},
		Cache: CacheConfig{
			CapacityBytes: int64(cacheSizeMB) * bytesPerMegabyte,
		},
		RateLimit: RateLimitConfig{
			Enabled:    true,
			Capacity:   20,
			RefillRate: 5,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    fmt.Sprintf("127.0.0.1:%d", port+1),
		},
		Tracing: TracingConfig{
			Enabled:        false,
			ServiceName:    "forward-cache-proxy",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			SamplingRatio:  0.1,
		},
	}
}

// FromArgs parses and validates the two positional CLI arguments (port,
// cache size in MB). It never reads environment variables or files.
func FromArgs(args []string) (*Config, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%s", UsageMessage)
	}

	port, err := strconv.Atoi(args[0])
	if err != nil || port < minPort || port > maxPort {
		return nil, fmt.Errorf("%s", PortRangeMessage)
	}

	cacheSizeMB, err := strconv.Atoi(args[1])
	if err != nil || cacheSizeMB < minCacheSizeMB || cacheSizeMB > maxCacheSizeMB {
		return nil, fmt.Errorf("%s", CacheSizeMessage)
	}

	return New(port, cacheSizeMB), nil
}

// GetInstance returns the process-wide singleton configuration, set by the
// first call to SetInstance. If GetInstance runs before any SetInstance, it
// installs a default config (port 8080, 1 MB cache) and later SetInstance
// calls have no effect.
func GetInstance() *Config {
	once.Do(func() {
		instance = New(8080, 1)
	})
	return instance
}

// SetInstance installs cfg as the singleton, if one hasn't been installed
// yet. Safe to call once at startup after FromArgs succeeds.
func SetInstance(cfg *Config) {
	once.Do(func() {
		instance = cfg
	})
}
