package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Supported tracking providers.
const (
	ProviderMock       = "mock"
	ProviderRajaOngkir = "rajaongkir"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string
	BodyLimitBytes     int64

	TrackingProvider  string
	RajaOngkirAPIKey  string
	RajaOngkirBaseURL string

	Bulk     BulkConfig
	Cache    CacheConfig
	Rate     RateConfig
	Circuit  CircuitConfig
	Retry    RetryConfig
	Outbound OutboundConfig
	Obs      ObsConfig
}

// BulkConfig tunes the bulk tracking processor and job registry.
type BulkConfig struct {
	BatchSize     int
	Delay         time.Duration
	LookupTimeout time.Duration
	MaxItems      int
	MinLength     int
	JobTTL        time.Duration
	MaxActiveJobs int
}

// CacheConfig controls the Redis tracking result cache.
type CacheConfig struct {
	TTL         time.Duration
	NotFoundTTL time.Duration
}

// RateConfig holds the shared upstream quota and the per-client HTTP limits.
type RateConfig struct {
	UpstreamWindow   time.Duration
	UpstreamMax      int
	BulkSubmitWindow time.Duration
	BulkSubmitMax    int
	// TrackLimit uses the "<limit>-<period>" format, for example "60-M".
	TrackLimit string
}

// CircuitConfig configures the upstream circuit breaker.
type CircuitConfig struct {
	MinRequests  int
	FailureRatio float64
	OpenFor      time.Duration
}

// RetryConfig configures outbound retries.
type RetryConfig struct {
	MaxAttempts int
	Base        time.Duration
	Jitter      float64
}

// OutboundConfig configures outbound HTTP calls.
type OutboundConfig struct {
	Timeout time.Duration
}

// ObsConfig configures logging, metrics and tracing.
type ObsConfig struct {
	LogFormat            string
	LogLevel             string
	MetricsNamespace     string
	MetricsBucketsCSV    string
	EnablePrometheus     bool
	EnableTracing        bool
	ServiceName          string
	OTLPEndpoint         string
	TracingExporter      string
	TracingSamplingRatio float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		BodyLimitBytes:     int64(parseInt(k.String("BODY_LIMIT_BYTES"), 64<<10)),
		TrackingProvider:   strings.ToLower(valueOrDefault(k.String("TRACKING_PROVIDER"), ProviderMock)),
		RajaOngkirAPIKey:   strings.TrimSpace(k.String("RAJAONGKIR_API_KEY")),
		RajaOngkirBaseURL:  strings.TrimSpace(k.String("RAJAONGKIR_BASE_URL")),
		Bulk: BulkConfig{
			BatchSize:     parseInt(k.String("BULK_BATCH_SIZE"), 3),
			Delay:         parseDuration(k.String("BULK_DELAY"), "1s"),
			LookupTimeout: parseDuration(k.String("BULK_LOOKUP_TIMEOUT"), "15s"),
			MaxItems:      parseInt(k.String("BULK_MAX_ITEMS"), 100),
			MinLength:     parseInt(k.String("BULK_MIN_LENGTH"), 8),
			JobTTL:        parseDuration(k.String("BULK_JOB_TTL"), "30m"),
			MaxActiveJobs: parseInt(k.String("BULK_MAX_ACTIVE_JOBS"), 50),
		},
		Cache: CacheConfig{
			TTL:         parseDuration(k.String("TRACK_CACHE_TTL"), "10m"),
			NotFoundTTL: parseDuration(k.String("TRACK_CACHE_NOT_FOUND_TTL"), "1m"),
		},
		Rate: RateConfig{
			UpstreamWindow:   parseDuration(k.String("UPSTREAM_RATE_WINDOW"), "1s"),
			UpstreamMax:      parseInt(k.String("UPSTREAM_RATE_MAX"), 3),
			BulkSubmitWindow: parseDuration(k.String("BULK_SUBMIT_RATE_WINDOW"), "1m"),
			BulkSubmitMax:    parseInt(k.String("BULK_SUBMIT_RATE_MAX"), 10),
			TrackLimit:       valueOrDefault(k.String("TRACK_RATE_LIMIT"), "60-M"),
		},
		Circuit: CircuitConfig{
			MinRequests:  parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 10),
			FailureRatio: parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
			OpenFor:      parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),
		},
		Retry: RetryConfig{
			MaxAttempts: parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
			Base:        parseDuration(k.String("RETRY_BASE"), "200ms"),
			Jitter:      parseFloat(k.String("RETRY_JITTER"), 0.2),
		},
		Outbound: OutboundConfig{
			Timeout: parseDuration(k.String("OUTBOUND_TIMEOUT"), "10s"),
		},
		Obs: ObsConfig{
			LogFormat:            valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:             valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace:     valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "cekresi"),
			MetricsBucketsCSV:    k.String("OBS_METRICS_BUCKETS"),
			EnablePrometheus:     parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
			EnableTracing:        parseBool(k.String("OBS_ENABLE_TRACING")),
			ServiceName:          valueOrDefault(k.String("OBS_SERVICE_NAME"), "cekresi-api"),
			OTLPEndpoint:         strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			TracingExporter:      strings.ToLower(valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp")),
			TracingSamplingRatio: parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.TrackingProvider {
	case ProviderMock:
	case ProviderRajaOngkir:
		if c.RajaOngkirAPIKey == "" {
			return errors.New("RAJAONGKIR_API_KEY is required when TRACKING_PROVIDER=rajaongkir")
		}
	default:
		return fmt.Errorf("unsupported TRACKING_PROVIDER %q", c.TrackingProvider)
	}
	if c.Bulk.BatchSize < 1 || c.Bulk.BatchSize > 100 {
		return fmt.Errorf("BULK_BATCH_SIZE must be between 1 and 100, got %d", c.Bulk.BatchSize)
	}
	if c.Bulk.MaxItems < 1 {
		return errors.New("BULK_MAX_ITEMS must be positive")
	}
	if c.Obs.TracingExporter != "otlp" && c.Obs.TracingExporter != "none" {
		return fmt.Errorf("unsupported OBS_TRACING_EXPORTER %q", c.Obs.TracingExporter)
	}
	if c.Obs.TracingSamplingRatio < 0 || c.Obs.TracingSamplingRatio > 1 {
		return errors.New("OBS_TRACING_SAMPLING_RATIO must be between 0 and 1")
	}
	return nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
