package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/scopeguard/pkg/observability"
	"github.com/platinummonkey/scopeguard/pkg/storage"
)

// ConfigFileEnv names the optional YAML file loaded before env overrides
const ConfigFileEnv = "SCOPEGUARD_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Storage configuration
	Storage storage.Config `yaml:"storage"`

	// Permission cache configuration
	Cache CacheConfig `yaml:"cache"`

	// RBAC seeding and identity settings
	RBAC RBACConfig `yaml:"rbac"`

	// Authentication and admin policy
	Auth AuthConfig `yaml:"auth"`

	// Rate limiting
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// CacheConfig selects the permission cache backend
type CacheConfig struct {
	Backend    string        `yaml:"backend"` // "memory" or "redis"
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// RBACConfig holds role seeding and user identity settings
type RBACConfig struct {
	SeedOnStartup    bool     `yaml:"seed_on_startup"`
	SeedConcurrency  int      `yaml:"seed_concurrency"`
	SeedPageSize     int      `yaml:"seed_page_size"`
	BackfillSchedule string   `yaml:"backfill_schedule"` // cron expression
	UserIDClaims     []string `yaml:"user_id_claims"`
}

// AuthConfig holds OIDC and admin policy settings
type AuthConfig struct {
	OIDCIssuerURL string `yaml:"oidc_issuer_url"`
	OIDCClientID  string `yaml:"oidc_client_id"`
	// Optional lets unauthenticated requests reach the policy layer
	Optional bool `yaml:"optional"`

	// AdminClaim must contain one of AdminValues for RBAC administration
	AdminClaim  string   `yaml:"admin_claim"`
	AdminValues []string `yaml:"admin_values"`
}

// RateLimitConfig holds request rate limiting settings
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Backend           string        `yaml:"backend"` // "memory" or "redis"
	RequestsPerWindow int           `yaml:"requests_per_window"`
	Window            time.Duration `yaml:"window"`
	Burst             int           `yaml:"burst"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"` // Use insecure gRPC connection
	// OTelSampleRatio is the fraction of root traces kept; 0 keeps all
	OTelSampleRatio float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// DefaultConfig returns the configuration used when nothing is set
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			HealthPort:      "9090",
		},
		Storage: storage.DefaultConfig(),
		Cache: CacheConfig{
			Backend:    "memory",
			TTL:        5 * time.Minute,
			MaxEntries: 100000,
		},
		RBAC: RBACConfig{
			SeedOnStartup:    false,
			SeedConcurrency:  4,
			SeedPageSize:     500,
			BackfillSchedule: "0 * * * *",
			UserIDClaims:     []string{"user_id", "uid", "sub"},
		},
		Auth: AuthConfig{
			AdminClaim:  "roles",
			AdminValues: []string{"rbac-admin"},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			Backend:           "memory",
			RequestsPerWindow: 600,
			Window:            time.Minute,
			Burst:             50,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEnabled:        false,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "scopeguard",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig loads configuration from defaults, the YAML file named by
// SCOPEGUARD_CONFIG_FILE if set, then environment variables
func LoadConfig() (*Config, error) {
	return Load(os.Getenv(ConfigFileEnv))
}

// LoadWorkerConfig loads configuration like LoadConfig but validates only the
// sections used by the admin CLI and backfill worker
func LoadWorkerConfig() (*Config, error) {
	return load(os.Getenv(ConfigFileEnv), (*Config).ValidateWorker)
}

// Load builds the configuration with an explicit YAML path; an empty path
// skips the file
func Load(path string) (*Config, error) {
	return load(path, (*Config).Validate)
}

func load(path string, validate func(*Config) error) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides cfg with any SCOPEGUARD_* variables that are set
func applyEnv(cfg *Config) {
	s := &cfg.Server
	s.Host = getEnv("SCOPEGUARD_HOST", s.Host)
	s.Port = getEnv("SCOPEGUARD_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("SCOPEGUARD_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("SCOPEGUARD_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("SCOPEGUARD_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("SCOPEGUARD_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MaxBodyBytes = getEnvInt64("SCOPEGUARD_MAX_BODY_BYTES", s.MaxBodyBytes)
	s.HealthPort = getEnv("SCOPEGUARD_HEALTH_PORT", s.HealthPort)

	st := &cfg.Storage
	st.PostgresURL = getEnv("SCOPEGUARD_POSTGRES_URL", st.PostgresURL)
	st.PostgresMaxConns = getEnvInt("SCOPEGUARD_POSTGRES_MAX_CONNS", st.PostgresMaxConns)
	st.PostgresMinConns = getEnvInt("SCOPEGUARD_POSTGRES_MIN_CONNS", st.PostgresMinConns)
	st.PostgresTimeout = getEnvDuration("SCOPEGUARD_POSTGRES_TIMEOUT", st.PostgresTimeout)
	st.RedisURL = getEnv("SCOPEGUARD_REDIS_URL", st.RedisURL)
	st.RedisPassword = getEnv("SCOPEGUARD_REDIS_PASSWORD", st.RedisPassword)
	st.RedisDB = getEnvInt("SCOPEGUARD_REDIS_DB", st.RedisDB)
	st.RedisMaxRetries = getEnvInt("SCOPEGUARD_REDIS_MAX_RETRIES", st.RedisMaxRetries)
	st.RedisPoolSize = getEnvInt("SCOPEGUARD_REDIS_POOL_SIZE", st.RedisPoolSize)

	c := &cfg.Cache
	c.Backend = strings.ToLower(getEnv("SCOPEGUARD_CACHE_BACKEND", c.Backend))
	c.TTL = getEnvDuration("SCOPEGUARD_CACHE_TTL", c.TTL)
	c.MaxEntries = getEnvInt("SCOPEGUARD_CACHE_MAX_ENTRIES", c.MaxEntries)

	r := &cfg.RBAC
	r.SeedOnStartup = getEnvBool("SCOPEGUARD_SEED_ON_STARTUP", r.SeedOnStartup)
	r.SeedConcurrency = getEnvInt("SCOPEGUARD_SEED_CONCURRENCY", r.SeedConcurrency)
	r.SeedPageSize = getEnvInt("SCOPEGUARD_SEED_PAGE_SIZE", r.SeedPageSize)
	r.BackfillSchedule = getEnv("SCOPEGUARD_BACKFILL_SCHEDULE", r.BackfillSchedule)
	r.UserIDClaims = getEnvList("SCOPEGUARD_USER_ID_CLAIMS", r.UserIDClaims)

	a := &cfg.Auth
	a.OIDCIssuerURL = getEnv("SCOPEGUARD_OIDC_ISSUER_URL", a.OIDCIssuerURL)
	a.OIDCClientID = getEnv("SCOPEGUARD_OIDC_CLIENT_ID", a.OIDCClientID)
	a.Optional = getEnvBool("SCOPEGUARD_AUTH_OPTIONAL", a.Optional)
	a.AdminClaim = getEnv("SCOPEGUARD_ADMIN_CLAIM", a.AdminClaim)
	a.AdminValues = getEnvList("SCOPEGUARD_ADMIN_VALUES", a.AdminValues)

	rl := &cfg.RateLimit
	rl.Enabled = getEnvBool("SCOPEGUARD_RATE_LIMIT_ENABLED", rl.Enabled)
	rl.Backend = strings.ToLower(getEnv("SCOPEGUARD_RATE_LIMIT_BACKEND", rl.Backend))
	rl.RequestsPerWindow = getEnvInt("SCOPEGUARD_RATE_LIMIT_REQUESTS", rl.RequestsPerWindow)
	rl.Window = getEnvDuration("SCOPEGUARD_RATE_LIMIT_WINDOW", rl.Window)
	rl.Burst = getEnvInt("SCOPEGUARD_RATE_LIMIT_BURST", rl.Burst)

	o := &cfg.Observability
	o.LogLevel = getEnv("SCOPEGUARD_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("SCOPEGUARD_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("SCOPEGUARD_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("SCOPEGUARD_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("SCOPEGUARD_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("SCOPEGUARD_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("SCOPEGUARD_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("SCOPEGUARD_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if err := c.ValidateWorker(); err != nil {
		return err
	}

	if c.Auth.OIDCIssuerURL == "" || c.Auth.OIDCClientID == "" {
		return fmt.Errorf("OIDC issuer URL and client ID are required")
	}
	if c.Auth.AdminClaim == "" || len(c.Auth.AdminValues) == 0 {
		return fmt.Errorf("admin claim and admin values are required")
	}

	if c.RateLimit.Enabled {
		switch c.RateLimit.Backend {
		case "memory":
		case "redis":
			if c.Storage.RedisURL == "" {
				return fmt.Errorf("redis URL is required for the redis rate limit backend")
			}
		default:
			return fmt.Errorf("invalid rate limit backend: %s (must be memory or redis)", c.RateLimit.Backend)
		}
		if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit requests and window must be positive")
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// ValidateWorker checks only what the admin CLI and backfill worker need:
// storage, cache and seeding
func (c *Config) ValidateWorker() error {
	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory or redis)", c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	if c.RBAC.SeedConcurrency <= 0 || c.RBAC.SeedPageSize <= 0 {
		return fmt.Errorf("seed concurrency and page size must be positive")
	}
	if _, err := cron.ParseStandard(c.RBAC.BackfillSchedule); err != nil {
		return fmt.Errorf("invalid backfill schedule %q: %w", c.RBAC.BackfillSchedule, err)
	}
	if len(c.RBAC.UserIDClaims) == 0 {
		return fmt.Errorf("at least one user id claim is required")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns an environment variable as a float64 or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
