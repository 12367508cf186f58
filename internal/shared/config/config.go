package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Cache backends for the shared institution name tier.
const (
	CacheMemory   = "memory"
	CacheRedis    = "redis"
	CachePostgres = "postgres"
)

type Config struct {
	Server    ServerConfig
	Upstream  UpstreamConfig
	Cache     CacheConfig
	Database  DatabaseConfig
	Engine    EngineConfig
	Log       LogConfig
	Telemetry TelemetryConfig
	TLS       TLSConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	AllowedHosts    []string
	ShutdownTimeout time.Duration
}

type UpstreamConfig struct {
	ProviderURL string
	LedgerURL   string
	Timeout     time.Duration
}

type CacheConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	// Warm preloads the local tier from the shared tier at startup.
	Warm bool
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
}

type EngineConfig struct {
	LookupTimeout   time.Duration
	FetchTimeout    time.Duration
	MutationTimeout time.Duration
	JoinPolicy      string
	MessagesFile    string
	SessionIdleTTL  time.Duration
	// RefreshInterval enables background account refresh of live
	// sessions. Zero disables it.
	RefreshInterval time.Duration
	RefreshWorkers  int
}

type LogConfig struct {
	Level  string
	Format string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
}

type TLSConfig struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

func Load() (*Config, error) {
	var errs []string
	duration := func(key, def string) time.Duration {
		d, err := getDurationEnv(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return d
	}
	integer := func(key, def string) int {
		n, err := strconv.Atoi(getEnv(key, def))
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return n
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Host:            getEnv("HOST", "0.0.0.0"),
			AllowedHosts:    getListEnv("ALLOWED_HOSTS"),
			ShutdownTimeout: duration("SHUTDOWN_TIMEOUT", "15s"),
		},
		Upstream: UpstreamConfig{
			ProviderURL: getEnv("PROVIDER_API_URL", "http://localhost:8000"),
			LedgerURL:   getEnv("LEDGER_API_URL", getEnv("PROVIDER_API_URL", "http://localhost:8000")),
			Timeout:     duration("UPSTREAM_TIMEOUT", "30s"),
		},
		Cache: CacheConfig{
			Backend:       strings.ToLower(getEnv("INSTITUTION_CACHE", CacheMemory)),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       integer("REDIS_DB", "0"),
			RedisPrefix:   getEnv("REDIS_PREFIX", "finlink"),
			Warm:          getBoolEnv("INSTITUTION_CACHE_WARM", true),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         integer("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "finlink"),
			Password:     getEnv("DB_PASSWORD", ""),
			DBName:       getEnv("DB_NAME", "finlink"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: integer("DB_MAX_OPEN_CONNS", "10"),
		},
		Engine: EngineConfig{
			LookupTimeout:   duration("LOOKUP_TIMEOUT", "10s"),
			FetchTimeout:    duration("FETCH_TIMEOUT", "30s"),
			MutationTimeout: duration("MUTATION_TIMEOUT", "15s"),
			JoinPolicy:      getEnv("JOIN_POLICY", "resolvable"),
			MessagesFile:    getEnv("MESSAGES_FILE", ""),
			SessionIdleTTL:  duration("SESSION_IDLE_TTL", "30m"),
			RefreshInterval: duration("REFRESH_INTERVAL", "0s"),
			RefreshWorkers:  integer("REFRESH_WORKERS", "4"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "finlink-api"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv("METRICS_PORT", "9090"),
		},
		TLS: TLSConfig{
			Enabled:      getBoolEnv("TLS_ENABLED", false),
			CertPath:     getEnv("TLS_CERT_PATH", ""),
			KeyPath:      getEnv("TLS_KEY_PATH", ""),
			RedirectHTTP: getBoolEnv("TLS_REDIRECT_HTTP", false),
		},
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for key, raw := range map[string]string{
		"PROVIDER_API_URL": c.Upstream.ProviderURL,
		"LEDGER_API_URL":   c.Upstream.LedgerURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
		}
	}

	switch c.Cache.Backend {
	case CacheMemory, CachePostgres:
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when INSTITUTION_CACHE=redis")
		}
	default:
		return fmt.Errorf("INSTITUTION_CACHE must be one of memory, redis, postgres, got %q", c.Cache.Backend)
	}

	for key, d := range map[string]time.Duration{
		"LOOKUP_TIMEOUT":   c.Engine.LookupTimeout,
		"FETCH_TIMEOUT":    c.Engine.FetchTimeout,
		"MUTATION_TIMEOUT": c.Engine.MutationTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}

	if c.Engine.RefreshInterval < 0 {
		return fmt.Errorf("REFRESH_INTERVAL must not be negative")
	}
	if c.Engine.RefreshInterval > 0 && c.Engine.RefreshWorkers <= 0 {
		return fmt.Errorf("REFRESH_WORKERS must be positive when REFRESH_INTERVAL is set")
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Log.Format)
	}

	if c.TLS.Enabled {
		if c.TLS.CertPath == "" {
			return fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if c.TLS.KeyPath == "" {
			return fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}
	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

func getDurationEnv(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// getListEnv splits a comma-separated variable, dropping empty items.
func getListEnv(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
