package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Server   ServerConfig
	Logging  LoggingConfig
	Database DatabaseConfig
	Twitter  TwitterConfig
	Stream   StreamConfig
	Filter   FilterConfig
	Dispatch DispatchConfig
	Auth     AuthConfig
}

// ServerConfig holds HTTP server runtime parameters for the ops surface.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// DatabaseConfig selects and configures the store backend.
type DatabaseConfig struct {
	Driver                 string
	URL                    string
	InstanceConnectionName string
	User                   string
	Password               string
	Name                   string
	MaxConnections         int
	MigrationsDir          string
}

// TwitterConfig holds provider credentials and endpoints.
type TwitterConfig struct {
	ClientID         string
	BearerToken      string
	APIBaseURL       string
	StreamURL        string
	ActionsPerSecond float64
	ActionsBurst     int
}

// StreamConfig tunes reconnect backoff of the stream consumer.
type StreamConfig struct {
	BackoffUnit  time.Duration
	MaxBackoff   time.Duration
	HealthyReset time.Duration
	IdleTimeout  time.Duration
}

// ReferencedPolicy decides what happens to tweets referencing already hyped content.
type ReferencedPolicy string

const (
	ReferencedPolicyBlock    ReferencedPolicy = "block"
	ReferencedPolicyAdvisory ReferencedPolicy = "advisory"
)

// FilterConfig configures the eligibility filter.
type FilterConfig struct {
	ReferencedPolicy ReferencedPolicy
	Hashtag          string
}

// DispatchConfig configures the postman.
type DispatchConfig struct {
	Interval    time.Duration
	Concurrency int
	ClaimLimit  int
	ClaimLease  time.Duration
}

// AuthConfig holds operator authentication settings.
type AuthConfig struct {
	JWTSecret     string
	AdminPassword string
	TokenDuration time.Duration
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	defaultLogFormat = "json"

	defaultMaxConnections = 20
	defaultMigrationsDir  = "./migrations"

	defaultAPIBaseURL       = "https://api.twitter.com"
	defaultStreamURL        = "https://api.twitter.com/2/tweets/search/stream?tweet.fields=text,referenced_tweets&expansions=author_id"
	defaultActionsPerSecond = 5
	defaultActionsBurst     = 5

	defaultBackoffUnit  = time.Second
	defaultMaxBackoff   = 5 * time.Minute
	defaultHealthyReset = time.Minute
	defaultIdleTimeout  = time.Minute

	defaultHashtag = "#hypetrain"

	defaultDispatchInterval    = 5 * time.Second
	defaultDispatchConcurrency = 8
	defaultClaimLimit          = 100
	defaultClaimLease          = 5 * time.Minute

	defaultTokenDuration = 24 * time.Hour
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided.
func Load() (Config, error) {
	// Cloud Run sets PORT, but allow SERVER_PORT override for local dev
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Database: DatabaseConfig{
			Driver:                 getEnv("STORE_DRIVER", DriverPostgres),
			URL:                    os.Getenv("DATABASE_URL"),
			InstanceConnectionName: os.Getenv("INSTANCE_CONNECTION_NAME"),
			User:                   os.Getenv("DB_USER"),
			Password:               os.Getenv("DB_PASSWORD"),
			Name:                   os.Getenv("DB_NAME"),
			MaxConnections:         defaultMaxConnections,
			MigrationsDir:          getEnv("MIGRATIONS_DIR", defaultMigrationsDir),
		},
		Twitter: TwitterConfig{
			ClientID:         os.Getenv("TWITTER_CLIENT_ID"),
			BearerToken:      os.Getenv("TWITTER_BEARER_TOKEN"),
			APIBaseURL:       strings.TrimRight(getEnv("TWITTER_API_BASE_URL", defaultAPIBaseURL), "/"),
			StreamURL:        getEnv("TWITTER_STREAM_URL", defaultStreamURL),
			ActionsPerSecond: defaultActionsPerSecond,
			ActionsBurst:     defaultActionsBurst,
		},
		Stream: StreamConfig{
			BackoffUnit:  defaultBackoffUnit,
			MaxBackoff:   defaultMaxBackoff,
			HealthyReset: defaultHealthyReset,
			IdleTimeout:  defaultIdleTimeout,
		},
		Filter: FilterConfig{
			ReferencedPolicy: ReferencedPolicyBlock,
			Hashtag:          getEnv("FILTER_HASHTAG", defaultHashtag),
		},
		Dispatch: DispatchConfig{
			Interval:    defaultDispatchInterval,
			Concurrency: defaultDispatchConcurrency,
			ClaimLimit:  defaultClaimLimit,
			ClaimLease:  defaultClaimLease,
		},
		Auth: AuthConfig{
			JWTSecret:     os.Getenv("ADMIN_JWT_SECRET"),
			AdminPassword: os.Getenv("ADMIN_PASSWORD"),
			TokenDuration: defaultTokenDuration,
		},
	}

	durations := []struct {
		key  string
		unit time.Duration
		dst  *time.Duration
	}{
		{"SERVER_READ_TIMEOUT_SECONDS", time.Second, &cfg.Server.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT_SECONDS", time.Second, &cfg.Server.WriteTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT_SECONDS", time.Second, &cfg.Server.ShutdownTimeout},
		{"STREAM_BACKOFF_UNIT_MS", time.Millisecond, &cfg.Stream.BackoffUnit},
		{"STREAM_BACKOFF_MAX_SECONDS", time.Second, &cfg.Stream.MaxBackoff},
		{"STREAM_HEALTHY_RESET_SECONDS", time.Second, &cfg.Stream.HealthyReset},
		{"STREAM_IDLE_TIMEOUT_SECONDS", time.Second, &cfg.Stream.IdleTimeout},
		{"DISPATCH_INTERVAL_SECONDS", time.Second, &cfg.Dispatch.Interval},
		{"DISPATCH_CLAIM_LEASE_SECONDS", time.Second, &cfg.Dispatch.ClaimLease},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		n, err := parseNonNegative(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = time.Duration(n) * d.unit
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"DATABASE_MAX_CONNECTIONS", &cfg.Database.MaxConnections},
		{"TWITTER_ACTIONS_BURST", &cfg.Twitter.ActionsBurst},
		{"DISPATCH_CONCURRENCY", &cfg.Dispatch.Concurrency},
		{"DISPATCH_CLAIM_LIMIT", &cfg.Dispatch.ClaimLimit},
	}
	for _, i := range ints {
		v := os.Getenv(i.key)
		if v == "" {
			continue
		}
		n, err := parsePositive(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", i.key, err)
		}
		*i.dst = n
	}

	if v := os.Getenv("TWITTER_ACTIONS_PER_SECOND"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps <= 0 {
			return Config{}, fmt.Errorf("invalid TWITTER_ACTIONS_PER_SECOND: must be a positive number")
		}
		cfg.Twitter.ActionsPerSecond = rps
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	if v := os.Getenv("FILTER_REFERENCED_POLICY"); v != "" {
		switch ReferencedPolicy(v) {
		case ReferencedPolicyBlock, ReferencedPolicyAdvisory:
			cfg.Filter.ReferencedPolicy = ReferencedPolicy(v)
		default:
			return Config{}, fmt.Errorf("invalid FILTER_REFERENCED_POLICY: must be 'block' or 'advisory'")
		}
	}

	switch cfg.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return Config{}, fmt.Errorf("invalid STORE_DRIVER: must be '%s' or '%s'", DriverPostgres, DriverMemory)
	}

	if cfg.Stream.BackoffUnit == 0 {
		return Config{}, fmt.Errorf("invalid STREAM_BACKOFF_UNIT_MS: must be greater than zero")
	}
	if cfg.Dispatch.Interval == 0 {
		return Config{}, fmt.Errorf("invalid DISPATCH_INTERVAL_SECONDS: must be greater than zero")
	}
	if cfg.Dispatch.ClaimLease < time.Second {
		return Config{}, fmt.Errorf("invalid DISPATCH_CLAIM_LEASE_SECONDS: must be at least one second")
	}

	return cfg, nil
}

// Validate checks the settings required to talk to the provider.
func (c Config) Validate() error {
	var missing []string
	if c.Twitter.ClientID == "" {
		missing = append(missing, "TWITTER_CLIENT_ID")
	}
	if c.Twitter.BearerToken == "" {
		missing = append(missing, "TWITTER_BEARER_TOKEN")
	}
	if c.Database.Driver == DriverPostgres && c.Database.URL == "" && c.Database.InstanceConnectionName == "" {
		missing = append(missing, "DATABASE_URL or INSTANCE_CONNECTION_NAME")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func parseNonNegative(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return n, nil
}

func parsePositive(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
