// Package config loads the server configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hrdesk/pbac/internal/audit"
	"github.com/hrdesk/pbac/internal/auth"
	"github.com/hrdesk/pbac/internal/engine"
	"github.com/hrdesk/pbac/internal/policy"
	"github.com/hrdesk/pbac/internal/ratelimit"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "PBAC_"

// Config is the root configuration
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Database  DatabaseConfig       `yaml:"database"`
	Redis     RedisConfig          `yaml:"redis"`
	Session   auth.Config          `yaml:"session"`
	Policy    policy.ServiceConfig `yaml:"policy"`
	Cache     engine.Config        `yaml:"cache"`
	Audit     audit.Config         `yaml:"audit"`
	RateLimit *ratelimit.Config    `yaml:"ratelimit"`
	Seed      SeedConfig           `yaml:"seed"`
	Log       LogConfig            `yaml:"log"`
}

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	// Addr is the listen address
	Addr string `yaml:"addr"`

	// RequestTimeout bounds the handling of a single request
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// CORSOrigins lists allowed origins. Empty disables CORS headers.
	CORSOrigins []string `yaml:"cors_origins"`

	// TrustForwardedFor takes the client address from X-Forwarded-For.
	// Enable only behind a proxy that sets the header itself.
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`
}

// DatabaseConfig holds the PostgreSQL settings
type DatabaseConfig struct {
	// DSN is a lib/pq connection string. Empty selects the in-memory stores.
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// Migrate applies pending migrations on startup
	Migrate bool `yaml:"migrate"`
}

// RedisConfig holds the Redis connection used by sessions and rate limiting
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SeedConfig controls loading of policy bundles from disk
type SeedConfig struct {
	// Dir holds *.yaml bundles. Empty disables seeding.
	Dir string `yaml:"dir"`

	// Watch re-applies bundles when files in Dir change
	Watch bool `yaml:"watch"`

	// Debounce coalesces bursts of file events
	Debounce time.Duration `yaml:"debounce"`
}

// LogConfig controls the zap logger
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `yaml:"level"`

	// Format is json or console
	Format string `yaml:"format"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Session:   auth.DefaultConfig(),
		Cache:     engine.DefaultConfig(),
		Audit:     audit.DefaultConfig(),
		RateLimit: ratelimit.DefaultConfig(),
		Seed: SeedConfig{
			Debounce: 500 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path over the defaults, then applies PBAC_* overrides. An empty
// path yields the defaults with overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Session.Store {
	case "postgres", "redis", "memory":
	default:
		return fmt.Errorf("invalid session.store: %s (must be postgres, redis or memory)", c.Session.Store)
	}
	if c.Session.Store == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("session.store postgres requires database.dsn")
	}
	if c.Session.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	if c.Session.Store == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("session.store redis requires redis.addr")
	}
	if c.RateLimit == nil {
		c.RateLimit = ratelimit.DefaultConfig()
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("ratelimit: %w", err)
	}
	if c.RateLimit.Enabled && c.RateLimit.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("ratelimit.backend redis requires redis.addr")
	}
	if err := c.Audit.Validate(); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if c.Seed.Watch && c.Seed.Dir == "" {
		return fmt.Errorf("seed.watch requires seed.dir")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides the settings operators most often change per deployment
func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}
	duration := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}

	str("SERVER_ADDR", &c.Server.Addr)
	str("DATABASE_DSN", &c.Database.DSN)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("SESSION_STORE", &c.Session.Store)
	str("SEED_DIR", &c.Seed.Dir)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup(EnvPrefix + "CORS_ORIGINS"); ok {
		c.Server.CORSOrigins = splitList(v)
	}
	if c.RateLimit == nil {
		c.RateLimit = ratelimit.DefaultConfig()
	}
	str("RATELIMIT_BACKEND", &c.RateLimit.Backend)

	for name, dst := range map[string]*bool{
		"DATABASE_MIGRATE":      &c.Database.Migrate,
		"TRUST_FORWARDED_FOR":   &c.Server.TrustForwardedFor,
		"SESSION_COOKIE_SECURE": &c.Session.CookieSecure,
		"POLICY_DRAFT_ONLY":     &c.Policy.DraftOnlyContentEdits,
		"AUDIT_ENABLED":         &c.Audit.Enabled,
		"RATELIMIT_ENABLED":     &c.RateLimit.Enabled,
		"SEED_WATCH":            &c.Seed.Watch,
	} {
		if err := boolean(name, dst); err != nil {
			return err
		}
	}
	for name, dst := range map[string]*time.Duration{
		"SESSION_TTL": &c.Session.SessionTTL,
		"CACHE_TTL":   &c.Cache.CacheTTL,
	} {
		if err := duration(name, dst); err != nil {
			return err
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
