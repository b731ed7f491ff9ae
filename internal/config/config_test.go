package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const sampleConfig = `
server:
  addr: ":9090"
  request_timeout: 5s
  cors_origins: ["https://hr.example.com"]
database:
  dsn: "postgres://pbac@localhost/pbac?sslmode=disable"
  migrate: true
session:
  ttl: 24h
  store: postgres
policy:
  draft_only_content_edits: true
cache:
  ttl: 30s
  size: 500
ratelimit:
  enabled: true
  backend: local
  auth_rps: 5
  window: 1m
seed:
  dir: ./policies
  watch: true
log:
  level: debug
  format: console
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pbac.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout, "unset fields keep defaults")
	assert.Equal(t, []string{"https://hr.example.com"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Database.Migrate)
	assert.Equal(t, 24*time.Hour, cfg.Session.SessionTTL)
	assert.True(t, cfg.Policy.DraftOnlyContentEdits)
	assert.Equal(t, 30*time.Second, cfg.Cache.CacheTTL)
	assert.Equal(t, 500, cfg.Cache.CacheSize)
	assert.True(t, cfg.Cache.PublishDecisions)
	assert.Equal(t, 5, cfg.RateLimit.AuthRPS)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.Equal(t, "./policies", cfg.Seed.Dir)
	assert.Equal(t, 500*time.Millisecond, cfg.Seed.Debounce)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [not a map"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "session:\n  store: memory\nlog:\n  level: loud\n"))
	assert.ErrorContains(t, err, "invalid log level")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PBAC_SESSION_STORE", "memory")
	t.Setenv("PBAC_SERVER_ADDR", ":7000")
	t.Setenv("PBAC_CACHE_TTL", "1m")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Session.Store)
	assert.Equal(t, time.Minute, cfg.Cache.CacheTTL)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PBAC_CORS_ORIGINS":          "https://a.example, ,https://b.example",
		"PBAC_SESSION_COOKIE_SECURE": "true",
		"PBAC_POLICY_DRAFT_ONLY":     "1",
		"PBAC_RATELIMIT_BACKEND":     "redis",
		"PBAC_SESSION_TTL":           "2h",
		"PBAC_REDIS_ADDR":            "localhost:6379",
		"PBAC_TRUST_FORWARDED_FOR":   "true",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Session.CookieSecure)
	assert.True(t, cfg.Policy.DraftOnlyContentEdits)
	assert.Equal(t, "redis", cfg.RateLimit.Backend)
	assert.Equal(t, 2*time.Hour, cfg.Session.SessionTTL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Server.TrustForwardedFor)
	assert.False(t, Default().Server.TrustForwardedFor)

	env["PBAC_SEED_WATCH"] = "maybe"
	assert.ErrorContains(t, Default().applyEnv(lookup), "PBAC_SEED_WATCH")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"memory store", func(c *Config) { c.Session.Store = "memory" }, ""},
		{"postgres needs dsn", func(c *Config) {}, "requires database.dsn"},
		{"unknown store", func(c *Config) { c.Session.Store = "etcd" }, "invalid session.store"},
		{"redis store needs addr", func(c *Config) { c.Session.Store = "redis" }, "requires redis.addr"},
		{"redis limiter needs addr", func(c *Config) {
			c.Session.Store = "memory"
			c.RateLimit.Backend = "redis"
		}, "ratelimit.backend redis"},
		{"ttl", func(c *Config) {
			c.Session.Store = "memory"
			c.Session.SessionTTL = 0
		}, "session.ttl"},
		{"watch without dir", func(c *Config) {
			c.Session.Store = "memory"
			c.Seed.Watch = true
		}, "seed.watch"},
		{"audit file path", func(c *Config) {
			c.Session.Store = "memory"
			c.Audit.Type = "file"
		}, "audit"},
		{"nil ratelimit gets defaults", func(c *Config) {
			c.Session.Store = "memory"
			c.RateLimit = nil
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, level, err := NewLogger(LogConfig{Level: "warn", Format: "console"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.Equal(t, zapcore.WarnLevel, level.Level())

	_, _, err = NewLogger(LogConfig{Level: "verbose"})
	assert.Error(t, err)
}

func TestWatcher_AppliesLogLevel(t *testing.T) {
	path := writeConfig(t, "session:\n  store: memory\nlog:\n  level: info\n")
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)

	w, err := NewWatcher(path, level, nil)
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond

	reloaded := make(chan *Config, 1)
	w.OnReload(func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte("session:\n  store: memory\nlog:\n  level: debug\n"), 0o600))

	select {
	case c := <-reloaded:
		assert.Equal(t, "debug", c.Log.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
	assert.Equal(t, zapcore.DebugLevel, level.Level())
}

func TestWatcher_KeepsLevelOnBadReload(t *testing.T) {
	path := writeConfig(t, "session:\n  store: memory\n")
	level := zap.NewAtomicLevelAt(zapcore.WarnLevel)

	w, err := NewWatcher(path, level, nil)
	require.NoError(t, err)
	defer w.watcher.Close()

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: [\n"), 0o600))
	w.reload()
	assert.Equal(t, zapcore.WarnLevel, level.Level())
}
