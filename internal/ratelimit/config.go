package ratelimit

import (
	"fmt"
	"time"
)

// Config holds rate limiter configuration
type Config struct {
	// Enabled turns rate limiting on
	Enabled bool `yaml:"enabled"`

	// Backend selects the limiter: local or redis
	Backend string `yaml:"backend"`

	// AuthRPS is the number of login attempts allowed per Window and key
	AuthRPS int `yaml:"auth_rps"`

	// Burst is the bucket capacity. Zero means AuthRPS.
	Burst int `yaml:"burst"`

	// Window is the time window AuthRPS refers to
	Window time.Duration `yaml:"window"`

	// KeyPrefix is the Redis key prefix
	KeyPrefix string `yaml:"key_prefix"`

	// FailOpen determines if requests should be allowed when Redis is unavailable
	FailOpen bool `yaml:"fail_open"`

	// IdleTTL is how long the local limiter keeps an unused bucket
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// DefaultConfig returns default rate limiter configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Backend:   "local",
		AuthRPS:   10,
		Burst:     20,
		Window:    time.Minute,
		KeyPrefix: "ratelimit",
		FailOpen:  true, // Fail open by default for availability
		IdleTTL:   5 * time.Minute,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Backend != "local" && c.Backend != "redis" {
		return fmt.Errorf("invalid rate limit backend: %s (must be local or redis)", c.Backend)
	}
	if c.AuthRPS <= 0 {
		return fmt.Errorf("auth_rps must be positive")
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	return nil
}

// RefillRate returns tokens added per second
func (c *Config) RefillRate() float64 {
	window := c.Window.Seconds()
	if window <= 0 {
		window = 1.0
	}
	return float64(c.AuthRPS) / window
}

// Capacity returns the bucket size
func (c *Config) Capacity() int {
	if c.Burst > 0 {
		return c.Burst
	}
	return c.AuthRPS
}
