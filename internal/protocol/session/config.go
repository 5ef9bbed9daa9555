package session

import (
	"fmt"
	"time"
)

// BackoffConfig defines connect retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport/session timing.
type Config struct {
	ConnectTimeout     time.Duration
	WriteTimeout       time.Duration
	ProbeInterval      time.Duration
	ProbeTimeout       time.Duration
	MaxConnectAttempts int
	Backoff            BackoffConfig
}

// DefaultConfig returns the NT4 client defaults: a probe every second and a
// session declared dead after five seconds without an echo.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     5 * time.Second,
		WriteTimeout:       5 * time.Second,
		ProbeInterval:      time.Second,
		ProbeTimeout:       5 * time.Second,
		MaxConnectAttempts: 1,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = def.ProbeInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = def.ProbeTimeout
	}
	if c.MaxConnectAttempts <= 0 {
		c.MaxConnectAttempts = def.MaxConnectAttempts
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

func (c Config) Validate() error {
	if c.ProbeTimeout <= c.ProbeInterval {
		return fmt.Errorf("session: probe timeout %v must exceed probe interval %v", c.ProbeTimeout, c.ProbeInterval)
	}
	return nil
}
