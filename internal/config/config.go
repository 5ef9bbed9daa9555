// Package config loads the ntclient TOML configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/ntclient/internal/client"
	"github.com/danmuck/ntclient/internal/protocol/schema"
	"github.com/danmuck/ntclient/internal/registry"
	"github.com/google/uuid"
)

var ErrInvalidConfig = errors.New("config: invalid config")

// Config is everything the ntclient driver needs.
type Config struct {
	Client      client.Config
	LogLevel    string
	MetricsAddr string
	Publish     []PublishSpec
	Subscribe   []SubscribeSpec
}

// PublishSpec is a topic published on startup.
type PublishSpec struct {
	Name       string
	Kind       schema.Kind
	Properties map[string]any
}

// SubscribeSpec is a subscription made on startup.
type SubscribeSpec struct {
	Topics  []string
	Options registry.SubscriptionOptions
}

type fileConfig struct {
	Host               string          `toml:"host"`
	Port               int             `toml:"port"`
	ClientName         string          `toml:"client_name"`
	ConnectTimeout     string          `toml:"connect_timeout"`
	ProbeInterval      string          `toml:"probe_interval"`
	ProbeTimeout       string          `toml:"probe_timeout"`
	WriteTimeout       string          `toml:"write_timeout"`
	MaxConnectAttempts int             `toml:"max_connect_attempts"`
	LogLevel           string          `toml:"log_level"`
	MetricsAddr        string          `toml:"metrics_addr"`
	Publish            []publishFile   `toml:"publish"`
	Subscribe          []subscribeFile `toml:"subscribe"`
}

type publishFile struct {
	Name       string         `toml:"name"`
	Type       string         `toml:"type"`
	Properties map[string]any `toml:"properties"`
}

type subscribeFile struct {
	Topics     []string `toml:"topics"`
	Periodic   float64  `toml:"periodic"`
	All        bool     `toml:"all"`
	TopicsOnly bool     `toml:"topics_only"`
	Prefix     bool     `toml:"prefix"`
}

// DefaultClientName returns ntclient-<8 hex chars>.
func DefaultClientName() string {
	return "ntclient-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func Default() Config {
	cfg := Config{
		Client:   client.DefaultConfig(),
		LogLevel: "info",
	}
	cfg.Client.ClientName = DefaultClientName()
	return cfg
}

// Load reads path over Default. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, cfg.Validate()
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load ntclient config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(keys, ", "))
	}

	if meta.IsDefined("host") {
		cfg.Client.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Client.Port = raw.Port
	}
	if meta.IsDefined("client_name") {
		cfg.Client.ClientName = strings.TrimSpace(raw.ClientName)
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.Client.Session.ConnectTimeout},
		{"probe_interval", raw.ProbeInterval, &cfg.Client.Session.ProbeInterval},
		{"probe_timeout", raw.ProbeTimeout, &cfg.Client.Session.ProbeTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Client.Session.WriteTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Client.Session.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	for i, p := range raw.Publish {
		kind, err := schema.ParseType(p.Type)
		if err != nil {
			return Config{}, fmt.Errorf("%w: publish[%d] %q: %w", ErrInvalidConfig, i, p.Name, err)
		}
		cfg.Publish = append(cfg.Publish, PublishSpec{
			Name:       strings.TrimSpace(p.Name),
			Kind:       kind,
			Properties: p.Properties,
		})
	}
	for _, s := range raw.Subscribe {
		cfg.Subscribe = append(cfg.Subscribe, SubscribeSpec{
			Topics: s.Topics,
			Options: registry.SubscriptionOptions{
				Periodic:   s.Periodic,
				All:        s.All,
				TopicsOnly: s.TopicsOnly,
				Prefix:     s.Prefix,
			},
		})
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Client.Host) == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Client.Port <= 0 || c.Client.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Client.Port))
	}
	if strings.TrimSpace(c.Client.ClientName) == "" {
		errs = append(errs, errors.New("client_name is required"))
	}
	s := c.Client.Session
	for name, d := range map[string]time.Duration{
		"connect_timeout": s.ConnectTimeout,
		"probe_interval":  s.ProbeInterval,
		"probe_timeout":   s.ProbeTimeout,
		"write_timeout":   s.WriteTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if s.ProbeTimeout <= s.ProbeInterval {
		errs = append(errs, errors.New("probe_timeout must exceed probe_interval"))
	}
	if s.MaxConnectAttempts < 1 {
		errs = append(errs, errors.New("max_connect_attempts must be at least 1"))
	}

	seen := make(map[string]bool, len(c.Publish))
	for i, p := range c.Publish {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("publish[%d] name is required", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("publish[%d] duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true
	}
	for i, sub := range c.Subscribe {
		if len(sub.Topics) == 0 {
			errs = append(errs, fmt.Errorf("subscribe[%d] topics are required", i))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
