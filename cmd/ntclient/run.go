package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/ntclient/internal/client"
	"github.com/danmuck/ntclient/internal/config"
	"github.com/danmuck/ntclient/internal/logging"
	"github.com/danmuck/ntclient/internal/protocol/schema"
	"github.com/danmuck/ntclient/internal/registry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultStatusInterval = 2 * time.Second

type flags struct {
	ConfigPath     string
	Host           string
	Port           int
	Name           string
	LogLevel       string
	MetricsAddr    string
	Publish        []string
	Subscribe      []string
	StatusInterval time.Duration

	set func(name string) bool
}

func (f *flags) isSet(name string) bool {
	return f.set != nil && f.set(name)
}

// resolveConfig loads the config file and applies command line overrides.
func resolveConfig(f *flags) (config.Config, error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if f.isSet("host") {
		cfg.Client.Host = strings.TrimSpace(f.Host)
	}
	if f.isSet("port") {
		cfg.Client.Port = f.Port
	}
	if f.isSet("name") {
		cfg.Client.ClientName = strings.TrimSpace(f.Name)
	}
	if f.isSet("log-level") {
		cfg.LogLevel = f.LogLevel
	}
	if f.isSet("metrics-addr") {
		cfg.MetricsAddr = f.MetricsAddr
	}
	for _, raw := range f.Publish {
		spec, err := parsePublishFlag(raw)
		if err != nil {
			return config.Config{}, err
		}
		cfg.Publish = append(cfg.Publish, spec)
	}
	for _, raw := range f.Subscribe {
		topic := strings.TrimSpace(raw)
		cfg.Subscribe = append(cfg.Subscribe, config.SubscribeSpec{
			Topics:  []string{topic},
			Options: registry.SubscriptionOptions{Prefix: strings.HasSuffix(topic, "/")},
		})
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// parsePublishFlag parses name:type. The type is split at the last colon so
// topic names may contain colons.
func parsePublishFlag(raw string) (config.PublishSpec, error) {
	idx := strings.LastIndex(raw, ":")
	if idx <= 0 || idx == len(raw)-1 {
		return config.PublishSpec{}, fmt.Errorf("publish %q: want name:type", raw)
	}
	kind, err := schema.ParseType(raw[idx+1:])
	if err != nil {
		return config.PublishSpec{}, fmt.Errorf("publish %q: %w", raw, err)
	}
	return config.PublishSpec{Name: strings.TrimSpace(raw[:idx]), Kind: kind}, nil
}

// clientLogger tags base with the client name and server address.
func clientLogger(base zerolog.Logger, cfg client.Config) zerolog.Logger {
	return base.With().
		Str("client", cfg.ClientName).
		Str("server", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))).
		Logger()
}

func run(ctx context.Context, f *flags) error {
	cfg, err := resolveConfig(f)
	if err != nil {
		return err
	}
	if cfg.LogLevel != "" && !logging.SetLevel(cfg.LogLevel) {
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr)
	}

	c, err := client.New(cfg.Client, client.WithLogger(clientLogger(log.Logger, cfg.Client)))
	if err != nil {
		return err
	}
	for _, p := range cfg.Publish {
		pubuid, err := c.Publish(p.Name, p.Kind, p.Properties)
		if err != nil {
			return err
		}
		log.Info().Str("topic", p.Name).Str("type", p.Kind.String()).Int64("pubuid", pubuid).Msg("ntclient publish")
	}
	for _, s := range cfg.Subscribe {
		subuid, err := c.Subscribe(s.Topics, s.Options)
		if err != nil {
			return err
		}
		log.Info().Strs("topics", s.Topics).Int64("subuid", subuid).Msg("ntclient subscribe")
	}

	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = c.Disconnect() }()

	interval := f.StatusInterval
	if interval <= 0 {
		interval = defaultStatusInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("ntclient shutdown")
			return nil
		case <-c.Done():
			return fmt.Errorf("connection lost: %w", c.Err())
		case <-ticker.C:
			printStatus(c)
		}
	}
}

func printStatus(c *client.Client) {
	log.Info().
		Str("state", c.State().String()).
		Bool("connected", c.IsConnected()).
		Bool("synchronized", c.Synchronized()).
		Int64("rtt_us", c.ClockOffset()).
		Int("pending_publishes", len(c.PendingPublishes())).
		Msg("ntclient status")
	for _, t := range c.ServerTopics() {
		if t.Value.IsZero() {
			continue
		}
		log.Info().Str("topic", t.Name).Str("value", t.Value.String()).Int64("ts", t.ValueTimestamp).Msg("ntclient value")
	}
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("ntclient metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("ntclient metrics server failed")
	}
}
