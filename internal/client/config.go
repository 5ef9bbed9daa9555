package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/ntclient/internal/protocol"
	"github.com/danmuck/ntclient/internal/protocol/frame"
	"github.com/danmuck/ntclient/internal/protocol/session"
	"github.com/danmuck/ntclient/internal/transport"
	"github.com/rs/zerolog"
)

// Config identifies the server and tunes the session.
type Config struct {
	Host       string
	Port       int
	ClientName string
	Session    session.Config
	Limits     frame.Limits
}

func DefaultConfig() Config {
	return Config{
		Host:    "localhost",
		Port:    protocol.DefaultPort,
		Session: session.DefaultConfig(),
		Limits:  frame.DefaultLimits(),
	}
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Host) == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = protocol.DefaultPort
	}
	if c.Limits.MaxFrameBytes <= 0 && c.Limits.MaxArrayLen <= 0 {
		c.Limits = frame.DefaultLimits()
	}
	c.Session = c.Session.WithDefaults()
	return c
}

func (c Config) validate() error {
	if strings.TrimSpace(c.ClientName) == "" {
		return fmt.Errorf("%w: client name is required", protocol.ErrInvalidArgument)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrInvalidArgument, err)
	}
	return nil
}

// Option customizes a Client.
type Option func(*Client)

// WithDialer replaces the websocket dialer.
func WithDialer(d transport.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithReporter receives every diagnostic the client reports.
func WithReporter(r protocol.Reporter) Option {
	return func(c *Client) {
		c.reporter = r
	}
}

// WithLogger replaces the logger derived from the global zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithNow sets the clock used for probes and timestamps.
func WithNow(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// State is the session lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
