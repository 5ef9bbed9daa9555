package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/ntclient/internal/clock"
	"github.com/danmuck/ntclient/internal/observability"
	"github.com/danmuck/ntclient/internal/protocol"
	"github.com/danmuck/ntclient/internal/protocol/session"
	"github.com/danmuck/ntclient/internal/registry"
	"github.com/danmuck/ntclient/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyConnected = errors.New("client: already connected")
	ErrNotConnected     = errors.New("client: not connected")
)

// Client is an NT4 client. All methods are safe for concurrent use.
type Client struct {
	cfg      Config
	uri      string
	dialer   transport.Dialer
	reporter protocol.Reporter
	log      zerolog.Logger
	now      func() time.Time
	rng      *rand.Rand

	topics *registry.Topics
	subs   *registry.Subscriptions
	clock  *clock.Synchronizer
	outbox *session.PublishOutbox

	connectMu sync.Mutex
	sendMu    sync.Mutex

	mu    sync.Mutex
	state State
	cur   *run
	last  *run
}

// run is one connected session.
type run struct {
	conn   transport.Conn
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	err    error

	// reporting counts Reporter calls in flight for this session.
	reporting atomic.Int32
}

func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	uri, err := transport.URL(cfg.Host, cfg.Port, cfg.ClientName)
	if err != nil {
		return nil, err
	}
	c := &Client{
		cfg: cfg,
		uri: uri,
		dialer: transport.WebSocketDialer{
			HandshakeTimeout: cfg.Session.ConnectTimeout,
			WriteTimeout:     cfg.Session.WriteTimeout,
			ReadLimit:        int64(cfg.Limits.MaxFrameBytes),
		},
		log:    log.Logger.With().Str("client", cfg.ClientName).Logger(),
		now:    time.Now,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		topics: registry.NewTopics(),
		subs:   registry.NewSubscriptions(),
		outbox: session.NewPublishOutbox(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.clock = clock.New(c.now)
	return c, nil
}

// URI returns the connection target.
func (c *Client) URI() string {
	return c.uri
}

// Connect dials the server, replays local publishes and subscriptions, and
// starts the dispatch and liveness loops. On failure the client stays
// disconnected.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		c.report("connect", err)
		return err
	}

	if n := c.topics.ClearServerTopics(); n > 0 {
		c.log.Debug().Int("topics", n).Msg("client.Client.Connect cleared stale server topics")
	}
	c.clock.Reset()

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{conn: conn, cancel: cancel, done: make(chan struct{})}
	r.wg.Add(2)
	c.mu.Lock()
	c.cur = r
	c.last = r
	c.state = StateConnected
	c.mu.Unlock()
	observability.SetConnected(c.cfg.ClientName, true)
	c.log.Info().Str("uri", c.uri).Msg("client.Client.Connect connected")

	c.replay()
	c.sendProbe(r)

	go c.dispatchLoop(runCtx, r)
	go c.livenessLoop(runCtx, r)
	return nil
}

func (c *Client) dial(ctx context.Context) (transport.Conn, error) {
	var attempt int
	for {
		attempt++
		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Session.ConnectTimeout)
		conn, err := c.dialer.Dial(dialCtx, c.uri, protocol.SubProtocol)
		cancel()
		observability.RecordConnectAttempt(c.cfg.ClientName, err == nil)
		if err == nil {
			return conn, nil
		}
		c.log.Warn().Int("attempt", attempt).Str("uri", c.uri).Err(err).Msg("client.Client.dial failed")
		if attempt >= c.cfg.Session.MaxConnectAttempts {
			return nil, err
		}
		if err := session.SleepBackoff(ctx, c.cfg.Session.Backoff, attempt, c.rng); err != nil {
			return nil, fmt.Errorf("%w: %w", protocol.ErrConnection, err)
		}
	}
}

// Disconnect closes the transport and waits for both loops to exit. Called
// while a Reporter callback is running, it ends the session without waiting;
// the loops exit once the callback returns.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	r := c.cur
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	c.endRun(r, nil)
	if r.reporting.Load() > 0 {
		return nil
	}
	r.wg.Wait()
	return nil
}

// IsConnected reports live transport state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	r := c.cur
	state := c.state
	c.mu.Unlock()
	return state == StateConnected && r != nil && r.conn.IsOpen()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the most recent session ends. Before the first
// Connect it is already closed.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.last.done
}

// Err returns why the most recent session ended. It is nil while the
// session runs and after a requested Disconnect.
func (c *Client) Err() error {
	c.mu.Lock()
	r := c.last
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// endRun tears down r once. A nil cause means the application asked for it.
func (c *Client) endRun(r *run, cause error) {
	r.once.Do(func() {
		c.mu.Lock()
		if c.cur == r {
			c.cur = nil
			c.state = StateDisconnected
		}
		c.mu.Unlock()

		r.err = cause
		r.cancel()
		reason := "client disconnect"
		if cause != nil {
			reason = cause.Error()
		}
		_ = r.conn.Close(reason)
		observability.SetConnected(c.cfg.ClientName, false)

		if cause != nil {
			c.log.Warn().Err(cause).Msg("client.Client session lost")
			c.report("session", cause)
		} else {
			c.log.Info().Msg("client.Client.Disconnect closed")
		}
		close(r.done)
	})
}

// send is the only write path onto the transport.
func (c *Client) send(kind transport.MessageKind, payload []byte) error {
	c.mu.Lock()
	r := c.cur
	c.mu.Unlock()
	if r == nil {
		return ErrNotConnected
	}
	return c.sendOn(r, kind, payload)
}

func (c *Client) sendOn(r *run, kind transport.MessageKind, payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := r.conn.Send(kind, payload); err != nil {
		c.endRun(r, err)
		return err
	}
	return nil
}
