package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/ntclient/internal/protocol"
	"github.com/danmuck/ntclient/internal/protocol/frame"
	"github.com/danmuck/ntclient/internal/protocol/schema"
	"github.com/danmuck/ntclient/internal/registry"
	"github.com/danmuck/ntclient/internal/testutil/testlog"
	"github.com/danmuck/ntclient/internal/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type diagnosticLog struct {
	mu    sync.Mutex
	items []protocol.Diagnostic
}

func (l *diagnosticLog) Report(d protocol.Diagnostic) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, d)
}

func (l *diagnosticLog) All() []protocol.Diagnostic {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]protocol.Diagnostic(nil), l.items...)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.ClientName = "client-test"
	cfg.Session.ProbeInterval = time.Hour
	cfg.Session.ProbeTimeout = 2 * time.Hour
	return cfg
}

func newTestClient(t *testing.T, cfg Config, opts ...Option) (*Client, *transport.PipeDialer) {
	t.Helper()
	dialer := transport.NewPipeDialer()
	c, err := New(cfg, append([]Option{WithDialer(dialer)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Disconnect() })
	return c, dialer
}

// connect runs Connect and returns the server end of the pipe.
func connect(t *testing.T, c *Client, d *transport.PipeDialer) transport.Conn {
	t.Helper()
	require.NoError(t, c.Connect(context.Background()))
	server := <-d.Accept
	return server
}

func receive(t *testing.T, conn transport.Conn) transport.Message {
	t.Helper()
	ch := make(chan transport.Message, 1)
	errCh := make(chan error, 1)
	go func() {
		msg, err := conn.Receive()
		if err != nil {
			errCh <- err
			return
		}
		ch <- msg
	}()
	select {
	case msg := <-ch:
		return msg
	case err := <-errCh:
		t.Fatalf("receive: %v", err)
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for message")
	}
	return transport.Message{}
}

// receiveText skips binary probes and returns the next control message.
func receiveText(t *testing.T, conn transport.Conn) map[string]any {
	t.Helper()
	for {
		msg := receive(t, conn)
		if msg.Kind != transport.KindText {
			continue
		}
		var batch []map[string]any
		require.NoError(t, json.Unmarshal(msg.Data, &batch))
		require.Len(t, batch, 1)
		return batch[0]
	}
}

func receiveValueFrame(t *testing.T, conn transport.Conn) frame.Frame {
	t.Helper()
	for {
		msg := receive(t, conn)
		if msg.Kind != transport.KindBinary {
			continue
		}
		f, err := frame.DecodeFrame(msg.Data, frame.DefaultLimits())
		require.NoError(t, err)
		if f.IsTimeSync() {
			continue
		}
		return f
	}
}

func sendText(t *testing.T, conn transport.Conn, body string) {
	t.Helper()
	require.NoError(t, conn.Send(transport.KindText, []byte(body)))
}

func sendValue(t *testing.T, conn transport.Conn, id, ts int64, v schema.Value) {
	t.Helper()
	tag, err := schema.TagOf(v.Kind())
	require.NoError(t, err)
	payload, err := frame.EncodeValue(id, ts, tag, v)
	require.NoError(t, err)
	require.NoError(t, conn.Send(transport.KindBinary, payload))
}

func TestNewValidatesConfig(t *testing.T) {
	testlog.Start(t)
	_, err := New(DefaultConfig())
	assert.ErrorIs(t, err, protocol.ErrInvalidArgument)

	cfg := DefaultConfig()
	cfg.ClientName = "x"
	cfg.Session.ProbeInterval = 10 * time.Second
	cfg.Session.ProbeTimeout = time.Second
	_, err = New(cfg)
	assert.ErrorIs(t, err, protocol.ErrInvalidArgument)

	cfg = DefaultConfig()
	cfg.ClientName = "robot"
	c, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:5810/nt/robot", c.URI())
	assert.Equal(t, StateDisconnected, c.State())
	assert.False(t, c.IsConnected())
	select {
	case <-c.Done():
	default:
		t.Fatalf("Done should be closed before the first Connect")
	}
}

func TestConnectSendsInitialProbe(t *testing.T) {
	testlog.Start(t)
	c, d := newTestClient(t, quietConfig())
	server := connect(t, c, d)
	assert.True(t, c.IsConnected())
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, []string{"ws://localhost:5810/nt/client-test"}, d.Dials())

	msg := receive(t, server)
	require.Equal(t, transport.KindBinary, msg.Kind)
	f, err := frame.DecodeFrame(msg.Data, frame.DefaultLimits())
	require.NoError(t, err)
	assert.True(t, f.IsTimeSync())
	assert.Equal(t, int64(0), f.Timestamp)

	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnected)
}

func TestConnectFailureStaysDisconnected(t *testing.T) {
	testlog.Start(t)
	cfg := quietConfig()
	cfg.Session.MaxConnectAttempts = 3
	cfg.Session.Backoff.InitialDelay = time.Millisecond
	cfg.Session.Backoff.MaxDelay = time.Millisecond
	diags := &diagnosticLog{}
	c, d := newTestClient(t, cfg, WithReporter(diags))
	d.FailWith(errors.New("refused"))

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, protocol.ErrConnection)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Len(t, d.Dials(), 3)
	require.Len(t, diags.All(), 1)
	assert.Equal(t, protocol.ErrConnection, diags.All()[0].Kind())

	d.FailWith(nil)
	connect(t, c, d)
	assert.True(t, c.IsConnected())
}

func TestPublishThenUnpublish(t *testing.T) {
	testlog.Start(t)
	c, d := newTestClient(t, quietConfig())
	server := connect(t, c, d)

	pubuid, err := c.Publish("TestTopic", schema.KindInt, nil)
	require.NoError(t, err)
	require.NoError(t, c.Unpublish("TestTopic"))

	_, ok := c.ClientTopic("TestTopic")
	assert.False(t, ok)

	pub := receiveText(t, server)
	assert.Equal(t, "publish", pub["method"])
	params := pub["params"].(map[string]any)
	assert.Equal(t, "TestTopic", params["name"])
	assert.Equal(t, "int", params["type"])
	assert.Equal(t, float64(pubuid), params["pubuid"])
	assert.Equal(t, map[string]any{}, params["properties"])

	unpub := receiveText(t, server)
	assert.Equal(t, "unpublish", unpub["method"])
	assert.Equal(t, float64(pubuid), unpub["params"].(map[string]any)["pubuid"])
	assert.Empty(t, c.PendingPublishes())
}

func TestUnpublishBeforeQueueLeavesNoPending(t *testing.T) {
	testlog.Start(t)
	c, _ := newTestClient(t, quietConfig())

	ct, err := c.topics.AddClientTopic("/racy", schema.KindInt, nil)
	require.NoError(t, err)
	require.NoError(t, c.Unpublish("/racy"))

	assert.False(t, c.queuePublish(ct))
	assert.Empty(t, c.PendingPublishes())

	live, err := c.topics.AddClientTopic("/kept", schema.KindInt, nil)
	require.NoError(t, err)
	assert.True(t, c.queuePublish(live))
	require.Len(t, c.PendingPublishes(), 1)
	assert.Equal(t, live.PubUID, c.PendingPublishes()[0].PubUID)
}

func TestWithLoggerReceivesSessionLogs(t *testing.T) {
	testlog.Start(t)
	out := &lockedBuffer{}
	c, d := newTestClient(t, quietConfig(), WithLogger(zerolog.New(out).With().Str("app", "dash").Logger()))
	connect(t, c, d)

	logs := out.String()
	assert.Contains(t, logs, "client.Client.Connect connected")
	assert.Contains(t, logs, `"app":"dash"`)
}

func TestPublishRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	diags := &diagnosticLog{}
	c, _ := newTestClient(t, quietConfig(), WithReporter(diags))

	_, err := c.Publish("/x", schema.Kind(42), nil)
	assert.ErrorIs(t, err, protocol.ErrUnknownType)
	_, err = c.Publish("", schema.KindInt, nil)
	assert.ErrorIs(t, err, protocol.ErrInvalidArgument)

	err = c.Unpublish("/missing")
	assert.ErrorIs(t, err, protocol.ErrUnknownReference)
	require.Len(t, diags.All(), 1)
	assert.Equal(t, protocol.ErrUnknownReference, diags.All()[0].Kind())
}

func TestAnnounceThenValueFrame(t *testing.T) {
	testlog.Start(t)
	c, d := newTestClient(t, quietConfig())
	server := connect(t, c, d)

	_, err := c.Publish("TestTopic", schema.KindInt, nil)
	require.NoError(t, err)
	sendText(t, server, `[{"method":"announce","params":{"name":"TestTopic","id":7,"type":"int","properties":{}}}]`)
	sendText(t, server, `[{"method":"announce","params":{"name":"Other","id":8,"type":"int","properties":{}}}]`)
	sendValue(t, server, 7, 1000000, schema.Int(42))

	require.Eventually(t, func() bool {
		_, ok := c.CurrentValue("TestTopic")
		return ok
	}, waitFor, 5*time.Millisecond)
	v, _ := c.CurrentValue("TestTopic")
	n, ok := v.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(42), n)

	_, ok = c.CurrentValue("Other")
	assert.False(t, ok)
	st := c.ServerTopics()
	require.Len(t, st, 2)
	assert.Equal(t, int64(1000000), st[0].ValueTimestamp)
}

func TestAnnounceWithPubUIDAcknowledgesPublish(t *testing.T) {
	testlog.Start(t)
	c, d := newTestClient(t, quietConfig())
	server := connect(t, c, d)

	pubuid, err := c.Publish("/mine", schema.KindDouble, map[string]any{"retained": true})
	require.NoError(t, err)
	require.Len(t, c.PendingPublishes(), 1)
	assert.Equal(t, 1, c.PendingPublishes()[0].Attempts)

	body, err := json.Marshal([]map[string]any{{
		"method": "announce",
		"params": map[string]any{"name": "/mine", "id": 3, "type": "double", "pubuid": pubuid, "properties": map[string]any{"retained": true}},
	}})
	require.NoError(t, err)
	sendText(t, server, string(body))

	require.Eventually(t, func() bool { return len(c.PendingPublishes()) == 0 }, waitFor, 5*time.Millisecond)
	ct, ok := c.ClientTopic("/mine")
	require.True(t, ok)
	assert.True(t, ct.Announced)
	assert.Equal(t, int64(3), ct.ServerID)
}

func TestSubscribeUnsubscribeTwice(t *testing.T) {
	testlog.Start(t)
	diags := &diagnosticLog{}
	c, d := newTestClient(t, quietConfig(), WithReporter(diags))
	server := connect(t, c, d)

	subuid, err := c.Subscribe([]string{"/datatable/x"}, registry.DefaultSubscriptionOptions())
	require.NoError(t, err)
	sub := receiveText(t, server)
	assert.Equal(t, "subscribe", sub["method"])
	params := sub["params"].(map[string]any)
	assert.Equal(t, []any{"/datatable/x"}, params["topics"])
	assert.Equal(t, float64(subuid), params["subuid"])
	assert.Equal(t, 0.1, params["options"].(map[string]any)["periodic"])

	require.NoError(t, c.Unsubscribe(subuid))
	assert.Empty(t, c.Subscriptions())
	unsub := receiveText(t, server)
	assert.Equal(t, "unsubscribe", unsub["method"])
	assert.Equal(t, float64(subuid), unsub["params"].(map[string]any)["subuid"])

	err = c.Unsubscribe(subuid)
	assert.ErrorIs(t, err, protocol.ErrUnknownReference)
	require.Len(t, diags.All(), 1)
	assert.Equal(t, protocol.ErrUnknownReference, diags.All()[0].Kind())

	// The next control message is the marker, so the failed call sent nothing.
	_, err = c.Subscribe([]string{"/marker"}, registry.DefaultSubscriptionOptions())
	require.NoError(t, err)
	next := receiveText(t, server)
	assert.Equal(t, "subscribe", next["method"])
}

func TestMalformedBatchElementReportedAfterValidAnnounce(t *testing.T) {
	testlog.Start(t)
	var mu sync.Mutex
	var topicsAtReport []int
	var kinds []error
	var c *Client
	reporter := protocol.ReporterFunc(func(d protocol.Diagnostic) {
		mu.Lock()
		defer mu.Unlock()
		topicsAtReport = append(topicsAtReport, len(c.ServerTopics()))
		kinds = append(kinds, d.Kind())
	})
	c, d := newTestClient(t, quietConfig(), WithReporter(reporter))
	server := connect(t, c, d)

	sendText(t, server, `[{"method":"announce","params":{"name":"/a","id":1,"type":"double","properties":{}}},{"method":"announce"}]`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) == 1
	}, waitFor, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []error{protocol.ErrMalformedMessage}, kinds)
	assert.Equal(t, []int{1}, topicsAtReport)
	_, ok := c.topics.FindServerTopicByName("/a")
	assert.True(t, ok)
}

func TestMalformedTupleLeavesStateUnchanged(t *testing.T) {
	testlog.Start(t)
	diags := &diagnosticLog{}
	c, d := newTestClient(t, quietConfig(), WithReporter(diags))
	server := connect(t, c, d)

	sendText(t, server, `[{"method":"announce","params":{"name":"/a","id":7,"type":"int","properties":{}}}]`)
	require.Eventually(t, func() bool { return len(c.ServerTopics()) == 1 }, waitFor, 5*time.Millisecond)

	// fixarray(3) [7, 1000000, 2]
	short := []byte{0x93, 0x07, 0xce, 0x00, 0x0f, 0x42, 0x40, 0x02}
	require.NoError(t, server.Send(transport.KindBinary, short))

	require.Eventually(t, func() bool { return len(diags.All()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, protocol.ErrMalformedFrame, diags.All()[0].Kind())
	_, ok := c.CurrentValue("/a")
	assert.False(t, ok)
	assert.True(t, c.IsConnected())
}

func TestValueForUnknownTopicIsReported(t *testing.T) {
	testlog.Start(t)
	diags := &diagnosticLog{}
	c, d := newTestClient(t, quietConfig(), WithReporter(diags))
	server := connect(t, c, d)

	sendValue(t, server, 99, 10, schema.Double(1))
	require.Eventually(t, func() bool { return len(diags.All()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, protocol.ErrUnknownReference, diags.All()[0].Kind())
	assert.True(t, c.IsConnected())
}
