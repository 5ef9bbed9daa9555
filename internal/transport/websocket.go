package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/ntclient/internal/protocol"
	"github.com/gorilla/websocket"
)

var ErrSubprotocolRejected = errors.New("transport: server did not accept subprotocol")

// WebSocketDialer dials gorilla/websocket connections.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// ReadLimit bounds one inbound message. Zero leaves it unlimited.
	ReadLimit int64
}

func (d WebSocketDialer) Dial(ctx context.Context, uri, subprotocol string) (Conn, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if subprotocol != "" {
		dialer.Subprotocols = []string{subprotocol}
	}
	ws, resp, err := dialer.DialContext(ctx, uri, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: status=%d: %w", protocol.ErrConnection, uri, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", protocol.ErrConnection, uri, err)
	}
	if subprotocol != "" && ws.Subprotocol() != subprotocol {
		_ = ws.Close()
		return nil, fmt.Errorf("%w: %w: got %q", protocol.ErrConnection, ErrSubprotocolRejected, ws.Subprotocol())
	}
	if d.ReadLimit > 0 {
		ws.SetReadLimit(d.ReadLimit)
	}
	c := &wsConn{ws: ws, writeTimeout: d.WriteTimeout}
	c.open.Store(true)
	return c, nil
}

type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	open      atomic.Bool
	closeOnce sync.Once
}

func (c *wsConn) Send(kind MessageKind, data []byte) error {
	var mt int
	switch kind {
	case KindText:
		mt = websocket.TextMessage
	case KindBinary:
		mt = websocket.BinaryMessage
	default:
		return fmt.Errorf("%w: cannot send %s frame", protocol.ErrInvalidArgument, kind)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !c.open.Load() {
		return fmt.Errorf("%w: connection closed", protocol.ErrConnection)
	}
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.ws.WriteMessage(mt, data); err != nil {
		c.open.Store(false)
		return fmt.Errorf("%w: write %s: %w", protocol.ErrConnection, kind, err)
	}
	return nil
}

func (c *wsConn) Receive() (Message, error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		c.open.Store(false)
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return Message{Kind: KindClose, CloseCode: ce.Code, CloseReason: ce.Text}, nil
		}
		return Message{}, fmt.Errorf("%w: read: %w", protocol.ErrConnection, err)
	}
	switch mt {
	case websocket.TextMessage:
		return Message{Kind: KindText, Data: data}, nil
	case websocket.BinaryMessage:
		return Message{Kind: KindBinary, Data: data}, nil
	default:
		return Message{}, fmt.Errorf("%w: unexpected message type %d", protocol.ErrConnection, mt)
	}
}

// Close sends a normal-closure frame and releases the socket. Only the
// first call has an effect.
func (c *wsConn) Close(reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.open.Store(false)
		c.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), deadline)
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) IsOpen() bool {
	return c.open.Load()
}
