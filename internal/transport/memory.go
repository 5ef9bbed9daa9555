package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/danmuck/ntclient/internal/protocol"
	"github.com/gorilla/websocket"
)

const pipeBuffer = 64

// Pipe returns two connected in-memory ends. Closing one end delivers a
// KindClose message to the other after any buffered frames.
func Pipe() (Conn, Conn) {
	ab := make(chan Message, pipeBuffer)
	ba := make(chan Message, pipeBuffer)
	a := &memConn{in: ba, out: ab, done: make(chan struct{})}
	b := &memConn{in: ab, out: ba, done: make(chan struct{})}
	a.peer, b.peer = b, a
	a.open.Store(true)
	b.open.Store(true)
	return a, b
}

type memConn struct {
	in   <-chan Message
	out  chan<- Message
	peer *memConn

	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	reason    string
	open      atomic.Bool
}

func (c *memConn) Send(kind MessageKind, data []byte) error {
	if kind != KindText && kind != KindBinary {
		return fmt.Errorf("%w: cannot send %s frame", protocol.ErrInvalidArgument, kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open.Load() {
		return fmt.Errorf("%w: connection closed", protocol.ErrConnection)
	}
	msg := Message{Kind: kind, Data: append([]byte(nil), data...)}
	select {
	case c.out <- msg:
		return nil
	case <-c.done:
		return fmt.Errorf("%w: connection closed", protocol.ErrConnection)
	case <-c.peer.done:
		c.open.Store(false)
		return fmt.Errorf("%w: peer closed", protocol.ErrConnection)
	}
}

func (c *memConn) Receive() (Message, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.done:
		return Message{}, fmt.Errorf("%w: connection closed", protocol.ErrConnection)
	case <-c.peer.done:
		select {
		case msg := <-c.in:
			return msg, nil
		default:
		}
		c.open.Store(false)
		return Message{Kind: KindClose, CloseCode: websocket.CloseNormalClosure, CloseReason: c.peer.reason}, nil
	}
}

func (c *memConn) Close(reason string) error {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		c.reason = reason
		close(c.done)
	})
	return nil
}

func (c *memConn) IsOpen() bool {
	return c.open.Load()
}

// PipeDialer hands the server end of every dialed Pipe to Accept. Tests use
// it to play the server without a network.
type PipeDialer struct {
	Accept chan Conn

	mu    sync.Mutex
	fail  error
	dials []string
}

func NewPipeDialer() *PipeDialer {
	return &PipeDialer{Accept: make(chan Conn, 4)}
}

// FailWith makes subsequent dials return err. A nil err restores dialing.
func (d *PipeDialer) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

// Dials returns the targets dialed so far.
func (d *PipeDialer) Dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dials...)
}

func (d *PipeDialer) Dial(ctx context.Context, uri, subprotocol string) (Conn, error) {
	d.mu.Lock()
	d.dials = append(d.dials, uri)
	fail := d.fail
	d.mu.Unlock()
	if fail != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", protocol.ErrConnection, uri, fail)
	}
	client, server := Pipe()
	select {
	case d.Accept <- server:
		return client, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: dial %s: %w", protocol.ErrConnection, uri, ctx.Err())
	}
}
