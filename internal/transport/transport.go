// Package transport carries text and binary frames between the client and
// an NT4 server.
//
// Ownership boundary:
// - dial with subprotocol negotiation
// - one mutually exclusive write path per connection
// - close signalling surfaced as a KindClose message
package transport

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/danmuck/ntclient/internal/protocol"
)

// MessageKind distinguishes control text, data binary and close frames.
type MessageKind uint8

const (
	KindText MessageKind = iota + 1
	KindBinary
	KindClose
)

func (k MessageKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	case KindClose:
		return "close"
	default:
		return "unknown"
	}
}

// Message is one received frame. CloseCode and CloseReason are set for
// KindClose.
type Message struct {
	Kind        MessageKind
	Data        []byte
	CloseCode   int
	CloseReason string
}

// Conn is an open, ordered, message-oriented connection. Send is safe for
// concurrent use; Receive must be called from one goroutine.
type Conn interface {
	Send(kind MessageKind, data []byte) error
	Receive() (Message, error)
	Close(reason string) error
	IsOpen() bool
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, uri, subprotocol string) (Conn, error)
}

// URL builds the NT4 connection target ws://host:port/nt/clientName.
func URL(host string, port int, clientName string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("%w: host is required", protocol.ErrInvalidArgument)
	}
	if port <= 0 || port > 65535 {
		return "", fmt.Errorf("%w: port %d out of range", protocol.ErrInvalidArgument, port)
	}
	if strings.TrimSpace(clientName) == "" {
		return "", fmt.Errorf("%w: client name is required", protocol.ErrInvalidArgument)
	}
	u := url.URL{
		Scheme: "ws",
		Host:   host + ":" + strconv.Itoa(port),
		Path:   "/nt/" + clientName,
	}
	return u.String(), nil
}
