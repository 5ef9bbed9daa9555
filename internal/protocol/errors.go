package protocol

import "errors"

var (
	ErrConnection       = errors.New("protocol: connection error")
	ErrMalformedMessage = errors.New("protocol: malformed message")
	ErrMalformedFrame   = errors.New("protocol: malformed frame")
	ErrUnknownReference = errors.New("protocol: unknown reference")
	ErrProtocolTimeout  = errors.New("protocol: protocol timeout")
	ErrUnknownType      = errors.New("protocol: unknown value type")
	ErrTypeMismatch     = errors.New("protocol: value type mismatch")
	ErrDuplicateTopic   = errors.New("protocol: duplicate topic")
	ErrInvalidArgument  = errors.New("protocol: invalid argument")
)

// Fatal reports whether err is allowed to terminate a session.
func Fatal(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrProtocolTimeout)
}
