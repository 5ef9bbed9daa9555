package protocol

import (
	"errors"
	"fmt"
)

// Diagnostic is one non-fatal condition observed while handling wire input
// or an application call.
type Diagnostic struct {
	Source string
	Err    error
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s: %v", d.Source, d.Err)
}

func (d Diagnostic) Unwrap() error {
	return d.Err
}

// Kind returns the taxonomy sentinel d belongs to, or nil if none matches.
func (d Diagnostic) Kind() error {
	for _, kind := range []error{
		ErrConnection,
		ErrProtocolTimeout,
		ErrMalformedFrame,
		ErrMalformedMessage,
		ErrUnknownReference,
		ErrUnknownType,
		ErrTypeMismatch,
		ErrDuplicateTopic,
		ErrInvalidArgument,
	} {
		if errors.Is(d.Err, kind) {
			return kind
		}
	}
	return nil
}

// Reporter receives diagnostics. Reports may arrive on the client's receive
// goroutine, so implementations must not block. Calling Disconnect from a
// Report is allowed.
type Reporter interface {
	Report(Diagnostic)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Diagnostic)

func (f ReporterFunc) Report(d Diagnostic) {
	if f != nil {
		f(d)
	}
}
