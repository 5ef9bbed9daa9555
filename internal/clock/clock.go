// Package clock estimates the offset between the local and server clocks
// from echoed time probes.
package clock

import (
	"sync"
	"time"

	"github.com/danmuck/ntclient/internal/protocol/frame"
)

// Sample is the result of one probe round trip, in microseconds.
type Sample struct {
	// Offset is receive time minus the echoed send time.
	Offset int64
	// ServerOffset maps local time onto the server clock, assuming a
	// symmetric path.
	ServerOffset int64
	ServerTime   int64
}

// Synchronizer starts unsynchronized with a zero offset and becomes
// synchronized on the first echo.
type Synchronizer struct {
	mu  sync.RWMutex
	now func() time.Time

	offset       int64
	serverOffset int64
	synchronized bool
	lastResponse time.Time
}

// New returns a synchronizer reading time from now, or time.Now when nil.
func New(now func() time.Time) *Synchronizer {
	if now == nil {
		now = time.Now
	}
	return &Synchronizer{now: now, lastResponse: now()}
}

// Reset returns to the unsynchronized state and restarts the liveness
// window. Called at the start of every session.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = 0
	s.serverOffset = 0
	s.synchronized = false
	s.lastResponse = s.now()
}

// ProbeSent returns the local send time to carry in a probe.
func (s *Synchronizer) ProbeSent() int64 {
	return frame.NowMicros(s.now())
}

// HandleEcho consumes an echoed probe. serverTime is the frame timestamp
// and echoed the local send time the server reflected back.
func (s *Synchronizer) HandleEcho(serverTime, echoed int64) Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := s.now()
	recv := frame.NowMicros(at)
	rtt := recv - echoed
	s.offset = rtt
	s.serverOffset = serverTime + rtt/2 - recv
	s.synchronized = true
	s.lastResponse = at
	return Sample{Offset: s.offset, ServerOffset: s.serverOffset, ServerTime: serverTime}
}

func (s *Synchronizer) Offset() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

func (s *Synchronizer) Synchronized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synchronized
}

// SinceLastResponse is the silence the liveness loop compares against its
// timeout.
func (s *Synchronizer) SinceLastResponse() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now().Sub(s.lastResponse)
}

// ServerNowMicros estimates the server clock, falling back to local time
// while unsynchronized.
func (s *Synchronizer) ServerNowMicros() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	local := frame.NowMicros(s.now())
	if !s.synchronized {
		return local
	}
	return local + s.serverOffset
}
