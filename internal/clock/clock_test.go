package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/danmuck/ntclient/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestUnsynchronizedDefaults(t *testing.T) {
	testlog.Start(t)
	fc := &fakeClock{t: time.Unix(1700000000, 0)}
	s := New(fc.Now)
	assert.False(t, s.Synchronized())
	assert.Equal(t, int64(0), s.Offset())
	assert.Equal(t, fc.Now().UnixMicro(), s.ServerNowMicros())
}

func TestOffsetIsReceiveMinusSend(t *testing.T) {
	testlog.Start(t)
	fc := &fakeClock{t: time.Unix(1700000000, 0)}
	s := New(fc.Now)

	t0 := s.ProbeSent()
	assert.Equal(t, fc.Now().UnixMicro(), t0)
	fc.Advance(3 * time.Millisecond)
	t1 := fc.Now().UnixMicro()

	sample := s.HandleEcho(5_000_000, t0)
	require.True(t, s.Synchronized())
	assert.Equal(t, t1-t0, sample.Offset)
	assert.Equal(t, t1-t0, s.Offset())
	assert.Equal(t, int64(3000), s.Offset())
}

func TestServerTimeEstimate(t *testing.T) {
	testlog.Start(t)
	fc := &fakeClock{t: time.Unix(1700000000, 0)}
	s := New(fc.Now)

	t0 := s.ProbeSent()
	fc.Advance(2 * time.Millisecond)
	s.HandleEcho(9_000_000, t0)

	// Server stamped 9s at the midpoint of a 2ms round trip.
	assert.Equal(t, int64(9_001_000), s.ServerNowMicros())
	fc.Advance(time.Second)
	assert.Equal(t, int64(10_001_000), s.ServerNowMicros())
}

func TestLivenessWindowAndReset(t *testing.T) {
	testlog.Start(t)
	fc := &fakeClock{t: time.Unix(1700000000, 0)}
	s := New(fc.Now)

	fc.Advance(4 * time.Second)
	assert.Equal(t, 4*time.Second, s.SinceLastResponse())

	t0 := s.ProbeSent()
	s.HandleEcho(1, t0)
	assert.Equal(t, time.Duration(0), s.SinceLastResponse())

	fc.Advance(time.Second)
	s.Reset()
	assert.False(t, s.Synchronized())
	assert.Equal(t, int64(0), s.Offset())
	assert.Equal(t, time.Duration(0), s.SinceLastResponse())
}
