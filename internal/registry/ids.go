package registry

import (
	"math"
	"sync/atomic"
)

// IDSource hands out increasing ids for one namespace. Ids start at 1 and
// wrap back to 1 after MaxInt32 so they stay representable in a data-plane
// topic id.
type IDSource struct {
	last atomic.Int64
}

// Next returns the next id for which inUse reports false. A nil inUse treats
// every id as free.
func (s *IDSource) Next(inUse func(int64) bool) int64 {
	for {
		id := s.advance()
		if inUse == nil || !inUse(id) {
			return id
		}
	}
}

func (s *IDSource) advance() int64 {
	for {
		cur := s.last.Load()
		next := cur + 1
		if next > math.MaxInt32 {
			next = 1
		}
		if s.last.CompareAndSwap(cur, next) {
			return next
		}
	}
}
