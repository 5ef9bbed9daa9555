package registry

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/ntclient/internal/protocol"
)

// DefaultPeriodic is the server send period in seconds when none is given.
const DefaultPeriodic = 0.1

// SubscriptionOptions controls how the server delivers matching topics.
type SubscriptionOptions struct {
	Periodic   float64
	All        bool
	TopicsOnly bool
	Prefix     bool
}

func DefaultSubscriptionOptions() SubscriptionOptions {
	return SubscriptionOptions{Periodic: DefaultPeriodic}
}

// Subscription is a standing interest registration.
type Subscription struct {
	SubUID  int64
	Topics  []string
	Options SubscriptionOptions
}

// Subscriptions holds active subscriptions by subuid.
type Subscriptions struct {
	mu    sync.RWMutex
	ids   IDSource
	items map[int64]Subscription
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{items: make(map[int64]Subscription)}
}

// Subscribe registers patterns and returns the new subscription. A zero
// Periodic takes DefaultPeriodic.
func (s *Subscriptions) Subscribe(topics []string, opts SubscriptionOptions) (Subscription, error) {
	if len(topics) == 0 {
		return Subscription{}, fmt.Errorf("%w: at least one topic pattern is required", protocol.ErrInvalidArgument)
	}
	for _, t := range topics {
		if strings.TrimSpace(t) == "" && !opts.Prefix {
			return Subscription{}, fmt.Errorf("%w: empty topic pattern requires prefix matching", protocol.ErrInvalidArgument)
		}
	}
	if opts.Periodic < 0 {
		return Subscription{}, fmt.Errorf("%w: negative periodic %v", protocol.ErrInvalidArgument, opts.Periodic)
	}
	if opts.Periodic == 0 {
		opts.Periodic = DefaultPeriodic
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sub := Subscription{
		SubUID:  s.ids.Next(s.liveLocked),
		Topics:  slices.Clone(topics),
		Options: opts,
	}
	s.items[sub.SubUID] = sub
	return cloneSubscription(sub), nil
}

func (s *Subscriptions) liveLocked(subuid int64) bool {
	_, ok := s.items[subuid]
	return ok
}

func (s *Subscriptions) Unsubscribe(subuid int64) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.items[subuid]
	if !ok {
		return Subscription{}, fmt.Errorf("%w: subscription %d", protocol.ErrUnknownReference, subuid)
	}
	delete(s.items, subuid)
	return sub, nil
}

func (s *Subscriptions) Get(subuid int64) (Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.items[subuid]
	return cloneSubscription(sub), ok
}

// List returns active subscriptions ordered by subuid.
func (s *Subscriptions) List() []Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Subscription, 0, len(s.items))
	for _, sub := range s.items {
		out = append(out, cloneSubscription(sub))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubUID < out[j].SubUID
	})
	return out
}

func cloneSubscription(sub Subscription) Subscription {
	sub.Topics = slices.Clone(sub.Topics)
	return sub
}
