package session

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// PendingPublish tracks one publish awaiting the server's announce.
type PendingPublish struct {
	PubUID        int64
	Name          string
	Type          string
	Attempts      int
	QueuedAt      time.Time
	LastAttemptAt time.Time
	LastError     string
}

// PublishOutbox stores pending publishes by pubuid.
type PublishOutbox struct {
	mu    sync.RWMutex
	items map[int64]PendingPublish
}

func NewPublishOutbox() *PublishOutbox {
	return &PublishOutbox{
		items: make(map[int64]PendingPublish),
	}
}

func (o *PublishOutbox) Upsert(item PendingPublish) {
	if strings.TrimSpace(item.Name) == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items[item.PubUID] = item
}

// MarkAttempt records one send of the publish message. An empty lastErr
// means the send succeeded.
func (o *PublishOutbox) MarkAttempt(pubuid int64, at time.Time, lastErr string) (PendingPublish, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[pubuid]
	if !ok {
		return PendingPublish{}, false
	}
	item.Attempts++
	item.LastAttemptAt = at
	item.LastError = strings.TrimSpace(lastErr)
	o.items[pubuid] = item
	return item, true
}

func (o *PublishOutbox) Remove(pubuid int64) (PendingPublish, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[pubuid]
	delete(o.items, pubuid)
	return item, ok
}

func (o *PublishOutbox) Get(pubuid int64) (PendingPublish, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	item, ok := o.items[pubuid]
	return item, ok
}

// List returns pending publishes ordered by pubuid.
func (o *PublishOutbox) List() []PendingPublish {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]PendingPublish, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PubUID < out[j].PubUID
	})
	return out
}
