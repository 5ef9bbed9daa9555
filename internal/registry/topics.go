package registry

import (
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/ntclient/internal/protocol"
	"github.com/danmuck/ntclient/internal/protocol/schema"
)

// ClientTopic is a topic this client publishes.
type ClientTopic struct {
	Name       string
	PubUID     int64
	Kind       schema.Kind
	Properties map[string]any

	// ServerID is valid once the server has announced the publish back.
	ServerID  int64
	Announced bool
}

// ServerTopic is a topic the server has announced.
type ServerTopic struct {
	ID         int64
	Name       string
	Type       string
	Kind       schema.Kind
	Properties map[string]any
	PubUID     int64
	HasPubUID  bool

	Value          schema.Value
	ValueTimestamp int64
}

// Topics holds client and server topics.
type Topics struct {
	mu sync.RWMutex

	pubuids IDSource

	client         map[string]*ClientTopic
	clientByPubUID map[int64]string

	server       map[int64]*ServerTopic
	serverByName map[string]int64
}

func NewTopics() *Topics {
	return &Topics{
		client:         make(map[string]*ClientTopic),
		clientByPubUID: make(map[int64]string),
		server:         make(map[int64]*ServerTopic),
		serverByName:   make(map[string]int64),
	}
}

// AddClientTopic registers a new publish and assigns its pubuid.
func (r *Topics) AddClientTopic(name string, kind schema.Kind, props map[string]any) (ClientTopic, error) {
	if strings.TrimSpace(name) == "" {
		return ClientTopic{}, fmt.Errorf("%w: topic name is required", protocol.ErrInvalidArgument)
	}
	if _, err := schema.TagOf(kind); err != nil {
		return ClientTopic{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.client[name]; ok {
		return ClientTopic{}, fmt.Errorf("%w: %q", protocol.ErrDuplicateTopic, name)
	}
	t := &ClientTopic{
		Name:       name,
		PubUID:     r.pubuids.Next(r.pubuidLiveLocked),
		Kind:       kind,
		Properties: applyUpdate(nil, props),
	}
	r.client[name] = t
	r.clientByPubUID[t.PubUID] = name
	return t.clone(), nil
}

func (r *Topics) pubuidLiveLocked(pubuid int64) bool {
	_, ok := r.clientByPubUID[pubuid]
	return ok
}

func (r *Topics) RemoveClientTopicByName(name string) (ClientTopic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.client[name]
	if !ok {
		return ClientTopic{}, fmt.Errorf("%w: client topic %q", protocol.ErrUnknownReference, name)
	}
	delete(r.client, name)
	delete(r.clientByPubUID, t.PubUID)
	return t.clone(), nil
}

func (r *Topics) FindClientTopicByName(name string) (ClientTopic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.client[name]
	if !ok {
		return ClientTopic{}, false
	}
	return t.clone(), true
}

func (r *Topics) FindClientTopicByPubUID(pubuid int64) (ClientTopic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.clientByPubUID[pubuid]
	if !ok {
		return ClientTopic{}, false
	}
	return r.client[name].clone(), true
}

// ClientTopics returns client topics ordered by pubuid.
func (r *Topics) ClientTopics() []ClientTopic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ClientTopic, 0, len(r.client))
	for _, t := range r.client {
		out = append(out, t.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PubUID < out[j].PubUID
	})
	return out
}

// AddOrReplaceServerTopic inserts an announced topic. An existing entry with
// the same id or the same name is replaced and its value discarded. When the
// announce carries a pubuid that belongs to a live client topic, the two are
// linked and linked is true.
func (r *Topics) AddOrReplaceServerTopic(t ServerTopic) (linked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.server[t.ID]; exists {
		r.dropServerLocked(old)
	}
	if oldID, exists := r.serverByName[t.Name]; exists {
		r.dropServerLocked(r.server[oldID])
	}

	entry := &ServerTopic{
		ID:         t.ID,
		Name:       t.Name,
		Type:       t.Type,
		Kind:       t.Kind,
		Properties: applyUpdate(nil, t.Properties),
		PubUID:     t.PubUID,
		HasPubUID:  t.HasPubUID,
	}
	r.server[entry.ID] = entry
	r.serverByName[entry.Name] = entry.ID

	if !entry.HasPubUID {
		return false
	}
	name, found := r.clientByPubUID[entry.PubUID]
	if !found {
		return false
	}
	ct := r.client[name]
	ct.ServerID = entry.ID
	ct.Announced = true
	return true
}

// RemoveServerTopicByName handles an unannounce.
func (r *Topics) RemoveServerTopicByName(name string) (ServerTopic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.serverByName[name]
	if !ok {
		return ServerTopic{}, fmt.Errorf("%w: server topic %q", protocol.ErrUnknownReference, name)
	}
	t := r.server[id]
	r.dropServerLocked(t)
	return t.clone(), nil
}

func (r *Topics) FindServerTopicByID(id int64) (ServerTopic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.server[id]
	if !ok {
		return ServerTopic{}, false
	}
	return t.clone(), true
}

func (r *Topics) FindServerTopicByName(name string) (ServerTopic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.serverByName[name]
	if !ok {
		return ServerTopic{}, false
	}
	return r.server[id].clone(), true
}

// SetServerValue replaces the last received value of server topic id.
func (r *Topics) SetServerValue(id, timestamp int64, v schema.Value) error {
	if v.IsZero() {
		return fmt.Errorf("%w: absent value for topic id %d", protocol.ErrInvalidArgument, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.server[id]
	if !ok {
		return fmt.Errorf("%w: server topic id %d", protocol.ErrUnknownReference, id)
	}
	t.Value = v
	t.ValueTimestamp = timestamp
	return nil
}

// CurrentValue returns the last value received for the named server topic.
func (r *Topics) CurrentValue(name string) (schema.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.serverByName[name]
	if !ok {
		return schema.Value{}, false
	}
	v := r.server[id].Value
	return v, !v.IsZero()
}

// ApplyServerProperties merges update into the named server topic. A nil
// value deletes the key. It reports whether the topic exists.
func (r *Topics) ApplyServerProperties(name string, update map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.serverByName[name]
	if !ok {
		return false
	}
	t := r.server[id]
	t.Properties = applyUpdate(t.Properties, update)
	return true
}

// ApplyClientProperties merges update into the named client topic.
func (r *Topics) ApplyClientProperties(name string, update map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.client[name]
	if !ok {
		return false
	}
	t.Properties = applyUpdate(t.Properties, update)
	return true
}

// ClearServerTopics drops every announced topic and unlinks client topics.
// Server ids are only meaningful within one connection.
func (r *Topics) ClearServerTopics() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.server)
	clear(r.server)
	clear(r.serverByName)
	for _, ct := range r.client {
		ct.ServerID = 0
		ct.Announced = false
	}
	return n
}

// ServerTopics returns announced topics ordered by id.
func (r *Topics) ServerTopics() []ServerTopic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServerTopic, 0, len(r.server))
	for _, t := range r.server {
		out = append(out, t.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Topics) dropServerLocked(t *ServerTopic) {
	delete(r.server, t.ID)
	if r.serverByName[t.Name] == t.ID {
		delete(r.serverByName, t.Name)
	}
	for _, ct := range r.client {
		if ct.Announced && ct.ServerID == t.ID {
			ct.ServerID = 0
			ct.Announced = false
		}
	}
}

func (t *ClientTopic) clone() ClientTopic {
	out := *t
	out.Properties = maps.Clone(t.Properties)
	return out
}

func (t *ServerTopic) clone() ServerTopic {
	out := *t
	out.Properties = maps.Clone(t.Properties)
	return out
}

// applyUpdate merges update into dst. Nil values delete keys, so the result
// never stores a nil.
func applyUpdate(dst, update map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(update))
	}
	for k, v := range update {
		if v == nil {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
	return dst
}
