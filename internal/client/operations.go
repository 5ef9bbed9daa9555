package client

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/ntclient/internal/observability"
	"github.com/danmuck/ntclient/internal/protocol"
	"github.com/danmuck/ntclient/internal/protocol/control"
	"github.com/danmuck/ntclient/internal/protocol/frame"
	"github.com/danmuck/ntclient/internal/protocol/schema"
	"github.com/danmuck/ntclient/internal/protocol/session"
	"github.com/danmuck/ntclient/internal/registry"
	"github.com/danmuck/ntclient/internal/transport"
)

// Publish registers a client topic and announces it to the server. The
// returned pubuid correlates value frames sent with UpdateTopic.
func (c *Client) Publish(name string, kind schema.Kind, props map[string]any) (int64, error) {
	ct, err := c.topics.AddClientTopic(name, kind, props)
	if err != nil {
		return 0, err
	}
	if c.queuePublish(ct) {
		c.sendPublish(ct)
	}
	return ct.PubUID, nil
}

// queuePublish adds ct to the outbox. It returns false, leaving the outbox
// unchanged, when ct was unpublished before the entry landed.
func (c *Client) queuePublish(ct registry.ClientTopic) bool {
	c.outbox.Upsert(session.PendingPublish{
		PubUID:   ct.PubUID,
		Name:     ct.Name,
		Type:     ct.Kind.String(),
		QueuedAt: c.now(),
	})
	if _, live := c.topics.FindClientTopicByPubUID(ct.PubUID); !live {
		c.outbox.Remove(ct.PubUID)
		return false
	}
	return true
}

func (c *Client) sendPublish(ct registry.ClientTopic) {
	payload, err := control.EncodePublish(control.PublishParams{
		Name:       ct.Name,
		PubUID:     ct.PubUID,
		Type:       ct.Kind.String(),
		Properties: ct.Properties,
	})
	if err != nil {
		c.report("publish", err)
		return
	}
	err = c.sendControl(control.MethodPublish, payload)
	lastErr := ""
	if err != nil {
		lastErr = err.Error()
	}
	c.outbox.MarkAttempt(ct.PubUID, c.now(), lastErr)
}

// Unpublish removes a client topic. An unknown name is reported and
// returned as ErrUnknownReference.
func (c *Client) Unpublish(name string) error {
	ct, err := c.topics.RemoveClientTopicByName(name)
	if err != nil {
		c.report("unpublish", err)
		return err
	}
	c.outbox.Remove(ct.PubUID)
	payload, err := control.EncodeUnpublish(control.UnpublishParams{PubUID: ct.PubUID})
	if err != nil {
		return err
	}
	_ = c.sendControl(control.MethodUnpublish, payload)
	return nil
}

// Subscribe registers interest in topic patterns and returns the subuid.
func (c *Client) Subscribe(patterns []string, opts registry.SubscriptionOptions) (int64, error) {
	sub, err := c.subs.Subscribe(patterns, opts)
	if err != nil {
		return 0, err
	}
	c.sendSubscribe(sub)
	return sub.SubUID, nil
}

func (c *Client) sendSubscribe(sub registry.Subscription) {
	payload, err := control.EncodeSubscribe(control.SubscribeParams{
		Topics: sub.Topics,
		SubUID: sub.SubUID,
		Options: control.SubscribeOptions{
			Periodic:   sub.Options.Periodic,
			All:        sub.Options.All,
			TopicsOnly: sub.Options.TopicsOnly,
			Prefix:     sub.Options.Prefix,
		},
	})
	if err != nil {
		c.report("subscribe", err)
		return
	}
	_ = c.sendControl(control.MethodSubscribe, payload)
}

// Unsubscribe cancels a subscription. An unknown subuid is reported, sends
// nothing, and returns ErrUnknownReference.
func (c *Client) Unsubscribe(subuid int64) error {
	if _, err := c.subs.Unsubscribe(subuid); err != nil {
		c.report("unsubscribe", err)
		return err
	}
	payload, err := control.EncodeUnsubscribe(control.UnsubscribeParams{SubUID: subuid})
	if err != nil {
		return err
	}
	_ = c.sendControl(control.MethodUnsubscribe, payload)
	return nil
}

// SetProperties applies update to matching local topics and forwards it to
// the server. A nil value deletes the key.
func (c *Client) SetProperties(name string, update map[string]any) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: topic name is required", protocol.ErrInvalidArgument)
	}
	payload, err := control.EncodeSetProperties(control.SetPropertiesParams{Name: name, Update: update})
	if err != nil {
		return err
	}
	local := c.topics.ApplyClientProperties(name, update)
	remote := c.topics.ApplyServerProperties(name, update)
	c.log.Debug().Str("topic", name).Bool("client_topic", local).Bool("server_topic", remote).
		Msg("client.Client.SetProperties applied")
	_ = c.sendControl(control.MethodSetProperties, payload)
	return nil
}

// UpdateTopic sends a new value for a published topic, stamped with the
// estimated server time.
func (c *Client) UpdateTopic(name string, v schema.Value) error {
	if v.IsZero() {
		return fmt.Errorf("%w: absent value for %q", protocol.ErrInvalidArgument, name)
	}
	ct, ok := c.topics.FindClientTopicByName(name)
	if !ok {
		err := fmt.Errorf("%w: client topic %q", protocol.ErrUnknownReference, name)
		c.report("update", err)
		return err
	}
	if v.Kind() != ct.Kind {
		return fmt.Errorf("%w: topic %q is %s, value is %s", protocol.ErrTypeMismatch, name, ct.Kind, v.Kind())
	}
	tag, err := schema.TagOf(ct.Kind)
	if err != nil {
		return err
	}
	payload, err := frame.EncodeValue(ct.PubUID, c.clock.ServerNowMicros(), tag, v)
	if err != nil {
		return err
	}
	if err := c.send(transport.KindBinary, payload); err != nil && !errors.Is(err, ErrNotConnected) {
		c.log.Debug().Str("topic", name).Err(err).Msg("client.Client.UpdateTopic send failed")
	}
	return nil
}

// CurrentValue returns the last value received for a server topic.
func (c *Client) CurrentValue(name string) (schema.Value, bool) {
	return c.topics.CurrentValue(name)
}

func (c *Client) ServerTopics() []registry.ServerTopic {
	return c.topics.ServerTopics()
}

func (c *Client) ClientTopic(name string) (registry.ClientTopic, bool) {
	return c.topics.FindClientTopicByName(name)
}

func (c *Client) Subscriptions() []registry.Subscription {
	return c.subs.List()
}

// PendingPublishes lists publishes the server has not announced back yet.
func (c *Client) PendingPublishes() []session.PendingPublish {
	return c.outbox.List()
}

// ClockOffset is the last probe round trip in microseconds, zero until
// synchronized.
func (c *Client) ClockOffset() int64 {
	return c.clock.Offset()
}

func (c *Client) Synchronized() bool {
	return c.clock.Synchronized()
}

// sendControl writes one control batch. Not being connected is not an
// error worth reporting; the message is replayed on the next Connect.
func (c *Client) sendControl(method string, payload []byte) error {
	err := c.send(transport.KindText, payload)
	switch {
	case err == nil:
		observability.RecordControlMessage(c.cfg.ClientName, "out", method)
	case errors.Is(err, ErrNotConnected):
		c.log.Debug().Str("method", method).Msg("client.Client.sendControl skipped while disconnected")
	default:
		c.log.Debug().Str("method", method).Err(err).Msg("client.Client.sendControl failed")
	}
	return err
}

// replay re-sends local state to a fresh server session.
func (c *Client) replay() {
	for _, ct := range c.topics.ClientTopics() {
		if _, ok := c.outbox.Get(ct.PubUID); !ok {
			c.outbox.Upsert(session.PendingPublish{
				PubUID:   ct.PubUID,
				Name:     ct.Name,
				Type:     ct.Kind.String(),
				QueuedAt: c.now(),
			})
		}
		c.sendPublish(ct)
	}
	for _, sub := range c.subs.List() {
		c.sendSubscribe(sub)
	}
}
