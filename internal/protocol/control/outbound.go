package control

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danmuck/ntclient/internal/protocol"
)

const (
	MethodPublish       = "publish"
	MethodUnpublish     = "unpublish"
	MethodSubscribe     = "subscribe"
	MethodUnsubscribe   = "unsubscribe"
	MethodSetProperties = "setproperties"

	MethodAnnounce   = "announce"
	MethodUnannounce = "unannounce"
	MethodProperties = "properties"
)

// Message is one element of a text-channel batch.
type Message struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

type PublishParams struct {
	Name       string         `json:"name"`
	PubUID     int64          `json:"pubuid"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

func (p PublishParams) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: publish missing name", protocol.ErrInvalidArgument)
	}
	if strings.TrimSpace(p.Type) == "" {
		return fmt.Errorf("%w: publish missing type", protocol.ErrInvalidArgument)
	}
	return nil
}

type UnpublishParams struct {
	PubUID int64 `json:"pubuid"`
}

// SubscribeOptions is the wire shape of subscription options.
type SubscribeOptions struct {
	Periodic   float64 `json:"periodic"`
	All        bool    `json:"all"`
	TopicsOnly bool    `json:"topicsonly"`
	Prefix     bool    `json:"prefix"`
}

type SubscribeParams struct {
	Topics  []string         `json:"topics"`
	SubUID  int64            `json:"subuid"`
	Options SubscribeOptions `json:"options"`
}

func (p SubscribeParams) Validate() error {
	if len(p.Topics) == 0 {
		return fmt.Errorf("%w: subscribe missing topics", protocol.ErrInvalidArgument)
	}
	if p.Options.Periodic < 0 {
		return fmt.Errorf("%w: subscribe negative periodic", protocol.ErrInvalidArgument)
	}
	return nil
}

type UnsubscribeParams struct {
	SubUID int64 `json:"subuid"`
}

// SetPropertiesParams carries a property update; a nil value deletes the key.
type SetPropertiesParams struct {
	Name   string         `json:"name"`
	Update map[string]any `json:"update"`
}

func (p SetPropertiesParams) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: setproperties missing name", protocol.ErrInvalidArgument)
	}
	return nil
}

func EncodePublish(p PublishParams) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Properties == nil {
		p.Properties = map[string]any{}
	}
	return EncodeBatch(Message{Method: MethodPublish, Params: p})
}

func EncodeUnpublish(p UnpublishParams) ([]byte, error) {
	return EncodeBatch(Message{Method: MethodUnpublish, Params: p})
}

func EncodeSubscribe(p SubscribeParams) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return EncodeBatch(Message{Method: MethodSubscribe, Params: p})
}

func EncodeUnsubscribe(p UnsubscribeParams) ([]byte, error) {
	return EncodeBatch(Message{Method: MethodUnsubscribe, Params: p})
}

func EncodeSetProperties(p SetPropertiesParams) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Update == nil {
		p.Update = map[string]any{}
	}
	return EncodeBatch(Message{Method: MethodSetProperties, Params: p})
}

// EncodeBatch wraps msgs as a JSON array, the text-channel frame shape.
func EncodeBatch(msgs ...Message) ([]byte, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", protocol.ErrInvalidArgument)
	}
	payload, err := json.Marshal(msgs)
	if err != nil {
		return nil, err
	}
	return payload, nil
}
