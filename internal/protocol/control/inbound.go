package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/ntclient/internal/protocol"
	"github.com/danmuck/ntclient/internal/protocol/schema"
)

// MaxBatchBytes bounds one inbound text frame.
const MaxBatchBytes = 4 * 1024 * 1024

var ErrBatchTooLarge = errors.New("control: batch too large")

// Announce declares a server topic.
type Announce struct {
	Name       string
	ID         int64
	Type       string
	Kind       schema.Kind
	PubUID     int64
	HasPubUID  bool
	Properties map[string]any
}

// Unannounce removes a server topic.
type Unannounce struct {
	Name string
	ID   int64
}

// PropertiesUpdate changes a server topic's properties. A nil value in
// Update removes the key.
type PropertiesUpdate struct {
	Name   string
	Update map[string]any
	Ack    bool
}

// Inbound is one decoded batch element. Exactly one of Announce, Unannounce,
// Properties or Err is set.
type Inbound struct {
	Index      int
	Method     string
	Announce   *Announce
	Unannounce *Unannounce
	Properties *PropertiesUpdate
	Err        error
}

// DecodeBatch parses one text frame. A frame that is not a JSON array fails
// as a whole; otherwise every element yields one Inbound in wire order.
func DecodeBatch(data []byte) ([]Inbound, error) {
	if len(data) > MaxBatchBytes {
		return nil, fmt.Errorf("%w: %w: %d bytes", protocol.ErrMalformedMessage, ErrBatchTooLarge, len(data))
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, fmt.Errorf("%w: batch is not a JSON array: %v", protocol.ErrMalformedMessage, err)
	}
	if elems == nil {
		return nil, fmt.Errorf("%w: batch is null", protocol.ErrMalformedMessage)
	}
	out := make([]Inbound, 0, len(elems))
	for i, raw := range elems {
		out = append(out, decodeElement(i, raw))
	}
	return out, nil
}

type envelope struct {
	Method *string         `json:"method"`
	Params json.RawMessage `json:"params"`
}

func decodeElement(index int, raw json.RawMessage) Inbound {
	in := Inbound{Index: index}
	fail := func(format string, args ...any) Inbound {
		in.Err = fmt.Errorf("%w: element %d: %s", protocol.ErrMalformedMessage, index, fmt.Sprintf(format, args...))
		return in
	}

	if !isObject(raw) {
		return fail("not an object")
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fail("%v", err)
	}
	if env.Method == nil {
		return fail("missing method")
	}
	in.Method = *env.Method
	if !isObject(env.Params) {
		return fail("method %q: params missing or not an object", in.Method)
	}

	switch in.Method {
	case MethodAnnounce:
		a, err := decodeAnnounce(env.Params)
		if err != nil {
			return fail("announce: %v", err)
		}
		in.Announce = &a
	case MethodUnannounce:
		u, err := decodeUnannounce(env.Params)
		if err != nil {
			return fail("unannounce: %v", err)
		}
		in.Unannounce = &u
	case MethodProperties:
		p, err := decodeProperties(env.Params)
		if err != nil {
			return fail("properties: %v", err)
		}
		in.Properties = &p
	default:
		return fail("unknown method %q", in.Method)
	}
	return in
}

type announceWire struct {
	Name       *string         `json:"name"`
	ID         *int64          `json:"id"`
	Type       *string         `json:"type"`
	PubUID     *int64          `json:"pubuid"`
	Properties json.RawMessage `json:"properties"`
}

func decodeAnnounce(params json.RawMessage) (Announce, error) {
	var w announceWire
	if err := json.Unmarshal(params, &w); err != nil {
		return Announce{}, err
	}
	if w.Name == nil || strings.TrimSpace(*w.Name) == "" {
		return Announce{}, errors.New("missing name")
	}
	if w.ID == nil {
		return Announce{}, errors.New("missing id")
	}
	if w.Type == nil {
		return Announce{}, errors.New("missing type")
	}
	kind, err := schema.ParseType(*w.Type)
	if err != nil {
		return Announce{}, err
	}
	props, err := decodeObject(w.Properties, "properties")
	if err != nil {
		return Announce{}, err
	}
	a := Announce{
		Name:       *w.Name,
		ID:         *w.ID,
		Type:       *w.Type,
		Kind:       kind,
		Properties: dropNulls(props),
	}
	if w.PubUID != nil {
		a.PubUID = *w.PubUID
		a.HasPubUID = true
	}
	return a, nil
}

type unannounceWire struct {
	Name *string `json:"name"`
	ID   *int64  `json:"id"`
}

func decodeUnannounce(params json.RawMessage) (Unannounce, error) {
	var w unannounceWire
	if err := json.Unmarshal(params, &w); err != nil {
		return Unannounce{}, err
	}
	if w.Name == nil {
		return Unannounce{}, errors.New("missing name")
	}
	if w.ID == nil {
		return Unannounce{}, errors.New("missing id")
	}
	return Unannounce{Name: *w.Name, ID: *w.ID}, nil
}

type propertiesWire struct {
	Name   *string         `json:"name"`
	Update json.RawMessage `json:"update"`
	Ack    bool            `json:"ack"`
}

func decodeProperties(params json.RawMessage) (PropertiesUpdate, error) {
	var w propertiesWire
	if err := json.Unmarshal(params, &w); err != nil {
		return PropertiesUpdate{}, err
	}
	if w.Name == nil {
		return PropertiesUpdate{}, errors.New("missing name")
	}
	update, err := decodeObject(w.Update, "update")
	if err != nil {
		return PropertiesUpdate{}, err
	}
	return PropertiesUpdate{Name: *w.Name, Update: update, Ack: w.Ack}, nil
}

func decodeObject(raw json.RawMessage, field string) (map[string]any, error) {
	if !isObject(raw) {
		return nil, fmt.Errorf("%s missing or not an object", field)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return out, nil
}

func dropNulls(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
