package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/ntclient/internal/observability"
	"github.com/danmuck/ntclient/internal/protocol"
	"github.com/danmuck/ntclient/internal/protocol/control"
	"github.com/danmuck/ntclient/internal/protocol/frame"
	"github.com/danmuck/ntclient/internal/registry"
	"github.com/danmuck/ntclient/internal/transport"
)

// dispatchLoop applies inbound frames one at a time in wire order.
func (c *Client) dispatchLoop(ctx context.Context, r *run) {
	defer r.wg.Done()
	for {
		msg, err := r.conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.endRun(r, err)
			return
		}
		switch msg.Kind {
		case transport.KindClose:
			c.endRun(r, fmt.Errorf("%w: closed by server code=%d reason=%q",
				protocol.ErrConnection, msg.CloseCode, msg.CloseReason))
			return
		case transport.KindText:
			observability.RecordFrameReceived(c.cfg.ClientName, "text")
			c.handleControl(msg.Data)
		case transport.KindBinary:
			observability.RecordFrameReceived(c.cfg.ClientName, "binary")
			c.handleBinary(msg.Data)
		}
	}
}

// livenessLoop probes the server every ProbeInterval and ends the session
// once no echo has arrived for ProbeTimeout.
func (c *Client) livenessLoop(ctx context.Context, r *run) {
	defer r.wg.Done()
	ticker := time.NewTicker(c.cfg.Session.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if silence := c.clock.SinceLastResponse(); silence > c.cfg.Session.ProbeTimeout {
				c.endRun(r, fmt.Errorf("%w: no probe response for %v", protocol.ErrProtocolTimeout, silence))
				return
			}
			c.sendProbe(r)
		}
	}
}

func (c *Client) sendProbe(r *run) {
	payload, err := frame.EncodeTimeProbe(c.clock.ProbeSent())
	if err != nil {
		c.report("probe", err)
		return
	}
	if err := c.sendOn(r, transport.KindBinary, payload); err != nil {
		c.log.Debug().Err(err).Msg("client.Client.sendProbe failed")
	}
}

func (c *Client) handleControl(data []byte) {
	batch, err := control.DecodeBatch(data)
	if err != nil {
		observability.RecordFrameDropped(c.cfg.ClientName, "malformed_batch")
		c.report("control", err)
		return
	}
	for _, in := range batch {
		if in.Err != nil {
			observability.RecordFrameDropped(c.cfg.ClientName, "malformed_message")
			c.report("control", in.Err)
			continue
		}
		observability.RecordControlMessage(c.cfg.ClientName, "in", in.Method)
		switch {
		case in.Announce != nil:
			c.handleAnnounce(*in.Announce)
		case in.Unannounce != nil:
			c.handleUnannounce(*in.Unannounce)
		case in.Properties != nil:
			c.handleProperties(*in.Properties)
		}
	}
}

func (c *Client) handleAnnounce(a control.Announce) {
	linked := c.topics.AddOrReplaceServerTopic(registry.ServerTopic{
		ID:         a.ID,
		Name:       a.Name,
		Type:       a.Type,
		Kind:       a.Kind,
		Properties: a.Properties,
		PubUID:     a.PubUID,
		HasPubUID:  a.HasPubUID,
	})
	c.log.Debug().Str("topic", a.Name).Int64("id", a.ID).Str("type", a.Type).Msg("client.Client.handleAnnounce")
	if !linked {
		return
	}
	c.outbox.Remove(a.PubUID)
	if ct, ok := c.topics.FindClientTopicByPubUID(a.PubUID); ok {
		c.log.Debug().Str("topic", ct.Name).Int64("pubuid", ct.PubUID).Int64("id", ct.ServerID).
			Msg("client.Client.handleAnnounce publish acknowledged")
	}
}

func (c *Client) handleUnannounce(u control.Unannounce) {
	if _, err := c.topics.RemoveServerTopicByName(u.Name); err != nil {
		c.report("unannounce", err)
		return
	}
	c.log.Debug().Str("topic", u.Name).Int64("id", u.ID).Msg("client.Client.handleUnannounce")
}

func (c *Client) handleProperties(p control.PropertiesUpdate) {
	if !c.topics.ApplyServerProperties(p.Name, p.Update) {
		c.log.Debug().Str("topic", p.Name).Msg("client.Client.handleProperties unknown topic")
		return
	}
	c.topics.ApplyClientProperties(p.Name, p.Update)
}

func (c *Client) handleBinary(data []byte) {
	frames, err := frame.DecodeAll(data, c.cfg.Limits)
	for _, f := range frames {
		c.handleFrame(f)
	}
	if err != nil {
		observability.RecordFrameDropped(c.cfg.ClientName, "malformed_frame")
		c.report("frame", err)
	}
}

func (c *Client) handleFrame(f frame.Frame) {
	if f.IsTimeSync() {
		echoed, ok := probeMicros(f)
		if !ok {
			c.report("timesync", fmt.Errorf("%w: time probe value %s", protocol.ErrMalformedFrame, f.Value))
			return
		}
		sample := c.clock.HandleEcho(f.Timestamp, echoed)
		observability.RecordClockSample(c.cfg.ClientName,
			time.Duration(sample.Offset)*time.Microsecond, sample.ServerOffset)
		return
	}
	if err := c.topics.SetServerValue(f.ID, f.Timestamp, f.Value); err != nil {
		observability.RecordFrameDropped(c.cfg.ClientName, "unknown_topic")
		c.report("frame", err)
	}
}

func probeMicros(f frame.Frame) (int64, bool) {
	if d, ok := f.Value.AsDouble(); ok {
		return int64(d), true
	}
	if n, ok := f.Value.AsInt(); ok {
		return n, true
	}
	return 0, false
}

// report logs a diagnostic and hands it to the configured reporter.
func (c *Client) report(source string, err error) {
	d := protocol.Diagnostic{Source: source, Err: err}
	label := kindLabel(d.Kind())
	event := c.log.Warn()
	if protocol.Fatal(err) {
		event = c.log.Error()
	}
	event.Str("source", source).Str("kind", label).Bool("fatal", protocol.Fatal(err)).Err(err).
		Msg("client.Client diagnostic")
	observability.RecordDiagnostic(c.cfg.ClientName, label)
	if c.reporter == nil {
		return
	}
	c.mu.Lock()
	r := c.last
	c.mu.Unlock()
	if r != nil {
		r.reporting.Add(1)
		defer r.reporting.Add(-1)
	}
	c.reporter.Report(d)
}

func kindLabel(kind error) string {
	switch {
	case kind == nil:
		return "other"
	case errors.Is(kind, protocol.ErrConnection):
		return "connection"
	case errors.Is(kind, protocol.ErrProtocolTimeout):
		return "protocol_timeout"
	case errors.Is(kind, protocol.ErrMalformedFrame):
		return "malformed_frame"
	case errors.Is(kind, protocol.ErrMalformedMessage):
		return "malformed_message"
	case errors.Is(kind, protocol.ErrUnknownReference):
		return "unknown_reference"
	case errors.Is(kind, protocol.ErrUnknownType):
		return "unknown_type"
	case errors.Is(kind, protocol.ErrTypeMismatch):
		return "type_mismatch"
	case errors.Is(kind, protocol.ErrDuplicateTopic):
		return "duplicate_topic"
	case errors.Is(kind, protocol.ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "other"
	}
}
