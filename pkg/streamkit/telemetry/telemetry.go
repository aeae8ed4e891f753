// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package telemetry defines the streamed TelemetryEvent (§6 schema) and an
// Emitter helper nodes use to populate node_id/session_id/correlation_id
// consistently. Telemetry events are never stored by the engine — they are
// purely fanned out to subscribers (§4.2).
package telemetry

import (
	"context"
	"encoding/json"
	"time"
)

// Event is the wire schema from §6: "{ event_type, node_id, session_id?,
// correlation_id?, turn_id?, timestamp_us, data }".
type Event struct {
	EventType     string          `json:"event_type"`
	NodeID        string          `json:"node_id"`
	SessionID     *string         `json:"session_id,omitempty"`
	CorrelationID *string         `json:"correlation_id,omitempty"`
	TurnID        *string         `json:"turn_id,omitempty"`
	TimestampUs   int64           `json:"timestamp_us"`
	Data          json.RawMessage `json:"data"`
}

// Sender is the narrow interface an Emitter needs; satisfied by a bounded
// channel's send side, or nil when telemetry is disabled for this node.
type Sender interface {
	TrySend(Event) bool
}

type chanSender struct {
	ch chan<- Event
}

func (s chanSender) TrySend(e Event) bool {
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

// NewChannelSender adapts a channel's send side to Sender.
func NewChannelSender(ch chan<- Event) Sender { return chanSender{ch: ch} }

// Emitter is a per-node helper that stamps node_id/session_id onto every
// event and forwards it to the underlying Sender (nil-safe: emitting with no
// Sender is a documented no-op, matching script.rs's "no telemetry channel").
type Emitter struct {
	nodeID    string
	sessionID *string
	sender    Sender
	clock     func() time.Time
}

// NewEmitter builds an Emitter. sender may be nil if telemetry is disabled.
func NewEmitter(nodeID string, sessionID *string, sender Sender) *Emitter {
	return &Emitter{nodeID: nodeID, sessionID: sessionID, sender: sender, clock: time.Now}
}

func jsonOf(data interface{}) json.RawMessage {
	if raw, ok := data.(json.RawMessage); ok {
		return raw
	}
	b, err := json.Marshal(data)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// Emit sends a one-shot event with no correlation/turn grouping.
func (e *Emitter) Emit(eventType string, data interface{}) bool {
	return e.emit(eventType, nil, nil, data)
}

// EmitWithCorrelation sends an event tagged with a correlation ID.
func (e *Emitter) EmitWithCorrelation(eventType, correlationID string, data interface{}) bool {
	return e.emit(eventType, &correlationID, nil, data)
}

// EmitWithTurn sends an event tagged with a turn ID.
func (e *Emitter) EmitWithTurn(eventType, turnID string, data interface{}) bool {
	return e.emit(eventType, nil, &turnID, data)
}

// EmitCorrelated sends an event tagged with both a correlation and turn ID.
func (e *Emitter) EmitCorrelated(eventType, correlationID, turnID string, data interface{}) bool {
	return e.emit(eventType, &correlationID, &turnID, data)
}

func (e *Emitter) emit(eventType string, correlationID, turnID *string, data interface{}) bool {
	if e == nil || e.sender == nil {
		return false
	}
	clock := e.clock
	if clock == nil {
		clock = time.Now
	}
	return e.sender.TrySend(Event{
		EventType:     eventType,
		NodeID:        e.nodeID,
		SessionID:     e.sessionID,
		CorrelationID: correlationID,
		TurnID:        turnID,
		TimestampUs:   clock().UnixMicro(),
		Data:          jsonOf(data),
	})
}

// Subscriber is a bounded receive channel handed back by the engine's
// SubscribeTelemetry query.
type Subscriber = <-chan Event

// Drain reads every currently-buffered event without blocking, useful in
// tests that want to assert on a burst of emitted events.
func Drain(ctx context.Context, ch Subscriber, max int) []Event {
	out := make([]Event, 0, max)
	for len(out) < max {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-ctx.Done():
			return out
		default:
			return out
		}
	}
	return out
}
