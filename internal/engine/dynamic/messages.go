// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package dynamic implements the §4.2/§4.3 dynamic engine: a single
// control-plane actor that owns every live node and Pin Distributor in a
// session, plus the Pin Distributor actor itself (data-plane fan-out).
package dynamic

import (
	"encoding/json"

	"github.com/rapidaai/streamkit/pkg/streamkit/node"
	"github.com/rapidaai/streamkit/pkg/streamkit/state"
	"github.com/rapidaai/streamkit/pkg/streamkit/stats"
	"github.com/rapidaai/streamkit/pkg/streamkit/telemetry"
	"github.com/rapidaai/streamkit/pkg/streamkit/types"
)

// ConnectionMode selects a Pin Distributor destination's fan-out policy.
type ConnectionMode int

const (
	// Reliable backpressures the producer: send blocks until the
	// destination has room.
	Reliable ConnectionMode = iota
	// BestEffort drops packets when the destination is full rather than
	// slow the producer.
	BestEffort
)

// ConnectionID names one edge instance so Disconnect can remove exactly the
// connection Connect created, even across repeated connect/disconnect of the
// same (from,to) pair.
type ConnectionID string

// AddNode asks the engine to construct and run a new node.
type AddNode struct {
	NodeID string
	Kind   string
	Params json.RawMessage
	// ResponseTx, if non-nil, receives the outcome. AddNode never crashes
	// the engine on failure — this is purely for a caller that wants to know.
	ResponseTx chan<- error
}

// RemoveNode asks the engine to gracefully stop and forget a node.
type RemoveNode struct {
	NodeID     string
	ResponseTx chan<- error
}

// Connect asks the engine to wire an edge between two pins, performing
// on-demand dynamic-pin creation on the destination when needed.
type Connect struct {
	FromNode, FromPin string
	ToNode, ToPin     string
	Mode              ConnectionMode
	ResponseTx        chan<- error
}

// Disconnect removes a previously established edge. "Not found" is not an
// error — Disconnect is idempotent.
type Disconnect struct {
	FromNode, FromPin string
	ToNode, ToPin     string
	ResponseTx        chan<- error
}

// TuneNode forwards a NodeControlMessage to a node's control channel.
type TuneNode struct {
	NodeID     string
	Message    node.ControlMessage
	ResponseTx chan<- error
}

// Shutdown is the only terminating message; Done (if non-nil) is closed once
// the full shutdown protocol completes.
type Shutdown struct {
	Done chan<- struct{}
}

// ControlMessage is the union of messages accepted on the engine's control
// channel. Exactly one field is non-nil.
type ControlMessage struct {
	AddNode    *AddNode
	RemoveNode *RemoveNode
	Connect    *Connect
	Disconnect *Disconnect
	TuneNode   *TuneNode
	Shutdown   *Shutdown
}

// GetNodeStates snapshots every tracked node's current lifecycle state.
type GetNodeStates struct {
	ResponseTx chan<- map[string]state.State
}

// GetNodeStats snapshots every tracked node's current packet counters.
type GetNodeStats struct {
	ResponseTx chan<- map[string]stats.Stats
}

// SubscribeState returns a bounded receiver streaming future state updates.
type SubscribeState struct {
	ResponseTx chan<- (<-chan state.Update)
}

// SubscribeStats returns a bounded receiver streaming future stats updates.
type SubscribeStats struct {
	ResponseTx chan<- (<-chan stats.Update)
}

// SubscribeTelemetry returns a bounded receiver streaming future telemetry
// events.
type SubscribeTelemetry struct {
	ResponseTx chan<- (<-chan telemetry.Event)
}

// QueryMessage is the union of messages accepted on the engine's separate
// query channel (§6). Exactly one field is non-nil.
type QueryMessage struct {
	GetNodeStates      *GetNodeStates
	GetNodeStats       *GetNodeStats
	SubscribeState      *SubscribeState
	SubscribeStats      *SubscribeStats
	SubscribeTelemetry  *SubscribeTelemetry
}

// pinKey addresses one (node_id, pin) pair, used to key node_inputs and
// pin_distributors.
type pinKey struct {
	NodeID string
	Pin    string
}

// PinMetadata is a node's recorded pin shape, captured at AddNode time (or
// replaced wholesale by Initialize's PinUpdate).
type PinMetadata struct {
	Inputs  []types.InputPin
	Outputs []types.OutputPin
}
