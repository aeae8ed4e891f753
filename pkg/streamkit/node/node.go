// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package node defines the §4.4 Node contract: the interface every
// processing node implements, the NodeContext the engine hands to run(), the
// OutputSender producers write through, and the dynamic-pin handshake
// messages exchanged between a node and the engine.
package node

import (
	"context"
	"encoding/json"

	"github.com/rapidaai/streamkit/pkg/streamkit/resource"
	"github.com/rapidaai/streamkit/pkg/streamkit/skerrors"
	"github.com/rapidaai/streamkit/pkg/streamkit/state"
	"github.com/rapidaai/streamkit/pkg/streamkit/stats"
	"github.com/rapidaai/streamkit/pkg/streamkit/telemetry"
	"github.com/rapidaai/streamkit/pkg/streamkit/types"
)

// PinUpdateKind tags whether initialize() wants to replace the node's
// declared pins.
type PinUpdateKind int

const (
	// NoChange keeps the pins the node declared via InputPins/OutputPins.
	NoChange PinUpdateKind = iota
	// Updated replaces them with the enclosed sets.
	Updated
)

// PinUpdate is initialize()'s return value.
type PinUpdate struct {
	Kind    PinUpdateKind
	Inputs  []types.InputPin
	Outputs []types.OutputPin
}

// InitContext is handed to initialize() before run() is ever called.
type InitContext struct {
	NodeID  string
	StateTx chan<- state.Update
}

// RequestAddInputPin is sent by the engine to a node that declared
// SupportsDynamicPins, asking it to accept a new input pin. The node must
// reply on ResponseTx exactly once.
type RequestAddInputPin struct {
	SuggestedName string
	ResponseTx    chan<- AddInputPinResult
}

// AddInputPinResult is the node's answer to RequestAddInputPin.
type AddInputPinResult struct {
	Pin types.InputPin
	Err error // non-nil means the node declined
}

// AddedInputPin is sent by the engine once it has wired the accepted pin:
// it hands the node the receive side of the freshly allocated channel.
type AddedInputPin struct {
	Pin      types.InputPin
	Receiver <-chan types.Packet
}

// RemoveInputPin is unilateral (engine-initiated): the node must stop
// consuming from the named pin's channel.
type RemoveInputPin struct {
	PinName string
}

// PinManagementMessage is the union of messages a dynamic-pin-capable node
// receives on its pin-management channel.
type PinManagementMessage struct {
	RequestAddInputPin *RequestAddInputPin
	AddedInputPin      *AddedInputPin
	RemoveInputPin     *RemoveInputPin
}

// OutputSender is how a node produces packets. Send routes to the named
// output pin's Pin Distributor data channel; a returned error means that
// channel is closed (the distributor has shut down) and the node should
// terminate cleanly.
type OutputSender interface {
	Send(pinName string, packet types.Packet) error
}

// directSender routes Send calls straight at each output pin's distributor
// data channel — "Direct mode" per §4.2 step 4.
type directSender struct {
	channels map[string]chan<- types.Packet
}

// NewDirectOutputSender builds an OutputSender over pre-wired distributor
// input channels, one per declared output pin name.
func NewDirectOutputSender(channels map[string]chan<- types.Packet) OutputSender {
	return &directSender{channels: channels}
}

// errClosedOutput is returned when a send panics against a closed channel —
// the documented "channel is closed, terminate cleanly" condition.
var errClosedOutput = skerrors.Fatal("output channel closed")

func (d *directSender) Send(pinName string, packet types.Packet) (sendErr error) {
	ch, ok := d.channels[pinName]
	if !ok {
		return skerrors.Configuration("unknown output pin %q", pinName)
	}
	defer func() {
		if recover() != nil {
			sendErr = errClosedOutput
		}
	}()
	// Blocks until the owning Pin Distributor's input buffer has room; this
	// is the node-to-distributor edge, always capacity-bounded but otherwise
	// unconditional — fan-out Reliable/BestEffort policy lives downstream in
	// the distributor itself (§4.3), not here.
	ch <- packet
	return nil
}

// Context is everything a node's run() needs: its input receivers, its
// control channel, an OutputSender, the batch size hint, the three outbound
// telemetry-ish channels, session identity, optional cancellation, and the
// optional pin-management channel for dynamic-pin nodes.
type Context struct {
	NodeID  string
	Inputs  map[string]<-chan types.Packet
	Control <-chan ControlMessage
	Output  OutputSender

	BatchSize int

	StateTx     chan<- state.Update
	StatsTx     chan<- stats.Update
	TelemetryTx telemetry.Sender

	SessionID *string

	// Ctx carries the oneshot per-request cancellation/timeout scope (§4.5).
	// Nil for dynamic-engine nodes; always non-nil for oneshot nodes.
	Ctx context.Context

	PinManagementRx <-chan PinManagementMessage
	AudioPool       *resource.AudioFramePool
}

// ControlMessageKind tags a NodeControlMessage variant.
type ControlMessageKind int

const (
	// ControlShutdown asks the node to exit run() within the graceful window.
	ControlShutdown ControlMessageKind = iota
	// ControlUpdateParams carries a live parameter reconfiguration.
	ControlUpdateParams
	// ControlStart is sent only to source nodes (no input pins) once the
	// activation barrier confirms the whole graph has reached Ready/Running.
	ControlStart
)

// ControlMessage is sent on a node's control channel by the engine (Shutdown,
// RemoveNode) or forwarded from TuneNode (UpdateParams).
type ControlMessage struct {
	Kind   ControlMessageKind
	Params json.RawMessage
}

// Node is the §4.4 contract every processing node type implements.
type Node interface {
	// InputPins returns the node's declared input pins (possibly empty).
	InputPins() []types.InputPin
	// OutputPins returns the node's declared output pins (possibly empty).
	OutputPins() []types.OutputPin
	// SupportsDynamicPins reports whether the node owns a pin-management
	// channel and can accept RequestAddInputPin at runtime. Defaults to
	// false for nodes that embed Base.
	SupportsDynamicPins() bool
	// Initialize runs before Run and may replace the declared pin set, e.g.
	// for nodes that probe an external resource to determine shape.
	Initialize(ctx context.Context, init InitContext) (PinUpdate, error)
	// Run is the node's single entry point; it owns the node's goroutine for
	// its entire lifetime and must honor ctx.Control / ctx.Ctx promptly.
	Run(ctx *Context) error
}

// Base is embeddable by node implementations that don't support dynamic
// pins, so they don't each have to redeclare the false default.
type Base struct{}

func (Base) SupportsDynamicPins() bool { return false }

func (Base) Initialize(context.Context, InitContext) (PinUpdate, error) {
	return PinUpdate{Kind: NoChange}, nil
}
