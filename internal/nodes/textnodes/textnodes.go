// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package textnodes provides small demonstration nodes (text_source,
// uppercase, recorder) used to exercise the engine's activation barrier,
// Pin Distributor fan-out, and graceful shutdown in the simplest possible
// pipeline shape (§8 scenario S1).
package textnodes

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rapidaai/streamkit/pkg/streamkit/node"
	"github.com/rapidaai/streamkit/pkg/streamkit/skerrors"
	"github.com/rapidaai/streamkit/pkg/streamkit/state"
	"github.com/rapidaai/streamkit/pkg/streamkit/stats"
	"github.com/rapidaai/streamkit/pkg/streamkit/types"
)

// SourceConfig configures a text_source node.
type SourceConfig struct {
	// Lines are emitted in order, one per Interval, once the node receives
	// Start.
	Lines []string `json:"lines"`
	// IntervalMs between lines; 0 emits every line back-to-back.
	IntervalMs int `json:"interval_ms"`
}

// Source is a source node: no inputs, one Text output pin "out".
type Source struct {
	node.Base
	cfg SourceConfig
}

// NewSourceFactory builds the text_source node.Factory for a Registry.
func NewSourceFactory() node.Factory {
	return func(params json.RawMessage) (node.Node, error) {
		cfg := SourceConfig{IntervalMs: 0}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &cfg); err != nil {
				return nil, skerrors.Configuration("text_source: invalid params: %v", err)
			}
		}
		return &Source{cfg: cfg}, nil
	}
}

func (*Source) InputPins() []types.InputPin { return nil }
func (*Source) OutputPins() []types.OutputPin {
	return []types.OutputPin{{Name: "out", ProducesType: types.Text(), Cardinality: types.One()}}
}

func (s *Source) Run(ctx *node.Context) error {
	ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.New(state.Ready)}

	for {
		msg, ok := <-ctx.Control
		if !ok {
			ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "control_closed")}
			return nil
		}
		if msg.Kind == node.ControlShutdown {
			ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "shutdown_before_start")}
			return nil
		}
		if msg.Kind == node.ControlStart {
			break
		}
	}

	ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.New(state.Running)}
	tracker := stats.NewTracker(1, time.Second)

	for _, line := range s.cfg.Lines {
		select {
		case msg, ok := <-ctx.Control:
			if ok && msg.Kind == node.ControlShutdown {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "shutdown")}
				return nil
			}
		default:
		}

		if err := ctx.Output.Send("out", types.NewTextPacket(line)); err != nil {
			ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "output_closed")}
			return nil
		}
		tracker.RecordSent()
		if tracker.ShouldEmit() && ctx.StatsTx != nil {
			select {
			case ctx.StatsTx <- stats.Update{NodeID: ctx.NodeID, Stats: tracker.Snapshot()}:
			default:
			}
		}
		if s.cfg.IntervalMs > 0 {
			time.Sleep(time.Duration(s.cfg.IntervalMs) * time.Millisecond)
		}
	}

	<-ctx.Control
	ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "exhausted")}
	return nil
}

// Uppercase is a pass-through transform: one Text input "in", one Text
// output "out", upper-cases every packet.
type Uppercase struct {
	node.Base
}

// NewUppercaseFactory builds the uppercase node.Factory.
func NewUppercaseFactory() node.Factory {
	return func(json.RawMessage) (node.Node, error) { return &Uppercase{}, nil }
}

func (*Uppercase) InputPins() []types.InputPin {
	return []types.InputPin{{Name: "in", AcceptsTypes: []types.PacketType{types.Text()}, Cardinality: types.One()}}
}
func (*Uppercase) OutputPins() []types.OutputPin {
	return []types.OutputPin{{Name: "out", ProducesType: types.Text(), Cardinality: types.Broadcast()}}
}

func (u *Uppercase) Run(ctx *node.Context) error {
	ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.New(state.Ready)}
	in := ctx.Inputs["in"]
	running := false
	tracker := stats.NewTracker(1, time.Second)

	for {
		select {
		case pkt, ok := <-in:
			if !ok {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "input_closed")}
				return nil
			}
			if !running {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.New(state.Running)}
				running = true
			}
			tracker.RecordReceived()
			out := pkt.Clone()
			out.Text = strings.ToUpper(pkt.Text)
			if err := ctx.Output.Send("out", out); err != nil {
				tracker.RecordErrored()
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "output_closed")}
				return nil
			}
			tracker.RecordSent()
			if tracker.ShouldEmit() && ctx.StatsTx != nil {
				select {
				case ctx.StatsTx <- stats.Update{NodeID: ctx.NodeID, Stats: tracker.Snapshot()}:
				default:
				}
			}
		case msg, ok := <-ctx.Control:
			if ok && msg.Kind == node.ControlShutdown {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "shutdown")}
				return nil
			}
		}
	}
}

// Recorder is a sink node: one Text input "in", sends each received
// packet's text to Lines for assertions in tests; when Lines is full the
// text is dropped.
type Recorder struct {
	node.Base
	Lines chan string
}

// NewRecorderFactory builds the recorder node.Factory. lines receives each
// packet's text without blocking; text arriving while it is full is dropped.
func NewRecorderFactory(lines chan string) node.Factory {
	return func(json.RawMessage) (node.Node, error) { return &Recorder{Lines: lines}, nil }
}

func (*Recorder) OutputPins() []types.OutputPin { return nil }
func (*Recorder) InputPins() []types.InputPin {
	return []types.InputPin{{Name: "in", AcceptsTypes: []types.PacketType{types.Text()}, Cardinality: types.One()}}
}

func (r *Recorder) Run(ctx *node.Context) error {
	ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.New(state.Ready)}
	in := ctx.Inputs["in"]
	running := false

	for {
		select {
		case pkt, ok := <-in:
			if !ok {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "input_closed")}
				return nil
			}
			if !running {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.New(state.Running)}
				running = true
			}
			select {
			case r.Lines <- pkt.Text:
			default:
			}
		case msg, ok := <-ctx.Control:
			if ok && msg.Kind == node.ControlShutdown {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "shutdown")}
				return nil
			}
		}
	}
}
