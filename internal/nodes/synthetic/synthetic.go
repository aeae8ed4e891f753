// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package synthetic provides the two marker node kinds the Oneshot Engine
// wires at the edges of a caller-supplied pipeline: streamkit::http_input
// (reads a byte stream into Binary packets) and streamkit::http_output
// (writes Binary packets into a byte sink). These kinds are synthetic to the
// engine — the dynamic control plane must reject them (§6).
package synthetic

import (
	"encoding/json"
	"io"

	"github.com/rapidaai/streamkit/pkg/streamkit/node"
	"github.com/rapidaai/streamkit/pkg/streamkit/skerrors"
	"github.com/rapidaai/streamkit/pkg/streamkit/state"
	"github.com/rapidaai/streamkit/pkg/streamkit/types"
)

// KindHTTPInput is the synthetic source marker kind name.
const KindHTTPInput = "streamkit::http_input"

// KindHTTPOutput is the synthetic sink marker kind name.
const KindHTTPOutput = "streamkit::http_output"

// IsSynthetic reports whether kind is one of the Oneshot-only marker kinds
// that AddNode on the dynamic control plane must reject.
func IsSynthetic(kind string) bool {
	return kind == KindHTTPInput || kind == KindHTTPOutput
}

// ChunkSize is the read buffer size http_input uses per Binary packet.
const ChunkSize = 32 * 1024

// HTTPInput reads Source until EOF, emitting one Binary packet per chunk. No
// input pins; one Binary output pin "out".
type HTTPInput struct {
	node.Base
	Source io.Reader
}

// NewHTTPInputFactory builds a Factory bound to a concrete byte source. The
// Oneshot Engine constructs one of these per request rather than going
// through a shared Registry entry, since Source is request-scoped.
func NewHTTPInputFactory(source io.Reader) node.Factory {
	return func(json.RawMessage) (node.Node, error) { return &HTTPInput{Source: source}, nil }
}

func (*HTTPInput) InputPins() []types.InputPin { return nil }
func (*HTTPInput) OutputPins() []types.OutputPin {
	return []types.OutputPin{{Name: "out", ProducesType: types.Binary(), Cardinality: types.One()}}
}

func (h *HTTPInput) Run(ctx *node.Context) error {
	ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.New(state.Running)}
	buf := make([]byte, ChunkSize)
	for {
		n, err := h.Source.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if sendErr := ctx.Output.Send("out", types.NewBinaryPacket(chunk, nil, nil)); sendErr != nil {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "output_closed")}
				return nil
			}
		}
		if err == io.EOF {
			ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "source_eof")}
			return nil
		}
		if err != nil {
			ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Failed, err.Error())}
			return skerrors.Fatal("http_input: read: %v", err)
		}
		select {
		case msg, ok := <-ctx.Control:
			if ok && msg.Kind == node.ControlShutdown {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "shutdown")}
				return nil
			}
		default:
		}
		if ctx.Ctx != nil {
			select {
			case <-ctx.Ctx.Done():
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "cancelled")}
				return nil
			default:
			}
		}
	}
}

// HTTPOutput writes every Binary packet it receives into Sink. One Binary
// input pin "in"; no outputs.
type HTTPOutput struct {
	node.Base
	Sink io.Writer
}

// NewHTTPOutputFactory builds a Factory bound to a concrete byte sink.
func NewHTTPOutputFactory(sink io.Writer) node.Factory {
	return func(json.RawMessage) (node.Node, error) { return &HTTPOutput{Sink: sink}, nil }
}

func (*HTTPOutput) OutputPins() []types.OutputPin { return nil }
func (*HTTPOutput) InputPins() []types.InputPin {
	return []types.InputPin{{Name: "in", AcceptsTypes: []types.PacketType{types.Binary()}, Cardinality: types.One()}}
}

func (h *HTTPOutput) Run(ctx *node.Context) error {
	ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.New(state.Running)}
	in := ctx.Inputs["in"]
	var doneCh <-chan struct{}
	if ctx.Ctx != nil {
		doneCh = ctx.Ctx.Done()
	}
	for {
		select {
		case pkt, ok := <-in:
			if !ok {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "input_closed")}
				return nil
			}
			if pkt.Binary == nil {
				continue
			}
			if _, err := h.Sink.Write(pkt.Binary.Data); err != nil {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Failed, err.Error())}
				return skerrors.Fatal("http_output: write: %v", err)
			}
		case msg, ok := <-ctx.Control:
			if ok && msg.Kind == node.ControlShutdown {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "shutdown")}
				return nil
			}
		case <-doneCh:
			ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "cancelled")}
			return nil
		}
	}
}
