// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package dynamic

import (
	"context"
	"encoding/json"

	"github.com/rapidaai/streamkit/pkg/streamkit/node"
	"github.com/rapidaai/streamkit/pkg/streamkit/state"
	"github.com/rapidaai/streamkit/pkg/streamkit/stats"
	"github.com/rapidaai/streamkit/pkg/streamkit/telemetry"
)

// Handle is the external, request/response-shaped API a caller (an HTTP
// layer, a test, cmd/streamkitd) drives the engine actor through. Every
// method blocks until the engine has processed the message or ctx is done.
type Handle struct {
	controlTx chan<- ControlMessage
	queryTx   chan<- QueryMessage
}

func (h *Handle) sendControl(ctx context.Context, msg ControlMessage, responseTx chan error) error {
	select {
	case h.controlTx <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-responseTx:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddNode sends §4.2 AddNode and waits for the outcome.
func (h *Handle) AddNode(ctx context.Context, nodeID, kind string, params json.RawMessage) error {
	responseTx := make(chan error, 1)
	return h.sendControl(ctx, ControlMessage{AddNode: &AddNode{NodeID: nodeID, Kind: kind, Params: params, ResponseTx: responseTx}}, responseTx)
}

// RemoveNode sends §4.2 RemoveNode and waits for the outcome.
func (h *Handle) RemoveNode(ctx context.Context, nodeID string) error {
	responseTx := make(chan error, 1)
	return h.sendControl(ctx, ControlMessage{RemoveNode: &RemoveNode{NodeID: nodeID, ResponseTx: responseTx}}, responseTx)
}

// Connect sends §4.2 Connect and waits for the outcome.
func (h *Handle) Connect(ctx context.Context, fromNode, fromPin, toNode, toPin string, mode ConnectionMode) error {
	responseTx := make(chan error, 1)
	return h.sendControl(ctx, ControlMessage{Connect: &Connect{
		FromNode: fromNode, FromPin: fromPin, ToNode: toNode, ToPin: toPin, Mode: mode, ResponseTx: responseTx,
	}}, responseTx)
}

// Disconnect sends §4.2 Disconnect and waits for the outcome.
func (h *Handle) Disconnect(ctx context.Context, fromNode, fromPin, toNode, toPin string) error {
	responseTx := make(chan error, 1)
	return h.sendControl(ctx, ControlMessage{Disconnect: &Disconnect{
		FromNode: fromNode, FromPin: fromPin, ToNode: toNode, ToPin: toPin, ResponseTx: responseTx,
	}}, responseTx)
}

// TuneNode sends §4.2 TuneNode and waits for the outcome.
func (h *Handle) TuneNode(ctx context.Context, nodeID string, msg node.ControlMessage) error {
	responseTx := make(chan error, 1)
	return h.sendControl(ctx, ControlMessage{TuneNode: &TuneNode{NodeID: nodeID, Message: msg, ResponseTx: responseTx}}, responseTx)
}

// Shutdown sends §4.2 Shutdown and blocks until the protocol completes.
func (h *Handle) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case h.controlTx <- (ControlMessage{Shutdown: &Shutdown{Done: done}}):
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetNodeStates implements the §6 query contract.
func (h *Handle) GetNodeStates(ctx context.Context) (map[string]state.State, error) {
	responseTx := make(chan map[string]state.State, 1)
	select {
	case h.queryTx <- (QueryMessage{GetNodeStates: &GetNodeStates{ResponseTx: responseTx}}):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case snapshot := <-responseTx:
		return snapshot, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetNodeStats implements the §6 query contract.
func (h *Handle) GetNodeStats(ctx context.Context) (map[string]stats.Stats, error) {
	responseTx := make(chan map[string]stats.Stats, 1)
	select {
	case h.queryTx <- (QueryMessage{GetNodeStats: &GetNodeStats{ResponseTx: responseTx}}):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case snapshot := <-responseTx:
		return snapshot, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubscribeState implements the §6 query contract.
func (h *Handle) SubscribeState(ctx context.Context) (<-chan state.Update, error) {
	responseTx := make(chan (<-chan state.Update), 1)
	select {
	case h.queryTx <- (QueryMessage{SubscribeState: &SubscribeState{ResponseTx: responseTx}}):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case ch := <-responseTx:
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubscribeStats implements the §6 query contract.
func (h *Handle) SubscribeStats(ctx context.Context) (<-chan stats.Update, error) {
	responseTx := make(chan (<-chan stats.Update), 1)
	select {
	case h.queryTx <- (QueryMessage{SubscribeStats: &SubscribeStats{ResponseTx: responseTx}}):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case ch := <-responseTx:
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubscribeTelemetry implements the §6 query contract.
func (h *Handle) SubscribeTelemetry(ctx context.Context) (<-chan telemetry.Event, error) {
	responseTx := make(chan (<-chan telemetry.Event), 1)
	select {
	case h.queryTx <- (QueryMessage{SubscribeTelemetry: &SubscribeTelemetry{ResponseTx: responseTx}}):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case ch := <-responseTx:
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
