// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package dynamic

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rapidaai/streamkit/pkg/commons"
	"github.com/rapidaai/streamkit/pkg/streamkit/config"
	"github.com/rapidaai/streamkit/pkg/streamkit/node"
	"github.com/rapidaai/streamkit/pkg/streamkit/state"
	"github.com/rapidaai/streamkit/pkg/streamkit/types"
)

// testSource is a minimal source node for exercising the activation barrier:
// no inputs, one Text output, emits one packet once it receives Start.
type testSource struct {
	node.Base
}

func (testSource) InputPins() []types.InputPin { return nil }
func (testSource) OutputPins() []types.OutputPin {
	return []types.OutputPin{{Name: "out", ProducesType: types.Text(), Cardinality: types.One()}}
}

func (testSource) Run(ctx *node.Context) error {
	ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.New(state.Ready)}
	for msg := range ctx.Control {
		if msg.Kind == node.ControlShutdown {
			ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "shutdown_before_start")}
			return nil
		}
		if msg.Kind == node.ControlStart {
			break
		}
	}
	ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.New(state.Running)}
	_ = ctx.Output.Send("out", types.NewTextPacket("hello"))
	<-ctx.Control
	ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "done")}
	return nil
}

// testSink is a minimal sink node: one Text input, forwards every received
// packet's text onto the test-owned received channel.
type testSink struct {
	node.Base
	received chan string
}

func (testSink) OutputPins() []types.OutputPin { return nil }
func (testSink) InputPins() []types.InputPin {
	return []types.InputPin{{Name: "in", AcceptsTypes: []types.PacketType{types.Text()}, Cardinality: types.One()}}
}

func (s *testSink) Run(ctx *node.Context) error {
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
			s.received <- pkt.Text
		case msg := <-ctx.Control:
			if msg.Kind == node.ControlShutdown {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "shutdown")}
				return nil
			}
		}
	}
}

func newTestRegistry(received chan string) *node.Registry {
	r := node.NewRegistry()
	r.Register("test_source", func(params json.RawMessage) (node.Node, error) { return &testSource{}, nil })
	r.Register("test_sink", func(params json.RawMessage) (node.Node, error) { return &testSink{received: received}, nil })
	return r
}

func newTestEngine(t *testing.T, received chan string) (*Engine, *Handle) {
	t.Helper()
	metrics, err := NewMetrics(nil)
	require.NoError(t, err)
	e, h := New(newTestRegistry(received), config.New(), commons.NewNopLogger(), metrics, nil)
	go e.Run()
	return e, h
}

func TestEngineActivationBarrierDelaysSourceUntilGraphReady(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("github.com/rapidaai/streamkit/internal/engine/dynamic.waitForDone"),
	)

	received := make(chan string, 4)
	_, h := newTestEngine(t, received)
	ctx := context.Background()

	require.NoError(t, h.AddNode(ctx, "sink", "test_sink", nil))
	require.NoError(t, h.AddNode(ctx, "source", "test_source", nil))
	require.NoError(t, h.Connect(ctx, "source", "out", "sink", "in", Reliable))

	select {
	case text := <-received:
		assert.Equal(t, "hello", text)
	case <-time.After(2 * time.Second):
		t.Fatal("sink never received a packet — activation barrier likely stuck")
	}

	require.NoError(t, h.Shutdown(context.Background()))
}

func TestEngineConnectRejectsUnknownPinOnStaticNode(t *testing.T) {
	received := make(chan string, 4)
	_, h := newTestEngine(t, received)
	ctx := context.Background()

	require.NoError(t, h.AddNode(ctx, "sink", "test_sink", nil))
	require.NoError(t, h.AddNode(ctx, "source", "test_source", nil))

	// sink only declares an "in" pin; asking to connect into a nonexistent
	// pin on a node that doesn't support dynamic pins must fail.
	err := h.Connect(ctx, "source", "out", "sink", "nonexistent", Reliable)
	assert.Error(t, err)

	require.NoError(t, h.Shutdown(context.Background()))
}

func TestEngineRemoveNodeClearsState(t *testing.T) {
	received := make(chan string, 4)
	_, h := newTestEngine(t, received)
	ctx := context.Background()

	require.NoError(t, h.AddNode(ctx, "sink", "test_sink", nil))
	require.NoError(t, h.RemoveNode(ctx, "sink"))

	states, err := h.GetNodeStates(ctx)
	require.NoError(t, err)
	_, stillThere := states["sink"]
	assert.False(t, stillThere)

	require.NoError(t, h.Shutdown(context.Background()))
}

func TestEngineAddNodeRejectsSyntheticKinds(t *testing.T) {
	received := make(chan string, 4)
	_, h := newTestEngine(t, received)
	ctx := context.Background()

	err := h.AddNode(ctx, "n1", "streamkit::http_input", nil)
	assert.Error(t, err)

	require.NoError(t, h.Shutdown(context.Background()))
}

func TestEngineAddNodeUnknownKindIsError(t *testing.T) {
	received := make(chan string, 4)
	_, h := newTestEngine(t, received)
	ctx := context.Background()

	err := h.AddNode(ctx, "n1", "does_not_exist", nil)
	assert.Error(t, err)

	require.NoError(t, h.Shutdown(context.Background()))
}

func TestEngineSubscribeStateReceivesUpdates(t *testing.T) {
	received := make(chan string, 4)
	_, h := newTestEngine(t, received)
	ctx := context.Background()

	sub, err := h.SubscribeState(ctx)
	require.NoError(t, err)

	require.NoError(t, h.AddNode(ctx, "sink", "test_sink", nil))

	select {
	case u := <-sub:
		assert.Equal(t, "sink", u.NodeID)
	case <-time.After(time.Second):
		t.Fatal("expected a state update for the new node")
	}

	require.NoError(t, h.Shutdown(context.Background()))

	// Shutdown closes every subscriber channel.
	_, open := <-sub
	assert.False(t, open)
}
