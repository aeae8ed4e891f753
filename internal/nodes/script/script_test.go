// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package script

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/streamkit/pkg/commons"
	"github.com/rapidaai/streamkit/pkg/streamkit/node"
	"github.com/rapidaai/streamkit/pkg/streamkit/state"
	"github.com/rapidaai/streamkit/pkg/streamkit/stats"
	"github.com/rapidaai/streamkit/pkg/streamkit/telemetry"
	"github.com/rapidaai/streamkit/pkg/streamkit/types"
)

func newTestGlobal() GlobalScriptConfig {
	return GlobalScriptConfig{Logger: commons.NewNopLogger(), FetchConcurrency: 4}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestFactoryRejectsBothScriptFieldsSet(t *testing.T) {
	factory := NewFactory(newTestGlobal())
	_, err := factory(mustJSON(t, Config{Script: "function process(p){return p;}", ScriptPath: "/tmp/x.js"}))
	assert.Error(t, err)
}

func TestFactoryRejectsNeitherScriptFieldSet(t *testing.T) {
	factory := NewFactory(newTestGlobal())
	_, err := factory(mustJSON(t, Config{}))
	assert.Error(t, err)
}

func TestFactoryRejectsMissingProcessFunction(t *testing.T) {
	factory := NewFactory(newTestGlobal())
	_, err := factory(mustJSON(t, Config{Script: "var x = 1;"}))
	assert.Error(t, err)
}

func TestFactoryRejectsUnknownHeaderSecret(t *testing.T) {
	factory := NewFactory(newTestGlobal())
	_, err := factory(mustJSON(t, Config{
		Script:  "function process(p){return p;}",
		Headers: []HeaderMapping{{Secret: "nope", Header: "X-Api-Key"}},
	}))
	assert.Error(t, err)
}

func TestNodeUppercasesTextPackets(t *testing.T) {
	factory := NewFactory(newTestGlobal())
	n, err := factory(mustJSON(t, Config{
		Script: `function process(p) {
			if (p.kind !== "Text") { return p; }
			return { kind: "Text", text: p.text.toUpperCase() };
		}`,
	}))
	require.NoError(t, err)

	in := make(chan types.Packet, 1)
	out := make(chan types.Packet, 1)
	ctx := &node.Context{
		NodeID:      "script1",
		Inputs:      map[string]<-chan types.Packet{"in": in},
		Control:     make(chan node.ControlMessage, 1),
		Output:      node.NewDirectOutputSender(map[string]chan<- types.Packet{"out": out}),
		StateTx:     make(chan state.Update, 8),
		StatsTx:     make(chan stats.Update, 8),
		TelemetryTx: telemetry.NewChannelSender(make(chan telemetry.Event, 8)),
		Ctx:         context.Background(),
	}

	go func() { _ = n.Run(ctx) }()

	in <- types.NewTextPacket("hello")
	select {
	case pkt := <-out:
		assert.Equal(t, "HELLO", pkt.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("script node never produced output")
	}
	close(in)
}

func TestNodeDropsPacketOnNullReturn(t *testing.T) {
	factory := NewFactory(newTestGlobal())
	n, err := factory(mustJSON(t, Config{Script: `function process(p) { return null; }`}))
	require.NoError(t, err)

	in := make(chan types.Packet, 1)
	out := make(chan types.Packet, 1)
	ctx := &node.Context{
		NodeID:      "script2",
		Inputs:      map[string]<-chan types.Packet{"in": in},
		Control:     make(chan node.ControlMessage, 1),
		Output:      node.NewDirectOutputSender(map[string]chan<- types.Packet{"out": out}),
		StateTx:     make(chan state.Update, 8),
		StatsTx:     make(chan stats.Update, 8),
		TelemetryTx: telemetry.NewChannelSender(make(chan telemetry.Event, 8)),
		Ctx:         context.Background(),
	}

	go func() { _ = n.Run(ctx) }()
	in <- types.NewTextPacket("dropped")

	select {
	case <-out:
		t.Fatal("expected no output for a dropped packet")
	case <-time.After(200 * time.Millisecond):
	}
	close(in)
}

func TestNodePassesThroughOnScriptError(t *testing.T) {
	factory := NewFactory(newTestGlobal())
	n, err := factory(mustJSON(t, Config{Script: `function process(p) { throw new Error("boom"); }`}))
	require.NoError(t, err)

	in := make(chan types.Packet, 1)
	out := make(chan types.Packet, 1)
	ctx := &node.Context{
		NodeID:      "script3",
		Inputs:      map[string]<-chan types.Packet{"in": in},
		Control:     make(chan node.ControlMessage, 1),
		Output:      node.NewDirectOutputSender(map[string]chan<- types.Packet{"out": out}),
		StateTx:     make(chan state.Update, 8),
		StatsTx:     make(chan stats.Update, 8),
		TelemetryTx: telemetry.NewChannelSender(make(chan telemetry.Event, 8)),
		Ctx:         context.Background(),
	}

	go func() { _ = n.Run(ctx) }()
	in <- types.NewTextPacket("original")

	select {
	case pkt := <-out:
		assert.Equal(t, "original", pkt.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("expected original packet to pass through on script error")
	}
	close(in)
}
