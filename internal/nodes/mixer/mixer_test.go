// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package mixer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/streamkit/pkg/streamkit/node"
	"github.com/rapidaai/streamkit/pkg/streamkit/state"
	"github.com/rapidaai/streamkit/pkg/streamkit/stats"
	"github.com/rapidaai/streamkit/pkg/streamkit/telemetry"
	"github.com/rapidaai/streamkit/pkg/streamkit/types"
)

type testMixerHarness struct {
	m          *Mixer
	ctx        *node.Context
	out        chan types.Packet
	control    chan node.ControlMessage
	pinMgmt    chan node.PinManagementMessage
}

func newTestMixer(t *testing.T, cfg Config) *testMixerHarness {
	t.Helper()
	factory := NewFactory()
	cfgJSON, err := json.Marshal(cfg)
	require.NoError(t, err)
	n, err := factory(cfgJSON)
	require.NoError(t, err)
	m := n.(*Mixer)

	out := make(chan types.Packet, 16)
	control := make(chan node.ControlMessage, 1)
	pinMgmt := make(chan node.PinManagementMessage, 4)

	ctx := &node.Context{
		NodeID:          "mixer",
		Output:          node.NewDirectOutputSender(map[string]chan<- types.Packet{"out": out}),
		Control:         control,
		StateTx:         make(chan state.Update, 16),
		StatsTx:         make(chan stats.Update, 16),
		TelemetryTx:     telemetry.NewChannelSender(make(chan telemetry.Event, 16)),
		PinManagementRx: pinMgmt,
		Ctx:             context.Background(),
	}
	return &testMixerHarness{m: m, ctx: ctx, out: out, control: control, pinMgmt: pinMgmt}
}

func TestMixerStickyChannelCountNeverDecreases(t *testing.T) {
	h := newTestMixer(t, Config{})
	assert.Equal(t, uint16(1), h.m.stickyOutputChannels(1))
	assert.Equal(t, uint16(2), h.m.stickyOutputChannels(2))
	assert.Equal(t, uint16(2), h.m.stickyOutputChannels(1), "sticky count must not decrease once raised")
	assert.Equal(t, uint16(2), h.m.stickyOutputChannels(0))
}

func TestMixerAdditivelyMixesTwoInputs(t *testing.T) {
	h := newTestMixer(t, Config{})
	frames := map[string]types.AudioFrame{
		"a": types.NewAudioFrame(48000, 1, []float32{0.1, 0.2}, nil),
		"b": types.NewAudioFrame(48000, 1, []float32{0.3, 0.1}, nil),
	}
	mixed, channels := h.m.mixSnapshot(frames)
	require.NotNil(t, mixed)
	assert.Equal(t, uint16(1), channels)
	samples := mixed.Samples()
	assert.InDelta(t, 0.4, samples[0], 1e-6)
	assert.InDelta(t, 0.3, samples[1], 1e-6)
}

func TestMixerShutsDownCleanly(t *testing.T) {
	h := newTestMixer(t, Config{SyncTimeoutMs: 5})

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = h.m.Run(h.ctx)
	}()

	// Give the event-driven loop a tick before asking it to stop.
	time.Sleep(10 * time.Millisecond)
	h.control <- node.ControlMessage{Kind: node.ControlShutdown}

	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("mixer did not exit after shutdown")
	}
}

func TestMixerAcceptsDynamicInputPinRequest(t *testing.T) {
	h := newTestMixer(t, Config{SyncTimeoutMs: 5})

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = h.m.Run(h.ctx)
	}()

	respTx := make(chan node.AddInputPinResult, 1)
	h.pinMgmt <- node.PinManagementMessage{
		RequestAddInputPin: &node.RequestAddInputPin{SuggestedName: "in_1", ResponseTx: respTx},
	}

	select {
	case res := <-respTx:
		require.NoError(t, res.Err)
		assert.Equal(t, "in_1", res.Pin.Name)
	case <-time.After(time.Second):
		t.Fatal("mixer never answered RequestAddInputPin")
	}

	h.control <- node.ControlMessage{Kind: node.ControlShutdown}
	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("mixer did not exit after shutdown")
	}
}
