// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package opus

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/streamkit/pkg/streamkit/node"
	"github.com/rapidaai/streamkit/pkg/streamkit/resource"
	"github.com/rapidaai/streamkit/pkg/streamkit/state"
	"github.com/rapidaai/streamkit/pkg/streamkit/stats"
	"github.com/rapidaai/streamkit/pkg/streamkit/telemetry"
	"github.com/rapidaai/streamkit/pkg/streamkit/types"
)

func sineFrame(n int, freqHz, sampleRate float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.2 * math.Sin(2*math.Pi*freqHz*float64(i)/sampleRate))
	}
	return out
}

// TestEncoderThenDecoderRoundTripsAudioShape drives one 20ms mono frame
// through the Encoder and back through the Decoder, and checks the decoded
// frame carries the same sample count and format — exact sample equality
// isn't expected of a lossy codec, but the shape contract must hold.
func TestEncoderThenDecoderRoundTripsAudioShape(t *testing.T) {
	encFactory := NewEncoderFactory()
	encNode, err := encFactory(nil)
	require.NoError(t, err)
	enc := encNode.(*Encoder)

	decFactory := NewDecoderFactory()
	decNode, err := decFactory(nil)
	require.NoError(t, err)
	dec := decNode.(*Decoder)

	encIn := make(chan types.Packet, 1)
	encOut := make(chan types.Packet, 1)
	encCtx := &node.Context{
		NodeID:      "enc",
		Inputs:      map[string]<-chan types.Packet{"in": encIn},
		Control:     make(chan node.ControlMessage, 1),
		Output:      node.NewDirectOutputSender(map[string]chan<- types.Packet{"out": encOut}),
		StateTx:     make(chan state.Update, 16),
		StatsTx:     make(chan stats.Update, 16),
		TelemetryTx: telemetry.NewChannelSender(make(chan telemetry.Event, 16)),
		Ctx:         context.Background(),
		AudioPool:   resource.NewAudioFramePool(),
	}

	decIn := make(chan types.Packet, 1)
	decOut := make(chan types.Packet, 1)
	decCtx := &node.Context{
		NodeID:      "dec",
		Inputs:      map[string]<-chan types.Packet{"in": decIn},
		Control:     make(chan node.ControlMessage, 1),
		Output:      node.NewDirectOutputSender(map[string]chan<- types.Packet{"out": decOut}),
		StateTx:     make(chan state.Update, 16),
		StatsTx:     make(chan stats.Update, 16),
		TelemetryTx: telemetry.NewChannelSender(make(chan telemetry.Event, 16)),
		Ctx:         context.Background(),
		AudioPool:   resource.NewAudioFramePool(),
	}

	go func() { _ = enc.Run(encCtx) }()
	go func() { _ = dec.Run(decCtx) }()

	samples := sineFrame(960, 440, 48000)
	encIn <- types.NewAudioPacket(types.NewAudioFrame(48000, 1, samples, nil))

	var encoded types.Packet
	select {
	case encoded = <-encOut:
	case <-time.After(2 * time.Second):
		t.Fatal("encoder never produced a packet")
	}
	require.Equal(t, types.KindBinary, encoded.Kind)
	require.NotNil(t, encoded.Binary)
	assert.Greater(t, len(encoded.Binary.Data), 0)

	decIn <- encoded

	var decoded types.Packet
	select {
	case decoded = <-decOut:
	case <-time.After(2 * time.Second):
		t.Fatal("decoder never produced a packet")
	}
	require.Equal(t, types.KindAudio, decoded.Kind)
	assert.Equal(t, uint32(48000), decoded.Audio.SampleRate)
	assert.Equal(t, uint16(1), decoded.Audio.Channels)
	assert.Equal(t, 960, len(decoded.Audio.Samples()))

	close(encIn)
	close(decIn)
}
