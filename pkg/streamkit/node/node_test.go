// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package node

import (
	"testing"

	"github.com/rapidaai/streamkit/pkg/streamkit/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectOutputSenderRoutesByPinName(t *testing.T) {
	out := make(chan types.Packet, 1)
	sender := NewDirectOutputSender(map[string]chan<- types.Packet{"out": out})

	err := sender.Send("out", types.NewTextPacket("hi"))
	require.NoError(t, err)

	got := <-out
	assert.Equal(t, "hi", got.Text)
}

func TestDirectOutputSenderUnknownPinIsConfigurationError(t *testing.T) {
	sender := NewDirectOutputSender(map[string]chan<- types.Packet{})
	err := sender.Send("missing", types.NewTextPacket("x"))
	assert.Error(t, err)
}

func TestDirectOutputSenderClosedChannelReturnsError(t *testing.T) {
	out := make(chan types.Packet, 1)
	close(out)
	sender := NewDirectOutputSender(map[string]chan<- types.Packet{"out": out})

	err := sender.Send("out", types.NewTextPacket("hi"))
	assert.Error(t, err)
}

func TestBaseDefaultsToNoDynamicPins(t *testing.T) {
	var b Base
	assert.False(t, b.SupportsDynamicPins())

	update, err := b.Initialize(nil, InitContext{})
	require.NoError(t, err)
	assert.Equal(t, NoChange, update.Kind)
}
