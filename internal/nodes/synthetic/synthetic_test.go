// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package synthetic

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/streamkit/pkg/streamkit/node"
	"github.com/rapidaai/streamkit/pkg/streamkit/state"
	"github.com/rapidaai/streamkit/pkg/streamkit/types"
)

func TestIsSynthetic(t *testing.T) {
	assert.True(t, IsSynthetic(KindHTTPInput))
	assert.True(t, IsSynthetic(KindHTTPOutput))
	assert.False(t, IsSynthetic("text_source"))
}

func TestHTTPInputEmitsChunksThenStopsOnEOF(t *testing.T) {
	src := strings.NewReader("hello world")
	n, err := NewHTTPInputFactory(src)(nil)
	require.NoError(t, err)

	out := make(chan types.Packet, 4)
	control := make(chan node.ControlMessage, 1)
	stateTx := make(chan state.Update, 4)
	ctx := &node.Context{
		NodeID:  "in",
		Control: control,
		Output:  node.NewDirectOutputSender(map[string]chan<- types.Packet{"out": out}),
		StateTx: stateTx,
	}

	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	var collected []byte
	for {
		select {
		case pkt := <-out:
			collected = append(collected, pkt.Binary.Data...)
		case err := <-done:
			require.NoError(t, err)
			assert.Equal(t, "hello world", string(collected))
			return
		case <-time.After(time.Second):
			t.Fatal("http_input did not complete")
		}
	}
}

func TestHTTPOutputWritesReceivedPackets(t *testing.T) {
	var sink bytes.Buffer
	n, err := NewHTTPOutputFactory(&sink)(nil)
	require.NoError(t, err)

	in := make(chan types.Packet, 2)
	control := make(chan node.ControlMessage, 1)
	stateTx := make(chan state.Update, 4)
	ctx := &node.Context{
		NodeID:  "out",
		Inputs:  map[string]<-chan types.Packet{"in": in},
		Control: control,
		StateTx: stateTx,
	}

	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	in <- types.NewBinaryPacket([]byte("abc"), nil, nil)
	in <- types.NewBinaryPacket([]byte("def"), nil, nil)
	close(in)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("http_output did not exit on input close")
	}
	assert.Equal(t, "abcdef", sink.String())
}
