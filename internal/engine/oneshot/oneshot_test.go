// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package oneshot

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/streamkit/internal/nodes/synthetic"
	"github.com/rapidaai/streamkit/pkg/commons"
	"github.com/rapidaai/streamkit/pkg/streamkit/config"
	"github.com/rapidaai/streamkit/pkg/streamkit/node"
)

func TestRunnerDrivesHTTPInputToHTTPOutput(t *testing.T) {
	r := NewRunner(node.NewRegistry(), config.New(), commons.NewNopLogger())

	g := Graph{
		Nodes: []NodeSpec{
			{NodeID: "in", Kind: synthetic.KindHTTPInput},
			{NodeID: "out", Kind: synthetic.KindHTTPOutput},
		},
		Edges: []EdgeSpec{
			{FromNode: "in", FromPin: "out", ToNode: "out", ToPin: "in"},
		},
	}

	src := strings.NewReader("payload bytes")
	var sink bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := r.Run(ctx, g, synthetic.NewHTTPInputFactory(src), synthetic.NewHTTPOutputFactory(&sink))
	require.NoError(t, err)
	assert.Equal(t, "payload bytes", sink.String())
}

func TestRunnerRejectsIncompatibleEdge(t *testing.T) {
	r := NewRunner(node.NewRegistry(), config.New(), commons.NewNopLogger())

	g := Graph{
		Nodes: []NodeSpec{
			{NodeID: "in", Kind: synthetic.KindHTTPInput},
			{NodeID: "out", Kind: synthetic.KindHTTPOutput},
		},
		Edges: []EdgeSpec{
			{FromNode: "in", FromPin: "nonexistent", ToNode: "out", ToPin: "in"},
		},
	}

	err := r.Run(context.Background(), g, synthetic.NewHTTPInputFactory(strings.NewReader("x")), synthetic.NewHTTPOutputFactory(&bytes.Buffer{}))
	assert.Error(t, err)
}

func TestRunnerMissingSyntheticFactoryIsError(t *testing.T) {
	r := NewRunner(node.NewRegistry(), config.New(), commons.NewNopLogger())

	g := Graph{
		Nodes: []NodeSpec{{NodeID: "in", Kind: synthetic.KindHTTPInput}},
	}

	err := r.Run(context.Background(), g, nil, nil)
	assert.Error(t, err)
}
