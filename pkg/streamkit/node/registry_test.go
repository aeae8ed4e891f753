// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package node

import (
	"encoding/json"
	"testing"

	"github.com/rapidaai/streamkit/pkg/streamkit/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubNode struct {
	Base
	inputs []types.InputPin
}

func (s *stubNode) InputPins() []types.InputPin   { return s.inputs }
func (s *stubNode) OutputPins() []types.OutputPin { return nil }
func (s *stubNode) Run(*Context) error             { return nil }

func TestRegistryCreateUnknownKindIsConfigurationError(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("nonexistent", nil)
	require.Error(t, err)
}

func TestRegistryCreateAndInspect(t *testing.T) {
	r := NewRegistry()
	r.Register("stub", func(params json.RawMessage) (Node, error) {
		return &stubNode{inputs: []types.InputPin{{Name: "in"}}}, nil
	})

	n, err := r.Create("stub", nil)
	require.NoError(t, err)
	assert.Len(t, n.InputPins(), 1)

	// Factories must accept nil params for schema inspection without ever
	// running Initialize/Run.
	schema, err := r.Inspect("stub")
	require.NoError(t, err)
	assert.Equal(t, "in", schema.InputPins()[0].Name)
}

func TestRegistryKindsSorted(t *testing.T) {
	r := NewRegistry()
	r.Register("zeta", func(json.RawMessage) (Node, error) { return &stubNode{}, nil })
	r.Register("alpha", func(json.RawMessage) (Node, error) { return &stubNode{}, nil })

	assert.Equal(t, []string{"alpha", "zeta"}, r.Kinds())
}
