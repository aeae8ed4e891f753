// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAppliesDefaults(t *testing.T) {
	cfg := New()
	assert.Greater(t, cfg.NodeInputCapacity, 0)
	assert.Greater(t, cfg.PinDistributorCapacity, 0)
	assert.Greater(t, cfg.ControlCapacity, 0)
}

func TestOptionsOverrideDefaults(t *testing.T) {
	cfg := New(
		WithNodeInputCapacity(128),
		WithControlCapacity(4),
	)
	assert.Equal(t, 128, cfg.NodeInputCapacity)
	assert.Equal(t, 4, cfg.ControlCapacity)
	// Untouched fields keep their default.
	assert.Equal(t, defaults().PinDistributorCapacity, cfg.PinDistributorCapacity)
}
