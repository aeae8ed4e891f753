// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerAcquireSharesSingleBuild(t *testing.T) {
	m := NewManager()
	builds := 0
	build := func() (interface{}, func(), error) {
		builds++
		return "model", nil, nil
	}

	v1, err := m.Acquire("model-a", Policy{}, build)
	require.NoError(t, err)
	v2, err := m.Acquire("model-a", Policy{}, build)
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, builds)
	assert.Equal(t, 1, m.Len())
}

func TestManagerReleaseEvictsWhenNotKeepLoaded(t *testing.T) {
	m := NewManager()
	closed := false
	build := func() (interface{}, func(), error) {
		return "model", func() { closed = true }, nil
	}

	_, err := m.Acquire("model-b", Policy{KeepLoaded: false}, build)
	require.NoError(t, err)

	m.Release("model-b")
	assert.True(t, closed)
	assert.Equal(t, 0, m.Len())
}

func TestManagerKeepLoadedSurvivesRelease(t *testing.T) {
	m := NewManager()
	closed := false
	build := func() (interface{}, func(), error) {
		return "model", func() { closed = true }, nil
	}

	_, err := m.Acquire("model-c", Policy{KeepLoaded: true}, build)
	require.NoError(t, err)

	m.Release("model-c")
	assert.False(t, closed)
	assert.Equal(t, 1, m.Len())
}

func TestAudioFramePoolReusesByCapacity(t *testing.T) {
	p := NewAudioFramePool()
	buf := p.Get(960)
	assert.Len(t, buf, 960)

	p.Put(buf)
	reused := p.Get(960)
	assert.Len(t, reused, 960)
	assert.Same(t, &buf[0], &reused[0])
}
