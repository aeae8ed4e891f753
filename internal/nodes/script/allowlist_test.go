// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package script

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rapidaai/streamkit/pkg/commons"
)

func TestAllowlistEmptyBlocksEverything(t *testing.T) {
	compiled := compileAllowlist(nil, commons.NewNopLogger())
	assert.False(t, allows(compiled, "https://api.example.com/v1/x", "GET"))
}

func TestAllowlistWildcardHostAndPath(t *testing.T) {
	compiled := compileAllowlist([]AllowlistRule{
		{URLPattern: "https://*.example.com/v1/*", Methods: []string{"GET", "POST"}},
	}, commons.NewNopLogger())

	assert.True(t, allows(compiled, "https://api.example.com/v1/users", "GET"))
	assert.True(t, allows(compiled, "https://api.example.com/v1/users", "post"))
	assert.False(t, allows(compiled, "https://api.example.com/v2/users", "GET"))
	assert.False(t, allows(compiled, "https://evil.com/v1/users", "GET"))
	assert.False(t, allows(compiled, "https://api.example.com/v1/users", "DELETE"))
}

func TestAllowlistInvalidPatternIsIgnored(t *testing.T) {
	compiled := compileAllowlist([]AllowlistRule{
		{URLPattern: "not-a-url-pattern"},
		{URLPattern: "https://good.example.com/*", Methods: []string{"GET"}},
	}, commons.NewNopLogger())
	assert.Len(t, compiled, 1)
	assert.True(t, allows(compiled, "https://good.example.com/anything", "GET"))
}
