// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package node

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rapidaai/streamkit/pkg/streamkit/skerrors"
)

// Factory builds a Node from optional JSON params. Factories must accept a
// nil params for schema inspection — the returned node is used only to read
// its declared pins, never Run, in that case (§6 "Node registry").
type Factory func(params json.RawMessage) (Node, error)

// Registry maps a node `kind` string to its Factory, used by AddNode.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs a factory under kind. Re-registering a kind overwrites
// the previous factory, matching a dev-reload-friendly registry.
func (r *Registry) Register(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Create looks up kind and invokes its factory. An unknown kind is a
// Configuration error, matching AddNode's "factory must produce a node; on
// failure, log and drop" contract (§4.2).
func (r *Registry) Create(kind string, params json.RawMessage) (Node, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, skerrors.Configuration("unknown node kind %q", kind)
	}
	n, err := factory(params)
	if err != nil {
		return nil, skerrors.Configuration("factory for %q: %v", kind, err)
	}
	if n == nil {
		return nil, skerrors.Configuration("factory for %q returned nil node", kind)
	}
	return n, nil
}

// Inspect builds a schema-only node (params=nil) for introspection, without
// ever calling Initialize/Run on it.
func (r *Registry) Inspect(kind string) (Node, error) {
	return r.Create(kind, nil)
}

// Kinds returns every registered kind name, sorted for deterministic output.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) String() string {
	return fmt.Sprintf("Registry{%d kinds}", len(r.Kinds()))
}
