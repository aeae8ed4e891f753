// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package state defines node lifecycle states and the update messages nodes
// emit through NodeContext.StateTx (§3 Invariants, §4.4).
package state

// Kind is a node's lifecycle state. History is monotone through
// Initializing -> Ready -> Running and from there may enter Recovering,
// Degraded, Failed, or Stopped; Failed and Stopped are absorbing.
type Kind int

const (
	Initializing Kind = iota
	Ready
	Running
	Recovering
	Degraded
	Failed
	Stopped
)

// State is a lifecycle state together with its optional human-readable
// reason (populated for Recovering/Degraded/Failed/Stopped).
type State struct {
	Kind   Kind
	Reason string
}

func (s State) Name() string {
	switch s.Kind {
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Recovering:
		return "recovering"
	case Degraded:
		return "degraded"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether this state is absorbing (Failed or Stopped):
// no further transitions are expected once a node reaches one of these.
func (s State) IsTerminal() bool {
	return s.Kind == Failed || s.Kind == Stopped
}

// IsActivatable reports whether the activation barrier (§4.2) considers
// this state "ready to run": Ready or Running.
func (s State) IsActivatable() bool {
	return s.Kind == Ready || s.Kind == Running
}

func New(kind Kind) State                    { return State{Kind: kind} }
func NewWithReason(kind Kind, reason string) State { return State{Kind: kind, Reason: reason} }

// Update is the message a node (or the engine, on its behalf) sends to
// report a lifecycle transition.
type Update struct {
	NodeID string
	State  State
}
