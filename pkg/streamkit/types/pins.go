// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package types

import "strings"

// CardinalityKind tags how many connections a pin may participate in.
type CardinalityKind int

const (
	// CardinalityOne is a 1:1 pin.
	CardinalityOne CardinalityKind = iota
	// CardinalityBroadcast is a 1:N fan-out output pin.
	CardinalityBroadcast
	// CardinalityDynamic names a family of pins ("prefix" or "prefix_N")
	// materialized on demand by the dynamic-pin handshake.
	CardinalityDynamic
)

// Cardinality describes a pin's connection multiplicity.
type Cardinality struct {
	Kind   CardinalityKind
	Prefix string // only meaningful when Kind == CardinalityDynamic
}

func One() Cardinality       { return Cardinality{Kind: CardinalityOne} }
func Broadcast() Cardinality { return Cardinality{Kind: CardinalityBroadcast} }
func Dynamic(prefix string) Cardinality {
	return Cardinality{Kind: CardinalityDynamic, Prefix: prefix}
}

// MatchesDynamicName reports whether pinName belongs to this pin's dynamic
// family: either exactly the prefix, or prefix followed by "_" and a suffix.
func (c Cardinality) MatchesDynamicName(pinName string) bool {
	if c.Kind != CardinalityDynamic {
		return false
	}
	if pinName == c.Prefix {
		return true
	}
	rest, ok := strings.CutPrefix(pinName, c.Prefix)
	return ok && strings.HasPrefix(rest, "_")
}

// InputPin is a named, typed input port on a node.
type InputPin struct {
	Name         string
	AcceptsTypes []PacketType
	Cardinality  Cardinality
}

// OutputPin is a named, typed output port on a node.
type OutputPin struct {
	Name         string
	ProducesType PacketType
	Cardinality  Cardinality
}

// FindInputPin resolves name against exact pin names first, then against
// any Dynamic-cardinality pin whose family the name belongs to.
func FindInputPin(pins []InputPin, name string) (InputPin, bool) {
	for _, p := range pins {
		if p.Name == name {
			return p, true
		}
	}
	for _, p := range pins {
		if p.Cardinality.MatchesDynamicName(name) {
			return p, true
		}
	}
	return InputPin{}, false
}

// FindOutputPin resolves name the same way as FindInputPin, for output pins.
func FindOutputPin(pins []OutputPin, name string) (OutputPin, bool) {
	for _, p := range pins {
		if p.Name == name {
			return p, true
		}
	}
	for _, p := range pins {
		if p.Cardinality.MatchesDynamicName(name) {
			return p, true
		}
	}
	return OutputPin{}, false
}
