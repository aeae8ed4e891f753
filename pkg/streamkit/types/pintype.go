// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package types

// SampleFormat names the PCM sample encoding of a RawAudio pin.
type SampleFormat int

const (
	SampleFormatUnspecified SampleFormat = iota
	SampleFormatF32
	SampleFormatS16
)

// AudioFormat describes a RawAudio pin's shape. A zero value in any numeric
// field is a wildcard that matches any concrete value in that position —
// this lets a node declare "mono or stereo, any sample rate" by leaving
// SampleRate/Channels at 0.
type AudioFormat struct {
	SampleRate   uint32
	Channels     uint16
	SampleFormat SampleFormat
}

// matches reports whether this format (as an "accepts" side) is compatible
// with produced, honoring 0 as wildcard in either struct.
func (a AudioFormat) matches(produced AudioFormat) bool {
	if a.SampleRate != 0 && produced.SampleRate != 0 && a.SampleRate != produced.SampleRate {
		return false
	}
	if a.Channels != 0 && produced.Channels != 0 && a.Channels != produced.Channels {
		return false
	}
	if a.SampleFormat != SampleFormatUnspecified && produced.SampleFormat != SampleFormatUnspecified &&
		a.SampleFormat != produced.SampleFormat {
		return false
	}
	return true
}

// PacketTypeKind tags which PacketType variant is in play.
type PacketTypeKind int

const (
	PTRawAudio PacketTypeKind = iota
	PTOpusAudio
	PTText
	PTTranscription
	PTBinary
	PTCustom
	PTAny
	PTPassthrough
)

// PacketType is a pin's static type descriptor (declared at node-author
// time, not the runtime Packet itself).
type PacketType struct {
	Kind        PacketTypeKind
	AudioFormat AudioFormat // only meaningful when Kind == PTRawAudio
	CustomID    string      // only meaningful when Kind == PTCustom
}

func RawAudio(f AudioFormat) PacketType  { return PacketType{Kind: PTRawAudio, AudioFormat: f} }
func OpusAudio() PacketType              { return PacketType{Kind: PTOpusAudio} }
func Text() PacketType                   { return PacketType{Kind: PTText} }
func Transcription() PacketType          { return PacketType{Kind: PTTranscription} }
func Binary() PacketType                 { return PacketType{Kind: PTBinary} }
func Custom(typeID string) PacketType    { return PacketType{Kind: PTCustom, CustomID: typeID} }
func Any() PacketType                    { return PacketType{Kind: PTAny} }
func Passthrough() PacketType            { return PacketType{Kind: PTPassthrough} }

func (t PacketType) String() string {
	switch t.Kind {
	case PTRawAudio:
		return "RawAudio"
	case PTOpusAudio:
		return "OpusAudio"
	case PTText:
		return "Text"
	case PTTranscription:
		return "Transcription"
	case PTBinary:
		return "Binary"
	case PTCustom:
		return "Custom{" + t.CustomID + "}"
	case PTAny:
		return "Any"
	case PTPassthrough:
		return "Passthrough"
	default:
		return "Unknown"
	}
}

// CompatRule is a registered structural-equality override for a given
// PacketTypeKind. The default rule (structural equality with AudioFormat
// wildcards, exact CustomID match) covers every built-in kind; CompatRule
// exists so a host application can register a looser/stricter rule for a
// kind it owns without forking can_connect.
type CompatRule func(produced, accepted PacketType) bool

// Registry maps a PacketTypeKind to its compatibility rule.
type Registry struct {
	rules map[PacketTypeKind]CompatRule
}

// DefaultRegistry returns the registry with the built-in structural rules.
func DefaultRegistry() *Registry {
	return &Registry{rules: map[PacketTypeKind]CompatRule{}}
}

// Register installs a custom compatibility rule for a PacketTypeKind,
// overriding the default structural-equality comparison.
func (r *Registry) Register(kind PacketTypeKind, rule CompatRule) {
	r.rules[kind] = rule
}

func (r *Registry) ruleFor(kind PacketTypeKind) CompatRule {
	if r != nil {
		if rule, ok := r.rules[kind]; ok {
			return rule
		}
	}
	return defaultStructuralRule
}

func defaultStructuralRule(produced, accepted PacketType) bool {
	if produced.Kind != accepted.Kind {
		return false
	}
	switch accepted.Kind {
	case PTRawAudio:
		return accepted.AudioFormat.matches(produced.AudioFormat)
	case PTCustom:
		return accepted.CustomID == produced.CustomID
	default:
		return true
	}
}

// CanConnect implements the §4.1 type compatibility algorithm:
//  1. Any accepted type of Any or Passthrough always accepts.
//  2. A Passthrough producer is always accepted (deferred to runtime).
//  3. Otherwise each accepted type is checked via its registered rule
//     (default: structural equality with AudioFormat wildcards, exact
//     CustomID match for Custom).
func CanConnect(produced PacketType, accepted []PacketType, registry *Registry) bool {
	for _, a := range accepted {
		if a.Kind == PTAny || a.Kind == PTPassthrough {
			return true
		}
	}
	if produced.Kind == PTPassthrough {
		return true
	}
	for _, a := range accepted {
		rule := registry.ruleFor(a.Kind)
		if rule(produced, a) {
			return true
		}
	}
	return false
}
