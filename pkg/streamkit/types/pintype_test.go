// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package types

import "testing"

func TestCanConnect_AnyAccepts(t *testing.T) {
	if !CanConnect(Text(), []PacketType{Any()}, DefaultRegistry()) {
		t.Fatal("Any should accept anything")
	}
}

func TestCanConnect_PassthroughProducerAccepted(t *testing.T) {
	if !CanConnect(Passthrough(), []PacketType{Text()}, DefaultRegistry()) {
		t.Fatal("Passthrough producer should be deferred/accepted")
	}
}

func TestCanConnect_PassthroughAccepted(t *testing.T) {
	if !CanConnect(Binary(), []PacketType{Passthrough()}, DefaultRegistry()) {
		t.Fatal("accepting Passthrough should accept anything")
	}
}

func TestCanConnect_StructuralMatch(t *testing.T) {
	produced := RawAudio(AudioFormat{SampleRate: 48000, Channels: 1, SampleFormat: SampleFormatF32})
	accepted := RawAudio(AudioFormat{SampleRate: 48000, Channels: 1, SampleFormat: SampleFormatF32})
	if !CanConnect(produced, []PacketType{accepted}, DefaultRegistry()) {
		t.Fatal("identical audio formats should connect")
	}
}

func TestCanConnect_AudioWildcard(t *testing.T) {
	produced := RawAudio(AudioFormat{SampleRate: 48000, Channels: 2, SampleFormat: SampleFormatF32})
	accepted := RawAudio(AudioFormat{}) // all wildcard
	if !CanConnect(produced, []PacketType{accepted}, DefaultRegistry()) {
		t.Fatal("wildcard AudioFormat should match any concrete format")
	}
}

func TestCanConnect_AudioMismatch(t *testing.T) {
	produced := RawAudio(AudioFormat{SampleRate: 48000, Channels: 1, SampleFormat: SampleFormatF32})
	accepted := RawAudio(AudioFormat{SampleRate: 16000, Channels: 1, SampleFormat: SampleFormatF32})
	if CanConnect(produced, []PacketType{accepted}, DefaultRegistry()) {
		t.Fatal("differing sample rates should not connect")
	}
}

func TestCanConnect_CustomRequiresExactTypeID(t *testing.T) {
	produced := Custom("vad.speech_start@1")
	if !CanConnect(produced, []PacketType{Custom("vad.speech_start@1")}, DefaultRegistry()) {
		t.Fatal("identical Custom type_id should connect")
	}
	if CanConnect(produced, []PacketType{Custom("vad.speech_end@1")}, DefaultRegistry()) {
		t.Fatal("differing Custom type_id should not connect")
	}
}

func TestCanConnect_KindMismatch(t *testing.T) {
	if CanConnect(Text(), []PacketType{Binary()}, DefaultRegistry()) {
		t.Fatal("Text should not connect to Binary")
	}
}

func TestCanConnect_CustomRegisteredRule(t *testing.T) {
	registry := DefaultRegistry()
	registry.Register(PTCustom, func(produced, accepted PacketType) bool {
		return true // looser than default: accept any custom type_id
	})
	if !CanConnect(Custom("a@1"), []PacketType{Custom("b@1")}, registry) {
		t.Fatal("custom registered rule should override default exact match")
	}
}

func TestDynamicCardinalityMatch(t *testing.T) {
	c := Dynamic("in")
	cases := map[string]bool{
		"in":    true,
		"in_0":  true,
		"in_1":  true,
		"input": false,
		"out_0": false,
	}
	for name, want := range cases {
		if got := c.MatchesDynamicName(name); got != want {
			t.Errorf("MatchesDynamicName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestFindInputPin_DynamicFamily(t *testing.T) {
	pins := []InputPin{
		{Name: "control", Cardinality: One()},
		{Name: "in", Cardinality: Dynamic("in")},
	}
	if _, ok := FindInputPin(pins, "in_3"); !ok {
		t.Fatal("expected in_3 to resolve against the dynamic 'in' pin family")
	}
	if _, ok := FindInputPin(pins, "missing"); ok {
		t.Fatal("unrelated pin name should not resolve")
	}
}
