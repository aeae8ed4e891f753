// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package types defines the packet and pin-type model that flows through
// every StreamKit pipeline: the tagged Packet variants, the static
// PacketType pin descriptors, and the can_connect compatibility predicate.
package types

import (
	"encoding/json"
)

// PacketMetadata flows through the graph alongside a Packet. Transforms
// should preserve it or recompute timestamp_us/duration_us/sequence when
// they change the packet's timing.
type PacketMetadata struct {
	TimestampUs *int64 `json:"timestamp_us,omitempty"`
	DurationUs  *int64 `json:"duration_us,omitempty"`
	Sequence    *int64 `json:"sequence,omitempty"`
}

// Clone returns a shallow copy; PacketMetadata has no shared mutable state
// so a shallow copy is a full copy.
func (m *PacketMetadata) Clone() *PacketMetadata {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// AudioFrame is the Audio packet payload. Samples are interleaved f32 and
// shared via copy-on-write: fan-out clones the slice header only, never the
// backing array, until a node calls MakeMut.
type AudioFrame struct {
	SampleRate uint32
	Channels   uint16
	samples    *sharedSamples
	Metadata   *PacketMetadata
}

type sharedSamples struct {
	data []float32
}

// NewAudioFrame wraps samples for copy-on-write sharing across fan-out.
func NewAudioFrame(sampleRate uint32, channels uint16, samples []float32, meta *PacketMetadata) AudioFrame {
	return AudioFrame{
		SampleRate: sampleRate,
		Channels:   channels,
		samples:    &sharedSamples{data: samples},
		Metadata:   meta,
	}
}

// Samples returns the shared, read-only sample slice. Callers must not
// mutate it in place — use MakeMut to obtain an exclusive copy first.
func (f AudioFrame) Samples() []float32 {
	if f.samples == nil {
		return nil
	}
	return f.samples.data
}

// MakeMut returns an AudioFrame whose sample buffer is safe to mutate in
// place: if this frame's buffer is still shared (refcount > 1 in spirit — Go
// has no refcount, so we conservatively always copy on first MakeMut call
// per clone chain), a fresh copy is allocated.
func (f AudioFrame) MakeMut() AudioFrame {
	src := f.Samples()
	cp := make([]float32, len(src))
	copy(cp, src)
	f.samples = &sharedSamples{data: cp}
	return f
}

// shallowCloneSamples is what Clone uses: share the same backing array, the
// definition of "cheap" fan-out cloning for audio.
func (f AudioFrame) shallowCloneSamples() *sharedSamples {
	return f.samples
}

// TranscriptionSegment is one timed span of a transcription result.
type TranscriptionSegment struct {
	Text      string   `json:"text"`
	StartMs   int64    `json:"start_ms"`
	EndMs     int64    `json:"end_ms"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// TranscriptionData is shared across clones: Packet holds it by pointer, so
// a clone points at the same struct, and callers are expected to treat a
// cloned Packet's TranscriptionData as read-only, matching the Rust
// Arc<TranscriptionData> sharing contract.
type TranscriptionData struct {
	Text     string                 `json:"text"`
	Language *string                `json:"language,omitempty"`
	Segments []TranscriptionSegment `json:"segments,omitempty"`
	Metadata *PacketMetadata        `json:"metadata,omitempty"`
}

// CustomPacketData is the extensibility escape hatch: an arbitrary JSON
// payload routed by TypeID, which by convention carries a "name@version"
// shape (e.g. "vad.speech_start@1").
type CustomPacketData struct {
	TypeID   string          `json:"type_id"`
	Encoding string          `json:"encoding"` // always "json" today
	Data     json.RawMessage `json:"data"`
	Metadata *PacketMetadata `json:"metadata,omitempty"`
}

// PacketKind tags which variant a Packet holds.
type PacketKind int

const (
	KindAudio PacketKind = iota
	KindText
	KindTranscription
	KindBinary
	KindCustom
)

func (k PacketKind) String() string {
	switch k {
	case KindAudio:
		return "Audio"
	case KindText:
		return "Text"
	case KindTranscription:
		return "Transcription"
	case KindBinary:
		return "Binary"
	case KindCustom:
		return "Custom"
	default:
		return "Unknown"
	}
}

// BinaryData is reference-counted in the Rust original via Bytes/Arc<[u8]>;
// in Go we share the backing array across clones and rely on callers never
// mutating a received Binary packet's Data in place.
type BinaryData struct {
	Data        []byte
	ContentType *string
	Metadata    *PacketMetadata
}

// Packet is the tagged variant that flows along every edge in the graph.
// Exactly one of the typed fields is populated, selected by Kind.
type Packet struct {
	Kind           PacketKind
	Audio          AudioFrame
	Text           string
	Transcription  *TranscriptionData
	Binary         *BinaryData
	Custom         *CustomPacketData
}

// NewTextPacket builds a Text packet.
func NewTextPacket(text string) Packet {
	return Packet{Kind: KindText, Text: text}
}

// NewAudioPacket builds an Audio packet.
func NewAudioPacket(frame AudioFrame) Packet {
	return Packet{Kind: KindAudio, Audio: frame}
}

// NewBinaryPacket builds a Binary packet.
func NewBinaryPacket(data []byte, contentType *string, meta *PacketMetadata) Packet {
	return Packet{Kind: KindBinary, Binary: &BinaryData{Data: data, ContentType: contentType, Metadata: meta}}
}

// NewTranscriptionPacket builds a Transcription packet.
func NewTranscriptionPacket(d *TranscriptionData) Packet {
	return Packet{Kind: KindTranscription, Transcription: d}
}

// NewCustomPacket builds a Custom packet.
func NewCustomPacket(d *CustomPacketData) Packet {
	return Packet{Kind: KindCustom, Custom: d}
}

// Clone returns a cheap copy suitable for pin-distributor fan-out: shared
// variants (Audio samples, Transcription, Custom, Binary data) share their
// backing storage; only the Packet struct itself and its pointers/headers
// are duplicated.
func (p Packet) Clone() Packet {
	c := p
	if p.Kind == KindAudio {
		c.Audio.samples = p.Audio.shallowCloneSamples()
		c.Audio.Metadata = p.Audio.Metadata.Clone()
	}
	return c
}

// Metadata returns the PacketMetadata carried by whichever variant is set,
// or nil if the variant carries none (e.g. Text, which has no wrapper).
func (p Packet) Metadata() *PacketMetadata {
	switch p.Kind {
	case KindAudio:
		return p.Audio.Metadata
	case KindTranscription:
		if p.Transcription != nil {
			return p.Transcription.Metadata
		}
	case KindBinary:
		if p.Binary != nil {
			return p.Binary.Metadata
		}
	case KindCustom:
		if p.Custom != nil {
			return p.Custom.Metadata
		}
	}
	return nil
}
