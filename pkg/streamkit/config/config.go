// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package config holds the §5 channel-capacity tunables shared by every
// engine, built with functional options in the style of the teacher's
// channel_base.Option (WithInputChannelSize, WithOutputChannelSize, ...).
package config

// GlobalConfig is set once at engine start and read by every codec,
// container, and engine component that allocates a bounded channel.
type GlobalConfig struct {
	// NodeInputCapacity bounds each node's per-pin input channel.
	NodeInputCapacity int
	// PinDistributorCapacity bounds a Pin Distributor's incoming data channel.
	PinDistributorCapacity int
	// CodecChannelCapacity bounds channels feeding dedicated codec threads
	// (Opus encode/decode).
	CodecChannelCapacity int
	// StreamChannelCapacity bounds generic byte-stream staging channels.
	StreamChannelCapacity int
	// DemuxerBufferSize bounds container demuxer read-ahead buffering.
	DemuxerBufferSize int
	// MOQPeerChannelCapacity bounds per-peer channels for MOQ-style fan-out.
	MOQPeerChannelCapacity int
	// ControlCapacity bounds every control/config channel in the system:
	// node control channels, distributor config channels, pin-management
	// channels, engine control/query channels.
	ControlCapacity int
}

// Option mutates a GlobalConfig under construction.
type Option func(*GlobalConfig)

// defaults are sized for 48kHz/20ms stereo f32 frames (960 samples/channel,
// 7680 bytes/frame) flowing without stalling while keeping memory bounded:
// a handful of frames of slack per channel, not an unbounded buffer.
func defaults() GlobalConfig {
	return GlobalConfig{
		NodeInputCapacity:      64,
		PinDistributorCapacity: 64,
		CodecChannelCapacity:   32,
		StreamChannelCapacity:  32,
		DemuxerBufferSize:      16,
		MOQPeerChannelCapacity: 32,
		ControlCapacity:        16,
	}
}

// New builds a GlobalConfig from defaults, applying opts in order.
func New(opts ...Option) GlobalConfig {
	cfg := defaults()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func WithNodeInputCapacity(n int) Option {
	return func(c *GlobalConfig) { c.NodeInputCapacity = n }
}

func WithPinDistributorCapacity(n int) Option {
	return func(c *GlobalConfig) { c.PinDistributorCapacity = n }
}

func WithCodecChannelCapacity(n int) Option {
	return func(c *GlobalConfig) { c.CodecChannelCapacity = n }
}

func WithStreamChannelCapacity(n int) Option {
	return func(c *GlobalConfig) { c.StreamChannelCapacity = n }
}

func WithDemuxerBufferSize(n int) Option {
	return func(c *GlobalConfig) { c.DemuxerBufferSize = n }
}

func WithMOQPeerChannelCapacity(n int) Option {
	return func(c *GlobalConfig) { c.MOQPeerChannelCapacity = n }
}

func WithControlCapacity(n int) Option {
	return func(c *GlobalConfig) { c.ControlCapacity = n }
}
