// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package opus implements the §4.7 codec nodes: Decoder turns OpusAudio
// packets into RawAudio frames, Encoder does the reverse. Both wrap
// gopkg.in/hraban/opus.v2, which binds libopus, and pull scratch buffers
// from the shared AudioFramePool rather than allocating per-frame.
package opus

import (
	"encoding/json"
	"time"

	hopus "gopkg.in/hraban/opus.v2"

	"github.com/rapidaai/streamkit/pkg/streamkit/node"
	"github.com/rapidaai/streamkit/pkg/streamkit/skerrors"
	"github.com/rapidaai/streamkit/pkg/streamkit/state"
	"github.com/rapidaai/streamkit/pkg/streamkit/stats"
	"github.com/rapidaai/streamkit/pkg/streamkit/types"
)

// maxFrameSamples bounds one Opus frame at 120ms @ 48kHz stereo, the largest
// frame size libopus supports.
const maxFrameSamples = 48000 / 1000 * 120 * 2

// DecoderConfig configures an Opus Decoder node.
type DecoderConfig struct {
	SampleRate int `json:"sample_rate,omitempty"`
	Channels   int `json:"channels,omitempty"`
}

// Decoder turns a stream of OpusAudio packets on its "in" pin into RawAudio
// frames on "out", one Opus packet per call to dec.DecodeFloat32.
type Decoder struct {
	node.Base
	cfg DecoderConfig
	dec *hopus.Decoder
}

// NewDecoderFactory builds the Opus decode node.Factory.
func NewDecoderFactory() node.Factory {
	return func(params json.RawMessage) (node.Node, error) {
		cfg := DecoderConfig{SampleRate: 48000, Channels: 1}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &cfg); err != nil {
				return nil, skerrors.Configuration("opus.decoder: invalid params: %v", err)
			}
		}
		dec, err := hopus.NewDecoder(cfg.SampleRate, cfg.Channels)
		if err != nil {
			return nil, skerrors.Configuration("opus.decoder: %v", err)
		}
		return &Decoder{cfg: cfg, dec: dec}, nil
	}
}

func (*Decoder) InputPins() []types.InputPin {
	return []types.InputPin{{Name: "in", AcceptsTypes: []types.PacketType{types.OpusAudio()}, Cardinality: types.One()}}
}

func (d *Decoder) OutputPins() []types.OutputPin {
	return []types.OutputPin{{
		Name: "out",
		ProducesType: types.RawAudio(types.AudioFormat{
			SampleRate:   uint32(d.cfg.SampleRate),
			Channels:     uint16(d.cfg.Channels),
			SampleFormat: types.SampleFormatF32,
		}),
		Cardinality: types.Broadcast(),
	}}
}

func (d *Decoder) Run(ctx *node.Context) error {
	ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.New(state.Ready)}
	in := ctx.Inputs["in"]
	running := false
	tracker := stats.NewTracker(1, time.Second)

	for {
		select {
		case pkt, ok := <-in:
			if !ok {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "input_closed")}
				return nil
			}
			if !running {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.New(state.Running)}
				running = true
			}
			if pkt.Binary == nil {
				continue
			}
			tracker.RecordReceived()
			pcm := ctx.AudioPool.Get(maxFrameSamples)
			n, err := d.dec.DecodeFloat32(pkt.Binary.Data, pcm)
			if err != nil {
				ctx.AudioPool.Put(pcm)
				tracker.RecordErrored()
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Failed, err.Error())}
				return err
			}
			samples := make([]float32, n*d.cfg.Channels)
			copy(samples, pcm[:n*d.cfg.Channels])
			ctx.AudioPool.Put(pcm)

			frame := types.NewAudioFrame(uint32(d.cfg.SampleRate), uint16(d.cfg.Channels), samples, nil)
			if err := ctx.Output.Send("out", types.NewAudioPacket(frame)); err != nil {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "output_closed")}
				return nil
			}
			tracker.RecordSent()
			if tracker.ShouldEmit() && ctx.StatsTx != nil {
				select {
				case ctx.StatsTx <- stats.Update{NodeID: ctx.NodeID, Stats: tracker.Snapshot()}:
				default:
				}
			}
		case msg := <-ctx.Control:
			if msg.Kind == node.ControlShutdown {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "shutdown")}
				return nil
			}
		}
	}
}

// EncoderConfig configures an Opus Encoder node.
type EncoderConfig struct {
	SampleRate   int `json:"sample_rate,omitempty"`
	Channels     int `json:"channels,omitempty"`
	FrameSamples int `json:"frame_samples,omitempty"` // per-channel samples per Encode call
	BitrateBps   int `json:"bitrate_bps,omitempty"`
}

// Encoder turns RawAudio frames on "in" into OpusAudio packets on "out".
// Input frames must already be chunked to FrameSamples; a node upstream
// (e.g. a Resampler) is responsible for reframing.
type Encoder struct {
	node.Base
	cfg EncoderConfig
	enc *hopus.Encoder
}

// NewEncoderFactory builds the Opus encode node.Factory.
func NewEncoderFactory() node.Factory {
	return func(params json.RawMessage) (node.Node, error) {
		cfg := EncoderConfig{SampleRate: 48000, Channels: 1, FrameSamples: 960, BitrateBps: 32000}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &cfg); err != nil {
				return nil, skerrors.Configuration("opus.encoder: invalid params: %v", err)
			}
		}
		enc, err := hopus.NewEncoder(cfg.SampleRate, cfg.Channels, hopus.AppVoIP)
		if err != nil {
			return nil, skerrors.Configuration("opus.encoder: %v", err)
		}
		if cfg.BitrateBps > 0 {
			if err := enc.SetBitrate(cfg.BitrateBps); err != nil {
				return nil, skerrors.Configuration("opus.encoder: set_bitrate: %v", err)
			}
		}
		return &Encoder{cfg: cfg, enc: enc}, nil
	}
}

func (e *Encoder) InputPins() []types.InputPin {
	return []types.InputPin{{
		Name: "in",
		AcceptsTypes: []types.PacketType{types.RawAudio(types.AudioFormat{
			SampleRate:   uint32(e.cfg.SampleRate),
			Channels:     uint16(e.cfg.Channels),
			SampleFormat: types.SampleFormatF32,
		})},
		Cardinality: types.One(),
	}}
}

func (*Encoder) OutputPins() []types.OutputPin {
	return []types.OutputPin{{Name: "out", ProducesType: types.OpusAudio(), Cardinality: types.Broadcast()}}
}

func (e *Encoder) Run(ctx *node.Context) error {
	ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.New(state.Ready)}
	in := ctx.Inputs["in"]
	running := false
	tracker := stats.NewTracker(1, time.Second)

	// maxPacket is the worst-case encoded size for a single Opus frame.
	const maxPacket = 4000

	for {
		select {
		case pkt, ok := <-in:
			if !ok {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "input_closed")}
				return nil
			}
			if !running {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.New(state.Running)}
				running = true
			}
			tracker.RecordReceived()
			samples := pkt.Audio.Samples()
			out := make([]byte, maxPacket)
			n, err := e.enc.EncodeFloat32(samples, out)
			if err != nil {
				tracker.RecordErrored()
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Failed, err.Error())}
				return err
			}
			packet := types.NewBinaryPacket(out[:n], nil, pkt.Audio.Metadata)
			if err := ctx.Output.Send("out", packet); err != nil {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "output_closed")}
				return nil
			}
			tracker.RecordSent()
			if tracker.ShouldEmit() && ctx.StatsTx != nil {
				select {
				case ctx.StatsTx <- stats.Update{NodeID: ctx.NodeID, Stats: tracker.Snapshot()}:
				default:
				}
			}
		case msg := <-ctx.Control:
			if msg.Kind == node.ControlShutdown {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "shutdown")}
				return nil
			}
		}
	}
}
