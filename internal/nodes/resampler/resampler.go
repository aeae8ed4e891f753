// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package resampler implements the §4.7 Resampler node: sample-rate
// conversion between two RawAudio formats, wrapping
// github.com/tphakala/go-audio-resampler the way the teacher's own
// internal/audio/resampler package wraps it for WebRTC<->internal format
// conversion — one resampler instance built once per node and reused across
// every packet so its internal history carries across packet boundaries.
package resampler

import (
	"encoding/json"
	"time"

	"github.com/rapidaai/streamkit/pkg/streamkit/node"
	"github.com/rapidaai/streamkit/pkg/streamkit/skerrors"
	"github.com/rapidaai/streamkit/pkg/streamkit/state"
	"github.com/rapidaai/streamkit/pkg/streamkit/stats"
	"github.com/rapidaai/streamkit/pkg/streamkit/types"
)

// Config configures a Resampler node's input and output formats.
type Config struct {
	InputSampleRate  int `json:"input_sample_rate"`
	OutputSampleRate int `json:"output_sample_rate"`
	Channels         int `json:"channels,omitempty"`
}

// Resampler converts RawAudio frames from Config.InputSampleRate to
// Config.OutputSampleRate via the wrapped go-audio-resampler instance.
type Resampler struct {
	node.Base
	cfg Config
	lib *libResampler
}

// NewFactory builds the resampler node.Factory.
func NewFactory() node.Factory {
	return func(params json.RawMessage) (node.Node, error) {
		cfg := Config{Channels: 1}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &cfg); err != nil {
				return nil, skerrors.Configuration("resampler: invalid params: %v", err)
			}
		}
		if cfg.InputSampleRate <= 0 || cfg.OutputSampleRate <= 0 {
			return nil, skerrors.Configuration("resampler: input_sample_rate and output_sample_rate must be positive")
		}
		if cfg.Channels <= 0 {
			cfg.Channels = 1
		}
		lib, err := newLibResampler(cfg.InputSampleRate, cfg.OutputSampleRate, cfg.Channels)
		if err != nil {
			return nil, err
		}
		return &Resampler{cfg: cfg, lib: lib}, nil
	}
}

func (r *Resampler) InputPins() []types.InputPin {
	return []types.InputPin{{
		Name: "in",
		AcceptsTypes: []types.PacketType{types.RawAudio(types.AudioFormat{
			SampleRate:   uint32(r.cfg.InputSampleRate),
			Channels:     uint16(r.cfg.Channels),
			SampleFormat: types.SampleFormatF32,
		})},
		Cardinality: types.One(),
	}}
}

func (r *Resampler) OutputPins() []types.OutputPin {
	return []types.OutputPin{{
		Name: "out",
		ProducesType: types.RawAudio(types.AudioFormat{
			SampleRate:   uint32(r.cfg.OutputSampleRate),
			Channels:     uint16(r.cfg.Channels),
			SampleFormat: types.SampleFormatF32,
		}),
		Cardinality: types.Broadcast(),
	}}
}

func (r *Resampler) Run(ctx *node.Context) error {
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
			tracker.RecordReceived()
			out, err := r.lib.resample(pkt.Audio.Samples())
			if err != nil {
				tracker.RecordErrored()
				continue
			}
			frame := types.NewAudioFrame(uint32(r.cfg.OutputSampleRate), uint16(r.cfg.Channels), out, pkt.Audio.Metadata)
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
