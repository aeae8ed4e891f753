// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package mixer implements the §5 Mixer special case: a dynamic-pin
// additive audio mixer whose output channel count is sticky (monotone
// non-decreasing) and which runs in either event-driven mode (mix on every
// SyncTimeout tick, inputs with no frame since the last tick contributing
// silence; it does not mix early when every input already has a frame) or
// clocked mode (a dedicated goroutine ticks at
// frame_samples/sample_rate and reads each input's ring buffer).
package mixer

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/rapidaai/streamkit/pkg/streamkit/node"
	"github.com/rapidaai/streamkit/pkg/streamkit/skerrors"
	"github.com/rapidaai/streamkit/pkg/streamkit/state"
	"github.com/rapidaai/streamkit/pkg/streamkit/types"
)

// defaultSyncTimeout is the event-driven mode degrade-to-silence bound: two
// 20ms frames, per SPEC_FULL.md's supplemented feature 8.
const defaultSyncTimeout = 40 * time.Millisecond

// Config configures a Mixer node. Zero-valued fields take the default shown
// in NewFactory, so partial JSON (or json.Marshal of a partially-populated
// Config) is exactly "use the default for whatever I didn't set".
type Config struct {
	SampleRate int `json:"sample_rate,omitempty"`
	// Clocked selects the dedicated-goroutine ticking mode over event-driven.
	Clocked bool `json:"clocked,omitempty"`
	// FrameSamples is the per-channel sample count per mix tick in clocked
	// mode (e.g. 960 for 20ms @ 48kHz).
	FrameSamples int `json:"frame_samples,omitempty"`
	// SyncTimeoutMs overrides defaultSyncTimeout for event-driven mode.
	SyncTimeoutMs int `json:"sync_timeout_ms,omitempty"`
}

// Mixer is a dynamic-input-pin node: every "in_*" pin is a mono-or-stereo
// RawAudio source; output "out" is the additive mix at the highest channel
// count seen so far (sticky — never decreases).
type Mixer struct {
	node.Base
	cfg Config

	mu           sync.Mutex
	stickyChans  uint16
	inputs       map[string]*mixerInput
}

type mixerInput struct {
	recv <-chan types.Packet
	ring *ringbuffer.RingBuffer
}

// NewFactory builds the mixer node.Factory.
func NewFactory() node.Factory {
	return func(params json.RawMessage) (node.Node, error) {
		cfg := Config{SampleRate: 48000, FrameSamples: 960, SyncTimeoutMs: int(defaultSyncTimeout / time.Millisecond)}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &cfg); err != nil {
				return nil, skerrors.Configuration("mixer: invalid params: %v", err)
			}
		}
		if cfg.SampleRate <= 0 {
			return nil, skerrors.Configuration("mixer: sample_rate must be positive")
		}
		return &Mixer{cfg: cfg, inputs: make(map[string]*mixerInput)}, nil
	}
}

func (*Mixer) SupportsDynamicPins() bool { return true }

func (*Mixer) InputPins() []types.InputPin { return nil }

func (m *Mixer) OutputPins() []types.OutputPin {
	return []types.OutputPin{{
		Name:         "out",
		ProducesType: types.RawAudio(types.AudioFormat{SampleRate: uint32(m.cfg.SampleRate)}),
		Cardinality:  types.Broadcast(),
	}}
}

func (m *Mixer) syncTimeout() time.Duration {
	if m.cfg.SyncTimeoutMs <= 0 {
		return defaultSyncTimeout
	}
	return time.Duration(m.cfg.SyncTimeoutMs) * time.Millisecond
}

// Run owns the dynamic-pin handshake (accepting every "in_*" pin request)
// and dispatches to the event-driven or clocked mix loop per Config.Clocked.
func (m *Mixer) Run(ctx *node.Context) error {
	ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.New(state.Ready)}
	ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.New(state.Running)}

	shutdown := make(chan struct{})
	go m.handlePinManagement(ctx, shutdown)

	if m.cfg.Clocked {
		m.runClocked(ctx, shutdown)
	} else {
		m.runEventDriven(ctx, shutdown)
	}
	ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "shutdown")}
	return nil
}

// handlePinManagement accepts every RequestAddInputPin (a mixer never
// declines an input) and integrates AddedInputPin/RemoveInputPin.
func (m *Mixer) handlePinManagement(ctx *node.Context, shutdown chan struct{}) {
	for {
		select {
		case msg, ok := <-ctx.PinManagementRx:
			if !ok {
				return
			}
			switch {
			case msg.RequestAddInputPin != nil:
				pin := types.InputPin{
					Name:         msg.RequestAddInputPin.SuggestedName,
					AcceptsTypes: []types.PacketType{types.RawAudio(types.AudioFormat{SampleRate: uint32(m.cfg.SampleRate)})},
					Cardinality:  types.One(),
				}
				select {
				case msg.RequestAddInputPin.ResponseTx <- (node.AddInputPinResult{Pin: pin}):
				default:
				}
			case msg.AddedInputPin != nil:
				m.mu.Lock()
				m.inputs[msg.AddedInputPin.Pin.Name] = &mixerInput{
					recv: msg.AddedInputPin.Receiver,
					ring: ringbuffer.New(m.cfg.FrameSamples * 4 * 4),
				}
				m.mu.Unlock()
			case msg.RemoveInputPin != nil:
				m.mu.Lock()
				delete(m.inputs, msg.RemoveInputPin.PinName)
				m.mu.Unlock()
			}
		case <-shutdown:
			return
		}
	}
}

// runEventDriven mixes once per SyncTimeout tick, using the latest frame each
// input delivered since the previous tick (missing inputs degrade to
// silence). It does not mix early when every input already has a frame.
func (m *Mixer) runEventDriven(ctx *node.Context, shutdown chan struct{}) {
	frames := make(map[string]types.AudioFrame)
	var framesMu sync.Mutex
	done := make(chan struct{})

	go func() {
		defer close(done)
		var wg sync.WaitGroup
		m.mu.Lock()
		snapshot := make(map[string]*mixerInput, len(m.inputs))
		for name, in := range m.inputs {
			snapshot[name] = in
		}
		m.mu.Unlock()
		for name, in := range snapshot {
			wg.Add(1)
			go func(name string, recv <-chan types.Packet) {
				defer wg.Done()
				for pkt := range recv {
					framesMu.Lock()
					frames[name] = pkt.Audio
					framesMu.Unlock()
				}
			}(name, in.recv)
		}
		wg.Wait()
	}()

	ticker := time.NewTicker(m.syncTimeout())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			framesMu.Lock()
			mixed, channels := m.mixSnapshot(frames)
			frames = make(map[string]types.AudioFrame)
			framesMu.Unlock()
			if mixed != nil {
				_ = ctx.Output.Send("out", types.NewAudioPacket(*mixed))
			}
			_ = channels
		case msg, ok := <-ctx.Control:
			if ok && msg.Kind == node.ControlShutdown {
				close(shutdown)
				return
			}
		case <-done:
			close(shutdown)
			return
		}
	}
}

// runClocked ticks a dedicated cadence derived from frame_samples/sample_rate,
// reading each input's ring buffer and publishing the mix — standing in for
// the original's dedicated OS thread.
func (m *Mixer) runClocked(ctx *node.Context, shutdown chan struct{}) {
	interval := time.Duration(float64(m.cfg.FrameSamples) / float64(m.cfg.SampleRate) * float64(time.Second))
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fillDone := make(chan struct{})
	go m.fillRingBuffers(fillDone)

	for {
		select {
		case <-ticker.C:
			mixed, channels := m.mixFromRings()
			_ = channels
			if mixed != nil {
				_ = ctx.Output.Send("out", types.NewAudioPacket(*mixed))
			}
		case msg, ok := <-ctx.Control:
			if ok && msg.Kind == node.ControlShutdown {
				close(shutdown)
				return
			}
		case <-fillDone:
			close(shutdown)
			return
		}
	}
}

func (m *Mixer) fillRingBuffers(done chan struct{}) {
	defer close(done)
	var wg sync.WaitGroup
	m.mu.Lock()
	snapshot := make(map[string]*mixerInput, len(m.inputs))
	for name, in := range m.inputs {
		snapshot[name] = in
	}
	m.mu.Unlock()
	for _, in := range snapshot {
		wg.Add(1)
		go func(in *mixerInput) {
			defer wg.Done()
			for pkt := range in.recv {
				buf := f32ToBytes(pkt.Audio.Samples())
				_, _ = in.ring.Write(buf)
			}
		}(in)
	}
	wg.Wait()
}

// mixSnapshot additively mixes one buffered frame per input (event-driven
// mode); missing inputs silently contribute nothing (degrade-to-silence).
func (m *Mixer) mixSnapshot(frames map[string]types.AudioFrame) (*types.AudioFrame, uint16) {
	if len(frames) == 0 {
		return nil, m.stickyOutputChannels(0)
	}
	maxLen := 0
	maxChans := uint16(0)
	sampleRate := uint32(m.cfg.SampleRate)
	for _, f := range frames {
		if len(f.Samples()) > maxLen {
			maxLen = len(f.Samples())
		}
		if f.Channels > maxChans {
			maxChans = f.Channels
		}
		if f.SampleRate != 0 {
			sampleRate = f.SampleRate
		}
	}
	channels := m.stickyOutputChannels(maxChans)

	mixed := make([]float32, maxLen)
	for _, f := range frames {
		samples := f.Samples()
		for i := 0; i < len(samples) && i < maxLen; i++ {
			mixed[i] += samples[i]
		}
	}
	frame := types.NewAudioFrame(sampleRate, channels, mixed, nil)
	return &frame, channels
}

func (m *Mixer) mixFromRings() (*types.AudioFrame, uint16) {
	m.mu.Lock()
	snapshot := make(map[string]*mixerInput, len(m.inputs))
	for name, in := range m.inputs {
		snapshot[name] = in
	}
	m.mu.Unlock()

	frameBytes := m.cfg.FrameSamples * 4
	mixed := make([]float32, m.cfg.FrameSamples)
	any := false
	maxChans := uint16(1)
	for _, in := range snapshot {
		buf := make([]byte, frameBytes)
		n, _ := in.ring.Read(buf)
		if n == 0 {
			continue
		}
		any = true
		samples := bytesToF32(buf[:n])
		for i := range samples {
			mixed[i] += samples[i]
		}
	}
	if !any {
		return nil, m.stickyOutputChannels(0)
	}
	channels := m.stickyOutputChannels(maxChans)
	frame := types.NewAudioFrame(uint32(m.cfg.SampleRate), channels, mixed, nil)
	return &frame, channels
}

// stickyOutputChannels implements the §5 sticky output channel count:
// monotone non-decreasing over the node's lifetime.
func (m *Mixer) stickyOutputChannels(observed uint16) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if observed > m.stickyChans {
		m.stickyChans = observed
	}
	if m.stickyChans == 0 {
		return 1
	}
	return m.stickyChans
}

func f32ToBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		bits := math.Float32bits(s)
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

func bytesToF32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
