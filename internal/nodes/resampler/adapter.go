// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package resampler

import (
	audioresampler "github.com/tphakala/go-audio-resampler"

	"github.com/rapidaai/streamkit/pkg/streamkit/skerrors"
)

// libResampler wraps github.com/tphakala/go-audio-resampler, the same
// sample-rate-conversion dependency the teacher's own
// internal/audio/resampler package wraps for its WebRTC<->internal audio
// path (GetResampler once, Resample per frame). One instance is built per
// node and reused across every packet so the library's own internal state
// carries continuously across packet boundaries, instead of restarting at
// each call.
type libResampler struct {
	r *audioresampler.Resampler
}

func newLibResampler(inputRate, outputRate, channels int) (*libResampler, error) {
	r, err := audioresampler.New(inputRate, outputRate, channels)
	if err != nil {
		return nil, skerrors.Configuration("resampler: building go-audio-resampler: %v", err)
	}
	return &libResampler{r: r}, nil
}

// resample converts one interleaved frame of float32 samples from the
// resampler's configured input rate to its output rate.
func (l *libResampler) resample(in []float32) ([]float32, error) {
	out, err := l.r.Resample(in)
	if err != nil {
		return nil, skerrors.Recoverable("resampler: resample: %v", err)
	}
	return out, nil
}
