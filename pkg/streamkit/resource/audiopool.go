// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package resource

import "sync"

// AudioFramePool reduces allocation on hot audio paths (the Opus decoder's
// scratch buffers) by recycling float32 sample buffers bucketed by capacity.
// One pool is constructed per session and threaded through every node's
// NodeContext.AudioPool.
type AudioFramePool struct {
	mu      sync.Mutex
	buckets map[int][][]float32
}

// NewAudioFramePool builds an empty pool.
func NewAudioFramePool() *AudioFramePool {
	return &AudioFramePool{buckets: make(map[int][][]float32)}
}

// Get returns a []float32 with length n, reused from the pool when a buffer
// of capacity exactly n was Put back, else freshly allocated.
func (p *AudioFramePool) Get(n int) []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	bucket := p.buckets[n]
	if len(bucket) == 0 {
		return make([]float32, n)
	}
	buf := bucket[len(bucket)-1]
	p.buckets[n] = bucket[:len(bucket)-1]
	return buf[:n]
}

// Put returns buf to the pool, keyed by its capacity, for future Get reuse.
// Callers must not retain any reference to buf after calling Put — ownership
// transfers back to the pool.
func (p *AudioFramePool) Put(buf []float32) {
	if cap(buf) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := cap(buf)
	p.buckets[key] = append(p.buckets[key], buf[:cap(buf)])
}
