// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package script

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rapidaai/streamkit/pkg/streamkit/telemetry"
)

type spanState struct {
	eventType string
	data      map[string]interface{}
	start     time.Time
}

// spanRegistry backs the script node's startSpan/endSpan telemetry API: one
// registry per node instance, since span ids are only meaningful within a
// single script node's lifetime.
type spanRegistry struct {
	mu    sync.Mutex
	spans map[string]spanState
}

func newSpanRegistry() *spanRegistry {
	return &spanRegistry{spans: make(map[string]spanState)}
}

func newSpanID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// startSpan records a host-side start instant under a fresh span id,
// immediately emits eventType+".start", and returns the span id.
func (r *spanRegistry) startSpan(emitter *telemetry.Emitter, eventType string, data map[string]interface{}) string {
	id := newSpanID()
	r.mu.Lock()
	r.spans[id] = spanState{eventType: eventType, data: data, start: time.Now()}
	r.mu.Unlock()

	emitter.EmitWithCorrelation(eventType+".start", id, toJSONData(data))
	return id
}

// endSpan looks up spanID, computes latency_ms from the host clock, merges
// data over the span's initial data, and emits eventType. Returns false and
// logs nothing itself (caller decides) if spanID is unknown.
func (r *spanRegistry) endSpan(emitter *telemetry.Emitter, spanID string, data map[string]interface{}) (string, bool) {
	r.mu.Lock()
	st, ok := r.spans[spanID]
	if ok {
		delete(r.spans, spanID)
	}
	r.mu.Unlock()
	if !ok {
		return "", false
	}

	merged := make(map[string]interface{}, len(st.data)+len(data)+1)
	for k, v := range st.data {
		merged[k] = v
	}
	for k, v := range data {
		merged[k] = v
	}
	merged["latency_ms"] = float64(time.Since(st.start).Microseconds()) / 1000.0

	emitter.EmitWithCorrelation(st.eventType, spanID, toJSONData(merged))
	return st.eventType, true
}

func toJSONData(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
