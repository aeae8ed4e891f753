// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package stats defines per-node packet counters (§4.4) and a small tracker
// helper nodes use to coalesce updates (every N packets or every M ms)
// rather than emitting on every single packet.
package stats

import (
	"sync/atomic"
	"time"
)

// Stats is a snapshot of one node's packet counters.
type Stats struct {
	Received  uint64
	Sent      uint64
	Discarded uint64
	Errored   uint64
}

// Update is the message emitted through NodeContext.StatsTx.
type Update struct {
	NodeID string
	Stats  Stats
}

// Tracker accumulates counters and decides, via ShouldEmit, when a node
// should push a coalesced Update — every N packets or every M milliseconds,
// whichever comes first. Safe for single-producer use (one node's run loop).
type Tracker struct {
	received  atomic.Uint64
	sent      atomic.Uint64
	discarded atomic.Uint64
	errored   atomic.Uint64

	everyN        uint64
	everyInterval time.Duration
	sinceEmit     uint64
	lastEmit      time.Time
}

// NewTracker builds a Tracker that suggests an emit every everyN processed
// packets or every interval of wall time, whichever comes first.
func NewTracker(everyN uint64, interval time.Duration) *Tracker {
	if everyN == 0 {
		everyN = 1
	}
	return &Tracker{everyN: everyN, everyInterval: interval, lastEmit: time.Now()}
}

func (t *Tracker) RecordReceived() { t.received.Add(1); t.sinceEmit++ }
func (t *Tracker) RecordSent()     { t.sent.Add(1) }
func (t *Tracker) RecordDiscarded() { t.discarded.Add(1) }
func (t *Tracker) RecordErrored()   { t.errored.Add(1) }

// Snapshot returns the current counters.
func (t *Tracker) Snapshot() Stats {
	return Stats{
		Received:  t.received.Load(),
		Sent:      t.sent.Load(),
		Discarded: t.discarded.Load(),
		Errored:   t.errored.Load(),
	}
}

// ShouldEmit reports whether enough packets or time has elapsed since the
// last emit, and if so restarts the since-last-emit packet count and timer
// (the cumulative counters Snapshot reports are not reset).
func (t *Tracker) ShouldEmit() bool {
	if t.sinceEmit >= t.everyN || time.Since(t.lastEmit) >= t.everyInterval {
		t.sinceEmit = 0
		t.lastEmit = time.Now()
		return true
	}
	return false
}
