// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package dynamic

import (
	"github.com/rapidaai/streamkit/pkg/commons"
	"github.com/rapidaai/streamkit/pkg/streamkit/types"
)

// AddConnection inserts or overwrites a destination in a distributor's
// routing table.
type AddConnection struct {
	ID     ConnectionID
	Sender chan<- types.Packet
	Mode   ConnectionMode
}

// RemoveConnection removes a destination by ConnectionID.
type RemoveConnection struct {
	ID ConnectionID
}

// distributorShutdown asks the distributor to drain then exit.
type distributorShutdown struct{}

// DistributorConfigMessage is the union of messages sent on a distributor's
// config channel by the engine. Exactly one field is non-nil.
type DistributorConfigMessage struct {
	AddConnection    *AddConnection
	RemoveConnection *RemoveConnection
	Shutdown         *distributorShutdown
}

type destination struct {
	sender chan<- types.Packet
	mode   ConnectionMode
}

// Distributor is the §4.3 Pin Distributor: one actor per output pin, fanning
// every packet the owning node produces out to every connected destination.
type Distributor struct {
	nodeID string
	pin    string

	dataRx   <-chan types.Packet
	configRx <-chan DistributorConfigMessage

	destinations map[ConnectionID]destination
	dropCounts   map[ConnectionID]uint64

	logger commons.Logger
}

// NewDistributor builds a Distributor over its data and config channels.
func NewDistributor(nodeID, pin string, dataRx <-chan types.Packet, configRx <-chan DistributorConfigMessage, logger commons.Logger) *Distributor {
	return &Distributor{
		nodeID:       nodeID,
		pin:          pin,
		dataRx:       dataRx,
		configRx:     configRx,
		destinations: make(map[ConnectionID]destination),
		dropCounts:   make(map[ConnectionID]uint64),
		logger:       logger,
	}
}

// Run is the distributor's entire lifecycle. It returns once draining is
// complete after a Shutdown message, or as soon as either channel is closed.
func (d *Distributor) Run() {
	for {
		select {
		case cfg, ok := <-d.configRx:
			if !ok {
				return
			}
			if d.applyConfig(cfg) {
				d.drain()
				return
			}
		case pkt, ok := <-d.dataRx:
			if !ok {
				return
			}
			d.fanOut(pkt)
		}
	}
}

// applyConfig mutates the routing table and reports whether this was a
// Shutdown (caller should drain and exit).
func (d *Distributor) applyConfig(cfg DistributorConfigMessage) bool {
	switch {
	case cfg.AddConnection != nil:
		c := cfg.AddConnection
		d.destinations[c.ID] = destination{sender: c.Sender, mode: c.Mode}
		return false
	case cfg.RemoveConnection != nil:
		delete(d.destinations, cfg.RemoveConnection.ID)
		delete(d.dropCounts, cfg.RemoveConnection.ID)
		return false
	case cfg.Shutdown != nil:
		return true
	default:
		return false
	}
}

// drain flushes whatever packets are already buffered on dataRx into the
// current destination set, then returns — it does not wait for more.
func (d *Distributor) drain() {
	for {
		select {
		case pkt, ok := <-d.dataRx:
			if !ok {
				return
			}
			d.fanOut(pkt)
		default:
			return
		}
	}
}

// fanOut delivers pkt to every destination per its connection mode. The
// first destination reuses pkt directly ("moved"); every later destination
// gets a Clone, which is O(1) for shared-sample/Arc-like variants.
func (d *Distributor) fanOut(pkt types.Packet) {
	first := true
	for id, dest := range d.destinations {
		p := pkt
		if !first {
			p = pkt.Clone()
		}
		first = false

		switch dest.mode {
		case Reliable:
			if !d.sendReliable(id, dest, p) {
				delete(d.destinations, id)
			}
		case BestEffort:
			d.sendBestEffort(id, dest, p)
		}
	}
}

// sendReliable blocks until the destination has room, applying backpressure
// all the way back to the producing node. It reports false (and removes the
// destination) if the receiver's channel is closed.
func (d *Distributor) sendReliable(id ConnectionID, dest destination, pkt types.Packet) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
			d.logger.Debugw("reliable destination closed", "node_id", d.nodeID, "pin", d.pin, "connection_id", id)
		}
	}()
	dest.sender <- pkt
	return true
}

// sendBestEffort try-sends; a full channel drops the packet and bumps a
// per-destination counter logged at trace-equivalent (Debugw) level. A
// closed receiver removes the destination, same as the Reliable path.
func (d *Distributor) sendBestEffort(id ConnectionID, dest destination, pkt types.Packet) {
	closed := false
	sent := func() (ok bool) {
		defer func() {
			if recover() != nil {
				closed = true
				ok = false
			}
		}()
		select {
		case dest.sender <- pkt:
			return true
		default:
			return false
		}
	}()
	if sent {
		return
	}
	if closed {
		delete(d.destinations, id)
		delete(d.dropCounts, id)
		d.logger.Debugw("best-effort destination closed", "node_id", d.nodeID, "pin", d.pin, "connection_id", id)
		return
	}
	d.dropCounts[id]++
	d.logger.Debugw("best-effort packet dropped", "node_id", d.nodeID, "pin", d.pin, "connection_id", id, "drops", d.dropCounts[id])
}

// DropCount reports how many packets have been dropped for a given
// destination under BestEffort mode, for tests and diagnostics.
func (d *Distributor) DropCount(id ConnectionID) uint64 {
	return d.dropCounts[id]
}
