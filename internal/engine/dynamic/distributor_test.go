// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package dynamic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/streamkit/pkg/commons"
	"github.com/rapidaai/streamkit/pkg/streamkit/types"
)

func newTestDistributor() (*Distributor, chan types.Packet, chan DistributorConfigMessage) {
	dataCh := make(chan types.Packet, 4)
	configCh := make(chan DistributorConfigMessage, 4)
	d := NewDistributor("n1", "out", dataCh, configCh, commons.NewNopLogger())
	return d, dataCh, configCh
}

func TestDistributorFansOutToAllReliableDestinations(t *testing.T) {
	d, dataCh, configCh := newTestDistributor()
	a := make(chan types.Packet, 1)
	b := make(chan types.Packet, 1)
	configCh <- DistributorConfigMessage{AddConnection: &AddConnection{ID: "a", Sender: a, Mode: Reliable}}
	configCh <- DistributorConfigMessage{AddConnection: &AddConnection{ID: "b", Sender: b, Mode: Reliable}}

	go d.Run()
	dataCh <- types.NewTextPacket("hi")

	require.Eventually(t, func() bool {
		select {
		case p := <-a:
			select {
			case q := <-b:
				return p.Text == "hi" && q.Text == "hi"
			default:
				return false
			}
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	configCh <- DistributorConfigMessage{Shutdown: &distributorShutdown{}}
}

func TestDistributorBestEffortDropsWhenFull(t *testing.T) {
	dataCh := make(chan types.Packet, 4)
	configCh := make(chan DistributorConfigMessage, 4)
	d := NewDistributor("n1", "out", dataCh, configCh, commons.NewNopLogger())

	dest := make(chan types.Packet) // unbuffered, never read: always "full"
	configCh <- DistributorConfigMessage{AddConnection: &AddConnection{ID: "x", Sender: dest, Mode: BestEffort}}

	go d.Run()
	dataCh <- types.NewTextPacket("one")

	require.Eventually(t, func() bool {
		return d.DropCount("x") == 1
	}, time.Second, time.Millisecond)

	configCh <- DistributorConfigMessage{Shutdown: &distributorShutdown{}}
}

func TestDistributorBestEffortPrunesClosedReceiver(t *testing.T) {
	dataCh := make(chan types.Packet, 4)
	configCh := make(chan DistributorConfigMessage, 4)
	d := NewDistributor("n1", "out", dataCh, configCh, commons.NewNopLogger())

	dest := make(chan types.Packet, 1)
	close(dest) // closed receiver: sends must panic, not just block
	configCh <- DistributorConfigMessage{AddConnection: &AddConnection{ID: "x", Sender: dest, Mode: BestEffort}}

	go d.Run()
	dataCh <- types.NewTextPacket("one")

	require.Eventually(t, func() bool {
		return d.DropCount("x") == 0
	}, time.Second, time.Millisecond)

	// A second send must not panic the distributor goroutine and must not
	// start counting drops either: the destination was pruned after the
	// first send observed the closed channel.
	dataCh <- types.NewTextPacket("two")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, uint64(0), d.DropCount("x"))

	configCh <- DistributorConfigMessage{Shutdown: &distributorShutdown{}}
}

func TestDistributorRemoveConnectionStopsDelivery(t *testing.T) {
	d, dataCh, configCh := newTestDistributor()
	a := make(chan types.Packet, 2)
	configCh <- DistributorConfigMessage{AddConnection: &AddConnection{ID: "a", Sender: a, Mode: Reliable}}

	go d.Run()
	dataCh <- types.NewTextPacket("one")
	require.Eventually(t, func() bool { return len(a) == 1 }, time.Second, time.Millisecond)
	<-a

	configCh <- DistributorConfigMessage{RemoveConnection: &RemoveConnection{ID: "a"}}
	time.Sleep(20 * time.Millisecond)
	dataCh <- types.NewTextPacket("two")

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, len(a))

	configCh <- DistributorConfigMessage{Shutdown: &distributorShutdown{}}
}
