/*
NAME
  routing.go

DESCRIPTION
  routing.go implements the Routing API: connect/disconnect, per
  spec.md §6. A connect's sink is always a zone's switch-matrix input
  port (see ports.go's AddAudioInputPort); connecting also registers the
  source port with the owning zone's per-period buffer-task ticking, the
  first time that zone sees that source, per SPEC_FULL.md §4.10 step 2.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package bar

import (
	"github.com/iasaudio/bar/barerr"
	"github.com/iasaudio/bar/barid"
)

const defaultNumPeriodsAsrcBuffer = 4

// Connect locates or creates the buffer task for source and enqueues an
// add-job command, per spec.md §6's
// `connect(sourceId, sinkId) -> {Ok, Failed, SourceAlreadyConnected,
// SinkAlreadyConnected, ...}`. The richer outcomes are detected here,
// against the facade's own connection bookkeeping, before ever reaching
// the switch matrix: SourceAlreadyConnected means this exact
// source/sink pair is already wired; SinkAlreadyConnected means the
// sink port already has a different live source (its ring buffer has
// exactly one writer).
func (b *Bar) Connect(source, sink barid.PortID) (Result, error) {
	b.mu.Lock()
	srcPE, ok := b.ports[source]
	if !ok || srcPE.owner != deviceOwner {
		b.mu.Unlock()
		return Failed, barerr.New(barerr.InvalidParam, "bar.Connect", nil)
	}
	sinkPE, ok := b.ports[sink]
	if !ok || sinkPE.owner != zoneOwner {
		b.mu.Unlock()
		return Failed, barerr.New(barerr.InvalidParam, "bar.Connect", nil)
	}
	key := connKey{source, sink}
	if _, exists := b.connections[key]; exists {
		b.mu.Unlock()
		return SourceAlreadyConnected, nil
	}
	if _, exists := b.sinkOwner[sink]; exists {
		b.mu.Unlock()
		return SinkAlreadyConnected, nil
	}

	z := b.zones[sinkPE.zone]
	params := b.deviceRates[srcPE.device]
	srcSM, sinkSM := srcPE.sm, sinkPE.sm
	b.mu.Unlock()

	numPeriods := params.NumPeriodsAsrcBuffer
	if numPeriods <= 0 {
		numPeriods = defaultNumPeriodsAsrcBuffer
	}

	id := barid.NewJobID()
	if err := b.matrix.Connect(id, srcSM, sinkSM, numPeriods); err != nil {
		return Failed, err
	}

	b.mu.Lock()
	b.connections[key] = id
	b.sinkOwner[sink] = id
	b.mu.Unlock()

	if z != nil {
		b.registerZoneSource(sinkPE.zone, z, srcSM)
	}

	b.events.push(Event{Kind: ConnectionEvent, Connection: Connected, Source: source, Sink: sink})
	return Ok, nil
}

// Disconnect enqueues a delete-job command for the job connecting source
// to sink, per spec.md §6's `disconnect(sourceId, sinkId)`.
func (b *Bar) Disconnect(source, sink barid.PortID) error {
	key := connKey{source, sink}
	b.mu.Lock()
	id, ok := b.connections[key]
	if !ok {
		b.mu.Unlock()
		return barerr.New(barerr.NothingRemoved, "bar.Disconnect", nil)
	}
	delete(b.connections, key)
	delete(b.sinkOwner, sink)
	b.mu.Unlock()

	if err := b.matrix.Disconnect(id); err != nil {
		return err
	}
	b.events.push(Event{Kind: ConnectionEvent, Connection: Disconnected, Source: source, Sink: sink})
	return nil
}
