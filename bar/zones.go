/*
NAME
  zones.go

DESCRIPTION
  zones.go implements the Setup API's routing-zone operations:
  createRoutingZone/destroyRoutingZone/startRoutingZone/stopRoutingZone,
  addDerivedZone/deleteDerivedZone, and the two link/unlink forms named
  in spec.md §6 - `link(zone, sinkDevice)` (a zone committing straight to
  a physical sink) and `link(zoneInputPort, sinkInputPort)` (binding one
  of a zone's switch-matrix input ports to a pipeline input pin, the
  many-to-many port topology DESIGN.md's zone-package note defers to
  this facade).

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
	"github.com/iasaudio/bar/switchmatrix"
	"github.com/iasaudio/bar/zone"
)

// CreateRoutingZone constructs a created-but-not-started zone, per
// spec.md §6's `createRoutingZone(params)`.
func (b *Bar) CreateRoutingZone(name string, periodSize int, sampleRate float64) (barid.ZoneID, error) {
	if periodSize <= 0 || sampleRate <= 0 {
		return 0, barerr.New(barerr.InvalidParam, "bar.CreateRoutingZone", nil)
	}
	id := barid.NewZoneID()
	z := zone.New(id, name, periodSize, sampleRate, b.l)
	z.SetMatrix(b.matrix)

	b.mu.Lock()
	b.zones[id] = z
	b.mu.Unlock()
	return id, nil
}

// DestroyRoutingZone removes a zone, per spec.md §6's
// `destroyRoutingZone(ptr)`. The zone must already be stopped: a running
// worker thread cannot be torn out from under itself.
func (b *Bar) DestroyRoutingZone(id barid.ZoneID) error {
	b.mu.Lock()
	z, ok := b.zones[id]
	if !ok {
		b.mu.Unlock()
		return barerr.New(barerr.InvalidParam, "bar.DestroyRoutingZone", nil)
	}
	if z.IsRunning() {
		b.mu.Unlock()
		return barerr.New(barerr.WrongState, "bar.DestroyRoutingZone", nil)
	}
	delete(b.zones, id)
	b.mu.Unlock()
	return nil
}

// StartRoutingZone launches a base zone's real-time worker thread, per
// spec.md §6's `startRoutingZone`.
func (b *Bar) StartRoutingZone(id barid.ZoneID, sched zone.Scheduling) error {
	z, err := b.zoneByID(id)
	if err != nil {
		return err
	}
	return z.Start(sched)
}

// StopRoutingZone signals a base zone's worker thread to exit at the
// next period boundary and waits for it, per spec.md §6's
// `stopRoutingZone`.
func (b *Bar) StopRoutingZone(id barid.ZoneID) error {
	z, err := b.zoneByID(id)
	if err != nil {
		return err
	}
	return z.Stop()
}

// AddDerivedZone links derived as a zone invoked every k-th period of
// base, per spec.md §6's `addDerivedZone(base, derived)`.
func (b *Bar) AddDerivedZone(base, derived barid.ZoneID) error {
	bz, err := b.zoneByID(base)
	if err != nil {
		return err
	}
	dz, err := b.zoneByID(derived)
	if err != nil {
		return err
	}
	return bz.AddDerivedZone(dz)
}

// DeleteDerivedZone unlinks derived from base, per spec.md §6's
// `deleteDerivedZone(...)`. It fails with NothingRemoved when derived is
// not linked to base.
func (b *Bar) DeleteDerivedZone(base, derived barid.ZoneID) error {
	bz, err := b.zoneByID(base)
	if err != nil {
		return err
	}
	dz, err := b.zoneByID(derived)
	if err != nil {
		return err
	}
	return bz.RemoveDerivedZone(dz)
}

// AttachPipeline binds the pipeline a zone runs each period. Must be
// called, with the pipeline already initialized via
// InitPipelineAudioChain, before the zone is started.
func (b *Bar) AttachPipeline(zoneID barid.ZoneID, pipelineID barid.PipelineID) error {
	z, err := b.zoneByID(zoneID)
	if err != nil {
		return err
	}
	p, err := b.pipelineByID(pipelineID)
	if err != nil {
		return err
	}
	z.SetPipeline(p)
	return nil
}

// LinkZoneSink binds zoneID's sink-bound pipeline output pin straight to
// a physical sink device's ring buffer, per spec.md §6's
// `link(zone, sinkDevice)`.
func (b *Bar) LinkZoneSink(zoneID barid.ZoneID, sinkDevice barid.DeviceID, outputPin barid.PinID, channels int) error {
	z, err := b.zoneByID(zoneID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	d, ok := b.devices[sinkDevice]
	b.mu.Unlock()
	if !ok {
		return barerr.New(barerr.InvalidParam, "bar.LinkZoneSink", nil)
	}
	z.SetSink(d, outputPin, channels)
	b.events.push(Event{Kind: SetupEvent, Zone: zoneID, Message: "zone linked to sink device"})
	return nil
}

// UnlinkZoneSink severs zoneID's sink link; the zone stops committing
// until a new sink is linked, per spec.md §6's `unlink(...)`.
func (b *Bar) UnlinkZoneSink(zoneID barid.ZoneID) error {
	z, err := b.zoneByID(zoneID)
	if err != nil {
		return err
	}
	z.SetSink(nil, 0, 0)
	return nil
}

// LinkZoneInputPort binds a zone's already-allocated input port (added
// with AddAudioInputPort) to one of that zone's pipeline input pins,
// per spec.md §6's `link(zoneInputPort, sinkInputPort)`: the ring a
// source's buffer task writes into is decoded into pin each period.
func (b *Bar) LinkZoneInputPort(zoneID barid.ZoneID, port barid.PortID, pin barid.PinID, channels int) error {
	z, err := b.zoneByID(zoneID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	pe, ok := b.ports[port]
	b.mu.Unlock()
	if !ok || pe.owner != zoneOwner || pe.zone != zoneID {
		return barerr.New(barerr.InvalidParam, "bar.LinkZoneInputPort", nil)
	}
	z.AddInputBinding(zone.InputBinding{Ring: pe.sm.RingBuf, Pin: pin, Channels: channels})
	return nil
}

// registerZoneSource tells z to tick src's buffer task once per period,
// the first time z sees a connection fed by src, per SPEC_FULL.md §4.10
// step 2. A source already registered with z is a no-op: two connect
// calls from the same source into two of z's input ports must not
// double-tick that source's buffer task.
func (b *Bar) registerZoneSource(id barid.ZoneID, z *zone.Zone, src switchmatrix.Port) {
	b.mu.Lock()
	seen, ok := b.zoneSources[id]
	if !ok {
		seen = make(map[barid.PortID]bool)
		b.zoneSources[id] = seen
	}
	already := seen[src.ID]
	seen[src.ID] = true
	b.mu.Unlock()

	if !already {
		z.AddSourcePort(src)
	}
}

// ZoneNames returns every created zone's name keyed by its ID, so a
// caller driving the bar from a parsed topology (which only knows zones
// by name) can resolve them to start/stop after Apply has run.
func (b *Bar) ZoneNames() map[barid.ZoneID]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make(map[barid.ZoneID]string, len(b.zones))
	for id, z := range b.zones {
		names[id] = z.Name
	}
	return names
}

func (b *Bar) zoneByID(id barid.ZoneID) (*zone.Zone, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	z, ok := b.zones[id]
	if !ok {
		return nil, barerr.New(barerr.InvalidParam, "bar.zoneByID", nil)
	}
	return z, nil
}
