/*
NAME
  ports.go

DESCRIPTION
  ports.go implements the Setup API's port operations: createAudioPort/
  destroyAudioPort and addAudioOutputPort/addAudioInputPort (and their
  delete counterparts), per spec.md §6. A port is allocated as a bare
  channel-count placeholder and only becomes a real switchmatrix.Port -
  a ring buffer plus channel count - once bound to a device (the source
  side) or a zone (the sink side), generalizing device/alsa.go's single
  "one ring per hardware handle" shape to "many independently-bindable
  ports sharing a device's or a zone's ring".

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
	"github.com/iasaudio/bar/pcmformat"
	"github.com/iasaudio/bar/ring"
	"github.com/iasaudio/bar/switchmatrix"
)

// CreateAudioPort allocates an unbound port of the given channel count,
// per spec.md §6's `createAudioPort(params)`.
func (b *Bar) CreateAudioPort(channels int) (barid.PortID, error) {
	if channels <= 0 {
		return 0, barerr.New(barerr.InvalidParam, "bar.CreateAudioPort", nil)
	}
	id := barid.NewPortID()
	b.mu.Lock()
	b.ports[id] = &portEntry{channels: channels}
	b.mu.Unlock()
	return id, nil
}

// DestroyAudioPort removes a port, first unbinding it from whatever
// device or zone it was attached to so the switch matrix sees the same
// cascade a DestroyDevice would produce.
func (b *Bar) DestroyAudioPort(id barid.PortID) error {
	b.mu.Lock()
	pe, ok := b.ports[id]
	if !ok {
		b.mu.Unlock()
		return barerr.New(barerr.InvalidParam, "bar.DestroyAudioPort", nil)
	}
	delete(b.ports, id)
	owner := pe.owner
	b.mu.Unlock()

	if owner == deviceOwner {
		b.matrix.DestroySource(id)
		b.severConnections(id, true, SourceDeleted)
	} else if owner == zoneOwner {
		b.severConnections(id, false, SinkDeleted)
	}
	return nil
}

// AddAudioOutputPort binds port as an output (source) endpoint of
// source, ready to be targeted by connect, per spec.md §6's
// `addAudioOutputPort(source, port)`.
func (b *Bar) AddAudioOutputPort(source barid.DeviceID, port barid.PortID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.devices[source]
	if !ok {
		return barerr.New(barerr.InvalidParam, "bar.AddAudioOutputPort", nil)
	}
	pe, ok := b.ports[port]
	if !ok {
		return barerr.New(barerr.InvalidParam, "bar.AddAudioOutputPort", nil)
	}
	if pe.owner != unbound {
		return barerr.New(barerr.AlreadyInUse, "bar.AddAudioOutputPort", nil)
	}

	params := b.deviceRates[source]
	pe.owner = deviceOwner
	pe.device = source
	pe.sm = switchmatrix.Port{ID: port, RingBuf: d.RingBuffer(), Channels: pe.channels, Rate: params.SampleRate}
	return nil
}

// DeleteAudioOutputPort unbinds port from whatever source device it was
// attached to, tearing down its buffer task first.
func (b *Bar) DeleteAudioOutputPort(port barid.PortID) error {
	return b.unbindPort(port, deviceOwner)
}

// AddAudioInputPort binds port as one of sinkZone's input ports: a
// switch-matrix sink endpoint with its own ring buffer, later tied to a
// pipeline input pin with LinkZoneInputPort, per spec.md §6's
// `addAudioInputPort(sink, port)` (here "sink" names the routing zone
// acting as the switch matrix's sink participant, per SPEC_FULL.md §3's
// "sink/zone port" in the source-to-sink data-flow list).
func (b *Bar) AddAudioInputPort(sinkZone barid.ZoneID, port barid.PortID, capacityFrames int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	z, ok := b.zones[sinkZone]
	if !ok {
		return barerr.New(barerr.InvalidParam, "bar.AddAudioInputPort", nil)
	}
	pe, ok := b.ports[port]
	if !ok {
		return barerr.New(barerr.InvalidParam, "bar.AddAudioInputPort", nil)
	}
	if pe.owner != unbound {
		return barerr.New(barerr.AlreadyInUse, "bar.AddAudioInputPort", nil)
	}
	if capacityFrames <= 0 {
		capacityFrames = z.PeriodSize * 4
	}

	rb, err := ring.New(pcmformat.F32, pe.channels, capacityFrames)
	if err != nil {
		return err
	}
	pe.owner = zoneOwner
	pe.zone = sinkZone
	pe.sm = switchmatrix.Port{ID: port, RingBuf: rb, Channels: pe.channels, Rate: z.SampleRate}
	return nil
}

// DeleteAudioInputPort unbinds port from whatever zone it fed.
func (b *Bar) DeleteAudioInputPort(port barid.PortID) error {
	return b.unbindPort(port, zoneOwner)
}

func (b *Bar) unbindPort(port barid.PortID, want portOwner) error {
	b.mu.Lock()
	pe, ok := b.ports[port]
	if !ok {
		b.mu.Unlock()
		return barerr.New(barerr.InvalidParam, "bar.unbindPort", nil)
	}
	if pe.owner != want {
		b.mu.Unlock()
		return barerr.New(barerr.WrongState, "bar.unbindPort", nil)
	}
	pe.owner = unbound
	b.mu.Unlock()

	if want == deviceOwner {
		b.matrix.DestroySource(port)
		b.severConnections(port, true, SourceDeleted)
	} else {
		b.severConnections(port, false, SinkDeleted)
	}
	return nil
}

// severConnections removes every recorded connection touching port (as
// source when asSource, else as sink) and emits one event of kind per
// connection severed, per spec.md §9's "count of SourceDeleted events
// emitted after destroying that source equals the number of live
// connections at destroy time". When port is a sink, each job is
// individually disconnected (there is no bulk "destroy sink" operation
// on the switch matrix, unlike the source side's DestroySource); when
// port is a source, the matrix's own bulk teardown has already happened
// and this only reconciles the facade's bookkeeping.
func (b *Bar) severConnections(port barid.PortID, asSource bool, kind ConnectionEventType) {
	b.mu.Lock()
	var keys []connKey
	var jobs []barid.JobID
	for k, id := range b.connections {
		if (asSource && k.source == port) || (!asSource && k.sink == port) {
			keys = append(keys, k)
			jobs = append(jobs, id)
		}
	}
	for _, k := range keys {
		delete(b.connections, k)
		delete(b.sinkOwner, k.sink)
	}
	b.mu.Unlock()

	if !asSource {
		for _, id := range jobs {
			b.matrix.Disconnect(id)
		}
	}
	for _, k := range keys {
		b.events.push(Event{Kind: ConnectionEvent, Connection: kind, Source: k.source, Sink: k.sink})
	}
}
