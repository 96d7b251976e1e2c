/*
NAME
  bar.go

DESCRIPTION
  bar implements the audio bar's process-wide facade: the single object
  a setup client, the routing API and the topology loader all act
  through, per SPEC_FULL.md §6's Setup/Routing/Event API surface. It
  owns the device/port/zone/pipeline registries and the switch matrix,
  translating each Setup-API call into calls on the packages that
  actually do the work (device/alsa, device/shmclient, switchmatrix,
  zone, pipeline, mixer). Grounded on revid's top-level Revid struct
  (config.go's pattern of one struct owning every subsystem, constructed
  explicitly by main rather than a package-level singleton, per
  SPEC_FULL.md §9's "avoid hidden global state").

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package bar implements the audio bar's top-level facade: device, port,
// routing-zone and pipeline setup, source/sink routing, and the event
// queue a client drains for connection, setup and module notifications.
package bar

import (
	"sync"

	"github.com/ausocean/utils/logging"

	"github.com/iasaudio/bar/barconfig"
	"github.com/iasaudio/bar/barerr"
	"github.com/iasaudio/bar/barid"
	"github.com/iasaudio/bar/bundle"
	"github.com/iasaudio/bar/device"
	"github.com/iasaudio/bar/device/alsa"
	"github.com/iasaudio/bar/device/shmclient"
	"github.com/iasaudio/bar/pipeline"
	"github.com/iasaudio/bar/switchmatrix"
	"github.com/iasaudio/bar/zone"
)

// DeviceKind selects which Device implementation createDevice
// instantiates.
type DeviceKind int

const (
	// Hardware devices are driven by device/alsa.
	Hardware DeviceKind = iota
	// SharedMemory devices are driven by device/shmclient.
	SharedMemory
)

// portOwner classifies what a Port is bound to: nothing yet, a physical
// device (a switch-matrix source endpoint, or the plain sink a zone
// writes straight to), or a zone (a switch-matrix sink endpoint whose
// decoded stream feeds one of that zone's pipeline input pins).
type portOwner int

const (
	unbound portOwner = iota
	deviceOwner
	zoneOwner
)

// portEntry is the bar's bookkeeping record for one allocated Port,
// independent of the switchmatrix.Port it eventually becomes once
// bound.
type portEntry struct {
	channels int
	owner    portOwner
	device   barid.DeviceID
	zone     barid.ZoneID
	sm       switchmatrix.Port // valid once owner != unbound
}

// Bar is the single process-wide facade object. It is constructed
// explicitly (never a package-level singleton) so tests and multiple
// independent instances in one process never share state.
type Bar struct {
	l   logging.Logger
	cfg *barconfig.Config

	mu sync.Mutex

	matrix *switchmatrix.Matrix

	devices     map[barid.DeviceID]device.Device
	deviceRates map[barid.DeviceID]device.Params // retained for port binding (rate, channels)
	ports       map[barid.PortID]*portEntry
	zones     map[barid.ZoneID]*zone.Zone
	pipelines map[barid.PipelineID]*pipeline.Pipeline
	pools     map[int]*bundle.Pool // keyed by period size in frames

	connections map[connKey]barid.JobID
	sinkOwner   map[barid.PortID]barid.JobID
	zoneSources map[barid.ZoneID]map[barid.PortID]bool

	events *eventQueue
}

type connKey struct {
	source, sink barid.PortID
}

// New constructs an empty Bar. cfg may be nil, in which case every
// config-driven default (scheduling, shm group, diagnostics) falls back
// to barconfig's zero-value defaults.
func New(l logging.Logger, cfg *barconfig.Config) *Bar {
	return &Bar{
		l:           l,
		cfg:         cfg,
		matrix:      switchmatrix.New(),
		devices:     make(map[barid.DeviceID]device.Device),
		deviceRates: make(map[barid.DeviceID]device.Params),
		ports:       make(map[barid.PortID]*portEntry),
		zones:       make(map[barid.ZoneID]*zone.Zone),
		pipelines:   make(map[barid.PipelineID]*pipeline.Pipeline),
		pools:       make(map[int]*bundle.Pool),
		connections: make(map[connKey]barid.JobID),
		sinkOwner:   make(map[barid.PortID]barid.JobID),
		zoneSources: make(map[barid.ZoneID]map[barid.PortID]bool),
		events:      newEventQueue(),
	}
}

// poolFor returns the bundle pool sized for periodSize-frame bundles,
// creating it on first use. Pipelines sharing a period size share a
// pool, mirroring bundle.Handler's per-size pooling.
func (b *Bar) poolFor(periodSize int) (*bundle.Pool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pools[periodSize]; ok {
		return p, nil
	}
	p, err := bundle.NewPool(periodSize)
	if err != nil {
		return nil, err
	}
	b.pools[periodSize] = p
	return p, nil
}

// CreateAudioSourceDevice and CreateAudioSinkDevice instantiate a
// hardware or shared-memory device and register it under a fresh
// DeviceID, per spec.md §6's `createAudioSourceDevice(params)` /
// `createAudioSinkDevice(params)`. The two are identical at this layer:
// device.Params.Direction already distinguishes source from sink, and
// device/alsa and device/shmclient both validate it during New.
func (b *Bar) CreateAudioSourceDevice(kind DeviceKind, params device.Params, shmSockPath string) (barid.DeviceID, error) {
	return b.createDevice(kind, params, shmSockPath)
}

func (b *Bar) CreateAudioSinkDevice(kind DeviceKind, params device.Params, shmSockPath string) (barid.DeviceID, error) {
	return b.createDevice(kind, params, shmSockPath)
}

func (b *Bar) createDevice(kind DeviceKind, params device.Params, shmSockPath string) (barid.DeviceID, error) {
	if err := params.Validate(); err != nil {
		return 0, err
	}

	var d device.Device
	var err error
	switch kind {
	case Hardware:
		d, err = alsa.New(b.l, params)
	case SharedMemory:
		d, err = shmclient.New(b.l, params, shmSockPath)
	default:
		return 0, barerr.New(barerr.InvalidParam, "bar.createDevice", nil)
	}
	if err != nil {
		return 0, err
	}

	id := barid.NewDeviceID()
	b.mu.Lock()
	b.devices[id] = d
	b.deviceRates[id] = params
	b.mu.Unlock()
	b.events.push(Event{Kind: SetupEvent, Message: "device created: " + params.Name})
	return id, nil
}

// DestroyDevice stops and removes a device, severing every port bound to
// it and cascading a SourceDeleted event per connection the switch
// matrix drops, per spec.md §6's `destroy*Device(ptr)` and §3's
// "Jobs exist from connect until ... their source/sink is destroyed
// (which cascades)".
func (b *Bar) DestroyDevice(id barid.DeviceID) error {
	b.mu.Lock()
	d, ok := b.devices[id]
	if !ok {
		b.mu.Unlock()
		return barerr.New(barerr.InvalidParam, "bar.DestroyDevice", nil)
	}
	delete(b.devices, id)
	delete(b.deviceRates, id)
	var bound []*portEntry
	for _, pe := range b.ports {
		if pe.owner == deviceOwner && pe.device == id {
			bound = append(bound, pe)
		}
	}
	b.mu.Unlock()

	if d.IsRunning() {
		d.Stop()
	}
	for _, pe := range bound {
		b.matrix.DestroySource(pe.sm.ID)
		b.severConnections(pe.sm.ID, true, SourceDeleted)
		pe.owner = unbound
	}
	return nil
}
