/*
NAME
  barid.go

DESCRIPTION
  barid defines the bar's entity identifier types. Every long-lived entity
  (device, port, zone, pipeline, pin, module, job) is referenced by a
  stable integer id rather than a pointer, so that setup-registry code and
  real-time code can both hold weak references that survive entity
  destruction without dangling, per SPEC_FULL.md §9 "Shared ownership with
  cycles". It is a separate package (rather than living in bar) so that
  switchmatrix, pipeline, mixer and zone can reference ids without
  importing the bar facade that assembles them.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package barid defines the stable integer identifier types shared
// across the audio bar's entities.
package barid

import "sync/atomic"

var idCounter uint64

func nextID() uint64 {
	return atomic.AddUint64(&idCounter, 1)
}

// DeviceID identifies an audio source or sink device.
type DeviceID uint64

// PortID identifies an audio port on a device.
type PortID uint64

// ZoneID identifies a routing zone (base or derived).
type ZoneID uint64

// PipelineID identifies a pipeline owned by a routing zone.
type PipelineID uint64

// PinID identifies an audio pin within a pipeline.
type PinID uint64

// ModuleID identifies a processing module instance within a pipeline.
type ModuleID uint64

// JobID identifies one switch-matrix job (source port -> sink port edge).
type JobID uint64

// NewDeviceID returns a fresh, process-unique device id.
func NewDeviceID() DeviceID { return DeviceID(nextID()) }

// NewPortID returns a fresh, process-unique port id.
func NewPortID() PortID { return PortID(nextID()) }

// NewZoneID returns a fresh, process-unique zone id.
func NewZoneID() ZoneID { return ZoneID(nextID()) }

// NewPipelineID returns a fresh, process-unique pipeline id.
func NewPipelineID() PipelineID { return PipelineID(nextID()) }

// NewPinID returns a fresh, process-unique pin id.
func NewPinID() PinID { return PinID(nextID()) }

// NewModuleID returns a fresh, process-unique module id.
func NewModuleID() ModuleID { return ModuleID(nextID()) }

// NewJobID returns a fresh, process-unique job id.
func NewJobID() JobID { return JobID(nextID()) }
