/*
NAME
  gain.go

DESCRIPTION
  gain.go provides the "gain" reference processing module: an in-place
  scalar gain/trim applied to every sample of its bound bundle, used to
  exercise the pipeline's DAG-ordering invariant in tests and as the
  simplest possible example of the Module contract a real plugin would
  implement.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package plugin

import (
	"fmt"

	"github.com/iasaudio/bar/barid"
	"github.com/iasaudio/bar/bundle"
)

const GainModuleType = "gain"

func init() {
	defaultRegistry.Register(GainModuleType, newGainModule)
}

// defaultRegistry is populated by reference module init()s so a pipeline
// can discover the gain and delay modules without any explicit wiring;
// the bar facade creates its processing modules from this registry
// directly.
var defaultRegistry = NewRegistry()

// DefaultRegistry returns the registry pre-populated with this package's
// reference module types.
func DefaultRegistry() *Registry { return defaultRegistry }

type gainModule struct {
	id     barid.ModuleID
	name   string
	bundle *bundle.Bundle
	gain   float32
}

func newGainModule(id barid.ModuleID, instanceName string) (Module, error) {
	return &gainModule{id: id, name: instanceName, gain: 1}, nil
}

func (m *gainModule) ID() barid.ModuleID { return m.id }

func (m *gainModule) Init(inputs, outputs []*bundle.Bundle) error {
	if len(inputs) != 1 {
		return fmt.Errorf("gain: expected exactly one in-place bundle, got %d", len(inputs))
	}
	m.bundle = inputs[0]
	return nil
}

func (m *gainModule) Run() error {
	if m.bundle == nil {
		return fmt.Errorf("gain: not initialized")
	}
	data := m.bundle.Data()
	for i := range data {
		data[i] *= m.gain
	}
	return nil
}

func (m *gainModule) Reset() error { return nil }

func (m *gainModule) SetProperty(name string, v PropertyValue) error {
	if name != "gain" {
		return fmt.Errorf("gain: unknown property %q", name)
	}
	if len(v.Float32) != 1 {
		return fmt.Errorf("gain: gain property expects exactly one float32")
	}
	m.gain = v.Float32[0]
	return nil
}

func (m *gainModule) Property(name string) (PropertyValue, bool) {
	if name != "gain" {
		return PropertyValue{}, false
	}
	return PropertyValue{Float32: []float32{m.gain}}, true
}
