/*
NAME
  delay.go

DESCRIPTION
  delay.go provides the "delay" reference processing module: a
  one-period delay line between a separate input and output bundle
  that copies last period's input to its output, then remembers the
  current period's input for next time. It exists to exercise the pipeline's delayed-edge
  semantics ("delayed edges are recorded but not used for ordering;
  they are satisfied by last period's bundles") against a module with
  genuine cross-period state, as opposed to gain.go's pure in-place
  stateless transform.

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

const DelayModuleType = "delay"

func init() {
	defaultRegistry.Register(DelayModuleType, newDelayModule)
}

type delayModule struct {
	id   barid.ModuleID
	name string
	in   *bundle.Bundle
	out  *bundle.Bundle

	// history holds the input bundle's contents from the previous period,
	// copied out before Run overwrites them. nil until the first Run.
	history []float32
}

func newDelayModule(id barid.ModuleID, instanceName string) (Module, error) {
	return &delayModule{id: id, name: instanceName}, nil
}

func (m *delayModule) ID() barid.ModuleID { return m.id }

func (m *delayModule) Init(inputs, outputs []*bundle.Bundle) error {
	if len(inputs) != 1 || len(outputs) != 1 {
		return fmt.Errorf("delay: expected exactly one input and one output bundle, got %d/%d", len(inputs), len(outputs))
	}
	m.in = inputs[0]
	m.out = outputs[0]
	m.history = nil
	return nil
}

// Run writes last period's input into the output bundle (silence on the
// first period, before any history has accumulated), then snapshots this
// period's input for next time.
func (m *delayModule) Run() error {
	if m.in == nil || m.out == nil {
		return fmt.Errorf("delay: not initialized")
	}
	outData := m.out.Data()
	if m.history == nil {
		for i := range outData {
			outData[i] = 0
		}
	} else {
		copy(outData, m.history)
	}

	inData := m.in.Data()
	if m.history == nil {
		m.history = make([]float32, len(inData))
	}
	copy(m.history, inData)
	return nil
}

func (m *delayModule) Reset() error {
	m.history = nil
	return nil
}

func (m *delayModule) SetProperty(name string, v PropertyValue) error {
	return fmt.Errorf("delay: unknown property %q", name)
}

func (m *delayModule) Property(name string) (PropertyValue, bool) {
	return PropertyValue{}, false
}
