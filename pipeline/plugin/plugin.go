/*
NAME
  plugin.go

DESCRIPTION
  plugin defines the processing-module contract pipeline modules
  implement, and a process-wide type registry modules register
  themselves into at init time, grounded on revid/pipeline.go's
  registry-switch pattern for selecting an encoder/filter/sender by a
  configured type name, generalized here to DSP modules discovered by
  plugin id rather than hard-coded in a switch statement.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package plugin defines the bar's processing-module contract and the
// process-wide registry of module types discovered at process start.
package plugin

import (
	"fmt"
	"sync"

	"github.com/iasaudio/bar/barid"
	"github.com/iasaudio/bar/bundle"
)

// PropertyValue is a typed scalar or vector property value, per
// SPEC_FULL.md §6 "Properties" (int32, int64, float32, float64, string,
// or a slice of one of those for vector properties).
type PropertyValue struct {
	Int32   []int32
	Int64   []int64
	Float32 []float32
	Float64 []float64
	String  []string
}

// Module is the published operation set every plugin-provided processing
// module implements: init, run, reset, property set/get, per
// SPEC_FULL.md §9 "Runtime polymorphism".
type Module interface {
	// ID returns the module's instance id within its owning pipeline.
	ID() barid.ModuleID

	// Init prepares the module to run with the given input/output bundle
	// bindings; called once during initPipelineAudioChain.
	Init(inputs, outputs []*bundle.Bundle) error

	// Run processes one period's worth of bundles in place or from inputs
	// to outputs, as bound by Init.
	Run() error

	// Reset clears any internal state (e.g. delay-line history).
	Reset() error

	// SetProperty and Property implement the setup-time property bag;
	// callers must only invoke SetProperty while the owning zone is
	// stopped, per SPEC_FULL.md §5 "Module property bags".
	SetProperty(name string, v PropertyValue) error
	Property(name string) (PropertyValue, bool)
}

// Factory constructs a new Module instance of a registered type.
type Factory func(id barid.ModuleID, instanceName string) (Module, error)

// Registry is the process-wide table of module types discovered at
// process start, one of SPEC_FULL.md §9's explicit process-wide
// collaborator objects.
type Registry struct {
	mu    sync.Mutex
	types map[string]Factory
}

// NewRegistry constructs an empty module type registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Factory)}
}

// Register adds a module type under typeName; re-registering the same
// name overwrites the previous factory, matching how a plugin reload
// would replace a type in place.
func (r *Registry) Register(typeName string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[typeName] = f
}

// Create instantiates a module of typeName with the given instance id and
// name, failing if no such type was registered.
func (r *Registry) Create(typeName string, id barid.ModuleID, instanceName string) (Module, error) {
	r.mu.Lock()
	f, ok := r.types[typeName]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("plugin: unknown module type %q", typeName)
	}
	return f(id, instanceName)
}
