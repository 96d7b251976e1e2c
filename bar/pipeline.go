/*
NAME
  pipeline.go

DESCRIPTION
  pipeline.go implements the Setup API's pipeline operations, thin
  wrappers delegating straight to package pipeline's existing API (per
  spec.md §6's `createPipeline(params)`, `createAudioPin`,
  `addAudio{Input,Output,InOut}Pin`, `addProcessingModule`, `link(outPin,
  inPin, linkType)`, `initPipelineAudioChain`) plus `setProperties`,
  which reaches a module's property bag through Pipeline.Module.

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
	"github.com/iasaudio/bar/pipeline"
	"github.com/iasaudio/bar/pipeline/plugin"
)

// CreatePipeline allocates an empty pipeline sized for periodSize-frame
// bundles, sharing a bundle pool with every other pipeline of the same
// period size, per spec.md §6's `createPipeline(params)`.
func (b *Bar) CreatePipeline(name string, periodSize int, sampleRate float64) (barid.PipelineID, error) {
	pool, err := b.poolFor(periodSize)
	if err != nil {
		return 0, err
	}
	id := barid.NewPipelineID()
	p := pipeline.New(id, name, periodSize, sampleRate, pool)

	b.mu.Lock()
	b.pipelines[id] = p
	b.mu.Unlock()
	return id, nil
}

// AddPipelineInputPin / AddPipelineOutputPin register a pipeline
// boundary pin, per spec.md §6's `createAudioPin` /
// `addAudio{Input,Output}Pin`.
func (b *Bar) AddPipelineInputPin(pipelineID barid.PipelineID, name string, channels int) (barid.PinID, error) {
	p, err := b.pipelineByID(pipelineID)
	if err != nil {
		return 0, err
	}
	return p.AddPipelineInputPin(name, channels).ID, nil
}

func (b *Bar) AddPipelineOutputPin(pipelineID barid.PipelineID, name string, channels int) (barid.PinID, error) {
	p, err := b.pipelineByID(pipelineID)
	if err != nil {
		return 0, err
	}
	return p.AddPipelineOutputPin(name, channels).ID, nil
}

// AddProcessingModule instantiates typeName from the default module
// registry and registers it on pipelineID, per spec.md §6's
// `addProcessingModule`.
func (b *Bar) AddProcessingModule(pipelineID barid.PipelineID, typeName, instanceName string) (barid.ModuleID, error) {
	p, err := b.pipelineByID(pipelineID)
	if err != nil {
		return 0, err
	}
	return p.AddProcessingModule(plugin.DefaultRegistry(), typeName, instanceName)
}

// AddModulePin attaches a named input/output/inout pin to an
// already-added module, per spec.md §6's `addAudioPinMapping`.
func (b *Bar) AddModulePin(pipelineID barid.PipelineID, moduleID barid.ModuleID, name string, channels int, dir pipeline.PinDirection) (barid.PinID, error) {
	p, err := b.pipelineByID(pipelineID)
	if err != nil {
		return 0, err
	}
	pin, err := p.AddModulePin(moduleID, name, channels, dir)
	if err != nil {
		return 0, err
	}
	return pin.ID, nil
}

// LinkPins records an edge between two pins on the same pipeline, per
// spec.md §6's `link(outPin, inPin, linkType)`.
func (b *Bar) LinkPins(pipelineID barid.PipelineID, out, in barid.PinID, kind pipeline.LinkType) error {
	p, err := b.pipelineByID(pipelineID)
	if err != nil {
		return err
	}
	return p.Link(out, in, kind)
}

// InitPipelineAudioChain finalizes a pipeline's module order and stream
// bindings, per spec.md §6's `initPipelineAudioChain`.
func (b *Bar) InitPipelineAudioChain(pipelineID barid.PipelineID) error {
	p, err := b.pipelineByID(pipelineID)
	if err != nil {
		return err
	}
	return p.InitPipelineAudioChain()
}

// SetProperties pushes a batch of properties onto a module's property
// bag, per spec.md §6's `setProperties(module, props)`. The owning zone
// must be stopped: property sets are a setup-time operation, never
// issued from the real-time path.
func (b *Bar) SetProperties(pipelineID barid.PipelineID, moduleID barid.ModuleID, props map[string]plugin.PropertyValue) error {
	p, err := b.pipelineByID(pipelineID)
	if err != nil {
		return err
	}
	mod, ok := p.Module(moduleID)
	if !ok {
		return barerr.New(barerr.InvalidParam, "bar.SetProperties", nil)
	}
	for name, v := range props {
		if err := mod.SetProperty(name, v); err != nil {
			return err
		}
	}
	b.events.push(Event{Kind: ModuleEvent, Module: moduleID, Message: "properties updated"})
	return nil
}

func (b *Bar) pipelineByID(id barid.PipelineID) (*pipeline.Pipeline, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pipelines[id]
	if !ok {
		return nil, barerr.New(barerr.InvalidParam, "bar.pipelineByID", nil)
	}
	return p, nil
}
