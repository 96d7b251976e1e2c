/*
NAME
  pipeline.go

DESCRIPTION
  pipeline implements the bundled DSP chain: a graph of processing
  modules connected by pins, an initialization step
  (initPipelineAudioChain) that topologically orders the modules on
  their immediate edges and binds each module's input/output pins to
  concrete bundle sequences, and a per-period Process that runs the
  frozen module order, grounded on revid/pipeline.go's init-then-run
  two-phase structure (build the ordered chain of io.Writers once,
  then drive bytes through it every call) generalized from a linear
  chain to a DAG of bundle-bound modules.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package pipeline implements per-zone bundled DSP chains: pins, links,
// topological module ordering, and per-period stream execution, per
// SPEC_FULL.md §4.8.
package pipeline

import (
	"fmt"

	"github.com/iasaudio/bar/barerr"
	"github.com/iasaudio/bar/barid"
	"github.com/iasaudio/bar/bundle"
	"github.com/iasaudio/bar/pipeline/plugin"
)

// PinDirection classifies a Pin's role in the graph.
type PinDirection int

const (
	PipelineInput PinDirection = iota
	PipelineOutput
	ModuleInput
	ModuleOutput
	ModuleInOut
)

// LinkType distinguishes an ordering-significant edge from one satisfied
// by last period's bundles, per SPEC_FULL.md §4.8 step 1.
type LinkType int

const (
	Immediate LinkType = iota
	Delayed
)

// Pin is one named, channel-counted connection point on the pipeline
// boundary or on a module.
type Pin struct {
	ID       barid.PinID
	Name     string
	Channels int
	Dir      PinDirection

	// Module is zero for PipelineInput/PipelineOutput pins.
	Module barid.ModuleID

	// stream is assigned during initPipelineAudioChain: the sequence of
	// bundles backing this pin's logical stream.
	stream *boundStream
}

// link is a directed edge between two pins, recorded at addPin/link time
// and consumed by initPipelineAudioChain.
type link struct {
	from, to barid.PinID
	kind     LinkType
}

// moduleEntry is a pipeline's bookkeeping record for one registered
// processing module: its plugin instance plus the pins it owns.
type moduleEntry struct {
	id     barid.ModuleID
	mod    plugin.Module
	inputs []barid.PinID
	output []barid.PinID
}

// boundStream is the concrete bundle sequence and canonical layout state
// backing one logical audio stream, per SPEC_FULL.md §4.8's stream
// conversions.
type boundStream struct {
	channels int
	bundles  []*bundle.Bundle

	// sid, when non-empty, holds the stream-identification sample that
	// propagates unchanged from input to output, per SPEC_FULL.md §4.8.
	sid    float32
	hasSID bool

	// hasPipelineInput is true when a PipelineInput pin's root is unioned
	// into this stream - an in-place module pin or a module-free
	// pass-through pin shares the pipeline-input stream by construction,
	// so Process must not clear it before running.
	hasPipelineInput bool
}

// Pipeline is one zone's bundled DSP chain: a pin graph plus, once
// initPipelineAudioChain has run, a frozen module order and stream
// bindings.
type Pipeline struct {
	ID         barid.PipelineID
	Name       string
	PeriodSize int
	SampleRate float64

	pool *bundle.Pool

	pins    map[barid.PinID]*Pin
	modules map[barid.ModuleID]*moduleEntry
	links   []link

	// order is the frozen topological module order, populated by
	// initPipelineAudioChain.
	order []barid.ModuleID

	// streams are the distinct logical audio streams discovered during
	// initPipelineAudioChain, keyed by an arbitrary representative pin.
	streams map[barid.PinID]*boundStream

	initialized bool
}

// New constructs an empty pipeline bound to a bundle pool sized for
// periodSize-frame bundles.
func New(id barid.PipelineID, name string, periodSize int, sampleRate float64, pool *bundle.Pool) *Pipeline {
	return &Pipeline{
		ID:         id,
		Name:       name,
		PeriodSize: periodSize,
		SampleRate: sampleRate,
		pool:       pool,
		pins:       make(map[barid.PinID]*Pin),
		modules:    make(map[barid.ModuleID]*moduleEntry),
	}
}

// AddPipelineInputPin / AddPipelineOutputPin register a boundary pin
// owned by the pipeline itself rather than a module.
func (p *Pipeline) AddPipelineInputPin(name string, channels int) *Pin {
	return p.addPin(name, channels, PipelineInput, 0)
}

func (p *Pipeline) AddPipelineOutputPin(name string, channels int) *Pin {
	return p.addPin(name, channels, PipelineOutput, 0)
}

// AddProcessingModule instantiates typeName from reg and registers it as
// a pipeline module; callers then attach its pins with AddModulePin.
func (p *Pipeline) AddProcessingModule(reg *plugin.Registry, typeName, instanceName string) (barid.ModuleID, error) {
	id := barid.NewModuleID()
	mod, err := reg.Create(typeName, id, instanceName)
	if err != nil {
		return 0, barerr.New(barerr.InvalidParam, "pipeline.AddProcessingModule", err)
	}
	p.modules[id] = &moduleEntry{id: id, mod: mod}
	return id, nil
}

// AddModulePin attaches a named input/output/inout pin to an
// already-added module.
func (p *Pipeline) AddModulePin(mid barid.ModuleID, name string, channels int, dir PinDirection) (*Pin, error) {
	m, ok := p.modules[mid]
	if !ok {
		return nil, barerr.New(barerr.InvalidParam, "pipeline.AddModulePin", fmt.Errorf("unknown module %v", mid))
	}
	pin := p.addPin(name, channels, dir, mid)
	switch dir {
	case ModuleInput, ModuleInOut:
		m.inputs = append(m.inputs, pin.ID)
	}
	switch dir {
	case ModuleOutput, ModuleInOut:
		m.output = append(m.output, pin.ID)
	}
	return pin, nil
}

func (p *Pipeline) addPin(name string, channels int, dir PinDirection, mid barid.ModuleID) *Pin {
	pin := &Pin{ID: barid.NewPinID(), Name: name, Channels: channels, Dir: dir, Module: mid}
	p.pins[pin.ID] = pin
	return pin
}

// Link records an edge between an output-capable pin and an
// input-capable pin, per SPEC_FULL.md §6's `link(outPin, inPin,
// linkType)` setup call.
func (p *Pipeline) Link(out, in barid.PinID, kind LinkType) error {
	if _, ok := p.pins[out]; !ok {
		return barerr.New(barerr.InvalidParam, "pipeline.Link", fmt.Errorf("unknown pin %v", out))
	}
	if _, ok := p.pins[in]; !ok {
		return barerr.New(barerr.InvalidParam, "pipeline.Link", fmt.Errorf("unknown pin %v", in))
	}
	p.links = append(p.links, link{from: out, to: in, kind: kind})
	return nil
}

// InitPipelineAudioChain performs the four-step initialization named in
// SPEC_FULL.md §4.8: topological order over immediate edges, stream
// discovery over all edges, module input/output binding, and freezing
// the execution order.
func (p *Pipeline) InitPipelineAudioChain() error {
	order, err := p.topoOrder()
	if err != nil {
		return err
	}
	p.streams = p.traceStreams()
	if err := p.bindModuleStreams(); err != nil {
		return err
	}
	p.order = order
	p.initialized = true
	return nil
}

// topoOrder computes a topological order of modules using only
// immediate edges (Kahn's algorithm); delayed edges are recorded in
// p.links but excluded from the dependency graph, per SPEC_FULL.md
// §4.8 step 1.
func (p *Pipeline) topoOrder() ([]barid.ModuleID, error) {
	deps := make(map[barid.ModuleID]map[barid.ModuleID]bool)
	for mid := range p.modules {
		deps[mid] = make(map[barid.ModuleID]bool)
	}
	for _, l := range p.links {
		if l.kind != Immediate {
			continue
		}
		fromPin, to := p.pins[l.from], p.pins[l.to]
		if fromPin == nil || to == nil {
			continue
		}
		if fromPin.Module != 0 && to.Module != 0 && fromPin.Module != to.Module {
			if deps[to.Module] != nil {
				deps[to.Module][fromPin.Module] = true
			}
		}
	}

	var order []barid.ModuleID
	visited := make(map[barid.ModuleID]bool)
	var visit func(mid barid.ModuleID, stack map[barid.ModuleID]bool) error
	visit = func(mid barid.ModuleID, stack map[barid.ModuleID]bool) error {
		if visited[mid] {
			return nil
		}
		if stack[mid] {
			return barerr.New(barerr.InvalidParam, "pipeline.topoOrder", fmt.Errorf("cycle on immediate edges at module %v", mid))
		}
		stack[mid] = true
		for dep := range deps[mid] {
			if err := visit(dep, stack); err != nil {
				return err
			}
		}
		stack[mid] = false
		visited[mid] = true
		order = append(order, mid)
		return nil
	}

	for mid := range p.modules {
		if err := visit(mid, make(map[barid.ModuleID]bool)); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// traceStreams determines the set of distinct logical audio streams by
// following the union-find of every pin connected by any link (immediate
// or delayed), per SPEC_FULL.md §4.8 step 2.
func (p *Pipeline) traceStreams() map[barid.PinID]*boundStream {
	parent := make(map[barid.PinID]barid.PinID, len(p.pins))
	for id := range p.pins {
		parent[id] = id
	}
	var find func(barid.PinID) barid.PinID
	find = func(x barid.PinID) barid.PinID {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b barid.PinID) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}
	for _, l := range p.links {
		union(l.from, l.to)
	}

	roots := make(map[barid.PinID][]barid.PinID)
	for id := range p.pins {
		r := find(id)
		roots[r] = append(roots[r], id)
	}

	streams := make(map[barid.PinID]*boundStream, len(roots))
	for root, members := range roots {
		channels := 0
		hasPipelineInput := false
		for _, m := range members {
			if p.pins[m].Channels > channels {
				channels = p.pins[m].Channels
			}
			if p.pins[m].Dir == PipelineInput {
				hasPipelineInput = true
			}
		}
		n := bundlesFor(channels)
		bundles := make([]*bundle.Bundle, n)
		for i := range bundles {
			bundles[i] = p.pool.Get()
		}
		s := &boundStream{channels: channels, bundles: bundles, hasPipelineInput: hasPipelineInput}
		streams[root] = s
		for _, m := range members {
			p.pins[m].stream = s
		}
	}
	return streams
}

// bundlesFor returns ceil(channels/4), the bundle-count rule from
// SPEC_FULL.md §4.8 step 2.
func bundlesFor(channels int) int {
	if channels <= 0 {
		return 0
	}
	return (channels + bundle.Channels - 1) / bundle.Channels
}

// bindModuleStreams materializes each module's input/output bundle
// slice from its pins' resolved streams and calls its Init, per
// SPEC_FULL.md §4.8 step 3.
func (p *Pipeline) bindModuleStreams() error {
	for _, m := range p.modules {
		inputs := p.bundlesForPins(m.inputs)
		outputs := p.bundlesForPins(m.output)
		if err := m.mod.Init(inputs, outputs); err != nil {
			return barerr.New(barerr.InitFailed, "pipeline.bindModuleStreams", err)
		}
	}
	return nil
}

func (p *Pipeline) bundlesForPins(pins []barid.PinID) []*bundle.Bundle {
	var out []*bundle.Bundle
	for _, pid := range pins {
		pin := p.pins[pid]
		if pin == nil || pin.stream == nil {
			continue
		}
		out = append(out, pin.stream.bundles...)
	}
	return out
}

// Process runs one period: every stream not carrying a pulled pipeline
// input is cleared (a module-output-only stream from last period, or a
// pipeline-output stream fed entirely by module output), then every
// module runs in the order frozen by InitPipelineAudioChain, per
// SPEC_FULL.md §4.8's per-period contract. A stream shared with a
// PipelineInput pin - the in-place (ModuleInOut) pattern, and the
// module-free pass-through case - is left untouched, since clearing it
// would erase pullInputs' already-decoded signal before any module ran.
func (p *Pipeline) Process() error {
	if !p.initialized {
		return barerr.New(barerr.NotInitialized, "pipeline.Process", nil)
	}
	cleared := make(map[*boundStream]bool, len(p.streams))
	for _, s := range p.streams {
		if cleared[s] || s.hasPipelineInput {
			continue
		}
		cleared[s] = true
		for _, b := range s.bundles {
			b.Clear()
		}
	}
	p.propagateSID()
	for _, mid := range p.order {
		m := p.modules[mid]
		if err := m.mod.Run(); err != nil {
			return barerr.New(barerr.Fatal, "pipeline.Process", err)
		}
	}
	return nil
}

// propagateSID carries each module's input SID onto its output streams,
// per SPEC_FULL.md §4.8's "propagates unchanged from input to output"
// rule. A pin directly linked to another (PipelineInput->PipelineOutput,
// or a ModuleInOut pin) already shares one boundStream by construction,
// so the SID is already visible there; a module with distinct input and
// output pins needs this explicit per-period forwarding. Walking p.order
// - the frozen topological order - makes the forwarding transitive
// across a multi-module chain within one pass.
func (p *Pipeline) propagateSID() {
	for _, mid := range p.order {
		m := p.modules[mid]
		var sid float32
		var hasSID bool
		for _, pid := range m.inputs {
			pin := p.pins[pid]
			if pin == nil || pin.stream == nil || !pin.stream.hasSID {
				continue
			}
			sid, hasSID = pin.stream.sid, true
			break
		}
		if !hasSID {
			continue
		}
		for _, pid := range m.output {
			pin := p.pins[pid]
			if pin == nil || pin.stream == nil {
				continue
			}
			pin.stream.sid = sid
			pin.stream.hasSID = true
		}
	}
}

// SIDFor returns pin's bound stream's propagated SID sample, or ok=false
// when the stream carries none.
func (p *Pipeline) SIDFor(pid barid.PinID) (sid float32, ok bool) {
	pin, found := p.pins[pid]
	if !found || pin.stream == nil {
		return 0, false
	}
	return pin.stream.sid, pin.stream.hasSID
}

// SetSIDFor tags pin's bound stream with sid, e.g. a pipeline-input pin
// whose device-side port carries a stream identification sample this
// period; InitPipelineAudioChain's union means an in-place or
// pass-through pin already shares this same stream, and propagateSID
// carries it to every linked downstream stream each period.
func (p *Pipeline) SetSIDFor(pid barid.PinID, sid float32) {
	pin, ok := p.pins[pid]
	if !ok || pin.stream == nil {
		return
	}
	pin.stream.sid = sid
	pin.stream.hasSID = true
}

// StreamFor returns the bound stream backing pin, or nil before
// InitPipelineAudioChain has run.
func (p *Pipeline) StreamFor(pid barid.PinID) []*bundle.Bundle {
	pin, ok := p.pins[pid]
	if !ok || pin.stream == nil {
		return nil
	}
	return asBundledStream(pin.stream)
}

// InterleavedFor flattens pin's bound stream into one interleaved
// []float32, the layout a device ring buffer write or a switch-matrix
// job expects, per SPEC_FULL.md §4.8's lazy stream-layout conversions.
func (p *Pipeline) InterleavedFor(pid barid.PinID) ([]float32, error) {
	pin, ok := p.pins[pid]
	if !ok || pin.stream == nil {
		return nil, barerr.New(barerr.InvalidParam, "pipeline.InterleavedFor", nil)
	}
	return asInterleavedStream(pin.stream)
}

// SetInterleavedFor is InterleavedFor's inverse: it scatters samples
// (interleaved, pin's channel count) into the bundles backing pin's
// bound stream, e.g. decoding a ring buffer read area into a pipeline
// input pin.
func (p *Pipeline) SetInterleavedFor(pid barid.PinID, samples []float32) error {
	pin, ok := p.pins[pid]
	if !ok || pin.stream == nil {
		return barerr.New(barerr.InvalidParam, "pipeline.SetInterleavedFor", nil)
	}
	return fromInterleavedStream(pin.stream, samples)
}

// NonInterleavedFor splits pin's bound stream into per-channel
// []float32 slices.
func (p *Pipeline) NonInterleavedFor(pid barid.PinID) ([][]float32, error) {
	pin, ok := p.pins[pid]
	if !ok || pin.stream == nil {
		return nil, barerr.New(barerr.InvalidParam, "pipeline.NonInterleavedFor", nil)
	}
	return asNonInterleavedStream(pin.stream)
}

// SetNonInterleavedFor is NonInterleavedFor's inverse.
func (p *Pipeline) SetNonInterleavedFor(pid barid.PinID, src [][]float32) error {
	pin, ok := p.pins[pid]
	if !ok || pin.stream == nil {
		return barerr.New(barerr.InvalidParam, "pipeline.SetNonInterleavedFor", nil)
	}
	return fromNonInterleavedStream(pin.stream, src)
}

// Module returns a registered module instance by id, for callers (the
// bar facade's setProperties) that need to reach a module's property bag
// from outside the package.
func (p *Pipeline) Module(id barid.ModuleID) (plugin.Module, bool) {
	m, ok := p.modules[id]
	if !ok {
		return nil, false
	}
	return m.mod, true
}

// asBundledStream is already the canonical layout this package stores
// streams in; it is a no-op conversion kept to name the lazy-conversion
// contract from SPEC_FULL.md §4.8 explicitly.
func asBundledStream(s *boundStream) []*bundle.Bundle { return s.bundles }

// asInterleavedStream flattens a bound stream's bundles into one
// interleaved slice of s.channels channels, performed lazily whenever a
// consumer (e.g. a device writer) requests this layout.
func asInterleavedStream(s *boundStream) ([]float32, error) {
	if len(s.bundles) == 0 {
		return nil, nil
	}
	frames := s.bundles[0].Frames()
	out := make([]float32, frames*s.channels)
	remaining := s.channels
	for bi, b := range s.bundles {
		n := remaining
		if n > bundle.Channels {
			n = bundle.Channels
		}
		data := b.Data()
		for f := 0; f < frames; f++ {
			for ch := 0; ch < n; ch++ {
				out[f*s.channels+bi*bundle.Channels+ch] = data[f*bundle.Channels+ch]
			}
		}
		remaining -= n
	}
	return out, nil
}

// fromInterleavedStream is asInterleavedStream's inverse: it scatters an
// interleaved []float32 of s.channels channels into s.bundles' backing
// storage, zero-padding any channel beyond s.channels in the last
// bundle, per SPEC_FULL.md §4.8.
func fromInterleavedStream(s *boundStream, samples []float32) error {
	if len(s.bundles) == 0 {
		return nil
	}
	frames := s.bundles[0].Frames()
	if len(samples) < frames*s.channels {
		return barerr.New(barerr.InvalidParam, "pipeline.fromInterleavedStream", fmt.Errorf("interleaved source too short: have %d, want %d", len(samples), frames*s.channels))
	}
	remaining := s.channels
	for bi, b := range s.bundles {
		n := remaining
		if n > bundle.Channels {
			n = bundle.Channels
		}
		if n < 0 {
			n = 0
		}
		data := b.Data()
		for f := 0; f < frames; f++ {
			for ch := 0; ch < bundle.Channels; ch++ {
				if ch < n {
					data[f*bundle.Channels+ch] = samples[f*s.channels+bi*bundle.Channels+ch]
				} else {
					data[f*bundle.Channels+ch] = 0
				}
			}
		}
		remaining -= n
	}
	return nil
}

// asNonInterleavedStream splits a bound stream's bundles into
// s.channels per-channel slices.
func asNonInterleavedStream(s *boundStream) ([][]float32, error) {
	if len(s.bundles) == 0 {
		return nil, nil
	}
	frames := s.bundles[0].Frames()
	out := make([][]float32, s.channels)
	for i := range out {
		out[i] = make([]float32, frames)
	}
	remaining := s.channels
	for bi, b := range s.bundles {
		n := remaining
		if n > bundle.Channels {
			n = bundle.Channels
		}
		data := b.Data()
		for f := 0; f < frames; f++ {
			for ch := 0; ch < n; ch++ {
				out[bi*bundle.Channels+ch][f] = data[f*bundle.Channels+ch]
			}
		}
		remaining -= n
	}
	return out, nil
}

// fromNonInterleavedStream is asNonInterleavedStream's inverse: it
// scatters s.channels per-channel slices into s.bundles' backing
// storage.
func fromNonInterleavedStream(s *boundStream, src [][]float32) error {
	if len(s.bundles) == 0 {
		return nil
	}
	if len(src) < s.channels {
		return barerr.New(barerr.InvalidParam, "pipeline.fromNonInterleavedStream", fmt.Errorf("non-interleaved source has %d channels, want %d", len(src), s.channels))
	}
	frames := s.bundles[0].Frames()
	remaining := s.channels
	for bi, b := range s.bundles {
		n := remaining
		if n > bundle.Channels {
			n = bundle.Channels
		}
		if n < 0 {
			n = 0
		}
		data := b.Data()
		for f := 0; f < frames; f++ {
			for ch := 0; ch < bundle.Channels; ch++ {
				if ch < n {
					data[f*bundle.Channels+ch] = src[bi*bundle.Channels+ch][f]
				} else {
					data[f*bundle.Channels+ch] = 0
				}
			}
		}
		remaining -= n
	}
	return nil
}
