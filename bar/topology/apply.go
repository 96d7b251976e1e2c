/*
NAME
  apply.go

DESCRIPTION
  apply.go walks a parsed Document and issues the corresponding bar.Bar
  Setup API calls, giving the Topology XML schema a concrete consumer
  per SPEC_FULL.md §6's topology-loader expansion even though XML parsing
  itself is out of scope as a product feature.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package topology

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/iasaudio/bar/bar"
	"github.com/iasaudio/bar/barerr"
	"github.com/iasaudio/bar/barid"
	"github.com/iasaudio/bar/device"
	"github.com/iasaudio/bar/pcmformat"
	"github.com/iasaudio/bar/pipeline"
	"github.com/iasaudio/bar/pipeline/plugin"
)

// applyState tracks the name -> ID mappings built up while walking a
// Document, so later elements (links, pipelines) can refer back to
// earlier ones (devices, zones) by the names the XML uses.
type applyState struct {
	b *bar.Bar

	devices map[string]barid.DeviceID
	// devicePorts maps "device.port" to the PortID created for that
	// named output port.
	devicePorts map[string]barid.PortID

	zones map[string]barid.ZoneID
	// zonePorts maps "zone.port" to the PortID created for that named
	// input port.
	zonePorts map[string]barid.PortID

	pipelines map[string]barid.PipelineID
	// pins maps "pipeline.pin" (boundary pins) and "pipeline.module.pin"
	// (module pins) to their PinID.
	pins map[string]barid.PinID
}

// Apply walks doc and issues the Setup API calls that construct the
// devices, ports, zones, pipelines and links it describes, in the
// dependency order the Setup API requires (devices and ports before
// zones, zones before links, pipelines before zone attachment).
func Apply(b *bar.Bar, doc *Document) error {
	st := &applyState{
		b:           b,
		devices:     make(map[string]barid.DeviceID),
		devicePorts: make(map[string]barid.PortID),
		zones:       make(map[string]barid.ZoneID),
		zonePorts:   make(map[string]barid.PortID),
		pipelines:   make(map[string]barid.PipelineID),
		pins:        make(map[string]barid.PinID),
	}

	for _, s := range doc.Sources {
		if err := st.applyDevice(s.Device, device.Source); err != nil {
			return fmt.Errorf("source %q: %w", s.Name, err)
		}
	}
	for _, s := range doc.Sinks {
		if err := st.applyDevice(s.Device, device.Sink); err != nil {
			return fmt.Errorf("sink %q: %w", s.Name, err)
		}
	}
	for _, p := range doc.Pipelines {
		if err := st.applyPipeline(p); err != nil {
			return fmt.Errorf("pipeline %q: %w", p.Name, err)
		}
	}
	for _, z := range doc.Zones {
		if err := st.applyZone(z); err != nil {
			return fmt.Errorf("zone %q: %w", z.Name, err)
		}
	}
	for _, l := range doc.Links.SetupLinks {
		if err := st.applySetupLink(l); err != nil {
			return fmt.Errorf("setup link %q -> %q: %w", l.ZoneInputPort, l.PipelinePin, err)
		}
	}
	for _, l := range doc.Links.RoutingLinks {
		if err := st.applyRoutingLink(l); err != nil {
			return fmt.Errorf("routing link %q -> %q: %w", l.Source, l.Sink, err)
		}
	}
	for _, z := range doc.Zones {
		for _, d := range z.Derived {
			baseID, ok := st.zones[z.Name]
			if !ok {
				return fmt.Errorf("derived zone %q: unknown base zone %q", d.Ref, z.Name)
			}
			derivedID, ok := st.zones[d.Ref]
			if !ok {
				return fmt.Errorf("derived zone %q: unknown zone", d.Ref)
			}
			if err := b.AddDerivedZone(baseID, derivedID); err != nil {
				return fmt.Errorf("derived zone %q -> %q: %w", z.Name, d.Ref, err)
			}
		}
	}
	return nil
}

func (st *applyState) applyDevice(d Device, dir device.Direction) error {
	format, err := parseFormat(d.Format)
	if err != nil {
		return err
	}
	clock, err := parseClock(d.Clock)
	if err != nil {
		return err
	}
	params := device.Params{
		Name:                 d.Name,
		Direction:            dir,
		Channels:             d.Channels,
		SampleRate:           d.SampleRate,
		Format:               format,
		PeriodSize:           d.PeriodSize,
		PeriodCount:          d.PeriodCount,
		Clock:                clock,
		NumPeriodsAsrcBuffer: d.AsrcPeriods,
	}

	kind, err := parseDeviceKind(d.Kind)
	if err != nil {
		return err
	}

	var id barid.DeviceID
	if dir == device.Source {
		id, err = st.b.CreateAudioSourceDevice(kind, params, d.ShmSocket)
	} else {
		id, err = st.b.CreateAudioSinkDevice(kind, params, d.ShmSocket)
	}
	if err != nil {
		return err
	}
	st.devices[d.Name] = id

	for _, p := range d.OutputPorts {
		portID, err := st.b.CreateAudioPort(p.Channels)
		if err != nil {
			return fmt.Errorf("output port %q: %w", p.Name, err)
		}
		if err := st.b.AddAudioOutputPort(id, portID); err != nil {
			return fmt.Errorf("output port %q: %w", p.Name, err)
		}
		st.devicePorts[d.Name+"."+p.Name] = portID
	}
	return nil
}

func (st *applyState) applyZone(z Zone) error {
	id, err := st.b.CreateRoutingZone(z.Name, z.PeriodSize, z.SampleRate)
	if err != nil {
		return err
	}
	st.zones[z.Name] = id

	for _, p := range z.InputPorts {
		portID, err := st.b.CreateAudioPort(p.Channels)
		if err != nil {
			return fmt.Errorf("input port %q: %w", p.Name, err)
		}
		if err := st.b.AddAudioInputPort(id, portID, p.Capacity); err != nil {
			return fmt.Errorf("input port %q: %w", p.Name, err)
		}
		st.zonePorts[z.Name+"."+p.Name] = portID
	}

	if z.Pipeline != nil {
		pipelineID, ok := st.pipelines[z.Pipeline.Ref]
		if !ok {
			return fmt.Errorf("unknown pipeline %q", z.Pipeline.Ref)
		}
		if err := st.b.AttachPipeline(id, pipelineID); err != nil {
			return err
		}
	}

	if z.Sink != nil {
		sinkID, ok := st.devices[z.Sink.Ref]
		if !ok {
			return fmt.Errorf("unknown sink device %q", z.Sink.Ref)
		}
		pinID, ok := st.pins[pinKey(z.Pipeline, z.Sink.OutputPin)]
		if !ok {
			return fmt.Errorf("unknown output pin %q", z.Sink.OutputPin)
		}
		if err := st.b.LinkZoneSink(id, sinkID, pinID, z.Sink.Channels); err != nil {
			return err
		}
	}
	return nil
}

// pinKey resolves a bare pin name against the zone's attached pipeline,
// since a Sink element only names the pin, not the pipeline that owns it.
func pinKey(p *ZoneRef, pin string) string {
	if p == nil {
		return pin
	}
	return p.Ref + "." + pin
}

func (st *applyState) applyPipeline(p Pipeline) error {
	id, err := st.b.CreatePipeline(p.Name, p.PeriodSize, p.SampleRate)
	if err != nil {
		return err
	}
	st.pipelines[p.Name] = id

	for _, pin := range p.InputPins {
		pinID, err := st.b.AddPipelineInputPin(id, pin.Name, pin.Channels)
		if err != nil {
			return fmt.Errorf("input pin %q: %w", pin.Name, err)
		}
		st.pins[p.Name+"."+pin.Name] = pinID
	}
	for _, pin := range p.OutputPins {
		pinID, err := st.b.AddPipelineOutputPin(id, pin.Name, pin.Channels)
		if err != nil {
			return fmt.Errorf("output pin %q: %w", pin.Name, err)
		}
		st.pins[p.Name+"."+pin.Name] = pinID
	}

	for _, m := range p.Modules {
		moduleID, err := st.b.AddProcessingModule(id, m.Type, m.Name)
		if err != nil {
			return fmt.Errorf("module %q: %w", m.Name, err)
		}
		if err := st.addModulePins(id, p.Name, m, moduleID); err != nil {
			return err
		}
		if err := st.setModuleProperties(id, moduleID, m); err != nil {
			return fmt.Errorf("module %q: %w", m.Name, err)
		}
	}

	for _, l := range p.Links {
		fromID, ok := st.pins[qualify(p.Name, l.From)]
		if !ok {
			return fmt.Errorf("unknown pin %q", l.From)
		}
		toID, ok := st.pins[qualify(p.Name, l.To)]
		if !ok {
			return fmt.Errorf("unknown pin %q", l.To)
		}
		kind, err := parseLinkType(l.Type)
		if err != nil {
			return err
		}
		if err := st.b.LinkPins(id, fromID, toID, kind); err != nil {
			return fmt.Errorf("link %q -> %q: %w", l.From, l.To, err)
		}
	}

	if err := st.b.InitPipelineAudioChain(id); err != nil {
		return err
	}
	return nil
}

func (st *applyState) addModulePins(pipelineID barid.PipelineID, pipelineName string, m ProcessingModule, moduleID barid.ModuleID) error {
	add := func(pin Pin, dir pipeline.PinDirection) error {
		pinID, err := st.b.AddModulePin(pipelineID, moduleID, pin.Name, pin.Channels, dir)
		if err != nil {
			return fmt.Errorf("module pin %q: %w", pin.Name, err)
		}
		st.pins[pipelineName+"."+m.Name+"."+pin.Name] = pinID
		return nil
	}
	for _, pin := range m.InputPins {
		if err := add(pin, pipeline.ModuleInput); err != nil {
			return err
		}
	}
	for _, pin := range m.OutputPins {
		if err := add(pin, pipeline.ModuleOutput); err != nil {
			return err
		}
	}
	for _, pin := range m.InOutPins {
		if err := add(pin, pipeline.ModuleInOut); err != nil {
			return err
		}
	}
	return nil
}

func (st *applyState) setModuleProperties(pipelineID barid.PipelineID, moduleID barid.ModuleID, m ProcessingModule) error {
	if len(m.ScalarProperties) == 0 && len(m.VectorProperties) == 0 {
		return nil
	}
	props := make(map[string]plugin.PropertyValue, len(m.ScalarProperties)+len(m.VectorProperties))
	for _, sp := range m.ScalarProperties {
		v, err := parseScalar(sp.Type, sp.Value)
		if err != nil {
			return fmt.Errorf("property %q: %w", sp.Name, err)
		}
		props[sp.Name] = v
	}
	for _, vp := range m.VectorProperties {
		v, err := parseVector(vp.Type, vp.Values)
		if err != nil {
			return fmt.Errorf("property %q: %w", vp.Name, err)
		}
		props[vp.Name] = v
	}
	return st.b.SetProperties(pipelineID, moduleID, props)
}

func (st *applyState) applySetupLink(l SetupLink) error {
	portID, ok := st.zonePorts[l.ZoneInputPort]
	if !ok {
		return fmt.Errorf("unknown zone input port %q", l.ZoneInputPort)
	}
	zoneName := l.ZoneInputPort[:strings.IndexByte(l.ZoneInputPort, '.')]
	zoneID, ok := st.zones[zoneName]
	if !ok {
		return fmt.Errorf("unknown zone %q", zoneName)
	}
	pinID, ok := st.pins[l.PipelinePin]
	if !ok {
		return fmt.Errorf("unknown pipeline pin %q", l.PipelinePin)
	}
	return st.b.LinkZoneInputPort(zoneID, portID, pinID, l.Channels)
}

func (st *applyState) applyRoutingLink(l RoutingLink) error {
	sourcePort, ok := st.devicePorts[l.Source]
	if !ok {
		return fmt.Errorf("unknown device output port %q", l.Source)
	}
	sinkPort, ok := st.zonePorts[l.Sink]
	if !ok {
		return fmt.Errorf("unknown zone input port %q", l.Sink)
	}
	res, err := st.b.Connect(sourcePort, sinkPort)
	if err != nil {
		return err
	}
	if res != bar.Ok {
		return barerr.New(barerr.AlreadyInUse, "topology.Apply", fmt.Errorf("connect %q -> %q: %v", l.Source, l.Sink, res))
	}
	return nil
}

// qualify turns a ProcessingLink endpoint ("pin" for a pipeline boundary
// pin, "module.pin" for a module pin) into the key addModulePins/
// applyPipeline registered it under.
func qualify(pipelineName, ref string) string {
	return pipelineName + "." + ref
}

func parseFormat(s string) (pcmformat.Format, error) {
	switch strings.ToUpper(s) {
	case "S16":
		return pcmformat.S16, nil
	case "S32":
		return pcmformat.S32, nil
	case "F32", "":
		return pcmformat.F32, nil
	default:
		return pcmformat.Unknown, fmt.Errorf("unknown format %q", s)
	}
}

func parseClock(s string) (device.Clock, error) {
	switch s {
	case "provided", "":
		return device.ClockProvided, nil
	case "received":
		return device.ClockReceived, nil
	case "receivedAsync":
		return device.ClockReceivedAsync, nil
	default:
		return device.ClockProvided, fmt.Errorf("unknown clock %q", s)
	}
}

func parseDeviceKind(s string) (bar.DeviceKind, error) {
	switch s {
	case "hardware", "":
		return bar.Hardware, nil
	case "shm":
		return bar.SharedMemory, nil
	default:
		return bar.Hardware, fmt.Errorf("unknown device kind %q", s)
	}
}

func parseLinkType(s string) (pipeline.LinkType, error) {
	switch s {
	case "immediate", "":
		return pipeline.Immediate, nil
	case "delayed":
		return pipeline.Delayed, nil
	default:
		return pipeline.Immediate, fmt.Errorf("unknown link type %q", s)
	}
}

func parseScalar(typeName, value string) (plugin.PropertyValue, error) {
	switch typeName {
	case "Int32":
		v, err := strconv.ParseInt(value, 10, 32)
		return plugin.PropertyValue{Int32: []int32{int32(v)}}, err
	case "Int64":
		v, err := strconv.ParseInt(value, 10, 64)
		return plugin.PropertyValue{Int64: []int64{v}}, err
	case "Float32":
		v, err := strconv.ParseFloat(value, 32)
		return plugin.PropertyValue{Float32: []float32{float32(v)}}, err
	case "Float64":
		v, err := strconv.ParseFloat(value, 64)
		return plugin.PropertyValue{Float64: []float64{v}}, err
	case "String":
		return plugin.PropertyValue{String: []string{value}}, nil
	default:
		return plugin.PropertyValue{}, fmt.Errorf("unknown property type %q", typeName)
	}
}

func parseVector(typeName, values string) (plugin.PropertyValue, error) {
	fields := strings.Fields(values)
	switch typeName {
	case "Int32":
		out := make([]int32, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseInt(f, 10, 32)
			if err != nil {
				return plugin.PropertyValue{}, err
			}
			out[i] = int32(v)
		}
		return plugin.PropertyValue{Int32: out}, nil
	case "Int64":
		out := make([]int64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseInt(f, 10, 64)
			if err != nil {
				return plugin.PropertyValue{}, err
			}
			out[i] = v
		}
		return plugin.PropertyValue{Int64: out}, nil
	case "Float32":
		out := make([]float32, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return plugin.PropertyValue{}, err
			}
			out[i] = float32(v)
		}
		return plugin.PropertyValue{Float32: out}, nil
	case "Float64":
		out := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return plugin.PropertyValue{}, err
			}
			out[i] = v
		}
		return plugin.PropertyValue{Float64: out}, nil
	case "String":
		return plugin.PropertyValue{String: fields}, nil
	default:
		return plugin.PropertyValue{}, fmt.Errorf("unknown property type %q", typeName)
	}
}
