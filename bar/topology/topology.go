/*
NAME
  topology.go

DESCRIPTION
  topology defines the Go struct tags mirroring the Topology XML schema
  of spec.md §6 (Sources/Sinks/RoutingZones/Links/Pipelines/
  ProcessingModules/ScalarProperty/VectorProperty). Parsing the schema is
  explicitly out of scope as a product feature (§1), but the schema still
  needs a concrete consumer; Apply (in apply.go) is that consumer, walking
  a parsed Document and issuing the corresponding bar.Bar Setup API calls.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package topology provides the struct representation of the audio bar's
// Topology XML file and a walker that turns a parsed document into Setup
// API calls against a bar.Bar.
package topology

import "encoding/xml"

// Document is the root element of a Topology XML file.
type Document struct {
	XMLName   xml.Name   `xml:"Topology"`
	Sources   []Source   `xml:"Sources>Source"`
	Sinks     []Sink     `xml:"Sinks>Sink"`
	Zones     []Zone     `xml:"RoutingZones>RoutingZone"`
	Links     Links      `xml:"Links"`
	Pipelines []Pipeline `xml:"Pipelines>Pipeline"`
}

// Device is the shared attribute set of a Source or Sink element.
type Device struct {
	Name        string  `xml:"name,attr"`
	Kind        string  `xml:"kind,attr"` // "hardware" or "shm"
	Channels    int     `xml:"channels,attr"`
	SampleRate  float64 `xml:"sampleRate,attr"`
	Format      string  `xml:"format,attr"`      // e.g. "F32"
	PeriodSize  int     `xml:"periodSize,attr"`
	PeriodCount int     `xml:"periodCount,attr"`
	Clock       string  `xml:"clock,attr"` // "provided", "received", "receivedAsync"
	AsrcPeriods int     `xml:"asrcPeriods,attr"`
	ShmSocket   string  `xml:"shmSocket,attr"`

	OutputPorts []Port `xml:"OutputPort"`
	InputPorts  []Port `xml:"InputPort"`
}

// Source is an audio source device, with the output ports later targeted
// by RoutingLinks.
type Source struct {
	Device
}

// Sink is an audio sink device, either the direct target of a zone's
// LinkZoneSink or (less commonly) a plain pass-through device.
type Sink struct {
	Device
}

// Port names one of a device's or zone's addressable ports.
type Port struct {
	Name     string `xml:"name,attr"`
	Channels int    `xml:"channels,attr"`
	Capacity int    `xml:"capacityFrames,attr"`
}

// Zone is a routing zone, its input ports, optional sink link, optional
// attached pipeline, and optional derived zones.
type Zone struct {
	Name       string  `xml:"name,attr"`
	PeriodSize int     `xml:"periodSize,attr"`
	SampleRate float64 `xml:"sampleRate,attr"`

	InputPorts []Port `xml:"InputPort"`

	Pipeline *ZoneRef `xml:"Pipeline"`
	Sink     *SinkRef `xml:"Sink"`

	Derived []ZoneRef `xml:"DerivedZones>DerivedZone"`
}

// ZoneRef names another top-level element by its Name attribute.
type ZoneRef struct {
	Ref string `xml:"ref,attr"`
}

// SinkRef names the sink device a zone commits to, and the pipeline
// output pin feeding it.
type SinkRef struct {
	Ref       string `xml:"ref,attr"`
	OutputPin string `xml:"outputPin,attr"`
	Channels  int    `xml:"channels,attr"`
}

// Links holds the two link kinds named in spec.md §6: a RoutingLink wires
// a source device's output port to a zone's input port (the
// switchmatrix.Matrix connection); a SetupLink wires an already-declared
// zone input port to one of that zone's pipeline's input pins.
type Links struct {
	RoutingLinks []RoutingLink `xml:"RoutingLink"`
	SetupLinks   []SetupLink   `xml:"SetupLink"`
}

// RoutingLink names a connect(sourceId, sinkId) pair by "device.port".
type RoutingLink struct {
	Source string `xml:"source,attr"`
	Sink   string `xml:"sink,attr"`
}

// SetupLink names a LinkZoneInputPort(zone, port, pin) call by
// "zone.port" and "pipeline.pin".
type SetupLink struct {
	ZoneInputPort string `xml:"zoneInputPort,attr"`
	PipelinePin   string `xml:"pipelinePin,attr"`
	Channels      int    `xml:"channels,attr"`
}

// Pipeline is one zone's bundled DSP chain description.
type Pipeline struct {
	Name       string `xml:"name,attr"`
	PeriodSize int    `xml:"periodSize,attr"`
	SampleRate float64 `xml:"sampleRate,attr"`

	InputPins  []Pin `xml:"InputPins>InputPin"`
	OutputPins []Pin `xml:"OutputPins>OutputPin"`
	Modules    []ProcessingModule `xml:"ProcessingModules>ProcessingModule"`
	Links      []ProcessingLink   `xml:"ProcessingLinks>ProcessingLink"`
}

// Pin is one of a pipeline's boundary pins.
type Pin struct {
	Name     string `xml:"name,attr"`
	Channels int    `xml:"channels,attr"`
}

// ProcessingModule instantiates a registered plugin.Module type, with
// its pins and initial scalar/vector property values.
type ProcessingModule struct {
	Type string `xml:"type,attr"`
	Name string `xml:"name,attr"`

	InputPins  []Pin `xml:"InputPin"`
	OutputPins []Pin `xml:"OutputPin"`
	InOutPins  []Pin `xml:"InOutPin"`

	ScalarProperties []ScalarProperty `xml:"ScalarProperty"`
	VectorProperties []VectorProperty `xml:"VectorProperty"`
}

// ScalarProperty is a single typed value, per spec.md §6's
// `{int32, int64, float32, float64, string}` property type set.
type ScalarProperty struct {
	Name  string `xml:"name,attr"`
	Type  string `xml:"type,attr"` // Int32, Int64, Float32, Float64, String
	Value string `xml:"value,attr"`
}

// VectorProperty is a whitespace-separated list of typed values.
type VectorProperty struct {
	Name   string `xml:"name,attr"`
	Type   string `xml:"type,attr"`
	Values string `xml:"values,attr"`
}

// ProcessingLink names a pipeline.Link(outPin, inPin, linkType) call by
// pin reference ("" module name means a pipeline boundary pin; otherwise
// "module.pin").
type ProcessingLink struct {
	From string `xml:"from,attr"`
	To   string `xml:"to,attr"`
	Type string `xml:"type,attr"` // "immediate" or "delayed"
}

// Parse decodes a Topology XML document from data.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
