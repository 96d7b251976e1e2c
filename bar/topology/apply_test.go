/*
NAME
  apply_test.go

DESCRIPTION
  apply_test.go exercises Parse+Apply against a complete in-memory
  Topology XML document: one source device, a zone, a pipeline wrapping the
  gain module, and both link kinds.

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
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ausocean/utils/logging"

	"github.com/iasaudio/bar/bar"
)

const testDoc = `<?xml version="1.0"?>
<Topology>
  <Sources>
    <Source name="mic" kind="shm" channels="2" sampleRate="48000" format="F32" periodSize="128" periodCount="4" clock="provided" shmSocket="%s">
      <OutputPort name="out" channels="2"/>
    </Source>
  </Sources>
  <RoutingZones>
    <RoutingZone name="zone1" periodSize="128" sampleRate="48000">
      <InputPort name="in1" channels="2"/>
      <Pipeline ref="p1"/>
    </RoutingZone>
  </RoutingZones>
  <Links>
    <SetupLink zoneInputPort="zone1.in1" pipelinePin="p1.in" channels="2"/>
    <RoutingLink source="mic.out" sink="zone1.in1"/>
  </Links>
  <Pipelines>
    <Pipeline name="p1" periodSize="128" sampleRate="48000">
      <InputPins><InputPin name="in" channels="2"/></InputPins>
      <OutputPins><OutputPin name="out" channels="2"/></OutputPins>
      <ProcessingModules>
        <ProcessingModule type="gain" name="trim">
          <InOutPin name="io" channels="2"/>
          <ScalarProperty name="gain" type="Float32" value="0.5"/>
        </ProcessingModule>
      </ProcessingModules>
      <ProcessingLinks>
        <ProcessingLink from="in" to="trim.io" type="immediate"/>
        <ProcessingLink from="trim.io" to="out" type="immediate"/>
      </ProcessingLinks>
    </Pipeline>
  </Pipelines>
</Topology>`

func TestApplyFullTopology(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "mic.sock")
	doc, err := Parse([]byte(fmt.Sprintf(testDoc, sockPath)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	l := logging.New(logging.Debug, &bytes.Buffer{}, true)
	b := bar.New(l, nil)

	if err := Apply(b, doc); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	ev, err := b.GetNextEvent()
	if err != nil {
		t.Fatalf("GetNextEvent: %v", err)
	}
	if ev.Kind != bar.SetupEvent {
		t.Fatalf("first event = %+v, want a SetupEvent for device creation", ev)
	}

	ev, err = b.GetNextEvent()
	if err != nil {
		t.Fatalf("GetNextEvent (properties): %v", err)
	}
	if ev.Kind != bar.ModuleEvent {
		t.Fatalf("second event = %+v, want a ModuleEvent for SetProperties", ev)
	}

	ev, err = b.GetNextEvent()
	if err != nil {
		t.Fatalf("GetNextEvent (connect): %v", err)
	}
	if ev.Kind != bar.ConnectionEvent || ev.Connection != bar.Connected {
		t.Fatalf("third event = %+v, want Connected", ev)
	}
}
