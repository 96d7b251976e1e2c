/*
NAME
  bar_test.go

DESCRIPTION
  bar_test.go exercises the facade end-to-end: device/port setup,
  connect/disconnect with the richer Result outcomes, event draining,
  and a full pipeline setup flow against the gain reference module.

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
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/iasaudio/bar/barerr"
	"github.com/iasaudio/bar/device"
	"github.com/iasaudio/bar/pcmformat"
	"github.com/iasaudio/bar/pipeline"
	"github.com/iasaudio/bar/pipeline/plugin"
)

func errIsNoEvent(err error) bool  { return barerr.Is(err, barerr.NoEvent) }
func errIsTimeout(err error) bool  { return barerr.Is(err, barerr.Timeout) }

func testLogger() logging.Logger {
	return logging.New(logging.Debug, &bytes.Buffer{}, true)
}

func shmParams(t *testing.T, name string, dir device.Direction) device.Params {
	t.Helper()
	return device.Params{
		Name:        name,
		Direction:   dir,
		Channels:    2,
		SampleRate:  48000,
		Format:      pcmformat.F32,
		PeriodSize:  128,
		PeriodCount: 4,
		Clock:       device.ClockProvided,
	}
}

func TestConnectDisconnectAndEvents(t *testing.T) {
	b := New(testLogger(), nil)

	sockPath := filepath.Join(t.TempDir(), "src.sock")
	srcDevID, err := b.CreateAudioSourceDevice(SharedMemory, shmParams(t, "mic", device.Source), sockPath)
	if err != nil {
		t.Fatalf("CreateAudioSourceDevice: %v", err)
	}

	otherSockPath := filepath.Join(t.TempDir(), "src2.sock")
	otherSrcDevID, err := b.CreateAudioSourceDevice(SharedMemory, shmParams(t, "mic2", device.Source), otherSockPath)
	if err != nil {
		t.Fatalf("CreateAudioSourceDevice (second): %v", err)
	}

	srcPort, err := b.CreateAudioPort(2)
	if err != nil {
		t.Fatalf("CreateAudioPort (source): %v", err)
	}
	if err := b.AddAudioOutputPort(srcDevID, srcPort); err != nil {
		t.Fatalf("AddAudioOutputPort: %v", err)
	}

	otherSrcPort, err := b.CreateAudioPort(2)
	if err != nil {
		t.Fatalf("CreateAudioPort (second source): %v", err)
	}
	if err := b.AddAudioOutputPort(otherSrcDevID, otherSrcPort); err != nil {
		t.Fatalf("AddAudioOutputPort (second): %v", err)
	}

	zoneID, err := b.CreateRoutingZone("zone-1", 128, 48000)
	if err != nil {
		t.Fatalf("CreateRoutingZone: %v", err)
	}

	sinkPort, err := b.CreateAudioPort(2)
	if err != nil {
		t.Fatalf("CreateAudioPort (sink): %v", err)
	}
	if err := b.AddAudioInputPort(zoneID, sinkPort, 0); err != nil {
		t.Fatalf("AddAudioInputPort: %v", err)
	}

	res, err := b.Connect(srcPort, sinkPort)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if res != Ok {
		t.Fatalf("Connect result = %v, want Ok", res)
	}

	res, err = b.Connect(srcPort, sinkPort)
	if err != nil {
		t.Fatalf("Connect (repeat): %v", err)
	}
	if res != SourceAlreadyConnected {
		t.Fatalf("Connect (repeat) result = %v, want SourceAlreadyConnected", res)
	}

	res, err = b.Connect(otherSrcPort, sinkPort)
	if err != nil {
		t.Fatalf("Connect (other source): %v", err)
	}
	if res != SinkAlreadyConnected {
		t.Fatalf("Connect (other source) result = %v, want SinkAlreadyConnected", res)
	}

	// Creating the two source devices queued one SetupEvent each, ahead
	// of the connection events.
	for i := 0; i < 2; i++ {
		ev, err := b.GetNextEvent()
		if err != nil {
			t.Fatalf("GetNextEvent (device setup %d): %v", i, err)
		}
		if ev.Kind != SetupEvent {
			t.Fatalf("device setup event %d = %+v, want SetupEvent", i, ev)
		}
	}

	ev, err := b.GetNextEvent()
	if err != nil {
		t.Fatalf("GetNextEvent: %v", err)
	}
	if ev.Kind != ConnectionEvent || ev.Connection != Connected {
		t.Fatalf("connect event = %+v, want Connected", ev)
	}

	if err := b.Disconnect(srcPort, sinkPort); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	ev, err = b.GetNextEvent()
	if err != nil {
		t.Fatalf("GetNextEvent (disconnect): %v", err)
	}
	if ev.Kind != ConnectionEvent || ev.Connection != Disconnected {
		t.Fatalf("disconnect event = %+v, want Disconnected", ev)
	}

	if _, err := b.GetNextEvent(); !errIsNoEvent(err) {
		t.Fatalf("GetNextEvent on empty queue: err = %v, want NoEvent", err)
	}
	if err := b.WaitForEvent(20 * time.Millisecond); !errIsTimeout(err) {
		t.Fatalf("WaitForEvent on empty queue: err = %v, want Timeout", err)
	}
}

func TestPipelineSetupAndSetProperties(t *testing.T) {
	b := New(testLogger(), nil)

	pipelineID, err := b.CreatePipeline("p1", 128, 48000)
	if err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}

	inPin, err := b.AddPipelineInputPin(pipelineID, "in", 2)
	if err != nil {
		t.Fatalf("AddPipelineInputPin: %v", err)
	}
	outPin, err := b.AddPipelineOutputPin(pipelineID, "out", 2)
	if err != nil {
		t.Fatalf("AddPipelineOutputPin: %v", err)
	}

	moduleID, err := b.AddProcessingModule(pipelineID, plugin.GainModuleType, "trim")
	if err != nil {
		t.Fatalf("AddProcessingModule: %v", err)
	}
	modPin, err := b.AddModulePin(pipelineID, moduleID, "io", 2, pipeline.ModuleInOut)
	if err != nil {
		t.Fatalf("AddModulePin: %v", err)
	}

	if err := b.LinkPins(pipelineID, inPin, modPin, pipeline.Immediate); err != nil {
		t.Fatalf("LinkPins (in->module): %v", err)
	}
	if err := b.LinkPins(pipelineID, modPin, outPin, pipeline.Immediate); err != nil {
		t.Fatalf("LinkPins (module->out): %v", err)
	}

	if err := b.InitPipelineAudioChain(pipelineID); err != nil {
		t.Fatalf("InitPipelineAudioChain: %v", err)
	}

	if err := b.SetProperties(pipelineID, moduleID, map[string]plugin.PropertyValue{
		"gain": {Float32: []float32{0.5}},
	}); err != nil {
		t.Fatalf("SetProperties: %v", err)
	}

	ev, err := b.GetNextEvent()
	if err != nil {
		t.Fatalf("GetNextEvent: %v", err)
	}
	if ev.Kind != ModuleEvent || ev.Module != moduleID {
		t.Fatalf("SetProperties event = %+v, want ModuleEvent for %v", ev, moduleID)
	}
}
