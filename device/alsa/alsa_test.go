/*
NAME
  alsa_test.go

AUTHOR
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package alsa

import (
	"bytes"
	"testing"

	"github.com/ausocean/utils/logging"

	"github.com/iasaudio/bar/device"
	"github.com/iasaudio/bar/pcmformat"
)

func testParams() device.Params {
	return device.Params{
		Name:        "default",
		Direction:   device.Source,
		Channels:    1,
		SampleRate:  8000,
		Format:      pcmformat.S16,
		PeriodSize:  256,
		PeriodCount: 4,
		Clock:       device.ClockProvided,
	}
}

// TestNew opens and negotiates a real capture device when one is
// available, skipping otherwise since not every test environment has
// recording hardware.
func TestNew(t *testing.T) {
	l := logging.New(logging.Debug, &bytes.Buffer{}, true)
	h, err := New(l, testParams())
	if err != nil {
		t.Skipf("no ALSA capture device available: %v", err)
	}
	defer h.Stop()

	if h.Name() != "default" {
		t.Errorf("Name() = %q, want %q", h.Name(), "default")
	}
	if h.RingBuffer() == nil {
		t.Error("RingBuffer() = nil, want a ring buffer")
	}
	if h.IsRunning() {
		t.Error("IsRunning() = true before Start")
	}

	if err := h.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !h.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if h.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

func TestNewRejectsInvalidParams(t *testing.T) {
	l := logging.New(logging.Debug, &bytes.Buffer{}, true)
	p := testParams()
	p.Channels = 0
	if _, err := New(l, p); err == nil {
		t.Error("New with zero channels: want error, got nil")
	}
}

// TestNewRejectsUnsupportedFormat checks the wire-format switch in open:
// F32 is the ring buffer's internal format but alsa only negotiates
// S16/S32 over the wire, so this must fail before any hardware lookup
// can succeed.
func TestNewRejectsUnsupportedFormat(t *testing.T) {
	l := logging.New(logging.Debug, &bytes.Buffer{}, true)
	p := testParams()
	p.Format = pcmformat.F32
	if _, err := New(l, p); err == nil {
		t.Error("New with Format F32: want error, got nil")
	}
}
