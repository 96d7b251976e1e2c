package zone

import (
	"testing"

	"github.com/iasaudio/bar/barid"
	"github.com/iasaudio/bar/bundle"
	"github.com/iasaudio/bar/device"
	"github.com/iasaudio/bar/pcmformat"
	"github.com/iasaudio/bar/pipeline"
	"github.com/iasaudio/bar/ring"
)

// fakeDevice is a minimal device.Device backed directly by a ring.Buffer,
// standing in for a hardware or shared-memory endpoint in tests that only
// care about the zone's scheduling and ring bookkeeping.
type fakeDevice struct {
	name string
	rb   *ring.Buffer
	ev   *device.EventQueue
}

func newFakeDevice(t *testing.T, channels, capacityFrames int) *fakeDevice {
	t.Helper()
	rb, err := ring.New(pcmformat.F32, channels, capacityFrames)
	if err != nil {
		t.Fatal(err)
	}
	return &fakeDevice{name: "fake", rb: rb, ev: device.NewEventQueue()}
}

func (d *fakeDevice) Name() string              { return d.name }
func (d *fakeDevice) RingBuffer() *ring.Buffer  { return d.rb }
func (d *fakeDevice) Start() error              { return nil }
func (d *fakeDevice) Stop() error                { return nil }
func (d *fakeDevice) IsRunning() bool           { return true }
func (d *fakeDevice) Events() *device.EventQueue { return d.ev }

// TestDerivedZoneSync is spec §8 scenario 5: a base zone at period 64
// driving a derived zone at period 256 (ratio 4) must invoke the derived
// zone exactly 4 times, and its sink must receive exactly 1024 frames,
// over 1024 base samples (16 base periods).
func TestDerivedZoneSync(t *testing.T) {
	const fs = 48000.0
	base := New(barid.NewZoneID(), "base", 64, fs, nil)
	derived := New(barid.NewZoneID(), "derived", 256, fs, nil)

	if err := base.AddDerivedZone(derived); err != nil {
		t.Fatal(err)
	}

	pool, err := bundle.NewPool(256)
	if err != nil {
		t.Fatal(err)
	}
	p := pipeline.New(barid.NewPipelineID(), "derived-pipe", 256, fs, pool)
	out := p.AddPipelineOutputPin("out", 2)
	if err := p.InitPipelineAudioChain(); err != nil {
		t.Fatal(err)
	}
	derived.SetPipeline(p)

	sink := newFakeDevice(t, 2, 4096)
	derived.SetSink(sink, out.ID, 2)

	const basePeriods = 16 // 16 * 64 = 1024 base samples
	for i := 0; i < basePeriods; i++ {
		base.tickOnce()
	}

	if derived.period != 4 {
		t.Errorf("derived zone callback count = %d, want 4", derived.period)
	}
	if got := sink.rb.WriteCursor(); got != 1024 {
		t.Errorf("derived sink write cursor = %d, want 1024", got)
	}
}

// TestAddDerivedZoneRejectsNonIntegerRatio verifies the integer-ratio
// invariant from SPEC_FULL.md §3 is enforced.
func TestAddDerivedZoneRejectsNonIntegerRatio(t *testing.T) {
	base := New(barid.NewZoneID(), "base", 64, 48000, nil)
	derived := New(barid.NewZoneID(), "derived", 100, 48000, nil)
	if err := base.AddDerivedZone(derived); err == nil {
		t.Errorf("expected a non-integer-ratio error")
	}
}

// TestStartOnDerivedZoneFails verifies a derived zone owns no worker
// thread of its own.
func TestStartOnDerivedZoneFails(t *testing.T) {
	base := New(barid.NewZoneID(), "base", 64, 48000, nil)
	derived := New(barid.NewZoneID(), "derived", 256, 48000, nil)
	if err := base.AddDerivedZone(derived); err != nil {
		t.Fatal(err)
	}
	if err := derived.Start(Scheduling{}); err == nil {
		t.Errorf("expected Start on a derived zone to fail")
	}
}

// TestStopEventWithholdsContribution verifies handleEvents gates
// commitToSink on the sink's start/stop event stream.
func TestStopEventWithholdsContribution(t *testing.T) {
	const fs = 48000.0
	z := New(barid.NewZoneID(), "z", 64, fs, nil)

	pool, err := bundle.NewPool(64)
	if err != nil {
		t.Fatal(err)
	}
	p := pipeline.New(barid.NewPipelineID(), "pipe", 64, fs, pool)
	out := p.AddPipelineOutputPin("out", 2)
	if err := p.InitPipelineAudioChain(); err != nil {
		t.Fatal(err)
	}
	z.SetPipeline(p)

	sink := newFakeDevice(t, 2, 4096)
	sink.ev.EnableEventQueue(true)
	z.SetSink(sink, out.ID, 2)

	// handleEvents runs after commitToSink each tick, so an event queued
	// before a tick takes effect on the *following* tick's commit. The stop
	// event also resets the sink ring buffer, returning its cursors to 0.
	sink.ev.Push(device.EventStop)
	z.tickOnce() // contribute was still true this period, then the ring was reset
	if got := sink.rb.WriteCursor(); got != 0 {
		t.Errorf("write cursor after first tick = %d, want 0", got)
	}
	z.tickOnce() // now withheld
	if got := sink.rb.WriteCursor(); got != 0 {
		t.Errorf("write cursor while stopped = %d, want 0", got)
	}

	sink.ev.Push(device.EventStart)
	z.tickOnce() // still withheld this period; Start takes effect after
	if got := sink.rb.WriteCursor(); got != 0 {
		t.Errorf("write cursor on restart tick = %d, want 0", got)
	}
	z.tickOnce() // contribution resumed
	if got := sink.rb.WriteCursor(); got != 64 {
		t.Errorf("write cursor after resume = %d, want 64", got)
	}
}
