/*
NAME
  zone.go

DESCRIPTION
  zone implements the routing zone worker thread: the per-base-zone
  real-time loop that applies thread scheduling, drives owning buffer
  tasks, runs derived zones inline, executes the pipeline, and commits
  to the sink device, per SPEC_FULL.md §4.10. Grounded on the teacher's
  device/alsa.go Start/Stop/run lifecycle (mode-guarded start/stop, a
  background goroutine polling hardware, an atomic stop signal), applied
  to a scheduler loop instead of one hardware handler.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package zone implements the audio bar's routing zone: the period-driven
// worker thread that ties a sink device, a switch-matrix fan-in, and an
// optional pipeline together, per SPEC_FULL.md §4.10.
package zone

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ausocean/utils/logging"

	"github.com/iasaudio/bar/barerr"
	"github.com/iasaudio/bar/barid"
	"github.com/iasaudio/bar/device"
	"github.com/iasaudio/bar/pcmformat"
	"github.com/iasaudio/bar/pipeline"
	"github.com/iasaudio/bar/ring"
	"github.com/iasaudio/bar/switchmatrix"
)

// State is a routing zone's create/start/stop lifecycle state, per
// SPEC_FULL.md §3's "Routing zone" data model.
type State int

const (
	Created State = iota
	Started
	Stopped
)

// Policy selects a thread's OS scheduling class.
type Policy int

const (
	// SchedOther is the default time-shared (CFS) policy; Priority is
	// ignored.
	SchedOther Policy = iota
	SchedFIFO
	SchedRR
)

// Scheduling configures a base zone's worker thread, applied once at
// Start via golang.org/x/sys/unix, per SPEC_FULL.md §4.10's expansion.
type Scheduling struct {
	Policy      Policy
	Priority    int // 0-99, meaningful only for SchedFIFO/SchedRR
	CPUAffinity []int
}

// InputBinding ties one upstream source port to a zone-owned ring buffer
// that feeds a pipeline input pin, bridging the switch matrix's raw-byte
// ring world and the pipeline's bundle world. It is the piece SPEC_FULL.md
// §4.10's per-period prose leaves implicit between steps 2 and 3: a
// buffer task's job writes into a ring.Buffer, not a bundle, so something
// has to decode that ring into the pipeline's bound bundles before the
// pipeline runs. Grounded on device/alsa/alsa.go's readFromRing +
// decodeInto pattern, generalized from "ring -> ALSA hardware bytes" to
// "ring -> pipeline bundle".
type InputBinding struct {
	Source   switchmatrix.Port // upstream source port this zone owns the buffer task for
	Ring     *ring.Buffer       // the zone input port's own ring buffer (the job's sink)
	Pin      barid.PinID        // pipeline input pin fed by Ring
	Channels int
}

// derivedLink records a derived zone linked to a base zone along with the
// integer period ratio k = derived.period / base.period.
type derivedLink struct {
	zone  *Zone
	ratio int
}

// Zone is one routing zone: a base zone owns a worker thread; a derived
// zone is invoked inline from its base's loop every k-th period.
type Zone struct {
	ID         barid.ZoneID
	Name       string
	PeriodSize int
	SampleRate float64

	l logging.Logger

	mu    sync.Mutex
	state State

	sink       device.Device
	sinkPin    barid.PinID // pipeline output pin bound to the sink write area
	contribute bool        // gated by sink start/stop events

	matrix      *switchmatrix.Matrix
	sourcePorts []switchmatrix.Port
	inputs      []InputBinding

	pipe *pipeline.Pipeline

	base     *Zone
	derived  []derivedLink
	sched    Scheduling
	period   uint64 // count of periods ticked, used for derived-zone sync

	running int32
	doneCh  chan struct{}
}

// New constructs a created-but-not-started zone. contribute defaults to
// true: a zone (base or derived) commits to its sink from its first
// period until a stop event says otherwise, independent of whether the
// zone itself owns a worker thread (only base zones do; see Start).
func New(id barid.ZoneID, name string, periodSize int, sampleRate float64, l logging.Logger) *Zone {
	return &Zone{ID: id, Name: name, PeriodSize: periodSize, SampleRate: sampleRate, l: l, contribute: true}
}

// SetMatrix binds the switch matrix this zone's buffer tasks are drawn
// from.
func (z *Zone) SetMatrix(m *switchmatrix.Matrix) { z.matrix = m }

// SetPipeline binds the pipeline this zone runs each period.
func (z *Zone) SetPipeline(p *pipeline.Pipeline) { z.pipe = p }

// SetSink binds the sink device and the pipeline output pin whose stream
// is committed to it each period. channels is kept in the signature for
// callers that track it alongside the binding (the bar facade's port
// registry); the pipeline's own bound-stream channel count is what
// actually governs commitToSink's conversion.
func (z *Zone) SetSink(d device.Device, pin barid.PinID, channels int) {
	_ = channels
	z.sink = d
	z.sinkPin = pin
}

// AddSourcePort registers port as one this zone's base loop owns the
// buffer task for, ticked once per base period per SPEC_FULL.md §4.10
// step 2.
func (z *Zone) AddSourcePort(port switchmatrix.Port) {
	z.sourcePorts = append(z.sourcePorts, port)
}

// AddInputBinding registers a ring-to-pipeline bridge, pulled once per
// period before the pipeline runs.
func (z *Zone) AddInputBinding(b InputBinding) {
	z.inputs = append(z.inputs, b)
}

// AddDerivedZone links derived as a zone invoked every k-th period of z,
// where k = derived.PeriodSize*z.SampleRate / (z.PeriodSize*derived.SampleRate),
// per the integer-ratio invariant in SPEC_FULL.md §3. derived must not
// already be linked to a base, must not itself own derived zones (only a
// base zone owns a worker thread; a derived zone may not in turn be a
// base), and must run at z's sample rate.
func (z *Zone) AddDerivedZone(derived *Zone) error {
	if derived.base != nil || len(derived.derived) > 0 {
		return barerr.New(barerr.AlreadyInUse, "zone.AddDerivedZone", nil)
	}
	if derived.SampleRate != z.SampleRate {
		return barerr.New(barerr.InvalidParam, "zone.AddDerivedZone", nil)
	}
	num := int64(derived.PeriodSize) * int64(z.SampleRate)
	den := int64(z.PeriodSize) * int64(derived.SampleRate)
	if den == 0 || num%den != 0 {
		return barerr.New(barerr.InvalidParam, "zone.AddDerivedZone", nil)
	}
	ratio := int(num / den)
	if ratio < 1 {
		return barerr.New(barerr.InvalidParam, "zone.AddDerivedZone", nil)
	}
	derived.base = z
	z.derived = append(z.derived, derivedLink{zone: derived, ratio: ratio})
	return nil
}

// RemoveDerivedZone unlinks derived from z, the inverse of AddDerivedZone.
// derived must currently be linked to z; it returns to being a free-
// standing zone that may be linked elsewhere or started as a base itself.
func (z *Zone) RemoveDerivedZone(derived *Zone) error {
	for i, d := range z.derived {
		if d.zone == derived {
			z.derived = append(z.derived[:i], z.derived[i+1:]...)
			derived.base = nil
			return nil
		}
	}
	return barerr.New(barerr.NothingRemoved, "zone.RemoveDerivedZone", nil)
}

// Start launches the base zone's real-time worker thread. It fails with
// NotAllowed on a derived zone, which owns no worker thread of its own
// (SPEC_FULL.md §3: "A base zone may not be derived; a derived zone owns
// no worker thread").
func (z *Zone) Start(sched Scheduling) error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.base != nil {
		return barerr.New(barerr.NotAllowed, "zone.Start", nil)
	}
	if z.state == Started {
		return barerr.New(barerr.WrongState, "zone.Start", nil)
	}
	z.sched = sched
	z.contribute = true
	z.state = Started
	z.running = 1
	z.doneCh = make(chan struct{})
	go z.run()
	return nil
}

// Stop signals the worker to exit at the next period boundary and waits
// for it to finish, per SPEC_FULL.md §4.10's cancellation rule.
func (z *Zone) Stop() error {
	z.mu.Lock()
	if z.base != nil {
		z.mu.Unlock()
		return barerr.New(barerr.NotAllowed, "zone.Stop", nil)
	}
	if z.state != Started {
		z.mu.Unlock()
		return barerr.New(barerr.WrongState, "zone.Stop", nil)
	}
	atomic.StoreInt32(&z.running, 0)
	done := z.doneCh
	z.mu.Unlock()

	<-done

	z.mu.Lock()
	z.state = Stopped
	z.mu.Unlock()
	return nil
}

// IsRunning reports whether the zone's worker is active.
func (z *Zone) IsRunning() bool { return atomic.LoadInt32(&z.running) == 1 }

// run is the base zone's real-time loop, per SPEC_FULL.md §4.10.
func (z *Zone) run() {
	defer close(z.doneCh)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := applySchedule(z.sched); err != nil && z.l != nil {
		z.l.Debug("zone: scheduling configuration failed, continuing unprivileged", "zone", z.Name, "error", err.Error())
	}

	for atomic.LoadInt32(&z.running) == 1 {
		if !z.waitWritable() {
			continue
		}
		z.tickOnce()
	}
}

// waitWritable polls the sink's writable space in short bounded chunks so
// the running flag is rechecked between waits rather than blocking past a
// Stop request indefinitely.
func (z *Zone) waitWritable() bool {
	if z.sink == nil {
		return true
	}
	const chunk = 5 * time.Millisecond
	for atomic.LoadInt32(&z.running) == 1 {
		if _, err := z.sink.RingBuffer().WaitAvailable(ring.Write, z.PeriodSize, chunk); err == nil {
			return true
		}
	}
	return false
}

// tickOnce executes one period's work for z: run owning buffer tasks,
// invoke due derived zones inline, pull ring-bound inputs, run the
// pipeline, commit to the sink, and handle device events. It is used both
// for the base zone's own period and, recursively, for each derived zone
// it invokes, per SPEC_FULL.md §4.10 steps 2-5.
func (z *Zone) tickOnce() {
	z.runBufferTasks()
	z.period++
	for _, d := range z.derived {
		if z.period%uint64(d.ratio) == 0 {
			d.zone.tickOnce()
		}
	}

	z.pullInputs()

	if z.pipe != nil {
		if err := z.pipe.Process(); err != nil {
			// Real-time periods recover locally per SPEC_FULL.md §7: skip
			// this period's commit rather than propagate.
			return
		}
	}

	if z.contribute {
		z.commitToSink()
	}
	z.handleEvents()
}

// runBufferTasks ticks every buffer task this zone owns, then reaps any
// that went empty, per SPEC_FULL.md §4.7's per-period contract.
func (z *Zone) runBufferTasks() {
	if z.matrix == nil {
		return
	}
	for _, p := range z.sourcePorts {
		z.matrix.TaskFor(p).Tick(z.PeriodSize)
	}
	z.matrix.Reap()
}

// pullInputs decodes each bound zone input port's ring buffer into the
// pipeline's bound input bundles, via the pipeline package's own
// interleaved<->bundled stream conversion (SetInterleavedFor), per
// SPEC_FULL.md §4.8's lazy stream-layout conversions.
func (z *Zone) pullInputs() {
	if z.pipe == nil {
		return
	}
	for _, ib := range z.inputs {
		areas, off, frames, err := ib.Ring.BeginAccess(ring.Read, z.PeriodSize)
		if err != nil {
			continue
		}
		if frames == 0 {
			continue
		}
		samples := readAreaFloat(areas, frames*ib.Channels)
		z.pipe.SetInterleavedFor(ib.Pin, samples)
		ib.Ring.EndAccess(ring.Read, off, frames)
	}
}

// commitToSink copies the pipeline's sink-bound output stream into the
// sink device's ring buffer write area, via the pipeline package's
// InterleavedFor conversion, per SPEC_FULL.md §4.10 step 4.
func (z *Zone) commitToSink() {
	if z.sink == nil || z.pipe == nil || z.sinkPin == 0 {
		return
	}
	areas, off, frames, err := z.sink.RingBuffer().BeginAccess(ring.Write, z.PeriodSize)
	if err != nil || frames == 0 {
		return
	}
	samples, err := z.pipe.InterleavedFor(z.sinkPin)
	if err != nil {
		z.sink.RingBuffer().EndAccess(ring.Write, off, frames)
		return
	}
	writeAreaFloat(areas, samples)
	z.sink.RingBuffer().EndAccess(ring.Write, off, frames)
}

// handleEvents drains the sink device's event queue, honoring
// SPEC_FULL.md §4.10 step 5: on stop, reset the sink ring buffer and
// withhold contribution until start reappears.
func (z *Zone) handleEvents() {
	if z.sink == nil {
		return
	}
	for {
		e := z.sink.Events().GetNextEventType()
		switch e {
		case device.EventNone:
			return
		case device.EventStop, device.EventDrain:
			z.sink.RingBuffer().ResetFromWriter()
			z.contribute = false
		case device.EventStart, device.EventResume:
			z.contribute = true
		}
	}
}

// applySchedule configures the calling OS thread's scheduling policy,
// priority, and CPU affinity, per SPEC_FULL.md §4.10's expansion. It is
// best-effort: an unprivileged process cannot raise its own scheduling
// class, so a failure here is logged, not fatal, matching how the rest of
// the zone loop degrades gracefully under SPEC_FULL.md §7's recovery
// rule.
func applySchedule(s Scheduling) error {
	if len(s.CPUAffinity) > 0 {
		var set unix.CPUSet
		set.Zero()
		for _, cpu := range s.CPUAffinity {
			set.Set(cpu)
		}
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			return barerr.Wrap(barerr.Fatal, "zone.applySchedule", err)
		}
	}
	if s.Policy == SchedOther {
		return nil
	}
	policy := unix.SCHED_FIFO
	if s.Policy == SchedRR {
		policy = unix.SCHED_RR
	}
	param := &unix.SchedParam{Priority: int32(s.Priority)}
	if err := unix.SchedSetscheduler(0, policy, param); err != nil {
		return barerr.Wrap(barerr.Fatal, "zone.applySchedule", err)
	}
	return nil
}

// readAreaFloat decodes n interleaved float32 samples out of the single
// area a ring.BeginAccess(Read, ...) call returns, grounded on
// device/alsa/convert.go's readAreasFloat.
func readAreaFloat(areas []ring.Area, n int) []float32 {
	out := make([]float32, n)
	if len(areas) == 0 {
		return out
	}
	a := areas[0]
	byteOff := a.FirstBit / 8
	for i := range out {
		off := byteOff + i*4
		if off+4 > len(a.Data) {
			break
		}
		v, _ := pcmformat.F32.Decode(a.Data[off : off+4])
		out[i] = v
	}
	return out
}

// writeAreaFloat is readAreaFloat's inverse, grounded on
// device/alsa/convert.go's writeAreasFloat.
func writeAreaFloat(areas []ring.Area, samples []float32) {
	if len(areas) == 0 {
		return
	}
	a := areas[0]
	byteOff := a.FirstBit / 8
	for i, v := range samples {
		off := byteOff + i*4
		if off+4 > len(a.Data) {
			break
		}
		pcmformat.F32.Encode(a.Data[off:off+4], v)
	}
}
