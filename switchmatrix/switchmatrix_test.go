package switchmatrix

import (
	"testing"

	"github.com/iasaudio/bar/barid"
	"github.com/iasaudio/bar/pcmformat"
	"github.com/iasaudio/bar/ring"
)

func mustPort(t *testing.T, channels, capacityFrames int, rate float64) Port {
	t.Helper()
	rb, err := ring.New(pcmformat.F32, channels, capacityFrames)
	if err != nil {
		t.Fatal(err)
	}
	return Port{ID: barid.NewPortID(), RingBuf: rb, Channels: channels, Rate: rate}
}

func TestJobSameRatePassthrough(t *testing.T) {
	src := mustPort(t, 2, 256, 48000)
	sink := mustPort(t, 2, 256, 48000)

	// Fill the source with a ramp so the pass-through path is checkable.
	areas, off, frames, err := src.RingBuf.BeginAccess(ring.Write, 64)
	if err != nil {
		t.Fatal(err)
	}
	a := areas[0]
	for i := 0; i < frames*2; i++ {
		pcmformat.F32.Encode(a.Data[a.FirstBit/8+i*4:a.FirstBit/8+i*4+4], float32(i))
	}
	src.RingBuf.EndAccess(ring.Write, off, frames)

	job, err := NewJob(barid.NewJobID(), src, sink, 4)
	if err != nil {
		t.Fatal(err)
	}
	srcAreas, srcOff, srcFrames, err := src.RingBuf.BeginAccess(ring.Read, 64)
	if err != nil {
		t.Fatal(err)
	}
	if err := job.Tick(srcAreas, srcFrames, 64); err != nil {
		t.Fatal(err)
	}
	src.RingBuf.EndAccess(ring.Read, srcOff, srcFrames)

	rAreas, rOff, rFrames, err := sink.RingBuf.BeginAccess(ring.Read, 64)
	if err != nil {
		t.Fatal(err)
	}
	if rFrames != 64 {
		t.Fatalf("sink received %d frames, want 64", rFrames)
	}
	ra := rAreas[0]
	for i := 0; i < 8; i++ {
		v, _ := pcmformat.F32.Decode(ra.Data[ra.FirstBit/8+i*4 : ra.FirstBit/8+i*4+4])
		if v != float32(i) {
			t.Errorf("sink sample %d = %v, want %v", i, v, i)
		}
	}
	sink.RingBuf.EndAccess(ring.Read, rOff, rFrames)
}

// TestBufferTaskFanOutSharesSourceSnapshot checks that a source fanning
// out to multiple sinks advances its read cursor by one period per
// BufferTask.Tick, not once per job: three sinks reading the same 64
// frames must each see the identical ramp, and the source must have
// only 64 frames fewer available afterward, not 192.
func TestBufferTaskFanOutSharesSourceSnapshot(t *testing.T) {
	src := mustPort(t, 2, 256, 48000)
	m := New()

	const numSinks = 3
	sinks := make([]Port, numSinks)
	for i := range sinks {
		sinks[i] = mustPort(t, 2, 256, 48000)
		if err := m.Connect(barid.NewJobID(), src, sinks[i], 4); err != nil {
			t.Fatal(err)
		}
	}

	areas, off, frames, err := src.RingBuf.BeginAccess(ring.Write, 64)
	if err != nil {
		t.Fatal(err)
	}
	a := areas[0]
	for i := 0; i < frames*2; i++ {
		pcmformat.F32.Encode(a.Data[a.FirstBit/8+i*4:a.FirstBit/8+i*4+4], float32(i))
	}
	src.RingBuf.EndAccess(ring.Write, off, frames)

	before := src.RingBuf.UpdateAvailable(ring.Read)
	task := m.TaskFor(src)
	task.Tick(64) // drains the queued adds and runs the fan-out transfer
	task.Tick(64) // a second tick with nothing new queued or written

	if got, want := before-src.RingBuf.UpdateAvailable(ring.Read), 64; got != want {
		t.Errorf("source frames consumed = %d, want %d (one shared read, not %d)", got, want, numSinks*want)
	}

	for i, sink := range sinks {
		rAreas, rOff, rFrames, err := sink.RingBuf.BeginAccess(ring.Read, 64)
		if err != nil {
			t.Fatal(err)
		}
		if rFrames != 64 {
			t.Fatalf("sink %d received %d frames, want 64", i, rFrames)
		}
		ra := rAreas[0]
		for s := 0; s < 8; s++ {
			v, _ := pcmformat.F32.Decode(ra.Data[ra.FirstBit/8+s*4 : ra.FirstBit/8+s*4+4])
			if v != float32(s) {
				t.Errorf("sink %d sample %d = %v, want %v", i, s, v, s)
			}
		}
		sink.RingBuf.EndAccess(ring.Read, rOff, rFrames)
	}
}

// TestBufferTaskSourceDeletedCount is spec §8 quantified invariant 4: the
// count of SourceDeleted events after destroying a source equals the
// number of live connections at destroy time.
func TestBufferTaskSourceDeletedCount(t *testing.T) {
	src := mustPort(t, 2, 256, 48000)
	m := New()

	const numSinks = 3
	ids := make([]barid.JobID, numSinks)
	for i := 0; i < numSinks; i++ {
		sink := mustPort(t, 2, 256, 48000)
		ids[i] = barid.NewJobID()
		if err := m.Connect(ids[i], src, sink, 4); err != nil {
			t.Fatal(err)
		}
	}

	task := m.TaskFor(src)
	task.Tick(64) // apply the three queued adds

	m.DestroySource(src.ID)
	task.Tick(64) // apply the queued deletes

	events := task.DrainDeletedEvents()
	if len(events) != numSinks {
		t.Errorf("SourceDeleted event count = %d, want %d", len(events), numSinks)
	}
}

func TestDisconnectUnknownJobFails(t *testing.T) {
	m := New()
	if err := m.Disconnect(barid.NewJobID()); err == nil {
		t.Errorf("Disconnect of unknown job should fail")
	}
}

func TestBufferTaskDummyDrainsSourceWithoutJobs(t *testing.T) {
	src := mustPort(t, 2, 256, 48000)
	task := NewBufferTask(src)
	if !task.Empty() {
		t.Fatalf("freshly created task should be empty/dummy")
	}

	_, off, frames, err := src.RingBuf.BeginAccess(ring.Write, 64)
	if err != nil {
		t.Fatal(err)
	}
	src.RingBuf.EndAccess(ring.Write, off, frames)

	task.Tick(64)
	if avail := src.RingBuf.UpdateAvailable(ring.Read); avail != 0 {
		t.Errorf("dummy task should have drained the source, %d frames still available", avail)
	}
}
