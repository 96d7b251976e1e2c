package ring

import (
	"testing"
	"time"

	"github.com/iasaudio/bar/pcmformat"
)

func TestCapacityRejectsOversize(t *testing.T) {
	// 2 channels * 4 bytes (F32) * frames must stay <= 4 MiB.
	_, err := New(pcmformat.F32, 2, 1<<22)
	if err == nil {
		t.Fatalf("New() with oversized capacity should fail")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	b, err := New(pcmformat.F32, 2, 64)
	if err != nil {
		t.Fatal(err)
	}

	areas, offset, n, err := b.BeginAccess(Write, 10)
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Fatalf("granted %d frames, want 10", n)
	}
	area := areas[0]
	for i := 0; i < n; i++ {
		for ch := 0; ch < 2; ch++ {
			bit := area.FirstBit + i*area.StepBits + ch*32
			pcmformat.F32.Encode(area.Data[bit/8:bit/8+4], float32(i))
		}
	}
	if err := b.EndAccess(Write, offset, n); err != nil {
		t.Fatal(err)
	}

	if got := b.UpdateAvailable(Read); got != 10 {
		t.Fatalf("UpdateAvailable(Read) = %d, want 10", got)
	}

	rAreas, rOffset, rn, err := b.BeginAccess(Read, 10)
	if err != nil {
		t.Fatal(err)
	}
	if rn != 10 {
		t.Fatalf("granted read %d frames, want 10", rn)
	}
	rArea := rAreas[0]
	for i := 0; i < rn; i++ {
		bit := rArea.FirstBit + i*rArea.StepBits
		v, err := pcmformat.F32.Decode(rArea.Data[bit/8 : bit/8+4])
		if err != nil {
			t.Fatal(err)
		}
		if v != float32(i) {
			t.Errorf("sample %d = %v, want %v", i, v, i)
		}
	}
	if err := b.EndAccess(Read, rOffset, rn); err != nil {
		t.Fatal(err)
	}
}

// TestCursorInvariant checks property 1 from SPEC_FULL.md §8: readCursor +
// availableRead == writeCursor (mod capacity) and the write-side mirror.
func TestCursorInvariant(t *testing.T) {
	b, err := New(pcmformat.S16, 1, 16)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		_, off, n, err := b.BeginAccess(Write, 3)
		if err != nil {
			t.Fatal(err)
		}
		if err := b.EndAccess(Write, off, n); err != nil {
			t.Fatal(err)
		}
		if i%2 == 0 {
			_, roff, rn, err := b.BeginAccess(Read, 2)
			if err != nil {
				t.Fatal(err)
			}
			if err := b.EndAccess(Read, roff, rn); err != nil {
				t.Fatal(err)
			}
		}

		cap64 := uint64(b.Capacity())
		avail := uint64(b.UpdateAvailable(Read))
		if (b.ReadCursor()+avail)%cap64 != b.WriteCursor()%cap64 {
			t.Fatalf("iteration %d: cursor invariant violated", i)
		}
	}
}

func TestWaitAvailableTimeout(t *testing.T) {
	b, err := New(pcmformat.S16, 1, 8)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	_, err = b.WaitAvailable(Read, 1, 10*time.Millisecond)
	if err == nil {
		t.Fatalf("WaitAvailable should time out on empty buffer")
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("WaitAvailable returned before timeout elapsed")
	}
}

func TestResetRejectsInFlight(t *testing.T) {
	b, err := New(pcmformat.S16, 1, 8)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := b.BeginAccess(Write, 2); err != nil {
		t.Fatal(err)
	}
	if err := b.ResetFromReader(); err == nil {
		t.Fatalf("ResetFromReader should fail while a write access is in flight")
	}
}

func TestBeginAccessWraparound(t *testing.T) {
	b, err := New(pcmformat.S16, 1, 8)
	if err != nil {
		t.Fatal(err)
	}
	// Fill and drain to put the cursor near the end, then request more
	// than fits before wraparound.
	_, off, n, _ := b.BeginAccess(Write, 6)
	b.EndAccess(Write, off, n)
	_, roff, rn, _ := b.BeginAccess(Read, 6)
	b.EndAccess(Read, roff, rn)

	_, off2, n2, err := b.BeginAccess(Write, 8)
	if err != nil {
		t.Fatal(err)
	}
	if n2 != 2 {
		t.Fatalf("granted %d frames before wrap, want 2 (capacity 8, offset 6)", n2)
	}
	b.EndAccess(Write, off2, n2)
}
