package bundle

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWriteReadRoundTripInterleaved(t *testing.T) {
	pool, err := NewPool(8)
	if err != nil {
		t.Fatal(err)
	}
	b := pool.Get()

	src := make([]float32, 2*8)
	for i := range src {
		src[i] = float32(i) * 0.5
	}
	if err := b.Write2ChannelsFromInterleaved(src); err != nil {
		t.Fatal(err)
	}
	dst := make([]float32, 2*8)
	if err := b.Read2ChannelsToInterleaved(dst); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(src, dst); diff != "" {
		t.Errorf("round trip mismatch (-src +dst):\n%s", diff)
	}
}

func TestPartialBundleZeroPadding(t *testing.T) {
	pool, err := NewPool(4)
	if err != nil {
		t.Fatal(err)
	}
	b := pool.Get()
	src := []float32{1, 2, 3, 4} // 1 channel, 4 frames
	if err := b.Write1ChannelFromInterleaved(src); err != nil {
		t.Fatal(err)
	}
	data := b.Data()
	for f := 0; f < 4; f++ {
		for ch := 1; ch < Channels; ch++ {
			if data[f*Channels+ch] != 0 {
				t.Errorf("frame %d channel %d = %v, want 0 (zero-padded)", f, ch, data[f*Channels+ch])
			}
		}
	}
}

func TestWriteReadRoundTripNonInterleaved(t *testing.T) {
	pool, err := NewPool(4)
	if err != nil {
		t.Fatal(err)
	}
	b := pool.Get()
	src := [][]float32{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
		{9, 10, 11, 12},
	}
	if err := b.Write3ChannelsFromNonInterleaved(src); err != nil {
		t.Fatal(err)
	}
	dst := [][]float32{make([]float32, 4), make([]float32, 4), make([]float32, 4)}
	if err := b.Read3ChannelsToNonInterleaved(dst); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(src, dst); diff != "" {
		t.Errorf("round trip mismatch (-src +dst):\n%s", diff)
	}
}

func TestClear(t *testing.T) {
	pool, _ := NewPool(4)
	b := pool.Get()
	for i := range b.Data() {
		b.Data()[i] = 1
	}
	b.Clear()
	for i, v := range b.Data() {
		if v != 0 {
			t.Errorf("Data()[%d] = %v after Clear, want 0", i, v)
		}
	}
}

func TestInvalidFrameLength(t *testing.T) {
	if _, err := NewPool(5); err == nil {
		t.Errorf("NewPool(5) should fail: not a multiple of %d", RequiredAlignment)
	}
}

func TestHomePoolInvariant(t *testing.T) {
	poolA, _ := NewPool(4)
	poolB, _ := NewPool(4)
	b := poolA.Get()
	if err := poolB.Put(b); err == nil {
		t.Errorf("Put into non-home pool should fail")
	}
	if err := poolA.Put(b); err != nil {
		t.Errorf("Put into home pool should succeed, got %v", err)
	}
}

func TestPoolReusesFreedBundle(t *testing.T) {
	pool, _ := NewPool(4)
	b1 := pool.Get()
	pool.Put(b1)
	b2 := pool.Get()
	if b1 != b2 {
		t.Errorf("Get() after Put() should reuse the freed bundle")
	}
}

func TestHandlerSharesPoolForSameSize(t *testing.T) {
	h := NewHandler()
	p1, err := h.PoolFor(16)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := h.PoolFor(16)
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Errorf("PoolFor(16) called twice should return the same pool")
	}
}

func TestChannelCountOutOfRange(t *testing.T) {
	pool, _ := NewPool(4)
	b := pool.Get()
	if err := b.writeInterleaved(0, nil); err == nil {
		t.Errorf("writeInterleaved(0, ...) should fail")
	}
	if err := b.writeInterleaved(5, nil); err == nil {
		t.Errorf("writeInterleaved(5, ...) should fail")
	}
}
