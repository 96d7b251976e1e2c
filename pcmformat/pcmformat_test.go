package pcmformat

import (
	"math"
	"testing"
)

func TestRoundTripF32(t *testing.T) {
	buf := make([]byte, 4)
	want := float32(-0.25)
	if err := F32.Encode(buf, want); err != nil {
		t.Fatal(err)
	}
	got, err := F32.Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("round trip = %v, want %v", got, want)
	}
}

func TestRoundTripS16ULP(t *testing.T) {
	buf := make([]byte, 2)
	want := float32(0.5)
	if err := S16.Encode(buf, want); err != nil {
		t.Fatal(err)
	}
	got, err := S16.Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(got-want)) > 1.0/math.MaxInt16 {
		t.Errorf("round trip = %v, want ~%v", got, want)
	}
}

func TestFrameSize(t *testing.T) {
	if got := FrameSize(S16, 2); got != 4 {
		t.Errorf("FrameSize(S16, 2) = %d, want 4", got)
	}
	if got := FrameSize(F32, 4); got != 16 {
		t.Errorf("FrameSize(F32, 4) = %d, want 16", got)
	}
}

func TestClamp(t *testing.T) {
	buf := make([]byte, 2)
	if err := S16.Encode(buf, 2.0); err != nil {
		t.Fatal(err)
	}
	got, _ := S16.Decode(buf)
	if got != 1.0 {
		t.Errorf("clamp = %v, want 1.0", got)
	}
}
