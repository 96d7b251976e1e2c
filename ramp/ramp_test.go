package ramp

import (
	"errors"
	"math"
	"testing"
)

func TestFlatRampHoldsStartValue(t *testing.T) {
	r, err := New(0.5, 0.5, 100, Linear, 48000)
	if err != nil {
		t.Fatal(err)
	}
	dst := make([]float64, 4800)
	remaining, err := r.Next(dst)
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0 for a flat ramp", remaining)
	}
	for i, v := range dst {
		if v != 0.5 {
			t.Fatalf("sample %d = %v, want 0.5", i, v)
		}
	}
}

func TestLinearRampReachesEndWithinBudget(t *testing.T) {
	const fs = 48000.0
	const ms = 100.0
	r, err := New(1.0, 0.0, ms, Linear, fs)
	if err != nil {
		t.Fatal(err)
	}
	want := int(math.Ceil(ms * fs / 1000))
	dst := make([]float64, want+10)
	remaining, err := r.Next(dst)
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0 after %d samples", remaining, len(dst))
	}
	if dst[len(dst)-1] != 0.0 {
		t.Errorf("final sample = %v, want 0.0", dst[len(dst)-1])
	}
	// All emitted samples after the ramp completes must equal end value.
	for i := want; i < len(dst); i++ {
		if dst[i] != 0.0 {
			t.Errorf("post-ramp sample %d = %v, want 0.0", i, dst[i])
		}
	}
}

func TestBalanceRampMutesRightExactly(t *testing.T) {
	// Scenario 4 from SPEC_FULL.md §8: balance left=1, right=0, 100ms at
	// 48kHz linear; right output must be exactly 0 after 4800 samples.
	r, err := New(1.0, 0.0, 100, Linear, 48000)
	if err != nil {
		t.Fatal(err)
	}
	dst := make([]float64, 4800)
	remaining, _ := r.Next(dst)
	if remaining != 0 {
		t.Fatalf("remaining = %d, want 0", remaining)
	}
	// The first emitted sample is Start, so End is the value the ramp
	// holds once all 4800 ramp samples have been consumed.
	if got := r.Value(); got != 0.0 {
		t.Fatalf("right gain after 4800 samples = %v, want 0.0", got)
	}
	if got := ToDB10(r.Value()); got != -1440 {
		t.Fatalf("ToDB10(0.0) = %d, want -1440 (muted sentinel)", got)
	}
}

func TestExponentialNearZeroEndpoint(t *testing.T) {
	r, err := New(1.0, 0.0, 50, Exponential, 48000)
	if err != nil {
		t.Fatal(err)
	}
	dst := make([]float64, 2400)
	_, err = r.Next(dst)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range dst {
		if v <= 0 {
			t.Fatalf("sample %d = %v, exponential ramp toward 0 must stay positive (mute floor)", i, v)
		}
	}
}

func TestErrors(t *testing.T) {
	if _, err := New(0, 1, 0, Linear, 48000); !errors.Is(err, ErrZeroRampTime) {
		t.Errorf("zero ramp time: got %v, want ErrZeroRampTime", err)
	}
	if _, err := New(0, 1, 10, 99, 48000); !errors.Is(err, ErrUnknownShape) {
		t.Errorf("bad shape: got %v, want ErrUnknownShape", err)
	}
	if _, err := New(0, 1, 10, Linear, 0); !errors.Is(err, ErrZeroSampleRate) {
		t.Errorf("zero sample rate: got %v, want ErrZeroSampleRate", err)
	}

	var r *Ramp
	if _, err := r.Next(make([]float64, 4)); !errors.Is(err, ErrNotSet) {
		t.Errorf("unset ramp: got %v, want ErrNotSet", err)
	}

	set, _ := New(0, 1, 10, Linear, 48000)
	if _, err := set.Next(nil); !errors.Is(err, ErrNilBuffer) {
		t.Errorf("nil buffer: got %v, want ErrNilBuffer", err)
	}
	if _, err := set.Next([]float64{}); !errors.Is(err, ErrZeroFrameLen) {
		t.Errorf("zero length buffer: got %v, want ErrZeroFrameLen", err)
	}
}

func TestToDB10Mute(t *testing.T) {
	if got := ToDB10(0); got != -1440 {
		t.Errorf("ToDB10(0) = %d, want -1440", got)
	}
}
