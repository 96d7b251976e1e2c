/*
NAME
  ramp.go

DESCRIPTION
  ramp implements the per-sample linear and exponential ramp generator
  used by the mixer's balance/fader/gain-offset controls, per
  SPEC_FULL.md §4.3.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package ramp provides linear and exponential per-sample gain ramps.
package ramp

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Shape selects the ramp's curve.
type Shape int

const (
	Linear Shape = iota
	Exponential
)

// MuteFloor is the gain value substituted for a near-zero exponential
// ramp endpoint so the multiplicative factor never degenerates to zero,
// per SPEC_FULL.md §4.3 (-144 dB).
const MuteFloor = 6.31e-8 // ~ -144 dB

// nearZero is the threshold below which an exponential endpoint is
// treated as "near zero" and replaced by MuteFloor.
const nearZero = 1e-9

var (
	ErrZeroRampTime   = errors.New("ramp: ramp time must be > 0")
	ErrUnknownShape   = errors.New("ramp: unknown shape")
	ErrZeroSampleRate = errors.New("ramp: sample rate must be > 0")
	ErrZeroFrameLen   = errors.New("ramp: frame length must be > 0")
	ErrNilBuffer      = errors.New("ramp: destination buffer is nil")
	ErrNotSet         = errors.New("ramp: not set")
)

// Ramp generates successive per-sample values moving from Start to End
// over a configured duration, for a fixed sample rate. Next is called
// once per period with a destination slice sized to that period's frame
// count; it fills as many ramp samples as remain, then holds End for the
// rest of the slice.
type Ramp struct {
	shape        Shape
	sampleRate   float64
	start, end   float64
	remaining    int // samples left to ramp
	totalSamples int
	cur          float64
	linearStep   float64
	expFactor    float64
	set          bool
}

// New configures a Ramp moving from startValue to endValue over
// rampTimeMs milliseconds at sample rate fs, using shape. An unset or
// invalid parameter yields a distinct sentinel error, per
// SPEC_FULL.md §4.3's failure modes.
func New(startValue, endValue float64, rampTimeMs float64, shape Shape, fs float64) (*Ramp, error) {
	if fs <= 0 {
		return nil, ErrZeroSampleRate
	}
	if rampTimeMs <= 0 {
		return nil, ErrZeroRampTime
	}
	if shape != Linear && shape != Exponential {
		return nil, ErrUnknownShape
	}

	n := int(math.Ceil(rampTimeMs * fs / 1000))
	if n < 1 {
		n = 1
	}

	r := &Ramp{
		shape:        shape,
		sampleRate:   fs,
		start:        startValue,
		end:          endValue,
		remaining:    n,
		totalSamples: n,
		cur:          startValue,
		set:          true,
	}

	if startValue == endValue {
		r.remaining = 0
		return r, nil
	}

	switch shape {
	case Linear:
		r.linearStep = (endValue - startValue) / float64(n)
	case Exponential:
		end := endValue
		if math.Abs(end) < nearZero {
			if end < 0 {
				end = -MuteFloor
			} else {
				end = MuteFloor
			}
		}
		start := startValue
		if math.Abs(start) < nearZero {
			if start < 0 {
				start = -MuteFloor
			} else {
				start = MuteFloor
			}
			r.cur = start
		}
		ratio := math.Abs(end / start)
		r.expFactor = math.Pow(ratio, 1/float64(n))
	}
	return r, nil
}

// Next fills dst with len(dst) successive ramp samples, advancing the
// ramp's internal state, and returns the number of samples still
// remaining in the ramp after this call (0 once the ramp has reached its
// end value).
func (r *Ramp) Next(dst []float64) (int, error) {
	if r == nil || !r.set {
		return 0, ErrNotSet
	}
	if dst == nil {
		return 0, ErrNilBuffer
	}
	if len(dst) == 0 {
		return 0, ErrZeroFrameLen
	}

	for i := range dst {
		if r.remaining <= 0 {
			dst[i] = r.end
			continue
		}
		dst[i] = r.cur
		switch r.shape {
		case Linear:
			r.cur += r.linearStep
		case Exponential:
			r.cur *= r.expFactor
		}
		r.remaining--
		if r.remaining <= 0 {
			r.cur = r.end
		} else if overshoot(r.shape, r.cur, r.start, r.end) {
			r.cur = r.end
			r.remaining = 0
		}
	}
	return r.remaining, nil
}

// overshoot reports whether cur has passed end, given the ramp's
// direction from start, so both shapes clamp cleanly rather than
// oscillate past the target.
func overshoot(shape Shape, cur, start, end float64) bool {
	if start <= end {
		return cur > end
	}
	return cur < end
}

// Remaining returns the number of samples still left to ramp.
func (r *Ramp) Remaining() int {
	if r == nil {
		return 0
	}
	return r.remaining
}

// Value returns the ramp's current instantaneous value without advancing
// it, useful for a caller that wants to know the gain before the next
// period without consuming a sample.
func (r *Ramp) Value() float64 {
	if r == nil {
		return 0
	}
	return r.cur
}

// ToDB10 converts a linear gain to the mixer's "dB times ten" convention
// used in *Finished events (SPEC_FULL.md §4.9), rounding away from zero,
// with MuteFloor or below mapped to the -144 dB mute sentinel.
func ToDB10(gain float64) int {
	g := math.Abs(gain)
	if g <= MuteFloor {
		return -1440
	}
	db := 20 * math.Log10(g)
	return int(floats.Round(db*10, 0))
}
