/*
NAME
  asrc.go

DESCRIPTION
  asrc implements the adaptive sample-rate converter: a buffered,
  fill-level-feedback resampler that a switch-matrix job uses whenever its
  source and sink run at different sample rates, per SPEC_FULL.md §4.4.

  The fractional interpolation kernel generalizes
  ausocean/av/codec/pcm.Resample's integer "ratioTo must be 1" decimation
  to arbitrary ratios; the warm-up/fill-level feedback loop is new to this
  spec (the teacher has no asynchronous-clock resampler).

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package asrc provides the audio bar's adaptive sample-rate converter.
package asrc

import (
	"github.com/iasaudio/bar/barerr"
)

// MinBufferPeriods is the smallest legal numPeriodsAsrcBuffer, per
// SPEC_FULL.md §4.4 ("must be >= 4 periods").
const MinBufferPeriods = 4

// feedbackGain controls how aggressively the effective ratio is nudged to
// correct fill-level drift; kept small so corrections stay inaudible.
const feedbackGain = 0.02

// maxRatioAdjust bounds the fractional adjustment applied to the nominal
// ratio so a transient fill spike cannot produce an audible pitch jump.
const maxRatioAdjust = 0.05

// Converter adaptively resamples interleaved float32 frames from a source
// rate to a sink rate.
type Converter struct {
	channels     int
	nominalRatio float64 // source frames consumed per sink frame produced
	capacity     int     // warm-up threshold, in source frames
	setpoint     float64 // target fill level, in source frames

	buf     []float32
	frames  int // frames currently buffered (len(buf)/channels)
	readPos float64
	warm    bool
}

// New constructs a Converter for srcRate -> sinkRate at the given channel
// count. periodSize is the sink's period size in frames and
// numPeriodsAsrcBuffer sets the warm-up buffer depth; it must be at least
// MinBufferPeriods.
func New(srcRate, sinkRate float64, channels, periodSize, numPeriodsAsrcBuffer int) (*Converter, error) {
	if srcRate <= 0 || sinkRate <= 0 || channels <= 0 || periodSize <= 0 {
		return nil, barerr.New(barerr.InvalidParam, "asrc.New", nil)
	}
	if numPeriodsAsrcBuffer < MinBufferPeriods {
		return nil, barerr.New(barerr.InvalidParam, "asrc.New", nil)
	}
	capacity := numPeriodsAsrcBuffer * periodSize
	return &Converter{
		channels:     channels,
		nominalRatio: srcRate / sinkRate,
		capacity:     capacity,
		setpoint:     float64(capacity) / 2,
	}, nil
}

// Passthrough reports whether this converter's nominal ratio is 1:1, in
// which case callers should skip ASRC and use format conversion only, per
// SPEC_FULL.md §4.4's pass-through edge case.
func (c *Converter) Passthrough() bool { return c.nominalRatio == 1 }

// Feed appends interleaved source frames to the internal buffer.
func (c *Converter) Feed(src []float32) {
	c.buf = append(c.buf, src...)
	c.frames += len(src) / c.channels
}

// Buffered returns the number of source frames currently held.
func (c *Converter) Buffered() int { return c.frames }

// Warm reports whether the converter has accumulated a full warm-up
// buffer and started producing output.
func (c *Converter) Warm() bool { return c.warm }

// Pull writes interleaved frames into dst, which must be sized for at
// least sinkFrames frames. It returns the number of frames it was unable
// to produce (0 on a full write); the caller must carry that shortfall
// forward to the next period once more source data has been fed, per
// SPEC_FULL.md §4.4. During warm-up, Pull produces nothing and reports
// the full request as short.
func (c *Converter) Pull(dst []float32, sinkFrames int) (short int, err error) {
	if sinkFrames <= 0 {
		return 0, barerr.New(barerr.InvalidParam, "asrc.Pull", nil)
	}
	if len(dst) < sinkFrames*c.channels {
		return 0, barerr.New(barerr.InvalidParam, "asrc.Pull", nil)
	}

	if !c.warm {
		if c.frames < c.capacity {
			for i := range dst[:sinkFrames*c.channels] {
				dst[i] = 0
			}
			return sinkFrames, nil
		}
		c.warm = true
	}

	ratio := c.effectiveRatio()

	produced := 0
	for produced < sinkFrames {
		i0 := int(c.readPos)
		if i0+1 >= c.frames {
			break
		}
		frac := float32(c.readPos - float64(i0))
		for ch := 0; ch < c.channels; ch++ {
			a := c.buf[i0*c.channels+ch]
			b := c.buf[(i0+1)*c.channels+ch]
			dst[produced*c.channels+ch] = a + frac*(b-a)
		}
		c.readPos += ratio
		produced++
	}

	c.compact()

	short = sinkFrames - produced
	return short, nil
}

// effectiveRatio nudges the nominal ratio based on how far the current
// fill level is from the setpoint: a buffer running full is drained
// faster (larger ratio, more source frames consumed per sink frame), a
// buffer running dry is drained slower.
func (c *Converter) effectiveRatio() float64 {
	if c.setpoint == 0 || c.Passthrough() {
		return c.nominalRatio
	}
	fillError := (float64(c.frames) - c.setpoint) / c.setpoint
	adj := feedbackGain * fillError
	if adj > maxRatioAdjust {
		adj = maxRatioAdjust
	} else if adj < -maxRatioAdjust {
		adj = -maxRatioAdjust
	}
	return c.nominalRatio * (1 + adj)
}

// compact drops whole consumed frames from the front of buf, keeping the
// buffer from growing without bound across periods.
func (c *Converter) compact() {
	consumed := int(c.readPos)
	if consumed <= 0 {
		return
	}
	if consumed > c.frames {
		consumed = c.frames
	}
	c.buf = c.buf[consumed*c.channels:]
	c.frames -= consumed
	c.readPos -= float64(consumed)
}
