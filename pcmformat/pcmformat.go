/*
NAME
  pcmformat.go

DESCRIPTION
  pcmformat defines the sample formats the audio bar moves frames in and
  the primitives to convert and size them. It generalizes
  ausocean/av/codec/pcm's S16_LE/S32_LE buffer format to the three sample
  formats SPEC_FULL.md's data model names: signed 16-bit, signed 32-bit,
  and float32.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package pcmformat provides sample format definitions and conversions
// shared by the ring buffer, switch-matrix jobs and bundle streams.
package pcmformat

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Format identifies the on-the-wire sample representation of a device or
// ring buffer, per SPEC_FULL.md §3 "Audio device" (signed 16-bit, signed
// 32-bit, float 32-bit).
type Format int

const (
	Unknown Format = iota
	S16
	S32
	F32
)

// String returns a human-readable name for f.
func (f Format) String() string {
	switch f {
	case S16:
		return "S16"
	case S32:
		return "S32"
	case F32:
		return "F32"
	default:
		return "unknown"
	}
}

// BytesPerSample returns the number of bytes one sample of f occupies.
func (f Format) BytesPerSample() int {
	switch f {
	case S16:
		return 2
	case S32, F32:
		return 4
	default:
		return 0
	}
}

// Encode writes v (a normalized float in [-1, 1]) as one sample of format
// f, little-endian, into dst, which must have at least BytesPerSample(f)
// bytes. Values outside [-1, 1] are clamped for integer formats.
func (f Format) Encode(dst []byte, v float32) error {
	switch f {
	case S16:
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(dst, uint16(int16(v*math.MaxInt16)))
		return nil
	case S32:
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint32(dst, uint32(int32(float64(v)*math.MaxInt32)))
		return nil
	case F32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(v))
		return nil
	default:
		return fmt.Errorf("pcmformat: unsupported format %v", f)
	}
}

// Decode reads one sample of format f, little-endian, from src (which must
// have at least BytesPerSample(f) bytes) and returns it normalized to
// [-1, 1].
func (f Format) Decode(src []byte) (float32, error) {
	switch f {
	case S16:
		return float32(int16(binary.LittleEndian.Uint16(src))) / math.MaxInt16, nil
	case S32:
		return float32(float64(int32(binary.LittleEndian.Uint32(src))) / math.MaxInt32), nil
	case F32:
		return math.Float32frombits(binary.LittleEndian.Uint32(src)), nil
	default:
		return 0, fmt.Errorf("pcmformat: unsupported format %v", f)
	}
}

// FrameSize returns the number of bytes one frame (one sample per channel)
// occupies for channels channels of format f.
func FrameSize(f Format, channels int) int { return f.BytesPerSample() * channels }
