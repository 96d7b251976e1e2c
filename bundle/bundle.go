/*
NAME
  bundle.go

DESCRIPTION
  bundle provides the audio bundle: a 16-byte-aligned block holding four
  interleaved float32 channels for one period, the pipeline's SIMD unit.
  It exposes per-channel-count read/write/clear primitives so conversion
  hot paths can be specialized the way codec/pcm.go specializes its
  S16_LE/S32_LE conversion loops.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package bundle implements the audio bar's 4-channel bundled block and
// its pooling, per SPEC_FULL.md §4.2.
package bundle

import (
	"fmt"
)

// Channels is the fixed channel width of a bundle.
const Channels = 4

// Bundle holds Channels interleaved float32 channels for one period.
// Bundles are obtained from and returned to a Pool; a bundle remembers
// its home pool so a misdirected Return is caught rather than silently
// corrupting another pool's free list.
type Bundle struct {
	frames int
	data   []float32 // len == Channels*frames, interleaved
	home   *Pool
}

// newBundle allocates a bundle for frames frames. frames must be a
// multiple of 4 (minimum SIMD width); wider SIMD builds may require a
// multiple of 8, checked by the caller via RequiredAlignment.
func newBundle(frames int) *Bundle {
	return &Bundle{frames: frames, data: make([]float32, Channels*frames)}
}

// RequiredAlignment is the frame-length alignment the bundle kernels
// require: a multiple of 4. The kernels in bundle.go are portable and
// this value is the same in every build.
var RequiredAlignment = 4

// Frames returns the number of frames this bundle covers.
func (b *Bundle) Frames() int { return b.frames }

// Clear zeroes every sample in the bundle.
func (b *Bundle) Clear() {
	for i := range b.data {
		b.data[i] = 0
	}
}

// Data returns the raw interleaved backing slice (Channels*Frames()
// samples), for callers (the mixer's gain-tile kernel) that want direct
// access to the SIMD-aligned storage.
func (b *Bundle) Data() []float32 { return b.data }

// validateChannels reports an error if n is out of the bundle's
// supported range.
func validateChannels(n int) error {
	if n < 1 || n > Channels {
		return fmt.Errorf("bundle: channel count %d out of range [1,%d]", n, Channels)
	}
	return nil
}

// writeInterleaved is the shared core of WriteNChannelsFromInterleaved;
// src holds n interleaved channels of b.Frames() frames each. Channels
// beyond n are zero-padded, per the partial-bundle rule in
// SPEC_FULL.md §3.
func (b *Bundle) writeInterleaved(n int, src []float32) error {
	if err := validateChannels(n); err != nil {
		return err
	}
	if len(src) < n*b.frames {
		return fmt.Errorf("bundle: interleaved source too short: have %d, want %d", len(src), n*b.frames)
	}
	for f := 0; f < b.frames; f++ {
		base := f * Channels
		for ch := 0; ch < Channels; ch++ {
			if ch < n {
				b.data[base+ch] = src[f*n+ch]
			} else {
				b.data[base+ch] = 0
			}
		}
	}
	return nil
}

// writeNonInterleaved is the shared core of WriteNChannelsFromNonInterleaved;
// src[ch] holds b.Frames() samples for channel ch.
func (b *Bundle) writeNonInterleaved(n int, src [][]float32) error {
	if err := validateChannels(n); err != nil {
		return err
	}
	if len(src) < n {
		return fmt.Errorf("bundle: non-interleaved source has %d channels, want %d", len(src), n)
	}
	for _, chData := range src[:n] {
		if len(chData) < b.frames {
			return fmt.Errorf("bundle: channel data too short: have %d, want %d", len(chData), b.frames)
		}
	}
	for f := 0; f < b.frames; f++ {
		base := f * Channels
		for ch := 0; ch < Channels; ch++ {
			if ch < n {
				b.data[base+ch] = src[ch][f]
			} else {
				b.data[base+ch] = 0
			}
		}
	}
	return nil
}

// readInterleaved is the shared core of ReadNChannelsToInterleaved,
// writing n channels of interleaved samples into dst.
func (b *Bundle) readInterleaved(n int, dst []float32) error {
	if err := validateChannels(n); err != nil {
		return err
	}
	if len(dst) < n*b.frames {
		return fmt.Errorf("bundle: interleaved destination too short: have %d, want %d", len(dst), n*b.frames)
	}
	for f := 0; f < b.frames; f++ {
		base := f * Channels
		for ch := 0; ch < n; ch++ {
			dst[f*n+ch] = b.data[base+ch]
		}
	}
	return nil
}

// readNonInterleaved is the shared core of ReadNChannelsToNonInterleaved.
func (b *Bundle) readNonInterleaved(n int, dst [][]float32) error {
	if err := validateChannels(n); err != nil {
		return err
	}
	if len(dst) < n {
		return fmt.Errorf("bundle: non-interleaved destination has %d channels, want %d", len(dst), n)
	}
	for _, chData := range dst[:n] {
		if len(chData) < b.frames {
			return fmt.Errorf("bundle: channel destination too short: have %d, want %d", len(chData), b.frames)
		}
	}
	for f := 0; f < b.frames; f++ {
		base := f * Channels
		for ch := 0; ch < n; ch++ {
			dst[ch][f] = b.data[base+ch]
		}
	}
	return nil
}

// Write1ChannelFromInterleaved writes a single channel's worth of samples
// (no interleaving to undo) into channel 0, zero-padding channels 1-3.
func (b *Bundle) Write1ChannelFromInterleaved(src []float32) error { return b.writeInterleaved(1, src) }

// Write2ChannelsFromInterleaved writes a stereo-interleaved source.
func (b *Bundle) Write2ChannelsFromInterleaved(src []float32) error { return b.writeInterleaved(2, src) }

// Write3ChannelsFromInterleaved writes a 3-channel interleaved source.
func (b *Bundle) Write3ChannelsFromInterleaved(src []float32) error { return b.writeInterleaved(3, src) }

// Write4ChannelsFromInterleaved writes a full 4-channel interleaved
// source.
func (b *Bundle) Write4ChannelsFromInterleaved(src []float32) error { return b.writeInterleaved(4, src) }

// Write1ChannelFromNonInterleaved writes one non-interleaved channel.
func (b *Bundle) Write1ChannelFromNonInterleaved(src [][]float32) error {
	return b.writeNonInterleaved(1, src)
}

// Write2ChannelsFromNonInterleaved writes two non-interleaved channels.
func (b *Bundle) Write2ChannelsFromNonInterleaved(src [][]float32) error {
	return b.writeNonInterleaved(2, src)
}

// Write3ChannelsFromNonInterleaved writes three non-interleaved channels.
func (b *Bundle) Write3ChannelsFromNonInterleaved(src [][]float32) error {
	return b.writeNonInterleaved(3, src)
}

// Write4ChannelsFromNonInterleaved writes four non-interleaved channels.
func (b *Bundle) Write4ChannelsFromNonInterleaved(src [][]float32) error {
	return b.writeNonInterleaved(4, src)
}

// Read1ChannelToInterleaved reads channel 0 into dst.
func (b *Bundle) Read1ChannelToInterleaved(dst []float32) error { return b.readInterleaved(1, dst) }

// Read2ChannelsToInterleaved reads channels 0-1, interleaved, into dst.
func (b *Bundle) Read2ChannelsToInterleaved(dst []float32) error { return b.readInterleaved(2, dst) }

// Read3ChannelsToInterleaved reads channels 0-2, interleaved, into dst.
func (b *Bundle) Read3ChannelsToInterleaved(dst []float32) error { return b.readInterleaved(3, dst) }

// Read4ChannelsToInterleaved reads all four channels, interleaved, into
// dst.
func (b *Bundle) Read4ChannelsToInterleaved(dst []float32) error { return b.readInterleaved(4, dst) }

// Read1ChannelToNonInterleaved reads channel 0 into dst[0].
func (b *Bundle) Read1ChannelToNonInterleaved(dst [][]float32) error {
	return b.readNonInterleaved(1, dst)
}

// Read2ChannelsToNonInterleaved reads channels 0-1 into dst[0], dst[1].
func (b *Bundle) Read2ChannelsToNonInterleaved(dst [][]float32) error {
	return b.readNonInterleaved(2, dst)
}

// Read3ChannelsToNonInterleaved reads channels 0-2 into dst.
func (b *Bundle) Read3ChannelsToNonInterleaved(dst [][]float32) error {
	return b.readNonInterleaved(3, dst)
}

// Read4ChannelsToNonInterleaved reads all four channels into dst.
func (b *Bundle) Read4ChannelsToNonInterleaved(dst [][]float32) error {
	return b.readNonInterleaved(4, dst)
}
