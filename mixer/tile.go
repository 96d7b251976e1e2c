/*
NAME
  tile.go

DESCRIPTION
  tile.go implements the 4x4 gain-tile kernel: the inner loop that
  multiplies one input bundle by a 4x4 gain matrix and accumulates the
  result into an output bundle, the mixer's SIMD processing unit, per
  SPEC_FULL.md §4.9.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package mixer

import "github.com/iasaudio/bar/bundle"

// gainTile is a 4x4 gain matrix: gainTile[outChan][inChan] is applied to
// one input bundle's contribution to one output bundle, per SPEC_FULL.md
// §4.9's "G[outBundle][inBundle][outChan][inChan]" kernel (outBundle/
// inBundle indexing is the caller's responsibility; this type is one
// [outChan][inChan] tile of that larger structure).
type gainTile [bundle.Channels][bundle.Channels]float32

// applyAccumulate multiplies in's samples by tile and adds the result
// into out, frame by frame; out must already hold whatever this period's
// prior contributions (other input bundles) accumulated. This portable
// scalar kernel is the only implementation; there is no
// architecture-specific specialization.
func applyAccumulate(tile gainTile, in, out *bundle.Bundle) {
	frames := in.Frames()
	inData := in.Data()
	outData := out.Data()
	for f := 0; f < frames; f++ {
		base := f * bundle.Channels
		for outCh := 0; outCh < bundle.Channels; outCh++ {
			var sum float32
			for inCh := 0; inCh < bundle.Channels; inCh++ {
				sum += tile[outCh][inCh] * inData[base+inCh]
			}
			outData[base+outCh] += sum
		}
	}
}
