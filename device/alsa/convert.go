/*
NAME
  convert.go

DESCRIPTION
  convert.go holds the format conversion helpers bridging ALSA's raw byte
  buffers, the bar's interleaved float32 working format, and ring.Area
  views, so alsa.go's worker loop stays free of per-sample format
  branching.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package alsa

import (
	"github.com/iasaudio/bar/pcmformat"
	"github.com/iasaudio/bar/ring"
)

// decodeInto decodes raw ALSA bytes in format f into interleaved float32
// samples.
func decodeInto(f pcmformat.Format, raw []byte, dst []float32) {
	sz := f.BytesPerSample()
	for i := range dst {
		v, err := f.Decode(raw[i*sz : (i+1)*sz])
		if err != nil {
			dst[i] = 0
			continue
		}
		dst[i] = v
	}
}

// encodeFrom encodes interleaved float32 samples into raw ALSA bytes in
// format f.
func encodeFrom(f pcmformat.Format, src []float32, raw []byte) {
	sz := f.BytesPerSample()
	for i, v := range src {
		f.Encode(raw[i*sz:(i+1)*sz], v)
	}
}

// writeAreasFloat writes interleaved float32 samples into the single
// interleaved area a ring.BeginAccess(Write, ...) call returns, encoding
// to the ring's own format.
func writeAreasFloat(areas []ring.Area, samples []float32) {
	if len(areas) == 0 {
		return
	}
	a := areas[0]
	byteOff := a.FirstBit / 8
	for i, v := range samples {
		off := byteOff + i*4
		if off+4 > len(a.Data) {
			break
		}
		putFloat32(a.Data[off:off+4], v)
	}
}

// readAreasFloat reads interleaved float32 samples from the single area a
// ring.BeginAccess(Read, ...) call returns.
func readAreasFloat(areas []ring.Area, dst []float32) {
	if len(areas) == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	a := areas[0]
	byteOff := a.FirstBit / 8
	for i := range dst {
		off := byteOff + i*4
		if off+4 > len(a.Data) {
			dst[i] = 0
			continue
		}
		dst[i] = getFloat32(a.Data[off : off+4])
	}
}

func putFloat32(dst []byte, v float32) {
	pcmformat.F32.Encode(dst, v)
}

func getFloat32(src []byte) float32 {
	v, _ := pcmformat.F32.Decode(src)
	return v
}
