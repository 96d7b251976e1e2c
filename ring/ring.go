/*
NAME
  ring.go

DESCRIPTION
  ring provides a fixed-capacity single-producer/single-consumer circular
  frame buffer with independent read/write cursors, an ALSA-style "areas"
  API (beginAccess/endAccess) for zero-copy interleaved or non-interleaved
  transfers, a non-blocking availability poll, a bounded blocking wait, and
  the resetFromWriter/resetFromReader draining operations.

  The area descriptor (base slice, starting bit offset, bit step) mirrors
  ALSA's snd_pcm_channel_area_t, the model github.com/yobert/alsa (used by
  the teacher's device/alsa/alsa.go) itself wraps; ring.Area is the Go-level
  analogue so format conversion code can walk either an interleaved or a
  per-channel strided view of the same backing array without copying.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package ring implements the audio bar's core frame-accurate circular
// buffer, shared by every source and sink device and by switch-matrix
// jobs.
package ring

import (
	"sync"
	"time"

	"github.com/iasaudio/bar/barerr"
	"github.com/iasaudio/bar/pcmformat"
)

// Direction selects which cursor an operation concerns.
type Direction int

const (
	Read Direction = iota
	Write
)

// MaxCapacityBytes is the largest periodic-buffer size the data model
// allows, per SPEC_FULL.md §3's "Audio device" invariant.
const MaxCapacityBytes = 4 * 1024 * 1024

// Area describes a contiguous or strided view into the ring's backing
// array for one or all channels, following the ALSA area model: Data is
// the backing slice, FirstBit is the bit offset of the first sample, and
// StepBits is the bit distance between consecutive samples belonging to
// the same channel. Channel is the channel index this area covers, or -1
// if the area is interleaved across all channels.
type Area struct {
	Data     []byte
	FirstBit int
	StepBits int
	Channel  int
}

// Buffer is a fixed-capacity circular buffer of frames.
type Buffer struct {
	format   pcmformat.Format
	channels int
	frameSz  int // bytes per frame
	capacity int // frames

	data []byte

	mu        sync.Mutex
	readCur   uint64
	writeCur  uint64
	readBusy  bool
	writeBusy bool
}

// New creates a Buffer for the given format, channel count and capacity in
// frames. It fails if the resulting byte size would exceed
// MaxCapacityBytes.
func New(format pcmformat.Format, channels, capacityFrames int) (*Buffer, error) {
	if channels <= 0 || capacityFrames <= 0 {
		return nil, barerr.New(barerr.InvalidParam, "ring.New", nil)
	}
	frameSz := pcmformat.FrameSize(format, channels)
	if frameSz <= 0 {
		return nil, barerr.New(barerr.InvalidParam, "ring.New", nil)
	}
	size := frameSz * capacityFrames
	if size > MaxCapacityBytes {
		return nil, barerr.New(barerr.InvalidParam, "ring.New", nil)
	}
	b := &Buffer{
		format:   format,
		channels: channels,
		frameSz:  frameSz,
		capacity: capacityFrames,
		data:     make([]byte, size),
	}
	return b, nil
}

// Capacity returns the buffer's capacity in frames.
func (b *Buffer) Capacity() int { return b.capacity }

// Format returns the buffer's sample format.
func (b *Buffer) Format() pcmformat.Format { return b.format }

// Channels returns the buffer's channel count.
func (b *Buffer) Channels() int { return b.channels }

// availableLocked returns the number of frames available for dir without
// acquiring the mutex (caller must hold it).
func (b *Buffer) availableLocked(dir Direction) int {
	used := int(b.writeCur - b.readCur)
	switch dir {
	case Read:
		return used
	case Write:
		return b.capacity - used
	default:
		return 0
	}
}

// UpdateAvailable returns the number of frames readable or writable
// without blocking.
func (b *Buffer) UpdateAvailable(dir Direction) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.availableLocked(dir)
}

// WaitAvailable blocks (bounded by timeout) until at least minFrames are
// available for dir, polling at a short fixed interval. It returns the
// number of frames actually available, which may be less than minFrames
// if the timeout expires; callers must re-poll on timeout rather than
// treat it as a hard failure.
func (b *Buffer) WaitAvailable(dir Direction, minFrames int, timeout time.Duration) (int, error) {
	const pollInterval = 500 * time.Microsecond
	deadline := time.Now().Add(timeout)
	for {
		n := b.UpdateAvailable(dir)
		if n >= minFrames {
			return n, nil
		}
		if time.Now().After(deadline) {
			return n, barerr.New(barerr.Timeout, "ring.WaitAvailable", nil)
		}
		time.Sleep(pollInterval)
	}
}

// BeginAccess grants the caller a contiguous view of up to frames frames
// for dir, returning the areas describing it (one interleaved area
// spanning all channels), the frame offset into the cursor where the
// access starts, and the number of frames actually granted (which may be
// less than requested because of wraparound or insufficient
// availability). The caller must call EndAccess exactly once to commit
// before any other BeginAccess on the same side.
func (b *Buffer) BeginAccess(dir Direction, frames int) ([]Area, int, int, error) {
	if frames <= 0 {
		return nil, 0, 0, barerr.New(barerr.InvalidParam, "ring.BeginAccess", nil)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if (dir == Read && b.readBusy) || (dir == Write && b.writeBusy) {
		return nil, 0, 0, barerr.New(barerr.WrongState, "ring.BeginAccess", nil)
	}

	avail := b.availableLocked(dir)
	if avail <= 0 {
		return nil, 0, 0, nil
	}
	if frames > avail {
		frames = avail
	}

	var cur uint64
	switch dir {
	case Read:
		cur = b.readCur
		b.readBusy = true
	case Write:
		cur = b.writeCur
		b.writeBusy = true
	}

	offset := int(cur % uint64(b.capacity))
	// Clamp to the contiguous run before wraparound.
	toWrap := b.capacity - offset
	if frames > toWrap {
		frames = toWrap
	}

	area := Area{
		Data:     b.data,
		FirstBit: offset * b.frameSz * 8,
		StepBits: b.frameSz * 8,
		Channel:  -1,
	}
	return []Area{area}, offset, frames, nil
}

// EndAccess commits frames frames of a previously begun access for dir,
// advancing the corresponding cursor. offset is the value returned by the
// matching BeginAccess call and is used only to detect misuse.
func (b *Buffer) EndAccess(dir Direction, offset, frames int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch dir {
	case Read:
		if !b.readBusy {
			return barerr.New(barerr.WrongState, "ring.EndAccess", nil)
		}
		if frames > 0 && int(b.readCur%uint64(b.capacity)) != offset {
			return barerr.New(barerr.InvalidParam, "ring.EndAccess", nil)
		}
		b.readCur += uint64(frames)
		b.readBusy = false
	case Write:
		if !b.writeBusy {
			return barerr.New(barerr.WrongState, "ring.EndAccess", nil)
		}
		if frames > 0 && int(b.writeCur%uint64(b.capacity)) != offset {
			return barerr.New(barerr.InvalidParam, "ring.EndAccess", nil)
		}
		b.writeCur += uint64(frames)
		b.writeBusy = false
	}
	return nil
}

// ResetFromWriter is called by the writer side (e.g. a stopping sink
// device) to drain and zero the buffer's cursors. It acquires the same
// lock the reader's EndAccess/BeginAccess use, and fails with WrongState
// if the reader has an access transaction in flight, since finishing that
// transaction first is the caller's responsibility per SPEC_FULL.md §4.1.
func (b *Buffer) ResetFromWriter() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readBusy {
		return barerr.New(barerr.WrongState, "ring.ResetFromWriter", nil)
	}
	b.resetLocked()
	return nil
}

// ResetFromReader is the mirror of ResetFromWriter, called by the reader
// side and failing if the writer has an access transaction in flight.
func (b *Buffer) ResetFromReader() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeBusy {
		return barerr.New(barerr.WrongState, "ring.ResetFromReader", nil)
	}
	b.resetLocked()
	return nil
}

func (b *Buffer) resetLocked() {
	for i := range b.data {
		b.data[i] = 0
	}
	b.readCur = 0
	b.writeCur = 0
}

// ReadCursor and WriteCursor return the buffer's monotonic frame counters,
// used by tests to check the invariants in SPEC_FULL.md §8.
func (b *Buffer) ReadCursor() uint64  { return b.readCur }
func (b *Buffer) WriteCursor() uint64 { return b.writeCur }
