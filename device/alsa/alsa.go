/*
NAME
  alsa.go

DESCRIPTION
  alsa provides the audio bar's hardware device handler: it opens a
  kernel-level PCM endpoint via yobert/alsa, negotiates channels/rate/
  format/period size/buffer size the same way the teacher's capture
  device does, and then feeds frames directly into a ring.Buffer instead
  of the teacher's pool.Buffer chunk channel, per SPEC_FULL.md §4.11. In
  received-async mode it owns a background worker that runs an ASRC
  instance so external-clock drift never reaches the owning zone's
  timing.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package alsa implements the audio bar's hardware source/sink device
// handler on top of ALSA.
package alsa

import (
	"fmt"
	"sync"
	"time"

	yalsa "github.com/yobert/alsa"

	"github.com/ausocean/utils/logging"

	"github.com/iasaudio/bar/asrc"
	"github.com/iasaudio/bar/barerr"
	"github.com/iasaudio/bar/device"
	"github.com/iasaudio/bar/pcmformat"
	"github.com/iasaudio/bar/ring"
)

// mode mirrors the teacher's running/paused/stopped tri-state, since a
// hardware handler's background worker needs the same pause semantics
// while the owning zone is between start and stop.
type mode uint8

const (
	modeStopped mode = iota
	modePaused
	modeRunning
)

// Hardware is the audio bar's ALSA-backed Device implementation.
type Hardware struct {
	l      logging.Logger
	mu     sync.Mutex
	mode   mode
	params device.Params
	dev    *yalsa.Device
	rb     *ring.Buffer
	events *device.EventQueue

	asrcConv *asrc.Converter // only set when params.Clock == ClockReceivedAsync
	stopCh   chan struct{}
}

// New opens and negotiates an ALSA device matching params, logging
// through l the way the teacher's device handlers do.
func New(l logging.Logger, params device.Params) (*Hardware, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	// The ring buffer always stores the bar's internal float32 working
	// format; params.Format only governs the ALSA wire negotiation and the
	// decode/encode step in the worker loop below.
	rb, err := ring.New(pcmformat.F32, params.Channels, params.PeriodSize*params.PeriodCount)
	if err != nil {
		return nil, barerr.Wrap(barerr.InitFailed, "alsa.New", err)
	}
	h := &Hardware{
		l:      l,
		params: params,
		rb:     rb,
		events: device.NewEventQueue(),
		stopCh: make(chan struct{}),
	}
	if params.Clock == device.ClockReceivedAsync {
		conv, err := asrc.New(params.SampleRate, params.SampleRate, params.Channels, params.PeriodSize, params.NumPeriodsAsrcBuffer)
		if err != nil {
			return nil, err
		}
		h.asrcConv = conv
	}
	if err := h.open(); err != nil {
		return nil, barerr.Wrap(barerr.InitFailed, "alsa.New", err)
	}
	h.mode = modePaused
	return h, nil
}

// Name returns the device's configured name.
func (h *Hardware) Name() string { return h.params.Name }

// RingBuffer returns the device's owned ring buffer.
func (h *Hardware) RingBuffer() *ring.Buffer { return h.rb }

// Events returns the device's event queue.
func (h *Hardware) Events() *device.EventQueue { return h.events }

// open rejects any wire format other than S16/S32 before touching the
// hardware, then negotiates the ALSA device the same way the teacher's
// capture device does: channels, then the requested rate, then format,
// then period/buffer size.
func (h *Hardware) open() error {
	var want yalsa.FormatType
	switch h.params.Format {
	case pcmformat.S16:
		want = yalsa.S16_LE
	case pcmformat.S32:
		want = yalsa.S32_LE
	default:
		return fmt.Errorf("alsa: unsupported format %v", h.params.Format)
	}

	cards, err := yalsa.OpenCards()
	if err != nil {
		return err
	}
	defer yalsa.CloseCards(cards)

	record := h.params.Direction == device.Source
	for _, card := range cards {
		devices, err := card.Devices()
		if err != nil {
			continue
		}
		for _, d := range devices {
			if d.Type != yalsa.PCM {
				continue
			}
			if record && !d.Record {
				continue
			}
			if !record && !d.Play {
				continue
			}
			h.dev = d
			break
		}
		if h.dev != nil {
			break
		}
	}
	if h.dev == nil {
		return fmt.Errorf("alsa: no matching device found")
	}
	if err := h.dev.Open(); err != nil {
		return err
	}

	channels, err := h.dev.NegotiateChannels(h.params.Channels)
	if err != nil {
		return fmt.Errorf("alsa: unable to negotiate %d channels: %w", h.params.Channels, err)
	}
	h.l.Debug("alsa channels negotiated", "channels", channels)

	rate, err := h.dev.NegotiateRate(int(h.params.SampleRate))
	if err != nil {
		return fmt.Errorf("alsa: unable to negotiate rate %v: %w", h.params.SampleRate, err)
	}
	h.l.Debug("alsa rate negotiated", "rate", rate)

	if _, err := h.dev.NegotiateFormat(want); err != nil {
		return fmt.Errorf("alsa: unable to negotiate format: %w", err)
	}

	periodSize, err := h.dev.NegotiatePeriodSize(h.params.PeriodSize)
	if err != nil {
		return fmt.Errorf("alsa: unable to negotiate period size: %w", err)
	}
	h.l.Debug("alsa period size negotiated", "periodsize", periodSize)

	if _, err := h.dev.NegotiateBufferSize(periodSize * h.params.PeriodCount); err != nil {
		return fmt.Errorf("alsa: unable to negotiate buffer size: %w", err)
	}

	return h.dev.Prepare()
}

// Start begins the background worker that shuttles frames between ALSA
// and the ring buffer.
func (h *Hardware) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.mode {
	case modeRunning:
		return nil
	case modeStopped:
		return barerr.New(barerr.WrongState, "alsa.Start", nil)
	}
	h.mode = modeRunning
	h.events.Push(device.EventStart)
	go h.run()
	return nil
}

// Stop halts the background worker and closes the underlying device.
func (h *Hardware) Stop() error {
	h.mu.Lock()
	if h.mode == modeStopped {
		h.mu.Unlock()
		return nil
	}
	h.mode = modeStopped
	h.mu.Unlock()

	close(h.stopCh)
	h.events.Push(device.EventStop)
	if h.dev != nil {
		h.dev.Close()
	}
	return nil
}

// IsRunning reports whether the background worker is active.
func (h *Hardware) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mode == modeRunning
}

// run is the hardware device's own worker loop, started by Start in
// every clock mode: each iteration moves one period between ALSA and the
// ring buffer. For received-async devices (asrcConv set) the period also
// passes through ASRC, so external-clock drift never leaks into the
// owning zone's period timing; otherwise it is copied unchanged.
func (h *Hardware) run() {
	frameSize := h.params.Format.BytesPerSample() * h.params.Channels
	raw := make([]byte, h.params.PeriodSize*frameSize)
	src := make([]float32, h.params.PeriodSize*h.params.Channels)
	sink := make([]float32, h.params.PeriodSize*h.params.Channels)

	for {
		select {
		case <-h.stopCh:
			return
		default:
		}

		h.mu.Lock()
		paused := h.mode == modePaused
		h.mu.Unlock()
		if paused {
			time.Sleep(time.Millisecond)
			continue
		}

		if h.params.Direction == device.Source {
			if err := h.dev.Read(raw); err != nil {
				h.l.Error("alsa read failed", "error", err.Error())
				continue
			}
			decodeInto(h.params.Format, raw, src)
			if h.asrcConv != nil {
				h.asrcConv.Feed(src)
				if _, err := h.asrcConv.Pull(sink, h.params.PeriodSize); err != nil {
					h.l.Error("asrc pull failed", "error", err.Error())
					continue
				}
			} else {
				copy(sink, src)
			}
			h.writeToRing(sink)
		} else {
			h.readFromRing(sink)
			if h.asrcConv != nil {
				h.asrcConv.Feed(sink)
				if _, err := h.asrcConv.Pull(src, h.params.PeriodSize); err != nil {
					h.l.Error("asrc pull failed", "error", err.Error())
					continue
				}
			} else {
				copy(src, sink)
			}
			encodeFrom(h.params.Format, src, raw)
			if err := h.dev.Write(raw); err != nil {
				h.l.Error("alsa write failed", "error", err.Error())
			}
		}
	}
}

func (h *Hardware) writeToRing(samples []float32) {
	areas, offset, frames, err := h.rb.BeginAccess(ring.Write, len(samples)/h.params.Channels)
	if err != nil || frames == 0 {
		return
	}
	writeAreasFloat(areas, samples[:frames*h.params.Channels])
	h.rb.EndAccess(ring.Write, offset, frames)
}

func (h *Hardware) readFromRing(dst []float32) {
	areas, offset, frames, err := h.rb.BeginAccess(ring.Read, len(dst)/h.params.Channels)
	if err != nil || frames == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	readAreasFloat(areas, dst[:frames*h.params.Channels])
	h.rb.EndAccess(ring.Read, offset, frames)
}
