/*
NAME
  device.go

DESCRIPTION
  device defines the Device interface shared by the bar's two device
  variants (hardware ALSA handler, shared-memory client), per
  SPEC_FULL.md §4.11: both own a ring buffer, support start/stop, and feed
  the same event queue so a routing zone never needs to know which kind
  of endpoint it is driving.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package device provides the audio bar's source/sink device abstraction:
// a tagged variant over a hardware ALSA handler and a shared-memory
// client, sharing one ring-buffer contract and one event model.
package device

import (
	"fmt"

	"github.com/iasaudio/bar/barerr"
	"github.com/iasaudio/bar/pcmformat"
	"github.com/iasaudio/bar/ring"
)

// Direction distinguishes a source (capture) device from a sink (playback)
// device.
type Direction int

const (
	Source Direction = iota
	Sink
)

// Clock classifies how a device's sample clock relates to the bar's own
// period clock, per SPEC_FULL.md §3.
type Clock int

const (
	// ClockProvided devices run exactly on the bar's period clock.
	ClockProvided Clock = iota
	// ClockReceived devices are driven externally but assumed frequency-
	// locked to the bar.
	ClockReceived
	// ClockReceivedAsync devices run on an independent clock and require
	// ASRC to absorb drift; only these carry an ASRC buffer period count.
	ClockReceivedAsync
)

// Params configures a device at creation time, per SPEC_FULL.md §3's
// audio-device attribute list.
type Params struct {
	Name                 string
	Direction            Direction
	Channels             int
	SampleRate           float64
	Format               pcmformat.Format
	PeriodSize           int
	PeriodCount          int
	Clock                Clock
	NumPeriodsAsrcBuffer int // only meaningful when Clock == ClockReceivedAsync
}

// MaxBufferBytes is the §3 invariant: periodSize*periodCount*channels*
// sampleSize must not exceed 4 MiB.
const MaxBufferBytes = 4 * 1024 * 1024

// Validate checks the §3 capacity invariant and the §4.4 "ASRC period
// count must be >= 4" boundary for received-async devices.
func (p Params) Validate() error {
	if p.Channels <= 0 || p.PeriodSize <= 0 || p.PeriodCount <= 0 || p.SampleRate <= 0 {
		return barerr.New(barerr.InvalidParam, "device.Validate", nil)
	}
	total := p.PeriodSize * p.PeriodCount * p.Channels * p.Format.BytesPerSample()
	if total > MaxBufferBytes {
		return barerr.New(barerr.InvalidParam, "device.Validate", fmt.Errorf("buffer size %d exceeds %d byte limit", total, MaxBufferBytes))
	}
	if p.Clock == ClockReceivedAsync && p.NumPeriodsAsrcBuffer < 4 {
		return barerr.New(barerr.InvalidParam, "device.Validate", fmt.Errorf("numPeriodsAsrcBuffer must be >= 4"))
	}
	return nil
}

// Device is implemented by both the hardware ALSA handler and the
// shared-memory client.
type Device interface {
	// Name returns the device's configured name.
	Name() string

	// RingBuffer returns the device's owned ring buffer.
	RingBuffer() *ring.Buffer

	// Start begins the device's capture or playback activity.
	Start() error

	// Stop halts activity; the device must be stopped before destruction.
	Stop() error

	// IsRunning reports whether Start has been called without a matching Stop.
	IsRunning() bool

	// Events returns the device's event queue, for a zone worker to poll
	// start/stop/parameter-change notifications without blocking.
	Events() *EventQueue
}

// EventType enumerates the client-to-worker events a Device may emit, per
// SPEC_FULL.md §4.11's "Events queue".
type EventType int

const (
	EventNone EventType = iota
	EventStart
	EventStop
	EventDrain
	EventPause
	EventResume
	EventSetParameters
	EventGetLatency
)

// Event pairs an EventType with the session id that produced it so a
// worker can silently discard stale events from a prior session after a
// parameter change bumps the session counter.
type Event struct {
	Type      EventType
	SessionID uint64
}

// EventQueue is a single-producer/single-consumer queue of device events,
// consumed by exactly one reader (the owning zone worker or the device's
// own background worker), per SPEC_FULL.md §5.
type EventQueue struct {
	enabled bool
	ch      chan Event
	session uint64
}

// NewEventQueue constructs a disabled event queue; EnableEventQueue must
// be called before events are delivered.
func NewEventQueue() *EventQueue {
	return &EventQueue{ch: make(chan Event, 64)}
}

// EnableEventQueue turns event delivery on or off.
func (q *EventQueue) EnableEventQueue(on bool) { q.enabled = on }

// Push enqueues an event tagged with the queue's current session id,
// dropping it silently if the queue is not enabled or is full (a full
// queue means the consumer has stalled; the real-time path never blocks
// waiting for it).
func (q *EventQueue) Push(t EventType) {
	if !q.enabled {
		return
	}
	select {
	case q.ch <- Event{Type: t, SessionID: q.session}:
	default:
	}
}

// BumpSession increments the session id; events already queued under the
// previous session are discarded by GetNextEventType rather than acted on.
func (q *EventQueue) BumpSession() { q.session++ }

// GetNextEventType pops the next event, discarding (and continuing past)
// any event tagged with a session id older than the current one. Returns
// EventNone if nothing is pending.
func (q *EventQueue) GetNextEventType() EventType {
	for {
		select {
		case e := <-q.ch:
			if e.SessionID != q.session {
				continue
			}
			return e.Type
		default:
			return EventNone
		}
	}
}
