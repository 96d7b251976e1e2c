/*
NAME
  event.go

DESCRIPTION
  event implements the bar's Event API: a process-wide queue of
  connection, setup and module events a client drains with
  waitForEvent/getNextEvent, per SPEC_FULL.md §6. Grounded on
  device.EventQueue's channel-backed queue, generalized from one
  device's start/stop notifications to the bar-wide event stream and
  split into a separate non-destructive wait step and a destructive pop
  step to match the spec's two-call waitForEvent/getNextEvent shape.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package bar

import (
	"sync"
	"time"

	"github.com/iasaudio/bar/barerr"
	"github.com/iasaudio/bar/barid"
)

// Kind classifies an Event, per spec.md §6's "three event kinds".
type Kind int

const (
	ConnectionEvent Kind = iota
	SetupEvent
	ModuleEvent
)

// ConnectionEventType refines a ConnectionEvent, per spec.md §6's
// "connection events (source deleted, sink deleted, connect,
// disconnect)".
type ConnectionEventType int

const (
	Connected ConnectionEventType = iota
	Disconnected
	SourceDeleted
	SinkDeleted
)

// Event is one entry on the bar's event queue. Only the fields relevant
// to Kind (and, for ConnectionEvent, to Connection) are meaningful.
type Event struct {
	Kind       Kind
	Connection ConnectionEventType
	Source     barid.PortID
	Sink       barid.PortID
	Zone       barid.ZoneID
	Module     barid.ModuleID
	Message    string
}

// eventQueue is the bar-wide queue every setup/routing call and every
// running zone's device events feed into. push never blocks: a stalled
// consumer drops the oldest backlog rather than stalling the caller
// (device.EventQueue, by contrast, drops the incoming event when full).
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	signal chan struct{}
}

const maxQueuedEvents = 1024

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(e Event) {
	q.mu.Lock()
	if len(q.items) >= maxQueuedEvents {
		q.items = q.items[1:]
	}
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// waitForEvent blocks until at least one event is queued or timeout
// elapses, without consuming it; the caller pops it with getNextEvent.
func (q *eventQueue) waitForEvent(timeout time.Duration) error {
	deadline := time.After(timeout)
	for {
		q.mu.Lock()
		has := len(q.items) > 0
		q.mu.Unlock()
		if has {
			return nil
		}
		// A signal may be left over from events already popped, so the
		// queue is checked again after every wake-up.
		select {
		case <-q.signal:
		case <-deadline:
			return barerr.New(barerr.Timeout, "bar.WaitForEvent", nil)
		}
	}
}

// getNextEvent pops and returns the oldest queued event.
func (q *eventQueue) getNextEvent() (Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Event{}, barerr.New(barerr.NoEvent, "bar.GetNextEvent", nil)
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e, nil
}

// WaitForEvent blocks until an event is available or timeout elapses.
func (b *Bar) WaitForEvent(timeout time.Duration) error {
	return b.events.waitForEvent(timeout)
}

// GetNextEvent pops the oldest queued event, failing with
// barerr.NoEvent if the queue is empty.
func (b *Bar) GetNextEvent() (Event, error) {
	return b.events.getNextEvent()
}
