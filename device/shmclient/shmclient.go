/*
NAME
  shmclient.go

DESCRIPTION
  shmclient implements the audio bar's shared-memory client device: a
  process-local ring buffer paired with a two-way command channel to one
  external process, modeled loosely on the teacher's external-device
  pattern (device/geovision issues HTTP control requests to an external
  box; here the control channel is a Unix domain socket carrying the
  get-latency/start/stop/drain/pause/resume/set-parameters vocabulary of
  SPEC_FULL.md §4.11). Every received parameter-change bumps the session
  id so a zone worker can discard in-flight events tagged with a stale
  session.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package shmclient implements the audio bar's shared-memory client
// device, the non-hardware half of the Device tagged variant.
package shmclient

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/ausocean/utils/logging"

	"github.com/iasaudio/bar/barerr"
	"github.com/iasaudio/bar/device"
	"github.com/iasaudio/bar/pcmformat"
	"github.com/iasaudio/bar/ring"
)

// Command is a control-channel message from the external process.
type Command string

const (
	CmdGetLatency    Command = "get-latency"
	CmdStart         Command = "start"
	CmdStop          Command = "stop"
	CmdDrain         Command = "drain"
	CmdPause         Command = "pause"
	CmdResume        Command = "resume"
	CmdSetParameters Command = "set-parameters"
)

// Client is a shared-memory device fed by one external process over a
// Unix domain socket.
type Client struct {
	l      logging.Logger
	mu     sync.Mutex
	params device.Params
	rb     *ring.Buffer
	events *device.EventQueue

	listener net.Listener
	running  bool
	stopCh   chan struct{}
}

// New creates a shared-memory client listening on sockPath for control
// connections from the external process, with a ring buffer sized per
// params.
func New(l logging.Logger, params device.Params, sockPath string) (*Client, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	rb, err := ring.New(pcmformat.F32, params.Channels, params.PeriodSize*params.PeriodCount)
	if err != nil {
		return nil, barerr.Wrap(barerr.InitFailed, "shmclient.New", err)
	}
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, barerr.Wrap(barerr.InitFailed, "shmclient.New", err)
	}
	c := &Client{
		l:        l,
		params:   params,
		rb:       rb,
		events:   device.NewEventQueue(),
		listener: ln,
		stopCh:   make(chan struct{}),
	}
	go c.acceptLoop()
	return c, nil
}

// Name returns the device's configured name.
func (c *Client) Name() string { return c.params.Name }

// RingBuffer returns the device's owned ring buffer.
func (c *Client) RingBuffer() *ring.Buffer { return c.rb }

// Events returns the device's event queue.
func (c *Client) Events() *device.EventQueue { return c.events }

// Start marks the client running, mirroring an eIasStart control message
// arriving before any connection has been made.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.events.Push(device.EventStart)
	return nil
}

// Stop closes the listener; connections already accepted stay open until
// their peer closes them.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.running = false
	close(c.stopCh)
	c.events.Push(device.EventStop)
	return c.listener.Close()
}

// IsRunning reports whether Start has been called without a matching Stop.
func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// acceptLoop accepts control connections from the external process and
// serves each on its own goroutine; it does not limit them to one at a
// time. It returns once Stop has closed the listener.
func (c *Client) acceptLoop() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-c.stopCh:
				return
			default:
				c.l.Error("shmclient accept failed", "error", err.Error())
				continue
			}
		}
		go c.handleConn(conn)
	}
}

func (c *Client) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.dispatch(Command(line), conn)
	}
}

func (c *Client) dispatch(cmd Command, conn net.Conn) {
	switch cmd {
	case CmdGetLatency:
		frames := c.rb.UpdateAvailable(ring.Read)
		fmt.Fprintf(conn, "latency-frames %d\n", frames)
	case CmdStart:
		c.events.Push(device.EventStart)
	case CmdStop:
		c.events.Push(device.EventStop)
	case CmdDrain:
		c.events.Push(device.EventDrain)
	case CmdPause:
		c.events.Push(device.EventPause)
	case CmdResume:
		c.events.Push(device.EventResume)
	case CmdSetParameters:
		c.events.BumpSession()
		c.events.Push(device.EventSetParameters)
	default:
		c.l.Warning("shmclient unknown command", "command", string(cmd))
	}
}
