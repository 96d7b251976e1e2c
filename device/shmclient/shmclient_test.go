/*
NAME
  shmclient_test.go

DESCRIPTION
  shmclient_test.go drives a Client over its real Unix domain socket: a
  plain net.Dial connection sends the control vocabulary line by line and
  the test asserts the resulting event queue / get-latency reply, the
  same black-box style as dialing a handler's HTTP endpoint rather than
  calling its unexported dispatch logic directly.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package shmclient

import (
	"bufio"
	"bytes"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/iasaudio/bar/device"
	"github.com/iasaudio/bar/pcmformat"
)

func testParams(t *testing.T) device.Params {
	t.Helper()
	return device.Params{
		Name:        "shm0",
		Direction:   device.Source,
		Channels:    2,
		SampleRate:  48000,
		Format:      pcmformat.F32,
		PeriodSize:  128,
		PeriodCount: 4,
		Clock:       device.ClockProvided,
	}
}

func testLogger() logging.Logger {
	return logging.New(logging.Debug, &bytes.Buffer{}, true)
}

func dial(t *testing.T, sockPath string) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestNewListensAndNamesRingBuffer(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "shm.sock")
	c, err := New(testLogger(), testParams(t), sockPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Stop()

	if c.Name() != "shm0" {
		t.Errorf("Name() = %q, want %q", c.Name(), "shm0")
	}
	if c.RingBuffer() == nil {
		t.Fatal("RingBuffer() = nil, want a ring buffer")
	}
	if c.IsRunning() {
		t.Error("IsRunning() = true before Start")
	}

	// The listener must actually be up: a dial must succeed.
	conn := dial(t, sockPath)
	conn.Close()
}

func TestStartStop(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "shm.sock")
	c, err := New(testLogger(), testParams(t), sockPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Events().EnableEventQueue(true)

	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	if got := c.Events().GetNextEventType(); got != device.EventStart {
		t.Errorf("event after Start = %v, want EventStart", got)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	if got := c.Events().GetNextEventType(); got != device.EventStop {
		t.Errorf("event after Stop = %v, want EventStop", got)
	}

	// A second Stop on an already-stopped client is a no-op, not an error.
	if err := c.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestDispatchControlCommands(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "shm.sock")
	c, err := New(testLogger(), testParams(t), sockPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Stop()
	c.Events().EnableEventQueue(true)

	conn := dial(t, sockPath)
	reader := bufio.NewReader(conn)

	tests := []struct {
		cmd  Command
		want device.EventType
	}{
		{CmdStart, device.EventStart},
		{CmdPause, device.EventPause},
		{CmdResume, device.EventResume},
		{CmdDrain, device.EventDrain},
		{CmdSetParameters, device.EventSetParameters},
		{CmdStop, device.EventStop},
	}
	for _, tt := range tests {
		if _, err := conn.Write([]byte(string(tt.cmd) + "\n")); err != nil {
			t.Fatalf("Write(%s): %v", tt.cmd, err)
		}
		if err := waitForEvent(c, tt.want, time.Second); err != nil {
			t.Errorf("%s: %v", tt.cmd, err)
		}
	}

	if _, err := conn.Write([]byte(string(CmdGetLatency) + "\n")); err != nil {
		t.Fatalf("Write(get-latency): %v", err)
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if line != "latency-frames 0\n" {
		t.Errorf("get-latency reply = %q, want %q", line, "latency-frames 0\n")
	}
}

// TestDispatchSetParametersBumpsSession checks that an event queued
// under a session set-parameters has since bumped is discarded rather
// than delivered: GetNextEventType must skip straight past the stale
// pause event to the set-parameters event that bumped the session.
func TestDispatchSetParametersBumpsSession(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "shm.sock")
	c, err := New(testLogger(), testParams(t), sockPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Stop()
	c.Events().EnableEventQueue(true)

	conn := dial(t, sockPath)

	if _, err := conn.Write([]byte(string(CmdPause) + "\nset-parameters\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := waitForEvent(c, device.EventSetParameters, time.Second); err != nil {
		t.Fatalf("EventSetParameters: %v", err)
	}
	// The pause event was discarded as stale, not merely queued behind
	// set-parameters: nothing else should be pending.
	if got := c.Events().GetNextEventType(); got != device.EventNone {
		t.Errorf("trailing event = %v, want EventNone", got)
	}
}

// waitForEvent polls GetNextEventType until it returns want or the
// timeout elapses, since dispatch runs on a connection goroutine
// asynchronously to the test.
func waitForEvent(c *Client, want device.EventType, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Events().GetNextEventType() == want {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return errTimeout(want)
}

type errTimeout device.EventType

func (e errTimeout) Error() string {
	return "timed out waiting for event"
}
