/*
NAME
  barerr.go

DESCRIPTION
  barerr defines the error taxonomy shared by every component of the audio
  bar: a small closed set of Kinds that real-time and setup code alike use
  to classify failures, plus an Error type that carries the failing
  operation and an optional wrapped cause.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package barerr provides the error Kind taxonomy used across the audio bar.
package barerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure the way the rest of the bar needs to react to
// it: some kinds are recoverable locally on the real-time path, some force
// a setup-time unwind, and Fatal always stops the owning zone.
type Kind uint8

const (
	// Ok is the zero value; never attached to an Error.
	Ok Kind = iota
	NotRunning
	Timeout
	NoEvent
	InvalidParam
	NotInitialized
	InitFailed
	AlsaError
	RingBufferError
	NotAllowed
	AlreadyInUse
	NoSpaceLeft
	NothingRemoved
	UnsupportedFormat
	WrongState
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Ok:
		return "ok"
	case NotRunning:
		return "not running"
	case Timeout:
		return "timeout"
	case NoEvent:
		return "no event available"
	case InvalidParam:
		return "invalid parameter"
	case NotInitialized:
		return "not initialized"
	case InitFailed:
		return "init failed"
	case AlsaError:
		return "alsa error"
	case RingBufferError:
		return "ring buffer error"
	case NotAllowed:
		return "not allowed"
	case AlreadyInUse:
		return "already in use"
	case NoSpaceLeft:
		return "no space left"
	case NothingRemoved:
		return "nothing removed"
	case UnsupportedFormat:
		return "unsupported format"
	case WrongState:
		return "wrong state"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is the concrete error value attached to a Kind, the operation that
// failed, and, optionally, an underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, allowing
// callers to write errors.Is(err, barerr.New(barerr.Timeout, "", nil)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an Error for op with the given Kind and optional cause.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrap attaches a call stack to err (via github.com/pkg/errors) and
// classifies it under kind for op. Used at setup-time unwind points where
// a post-mortem stack trace is valuable, per SPEC_FULL.md §7.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: errors.WithStack(err)}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, and reports false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return Ok, false
}

// Is reports whether err is a barerr.Error of the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
