package barerr

import (
	"errors"
	"testing"
)

func TestErrorString(t *testing.T) {
	e := New(InvalidParam, "connect", errors.New("unknown source id"))
	want := "connect: invalid parameter: unknown source id"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestIs(t *testing.T) {
	e := New(Timeout, "beginAccess", nil)
	if !Is(e, Timeout) {
		t.Errorf("Is(e, Timeout) = false, want true")
	}
	if Is(e, Fatal) {
		t.Errorf("Is(e, Fatal) = true, want false")
	}
}

func TestKindOf(t *testing.T) {
	wrapped := Wrap(AlsaError, "open", errors.New("device busy"))
	k, ok := KindOf(wrapped)
	if !ok || k != AlsaError {
		t.Errorf("KindOf() = %v, %v, want AlsaError, true", k, ok)
	}

	if _, ok := KindOf(errors.New("plain")); ok {
		t.Errorf("KindOf(plain error) = true, want false")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(Fatal, "op", nil) != nil {
		t.Errorf("Wrap(nil) should return nil")
	}
}
