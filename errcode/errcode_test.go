package errcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodesAreStableStrings(t *testing.T) {
	cases := map[string]error{
		"ok":              OK,
		"field_not_found": FieldNotFound,
		"bus_transfer":    BusTransfer,
		"read_only":       ReadOnly,
		"not_ready":       NotReady,
		"invalid_params":  InvalidParams,
		"busy":            Busy,
		"timeout":         Timeout,
		"closed":          Closed,
		"error":           Error,
	}
	for want, e := range cases {
		if e == nil || e.Error() != want {
			t.Fatalf("error %q mismatch: got %#v", want, e)
		}
	}
}

func TestWrapMatchesCodeAndCause(t *testing.T) {
	cause := errors.New("nack")
	err := Wrap(BusTransfer, "read_regs", "reg 0x22", cause)

	if !errors.Is(err, BusTransfer) {
		t.Fatalf("errors.Is(BusTransfer) = false for %v", err)
	}
	if errors.Is(err, FieldNotFound) {
		t.Fatalf("bus error must not match FieldNotFound")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not reachable through Unwrap")
	}
	if got, want := err.Error(), "read_regs: bus_transfer: reg 0x22: nack"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestOf(t *testing.T) {
	if Of(nil) != OK {
		t.Fatal("nil should map to OK")
	}
	if Of(Timeout) != Timeout {
		t.Fatal("bare code should map to itself")
	}
	wrapped := fmt.Errorf("configure: %w", Wrap(FieldNotFound, "write_field", "gas_wait_12", nil))
	if Of(wrapped) != FieldNotFound {
		t.Fatalf("Of(%v) = %v", wrapped, Of(wrapped))
	}
	if Of(errors.New("x")) != Error {
		t.Fatal("unknown errors should map to Error")
	}
}
