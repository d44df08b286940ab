package errcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodesAreStableStrings(t *testing.T) {
	cases := map[string]error{
		"busy":           Busy,
		"allocation":     Allocation,
		"duplicate_name": DuplicateName,
		"unknown_state":  UnknownState,
		"null_argument":  NullArgument,
		"destroyed":      Destroyed,
		"overflow":       Overflow,
		"pec_mismatch":   PEC,
	}
	for want, e := range cases {
		if e == nil || e.Error() != want {
			t.Fatalf("code %q mismatch: got %#v", want, e)
		}
	}
}

func TestE_IsMatchesCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(DuplicateName, "add_state", `"Idle"`))
	if !errors.Is(err, DuplicateName) {
		t.Fatalf("errors.Is should match the code through wrapping")
	}
	if errors.Is(err, UnknownState) {
		t.Fatalf("errors.Is matched the wrong code")
	}
	if got := Of(errors.Unwrap(err)); got != DuplicateName {
		t.Fatalf("Of: got %q", got)
	}
}

func TestE_ErrorText(t *testing.T) {
	cause := errors.New("spi stalled")
	e := Wrap(Timeout, "read_cells", cause)
	if e.Error() != "read_cells: timeout: spi stalled" {
		t.Fatalf("unexpected text %q", e.Error())
	}
	if !errors.Is(e, cause) {
		t.Fatalf("cause should unwrap")
	}
	if Of(nil) != OK || Of(cause) != Error || Of(Overflow) != Overflow {
		t.Fatalf("Of fallbacks wrong")
	}
}
