package alert

import (
	"errors"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("mac mismatch")
	err := Fatal(DescBadRecordMAC, cause)

	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is(err, cause) = false, want true")
	}
	if err.Level != LevelFatal {
		t.Errorf("Level = %v, want fatal", err.Level)
	}
}

func TestFatalDefaultsToSentinel(t *testing.T) {
	err := Fatal(DescHandshakeFailure, nil)
	if !errors.Is(err, ErrHandshakeFailure) {
		t.Fatalf("Fatal(desc, nil) should wrap the description's sentinel")
	}
}

func TestWarnLevel(t *testing.T) {
	err := Warn(DescCloseNotify, nil)
	if err.Level != LevelWarning {
		t.Errorf("Level = %v, want warning", err.Level)
	}
	if !errors.Is(err, ErrCloseNotify) {
		t.Errorf("Warn(close_notify) should wrap ErrCloseNotify")
	}
}

func TestIsAsReExports(t *testing.T) {
	err := Fatal(DescRecordOverflow, nil)

	if !Is(err, ErrRecordOverflow) {
		t.Fatalf("Is(err, ErrRecordOverflow) = false, want true")
	}
	if Is(err, ErrBadRecordMAC) {
		t.Fatalf("Is should not match an unrelated sentinel")
	}

	var ae *Error
	if !As(err, &ae) {
		t.Fatalf("As(err, **Error) = false, want true")
	}
	if ae.Description != DescRecordOverflow {
		t.Errorf("Description = %v, want record_overflow", ae.Description)
	}
}

func TestDescriptionString(t *testing.T) {
	if DescBadRecordMAC.String() != "bad_record_mac" {
		t.Errorf("unexpected String(): %s", DescBadRecordMAC.String())
	}
	if Description(255).String() != "unknown" {
		t.Errorf("unknown description should stringify to \"unknown\"")
	}
}
