package mailerr

import (
	"errors"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := New(NotFound, "no such document")
	if !Is(err, NotFound) {
		t.Fatal("Is(NotFound) = false, want true")
	}
	if Is(err, Forbidden) {
		t.Fatal("Is(Forbidden) = true, want false")
	}
}

func TestIsRejectsPlainError(t *testing.T) {
	if Is(errors.New("boom"), NotFound) {
		t.Fatal("Is on a plain error returned true")
	}
}

func TestInvalidPropertyMessage(t *testing.T) {
	err := InvalidProperty("mailboxIds", "must not be empty")
	if err.Kind != InvalidProperties {
		t.Fatalf("Kind = %v, want InvalidProperties", err.Kind)
	}
	want := "InvalidProperties(mailboxIds): must not be empty"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(InternalError, "writing batch", cause)
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is did not find the wrapped cause")
	}
}
