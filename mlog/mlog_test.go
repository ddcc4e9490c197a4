package mlog

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestOrDiscardReplacesNil(t *testing.T) {
	if got := OrDiscard(nil); got == nil {
		t.Fatal("OrDiscard(nil) returned nil")
	}
	called := false
	f := Func(func(string, ...interface{}) { called = true })
	OrDiscard(f)("x")
	if !called {
		t.Fatal("OrDiscard did not return the supplied Func")
	}
}

func TestPrefixedAddsPrefix(t *testing.T) {
	var got string
	f := Func(func(format string, v ...interface{}) { got = format })
	Prefixed(f, "import: ")("doc=%d", 1)
	if got != "import: doc=%d" {
		t.Fatalf("format = %q, want prefixed", got)
	}
}

func TestPrefixedNilBase(t *testing.T) {
	// Should not panic even though the base func is nil.
	Prefixed(nil, "x: ")("hello")
}

func TestLogStringIncludesFields(t *testing.T) {
	l := Log{
		Where:    "store.ImportMessage",
		What:     "import",
		When:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration: 5 * time.Millisecond,
		Err:      errors.New("boom"),
		Data:     map[string]interface{}{"account": 1},
	}
	s := l.String()
	for _, want := range []string{`"where": "store.ImportMessage"`, `"what": "import"`, `"err": "boom"`, `"account":1`} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %s, missing %q", s, want)
		}
	}
}
