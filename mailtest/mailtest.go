// Package mailtest provides an in-memory test harness, the badger
// equivalent of the teacher's sqlite.OpenConn(":memory:") idiom: open
// an ephemeral instance per test, no cleanup required beyond Close.
package mailtest

import (
	"context"
	"testing"

	"crawshaw.io/iox"

	"go.inkwell.dev/mailcore/kv"
)

// DB opens an in-memory kv.DB for t, closing it automatically on
// cleanup.
func DB(t testing.TB) *kv.DB {
	t.Helper()
	db, err := kv.OpenInMemory(nil)
	if err != nil {
		t.Fatalf("mailtest.DB: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("mailtest.DB: close: %v", err)
		}
	})
	return db
}

// Filer returns an iox.Filer backed by the OS temp directory, cleaned
// up automatically, for tests that stage buffer files.
func Filer(t testing.TB) *iox.Filer {
	t.Helper()
	filer := iox.NewFiler(0)
	t.Cleanup(func() { filer.Shutdown(context.Background()) })
	return filer
}
