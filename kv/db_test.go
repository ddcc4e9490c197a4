package kv

import (
	"testing"

	"go.inkwell.dev/mailcore/bitmap"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory(nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSetGetDelete(t *testing.T) {
	db := openTestDB(t)
	key := ValueKey(1, 'M', 7, 0)
	if err := db.Set(key, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	got, err := db.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
	if err := db.Delete(key); err != nil {
		t.Fatal(err)
	}
	got, err = db.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil after delete, got %q", got)
	}
}

func TestNumericMergeAccumulates(t *testing.T) {
	db := openTestDB(t)
	key := DocIDCounterKey(1, 'M')
	for i := 0; i < 3; i++ {
		if err := db.MergeNumeric(key, 1); err != nil {
			t.Fatal(err)
		}
	}
	n, err := db.ReadNumeric(key)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("got %d want 3", n)
	}
}

func TestAllocateIDIsMonotonic(t *testing.T) {
	db := openTestDB(t)
	key := DocIDCounterKey(1, 'M')
	var last uint32
	for i := 0; i < 5; i++ {
		id, err := db.AllocateID(key)
		if err != nil {
			t.Fatal(err)
		}
		if id <= last {
			t.Fatalf("expected strictly increasing ids, got %d after %d", id, last)
		}
		last = id
	}
}

func TestBitmapMergeRoundTrips(t *testing.T) {
	db := openTestDB(t)
	key := BitmapKey(1, 'M', 9, []byte("inbox"))
	delta := bitmap.EncodeBitlist([]bitmap.BitOp{{ID: 1, Set: true}, {ID: 2, Set: true}})
	if err := db.MergeBitmap(key, delta); err != nil {
		t.Fatal(err)
	}
	s, err := db.ReadBitmap(key)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Contains(1) || !s.Contains(2) {
		t.Fatalf("expected both ids, got %v", s.ToArray())
	}

	remove := bitmap.EncodeBitlist([]bitmap.BitOp{{ID: 1, Set: false}})
	if err := db.MergeBitmap(key, remove); err != nil {
		t.Fatal(err)
	}
	s, err = db.ReadBitmap(key)
	if err != nil {
		t.Fatal(err)
	}
	if s.Contains(1) || !s.Contains(2) {
		t.Fatalf("got %v", s.ToArray())
	}
}

func TestCursorIteratesInOrder(t *testing.T) {
	db := openTestDB(t)
	for _, id := range []uint32{3, 1, 2} {
		key := IndexKey(1, 'M', 5, []byte{0}, id)
		if err := db.Set(key, nil); err != nil {
			t.Fatal(err)
		}
	}
	prefix := IndexKeyPrefix(1, 'M', 5)
	cur := db.NewCursor(prefix, nil, Forward)
	defer cur.Close()
	var seen []byte
	for cur.Valid() {
		key := cur.Key()
		seen = append(seen, key[len(key)-1])
		cur.Next()
	}
	if string(seen) != string([]byte{1, 2, 3}) {
		t.Fatalf("got %v", seen)
	}
}
