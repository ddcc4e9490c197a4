package kv

import (
	"bytes"

	badger "github.com/dgraph-io/badger/v4"
)

// Direction selects forward or reverse iteration order.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

// Cursor is an ordered-range iterator over one family's keyspace. It
// replaces the source's generic iterator-returning-boxed-slices
// pattern (§9): Key/Value read the current badger item directly and
// return copies (KeyCopy/ValueCopy) that the caller owns.
type Cursor struct {
	txn    *badger.Txn
	it     *badger.Iterator
	prefix []byte
	dir    Direction
}

// NewCursor opens a Cursor over all keys with the given prefix,
// starting at start (or at the prefix boundary if start is nil).
// The caller must Close the cursor when done.
func (db *DB) NewCursor(prefix, start []byte, dir Direction) *Cursor {
	txn := db.bdb.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = dir == Reverse
	it := txn.NewIterator(opts)

	seek := start
	if seek == nil {
		seek = prefix
		if dir == Reverse {
			seek = append(append([]byte{}, prefix...), 0xFF)
		}
	}
	it.Seek(seek)

	return &Cursor{txn: txn, it: it, prefix: prefix, dir: dir}
}

// Valid reports whether the cursor currently points at an in-range key.
func (c *Cursor) Valid() bool { return c.it.ValidForPrefix(c.prefix) }

// Key returns a copy of the current key; it stays valid after Next/Close.
func (c *Cursor) Key() []byte { return c.it.Item().KeyCopy(nil) }

// Value returns a copy of the current value.
func (c *Cursor) Value() ([]byte, error) { return c.it.Item().ValueCopy(nil) }

// Next advances the cursor.
func (c *Cursor) Next() { c.it.Next() }

// Close releases the cursor's resources.
func (c *Cursor) Close() {
	c.it.Close()
	c.txn.Discard()
}

// SeekTo repositions the cursor at or after (or, reversed, at or
// before) key.
func (c *Cursor) SeekTo(key []byte) { c.it.Seek(key) }

// HasPrefix reports whether key starts with prefix; a small helper
// range scans use when deciding whether to stop early.
func HasPrefix(key, prefix []byte) bool { return bytes.HasPrefix(key, prefix) }
