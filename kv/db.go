package kv

import (
	"encoding/binary"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"go.inkwell.dev/mailcore/bitmap"
)

// DB is the storage engine: a badger instance plus the two registered
// merge operators of §4.1. Construction is the only place the merge
// functions are wired in, matching the "construction-time capability
// set" redesign of the source's callback-registered merge operators.
type DB struct {
	bdb          *badger.DB
	numericMerge *badger.MergeOperator
	bitmapMerge  *badger.MergeOperator
	logf         func(format string, v ...interface{})
}

// Open opens (creating if necessary) a badger-backed DB at dir.
func Open(dir string, logf func(format string, v ...interface{})) (*DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	return open(opts, logf)
}

// OpenInMemory opens an ephemeral in-memory DB, the badger equivalent
// of the teacher's `sqlite.OpenConn(":memory:")` test idiom.
func OpenInMemory(logf func(format string, v ...interface{})) (*DB, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	return open(opts, logf)
}

func open(opts badger.Options, logf func(format string, v ...interface{})) (*DB, error) {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kv.Open: %w", err)
	}
	db := &DB{bdb: bdb, logf: logf}
	db.numericMerge = bdb.GetMergeOperator([]byte{byte(FamilyValues)}, numericMergeFunc, 200*time.Millisecond)
	db.bitmapMerge = bdb.GetMergeOperator([]byte{byte(FamilyBitmaps)}, bitmapMergeFunc, 200*time.Millisecond)
	return db, nil
}

// Close stops the merge operators and the underlying badger instance.
func (db *DB) Close() error {
	db.numericMerge.Stop()
	db.bitmapMerge.Stop()
	return db.bdb.Close()
}

// Get fetches key, returning (nil, nil) if it is absent.
func (db *DB) Get(key []byte) ([]byte, error) {
	var out []byte
	err := db.bdb.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("kv.Get: %w", err)
	}
	return out, nil
}

// Set writes key=value as a single-operation batch.
func (db *DB) Set(key, value []byte) error {
	b := db.NewBatch()
	b.Set(key, value)
	return b.Commit()
}

// Delete removes key as a single-operation batch.
func (db *DB) Delete(key []byte) error {
	b := db.NewBatch()
	b.Delete(key)
	return b.Commit()
}

// MergeNumeric adds delta (a 64-bit signed counter delta) to the
// value at key via the registered numeric merge operator.
func (db *DB) MergeNumeric(key []byte, delta int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(delta))
	if err := db.numericMerge.Add(key, buf[:]); err != nil {
		return fmt.Errorf("kv.MergeNumeric: %w", err)
	}
	return nil
}

// ReadNumeric returns the current accumulated value of a numeric
// merge key, 0 if absent.
func (db *DB) ReadNumeric(key []byte) (int64, error) {
	v, err := db.numericMerge.Get(key)
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("kv.ReadNumeric: %w", err)
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("kv.ReadNumeric: corrupt counter at key")
	}
	return int64(binary.LittleEndian.Uint64(v)), nil
}

// MergeBitmap applies a tagged bitmap delta (see package bitmap) to
// key via the registered bitmap merge operator.
func (db *DB) MergeBitmap(key, delta []byte) error {
	if err := db.bitmapMerge.Add(key, delta); err != nil {
		return fmt.Errorf("kv.MergeBitmap: %w", err)
	}
	return nil
}

// ReadBitmap returns the accumulated bitmap at key, or an empty Set
// if absent.
func (db *DB) ReadBitmap(key []byte) (*bitmap.Set, error) {
	v, err := db.bitmapMerge.Get(key)
	if err == badger.ErrKeyNotFound {
		return bitmap.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv.ReadBitmap: %w", err)
	}
	s, err := bitmap.ParseValue(v)
	if err != nil {
		return nil, fmt.Errorf("kv.ReadBitmap: %w", err)
	}
	return s, nil
}

// AllocateID returns the next monotonic document id for key
// (typically DocIDCounterKey(account, collection)), starting at 1.
func (db *DB) AllocateID(key []byte) (uint32, error) {
	if err := db.MergeNumeric(key, 1); err != nil {
		return 0, err
	}
	n, err := db.ReadNumeric(key)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

func numericMergeFunc(existing, delta []byte) []byte {
	var sum int64
	if len(existing) == 8 {
		sum = int64(binary.LittleEndian.Uint64(existing))
	}
	if len(delta) == 8 {
		sum += int64(binary.LittleEndian.Uint64(delta))
	}
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, uint64(sum))
	return out
}

func bitmapMergeFunc(existing, delta []byte) []byte {
	return bitmap.Merge(existing, [][]byte{delta})
}
