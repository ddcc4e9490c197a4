// Package blob implements the content-addressed Blobs column family:
// put/get/get_range/link/unlink/gc over sha256-keyed content. Each
// blob's bytes are written to the KV store in one piece; they are not
// staged through crawshaw.io/iox buffer files.
package blob

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"mime/quotedprintable"

	"crawshaw.io/iox"

	"go.inkwell.dev/mailcore/kv"
)

const (
	subContent byte = 'C'
	subRef     byte = 'R'
)

// Hash is a content address: the sha256 of a blob's bytes.
type Hash [sha256.Size]byte

// Sum computes the Hash of data.
func Sum(data []byte) Hash { return sha256.Sum256(data) }

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

// ParseHash decodes the hex form String returns, the form ORM rows and
// JMAP blobId properties persist a Hash as.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("blob.ParseHash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("blob.ParseHash: want %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Encoding names how a section's bytes are transfer-encoded in the
// underlying blob, so get_range can decode on demand.
type Encoding int

const (
	EncodingNone Encoding = iota
	EncodingQuotedPrintable
	EncodingBase64
)

// Section addresses a decoded sub-range of a blob: "the decoded body
// of part X of message Y" without materializing it ahead of time.
type Section struct {
	OffsetStart int64
	Size        int64
	Encoding    Encoding
}

// Store is the blob store, bound to one kv.DB.
type Store struct {
	db    *kv.DB
	filer *iox.Filer
	logf  func(format string, v ...interface{})
}

// NewStore returns a Store backed by db. The Store keeps filer, but Put
// does not stage writes through it.
func NewStore(db *kv.DB, filer *iox.Filer, logf func(format string, v ...interface{})) *Store {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Store{db: db, filer: filer, logf: logf}
}

func contentKey(h Hash) []byte {
	buf := make([]byte, 0, 2+len(h))
	buf = append(buf, byte(kv.FamilyBlobs), subContent)
	return append(buf, h[:]...)
}

// RefKey returns the presence-row key for (hash, account, collection,
// docID), exported so callers building a multi-family kv.Batch (e.g.
// the mutation engine) can stage the link as part of one atomic write
// instead of calling Link separately.
func RefKey(h Hash, account uint32, collection byte, docID uint32) []byte {
	return refKey(h, account, collection, docID)
}

func refKey(h Hash, account uint32, collection byte, docID uint32) []byte {
	buf := make([]byte, 0, 2+len(h)+9)
	buf = append(buf, byte(kv.FamilyBlobs), subRef)
	buf = append(buf, h[:]...)
	var acctBuf [4]byte
	for i := 0; i < 4; i++ {
		acctBuf[i] = byte(account >> uint(24-8*i))
	}
	buf = append(buf, acctBuf[:]...)
	buf = append(buf, collection)
	var docBuf [4]byte
	for i := 0; i < 4; i++ {
		docBuf[i] = byte(docID >> uint(24-8*i))
	}
	return append(buf, docBuf[:]...)
}

func refPrefix(h Hash) []byte {
	buf := make([]byte, 0, 2+len(h))
	buf = append(buf, byte(kv.FamilyBlobs), subRef)
	return append(buf, h[:]...)
}

// Put stores data (idempotent: re-putting identical bytes is a no-op
// beyond the hash computation) and returns its content hash.
func (s *Store) Put(data []byte) (Hash, error) {
	h := Sum(data)
	key := contentKey(h)
	existing, err := s.db.Get(key)
	if err != nil {
		return h, fmt.Errorf("blob.Put: %w", err)
	}
	if existing != nil {
		return h, nil
	}
	if err := s.db.Set(key, data); err != nil {
		return h, fmt.Errorf("blob.Put: %w", err)
	}
	return h, nil
}

// Get returns the full bytes stored under hash, or (nil, nil) if
// absent.
func (s *Store) Get(h Hash) ([]byte, error) {
	data, err := s.db.Get(contentKey(h))
	if err != nil {
		return nil, fmt.Errorf("blob.Get: %w", err)
	}
	return data, nil
}

// GetRange fetches sec's decoded bytes from the blob at hash. Encoding
// is applied after slicing: the stored bytes between OffsetStart and
// OffsetStart+Size are exactly the still-encoded wire bytes (e.g. a
// quoted-printable or base64 MIME part body).
func (s *Store) GetRange(h Hash, sec Section) ([]byte, error) {
	raw, err := s.Get(h)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	end := sec.OffsetStart + sec.Size
	if sec.OffsetStart < 0 || end > int64(len(raw)) {
		return nil, fmt.Errorf("blob.GetRange: section out of range (%d..%d) of %d bytes", sec.OffsetStart, end, len(raw))
	}
	slice := raw[sec.OffsetStart:end]
	switch sec.Encoding {
	case EncodingNone:
		return slice, nil
	case EncodingQuotedPrintable:
		return io.ReadAll(quotedprintable.NewReader(bytes.NewReader(slice)))
	case EncodingBase64:
		return io.ReadAll(base64.NewDecoder(base64.StdEncoding, bytes.NewReader(slice)))
	default:
		return nil, fmt.Errorf("blob.GetRange: unknown encoding %d", sec.Encoding)
	}
}

// Link records that (account, collection, docID) references hash,
// satisfying invariant 4 (a live document's blob has at least one
// presence row).
func (s *Store) Link(h Hash, account uint32, collection byte, docID uint32) error {
	if err := s.db.Set(refKey(h, account, collection, docID), []byte{1}); err != nil {
		return fmt.Errorf("blob.Link: %w", err)
	}
	return nil
}

// Unlink removes the (account, collection, docID) presence row for
// hash. Once no presence rows remain, GC can reclaim the blob.
func (s *Store) Unlink(h Hash, account uint32, collection byte, docID uint32) error {
	if err := s.db.Delete(refKey(h, account, collection, docID)); err != nil {
		return fmt.Errorf("blob.Unlink: %w", err)
	}
	return nil
}

// Referenced reports whether hash has at least one presence row.
func (s *Store) Referenced(h Hash) (bool, error) {
	cur := s.db.NewCursor(refPrefix(h), nil, kv.Forward)
	defer cur.Close()
	return cur.Valid(), nil
}

// GC scans every stored blob and deletes those with zero presence
// rows, returning the count removed.
func (s *Store) GC() (int, error) {
	prefix := []byte{byte(kv.FamilyBlobs), subContent}
	cur := s.db.NewCursor(prefix, nil, kv.Forward)
	defer cur.Close()

	var toDelete [][]byte
	for cur.Valid() {
		key := cur.Key()
		var h Hash
		copy(h[:], key[len(prefix):])
		referenced, err := s.Referenced(h)
		if err != nil {
			return 0, err
		}
		if !referenced {
			toDelete = append(toDelete, append([]byte{}, key...))
		}
		cur.Next()
	}
	for _, key := range toDelete {
		if err := s.db.Delete(key); err != nil {
			return 0, fmt.Errorf("blob.GC: %w", err)
		}
	}
	s.logf("blob.GC: removed %d unreferenced blobs", len(toDelete))
	return len(toDelete), nil
}
