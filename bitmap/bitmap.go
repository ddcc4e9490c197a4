// Package bitmap wraps roaring bitmaps as the document-id set
// representation used throughout the storage engine, and implements
// the tagged wire format the KV engine's bitmap merge operator and the
// Bitmaps column family both read and write.
package bitmap

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/RoaringBitmap/roaring"
)

// Wire tags, bit-exact per the stored-format list: one byte ahead of
// either a serialized roaring bitmap or a LEB128 bitlist stream.
const (
	TagBitmap  byte = 0x01
	TagBitlist byte = 0x02
)

// Set is a 32-bit document-id set backed by a roaring bitmap.
type Set struct {
	bm *roaring.Bitmap
}

// New returns an empty Set.
func New() *Set { return &Set{bm: roaring.New()} }

// FromInts returns a Set containing exactly ids.
func FromInts(ids ...uint32) *Set {
	s := New()
	s.bm.AddMany(ids)
	return s
}

// Add sets id in the set.
func (s *Set) Add(id uint32) { s.bm.Add(id) }

// Remove clears id from the set.
func (s *Set) Remove(id uint32) { s.bm.Remove(id) }

// Contains reports whether id is a member.
func (s *Set) Contains(id uint32) bool { return s.bm.Contains(id) }

// Cardinality returns the number of members.
func (s *Set) Cardinality() uint64 { return s.bm.GetCardinality() }

// ToArray returns the members in ascending order.
func (s *Set) ToArray() []uint32 { return s.bm.ToArray() }

// Clone returns an independent copy.
func (s *Set) Clone() *Set { return &Set{bm: s.bm.Clone()} }

// And returns the intersection of s and other.
func (s *Set) And(other *Set) *Set { return &Set{bm: roaring.And(s.bm, other.bm)} }

// Or returns the union of s and other.
func (s *Set) Or(other *Set) *Set { return &Set{bm: roaring.Or(s.bm, other.bm)} }

// AndNot returns the members of s that are not in other.
func (s *Set) AndNot(other *Set) *Set { return &Set{bm: roaring.AndNot(s.bm, other.bm)} }

// Iterator returns an ascending iterator over the set's members.
func (s *Set) Iterator() roaring.IntIterable { return s.bm.Iterator() }

// MarshalValue encodes the Set as a tagged Bitmaps-family value:
// TagBitmap followed by the roaring bitmap's own serialization.
func (s *Set) MarshalValue() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(TagBitmap)
	if _, err := s.bm.WriteTo(buf); err != nil {
		return nil, fmt.Errorf("bitmap.MarshalValue: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseValue decodes a tagged Bitmaps-family value (either a full
// bitmap or a bitlist) into a Set. A bitlist is replayed in order:
// each entry toggles membership per its set/clear bit.
func ParseValue(data []byte) (*Set, error) {
	if len(data) == 0 {
		return New(), nil
	}
	tag, body := data[0], data[1:]
	switch tag {
	case TagBitmap:
		bm := roaring.New()
		if _, err := bm.ReadFrom(bytes.NewReader(body)); err != nil {
			return nil, fmt.Errorf("bitmap.ParseValue: %w", err)
		}
		return &Set{bm: bm}, nil
	case TagBitlist:
		s := New()
		applyBitlist(s, body)
		return s, nil
	default:
		return nil, fmt.Errorf("bitmap.ParseValue: unknown tag byte 0x%02x", tag)
	}
}

// BitOp is one entry of a bitlist delta: set or clear a single id.
type BitOp struct {
	ID  uint32
	Set bool
}

// EncodeBitlist builds a tagged bitlist delta: TagBitlist followed by
// LEB128((id<<1)|set_bit) for each op, in order. Bitlist deltas let a
// hot tag key accumulate writes without a read-modify-write of the
// full bitmap; the merge operator folds them in lazily.
func EncodeBitlist(ops []BitOp) []byte {
	buf := make([]byte, 0, 1+len(ops)*5)
	buf = append(buf, TagBitlist)
	var tmp [binary.MaxVarintLen64]byte
	for _, op := range ops {
		v := uint64(op.ID) << 1
		if op.Set {
			v |= 1
		}
		n := binary.PutUvarint(tmp[:], v)
		buf = append(buf, tmp[:n]...)
	}
	return buf
}

func applyBitlist(s *Set, body []byte) {
	for len(body) > 0 {
		v, n := binary.Uvarint(body)
		if n <= 0 {
			return
		}
		body = body[n:]
		id := uint32(v >> 1)
		if v&1 == 1 {
			s.Add(id)
		} else {
			s.Remove(id)
		}
	}
}

// Merge is the bitmap merge operator's (existing, deltas) -> new
// contract: bitmap operands are OR'd into the running accumulator;
// bitlist operands apply their per-id set/clear ops against it. It
// returns nil (fail-closed) if existing or a delta cannot be parsed,
// which the caller surfaces as corruption on the next read.
func Merge(existing []byte, deltas [][]byte) []byte {
	acc := New()
	if len(existing) > 0 {
		s, err := ParseValue(existing)
		if err != nil {
			return nil
		}
		acc = s
	}
	for _, d := range deltas {
		if len(d) == 0 {
			continue
		}
		switch d[0] {
		case TagBitmap:
			s, err := ParseValue(d)
			if err != nil {
				return nil
			}
			acc = acc.Or(s)
		case TagBitlist:
			applyBitlist(acc, d[1:])
		default:
			return nil
		}
	}
	if acc.Cardinality() == 0 {
		return nil // compaction filter: empty bitmaps are removed
	}
	out, err := acc.MarshalValue()
	if err != nil {
		return nil
	}
	return out
}
