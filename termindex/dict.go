package termindex

import (
	"encoding/binary"
	"fmt"
)

// Dict is the per-document term dictionary: a byte-dictionary from
// term bytes to a 32-bit term id unique within the document, built
// once during indexing and read-only thereafter. It plays the role
// the FST plays in §4.2 without requiring a full minimal-FST builder;
// lookups by id are O(1), lookups by term bytes are a map probe after
// Unmarshal rebuilds the index.
type Dict struct {
	terms []string
	index map[string]uint32
}

// NewDict returns an empty, writable Dict.
func NewDict() *Dict { return &Dict{index: make(map[string]uint32)} }

// ID returns term's id, allocating a new one if term hasn't been seen.
func (d *Dict) ID(term string) uint32 {
	if id, ok := d.index[term]; ok {
		return id
	}
	id := uint32(len(d.terms))
	d.terms = append(d.terms, term)
	d.index[term] = id
	return id
}

// Lookup returns term's id without allocating one.
func (d *Dict) Lookup(term string) (uint32, bool) {
	id, ok := d.index[term]
	return id, ok
}

// Term returns the term bytes for id.
func (d *Dict) Term(id uint32) (string, bool) {
	if int(id) < len(d.terms) {
		return d.terms[id], true
	}
	return "", false
}

// Len returns the number of distinct terms.
func (d *Dict) Len() int { return len(d.terms) }

// Marshal encodes the dictionary: LEB128(term_count) then, per term in
// id order, LEB128(len)+bytes.
func (d *Dict) Marshal() []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(d.terms)))
	buf := append([]byte{}, tmp[:n]...)
	for _, t := range d.terms {
		n := binary.PutUvarint(tmp[:], uint64(len(t)))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, t...)
	}
	return buf
}

// UnmarshalDict decodes a Dict from the head of data, returning the
// number of bytes consumed.
func UnmarshalDict(data []byte) (*Dict, int, error) {
	count, c := binary.Uvarint(data)
	if c <= 0 {
		return nil, 0, fmt.Errorf("termindex: corrupt dict term count")
	}
	pos := c
	d := NewDict()
	for i := uint64(0); i < count; i++ {
		l, c := binary.Uvarint(data[pos:])
		if c <= 0 {
			return nil, 0, fmt.Errorf("termindex: corrupt dict entry length")
		}
		pos += c
		if pos+int(l) > len(data) {
			return nil, 0, fmt.Errorf("termindex: truncated dict entry")
		}
		term := string(data[pos : pos+int(l)])
		pos += int(l)
		d.terms = append(d.terms, term)
		d.index[term] = uint32(len(d.terms) - 1)
	}
	return d, pos, nil
}
