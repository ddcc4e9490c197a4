package termindex

import (
	"encoding/binary"
	"fmt"
)

// Term is one indexed token occurrence within a part.
type Term struct {
	ID        uint32 // dictionary id of the raw term
	IDStemmed uint32 // dictionary id of the stemmed term
	Offset    uint32 // byte offset into the original field text
	Length    uint8  // byte length of the raw term
}

// Part is the term stream for one (field, sub-part) of a document,
// e.g. the Subject header or the Nth body part.
type Part struct {
	FieldID byte
	PartID  uint32
	Terms   []Term // in ascending Offset order
}

// TermIndex is the full per-document term-index payload: one
// dictionary shared by every part.
type TermIndex struct {
	Dict  *Dict
	Parts []Part
}

// New returns an empty TermIndex with a fresh dictionary.
func New() *TermIndex { return &TermIndex{Dict: NewDict()} }

// Marshal encodes the term index bit-exact per the stored-format
// list: LEB128(fst_len) | fst_bytes | [u32_LE(item_len) | u8(field_id)
// | LEB128(part_id) | LEB128(term_count) | packed_ids |
// packed_offsets | lengths[term_count]]*.
func (ti *TermIndex) Marshal() ([]byte, error) {
	dictBytes := ti.Dict.Marshal()
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(dictBytes)))
	buf := append([]byte{}, tmp[:n]...)
	buf = append(buf, dictBytes...)

	for _, p := range ti.Parts {
		item, err := marshalPart(p)
		if err != nil {
			return nil, err
		}
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(item)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, item...)
	}
	return buf, nil
}

func marshalPart(p Part) ([]byte, error) {
	var tmp [binary.MaxVarintLen64]byte
	buf := []byte{p.FieldID}
	n := binary.PutUvarint(tmp[:], uint64(p.PartID))
	buf = append(buf, tmp[:n]...)
	termCount := len(p.Terms)
	n = binary.PutUvarint(tmp[:], uint64(termCount))
	buf = append(buf, tmp[:n]...)

	ids := make([]uint32, 0, termCount*4)
	for _, t := range p.Terms {
		ids = append(ids, t.ID, t.IDStemmed, t.ID, t.IDStemmed)
	}
	buf = append(buf, PackStream(ids)...)

	offsets := make([]uint32, termCount)
	var prev uint32
	for i, t := range p.Terms {
		if t.Offset < prev {
			return nil, fmt.Errorf("termindex: part %d terms not in ascending offset order", p.PartID)
		}
		offsets[i] = t.Offset - prev
		prev = t.Offset
	}
	buf = append(buf, PackStream(offsets)...)

	for _, t := range p.Terms {
		buf = append(buf, t.Length)
	}
	return buf, nil
}

// Unmarshal decodes a term index previously produced by Marshal.
func Unmarshal(data []byte) (*TermIndex, error) {
	fstLen, c := binary.Uvarint(data)
	if c <= 0 {
		return nil, fmt.Errorf("termindex: corrupt fst length")
	}
	pos := c
	if pos+int(fstLen) > len(data) {
		return nil, fmt.Errorf("termindex: truncated dictionary")
	}
	dict, _, err := UnmarshalDict(data[pos : pos+int(fstLen)])
	if err != nil {
		return nil, err
	}
	pos += int(fstLen)

	var parts []Part
	for pos < len(data) {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("termindex: truncated item length")
		}
		itemLen := binary.LittleEndian.Uint32(data[pos : pos+4])
		pos += 4
		if pos+int(itemLen) > len(data) {
			return nil, fmt.Errorf("termindex: truncated item body")
		}
		part, err := unmarshalPart(data[pos : pos+int(itemLen)])
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
		pos += int(itemLen)
	}
	return &TermIndex{Dict: dict, Parts: parts}, nil
}

func unmarshalPart(item []byte) (Part, error) {
	if len(item) < 1 {
		return Part{}, fmt.Errorf("termindex: empty part item")
	}
	fieldID := item[0]
	p := 1
	partID, c := binary.Uvarint(item[p:])
	if c <= 0 {
		return Part{}, fmt.Errorf("termindex: corrupt part id")
	}
	p += c
	termCount64, c := binary.Uvarint(item[p:])
	if c <= 0 {
		return Part{}, fmt.Errorf("termindex: corrupt term count")
	}
	p += c
	n := int(termCount64)

	ids, consumed, err := UnpackStream(item[p:], n*4)
	if err != nil {
		return Part{}, err
	}
	p += consumed

	offsetDeltas, consumed, err := UnpackStream(item[p:], n)
	if err != nil {
		return Part{}, err
	}
	p += consumed

	if p+n > len(item) {
		return Part{}, fmt.Errorf("termindex: truncated lengths array")
	}
	lengths := item[p : p+n]
	p += n

	terms := make([]Term, n)
	var offset uint32
	for i := 0; i < n; i++ {
		offset += offsetDeltas[i]
		terms[i] = Term{
			ID:        ids[i*4],
			IDStemmed: ids[i*4+1],
			Offset:    offset,
			Length:    lengths[i],
		}
	}
	return Part{FieldID: fieldID, PartID: uint32(partID), Terms: terms}, nil
}
