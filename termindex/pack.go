// Package termindex implements the per-document full-text term index:
// a byte-dictionary of term id
// to term bytes (standing in for a minimal FST, built once per
// document and immutable thereafter, in the same spirit as bleve's
// scorch segment dictionaries) plus bitpacked integer streams for
// term ids, stemmed ids, and byte offsets.
package termindex

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// PackStream encodes values using the block scheme of §4.2/§6: blocks
// of 256 use a 256-lane bit-packer, 128 a 128-lane, 32 a 32-lane, and
// a tail smaller than 32 falls back to LEB128 (encoding/binary's
// unsigned varint, which *is* LEB128). Block size is never recorded
// explicitly — the decoder derives it the same way the encoder does,
// from how many values remain.
func PackStream(values []uint32) []byte {
	var buf []byte
	i, n := 0, len(values)
	for n-i >= 256 {
		buf = append(buf, packBlock(values[i:i+256])...)
		i += 256
	}
	for n-i >= 128 {
		buf = append(buf, packBlock(values[i:i+128])...)
		i += 128
	}
	for n-i >= 32 {
		buf = append(buf, packBlock(values[i:i+32])...)
		i += 32
	}
	var tmp [binary.MaxVarintLen32]byte
	for ; i < n; i++ {
		c := binary.PutUvarint(tmp[:], uint64(values[i]))
		buf = append(buf, tmp[:c]...)
	}
	return buf
}

// UnpackStream decodes n values previously encoded by PackStream,
// returning the values and the number of bytes consumed.
func UnpackStream(data []byte, n int) ([]uint32, int, error) {
	out := make([]uint32, 0, n)
	pos, remaining := 0, n
	for remaining >= 256 {
		vals, c, err := unpackBlock(data[pos:], 256)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, vals...)
		pos += c
		remaining -= 256
	}
	for remaining >= 128 {
		vals, c, err := unpackBlock(data[pos:], 128)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, vals...)
		pos += c
		remaining -= 128
	}
	for remaining >= 32 {
		vals, c, err := unpackBlock(data[pos:], 32)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, vals...)
		pos += c
		remaining -= 32
	}
	for ; remaining > 0; remaining-- {
		v, c := binary.Uvarint(data[pos:])
		if c <= 0 {
			return nil, 0, fmt.Errorf("termindex: corrupt LEB128 tail")
		}
		out = append(out, uint32(v))
		pos += c
	}
	return out, pos, nil
}

// packBlock writes a 1-byte num_bits header followed by lane values
// bits packed lane count wide.
func packBlock(vals []uint32) []byte {
	var max uint32
	for _, v := range vals {
		if v > max {
			max = v
		}
	}
	numBits := bitsNeeded(max)
	out := make([]byte, 1+laneByteLen(len(vals), numBits))
	out[0] = byte(numBits)
	packLane(out[1:], vals, numBits)
	return out
}

func unpackBlock(data []byte, lanes int) ([]uint32, int, error) {
	if len(data) < 1 {
		return nil, 0, fmt.Errorf("termindex: truncated block header")
	}
	numBits := int(data[0])
	if numBits > 32 {
		return nil, 0, fmt.Errorf("termindex: invalid num_bits %d", numBits)
	}
	byteLen := laneByteLen(lanes, numBits)
	if len(data) < 1+byteLen {
		return nil, 0, fmt.Errorf("termindex: truncated block body")
	}
	vals := unpackLane(data[1:1+byteLen], lanes, numBits)
	return vals, 1 + byteLen, nil
}

func bitsNeeded(max uint32) int {
	if max == 0 {
		return 0
	}
	return 32 - bits.LeadingZeros32(max)
}

func laneByteLen(lanes, numBits int) int {
	return (lanes*numBits + 7) / 8
}

func packLane(out []byte, vals []uint32, numBits int) {
	if numBits == 0 {
		return
	}
	bitPos := 0
	for _, v := range vals {
		for b := 0; b < numBits; b++ {
			if v&(1<<uint(b)) != 0 {
				out[bitPos/8] |= 1 << uint(bitPos%8)
			}
			bitPos++
		}
	}
}

func unpackLane(data []byte, lanes, numBits int) []uint32 {
	out := make([]uint32, lanes)
	if numBits == 0 {
		return out
	}
	bitPos := 0
	for i := 0; i < lanes; i++ {
		var v uint32
		for b := 0; b < numBits; b++ {
			byteIdx, bitIdx := bitPos/8, uint(bitPos%8)
			if data[byteIdx]&(1<<bitIdx) != 0 {
				v |= 1 << uint(b)
			}
			bitPos++
		}
		out[i] = v
	}
	return out
}
