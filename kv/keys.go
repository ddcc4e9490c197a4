package kv

import "encoding/binary"

// LogPrefix is the one-byte marker ahead of every Logs-family key,
// kept distinct from the Family byte so log keys sort together
// regardless of which Family constant a caller mistakenly passes.
const LogPrefix = 0x4C // 'L'

// ValueKey builds a Values-family key: LEB128(account) | u8(collection)
// | LEB128(doc_id) | u8(field). Bit-exact per the stored-format list.
func ValueKey(account uint32, collection byte, docID uint32, field byte) []byte {
	buf := make([]byte, 0, 1+binary.MaxVarintLen32*2+2)
	buf = append(buf, byte(FamilyValues))
	buf = appendUvarint(buf, uint64(account))
	buf = append(buf, collection)
	buf = appendUvarint(buf, uint64(docID))
	buf = append(buf, field)
	return buf
}

// IndexKey builds an Indexes-family key: u32_BE(account) | u8(collection)
// | u8(field) | sort_bytes | u32_BE(doc_id). Forward iteration yields
// documents in sort order for the field; sortBytes must already be
// encoded so that byte-lexicographic order matches the desired order
// (e.g. big-endian for numeric fields, with a sign-flip for negatives).
func IndexKey(account uint32, collection, field byte, sortBytes []byte, docID uint32) []byte {
	buf := make([]byte, 0, 1+4+1+1+len(sortBytes)+4)
	buf = append(buf, byte(FamilyIndexes))
	buf = appendUint32BE(buf, account)
	buf = append(buf, collection, field)
	buf = append(buf, sortBytes...)
	buf = appendUint32BE(buf, docID)
	return buf
}

// IndexKeyPrefix builds the prefix shared by every key for
// (account, collection, field), the start of a forward range scan.
func IndexKeyPrefix(account uint32, collection, field byte) []byte {
	buf := make([]byte, 0, 1+4+2)
	buf = append(buf, byte(FamilyIndexes))
	buf = appendUint32BE(buf, account)
	buf = append(buf, collection, field)
	return buf
}

// LogKey builds a Logs-family key: u8(LOG_PREFIX) | u8(collection) |
// u64_BE(change_id).
func LogKey(collection byte, changeID uint64) []byte {
	buf := make([]byte, 0, 1+1+8)
	buf = append(buf, LogPrefix, collection)
	buf = appendUint64BE(buf, changeID)
	return buf
}

// LogKeyPrefix builds the prefix for all log entries of a collection.
func LogKeyPrefix(collection byte) []byte {
	return []byte{LogPrefix, collection}
}

// BitmapKey builds a Bitmaps-family key: u32_BE(account) |
// u8(collection) | u8(field) | value_bytes. Not one of the bit-exact
// stored formats (the spec only constrains the bitmap *value*), so
// value_bytes is whatever the caller's field encoding produces (a
// fixed-width hash, a small integer id, or a raw lowercase string for
// address/keyword tags).
func BitmapKey(account uint32, collection, field byte, value []byte) []byte {
	buf := make([]byte, 0, 1+4+2+len(value))
	buf = append(buf, byte(FamilyBitmaps))
	buf = appendUint32BE(buf, account)
	buf = append(buf, collection, field)
	buf = append(buf, value...)
	return buf
}

// DocIDsBitmapKey is the well-known key for the (account, collection)
// document-ids bitmap required by invariant 1.
func DocIDsBitmapKey(account uint32, collection byte) []byte {
	return BitmapKey(account, collection, 0, nil)
}

// DocIDCounterKey is the per-(account,collection) monotonic document-id
// allocator counter, stored as a numeric-merge Values field.
func DocIDCounterKey(account uint32, collection byte) []byte {
	return ValueKey(account, collection, 0, 0xFF)
}

// StateKey is the Values field holding a collection's last-applied
// change_id (its state token), stored alongside the ORM rows.
func StateKey(account uint32, collection byte) []byte {
	return ValueKey(account, collection, 0, 0xFE)
}

// LogCounterKey is the per-collection monotonic change_id allocator.
// Logs are not account-scoped (the stored log key is collection plus
// change_id only), so this counter lives at the reserved account id 0
// rather than per-account.
func LogCounterKey(collection byte) []byte {
	return ValueKey(0, collection, 0, 0xFD)
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func appendUint32BE(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64BE(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}
