// Package kv wraps badger as the column-family key-value engine: a
// single physical keyspace with a one-byte family prefix standing in
// for the five logical column families, batched atomic writes, and
// two registered merge operators (numeric sum, bitmap accumulate).
package kv

// Family is the one-byte prefix that realizes a logical column family
// inside badger's single keyspace, the same way the pack's badger-based
// chain index separates tables by a key prefix byte.
type Family byte

const (
	FamilyBitmaps Family = 'B'
	FamilyValues  Family = 'V'
	FamilyIndexes Family = 'I'
	FamilyBlobs   Family = 'b'
	FamilyLogs    Family = 'L'
)

func (f Family) String() string {
	switch f {
	case FamilyBitmaps:
		return "Bitmaps"
	case FamilyValues:
		return "Values"
	case FamilyIndexes:
		return "Indexes"
	case FamilyBlobs:
		return "Blobs"
	case FamilyLogs:
		return "Logs"
	default:
		return "Family(?)"
	}
}
