package query

import (
	"bytes"

	"go.inkwell.dev/mailcore/bitmap"
	"go.inkwell.dev/mailcore/kv"
)

// Comparator orders a result set, per spec.md §4.7: a field comparator
// iterates the matching Indexes range; a document-set comparator
// partitions by membership in a reference bitmap (used for queries
// like "messages I've starred come first"). sort returns ids reordered
// plus, for each returned id, the sort key it was ordered by — the
// key lets sortResult detect which adjacent docs this comparator left
// tied, so the next comparator in the chain only reorders within those
// ties rather than across the whole result.
type Comparator interface {
	sort(ctx *evalContext, ids []uint32) (ordered []uint32, keys [][]byte, err error)
}

// FieldComparator orders by the Indexes column family for Field,
// ascending unless Desc.
type FieldComparator struct {
	Field byte
	Desc  bool
}

func (c FieldComparator) sort(ctx *evalContext, ids []uint32) ([]uint32, [][]byte, error) {
	members := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		members[id] = true
	}

	prefix := kv.IndexKeyPrefix(ctx.account, byte(ctx.coll), c.Field)
	dir := kv.Forward
	if c.Desc {
		dir = kv.Reverse
	}
	cur := ctx.db.NewCursor(prefix, nil, dir)
	defer cur.Close()

	var ordered []uint32
	var keys [][]byte
	for cur.Valid() && len(ordered) < len(members) {
		sortBytes, docID, err := splitIndexKey(prefix, cur.Key())
		if err != nil {
			return nil, nil, err
		}
		if members[docID] {
			ordered = append(ordered, docID)
			keys = append(keys, append([]byte{}, sortBytes...))
		}
		cur.Next()
	}
	// Documents with no Indexes row for this field (never indexed
	// under it) sort last, grouped together under a nil key.
	if len(ordered) < len(ids) {
		seen := make(map[uint32]bool, len(ordered))
		for _, id := range ordered {
			seen[id] = true
		}
		for _, id := range ids {
			if !seen[id] {
				ordered = append(ordered, id)
				keys = append(keys, nil)
			}
		}
	}
	return ordered, keys, nil
}

// DocumentSetComparator partitions a group into members of Set first
// (or last, if Desc).
type DocumentSetComparator struct {
	Set  *bitmap.Set
	Desc bool
}

func (c DocumentSetComparator) sort(ctx *evalContext, ids []uint32) ([]uint32, [][]byte, error) {
	inKey, outKey := []byte{1}, []byte{0}
	if c.Desc {
		inKey, outKey = []byte{0}, []byte{1}
	}

	var in, out []uint32
	for _, id := range ids {
		if c.Set.Contains(id) {
			in = append(in, id)
		} else {
			out = append(out, id)
		}
	}

	ordered := append(append([]uint32{}, in...), out...)
	keys := make([][]byte, 0, len(ordered))
	for range in {
		keys = append(keys, inKey)
	}
	for range out {
		keys = append(keys, outKey)
	}
	if c.Desc {
		ordered = append(append([]uint32{}, out...), in...)
		keys = keys[:0]
		for range out {
			keys = append(keys, outKey)
		}
		for range in {
			keys = append(keys, inKey)
		}
	}
	return ordered, keys, nil
}

// sortResult orders candidates by the comparator chain. Each
// comparator only reorders within the runs of adjacent documents the
// prior comparator left tied (an identical sort key); outside those
// runs the prior order is final.
func sortResult(ctx *evalContext, candidates *bitmap.Set, comparators []Comparator) ([]uint32, error) {
	ordered := candidates.ToArray() // ascending doc id: the default/fallback order
	if len(comparators) == 0 {
		return ordered, nil
	}
	keys := make([][]byte, len(ordered)) // all nil: the whole set starts as one tie run

	for _, c := range comparators {
		var newOrdered []uint32
		var newKeys [][]byte

		i := 0
		for i < len(ordered) {
			j := i + 1
			for j < len(ordered) && bytes.Equal(keys[j], keys[i]) {
				j++
			}
			run := ordered[i:j]
			if len(run) == 1 {
				newOrdered = append(newOrdered, run[0])
				newKeys = append(newKeys, keys[i])
			} else {
				subOrdered, subKeys, err := c.sort(ctx, run)
				if err != nil {
					return nil, err
				}
				for k, id := range subOrdered {
					newOrdered = append(newOrdered, id)
					newKeys = append(newKeys, joinKey(keys[i], subKeys[k]))
				}
			}
			i = j
		}
		ordered, keys = newOrdered, newKeys
	}
	return ordered, nil
}

func joinKey(prev, next []byte) []byte {
	out := make([]byte, 0, len(prev)+1+len(next))
	out = append(out, prev...)
	out = append(out, 0)
	return append(out, next...)
}
