package query

import (
	"encoding/binary"

	"go.inkwell.dev/mailcore/bitmap"
	"go.inkwell.dev/mailcore/collection"
	"go.inkwell.dev/mailcore/kv"
)

// Query is one query/queryChanges request, scoped to a single
// account and collection, per spec.md §4.7.
type Query struct {
	Account    uint32
	Collection collection.ID
	Filter     Filter
	Sort       []Comparator

	Position     int
	Anchor       *uint32
	AnchorOffset int
	Limit        int // 0 means unbounded

	CalculateTotal  bool
	CollapseThreads bool // only meaningful for collection.Mail
}

// Result is the outcome of running a Query.
type Result struct {
	IDs   []uint32
	Total int // only populated when Query.CalculateTotal is set
}

// Execute evaluates q's filter tree, orders the matches, and applies
// position/anchor pagination and optional thread collapsing.
func Execute(db *kv.DB, q Query) (Result, error) {
	ctx := &evalContext{db: db, account: q.Account, coll: q.Collection}

	matched, err := evalFilter(ctx, q.Filter)
	if err != nil {
		return Result{}, err
	}

	ordered, err := sortResult(ctx, matched, q.Sort)
	if err != nil {
		return Result{}, err
	}

	var res Result
	if q.CalculateTotal {
		res.Total = matched.Cardinality()
	}

	ids, err := window(ctx, ordered, q.Position, q.Anchor, q.AnchorOffset, q.Limit, q.CollapseThreads && q.Collection == collection.Mail)
	if err != nil {
		return Result{}, err
	}
	res.IDs = ids
	return res, nil
}

// evalFilter runs f against ctx, treating a nil Filter (no filter
// given) as matching every document currently in the collection.
func evalFilter(ctx *evalContext, f Filter) (*bitmap.Set, error) {
	if f == nil {
		return ctx.db.ReadBitmap(kv.DocIDsBitmapKey(ctx.account, byte(ctx.coll)))
	}
	return f.eval(ctx)
}

func beUint32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}
