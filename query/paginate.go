package query

import (
	"go.inkwell.dev/mailcore/collection"
	"go.inkwell.dev/mailcore/kv"
	"go.inkwell.dev/mailcore/mail/index"
	"go.inkwell.dev/mailcore/mailerr"
)

// window applies position/anchor pagination and, for Mail, thread
// collapsing, to an already-sorted id list, per spec.md §4.7:
//
//   - No anchor: position (negative counts from the end, clamped to
//     0) then limit (0 means unbounded).
//   - Anchor: scan for the first id equal to anchor; anchorOffset
//     shifts the window start relative to that position (can be
//     negative); anchor not found in the ordered list is an error.
//   - collapseThreads (Mail only): while scanning, track thread ids
//     already emitted and skip further documents belonging to them.
func window(ctx *evalContext, ordered []uint32, position int, anchor *uint32, anchorOffset int, limit int, collapseThreads bool) ([]uint32, error) {
	start := 0
	switch {
	case anchor != nil:
		idx := indexOf(ordered, *anchor)
		if idx < 0 {
			return nil, mailerr.New(mailerr.AnchorNotFound, "anchor id not present in the query result")
		}
		start = idx + anchorOffset
	default:
		start = position
		if start < 0 {
			start += len(ordered)
		}
	}
	if start < 0 {
		start = 0
	}
	if start > len(ordered) {
		start = len(ordered)
	}

	candidates := ordered[start:]
	if !collapseThreads {
		if limit > 0 && limit < len(candidates) {
			return candidates[:limit], nil
		}
		return candidates, nil
	}

	seenThreads := make(map[uint32]bool)
	out := make([]uint32, 0, len(candidates))
	for _, doc := range candidates {
		if limit > 0 && len(out) >= limit {
			break
		}
		tid, err := threadIDOf(ctx, doc)
		if err != nil {
			return nil, err
		}
		if tid != 0 {
			if seenThreads[tid] {
				continue
			}
			seenThreads[tid] = true
		}
		out = append(out, doc)
	}
	return out, nil
}

func indexOf(ids []uint32, target uint32) int {
	for i, id := range ids {
		if id == target {
			return i
		}
	}
	return -1
}

func threadIDOf(ctx *evalContext, doc uint32) (uint32, error) {
	v, err := ctx.db.Get(kv.ValueKey(ctx.account, byte(collection.Mail), doc, byte(index.FieldThreadID)))
	if err != nil {
		return 0, err
	}
	if len(v) != 4 {
		return 0, nil
	}
	return beUint32(v), nil
}
