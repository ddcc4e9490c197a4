// Package thread implements §4.5's threader: on insert it computes the
// thread id a Mail document belongs to from its reference graph and
// normalized subject, merging smaller threads into the largest when a
// reply chain bridges threads that had been assigned independently.
//
// Grounded in the teacher's spillbox/normalize.go style for string
// normalization helpers and in the teacher's boxmgmt.BoxMgmt per-account
// map-of-mutexes idiom for the mail lock (internal/lock.Registry here).
package thread

import (
	"encoding/binary"
	"fmt"
	"sort"

	"go.inkwell.dev/mailcore/bitmap"
	"go.inkwell.dev/mailcore/collection"
	"go.inkwell.dev/mailcore/internal/lock"
	"go.inkwell.dev/mailcore/kv"
	"go.inkwell.dev/mailcore/mail/index"
	"go.inkwell.dev/mailcore/mail/parse"
)

// EventKind distinguishes the two change-log-shaped side effects a
// merge can produce. The caller (the mutation engine) is responsible
// for turning these into actual changelog entries; the threader only
// reports what happened.
type EventKind int

const (
	// EventMove records that docID's ThreadId tag was rewritten to
	// ThreadID, because its prior thread was absorbed into a larger one.
	EventMove EventKind = iota
	// EventDelete records that ThreadID itself no longer has any
	// documents tagged with it, having been fully absorbed.
	EventDelete
)

// Event is one move or delete produced by a thread merge.
type Event struct {
	Kind        EventKind
	DocID       uint32 // set for EventMove, zero for EventDelete
	ThreadID    uint32 // the winning/surviving thread id
	OldThreadID uint32 // set for EventMove: the absorbed thread id DocID moved out of
}

// Threader assigns and merges thread ids for one account's Mail
// collection.
type Threader struct {
	db   *kv.DB
	lock *lock.Registry
}

// New returns a Threader backed by db, serializing concurrent
// assignments for the same account through lockReg.
func New(db *kv.DB, lockReg *lock.Registry) *Threader {
	return &Threader{db: db, lock: lockReg}
}

// Assign computes the thread id for msg, the message at docID, from
// the committed ThreadName and MessageIdRef tags of other documents
// (docID's own tags may still be staged in batch and are not needed),
// and stages the ThreadId tag write plus any merge side effects into
// batch. It returns the assigned thread id and the move/delete events
// a merge produced, empty when no merge was necessary.
//
// Callers must commit batch themselves; Assign only stages operations,
// matching the rest of the indexing path's batch-everything-atomically
// convention.
func (t *Threader) Assign(batch *kv.Batch, account uint32, docID uint32, msg *parse.MessageData) (uint32, []Event, error) {
	unlock := t.lock.Lock(account)
	defer unlock()

	const mail = byte(collection.Mail)

	nameSet, err := t.db.ReadBitmap(kv.BitmapKey(account, mail, byte(index.FieldThreadName), index.TagBytes(msg.ThreadName)))
	if err != nil {
		return 0, nil, fmt.Errorf("thread.Assign: %w", err)
	}

	refUnion := bitmap.New()
	for _, ref := range msg.ReferenceIDs() {
		refSet, err := t.db.ReadBitmap(kv.BitmapKey(account, mail, byte(index.FieldMessageIDRef), index.TagBytes(ref)))
		if err != nil {
			return 0, nil, fmt.Errorf("thread.Assign: %w", err)
		}
		refUnion = refUnion.Or(refSet)
	}

	candidates := nameSet.And(refUnion)
	candidates.Remove(docID) // msg's own doc may already have been tagged by a prior partial write

	threadIDs := make(map[uint32]int) // thread id -> member count among candidates
	for _, id := range candidates.ToArray() {
		tid, err := t.threadIDOf(account, id)
		if err != nil {
			return 0, nil, fmt.Errorf("thread.Assign: %w", err)
		}
		if tid != 0 {
			threadIDs[tid]++
		}
	}

	switch len(threadIDs) {
	case 0:
		tid, err := t.db.AllocateID(kv.DocIDCounterKey(account, byte(collection.Thread)))
		if err != nil {
			return 0, nil, fmt.Errorf("thread.Assign: %w", err)
		}
		batch.MergeBitmap(
			kv.DocIDsBitmapKey(account, byte(collection.Thread)),
			bitmap.EncodeBitlist([]bitmap.BitOp{{ID: tid, Set: true}}),
		)
		t.tag(batch, account, docID, tid)
		return tid, nil, nil

	case 1:
		var tid uint32
		for id := range threadIDs {
			tid = id
		}
		t.tag(batch, account, docID, tid)
		return tid, nil, nil

	default:
		winner := pickWinner(threadIDs)
		t.tag(batch, account, docID, winner)

		var events []Event
		for tid := range threadIDs {
			if tid == winner {
				continue
			}
			members, err := t.db.ReadBitmap(kv.BitmapKey(account, mail, byte(index.FieldThreadID), threadIDBytes(tid)))
			if err != nil {
				return 0, nil, fmt.Errorf("thread.Assign: %w", err)
			}
			for _, member := range members.ToArray() {
				t.retag(batch, account, member, tid, winner)
				events = append(events, Event{Kind: EventMove, DocID: member, ThreadID: winner, OldThreadID: tid})
			}
			batch.MergeBitmap(
				kv.DocIDsBitmapKey(account, byte(collection.Thread)),
				bitmap.EncodeBitlist([]bitmap.BitOp{{ID: tid, Set: false}}),
			)
			events = append(events, Event{Kind: EventDelete, ThreadID: tid})
		}
		return winner, events, nil
	}
}

// threadIDOf returns the thread id currently stored on doc's direct
// ThreadId Values field, or 0 if the document has none yet.
func (t *Threader) threadIDOf(account, doc uint32) (uint32, error) {
	v, err := t.db.Get(kv.ValueKey(account, byte(collection.Mail), doc, byte(index.FieldThreadID)))
	if err != nil {
		return 0, err
	}
	if len(v) != 4 {
		return 0, nil
	}
	return binary.BigEndian.Uint32(v), nil
}

// tag stages both the direct per-document ThreadId value (for O(1)
// forward lookup by threadIDOf) and the reverse tag bitmap (for the
// query engine's "documents in thread X" lookups and for future merges
// walking a thread's membership).
func (t *Threader) tag(batch *kv.Batch, account, doc, threadID uint32) {
	const mail = byte(collection.Mail)
	batch.Set(kv.ValueKey(account, mail, doc, byte(index.FieldThreadID)), threadIDBytes(threadID))
	batch.MergeBitmap(
		kv.BitmapKey(account, mail, byte(index.FieldThreadID), threadIDBytes(threadID)),
		bitmap.EncodeBitlist([]bitmap.BitOp{{ID: doc, Set: true}}),
	)
}

// retag rewrites doc's ThreadId tag from oldThreadID to newThreadID on a
// merge: clears doc's bit in the absorbed thread's reverse FieldThreadID
// bitmap before staging the usual tag write for the winner, so a document
// is never simultaneously a member of two thread bitmaps.
func (t *Threader) retag(batch *kv.Batch, account, doc, oldThreadID, newThreadID uint32) {
	const mail = byte(collection.Mail)
	batch.MergeBitmap(
		kv.BitmapKey(account, mail, byte(index.FieldThreadID), threadIDBytes(oldThreadID)),
		bitmap.EncodeBitlist([]bitmap.BitOp{{ID: doc, Set: false}}),
	)
	t.tag(batch, account, doc, newThreadID)
}

// pickWinner returns the thread id with the most member documents,
// breaking ties by smallest numeric id so concurrent merges of the
// same family converge on the same winner regardless of map iteration
// order.
func pickWinner(counts map[uint32]int) uint32 {
	ids := make([]uint32, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if counts[ids[i]] != counts[ids[j]] {
			return counts[ids[i]] > counts[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids[0]
}

func threadIDBytes(id uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], id)
	return b[:]
}
