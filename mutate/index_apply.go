// Package mutate implements §4.8: phased create/update/destroy over an
// orm.Document, translating each orm.ChangeSet into the Bitmaps/Indexes
// writes the query engine reads, grounded in the teacher's
// sqlitex.Save(conn)(&err) transactional-batch idiom (here: one kv.Batch
// per Set call) and in original_source's mail/set.rs and mailbox/set.rs
// for the per-collection destroy hooks.
package mutate

import (
	"encoding/binary"
	"strings"

	"go.inkwell.dev/mailcore/bitmap"
	"go.inkwell.dev/mailcore/collection"
	"go.inkwell.dev/mailcore/kv"
	"go.inkwell.dev/mailcore/mail/index"
	"go.inkwell.dev/mailcore/orm"
)

// Mailbox collection field ids: no mail/index-style package exists for
// Mailbox documents since nothing tokenizes them, so the small set of
// Indexes/Bitmaps fields a Mailbox needs lives here instead.
const (
	mailboxFieldName      byte = 1
	mailboxFieldParentID  byte = 2
	mailboxFieldRole      byte = 3
	mailboxFieldSortOrder byte = 4
)

// fieldFor maps a schema-indexed (collection, property) pair to the
// Bitmaps/Indexes field byte that property's changes are written
// under. PropMailThreadID is deliberately absent: the threader
// (package thread) is the sole writer of FieldThreadID's Values and
// Bitmaps entries, assigned once at insert time, never patched through
// a generic property update.
func fieldFor(coll collection.ID, prop orm.Property) (byte, bool) {
	switch coll {
	case collection.Mail:
		switch prop {
		case orm.PropMailMailboxIDs:
			return byte(index.FieldMailbox), true
		case orm.PropMailKeywords:
			return byte(index.FieldKeyword), true
		case orm.PropMailSubject:
			return byte(index.FieldSubjectSort), true
		case orm.PropMailFrom:
			return byte(index.FieldFrom), true
		case orm.PropMailTo:
			return byte(index.FieldTo), true
		case orm.PropMailCC:
			return byte(index.FieldCC), true
		case orm.PropMailBCC:
			return byte(index.FieldBCC), true
		case orm.PropMailSize:
			return byte(index.FieldSizeSort), true
		case orm.PropMailReceivedAt:
			return byte(index.FieldDateSort), true
		case orm.PropMailHasAttachment:
			return byte(index.FieldHasAttachment), true
		}
	case collection.Mailbox:
		switch prop {
		case orm.PropMailboxName:
			return mailboxFieldName, true
		case orm.PropMailboxParentID:
			return mailboxFieldParentID, true
		case orm.PropMailboxRole:
			return mailboxFieldRole, true
		case orm.PropMailboxSortOrder:
			return mailboxFieldSortOrder, true
		}
	}
	return 0, false
}

// applyChangeSet stages the Bitmaps/Indexes writes cs's property and
// tag changes imply into batch, per each property's orm.IndexOptions.
func applyChangeSet(batch *kv.Batch, account uint32, coll collection.ID, docID uint32, cs *orm.ChangeSet) {
	for _, pc := range cs.Properties {
		field, ok := fieldFor(coll, pc.Property)
		if !ok {
			continue
		}
		if pc.Options.Keyword {
			applyKeywordChange(batch, account, coll, field, docID, pc.Old, pc.New)
		}
		if pc.Options.Sort {
			applySortChange(batch, account, coll, field, docID, pc.Old, pc.New)
		}
	}
}

func applyKeywordChange(batch *kv.Batch, account uint32, coll collection.ID, field byte, docID uint32, oldV, newV orm.Value) {
	oldTags := tagStrings(oldV)
	newTags := tagStrings(newV)

	oldSet := make(map[string]bool, len(oldTags))
	for _, t := range oldTags {
		oldSet[t] = true
	}
	newSet := make(map[string]bool, len(newTags))
	for _, t := range newTags {
		newSet[t] = true
	}

	for t := range newSet {
		if !oldSet[t] {
			addBitlist(batch, account, coll, field, []byte(t), docID, true)
		}
	}
	for t := range oldSet {
		if !newSet[t] {
			addBitlist(batch, account, coll, field, []byte(t), docID, false)
		}
	}
}

func applySortChange(batch *kv.Batch, account uint32, coll collection.ID, field byte, docID uint32, oldV, newV orm.Value) {
	if oldKey := sortBytesFor(oldV); oldKey != nil {
		batch.Delete(kv.IndexKey(account, byte(coll), field, oldKey, docID))
	}
	if newKey := sortBytesFor(newV); newKey != nil {
		batch.Set(kv.IndexKey(account, byte(coll), field, newKey, docID), []byte{})
	}
}

func addBitlist(batch *kv.Batch, account uint32, coll collection.ID, field byte, value []byte, docID uint32, set bool) {
	key := kv.BitmapKey(account, byte(coll), field, value)
	batch.MergeBitmap(key, bitmap.EncodeBitlist([]bitmap.BitOp{{ID: docID, Set: set}}))
}

// tagStrings extracts the set of distinct tag values v carries, one
// entry per bitmap this value should be tagged into.
func tagStrings(v orm.Value) []string {
	switch v.Kind {
	case orm.KindKeywords:
		out := make([]string, 0, len(v.Keywords))
		for k := range v.Keywords {
			out = append(out, strings.ToLower(k))
		}
		return out
	case orm.KindMailboxIDs:
		out := make([]string, 0, len(v.MailboxIDs))
		for id := range v.MailboxIDs {
			out = append(out, string(beBytes(id)))
		}
		return out
	case orm.KindAddresses:
		out := make([]string, 0, len(v.Addresses))
		for _, a := range v.Addresses {
			out = append(out, strings.ToLower(a.Addr))
		}
		return out
	case orm.KindID:
		return []string{string(beBytes(uint32(v.ID)))}
	case orm.KindText:
		if v.Text == "" {
			return nil
		}
		return []string{strings.ToLower(v.Text)}
	case orm.KindBool:
		if v.Bool {
			return []string{"\x01"}
		}
		return nil
	default:
		return nil
	}
}

// sortBytesFor encodes v into the lexicographically-ordered sort key
// bytes an Indexes row uses, nil if v's Kind carries no defined sort
// order.
func sortBytesFor(v orm.Value) []byte {
	const maxSortLen = 256
	switch v.Kind {
	case orm.KindText:
		s := strings.ToLower(v.Text)
		if len(s) > maxSortLen {
			s = s[:maxSortLen]
		}
		return []byte(s)
	case orm.KindDate:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.Date.Unix()))
		return b[:]
	case orm.KindSize:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.Size))
		return b[:]
	default:
		return nil
	}
}

func beBytes(id uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], id)
	return b[:]
}
