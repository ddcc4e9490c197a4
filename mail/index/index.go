// Package index builds the batched tag bitmaps, sort indexes, full-text
// term index, and blob links §4.4 requires for one Mail document. It is
// called by the mutation engine while staging a create/update, not a
// standalone write path: the returned ops are merged into the same
// kv.Batch the ORM row and change-log entry commit in.
package index

import (
	"encoding/binary"
	"fmt"
	"strings"

	"go.inkwell.dev/mailcore/bitmap"
	"go.inkwell.dev/mailcore/blob"
	"go.inkwell.dev/mailcore/collection"
	"go.inkwell.dev/mailcore/kv"
	"go.inkwell.dev/mailcore/mail/parse"
	"go.inkwell.dev/mailcore/termindex"
)

// Options carries the document-scoped facts the indexer needs beyond
// what msgdata itself carries: the mailbox placement and keyword set
// assigned at import/update time.
type Options struct {
	Account    uint32
	DocID      uint32
	MailboxIDs []uint32
	Keywords   []string
}

// Append stages every index write for msg into batch, and links its raw
// message and part blobs to (account, Mail, docID). It does not touch
// the Mail collection's doc-ids bitmap or ORM row; those are the
// mutation engine's responsibility.
func Append(batch *kv.Batch, msg *parse.MessageData, opts Options) error {
	const coll = byte(collection.Mail)
	acct, doc := opts.Account, opts.DocID

	for _, addr := range msg.From {
		addBitlist(batch, acct, coll, FieldFrom, tagBytes(addr.Addr), doc)
	}
	for _, addr := range msg.To {
		addBitlist(batch, acct, coll, FieldTo, tagBytes(addr.Addr), doc)
	}
	for _, addr := range msg.CC {
		addBitlist(batch, acct, coll, FieldCC, tagBytes(addr.Addr), doc)
	}
	for _, addr := range msg.BCC {
		addBitlist(batch, acct, coll, FieldBCC, tagBytes(addr.Addr), doc)
	}
	for _, kw := range opts.Keywords {
		addBitlist(batch, acct, coll, FieldKeyword, tagBytes(kw), doc)
	}
	for _, mbox := range opts.MailboxIDs {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], mbox)
		addBitlist(batch, acct, coll, FieldMailbox, b[:], doc)
	}
	for name := range msg.UnknownHeaders {
		addBitlist(batch, acct, coll, FieldHasHeader, tagBytes(name), doc)
	}

	refs := msg.ReferenceIDs()
	for _, ref := range refs {
		addBitlist(batch, acct, coll, FieldMessageIDRef, tagBytes(ref), doc)
	}

	addBitlist(batch, acct, coll, FieldThreadName, tagBytes(msg.ThreadName), doc)

	if len(msg.Attachments) > 0 {
		addBitlist(batch, acct, coll, FieldHasAttachment, []byte{1}, doc)
	}

	// Sort indexes.
	var dateKey [8]byte
	binary.BigEndian.PutUint64(dateKey[:], uint64(msg.Date.Unix()))
	batch.Set(kv.IndexKey(acct, coll, byte(FieldDateSort), dateKey[:], doc), []byte{})
	batch.Set(kv.IndexKey(acct, coll, byte(FieldSubjectSort), []byte(truncate(msg.ThreadName)), doc), []byte{})
	if len(msg.From) > 0 {
		batch.Set(kv.IndexKey(acct, coll, byte(FieldFromSort), []byte(truncate(strings.ToLower(msg.From[0].Name+" "+msg.From[0].Addr))), doc), []byte{})
	}

	// Numeric sort-store values.
	batch.Set(kv.ValueKey(acct, coll, doc, byte(FieldSize)), encodeInt64(msg.Size))
	batch.Set(kv.ValueKey(acct, coll, doc, byte(FieldReceivedAt)), encodeInt64(msg.Date.Unix()))
	batch.Set(kv.IndexKey(acct, coll, byte(FieldSizeSort), encodeInt64(msg.Size), doc), []byte{})

	ti, err := buildTermIndex(msg)
	if err != nil {
		return fmt.Errorf("index.Append: %w", err)
	}
	tiBytes, err := ti.Marshal()
	if err != nil {
		return fmt.Errorf("index.Append: %w", err)
	}
	batch.Set(kv.ValueKey(acct, coll, doc, byte(FieldTermIndex)), tiBytes)

	for id := 0; id < ti.Dict.Len(); id++ {
		term, _ := ti.Dict.Term(uint32(id))
		addBitlist(batch, acct, coll, FieldTermPosting, tagBytes(term), doc)
	}

	linkParts(batch, msg, acct, coll, doc)

	return nil
}

func linkParts(batch *kv.Batch, msg *parse.MessageData, acct uint32, coll byte, doc uint32) {
	seen := map[blob.Hash]bool{msg.RawBlob: true}
	batch.Set(blob.RefKey(msg.RawBlob, acct, coll, doc), []byte{1})
	for _, p := range msg.Parts {
		if p.Hash == (blob.Hash{}) || seen[p.Hash] {
			continue
		}
		seen[p.Hash] = true
		batch.Set(blob.RefKey(p.Hash, acct, coll, doc), []byte{1})
	}
}

// termIndexFieldSubject and termIndexFieldBody are the per-part field
// ids inside the term index's own (field_id, part_id) addressing,
// distinct from the outer Bitmaps/Indexes Field enum above.
const (
	termIndexFieldSubject byte = 0
	termIndexFieldBody    byte = 1
)

func buildTermIndex(msg *parse.MessageData) (*termindex.TermIndex, error) {
	ti := termindex.New()

	subjectTokens, err := tokenize(msg.Subject)
	if err != nil {
		return nil, err
	}
	ti.AddPart(termIndexFieldSubject, 0, subjectTokens)

	partID := uint32(1)
	addText := func(text string) error {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		toks, err := tokenize(text)
		if err != nil {
			return err
		}
		ti.AddPart(termIndexFieldBody, partID, toks)
		partID++
		return nil
	}

	for _, idx := range msg.TextBody {
		if err := addText(msg.Parts[idx].Text); err != nil {
			return nil, err
		}
	}
	for _, idx := range msg.HtmlBody {
		if err := addText(msg.Parts[idx].Text); err != nil {
			return nil, err
		}
	}
	for _, idx := range msg.Attachments {
		if msg.Parts[idx].Nested != nil {
			if err := addText(msg.Parts[idx].Text); err != nil {
				return nil, err
			}
		}
	}

	return ti, nil
}

func addBitlist(batch *kv.Batch, account uint32, coll byte, field Field, value []byte, doc uint32) {
	key := kv.BitmapKey(account, coll, byte(field), value)
	batch.MergeBitmap(key, bitmap.EncodeBitlist([]bitmap.BitOp{{ID: doc, Set: true}}))
}

// TagBytes normalizes s into the bitmap-key value bytes used for every
// address/keyword/header-name/thread-name tag this package writes, so
// any other package reading those same tags (the threader, the query
// engine) looks them up under an identical key.
func TagBytes(s string) []byte {
	return tagBytes(s)
}

func tagBytes(s string) []byte {
	return []byte(truncate(strings.ToLower(s)))
}

func encodeInt64(v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:]
}
