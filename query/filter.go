// Package query implements §4.7: a filter-tree DAG evaluated against
// the Bitmaps/Indexes column families, a chained comparator sort, and
// anchor-or-position pagination with thread collapsing.
package query

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"go.inkwell.dev/mailcore/bitmap"
	"go.inkwell.dev/mailcore/collection"
	"go.inkwell.dev/mailcore/kv"
	"go.inkwell.dev/mailcore/mail/index"
	"go.inkwell.dev/mailcore/termindex"
)

// evalContext is threaded through every Filter.Eval call: the storage
// handle and the scope (account, collection) every leaf condition
// resolves against.
type evalContext struct {
	db      *kv.DB
	account uint32
	coll    collection.ID
}

// Filter is one node of the filter tree: a leaf condition or a
// boolean combinator over child Filters.
type Filter interface {
	eval(ctx *evalContext) (*bitmap.Set, error)
}

// And intersects every child's result; an empty And matches nothing,
// since spec.md gives And|Or|Not no identity-element special case.
type And struct{ Children []Filter }

func (f And) eval(ctx *evalContext) (*bitmap.Set, error) {
	if len(f.Children) == 0 {
		return bitmap.New(), nil
	}
	acc, err := f.Children[0].eval(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range f.Children[1:] {
		s, err := c.eval(ctx)
		if err != nil {
			return nil, err
		}
		acc = acc.And(s)
	}
	return acc, nil
}

// Or unions every child's result.
type Or struct{ Children []Filter }

func (f Or) eval(ctx *evalContext) (*bitmap.Set, error) {
	acc := bitmap.New()
	for _, c := range f.Children {
		s, err := c.eval(ctx)
		if err != nil {
			return nil, err
		}
		acc = acc.Or(s)
	}
	return acc, nil
}

// Not complements Child within the collection's document-ids universe.
type Not struct{ Child Filter }

func (f Not) eval(ctx *evalContext) (*bitmap.Set, error) {
	universe, err := ctx.db.ReadBitmap(kv.DocIDsBitmapKey(ctx.account, byte(ctx.coll)))
	if err != nil {
		return nil, err
	}
	s, err := f.Child.eval(ctx)
	if err != nil {
		return nil, err
	}
	return universe.AndNot(s), nil
}

// Equals matches documents tagged (field, value) in the Bitmaps
// family: address/keyword/mailbox/has-attachment equality.
type Equals struct {
	Field byte
	Value []byte
}

func (f Equals) eval(ctx *evalContext) (*bitmap.Set, error) {
	return ctx.db.ReadBitmap(kv.BitmapKey(ctx.account, byte(ctx.coll), f.Field, f.Value))
}

// InMailbox matches Mail documents tagged with mailboxID.
type InMailbox struct{ MailboxID uint32 }

func (f InMailbox) eval(ctx *evalContext) (*bitmap.Set, error) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], f.MailboxID)
	return Equals{Field: byte(index.FieldMailbox), Value: b[:]}.eval(ctx)
}

// HasAttachment matches Mail documents with at least one attachment part.
type HasAttachment struct{}

func (f HasAttachment) eval(ctx *evalContext) (*bitmap.Set, error) {
	return Equals{Field: byte(index.FieldHasAttachment), Value: []byte{1}}.eval(ctx)
}

// Range matches documents whose Indexes sort key for Field falls
// within [Min, Max] (either bound nil means unbounded on that side),
// executed by iterating the Indexes column family, per spec.md §4.7.
type Range struct {
	Field    byte
	Min, Max []byte
}

func (f Range) eval(ctx *evalContext) (*bitmap.Set, error) {
	prefix := kv.IndexKeyPrefix(ctx.account, byte(ctx.coll), f.Field)
	cur := ctx.db.NewCursor(prefix, nil, kv.Forward)
	defer cur.Close()

	out := bitmap.New()
	for cur.Valid() {
		key := cur.Key()
		sortBytes, docID, err := splitIndexKey(prefix, key)
		if err != nil {
			return nil, err
		}
		if f.Min != nil && bytes.Compare(sortBytes, f.Min) < 0 {
			cur.Next()
			continue
		}
		if f.Max != nil && bytes.Compare(sortBytes, f.Max) > 0 {
			cur.Next()
			continue
		}
		out.Add(docID)
		cur.Next()
	}
	return out, nil
}

func splitIndexKey(prefix, key []byte) (sortBytes []byte, docID uint32, err error) {
	if len(key) < len(prefix)+4 {
		return nil, 0, fmt.Errorf("query: truncated index key")
	}
	body := key[len(prefix):]
	sortBytes = body[:len(body)-4]
	docID = binary.BigEndian.Uint32(body[len(body)-4:])
	return sortBytes, docID, nil
}

// FullText matches documents whose full-text term index contains
// every token of Text, either as a phrase (consecutive, in order) or,
// when Phrase is false, as an unordered bag.
type FullText struct {
	Text   string
	Phrase bool
}

func (f FullText) eval(ctx *evalContext) (*bitmap.Set, error) {
	tokens, err := index.Tokenize(f.Text)
	if err != nil {
		return nil, fmt.Errorf("query.FullText: %w", err)
	}
	if len(tokens) == 0 {
		return bitmap.New(), nil
	}

	candidates, err := f.candidates(ctx, tokens)
	if err != nil {
		return nil, err
	}

	out := bitmap.New()
	for _, doc := range candidates.ToArray() {
		matched, err := f.matchesDoc(ctx, doc, tokens)
		if err != nil {
			return nil, err
		}
		if matched {
			out.Add(doc)
		}
	}
	return out, nil
}

// candidates intersects the per-token posting-list bitmaps so the
// (likely far more expensive) per-document bag/phrase match only runs
// against documents that contain every query term somewhere.
func (f FullText) candidates(ctx *evalContext, tokens []termindex.Token) (*bitmap.Set, error) {
	var acc *bitmap.Set
	for _, tok := range tokens {
		postings, err := Equals{
			Field: byte(index.FieldTermPosting),
			Value: index.TagBytes(tok.Stemmed),
		}.eval(ctx)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = postings
		} else {
			acc = acc.And(postings)
		}
	}
	if acc == nil {
		return bitmap.New(), nil
	}
	return acc, nil
}

func (f FullText) matchesDoc(ctx *evalContext, doc uint32, tokens []termindex.Token) (bool, error) {
	raw, err := ctx.db.Get(kv.ValueKey(ctx.account, byte(ctx.coll), doc, byte(index.FieldTermIndex)))
	if err != nil {
		return false, err
	}
	if len(raw) == 0 {
		return false, nil
	}
	ti, err := termindex.Unmarshal(raw)
	if err != nil {
		return false, fmt.Errorf("query.FullText: %w", err)
	}

	pairs := ti.QueryPairs(tokens)
	if len(pairs) < len(tokens) {
		return false, nil // a query token was never indexed anywhere in this document
	}

	for _, part := range ti.Parts {
		if f.Phrase {
			if len(termindex.PhraseMatch(part, pairs)) > 0 {
				return true, nil
			}
			continue
		}
		targets := make([]termindex.BagTarget, len(pairs))
		for i, p := range pairs {
			targets[i] = termindex.BagTarget{ID: p.ID, IDStemmed: p.IDStemmed}
		}
		if len(termindex.BagMatch(part, targets)) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Quantifier selects how many of a thread's documents must carry a
// keyword for ThreadKeyword to include the thread.
type Quantifier int

const (
	QuantifierAll Quantifier = iota
	QuantifierSome
	QuantifierNone
)

// ThreadKeyword matches every Mail document belonging to a thread
// where all/some/none of the thread's documents carry Keyword, per
// spec.md §4.7's "all/some/none in thread have keyword K" expansion.
type ThreadKeyword struct {
	Keyword    string
	Quantifier Quantifier
}

func (f ThreadKeyword) eval(ctx *evalContext) (*bitmap.Set, error) {
	tagged, err := Equals{Field: byte(index.FieldKeyword), Value: index.TagBytes(f.Keyword)}.eval(ctx)
	if err != nil {
		return nil, err
	}

	threadOf := make(map[uint32]uint32)
	threads := make(map[uint32]bool)
	for _, doc := range tagged.ToArray() {
		v, err := ctx.db.Get(kv.ValueKey(ctx.account, byte(ctx.coll), doc, byte(index.FieldThreadID)))
		if err != nil {
			return nil, err
		}
		if len(v) != 4 {
			continue
		}
		tid := binary.BigEndian.Uint32(v)
		threadOf[doc] = tid
		threads[tid] = true
	}

	out := bitmap.New()
	for tid := range threads {
		var tb [4]byte
		binary.BigEndian.PutUint32(tb[:], tid)
		members, err := ctx.db.ReadBitmap(kv.BitmapKey(ctx.account, byte(ctx.coll), byte(index.FieldThreadID), tb[:]))
		if err != nil {
			return nil, err
		}
		taggedInThread := members.And(tagged)

		qualifies := false
		switch f.Quantifier {
		case QuantifierAll:
			qualifies = taggedInThread.Cardinality() == members.Cardinality()
		case QuantifierSome:
			qualifies = taggedInThread.Cardinality() > 0
		case QuantifierNone:
			qualifies = taggedInThread.Cardinality() == 0
		}
		if qualifies {
			out = out.Or(members)
		}
	}
	return out, nil
}
