package orm

import "go.inkwell.dev/mailcore/collection"

// IndexOptions says how a changed property value should be reflected
// into the Bitmaps/Indexes column families, per spec.md §4.6's
// "index options (sort, keyword, tokenize, full-text, clear)" list.
type IndexOptions struct {
	Sort     bool // maintain an Indexes sort key for this property
	Keyword  bool // maintain a Bitmaps tag per distinct value (address, mailbox id, ...)
	Tokenize bool // feed the value through the term-index tokenizer
	FullText bool // the tokenized terms count toward full-text queries, not just has-token lookups
	Clear    bool // on removal, the old index entries are deleted rather than merely not re-added
}

// schema is the minimal, explicitly-maintained set of (collection,
// property) -> IndexOptions entries this tree exercises. It is not a
// complete JMAP property-to-index mapping (most Email/Mailbox
// properties are plain stored values with no secondary index); it
// covers exactly the properties mail/index.Append and the query
// engine's filters touch, so merge_validate's emitted index updates
// line up with what a query can actually ask for.
var schema = map[collection.ID]map[Property]IndexOptions{
	collection.Mail: {
		PropMailMailboxIDs:   {Keyword: true, Clear: true},
		PropMailKeywords:     {Keyword: true, Clear: true},
		PropMailSubject:      {Sort: true, Tokenize: true, FullText: true},
		PropMailFrom:         {Keyword: true, Sort: true},
		PropMailTo:           {Keyword: true},
		PropMailCC:           {Keyword: true},
		PropMailBCC:          {Keyword: true},
		PropMailSize:         {Sort: true},
		PropMailReceivedAt:   {Sort: true},
		PropMailHasAttachment: {Keyword: true},
		PropMailThreadID:     {Keyword: true, Clear: true},
	},
	collection.Mailbox: {
		PropMailboxName:     {Sort: true},
		PropMailboxParentID: {Keyword: true},
		PropMailboxRole:     {Keyword: true, Clear: true},
		PropMailboxSortOrder: {Sort: true},
	},
}

// IndexOptionsFor returns the indexing behavior for prop within coll,
// the zero value (no secondary index maintained) if prop is not in
// the schema.
func IndexOptionsFor(coll collection.ID, prop Property) IndexOptions {
	if props, ok := schema[coll]; ok {
		return props[prop]
	}
	return IndexOptions{}
}
