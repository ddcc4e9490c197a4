package index

// Field identifies a Bitmaps/Indexes/Values column within the Mail
// collection. Each constant corresponds to one of the tag bitmaps, sort
// indexes, or stored values §4.4 requires the indexer to emit.
type Field byte

const (
	FieldFrom Field = iota + 1
	FieldTo
	FieldCC
	FieldBCC
	FieldKeyword
	FieldMailbox
	FieldHasHeader
	FieldMessageIDRef
	FieldThreadName
	FieldHasAttachment
	FieldThreadID
	FieldTermPosting // term (raw or stemmed) -> docs bitmap, full-text candidate generation

	FieldSize      // numeric Values row, sort candidate
	FieldReceivedAt // numeric Values row, sort candidate
	FieldTermIndex  // marshaled termindex.TermIndex, Values row

	FieldDateSort    // Indexes family sort key
	FieldSubjectSort // Indexes family sort key (normalized thread name)
	FieldFromSort    // Indexes family sort key (lowercased "name <addr>")
	FieldSizeSort    // Indexes family sort key (big-endian size, range queries)
)

// maxTagValueLen bounds how much of an address or header name is
// hashed into a bitmap key, per §4.4's "length-bounded" tag values.
const maxTagValueLen = 256

func truncate(s string) string {
	if len(s) > maxTagValueLen {
		return s[:maxTagValueLen]
	}
	return s
}
