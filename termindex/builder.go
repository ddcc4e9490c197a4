package termindex

// Token is one tokenized occurrence ready for indexing: its raw form,
// its stemmed form, and its position in the original field text. The
// mail indexer produces these via bleve's analysis pipeline; this
// package stays analyzer-agnostic so it can be unit tested without one.
type Token struct {
	Raw     string
	Stemmed string
	Offset  uint32
	Length  uint8
}

// AddPart tokenizes tokens into a new Part, allocating dictionary ids
// as needed, and appends it to ti.
func (ti *TermIndex) AddPart(fieldID byte, partID uint32, tokens []Token) {
	terms := make([]Term, len(tokens))
	for i, tok := range tokens {
		terms[i] = Term{
			ID:        ti.Dict.ID(tok.Raw),
			IDStemmed: ti.Dict.ID(tok.Stemmed),
			Offset:    tok.Offset,
			Length:    tok.Length,
		}
	}
	ti.Parts = append(ti.Parts, Part{FieldID: fieldID, PartID: partID, Terms: terms})
}

// QueryPairs resolves a query's tokens into dictionary Pairs for
// PhraseMatch/BagMatch, skipping tokens absent from the dictionary
// entirely (they can never match, raw or stemmed).
func (ti *TermIndex) QueryPairs(tokens []Token) []Pair {
	pairs := make([]Pair, 0, len(tokens))
	for _, tok := range tokens {
		rawID, rawOK := ti.Dict.Lookup(tok.Raw)
		stemID, stemOK := ti.Dict.Lookup(tok.Stemmed)
		if !rawOK && !stemOK {
			continue
		}
		p := Pair{}
		if rawOK {
			p.ID = rawID
		} else {
			p.ID = stemID
		}
		if stemOK {
			p.IDStemmed = stemID
		} else {
			p.IDStemmed = rawID
		}
		pairs = append(pairs, p)
	}
	return pairs
}
