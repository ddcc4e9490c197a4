package termindex

import (
	"strings"
	"testing"
)

// tokenize is a minimal whitespace tokenizer for tests; production
// tokenization goes through bleve's analysis pipeline in mail/index.
func tokenize(text string) []Token {
	var toks []Token
	offset := uint32(0)
	for _, w := range strings.Fields(text) {
		idx := strings.Index(text[offset:], w)
		start := offset + uint32(idx)
		toks = append(toks, Token{Raw: strings.ToLower(w), Stemmed: strings.ToLower(w), Offset: start, Length: uint8(len(w))})
		offset = start + uint32(len(w))
	}
	return toks
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	ti := New()
	ti.AddPart(1, 0, tokenize("I felt happy because I saw the others were happy"))
	data, err := ti.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Parts) != 1 || len(got.Parts[0].Terms) != len(ti.Parts[0].Terms) {
		t.Fatalf("round trip term count mismatch")
	}
	for i, term := range ti.Parts[0].Terms {
		got := got.Parts[0].Terms[i]
		if got != term {
			t.Fatalf("term %d mismatch: got %+v want %+v", i, got, term)
		}
	}
}

func TestPhraseMatchRecoversOffset(t *testing.T) {
	ti := New()
	sentence := "I felt happy because I saw the others were happy"
	ti.AddPart(1, 0, tokenize(sentence))

	query := ti.QueryPairs(tokenize("others were happy"))
	hits := PhraseMatch(ti.Parts[0], query)
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	wantOffset := uint32(strings.Index(sentence, "others were happy"))
	if hits[0].Offset != wantOffset {
		t.Fatalf("offset got %d want %d", hits[0].Offset, wantOffset)
	}
}

func TestBagMatchFindsAllTargets(t *testing.T) {
	ti := New()
	ti.AddPart(1, 0, tokenize("a nothing floating on a nothing"))

	targets := ti.QueryPairs(tokenize("floating nothing"))
	bagTargets := make([]BagTarget, len(targets))
	for i, p := range targets {
		bagTargets[i] = BagTarget{ID: p.ID, IDStemmed: p.IDStemmed}
	}
	hits := BagMatch(ti.Parts[0], bagTargets)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d (%v)", len(hits), hits)
	}
}

func TestPackUnpackStreamAcrossBlockSizes(t *testing.T) {
	var values []uint32
	for i := 0; i < 300; i++ {
		values = append(values, uint32(i*7%4096))
	}
	packed := PackStream(values)
	got, consumed, err := UnpackStream(packed, len(values))
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len(packed) {
		t.Fatalf("consumed %d, packed length %d", consumed, len(packed))
	}
	for i, v := range values {
		if got[i] != v {
			t.Fatalf("value %d: got %d want %d", i, got[i], v)
		}
	}
}
