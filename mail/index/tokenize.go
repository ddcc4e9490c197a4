package index

import (
	"github.com/blevesearch/bleve/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/registry"
	porterstemmer "github.com/blevesearch/go-porterstemmer"

	"go.inkwell.dev/mailcore/termindex"
)

// analyzerCache builds the standard bleve tokenizer/lowercase/stopword
// pipeline once; stemming is then applied per-token below with the same
// porter stemmer bleve's own "en" analyzer wraps, so each token carries
// both its exact and stemmed forms instead of losing the exact form the
// way composing bleve's "en" analyzer outright would.
var analyzerCache = registry.NewCache()

// Tokenize splits text into the (raw, stemmed) token pairs the term
// index is built from. Exported so the query engine can tokenize a
// full-text search string with the exact same pipeline that indexed
// the documents it searches.
func Tokenize(text string) ([]termindex.Token, error) {
	return tokenize(text)
}

func tokenize(text string) ([]termindex.Token, error) {
	az, err := analyzerCache.AnalyzerNamed(standard.Name)
	if err != nil {
		return nil, err
	}
	stream := az.Analyze([]byte(text))

	tokens := make([]termindex.Token, 0, len(stream))
	for _, tok := range stream {
		raw := string(tok.Term)
		if raw == "" {
			continue
		}
		stemmed := porterstemmer.StemString(raw)
		length := tok.End - tok.Start
		if length > 255 {
			length = 255
		}
		tokens = append(tokens, termindex.Token{
			Raw:     raw,
			Stemmed: stemmed,
			Offset:  uint32(tok.Start),
			Length:  uint8(length),
		})
	}
	return tokens, nil
}
