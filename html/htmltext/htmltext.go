// Package htmltext extracts plain, indexable text from an HTML document,
// the same golang.org/x/net/html tokenizer walk html/htmlsafe uses to
// sanitize markup, but collecting visible text runs instead of rewriting
// tags.
package htmltext

import (
	"io"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	a "golang.org/x/net/html/atom"
)

// skippedTags never contribute their children's text to the output:
// script/style content is markup, not prose, and head-only elements
// carry metadata rather than visible text.
var skippedTags = map[a.Atom]bool{
	a.Script: true,
	a.Style:  true,
	a.Head:   true,
	a.Title:  true,
}

// blockTags force a line break after the element closes, so block-level
// structure survives as the paragraph/line breaks a reader would see.
var blockTags = map[a.Atom]bool{
	a.P: true, a.Div: true, a.Br: true, a.Tr: true, a.Li: true,
	a.H1: true, a.H2: true, a.H3: true, a.H4: true, a.H5: true, a.H6: true,
}

// Extract reads an HTML document from src and returns its visible text,
// with block-level elements separated by newlines and runs of
// whitespace, within and between text nodes, collapsed to one space.
func Extract(src io.Reader) (string, error) {
	var buf strings.Builder
	var skipDepth int
	var spaceBefore bool

	z := html.NewTokenizer(src)
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return buf.String(), err
			}
			break
		}

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			t := z.Token()
			if skippedTags[t.DataAtom] {
				if tt == html.StartTagToken {
					skipDepth++
				}
				continue
			}
			if blockTags[t.DataAtom] {
				buf.WriteByte('\n')
			}
		case html.EndTagToken:
			t := z.Token()
			if skippedTags[t.DataAtom] {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if blockTags[t.DataAtom] {
				buf.WriteByte('\n')
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := string(z.Text())
			words := collapseSpace(text)
			if words == "" {
				spaceBefore = spaceBefore || text != ""
				continue
			}
			if spaceBefore || strings.TrimLeftFunc(text, unicode.IsSpace) != text {
				buf.WriteByte(' ')
			}
			buf.WriteString(words)
			spaceBefore = strings.TrimRightFunc(text, unicode.IsSpace) != text
		}
	}

	return collapseBlank(buf.String()), nil
}

func collapseSpace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// collapseBlank trims each line and drops runs of more than one blank
// line, so the result reads like normalized plain-text prose rather
// than a byte-for-byte transcript of the markup's whitespace.
func collapseBlank(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
