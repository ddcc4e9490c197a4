// Package mailfetch adapts imapparser's FETCH item and SEARCH op shapes
// onto the mailcore.Store facade's query/get/blob_get operations. It
// does not parse IMAP commands or hold session state (sequence numbers,
// \Recent, mailbox selection) — that belongs to the session layer this
// tree does not implement; mailfetch only translates an already-parsed
// request into document-id space.
package mailfetch

import (
	"encoding/binary"
	"strings"
	"time"

	"go.inkwell.dev/mailcore/imap/imapparser"
	"go.inkwell.dev/mailcore/mail/index"
	"go.inkwell.dev/mailcore/mailerr"
	"go.inkwell.dev/mailcore/query"
)

// systemKeywords maps the IMAP system flags onto the JMAP keyword
// strings the store indexes under index.FieldKeyword; flagsString
// reads it in reverse to render FLAGS.
var systemKeywords = map[string]string{
	`\Seen`:     "$seen",
	`\Answered`: "$answered",
	`\Flagged`:  "$flagged",
	`\Draft`:    "$draft",
	`\Deleted`:  "$deleted",
}

// TranslateSearch converts a parsed IMAP SEARCH op into a query.Filter
// evaluable by query.Execute, grounded in imapparser.Matcher.match's
// switch over SearchKey. A nil, nil return (for "ALL") means "every
// document in the collection", matching query.Execute's own nil-filter
// convention.
func TranslateSearch(op *imapparser.SearchOp) (query.Filter, error) {
	if op == nil {
		return nil, nil
	}

	switch op.Key {
	case "ALL":
		return nil, nil

	case "AND":
		children, err := translateChildren(op.Children)
		if err != nil {
			return nil, err
		}
		return query.And{Children: children}, nil

	case "OR":
		children, err := translateChildren(op.Children)
		if err != nil {
			return nil, err
		}
		return query.Or{Children: children}, nil

	case "NOT":
		if len(op.Children) != 1 {
			return nil, mailerr.New(mailerr.InvalidArguments, "NOT requires exactly one child search key")
		}
		child, err := TranslateSearch(&op.Children[0])
		if err != nil {
			return nil, err
		}
		return query.Not{Child: child}, nil

	case "SEEN":
		return keywordFilter("$seen"), nil
	case "UNSEEN":
		return query.Not{Child: keywordFilter("$seen")}, nil
	case "ANSWERED":
		return keywordFilter("$answered"), nil
	case "UNANSWERED":
		return query.Not{Child: keywordFilter("$answered")}, nil
	case "FLAGGED":
		return keywordFilter("$flagged"), nil
	case "UNFLAGGED":
		return query.Not{Child: keywordFilter("$flagged")}, nil
	case "DRAFT":
		return keywordFilter("$draft"), nil
	case "UNDRAFT":
		return query.Not{Child: keywordFilter("$draft")}, nil
	case "DELETED":
		return keywordFilter("$deleted"), nil
	case "UNDELETED":
		return query.Not{Child: keywordFilter("$deleted")}, nil

	case "KEYWORD":
		return keywordFilter(strings.ToLower(op.Value)), nil
	case "UNKEYWORD":
		return query.Not{Child: keywordFilter(strings.ToLower(op.Value))}, nil

	case "LARGER":
		return query.Range{Field: byte(index.FieldSizeSort), Min: sizeKey(op.Num + 1)}, nil
	case "SMALLER":
		if op.Num == 0 {
			return query.And{}, nil // nothing is smaller than 0 bytes
		}
		return query.Range{Field: byte(index.FieldSizeSort), Max: sizeKey(op.Num - 1)}, nil

	case "BEFORE", "SENTBEFORE":
		return query.Range{Field: byte(index.FieldDateSort), Max: dateKey(dayStart(op.Date).Add(-time.Second))}, nil
	case "SINCE", "SENTSINCE":
		return query.Range{Field: byte(index.FieldDateSort), Min: dateKey(dayStart(op.Date))}, nil
	case "ON", "SENTON":
		start := dayStart(op.Date)
		return query.Range{Field: byte(index.FieldDateSort), Min: dateKey(start), Max: dateKey(start.Add(24*time.Hour - time.Second))}, nil

	case "SUBJECT":
		return query.FullText{Text: op.Value}, nil
	case "TO":
		return query.Equals{Field: byte(index.FieldTo), Value: index.TagBytes(strings.ToLower(op.Value))}, nil
	case "FROM":
		return query.Equals{Field: byte(index.FieldFrom), Value: index.TagBytes(strings.ToLower(op.Value))}, nil
	case "CC":
		return query.Equals{Field: byte(index.FieldCC), Value: index.TagBytes(strings.ToLower(op.Value))}, nil
	case "BCC":
		return query.Equals{Field: byte(index.FieldBCC), Value: index.TagBytes(strings.ToLower(op.Value))}, nil
	case "TEXT", "BODY":
		return query.FullText{Text: op.Value}, nil

	case "HEADER":
		name, value, err := splitHeaderOp(op.Value)
		if err != nil {
			return nil, err
		}
		if value == "" {
			return query.Equals{Field: byte(index.FieldHasHeader), Value: index.TagBytes(strings.ToLower(name))}, nil
		}
		// No per-value header index is maintained; approximate with a
		// full-text match rather than refusing the search outright.
		return query.FullText{Text: value}, nil

	case "SEQSET", "UID", "MODSEQ", "NEW", "OLD", "RECENT":
		return nil, mailerr.New(mailerr.InvalidArguments, "search key "+string(op.Key)+" is session-scoped and must be resolved before calling Store.Query")

	default:
		return nil, mailerr.New(mailerr.InvalidArguments, "unsupported search key "+string(op.Key))
	}
}

func translateChildren(ops []imapparser.SearchOp) ([]query.Filter, error) {
	out := make([]query.Filter, len(ops))
	for i := range ops {
		f, err := TranslateSearch(&ops[i])
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func keywordFilter(keyword string) query.Filter {
	return query.Equals{Field: byte(index.FieldKeyword), Value: index.TagBytes(keyword)}
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sizeKey(n int64) []byte {
	var b [8]byte
	if n < 0 {
		n = 0
	}
	binary.BigEndian.PutUint64(b[:], uint64(n))
	return b[:]
}

func dateKey(t time.Time) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(t.Unix()))
	return b[:]
}

// splitHeaderOp parses imapparser's "<field-name>: <string>" encoding
// of a HEADER search op's Value, matching search.go's own parse.
func splitHeaderOp(raw string) (name, value string, err error) {
	i := strings.IndexByte(raw, ':')
	if i < 1 {
		return "", "", mailerr.New(mailerr.InvalidArguments, "malformed HEADER search value")
	}
	name = raw[:i]
	if i < len(raw)-1 {
		value = raw[i+2:]
	}
	return name, value, nil
}
