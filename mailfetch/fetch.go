package mailfetch

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.inkwell.dev/mailcore"
	"go.inkwell.dev/mailcore/collection"
	"go.inkwell.dev/mailcore/imap/imapparser"
	"go.inkwell.dev/mailcore/mailerr"
	"go.inkwell.dev/mailcore/orm"
)

// FetchedItem is one resolved FETCH attribute: the literal bytes an
// IMAP response writer would place after the item's name.
type FetchedItem struct {
	Item imapparser.FetchItem
	Data []byte
}

// internalDateLayout is RFC 3501's date-time format for INTERNALDATE.
const internalDateLayout = "02-Jan-2006 15:04:05 -0700"

// ResolveFetchItems answers one FETCH request's items against the Mail
// document at docID, loading the ORM row once and the raw message blob
// only when a BODY/RFC822-family item needs it. It does not assemble an
// IMAP response line; callers own wire formatting.
func ResolveFetchItems(store *mailcore.Store, account uint32, docID uint32, items []imapparser.FetchItem) ([]FetchedItem, error) {
	doc, err := store.Get(account, collection.Mail, docID)
	if err != nil {
		return nil, fmt.Errorf("mailfetch.ResolveFetchItems: %w", err)
	}

	var raw []byte
	rawLoaded := false
	loadRaw := func() ([]byte, error) {
		if !rawLoaded {
			raw, err = store.RawMessage(account, docID)
			if err != nil {
				return nil, err
			}
			rawLoaded = true
		}
		return raw, nil
	}

	out := make([]FetchedItem, 0, len(items))
	for _, item := range items {
		data, err := resolveOne(doc, docID, item, loadRaw)
		if err != nil {
			return nil, err
		}
		out = append(out, FetchedItem{Item: item, Data: data})
	}
	return out, nil
}

func resolveOne(doc *orm.Document, docID uint32, item imapparser.FetchItem, loadRaw func() ([]byte, error)) ([]byte, error) {
	switch item.Type {
	case imapparser.FetchFlags:
		return []byte(flagsString(doc)), nil

	case imapparser.FetchInternalDate:
		v := doc.Get(orm.PropMailReceivedAt)
		return []byte(v.Date.Format(internalDateLayout)), nil

	case imapparser.FetchRFC822Size:
		v := doc.Get(orm.PropMailSize)
		return []byte(strconv.FormatInt(v.Size, 10)), nil

	case imapparser.FetchUID:
		return []byte(strconv.FormatUint(uint64(docID), 10)), nil

	case imapparser.FetchRFC822Header:
		raw, err := loadRaw()
		if err != nil {
			return nil, err
		}
		header, _ := splitMessage(raw)
		return header, nil

	case imapparser.FetchRFC822Text:
		raw, err := loadRaw()
		if err != nil {
			return nil, err
		}
		_, body := splitMessage(raw)
		return body, nil

	case imapparser.FetchBody, imapparser.FetchBodyStructure:
		raw, err := loadRaw()
		if err != nil {
			return nil, err
		}
		return resolveBodySection(raw, item)

	default:
		// FetchAll/FetchFull/FetchFast are macros expanding to several
		// items apiece, and FetchEnvelope/FetchModSeq need a MIME
		// envelope builder and a modification-sequence counter this
		// adapter does not maintain; the caller's session layer is
		// expected to expand macros and handle those items itself.
		return nil, mailerr.New(mailerr.InvalidArguments, "unsupported fetch item "+string(item.Type))
	}
}

// flagsString renders a document's keywords as a space-separated IMAP
// flag list, translating the JMAP system keywords back to their \Flag
// spelling and passing anything else through as a keyword atom.
func flagsString(doc *orm.Document) string {
	reverse := make(map[string]string, len(systemKeywords))
	for flag, keyword := range systemKeywords {
		reverse[keyword] = flag
	}

	v := doc.Get(orm.PropMailKeywords)
	flags := make([]string, 0, len(v.Keywords))
	for kw, set := range v.Keywords {
		if !set {
			continue
		}
		if flag, ok := reverse[kw]; ok {
			flags = append(flags, flag)
		} else {
			flags = append(flags, kw)
		}
	}
	sort.Strings(flags)
	return strings.Join(flags, " ")
}

// splitMessage separates raw RFC 5322 bytes into header and body at the
// first blank line, tolerating either CRLF or bare-LF line endings.
func splitMessage(raw []byte) (header, body []byte) {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		return raw[:i+2], raw[i+4:]
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return raw[:i+1], raw[i+2:]
	}
	return raw, nil
}

// resolveBodySection answers one BODY[...]/BODYSTRUCTURE-family item.
// Only the top-level message (empty Section.Path) is addressable; a
// Path into a nested MIME part requires re-parsing the message tree,
// which is the session layer's job, not this adapter's.
func resolveBodySection(raw []byte, item imapparser.FetchItem) ([]byte, error) {
	if len(item.Section.Path) > 0 {
		return nil, mailerr.New(mailerr.InvalidArguments, "fetching a nested MIME part section is not supported by this adapter")
	}

	header, body := splitMessage(raw)
	switch item.Section.Name {
	case "":
		return raw, nil
	case "HEADER":
		return header, nil
	case "TEXT":
		return body, nil
	case "HEADER.FIELDS":
		return filterHeaderFields(header, item.Section.Headers, true), nil
	case "HEADER.FIELDS.NOT":
		return filterHeaderFields(header, item.Section.Headers, false), nil
	case "MIME":
		return header, nil
	default:
		return nil, mailerr.New(mailerr.InvalidArguments, "unsupported body section "+item.Section.Name)
	}
}

// filterHeaderFields keeps (include=true) or drops (include=false) the
// named header lines from header, folding continuation lines along with
// the header line they belong to.
func filterHeaderFields(header []byte, names [][]byte, include bool) []byte {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[strings.ToLower(string(n))] = true
	}

	lines := strings.Split(string(header), "\n")
	var out strings.Builder
	keep := false
	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if trimmed == "" {
			continue
		}
		if len(trimmed) > 0 && (trimmed[0] == ' ' || trimmed[0] == '\t') {
			if keep {
				out.WriteString(line)
				out.WriteString("\n")
			}
			continue
		}
		i := strings.IndexByte(trimmed, ':')
		name := trimmed
		if i > 0 {
			name = trimmed[:i]
		}
		_, named := wanted[strings.ToLower(name)]
		keep = named == include
		if keep {
			out.WriteString(line)
			out.WriteString("\n")
		}
	}
	out.WriteString("\r\n")
	return []byte(out.String())
}
