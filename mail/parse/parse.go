// Package parse adapts the teacher's email/msgcleaver MIME splitter into
// the MessageData record the indexer consumes: typed headers, a flattened
// part list classified into text/html/attachment groups, and blob-backed
// part content. It recurses into message/rfc822 attachments so their
// subject and body text can be folded into the parent's full-text index.
package parse

import (
	"bytes"
	"io"
	"net/mail"
	"strings"
	"time"

	"crawshaw.io/iox"

	"go.inkwell.dev/mailcore/blob"
	"go.inkwell.dev/mailcore/email"
	"go.inkwell.dev/mailcore/email/msgcleaver"
	"go.inkwell.dev/mailcore/html/htmltext"
	"go.inkwell.dev/mailcore/third_party/imf"
)

// Part is one flattened MIME part, classified and blob-backed.
type Part struct {
	PartNum         int
	Name            string
	IsBody          bool
	IsAttachment    bool
	ContentType     string
	ContentID       string
	ContentLocation string
	Language        string
	Size            int64

	Hash blob.Hash // zero value if Content was empty

	// Text holds decoded text content for parts folded into the
	// full-text index (text/plain, text/html post-conversion, and
	// nested message subjects/bodies). Empty for binary attachments.
	Text string

	// Nested holds the parsed sub-message for a message/rfc822 part.
	Nested *MessageData
}

// MessageData is the typed record the indexer builds from a raw message.
// It mirrors email.Msg's shape but carries decoded header values and
// blob references instead of live buffers, since by the time indexing
// runs the raw content has already been committed to the blob store.
type MessageData struct {
	RawHash  string
	RawBlob  blob.Hash
	Seed     int64
	Size     int64

	Subject    string
	ThreadName string
	Date       time.Time

	From []email.Address
	To   []email.Address
	CC   []email.Address
	BCC  []email.Address

	MessageID        string
	InReplyTo        []string
	References       []string
	ResentMessageID  []string

	// UnknownHeaders preserves header entries parse does not decode
	// into a typed field above, keyed by canonical header name.
	UnknownHeaders map[string][]string

	Parts []Part

	// Index lists into Parts, per JMAP body-structure classification.
	TextBody    []int
	HtmlBody    []int
	Attachments []int
}

var knownHeaders = map[email.Key]bool{
	"Subject": true, "Date": true, "From": true, "To": true, "CC": true,
	"Bcc": true, "Message-ID": true, "In-Reply-To": true, "References": true,
	"Resent-Message-ID": true,
}

// Parse splits src into a MessageData, staging every part's content in
// store and recursing into message/rfc822 attachments.
func Parse(filer *iox.Filer, store *blob.Store, src io.Reader) (*MessageData, error) {
	var raw bytes.Buffer
	msg, err := msgcleaver.Cleave(filer, io.TeeReader(src, &raw))
	if err != nil {
		return nil, err
	}
	defer msg.Close()

	md, err := build(filer, store, msg)
	if err != nil {
		return nil, err
	}
	h, err := store.Put(raw.Bytes())
	if err != nil {
		return nil, err
	}
	md.RawBlob = h
	return md, nil
}

func build(filer *iox.Filer, store *blob.Store, msg *email.Msg) (*MessageData, error) {
	md := &MessageData{
		RawHash:        msg.RawHash,
		Seed:           msg.Seed,
		Size:           msg.EncodedSize,
		UnknownHeaders: make(map[string][]string),
	}

	md.Subject = decodeSubject(msg.Headers)
	md.ThreadName = ThreadName(md.Subject)

	if v := msg.Headers.Get("Date"); len(v) > 0 {
		if t, err := mail.ParseDate(string(v)); err == nil {
			md.Date = t
		}
	}
	if v := msg.Headers.Get("From"); len(v) > 0 {
		md.From = derefAll(parseAddressListLoose(string(v)))
	}
	if v := msg.Headers.Get("To"); len(v) > 0 {
		md.To = derefAll(parseAddressListLoose(string(v)))
	}
	if v := msg.Headers.Get("CC"); len(v) > 0 {
		md.CC = derefAll(parseAddressListLoose(string(v)))
	}
	if v := msg.Headers.Get("Bcc"); len(v) > 0 {
		md.BCC = derefAll(parseAddressListLoose(string(v)))
	}
	if v := msg.Headers.Get("Message-ID"); len(v) > 0 {
		if id, err := imf.ParseReference(string(v)); err == nil {
			md.MessageID = id
		}
	}
	if v := msg.Headers.Get("In-Reply-To"); len(v) > 0 {
		if refs, err := imf.ParseReferences(string(v)); err == nil {
			md.InReplyTo = refs
		}
	}
	if v := msg.Headers.Get("References"); len(v) > 0 {
		if refs, err := imf.ParseReferences(string(v)); err == nil {
			md.References = refs
		}
	}
	if v := msg.Headers.Get("Resent-Message-ID"); len(v) > 0 {
		if refs, err := imf.ParseReferences(string(v)); err == nil {
			md.ResentMessageID = refs
		}
	}

	for _, entry := range msg.Headers.Entries {
		if knownHeaders[entry.Key] {
			continue
		}
		md.UnknownHeaders[string(entry.Key)] = append(md.UnknownHeaders[string(entry.Key)], string(entry.Value))
	}

	for i := range msg.Parts {
		p, err := buildPart(filer, store, &msg.Parts[i])
		if err != nil {
			return nil, err
		}
		md.Parts = append(md.Parts, p)

		switch {
		case p.IsAttachment:
			md.Attachments = append(md.Attachments, i)
		case p.IsBody && strings.EqualFold(p.ContentType, "text/html"):
			md.HtmlBody = append(md.HtmlBody, i)
		case p.IsBody:
			md.TextBody = append(md.TextBody, i)
		}
	}

	return md, nil
}

func buildPart(filer *iox.Filer, store *blob.Store, src *email.Part) (Part, error) {
	p := Part{
		PartNum:         src.PartNum,
		Name:            src.Name,
		IsBody:          src.IsBody,
		IsAttachment:    src.IsAttachment,
		ContentType:     src.ContentType,
		ContentID:       src.ContentID,
		ContentLocation: src.ContentLocation,
		Language:        src.Language,
	}

	if src.Content == nil {
		return p, nil
	}
	if _, err := src.Content.Seek(0, io.SeekStart); err != nil {
		return p, err
	}
	data, err := io.ReadAll(src.Content)
	if err != nil {
		return p, err
	}
	p.Size = int64(len(data))

	h, err := store.Put(data)
	if err != nil {
		return p, err
	}
	p.Hash = h

	if strings.EqualFold(src.ContentType, "message/rfc822") {
		nestedMsg, err := msgcleaver.Cleave(filer, bytes.NewReader(data))
		if err == nil {
			nested, err := build(filer, store, nestedMsg)
			nestedMsg.Close()
			if err == nil {
				p.Nested = nested
				p.Text = nested.Subject
				for _, idx := range nested.TextBody {
					p.Text += "\n" + nested.Parts[idx].Text
				}
			}
		}
		return p, nil
	}

	switch {
	case strings.EqualFold(src.ContentType, "text/html"):
		if text, err := htmltext.Extract(bytes.NewReader(data)); err == nil {
			p.Text = text
		}
	case isTextual(src.ContentType):
		p.Text = string(data)
	}

	return p, nil
}

func isTextual(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "text/")
}

func parseAddressListLoose(s string) []*email.Address {
	addrs, err := imf.ParseAddressList(s)
	if err != nil {
		return nil
	}
	return addrs
}

func derefAll(addrs []*email.Address) []email.Address {
	out := make([]email.Address, 0, len(addrs))
	for _, a := range addrs {
		if a != nil {
			out = append(out, *a)
		}
	}
	return out
}

func decodeSubject(hdr email.Header) string {
	return string(hdr.Get("Subject"))
}

// ReferenceIDs returns the bounded, de-duplicated set of Message-ID-shaped
// strings this message carries: its own Message-ID plus every
// In-Reply-To/References/Resent-Message-ID entry. Both the indexer's
// MessageIdRef tag bitmap and the threader's reference-graph walk use
// this same set.
func (md *MessageData) ReferenceIDs() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	add(md.MessageID)
	for _, id := range md.InReplyTo {
		add(id)
	}
	for _, id := range md.References {
		add(id)
	}
	for _, id := range md.ResentMessageID {
		add(id)
	}
	return out
}
