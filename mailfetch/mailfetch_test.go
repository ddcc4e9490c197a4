package mailfetch

import (
	"strings"
	"testing"

	"go.inkwell.dev/mailcore"
	"go.inkwell.dev/mailcore/collection"
	"go.inkwell.dev/mailcore/config"
	"go.inkwell.dev/mailcore/imap/imapparser"
	"go.inkwell.dev/mailcore/mail/index"
	"go.inkwell.dev/mailcore/mutate"
	"go.inkwell.dev/mailcore/orm"
	"go.inkwell.dev/mailcore/query"
)

func openStore(t *testing.T) *mailcore.Store {
	t.Helper()
	s, err := mailcore.OpenInMemory(config.Default(), nil)
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTranslateSearchAll(t *testing.T) {
	f, err := TranslateSearch(&imapparser.SearchOp{Key: "ALL"})
	if err != nil {
		t.Fatalf("TranslateSearch: %v", err)
	}
	if f != nil {
		t.Fatalf("ALL should translate to a nil filter, got %#v", f)
	}
}

func TestTranslateSearchSeen(t *testing.T) {
	f, err := TranslateSearch(&imapparser.SearchOp{Key: "SEEN"})
	if err != nil {
		t.Fatalf("TranslateSearch: %v", err)
	}
	eq, ok := f.(query.Equals)
	if !ok || eq.Field != byte(index.FieldKeyword) {
		t.Fatalf("SEEN = %#v, want Equals on FieldKeyword", f)
	}
	if string(eq.Value) != string(index.TagBytes("$seen")) {
		t.Fatalf("SEEN value = %q, want $seen", eq.Value)
	}
}

func TestTranslateSearchAndNot(t *testing.T) {
	op := &imapparser.SearchOp{
		Key: "AND",
		Children: []imapparser.SearchOp{
			{Key: "SEEN"},
			{Key: "NOT", Children: []imapparser.SearchOp{{Key: "FLAGGED"}}},
		},
	}
	f, err := TranslateSearch(op)
	if err != nil {
		t.Fatalf("TranslateSearch: %v", err)
	}
	and, ok := f.(query.And)
	if !ok || len(and.Children) != 2 {
		t.Fatalf("AND = %#v, want two-child And", f)
	}
	if _, ok := and.Children[1].(query.Not); !ok {
		t.Fatalf("second AND child = %#v, want Not", and.Children[1])
	}
}

func TestTranslateSearchSessionScopedRejected(t *testing.T) {
	for _, key := range []imapparser.SearchKey{"SEQSET", "UID", "RECENT"} {
		if _, err := TranslateSearch(&imapparser.SearchOp{Key: key}); err == nil {
			t.Fatalf("search key %s should be rejected as session-scoped", key)
		}
	}
}

func TestResolveFetchItems(t *testing.T) {
	store := openStore(t)

	mboxPatch := orm.New()
	mboxPatch.Set(orm.PropMailboxName, orm.NewText("Inbox"), orm.TagSet{})
	created, err := store.Set(mutate.Request{
		Account:    1,
		Collection: collection.Mailbox,
		Create:     []mutate.CreateItem{{ClientID: "inbox", Patch: mboxPatch}},
	})
	if err != nil {
		t.Fatalf("Set(create mailbox): %v", err)
	}
	mboxID := created.Created["inbox"]

	raw := "From: a@example.com\r\nTo: b@example.com\r\nSubject: hello\r\n" +
		"X-Mailer: test-mailer\r\nDate: Mon, 2 Jan 2006 10:00:00 -0700\r\n" +
		"Content-Type: text/plain\r\n\r\nbody text\r\n"

	imported, err := store.ImportMessage(strings.NewReader(raw), mailcore.ImportOptions{
		Account:    1,
		MailboxIDs: []uint32{uint32(mboxID)},
		Keywords:   []string{"$seen"},
	})
	if err != nil {
		t.Fatalf("ImportMessage: %v", err)
	}

	docID := uint32(imported.ExternalID)
	items := []imapparser.FetchItem{
		{Type: imapparser.FetchUID},
		{Type: imapparser.FetchFlags},
		{Type: imapparser.FetchRFC822Size},
		{Type: imapparser.FetchBody, Section: imapparser.FetchItemSection{
			Name:    "HEADER.FIELDS",
			Headers: [][]byte{[]byte("X-Mailer")},
		}},
	}

	resolved, err := ResolveFetchItems(store, 1, docID, items)
	if err != nil {
		t.Fatalf("ResolveFetchItems: %v", err)
	}
	if len(resolved) != len(items) {
		t.Fatalf("resolved %d items, want %d", len(resolved), len(items))
	}
	if string(resolved[1].Data) != `\Seen` {
		t.Fatalf("FLAGS = %q, want \\Seen", resolved[1].Data)
	}
	if !strings.Contains(string(resolved[3].Data), "X-Mailer: test-mailer") {
		t.Fatalf("HEADER.FIELDS = %q, want X-Mailer line", resolved[3].Data)
	}
	if strings.Contains(string(resolved[3].Data), "Subject:") {
		t.Fatalf("HEADER.FIELDS = %q, should not include Subject", resolved[3].Data)
	}
}
