package mailcore

import (
	"strings"
	"testing"

	"go.inkwell.dev/mailcore/changelog"
	"go.inkwell.dev/mailcore/collection"
	"go.inkwell.dev/mailcore/config"
	"go.inkwell.dev/mailcore/mutate"
	"go.inkwell.dev/mailcore/orm"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory(config.Default(), nil)
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func importHTML(t *testing.T, s *Store, html string) uint32 {
	t.Helper()
	mboxPatch := orm.New()
	mboxPatch.Set(orm.PropMailboxName, orm.NewText("Inbox"), orm.TagSet{})
	created, err := s.Set(mutate.Request{
		Account:    1,
		Collection: collection.Mailbox,
		Create:     []mutate.CreateItem{{ClientID: "inbox", Patch: mboxPatch}},
	})
	if err != nil {
		t.Fatalf("Set(create mailbox): %v", err)
	}
	mboxID := created.Created["inbox"]

	raw := "From: a@example.com\r\nTo: b@example.com\r\nSubject: hi\r\n" +
		"Date: Mon, 2 Jan 2006 10:00:00 -0700\r\n" +
		"Content-Type: text/html\r\n\r\n" + html

	imported, err := s.ImportMessage(strings.NewReader(raw), ImportOptions{
		Account:    1,
		MailboxIDs: []uint32{uint32(mboxID)},
	})
	if err != nil {
		t.Fatalf("ImportMessage: %v", err)
	}
	return uint32(imported.ExternalID)
}

func TestSanitizedHTMLBodyStripsScript(t *testing.T) {
	s := openTestStore(t)
	docID := importHTML(t, s, "<p>hi <script>alert(1)</script>there</p>")

	safe, ok, err := s.SanitizedHTMLBody(1, docID)
	if err != nil {
		t.Fatalf("SanitizedHTMLBody: %v", err)
	}
	if !ok {
		t.Fatal("SanitizedHTMLBody: ok = false, want true")
	}
	if strings.Contains(safe, "<script") {
		t.Fatalf("sanitized body still contains <script>: %q", safe)
	}
	if !strings.Contains(safe, "hi") || !strings.Contains(safe, "there") {
		t.Fatalf("sanitized body dropped plain text: %q", safe)
	}
}

func TestSanitizedHTMLBodyNoHTMLPart(t *testing.T) {
	s := openTestStore(t)
	mboxPatch := orm.New()
	mboxPatch.Set(orm.PropMailboxName, orm.NewText("Inbox"), orm.TagSet{})
	created, err := s.Set(mutate.Request{
		Account:    1,
		Collection: collection.Mailbox,
		Create:     []mutate.CreateItem{{ClientID: "inbox", Patch: mboxPatch}},
	})
	if err != nil {
		t.Fatalf("Set(create mailbox): %v", err)
	}
	mboxID := created.Created["inbox"]

	raw := "From: a@example.com\r\nTo: b@example.com\r\nSubject: hi\r\n" +
		"Date: Mon, 2 Jan 2006 10:00:00 -0700\r\n" +
		"Content-Type: text/plain\r\n\r\nplain text only\r\n"
	imported, err := s.ImportMessage(strings.NewReader(raw), ImportOptions{
		Account:    1,
		MailboxIDs: []uint32{uint32(mboxID)},
	})
	if err != nil {
		t.Fatalf("ImportMessage: %v", err)
	}

	_, ok, err := s.SanitizedHTMLBody(1, uint32(imported.ExternalID))
	if err != nil {
		t.Fatalf("SanitizedHTMLBody: %v", err)
	}
	if ok {
		t.Fatal("SanitizedHTMLBody: ok = true for a plain-text-only message")
	}
}

// TestImportMessageThreadMergeLogsMoveAndDelete exercises Scenario B: a
// bridging reply merges two independent threads, and the merge must
// surface as a Move per displaced message plus a Delete for the
// absorbed thread, not silently vanish.
func TestImportMessageThreadMergeLogsMoveAndDelete(t *testing.T) {
	s := openTestStore(t)

	mboxPatch := orm.New()
	mboxPatch.Set(orm.PropMailboxName, orm.NewText("Inbox"), orm.TagSet{})
	created, err := s.Set(mutate.Request{
		Account:    1,
		Collection: collection.Mailbox,
		Create:     []mutate.CreateItem{{ClientID: "inbox", Patch: mboxPatch}},
	})
	if err != nil {
		t.Fatalf("Set(create mailbox): %v", err)
	}
	mboxID := uint32(created.Created["inbox"])

	const msg1 = "From: a@example.com\r\nSubject: Foo\r\nMessage-ID: <m1@example.com>\r\n" +
		"Date: Mon, 2 Jan 2006 15:04:05 -0700\r\nContent-Type: text/plain\r\n\r\none\r\n"
	const msg2 = "From: b@example.com\r\nSubject: Foo\r\nMessage-ID: <m2@example.com>\r\n" +
		"Date: Mon, 2 Jan 2006 15:05:05 -0700\r\nContent-Type: text/plain\r\n\r\ntwo\r\n"
	const msg3 = "From: c@example.com\r\nSubject: Foo\r\nMessage-ID: <m3@example.com>\r\n" +
		"In-Reply-To: <m1@example.com>\r\nReferences: <m1@example.com> <m2@example.com>\r\n" +
		"Date: Mon, 2 Jan 2006 15:06:05 -0700\r\nContent-Type: text/plain\r\n\r\nthree\r\n"

	for _, raw := range []string{msg1, msg2, msg3} {
		if _, err := s.ImportMessage(strings.NewReader(raw), ImportOptions{
			Account:    1,
			MailboxIDs: []uint32{mboxID},
		}); err != nil {
			t.Fatalf("ImportMessage: %v", err)
		}
	}

	mailChanges, err := s.Changes(1, collection.Mail, "0", 0)
	if err != nil {
		t.Fatalf("Changes(Mail): %v", err)
	}
	var moves int
	for _, c := range mailChanges.Changes {
		if c.Kind == changelog.KindMove {
			moves++
			if c.MoveFrom == 0 || c.MoveFrom == c.ExternalID {
				t.Errorf("move change has implausible MoveFrom=%d ExternalID=%d", c.MoveFrom, c.ExternalID)
			}
		}
	}
	if moves == 0 {
		t.Error("expected at least one KindMove change after a thread merge, got none")
	}

	threadChanges, err := s.Changes(1, collection.Thread, "0", 0)
	if err != nil {
		t.Fatalf("Changes(Thread): %v", err)
	}
	var deletes int
	for _, c := range threadChanges.Changes {
		if c.Kind == changelog.KindDelete {
			deletes++
		}
	}
	if deletes == 0 {
		t.Error("expected at least one KindDelete change for the absorbed thread, got none")
	}
}
