package thread

import (
	"strings"
	"testing"

	"crawshaw.io/iox"

	"go.inkwell.dev/mailcore/blob"
	"go.inkwell.dev/mailcore/collection"
	"go.inkwell.dev/mailcore/internal/lock"
	"go.inkwell.dev/mailcore/kv"
	"go.inkwell.dev/mailcore/mail/index"
	"go.inkwell.dev/mailcore/mail/parse"
	"go.inkwell.dev/mailcore/mailtest"
)

// parseAndAssign runs one message through the indexer and the
// threader as the mutation engine would: index.Append stages the tag
// bitmaps Assign reads, each committing before the next step so Assign
// always observes its own document's tags.
func parseAndAssign(t *testing.T, th *Threader, db *kv.DB, filer *iox.Filer, store *blob.Store, account, docID uint32, raw string) (uint32, []Event) {
	t.Helper()
	md, err := parse.Parse(filer, store, strings.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	batch := db.NewBatch()
	if err := index.Append(batch, md, index.Options{Account: account, DocID: docID, MailboxIDs: []uint32{1}}); err != nil {
		t.Fatalf("index.Append: %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("commit index batch: %v", err)
	}

	batch2 := db.NewBatch()
	tid, events, err := th.Assign(batch2, account, docID, md)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := batch2.Commit(); err != nil {
		t.Fatalf("commit assign batch: %v", err)
	}
	return tid, events
}

func TestAssignFormsNewThread(t *testing.T) {
	db := mailtest.DB(t)
	filer := mailtest.Filer(t)
	store := blob.NewStore(db, filer, nil)
	th := New(db, lock.NewRegistry())

	const msg1 = "From: a@example.com\r\nSubject: Hello\r\nMessage-ID: <m1@example.com>\r\n" +
		"Date: Mon, 2 Jan 2006 15:04:05 -0700\r\nContent-Type: text/plain\r\n\r\nhi\r\n"

	tid, events := parseAndAssign(t, th, db, filer, store, 1, 1, msg1)
	if tid == 0 {
		t.Fatal("expected a non-zero thread id")
	}
	if len(events) != 0 {
		t.Errorf("expected no merge events for a first message, got %v", events)
	}
}

func TestAssignJoinsThreadByInReplyTo(t *testing.T) {
	db := mailtest.DB(t)
	filer := mailtest.Filer(t)
	store := blob.NewStore(db, filer, nil)
	th := New(db, lock.NewRegistry())

	const msg1 = "From: a@example.com\r\nSubject: Hello\r\nMessage-ID: <m1@example.com>\r\n" +
		"Date: Mon, 2 Jan 2006 15:04:05 -0700\r\nContent-Type: text/plain\r\n\r\nhi\r\n"
	const msg2 = "From: b@example.com\r\nSubject: Re: Hello\r\nMessage-ID: <m2@example.com>\r\n" +
		"In-Reply-To: <m1@example.com>\r\nDate: Mon, 2 Jan 2006 16:00:00 -0700\r\n" +
		"Content-Type: text/plain\r\n\r\nreply\r\n"

	tid1, _ := parseAndAssign(t, th, db, filer, store, 1, 1, msg1)
	tid2, events := parseAndAssign(t, th, db, filer, store, 1, 2, msg2)

	if tid1 != tid2 {
		t.Errorf("expected reply to join original thread: %d != %d", tid1, tid2)
	}
	if len(events) != 0 {
		t.Errorf("joining a singleton thread should not produce merge events, got %v", events)
	}
}

func TestAssignMergesOnBridgingReferencesSmallestIDWins(t *testing.T) {
	db := mailtest.DB(t)
	filer := mailtest.Filer(t)
	store := blob.NewStore(db, filer, nil)
	th := New(db, lock.NewRegistry())

	const msg1 = "From: a@example.com\r\nSubject: Foo\r\nMessage-ID: <m1@example.com>\r\n" +
		"Date: Mon, 2 Jan 2006 15:04:05 -0700\r\nContent-Type: text/plain\r\n\r\none\r\n"
	const msg2 = "From: b@example.com\r\nSubject: Foo\r\nMessage-ID: <m2@example.com>\r\n" +
		"Date: Mon, 2 Jan 2006 15:05:05 -0700\r\nContent-Type: text/plain\r\n\r\ntwo\r\n"
	const msg3 = "From: c@example.com\r\nSubject: Foo\r\nMessage-ID: <m3@example.com>\r\n" +
		"In-Reply-To: <m1@example.com>\r\nReferences: <m1@example.com> <m2@example.com>\r\n" +
		"Date: Mon, 2 Jan 2006 15:06:05 -0700\r\nContent-Type: text/plain\r\n\r\nthree\r\n"

	tid1, _ := parseAndAssign(t, th, db, filer, store, 1, 1, msg1)
	tid2, _ := parseAndAssign(t, th, db, filer, store, 1, 2, msg2)
	if tid1 == tid2 {
		t.Fatalf("precondition: expected two independent threads, got %d and %d", tid1, tid2)
	}

	winner := tid1
	if tid2 < winner {
		winner = tid2
	}

	tid3, events := parseAndAssign(t, th, db, filer, store, 1, 3, msg3)
	if tid3 != winner {
		t.Errorf("expected merge to settle on the smallest thread id %d, got %d", winner, tid3)
	}

	var sawMove, sawDelete bool
	var loser uint32
	for _, ev := range events {
		switch ev.Kind {
		case EventMove:
			sawMove = true
			if ev.ThreadID != winner {
				t.Errorf("move event retagged to %d, want %d", ev.ThreadID, winner)
			}
			loser = ev.OldThreadID
		case EventDelete:
			sawDelete = true
			if ev.ThreadID == winner {
				t.Errorf("delete event named the winning thread id %d", ev.ThreadID)
			}
		}
	}
	if !sawMove || !sawDelete {
		t.Errorf("expected both a move and a delete event, got %v", events)
	}
	if loser == 0 || loser == winner {
		t.Fatalf("move event OldThreadID = %d, want the absorbed thread id", loser)
	}

	loserTid, err := th.threadIDOf(1, 2)
	if err != nil {
		t.Fatalf("threadIDOf: %v", err)
	}
	if loserTid != winner {
		t.Errorf("doc 2 was not retagged onto the winning thread: got %d, want %d", loserTid, winner)
	}

	loserBitmap, err := db.ReadBitmap(kv.BitmapKey(1, byte(collection.Mail), byte(index.FieldThreadID), threadIDBytes(loser)))
	if err != nil {
		t.Fatalf("ReadBitmap(loser): %v", err)
	}
	if loserBitmap.Contains(2) {
		t.Errorf("doc 2 still set in absorbed thread %d's FieldThreadID bitmap", loser)
	}

	threadDocs, err := db.ReadBitmap(kv.DocIDsBitmapKey(1, byte(collection.Thread)))
	if err != nil {
		t.Fatalf("ReadBitmap(Thread doc ids): %v", err)
	}
	if !threadDocs.Contains(winner) {
		t.Errorf("Thread document-ids bitmap missing winning thread id %d", winner)
	}
	if threadDocs.Contains(loser) {
		t.Errorf("Thread document-ids bitmap still contains absorbed thread id %d", loser)
	}
}
