package index

import (
	"strings"
	"testing"

	"go.inkwell.dev/mailcore/blob"
	"go.inkwell.dev/mailcore/collection"
	"go.inkwell.dev/mailcore/kv"
	"go.inkwell.dev/mailcore/mail/parse"
	"go.inkwell.dev/mailcore/mailtest"
)

const testMessage = "From: alice@example.com\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: hello world\r\n" +
	"Message-ID: <m1@example.com>\r\n" +
	"Date: Mon, 2 Jan 2006 15:04:05 -0700\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"the quick brown fox\r\n"

func TestAppendStagesFromTagAndTermIndex(t *testing.T) {
	db := mailtest.DB(t)
	filer := mailtest.Filer(t)
	store := blob.NewStore(db, filer, nil)

	md, err := parse.Parse(filer, store, strings.NewReader(testMessage))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	batch := db.NewBatch()
	opts := Options{Account: 1, DocID: 7, MailboxIDs: []uint32{1}, Keywords: []string{"\\Seen"}}
	if err := Append(batch, md, opts); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	fromKey := kv.BitmapKey(1, byte(collection.Mail), byte(FieldFrom), tagBytes("alice@example.com"))
	set, err := db.ReadBitmap(fromKey)
	if err != nil {
		t.Fatalf("ReadBitmap: %v", err)
	}
	if !set.Contains(7) {
		t.Errorf("From bitmap does not contain doc 7: %v", set.ToArray())
	}

	tiBytes, err := db.Get(kv.ValueKey(1, byte(collection.Mail), 7, byte(FieldTermIndex)))
	if err != nil {
		t.Fatalf("Get term index: %v", err)
	}
	if len(tiBytes) == 0 {
		t.Fatal("term index bytes empty")
	}

	referenced, err := store.Referenced(md.RawBlob)
	if err != nil {
		t.Fatalf("Referenced: %v", err)
	}
	if !referenced {
		t.Error("raw blob not linked")
	}
}
