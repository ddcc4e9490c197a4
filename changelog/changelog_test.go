package changelog

import (
	"testing"

	"go.inkwell.dev/mailcore/collection"
	"go.inkwell.dev/mailcore/mailerr"
	"go.inkwell.dev/mailcore/mailtest"
)

func TestAppendAndChangesCollapseInsertUpdate(t *testing.T) {
	db := mailtest.DB(t)
	log := New(db)

	batch := db.NewBatch()
	if _, err := log.Append(batch, collection.Mail, Record{Kind: KindInsert, Account: 1, ExternalID: 10}); err != nil {
		t.Fatalf("Append(insert): %v", err)
	}
	if _, err := log.Append(batch, collection.Mail, Record{Kind: KindUpdate, Account: 1, ExternalID: 10}); err != nil {
		t.Fatalf("Append(update): %v", err)
	}
	if _, err := log.Append(batch, collection.Mail, Record{Kind: KindInsert, Account: 1, ExternalID: 20}); err != nil {
		t.Fatalf("Append(insert 20): %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	res, err := log.Changes(1, collection.Mail, "0", 0)
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	if len(res.Changes) != 2 {
		t.Fatalf("Changes = %v, want 2 entries", res.Changes)
	}
	if res.Changes[0].ExternalID != 10 || res.Changes[0].Kind != KindInsert {
		t.Fatalf("Changes[0] = %+v, want insert of 10 (insert+update collapses to insert)", res.Changes[0])
	}
	if res.Changes[1].ExternalID != 20 || res.Changes[1].Kind != KindInsert {
		t.Fatalf("Changes[1] = %+v, want insert of 20", res.Changes[1])
	}
	if res.NewState != "3" {
		t.Fatalf("NewState = %s, want 3", res.NewState)
	}
}

func TestChangesCollapsesInsertDeleteToNothing(t *testing.T) {
	db := mailtest.DB(t)
	log := New(db)

	batch := db.NewBatch()
	log.Append(batch, collection.Mail, Record{Kind: KindInsert, Account: 1, ExternalID: 10})
	log.Append(batch, collection.Mail, Record{Kind: KindDelete, Account: 1, ExternalID: 10})
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	res, err := log.Changes(1, collection.Mail, "0", 0)
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	if len(res.Changes) != 0 {
		t.Fatalf("Changes = %v, want empty (insert+delete cancels)", res.Changes)
	}
}

func TestChangesFiltersByAccount(t *testing.T) {
	db := mailtest.DB(t)
	log := New(db)

	batch := db.NewBatch()
	log.Append(batch, collection.Mail, Record{Kind: KindInsert, Account: 1, ExternalID: 10})
	log.Append(batch, collection.Mail, Record{Kind: KindInsert, Account: 2, ExternalID: 20})
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	res, err := log.Changes(2, collection.Mail, "0", 0)
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	if len(res.Changes) != 1 || res.Changes[0].ExternalID != 20 {
		t.Fatalf("Changes = %v, want only account 2's entry", res.Changes)
	}
}

func TestChangesAheadOfHistoryErrors(t *testing.T) {
	db := mailtest.DB(t)
	log := New(db)

	_, err := log.Changes(1, collection.Mail, "5", 0)
	if !mailerr.Is(err, mailerr.CannotCalculateChanges) {
		t.Fatalf("err = %v, want CannotCalculateChanges", err)
	}
}

func TestStateTokenAdvances(t *testing.T) {
	db := mailtest.DB(t)
	log := New(db)

	tok, err := log.StateToken(1, collection.Mail)
	if err != nil {
		t.Fatalf("StateToken: %v", err)
	}
	if tok != "0" {
		t.Fatalf("StateToken = %s, want 0", tok)
	}

	batch := db.NewBatch()
	changeID, err := log.Append(batch, collection.Mail, Record{Kind: KindInsert, Account: 1, ExternalID: 1})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	log.AdvanceState(batch, 1, collection.Mail, changeID)
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tok, err = log.StateToken(1, collection.Mail)
	if err != nil {
		t.Fatalf("StateToken: %v", err)
	}
	if tok != "1" {
		t.Fatalf("StateToken = %s, want 1", tok)
	}
}
