package mutate

import (
	"go.inkwell.dev/mailcore/bitmap"
	"go.inkwell.dev/mailcore/changelog"
	"go.inkwell.dev/mailcore/collection"
	"go.inkwell.dev/mailcore/kv"
	"go.inkwell.dev/mailcore/mail/index"
	"go.inkwell.dev/mailcore/mailerr"
	"go.inkwell.dev/mailcore/orm"
)

// trackedMailProperties and trackedMailboxProperties are the schema
// entries fieldFor knows how to index, enumerated so destroy can strip
// every secondary-index entry a document accumulated without needing
// its own copy of the original message or create-time options.
var trackedMailProperties = []orm.Property{
	orm.PropMailMailboxIDs, orm.PropMailKeywords, orm.PropMailSubject,
	orm.PropMailFrom, orm.PropMailTo, orm.PropMailCC, orm.PropMailBCC,
	orm.PropMailSize, orm.PropMailReceivedAt, orm.PropMailHasAttachment,
}

var trackedMailboxProperties = []orm.Property{
	orm.PropMailboxName, orm.PropMailboxParentID, orm.PropMailboxRole, orm.PropMailboxSortOrder,
}

func trackedProperties(coll collection.ID) []orm.Property {
	if coll == collection.Mail {
		return trackedMailProperties
	}
	return trackedMailboxProperties
}

// checkMailboxLimits enforces config.Config's MailboxMaxTotal and
// MailboxMaxDepth against a mailbox about to be created, per §6's
// mailbox limits (grounded in original_source's jmap_mail mailbox
// rules, scaled down for this tree's defaults).
func (e *Engine) checkMailboxLimits(account uint32, staged *orm.Document) error {
	if max := e.cfg.MailboxMaxTotal; max > 0 {
		existing, err := e.db.ReadBitmap(kv.DocIDsBitmapKey(account, byte(collection.Mailbox)))
		if err != nil {
			return err
		}
		if existing != nil && existing.Cardinality() >= max {
			return mailerr.New(mailerr.InvalidArguments, "account has reached its maximum number of mailboxes")
		}
	}

	if max := e.cfg.MailboxMaxDepth; max > 0 {
		depth := 1
		parent := staged.Get(orm.PropMailboxParentID)
		for parent.Kind == orm.KindID && parent.ID != 0 {
			depth++
			if depth > max {
				return mailerr.New(mailerr.InvalidArguments, "mailbox nesting exceeds the maximum allowed depth")
			}
			raw, err := e.db.Get(kv.ValueKey(account, byte(collection.Mailbox), uint32(parent.ID), orm.FieldORM))
			if err != nil {
				return err
			}
			if len(raw) == 0 {
				break
			}
			ancestor, err := orm.Unmarshal(raw)
			if err != nil {
				return err
			}
			parent = ancestor.Get(orm.PropMailboxParentID)
		}
	}
	return nil
}

// destroy runs coll's destroy hook (if any) then removes doc's ORM row,
// doc-ids membership, and every secondary-index entry it holds.
func (e *Engine) destroy(batch *kv.Batch, account uint32, coll collection.ID, extID uint64, onDestroyRemoveEmails bool) (uint64, error) {
	docID := docIDOf(extID)
	raw, err := e.db.Get(kv.ValueKey(account, byte(coll), docID, orm.FieldORM))
	if err != nil {
		return 0, err
	}
	if len(raw) == 0 {
		return 0, mailerr.New(mailerr.NotFound, "document does not exist")
	}
	doc, err := orm.Unmarshal(raw)
	if err != nil {
		return 0, err
	}

	if coll == collection.Mailbox {
		if err := e.destroyMailbox(batch, account, docID, onDestroyRemoveEmails); err != nil {
			return 0, err
		}
	}

	e.removeDocument(batch, account, coll, docID, doc)

	return e.log.Append(batch, coll, changelog.Record{Kind: changelog.KindDelete, Account: account, ExternalID: extID})
}

// destroyMailbox enforces §4.8's destroy guards: refuse if the mailbox
// has children, refuse if it still contains mail unless the caller
// asked to cascade. Cascading removes the mailbox from every contained
// message, deleting any message left with no mailbox at all.
func (e *Engine) destroyMailbox(batch *kv.Batch, account uint32, mailboxDocID uint32, onDestroyRemoveEmails bool) error {
	children, err := e.db.ReadBitmap(kv.BitmapKey(account, byte(collection.Mailbox), mailboxFieldParentID, beBytes(mailboxDocID)))
	if err != nil {
		return err
	}
	if children != nil && children.Cardinality() > 0 {
		return mailerr.New(mailerr.MailboxHasChild, "mailbox has child mailboxes")
	}

	contained, err := e.db.ReadBitmap(kv.BitmapKey(account, byte(collection.Mail), byte(index.FieldMailbox), beBytes(mailboxDocID)))
	if err != nil {
		return err
	}
	if contained == nil || contained.Cardinality() == 0 {
		return nil
	}
	if !onDestroyRemoveEmails {
		return mailerr.New(mailerr.MailboxHasEmail, "mailbox still contains messages")
	}

	for _, mailDocID := range contained.ToArray() {
		if err := e.removeMailboxFromMessage(batch, account, mailboxDocID, mailDocID); err != nil {
			return err
		}
		if _, err := e.log.Append(batch, collection.Mailbox, changelog.Record{
			Kind: changelog.KindChildUpdate, Account: account,
			ExternalID: uint64(mailboxDocID), ChildCollection: byte(collection.Mail), ChildDocID: mailDocID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// removeMailboxFromMessage drops mailboxDocID from one message's
// MailboxIDs, deleting the message outright if that was its last
// mailbox (a Mail document must belong to at least one, per
// validateMail).
func (e *Engine) removeMailboxFromMessage(batch *kv.Batch, account uint32, mailboxDocID, mailDocID uint32) error {
	raw, err := e.db.Get(kv.ValueKey(account, byte(collection.Mail), mailDocID, orm.FieldORM))
	if err != nil {
		return err
	}
	current, err := orm.Unmarshal(raw)
	if err != nil {
		return err
	}

	old := current.Get(orm.PropMailMailboxIDs)
	remaining := make(map[uint32]bool, len(old.MailboxIDs))
	for id, v := range old.MailboxIDs {
		if id != mailboxDocID {
			remaining[id] = v
		}
	}

	if len(remaining) == 0 {
		extID := externalID(collection.Mail, current, mailDocID)
		e.removeDocument(batch, account, collection.Mail, mailDocID, current)
		_, err := e.log.Append(batch, collection.Mail, changelog.Record{Kind: changelog.KindDelete, Account: account, ExternalID: extID})
		return err
	}

	tracker := orm.TrackChanges(current)
	tracker.Staged.Set(orm.PropMailMailboxIDs, orm.NewMailboxIDs(remaining), nil)
	cs, err := tracker.MergeValidate(collection.Mail)
	if err != nil {
		return err
	}
	docBytes, err := tracker.Staged.Marshal()
	if err != nil {
		return err
	}
	batch.Set(kv.ValueKey(account, byte(collection.Mail), mailDocID, orm.FieldORM), docBytes)
	applyChangeSet(batch, account, collection.Mail, mailDocID, cs)

	extID := externalID(collection.Mail, tracker.Staged, mailDocID)
	_, err = e.log.Append(batch, collection.Mail, changelog.Record{Kind: changelog.KindUpdate, Account: account, ExternalID: extID})
	return err
}

// removeDocument strips doc's ORM row, doc-ids membership, and every
// secondary-index entry fieldFor knows about for coll.
func (e *Engine) removeDocument(batch *kv.Batch, account uint32, coll collection.ID, docID uint32, doc *orm.Document) {
	batch.Delete(kv.ValueKey(account, byte(coll), docID, orm.FieldORM))
	batch.MergeBitmap(kv.DocIDsBitmapKey(account, byte(coll)), bitmap.EncodeBitlist([]bitmap.BitOp{{ID: docID, Set: false}}))

	for _, prop := range trackedProperties(coll) {
		field, ok := fieldFor(coll, prop)
		if !ok {
			continue
		}
		opts := orm.IndexOptionsFor(coll, prop)
		old := doc.Get(prop)
		if opts.Keyword {
			applyKeywordChange(batch, account, coll, field, docID, old, orm.Null())
		}
		if opts.Sort {
			applySortChange(batch, account, coll, field, docID, old, orm.Null())
		}
	}
}
