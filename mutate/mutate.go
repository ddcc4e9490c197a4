package mutate

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"go.inkwell.dev/mailcore/bitmap"
	"go.inkwell.dev/mailcore/changelog"
	"go.inkwell.dev/mailcore/collection"
	"go.inkwell.dev/mailcore/config"
	"go.inkwell.dev/mailcore/internal/lock"
	"go.inkwell.dev/mailcore/kv"
	"go.inkwell.dev/mailcore/mailerr"
	"go.inkwell.dev/mailcore/orm"
)

// ItemError is one per-item set failure, collected into a Response's
// NotCreated/NotUpdated/NotDestroyed maps rather than aborting the
// call, per spec.md §4.8.
type ItemError struct {
	Kind     mailerr.Kind
	Property string
	Reason   string
}

func itemErrorFrom(err error) ItemError {
	if e, ok := err.(*mailerr.Error); ok {
		return ItemError{Kind: e.Kind, Property: e.Property, Reason: e.Reason}
	}
	return ItemError{Kind: mailerr.InternalError, Reason: err.Error()}
}

// CreateItem is one create request, keyed by the client's own id
// (JMAP's #clientId), carrying the properties to set on the new
// document.
type CreateItem struct {
	ClientID string
	Patch    *orm.Document
}

// UpdateItem patches an existing document, identified by its external
// id. Patch carries only the properties/tags the client wants changed.
type UpdateItem struct {
	ExternalID uint64
	Patch      *orm.Document
}

// Request is one set call, scoped to a single account and collection.
type Request struct {
	Account    uint32
	Collection collection.ID
	IfInState  string // empty: skip the state check

	Create  []CreateItem
	Update  []UpdateItem
	Destroy []uint64

	// OnDestroyRemoveEmails governs destroying a non-empty Mailbox:
	// false (the default) refuses with MailboxHasEmail; true removes
	// the mailbox from every contained message instead, cascading to a
	// full message delete if that was its last mailbox.
	OnDestroyRemoveEmails bool
}

// Response is the outcome of a Set call.
type Response struct {
	Created      map[string]uint64
	NotCreated   map[string]ItemError
	Updated      []uint64
	NotUpdated   map[uint64]ItemError
	Destroyed    []uint64
	NotDestroyed map[uint64]ItemError
	OldState     string
	NewState     string
}

// Engine runs Set calls against one kv.DB.
type Engine struct {
	db    *kv.DB
	log   *changelog.Log
	locks *lock.Registry
	cfg   config.Config
}

func New(db *kv.DB, log *changelog.Log, locks *lock.Registry, cfg config.Config) *Engine {
	return &Engine{db: db, log: log, locks: locks, cfg: cfg}
}

// externalID composes the 64-bit external id: prefix (thread id for
// Mail, 0 otherwise) in the high 32 bits, document id in the low 32.
func externalID(coll collection.ID, doc *orm.Document, docID uint32) uint64 {
	var prefix uint32
	if coll == collection.Mail {
		if tid := doc.Get(orm.PropMailThreadID); tid.Kind == orm.KindID {
			prefix = uint32(tid.ID)
		}
	}
	return uint64(prefix)<<32 | uint64(docID)
}

func docIDOf(extID uint64) uint32 { return uint32(extID) }

// Set runs req's create/update/destroy maps in phases, under req's
// per-account lock, and advances the collection's state token
// by one change_id per item successfully applied.
func (e *Engine) Set(req Request) (*Response, error) {
	if max := e.cfg.MaxObjectsInSet; max > 0 && len(req.Create)+len(req.Update)+len(req.Destroy) > max {
		return nil, mailerr.New(mailerr.RequestTooLarge, "set call exceeds maxObjectsInSet")
	}

	unlock := e.locks.Lock(req.Account)
	defer unlock()

	oldState, err := e.log.StateToken(req.Account, req.Collection)
	if err != nil {
		return nil, err
	}
	if req.IfInState != "" && req.IfInState != oldState {
		return nil, mailerr.New(mailerr.StateMismatch, "ifInState does not match the collection's current state")
	}
	lastChangeID, err := strconv.ParseUint(oldState, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("mutate.Set: %w", err)
	}

	resp := &Response{
		Created:      map[string]uint64{},
		NotCreated:   map[string]ItemError{},
		NotUpdated:   map[uint64]ItemError{},
		NotDestroyed: map[uint64]ItemError{},
		OldState:     oldState,
	}
	batch := e.db.NewBatch()

	for _, item := range req.Create {
		if req.Collection == collection.Mail {
			resp.NotCreated[item.ClientID] = ItemError{
				Kind: mailerr.InvalidArguments, Reason: "Mail documents are created via import_message, not set",
			}
			continue
		}
		changeID, extID, err := e.create(batch, req.Account, req.Collection, item)
		if err != nil {
			resp.NotCreated[item.ClientID] = itemErrorFrom(err)
			continue
		}
		lastChangeID = changeID
		resp.Created[item.ClientID] = extID
	}

	for _, item := range req.Update {
		changeID, err := e.update(batch, req.Account, req.Collection, item)
		if err != nil {
			resp.NotUpdated[item.ExternalID] = itemErrorFrom(err)
			continue
		}
		lastChangeID = changeID
		resp.Updated = append(resp.Updated, item.ExternalID)
	}

	for _, extID := range req.Destroy {
		changeID, err := e.destroy(batch, req.Account, req.Collection, extID, req.OnDestroyRemoveEmails)
		if err != nil {
			resp.NotDestroyed[extID] = itemErrorFrom(err)
			continue
		}
		lastChangeID = changeID
		resp.Destroyed = append(resp.Destroyed, extID)
	}

	e.log.AdvanceState(batch, req.Account, req.Collection, lastChangeID)
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("mutate.Set: %w", err)
	}
	resp.NewState = strconv.FormatUint(lastChangeID, 10)
	return resp, nil
}

func (e *Engine) create(batch *kv.Batch, account uint32, coll collection.ID, item CreateItem) (changeID uint64, extID uint64, err error) {
	tracker := orm.TrackChanges(orm.New())
	applyPatch(tracker.Staged, item.Patch)

	cs, err := tracker.MergeValidate(coll)
	if err != nil {
		return 0, 0, err
	}

	if coll == collection.Mailbox {
		if err := e.checkMailboxLimits(account, tracker.Staged); err != nil {
			return 0, 0, err
		}
	}

	docID, err := e.db.AllocateID(kv.DocIDCounterKey(account, byte(coll)))
	if err != nil {
		return 0, 0, err
	}

	docBytes, err := tracker.Staged.Marshal()
	if err != nil {
		return 0, 0, err
	}
	batch.Set(kv.ValueKey(account, byte(coll), docID, orm.FieldORM), docBytes)
	batch.MergeBitmap(kv.DocIDsBitmapKey(account, byte(coll)), bitmap.EncodeBitlist([]bitmap.BitOp{{ID: docID, Set: true}}))
	applyChangeSet(batch, account, coll, docID, cs)

	extID = externalID(coll, tracker.Staged, docID)
	changeID, err = e.log.Append(batch, coll, changelog.Record{Kind: changelog.KindInsert, Account: account, ExternalID: extID})
	if err != nil {
		return 0, 0, err
	}
	return changeID, extID, nil
}

func (e *Engine) update(batch *kv.Batch, account uint32, coll collection.ID, item UpdateItem) (uint64, error) {
	docID := docIDOf(item.ExternalID)
	raw, err := e.db.Get(kv.ValueKey(account, byte(coll), docID, orm.FieldORM))
	if err != nil {
		return 0, err
	}
	if len(raw) == 0 {
		return 0, mailerr.New(mailerr.NotFound, "document does not exist")
	}
	current, err := orm.Unmarshal(raw)
	if err != nil {
		return 0, err
	}

	tracker := orm.TrackChanges(current)
	applyPatch(tracker.Staged, item.Patch)

	cs, err := tracker.MergeValidate(coll)
	if err != nil {
		return 0, err
	}

	docBytes, err := tracker.Staged.Marshal()
	if err != nil {
		return 0, err
	}
	batch.Set(kv.ValueKey(account, byte(coll), docID, orm.FieldORM), docBytes)
	applyChangeSet(batch, account, coll, docID, cs)

	if coll == collection.Mail {
		for _, mailboxDocID := range touchedMailboxes(cs) {
			if _, err := e.log.Append(batch, collection.Mailbox, changelog.Record{
				Kind: changelog.KindChildUpdate, Account: account,
				ExternalID: uint64(mailboxDocID), ChildCollection: byte(collection.Mail), ChildDocID: docID,
			}); err != nil {
				return 0, err
			}
		}
	}

	extID := externalID(coll, tracker.Staged, docID)
	return e.log.Append(batch, coll, changelog.Record{Kind: changelog.KindUpdate, Account: account, ExternalID: extID})
}

// touchedMailboxes returns the mailbox document ids whose membership
// changed because of a PropMailMailboxIDs property change in cs.
func touchedMailboxes(cs *orm.ChangeSet) []uint32 {
	for _, pc := range cs.Properties {
		if pc.Property != orm.PropMailMailboxIDs {
			continue
		}
		seen := make(map[uint32]bool)
		for id := range pc.Old.MailboxIDs {
			seen[id] = true
		}
		for id := range pc.New.MailboxIDs {
			seen[id] = true
		}
		out := make([]uint32, 0, len(seen))
		for id := range seen {
			out = append(out, id)
		}
		return out
	}
	return nil
}

func applyPatch(staged *orm.Document, patch *orm.Document) {
	if patch == nil {
		return
	}
	for prop, v := range patch.Properties {
		staged.Set(prop, v, patch.Tags[prop])
	}
	if patch.ACL != nil {
		staged.ACL = patch.ACL
	}
}

func beUint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
