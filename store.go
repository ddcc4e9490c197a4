// Package mailcore is the storage and indexing core: a single Store
// facade composing the kv engine, blob store, threader, ORM, query
// engine, mutation engine, and change log into the get/set/query/
// changes/blob_get/import_message entry points §6 names as the
// surface the out-of-scope JMAP/IMAP front ends call into.
package mailcore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"crawshaw.io/iox"
	"crawshaw.io/sqlite/sqlitex"

	"go.inkwell.dev/mailcore/bitmap"
	"go.inkwell.dev/mailcore/blob"
	"go.inkwell.dev/mailcore/changelog"
	"go.inkwell.dev/mailcore/collection"
	"go.inkwell.dev/mailcore/config"
	"go.inkwell.dev/mailcore/email"
	"go.inkwell.dev/mailcore/email/msgcleaver"
	"go.inkwell.dev/mailcore/html/htmlsafe"
	"go.inkwell.dev/mailcore/internal/lock"
	"go.inkwell.dev/mailcore/kv"
	"go.inkwell.dev/mailcore/mail/index"
	"go.inkwell.dev/mailcore/mail/parse"
	"go.inkwell.dev/mailcore/mailerr"
	"go.inkwell.dev/mailcore/mlog"
	"go.inkwell.dev/mailcore/mutate"
	"go.inkwell.dev/mailcore/orm"
	"go.inkwell.dev/mailcore/query"
	"go.inkwell.dev/mailcore/spilldb/db"
	"go.inkwell.dev/mailcore/thread"
	"go.inkwell.dev/mailcore/util/throttle"
)

// Store is the core object: one per running server, opened onto a
// single badger directory.
type Store struct {
	db       *kv.DB
	filer    *iox.Filer
	blobs    *blob.Store
	log      *changelog.Log
	locks    *lock.Registry
	threader *thread.Threader
	mutate   *mutate.Engine
	logf     mlog.Func

	// accounts and authn are nil unless cfg.AccountDBPath is set, the
	// teacher's spilldb/db SQL store kept as the system of record for
	// which account ids exist.
	accounts *sqlitex.Pool
	authn    *db.Authenticator
}

// Open opens (creating if necessary) a Store backed by a badger
// directory at cfg.DBPath, the production entry point a binary in
// cmd/ calls after building cfg from flag.*.
func Open(cfg config.Config, logf mlog.Func) (*Store, error) {
	kvdb, err := kv.Open(cfg.DBPath, logf)
	if err != nil {
		return nil, fmt.Errorf("mailcore.Open: %w", err)
	}
	accounts, err := openAccountDB(cfg.AccountDBPath)
	if err != nil {
		kvdb.Close()
		return nil, err
	}
	return newStore(kvdb, accounts, cfg, logf), nil
}

// OpenInMemory opens an ephemeral in-memory Store, for tests and
// short-lived tools.
func OpenInMemory(cfg config.Config, logf mlog.Func) (*Store, error) {
	kvdb, err := kv.OpenInMemory(logf)
	if err != nil {
		return nil, fmt.Errorf("mailcore.OpenInMemory: %w", err)
	}
	accounts, err := openAccountDB(cfg.AccountDBPath)
	if err != nil {
		kvdb.Close()
		return nil, err
	}
	return newStore(kvdb, accounts, cfg, logf), nil
}

func newStore(kvdb *kv.DB, accounts *sqlitex.Pool, cfg config.Config, logf mlog.Func) *Store {
	locks := lock.NewRegistry()
	logFn := mlog.OrDiscard(logf)
	clog := changelog.New(kvdb)
	filer := iox.NewFiler(0)
	var authn *db.Authenticator
	if accounts != nil {
		authn = &db.Authenticator{DB: accounts, Throttle: throttle.Throttle{}, Logf: logFn, Where: "mailcore.AuthenticateDevice"}
	}
	return &Store{
		db:       kvdb,
		filer:    filer,
		blobs:    blob.NewStore(kvdb, filer, logFn),
		log:      clog,
		locks:    locks,
		threader: thread.New(kvdb, locks),
		mutate:   mutate.New(kvdb, clog, locks, cfg),
		logf:     logFn,
		accounts: accounts,
		authn:    authn,
	}
}

// Close releases the underlying storage engine, staging filer, and
// account database (if one was configured).
func (s *Store) Close() error {
	s.filer.Shutdown(context.Background())
	if err := closeAccountDB(s.accounts); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

// Get returns the ORM document for (account, coll, docID), the
// get operation of §6.
func (s *Store) Get(account uint32, coll collection.ID, docID uint32) (*orm.Document, error) {
	raw, err := s.db.Get(kv.ValueKey(account, byte(coll), docID, orm.FieldORM))
	if err != nil {
		return nil, fmt.Errorf("mailcore.Get: %w", err)
	}
	if len(raw) == 0 {
		return nil, mailerr.New(mailerr.NotFound, "document does not exist")
	}
	return orm.Unmarshal(raw)
}

// Set runs a phased create/update/destroy call, the set operation of
// §6.
func (s *Store) Set(req mutate.Request) (*mutate.Response, error) {
	if ok, err := s.AccountExists(req.Account); err != nil {
		return nil, fmt.Errorf("mailcore.Set: %w", err)
	} else if !ok {
		return nil, mailerr.New(mailerr.NotFound, "account does not exist")
	}
	return s.mutate.Set(req)
}

// Query evaluates a filter/sort/pagination request, the query
// operation of §6.
func (s *Store) Query(q query.Query) (query.Result, error) {
	return query.Execute(s.db, q)
}

// Changes replays a collection's change log for account since
// sinceState, the changes operation of §6.
func (s *Store) Changes(account uint32, coll collection.ID, sinceState string, maxChanges int) (*changelog.ChangesResult, error) {
	return s.log.Changes(account, coll, sinceState, maxChanges)
}

// BlobGet returns the bytes of hash between [offsetStart,
// offsetStart+size), size <= 0 meaning "to the end", decoding the
// section per encoding first, the blob_get operation of §6.
func (s *Store) BlobGet(hash blob.Hash, offsetStart, size int64, encoding blob.Encoding) ([]byte, error) {
	if offsetStart == 0 && size <= 0 && encoding == blob.EncodingNone {
		return s.blobs.Get(hash)
	}
	return s.blobs.GetRange(hash, blob.Section{OffsetStart: offsetStart, Size: size, Encoding: encoding})
}

// RawMessage returns the complete original RFC 5322 bytes of the Mail
// document at docID, resolving its stored blobId and fetching through
// BlobGet. mailfetch uses this for BODY/RFC822-family FETCH items.
func (s *Store) RawMessage(account uint32, docID uint32) ([]byte, error) {
	doc, err := s.Get(account, collection.Mail, docID)
	if err != nil {
		return nil, fmt.Errorf("mailcore.RawMessage: %w", err)
	}
	v := doc.Get(orm.PropMailBlobID)
	if v.Kind != orm.KindBlob {
		return nil, mailerr.New(mailerr.DataCorruption, "mail document has no stored blobId")
	}
	hash, err := blob.ParseHash(v.Blob)
	if err != nil {
		return nil, fmt.Errorf("mailcore.RawMessage: %w", err)
	}
	return s.BlobGet(hash, 0, 0, blob.EncodingNone)
}

// SanitizedHTMLBody returns the first text/html body part of the Mail
// document at docID run through the teacher's html/htmlsafe walker,
// the rendering a webmail front end shows in place of the raw MIME
// part so a message can't smuggle script/style-based attacks into the
// client. Returns ("", false, nil) when the message has no HTML part.
func (s *Store) SanitizedHTMLBody(account uint32, docID uint32) (string, bool, error) {
	raw, err := s.RawMessage(account, docID)
	if err != nil {
		return "", false, fmt.Errorf("mailcore.SanitizedHTMLBody: %w", err)
	}
	msg, err := msgcleaver.Cleave(s.filer, bytes.NewReader(raw))
	if err != nil {
		return "", false, fmt.Errorf("mailcore.SanitizedHTMLBody: %w", err)
	}
	defer msg.Close()

	for _, p := range msg.Parts {
		if !p.IsBody || !strings.EqualFold(p.ContentType, "text/html") || p.Content == nil {
			continue
		}
		if _, err := p.Content.Seek(0, io.SeekStart); err != nil {
			return "", false, fmt.Errorf("mailcore.SanitizedHTMLBody: %w", err)
		}
		var out bytes.Buffer
		san := htmlsafe.Sanitizer{Options: htmlsafe.StrictEmail}
		if _, err := san.Sanitize(&out, p.Content); err != nil {
			return "", false, fmt.Errorf("mailcore.SanitizedHTMLBody: %w", err)
		}
		return out.String(), true, nil
	}
	return "", false, nil
}

// ImportOptions carries the placement facts import_message needs
// beyond the raw RFC 5322 bytes: which mailboxes the new message
// belongs to and its initial keyword set.
type ImportOptions struct {
	Account    uint32
	MailboxIDs []uint32
	Keywords   []string
}

// ImportResult is what a successful import_message call reports back:
// the new document's id, its external id (thread-id-prefixed per
// §4.8), and the assigned thread id.
type ImportResult struct {
	DocID      uint32
	ExternalID uint64
	ThreadID   uint32
	NewState   string
}

// ImportMessage parses raw as an RFC 5322 message, stages its content
// into the blob store, indexes it, assigns its thread, writes its ORM
// row, and appends a changelog insert — the import_message operation
// of §6, the only way a Mail document is created (mutate.Engine.Set
// rejects Mail creates for exactly this reason).
func (s *Store) ImportMessage(raw io.Reader, opts ImportOptions) (*ImportResult, error) {
	if len(opts.MailboxIDs) == 0 {
		return nil, mailerr.InvalidProperty("mailboxIds", "a Mail document must belong to at least one mailbox")
	}
	if ok, err := s.AccountExists(opts.Account); err != nil {
		return nil, fmt.Errorf("mailcore.ImportMessage: %w", err)
	} else if !ok {
		return nil, mailerr.New(mailerr.NotFound, "account does not exist")
	}

	unlock := s.locks.Lock(opts.Account)
	defer unlock()

	md, err := parse.Parse(s.filer, s.blobs, raw)
	if err != nil {
		return nil, fmt.Errorf("mailcore.ImportMessage: %w", err)
	}

	docID, err := s.db.AllocateID(kv.DocIDCounterKey(opts.Account, byte(collection.Mail)))
	if err != nil {
		return nil, fmt.Errorf("mailcore.ImportMessage: %w", err)
	}

	doc := orm.New()
	doc.Set(orm.PropMailMailboxIDs, orm.NewMailboxIDs(toMailboxSet(opts.MailboxIDs)), orm.TagSet{})
	doc.Set(orm.PropMailKeywords, orm.NewKeywords(toKeywordSet(opts.Keywords)), orm.TagSet{})
	doc.Set(orm.PropMailSubject, orm.NewText(md.Subject), orm.TagSet{})
	doc.Set(orm.PropMailFrom, orm.NewAddresses(toORMAddresses(md.From)), orm.TagSet{})
	doc.Set(orm.PropMailTo, orm.NewAddresses(toORMAddresses(md.To)), orm.TagSet{})
	doc.Set(orm.PropMailCC, orm.NewAddresses(toORMAddresses(md.CC)), orm.TagSet{})
	doc.Set(orm.PropMailBCC, orm.NewAddresses(toORMAddresses(md.BCC)), orm.TagSet{})
	doc.Set(orm.PropMailSize, orm.NewSize(md.Size), orm.TagSet{})
	doc.Set(orm.PropMailReceivedAt, orm.NewDate(md.Date), orm.TagSet{})
	doc.Set(orm.PropMailHasAttachment, orm.NewBool(len(md.Attachments) > 0), orm.TagSet{})
	doc.Set(orm.PropMailBlobID, orm.NewBlob(md.RawBlob.String()), orm.TagSet{})

	batch := s.db.NewBatch()

	if err := index.Append(batch, md, index.Options{
		Account: opts.Account, DocID: docID, MailboxIDs: opts.MailboxIDs, Keywords: opts.Keywords,
	}); err != nil {
		return nil, fmt.Errorf("mailcore.ImportMessage: %w", err)
	}

	threadID, threadEvents, err := s.threader.Assign(batch, opts.Account, docID, md)
	if err != nil {
		return nil, fmt.Errorf("mailcore.ImportMessage: %w", err)
	}
	doc.Set(orm.PropMailThreadID, orm.NewID(uint64(threadID)), orm.TagSet{})

	docBytes, err := doc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("mailcore.ImportMessage: %w", err)
	}
	batch.Set(kv.ValueKey(opts.Account, byte(collection.Mail), docID, orm.FieldORM), docBytes)
	batch.MergeBitmap(kv.DocIDsBitmapKey(opts.Account, byte(collection.Mail)), bitmap.EncodeBitlist([]bitmap.BitOp{{ID: docID, Set: true}}))

	extID := uint64(threadID)<<32 | uint64(docID)
	changeID, err := s.log.Append(batch, collection.Mail, changelog.Record{
		Kind: changelog.KindInsert, Account: opts.Account, ExternalID: extID,
	})
	if err != nil {
		return nil, fmt.Errorf("mailcore.ImportMessage: %w", err)
	}

	// A thread merge can absorb other threads into this one: log a Move
	// per displaced member (its external id's thread-id prefix changed)
	// and a Delete for each absorbed thread itself, per §4.9/Scenario B.
	for _, ev := range threadEvents {
		switch ev.Kind {
		case thread.EventMove:
			changeID, err = s.log.Append(batch, collection.Mail, changelog.Record{
				Kind:       changelog.KindMove,
				Account:    opts.Account,
				ExternalID: uint64(ev.ThreadID)<<32 | uint64(ev.DocID),
				MoveFrom:   uint64(ev.OldThreadID)<<32 | uint64(ev.DocID),
			})
			if err != nil {
				return nil, fmt.Errorf("mailcore.ImportMessage: %w", err)
			}
		case thread.EventDelete:
			threadChangeID, err := s.log.Append(batch, collection.Thread, changelog.Record{
				Kind: changelog.KindDelete, Account: opts.Account, ExternalID: uint64(ev.ThreadID),
			})
			if err != nil {
				return nil, fmt.Errorf("mailcore.ImportMessage: %w", err)
			}
			s.log.AdvanceState(batch, opts.Account, collection.Thread, threadChangeID)
		}
	}
	s.log.AdvanceState(batch, opts.Account, collection.Mail, changeID)

	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("mailcore.ImportMessage: %w", err)
	}
	s.logf("import_message: account=%d doc=%d thread=%d size=%d", opts.Account, docID, threadID, md.Size)

	return &ImportResult{
		DocID: docID, ExternalID: extID, ThreadID: threadID,
		NewState: strconv.FormatUint(changeID, 10),
	}, nil
}

func toMailboxSet(ids []uint32) map[uint32]bool {
	out := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func toKeywordSet(keywords []string) map[string]bool {
	out := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		out[strings.ToLower(kw)] = true
	}
	return out
}

func toORMAddresses(addrs []email.Address) []orm.Address {
	out := make([]orm.Address, len(addrs))
	for i, a := range addrs {
		out[i] = orm.Address{Name: a.Name, Addr: a.Addr}
	}
	return out
}
