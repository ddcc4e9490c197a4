package orm

import (
	"go.inkwell.dev/mailcore/collection"
	"go.inkwell.dev/mailcore/mailerr"
)

// PropertyChange records one property whose value differs between the
// original and the merged document, and the index behavior the
// mutation engine should apply for it.
type PropertyChange struct {
	Property Property
	Old, New Value
	Options  IndexOptions
}

// TagChange records one property's tag-set delta.
type TagChange struct {
	Property Property
	Added    []Tag
	Removed  []Tag
}

// ACLChange records one principal/permission grant or revocation, the
// unit the ACL-token cache and shared-resource cache invalidate by.
type ACLChange struct {
	Principal  uint64
	Permission uint32
	Granted    bool // true: entry added, false: entry removed
}

// ChangeSet is everything merge_validate computed from one mutation:
// what changed, grouped the way each consumer (index writer, bitmap
// writer, cache invalidator) needs it.
type ChangeSet struct {
	Properties []PropertyChange
	Tags       []TagChange
	ACL        []ACLChange
}

// Tracker stages a mutation against a document's current state,
// implementing spec.md §4.6's TinyORM::track_changes: Staged starts as
// a clone of current and is what callers patch in place before calling
// MergeValidate.
type Tracker struct {
	original *Document
	Staged   *Document
}

// TrackChanges returns a Tracker initialized from current. current is
// not retained for further mutation; only Staged is meant to be
// edited.
func TrackChanges(current *Document) *Tracker {
	return &Tracker{original: current.Clone(), Staged: current.Clone()}
}

// Validator checks collection-specific invariants a merged document
// must satisfy. It has no visibility into sibling documents, so it can
// only enforce invariants checkable from one document's own state
// (e.g. "Mail always has at least one MailboxId"); invariants that
// span documents (mailbox name uniqueness among siblings, parent
// forest depth, at most one mailbox per role) are the mutation
// engine's responsibility, since only it holds the cross-document view
// needed to check them.
type Validator func(doc *Document) error

var validators = map[collection.ID]Validator{
	collection.Mail:    validateMail,
	collection.Mailbox: validateMailbox,
}

func validateMail(doc *Document) error {
	mboxes := doc.Get(PropMailMailboxIDs)
	if mboxes.Kind != KindMailboxIDs || len(mboxes.MailboxIDs) == 0 {
		return mailerr.InvalidProperty(Name(collection.Mail, PropMailMailboxIDs), "a Mail document must belong to at least one mailbox")
	}
	return nil
}

func validateMailbox(doc *Document) error {
	name := doc.Get(PropMailboxName)
	if name.Kind != KindText || name.Text == "" {
		return mailerr.InvalidProperty(Name(collection.Mailbox, PropMailboxName), "a mailbox must have a non-empty name")
	}
	return nil
}

// MergeValidate computes the ChangeSet between t.original and
// t.Staged within coll, then runs coll's Validator against Staged.
// On validation failure it returns the structured error and a nil
// ChangeSet; the caller must not apply any of the computed changes.
func (t *Tracker) MergeValidate(coll collection.ID) (*ChangeSet, error) {
	if v, ok := validators[coll]; ok {
		if err := v(t.Staged); err != nil {
			return nil, err
		}
	}

	cs := &ChangeSet{}

	seen := make(map[Property]bool)
	for p := range t.original.Properties {
		seen[p] = true
	}
	for p := range t.Staged.Properties {
		seen[p] = true
	}
	for p := range seen {
		oldV := t.original.Get(p)
		newV := t.Staged.Get(p)
		if !oldV.Equal(newV) {
			cs.Properties = append(cs.Properties, PropertyChange{
				Property: p, Old: oldV, New: newV, Options: IndexOptionsFor(coll, p),
			})
		}
	}

	tagProps := make(map[Property]bool)
	for p := range t.original.Tags {
		tagProps[p] = true
	}
	for p := range t.Staged.Tags {
		tagProps[p] = true
	}
	for p := range tagProps {
		added := GetAddedTags(t.original.Tags[p], t.Staged.Tags[p])
		removed := GetRemovedTags(t.original.Tags[p], t.Staged.Tags[p])
		if len(added) > 0 || len(removed) > 0 {
			cs.Tags = append(cs.Tags, TagChange{Property: p, Added: added, Removed: removed})
		}
	}

	cs.ACL = diffACL(t.original.ACL, t.Staged.ACL)

	return cs, nil
}

func diffACL(before, after []ACLEntry) []ACLChange {
	beforeSet := make(map[ACLEntry]bool, len(before))
	for _, e := range before {
		beforeSet[e] = true
	}
	afterSet := make(map[ACLEntry]bool, len(after))
	for _, e := range after {
		afterSet[e] = true
	}

	var out []ACLChange
	for _, e := range after {
		if !beforeSet[e] {
			out = append(out, ACLChange{Principal: e.PrincipalID, Permission: e.Permissions, Granted: true})
		}
	}
	for _, e := range before {
		if !afterSet[e] {
			out = append(out, ACLChange{Principal: e.PrincipalID, Permission: e.Permissions, Granted: false})
		}
	}
	return out
}
