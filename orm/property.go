// Package orm implements §4.6: the typed per-document property map,
// its tag sets and ACL set, and the track_changes/merge_validate change
// tracker the mutation engine drives. New code — the teacher's own
// storage is row-per-column SQL, not a typed map serialized as one
// Values row, so there is no teacher path to adapt here; the shape is
// grounded directly in spec.md §4.6 and in
// original_source/components/jmap_mail for the property lists below.
package orm

import "go.inkwell.dev/mailcore/collection"

// Property is a per-collection enumerated property key. The same
// numeric value means different things in different collections, the
// way spec.md's "Property (an enumerated per-collection key type)"
// describes it; callers always pair a Property with a collection.ID.
type Property uint16

// Mail properties, per the JMAP Email object.
const (
	PropMailID Property = iota + 1
	PropMailThreadID
	PropMailMailboxIDs
	PropMailKeywords
	PropMailSize
	PropMailReceivedAt
	PropMailSentAt
	PropMailSubject
	PropMailFrom
	PropMailTo
	PropMailCC
	PropMailBCC
	PropMailReplyTo
	PropMailSender
	PropMailHasAttachment
	PropMailPreview
	PropMailBodyStructure
	PropMailTextBody
	PropMailHTMLBody
	PropMailAttachments
	PropMailBodyValues
	PropMailHeaders
	PropMailReferences
	PropMailInReplyTo
	PropMailBlobID
)

// Mailbox properties, per the JMAP Mailbox object.
const (
	PropMailboxID Property = iota + 1
	PropMailboxName
	PropMailboxParentID
	PropMailboxRole
	PropMailboxSortOrder
	PropMailboxTotalEmails
	PropMailboxUnreadEmails
	PropMailboxTotalThreads
	PropMailboxUnreadThreads
	PropMailboxIsSubscribed
)

// Thread properties. A Thread object's only settable property is its
// member list; it is never created or updated directly by a client,
// only derived by the threader.
const (
	PropThreadID Property = iota + 1
	PropThreadEmailIDs
)

// Identity properties, per the JMAP Identity object.
const (
	PropIdentityID Property = iota + 1
	PropIdentityName
	PropIdentityEmail
	PropIdentityReplyTo
	PropIdentityBCC
	PropIdentityTextSignature
	PropIdentityHTMLSignature
	PropIdentityMayDelete
)

// propertyNames gives debug-friendly names for common properties
// across collections; used only in error messages and logs, never in
// the wire format.
var propertyNames = map[collection.ID]map[Property]string{
	collection.Mail: {
		PropMailID: "id", PropMailThreadID: "threadId", PropMailMailboxIDs: "mailboxIds",
		PropMailKeywords: "keywords", PropMailSize: "size", PropMailReceivedAt: "receivedAt",
		PropMailSentAt: "sentAt", PropMailSubject: "subject", PropMailFrom: "from",
		PropMailTo: "to", PropMailCC: "cc", PropMailBCC: "bcc", PropMailReplyTo: "replyTo",
		PropMailSender: "sender", PropMailHasAttachment: "hasAttachment", PropMailPreview: "preview",
		PropMailBodyStructure: "bodyStructure", PropMailTextBody: "textBody", PropMailHTMLBody: "htmlBody",
		PropMailAttachments: "attachments", PropMailBodyValues: "bodyValues", PropMailHeaders: "headers",
		PropMailReferences: "references", PropMailInReplyTo: "inReplyTo",
		PropMailBlobID: "blobId",
	},
	collection.Mailbox: {
		PropMailboxID: "id", PropMailboxName: "name", PropMailboxParentID: "parentId",
		PropMailboxRole: "role", PropMailboxSortOrder: "sortOrder",
		PropMailboxTotalEmails: "totalEmails", PropMailboxUnreadEmails: "unreadEmails",
		PropMailboxTotalThreads: "totalThreads", PropMailboxUnreadThreads: "unreadThreads",
		PropMailboxIsSubscribed: "isSubscribed",
	},
}

// Name returns prop's JMAP property name within coll, or a numeric
// placeholder if unknown.
func Name(coll collection.ID, prop Property) string {
	if names, ok := propertyNames[coll]; ok {
		if n, ok := names[prop]; ok {
			return n
		}
	}
	return "prop#" + itoa(uint16(prop))
}

func itoa(v uint16) string {
	if v == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
