package orm

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// FieldORM is the Values-family field id the whole serialized Document
// is stored under, the sentinel field spec.md §4.6 calls ORM.
const FieldORM byte = 0

// Document is one collection document's full typed state: its
// property map, the tag sets derived from those properties, and its
// ACL set. It is serialized whole into the Values family's ORM
// sentinel field (kv.ValueKey(account, collection, docID, FieldORM)),
// per spec.md §4.6.
type Document struct {
	Properties map[Property]Value    `msgpack:"properties"`
	Tags       map[Property]TagSet   `msgpack:"tags"`
	ACL        []ACLEntry            `msgpack:"acl,omitempty"`
}

// New returns an empty Document.
func New() *Document {
	return &Document{
		Properties: make(map[Property]Value),
		Tags:       make(map[Property]TagSet),
	}
}

// Get returns the value of prop, or the Null value if unset.
func (d *Document) Get(prop Property) Value {
	if v, ok := d.Properties[prop]; ok {
		return v
	}
	return Null()
}

// Set assigns prop's value and, if tags is non-nil, its tag set.
// Passing a nil tags leaves any previously-set tag set for prop
// untouched — callers that want to clear it pass an empty, non-nil
// TagSet.
func (d *Document) Set(prop Property, v Value, tags TagSet) {
	d.Properties[prop] = v
	if tags != nil {
		d.Tags[prop] = tags
	}
}

// Clone returns a copy of d with its own property map, tag sets and
// ACL slice (each Value is copied, but the maps and slices inside a
// Value are shared with d), the basis for track_changes'
// "staging map initialized to current" per spec.md §4.6.
func (d *Document) Clone() *Document {
	out := New()
	for p, v := range d.Properties {
		out.Properties[p] = v
	}
	for p, tags := range d.Tags {
		out.Tags[p] = tags.Clone()
	}
	out.ACL = append([]ACLEntry{}, d.ACL...)
	return out
}

// Marshal encodes d as msgpack, the ORM sentinel field's wire format.
func (d *Document) Marshal() ([]byte, error) {
	b, err := msgpack.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("orm.Document.Marshal: %w", err)
	}
	return b, nil
}

// Unmarshal decodes the ORM sentinel field's bytes into a Document.
func Unmarshal(data []byte) (*Document, error) {
	d := New()
	if len(data) == 0 {
		return d, nil
	}
	if err := msgpack.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("orm.Unmarshal: %w", err)
	}
	if d.Properties == nil {
		d.Properties = make(map[Property]Value)
	}
	if d.Tags == nil {
		d.Tags = make(map[Property]TagSet)
	}
	return d, nil
}
