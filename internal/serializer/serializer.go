// Package serializer turns stored BSON documents into tracked in-memory
// instances and back, in a fixed field order: identity first, then scalar
// and complex properties via the document's own bson tags, then reference
// properties as raw identities (never as materialized objects). Decoding
// goes through a Tracker so that reading an already-tracked identity
// returns the same instance instead of a fresh copy.
package serializer

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RefKind distinguishes a single-document reference from an
// ordered-collection reference.
type RefKind int

const (
	RefSingle RefKind = iota
	RefCollection
)

// NavField describes one reference property a document type carries: its
// wire field name and whether it holds one identity or a sequence.
type NavField struct {
	Name string
	Kind RefKind
}

// Document is the surface the serializer needs from a tracked type. It is
// satisfied structurally by any document exposing this method set;
// callers typically pass a value whose static type carries additional
// methods the serializer never looks at.
type Document interface {
	DocumentID() primitive.ObjectID
	SetDocumentID(primitive.ObjectID)
	NavigationFields() []NavField
	SingleRef(name string) (primitive.ObjectID, bool)
	SetSingleRef(name string, id primitive.ObjectID)
	CollectionRef(name string) []primitive.ObjectID
	SetCollectionRef(name string, ids []primitive.ObjectID)
}

// Tracker is the identity-map side of decoding: it offers the serializer a
// chance to reuse an already-tracked instance, lets it silence
// property-change tracking while it overwrites fields in place, and is
// told about the result once decoding finishes.
type Tracker interface {
	BeforeDeserialize(id primitive.ObjectID) (doc Document, existed bool)
	SuppressTracking(id primitive.ObjectID, suppressed bool)
	AfterDeserialize(id primitive.ObjectID, collection string, doc Document)
}

// Encode produces the wire representation of doc: its bson-tagged scalar
// and complex fields (via bson.Marshal, which places _id first when Base is
// embedded inline as the struct's first field), followed by its
// single-reference fields, followed by its collection-reference fields.
func Encode(doc Document) (bson.D, error) {
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("serializer: encode scalar fields: %w", err)
	}
	var result bson.D
	if err := bson.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("serializer: decode intermediate document: %w", err)
	}

	fields := doc.NavigationFields()
	for _, nf := range fields {
		if nf.Kind != RefSingle {
			continue
		}
		id, _ := doc.SingleRef(nf.Name)
		result = append(result, bson.E{Key: nf.Name, Value: id})
	}
	for _, nf := range fields {
		if nf.Kind != RefCollection {
			continue
		}
		result = append(result, bson.E{Key: nf.Name, Value: doc.CollectionRef(nf.Name)})
	}
	return result, nil
}

// Decode reads raw into a tracked instance of T: an existing tracked
// instance for its identity if one is offered by tracker, or a fresh one
// built by newFunc. Scalar/complex fields are hydrated by bson.Unmarshal
// (which writes struct fields directly and never invokes controlled
// setters); reference fields are then read out of raw by name and written
// through SetSingleRef/SetCollectionRef. Tracking is suppressed around the
// whole hydration in case a caller's setters do emit change notifications.
func Decode[T Document](raw bson.Raw, collection string, tracker Tracker, newFunc func() T) (T, error) {
	var zero T

	idVal, err := raw.LookupErr("_id")
	if err != nil {
		return zero, fmt.Errorf("serializer: document has no _id: %w", err)
	}
	var id primitive.ObjectID
	if err := idVal.Unmarshal(&id); err != nil {
		return zero, fmt.Errorf("serializer: decode _id: %w", err)
	}

	var doc T
	if existing, existed := tracker.BeforeDeserialize(id); existed {
		typed, ok := existing.(T)
		if !ok {
			return zero, fmt.Errorf("serializer: tracked document %s is not the expected type", id.Hex())
		}
		doc = typed
	} else {
		doc = newFunc()
		doc.SetDocumentID(id)
	}

	tracker.SuppressTracking(id, true)
	err = bson.Unmarshal(raw, doc)
	if err == nil {
		for _, nf := range doc.NavigationFields() {
			switch nf.Kind {
			case RefSingle:
				if v, lookupErr := raw.LookupErr(nf.Name); lookupErr == nil {
					var refID primitive.ObjectID
					if v.Unmarshal(&refID) == nil && !refID.IsZero() {
						doc.SetSingleRef(nf.Name, refID)
					}
				}
			case RefCollection:
				if v, lookupErr := raw.LookupErr(nf.Name); lookupErr == nil {
					var ids []primitive.ObjectID
					if v.Unmarshal(&ids) == nil {
						doc.SetCollectionRef(nf.Name, ids)
					}
				}
			}
		}
	}
	tracker.SuppressTracking(id, false)
	if err != nil {
		return zero, fmt.Errorf("serializer: decode fields for %s: %w", id.Hex(), err)
	}

	tracker.AfterDeserialize(id, collection, doc)
	return doc, nil
}
