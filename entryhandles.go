package docset

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ReferenceEntry is the user-facing view over a single-reference
// navigation property of §4.H: its stored identity lives on the owning
// document's Base (written by SetSingleRef), while the resolved referent,
// once loaded, lives here.
type ReferenceEntry[R any, RP DocPtr[R]] struct {
	ds        *DocumentSet[R, RP]
	owner     Document
	fieldName string
	current   RP
}

// NewReferenceEntry builds a handle over owner's fieldName navigation
// property, resolved through ds. owner must have declared fieldName via
// Base.DeclareSingleRef.
func NewReferenceEntry[R any, RP DocPtr[R]](ds *DocumentSet[R, RP], owner Document, fieldName string) *ReferenceEntry[R, RP] {
	return &ReferenceEntry[R, RP]{ds: ds, owner: owner, fieldName: fieldName}
}

// IsLoaded reports true once CurrentValue is non-nil, or if the owning
// document carries no identity for this reference at all (an absent
// reference needs no loading to be considered resolved).
func (re *ReferenceEntry[R, RP]) IsLoaded() bool {
	if re.current != nil {
		return true
	}
	_, ok := re.owner.SingleRef(re.fieldName)
	return !ok
}

// CurrentValue is the resolved referent, or nil if Load has not been
// called (or the reference is empty).
func (re *ReferenceEntry[R, RP]) CurrentValue() RP {
	return re.current
}

// SetCurrentValue assigns v directly, writing its identity back onto the
// owning document's navigable map so a later Encode reflects the change
// without requiring a Load round-trip. Passing the RP zero value clears
// the reference.
func (re *ReferenceEntry[R, RP]) SetCurrentValue(v RP) {
	re.current = v
	if v == nil {
		re.owner.SetSingleRef(re.fieldName, primitive.NilObjectID)
		return
	}
	re.owner.SetSingleRef(re.fieldName, v.DocumentID())
}

// Load fetches the referent named by the owning document's stored
// identity and assigns it as CurrentValue. A stored empty identity is a
// no-op, per the "empty identity means absent" rule of §4.F.
func (re *ReferenceEntry[R, RP]) Load(ctx context.Context) error {
	id, ok := re.owner.SingleRef(re.fieldName)
	if !ok {
		return nil
	}
	doc, err := re.ds.Find(ctx, id)
	if err != nil {
		return err
	}
	re.current = doc
	return nil
}

// CollectionEntry is the user-facing view over a collection-reference
// navigation property: the owning document's Base carries the stored
// identity sequence; the resolved referents, once loaded, live here.
type CollectionEntry[R any, RP DocPtr[R]] struct {
	ds        *DocumentSet[R, RP]
	owner     Document
	fieldName string
	current   []RP
	loaded    bool
}

// NewCollectionEntry builds a handle over owner's fieldName navigation
// property, resolved through ds. owner must have declared fieldName via
// Base.DeclareCollectionRef.
func NewCollectionEntry[R any, RP DocPtr[R]](ds *DocumentSet[R, RP], owner Document, fieldName string) *CollectionEntry[R, RP] {
	return &CollectionEntry[R, RP]{ds: ds, owner: owner, fieldName: fieldName}
}

// IsLoaded reports true once Load has populated CurrentValue, or if the
// owning document carries no identity sequence for this reference.
func (ce *CollectionEntry[R, RP]) IsLoaded() bool {
	if ce.loaded {
		return true
	}
	return len(ce.owner.CollectionRef(ce.fieldName)) == 0
}

// CurrentValue is the resolved referent sequence, or nil before Load.
func (ce *CollectionEntry[R, RP]) CurrentValue() []RP {
	return ce.current
}

// SetCurrentValue assigns docs directly, writing their identities back
// onto the owning document's navigable map.
func (ce *CollectionEntry[R, RP]) SetCurrentValue(docs []RP) {
	ce.current = docs
	ce.loaded = true
	ids := make([]primitive.ObjectID, len(docs))
	for i, d := range docs {
		ids[i] = d.DocumentID()
	}
	ce.owner.SetCollectionRef(ce.fieldName, ids)
}

// Load fetches every referent in the owning document's stored identity
// sequence in a single batched query (an $in filter) and assigns the
// result as CurrentValue.
func (ce *CollectionEntry[R, RP]) Load(ctx context.Context) error {
	ids := ce.owner.CollectionRef(ce.fieldName)
	if len(ids) == 0 {
		ce.loaded = true
		ce.current = nil
		return nil
	}

	docs, err := ce.ds.FindMatching(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return err
	}
	ce.current = docs
	ce.loaded = true
	return nil
}

// PropertyEntry is the user-facing view over a scalar or complex
// controlled property: get/set are supplied by the document's own typed
// accessor methods, since this package has no code-weaving to generate
// them.
type PropertyEntry[V any] struct {
	get func() V
	set func(V)
}

// NewPropertyEntry wraps get/set as a PropertyEntry.
func NewPropertyEntry[V any](get func() V, set func(V)) *PropertyEntry[V] {
	return &PropertyEntry[V]{get: get, set: set}
}

// CurrentValue reads the property's current value.
func (pe *PropertyEntry[V]) CurrentValue() V { return pe.get() }

// SetCurrentValue writes the property's value through its controlled
// setter, which is expected to call Base.NotifyChanged.
func (pe *PropertyEntry[V]) SetCurrentValue(v V) { pe.set(v) }
