// Package docset is an identity-mapped, change-tracked working set over a
// MongoDB-compatible document store. Application code manipulates ordinary
// Go structs embedding Base; Context tracks their lifecycle (Added,
// Modified, Deleted, Unchanged, Detached) and flushes accumulated
// mutations to the store in one SaveChanges call, while reads benefit from
// a process-wide cache that lets the runtime reclaim Unchanged documents
// under memory pressure.
package docset

import (
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/modernmgo/docset/internal/serializer"
	"github.com/modernmgo/docset/internal/state"
)

// Document is the full surface a tracked type exposes to the rest of the
// package: identity, collection naming, reference navigation, and change
// notification. Every concrete document type satisfies it by embedding
// Base; nothing here is implemented through reflection or code weaving.
type Document interface {
	DocumentID() primitive.ObjectID
	SetDocumentID(primitive.ObjectID)
	CollectionName() string
	NavigationFields() []serializer.NavField
	SingleRef(name string) (primitive.ObjectID, bool)
	SetSingleRef(name string, id primitive.ObjectID)
	CollectionRef(name string) []primitive.ObjectID
	SetCollectionRef(name string, ids []primitive.ObjectID)
	OnPropertyChanged(func(propertyName string))
}

// DocPtr constrains a pointer-to-T type to also satisfy Document. Pairing
// a generic function's type parameters as [T any, P DocPtr[T]] lets that
// function recover both T (the concrete struct, needed to build a
// weak.Pointer[T]) and the Document method set (promoted from T's
// embedded Base) from a single value of type P — see weakref.go.
type DocPtr[T any] interface {
	*T
	Document
}

// Base gives a user struct the identity, collection-name, reference-map
// and change-notification plumbing Document requires; embed it as the
// struct's first field, tagged `bson:",inline"`, so the persisted layout
// places _id first at the top level (without the tag the BSON codec writes
// an embedded struct as a nested subdocument; see
// internal/serializer), and so a weak.Pointer taken against &doc.Base is an
// interior pointer into the same allocation as the whole document — the
// basis of the cache's weak/strong hybrid (see weakref.go).
//
// A zero Base is not usable; construct documents through NewBase.
type Base struct {
	// ID is exported so bson.Marshal writes it out as "_id" (at the top
	// level when Base is embedded inline); every other
	// field is unexported and therefore invisible to the BSON codec,
	// which only ever sees a struct's exported fields.
	ID primitive.ObjectID `bson:"_id"`

	mu         sync.Mutex
	collection string
	onChanged  func(string)
	navFields  []serializer.NavField
	singleRefs map[string]primitive.ObjectID
	collRefs   map[string][]primitive.ObjectID
}

// NewBase builds a Base for a document of the given collection, with a
// fresh identity. Deserialization overwrites the identity via
// SetDocumentID before the document is handed to user code.
func NewBase(collection string) Base {
	return Base{
		ID:         primitive.NewObjectID(),
		collection: collection,
		singleRefs: make(map[string]primitive.ObjectID),
		collRefs:   make(map[string][]primitive.ObjectID),
	}
}

// DocumentID returns the document's identity.
func (b *Base) DocumentID() primitive.ObjectID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ID
}

// SetDocumentID overwrites the document's identity. Used only by the
// serializer when hydrating a store-resident document.
func (b *Base) SetDocumentID(id primitive.ObjectID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ID = id
}

// CollectionName reports the store-side collection the document belongs
// to: the name passed to NewBase. It is not derived from the document's Go
// type name.
func (b *Base) CollectionName() string { return b.collection }

// OnPropertyChanged installs fn as the callback invoked by NotifyChanged.
// The state manager calls this once per AddOrGetExisting; a later call
// simply replaces the prior subscription, which is harmless since only one
// Context ever tracks a given instance at a time.
func (b *Base) OnPropertyChanged(fn func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChanged = fn
}

// NotifyChanged is called by a document's generated setters after writing
// a controlled property. It is the "direct function pointer... on the
// document" the design notes call for, rather than a virtual-dispatch
// publish/subscribe bus.
func (b *Base) NotifyChanged(property string) {
	b.mu.Lock()
	fn := b.onChanged
	b.mu.Unlock()
	if fn != nil {
		fn(property)
	}
}

// DeclareSingleRef registers name as a single-reference navigation
// property. Called once, by a document type's constructor, for each
// reference field it declares.
func (b *Base) DeclareSingleRef(name string) {
	b.navFields = append(b.navFields, serializer.NavField{Name: name, Kind: serializer.RefSingle})
}

// DeclareCollectionRef registers name as a collection-reference navigation
// property.
func (b *Base) DeclareCollectionRef(name string) {
	b.navFields = append(b.navFields, serializer.NavField{Name: name, Kind: serializer.RefCollection})
}

// NavigationFields returns the reference properties declared via
// DeclareSingleRef/DeclareCollectionRef, in declaration order.
func (b *Base) NavigationFields() []serializer.NavField {
	out := make([]serializer.NavField, len(b.navFields))
	copy(out, b.navFields)
	return out
}

// SingleRef returns the stored identity for a single-reference property,
// and whether one is set (an unset or zero identity reports false, per
// the "empty-identity means absent" rule of spec §4.F).
func (b *Base) SingleRef(name string) (primitive.ObjectID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.singleRefs[name]
	return id, ok && !id.IsZero()
}

// SetSingleRef stores the raw identity for a single-reference property
// without resolving it to an object.
func (b *Base) SetSingleRef(name string, id primitive.ObjectID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.singleRefs[name] = id
}

// CollectionRef returns the stored identity sequence for a
// collection-reference property.
func (b *Base) CollectionRef(name string) []primitive.ObjectID {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]primitive.ObjectID, len(b.collRefs[name]))
	copy(out, b.collRefs[name])
	return out
}

// SetCollectionRef stores the raw identity sequence for a
// collection-reference property.
func (b *Base) SetCollectionRef(name string, ids []primitive.ObjectID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]primitive.ObjectID, len(ids))
	copy(cp, ids)
	b.collRefs[name] = cp
}

// stateDocument adapts a Document to the narrower surface internal/state
// needs, satisfying both state.Document and state.ChangeNotifier — true of
// any type embedding Base, with no adapter type required in practice; kept
// only as a compile-time assertion target.
var _ state.Document = (Document)(nil)
var _ state.ChangeNotifier = (Document)(nil)
var _ serializer.Document = (Document)(nil)
