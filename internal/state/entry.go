package state

import (
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Entry is a single tracked identity: its lifecycle state, the set of
// controlled properties that have changed since it was last Unchanged, and
// the wrapper currently holding (or having lost) its document.
type Entry struct {
	mu         sync.Mutex
	id         primitive.ObjectID
	collection string
	lifecycle  Lifecycle
	wrap       wrapper
	modified   map[string]struct{}
	makeWeak   func(Document) WeakRef
}

func newEntry(id primitive.ObjectID, collection string, doc Document, lifecycle Lifecycle, makeWeak func(Document) WeakRef) *Entry {
	return &Entry{
		id:         id,
		collection: collection,
		lifecycle:  lifecycle,
		wrap:       newWrapper(doc, lifecycle, makeWeak),
		makeWeak:   makeWeak,
	}
}

// ID is the entry's identity.
func (e *Entry) ID() primitive.ObjectID { return e.id }

// CollectionName is the kind the entry was tracked under.
func (e *Entry) CollectionName() string { return e.collection }

// Lifecycle reports the entry's current state.
func (e *Entry) Lifecycle() Lifecycle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lifecycle
}

// Document returns the tracked document, or ok=false if it has been
// reclaimed (only possible for an Unchanged entry whose weak reference has
// been collected).
func (e *Entry) Document() (Document, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wrap.document()
}

// ChangeState transitions the entry to target, rebuilding its wrapper for
// the new lifecycle. It reports false without making any change if the
// entry is dead (its document has already been reclaimed).
func (e *Entry) ChangeState(target Lifecycle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lifecycle == target {
		return true
	}

	doc, ok := e.wrap.document()
	if !ok {
		return false
	}

	if target == Unchanged {
		e.modified = nil
	}
	e.wrap = newWrapper(doc, target, e.makeWeak)
	e.lifecycle = target
	return true
}

// swapDocument replaces the tracked document in place, preserving the
// entry's current lifecycle. Used when a read returns a fresher instance of
// an identity that is already tracked.
func (e *Entry) swapDocument(doc Document) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wrap = newWrapper(doc, e.lifecycle, e.makeWeak)
}

// NotePropertyChanged records that a controlled property was written.
func (e *Entry) NotePropertyChanged(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.modified == nil {
		e.modified = make(map[string]struct{})
	}
	e.modified[name] = struct{}{}
}

// IsPropertyChanged reports whether name has been noted as changed since
// the entry last became Unchanged.
func (e *Entry) IsPropertyChanged(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.modified[name]
	return ok
}

// ChangedProperties returns the names noted as changed, in no particular
// order.
func (e *Entry) ChangedProperties() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.modified))
	for name := range e.modified {
		out = append(out, name)
	}
	return out
}

// alive reports whether the entry's document can still be obtained.
func (e *Entry) alive() bool {
	_, ok := e.Document()
	return ok
}
