// Package state implements the identity-mapped, change-tracked working set
// that sits underneath a document set: the cache of previously-read
// documents, the per-document lifecycle state machine, and the manager that
// keeps both consistent under concurrent access.
package state

import "go.mongodb.org/mongo-driver/bson/primitive"

// Lifecycle is the state a tracked document occupies relative to its
// store-resident counterpart.
type Lifecycle int

const (
	// Added documents exist only in memory; they have never been
	// persisted under their current identity.
	Added Lifecycle = iota
	// Modified documents were read from the store and have since had a
	// controlled property changed.
	Modified
	// Deleted documents are marked for removal on the next save.
	Deleted
	// Unchanged documents mirror the store and are eligible for
	// reclamation; they are held weakly.
	Unchanged
	// Detached documents are no longer tracked at all.
	Detached
)

func (s Lifecycle) String() string {
	switch s {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Unchanged:
		return "unchanged"
	case Detached:
		return "detached"
	default:
		return "unknown"
	}
}

// Document is the minimal surface the state package needs from a tracked
// document. The richer document contract (reference navigation, property
// change notification, collection naming) lives in the owning package; any
// type satisfying it also satisfies Document.
type Document interface {
	DocumentID() primitive.ObjectID
}

// ChangeNotifier is implemented by documents that can report controlled
// property writes. The manager subscribes once per tracked identity.
type ChangeNotifier interface {
	OnPropertyChanged(func(propertyName string))
}

// WeakRef is a weak reference to a tracked document: Value reports the
// document and true while its backing allocation is still reachable through
// some other strong owner, or (nil, false) once the reclaimer has taken it.
type WeakRef interface {
	Value() (Document, bool)
}

// Mask selects a subset of the four stores for GetEntries/Count.
type Mask uint8

const (
	MaskAdded Mask = 1 << iota
	MaskModified
	MaskDeleted
	MaskUnchanged
	MaskAll = MaskAdded | MaskModified | MaskDeleted | MaskUnchanged
)
