package docset

import (
	"weak"

	"github.com/modernmgo/docset/internal/state"
)

// typedWeakRef is the real weak reference behind an Unchanged entry's
// wrapper: weak.Pointer[T] from the standard library, not a hand-rolled
// reference-counted/parked-flag substitute. T is the concrete document
// struct (e.g. User, not *User) — see DocPtr for how generic call sites
// recover it from a value of the document's pointer type.
//
// weak.Pointer[T] is documented as safe to take against an interior
// pointer: since T's Base field is always the struct's first field,
// &doc.Base and doc itself share an address, but what matters here is
// that weak.Make tracks the liveness of T's whole allocation regardless
// of which field the pointer argument addresses.
type typedWeakRef[T any] struct {
	wp weak.Pointer[T]
}

// newWeakRef builds a state.WeakRef around doc using the real weak
// package. Called each time an entry builds a weak wrapper, through the
// makeWeak closures that trackObject and ctxTracker.AfterDeserialize build
// while they have doc's concrete pointer type in hand.
func newWeakRef[T any](doc *T) state.WeakRef {
	return typedWeakRef[T]{wp: weak.Make(doc)}
}

// Value resolves the weak pointer. A *T that is still reachable through
// some strong owner elsewhere is asserted back to Document, which always
// succeeds in practice since only Document-shaped types are ever tracked.
func (w typedWeakRef[T]) Value() (state.Document, bool) {
	p := w.wp.Value()
	if p == nil {
		return nil, false
	}
	doc, ok := any(p).(state.Document)
	if !ok {
		return nil, false
	}
	return doc, true
}
