package docset

import "errors"

// Sentinel errors, matching the teacher pack's ErrNotFound convention
// (internal/wire.ErrNotFound): wrap with fmt.Errorf("...: %w", ...) at each
// call site so errors.Is keeps working across the package boundary.
var (
	// ErrArgument is raised synchronously, before any store interaction,
	// for a null or out-of-range input.
	ErrArgument = errors.New("docset: invalid argument")

	// ErrInvalidState is returned by SaveEntry for an entry whose document
	// does not expose the serializer's surface. State transitions of a
	// Detached entry and loads through reference/collection entries are
	// not checked and never return it.
	ErrInvalidState = errors.New("docset: invalid state")

	// ErrSerializerMissing is raised on the first attempt to persist a
	// document of a type that was never registered with the Context.
	ErrSerializerMissing = errors.New("docset: no serializer registered for document type")

	// ErrConcurrentFind is raised when a second FindAsync is issued
	// against an observable cursor still being drained by an earlier
	// one.
	ErrConcurrentFind = errors.New("docset: a find is already in progress")
)
