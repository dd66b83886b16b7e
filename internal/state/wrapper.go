package state

// wrapper is the storage cell an entry keeps its document behind. Added,
// Modified and Deleted entries hold a strong wrapper (the document must
// survive until it is saved or discarded); Unchanged entries hold a weak
// one so the cache cleaner can reclaim it under memory pressure; a
// newly-detached entry with no document at all holds a null wrapper.
type wrapper interface {
	document() (Document, bool)
}

type strongWrapper struct {
	doc Document
}

func (w *strongWrapper) document() (Document, bool) { return w.doc, true }

type weakWrapper struct {
	ref WeakRef
}

func (w *weakWrapper) document() (Document, bool) { return w.ref.Value() }

type nullWrapper struct{}

func (nullWrapper) document() (Document, bool) { return nil, false }

// newWrapper builds the wrapper variant appropriate for lifecycle.
// Added/Modified/Deleted hold the document strongly; Unchanged/Detached
// hold it weakly (or not at all, if doc is nil).
func newWrapper(doc Document, lifecycle Lifecycle, makeWeak func(Document) WeakRef) wrapper {
	switch lifecycle {
	case Added, Modified, Deleted:
		return &strongWrapper{doc: doc}
	default:
		if doc == nil {
			return nullWrapper{}
		}
		return &weakWrapper{ref: makeWeak(doc)}
	}
}
