package wire

import "errors"

// ErrNotFound is returned when a requested document is not present.
var ErrNotFound = errors.New("wire: document not found")
