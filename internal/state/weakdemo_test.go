package state_test

import "weak"

// realWeakMake wraps the standard library's weak.Pointer for use from a
// test that wants to confirm actual reclamation semantics, as opposed to
// the fake WeakRef doubles used to drive manager/cache behavior
// deterministically in state_test.go.
func realWeakMake[T any](v *T) func() *T {
	p := weak.Make(v)
	return func() *T { return p.Value() }
}
