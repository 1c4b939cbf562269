package compiler

import "github.com/pact-foundation/pact-protobuf-plugin-go/internal/valuetree"

// Expectations is the "stored consumer expectations" blob of spec.md §3:
// a record, per field path, of whether the consumer explicitly supplied a
// value there. It is the serialisable surrogate for valuetree.Field's
// in-memory ExplicitlySet bit, since the ValueTree itself is discarded
// once the canonical example is encoded to wire bytes but the expectation
// must survive into the persisted contract for later verification.
type Expectations struct {
	Present map[valuetree.Path]bool
}

// NewExpectations creates an empty expectations blob.
func NewExpectations() *Expectations {
	return &Expectations{Present: make(map[valuetree.Path]bool)}
}

// Mark records that the consumer explicitly supplied a value at path.
func (e *Expectations) Mark(path valuetree.Path) {
	e.Present[path] = true
}

// IsPresent reports whether the consumer explicitly supplied a value at
// path; absence means the consumer was silent on that field.
func (e *Expectations) IsPresent(path valuetree.Path) bool {
	return e.Present[path]
}
