// Package source defines the storage seams behind entities and
// collections, with the in-memory implementations used by default.
//
// Cores validate every request (presence, bounds, null checks) before
// calling into a source, so implementations only store and retrieve.
package source

import (
	"errors"
	"iter"

	"github.com/roach88/tessera/internal/model"
)

// ErrNotStored is returned by Fields implementations for an attribute
// that has no storage slot.
var ErrNotStored = errors.New("attribute not stored")

// ErrNameTaken is returned by Fields implementations that key slots by
// attribute name when a slot is requested for a descriptor whose name
// already belongs to a different descriptor.
var ErrNameTaken = errors.New("attribute name held by another descriptor")

// Fields is the single-entity key/value store.
type Fields interface {
	// Get returns the stored value; ok is false if attr has no slot.
	Get(attr *model.Descriptor) (model.Value, bool)
	// Set stores v. With allowNew false, a missing slot is ErrNotStored.
	Set(attr *model.Descriptor, v model.Value, allowNew bool) error
	// Remove deletes attr's slot. A missing slot is ErrNotStored.
	Remove(attr *model.Descriptor) error
	// All iterates stored (attr, value) pairs in slot creation order.
	All() iter.Seq2[*model.Descriptor, model.Value]
}

// List is the ordered collection store. Indexes are validated by the caller.
type List[T comparable] interface {
	Get(i int) T
	Add(e T, i int)
	RemoveAt(i int) T
	RemoveFirst(e T) bool
	IndexOf(e T) int
	Len() int
	Sort(cmp func(a, b T) int)
	All() iter.Seq2[int, T]
}
