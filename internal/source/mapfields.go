package source

import (
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/roach88/tessera/internal/model"
)

// MapFields is an in-memory Fields keyed by descriptor identity.
type MapFields struct {
	mu     sync.RWMutex
	values map[*model.Descriptor]model.Value
	order  []*model.Descriptor
}

// NewMapFields creates an empty MapFields.
func NewMapFields() *MapFields {
	return &MapFields{values: make(map[*model.Descriptor]model.Value)}
}

// Get implements Fields.
func (m *MapFields) Get(attr *model.Descriptor) (model.Value, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[attr]
	return v, ok
}

// Set implements Fields.
func (m *MapFields) Set(attr *model.Descriptor, v model.Value, allowNew bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.values[attr]; !ok {
		if !allowNew {
			return fmt.Errorf("set %s: %w", attr.Name(), ErrNotStored)
		}
		m.order = append(m.order, attr)
	}
	m.values[attr] = v
	return nil
}

// Remove implements Fields.
func (m *MapFields) Remove(attr *model.Descriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.values[attr]; !ok {
		return fmt.Errorf("remove %s: %w", attr.Name(), ErrNotStored)
	}
	delete(m.values, attr)
	if i := slices.Index(m.order, attr); i >= 0 {
		m.order = slices.Delete(m.order, i, i+1)
	}
	return nil
}

// All implements Fields. It iterates a snapshot taken at call time.
func (m *MapFields) All() iter.Seq2[*model.Descriptor, model.Value] {
	return func(yield func(*model.Descriptor, model.Value) bool) {
		m.mu.RLock()
		order := slices.Clone(m.order)
		values := make([]model.Value, len(order))
		for i, attr := range order {
			values[i] = m.values[attr]
		}
		m.mu.RUnlock()

		for i, attr := range order {
			if !yield(attr, values[i]) {
				return
			}
		}
	}
}
