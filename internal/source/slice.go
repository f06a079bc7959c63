package source

import (
	"iter"
	"slices"
	"sync"
)

// Slice is an in-memory List backed by a slice.
type Slice[T comparable] struct {
	mu    sync.RWMutex
	items []T
}

// NewSlice creates an empty Slice.
func NewSlice[T comparable]() *Slice[T] {
	return &Slice[T]{}
}

func (s *Slice[T]) Get(i int) T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[i]
}

func (s *Slice[T]) Add(e T, i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = slices.Insert(s.items, i, e)
}

func (s *Slice[T]) RemoveAt(i int) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.items[i]
	s.items = slices.Delete(s.items, i, i+1)
	return e
}

func (s *Slice[T]) RemoveFirst(e T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.Index(s.items, e)
	if i < 0 {
		return false
	}
	s.items = slices.Delete(s.items, i, i+1)
	return true
}

func (s *Slice[T]) IndexOf(e T) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Index(s.items, e)
}

func (s *Slice[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Sort reorders in place. The sort is stable.
func (s *Slice[T]) Sort(cmp func(a, b T) int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slices.SortStableFunc(s.items, cmp)
}

// All iterates a snapshot taken at call time.
func (s *Slice[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		s.mu.RLock()
		items := slices.Clone(s.items)
		s.mu.RUnlock()

		for i, e := range items {
			if !yield(i, e) {
				return
			}
		}
	}
}
