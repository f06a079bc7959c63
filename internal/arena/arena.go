// Package arena maps generational handles to live cores without keeping
// them alive.
//
// Slots hold weak pointers. A core that becomes unreachable is collected
// normally; its cleanup frees the slot and notifies the owner so dependent
// bookkeeping (reference edges) can be dropped. Released slots bump their
// generation, so a stale handle never resolves to a newer occupant.
package arena

import (
	"runtime"
	"sync"
	"weak"

	"github.com/roach88/tessera/internal/model"
)

type slot[T any] struct {
	ptr  weak.Pointer[T]
	gen  uint32
	live bool
}

// Arena is a thread-safe registry of weakly held values of one kind.
type Arena[T any] struct {
	mu        sync.Mutex
	kind      model.HandleKind
	slots     []slot[T]
	free      []uint32
	live      int
	onCollect func(model.Handle)
}

// New creates an arena issuing handles of the given kind. onCollect, if
// non-nil, runs after a value is garbage collected without having been
// released. It runs on the runtime's cleanup goroutine.
func New[T any](kind model.HandleKind, onCollect func(model.Handle)) *Arena[T] {
	return &Arena[T]{kind: kind, onCollect: onCollect}
}

// Insert registers p and returns its handle.
func (a *Arena[T]) Insert(p *T) model.Handle {
	a.mu.Lock()
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot[T]{})
	}
	s := &a.slots[idx]
	s.gen++
	s.ptr = weak.Make(p)
	s.live = true
	a.live++
	h := model.Handle{Kind: a.kind, Index: idx, Gen: s.gen}
	a.mu.Unlock()

	runtime.AddCleanup(p, a.collected, h)
	return h
}

// Resolve returns the live value behind h.
func (a *Arena[T]) Resolve(h model.Handle) (*T, bool) {
	if h.Kind != a.kind {
		return nil, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if int(h.Index) >= len(a.slots) {
		return nil, false
	}
	s := a.slots[h.Index]
	if !s.live || s.gen != h.Gen {
		return nil, false
	}
	p := s.ptr.Value()
	return p, p != nil
}

// Release frees h's slot. Returns false if h was already stale.
func (a *Arena[T]) Release(h model.Handle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.releaseLocked(h)
}

func (a *Arena[T]) releaseLocked(h model.Handle) bool {
	if h.Kind != a.kind || int(h.Index) >= len(a.slots) {
		return false
	}
	s := &a.slots[h.Index]
	if !s.live || s.gen != h.Gen {
		return false
	}
	s.live = false
	s.ptr = weak.Pointer[T]{}
	a.free = append(a.free, h.Index)
	a.live--
	return true
}

// collected is the cleanup hook for garbage-collected values.
func (a *Arena[T]) collected(h model.Handle) {
	a.mu.Lock()
	released := a.releaseLocked(h)
	a.mu.Unlock()

	if released && a.onCollect != nil {
		a.onCollect(h)
	}
}

// Live returns the number of occupied slots.
func (a *Arena[T]) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}
