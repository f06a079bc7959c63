// Package refs records reverse reference edges: "target T is referenced
// from attribute A of source S".
//
// Edges are keyed by the target's handle and carry only the source's
// handle, so the tracker never keeps a source (or a target) reachable.
// Each target's edges form a counted multiset: the same (source, attr)
// pair may reach a target along two paths, for example a direct Ref and
// membership in a referenced collection, and every Add is paired with
// exactly one Remove.
//
// Locking is striped by target handle. A call holds at most one stripe
// lock and never calls out while holding it.
package refs

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/tessera/internal/model"
)

const shardCount = 32

// Edge is one reverse reference: Source points at the target through Attr.
// Attr is nil for membership edges (a collection containing the target).
type Edge struct {
	Source model.Handle
	Attr   *model.Descriptor
}

func (e Edge) String() string {
	if e.Attr == nil {
		return e.Source.String()
	}
	return fmt.Sprintf("%s.%s", e.Source, e.Attr.Name())
}

// ErrInconsistent is the sentinel matched by every InconsistencyError.
var ErrInconsistent = errors.New("reference inconsistency")

// InconsistencyError reports removal of an edge that was never added.
// It signals a pairing bug in the caller, never a recoverable condition.
type InconsistencyError struct {
	Target model.Handle
	Edge   Edge
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("REFERENCE_INCONSISTENCY: edge %s not present on target %s", e.Edge, e.Target)
}

// Is matches ErrInconsistent.
func (e *InconsistencyError) Is(target error) bool {
	return target == ErrInconsistent
}

// IsInconsistency returns true if err is or wraps an InconsistencyError.
func IsInconsistency(err error) bool {
	return errors.Is(err, ErrInconsistent)
}

type entry struct {
	count int
	seq   uint64 // insertion order for deterministic snapshots
}

type shard struct {
	mu      sync.Mutex
	targets map[model.Handle]map[Edge]*entry
	seq     uint64
}

// Tracker is the reverse-edge index.
type Tracker struct {
	shards [shardCount]shard
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	t := &Tracker{}
	for i := range t.shards {
		t.shards[i].targets = make(map[model.Handle]map[Edge]*entry)
	}
	return t
}

func (t *Tracker) shardFor(target model.Handle) *shard {
	return &t.shards[(target.Index+uint32(target.Kind))%shardCount]
}

// Add records edge against target, creating the target's set if absent.
func (t *Tracker) Add(target model.Handle, edge Edge) {
	s := t.shardFor(target)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.targets[target]
	if !ok {
		set = make(map[Edge]*entry)
		s.targets[target] = set
	}
	if e, ok := set[edge]; ok {
		e.count++
		return
	}
	s.seq++
	set[edge] = &entry{count: 1, seq: s.seq}
}

// Remove removes one occurrence of edge from target. The target key is
// deleted when its last edge goes, so no empty sets are retained.
func (t *Tracker) Remove(target model.Handle, edge Edge) error {
	s := t.shardFor(target)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.targets[target]
	if !ok {
		return &InconsistencyError{Target: target, Edge: edge}
	}
	e, ok := set[edge]
	if !ok {
		return &InconsistencyError{Target: target, Edge: edge}
	}
	e.count--
	if e.count == 0 {
		delete(set, edge)
	}
	if len(set) == 0 {
		delete(s.targets, target)
	}
	return nil
}

// DirectReferences returns the distinct edges pointing at target in the
// order they were first added. The result is a copy.
func (t *Tracker) DirectReferences(target model.Handle) []Edge {
	s := t.shardFor(target)
	s.mu.Lock()
	set := s.targets[target]
	type ordered struct {
		edge Edge
		seq  uint64
	}
	snapshot := make([]ordered, 0, len(set))
	for edge, e := range set {
		snapshot = append(snapshot, ordered{edge: edge, seq: e.seq})
	}
	s.mu.Unlock()

	slices.SortFunc(snapshot, func(a, b ordered) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	out := make([]Edge, len(snapshot))
	for i, o := range snapshot {
		out[i] = o.edge
	}
	return out
}

// Has reports whether target currently has any edge.
func (t *Tracker) Has(target model.Handle) bool {
	s := t.shardFor(target)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.targets[target]
	return ok
}

// Drop removes target and all its edges. Used when the target itself is
// destroyed or collected.
func (t *Tracker) Drop(target model.Handle) {
	s := t.shardFor(target)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.targets, target)
}

// DropSource removes every edge whose source is source, across all
// targets. Used when a source is collected and its outgoing values can no
// longer be enumerated. Shards are visited one at a time.
func (t *Tracker) DropSource(source model.Handle) int {
	removed := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for target, set := range s.targets {
			for edge := range set {
				if edge.Source == source {
					delete(set, edge)
					removed++
				}
			}
			if len(set) == 0 {
				delete(s.targets, target)
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Targets returns every target that has at least one edge.
func (t *Tracker) Targets() []model.Handle {
	var out []model.Handle
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for target := range s.targets {
			out = append(out, target)
		}
		s.mu.Unlock()
	}
	slices.SortFunc(out, compareHandles)
	return out
}

// Len returns the number of targets with at least one edge.
func (t *Tracker) Len() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		n += len(s.targets)
		s.mu.Unlock()
	}
	return n
}

func compareHandles(a, b model.Handle) int {
	if a.Kind != b.Kind {
		return int(a.Kind) - int(b.Kind)
	}
	if a.Index != b.Index {
		if a.Index < b.Index {
			return -1
		}
		return 1
	}
	if a.Gen < b.Gen {
		return -1
	}
	if a.Gen > b.Gen {
		return 1
	}
	return 0
}
