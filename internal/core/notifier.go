package core

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/tessera/internal/model"
)

// EventKind distinguishes the five change events.
type EventKind int

const (
	// ValueChanged reports Attr moving from Old to New.
	ValueChanged EventKind = iota + 1
	// AttributeAdded reports Attr becoming present or active.
	AttributeAdded
	// AttributeRemoved reports Attr leaving; Old holds its last value.
	AttributeRemoved
	// EntityAdded reports Entity joining a collection.
	EntityAdded
	// EntityRemoved reports Entity leaving a collection.
	EntityRemoved
)

var eventKindNames = map[EventKind]string{
	ValueChanged:     "ValueChanged",
	AttributeAdded:   "AttributeAdded",
	AttributeRemoved: "AttributeRemoved",
	EntityAdded:      "EntityAdded",
	EntityRemoved:    "EntityRemoved",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is an immutable record of one change.
//
// Source is the core that fired it: the entity for attribute events, the
// collection for membership events and for entity events it forwards.
// Entity is the entity concerned in every case.
type Event struct {
	Kind   EventKind
	Source model.Node
	Entity *Entity
	Attr   *model.Descriptor
	Old    model.Value
	New    model.Value
}

func (ev Event) String() string {
	switch ev.Kind {
	case ValueChanged:
		return fmt.Sprintf("%s(%s, %s, %s)", ev.Kind, ev.Attr.Name(), model.Format(ev.Old), model.Format(ev.New))
	case AttributeAdded:
		return fmt.Sprintf("%s(%s)", ev.Kind, ev.Attr.Name())
	case AttributeRemoved:
		return fmt.Sprintf("%s(%s, %s)", ev.Kind, ev.Attr.Name(), model.Format(ev.Old))
	case EntityAdded, EntityRemoved:
		return fmt.Sprintf("%s(%s)", ev.Kind, ev.Entity.Handle())
	}
	return ev.Kind.String()
}

// EntityListener receives an entity's events.
//
// Callbacks run synchronously on the mutating goroutine. A callback must
// not subscribe or unsubscribe on the registry that is calling it; such a
// change only takes effect from the next event.
//
// A callback may write to the entity that fired it, including the
// attribute that changed. The nested write fires its own events before
// the outer call returns, and reference edges follow whichever value is
// stored last.
type EntityListener interface {
	OnValueChanged(e *Entity, attr *model.Descriptor, old, new model.Value)
	OnAttributeAdded(e *Entity, attr *model.Descriptor)
	OnAttributeRemoved(e *Entity, attr *model.Descriptor, old model.Value)
}

// CollectionListener receives a collection's membership events plus every
// event fired by a contained entity, tagged with that entity.
type CollectionListener interface {
	OnEntityAdded(c *Collection, e *Entity)
	OnEntityRemoved(c *Collection, e *Entity)
	OnEntityEvent(c *Collection, e *Entity, ev Event)
}

// ListenerFunc adapts a function to both listener interfaces.
type ListenerFunc func(Event)

// OnValueChanged implements EntityListener.
func (f ListenerFunc) OnValueChanged(e *Entity, attr *model.Descriptor, old, new model.Value) {
	f(Event{Kind: ValueChanged, Source: e, Entity: e, Attr: attr, Old: old, New: new})
}

// OnAttributeAdded implements EntityListener.
func (f ListenerFunc) OnAttributeAdded(e *Entity, attr *model.Descriptor) {
	f(Event{Kind: AttributeAdded, Source: e, Entity: e, Attr: attr})
}

// OnAttributeRemoved implements EntityListener.
func (f ListenerFunc) OnAttributeRemoved(e *Entity, attr *model.Descriptor, old model.Value) {
	f(Event{Kind: AttributeRemoved, Source: e, Entity: e, Attr: attr, Old: old})
}

// OnEntityAdded implements CollectionListener.
func (f ListenerFunc) OnEntityAdded(c *Collection, e *Entity) {
	f(Event{Kind: EntityAdded, Source: c, Entity: e})
}

// OnEntityRemoved implements CollectionListener.
func (f ListenerFunc) OnEntityRemoved(c *Collection, e *Entity) {
	f(Event{Kind: EntityRemoved, Source: c, Entity: e})
}

// OnEntityEvent implements CollectionListener.
func (f ListenerFunc) OnEntityEvent(_ *Collection, _ *Entity, ev Event) {
	f(ev)
}

// Subscription detaches a listener when closed.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Close detaches the listener. It is safe to call more than once.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

type registration[L any] struct {
	id       uint64
	listener L
}

// registry is a copy-on-write listener list. Writers serialize on mu and
// publish a fresh slice; dispatch iterates whatever slice was current when
// it started, so it never holds the lock while calling out.
type registry[L any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   atomic.Pointer[[]registration[L]]
}

func (r *registry[L]) add(l L) *Subscription {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	var cur []registration[L]
	if p := r.subs.Load(); p != nil {
		cur = *p
	}
	next := append(slices.Clip(cur), registration[L]{id: id, listener: l})
	r.subs.Store(&next)
	r.mu.Unlock()

	return &Subscription{cancel: func() { r.remove(id) }}
}

func (r *registry[L]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.subs.Load()
	if p == nil {
		return
	}
	next := slices.DeleteFunc(slices.Clone(*p), func(reg registration[L]) bool {
		return reg.id == id
	})
	r.subs.Store(&next)
}

// snapshot returns the listeners registered at this instant.
func (r *registry[L]) snapshot() []registration[L] {
	if p := r.subs.Load(); p != nil {
		return *p
	}
	return nil
}

func (r *registry[L]) len() int {
	return len(r.snapshot())
}
