package core

import (
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/roach88/tessera/internal/model"
	"github.com/roach88/tessera/internal/refs"
	"github.com/roach88/tessera/internal/schema"
	"github.com/roach88/tessera/internal/source"
	"github.com/roach88/tessera/internal/stats"
)

// Entity is the data core of one entity: an ordered attribute list over a
// delegated value store, with its own listeners and statistics.
//
// Mutations of one entity are expected from one goroutine at a time.
// Listener registration and reads of the attribute list are safe from any
// goroutine.
type Entity struct {
	rt     *Runtime
	typ    *schema.Type
	handle model.Handle
	fields source.Fields

	mu        sync.RWMutex
	attrs     []*model.Descriptor
	series    map[*model.Descriptor]*stats.Series
	linked    map[*model.Descriptor]model.Value // values whose edges are tracked
	destroyed bool

	listeners registry[EntityListener]
}

// Handle implements model.Node.
func (e *Entity) Handle() model.Handle { return e.handle }

// Type returns the declared type the entity was built from.
func (e *Entity) Type() *schema.Type { return e.typ }

// Runtime returns the runtime that created e.
func (e *Entity) Runtime() *Runtime { return e.rt }

func (e *Entity) destroyedOrForeign(rt *Runtime) bool {
	if e.rt != rt {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.destroyed
}

// ContainsField reports whether attr (by identity) is held by e.
func (e *Entity) ContainsField(attr *model.Descriptor) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Contains(e.attrs, attr)
}

// Fields yields e's descriptors in declaration order. Each iteration
// starts over from the current list.
func (e *Entity) Fields() iter.Seq[*model.Descriptor] {
	return func(yield func(*model.Descriptor) bool) {
		for _, attr := range e.attrList() {
			if !yield(attr) {
				return
			}
		}
	}
}

func (e *Entity) attrList() []*model.Descriptor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.attrs)
}

// Field finds a held descriptor by name.
func (e *Entity) Field(name string) (*model.Descriptor, bool) {
	for _, attr := range e.attrList() {
		if attr.Name() == name {
			return attr, true
		}
	}
	return nil, false
}

// Value returns attr's stored value.
func (e *Entity) Value(attr *model.Descriptor) (model.Value, error) {
	if !e.ContainsField(attr) {
		return nil, attributeNotFound(attr.Name())
	}
	v, _ := e.fields.Get(attr)
	return orNull(v), nil
}

// ValueOf implements model.View for active conditions.
func (e *Entity) ValueOf(name string) (model.Value, bool) {
	attr, ok := e.Field(name)
	if !ok {
		return nil, false
	}
	v, _ := e.fields.Get(attr)
	return orNull(v), true
}

// SetValue writes v to attr and reports the change.
//
// The value is written even when it equals the stored one. Only a real
// change fires events, in this order: AttributeAdded for optional
// attributes that became active, AttributeRemoved for those that became
// inactive, then ValueChanged. Reference edges and the statistics sample
// follow the events. A listener that writes attr again supersedes v: the
// edges end up matching the stored value and v is not sampled.
func (e *Entity) SetValue(attr *model.Descriptor, v model.Value) error {
	v = orNull(v)
	if !e.ContainsField(attr) {
		return attributeNotFound(attr.Name())
	}
	if err := checkValue(attr, v); err != nil {
		return err
	}

	attrs := e.attrList()
	before := activeOptional(e, attrs)

	old, _ := e.fields.Get(attr)
	old = orNull(old)
	if err := e.fields.Set(attr, v, false); err != nil {
		return fmt.Errorf("set %s: %w", attr.Name(), err)
	}
	if model.Equal(old, v) {
		return nil
	}

	after := activeOptional(e, attrs)
	added, removed := transitions(before, after)
	for _, a := range added {
		e.fireAdded(a)
	}
	for _, a := range removed {
		current, _ := e.fields.Get(a)
		e.fireRemoved(a, orNull(current))
	}
	e.fireChanged(attr, old, v)

	if attr.ReferenceBearing() {
		e.relink(attr)
	}
	if s, ok := e.Statistics(attr); ok {
		if current, _ := e.fields.Get(attr); model.Equal(orNull(current), v) {
			s.Add(v)
		}
	}
	return nil
}

// relink moves attr's edges from the value last linked to the one stored
// now. It is a no-op when a nested write already did so.
func (e *Entity) relink(attr *model.Descriptor) {
	current, _ := e.fields.Get(attr)
	current = orNull(current)

	e.mu.Lock()
	prev := orNull(e.linked[attr])
	if model.Equal(prev, current) {
		e.mu.Unlock()
		return
	}
	e.linked[attr] = current
	e.mu.Unlock()

	e.rt.unlink(e.handle, attr, prev)
	e.rt.link(e.handle, attr, current)
}

// AddField inserts attr at index, storing its default. It fires nothing;
// see AddAttribute.
func (e *Entity) AddField(attr *model.Descriptor, index int) error {
	def := orNull(attr.Default())
	if err := checkValue(attr, def); err != nil {
		return err
	}

	e.mu.Lock()
	if slices.Contains(e.attrs, attr) {
		e.mu.Unlock()
		return &Error{Code: ErrCodeDuplicateAttribute, Message: "attribute already present", Attr: attr.Name()}
	}
	if index < 0 || index > len(e.attrs) {
		n := len(e.attrs)
		e.mu.Unlock()
		return insertOutOfRange(index, n)
	}
	if err := e.fields.Set(attr, def, true); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("add %s: %w", attr.Name(), err)
	}
	e.attrs = slices.Insert(e.attrs, index, attr)
	if attr.ReferenceBearing() {
		e.linked[attr] = def
	}
	e.mu.Unlock()

	if attr.ReferenceBearing() {
		e.rt.link(e.handle, attr, def)
	}
	return nil
}

// RemoveField deletes attr's storage and its place in the order. It fires
// nothing; see DropAttribute.
func (e *Entity) RemoveField(attr *model.Descriptor) error {
	e.mu.Lock()
	i := slices.Index(e.attrs, attr)
	if i < 0 {
		e.mu.Unlock()
		return attributeNotFound(attr.Name())
	}
	if err := e.fields.Remove(attr); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("remove %s: %w", attr.Name(), err)
	}
	e.attrs = slices.Delete(e.attrs, i, i+1)
	delete(e.series, attr)
	prev, wasLinked := e.linked[attr]
	delete(e.linked, attr)
	e.mu.Unlock()

	if wasLinked {
		e.rt.unlink(e.handle, attr, prev)
	}
	return nil
}

// AddAttribute adds attr at index and fires AttributeAdded if attr is
// present afterwards (unconditional, or optional and active).
func (e *Entity) AddAttribute(attr *model.Descriptor, index int) error {
	if err := e.AddField(attr, index); err != nil {
		return err
	}
	if IsActive(e, attr) {
		e.fireAdded(attr)
	}
	return nil
}

// DropAttribute removes attr and fires AttributeRemoved with its last
// value if it was present.
func (e *Entity) DropAttribute(attr *model.Descriptor) error {
	if !e.ContainsField(attr) {
		return attributeNotFound(attr.Name())
	}
	active := IsActive(e, attr)
	old, _ := e.fields.Get(attr)
	if err := e.RemoveField(attr); err != nil {
		return err
	}
	if active {
		e.fireRemoved(attr, orNull(old))
	}
	return nil
}

// ActiveFields returns the attributes currently present, in order.
func (e *Entity) ActiveFields() []*model.Descriptor {
	var out []*model.Descriptor
	for _, attr := range e.attrList() {
		if IsActive(e, attr) {
			out = append(out, attr)
		}
	}
	return out
}

// Snapshot returns every stored value keyed by attribute name.
func (e *Entity) Snapshot() model.Record {
	out := make(model.Record)
	for _, attr := range e.attrList() {
		v, _ := e.fields.Get(attr)
		out[attr.Name()] = orNull(v)
	}
	return out
}

// Copy builds a new entity of the same type with the same attributes and
// values. The identifier attribute, if any, gets a fresh value.
func (e *Entity) Copy() (*Entity, error) {
	attrs := e.attrList()
	values := make(map[*model.Descriptor]model.Value, len(attrs))
	for _, attr := range attrs {
		if attr.Identifier() && e.rt.ids != nil && acceptsString(attr) {
			continue
		}
		v, _ := e.fields.Get(attr)
		values[attr] = orNull(v)
	}
	return e.rt.build(e.typ, attrs, e.rt.newFields(e.typ), values)
}

// DirectReferences lists who currently points at e: referencing
// attributes of other entities, and collections containing e.
func (e *Entity) DirectReferences() []Reference {
	return e.rt.DirectReferences(e)
}

// Listen registers l for e's events.
func (e *Entity) Listen(l EntityListener) *Subscription {
	return e.listeners.add(l)
}

// EnableStatistics starts sampling attr's values on every change. A
// non-positive capacity selects the runtime default. Enabling again keeps
// the existing series.
func (e *Entity) EnableStatistics(attr *model.Descriptor, capacity int) error {
	if capacity <= 0 {
		capacity = e.rt.statCapacity
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !slices.Contains(e.attrs, attr) {
		return attributeNotFound(attr.Name())
	}
	if e.series == nil {
		e.series = make(map[*model.Descriptor]*stats.Series)
	}
	if _, ok := e.series[attr]; !ok {
		e.series[attr] = stats.NewSeries(attr.Name(), capacity, e.rt.clock)
	}
	return nil
}

// Statistics returns attr's series if sampling was enabled.
func (e *Entity) Statistics(attr *model.Descriptor) (*stats.Series, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.series[attr]
	return s, ok
}

// Destroy detaches e from the runtime: it leaves every collection holding
// it, drops the edges its values created and the edges pointing at it, and
// frees its handle. Refs to e held elsewhere stay as values but are no
// longer tracked.
func (e *Entity) Destroy() {
	if e.destroyedOrForeign(e.rt) {
		return
	}
	for _, edge := range e.rt.refs.DirectReferences(e.handle) {
		if edge.Attr != nil {
			continue
		}
		if c, ok := e.rt.collections.Resolve(edge.Source); ok {
			for c.Remove(e) {
			}
		}
	}

	e.mu.Lock()
	linked := e.linked
	e.linked = make(map[*model.Descriptor]model.Value)
	e.mu.Unlock()
	for _, attr := range e.attrList() {
		if v, ok := linked[attr]; ok {
			e.rt.unlink(e.handle, attr, v)
		}
	}

	e.mu.Lock()
	e.destroyed = true
	e.mu.Unlock()

	e.rt.refs.Drop(e.handle)
	e.rt.entities.Release(e.handle)
	e.rt.logger.Debug("entity destroyed", "type", e.typ.Name(), "handle", e.handle.String())
}

// Destroyed reports whether Destroy has run.
func (e *Entity) Destroyed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.destroyed
}

func (e *Entity) fireAdded(attr *model.Descriptor) {
	for _, reg := range e.listeners.snapshot() {
		reg.listener.OnAttributeAdded(e, attr)
	}
}

func (e *Entity) fireRemoved(attr *model.Descriptor, old model.Value) {
	for _, reg := range e.listeners.snapshot() {
		reg.listener.OnAttributeRemoved(e, attr, old)
	}
}

func (e *Entity) fireChanged(attr *model.Descriptor, old, v model.Value) {
	for _, reg := range e.listeners.snapshot() {
		reg.listener.OnValueChanged(e, attr, old, v)
	}
}

// membershipEdge is the edge a collection holds on each of its members.
func membershipEdge(c *Collection) refs.Edge {
	return refs.Edge{Source: c.handle}
}

func (e *Entity) String() string {
	return fmt.Sprintf("%s@%s", e.typ.Name(), e.handle)
}
