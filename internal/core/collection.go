package core

import (
	"fmt"
	"iter"
	"sync"

	"github.com/roach88/tessera/internal/model"
	"github.com/roach88/tessera/internal/schema"
	"github.com/roach88/tessera/internal/source"
	"github.com/roach88/tessera/internal/stats"
)

// Collection is the data core of an ordered, optionally bounded sequence
// of entities of one type.
//
// A collection forwards every event of its members to its own listeners
// and shares its inbound reference edges with them: an entity in a
// referenced collection is reachable from the same referrers.
//
// Like Entity, mutations are expected from one goroutine at a time.
type Collection struct {
	rt     *Runtime
	typ    *schema.Type
	handle model.Handle
	items  source.List[*Entity]

	mu        sync.RWMutex
	limit     limitPolicy
	bridges   map[*Entity]*bridge
	series    *stats.Series
	destroyed bool

	listeners registry[CollectionListener]
}

// bridge forwards one member's events. count tracks how many times the
// member occurs, so a duplicate keeps a single subscription.
type bridge struct {
	c     *Collection
	sub   *Subscription
	count int
}

func (b *bridge) OnValueChanged(e *Entity, attr *model.Descriptor, old, new model.Value) {
	b.c.forward(e, Event{Kind: ValueChanged, Attr: attr, Old: old, New: new})
}

func (b *bridge) OnAttributeAdded(e *Entity, attr *model.Descriptor) {
	b.c.forward(e, Event{Kind: AttributeAdded, Attr: attr})
}

func (b *bridge) OnAttributeRemoved(e *Entity, attr *model.Descriptor, old model.Value) {
	b.c.forward(e, Event{Kind: AttributeRemoved, Attr: attr, Old: old})
}

func (c *Collection) forward(e *Entity, ev Event) {
	ev.Source = c
	ev.Entity = e
	for _, reg := range c.listeners.snapshot() {
		reg.listener.OnEntityEvent(c, e, ev)
	}
}

// Handle implements model.Node.
func (c *Collection) Handle() model.Handle { return c.handle }

// Type returns the declared element type.
func (c *Collection) Type() *schema.Type { return c.typ }

func (c *Collection) destroyedOrForeign(rt *Runtime) bool {
	if c.rt != rt {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.destroyed
}

// members snapshots the current elements.
func (c *Collection) members() []*Entity {
	out := make([]*Entity, 0, c.items.Len())
	for _, e := range c.items.All() {
		out = append(out, e)
	}
	return out
}

// Len returns the number of elements.
func (c *Collection) Len() int { return c.items.Len() }

// Get returns the element at i.
func (c *Collection) Get(i int) (*Entity, error) {
	if n := c.items.Len(); i < 0 || i >= n {
		return nil, indexOutOfRange(i, n)
	}
	return c.items.Get(i), nil
}

// IndexOf returns the first index of e, or -1.
func (c *Collection) IndexOf(e *Entity) int { return c.items.IndexOf(e) }

// All yields (index, entity) pairs in order.
func (c *Collection) All() iter.Seq2[int, *Entity] { return c.items.All() }

// Limit returns the capacity limit, if one is set.
func (c *Collection) Limit() (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limit.max, c.limit.set
}

// Evicting reports whether adds at the limit evict the oldest element.
func (c *Collection) Evicting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limit.evicting
}

func (c *Collection) policy() limitPolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limit
}

func (c *Collection) checkType(e *Entity) error {
	if e == nil {
		return &Error{Code: ErrCodeTypeMismatch, Message: "nil entity"}
	}
	if e.typ != c.typ {
		return &Error{
			Code:    ErrCodeTypeMismatch,
			Message: fmt.Sprintf("collection of %s cannot hold %s", c.typ.Name(), e.typ.Name()),
		}
	}
	return nil
}

// Add inserts e at index.
//
// At the limit, an evicting collection first removes the element at index
// 0 through RemoveAt, shifting index down by one; a non-evicting one fails
// with CAPACITY_EXCEEDED and is left unchanged.
func (c *Collection) Add(e *Entity, index int) error {
	if err := c.checkType(e); err != nil {
		return err
	}
	n := c.items.Len()
	if index < 0 || index > n {
		return insertOutOfRange(index, n)
	}
	p := c.policy()
	if p.full(n) {
		if !p.evicting || p.max == 0 {
			return &Error{
				Code:    ErrCodeCapacityExceeded,
				Message: fmt.Sprintf("collection is at its limit of %d", p.max),
			}
		}
		for c.policy().full(c.items.Len()) {
			evicted, err := c.RemoveAt(0)
			if err != nil {
				return err
			}
			c.rt.logger.Debug("collection evicted entity",
				"collection", c.handle.String(),
				"entity", evicted.handle.String())
			if index > 0 {
				index--
			}
		}
	}

	c.items.Add(e, index)
	c.subscribe(e)
	for _, reg := range c.listeners.snapshot() {
		reg.listener.OnEntityAdded(c, e)
	}

	c.rt.addEdge(e, membershipEdge(c))
	for _, edge := range c.rt.refs.DirectReferences(c.handle) {
		if edge.Attr != nil {
			c.rt.addEdge(e, edge)
		}
	}
	c.sampleSize()
	return nil
}

// Append adds e at the end.
func (c *Collection) Append(e *Entity) error {
	return c.Add(e, c.items.Len())
}

// RemoveAt removes and returns the element at index.
func (c *Collection) RemoveAt(index int) (*Entity, error) {
	n := c.items.Len()
	if index < 0 || index >= n {
		return nil, indexOutOfRange(index, n)
	}
	e := c.items.Get(index)
	c.unsubscribe(e)
	c.items.RemoveAt(index)
	for _, reg := range c.listeners.snapshot() {
		reg.listener.OnEntityRemoved(c, e)
	}

	c.rt.removeEdge(e, membershipEdge(c))
	for _, edge := range c.rt.refs.DirectReferences(c.handle) {
		if edge.Attr != nil {
			c.rt.removeEdge(e, edge)
		}
	}
	c.sampleSize()
	return e, nil
}

// Remove removes the first occurrence of e. It returns false if e is not
// an element.
func (c *Collection) Remove(e *Entity) bool {
	i := c.items.IndexOf(e)
	if i < 0 {
		return false
	}
	_, err := c.RemoveAt(i)
	return err == nil
}

// Replace puts e at index in place of the current element, which it
// returns. The removal and the addition fire their usual events.
func (c *Collection) Replace(e *Entity, index int) (*Entity, error) {
	if err := c.checkType(e); err != nil {
		return nil, err
	}
	if n := c.items.Len(); index < 0 || index >= n {
		return nil, indexOutOfRange(index, n)
	}
	old, err := c.RemoveAt(index)
	if err != nil {
		return nil, err
	}
	if err := c.Add(e, index); err != nil {
		return old, err
	}
	return old, nil
}

// SetLimit bounds the collection to max elements; max < 0 removes the
// bound. Excess elements are evicted from the front immediately, whatever
// evicting says, each through RemoveAt.
func (c *Collection) SetLimit(max int, evicting bool) {
	c.mu.Lock()
	if max < 0 {
		c.limit = limitPolicy{evicting: evicting}
	} else {
		c.limit = limitPolicy{max: max, set: true, evicting: evicting}
	}
	p := c.limit
	c.mu.Unlock()

	c.rt.logger.Debug("collection limit changed",
		"collection", c.handle.String(),
		"limit", max,
		"evicting", evicting)

	for range p.excess(c.items.Len()) {
		if _, err := c.RemoveAt(0); err != nil {
			return
		}
	}
}

// Sort reorders the elements in place. No event is fired.
func (c *Collection) Sort(cmp func(a, b *Entity) int) {
	c.items.Sort(cmp)
}

// Clear removes every element, last first.
func (c *Collection) Clear() {
	for n := c.items.Len(); n > 0; n = c.items.Len() {
		if _, err := c.RemoveAt(n - 1); err != nil {
			return
		}
	}
}

// Listen registers l for c's events and its members' forwarded events.
func (c *Collection) Listen(l CollectionListener) *Subscription {
	return c.listeners.add(l)
}

// DirectReferences lists the attributes pointing at c.
func (c *Collection) DirectReferences() []Reference {
	return c.rt.DirectReferences(c)
}

// EnableStatistics starts sampling the size after every membership change.
// A non-positive capacity selects the runtime default.
func (c *Collection) EnableStatistics(capacity int) {
	if capacity <= 0 {
		capacity = c.rt.statCapacity
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.series == nil {
		c.series = stats.NewSeries("size", capacity, c.rt.clock)
	}
}

// Statistics returns the size series if sampling was enabled.
func (c *Collection) Statistics() (*stats.Series, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.series, c.series != nil
}

func (c *Collection) sampleSize() {
	if s, ok := c.Statistics(); ok {
		s.Add(model.Int(c.items.Len()))
	}
}

func (c *Collection) subscribe(e *Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.bridges[e]; ok {
		b.count++
		return
	}
	b := &bridge{c: c, count: 1}
	b.sub = e.Listen(b)
	c.bridges[e] = b
}

func (c *Collection) unsubscribe(e *Entity) {
	c.mu.Lock()
	b, ok := c.bridges[e]
	if !ok {
		c.mu.Unlock()
		return
	}
	b.count--
	if b.count > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.bridges, e)
	c.mu.Unlock()
	b.sub.Close()
}

// Destroy empties c, drops the edges pointing at it and frees its handle.
func (c *Collection) Destroy() {
	if c.destroyedOrForeign(c.rt) {
		return
	}
	c.Clear()

	c.mu.Lock()
	c.destroyed = true
	c.mu.Unlock()

	c.rt.refs.Drop(c.handle)
	c.rt.collections.Release(c.handle)
	c.rt.logger.Debug("collection destroyed", "type", c.typ.Name(), "handle", c.handle.String())
}

// Destroyed reports whether Destroy has run.
func (c *Collection) Destroyed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.destroyed
}

func (c *Collection) String() string {
	return fmt.Sprintf("[%s]@%s", c.typ.Name(), c.handle)
}
