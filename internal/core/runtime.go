package core

import (
	"fmt"
	"log/slog"

	"github.com/roach88/tessera/internal/arena"
	"github.com/roach88/tessera/internal/model"
	"github.com/roach88/tessera/internal/refs"
	"github.com/roach88/tessera/internal/schema"
	"github.com/roach88/tessera/internal/source"
	"github.com/roach88/tessera/internal/stats"
)

// DefaultStatCapacity is the series capacity used when EnableStatistics is
// given a non-positive capacity.
const DefaultStatCapacity = 128

// Runtime creates entities and collections and owns the bookkeeping they
// share: the handle arenas and the reverse-reference tracker.
//
// Cores created by one Runtime may reference each other. Refs across
// runtimes are stored but never tracked.
type Runtime struct {
	entities    *arena.Arena[Entity]
	collections *arena.Arena[Collection]
	refs        *refs.Tracker

	logger       *slog.Logger
	clock        stats.Clock
	statCapacity int
	ids          IDGenerator
	newFields    func(*schema.Type) source.Fields
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) {
		rt.logger = l
	}
}

// WithClock sets the clock that timestamps statistics samples.
func WithClock(c stats.Clock) Option {
	return func(rt *Runtime) {
		rt.clock = c
	}
}

// WithStatCapacity sets the default statistics series capacity.
func WithStatCapacity(n int) Option {
	return func(rt *Runtime) {
		rt.statCapacity = n
	}
}

// WithIDGenerator sets the generator for identifier attributes. Pass nil
// to leave identifiers at their declared default.
func WithIDGenerator(g IDGenerator) Option {
	return func(rt *Runtime) {
		rt.ids = g
	}
}

// WithFieldsFactory sets the storage created for entities built without an
// explicit source (default: an in-memory source.MapFields).
func WithFieldsFactory(f func(*schema.Type) source.Fields) Option {
	return func(rt *Runtime) {
		rt.newFields = f
	}
}

// NewRuntime creates a Runtime.
func NewRuntime(opts ...Option) *Runtime {
	rt := &Runtime{
		refs:         refs.NewTracker(),
		logger:       slog.Default(),
		clock:        stats.SystemClock{},
		statCapacity: DefaultStatCapacity,
		ids:          UUIDv7Generator{},
		newFields: func(*schema.Type) source.Fields {
			return source.NewMapFields()
		},
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.entities = arena.New[Entity](model.HandleEntity, rt.collected)
	rt.collections = arena.New[Collection](model.HandleCollection, rt.collected)
	return rt
}

// collected drops the bookkeeping of a core that was garbage collected
// without being destroyed.
func (rt *Runtime) collected(h model.Handle) {
	rt.refs.Drop(h)
	n := rt.refs.DropSource(h)
	rt.logger.Debug("core collected", "handle", h.String(), "edges_dropped", n)
}

// NewEntity creates an entity of typ with every attribute at its default.
func (rt *Runtime) NewEntity(typ *schema.Type) (*Entity, error) {
	return rt.NewEntityFrom(typ, nil)
}

// NewEntityFrom creates an entity of typ, taking initial values by
// attribute name. Attributes missing from values start at their default.
// It is the factory used for copies.
func (rt *Runtime) NewEntityFrom(typ *schema.Type, values map[string]model.Value) (*Entity, error) {
	return rt.NewEntityWith(typ, rt.newFields(typ), values)
}

// NewEntityWith creates an entity of typ stored in fields. Values already
// present in fields are kept unless overridden by values; this is how a
// persisted entity is reopened.
func (rt *Runtime) NewEntityWith(typ *schema.Type, fields source.Fields, values map[string]model.Value) (*Entity, error) {
	byAttr := make(map[*model.Descriptor]model.Value, len(values))
	for name, v := range values {
		attr, ok := typ.Lookup(name)
		if !ok {
			return nil, attributeNotFound(name)
		}
		byAttr[attr] = v
	}
	return rt.build(typ, typ.Descriptors(), fields, byAttr)
}

func (rt *Runtime) build(typ *schema.Type, attrs []*model.Descriptor, fields source.Fields, values map[*model.Descriptor]model.Value) (*Entity, error) {
	initial := make([]model.Value, len(attrs))
	for i, attr := range attrs {
		v, ok := values[attr]
		if !ok {
			if stored, has := fields.Get(attr); has {
				v = stored
			} else {
				v = attr.Default()
			}
		}
		if model.IsNull(v) && attr.Identifier() && rt.ids != nil && acceptsString(attr) {
			v = model.String(rt.ids.Generate())
		}
		if err := checkValue(attr, v); err != nil {
			return nil, err
		}
		initial[i] = orNull(v)
	}

	e := &Entity{
		rt:     rt,
		typ:    typ,
		fields: fields,
		linked: make(map[*model.Descriptor]model.Value),
	}
	for i, attr := range attrs {
		if err := fields.Set(attr, initial[i], true); err != nil {
			return nil, fmt.Errorf("initialize %s.%s: %w", typ.Name(), attr.Name(), err)
		}
		e.attrs = append(e.attrs, attr)
	}
	e.handle = rt.entities.Insert(e)

	for i, attr := range attrs {
		if attr.ReferenceBearing() {
			e.linked[attr] = initial[i]
			rt.link(e.handle, attr, initial[i])
		}
	}
	return e, nil
}

// NewCollection creates an empty collection of entities of typ.
func (rt *Runtime) NewCollection(typ *schema.Type) *Collection {
	return rt.NewCollectionWith(typ, source.NewSlice[*Entity]())
}

// NewCollectionWith creates a collection stored in items. items must be
// empty.
func (rt *Runtime) NewCollectionWith(typ *schema.Type, items source.List[*Entity]) *Collection {
	c := &Collection{
		rt:      rt,
		typ:     typ,
		items:   items,
		bridges: make(map[*Entity]*bridge),
	}
	c.handle = rt.collections.Insert(c)
	return c
}

// Lookup resolves a handle to its live entity or collection.
func (rt *Runtime) Lookup(h model.Handle) (model.Node, bool) {
	switch h.Kind {
	case model.HandleEntity:
		if e, ok := rt.entities.Resolve(h); ok {
			return e, true
		}
	case model.HandleCollection:
		if c, ok := rt.collections.Resolve(h); ok {
			return c, true
		}
	}
	return nil, false
}

// Resolver adapts Lookup for model.UnmarshalValueWith.
func (rt *Runtime) Resolver() model.Resolver {
	return rt.Lookup
}

// Reference is a resolved reverse edge. Attr is nil when Source is a
// collection that contains the target.
type Reference struct {
	Source model.Node
	Attr   *model.Descriptor
}

// DirectReferences lists who currently points at n. Sources that were
// destroyed or collected are skipped.
func (rt *Runtime) DirectReferences(n model.Node) []Reference {
	edges := rt.refs.DirectReferences(n.Handle())
	out := make([]Reference, 0, len(edges))
	for _, edge := range edges {
		src, ok := rt.Lookup(edge.Source)
		if !ok {
			continue
		}
		out = append(out, Reference{Source: src, Attr: edge.Attr})
	}
	return out
}

// Live returns the number of live entities and collections.
func (rt *Runtime) Live() (entities, collections int) {
	return rt.entities.Live(), rt.collections.Live()
}

// Tracker exposes the reverse-reference index for inspection.
func (rt *Runtime) Tracker() *refs.Tracker {
	return rt.refs
}

// node is implemented by Entity and Collection.
type node interface {
	model.Node
	destroyedOrForeign(rt *Runtime) bool
}

// addEdge records edge on target unless target is gone or belongs to
// another runtime.
func (rt *Runtime) addEdge(target model.Node, edge refs.Edge) {
	n, ok := target.(node)
	if !ok || n.destroyedOrForeign(rt) {
		return
	}
	rt.refs.Add(target.Handle(), edge)
}

// removeEdge is the inverse of addEdge. A missing edge is a pairing bug
// and panics.
func (rt *Runtime) removeEdge(target model.Node, edge refs.Edge) {
	n, ok := target.(node)
	if !ok || n.destroyedOrForeign(rt) {
		return
	}
	if err := rt.refs.Remove(target.Handle(), edge); err != nil {
		panic(fmt.Errorf("core: %w", err))
	}
}

// distinctTargets returns the nodes referenced by v, each once, in
// first-seen order.
func distinctTargets(v model.Value) []model.Node {
	var out []model.Node
	seen := make(map[model.Handle]bool)
	for _, r := range model.Refs(v) {
		if r.Node == nil {
			continue
		}
		h := r.Handle()
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, r.Node)
	}
	return out
}

// link adds the edges (source, attr) for every node v references. A
// referenced collection passes the edge on to each of its members.
func (rt *Runtime) link(source model.Handle, attr *model.Descriptor, v model.Value) {
	edge := refs.Edge{Source: source, Attr: attr}
	for _, target := range distinctTargets(v) {
		rt.addEdge(target, edge)
		if c, ok := target.(*Collection); ok && !c.destroyedOrForeign(rt) {
			for _, member := range c.members() {
				rt.addEdge(member, edge)
			}
		}
	}
}

// unlink removes what link added for the same value.
func (rt *Runtime) unlink(source model.Handle, attr *model.Descriptor, v model.Value) {
	edge := refs.Edge{Source: source, Attr: attr}
	for _, target := range distinctTargets(v) {
		rt.removeEdge(target, edge)
		if c, ok := target.(*Collection); ok && !c.destroyedOrForeign(rt) {
			for _, member := range c.members() {
				rt.removeEdge(member, edge)
			}
		}
	}
}

func orNull(v model.Value) model.Value {
	if v == nil {
		return model.Null{}
	}
	return v
}

func acceptsString(attr *model.Descriptor) bool {
	return attr.Kind() == model.KindString || attr.Kind() == model.KindAny
}

// checkValue validates v against attr's kind and null constraint.
func checkValue(attr *model.Descriptor, v model.Value) error {
	if model.IsNull(v) {
		if attr.NeverNull() {
			return &Error{Code: ErrCodeNullNotAllowed, Message: "attribute is never-null", Attr: attr.Name()}
		}
		return nil
	}
	if !attr.Kind().Accepts(v) {
		return &Error{
			Code:    ErrCodeTypeMismatch,
			Message: fmt.Sprintf("%s value for %s attribute", kindOf(v), attr.Kind()),
			Attr:    attr.Name(),
		}
	}
	return nil
}

func kindOf(v model.Value) model.Kind {
	switch v.(type) {
	case model.String:
		return model.KindString
	case model.Int:
		return model.KindInt
	case model.Bool:
		return model.KindBool
	case model.List:
		return model.KindList
	case model.Record:
		return model.KindRecord
	case model.Ref:
		return model.KindRef
	}
	return model.KindAny
}
