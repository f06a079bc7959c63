package schema

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/roach88/tessera/internal/model"
)

// Type is a named, ordered list of descriptors.
type Type struct {
	name   string
	attrs  []*model.Descriptor
	byName map[string]*model.Descriptor
}

// Name returns the type name.
func (t *Type) Name() string { return t.name }

// Descriptors returns the descriptors in declaration order. The slice is a copy.
func (t *Type) Descriptors() []*model.Descriptor {
	return slices.Clone(t.attrs)
}

// Lookup finds a descriptor by name.
func (t *Type) Lookup(name string) (*model.Descriptor, bool) {
	d, ok := t.byName[name]
	return d, ok
}

// Identifier returns the first identifier-flagged descriptor, if any.
func (t *Type) Identifier() (*model.Descriptor, bool) {
	for _, d := range t.attrs {
		if d.Identifier() {
			return d, true
		}
	}
	return nil, false
}

// Builder assembles a Type.
//
//	typ, err := schema.NewBuilder("Widget").
//		Attr("B", model.KindInt, model.WithDefault(model.Int(0))).
//		Attr("A", model.KindString, model.WithCondition(schema.WhenEquals("B", model.Int(1)))).
//		Build()
type Builder struct {
	name  string
	attrs []*model.Descriptor
	errs  []error
}

// NewBuilder starts a type definition.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Attr declares the next attribute.
func (b *Builder) Attr(name string, kind model.Kind, opts ...model.DescriptorOption) *Builder {
	return b.Descriptor(model.NewDescriptor(name, kind, opts...))
}

// Descriptor adds an already constructed descriptor.
func (b *Builder) Descriptor(d *model.Descriptor) *Builder {
	if d.Name() == "" {
		b.errs = append(b.errs, fmt.Errorf("type %s: attribute name is required", b.name))
		return b
	}
	b.attrs = append(b.attrs, d)
	return b
}

// Build validates and returns the Type.
func (b *Builder) Build() (*Type, error) {
	if b.name == "" {
		return nil, fmt.Errorf("type name is required")
	}
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}

	t := &Type{
		name:   b.name,
		attrs:  slices.Clone(b.attrs),
		byName: make(map[string]*model.Descriptor, len(b.attrs)),
	}
	for _, d := range t.attrs {
		if _, dup := t.byName[d.Name()]; dup {
			return nil, fmt.Errorf("type %s: duplicate attribute %q", b.name, d.Name())
		}
		if !d.Kind().Accepts(d.Default()) {
			return nil, fmt.Errorf("type %s: default of %q is not a %s", b.name, d.Name(), d.Kind())
		}
		if d.NeverNull() && model.IsNull(d.Default()) && !d.Identifier() {
			return nil, fmt.Errorf("type %s: never-null attribute %q needs a default", b.name, d.Name())
		}
		t.byName[d.Name()] = d
	}
	return t, nil
}

// MustBuild is like Build but panics on error.
// Use only in tests or for static schemas known to be valid.
func (b *Builder) MustBuild() *Type {
	t, err := b.Build()
	if err != nil {
		panic(err)
	}
	return t
}

// Registry holds every known type by name.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*Type
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*Type)}
}

// Register adds t. Registering a second type with the same name fails.
func (r *Registry) Register(t *Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[t.name]; ok {
		return fmt.Errorf("type %q already registered", t.name)
	}
	r.types[t.name] = t
	return nil
}

// Lookup finds a type by name.
func (r *Registry) Lookup(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Names returns the registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
