package model

import "fmt"

// Kind is the declared value type of an attribute.
type Kind uint8

const (
	// KindAny accepts every value type.
	KindAny Kind = iota
	KindString
	KindInt
	KindBool
	KindList
	KindRecord
	KindRef
)

var kindNames = map[Kind]string{
	KindAny:    "any",
	KindString: "string",
	KindInt:    "int",
	KindBool:   "bool",
	KindList:   "list",
	KindRecord: "record",
	KindRef:    "ref",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind maps a kind name back to its Kind.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return KindAny, fmt.Errorf("unknown kind %q", name)
}

// Accepts reports whether v may be stored in an attribute of kind k.
// Null is accepted by every kind; never-null is enforced by flags.
func (k Kind) Accepts(v Value) bool {
	if IsNull(v) || k == KindAny {
		return true
	}
	switch v.(type) {
	case String:
		return k == KindString
	case Int:
		return k == KindInt
	case Bool:
		return k == KindBool
	case List:
		return k == KindList
	case Record:
		return k == KindRecord
	case Ref:
		return k == KindRef
	}
	return false
}

// Flags are the descriptor modifiers.
type Flags uint8

const (
	FlagPrivate Flags = 1 << iota
	FlagOptional
	FlagIdentifier
	FlagNeverNull
)

// Has reports whether every bit of f2 is set in f.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// View is the read side of an entity as seen by an active condition.
type View interface {
	ValueOf(name string) (Value, bool)
}

// Condition decides whether an optional attribute is currently present.
// Implementations must be pure: no mutation, same answer for the same state.
type Condition interface {
	Active(entity View, current Value) bool
}

// ConditionFunc adapts a function to Condition.
type ConditionFunc func(entity View, current Value) bool

// Active implements Condition.
func (f ConditionFunc) Active(entity View, current Value) bool {
	return f(entity, current)
}

// Descriptor is an immutable attribute definition. Identity is the pointer:
// two descriptors with the same name are still different attributes.
type Descriptor struct {
	name      string
	kind      Kind
	flags     Flags
	def       Value
	condition Condition
}

// DescriptorOption configures a Descriptor at construction.
type DescriptorOption func(*Descriptor)

// WithFlags sets descriptor flags.
func WithFlags(f Flags) DescriptorOption {
	return func(d *Descriptor) {
		d.flags |= f
	}
}

// WithDefault sets the value stored when the attribute is added.
func WithDefault(v Value) DescriptorOption {
	return func(d *Descriptor) {
		d.def = v
	}
}

// WithCondition marks the attribute optional and attaches its condition.
func WithCondition(c Condition) DescriptorOption {
	return func(d *Descriptor) {
		d.condition = c
		d.flags |= FlagOptional
	}
}

// NewDescriptor creates a descriptor.
func NewDescriptor(name string, kind Kind, opts ...DescriptorOption) *Descriptor {
	d := &Descriptor{name: name, kind: kind}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Descriptor) Name() string         { return d.name }
func (d *Descriptor) Kind() Kind           { return d.kind }
func (d *Descriptor) Flags() Flags         { return d.flags }
func (d *Descriptor) Condition() Condition { return d.condition }

// Default returns the initial value, Null when none was declared.
func (d *Descriptor) Default() Value {
	if d.def == nil {
		return Null{}
	}
	return d.def
}

// Optional reports whether presence is computed by a condition.
func (d *Descriptor) Optional() bool {
	return d.flags.Has(FlagOptional)
}

// NeverNull reports whether Null writes are rejected.
func (d *Descriptor) NeverNull() bool {
	return d.flags.Has(FlagNeverNull)
}

// Private reports whether the attribute is hidden from exports.
func (d *Descriptor) Private() bool {
	return d.flags.Has(FlagPrivate)
}

// Identifier reports whether the attribute identifies its entity.
func (d *Descriptor) Identifier() bool {
	return d.flags.Has(FlagIdentifier)
}

// ReferenceBearing reports whether values of this attribute may hold Refs.
func (d *Descriptor) ReferenceBearing() bool {
	switch d.kind {
	case KindRef, KindList, KindRecord, KindAny:
		return true
	}
	return false
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s:%s", d.name, d.kind)
}
