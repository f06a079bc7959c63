package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface over the attribute value types.
// Only Null, String, Int, Bool, List, Record and Ref implement it.
type Value interface {
	value()
}

// Null is the absent value. A nil Value is treated as Null everywhere.
type Null struct{}

func (Null) value() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a string value.
type String string

func (String) value() {}

// Int is an integer value. Always int64, never float.
type Int int64

func (Int) value() {}

// Bool is a boolean value.
type Bool bool

func (Bool) value() {}

// List is an ordered sequence of values.
type List []Value

func (List) value() {}

// Record is a string-keyed map of values.
// Use SortedKeys() for deterministic iteration.
type Record map[string]Value

func (Record) value() {}

// Node is anything a Ref can point at: entities and collections.
type Node interface {
	Handle() Handle
}

// Ref is a forward reference to an entity or collection.
// The Ref keeps its target reachable; the target's reverse edge does not
// keep the referrer reachable.
type Ref struct {
	Node Node
}

func (Ref) value() {}

// NewRef creates a Ref to n.
func NewRef(n Node) Ref {
	return Ref{Node: n}
}

// Handle returns the handle of the referenced node, or the zero handle.
func (r Ref) Handle() Handle {
	if r.Node == nil {
		return Handle{}
	}
	return r.Node.Handle()
}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Equal reports deep equality of two values. Refs compare by handle.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	switch av := a.(type) {
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Ref:
		bv, ok := b.(Ref)
		return ok && av.Handle() == bv.Handle()
	case List:
		bv, ok := b.(List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Record:
		bv, ok := b.(Record)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, present := bv[k]
			if !present || !Equal(v, other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Refs returns every Ref reachable inside v, depth first, in order.
// Record fields are visited in SortedKeys order. Duplicates are kept.
func Refs(v Value) []Ref {
	var out []Ref
	collectRefs(v, &out)
	return out
}

func collectRefs(v Value, out *[]Ref) {
	switch val := v.(type) {
	case Ref:
		if val.Node != nil {
			*out = append(*out, val)
		}
	case List:
		for _, elem := range val {
			collectRefs(elem, out)
		}
	case Record:
		for _, k := range val.SortedKeys() {
			collectRefs(val[k], out)
		}
	}
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
func (r Record) SortedKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 orders strings by UTF-16 code units.
// Go's native string comparison uses UTF-8 bytes, which differs for
// characters outside the BMP.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}

// MarshalJSON implements json.Marshaler for Record with sorted keys.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valBytes, err := MarshalValue(r[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON implements json.Marshaler for List.
func (l List) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		elemBytes, err := MarshalValue(elem)
		if err != nil {
			return nil, fmt.Errorf("list[%d]: %w", i, err)
		}
		buf.Write(elemBytes)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// refKey is the single key of the JSON object encoding a Ref.
const refKey = "$ref"

// MarshalJSON encodes a Ref as {"$ref":"<handle>"}.
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{refKey: r.Handle().String()})
}

// MarshalValue marshals a Value to JSON bytes.
// This is NOT canonical marshaling. Use MarshalCanonical for hashing.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Bool:
		return json.Marshal(bool(val))
	case List:
		return val.MarshalJSON()
	case Record:
		return val.MarshalJSON()
	case Ref:
		return val.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}

// Resolver maps a persisted handle back to a live node.
type Resolver func(Handle) (Node, bool)

// UnmarshalValue decodes JSON into a Value. Floats are rejected.
// Objects of the form {"$ref":"..."} stay Records; use UnmarshalValueWith
// to turn them back into Refs.
func UnmarshalValue(data []byte) (Value, error) {
	return UnmarshalValueWith(data, nil)
}

// UnmarshalValueWith decodes JSON into a Value, resolving encoded refs
// through resolve. A ref whose target is gone decodes as Null.
func UnmarshalValueWith(data []byte, resolve Resolver) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return convertToValue(raw, resolve)
}

func convertToValue(v any, resolve Resolver) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("floats are not allowed: %s", s)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(n), nil
	case []any:
		list := make(List, len(val))
		for i, elem := range val {
			converted, err := convertToValue(elem, resolve)
			if err != nil {
				return nil, fmt.Errorf("list[%d]: %w", i, err)
			}
			list[i] = converted
		}
		return list, nil
	case map[string]any:
		if resolve != nil && len(val) == 1 {
			if s, ok := val[refKey].(string); ok {
				h, err := ParseHandle(s)
				if err != nil {
					return nil, err
				}
				if n, ok := resolve(h); ok {
					return NewRef(n), nil
				}
				return Null{}, nil
			}
		}
		rec := make(Record, len(val))
		for k, elem := range val {
			converted, err := convertToValue(elem, resolve)
			if err != nil {
				return nil, fmt.Errorf("record[%q]: %w", k, err)
			}
			rec[k] = converted
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// FromGo converts plain Go values (as produced by YAML or JSON decoders)
// into a Value.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		return Int(int64(val)), nil
	case bool:
		return Bool(val), nil
	case float64:
		if val != float64(int64(val)) {
			return nil, fmt.Errorf("floats are not allowed: %v", val)
		}
		return Int(int64(val)), nil
	case []any:
		list := make(List, len(val))
		for i, elem := range val {
			converted, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("list[%d]: %w", i, err)
			}
			list[i] = converted
		}
		return list, nil
	case map[string]any:
		rec := make(Record, len(val))
		for k, elem := range val {
			converted, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("record[%q]: %w", k, err)
			}
			rec[k] = converted
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// Format renders v for logs and CLI text output.
func Format(v Value) string {
	if r, ok := v.(Ref); ok {
		return "@" + r.Handle().String()
	}
	data, err := MarshalValue(v)
	if err != nil {
		return fmt.Sprintf("<%T>", v)
	}
	return string(data)
}
