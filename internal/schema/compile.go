package schema

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/tessera/internal/model"
)

// CompileError is a schema error with its CUE source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var flagNames = map[string]model.Flags{
	"private":    model.FlagPrivate,
	"optional":   model.FlagOptional,
	"identifier": model.FlagIdentifier,
	"never_null": model.FlagNeverNull,
}

// CompileType parses one type struct (the value at type.<Name>).
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`type: Widget: { attr: { n: {kind: "int"} } }`)
//	typ, err := CompileType(v.LookupPath(cue.ParsePath("type.Widget")))
func CompileType(v cue.Value) (*Type, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	var name string
	if sels := v.Path().Selectors(); len(sels) > 0 {
		name = sels[len(sels)-1].String()
	}

	attrVal := v.LookupPath(cue.ParsePath("attr"))
	if !attrVal.Exists() {
		return nil, &CompileError{Field: name + ".attr", Message: "attr is required", Pos: v.Pos()}
	}

	iter, err := attrVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	b := NewBuilder(name)
	for iter.Next() {
		d, err := compileAttr(name, iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		b.Descriptor(d)
	}

	t, err := b.Build()
	if err != nil {
		return nil, &CompileError{Field: name, Message: err.Error(), Pos: v.Pos()}
	}
	return t, nil
}

// compileAttr parses one attribute declaration.
func compileAttr(typeName, attrName string, v cue.Value) (*model.Descriptor, error) {
	field := fmt.Sprintf("%s.attr.%s", typeName, attrName)
	var opts []model.DescriptorOption

	kind := model.KindAny
	if kv := v.LookupPath(cue.ParsePath("kind")); kv.Exists() {
		s, err := kv.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		kind, err = model.ParseKind(s)
		if err != nil {
			return nil, &CompileError{Field: field + ".kind", Message: err.Error(), Pos: kv.Pos()}
		}
	}

	if dv := v.LookupPath(cue.ParsePath("default")); dv.Exists() {
		def, err := cueToValue(dv)
		if err != nil {
			return nil, &CompileError{Field: field + ".default", Message: err.Error(), Pos: dv.Pos()}
		}
		opts = append(opts, model.WithDefault(def))
	}

	if fv := v.LookupPath(cue.ParsePath("flags")); fv.Exists() {
		list, err := fv.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		var flags model.Flags
		for list.Next() {
			s, err := list.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			f, ok := flagNames[s]
			if !ok {
				return nil, &CompileError{Field: field + ".flags", Message: fmt.Sprintf("unknown flag %q", s), Pos: list.Value().Pos()}
			}
			flags |= f
		}
		opts = append(opts, model.WithFlags(flags))
	}

	if av := v.LookupPath(cue.ParsePath("active_when")); av.Exists() {
		cond, err := compileCondition(field+".active_when", av)
		if err != nil {
			return nil, err
		}
		opts = append(opts, model.WithCondition(cond))
	}

	return model.NewDescriptor(attrName, kind, opts...), nil
}

// compileCondition parses {field: "x", equals: v} | {field, not_equals} | {field, set: true}.
func compileCondition(field string, v cue.Value) (model.Condition, error) {
	fv := v.LookupPath(cue.ParsePath("field"))
	if !fv.Exists() {
		return nil, &CompileError{Field: field, Message: "field is required", Pos: v.Pos()}
	}
	target, err := fv.String()
	if err != nil {
		return nil, formatCUEError(err)
	}

	if ev := v.LookupPath(cue.ParsePath("equals")); ev.Exists() {
		want, err := cueToValue(ev)
		if err != nil {
			return nil, &CompileError{Field: field + ".equals", Message: err.Error(), Pos: ev.Pos()}
		}
		return WhenEquals(target, want), nil
	}
	if nv := v.LookupPath(cue.ParsePath("not_equals")); nv.Exists() {
		want, err := cueToValue(nv)
		if err != nil {
			return nil, &CompileError{Field: field + ".not_equals", Message: err.Error(), Pos: nv.Pos()}
		}
		return WhenNotEquals(target, want), nil
	}
	if sv := v.LookupPath(cue.ParsePath("set")); sv.Exists() {
		set, err := sv.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if set {
			return WhenSet(target), nil
		}
		return WhenEquals(target, model.Null{}), nil
	}
	return nil, &CompileError{Field: field, Message: "one of equals, not_equals or set is required", Pos: v.Pos()}
}

// cueToValue converts a concrete CUE value to a model.Value.
func cueToValue(v cue.Value) (model.Value, error) {
	switch v.Kind() {
	case cue.NullKind:
		return model.Null{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		return model.Bool(b), err
	case cue.IntKind:
		n, err := v.Int64()
		return model.Int(n), err
	case cue.StringKind:
		s, err := v.String()
		return model.String(s), err
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, err
		}
		var list model.List
		for iter.Next() {
			elem, err := cueToValue(iter.Value())
			if err != nil {
				return nil, err
			}
			list = append(list, elem)
		}
		if list == nil {
			list = model.List{}
		}
		return list, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, err
		}
		rec := model.Record{}
		for iter.Next() {
			elem, err := cueToValue(iter.Value())
			if err != nil {
				return nil, err
			}
			rec[iter.Label()] = elem
		}
		return rec, nil
	case cue.FloatKind, cue.NumberKind:
		return nil, fmt.Errorf("floats are not allowed")
	default:
		return nil, fmt.Errorf("value must be concrete, got %s", v.IncompleteKind())
	}
}

// CompileTypes parses every type under the top-level "type" field, in
// declaration order.
func CompileTypes(v cue.Value) ([]*Type, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	typesVal := v.LookupPath(cue.ParsePath("type"))
	if !typesVal.Exists() {
		return nil, &CompileError{Field: "type", Message: "no type declarations found", Pos: v.Pos()}
	}

	iter, err := typesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var types []*Type
	for iter.Next() {
		t, err := CompileType(iter.Value())
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

// CompileFile compiles a single CUE file into a Registry.
func CompileFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return CompileBytes(data, path)
}

// CompileBytes compiles CUE source into a Registry. filename is used in
// error positions only.
func CompileBytes(src []byte, filename string) (*Registry, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	return registryFrom(v)
}

// LoadDir loads the CUE package in dir and compiles every type in it.
func LoadDir(dir string) (*Registry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, fmt.Errorf("scan schema directory: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	if err := instances[0].Err; err != nil {
		return nil, formatCUEError(err)
	}

	ctx := cuecontext.New()
	return registryFrom(ctx.BuildInstance(instances[0]))
}

func registryFrom(v cue.Value) (*Registry, error) {
	types, err := CompileTypes(v)
	if err != nil {
		return nil, err
	}
	reg := NewRegistry()
	for _, t := range types {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
