package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tessera/internal/model"
	"github.com/roach88/tessera/internal/schema"
	"github.com/roach88/tessera/internal/testutil"
)

// recorder collects event strings from any listener registry.
type recorder struct {
	mu     sync.Mutex
	events []string
	raw    []Event
}

func (r *recorder) listener() ListenerFunc {
	return func(ev Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev.String())
		r.raw = append(r.raw, ev)
	}
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	r.raw = nil
	return out
}

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	return NewRuntime(
		WithClock(testutil.NewStepClock(0)),
		WithIDGenerator(testutil.NewSequentialIDs("id")),
	)
}

// toggleType is A(optional, active iff B == 1), B(int, default 0).
func toggleType() *schema.Type {
	return schema.NewBuilder("Toggle").
		Attr("A", model.KindString, model.WithDefault(model.String("a")),
			model.WithCondition(schema.WhenEquals("B", model.Int(1)))).
		Attr("B", model.KindInt, model.WithDefault(model.Int(0))).
		MustBuild()
}

// nodeType has a ref attribute, a list attribute and a plain name.
func nodeType() *schema.Type {
	return schema.NewBuilder("Node").
		Attr("name", model.KindString).
		Attr("next", model.KindRef).
		Attr("items", model.KindList, model.WithDefault(model.List{})).
		MustBuild()
}

func mustAttr(t *testing.T, typ *schema.Type, name string) *model.Descriptor {
	t.Helper()
	d, ok := typ.Lookup(name)
	require.True(t, ok, "attribute %s", name)
	return d
}

func mustEntity(t *testing.T, rt *Runtime, typ *schema.Type) *Entity {
	t.Helper()
	e, err := rt.NewEntity(typ)
	require.NoError(t, err)
	return e
}

func names(attrs []*model.Descriptor) []string {
	out := make([]string, len(attrs))
	for i, a := range attrs {
		out[i] = a.Name()
	}
	return out
}
