package store

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tessera/internal/core"
	"github.com/roach88/tessera/internal/model"
	"github.com/roach88/tessera/internal/source"
)

func collect(f *Fields) map[string]model.Value {
	out := make(map[string]model.Value)
	for attr, v := range f.All() {
		out[attr.Name()] = v
	}
	return out
}

func TestFields_SetGetRemove(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	typ := widgetType()
	count, _ := typ.Lookup("count")

	f := s.Fields(ctx, "w-1", typ, nil)
	_, ok := f.Get(count)
	assert.False(t, ok)

	err := f.Set(count, model.Int(1), false)
	assert.ErrorIs(t, err, source.ErrNotStored)

	require.NoError(t, f.Set(count, model.Int(1), true))
	require.NoError(t, f.Set(count, model.Int(2), false))

	v, ok := f.Get(count)
	require.True(t, ok)
	assert.Equal(t, model.Int(2), v)

	require.NoError(t, f.Remove(count))
	_, ok = f.Get(count)
	assert.False(t, ok)
	assert.ErrorIs(t, f.Remove(count), source.ErrNotStored)
	assert.NoError(t, f.Err())
}

func TestFields_NameBelongsToOneDescriptor(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	typ := widgetType()
	count, _ := typ.Lookup("count")
	other := model.NewDescriptor("count", model.KindInt, model.WithDefault(model.Int(0)))

	f := s.Fields(ctx, "w-1", typ, nil)
	require.NoError(t, f.Set(count, model.Int(7), true))

	assert.ErrorIs(t, f.Set(other, model.Int(0), true), source.ErrNameTaken)
	assert.ErrorIs(t, f.Set(other, model.Int(0), false), source.ErrNotStored)
	assert.ErrorIs(t, f.Remove(other), source.ErrNotStored)
	_, ok := f.Get(other)
	assert.False(t, ok)

	v, ok := f.Get(count)
	require.True(t, ok)
	assert.Equal(t, model.Int(7), v)

	// Removing the owner's row releases the name.
	require.NoError(t, f.Remove(count))
	require.NoError(t, f.Set(other, model.Int(3), true))
	v, ok = f.Get(other)
	require.True(t, ok)
	assert.Equal(t, model.Int(3), v)
	_, ok = f.Get(count)
	assert.False(t, ok)
	assert.NoError(t, f.Err())
}

func TestFields_EntityRejectsSameNamedDescriptor(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	typ := widgetType()
	count, _ := typ.Lookup("count")
	other := model.NewDescriptor("count", model.KindInt, model.WithDefault(model.Int(0)))

	rt := core.NewRuntime(core.WithIDGenerator(core.NewFixedGenerator("w-1")))
	e, err := rt.NewEntityWith(typ, s.Fields(ctx, "row-1", typ, rt.Resolver()), nil)
	require.NoError(t, err)
	require.NoError(t, e.SetValue(count, model.Int(7)))

	var events int
	e.Listen(core.ListenerFunc(func(core.Event) { events++ }))

	err = e.AddField(other, 0)
	assert.ErrorIs(t, err, source.ErrNameTaken)
	assert.False(t, e.ContainsField(other))
	assert.True(t, core.IsAttributeNotFound(e.RemoveField(other)))

	v, err := e.Value(count)
	require.NoError(t, err)
	assert.Equal(t, model.Int(7), v)
	assert.Zero(t, events)
	assert.Equal(t, model.Int(7), collect(s.Fields(ctx, "row-1", typ, rt.Resolver()))["count"])
}

func TestFields_AllInCreationOrder(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	typ := widgetType()
	label, _ := typ.Lookup("label")
	count, _ := typ.Lookup("count")

	f := s.Fields(ctx, "w-1", typ, nil)
	require.NoError(t, f.Set(label, model.String("x"), true))
	require.NoError(t, f.Set(count, model.Int(3), true))

	var order []string
	for attr := range f.All() {
		order = append(order, attr.Name())
	}
	assert.Equal(t, []string{"label", "count"}, order)
}

func TestFields_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/w.db"
	typ := widgetType()
	label, _ := typ.Lookup("label")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Fields(ctx, "w-1", typ, nil).Set(label, model.String("kept"), true))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	v, ok := s2.Fields(ctx, "w-1", typ, nil).Get(label)
	require.True(t, ok)
	assert.Equal(t, model.String("kept"), v)

	ids, err := s2.EntityIDs(ctx, "Widget")
	require.NoError(t, err)
	assert.Equal(t, []string{"w-1"}, ids)
}

func TestFields_CacheServesReads(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, WithCacheTTL(time.Minute))
	typ := widgetType()
	label, _ := typ.Lookup("label")

	f := s.Fields(ctx, "w-1", typ, nil)
	require.NoError(t, f.Set(label, model.String("cached"), true))
	assert.Equal(t, 1, s.cache.len())

	// Bypass the source: the cache still answers.
	_, err := s.db.Exec(`UPDATE entity_values SET value = '"direct"'`)
	require.NoError(t, err)
	v, _ := f.Get(label)
	assert.Equal(t, model.String("cached"), v)
}

func TestFields_NoCache(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, WithCacheTTL(0))
	typ := widgetType()
	label, _ := typ.Lookup("label")

	f := s.Fields(ctx, "w-1", typ, nil)
	require.NoError(t, f.Set(label, model.String("a"), true))
	_, err := s.db.Exec(`UPDATE entity_values SET value = '"direct"'`)
	require.NoError(t, err)

	v, _ := f.Get(label)
	assert.Equal(t, model.String("direct"), v)
	assert.Equal(t, 0, s.cache.len())
}

func TestFields_CorruptValueIsReported(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, WithCacheTTL(0))
	typ := widgetType()
	label, _ := typ.Lookup("label")

	f := s.Fields(ctx, "w-1", typ, nil)
	require.NoError(t, f.Set(label, model.String("a"), true))
	_, err := s.db.Exec(`UPDATE entity_values SET value = '1.5'`)
	require.NoError(t, err)

	_, ok := f.Get(label)
	assert.False(t, ok)
	assert.ErrorContains(t, f.Err(), "floats")
}

func TestFields_BackRuntimeEntity(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	typ := widgetType()
	count, _ := typ.Lookup("count")
	link, _ := typ.Lookup("link")

	rt := core.NewRuntime(core.WithIDGenerator(core.NewFixedGenerator("w-1", "w-2")))
	target, err := rt.NewEntity(typ)
	require.NoError(t, err)

	e, err := rt.NewEntityWith(typ, s.Fields(ctx, "row-1", typ, rt.Resolver()), nil)
	require.NoError(t, err)
	require.NoError(t, e.SetValue(count, model.Int(7)))
	require.NoError(t, e.SetValue(link, model.NewRef(target)))

	stored := collect(s.Fields(ctx, "row-1", typ, rt.Resolver()))
	assert.Equal(t, model.String("w-2"), stored["id"])
	assert.Equal(t, model.Int(7), stored["count"])
	assert.Equal(t, model.NewRef(target).Handle(), stored["link"].(model.Ref).Handle())

	// Reopening keeps persisted values and tracks the stored ref again.
	again, err := rt.NewEntityWith(typ, s.Fields(ctx, "row-1", typ, rt.Resolver()), nil)
	require.NoError(t, err)
	v, err := again.Value(count)
	require.NoError(t, err)
	assert.Equal(t, model.Int(7), v)
	assert.Len(t, target.DirectReferences(), 2)
	runtime.KeepAlive(e)
	runtime.KeepAlive(again)
}
