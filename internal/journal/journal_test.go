package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tessera/internal/core"
	"github.com/roach88/tessera/internal/model"
	"github.com/roach88/tessera/internal/schema"
	"github.com/roach88/tessera/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func toggle() *schema.Type {
	return schema.NewBuilder("Toggle").
		Attr("A", model.KindString, model.WithDefault(model.String("a")),
			model.WithCondition(schema.WhenEquals("B", model.Int(1)))).
		Attr("B", model.KindInt, model.WithDefault(model.Int(0))).
		MustBuild()
}

func kinds(entries []store.JournalEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Kind
	}
	return out
}

func TestJournal_FlushWritesInFiringOrder(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	j, err := New(ctx, st, WithSession("s-1"))
	require.NoError(t, err)

	rt := core.NewRuntime()
	typ := toggle()
	b, _ := typ.Lookup("B")
	c := rt.NewCollection(typ)
	c.Listen(j.Listener())

	e, err := rt.NewEntity(typ)
	require.NoError(t, err)
	require.NoError(t, c.Append(e))
	require.NoError(t, e.SetValue(b, model.Int(1)))
	assert.Equal(t, 3, j.Pending())

	require.NoError(t, j.Flush(ctx))
	assert.Equal(t, 0, j.Pending())

	entries, err := st.ReadJournal(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"EntityAdded", "AttributeAdded", "ValueChanged"}, kinds(entries))
	assert.Equal(t, []int64{1, 2, 3}, []int64{entries[0].Seq, entries[1].Seq, entries[2].Seq})

	changed := entries[2]
	assert.Equal(t, c.Handle().String(), changed.Source)
	assert.Equal(t, e.Handle().String(), changed.Entity)
	assert.Equal(t, "B", changed.Attr)
	assert.Equal(t, "0", changed.Old)
	assert.Equal(t, "1", changed.New)
}

func TestJournal_RunDrainsUntilClosed(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	j, err := New(ctx, st, WithTokenGenerator(core.NewFixedGenerator("run-1")), WithBatchSize(2))
	require.NoError(t, err)
	assert.Equal(t, "run-1", j.Session())

	rt := core.NewRuntime()
	typ := toggle()
	b, _ := typ.Lookup("B")
	e, err := rt.NewEntity(typ)
	require.NoError(t, err)
	e.Listen(j.Listener())

	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, e.SetValue(b, model.Int(i+1)))
	}
	j.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	entries, err := st.ReadJournal(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, entries, 5)
	assert.Equal(t, "6", entries[4].New)

	// Closed journals drop further events.
	require.NoError(t, e.SetValue(b, model.Int(100)))
	assert.Equal(t, int64(1), j.Dropped())
}

func TestJournal_RunStopsOnCancel(t *testing.T) {
	st := openStore(t)
	j, err := New(context.Background(), st)
	require.NoError(t, err)
	assert.Len(t, j.Session(), 36)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestJournal_ResumesSessionSeq(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	j1, err := New(ctx, st, WithSession("resume"))
	require.NoError(t, err)
	j1.Record(core.Event{Kind: core.ValueChanged, Attr: model.NewDescriptor("x", model.KindInt), New: model.Int(1)})
	j1.Record(core.Event{Kind: core.ValueChanged, Attr: model.NewDescriptor("x", model.KindInt), New: model.Int(2)})
	require.NoError(t, j1.Flush(ctx))

	j2, err := New(ctx, st, WithSession("resume"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), j2.Seq())
	j2.Record(core.Event{Kind: core.AttributeAdded, Attr: model.NewDescriptor("y", model.KindInt)})
	require.NoError(t, j2.Flush(ctx))

	entries, err := st.ReadJournal(ctx, "resume")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(3), entries[2].Seq)
	assert.Equal(t, "y", entries[2].Attr)
	assert.Equal(t, "", entries[2].Source)
}

func TestJournal_RefValuesEncodeHandles(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	j, err := New(ctx, st, WithSession("refs"))
	require.NoError(t, err)

	rt := core.NewRuntime()
	typ := schema.NewBuilder("Node").Attr("next", model.KindRef).MustBuild()
	next, _ := typ.Lookup("next")
	a, err := rt.NewEntity(typ)
	require.NoError(t, err)
	b, err := rt.NewEntity(typ)
	require.NoError(t, err)

	a.Listen(j.Listener())
	require.NoError(t, a.SetValue(next, model.NewRef(b)))
	require.NoError(t, j.Flush(ctx))

	entries, err := st.ReadJournal(ctx, "refs")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, `{"$ref":"`+b.Handle().String()+`"}`, entries[0].New)
}
