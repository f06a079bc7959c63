package core

import (
	"cmp"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tessera/internal/model"
	"github.com/roach88/tessera/internal/schema"
)

func fill(t *testing.T, rt *Runtime, c *Collection, n int) []*Entity {
	t.Helper()
	out := make([]*Entity, n)
	for i := range out {
		out[i] = mustEntity(t, rt, c.Type())
		require.NoError(t, c.Append(out[i]))
	}
	return out
}

func members(c *Collection) []*Entity {
	var out []*Entity
	for _, e := range c.All() {
		out = append(out, e)
	}
	return out
}

func TestCollection_RemoveAtMiddle(t *testing.T) {
	rt := newTestRuntime(t)
	c := rt.NewCollection(nodeType())
	es := fill(t, rt, c, 3)

	got, err := c.RemoveAt(1)
	require.NoError(t, err)
	assert.Same(t, es[1], got)
	assert.Equal(t, []*Entity{es[0], es[2]}, members(c))
}

func TestCollection_AddBounds(t *testing.T) {
	rt := newTestRuntime(t)
	typ := nodeType()
	c := rt.NewCollection(typ)
	e := mustEntity(t, rt, typ)

	assert.True(t, IsIndexOutOfRange(c.Add(e, 1)))
	assert.True(t, IsIndexOutOfRange(c.Add(e, -1)))
	require.NoError(t, c.Add(e, 0))

	_, err := c.RemoveAt(1)
	assert.True(t, IsIndexOutOfRange(err))
	_, err = c.Get(1)
	assert.True(t, IsIndexOutOfRange(err))
	_, err = c.Replace(e, 1)
	assert.True(t, IsIndexOutOfRange(err))
}

func TestCollection_BoundsErrorDetail(t *testing.T) {
	rt := newTestRuntime(t)
	typ := nodeType()
	c := rt.NewCollection(typ)

	_, err := c.Get(0)
	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 0, ce.Index)
	assert.Equal(t, "INDEX_OUT_OF_RANGE: index 0: collection is empty", ce.Error())

	require.NoError(t, c.Append(mustEntity(t, rt, typ)))
	_, err = c.RemoveAt(2)
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 2, ce.Index)
	assert.Equal(t, "INDEX_OUT_OF_RANGE: index 2 not in [0, 1)", ce.Error())

	err = c.Add(mustEntity(t, rt, typ), 3)
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 3, ce.Index)
	assert.Equal(t, "INDEX_OUT_OF_RANGE: insert index 3 not in [0, 1]", ce.Error())
}

func TestCollection_TypeMismatch(t *testing.T) {
	rt := newTestRuntime(t)
	c := rt.NewCollection(nodeType())
	other := mustEntity(t, rt, toggleType())

	assert.True(t, IsTypeMismatch(c.Append(other)))
	assert.True(t, IsTypeMismatch(c.Append(nil)))
	assert.Equal(t, 0, c.Len())
}

func TestCollection_EventsAndForwarding(t *testing.T) {
	rt := newTestRuntime(t)
	typ := toggleType()
	b := mustAttr(t, typ, "B")
	c := rt.NewCollection(typ)

	rec := &recorder{}
	c.Listen(rec.listener())

	e := mustEntity(t, rt, typ)
	require.NoError(t, c.Append(e))
	require.NoError(t, e.SetValue(b, model.Int(1)))
	assert.True(t, c.Remove(e))
	require.NoError(t, e.SetValue(b, model.Int(2)))
	assert.False(t, c.Remove(e))

	h := e.Handle().String()
	assert.Equal(t, []string{
		"EntityAdded(" + h + ")",
		"AttributeAdded(A)",
		"ValueChanged(B, 0, 1)",
		"EntityRemoved(" + h + ")",
	}, rec.take())
}

func TestCollection_ForwardedEventsAreTaggedWithEntity(t *testing.T) {
	rt := newTestRuntime(t)
	typ := toggleType()
	b := mustAttr(t, typ, "B")
	c := rt.NewCollection(typ)
	es := fill(t, rt, c, 2)

	var got []Event
	c.Listen(ListenerFunc(func(ev Event) { got = append(got, ev) }))
	require.NoError(t, es[1].SetValue(b, model.Int(5)))

	require.Len(t, got, 1)
	assert.Same(t, es[1], got[0].Entity)
	assert.Equal(t, c.Handle(), got[0].Source.Handle())
}

func TestCollection_DuplicateMemberForwardsOnce(t *testing.T) {
	rt := newTestRuntime(t)
	typ := toggleType()
	b := mustAttr(t, typ, "B")
	c := rt.NewCollection(typ)
	e := mustEntity(t, rt, typ)
	require.NoError(t, c.Append(e))
	require.NoError(t, c.Append(e))

	rec := &recorder{}
	c.Listen(rec.listener())
	require.NoError(t, e.SetValue(b, model.Int(3)))
	assert.Len(t, rec.take(), 1)

	_, err := c.RemoveAt(0)
	require.NoError(t, err)
	require.NoError(t, e.SetValue(b, model.Int(4)))
	assert.Equal(t, []string{"ValueChanged(B, 3, 4)"}, rec.take())

	_, err = c.RemoveAt(0)
	require.NoError(t, err)
	require.NoError(t, e.SetValue(b, model.Int(5)))
	assert.Empty(t, rec.take())
}

func TestCollection_EvictionFIFO(t *testing.T) {
	rt := newTestRuntime(t)
	c := rt.NewCollection(nodeType())
	c.SetLimit(3, true)

	es := fill(t, rt, c, 5)
	assert.Equal(t, es[2:], members(c))

	limit, ok := c.Limit()
	assert.True(t, ok)
	assert.Equal(t, 3, limit)
	assert.True(t, c.Evicting())
}

func TestCollection_EvictionShiftsTargetIndex(t *testing.T) {
	rt := newTestRuntime(t)
	typ := nodeType()
	c := rt.NewCollection(typ)
	es := fill(t, rt, c, 3)
	c.SetLimit(3, true)

	rec := &recorder{}
	c.Listen(rec.listener())

	e := mustEntity(t, rt, typ)
	require.NoError(t, c.Add(e, 2))
	assert.Equal(t, []*Entity{es[1], e, es[2]}, members(c))
	assert.Equal(t, []string{
		"EntityRemoved(" + es[0].Handle().String() + ")",
		"EntityAdded(" + e.Handle().String() + ")",
	}, rec.take())
}

func TestCollection_CapacityExceeded(t *testing.T) {
	rt := newTestRuntime(t)
	typ := nodeType()
	c := rt.NewCollection(typ)
	c.SetLimit(1, false)

	first := mustEntity(t, rt, typ)
	require.NoError(t, c.Append(first))

	err := c.Append(mustEntity(t, rt, typ))
	assert.True(t, IsCapacityExceeded(err))
	assert.Equal(t, []*Entity{first}, members(c))
}

func TestCollection_ZeroLimitRejectsEvenWhenEvicting(t *testing.T) {
	rt := newTestRuntime(t)
	typ := nodeType()
	c := rt.NewCollection(typ)
	c.SetLimit(0, true)
	assert.True(t, IsCapacityExceeded(c.Append(mustEntity(t, rt, typ))))
}

func TestCollection_SetLimitEvictsImmediately(t *testing.T) {
	rt := newTestRuntime(t)
	c := rt.NewCollection(nodeType())
	es := fill(t, rt, c, 5)

	rec := &recorder{}
	c.Listen(rec.listener())
	c.SetLimit(2, false)

	assert.Equal(t, es[3:], members(c))
	assert.Len(t, rec.take(), 3)

	c.SetLimit(-1, false)
	_, ok := c.Limit()
	assert.False(t, ok)
	fill(t, rt, c, 3)
	assert.Equal(t, 5, c.Len())
}

func TestCollection_Replace(t *testing.T) {
	rt := newTestRuntime(t)
	typ := nodeType()
	c := rt.NewCollection(typ)
	es := fill(t, rt, c, 2)
	c.SetLimit(2, false)

	rec := &recorder{}
	c.Listen(rec.listener())

	e := mustEntity(t, rt, typ)
	old, err := c.Replace(e, 0)
	require.NoError(t, err)
	assert.Same(t, es[0], old)
	assert.Equal(t, []*Entity{e, es[1]}, members(c))
	assert.Equal(t, []string{
		"EntityRemoved(" + es[0].Handle().String() + ")",
		"EntityAdded(" + e.Handle().String() + ")",
	}, rec.take())

	_, err = c.Replace(mustEntity(t, rt, toggleType()), 0)
	assert.True(t, IsTypeMismatch(err))
	assert.Equal(t, 2, c.Len())
}

func TestCollection_SortFiresNothing(t *testing.T) {
	rt := newTestRuntime(t)
	typ := nodeType()
	name := mustAttr(t, typ, "name")
	c := rt.NewCollection(typ)
	for _, n := range []string{"c", "a", "b"} {
		e, err := rt.NewEntityFrom(typ, map[string]model.Value{"name": model.String(n)})
		require.NoError(t, err)
		require.NoError(t, c.Append(e))
	}

	rec := &recorder{}
	c.Listen(rec.listener())
	c.Sort(func(a, b *Entity) int {
		av, _ := a.Value(name)
		bv, _ := b.Value(name)
		return cmp.Compare(av.(model.String), bv.(model.String))
	})

	assert.Empty(t, rec.take())
	var got []model.Value
	for _, e := range c.All() {
		v, _ := e.Value(name)
		got = append(got, v)
	}
	assert.Equal(t, []model.Value{model.String("a"), model.String("b"), model.String("c")}, got)
}

func TestCollection_SizeStatistics(t *testing.T) {
	rt := newTestRuntime(t)
	c := rt.NewCollection(nodeType())

	_, ok := c.Statistics()
	assert.False(t, ok)

	c.EnableStatistics(0)
	fill(t, rt, c, 2)
	_, err := c.RemoveAt(0)
	require.NoError(t, err)

	s, ok := c.Statistics()
	require.True(t, ok)
	assert.Equal(t, DefaultStatCapacity, s.Cap())
	var sizes []model.Value
	for _, sample := range s.Samples() {
		sizes = append(sizes, sample.Value)
	}
	assert.Equal(t, []model.Value{model.Int(1), model.Int(2), model.Int(1)}, sizes)
}

func TestCollection_Clear(t *testing.T) {
	rt := newTestRuntime(t)
	c := rt.NewCollection(nodeType())
	es := fill(t, rt, c, 3)

	rec := &recorder{}
	c.Listen(rec.listener())
	c.Clear()

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, []string{
		"EntityRemoved(" + es[2].Handle().String() + ")",
		"EntityRemoved(" + es[1].Handle().String() + ")",
		"EntityRemoved(" + es[0].Handle().String() + ")",
	}, rec.take())
}

func TestCollection_IndexOfAndGet(t *testing.T) {
	rt := newTestRuntime(t)
	typ := schema.NewBuilder("Leaf").MustBuild()
	c := rt.NewCollection(typ)
	es := fill(t, rt, c, 2)

	assert.Equal(t, 1, c.IndexOf(es[1]))
	assert.Equal(t, -1, c.IndexOf(mustEntity(t, rt, typ)))
	got, err := c.Get(0)
	require.NoError(t, err)
	assert.Same(t, es[0], got)
}
