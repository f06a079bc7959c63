package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tessera/internal/model"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	values := model.Record{
		"count": model.Int(3),
		"label": model.String("héllo"),
		"tags":  model.List{model.String("a"), model.Bool(true)},
	}
	id, err := s.SaveSnapshot(ctx, "Widget", "w-1", values)
	require.NoError(t, err)
	assert.Len(t, id, 64)

	again, err := s.SaveSnapshot(ctx, "Widget", "w-1", values)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	snap, err := s.LoadSnapshot(ctx, id, nil)
	require.NoError(t, err)
	assert.Equal(t, "Widget", snap.TypeName)
	assert.Equal(t, "w-1", snap.EntityID)
	assert.True(t, model.Equal(values, snap.Values))

	ids, err := s.SnapshotsFor(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)
}

func TestSnapshot_DifferentContentDifferentID(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	a, err := s.SaveSnapshot(ctx, "Widget", "w-1", model.Record{"count": model.Int(1)})
	require.NoError(t, err)
	b, err := s.SaveSnapshot(ctx, "Widget", "w-1", model.Record{"count": model.Int(2)})
	require.NoError(t, err)
	c, err := s.SaveSnapshot(ctx, "Gadget", "w-1", model.Record{"count": model.Int(1)})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestLoadSnapshot_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.LoadSnapshot(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}
