package arena

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tessera/internal/model"
)

type item struct {
	name string
	pad  [64]byte // keep the allocation out of tiny-alloc batching
}

func TestArena_InsertResolve(t *testing.T) {
	a := New[item](model.HandleEntity, nil)
	it := &item{name: "a"}

	h := a.Insert(it)
	got, ok := a.Resolve(h)
	require.True(t, ok)
	assert.Same(t, it, got)
	assert.Equal(t, model.HandleEntity, h.Kind)
	assert.Equal(t, 1, a.Live())
	runtime.KeepAlive(it)
}

func TestArena_ReleaseInvalidatesHandle(t *testing.T) {
	a := New[item](model.HandleEntity, nil)
	it := &item{name: "a"}
	h := a.Insert(it)

	assert.True(t, a.Release(h))
	assert.False(t, a.Release(h), "second release is stale")

	_, ok := a.Resolve(h)
	assert.False(t, ok)
	assert.Equal(t, 0, a.Live())
	runtime.KeepAlive(it)
}

func TestArena_SlotReuseBumpsGeneration(t *testing.T) {
	a := New[item](model.HandleEntity, nil)
	first := &item{name: "first"}
	h1 := a.Insert(first)
	a.Release(h1)

	second := &item{name: "second"}
	h2 := a.Insert(second)

	assert.Equal(t, h1.Index, h2.Index)
	assert.NotEqual(t, h1.Gen, h2.Gen)

	_, ok := a.Resolve(h1)
	assert.False(t, ok, "stale handle must not resolve to the new occupant")
	got, ok := a.Resolve(h2)
	require.True(t, ok)
	assert.Equal(t, "second", got.name)
	runtime.KeepAlive(first)
	runtime.KeepAlive(second)
}

func TestArena_WrongKindDoesNotResolve(t *testing.T) {
	a := New[item](model.HandleEntity, nil)
	it := &item{}
	h := a.Insert(it)
	h.Kind = model.HandleCollection

	_, ok := a.Resolve(h)
	assert.False(t, ok)
	runtime.KeepAlive(it)
}

func TestArena_CollectedValueReleasesSlot(t *testing.T) {
	var mu sync.Mutex
	var collected []model.Handle
	a := New[item](model.HandleEntity, func(h model.Handle) {
		mu.Lock()
		collected = append(collected, h)
		mu.Unlock()
	})

	h := a.Insert(&item{name: "garbage"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runtime.GC()
		mu.Lock()
		n := len(collected)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []model.Handle{h}, collected)
	assert.Equal(t, 0, a.Live())
}
