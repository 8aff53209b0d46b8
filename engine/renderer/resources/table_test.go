package resources

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	name string
}

func requirePanicsWith(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		assert.True(t, errors.Is(err, target), "got %v, want %v", err, target)
	}()
	fn()
}

func TestHandleCopiesScheduleOneDestruction(t *testing.T) {
	const copies = 5
	table := NewTable[entry]("entries", 0, DestroyDelay(2))

	index, err := table.Insert()
	require.NoError(t, err)
	table.Resource(index).name = "a"

	h := table.Handle(index)
	clones := make([]Handle[entry], copies)
	for i := range clones {
		clones[i] = h.Clone()
	}
	assert.Equal(t, int32(copies+1), table.Refs(index))

	destroyed := 0
	destructor := func(i uint32, e *entry) {
		assert.Equal(t, index, i)
		assert.Equal(t, "a", e.name)
		destroyed++
	}

	h.Release()
	for i := range clones[:copies-1] {
		clones[i].Release()
		table.ClearDestroyQueue(destructor)
	}
	assert.Equal(t, 0, table.Pending())
	assert.Equal(t, 0, destroyed)

	clones[copies-1].Release()
	assert.Equal(t, 1, table.Pending())

	table.ClearDestroyQueue(destructor)
	assert.Equal(t, 0, destroyed, "destroyed before the delay ran out")
	table.ClearDestroyQueue(destructor)
	assert.Equal(t, 1, destroyed)
	table.ClearDestroyQueue(destructor)
	assert.Equal(t, 1, destroyed)
	assert.Equal(t, 0, table.Len())
}

func TestReleaseEmptiesHandle(t *testing.T) {
	table := NewTable[entry]("entries", 0, 1)
	index, err := table.Insert()
	require.NoError(t, err)

	h := table.Handle(index)
	h.Release()
	assert.False(t, h.IsValid())
	assert.NotPanics(t, h.Release)
	assert.Equal(t, 1, table.Pending())
}

func TestSlotReuseBumpsGeneration(t *testing.T) {
	table := NewTable[entry]("entries", 0, 1)
	index, err := table.Insert()
	require.NoError(t, err)

	h := table.Handle(index)
	stale := h
	ref := h.Ref()
	h.Release()
	table.ClearDestroyQueue(nil)

	reused, err := table.Insert()
	require.NoError(t, err)
	assert.Equal(t, index, reused)

	fresh := table.Handle(reused)
	assert.Equal(t, ref.Generation+1, fresh.Ref().Generation)

	_, err = table.Lookup(ref)
	assert.ErrorIs(t, err, ErrStaleHandle)
	e, err := table.Lookup(fresh.Ref())
	require.NoError(t, err)
	assert.Same(t, table.Resource(reused), e)

	requirePanicsWith(t, ErrStaleHandle, func() { stale.Get() })
	requirePanicsWith(t, ErrStaleHandle, func() { stale.Clone() })
	requirePanicsWith(t, ErrStaleHandle, func() { stale.Release() })
}

func TestTableCapacity(t *testing.T) {
	table := NewTable[entry]("entries", 2, 1)
	_, err := table.Insert()
	require.NoError(t, err)
	second, err := table.Insert()
	require.NoError(t, err)

	_, err = table.Insert()
	assert.ErrorIs(t, err, ErrTableFull)

	table.Discard(second)
	_, err = table.Insert()
	assert.NoError(t, err)
}

func TestCloneRevivesQueuedEntry(t *testing.T) {
	table := NewTable[entry]("entries", 0, 2)
	index, err := table.Insert()
	require.NoError(t, err)

	h := table.Handle(index)
	weak := h
	h.Release()
	require.Equal(t, 1, table.Pending())

	revived := weak.Clone()
	assert.Equal(t, 0, table.Pending())
	table.ClearDestroyQueue(func(uint32, *entry) { t.Fatal("revived entry destroyed") })
	table.ClearDestroyQueue(func(uint32, *entry) { t.Fatal("revived entry destroyed") })
	assert.NotNil(t, revived.Get())
}

func TestTableHandleRevivesQueuedEntry(t *testing.T) {
	table := NewTable[entry]("entries", 0, 1)
	index, err := table.Insert()
	require.NoError(t, err)

	first := table.Handle(index)
	first.Release()
	require.Equal(t, 1, table.Pending())

	second := table.Handle(index)
	assert.Equal(t, 0, table.Pending())
	destroyed := 0
	table.ClearDestroyQueue(func(uint32, *entry) { destroyed++ })
	assert.Equal(t, 0, destroyed)
	assert.Equal(t, int32(1), table.Refs(index))
	assert.NotNil(t, second.Get())

	second.Release()
	table.ClearDestroyQueue(func(uint32, *entry) { destroyed++ })
	assert.Equal(t, 1, destroyed)
}

func TestResourceOutOfRangePanics(t *testing.T) {
	table := NewTable[entry]("entries", 0, 1)
	assert.Panics(t, func() { table.Resource(3) })

	_, err := table.Lookup(Ref{Index: 3, Generation: 1})
	assert.ErrorIs(t, err, ErrStaleHandle)
	assert.False(t, Ref{}.IsValid())
}

func TestDestroyAll(t *testing.T) {
	table := NewTable[entry]("entries", 0, 3)
	var handles []Handle[entry]
	for i := 0; i < 4; i++ {
		index, err := table.Insert()
		require.NoError(t, err)
		handles = append(handles, table.Handle(index))
	}
	handles[0].Release()

	destroyed := 0
	table.DestroyAll(func(uint32, *entry) { destroyed++ })
	assert.Equal(t, 4, destroyed)
	assert.Equal(t, 0, table.Len())
	assert.Equal(t, 0, table.Pending())
}
