package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetDelete(t *testing.T) {
	idx := New[string](zap.NewNop().Sugar(), "segments")

	idx.Set(1, "a")
	idx.Set(2, "b")
	idx.Set(2, "c")
	assert.Equal(t, 2, idx.Len())

	assert.True(t, idx.Delete(1))
	assert.False(t, idx.Delete(1))
	assert.Equal(t, 1, idx.Len())

	idx.Range(func(id uint64, entry *Entry[string]) bool {
		assert.Equal(t, uint64(2), id)
		assert.Equal(t, "c", entry.Value)
		return true
	})
}

func TestRangeStopsEarly(t *testing.T) {
	idx := New[int](zap.NewNop().Sugar(), "segments")
	for i := uint64(0); i < 10; i++ {
		idx.Set(i, int(i))
	}

	visited := 0
	idx.Range(func(id uint64, entry *Entry[int]) bool {
		assert.Equal(t, int(id), entry.Value)
		assert.GreaterOrEqual(t, entry.Age(), time.Duration(0))
		visited++
		return visited < 3
	})
	assert.Equal(t, 3, visited)
}

func TestCloseReportsLeaks(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	idx := New[int](zap.New(core).Sugar(), "segments")

	idx.Set(7, 7)
	require.NoError(t, idx.Close())

	entries := logs.FilterMessage("Closing index with live entries").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ContextMap()["count"])
	assert.Zero(t, idx.Len())
}

func TestUsableAfterClose(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	idx := New[int](zap.New(core).Sugar(), "segments")
	require.NoError(t, idx.Close())

	// A registration that raced with Close must neither panic nor wedge the lock.
	assert.NotPanics(t, func() { idx.Set(1, 1) })
	assert.Equal(t, 1, idx.Len())
	assert.True(t, idx.Delete(1))

	idx.Set(2, 2)
	require.NoError(t, idx.Close())
	assert.Len(t, logs.FilterMessage("Closing index with live entries").All(), 1)
}
