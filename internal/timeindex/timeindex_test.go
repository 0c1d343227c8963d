package timeindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertAndLookup(t *testing.T) {
	idx := New()
	idx.Insert(1000, 0)
	idx.Insert(2000, 10)
	idx.Insert(3000, 30)

	off, ok := idx.FirstOffsetAtOrAfter(1500)
	require.True(t, ok)
	require.EqualValues(t, 10, off)

	off, ok = idx.FirstOffsetAtOrAfter(2000)
	require.True(t, ok)
	require.EqualValues(t, 10, off)

	_, ok = idx.FirstOffsetAtOrAfter(3001)
	require.False(t, ok, "cursor past every known timestamp has no answer")
}

func TestInsertOutOfOrderDoesNotPanic(t *testing.T) {
	idx := New()
	idx.Insert(2000, 10)
	idx.Insert(1000, 0)
	idx.Insert(1500, 5)

	off, ok := idx.FirstOffsetAtOrAfter(1200)
	require.True(t, ok)
	require.EqualValues(t, 5, off)
}

func TestInsertDuplicateKeepsLatest(t *testing.T) {
	idx := New()
	idx.Insert(1000, 0)
	idx.Insert(1000, 99)
	require.Equal(t, 1, idx.Len())

	off, ok := idx.FirstOffsetAtOrAfter(1000)
	require.True(t, ok)
	require.EqualValues(t, 99, off)
}

func TestTrimBefore(t *testing.T) {
	idx := New()
	idx.Insert(0, 0)
	idx.Insert(1_000_000, 100)
	idx.Insert(2_000_000, 200)
	idx.Insert(121_000_000, 300)

	cutoff := uint64(61_000_000)
	largest, removed := idx.TrimBefore(cutoff)
	require.True(t, removed)
	require.EqualValues(t, 200, largest)
	require.Equal(t, 1, idx.Len())

	_, ok := idx.FirstOffsetAtOrAfter(0)
	require.True(t, ok)
	off, _ := idx.FirstOffsetAtOrAfter(0)
	require.EqualValues(t, 300, off)
}

func TestTrimBeforeIsIdempotent(t *testing.T) {
	idx := New()
	idx.Insert(0, 0)
	idx.Insert(100, 10)

	_, removed := idx.TrimBefore(50)
	require.True(t, removed)

	_, removed = idx.TrimBefore(50)
	require.False(t, removed, "a second trim at the same cutoff must be a no-op")
}
