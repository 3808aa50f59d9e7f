package pager

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplacerHistoryEvictsFIFO(t *testing.T) {
	t.Parallel()
	r := NewReplacer(7, 2)
	for _, frame := range []int64{0, 1, 2} {
		require.NoError(t, r.RecordAccess(frame))
		r.SetEvictable(frame, true)
	}
	require.Equal(t, int64(3), r.Size())
	// All three have fewer than K accesses; the oldest first access goes first.
	for _, want := range []int64{0, 1, 2} {
		frame, ok := r.Evict()
		require.True(t, ok)
		require.Equal(t, want, frame)
	}
	_, ok := r.Evict()
	require.False(t, ok)
}

func TestReplacerPrefersHistoryOverCache(t *testing.T) {
	t.Parallel()
	r := NewReplacer(7, 2)
	// Frame 0 reaches K accesses; frame 1 stays in history.
	require.NoError(t, r.RecordAccess(0))
	require.NoError(t, r.RecordAccess(0))
	require.NoError(t, r.RecordAccess(1))
	r.SetEvictable(0, true)
	r.SetEvictable(1, true)
	frame, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, int64(1), frame, "infinite-distance frame should evict first")
	frame, ok = r.Evict()
	require.True(t, ok)
	require.Equal(t, int64(0), frame)
}

func TestReplacerCacheEvictsByKDistance(t *testing.T) {
	t.Parallel()
	r := NewReplacer(7, 2)
	// Promote 0, 1, 2 to the cache in that order, then touch 0 again so its
	// K-distance is the smallest.
	for _, frame := range []int64{0, 1, 2} {
		require.NoError(t, r.RecordAccess(frame))
		require.NoError(t, r.RecordAccess(frame))
		r.SetEvictable(frame, true)
	}
	require.NoError(t, r.RecordAccess(0))
	for _, want := range []int64{1, 2, 0} {
		frame, ok := r.Evict()
		require.True(t, ok)
		require.Equal(t, want, frame)
	}
}

func TestReplacerSetEvictable(t *testing.T) {
	t.Parallel()
	r := NewReplacer(7, 2)
	require.NoError(t, r.RecordAccess(3))
	require.Equal(t, int64(0), r.Size())
	_, ok := r.Evict()
	require.False(t, ok)
	r.SetEvictable(3, true)
	require.Equal(t, int64(1), r.Size())
	r.SetEvictable(3, false)
	require.Equal(t, int64(0), r.Size())
	_, ok = r.Evict()
	require.False(t, ok)
	// Unknown frames are a no-op.
	r.SetEvictable(6, true)
	require.Equal(t, int64(0), r.Size())
}

func TestReplacerRemove(t *testing.T) {
	t.Parallel()
	r := NewReplacer(7, 2)
	require.NoError(t, r.RecordAccess(1))
	require.Error(t, r.Remove(1), "removing a non-evictable frame is a logic error")
	r.SetEvictable(1, true)
	require.NoError(t, r.Remove(1))
	require.Equal(t, int64(0), r.Size())
	// Unknown frames are a no-op.
	require.NoError(t, r.Remove(5))
}

func TestReplacerInvalidFrame(t *testing.T) {
	t.Parallel()
	r := NewReplacer(4, 2)
	require.Error(t, r.RecordAccess(4))
	require.Error(t, r.RecordAccess(-1))
}

func TestReplacerEvictionForgetsHistory(t *testing.T) {
	t.Parallel()
	r := NewReplacer(7, 2)
	require.NoError(t, r.RecordAccess(0))
	require.NoError(t, r.RecordAccess(0))
	r.SetEvictable(0, true)
	frame, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, int64(0), frame)
	// Re-recording starts the frame back in the history list.
	require.NoError(t, r.RecordAccess(0))
	require.NoError(t, r.RecordAccess(1))
	r.SetEvictable(0, true)
	r.SetEvictable(1, true)
	frame, ok = r.Evict()
	require.True(t, ok)
	require.Equal(t, int64(0), frame)
}
