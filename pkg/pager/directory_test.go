package pager

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// checkDirectoryInvariant verifies that every directory slot points to the
// bucket matching its low local-depth bits, and that every entry hashes to a
// slot pointing at its bucket.
func checkDirectoryInvariant(t *testing.T, d *directory) {
	t.Helper()
	require.Equal(t, int64(1)<<uint(d.globalDepth), int64(len(d.buckets)))
	for i, bucket := range d.buckets {
		require.LessOrEqual(t, bucket.localDepth, d.globalDepth)
		// Two slots sharing the same low local-depth bits share the bucket.
		mask := int64(1)<<uint(bucket.localDepth) - 1
		for j, other := range d.buckets {
			if int64(i)&mask == int64(j)&mask {
				require.Same(t, bucket, other)
			}
		}
		for _, e := range bucket.entries {
			require.Same(t, bucket, d.buckets[hashKey(e.key, d.globalDepth)])
		}
	}
}

func TestDirectoryInsertLookup(t *testing.T) {
	t.Parallel()
	d := newDirectory()
	for key := int64(0); key < 100; key++ {
		d.insert(key, key*7)
	}
	for key := int64(0); key < 100; key++ {
		frame, found := d.lookup(key)
		require.True(t, found, "key %d missing", key)
		require.Equal(t, key*7, frame)
	}
	_, found := d.lookup(1000)
	require.False(t, found)
	require.Equal(t, int64(100), d.size())
	checkDirectoryInvariant(t, d)
}

func TestDirectoryOverwrite(t *testing.T) {
	t.Parallel()
	d := newDirectory()
	d.insert(5, 1)
	d.insert(5, 2)
	frame, found := d.lookup(5)
	require.True(t, found)
	require.Equal(t, int64(2), frame)
	require.Equal(t, int64(1), d.size())
}

func TestDirectoryRemove(t *testing.T) {
	t.Parallel()
	d := newDirectory()
	for key := int64(0); key < 50; key++ {
		d.insert(key, key)
	}
	for key := int64(0); key < 50; key += 2 {
		d.remove(key)
	}
	for key := int64(0); key < 50; key++ {
		_, found := d.lookup(key)
		require.Equal(t, key%2 == 1, found, "key %d", key)
	}
	// Removing an absent key is a no-op.
	d.remove(12345)
	checkDirectoryInvariant(t, d)
}

func TestDirectorySplitsGrowDepth(t *testing.T) {
	t.Parallel()
	d := newDirectory()
	startDepth := d.globalDepth
	// Insert far more keys than the initial buckets can hold to force
	// splits, and likely doubling.
	for key := int64(0); key < 500; key++ {
		d.insert(key, key)
	}
	require.Greater(t, d.globalDepth, startDepth)
	checkDirectoryInvariant(t, d)
	for key := int64(0); key < 500; key++ {
		frame, found := d.lookup(key)
		require.True(t, found)
		require.Equal(t, key, frame)
	}
}
