package pager

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"
)

// The frame table is an extendible hash directory mapping resident page
// numbers to buffer frame indexes. Buckets hold a bounded number of entries;
// a full bucket splits in two, doubling the directory when the bucket's
// local depth has caught up with the global depth. Buckets are never merged.

// Max number of entries that can live in a directory bucket.
const dirBucketSize = 8

type dirEntry struct {
	key   int64 // pagenum
	value int64 // frame index
}

type dirBucket struct {
	localDepth int64
	entries    []dirEntry
}

func newDirBucket(depth int64) *dirBucket {
	return &dirBucket{localDepth: depth, entries: make([]dirEntry, 0, dirBucketSize)}
}

// directory is the in-memory extendible hash table itself. The pager's latch
// serializes all access, so the directory carries no lock of its own.
type directory struct {
	globalDepth int64
	buckets     []*dirBucket // len(buckets) == 2^globalDepth
}

func newDirectory() *directory {
	depth := int64(1)
	d := &directory{globalDepth: depth, buckets: make([]*dirBucket, 2)}
	for i := range d.buckets {
		d.buckets[i] = newDirBucket(depth)
	}
	return d
}

// hashKey returns the hash of a pagenum masked to the low `depth` bits.
func hashKey(key int64, depth int64) int64 {
	buf := make([]byte, binary.MaxVarintLen64)
	binary.PutVarint(buf, key)
	return int64(murmur3.Sum64(buf) & uint64(1<<uint(depth)-1))
}

// lookup returns the frame index mapped to the given pagenum, if any.
func (d *directory) lookup(key int64) (int64, bool) {
	bucket := d.buckets[hashKey(key, d.globalDepth)]
	for _, e := range bucket.entries {
		if e.key == key {
			return e.value, true
		}
	}
	return 0, false
}

// insert maps the given pagenum to a frame index, overwriting any existing
// mapping for the key. Splits full buckets, cascading as needed.
func (d *directory) insert(key int64, value int64) {
	for {
		idx := hashKey(key, d.globalDepth)
		bucket := d.buckets[idx]
		// Overwrite in place on a matching key.
		for i, e := range bucket.entries {
			if e.key == key {
				bucket.entries[i].value = value
				return
			}
		}
		if int64(len(bucket.entries)) < dirBucketSize {
			bucket.entries = append(bucket.entries, dirEntry{key: key, value: value})
			return
		}
		// Bucket is full; split it and retry the insert.
		d.split(idx, bucket)
	}
}

// split replaces the bucket hashed at idx with two buckets of local depth
// localDepth+1, partitioning entries by the next hash bit and rewiring every
// directory slot whose low bits match either pattern.
func (d *directory) split(idx int64, bucket *dirBucket) {
	if bucket.localDepth == d.globalDepth {
		d.extend()
	}
	bit := int64(1) << uint(bucket.localDepth)
	zero := newDirBucket(bucket.localDepth + 1)
	one := newDirBucket(bucket.localDepth + 1)
	for _, e := range bucket.entries {
		if hashKey(e.key, d.globalDepth)&bit != 0 {
			one.entries = append(one.entries, e)
		} else {
			zero.entries = append(zero.entries, e)
		}
	}
	// Rewire every slot that pointed at the old bucket.
	lowMask := bit - 1
	pattern := idx & lowMask
	for i := int64(0); i < int64(len(d.buckets)); i++ {
		if i&lowMask != pattern {
			continue
		}
		if i&bit != 0 {
			d.buckets[i] = one
		} else {
			d.buckets[i] = zero
		}
	}
}

// extend doubles the directory, increasing the global depth by 1.
func (d *directory) extend() {
	d.globalDepth++
	d.buckets = append(d.buckets, d.buckets...)
}

// remove drops the mapping for the given pagenum if present.
func (d *directory) remove(key int64) {
	bucket := d.buckets[hashKey(key, d.globalDepth)]
	for i, e := range bucket.entries {
		if e.key == key {
			bucket.entries[i] = bucket.entries[len(bucket.entries)-1]
			bucket.entries = bucket.entries[:len(bucket.entries)-1]
			return
		}
	}
}

// size returns the number of mappings held across all buckets.
func (d *directory) size() int64 {
	seen := make(map[*dirBucket]bool)
	total := int64(0)
	for _, b := range d.buckets {
		if !seen[b] {
			seen[b] = true
			total += int64(len(b.entries))
		}
	}
	return total
}
