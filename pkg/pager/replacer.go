package pager

import (
	"sync"

	"basaltdb/pkg/list"

	"github.com/pkg/errors"
)

// Replacer picks eviction victims with the LRU-K policy: a frame's backward
// K-distance is the time since its K-th most recent access, and frames with
// fewer than K recorded accesses have infinite distance. Frames still shy of
// K accesses live on the history list (insertion order, newest at head) and
// are always preferred as victims, oldest first. Frames with K or more
// accesses live on the cache list, which moves a frame to the head on every
// access, so its tail is the frame with the largest K-distance.
type Replacer struct {
	k         int64
	numFrames int64
	curSize   int64 // number of frames currently evictable
	history   *list.List
	cache     *list.List
	frames    map[int64]*frameInfo
	mtx       sync.Mutex
}

// Per-frame bookkeeping for the replacer.
type frameInfo struct {
	id        int64
	hits      int64
	evictable bool
	link      *list.Link // position in the history or cache list
}

// NewReplacer creates a Replacer tracking up to numFrames frames with the
// given K.
func NewReplacer(numFrames int64, k int64) *Replacer {
	return &Replacer{
		k:         k,
		numFrames: numFrames,
		history:   list.NewList(),
		cache:     list.NewList(),
		frames:    make(map[int64]*frameInfo),
	}
}

// RecordAccess notes an access to the given frame, promoting it to the cache
// list once it accumulates K hits. An out-of-range frame id is a logic error.
func (r *Replacer) RecordAccess(frame int64) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if frame < 0 || frame >= r.numFrames {
		return errors.Errorf("invalid frame id %d", frame)
	}
	fi, found := r.frames[frame]
	if !found {
		fi = &frameInfo{id: frame}
		r.frames[frame] = fi
	}
	fi.hits++
	switch {
	case fi.hits == 1:
		fi.link = r.history.PushHead(fi)
	case fi.hits >= r.k:
		// Promotion to the cache list, or move-to-front within it.
		fi.link.PopSelf()
		fi.link = r.cache.PushHead(fi)
	}
	return nil
}

// SetEvictable flags whether the frame may be chosen as a victim. No-op if
// the frame has never been recorded.
func (r *Replacer) SetEvictable(frame int64, evictable bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	fi, found := r.frames[frame]
	if !found || fi.evictable == evictable {
		return
	}
	fi.evictable = evictable
	if evictable {
		r.curSize++
	} else {
		r.curSize--
	}
}

// Evict removes and returns the evictable frame with the largest backward
// K-distance, preferring frames with fewer than K accesses (oldest first).
// Returns false if no frame is evictable.
func (r *Replacer) Evict() (int64, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	for _, l := range []*list.List{r.history, r.cache} {
		for link := l.PeekTail(); link != nil; link = link.GetPrev() {
			fi := link.GetValue().(*frameInfo)
			if fi.evictable {
				r.drop(fi)
				return fi.id, true
			}
		}
	}
	return 0, false
}

// Remove forcibly drops a frame and its access history. Removing a
// non-evictable frame is a logic error; removing an unknown frame is a no-op.
func (r *Replacer) Remove(frame int64) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	fi, found := r.frames[frame]
	if !found {
		return nil
	}
	if !fi.evictable {
		return errors.Errorf("remove of non-evictable frame %d", frame)
	}
	r.drop(fi)
	return nil
}

// Size returns the number of currently evictable frames.
func (r *Replacer) Size() int64 {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.curSize
}

// drop forgets a frame entirely. The replacer's mutex must be held.
func (r *Replacer) drop(fi *frameInfo) {
	fi.link.PopSelf()
	delete(r.frames, fi.id)
	r.curSize--
}
