// Package pager implements the page and pager abstractions used for efficient
// io operations in our database. The pager owns a fixed array of page frames
// and decides residency with an LRU-K replacer over an extendible hash frame
// table.
package pager

import (
	"sync"

	"basaltdb/pkg/config"
	"basaltdb/pkg/disk"
	"basaltdb/pkg/list"

	"github.com/ncw/directio"
	"github.com/pkg/errors"
)

// Pagesize is the size of an individual page (ie the maximum number of bytes that the page can hold) - defaults to 4kb.
const Pagesize int64 = disk.Pagesize

// Error for when there are no free/unpinned pages to be used
var ErrRanOutOfPages = errors.New("no available pages")

// Pager is a data structure that manages pages of data stored in a file.
//
// A frame is always in exactly one of two states: free (on the free list) or
// resident (mapped in the frame table). A resident page with pin count zero
// is evictable; a dirty page is written back before its frame is reused.
type Pager struct {
	disk     *disk.Manager // Disk manager for the file that backs this pager.
	pages    []*Page       // The frame array; each Page wraps one frame's bytes.
	freeList *list.List    // Indexes of unused frames.
	frames   *directory    // Extendible hash frame table: pagenum -> frame index.
	replacer *Replacer     // LRU-K victim policy over the frames.
	ptMtx    sync.Mutex    // Mutex for protecting the pager's state for concurrent use.
}

// New constructs a new Pager, backing it with a database file at the specified filePath.
func New(filePath string) (*Pager, error) {
	return NewWithConfig(filePath, config.MaxPagesInBuffer, config.ReplacerK)
}

// NewWithConfig constructs a Pager with an explicit frame count and
// replacer K.
func NewWithConfig(filePath string, numFrames int64, k int64) (*Pager, error) {
	d, err := disk.Open(filePath)
	if err != nil {
		return nil, err
	}
	pager := &Pager{
		disk:     d,
		pages:    make([]*Page, numFrames),
		freeList: list.NewList(),
		frames:   newDirectory(),
		replacer: NewReplacer(numFrames, k),
	}
	block := directio.AlignedBlock(int(Pagesize) * int(numFrames))
	for i := int64(0); i < numFrames; i++ {
		pager.pages[i] = &Page{
			pager:   pager,
			pagenum: NoPage,
			frame:   i,
			data:    block[i*Pagesize : (i+1)*Pagesize],
		}
		pager.freeList.PushTail(i)
	}
	return pager, nil
}

// GetFileName returns the file name/path used to open the pager's backing file.
func (pager *Pager) GetFileName() string {
	return pager.disk.GetFileName()
}

// GetNumPages returns the number of pages the backing file has grown to hold.
func (pager *Pager) GetNumPages() int64 {
	return pager.disk.NumPages()
}

// GetDiskManager returns the disk manager backing this pager.
func (pager *Pager) GetDiskManager() *disk.Manager {
	return pager.disk
}

// acquireFrame returns the index of a frame ready to hold a new page, taking
// one from the free list or evicting a victim (writing it back if dirty).
// The ptMtx should be locked on entry. Returns ErrRanOutOfPages if every
// frame is pinned.
func (pager *Pager) acquireFrame() (int64, error) {
	if freeLink := pager.freeList.PeekHead(); freeLink != nil {
		freeLink.PopSelf()
		return freeLink.GetValue().(int64), nil
	}
	frame, ok := pager.replacer.Evict()
	if !ok {
		return 0, ErrRanOutOfPages
	}
	victim := pager.pages[frame]
	if victim.IsDirty() {
		if err := pager.disk.WritePage(victim.pagenum, victim.data); err != nil {
			// Leave the victim resident and evictable; surface the io error.
			pager.replacer.RecordAccess(frame)
			pager.replacer.SetEvictable(frame, true)
			return 0, err
		}
		victim.SetDirty(false)
	}
	pager.frames.remove(victim.pagenum)
	victim.pagenum = NoPage
	return frame, nil
}

// setupFrame points the frame's page at the given pagenum, pins it, and
// registers it with the frame table and replacer. The ptMtx should be locked
// on entry.
func (pager *Pager) setupFrame(frame int64, pagenum int64) *Page {
	page := pager.pages[frame]
	page.pagenum = pagenum
	page.pinCount.Store(1)
	pager.frames.insert(pagenum, frame)
	pager.replacer.RecordAccess(frame)
	pager.replacer.SetEvictable(frame, false)
	return page
}

// GetNewPage allocates a fresh page number and returns a pinned, zeroed page
// for it.
func (pager *Pager) GetNewPage() (*Page, error) {
	pager.ptMtx.Lock()
	defer pager.ptMtx.Unlock()
	frame, err := pager.acquireFrame()
	if err != nil {
		return nil, err
	}
	page := pager.setupFrame(frame, pager.disk.AllocatePage())
	for i := range page.data {
		page.data[i] = 0
	}
	// Mark dirty so the new page is eventually flushed to disk.
	page.dirty = true
	return page, nil
}

// GetPage returns an existing pinned Page corresponding to the given pagenum,
// reading it from disk if it is not resident.
func (pager *Pager) GetPage(pagenum int64) (*Page, error) {
	pager.ptMtx.Lock()
	defer pager.ptMtx.Unlock()
	if pagenum < 0 || pagenum >= pager.disk.NumPages() {
		return nil, errors.Errorf("invalid pagenum %d", pagenum)
	}
	if frame, found := pager.frames.lookup(pagenum); found {
		page := pager.pages[frame]
		page.Get()
		pager.replacer.RecordAccess(frame)
		pager.replacer.SetEvictable(frame, false)
		return page, nil
	}
	frame, err := pager.acquireFrame()
	if err != nil {
		return nil, err
	}
	page := pager.pages[frame]
	if err := pager.disk.ReadPage(pagenum, page.data); err != nil {
		pager.freeList.PushTail(frame)
		return nil, err
	}
	page.dirty = false
	return pager.setupFrame(frame, pagenum), nil
}

// PutPage releases a reference to a page. When the last reference is dropped
// the page's frame becomes a candidate for eviction.
func (pager *Pager) PutPage(page *Page) error {
	pager.ptMtx.Lock()
	defer pager.ptMtx.Unlock()
	ret := page.Put()
	if ret == 0 {
		pager.replacer.SetEvictable(page.frame, true)
	}
	if ret < 0 {
		return errors.New("pinCount for page is < 0")
	}
	return nil
}

// FlushPage writes a page's data to disk unconditionally, clearing the dirty
// flag only when the write succeeds.
// Concurrency note: the page should at least be read-locked upon entry.
func (pager *Pager) FlushPage(page *Page) error {
	if err := pager.disk.WritePage(page.pagenum, page.data); err != nil {
		return err
	}
	page.SetDirty(false)
	return nil
}

// FlushAllPages flushes all resident dirty pages to disk.
func (pager *Pager) FlushAllPages() error {
	pager.ptMtx.Lock()
	defer pager.ptMtx.Unlock()
	return pager.flushAllPages()
}

// flushAllPages writes back every resident dirty page. The ptMtx should be
// locked on entry.
func (pager *Pager) flushAllPages() (err error) {
	for _, page := range pager.pages {
		if page.pagenum == NoPage || !page.IsDirty() {
			continue
		}
		if curErr := pager.FlushPage(page); err == nil {
			err = curErr
		}
	}
	return err
}

// DeletePage drops a page from the buffer and deallocates its page number.
// Deleting a non-resident page only deallocates; deleting a pinned page is an
// error.
func (pager *Pager) DeletePage(pagenum int64) error {
	pager.ptMtx.Lock()
	defer pager.ptMtx.Unlock()
	frame, found := pager.frames.lookup(pagenum)
	if !found {
		pager.disk.DeallocatePage(pagenum)
		return nil
	}
	page := pager.pages[frame]
	if page.PinCount() > 0 {
		return errors.Errorf("delete of pinned page %d", pagenum)
	}
	if err := pager.replacer.Remove(frame); err != nil {
		return err
	}
	pager.frames.remove(pagenum)
	page.pagenum = NoPage
	page.dirty = false
	pager.freeList.PushTail(frame)
	pager.disk.DeallocatePage(pagenum)
	return nil
}

// Close signals our pager to flush all dirty pages to disk and close its
// backing file. Errors if any page is still pinned.
func (pager *Pager) Close() error {
	// Prevent new data from being paged in.
	pager.ptMtx.Lock()
	defer pager.ptMtx.Unlock()
	for _, page := range pager.pages {
		if page.pagenum != NoPage && page.PinCount() > 0 {
			return errors.New("pages are still pinned on close")
		}
	}
	if err := pager.flushAllPages(); err != nil {
		return err
	}
	return pager.disk.Close()
}
