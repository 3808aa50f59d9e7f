// Package disk implements the disk manager, which reads and writes fixed-size
// pages against a single database file and hands out page numbers.
package disk

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/ncw/directio"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Pagesize is the size of an individual page (ie the maximum number of bytes
// that the page can hold) - defaults to 4kb.
const Pagesize int64 = directio.BlockSize

// Manager performs page-granularity io against a single backing file.
// Calls are synchronous; the pager serializes access under its own latch,
// except for page allocation, which is guarded by the manager's own mutex.
type Manager struct {
	file      *os.File       // File descriptor for the backing file.
	numPages  int64          // Pages the file has grown to hold (allocated or not).
	allocated *bitset.BitSet // Which page numbers are currently allocated.
	allocMtx  sync.Mutex     // Guards numPages and the allocation bitmap.
}

// Open initializes a disk manager with a database file at the specified
// filePath, creating the file if it doesn't exist. Returns an error if the
// file can't be opened or its contents are not aligned to Pagesize.
func Open(filePath string) (*Manager, error) {
	// Create the necessary prerequisite directories.
	if idx := strings.LastIndex(filePath, "/"); idx != -1 {
		if err := os.MkdirAll(filePath[:idx], 0775); err != nil {
			return nil, err
		}
	}
	// Open or create the db file.
	file, err := directio.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}
	// Get info about the size of the file.
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.Size()%Pagesize != 0 {
		file.Close()
		return nil, errors.New("db file has been corrupted")
	}
	numPages := info.Size() / Pagesize
	// Every page already on disk counts as allocated.
	allocated := bitset.New(uint(numPages))
	for i := int64(0); i < numPages; i++ {
		allocated.Set(uint(i))
	}
	logrus.WithFields(logrus.Fields{"file": file.Name(), "pages": numPages}).
		Debug("opened db file")
	return &Manager{file: file, numPages: numPages, allocated: allocated}, nil
}

// GetFileName returns the file name/path of the manager's backing file.
func (d *Manager) GetFileName() string {
	return d.file.Name()
}

// NumPages returns the number of pages the backing file has grown to hold.
func (d *Manager) NumPages() int64 {
	d.allocMtx.Lock()
	defer d.allocMtx.Unlock()
	return d.numPages
}

// AllocatePage hands out the lowest free page number, growing the file's
// logical page count when no deallocated page can be reused.
func (d *Manager) AllocatePage() int64 {
	d.allocMtx.Lock()
	defer d.allocMtx.Unlock()
	// Reuse the lowest deallocated page number if one exists.
	for i := uint(0); i < uint(d.numPages); i++ {
		if !d.allocated.Test(i) {
			d.allocated.Set(i)
			return int64(i)
		}
	}
	pn := d.numPages
	d.numPages++
	d.allocated.Set(uint(pn))
	return pn
}

// DeallocatePage returns a page number to the free pool. The page's on-disk
// bytes are left as-is until the number is reused.
func (d *Manager) DeallocatePage(pagenum int64) {
	d.allocMtx.Lock()
	defer d.allocMtx.Unlock()
	if pagenum < 0 || pagenum >= d.numPages || !d.allocated.Test(uint(pagenum)) {
		logrus.WithField("page", pagenum).Warn("deallocate of unallocated page")
		return
	}
	d.allocated.Clear(uint(pagenum))
}

// ReadPage fills buf with the on-disk contents of the given page. Pages
// beyond the end of the file read as zeroes.
func (d *Manager) ReadPage(pagenum int64, buf []byte) error {
	if pagenum < 0 {
		return errors.Errorf("read of invalid pagenum %d", pagenum)
	}
	n, err := d.file.ReadAt(buf, pagenum*Pagesize)
	if err == io.EOF {
		// Allocated but never flushed; the caller sees a zeroed page.
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		return nil
	}
	return errors.Wrapf(err, "read page %d", pagenum)
}

// WritePage writes buf to the page's fixed offset in the backing file.
func (d *Manager) WritePage(pagenum int64, buf []byte) error {
	if pagenum < 0 {
		return errors.Errorf("write of invalid pagenum %d", pagenum)
	}
	_, err := d.file.WriteAt(buf, pagenum*Pagesize)
	return errors.Wrapf(err, "write page %d", pagenum)
}

// Close closes the backing file. The pager is responsible for flushing dirty
// pages first.
func (d *Manager) Close() error {
	return d.file.Close()
}
