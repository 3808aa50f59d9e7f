package pager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/otiai10/copy"
	"github.com/stretchr/testify/require"
)

func setupPager(t *testing.T, numFrames int64) *Pager {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "test.db")
	p, err := NewWithConfig(dbFile, numFrames, 2)
	require.NoError(t, err)
	return p
}

// checkResidency verifies that the frame table maps exactly the pages held
// in non-free frames.
func checkResidency(t *testing.T, p *Pager) {
	t.Helper()
	p.ptMtx.Lock()
	defer p.ptMtx.Unlock()
	resident := int64(0)
	for _, page := range p.pages {
		if page.pagenum == NoPage {
			continue
		}
		resident++
		frame, found := p.frames.lookup(page.pagenum)
		require.True(t, found, "resident page %d missing from frame table", page.pagenum)
		require.Equal(t, page.frame, frame)
	}
	require.Equal(t, resident, p.frames.size())
}

func TestPagerNewAndGet(t *testing.T) {
	t.Parallel()
	p := setupPager(t, 8)
	defer p.Close()
	page, err := p.GetNewPage()
	require.NoError(t, err)
	pn := page.GetPageNum()
	page.WLock()
	page.Update([]byte("hello"), 0, 5)
	page.WUnlock()
	require.NoError(t, p.PutPage(page))

	got, err := p.GetPage(pn)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got.GetData()[:5])
	require.NoError(t, p.PutPage(got))
	checkResidency(t, p)
}

func TestPagerInvalidGet(t *testing.T) {
	t.Parallel()
	p := setupPager(t, 8)
	defer p.Close()
	_, err := p.GetPage(-1)
	require.Error(t, err)
	_, err = p.GetPage(99)
	require.Error(t, err)
}

// Scenario: a pool of three frames filled with pinned pages has nothing to
// hand out; unpinning exactly one page frees exactly that page's frame.
func TestPagerExhaustion(t *testing.T) {
	t.Parallel()
	p := setupPager(t, 3)
	pages := make([]*Page, 3)
	for i := range pages {
		page, err := p.GetNewPage()
		require.NoError(t, err)
		pages[i] = page
	}
	_, err := p.GetNewPage()
	require.ErrorIs(t, err, ErrRanOutOfPages)

	victim := pages[1].GetPageNum()
	require.NoError(t, p.PutPage(pages[1]))
	page, err := p.GetNewPage()
	require.NoError(t, err)
	// The previously unpinned page is the one that was evicted.
	p.ptMtx.Lock()
	_, stillResident := p.frames.lookup(victim)
	p.ptMtx.Unlock()
	require.False(t, stillResident, "unpinned page %d should have been evicted", victim)

	require.NoError(t, p.PutPage(page))
	require.NoError(t, p.PutPage(pages[0]))
	require.NoError(t, p.PutPage(pages[2]))
	// The evicted page's contents survive on disk.
	back, err := p.GetPage(victim)
	require.NoError(t, err)
	require.NoError(t, p.PutPage(back))
	require.NoError(t, p.Close())
}

func TestPagerEvictionWritesBack(t *testing.T) {
	t.Parallel()
	p := setupPager(t, 3)
	defer p.Close()
	pns := make([]int64, 0)
	for i := 0; i < 3; i++ {
		page, err := p.GetNewPage()
		require.NoError(t, err)
		page.WLock()
		page.Update([]byte{byte(i + 1)}, 0, 1)
		page.WUnlock()
		pns = append(pns, page.GetPageNum())
		require.NoError(t, p.PutPage(page))
	}
	// Force all three out by allocating three more.
	for i := 0; i < 3; i++ {
		page, err := p.GetNewPage()
		require.NoError(t, err)
		require.NoError(t, p.PutPage(page))
	}
	for i, pn := range pns {
		page, err := p.GetPage(pn)
		require.NoError(t, err)
		require.Equal(t, byte(i+1), page.GetData()[0])
		require.NoError(t, p.PutPage(page))
	}
	checkResidency(t, p)
}

func TestPagerDeletePage(t *testing.T) {
	t.Parallel()
	p := setupPager(t, 4)
	defer p.Close()
	page, err := p.GetNewPage()
	require.NoError(t, err)
	pn := page.GetPageNum()
	require.Error(t, p.DeletePage(pn), "deleting a pinned page must fail")
	require.NoError(t, p.PutPage(page))
	require.NoError(t, p.DeletePage(pn))
	// Deleting a non-resident page is a no-op.
	require.NoError(t, p.DeletePage(pn))
	// The page number is recycled.
	again, err := p.GetNewPage()
	require.NoError(t, err)
	require.Equal(t, pn, again.GetPageNum())
	require.NoError(t, p.PutPage(again))
	checkResidency(t, p)
}

func TestPagerCloseRefusesPinned(t *testing.T) {
	t.Parallel()
	p := setupPager(t, 4)
	page, err := p.GetNewPage()
	require.NoError(t, err)
	require.Error(t, p.Close())
	require.NoError(t, p.PutPage(page))
	require.NoError(t, p.Close())
}

// Flush everything, snapshot the db file, and reopen the copy: the backup
// must contain every page.
func TestPagerFlushAndBackup(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	dbFile := filepath.Join(dir, "orig", "test.db")
	p, err := NewWithConfig(dbFile, 4, 2)
	require.NoError(t, err)
	pns := make([]int64, 0)
	for i := 0; i < 4; i++ {
		page, err := p.GetNewPage()
		require.NoError(t, err)
		page.WLock()
		page.Update([]byte{0xAB, byte(i)}, 0, 2)
		page.WUnlock()
		pns = append(pns, page.GetPageNum())
		require.NoError(t, p.PutPage(page))
	}
	require.NoError(t, p.FlushAllPages())
	require.NoError(t, copy.Copy(filepath.Dir(dbFile), filepath.Join(dir, "backup")))
	require.NoError(t, p.Close())

	restored, err := NewWithConfig(filepath.Join(dir, "backup", "test.db"), 4, 2)
	require.NoError(t, err)
	defer restored.Close()
	for i, pn := range pns {
		page, err := restored.GetPage(pn)
		require.NoError(t, err)
		require.Equal(t, []byte{0xAB, byte(i)}, page.GetData()[:2])
		require.NoError(t, restored.PutPage(page))
	}
	// Cleanliness: the original file still exists untouched.
	_, err = os.Stat(dbFile)
	require.NoError(t, err)
}
