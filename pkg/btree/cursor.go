package btree

import (
	"basaltdb/pkg/entry"

	"github.com/pkg/errors"
)

// BTreeCursor is a forward iterator over the entries in a B+Tree's leaf
// chain. A cursor holds at most one leaf's read latch at a time; while moving
// to the next leaf it briefly pins both leaves.
type BTreeCursor struct {
	index    *BTreeIndex
	curNode  *LeafNode // Current leaf node we are pointing at.
	curIndex int64     // The current slot within curNode.
	atEnd    bool
}

// CursorAtStart returns a cursor pointing to the first entry of the B+Tree.
// The cursor's leaf is read-latched and pinned until the cursor advances past
// it or is closed. Returns ErrEmptyIndex if the tree has no entries.
func (index *BTreeIndex) CursorAtStart() (*BTreeCursor, error) {
	index.rootLatch.RLock()
	if index.rootPN == INVALID_PN {
		index.rootLatch.RUnlock()
		return nil, ErrEmptyIndex
	}
	page, err := index.pager.GetPage(index.rootPN)
	if err != nil {
		index.rootLatch.RUnlock()
		return nil, err
	}
	page.RLock()
	index.rootLatch.RUnlock()
	// Traverse down the leftmost children until we reach a leaf node.
	for nodeTypeOf(page) == INTERNAL_NODE {
		node := pageToInternalNode(page)
		childPage, err := index.pager.GetPage(node.getPNAt(0))
		if err != nil {
			page.RUnlock()
			index.pager.PutPage(page)
			return nil, err
		}
		childPage.RLock()
		page.RUnlock()
		index.pager.PutPage(page)
		page = childPage
	}
	cursor := &BTreeCursor{index: index, curNode: pageToLeafNode(page)}
	// The leftmost leaf can be empty; step forward so the cursor starts on a
	// real entry.
	if cursor.curNode.size == 0 && cursor.Next() {
		cursor.Close()
		return nil, ErrEmptyIndex
	}
	return cursor, nil
}

// CursorAt returns a cursor pointing to the first entry with key >= the
// given key, which may be on a later leaf than the one the key would occupy.
func (index *BTreeIndex) CursorAt(key int64) (*BTreeCursor, error) {
	page, err := index.descendToLeaf(key)
	if err != nil {
		return nil, err
	}
	cursor := &BTreeCursor{index: index, curNode: pageToLeafNode(page)}
	cursor.curIndex = cursor.curNode.search(key)
	// The key may be past this leaf's last entry (eg if it was deleted);
	// step forward so the cursor lands on a real entry.
	if cursor.curIndex >= cursor.curNode.size {
		cursor.Next()
	}
	return cursor, nil
}

// Next moves the cursor ahead by one entry. Returns true when the cursor
// moves past the end of the B+Tree.
func (cursor *BTreeCursor) Next() (atEnd bool) {
	if cursor.atEnd {
		return true
	}
	if cursor.curIndex+1 < cursor.curNode.size {
		cursor.curIndex++
		return false
	}
	nextPN := cursor.curNode.getNextPN()
	if nextPN == INVALID_PN {
		cursor.atEnd = true
		return true
	}
	// Pin the next leaf before dropping the current one so the page can't be
	// deleted out from under us, then trade latches.
	nextPage, err := cursor.index.pager.GetPage(nextPN)
	if err != nil {
		cursor.atEnd = true
		return true
	}
	curPage := cursor.curNode.getPage()
	curPage.RUnlock()
	cursor.index.pager.PutPage(curPage)
	nextPage.RLock()
	cursor.curNode = pageToLeafNode(nextPage)
	cursor.curIndex = 0
	if cursor.curNode.size == 0 {
		return cursor.Next()
	}
	return false
}

// GetEntry returns the entry at the position of the cursor.
func (cursor *BTreeCursor) GetEntry() (entry.Entry, error) {
	if cursor.atEnd || cursor.curIndex >= cursor.curNode.size {
		return entry.Entry{}, ErrKeyNotFound
	}
	return cursor.curNode.getEntryAt(cursor.curIndex), nil
}

// Close releases the cursor's leaf latch and pin.
func (cursor *BTreeCursor) Close() {
	if cursor.curNode == nil {
		return
	}
	page := cursor.curNode.getPage()
	page.RUnlock()
	cursor.index.pager.PutPage(page)
	cursor.curNode = nil
	cursor.atEnd = true
}

// Select returns a slice of all the entries in the B+Tree ordered by their keys.
func (index *BTreeIndex) Select() ([]entry.Entry, error) {
	cursor, err := index.CursorAtStart()
	if err == ErrEmptyIndex {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer cursor.Close()
	entries := make([]entry.Entry, 0)
	for {
		e, err := cursor.GetEntry()
		if err != nil {
			return entries, nil
		}
		entries = append(entries, e)
		if cursor.Next() {
			return entries, nil
		}
	}
}

// SelectRange returns a slice of entries with keys in [startKey, endKey).
// Returns an error if startKey >= endKey.
func (index *BTreeIndex) SelectRange(startKey int64, endKey int64) ([]entry.Entry, error) {
	if startKey >= endKey {
		return nil, errors.New("startKey is not smaller than endKey")
	}
	cursor, err := index.CursorAt(startKey)
	if err == ErrEmptyIndex {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer cursor.Close()
	entries := make([]entry.Entry, 0)
	for {
		e, err := cursor.GetEntry()
		if err != nil {
			return entries, nil
		}
		if e.Key >= endKey {
			return entries, nil
		}
		entries = append(entries, e)
		if cursor.Next() {
			return entries, nil
		}
	}
}
