// Package btree implements a concurrent, disk-resident B+Tree index with
// latch crabbing, supporting point lookup, range iteration, insert, and
// delete.
package btree

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"basaltdb/pkg/entry"
	"basaltdb/pkg/pager"

	"github.com/pkg/errors"
)

// ErrDuplicateKey is returned when inserting a key that is already present.
var ErrDuplicateKey = errors.New("cannot insert duplicate key")

// ErrEmptyIndex is returned when opening a cursor on an index with no entries.
var ErrEmptyIndex = errors.New("index is empty")

// ErrKeyNotFound is returned by lookups and updates of absent keys.
var ErrKeyNotFound = errors.New("no entry with that key was found")

// BTreeIndex is an index that uses a B+Tree as it's underlying data structure.
// Many indexes share one pager; each records its root page number in the
// header page (page 0) under its name.
type BTreeIndex struct {
	pager           *pager.Pager // The pager used to store the B+Tree's data.
	name            string       // The index's name in the header page.
	rootPN          int64        // The pagenum of this B+Tree's root node, or INVALID_PN when empty.
	leafMaxSize     int64        // Fan-out at which a leaf splits.
	internalMaxSize int64        // Fan-out at which an internal node splits.
	rootLatch       sync.RWMutex // Guards rootPN; held in write mode across structural passes.
}

// OpenIndex returns a BTreeIndex named `name` backed by the given pager,
// registering it in the header page if it is new. Zero max sizes default to
// the page capacity.
func OpenIndex(pgr *pager.Pager, name string, leafMaxSize int64, internalMaxSize int64) (*BTreeIndex, error) {
	if leafMaxSize == 0 {
		leafMaxSize = ENTRIES_PER_LEAF_NODE
	}
	if internalMaxSize == 0 {
		internalMaxSize = ENTRIES_PER_INTERNAL_NODE
	}
	if leafMaxSize < 3 || leafMaxSize > ENTRIES_PER_LEAF_NODE ||
		internalMaxSize < 3 || internalMaxSize > ENTRIES_PER_INTERNAL_NODE {
		return nil, errors.Errorf("invalid fan-out (leaf %d, internal %d)", leafMaxSize, internalMaxSize)
	}
	if err := ensureHeaderPage(pgr); err != nil {
		return nil, err
	}
	rootPN, found, err := readRootRecord(pgr, name)
	if err != nil {
		return nil, err
	}
	if !found {
		rootPN = INVALID_PN
		if err := writeRootRecord(pgr, name, INVALID_PN); err != nil {
			return nil, err
		}
	}
	return &BTreeIndex{
		pager:           pgr,
		name:            name,
		rootPN:          rootPN,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
	}, nil
}

// GetName returns the name this index is registered under.
func (index *BTreeIndex) GetName() string {
	return index.name
}

// GetPager returns this index's pager.
func (index *BTreeIndex) GetPager() *pager.Pager {
	return index.pager
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////// Header page ////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// ensureHeaderPage allocates page 0 on a brand new db file.
func ensureHeaderPage(pgr *pager.Pager) error {
	if pgr.GetNumPages() > 0 {
		return nil
	}
	page, err := pgr.GetNewPage()
	if err != nil {
		return err
	}
	defer pgr.PutPage(page)
	if page.GetPageNum() != HEADER_PN {
		return errors.New("header page was not allocated at page 0")
	}
	return nil
}

// readRootRecord scans the header page for the named index's root.
func readRootRecord(pgr *pager.Pager, name string) (int64, bool, error) {
	page, err := pgr.GetPage(HEADER_PN)
	if err != nil {
		return 0, false, err
	}
	defer pgr.PutPage(page)
	page.RLock()
	defer page.RUnlock()
	count := int64(getUint32(page, HEADER_COUNT_OFFSET))
	for i := int64(0); i < count; i++ {
		off := HEADER_RECORDS_OFF + i*HEADER_RECORD_SIZE
		recName := string(bytes.TrimRight(page.GetData()[off:off+HEADER_NAME_SIZE], "\x00"))
		if recName == name {
			return decodePN(getUint32(page, off+HEADER_NAME_SIZE)), true, nil
		}
	}
	return 0, false, nil
}

// writeRootRecord updates the named index's root record, appending it if new.
func writeRootRecord(pgr *pager.Pager, name string, rootPN int64) error {
	if int64(len(name)) > HEADER_NAME_SIZE {
		return errors.Errorf("index name %q is too long", name)
	}
	page, err := pgr.GetPage(HEADER_PN)
	if err != nil {
		return err
	}
	defer pgr.PutPage(page)
	page.WLock()
	defer page.WUnlock()
	count := int64(getUint32(page, HEADER_COUNT_OFFSET))
	slot := count
	for i := int64(0); i < count; i++ {
		off := HEADER_RECORDS_OFF + i*HEADER_RECORD_SIZE
		recName := string(bytes.TrimRight(page.GetData()[off:off+HEADER_NAME_SIZE], "\x00"))
		if recName == name {
			slot = i
			break
		}
	}
	if slot == count {
		if count == MAX_HEADER_RECORDS {
			return errors.New("header page is full")
		}
		putUint32(page, HEADER_COUNT_OFFSET, uint32(count+1))
	}
	off := HEADER_RECORDS_OFF + slot*HEADER_RECORD_SIZE
	nameBuf := make([]byte, HEADER_NAME_SIZE)
	copy(nameBuf, name)
	page.Update(nameBuf, off, HEADER_NAME_SIZE)
	putUint32(page, off+HEADER_NAME_SIZE, encodePN(rootPN))
	return nil
}

// writeRootPN records the index's current root in the header page.
// Concurrency note: the root latch must be held in write mode.
func (index *BTreeIndex) writeRootPN() error {
	return writeRootRecord(index.pager, index.name, index.rootPN)
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////// Latch context //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// latchCtx tracks the write-latched path of a pessimistic pass: the stack of
// pages from the highest retained ancestor down to the current node, any
// sibling pages latched during rebalancing, and pages scheduled for deletion
// once every latch is dropped.
type latchCtx struct {
	index       *BTreeIndex
	stack       []*pager.Page
	extras      []*pager.Page
	rootLatched bool
	deleted     []int64
}

// releaseAncestors unlocks everything above the top of the stack, plus the
// root latch. Called when the current node is safe: the mutation can no
// longer propagate past it.
func (ctx *latchCtx) releaseAncestors() {
	top := len(ctx.stack) - 1
	for i := 0; i < top; i++ {
		ctx.stack[i].WUnlock()
		ctx.index.pager.PutPage(ctx.stack[i])
	}
	ctx.stack = ctx.stack[top:]
	if ctx.rootLatched {
		ctx.index.rootLatch.Unlock()
		ctx.rootLatched = false
	}
}

// releaseAll unlocks and unpins every held page, drops the root latch, and
// deletes pages emptied by coalescing.
func (ctx *latchCtx) releaseAll() {
	for _, page := range ctx.extras {
		page.WUnlock()
		ctx.index.pager.PutPage(page)
	}
	for i := len(ctx.stack) - 1; i >= 0; i-- {
		ctx.stack[i].WUnlock()
		ctx.index.pager.PutPage(ctx.stack[i])
	}
	ctx.extras = nil
	ctx.stack = nil
	if ctx.rootLatched {
		ctx.index.rootLatch.Unlock()
		ctx.rootLatched = false
	}
	for _, pn := range ctx.deleted {
		// Best effort: a concurrent reader that already pinned the page
		// keeps it alive and the delete is skipped.
		_ = ctx.index.pager.DeletePage(pn)
	}
	ctx.deleted = nil
}

// insertSafe reports whether an insert below this node cannot split it.
func insertSafe(page *pager.Page, header NodeHeader) bool {
	return header.size < header.maxSize-1
}

// deleteSafe reports whether a delete below this node cannot underflow it.
// The root is safe as long as removal cannot force a root change.
func deleteSafe(header NodeHeader, isRoot bool) bool {
	if isRoot {
		if header.nodeType == LEAF_NODE {
			return header.size > 1
		}
		return header.size > 2
	}
	if header.nodeType == LEAF_NODE {
		return header.size > header.maxSize/2
	}
	return header.size > (header.maxSize+1)/2
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// Search /////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// descendToLeaf walks from the root to the leaf responsible for key with
// read-latch crabbing: the parent's latch is held until the child's latch is
// acquired. Returns the read-latched, pinned leaf page.
func (index *BTreeIndex) descendToLeaf(key int64) (*pager.Page, error) {
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
	for nodeTypeOf(page) == INTERNAL_NODE {
		node := pageToInternalNode(page)
		childPN := node.getPNAt(node.search(key))
		childPage, err := index.pager.GetPage(childPN)
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
	return page, nil
}

// Find returns the entry associated with the given key, or an error if
// no entry with that key is found.
func (index *BTreeIndex) Find(key int64) (entry.Entry, error) {
	page, err := index.descendToLeaf(key)
	if err == ErrEmptyIndex {
		return entry.Entry{}, ErrKeyNotFound
	}
	if err != nil {
		return entry.Entry{}, err
	}
	defer index.pager.PutPage(page)
	defer page.RUnlock()
	leaf := pageToLeafNode(page)
	rid, found := leaf.find(key)
	if !found {
		return entry.Entry{}, ErrKeyNotFound
	}
	return entry.New(key, rid), nil
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// Insert /////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Insert inserts a key / record-id entry into the B+Tree. Duplicate keys are
// rejected with ErrDuplicateKey and leave the tree unchanged.
//
// [CONCURRENCY] Inserts first run an optimistic pass that read-latches the
// descent and write-latches only the leaf; if the leaf might split, the pass
// restarts pessimistically with write latches from the root, releasing all
// ancestors as soon as a safe node is reached.
func (index *BTreeIndex) Insert(key int64, rid entry.RID) error {
	done, err := index.insertOptimistic(key, rid)
	if done {
		return err
	}
	return index.insertPessimistic(key, rid)
}

// latchAsTarget write-latches leaf pages and read-latches internal pages.
func latchAsTarget(page *pager.Page) {
	if nodeTypeOf(page) == LEAF_NODE {
		page.WLock()
	} else {
		page.RLock()
	}
}

// insertOptimistic attempts the insert while holding only a leaf write
// latch. Returns done=false if the leaf was unsafe and the insert must be
// retried pessimistically.
func (index *BTreeIndex) insertOptimistic(key int64, rid entry.RID) (bool, error) {
	index.rootLatch.RLock()
	if index.rootPN == INVALID_PN {
		index.rootLatch.RUnlock()
		return false, nil
	}
	page, err := index.pager.GetPage(index.rootPN)
	if err != nil {
		index.rootLatch.RUnlock()
		return true, err
	}
	latchAsTarget(page)
	index.rootLatch.RUnlock()
	for nodeTypeOf(page) == INTERNAL_NODE {
		node := pageToInternalNode(page)
		childPN := node.getPNAt(node.search(key))
		childPage, err := index.pager.GetPage(childPN)
		if err != nil {
			page.RUnlock()
			index.pager.PutPage(page)
			return true, err
		}
		latchAsTarget(childPage)
		page.RUnlock()
		index.pager.PutPage(page)
		page = childPage
	}
	leaf := pageToLeafNode(page)
	pos := leaf.search(key)
	if pos < leaf.size && leaf.getKeyAt(pos) == key {
		page.WUnlock()
		index.pager.PutPage(page)
		return true, ErrDuplicateKey
	}
	if leaf.size >= index.leafMaxSize-1 {
		// The insert could split this leaf; retry pessimistically.
		page.WUnlock()
		index.pager.PutPage(page)
		return false, nil
	}
	leaf.insertAt(pos, entry.New(key, rid))
	page.WUnlock()
	index.pager.PutPage(page)
	return true, nil
}

// insertPessimistic restarts the insert from the root under write latches,
// splitting on the way back up as needed.
func (index *BTreeIndex) insertPessimistic(key int64, rid entry.RID) error {
	ctx := &latchCtx{index: index, rootLatched: true}
	index.rootLatch.Lock()
	if index.rootPN == INVALID_PN {
		// First insert: the tree's root starts as a single leaf.
		page, err := index.pager.GetNewPage()
		if err != nil {
			index.rootLatch.Unlock()
			return err
		}
		initPage(page, LEAF_NODE, index.leafMaxSize, INVALID_PN)
		leaf := pageToLeafNode(page)
		leaf.insertAt(0, entry.New(key, rid))
		index.rootPN = page.GetPageNum()
		err = index.writeRootPN()
		index.pager.PutPage(page)
		index.rootLatch.Unlock()
		return err
	}
	page, err := index.pager.GetPage(index.rootPN)
	if err != nil {
		index.rootLatch.Unlock()
		return err
	}
	page.WLock()
	ctx.stack = append(ctx.stack, page)
	if insertSafe(page, pageToNodeHeader(page)) {
		ctx.releaseAncestors()
	}
	for nodeTypeOf(page) == INTERNAL_NODE {
		node := pageToInternalNode(page)
		childPN := node.getPNAt(node.search(key))
		childPage, err := index.pager.GetPage(childPN)
		if err != nil {
			ctx.releaseAll()
			return err
		}
		childPage.WLock()
		ctx.stack = append(ctx.stack, childPage)
		if insertSafe(childPage, pageToNodeHeader(childPage)) {
			ctx.releaseAncestors()
		}
		page = childPage
	}
	leaf := pageToLeafNode(page)
	pos := leaf.search(key)
	if pos < leaf.size && leaf.getKeyAt(pos) == key {
		ctx.releaseAll()
		return ErrDuplicateKey
	}
	leaf.insertAt(pos, entry.New(key, rid))
	if leaf.size >= index.leafMaxSize {
		err = index.splitLeafNode(ctx, leaf)
	}
	ctx.releaseAll()
	return err
}

// splitLeafNode splits a full leaf into a right sibling and propagates the
// separator upward.
func (index *BTreeIndex) splitLeafNode(ctx *latchCtx, leaf *LeafNode) error {
	sibPage, err := index.pager.GetNewPage()
	if err != nil {
		return err
	}
	initPage(sibPage, LEAF_NODE, index.leafMaxSize, leaf.parentPN)
	sibling := pageToLeafNode(sibPage)
	split := splitLeaf(leaf, sibling)
	index.pager.PutPage(sibPage)
	return index.propagate(ctx, split)
}

// propagate inserts a split's separator into the parent of the node at the
// top of the latch stack, splitting internal nodes and growing a new root as
// needed.
func (index *BTreeIndex) propagate(ctx *latchCtx, split Split) error {
	i := len(ctx.stack) - 1
	for {
		curPage := ctx.stack[i]
		if i == 0 {
			return index.growRoot(curPage, split)
		}
		parentPage := ctx.stack[i-1]
		parent := pageToInternalNode(parentPage)
		slot := parent.findChildSlot(curPage.GetPageNum())
		if slot < 0 {
			return errors.Errorf("page %d missing from its parent", curPage.GetPageNum())
		}
		parent.insertAt(slot+1, split.key, split.rightPN)
		if err := index.repoint(split.rightPN, parentPage.GetPageNum()); err != nil {
			return err
		}
		if parent.size < index.internalMaxSize {
			return nil
		}
		sibPage, err := index.pager.GetNewPage()
		if err != nil {
			return err
		}
		initPage(sibPage, INTERNAL_NODE, index.internalMaxSize, parent.parentPN)
		sibling := pageToInternalNode(sibPage)
		split = splitInternal(parent, sibling)
		for j := int64(0); j < sibling.size; j++ {
			if err := index.repoint(sibling.getPNAt(j), sibPage.GetPageNum()); err != nil {
				index.pager.PutPage(sibPage)
				return err
			}
		}
		index.pager.PutPage(sibPage)
		i--
	}
}

// growRoot replaces a split root with a new internal root holding the old
// root and its new sibling.
// Concurrency note: the root latch is necessarily still held in write mode,
// since a split that reaches the root passed through no safe node.
func (index *BTreeIndex) growRoot(oldRootPage *pager.Page, split Split) error {
	rootPage, err := index.pager.GetNewPage()
	if err != nil {
		return err
	}
	initPage(rootPage, INTERNAL_NODE, index.internalMaxSize, INVALID_PN)
	root := pageToInternalNode(rootPage)
	root.updatePNAt(0, oldRootPage.GetPageNum())
	root.updateSize(1)
	root.insertAt(1, split.key, split.rightPN)
	setParentPN(oldRootPage, rootPage.GetPageNum())
	if err := index.repoint(split.rightPN, rootPage.GetPageNum()); err != nil {
		index.pager.PutPage(rootPage)
		return err
	}
	index.rootPN = rootPage.GetPageNum()
	err = index.writeRootPN()
	index.pager.PutPage(rootPage)
	return err
}

// repoint rewrites a child page's parent pointer.
func (index *BTreeIndex) repoint(childPN int64, parentPN int64) error {
	childPage, err := index.pager.GetPage(childPN)
	if err != nil {
		return err
	}
	setParentPN(childPage, parentPN)
	return index.pager.PutPage(childPage)
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// Update /////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Update overwrites the record id stored for an existing key. Updates never
// change the tree's structure, so a single leaf write latch suffices.
func (index *BTreeIndex) Update(key int64, rid entry.RID) error {
	index.rootLatch.RLock()
	if index.rootPN == INVALID_PN {
		index.rootLatch.RUnlock()
		return ErrKeyNotFound
	}
	page, err := index.pager.GetPage(index.rootPN)
	if err != nil {
		index.rootLatch.RUnlock()
		return err
	}
	latchAsTarget(page)
	index.rootLatch.RUnlock()
	for nodeTypeOf(page) == INTERNAL_NODE {
		node := pageToInternalNode(page)
		childPN := node.getPNAt(node.search(key))
		childPage, err := index.pager.GetPage(childPN)
		if err != nil {
			page.RUnlock()
			index.pager.PutPage(page)
			return err
		}
		latchAsTarget(childPage)
		page.RUnlock()
		index.pager.PutPage(page)
		page = childPage
	}
	defer index.pager.PutPage(page)
	defer page.WUnlock()
	leaf := pageToLeafNode(page)
	pos := leaf.search(key)
	if pos >= leaf.size || leaf.getKeyAt(pos) != key {
		return ErrKeyNotFound
	}
	leaf.updateEntryAt(pos, entry.New(key, rid))
	return nil
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// Delete /////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Delete removes the entry with the given key from the B+Tree. Deleting an
// absent key is a no-op.
func (index *BTreeIndex) Delete(key int64) error {
	done, err := index.deleteOptimistic(key)
	if done {
		return err
	}
	return index.deletePessimistic(key)
}

// deleteOptimistic attempts the delete while holding only a leaf write
// latch. Returns done=false if removal could underflow the leaf.
func (index *BTreeIndex) deleteOptimistic(key int64) (bool, error) {
	index.rootLatch.RLock()
	if index.rootPN == INVALID_PN {
		index.rootLatch.RUnlock()
		return true, nil
	}
	rootPN := index.rootPN
	page, err := index.pager.GetPage(rootPN)
	if err != nil {
		index.rootLatch.RUnlock()
		return true, err
	}
	latchAsTarget(page)
	index.rootLatch.RUnlock()
	for nodeTypeOf(page) == INTERNAL_NODE {
		node := pageToInternalNode(page)
		childPN := node.getPNAt(node.search(key))
		childPage, err := index.pager.GetPage(childPN)
		if err != nil {
			page.RUnlock()
			index.pager.PutPage(page)
			return true, err
		}
		latchAsTarget(childPage)
		page.RUnlock()
		index.pager.PutPage(page)
		page = childPage
	}
	leaf := pageToLeafNode(page)
	pos := leaf.search(key)
	if pos >= leaf.size || leaf.getKeyAt(pos) != key {
		// Absent key: nothing to delete.
		page.WUnlock()
		index.pager.PutPage(page)
		return true, nil
	}
	isRoot := page.GetPageNum() == rootPN
	safe := leaf.size > leaf.minSize()
	if isRoot {
		safe = leaf.size > 1
	}
	if !safe {
		page.WUnlock()
		index.pager.PutPage(page)
		return false, nil
	}
	leaf.removeAt(pos)
	page.WUnlock()
	index.pager.PutPage(page)
	return true, nil
}

// deletePessimistic restarts the delete from the root under write latches,
// rebalancing on the way back up as needed.
func (index *BTreeIndex) deletePessimistic(key int64) error {
	ctx := &latchCtx{index: index, rootLatched: true}
	index.rootLatch.Lock()
	if index.rootPN == INVALID_PN {
		index.rootLatch.Unlock()
		return nil
	}
	page, err := index.pager.GetPage(index.rootPN)
	if err != nil {
		index.rootLatch.Unlock()
		return err
	}
	page.WLock()
	ctx.stack = append(ctx.stack, page)
	if deleteSafe(pageToNodeHeader(page), true) {
		ctx.releaseAncestors()
	}
	for nodeTypeOf(page) == INTERNAL_NODE {
		node := pageToInternalNode(page)
		childPN := node.getPNAt(node.search(key))
		childPage, err := index.pager.GetPage(childPN)
		if err != nil {
			ctx.releaseAll()
			return err
		}
		childPage.WLock()
		ctx.stack = append(ctx.stack, childPage)
		if deleteSafe(pageToNodeHeader(childPage), false) {
			ctx.releaseAncestors()
		}
		page = childPage
	}
	leaf := pageToLeafNode(page)
	pos := leaf.search(key)
	if pos >= leaf.size || leaf.getKeyAt(pos) != key {
		ctx.releaseAll()
		return nil
	}
	leaf.removeAt(pos)
	err = index.rebalance(ctx)
	ctx.releaseAll()
	return err
}

// rebalance restores size invariants from the top of the latch stack
// upward, redistributing or coalescing underflowing nodes.
func (index *BTreeIndex) rebalance(ctx *latchCtx) error {
	i := len(ctx.stack) - 1
	for {
		curPage := ctx.stack[i]
		header := pageToNodeHeader(curPage)
		if i == 0 {
			if ctx.rootLatched {
				return index.adjustRoot(ctx, curPage, header)
			}
			return nil
		}
		// Underflow check for the current node.
		var min int64
		if header.nodeType == LEAF_NODE {
			min = header.maxSize / 2
		} else {
			min = (header.maxSize + 1) / 2
		}
		if header.size >= min {
			return nil
		}
		parentPage := ctx.stack[i-1]
		parent := pageToInternalNode(parentPage)
		if parent.size < 2 {
			// An only child has no sibling to borrow from or merge with;
			// rebalancing the parent (itself under minimum) reattaches this
			// subtree under a wider node. The node stays under-minimum until
			// a later structural pass absorbs it.
			i--
			continue
		}
		slot := parent.findChildSlot(curPage.GetPageNum())
		if slot < 0 {
			return errors.Errorf("page %d missing from its parent", curPage.GetPageNum())
		}
		// Fetch the right sibling when we are the leftmost child, the left
		// sibling otherwise.
		sibSlot := slot - 1
		if slot == 0 {
			sibSlot = 1
		}
		sibPage, err := index.pager.GetPage(parent.getPNAt(sibSlot))
		if err != nil {
			return err
		}
		sibPage.WLock()
		ctx.extras = append(ctx.extras, sibPage)
		sibHeader := pageToNodeHeader(sibPage)
		if header.size+sibHeader.size >= header.maxSize {
			index.redistribute(parent, curPage, sibPage, slot, sibSlot)
			return nil
		}
		if err := index.coalesce(ctx, parent, curPage, sibPage, slot, sibSlot); err != nil {
			return err
		}
		i--
	}
}

// redistribute moves one entry from the sibling across the boundary and
// fixes the separator key in the parent.
func (index *BTreeIndex) redistribute(parent *InternalNode, curPage, sibPage *pager.Page, slot, sibSlot int64) {
	if nodeTypeOf(curPage) == LEAF_NODE {
		cur, sib := pageToLeafNode(curPage), pageToLeafNode(sibPage)
		if sibSlot < slot {
			// Borrow the left sibling's last entry.
			cur.insertAt(0, sib.getEntryAt(sib.size-1))
			sib.removeAt(sib.size - 1)
			parent.updateKeyAt(slot, cur.getKeyAt(0))
		} else {
			// Borrow the right sibling's first entry.
			cur.insertAt(cur.size, sib.getEntryAt(0))
			sib.removeAt(0)
			parent.updateKeyAt(sibSlot, sib.getKeyAt(0))
		}
		return
	}
	cur, sib := pageToInternalNode(curPage), pageToInternalNode(sibPage)
	if sibSlot < slot {
		// Rotate the left sibling's last child through the parent.
		moved := sib.getPNAt(sib.size - 1)
		cur.insertAt(1, parent.getKeyAt(slot), cur.getPNAt(0))
		cur.updatePNAt(0, moved)
		parent.updateKeyAt(slot, sib.getKeyAt(sib.size-1))
		sib.removeAt(sib.size - 1)
		index.repoint(moved, curPage.GetPageNum())
	} else {
		// Rotate the right sibling's first child through the parent.
		moved := sib.getPNAt(0)
		cur.insertAt(cur.size, parent.getKeyAt(sibSlot), moved)
		parent.updateKeyAt(sibSlot, sib.getKeyAt(1))
		sib.removeAt(0)
		index.repoint(moved, curPage.GetPageNum())
	}
}

// coalesce merges the current node and its sibling into the left of the two,
// removes the separator from the parent, and schedules the right page for
// deletion.
func (index *BTreeIndex) coalesce(ctx *latchCtx, parent *InternalNode, curPage, sibPage *pager.Page, slot, sibSlot int64) error {
	leftPage, rightPage := sibPage, curPage
	rightSlot := slot
	if sibSlot > slot {
		leftPage, rightPage = curPage, sibPage
		rightSlot = sibSlot
	}
	sepKey := parent.getKeyAt(rightSlot)
	if nodeTypeOf(curPage) == LEAF_NODE {
		left, right := pageToLeafNode(leftPage), pageToLeafNode(rightPage)
		for j := int64(0); j < right.size; j++ {
			left.updateEntryAt(left.size+j, right.getEntryAt(j))
		}
		left.updateSize(left.size + right.size)
		left.setNextPN(right.getNextPN())
	} else {
		left, right := pageToInternalNode(leftPage), pageToInternalNode(rightPage)
		base := left.size
		// The parent's separator comes down to caption the right node's
		// leftmost pointer.
		left.updateKeyAt(base, sepKey)
		left.updatePNAt(base, right.getPNAt(0))
		for j := int64(1); j < right.size; j++ {
			left.updateKeyAt(base+j, right.getKeyAt(j))
			left.updatePNAt(base+j, right.getPNAt(j))
		}
		left.updateSize(base + right.size)
		for j := int64(0); j < right.size; j++ {
			if err := index.repoint(right.getPNAt(j), leftPage.GetPageNum()); err != nil {
				return err
			}
		}
	}
	parent.removeAt(rightSlot)
	ctx.deleted = append(ctx.deleted, rightPage.GetPageNum())
	return nil
}

// adjustRoot handles the two root special cases after rebalancing: an
// internal root left with a single child is demoted away, and an empty leaf
// root clears the tree.
func (index *BTreeIndex) adjustRoot(ctx *latchCtx, rootPage *pager.Page, header NodeHeader) error {
	if header.nodeType == INTERNAL_NODE && header.size == 1 {
		root := pageToInternalNode(rootPage)
		childPN := root.getPNAt(0)
		if err := index.repoint(childPN, INVALID_PN); err != nil {
			return err
		}
		ctx.deleted = append(ctx.deleted, rootPage.GetPageNum())
		index.rootPN = childPN
		return index.writeRootPN()
	}
	if header.nodeType == LEAF_NODE && header.size == 0 {
		ctx.deleted = append(ctx.deleted, rootPage.GetPageNum())
		index.rootPN = INVALID_PN
		return index.writeRootPN()
	}
	return nil
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// Debug //////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Print will pretty-print all nodes in the B+Tree.
func (index *BTreeIndex) Print(w io.Writer) {
	index.rootLatch.RLock()
	rootPN := index.rootPN
	index.rootLatch.RUnlock()
	if rootPN == INVALID_PN {
		fmt.Fprintf(w, "[empty tree]\n")
		return
	}
	index.printPN(rootPN, w)
}

func (index *BTreeIndex) printPN(pn int64, w io.Writer) {
	page, err := index.pager.GetPage(pn)
	if err != nil {
		return
	}
	defer index.pager.PutPage(page)
	page.RLock()
	defer page.RUnlock()
	if nodeTypeOf(page) == LEAF_NODE {
		pageToLeafNode(page).printNode(w, "", "")
		return
	}
	node := pageToInternalNode(page)
	node.printNode(w, "", "")
	for i := int64(0); i < node.size; i++ {
		index.printPN(node.getPNAt(i), w)
	}
}
