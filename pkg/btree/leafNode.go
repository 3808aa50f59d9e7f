package btree

import (
	"fmt"
	"io"
	"sort"

	"basaltdb/pkg/entry"
)

// LeafNode represents a node at the bottom of a B+Tree that stores the actual
// key and record-id pairs that represent our data. Leaves are chained into a
// singly linked list through their next page numbers.
type LeafNode struct {
	NodeHeader
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////// Entry accessors //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

func leafEntryOffset(index int64) int64 {
	return LEAF_HEADER_SIZE + index*LEAF_ENTRY_SIZE
}

func (node *LeafNode) getKeyAt(index int64) int64 {
	return getKey(node.page, leafEntryOffset(index))
}

func (node *LeafNode) getEntryAt(index int64) entry.Entry {
	offset := leafEntryOffset(index)
	return entry.UnmarshalEntry(node.page.GetData()[offset : offset+LEAF_ENTRY_SIZE])
}

func (node *LeafNode) updateEntryAt(index int64, e entry.Entry) {
	var buf [16]byte
	e.Marshal(buf[:])
	node.page.Update(buf[:], leafEntryOffset(index), LEAF_ENTRY_SIZE)
}

func (node *LeafNode) getNextPN() int64 {
	return decodePN(getUint32(node.page, NEXT_PN_OFFSET))
}

func (node *LeafNode) setNextPN(pn int64) {
	putUint32(node.page, NEXT_PN_OFFSET, encodePN(pn))
}

// search returns the first index whose key >= the given key.
// If no key satisfies this condition, returns the node's size.
func (node *LeafNode) search(key int64) int64 {
	minIndex := sort.Search(
		int(node.size),
		func(idx int) bool {
			return node.getKeyAt(int64(idx)) >= key
		},
	)
	return int64(minIndex)
}

// find returns the record id stored for the given key, if present.
func (node *LeafNode) find(key int64) (entry.RID, bool) {
	index := node.search(key)
	if index >= node.size || node.getKeyAt(index) != key {
		return entry.RID{}, false
	}
	return node.getEntryAt(index).RID, true
}

// insertAt shifts entries right and writes the new entry at the given index.
func (node *LeafNode) insertAt(index int64, e entry.Entry) {
	for i := node.size - 1; i >= index; i-- {
		node.updateEntryAt(i+1, node.getEntryAt(i))
	}
	node.updateEntryAt(index, e)
	node.updateSize(node.size + 1)
}

// removeAt shifts entries left over the entry at the given index.
func (node *LeafNode) removeAt(index int64) {
	for i := index; i < node.size-1; i++ {
		node.updateEntryAt(i, node.getEntryAt(i+1))
	}
	node.updateSize(node.size - 1)
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////// Structural helpers ///////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// minSize returns the fewest entries a non-root leaf may hold.
func (node *LeafNode) minSize() int64 {
	return node.maxSize / 2
}

// splitLeaf moves the upper half of a full leaf into a fresh right sibling,
// links the sibling into the leaf chain, and returns the separator to push
// up. The sibling is fully formed before it becomes reachable.
func splitLeaf(node *LeafNode, sibling *LeafNode) Split {
	midpoint := node.size / 2
	for i := midpoint; i < node.size; i++ {
		sibling.updateEntryAt(sibling.size, node.getEntryAt(i))
		sibling.updateSize(sibling.size + 1)
	}
	node.updateSize(midpoint)
	sibling.setNextPN(node.getNextPN())
	node.setNextPN(sibling.page.GetPageNum())
	return Split{
		key:     sibling.getKeyAt(0),
		rightPN: sibling.page.GetPageNum(),
	}
}

// printNode writes a string representation of the node to the specified writer.
func (node *LeafNode) printNode(w io.Writer, firstPrefix string, prefix string) {
	fmt.Fprintf(w, "%v[%v] Leaf (size %d) {", firstPrefix, node.page.GetPageNum(), node.size)
	for i := int64(0); i < node.size; i++ {
		node.getEntryAt(i).Print(w)
	}
	fmt.Fprintf(w, "} -> %v\n", node.getNextPN())
}
