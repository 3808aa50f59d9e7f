package btree

import (
	"fmt"
	"io"
	"sort"
)

// InternalNode represents a node that stores the keys and child pointers
// that guide searches down to the leaf nodes. Slot 0 stores a child page
// number with an unused key (the leftmost pointer).
type InternalNode struct {
	NodeHeader
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////// Entry accessors //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

func internalEntryOffset(index int64) int64 {
	return NODE_HEADER_SIZE + index*INTERNAL_ENTRY_SIZE
}

// getKeyAt returns the key at the given slot; slot 0's key is meaningless.
func (node *InternalNode) getKeyAt(index int64) int64 {
	return getKey(node.page, internalEntryOffset(index))
}

func (node *InternalNode) updateKeyAt(index int64, key int64) {
	putKey(node.page, internalEntryOffset(index), key)
}

func (node *InternalNode) getPNAt(index int64) int64 {
	return decodePN(getUint32(node.page, internalEntryOffset(index)+KEY_SIZE))
}

func (node *InternalNode) updatePNAt(index int64, pn int64) {
	putUint32(node.page, internalEntryOffset(index)+KEY_SIZE, encodePN(pn))
}

// search returns the slot of the child responsible for the given key: the
// last slot i with key_i <= key, treating slot 0's key as negative infinity.
func (node *InternalNode) search(key int64) int64 {
	firstGreater := sort.Search(
		int(node.size-1),
		func(idx int) bool {
			return node.getKeyAt(int64(idx)+1) > key
		},
	)
	return int64(firstGreater)
}

// findChildSlot returns the slot whose child page number matches, or -1.
func (node *InternalNode) findChildSlot(childPN int64) int64 {
	for i := int64(0); i < node.size; i++ {
		if node.getPNAt(i) == childPN {
			return i
		}
	}
	return -1
}

// insertAt shifts entries right and writes (key, pn) at the given slot.
// Only valid for slots >= 1.
func (node *InternalNode) insertAt(index int64, key int64, pn int64) {
	for i := node.size - 1; i >= index; i-- {
		node.updateKeyAt(i+1, node.getKeyAt(i))
		node.updatePNAt(i+1, node.getPNAt(i))
	}
	node.updateKeyAt(index, key)
	node.updatePNAt(index, pn)
	node.updateSize(node.size + 1)
}

// removeAt shifts entries left over the slot at the given index.
func (node *InternalNode) removeAt(index int64) {
	for i := index; i < node.size-1; i++ {
		node.updateKeyAt(i, node.getKeyAt(i+1))
		node.updatePNAt(i, node.getPNAt(i+1))
	}
	node.updateSize(node.size - 1)
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////// Structural helpers ///////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// minSize returns the fewest entries a non-root internal node may hold.
func (node *InternalNode) minSize() int64 {
	return (node.maxSize + 1) / 2
}

// splitInternal moves the upper entries of a full internal node into a fresh
// right sibling. The first moved key is pushed up, and its child becomes the
// sibling's leftmost pointer.
func splitInternal(node *InternalNode, sibling *InternalNode) Split {
	midpoint := node.size / 2
	promoted := node.getKeyAt(midpoint)
	for i := midpoint; i < node.size; i++ {
		sibling.updateKeyAt(sibling.size, node.getKeyAt(i))
		sibling.updatePNAt(sibling.size, node.getPNAt(i))
		sibling.updateSize(sibling.size + 1)
	}
	node.updateSize(midpoint)
	return Split{
		key:     promoted,
		rightPN: sibling.page.GetPageNum(),
	}
}

// printNode writes a string representation of the node to the specified writer.
func (node *InternalNode) printNode(w io.Writer, firstPrefix string, prefix string) {
	fmt.Fprintf(w, "%v[%v] Internal (size %d) {", firstPrefix, node.page.GetPageNum(), node.size)
	for i := int64(0); i < node.size; i++ {
		if i == 0 {
			fmt.Fprintf(w, "(·, %d), ", node.getPNAt(i))
		} else {
			fmt.Fprintf(w, "(%d, %d), ", node.getKeyAt(i), node.getPNAt(i))
		}
	}
	fmt.Fprintf(w, "}\n")
}
