package btree

import (
	"encoding/binary"

	"basaltdb/pkg/pager"
)

/////////////////////////////////////////////////////////////////////////////
///////////////////////// Structs and helpers ///////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// NodeType identifies if a node is a leaf node or an internal node.
type NodeType uint32

const (
	INVALID_NODE  NodeType = 0
	INTERNAL_NODE NodeType = 1
	LEAF_NODE     NodeType = 2
)

// NodeHeaders contain metadata common to all types of nodes.
type NodeHeader struct {
	nodeType NodeType
	size     int64 // The number of entries currently stored in the node.
	maxSize  int64 // The fan-out this node splits at.
	parentPN int64 // The parent's page number, or INVALID_PN for the root.
	page     *pager.Page
}

// Split is a supporting data structure to propagate information
// needed to implement splits up our B+tree after inserts.
type Split struct {
	key     int64 // The separator key that is being pushed up.
	rightPN int64 // The pagenumber for the new right sibling.
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////// Field codec ////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Page numbers are 4 bytes on disk; INVALID_PN round-trips through the
// int32 cast.
func encodePN(pn int64) uint32 {
	return uint32(int32(pn))
}

func decodePN(v uint32) int64 {
	return int64(int32(v))
}

func putUint32(page *pager.Page, offset int64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	page.Update(buf[:], offset, 4)
}

func getUint32(page *pager.Page, offset int64) uint32 {
	return binary.LittleEndian.Uint32(page.GetData()[offset : offset+4])
}

func putKey(page *pager.Page, offset int64, key int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(key))
	page.Update(buf[:], offset, 8)
}

func getKey(page *pager.Page, offset int64) int64 {
	return int64(binary.LittleEndian.Uint64(page.GetData()[offset : offset+8]))
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////// Generic node functions /////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// initPage stamps a fresh node header onto the page.
// Concurrency note: the page must not be reachable by other threads yet.
func initPage(page *pager.Page, nodeType NodeType, maxSize int64, parentPN int64) {
	putUint32(page, PAGE_TYPE_OFFSET, uint32(nodeType))
	putUint32(page, LSN_OFFSET, 0)
	putUint32(page, SIZE_OFFSET, 0)
	putUint32(page, MAX_SIZE_OFFSET, uint32(maxSize))
	putUint32(page, PARENT_PN_OFFSET, encodePN(parentPN))
	putUint32(page, PAGE_PN_OFFSET, encodePN(page.GetPageNum()))
	if nodeType == LEAF_NODE {
		putUint32(page, NEXT_PN_OFFSET, encodePN(INVALID_PN))
	}
}

// nodeTypeOf peeks at a page's type tag. The tag is written once when the
// node is initialized and is stable for as long as a latch is held anywhere
// on the node's parent or on the node itself.
func nodeTypeOf(page *pager.Page) NodeType {
	return NodeType(getUint32(page, PAGE_TYPE_OFFSET))
}

// pageToNodeHeader returns node header data from the given page.
// Concurrency note: the given page must at least be read-locked before calling.
func pageToNodeHeader(page *pager.Page) NodeHeader {
	return NodeHeader{
		nodeType: nodeTypeOf(page),
		size:     int64(getUint32(page, SIZE_OFFSET)),
		maxSize:  int64(getUint32(page, MAX_SIZE_OFFSET)),
		parentPN: decodePN(getUint32(page, PARENT_PN_OFFSET)),
		page:     page,
	}
}

// pageToLeafNode returns the leaf node corresponding to the given page.
// Concurrency note: the given page must at least be read-locked before calling.
func pageToLeafNode(page *pager.Page) *LeafNode {
	return &LeafNode{NodeHeader: pageToNodeHeader(page)}
}

// pageToInternalNode returns the internal node corresponding to the given page.
// Concurrency note: the given page must at least be read-locked before calling.
func pageToInternalNode(page *pager.Page) *InternalNode {
	return &InternalNode{NodeHeader: pageToNodeHeader(page)}
}

// Shared header mutators. All writes go through the page so the dirty flag
// is maintained.

func (header *NodeHeader) getPage() *pager.Page {
	return header.page
}

func (header *NodeHeader) updateSize(size int64) {
	header.size = size
	putUint32(header.page, SIZE_OFFSET, uint32(size))
}

func (header *NodeHeader) updateParent(parentPN int64) {
	header.parentPN = parentPN
	putUint32(header.page, PARENT_PN_OFFSET, encodePN(parentPN))
}

// setParentPN rewrites the parent pointer of an arbitrary child page without
// materializing a node for it.
func setParentPN(page *pager.Page, parentPN int64) {
	putUint32(page, PARENT_PN_OFFSET, encodePN(parentPN))
}
