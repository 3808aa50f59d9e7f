package btree

import (
	"basaltdb/pkg/entry"
	"basaltdb/pkg/pager"
)

// INVALID_PN marks "no page": an empty tree's root, a rightmost leaf's next
// pointer, or a root's parent.
const INVALID_PN int64 = -1

// Node header constants. Every node starts with
// page_type (4) | lsn (4) | size (4) | max_size (4) | parent_page_id (4) | page_id (4),
// and leaf nodes add next_page_id (4). All fields little-endian.
const (
	PAGE_TYPE_OFFSET int64 = 0
	LSN_OFFSET       int64 = 4
	SIZE_OFFSET      int64 = 8
	MAX_SIZE_OFFSET  int64 = 12
	PARENT_PN_OFFSET int64 = 16
	PAGE_PN_OFFSET   int64 = 20
	NODE_HEADER_SIZE int64 = 24

	NEXT_PN_OFFSET   int64 = 24
	LEAF_HEADER_SIZE int64 = 28
)

// Entry constants. Leaf entries are an 8 byte key plus an 8 byte record id;
// internal entries are an 8 byte key plus a 4 byte child page number, with
// slot 0's key unused (the leftmost pointer).
const (
	KEY_SIZE            int64 = 8
	LEAF_ENTRY_SIZE     int64 = entry.EntrySize
	INTERNAL_ENTRY_SIZE int64 = KEY_SIZE + 4

	ENTRIES_PER_LEAF_NODE     int64 = (pager.Pagesize - LEAF_HEADER_SIZE) / LEAF_ENTRY_SIZE
	ENTRIES_PER_INTERNAL_NODE int64 = (pager.Pagesize - NODE_HEADER_SIZE) / INTERNAL_ENTRY_SIZE
)

// Header page constants. Page 0 of the db file maps index names to root page
// numbers: a record count followed by fixed-width records.
const (
	HEADER_PN           int64 = 0
	HEADER_COUNT_OFFSET int64 = 0
	HEADER_RECORDS_OFF  int64 = 8
	HEADER_NAME_SIZE    int64 = 28
	HEADER_RECORD_SIZE  int64 = HEADER_NAME_SIZE + 4
	MAX_HEADER_RECORDS  int64 = (pager.Pagesize - HEADER_RECORDS_OFF) / HEADER_RECORD_SIZE
)
