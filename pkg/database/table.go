package database

import (
	"sync"

	"basaltdb/pkg/entry"
	"basaltdb/pkg/pager"

	"github.com/pkg/errors"
)

// ErrTupleNotFound is returned when a record id addresses no live tuple.
var ErrTupleNotFound = errors.New("no tuple at that record id")

// Table is a heap of fixed-width tuple slots spread over pager pages. Each
// slot is a one byte occupancy flag followed by the tuple's values; the
// first bytes of every heap page are reserved.
type Table struct {
	name   string
	id     int64
	schema Schema
	pgr    *pager.Pager

	pageNums []int64 // heap pages owned by this table, in allocation order
	mtx      sync.Mutex
}

const heapPageHeaderSize int64 = 8

func newTable(name string, id int64, schema Schema, pgr *pager.Pager) *Table {
	return &Table{name: name, id: id, schema: schema, pgr: pgr}
}

// GetName returns the table's name.
func (table *Table) GetName() string {
	return table.name
}

// GetID returns the table's id, the unit the lock manager locks at.
func (table *Table) GetID() int64 {
	return table.id
}

// GetSchema returns the table's schema.
func (table *Table) GetSchema() Schema {
	return table.schema
}

// slotSize returns the on-page width of one tuple slot.
func (table *Table) slotSize() int64 {
	return 1 + table.schema.NumColumns()*ValueSize
}

// slotsPerPage returns how many tuple slots fit on one heap page.
func (table *Table) slotsPerPage() int64 {
	return (pager.Pagesize - heapPageHeaderSize) / table.slotSize()
}

func (table *Table) slotOffset(slot int64) int64 {
	return heapPageHeaderSize + slot*table.slotSize()
}

// writeSlot marshals the tuple into the given slot and marks it occupied.
// The page must be write-locked.
func (table *Table) writeSlot(page *pager.Page, slot int64, t Tuple) {
	buf := make([]byte, table.slotSize())
	buf[0] = 1
	for i := int64(0); i < table.schema.NumColumns(); i++ {
		v := Value{Null: true}
		if i < int64(len(t.Values)) {
			v = t.Values[i]
		}
		v.marshal(buf[1+i*ValueSize : 1+(i+1)*ValueSize])
	}
	page.Update(buf, table.slotOffset(slot), table.slotSize())
}

// readSlot unmarshals the tuple in the given slot, reporting whether the
// slot is occupied. The page must be at least read-locked.
func (table *Table) readSlot(page *pager.Page, slot int64) (Tuple, bool) {
	data := page.GetData()[table.slotOffset(slot):]
	if data[0] != 1 {
		return Tuple{}, false
	}
	t := Tuple{Values: make([]Value, table.schema.NumColumns())}
	for i := int64(0); i < table.schema.NumColumns(); i++ {
		t.Values[i] = unmarshalValue(data[1+i*ValueSize : 1+(i+1)*ValueSize])
	}
	return t, true
}

// InsertTuple appends a tuple to the heap, growing it by a page when no free
// slot exists, and returns the tuple's record id.
func (table *Table) InsertTuple(t Tuple) (entry.RID, error) {
	if int64(len(t.Values)) != table.schema.NumColumns() {
		return entry.RID{}, errors.Errorf("tuple has %d values, schema has %d columns", len(t.Values), table.schema.NumColumns())
	}
	table.mtx.Lock()
	defer table.mtx.Unlock()
	// Look for a free slot, newest page first.
	for i := len(table.pageNums) - 1; i >= 0; i-- {
		pn := table.pageNums[i]
		page, err := table.pgr.GetPage(pn)
		if err != nil {
			return entry.RID{}, err
		}
		page.WLock()
		for slot := int64(0); slot < table.slotsPerPage(); slot++ {
			if _, occupied := table.readSlot(page, slot); !occupied {
				table.writeSlot(page, slot, t)
				page.WUnlock()
				table.pgr.PutPage(page)
				return entry.NewRID(pn, slot), nil
			}
		}
		page.WUnlock()
		table.pgr.PutPage(page)
	}
	page, err := table.pgr.GetNewPage()
	if err != nil {
		return entry.RID{}, err
	}
	page.WLock()
	table.pageNums = append(table.pageNums, page.GetPageNum())
	table.writeSlot(page, 0, t)
	rid := entry.NewRID(page.GetPageNum(), 0)
	page.WUnlock()
	table.pgr.PutPage(page)
	return rid, nil
}

// checkRID validates that a record id addresses a slot this table owns.
func (table *Table) checkRID(rid entry.RID) error {
	if rid.SlotNum < 0 || rid.SlotNum >= table.slotsPerPage() {
		return errors.Errorf("invalid slot %d", rid.SlotNum)
	}
	table.mtx.Lock()
	defer table.mtx.Unlock()
	for _, pn := range table.pageNums {
		if pn == rid.PageNum {
			return nil
		}
	}
	return errors.Errorf("page %d does not belong to table %s", rid.PageNum, table.name)
}

// GetTuple reads the live tuple at the given record id.
func (table *Table) GetTuple(rid entry.RID) (Tuple, error) {
	if err := table.checkRID(rid); err != nil {
		return Tuple{}, err
	}
	page, err := table.pgr.GetPage(rid.PageNum)
	if err != nil {
		return Tuple{}, err
	}
	defer table.pgr.PutPage(page)
	page.RLock()
	defer page.RUnlock()
	t, occupied := table.readSlot(page, rid.SlotNum)
	if !occupied {
		return Tuple{}, ErrTupleNotFound
	}
	t.RID = rid
	return t, nil
}

// UpdateTuple overwrites the live tuple at the given record id in place.
func (table *Table) UpdateTuple(rid entry.RID, t Tuple) error {
	if err := table.checkRID(rid); err != nil {
		return err
	}
	page, err := table.pgr.GetPage(rid.PageNum)
	if err != nil {
		return err
	}
	defer table.pgr.PutPage(page)
	page.WLock()
	defer page.WUnlock()
	if _, occupied := table.readSlot(page, rid.SlotNum); !occupied {
		return ErrTupleNotFound
	}
	table.writeSlot(page, rid.SlotNum, t)
	return nil
}

// DeleteTuple clears the slot at the given record id. Deleting an empty slot
// is a no-op.
func (table *Table) DeleteTuple(rid entry.RID) error {
	if err := table.checkRID(rid); err != nil {
		return err
	}
	page, err := table.pgr.GetPage(rid.PageNum)
	if err != nil {
		return err
	}
	defer table.pgr.PutPage(page)
	page.WLock()
	defer page.WUnlock()
	page.Update([]byte{0}, table.slotOffset(rid.SlotNum), 1)
	return nil
}

// RestoreTuple rewrites a tuple into its old slot, resurrecting it if it was
// deleted. Used by transaction rollback.
func (table *Table) RestoreTuple(rid entry.RID, t Tuple) error {
	if err := table.checkRID(rid); err != nil {
		return err
	}
	page, err := table.pgr.GetPage(rid.PageNum)
	if err != nil {
		return err
	}
	defer table.pgr.PutPage(page)
	page.WLock()
	defer page.WUnlock()
	table.writeSlot(page, rid.SlotNum, t)
	return nil
}

// Iterator walks a table's live tuples in heap order.
type Iterator struct {
	table   *Table
	pageIdx int
	slot    int64
}

// NewIterator returns an iterator positioned before the table's first tuple.
func (table *Table) NewIterator() *Iterator {
	return &Iterator{table: table, pageIdx: 0, slot: -1}
}

// Next advances to the next live tuple, returning ok=false when the heap is
// exhausted.
func (it *Iterator) Next() (Tuple, bool, error) {
	table := it.table
	table.mtx.Lock()
	pageNums := make([]int64, len(table.pageNums))
	copy(pageNums, table.pageNums)
	table.mtx.Unlock()
	for ; it.pageIdx < len(pageNums); it.pageIdx++ {
		pn := pageNums[it.pageIdx]
		page, err := table.pgr.GetPage(pn)
		if err != nil {
			return Tuple{}, false, err
		}
		page.RLock()
		for it.slot++; it.slot < table.slotsPerPage(); it.slot++ {
			if t, occupied := table.readSlot(page, it.slot); occupied {
				t.RID = entry.NewRID(pn, it.slot)
				page.RUnlock()
				table.pgr.PutPage(page)
				return t, true, nil
			}
		}
		page.RUnlock()
		table.pgr.PutPage(page)
		it.slot = -1
	}
	return Tuple{}, false, nil
}
