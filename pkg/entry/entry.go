// Package entry defines the key / record-id pairs stored in indexes and the
// record ids used to address tuples in heap tables.
package entry

import (
	"encoding/binary"
	"fmt"
	"io"
)

// RID uniquely identifies a tuple slot in a heap table.
type RID struct {
	PageNum int64 // The page the tuple lives on.
	SlotNum int64 // The slot within that page.
}

// Size in bytes of a marshalled RID: a 4 byte page number and a 4 byte slot.
const RIDSize int64 = 8

// NewRID constructs a RID from a page number and slot number.
func NewRID(pagenum int64, slot int64) RID {
	return RID{PageNum: pagenum, SlotNum: slot}
}

// Marshal serializes the RID into the first RIDSize bytes of buf.
func (rid RID) Marshal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(rid.PageNum)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(int32(rid.SlotNum)))
}

// UnmarshalRID deserializes a RID from the first RIDSize bytes of buf.
func UnmarshalRID(buf []byte) RID {
	return RID{
		PageNum: int64(int32(binary.LittleEndian.Uint32(buf[0:4]))),
		SlotNum: int64(int32(binary.LittleEndian.Uint32(buf[4:8]))),
	}
}

// Entry is a key / record-id pair stored in a leaf node of an index.
type Entry struct {
	Key int64
	RID RID
}

// Size in bytes of a marshalled entry: an 8 byte key followed by a RID.
const EntrySize int64 = 8 + RIDSize

// New constructs and returns a new Entry with the specified key and record id.
func New(key int64, rid RID) Entry {
	return Entry{Key: key, RID: rid}
}

// Marshal serializes the entry into the first EntrySize bytes of buf.
func (entry Entry) Marshal(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(entry.Key))
	entry.RID.Marshal(buf[8:16])
}

// UnmarshalEntry deserializes an entry from the first EntrySize bytes of buf.
func UnmarshalEntry(buf []byte) Entry {
	return Entry{
		Key: int64(binary.LittleEndian.Uint64(buf[0:8])),
		RID: UnmarshalRID(buf[8:16]),
	}
}

// Print writes the entry to the specified writer in the following format: (<key>, (<page>, <slot>))
func (entry Entry) Print(w io.Writer) {
	fmt.Fprintf(w, "(%d, (%d, %d)), ", entry.Key, entry.RID.PageNum, entry.RID.SlotNum)
}
