package concurrency

import (
	"sync"

	"basaltdb/pkg/btree"
	"basaltdb/pkg/database"
	"basaltdb/pkg/entry"

	"github.com/google/uuid"
)

// IsolationLevel controls which locks a transaction takes and when it may
// keep acquiring them.
type IsolationLevel int

const (
	READ_UNCOMMITTED IsolationLevel = iota
	READ_COMMITTED
	REPEATABLE_READ
)

func (level IsolationLevel) String() string {
	switch level {
	case READ_UNCOMMITTED:
		return "READ_UNCOMMITTED"
	case READ_COMMITTED:
		return "READ_COMMITTED"
	case REPEATABLE_READ:
		return "REPEATABLE_READ"
	}
	return "UNKNOWN"
}

// TransactionState is the two-phase locking state machine: locks are acquired
// while GROWING (READ_COMMITTED may still take S and IS locks while
// SHRINKING); the first qualifying unlock enters SHRINKING.
type TransactionState int

const (
	GROWING TransactionState = iota
	SHRINKING
	COMMITTED
	ABORTED
)

// LockMode is one of the five multigranularity lock modes.
type LockMode int

const (
	INTENTION_SHARED LockMode = iota
	INTENTION_EXCLUSIVE
	SHARED
	SHARED_INTENTION_EXCLUSIVE
	EXCLUSIVE
)

func (mode LockMode) String() string {
	switch mode {
	case INTENTION_SHARED:
		return "IS"
	case INTENTION_EXCLUSIVE:
		return "IX"
	case SHARED:
		return "S"
	case SHARED_INTENTION_EXCLUSIVE:
		return "SIX"
	case EXCLUSIVE:
		return "X"
	}
	return "?"
}

// WriteType tags entries of a transaction's write set.
type WriteType int

const (
	INSERT_WRITE WriteType = iota
	DELETE_WRITE
	UPDATE_WRITE
)

// TableWriteRecord remembers a heap mutation so it can be undone on abort.
type TableWriteRecord struct {
	WType WriteType
	Table *database.Table
	RID   entry.RID
	Tuple database.Tuple // prior image for DELETE_WRITE and UPDATE_WRITE
}

// IndexWriteRecord remembers an index mutation so it can be undone on abort.
type IndexWriteRecord struct {
	WType WriteType
	Index *btree.BTreeIndex
	Key   int64
	RID   entry.RID
}

// Transaction carries a client's two-phase locking state: its lock sets per
// mode, its write set, and where it is in the GROWING/SHRINKING lifecycle.
// The numeric id orders transactions for deadlock victim selection; the
// client id tags the session that started it.
type Transaction struct {
	id        int64
	clientId  uuid.UUID
	isolation IsolationLevel
	state     TransactionState

	// Lock bookkeeping, maintained by the lock manager under the owning
	// queue's latch.
	tableLocks map[LockMode]map[int64]bool
	rowLocks   map[LockMode]map[int64]map[entry.RID]bool

	tableWrites []TableWriteRecord
	indexWrites []IndexWriteRecord

	mtx sync.RWMutex
}

func newTransaction(id int64, level IsolationLevel) *Transaction {
	t := &Transaction{
		id:         id,
		clientId:   uuid.New(),
		isolation:  level,
		state:      GROWING,
		tableLocks: make(map[LockMode]map[int64]bool),
		rowLocks:   make(map[LockMode]map[int64]map[entry.RID]bool),
	}
	for _, mode := range []LockMode{INTENTION_SHARED, INTENTION_EXCLUSIVE, SHARED, SHARED_INTENTION_EXCLUSIVE, EXCLUSIVE} {
		t.tableLocks[mode] = make(map[int64]bool)
		t.rowLocks[mode] = make(map[int64]map[entry.RID]bool)
	}
	return t
}

// GetID returns the transaction's numeric id.
func (t *Transaction) GetID() int64 {
	return t.id
}

// GetClientID returns the uuid of the client session that began this transaction.
func (t *Transaction) GetClientID() uuid.UUID {
	return t.clientId
}

// GetIsolationLevel returns the transaction's isolation level.
func (t *Transaction) GetIsolationLevel() IsolationLevel {
	return t.isolation
}

// GetState returns the transaction's current lifecycle state.
func (t *Transaction) GetState() TransactionState {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	return t.state
}

// SetState moves the transaction to a new lifecycle state.
func (t *Transaction) SetState(state TransactionState) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.state = state
}

// HoldsTableLock reports whether the transaction holds the given mode on the table.
func (t *Transaction) HoldsTableLock(mode LockMode, tableID int64) bool {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	return t.tableLocks[mode][tableID]
}

// HoldsAnyTableLock reports whether the transaction holds any lock on the table.
func (t *Transaction) HoldsAnyTableLock(tableID int64) bool {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	for _, tables := range t.tableLocks {
		if tables[tableID] {
			return true
		}
	}
	return false
}

// HoldsRowLock reports whether the transaction holds the given mode on the row.
func (t *Transaction) HoldsRowLock(mode LockMode, tableID int64, rid entry.RID) bool {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	return t.rowLocks[mode][tableID][rid]
}

// HoldsRowLocksOnTable reports whether any row lock on the table is still held.
func (t *Transaction) HoldsRowLocksOnTable(tableID int64) bool {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	for _, tables := range t.rowLocks {
		if len(tables[tableID]) > 0 {
			return true
		}
	}
	return false
}

func (t *Transaction) addTableLock(mode LockMode, tableID int64) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.tableLocks[mode][tableID] = true
}

func (t *Transaction) removeTableLock(mode LockMode, tableID int64) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	delete(t.tableLocks[mode], tableID)
}

func (t *Transaction) addRowLock(mode LockMode, tableID int64, rid entry.RID) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	rows, found := t.rowLocks[mode][tableID]
	if !found {
		rows = make(map[entry.RID]bool)
		t.rowLocks[mode][tableID] = rows
	}
	rows[rid] = true
}

func (t *Transaction) removeRowLock(mode LockMode, tableID int64, rid entry.RID) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	delete(t.rowLocks[mode][tableID], rid)
}

// AppendTableWrite records a heap mutation in the write set.
func (t *Transaction) AppendTableWrite(record TableWriteRecord) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.tableWrites = append(t.tableWrites, record)
}

// AppendIndexWrite records an index mutation in the write set.
func (t *Transaction) AppendIndexWrite(record IndexWriteRecord) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.indexWrites = append(t.indexWrites, record)
}
