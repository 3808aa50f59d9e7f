package concurrency

import (
	"sync"

	"basaltdb/pkg/entry"

	"github.com/pkg/errors"
)

// INVALID_TXN marks an empty upgrading slot in a lock request queue.
const INVALID_TXN int64 = -1

// LockRequest is one transaction's standing in a resource's queue.
type LockRequest struct {
	txnID   int64
	mode    LockMode
	tableID int64
	rid     entry.RID // meaningful only for row requests
	isRow   bool
	granted bool
}

// lockRequestQueue serializes lock traffic on one table or row. Requests are
// granted in FIFO order; at most one transaction may be upgrading at a time,
// and it has priority over other waiters.
type lockRequestQueue struct {
	requests  []*LockRequest
	upgrading int64 // txn currently upgrading, or INVALID_TXN
	mtx       sync.Mutex
	cond      *sync.Cond
}

func newLockRequestQueue() *lockRequestQueue {
	q := &lockRequestQueue{upgrading: INVALID_TXN}
	q.cond = sync.NewCond(&q.mtx)
	return q
}

// remove erases a request from the queue. The queue latch must be held.
func (q *lockRequestQueue) remove(req *LockRequest) {
	for i, r := range q.requests {
		if r == req {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}

// findByTxn returns the transaction's request in this queue, if any.
// The queue latch must be held.
func (q *lockRequestQueue) findByTxn(txnID int64) *LockRequest {
	for _, r := range q.requests {
		if r.txnID == txnID {
			return r
		}
	}
	return nil
}

// canGrant decides whether the request may be granted now: it must be
// compatible with every granted request, and — upgrader aside — every waiter
// ahead of it must be compatible too, preserving FIFO fairness.
// The queue latch must be held.
func (q *lockRequestQueue) canGrant(req *LockRequest) bool {
	for _, r := range q.requests {
		if r.granted && r != req && !compatible(r.mode, req.mode) {
			return false
		}
	}
	if q.upgrading != INVALID_TXN {
		return q.upgrading == req.txnID
	}
	for _, r := range q.requests {
		if r == req {
			return true
		}
		if !r.granted && !compatible(r.mode, req.mode) {
			return false
		}
	}
	return true
}

// compatible implements the standard multigranularity compatibility matrix.
func compatible(held LockMode, requested LockMode) bool {
	switch held {
	case INTENTION_SHARED:
		return requested != EXCLUSIVE
	case INTENTION_EXCLUSIVE:
		return requested == INTENTION_SHARED || requested == INTENTION_EXCLUSIVE
	case SHARED:
		return requested == INTENTION_SHARED || requested == SHARED
	case SHARED_INTENTION_EXCLUSIVE:
		return requested == INTENTION_SHARED
	case EXCLUSIVE:
		return false
	}
	return false
}

// upgradable implements the upgrade lattice: IS -> {S, X, IX, SIX},
// S -> {X, SIX}, IX -> {X, SIX}, SIX -> {X}.
func upgradable(from LockMode, to LockMode) bool {
	switch from {
	case INTENTION_SHARED:
		return to == SHARED || to == EXCLUSIVE || to == INTENTION_EXCLUSIVE || to == SHARED_INTENTION_EXCLUSIVE
	case SHARED, INTENTION_EXCLUSIVE:
		return to == EXCLUSIVE || to == SHARED_INTENTION_EXCLUSIVE
	case SHARED_INTENTION_EXCLUSIVE:
		return to == EXCLUSIVE
	}
	return false
}

// LockManager is a hierarchical lock table over tables and rows with
// two-phase locking rules, lock upgrades, and cycle-breaking deadlock
// detection.
type LockManager struct {
	tableQueues map[int64]*lockRequestQueue
	tableMtx    sync.Mutex
	rowQueues   map[entry.RID]*lockRequestQueue
	rowMtx      sync.Mutex

	manager  *Manager // back-reference for victim lookup during detection
	waitsMtx sync.Mutex
	stopCh   chan struct{}
	stopped  sync.Once
}

func newLockManager() *LockManager {
	return &LockManager{
		tableQueues: make(map[int64]*lockRequestQueue),
		rowQueues:   make(map[entry.RID]*lockRequestQueue),
		stopCh:      make(chan struct{}),
	}
}

// getTableQueue returns (creating if needed) the queue for a table.
func (lm *LockManager) getTableQueue(tableID int64, create bool) *lockRequestQueue {
	lm.tableMtx.Lock()
	defer lm.tableMtx.Unlock()
	q, found := lm.tableQueues[tableID]
	if !found && create {
		q = newLockRequestQueue()
		lm.tableQueues[tableID] = q
	}
	return q
}

// getRowQueue returns (creating if needed) the queue for a row.
func (lm *LockManager) getRowQueue(rid entry.RID, create bool) *lockRequestQueue {
	lm.rowMtx.Lock()
	defer lm.rowMtx.Unlock()
	q, found := lm.rowQueues[rid]
	if !found && create {
		q = newLockRequestQueue()
		lm.rowQueues[rid] = q
	}
	return q
}

// abortWith marks the transaction aborted and returns the typed error.
func abortWith(txn *Transaction, reason AbortReason) error {
	txn.SetState(ABORTED)
	return &TransactionAbortError{TxnID: txn.GetID(), Reason: reason}
}

// validateAcquire enforces the isolation-level policy table before a request
// ever enters a queue.
func validateAcquire(txn *Transaction, mode LockMode, isRow bool) error {
	state := txn.GetState()
	if state == COMMITTED || state == ABORTED {
		return errors.Errorf("lock acquisition on terminal transaction %d", txn.GetID())
	}
	if isRow && mode != SHARED && mode != EXCLUSIVE {
		return abortWith(txn, ATTEMPTED_INTENTION_LOCK_ON_ROW)
	}
	switch txn.GetIsolationLevel() {
	case READ_UNCOMMITTED:
		if mode == SHARED || mode == INTENTION_SHARED || mode == SHARED_INTENTION_EXCLUSIVE {
			return abortWith(txn, LOCK_SHARED_ON_READ_UNCOMMITTED)
		}
		if state == SHRINKING {
			return abortWith(txn, LOCK_ON_SHRINKING)
		}
	case READ_COMMITTED:
		if state == SHRINKING && mode != SHARED && mode != INTENTION_SHARED {
			return abortWith(txn, LOCK_ON_SHRINKING)
		}
	case REPEATABLE_READ:
		if state == SHRINKING {
			return abortWith(txn, LOCK_ON_SHRINKING)
		}
	}
	return nil
}

// LockTable acquires the given mode on a table, blocking until granted.
// Aborts the transaction (and returns the typed abort error) on any
// isolation or upgrade violation, or ErrTxnAborted if the transaction is
// chosen as a deadlock victim while waiting.
func (lm *LockManager) LockTable(txn *Transaction, mode LockMode, tableID int64) error {
	if err := validateAcquire(txn, mode, false); err != nil {
		return err
	}
	q := lm.getTableQueue(tableID, true)
	return lm.acquire(txn, q, &LockRequest{
		txnID:   txn.GetID(),
		mode:    mode,
		tableID: tableID,
	})
}

// LockRow acquires SHARED or EXCLUSIVE on a single row. The transaction must
// already hold an appropriate lock on the owning table.
func (lm *LockManager) LockRow(txn *Transaction, mode LockMode, tableID int64, rid entry.RID) error {
	if err := validateAcquire(txn, mode, true); err != nil {
		return err
	}
	if mode == EXCLUSIVE {
		if !txn.HoldsTableLock(INTENTION_EXCLUSIVE, tableID) &&
			!txn.HoldsTableLock(EXCLUSIVE, tableID) &&
			!txn.HoldsTableLock(SHARED_INTENTION_EXCLUSIVE, tableID) {
			return abortWith(txn, TABLE_LOCK_NOT_PRESENT)
		}
	} else if !txn.HoldsAnyTableLock(tableID) {
		return abortWith(txn, TABLE_LOCK_NOT_PRESENT)
	}
	q := lm.getRowQueue(rid, true)
	return lm.acquire(txn, q, &LockRequest{
		txnID:   txn.GetID(),
		mode:    mode,
		tableID: tableID,
		rid:     rid,
		isRow:   true,
	})
}

// acquire runs the shared grant protocol: dedupe/upgrade handling, FIFO
// waiting on the queue's condition variable, and bookkeeping on grant.
func (lm *LockManager) acquire(txn *Transaction, q *lockRequestQueue, req *LockRequest) error {
	q.mtx.Lock()
	existing := q.findByTxn(req.txnID)
	if existing != nil {
		if existing.mode == req.mode {
			q.mtx.Unlock()
			return nil
		}
		if q.upgrading != INVALID_TXN {
			q.mtx.Unlock()
			return abortWith(txn, UPGRADE_CONFLICT)
		}
		if !upgradable(existing.mode, req.mode) {
			q.mtx.Unlock()
			return abortWith(txn, INCOMPATIBLE_UPGRADE)
		}
		// Upgrade: drop the old lock and re-enter the queue at the tail with
		// priority over other waiters.
		q.upgrading = req.txnID
		lm.removeBookkeeping(txn, existing)
		q.remove(existing)
	}
	q.requests = append(q.requests, req)
	for {
		if txn.GetState() == ABORTED {
			// Chosen as a deadlock victim (or aborted by a parallel call)
			// while waiting.
			if q.upgrading == req.txnID {
				q.upgrading = INVALID_TXN
			}
			q.remove(req)
			q.cond.Broadcast()
			q.mtx.Unlock()
			return ErrTxnAborted
		}
		if q.canGrant(req) {
			break
		}
		q.cond.Wait()
	}
	req.granted = true
	if q.upgrading == req.txnID {
		q.upgrading = INVALID_TXN
	}
	lm.addBookkeeping(txn, req)
	q.cond.Broadcast()
	q.mtx.Unlock()
	return nil
}

func (lm *LockManager) addBookkeeping(txn *Transaction, req *LockRequest) {
	if req.isRow {
		txn.addRowLock(req.mode, req.tableID, req.rid)
	} else {
		txn.addTableLock(req.mode, req.tableID)
	}
}

func (lm *LockManager) removeBookkeeping(txn *Transaction, req *LockRequest) {
	if req.isRow {
		txn.removeRowLock(req.mode, req.tableID, req.rid)
	} else {
		txn.removeTableLock(req.mode, req.tableID)
	}
}

// shrinkOnUnlock applies the unlock column of the isolation policy table.
func shrinkOnUnlock(txn *Transaction, mode LockMode) {
	if txn.GetState() != GROWING {
		return
	}
	switch txn.GetIsolationLevel() {
	case REPEATABLE_READ:
		if mode == SHARED || mode == EXCLUSIVE {
			txn.SetState(SHRINKING)
		}
	case READ_COMMITTED, READ_UNCOMMITTED:
		if mode == EXCLUSIVE {
			txn.SetState(SHRINKING)
		}
	}
}

// UnlockTable releases the transaction's lock on a table. All of the
// transaction's row locks on that table must already be released.
func (lm *LockManager) UnlockTable(txn *Transaction, tableID int64) error {
	q := lm.getTableQueue(tableID, false)
	if q == nil {
		return abortWith(txn, ATTEMPTED_UNLOCK_BUT_NO_LOCK_HELD)
	}
	q.mtx.Lock()
	req := q.findByTxn(txn.GetID())
	if req == nil || !req.granted {
		q.mtx.Unlock()
		return abortWith(txn, ATTEMPTED_UNLOCK_BUT_NO_LOCK_HELD)
	}
	if txn.HoldsRowLocksOnTable(tableID) {
		q.mtx.Unlock()
		return abortWith(txn, TABLE_UNLOCKED_BEFORE_UNLOCKING_ROWS)
	}
	shrinkOnUnlock(txn, req.mode)
	lm.removeBookkeeping(txn, req)
	q.remove(req)
	q.cond.Broadcast()
	q.mtx.Unlock()
	return nil
}

// UnlockRow releases the transaction's lock on a row.
func (lm *LockManager) UnlockRow(txn *Transaction, tableID int64, rid entry.RID) error {
	q := lm.getRowQueue(rid, false)
	if q == nil {
		return abortWith(txn, ATTEMPTED_UNLOCK_BUT_NO_LOCK_HELD)
	}
	q.mtx.Lock()
	req := q.findByTxn(txn.GetID())
	if req == nil || !req.granted {
		q.mtx.Unlock()
		return abortWith(txn, ATTEMPTED_UNLOCK_BUT_NO_LOCK_HELD)
	}
	shrinkOnUnlock(txn, req.mode)
	lm.removeBookkeeping(txn, req)
	q.remove(req)
	q.cond.Broadcast()
	q.mtx.Unlock()
	return nil
}

// releaseAll drops every lock the transaction still holds, rows before
// tables, without touching the two-phase state machine. Used by commit and
// abort.
func (lm *LockManager) releaseAll(txn *Transaction) {
	txn.mtx.Lock()
	type rowRef struct {
		tableID int64
		rid     entry.RID
	}
	var rows []rowRef
	var tables []int64
	for _, byTable := range txn.rowLocks {
		for tableID, rids := range byTable {
			for rid := range rids {
				rows = append(rows, rowRef{tableID: tableID, rid: rid})
			}
		}
	}
	for _, tableIDs := range txn.tableLocks {
		for tableID := range tableIDs {
			tables = append(tables, tableID)
		}
	}
	txn.mtx.Unlock()
	for _, row := range rows {
		lm.release(lm.getRowQueue(row.rid, false), txn)
	}
	for _, tableID := range tables {
		lm.release(lm.getTableQueue(tableID, false), txn)
	}
}

// release drops the transaction's request from a queue, if present.
func (lm *LockManager) release(q *lockRequestQueue, txn *Transaction) {
	if q == nil {
		return
	}
	q.mtx.Lock()
	if req := q.findByTxn(txn.GetID()); req != nil {
		if q.upgrading == req.txnID {
			q.upgrading = INVALID_TXN
		}
		lm.removeBookkeeping(txn, req)
		q.remove(req)
		q.cond.Broadcast()
	}
	q.mtx.Unlock()
}
