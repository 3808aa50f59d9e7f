// Package concurrency implements transactions, the hierarchical lock
// manager, and deadlock detection.
package concurrency

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Manager owns every transaction on a server: it hands them out, looks them
// up for the deadlock detector, and tears down their locks (and, on abort,
// their writes) when they finish.
type Manager struct {
	lockManager  *LockManager
	transactions map[int64]*Transaction
	nextID       int64
	mtx          sync.RWMutex
}

// NewManager constructs a transaction manager and starts the deadlock
// detector with the given interval.
func NewManager(detectionInterval time.Duration) *Manager {
	tm := &Manager{
		lockManager:  newLockManager(),
		transactions: make(map[int64]*Transaction),
	}
	tm.lockManager.manager = tm
	tm.lockManager.StartDetection(detectionInterval)
	return tm
}

// GetLockManager returns the lock manager shared by this manager's transactions.
func (tm *Manager) GetLockManager() *LockManager {
	return tm.lockManager
}

// Begin starts a new transaction at the given isolation level.
func (tm *Manager) Begin(level IsolationLevel) *Transaction {
	tm.mtx.Lock()
	defer tm.mtx.Unlock()
	tm.nextID++
	txn := newTransaction(tm.nextID, level)
	tm.transactions[txn.GetID()] = txn
	return txn
}

// GetTransaction looks a transaction up by its numeric id.
func (tm *Manager) GetTransaction(id int64) (*Transaction, bool) {
	tm.mtx.RLock()
	defer tm.mtx.RUnlock()
	txn, found := tm.transactions[id]
	return txn, found
}

// Commit finishes a transaction, releasing every lock it holds.
func (tm *Manager) Commit(txn *Transaction) error {
	state := txn.GetState()
	if state == COMMITTED {
		return errors.Errorf("transaction %d already committed", txn.GetID())
	}
	if state == ABORTED {
		return errors.Errorf("cannot commit aborted transaction %d", txn.GetID())
	}
	txn.SetState(COMMITTED)
	tm.lockManager.releaseAll(txn)
	return nil
}

// Abort rolls a transaction back: every heap and index write is undone in
// reverse order, then its locks are released.
func (tm *Manager) Abort(txn *Transaction) error {
	if txn.GetState() == COMMITTED {
		return errors.Errorf("cannot abort committed transaction %d", txn.GetID())
	}
	txn.SetState(ABORTED)
	var undoErr error
	txn.mtx.Lock()
	tableWrites := txn.tableWrites
	indexWrites := txn.indexWrites
	txn.tableWrites = nil
	txn.indexWrites = nil
	txn.mtx.Unlock()
	for i := len(indexWrites) - 1; i >= 0; i-- {
		record := indexWrites[i]
		var err error
		switch record.WType {
		case INSERT_WRITE:
			err = record.Index.Delete(record.Key)
		case DELETE_WRITE:
			err = record.Index.Insert(record.Key, record.RID)
		case UPDATE_WRITE:
			err = record.Index.Update(record.Key, record.RID)
		}
		if undoErr == nil {
			undoErr = err
		}
	}
	for i := len(tableWrites) - 1; i >= 0; i-- {
		record := tableWrites[i]
		var err error
		switch record.WType {
		case INSERT_WRITE:
			err = record.Table.DeleteTuple(record.RID)
		case DELETE_WRITE:
			err = record.Table.RestoreTuple(record.RID, record.Tuple)
		case UPDATE_WRITE:
			err = record.Table.UpdateTuple(record.RID, record.Tuple)
		}
		if undoErr == nil {
			undoErr = err
		}
	}
	tm.lockManager.releaseAll(txn)
	return errors.Wrap(undoErr, "abort undo")
}

// Close stops the deadlock detector.
func (tm *Manager) Close() {
	tm.lockManager.StopDetection()
}
