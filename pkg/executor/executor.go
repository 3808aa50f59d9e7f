// Package executor implements the iterator-pipeline query executors that sit
// on top of the storage and transaction layers. Executors acquire the locks
// their isolation level requires and keep every index in sync with the heap.
package executor

import (
	"fmt"

	"basaltdb/pkg/concurrency"
	"basaltdb/pkg/database"
)

// Executor produces a finite stream of tuples: Init once, then Next until
// ok is false.
type Executor interface {
	Init() error
	Next() (*database.Tuple, bool, error)
}

// ExecutorContext carries the per-query collaborators through the executor
// tree, in place of process-wide singletons.
type ExecutorContext struct {
	Database    *database.Database
	TxnManager  *concurrency.Manager
	LockManager *concurrency.LockManager
	Txn         *concurrency.Transaction // nil outside a transaction
}

// NewExecutorContext bundles a database and transaction for one query.
func NewExecutorContext(db *database.Database, txnMgr *concurrency.Manager, txn *concurrency.Transaction) *ExecutorContext {
	ctx := &ExecutorContext{Database: db, TxnManager: txnMgr, Txn: txn}
	if txnMgr != nil {
		ctx.LockManager = txnMgr.GetLockManager()
	}
	return ctx
}

// ExecutionError wraps lock and storage failures crossing the executor
// boundary without losing the underlying reason.
type ExecutionError struct {
	Op  string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func execErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ExecutionError{Op: op, Err: err}
}

// lockTableShared takes IS on a table for a reading executor, unless the
// isolation level forbids shared locks or the transaction already holds a
// table lock (re-locking would be an illegal downgrade).
func (ctx *ExecutorContext) lockTableShared(tableID int64) error {
	if ctx.Txn == nil {
		return nil
	}
	if ctx.Txn.GetIsolationLevel() == concurrency.READ_UNCOMMITTED {
		return nil
	}
	if ctx.Txn.HoldsAnyTableLock(tableID) {
		return nil
	}
	return ctx.LockManager.LockTable(ctx.Txn, concurrency.INTENTION_SHARED, tableID)
}

// lockTableIntentExclusive takes IX on a table for a writing executor,
// unless the transaction already holds a write-capable table lock.
func (ctx *ExecutorContext) lockTableIntentExclusive(tableID int64) error {
	if ctx.Txn == nil {
		return nil
	}
	if ctx.Txn.HoldsTableLock(concurrency.INTENTION_EXCLUSIVE, tableID) ||
		ctx.Txn.HoldsTableLock(concurrency.EXCLUSIVE, tableID) ||
		ctx.Txn.HoldsTableLock(concurrency.SHARED_INTENTION_EXCLUSIVE, tableID) {
		return nil
	}
	return ctx.LockManager.LockTable(ctx.Txn, concurrency.INTENTION_EXCLUSIVE, tableID)
}
