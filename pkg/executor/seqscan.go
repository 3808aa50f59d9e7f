package executor

import (
	"basaltdb/pkg/concurrency"
	"basaltdb/pkg/database"
)

// SeqScanExecutor walks a heap table in storage order. It takes IS on the
// table at Init (unless READ_UNCOMMITTED). Under READ_COMMITTED each row is
// read under a short-lived S lock; REPEATABLE_READ relies on the table IS
// lock together with writers' X row locks.
type SeqScanExecutor struct {
	ctx       *ExecutorContext
	tableName string
	predicate func(*database.Tuple) bool // nil means all rows

	table *database.Table
	iter  *database.Iterator
}

// NewSeqScanExecutor scans the named table, filtered by an optional predicate.
func NewSeqScanExecutor(ctx *ExecutorContext, tableName string, predicate func(*database.Tuple) bool) *SeqScanExecutor {
	return &SeqScanExecutor{ctx: ctx, tableName: tableName, predicate: predicate}
}

func (e *SeqScanExecutor) Init() error {
	table, err := e.ctx.Database.GetTable(e.tableName)
	if err != nil {
		return execErr("seq scan", err)
	}
	e.table = table
	if err := e.ctx.lockTableShared(table.GetID()); err != nil {
		return execErr("seq scan: lock table", err)
	}
	e.iter = table.NewIterator()
	return nil
}

func (e *SeqScanExecutor) Next() (*database.Tuple, bool, error) {
	txn := e.ctx.Txn
	for {
		t, ok, err := e.iter.Next()
		if err != nil {
			return nil, false, execErr("seq scan", err)
		}
		if !ok {
			return nil, false, nil
		}
		if txn != nil && txn.GetIsolationLevel() == concurrency.READ_COMMITTED {
			// Read the row under a short-lived S lock, released immediately
			// after (legal while SHRINKING under READ_COMMITTED).
			if err := e.ctx.LockManager.LockRow(txn, concurrency.SHARED, e.table.GetID(), t.RID); err != nil {
				return nil, false, execErr("seq scan: lock row", err)
			}
			locked, err := e.table.GetTuple(t.RID)
			unlockErr := e.ctx.LockManager.UnlockRow(txn, e.table.GetID(), t.RID)
			if err == database.ErrTupleNotFound {
				// Deleted by a committed writer between discovery and read.
				continue
			}
			if err != nil {
				return nil, false, execErr("seq scan", err)
			}
			if unlockErr != nil {
				return nil, false, execErr("seq scan: unlock row", unlockErr)
			}
			t = locked
		}
		if e.predicate == nil || e.predicate(&t) {
			return &t, true, nil
		}
	}
}
