package executor

import (
	"basaltdb/pkg/concurrency"
	"basaltdb/pkg/database"
)

// UpdateExecutor rewrites the rows its child produces (the child must scan
// the target table, so tuples carry real record ids). Every index entry for
// a touched row is maintained delete-then-insert. Emits a single count tuple.
type UpdateExecutor struct {
	ctx       *ExecutorContext
	tableName string
	child     Executor
	set       func(database.Tuple) database.Tuple

	table *database.Table
	done  bool
}

// NewUpdateExecutor applies set to every tuple the child yields.
func NewUpdateExecutor(ctx *ExecutorContext, tableName string, child Executor, set func(database.Tuple) database.Tuple) *UpdateExecutor {
	return &UpdateExecutor{ctx: ctx, tableName: tableName, child: child, set: set}
}

func (e *UpdateExecutor) Init() error {
	table, err := e.ctx.Database.GetTable(e.tableName)
	if err != nil {
		return execErr("update", err)
	}
	e.table = table
	if err := e.ctx.lockTableIntentExclusive(table.GetID()); err != nil {
		return execErr("update: lock table", err)
	}
	return e.child.Init()
}

func (e *UpdateExecutor) Next() (*database.Tuple, bool, error) {
	if e.done {
		return nil, false, nil
	}
	e.done = true
	txn := e.ctx.Txn
	count := int64(0)
	for {
		t, ok, err := e.child.Next()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			break
		}
		rid := t.RID
		if txn != nil {
			if err := e.ctx.LockManager.LockRow(txn, concurrency.EXCLUSIVE, e.table.GetID(), rid); err != nil {
				return nil, false, execErr("update: lock row", err)
			}
		}
		old, err := e.table.GetTuple(rid)
		if err == database.ErrTupleNotFound {
			continue
		}
		if err != nil {
			return nil, false, execErr("update", err)
		}
		updated := e.set(old)
		updated.RID = rid
		if err := e.table.UpdateTuple(rid, updated); err != nil {
			return nil, false, execErr("update", err)
		}
		if txn != nil {
			txn.AppendTableWrite(concurrency.TableWriteRecord{
				WType: concurrency.UPDATE_WRITE,
				Table: e.table,
				RID:   rid,
				Tuple: old,
			})
		}
		for _, info := range e.ctx.Database.GetIndexes(e.tableName) {
			oldKey := old.Values[info.KeyColumn]
			newKey := updated.Values[info.KeyColumn]
			if !oldKey.Null {
				if err := info.Index.Delete(oldKey.Int); err != nil {
					return nil, false, execErr("update: index", err)
				}
				if txn != nil {
					txn.AppendIndexWrite(concurrency.IndexWriteRecord{
						WType: concurrency.DELETE_WRITE,
						Index: info.Index,
						Key:   oldKey.Int,
						RID:   rid,
					})
				}
			}
			if !newKey.Null {
				if err := info.Index.Insert(newKey.Int, rid); err != nil {
					return nil, false, execErr("update: index", err)
				}
				if txn != nil {
					txn.AppendIndexWrite(concurrency.IndexWriteRecord{
						WType: concurrency.INSERT_WRITE,
						Index: info.Index,
						Key:   newKey.Int,
						RID:   rid,
					})
				}
			}
		}
		count++
	}
	result := database.NewTuple(count)
	return &result, true, nil
}
