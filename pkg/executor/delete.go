package executor

import (
	"basaltdb/pkg/concurrency"
	"basaltdb/pkg/database"
)

// DeleteExecutor removes the rows its child produces from the heap and from
// every index on the table. Emits a single count tuple.
type DeleteExecutor struct {
	ctx       *ExecutorContext
	tableName string
	child     Executor

	table *database.Table
	done  bool
}

// NewDeleteExecutor deletes every tuple the child yields.
func NewDeleteExecutor(ctx *ExecutorContext, tableName string, child Executor) *DeleteExecutor {
	return &DeleteExecutor{ctx: ctx, tableName: tableName, child: child}
}

func (e *DeleteExecutor) Init() error {
	table, err := e.ctx.Database.GetTable(e.tableName)
	if err != nil {
		return execErr("delete", err)
	}
	e.table = table
	if err := e.ctx.lockTableIntentExclusive(table.GetID()); err != nil {
		return execErr("delete: lock table", err)
	}
	return e.child.Init()
}

func (e *DeleteExecutor) Next() (*database.Tuple, bool, error) {
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
				return nil, false, execErr("delete: lock row", err)
			}
		}
		old, err := e.table.GetTuple(rid)
		if err == database.ErrTupleNotFound {
			continue
		}
		if err != nil {
			return nil, false, execErr("delete", err)
		}
		if err := e.table.DeleteTuple(rid); err != nil {
			return nil, false, execErr("delete", err)
		}
		if txn != nil {
			txn.AppendTableWrite(concurrency.TableWriteRecord{
				WType: concurrency.DELETE_WRITE,
				Table: e.table,
				RID:   rid,
				Tuple: old,
			})
		}
		for _, info := range e.ctx.Database.GetIndexes(e.tableName) {
			key := old.Values[info.KeyColumn]
			if key.Null {
				continue
			}
			if err := info.Index.Delete(key.Int); err != nil {
				return nil, false, execErr("delete: index", err)
			}
			if txn != nil {
				txn.AppendIndexWrite(concurrency.IndexWriteRecord{
					WType: concurrency.DELETE_WRITE,
					Index: info.Index,
					Key:   key.Int,
					RID:   rid,
				})
			}
		}
		count++
	}
	result := database.NewTuple(count)
	return &result, true, nil
}
