package executor

import (
	"basaltdb/pkg/concurrency"
	"basaltdb/pkg/database"
)

// InsertExecutor appends its child's tuples to a heap table, mirrors them
// into every index on the table, and emits a single tuple holding the count
// of rows inserted. The table is locked IX at Init and each new row X.
type InsertExecutor struct {
	ctx       *ExecutorContext
	tableName string
	child     Executor

	table *database.Table
	done  bool
}

// NewInsertExecutor inserts the child's stream into the named table.
func NewInsertExecutor(ctx *ExecutorContext, tableName string, child Executor) *InsertExecutor {
	return &InsertExecutor{ctx: ctx, tableName: tableName, child: child}
}

func (e *InsertExecutor) Init() error {
	table, err := e.ctx.Database.GetTable(e.tableName)
	if err != nil {
		return execErr("insert", err)
	}
	e.table = table
	if err := e.ctx.lockTableIntentExclusive(table.GetID()); err != nil {
		return execErr("insert: lock table", err)
	}
	return e.child.Init()
}

func (e *InsertExecutor) Next() (*database.Tuple, bool, error) {
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
		rid, err := e.table.InsertTuple(*t)
		if err != nil {
			return nil, false, execErr("insert", err)
		}
		if txn != nil {
			if err := e.ctx.LockManager.LockRow(txn, concurrency.EXCLUSIVE, e.table.GetID(), rid); err != nil {
				return nil, false, execErr("insert: lock row", err)
			}
			txn.AppendTableWrite(concurrency.TableWriteRecord{
				WType: concurrency.INSERT_WRITE,
				Table: e.table,
				RID:   rid,
			})
		}
		for _, info := range e.ctx.Database.GetIndexes(e.tableName) {
			key := t.Values[info.KeyColumn]
			if key.Null {
				continue
			}
			if err := info.Index.Insert(key.Int, rid); err != nil {
				return nil, false, execErr("insert: index", err)
			}
			if txn != nil {
				txn.AppendIndexWrite(concurrency.IndexWriteRecord{
					WType: concurrency.INSERT_WRITE,
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
