package executor

import (
	"basaltdb/pkg/database"
	"basaltdb/pkg/entry"
)

// IndexScanExecutor iterates a B+Tree index in key order and materializes
// each tuple from its heap table.
type IndexScanExecutor struct {
	ctx       *ExecutorContext
	tableName string
	indexName string

	table   *database.Table
	entries []entry.Entry
	pos     int
}

// NewIndexScanExecutor scans the named index over its whole key range.
func NewIndexScanExecutor(ctx *ExecutorContext, tableName string, indexName string) *IndexScanExecutor {
	return &IndexScanExecutor{ctx: ctx, tableName: tableName, indexName: indexName}
}

func (e *IndexScanExecutor) Init() error {
	table, err := e.ctx.Database.GetTable(e.tableName)
	if err != nil {
		return execErr("index scan", err)
	}
	e.table = table
	if err := e.ctx.lockTableShared(table.GetID()); err != nil {
		return execErr("index scan: lock table", err)
	}
	info, err := e.ctx.Database.GetIndex(e.tableName, e.indexName)
	if err != nil {
		return execErr("index scan", err)
	}
	e.entries, err = info.Index.Select()
	if err != nil {
		return execErr("index scan", err)
	}
	return nil
}

func (e *IndexScanExecutor) Next() (*database.Tuple, bool, error) {
	for e.pos < len(e.entries) {
		ent := e.entries[e.pos]
		e.pos++
		t, err := e.table.GetTuple(ent.RID)
		if err == database.ErrTupleNotFound {
			continue
		}
		if err != nil {
			return nil, false, execErr("index scan", err)
		}
		return &t, true, nil
	}
	return nil, false, nil
}
