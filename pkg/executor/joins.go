package executor

import (
	"basaltdb/pkg/btree"
	"basaltdb/pkg/database"
)

// JoinType selects INNER or LEFT join semantics. LEFT emits a null-padded
// tuple for any left row with no match.
type JoinType int

const (
	INNER_JOIN JoinType = iota
	LEFT_JOIN
)

// joinTuples concatenates a left and right tuple.
func joinTuples(left *database.Tuple, right *database.Tuple) *database.Tuple {
	out := &database.Tuple{Values: make([]database.Value, 0, len(left.Values)+len(right.Values))}
	out.Values = append(out.Values, left.Values...)
	out.Values = append(out.Values, right.Values...)
	return out
}

// nullPad concatenates a left tuple with a row of NULLs of the given width.
func nullPad(left *database.Tuple, width int64) *database.Tuple {
	out := &database.Tuple{Values: make([]database.Value, 0, int64(len(left.Values))+width)}
	out.Values = append(out.Values, left.Values...)
	for i := int64(0); i < width; i++ {
		out.Values = append(out.Values, database.NullValue())
	}
	return out
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////// Nested loop join ///////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// NestedLoopJoinExecutor joins by testing every (left, right) pair against a
// predicate. The right side is materialized at Init.
type NestedLoopJoinExecutor struct {
	left       Executor
	right      Executor
	predicate  func(l *database.Tuple, r *database.Tuple) bool
	joinType   JoinType
	rightWidth int64 // null-pad width for LEFT joins

	rightTuples []database.Tuple
	curLeft     *database.Tuple
	rightPos    int
	matched     bool
}

// NewNestedLoopJoinExecutor joins left against right with the given
// predicate. rightWidth is the right side's column count, used to pad LEFT
// join misses.
func NewNestedLoopJoinExecutor(left Executor, right Executor, predicate func(l, r *database.Tuple) bool, joinType JoinType, rightWidth int64) *NestedLoopJoinExecutor {
	return &NestedLoopJoinExecutor{left: left, right: right, predicate: predicate, joinType: joinType, rightWidth: rightWidth}
}

func (e *NestedLoopJoinExecutor) Init() error {
	if err := e.left.Init(); err != nil {
		return err
	}
	if err := e.right.Init(); err != nil {
		return err
	}
	e.rightTuples = nil
	for {
		t, ok, err := e.right.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		e.rightTuples = append(e.rightTuples, *t)
	}
}

func (e *NestedLoopJoinExecutor) Next() (*database.Tuple, bool, error) {
	for {
		if e.curLeft == nil {
			t, ok, err := e.left.Next()
			if err != nil || !ok {
				return nil, false, err
			}
			e.curLeft = t
			e.rightPos = 0
			e.matched = false
		}
		for e.rightPos < len(e.rightTuples) {
			right := &e.rightTuples[e.rightPos]
			e.rightPos++
			if e.predicate == nil || e.predicate(e.curLeft, right) {
				e.matched = true
				return joinTuples(e.curLeft, right), true, nil
			}
		}
		left := e.curLeft
		e.curLeft = nil
		if e.joinType == LEFT_JOIN && !e.matched {
			return nullPad(left, e.rightWidth), true, nil
		}
	}
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////// Nested index join //////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// NestedIndexJoinExecutor joins by probing an inner table's B+Tree index
// with each left row's key.
type NestedIndexJoinExecutor struct {
	ctx        *ExecutorContext
	left       Executor
	tableName  string
	indexName  string
	leftKeyCol int64
	joinType   JoinType

	table *database.Table
	index *database.IndexInfo
}

// NewNestedIndexJoinExecutor probes the named index with the left child's
// key column.
func NewNestedIndexJoinExecutor(ctx *ExecutorContext, left Executor, tableName string, indexName string, leftKeyCol int64, joinType JoinType) *NestedIndexJoinExecutor {
	return &NestedIndexJoinExecutor{ctx: ctx, left: left, tableName: tableName, indexName: indexName, leftKeyCol: leftKeyCol, joinType: joinType}
}

func (e *NestedIndexJoinExecutor) Init() error {
	table, err := e.ctx.Database.GetTable(e.tableName)
	if err != nil {
		return execErr("index join", err)
	}
	e.table = table
	if err := e.ctx.lockTableShared(table.GetID()); err != nil {
		return execErr("index join: lock table", err)
	}
	e.index, err = e.ctx.Database.GetIndex(e.tableName, e.indexName)
	if err != nil {
		return execErr("index join", err)
	}
	return e.left.Init()
}

func (e *NestedIndexJoinExecutor) Next() (*database.Tuple, bool, error) {
	width := e.table.GetSchema().NumColumns()
	for {
		left, ok, err := e.left.Next()
		if err != nil || !ok {
			return nil, false, err
		}
		key := left.Values[e.leftKeyCol]
		if !key.Null {
			ent, err := e.index.Index.Find(key.Int)
			if err == nil {
				right, err := e.table.GetTuple(ent.RID)
				if err == nil {
					return joinTuples(left, &right), true, nil
				}
				if err != database.ErrTupleNotFound {
					return nil, false, execErr("index join", err)
				}
			} else if err != btree.ErrKeyNotFound {
				return nil, false, execErr("index join", err)
			}
		}
		if e.joinType == LEFT_JOIN {
			return nullPad(left, width), true, nil
		}
	}
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// Hash join //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// HashJoinExecutor equi-joins by building an in-memory multi-map over the
// right side's join key and probing it with each left row.
type HashJoinExecutor struct {
	left        Executor
	right       Executor
	leftKeyCol  int64
	rightKeyCol int64
	joinType    JoinType
	rightWidth  int64

	buckets map[uint64][]database.Tuple
	curLeft *database.Tuple
	matches []database.Tuple
	pos     int
}

// NewHashJoinExecutor equi-joins left and right on the given key columns.
func NewHashJoinExecutor(left Executor, right Executor, leftKeyCol int64, rightKeyCol int64, joinType JoinType, rightWidth int64) *HashJoinExecutor {
	return &HashJoinExecutor{left: left, right: right, leftKeyCol: leftKeyCol, rightKeyCol: rightKeyCol, joinType: joinType, rightWidth: rightWidth}
}

func (e *HashJoinExecutor) Init() error {
	if err := e.left.Init(); err != nil {
		return err
	}
	if err := e.right.Init(); err != nil {
		return err
	}
	e.buckets = make(map[uint64][]database.Tuple)
	for {
		t, ok, err := e.right.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		key := t.Values[e.rightKeyCol]
		if key.Null {
			// NULL keys never match.
			continue
		}
		h := key.Hash()
		e.buckets[h] = append(e.buckets[h], *t)
	}
}

func (e *HashJoinExecutor) Next() (*database.Tuple, bool, error) {
	for {
		if e.curLeft != nil {
			for e.pos < len(e.matches) {
				right := &e.matches[e.pos]
				e.pos++
				return joinTuples(e.curLeft, right), true, nil
			}
			left := e.curLeft
			hadMatch := len(e.matches) > 0
			e.curLeft = nil
			if e.joinType == LEFT_JOIN && !hadMatch {
				return nullPad(left, e.rightWidth), true, nil
			}
			continue
		}
		t, ok, err := e.left.Next()
		if err != nil || !ok {
			return nil, false, err
		}
		e.curLeft = t
		e.pos = 0
		e.matches = nil
		key := t.Values[e.leftKeyCol]
		if key.Null {
			continue
		}
		for _, candidate := range e.buckets[key.Hash()] {
			// Guard against hash collisions with a real comparison.
			if candidate.Values[e.rightKeyCol].Compare(key) == 0 {
				e.matches = append(e.matches, candidate)
			}
		}
	}
}
