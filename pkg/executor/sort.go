package executor

import (
	"sort"

	"basaltdb/pkg/database"
)

// OrderType is a sort direction; DEFAULT_ORDER is treated as ascending.
type OrderType int

const (
	DEFAULT_ORDER OrderType = iota
	ASC_ORDER
	DESC_ORDER
)

// OrderBy sorts on one column. Multiple clauses tie-break strictly in order;
// tuples equal under every clause keep their input order (a stable tie).
type OrderBy struct {
	Col   int64
	Order OrderType
}

// compareTuples orders two tuples under multi-key OrderBy clauses. Returns a
// negative number when a sorts before b.
func compareTuples(a *database.Tuple, b *database.Tuple, orderBys []OrderBy) int {
	for _, ob := range orderBys {
		cmp := a.Values[ob.Col].Compare(b.Values[ob.Col])
		if ob.Order == DESC_ORDER {
			cmp = -cmp
		}
		if cmp != 0 {
			return cmp
		}
	}
	return 0
}

// SortExecutor buffers its whole child and emits it sorted.
type SortExecutor struct {
	child    Executor
	orderBys []OrderBy

	tuples []database.Tuple
	pos    int
}

// NewSortExecutor sorts the child by the given clauses.
func NewSortExecutor(child Executor, orderBys []OrderBy) *SortExecutor {
	return &SortExecutor{child: child, orderBys: orderBys}
}

func (e *SortExecutor) Init() error {
	if err := e.child.Init(); err != nil {
		return err
	}
	e.tuples = nil
	for {
		t, ok, err := e.child.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		e.tuples = append(e.tuples, *t)
	}
	sort.SliceStable(e.tuples, func(i, j int) bool {
		return compareTuples(&e.tuples[i], &e.tuples[j], e.orderBys) < 0
	})
	return nil
}

func (e *SortExecutor) Next() (*database.Tuple, bool, error) {
	if e.pos >= len(e.tuples) {
		return nil, false, nil
	}
	t := e.tuples[e.pos]
	e.pos++
	return &t, true, nil
}
