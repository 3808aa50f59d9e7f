package executor

import (
	"container/heap"

	"basaltdb/pkg/database"
)

// topNHeap is a bounded max-heap keyed by the OrderBy clauses: the root is the
// worst tuple kept so far, so exceeding the bound pops it in O(log K).
type topNHeap struct {
	tuples   []database.Tuple
	orderBys []OrderBy
}

func (h *topNHeap) Len() int { return len(h.tuples) }

func (h *topNHeap) Less(i, j int) bool {
	// Max-heap: the tuple that sorts later is "less" so it surfaces at the root.
	return compareTuples(&h.tuples[i], &h.tuples[j], h.orderBys) > 0
}

func (h *topNHeap) Swap(i, j int) {
	h.tuples[i], h.tuples[j] = h.tuples[j], h.tuples[i]
}

func (h *topNHeap) Push(x interface{}) {
	h.tuples = append(h.tuples, x.(database.Tuple))
}

func (h *topNHeap) Pop() interface{} {
	last := h.tuples[len(h.tuples)-1]
	h.tuples = h.tuples[:len(h.tuples)-1]
	return last
}

// TopNExecutor emits the first N tuples of its child's sort order without
// buffering more than N tuples at a time: Sort + Limit at O(N log K).
type TopNExecutor struct {
	child    Executor
	orderBys []OrderBy
	n        int64

	results []database.Tuple
	pos     int
}

// NewTopNExecutor keeps the n best tuples under the given ordering.
func NewTopNExecutor(child Executor, orderBys []OrderBy, n int64) *TopNExecutor {
	return &TopNExecutor{child: child, orderBys: orderBys, n: n}
}

func (e *TopNExecutor) Init() error {
	if err := e.child.Init(); err != nil {
		return err
	}
	h := &topNHeap{orderBys: e.orderBys}
	heap.Init(h)
	for {
		t, ok, err := e.child.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		heap.Push(h, *t)
		if int64(h.Len()) > e.n {
			heap.Pop(h)
		}
	}
	// Popping drains worst-first; fill results back to front.
	e.results = make([]database.Tuple, h.Len())
	for i := len(e.results) - 1; i >= 0; i-- {
		e.results[i] = heap.Pop(h).(database.Tuple)
	}
	e.pos = 0
	return nil
}

func (e *TopNExecutor) Next() (*database.Tuple, bool, error) {
	if e.pos >= len(e.results) {
		return nil, false, nil
	}
	t := e.results[e.pos]
	e.pos++
	return &t, true, nil
}
