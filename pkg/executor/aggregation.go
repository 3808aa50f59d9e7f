package executor

import (
	"fmt"
	"strings"

	"basaltdb/pkg/database"
)

// AggType selects the running aggregate kept per group.
type AggType int

const (
	COUNT_AGG AggType = iota
	SUM_AGG
	MIN_AGG
	MAX_AGG
)

// AggExpr aggregates one column. A COUNT_AGG with Col < 0 counts rows
// (COUNT(*)); otherwise COUNT counts non-null values.
type AggExpr struct {
	Type AggType
	Col  int64
}

// aggState holds one group's key values and running aggregates.
type aggState struct {
	groupVals []database.Value
	counts    []int64
	vals      []database.Value
}

// AggregationExecutor builds a hash table from group-by values to running
// aggregates in a single pass over its child, then emits one tuple per
// group: the group values followed by the aggregate results. With no groups
// and an empty input it emits a single row of initial values (COUNT=0,
// others NULL).
type AggregationExecutor struct {
	child    Executor
	groupBys []int64
	aggs     []AggExpr

	results []database.Tuple
	pos     int
}

// NewAggregationExecutor aggregates the child grouped by the given columns.
func NewAggregationExecutor(child Executor, groupBys []int64, aggs []AggExpr) *AggregationExecutor {
	return &AggregationExecutor{child: child, groupBys: groupBys, aggs: aggs}
}

func (e *AggregationExecutor) Init() error {
	if err := e.child.Init(); err != nil {
		return err
	}
	groups := make(map[string]*aggState)
	var order []string // group emission order is first-seen order
	for {
		t, ok, err := e.child.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		key := e.groupKey(t)
		state, found := groups[key]
		if !found {
			state = e.newState(t)
			groups[key] = state
			order = append(order, key)
		}
		e.accumulate(state, t)
	}
	if len(groups) == 0 && len(e.groupBys) == 0 {
		groups[""] = e.newState(nil)
		order = append(order, "")
	}
	e.results = nil
	for _, key := range order {
		state := groups[key]
		out := database.Tuple{Values: append([]database.Value{}, state.groupVals...)}
		for i, agg := range e.aggs {
			if agg.Type == COUNT_AGG {
				out.Values = append(out.Values, database.NewValue(state.counts[i]))
			} else {
				out.Values = append(out.Values, state.vals[i])
			}
		}
		e.results = append(e.results, out)
	}
	return nil
}

func (e *AggregationExecutor) Next() (*database.Tuple, bool, error) {
	if e.pos >= len(e.results) {
		return nil, false, nil
	}
	t := e.results[e.pos]
	e.pos++
	return &t, true, nil
}

// groupKey renders the tuple's group-by values as a map key.
func (e *AggregationExecutor) groupKey(t *database.Tuple) string {
	parts := make([]string, len(e.groupBys))
	for i, col := range e.groupBys {
		v := t.Values[col]
		if v.Null {
			parts[i] = "n"
		} else {
			parts[i] = fmt.Sprintf("%d", v.Int)
		}
	}
	return strings.Join(parts, "|")
}

// newState initializes a group's aggregates: COUNT starts at 0, the others
// at NULL.
func (e *AggregationExecutor) newState(t *database.Tuple) *aggState {
	state := &aggState{
		counts: make([]int64, len(e.aggs)),
		vals:   make([]database.Value, len(e.aggs)),
	}
	for i := range state.vals {
		state.vals[i] = database.NullValue()
	}
	if t != nil {
		state.groupVals = make([]database.Value, len(e.groupBys))
		for i, col := range e.groupBys {
			state.groupVals[i] = t.Values[col]
		}
	}
	return state
}

// accumulate folds one input tuple into a group's running aggregates. NULL
// inputs are ignored except by COUNT(*).
func (e *AggregationExecutor) accumulate(state *aggState, t *database.Tuple) {
	for i, agg := range e.aggs {
		if agg.Type == COUNT_AGG && agg.Col < 0 {
			state.counts[i]++
			continue
		}
		v := t.Values[agg.Col]
		if v.Null {
			continue
		}
		switch agg.Type {
		case COUNT_AGG:
			state.counts[i]++
		case SUM_AGG:
			if state.vals[i].Null {
				state.vals[i] = database.NewValue(v.Int)
			} else {
				state.vals[i] = database.NewValue(state.vals[i].Int + v.Int)
			}
		case MIN_AGG:
			if state.vals[i].Null || v.Int < state.vals[i].Int {
				state.vals[i] = database.NewValue(v.Int)
			}
		case MAX_AGG:
			if state.vals[i].Null || v.Int > state.vals[i].Int {
				state.vals[i] = database.NewValue(v.Int)
			}
		}
	}
}
