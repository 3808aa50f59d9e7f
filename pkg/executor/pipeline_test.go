package executor_test

import (
	"testing"

	"basaltdb/pkg/concurrency"
	"basaltdb/pkg/database"
	"basaltdb/pkg/executor"

	"github.com/stretchr/testify/require"
)

func values(rows ...database.Tuple) *executor.ValuesExecutor {
	return executor.NewValuesExecutor(rows)
}

func TestNestedLoopJoinInner(t *testing.T) {
	t.Parallel()
	left := values(database.NewTuple(1, 10), database.NewTuple(2, 20), database.NewTuple(3, 30))
	right := values(database.NewTuple(2, 200), database.NewTuple(3, 300), database.NewTuple(3, 301))
	join := executor.NewNestedLoopJoinExecutor(left, right, func(l, r *database.Tuple) bool {
		return l.Values[0].Compare(r.Values[0]) == 0
	}, executor.INNER_JOIN, 2)
	rows := drain(t, join)
	require.Equal(t, []int64{2, 3, 3}, col(rows, 0))
	require.Equal(t, []int64{200, 300, 301}, col(rows, 3))
}

func TestNestedLoopJoinLeftPadsNulls(t *testing.T) {
	t.Parallel()
	left := values(database.NewTuple(1), database.NewTuple(2))
	right := values(database.NewTuple(2, 200))
	join := executor.NewNestedLoopJoinExecutor(left, right, func(l, r *database.Tuple) bool {
		return l.Values[0].Compare(r.Values[0]) == 0
	}, executor.LEFT_JOIN, 2)
	rows := drain(t, join)
	require.Len(t, rows, 2)
	require.Equal(t, int64(1), rows[0].Values[0].Int)
	require.True(t, rows[0].Values[1].Null)
	require.True(t, rows[0].Values[2].Null)
	require.Equal(t, int64(200), rows[1].Values[2].Int)
}

func TestHashJoin(t *testing.T) {
	t.Parallel()
	left := values(database.NewTuple(1, 10), database.NewTuple(2, 20), database.NewTuple(4, 40))
	right := values(database.NewTuple(200, 2), database.NewTuple(201, 2), database.NewTuple(400, 4))
	join := executor.NewHashJoinExecutor(left, right, 0, 1, executor.INNER_JOIN, 2)
	rows := drain(t, join)
	require.Equal(t, []int64{2, 2, 4}, col(rows, 0))
	require.Equal(t, []int64{200, 201, 400}, col(rows, 2))
}

func TestHashJoinLeftWithNullKeys(t *testing.T) {
	t.Parallel()
	nullKey := database.Tuple{Values: []database.Value{database.NullValue(), database.NewValue(9)}}
	left := values(database.NewTuple(1, 10), nullKey)
	right := values(database.NewTuple(1, 100))
	join := executor.NewHashJoinExecutor(left, right, 0, 0, executor.LEFT_JOIN, 2)
	rows := drain(t, join)
	require.Len(t, rows, 2)
	require.Equal(t, int64(100), rows[0].Values[3].Int)
	// NULL keys never match; the row is padded.
	require.True(t, rows[1].Values[2].Null)
	require.True(t, rows[1].Values[3].Null)
}

func TestNestedIndexJoin(t *testing.T) {
	ctx, _ := setupContext(t, concurrency.REPEATABLE_READ)
	createAccounts(t, ctx, true)
	insertRows(t, ctx, database.NewTuple(1, 100), database.NewTuple(3, 300))

	left := values(database.NewTuple(1), database.NewTuple(2), database.NewTuple(3))
	join := executor.NewNestedIndexJoinExecutor(ctx, left, "accounts", "accountsid", 0, executor.LEFT_JOIN)
	rows := drain(t, join)
	require.Len(t, rows, 3)
	require.Equal(t, int64(100), rows[0].Values[2].Int)
	require.True(t, rows[1].Values[1].Null, "unmatched key pads with nulls")
	require.Equal(t, int64(300), rows[2].Values[2].Int)

	inner := executor.NewNestedIndexJoinExecutor(ctx, values(database.NewTuple(2), database.NewTuple(3)),
		"accounts", "accountsid", 0, executor.INNER_JOIN)
	rows = drain(t, inner)
	require.Len(t, rows, 1)
	require.Equal(t, int64(3), rows[0].Values[0].Int)
}

func TestAggregationGrouped(t *testing.T) {
	t.Parallel()
	child := values(
		database.NewTuple(1, 10),
		database.NewTuple(2, 20),
		database.NewTuple(1, 30),
		database.NewTuple(2, 5),
	)
	agg := executor.NewAggregationExecutor(child, []int64{0}, []executor.AggExpr{
		{Type: executor.COUNT_AGG, Col: 1},
		{Type: executor.SUM_AGG, Col: 1},
		{Type: executor.MIN_AGG, Col: 1},
		{Type: executor.MAX_AGG, Col: 1},
	})
	rows := drain(t, agg)
	require.Len(t, rows, 2)
	require.Equal(t, []int64{1, 2, 40, 10, 30}, []int64{
		rows[0].Values[0].Int, rows[0].Values[1].Int, rows[0].Values[2].Int, rows[0].Values[3].Int, rows[0].Values[4].Int,
	})
	require.Equal(t, []int64{2, 2, 25, 5, 20}, []int64{
		rows[1].Values[0].Int, rows[1].Values[1].Int, rows[1].Values[2].Int, rows[1].Values[3].Int, rows[1].Values[4].Int,
	})
}

// No groups and empty input: one row of initial values.
func TestAggregationEmptyInput(t *testing.T) {
	t.Parallel()
	agg := executor.NewAggregationExecutor(values(), nil, []executor.AggExpr{
		{Type: executor.COUNT_AGG, Col: -1},
		{Type: executor.SUM_AGG, Col: 0},
		{Type: executor.MIN_AGG, Col: 0},
	})
	rows := drain(t, agg)
	require.Len(t, rows, 1)
	require.Equal(t, int64(0), rows[0].Values[0].Int)
	require.True(t, rows[0].Values[1].Null)
	require.True(t, rows[0].Values[2].Null)

	// Grouped empty input emits nothing.
	grouped := executor.NewAggregationExecutor(values(), []int64{0}, []executor.AggExpr{
		{Type: executor.COUNT_AGG, Col: -1},
	})
	require.Empty(t, drain(t, grouped))
}

func TestSortMultiKeyStable(t *testing.T) {
	t.Parallel()
	child := values(
		database.NewTuple(2, 1, 100),
		database.NewTuple(1, 2, 200),
		database.NewTuple(2, 1, 300),
		database.NewTuple(1, 1, 400),
	)
	s := executor.NewSortExecutor(child, []executor.OrderBy{
		{Col: 0, Order: executor.DEFAULT_ORDER},
		{Col: 1, Order: executor.DESC_ORDER},
	})
	rows := drain(t, s)
	require.Equal(t, []int64{1, 1, 2, 2}, col(rows, 0))
	require.Equal(t, []int64{2, 1, 1, 1}, col(rows, 1))
	// Fully equal keys keep their input order (stable tie).
	require.Equal(t, []int64{200, 400, 100, 300}, col(rows, 2))
}

func TestLimit(t *testing.T) {
	t.Parallel()
	child := values(database.NewTuple(1), database.NewTuple(2), database.NewTuple(3))
	require.Equal(t, []int64{1, 2}, col(drain(t, executor.NewLimitExecutor(child, 2)), 0))

	short := values(database.NewTuple(1))
	require.Equal(t, []int64{1}, col(drain(t, executor.NewLimitExecutor(short, 5)), 0))
}

func TestTopNMatchesSortPlusLimit(t *testing.T) {
	t.Parallel()
	rows := []database.Tuple{
		database.NewTuple(5), database.NewTuple(1), database.NewTuple(4),
		database.NewTuple(2), database.NewTuple(3), database.NewTuple(0),
	}
	orderBys := []executor.OrderBy{{Col: 0, Order: executor.ASC_ORDER}}
	topn := drain(t, executor.NewTopNExecutor(values(rows...), orderBys, 3))
	require.Equal(t, []int64{0, 1, 2}, col(topn, 0))

	desc := []executor.OrderBy{{Col: 0, Order: executor.DESC_ORDER}}
	topn = drain(t, executor.NewTopNExecutor(values(rows...), desc, 2))
	require.Equal(t, []int64{5, 4}, col(topn, 0))
}

// The optimizer rewrites Limit(Sort(x)) into TopN(x).
func TestOptimizeSortLimitToTopN(t *testing.T) {
	t.Parallel()
	child := values(database.NewTuple(3), database.NewTuple(1), database.NewTuple(2))
	plan := executor.NewLimitExecutor(
		executor.NewSortExecutor(child, []executor.OrderBy{{Col: 0, Order: executor.ASC_ORDER}}), 2)
	optimized := executor.Optimize(plan)
	_, isTopN := optimized.(*executor.TopNExecutor)
	require.True(t, isTopN, "Limit over Sort should become TopN")
	require.Equal(t, []int64{1, 2}, col(drain(t, optimized), 0))

	// A bare Limit is left alone.
	bare := executor.NewLimitExecutor(values(database.NewTuple(1)), 1)
	_, isLimit := executor.Optimize(bare).(*executor.LimitExecutor)
	require.True(t, isLimit)
}
