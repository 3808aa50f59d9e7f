package concurrency

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGraphNoCycle(t *testing.T) {
	t.Parallel()
	g := newWaitsForGraph()
	g.addEdge(1, 2)
	g.addEdge(2, 3)
	g.addEdge(1, 3)
	_, found := g.findCycle()
	require.False(t, found)
}

func TestGraphSimpleCycle(t *testing.T) {
	t.Parallel()
	g := newWaitsForGraph()
	g.addEdge(1, 2)
	g.addEdge(2, 1)
	cycle, found := g.findCycle()
	require.True(t, found)
	require.ElementsMatch(t, []int64{1, 2}, cycle)
}

// DFS starts from the lowest id and walks neighbors in ascending order, so
// the same graph always yields the same cycle.
func TestGraphDeterministicDiscovery(t *testing.T) {
	t.Parallel()
	g := newWaitsForGraph()
	// Two disjoint cycles; the one reachable from the lowest id is found first.
	g.addEdge(5, 6)
	g.addEdge(6, 5)
	g.addEdge(1, 2)
	g.addEdge(2, 1)
	cycle, found := g.findCycle()
	require.True(t, found)
	require.ElementsMatch(t, []int64{1, 2}, cycle)

	g.removeTxn(2)
	cycle, found = g.findCycle()
	require.True(t, found)
	require.ElementsMatch(t, []int64{5, 6}, cycle)

	g.removeTxn(6)
	_, found = g.findCycle()
	require.False(t, found)
}

func TestGraphSelfEdgeIgnored(t *testing.T) {
	t.Parallel()
	g := newWaitsForGraph()
	g.addEdge(1, 1)
	_, found := g.findCycle()
	require.False(t, found)
}

func TestGraphCycleWithTail(t *testing.T) {
	t.Parallel()
	g := newWaitsForGraph()
	// 1 -> 2 -> 3 -> 4 -> 2: the cycle excludes the tail vertex 1.
	g.addEdge(1, 2)
	g.addEdge(2, 3)
	g.addEdge(3, 4)
	g.addEdge(4, 2)
	cycle, found := g.findCycle()
	require.True(t, found)
	require.ElementsMatch(t, []int64{2, 3, 4}, cycle)
}
