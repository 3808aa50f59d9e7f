package concurrency

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// The deadlock detector runs on a timer. Each pass rebuilds the waits-for
// graph from every lock queue, hunts for cycles, and aborts the youngest
// (highest-id) transaction on each cycle found. The detector never touches
// queue entries itself: an aborted waiter wakes from the broadcast, observes
// its state, and removes its own request.

// waitsForGraph is a precedence graph between transactions: an edge from
// t1 to t2 means t1 waits for a lock t2 holds.
type waitsForGraph struct {
	edges map[int64]map[int64]bool
}

func newWaitsForGraph() *waitsForGraph {
	return &waitsForGraph{edges: make(map[int64]map[int64]bool)}
}

func (g *waitsForGraph) addEdge(from int64, to int64) {
	if from == to {
		return
	}
	if g.edges[from] == nil {
		g.edges[from] = make(map[int64]bool)
	}
	g.edges[from][to] = true
}

func (g *waitsForGraph) removeTxn(txnID int64) {
	delete(g.edges, txnID)
	for _, tos := range g.edges {
		delete(tos, txnID)
	}
}

// txnIDs returns every transaction in the graph in ascending order.
func (g *waitsForGraph) txnIDs() []int64 {
	seen := make(map[int64]bool)
	for from, tos := range g.edges {
		seen[from] = true
		for to := range tos {
			seen[to] = true
		}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// neighbors returns a txn's outgoing edges in ascending order, so cycle
// discovery is deterministic.
func (g *waitsForGraph) neighbors(txnID int64) []int64 {
	tos := make([]int64, 0, len(g.edges[txnID]))
	for to := range g.edges[txnID] {
		tos = append(tos, to)
	}
	sort.Slice(tos, func(i, j int) bool { return tos[i] < tos[j] })
	return tos
}

// findCycle searches for a cycle by DFS, starting from the lowest-id
// unexamined transaction and exploring neighbors in ascending order.
// Returns the transactions on the first cycle found.
func (g *waitsForGraph) findCycle() ([]int64, bool) {
	visited := make(map[int64]bool)
	for _, start := range g.txnIDs() {
		if visited[start] {
			continue
		}
		var path []int64
		onPath := make(map[int64]int)
		if cycle, found := g.dfs(start, visited, onPath, &path); found {
			return cycle, true
		}
	}
	return nil, false
}

func (g *waitsForGraph) dfs(v int64, visited map[int64]bool, onPath map[int64]int, path *[]int64) ([]int64, bool) {
	visited[v] = true
	onPath[v] = len(*path)
	*path = append(*path, v)
	for _, w := range g.neighbors(v) {
		if idx, ok := onPath[w]; ok {
			// Rediscovered a transaction on the DFS stack: the cycle is the
			// path suffix starting at it.
			cycle := make([]int64, len(*path)-idx)
			copy(cycle, (*path)[idx:])
			return cycle, true
		}
		if !visited[w] {
			if cycle, found := g.dfs(w, visited, onPath, path); found {
				return cycle, true
			}
		}
	}
	*path = (*path)[:len(*path)-1]
	delete(onPath, v)
	return nil, false
}

// StartDetection launches the background detector goroutine.
func (lm *LockManager) StartDetection(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-lm.stopCh:
				return
			case <-ticker.C:
				lm.RunCycleDetection()
			}
		}
	}()
}

// StopDetection shuts the background detector down.
func (lm *LockManager) StopDetection() {
	lm.stopped.Do(func() { close(lm.stopCh) })
}

// snapshotQueues copies the current table and row queues so detection can
// walk them without holding the map latches.
func (lm *LockManager) snapshotQueues() []*lockRequestQueue {
	var queues []*lockRequestQueue
	lm.tableMtx.Lock()
	for _, q := range lm.tableQueues {
		queues = append(queues, q)
	}
	lm.tableMtx.Unlock()
	lm.rowMtx.Lock()
	for _, q := range lm.rowQueues {
		queues = append(queues, q)
	}
	lm.rowMtx.Unlock()
	return queues
}

// RunCycleDetection performs one detection pass, aborting victims until the
// waits-for graph is acyclic.
func (lm *LockManager) RunCycleDetection() {
	lm.waitsMtx.Lock()
	defer lm.waitsMtx.Unlock()
	queues := lm.snapshotQueues()
	graph := newWaitsForGraph()
	waiterQueues := make(map[int64][]*lockRequestQueue)
	for _, q := range queues {
		q.mtx.Lock()
		for _, waiter := range q.requests {
			if waiter.granted {
				continue
			}
			waiterQueues[waiter.txnID] = append(waiterQueues[waiter.txnID], q)
			for _, holder := range q.requests {
				if holder.granted && !compatible(holder.mode, waiter.mode) {
					graph.addEdge(waiter.txnID, holder.txnID)
				}
			}
		}
		q.mtx.Unlock()
	}
	for {
		cycle, found := graph.findCycle()
		if !found {
			return
		}
		// The victim is the youngest transaction on the cycle.
		victim := cycle[0]
		for _, id := range cycle {
			if id > victim {
				victim = id
			}
		}
		if txn, ok := lm.manager.GetTransaction(victim); ok {
			txn.SetState(ABORTED)
		}
		logrus.WithFields(logrus.Fields{"txn": victim, "cycle": cycle}).
			Info("deadlock detected, aborting victim")
		graph.removeTxn(victim)
		// Wake the victim (and anything now grantable) on every queue it
		// waits in.
		for _, q := range waiterQueues[victim] {
			q.mtx.Lock()
			q.cond.Broadcast()
			q.mtx.Unlock()
		}
	}
}
