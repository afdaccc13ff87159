package construct

import (
	"fmt"
	"sort"

	"github.com/dominikbraun/graph"
)

// TopologicalSort orders the vertices of a directed acyclic graph so that every vertex follows its
// predecessors. Among the vertices that are ready at each step, the least one (per less) is taken first,
// which makes the order fully deterministic.
func TopologicalSort[K comparable, T any](g graph.Graph[K, T], less func(K, K) bool) ([]K, error) {
	if !g.Traits().IsDirected {
		return nil, fmt.Errorf("topological sort cannot be computed on undirected graph")
	}
	pm, err := g.PredecessorMap()
	if err != nil {
		return nil, fmt.Errorf("failed to get predecessor map: %w", err)
	}

	remaining := make(map[K]int, len(pm))
	var ready []K
	for v, preds := range pm {
		remaining[v] = len(preds)
		if len(preds) == 0 {
			ready = append(ready, v)
		}
	}
	am, err := g.AdjacencyMap()
	if err != nil {
		return nil, fmt.Errorf("failed to get adjacency map: %w", err)
	}

	order := make([]K, 0, len(pm))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		v := ready[0]
		ready = ready[1:]
		order = append(order, v)

		for next := range am[v] {
			remaining[next]--
			if remaining[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if len(order) != len(pm) {
		return nil, fmt.Errorf("topological sort: graph contains a cycle (%d of %d vertices ordered)", len(order), len(pm))
	}
	return order, nil
}
