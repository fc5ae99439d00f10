// Package schedule derives execution order and readiness from a workflow DAG.
package schedule

import (
	"fmt"

	"github.com/emirpasic/gods/trees/binaryheap"

	"github.com/meikuraledutech/workflow"
)

// Plan returns every node key in an order where, for each edge (u,v), u comes
// before v. It uses Kahn's algorithm; among nodes that are ready at the same
// time the one declared first in d.Nodes wins.
//
// Plan does not assume d was validated: unknown edge endpoints and cycles are
// reported as errors (the latter as *workflow.CyclicGraphError).
func Plan(d *workflow.Dag) ([]string, error) {
	if d == nil {
		return nil, fmt.Errorf("schedule: nil dag: %w", workflow.ErrInvalidDag)
	}
	index := make(map[string]int, len(d.Nodes))
	for i, n := range d.Nodes {
		if _, dup := index[n.Key]; dup {
			return nil, fmt.Errorf("schedule: duplicate node key %q: %w", n.Key, workflow.ErrInvalidDag)
		}
		index[n.Key] = i
	}

	inDegree := make([]int, len(d.Nodes))
	next := make([][]int, len(d.Nodes))
	for _, e := range d.Edges {
		from, ok := index[e.From]
		if !ok {
			return nil, fmt.Errorf("schedule: edge %s -> %s: %w", e.From, e.To, workflow.ErrUnknownNode)
		}
		to, ok := index[e.To]
		if !ok {
			return nil, fmt.Errorf("schedule: edge %s -> %s: %w", e.From, e.To, workflow.ErrUnknownNode)
		}
		next[from] = append(next[from], to)
		inDegree[to]++
	}

	ready := binaryheap.NewWithIntComparator()
	for i := range d.Nodes {
		if inDegree[i] == 0 {
			ready.Push(i)
		}
	}

	order := make([]string, 0, len(d.Nodes))
	for !ready.Empty() {
		v, _ := ready.Pop()
		i := v.(int)
		order = append(order, d.Nodes[i].Key)
		for _, j := range next[i] {
			inDegree[j]--
			if inDegree[j] == 0 {
				ready.Push(j)
			}
		}
	}

	if len(order) != len(d.Nodes) {
		var remaining []string
		for i, n := range d.Nodes {
			if inDegree[i] > 0 {
				remaining = append(remaining, n.Key)
			}
		}
		return nil, &workflow.CyclicGraphError{Remaining: remaining}
	}
	return order, nil
}

// ReadySet returns the nodes whose every predecessor is in completed and which
// are not completed themselves, in d.Nodes order.
func ReadySet(d *workflow.Dag, completed map[string]bool) []string {
	blocked := make(map[string]bool)
	for _, e := range d.Edges {
		if !completed[e.From] {
			blocked[e.To] = true
		}
	}
	var ready []string
	for _, n := range d.Nodes {
		if !completed[n.Key] && !blocked[n.Key] {
			ready = append(ready, n.Key)
		}
	}
	return ready
}

// Reachable returns every node reachable from key by following edges,
// excluding key itself unless it lies on a cycle.
func Reachable(d *workflow.Dag, key string) map[string]bool {
	adj := make(map[string][]string)
	for _, e := range d.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}
	seen := make(map[string]bool)
	stack := append([]string(nil), adj[key]...)
	for len(stack) > 0 {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[k] {
			continue
		}
		seen[k] = true
		stack = append(stack, adj[k]...)
	}
	return seen
}

// Descendants returns the keys reachable from key in d.Nodes order.
func Descendants(d *workflow.Dag, key string) []string {
	reach := Reachable(d, key)
	var out []string
	for _, n := range d.Nodes {
		if reach[n.Key] && n.Key != key {
			out = append(out, n.Key)
		}
	}
	return out
}
