package workflow

import (
	"fmt"
	"strings"
)

const maxKeyLen = 64

// ValidationResult is the outcome of Validate. Errors lists every problem,
// in check order.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Validate checks the structural soundness of d without side effects. All
// problems are collected.
func Validate(d *Dag) ValidationResult {
	if d == nil {
		return ValidationResult{Errors: []string{"dag is nil"}}
	}
	var errs []string

	triggers := 0
	for _, n := range d.Nodes {
		if n.Type.IsTrigger() {
			triggers++
		}
	}
	switch {
	case triggers == 0:
		errs = append(errs, "dag has no trigger node")
	case triggers > 1:
		errs = append(errs, fmt.Sprintf("dag has multiple trigger nodes (%d)", triggers))
	}

	keys := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if keys[n.Key] {
			errs = append(errs, fmt.Sprintf("duplicate node key %q", n.Key))
		}
		keys[n.Key] = true

		if l := len(n.Key); l < 1 || l > maxKeyLen {
			errs = append(errs, fmt.Sprintf("node key %q must be 1-%d characters", n.Key, maxKeyLen))
		}
		if !n.Type.Valid() {
			errs = append(errs, fmt.Sprintf("node %q has unknown type %q", n.Key, n.Type))
		}
		if n.TimeoutMs < 0 {
			errs = append(errs, fmt.Sprintf("node %q has negative timeoutMs", n.Key))
		}
		if n.Retry != nil {
			for _, p := range n.Retry.Problems() {
				errs = append(errs, fmt.Sprintf("node %q retry policy: %s", n.Key, p))
			}
		}
	}

	for _, e := range d.Edges {
		if !keys[e.From] {
			errs = append(errs, fmt.Sprintf("edge %s -> %s: unknown from node %q", e.From, e.To, e.From))
		}
		if !keys[e.To] {
			errs = append(errs, fmt.Sprintf("edge %s -> %s: unknown to node %q", e.From, e.To, e.To))
		}
	}

	if cycle := findCycle(d, keys); cycle != nil {
		errs = append(errs, "dag contains a cycle: "+strings.Join(cycle, " -> "))
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// findCycle runs a DFS with a recursion stack over the edges whose endpoints
// exist and returns the first cycle found as a closed path, or nil.
func findCycle(d *Dag, keys map[string]bool) []string {
	adj := make(map[string][]string)
	for _, e := range d.Edges {
		if keys[e.From] && keys[e.To] {
			adj[e.From] = append(adj[e.From], e.To)
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(keys))
	var stack []string

	var dfs func(key string) []string
	dfs = func(key string) []string {
		state[key] = visiting
		stack = append(stack, key)
		for _, next := range adj[key] {
			switch state[next] {
			case visiting:
				for i, k := range stack {
					if k == next {
						return append(append([]string(nil), stack[i:]...), next)
					}
				}
			case unvisited:
				if c := dfs(next); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[key] = visited
		return nil
	}

	for _, n := range d.Nodes {
		if state[n.Key] == unvisited {
			if c := dfs(n.Key); c != nil {
				return c
			}
		}
	}
	return nil
}
