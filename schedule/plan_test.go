package schedule

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/workflow"
)

func node(key string, t workflow.NodeType) workflow.DagNode {
	return workflow.DagNode{Key: key, Type: t}
}

func diamond() *workflow.Dag {
	return &workflow.Dag{
		Nodes: []workflow.DagNode{
			node("trigger", workflow.NodeManual),
			node("A", workflow.NodeTransform),
			node("B", workflow.NodeTransform),
			node("C", workflow.NodeOutput),
		},
		Edges: []workflow.DagEdge{
			{From: "trigger", To: "A"},
			{From: "trigger", To: "B"},
			{From: "A", To: "C"},
			{From: "B", To: "C"},
		},
	}
}

func assertRespectsEdges(t *testing.T, d *workflow.Dag, order []string) {
	t.Helper()
	require.Len(t, order, len(d.Nodes))
	pos := make(map[string]int, len(order))
	for i, k := range order {
		_, dup := pos[k]
		require.False(t, dup, "key %s emitted twice", k)
		pos[k] = i
	}
	for _, e := range d.Edges {
		assert.Less(t, pos[e.From], pos[e.To], "edge %s -> %s", e.From, e.To)
	}
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name string
		dag  *workflow.Dag
		want []string
	}{
		{
			name: "linear chain",
			dag: &workflow.Dag{
				Nodes: []workflow.DagNode{node("t", workflow.NodeManual), node("a", workflow.NodeTransform), node("b", workflow.NodeOutput)},
				Edges: []workflow.DagEdge{{From: "t", To: "a"}, {From: "a", To: "b"}},
			},
			want: []string{"t", "a", "b"},
		},
		{
			name: "diamond breaks ties by declaration order",
			dag:  diamond(),
			want: []string{"trigger", "A", "B", "C"},
		},
		{
			name: "declaration order wins over edge order",
			dag: &workflow.Dag{
				Nodes: []workflow.DagNode{node("t", workflow.NodeManual), node("x", workflow.NodeTransform), node("y", workflow.NodeTransform)},
				Edges: []workflow.DagEdge{{From: "t", To: "y"}, {From: "t", To: "x"}},
			},
			want: []string{"t", "x", "y"},
		},
		{
			name: "frontier always takes the earliest declared ready node",
			dag: &workflow.Dag{
				Nodes: []workflow.DagNode{
					node("t", workflow.NodeManual), node("A", workflow.NodeTransform),
					node("B", workflow.NodeTransform), node("C", workflow.NodeTransform),
				},
				Edges: []workflow.DagEdge{{From: "t", To: "B"}, {From: "t", To: "C"}, {From: "B", To: "A"}},
			},
			// A becomes ready after C was queued but is declared before it
			want: []string{"t", "B", "A", "C"},
		},
		{
			name: "no edges keeps declaration order",
			dag: &workflow.Dag{
				Nodes: []workflow.DagNode{node("b", workflow.NodeTransform), node("a", workflow.NodeManual)},
			},
			want: []string{"b", "a"},
		},
		{
			name: "empty dag",
			dag:  &workflow.Dag{},
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Plan(tt.dag)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assertRespectsEdges(t, tt.dag, got)
		})
	}
}

func TestPlan_Cycle(t *testing.T) {
	d := &workflow.Dag{
		Nodes: []workflow.DagNode{node("t", workflow.NodeManual), node("a", workflow.NodeTransform), node("b", workflow.NodeTransform)},
		Edges: []workflow.DagEdge{{From: "t", To: "a"}, {From: "a", To: "b"}, {From: "b", To: "a"}},
	}
	_, err := Plan(d)
	require.Error(t, err)
	assert.True(t, errors.Is(err, workflow.ErrCyclicGraph))

	var cyc *workflow.CyclicGraphError
	require.True(t, errors.As(err, &cyc))
	assert.Equal(t, []string{"a", "b"}, cyc.Remaining)
	assert.Contains(t, err.Error(), "cycle")

	res := workflow.Validate(d)
	assert.False(t, res.Valid)
}

func TestPlan_UnknownEndpoint(t *testing.T) {
	d := &workflow.Dag{
		Nodes: []workflow.DagNode{node("t", workflow.NodeManual)},
		Edges: []workflow.DagEdge{{From: "t", To: "ghost"}},
	}
	_, err := Plan(d)
	assert.ErrorIs(t, err, workflow.ErrUnknownNode)
}

// randomDag builds an acyclic graph by only adding edges from lower to higher
// index, then shuffles node declaration order.
func randomDag(r *rand.Rand, n int) *workflow.Dag {
	d := &workflow.Dag{}
	for i := 0; i < n; i++ {
		d.Nodes = append(d.Nodes, node(fmt.Sprintf("n%d", i), workflow.NodeTransform))
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if r.Intn(4) == 0 {
				d.Edges = append(d.Edges, workflow.DagEdge{From: d.Nodes[i].Key, To: d.Nodes[j].Key})
			}
		}
	}
	r.Shuffle(len(d.Nodes), func(i, j int) { d.Nodes[i], d.Nodes[j] = d.Nodes[j], d.Nodes[i] })
	return d
}

func TestPlan_RandomDagsRespectEveryEdge(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		d := randomDag(r, 1+r.Intn(25))
		order, err := Plan(d)
		require.NoError(t, err)
		assertRespectsEdges(t, d, order)
	}
}

func TestReadySet_Diamond(t *testing.T) {
	d := diamond()

	assert.Equal(t, []string{"trigger"}, ReadySet(d, map[string]bool{}))
	assert.ElementsMatch(t, []string{"A", "B"}, ReadySet(d, map[string]bool{"trigger": true}))
	assert.Equal(t, []string{"B"}, ReadySet(d, map[string]bool{"trigger": true, "A": true}))
	assert.Equal(t, []string{"C"}, ReadySet(d, map[string]bool{"trigger": true, "A": true, "B": true}))
	assert.Empty(t, ReadySet(d, map[string]bool{"trigger": true, "A": true, "B": true, "C": true}))
}

func TestDescendants(t *testing.T) {
	d := diamond()
	assert.Equal(t, []string{"C"}, Descendants(d, "A"))
	assert.Equal(t, []string{"A", "B", "C"}, Descendants(d, "trigger"))
	assert.Empty(t, Descendants(d, "C"))
}

func TestPlanner_CachesPlans(t *testing.T) {
	p, err := NewPlanner(CacheConfig{Size: 16})
	require.NoError(t, err)
	defer p.Close()

	d := diamond()
	first, err := p.Plan(d)
	require.NoError(t, err)
	second, err := p.Plan(d)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// callers own the returned slice
	first[0] = "mutated"
	third, err := p.Plan(d)
	require.NoError(t, err)
	assert.Equal(t, "trigger", third[0])
}

func TestPlanner_PropagatesCycle(t *testing.T) {
	p, err := NewPlanner(CacheConfig{})
	require.NoError(t, err)

	_, err = p.Plan(&workflow.Dag{
		Nodes: []workflow.DagNode{node("a", workflow.NodeManual), node("b", workflow.NodeTransform)},
		Edges: []workflow.DagEdge{{From: "a", To: "b"}, {From: "b", To: "a"}},
	})
	assert.ErrorIs(t, err, workflow.ErrCyclicGraph)
}
