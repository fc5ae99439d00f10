package workflow

import "strings"

// NodeType identifies the kind of a DAG node. Trigger kinds start a run,
// action kinds are executed by a handler.
type NodeType string

const (
	NodeManual        NodeType = "manual"
	NodeWebhook       NodeType = "webhook"
	NodeSchedule      NodeType = "schedule"
	NodeAgentTask     NodeType = "agent_task"
	NodeRAGQuery      NodeType = "rag_query"
	NodeTransform     NodeType = "transform"
	NodeHumanApproval NodeType = "human_approval"
	NodeOutput        NodeType = "output"

	// toolPrefix marks the open family of tool_* action kinds (tool_slack, tool_http, ...).
	toolPrefix = "tool_"
)

// IsTrigger reports whether t is one of the trigger kinds.
func (t NodeType) IsTrigger() bool {
	switch t {
	case NodeManual, NodeWebhook, NodeSchedule:
		return true
	}
	return false
}

// IsTool reports whether t belongs to the tool_* family.
func (t NodeType) IsTool() bool {
	return strings.HasPrefix(string(t), toolPrefix) && len(t) > len(toolPrefix)
}

// Valid reports whether t is a known trigger or action kind.
func (t NodeType) Valid() bool {
	if t.IsTrigger() || t.IsTool() {
		return true
	}
	switch t {
	case NodeAgentTask, NodeRAGQuery, NodeTransform, NodeHumanApproval, NodeOutput:
		return true
	}
	return false
}

// Dag is the node/edge graph of a workflow version.
// It is immutable once attached to a published version.
type Dag struct {
	Nodes []DagNode `json:"nodes"`
	Edges []DagEdge `json:"edges"`
}

// DagNode is a vertex in the Dag. Config is interpreted only by the handler.
type DagNode struct {
	Key         string         `json:"key"`
	Type        NodeType       `json:"type"`
	Config      map[string]any `json:"config,omitempty"`
	TimeoutMs   int64          `json:"timeoutMs,omitempty"`
	Retry       *RetryPolicy   `json:"retryPolicy,omitempty"`
	Permissions []string       `json:"permissions,omitempty"`
}

// DagEdge is a directed connection between two node keys.
// Condition is an opaque expression evaluated by a ConditionEvaluator.
type DagEdge struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition,omitempty"`
}

// Node returns the node with the given key.
func (d *Dag) Node(key string) (DagNode, bool) {
	for _, n := range d.Nodes {
		if n.Key == key {
			return n, true
		}
	}
	return DagNode{}, false
}

// Trigger returns the first trigger-kind node.
func (d *Dag) Trigger() (DagNode, bool) {
	for _, n := range d.Nodes {
		if n.Type.IsTrigger() {
			return n, true
		}
	}
	return DagNode{}, false
}

// Incoming returns the edges whose target is key, in declaration order.
func (d *Dag) Incoming(key string) []DagEdge {
	var in []DagEdge
	for _, e := range d.Edges {
		if e.To == key {
			in = append(in, e)
		}
	}
	return in
}

// IsLeaf reports whether key has no outgoing edges.
func (d *Dag) IsLeaf(key string) bool {
	for _, e := range d.Edges {
		if e.From == key {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the Dag. Config maps are copied one level deep.
func (d *Dag) Clone() *Dag {
	if d == nil {
		return nil
	}
	out := &Dag{
		Nodes: make([]DagNode, len(d.Nodes)),
		Edges: make([]DagEdge, len(d.Edges)),
	}
	for i, n := range d.Nodes {
		n.Config = cloneMap(n.Config)
		if n.Retry != nil {
			rp := *n.Retry
			rp.RetryOn = append([]RetryClass(nil), n.Retry.RetryOn...)
			n.Retry = &rp
		}
		n.Permissions = append([]string(nil), n.Permissions...)
		out.Nodes[i] = n
	}
	copy(out.Edges, d.Edges)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
