package workflow

import "time"

// NodeStatus is the lifecycle state of a RunNode.
type NodeStatus string

const (
	NodeQueued    NodeStatus = "QUEUED"
	NodeRunning   NodeStatus = "RUNNING"
	NodeSucceeded NodeStatus = "SUCCEEDED"
	NodeFailed    NodeStatus = "FAILED"
	NodeSkipped   NodeStatus = "SKIPPED"
)

// IsTerminal reports whether s has no outgoing transitions other than a retry reset.
func (s NodeStatus) IsTerminal() bool {
	return s == NodeSucceeded || s == NodeFailed || s == NodeSkipped
}

// nodeTransitions is the fixed node transition table. FAILED -> QUEUED is
// reachable only through ResetForRetry.
var nodeTransitions = map[NodeStatus][]NodeStatus{
	NodeQueued:  {NodeRunning, NodeSkipped},
	NodeRunning: {NodeSucceeded, NodeFailed},
	NodeFailed:  {NodeQueued},
}

// NodeError is the failure recorded on a RunNode, or on a Run for the node
// that failed it.
type NodeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	NodeKey string `json:"nodeKey,omitempty"`
}

// RunNode is the execution record of one DAG node within one run.
type RunNode struct {
	ID         string         `json:"id"`
	RunID      string         `json:"runId"`
	NodeKey    string         `json:"nodeKey"`
	Type       NodeType       `json:"type"`
	Status     NodeStatus     `json:"status"`
	Attempts   int            `json:"attempts"`
	Input      map[string]any `json:"input,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Error      *NodeError     `json:"error,omitempty"`
	StartedAt  *time.Time     `json:"startedAt,omitempty"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
}

// NewRunNode returns a QUEUED record for node within run.
func NewRunNode(runID string, node DagNode) *RunNode {
	return &RunNode{
		ID:      NewID(KindRunNode),
		RunID:   runID,
		NodeKey: node.Key,
		Type:    node.Type,
		Status:  NodeQueued,
	}
}

func (n *RunNode) transition(to NodeStatus) error {
	for _, allowed := range nodeTransitions[n.Status] {
		if allowed == to {
			n.Status = to
			return nil
		}
	}
	return &TransitionError{Entity: "node", From: string(n.Status), To: string(to)}
}

func (n *RunNode) check(to NodeStatus) error {
	candidate := RunNode{Status: n.Status}
	return candidate.transition(to)
}

// Start moves the node to RUNNING and counts the attempt.
func (n *RunNode) Start(input map[string]any) error {
	if err := n.check(NodeRunning); err != nil {
		return err
	}
	now := time.Now().UTC()
	n.Status = NodeRunning
	n.Attempts++
	n.StartedAt = &now
	n.Input = input
	return nil
}

// Succeed records the handler output.
func (n *RunNode) Succeed(output map[string]any) error {
	if err := n.check(NodeSucceeded); err != nil {
		return err
	}
	now := time.Now().UTC()
	n.Status = NodeSucceeded
	n.Output = output
	n.FinishedAt = &now
	return nil
}

// Fail records the handler error.
func (n *RunNode) Fail(e NodeError) error {
	if err := n.check(NodeFailed); err != nil {
		return err
	}
	now := time.Now().UTC()
	n.Status = NodeFailed
	n.Error = &e
	n.FinishedAt = &now
	return nil
}

// Skip marks a node that will never run.
func (n *RunNode) Skip() error {
	if err := n.check(NodeSkipped); err != nil {
		return err
	}
	now := time.Now().UTC()
	n.Status = NodeSkipped
	n.FinishedAt = &now
	return nil
}

// CanRetry reports whether a failed node has attempts left.
func (n *RunNode) CanRetry(maxAttempts int) bool {
	return n.Status == NodeFailed && n.Attempts < maxAttempts
}

// ResetForRetry returns a failed node to QUEUED. Attempts is preserved.
func (n *RunNode) ResetForRetry() error {
	if err := n.check(NodeQueued); err != nil {
		return err
	}
	n.Status = NodeQueued
	n.Input = nil
	n.Output = nil
	n.Error = nil
	n.StartedAt = nil
	n.FinishedAt = nil
	return nil
}

// Duration is the time spent in the latest attempt, nil until finished.
func (n *RunNode) Duration() *time.Duration {
	if n.StartedAt == nil || n.FinishedAt == nil {
		return nil
	}
	d := n.FinishedAt.Sub(*n.StartedAt)
	return &d
}

// Clone returns a copy safe to hand to readers.
func (n *RunNode) Clone() *RunNode {
	c := *n
	c.Input = cloneMap(n.Input)
	c.Output = cloneMap(n.Output)
	if n.Error != nil {
		e := *n.Error
		c.Error = &e
	}
	return &c
}
