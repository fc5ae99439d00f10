package workflow

import "time"

// EventKind distinguishes run-level from node-level transition events.
type EventKind string

const (
	EventRun  EventKind = "run"
	EventNode EventKind = "node"
)

// Event is one observed state transition, produced for audit and telemetry.
type Event struct {
	Kind       EventKind `json:"kind"`
	RunID      string    `json:"runId"`
	OrgID      string    `json:"orgId"`
	NodeKey    string    `json:"nodeKey,omitempty"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts,omitempty"`
	DurationMs *int64    `json:"durationMs,omitempty"`
	ErrorCode  string    `json:"errorCode,omitempty"`
	At         time.Time `json:"at"`
}

// Terminal reports whether the event records entry into a terminal state.
func (e Event) Terminal() bool {
	if e.Kind == EventRun {
		return RunStatus(e.Status).IsTerminal()
	}
	return NodeStatus(e.Status).IsTerminal()
}

// EventSink receives transition events. Emit must not block for long.
type EventSink interface {
	Emit(e Event)
}

// RunEvent describes the current state of r.
func RunEvent(r *Run) Event {
	e := Event{Kind: EventRun, RunID: r.ID, OrgID: r.OrgID, Status: string(r.Status), At: time.Now().UTC()}
	if d := r.Duration(); d != nil {
		ms := d.Milliseconds()
		e.DurationMs = &ms
	}
	if r.Error != nil {
		e.ErrorCode = r.Error.Code
	}
	return e
}

// NodeEvent describes the current state of n within run r.
func NodeEvent(r *Run, n *RunNode) Event {
	e := Event{
		Kind:     EventNode,
		RunID:    n.RunID,
		OrgID:    r.OrgID,
		NodeKey:  n.NodeKey,
		Status:   string(n.Status),
		Attempts: n.Attempts,
		At:       time.Now().UTC(),
	}
	if d := n.Duration(); d != nil {
		ms := d.Milliseconds()
		e.DurationMs = &ms
	}
	if n.Error != nil {
		e.ErrorCode = n.Error.Code
	}
	return e
}
