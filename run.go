package workflow

import "time"

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunQueued    RunStatus = "QUEUED"
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
	RunCanceled  RunStatus = "CANCELED"
)

// IsTerminal reports whether s is SUCCEEDED, FAILED or CANCELED.
func (s RunStatus) IsTerminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunCanceled
}

var runTransitions = map[RunStatus][]RunStatus{
	RunQueued:  {RunRunning, RunCanceled},
	RunRunning: {RunSucceeded, RunFailed, RunCanceled},
}

// Run is one execution of a published workflow version.
// FinishedAt is set iff Status is terminal.
type Run struct {
	ID                string         `json:"id"`
	OrgID             string         `json:"orgId"`
	WorkflowID        string         `json:"workflowId"`
	WorkflowVersionID string         `json:"workflowVersionId"`
	Status            RunStatus      `json:"status"`
	Input             map[string]any `json:"input,omitempty"`
	Output            map[string]any `json:"output,omitempty"`
	Error             *NodeError     `json:"error,omitempty"`
	IdempotencyKey    string         `json:"idempotencyKey,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	StartedAt         *time.Time     `json:"startedAt,omitempty"`
	FinishedAt        *time.Time     `json:"finishedAt,omitempty"`
}

// NewRun returns a QUEUED run of version v.
func NewRun(orgID string, v *WorkflowVersion, input map[string]any, idempotencyKey string) *Run {
	return &Run{
		ID:                NewID(KindRun),
		OrgID:             orgID,
		WorkflowID:        v.WorkflowID,
		WorkflowVersionID: v.ID,
		Status:            RunQueued,
		Input:             input,
		IdempotencyKey:    idempotencyKey,
		CreatedAt:         time.Now().UTC(),
	}
}

func (r *Run) check(to RunStatus) error {
	for _, allowed := range runTransitions[r.Status] {
		if allowed == to {
			return nil
		}
	}
	return &TransitionError{Entity: "run", From: string(r.Status), To: string(to)}
}

func (r *Run) finish(to RunStatus) {
	now := time.Now().UTC()
	r.Status = to
	r.FinishedAt = &now
}

// IsTerminal reports whether the run has finished.
func (r *Run) IsTerminal() bool { return r.Status.IsTerminal() }

// Start moves a queued run to RUNNING.
func (r *Run) Start() error {
	if err := r.check(RunRunning); err != nil {
		return err
	}
	now := time.Now().UTC()
	r.Status = RunRunning
	r.StartedAt = &now
	return nil
}

// Succeed finishes the run with output. A nil output is rejected.
func (r *Run) Succeed(output map[string]any) error {
	if err := r.check(RunSucceeded); err != nil {
		return err
	}
	if output == nil {
		return ErrMissingOutput
	}
	r.Output = output
	r.finish(RunSucceeded)
	return nil
}

// Fail finishes the run with the error of the node that caused it.
func (r *Run) Fail(e NodeError) error {
	if err := r.check(RunFailed); err != nil {
		return err
	}
	r.Error = &e
	r.finish(RunFailed)
	return nil
}

// Cancel finishes a non-terminal run as CANCELED.
func (r *Run) Cancel() error {
	if r.IsTerminal() {
		return ErrRunAlreadyTerminal
	}
	if err := r.check(RunCanceled); err != nil {
		return err
	}
	r.finish(RunCanceled)
	return nil
}

// Duration is nil until the run is terminal. A run canceled while queued has
// a zero duration.
func (r *Run) Duration() *time.Duration {
	if !r.IsTerminal() || r.FinishedAt == nil {
		return nil
	}
	var d time.Duration
	if r.StartedAt != nil {
		d = r.FinishedAt.Sub(*r.StartedAt)
	}
	return &d
}

// Clone returns a copy safe to hand to readers.
func (r *Run) Clone() *Run {
	c := *r
	c.Input = cloneMap(r.Input)
	c.Output = cloneMap(r.Output)
	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}
	return &c
}
