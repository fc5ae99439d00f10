package workflow

import "time"

// VersionStatus is the lifecycle state of a WorkflowVersion.
type VersionStatus string

const (
	VersionDraft     VersionStatus = "DRAFT"
	VersionPublished VersionStatus = "PUBLISHED"
	VersionArchived  VersionStatus = "ARCHIVED"
)

// WorkflowVersion is one numbered revision of a workflow. Version is assigned
// by the VersionStore and is monotonic per workflow.
type WorkflowVersion struct {
	ID         string        `json:"id"`
	WorkflowID string        `json:"workflowId"`
	Version    int           `json:"version"`
	Status     VersionStatus `json:"status"`
	Dag        *Dag          `json:"dag,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// NewDraft returns an unnumbered DRAFT version of workflowID.
func NewDraft(workflowID string) *WorkflowVersion {
	return &WorkflowVersion{
		ID:         NewID(KindVersion),
		WorkflowID: workflowID,
		Status:     VersionDraft,
		CreatedAt:  time.Now().UTC(),
	}
}

// AttachDag replaces the draft's DAG. It fails once the version left DRAFT.
func (v *WorkflowVersion) AttachDag(d *Dag) error {
	if v.Status != VersionDraft {
		return ErrDagImmutable
	}
	v.Dag = d.Clone()
	return nil
}

// Publish validates the attached DAG and moves the version to PUBLISHED.
// The returned *ValidationError lists every problem found.
func (v *WorkflowVersion) Publish() error {
	if v.Status != VersionDraft {
		return &TransitionError{Entity: "version", From: string(v.Status), To: string(VersionPublished)}
	}
	if v.Dag == nil {
		return &ValidationError{Errors: []string{"no dag attached"}}
	}
	if res := Validate(v.Dag); !res.Valid {
		return &ValidationError{Errors: res.Errors}
	}
	v.Status = VersionPublished
	return nil
}

// Archive retires a published version.
func (v *WorkflowVersion) Archive() error {
	if v.Status != VersionPublished {
		return &TransitionError{Entity: "version", From: string(v.Status), To: string(VersionArchived)}
	}
	v.Status = VersionArchived
	return nil
}

// Clone returns a deep copy.
func (v *WorkflowVersion) Clone() *WorkflowVersion {
	c := *v
	c.Dag = v.Dag.Clone()
	return &c
}
