package workflow

import "context"

// VersionStore persists workflow versions for the catalog.
type VersionStore interface {
	// CreateVersion stores a new draft and assigns v.Version as one more than
	// the highest existing version of v.WorkflowID.
	CreateVersion(ctx context.Context, v *WorkflowVersion) error
	// GetVersion returns ErrVersionNotFound when id is unknown.
	GetVersion(ctx context.Context, id string) (*WorkflowVersion, error)
	// UpdateVersion overwrites status and dag of an existing version.
	UpdateVersion(ctx context.Context, v *WorkflowVersion) error
	// LatestPublished returns the highest PUBLISHED version of workflowID or
	// ErrWorkflowVersionNotFound.
	LatestPublished(ctx context.Context, workflowID string) (*WorkflowVersion, error)
	// ListVersions returns every version of workflowID ordered by version.
	ListVersions(ctx context.Context, workflowID string) ([]WorkflowVersion, error)
}

// RunStore persists Run and RunNode snapshots keyed by id.
type RunStore interface {
	// CreateRun stores a run together with its node records.
	CreateRun(ctx context.Context, run *Run, nodes []*RunNode) error
	// GetRun returns ErrRunNotFound when id is unknown.
	GetRun(ctx context.Context, id string) (*Run, error)
	// ListRunNodes returns the run's nodes in creation order.
	ListRunNodes(ctx context.Context, runID string) ([]*RunNode, error)
	// ListActiveRuns returns the ids of runs that are not terminal.
	ListActiveRuns(ctx context.Context) ([]string, error)
	// SaveRun upserts a run snapshot by id.
	SaveRun(ctx context.Context, run *Run) error
	// SaveRunNode upserts a node snapshot by id.
	SaveRunNode(ctx context.Context, node *RunNode) error
}

// IdempotencyStore maps (orgID, key) to the run created for it.
type IdempotencyStore interface {
	// Lookup returns the run id recorded for (orgID, key).
	Lookup(ctx context.Context, orgID, key string) (runID string, found bool, err error)
	// Claim records runID for (orgID, key) if no record exists, atomically.
	// When another run already holds the key, claimed is false and winner is
	// that run's id.
	Claim(ctx context.Context, orgID, key, runID string) (winner string, claimed bool, err error)
	// Release drops the record for (orgID, key) only while runID still holds
	// it. It undoes a Claim whose run could not be created.
	Release(ctx context.Context, orgID, key, runID string) error
}
