// Package catalog manages workflow versions: drafting, attaching a DAG,
// publishing with validation, and archiving.
package catalog

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/meikuraledutech/workflow"
)

// Catalog is the version lifecycle service on top of a VersionStore.
type Catalog struct {
	store workflow.VersionStore
}

func New(store workflow.VersionStore) *Catalog {
	return &Catalog{store: store}
}

// CreateDraft opens a new DRAFT version. An empty workflowID starts a new
// workflow.
func (c *Catalog) CreateDraft(ctx context.Context, workflowID string) (*workflow.WorkflowVersion, error) {
	if workflowID == "" {
		workflowID = workflow.NewID(workflow.KindWorkflow)
	} else if err := workflow.CheckID(workflow.KindWorkflow, workflowID); err != nil {
		return nil, err
	}
	v := workflow.NewDraft(workflowID)
	if err := c.store.CreateVersion(ctx, v); err != nil {
		return nil, fmt.Errorf("catalog: create draft: %w", err)
	}
	log.Info().Str("workflow_id", workflowID).Str("version_id", v.ID).Int("version", v.Version).Msg("draft created")
	return v, nil
}

// AttachDag replaces the DAG of a draft. The DAG is not validated until
// Publish.
func (c *Catalog) AttachDag(ctx context.Context, versionID string, d *workflow.Dag) (*workflow.WorkflowVersion, error) {
	v, err := c.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if err := v.AttachDag(d); err != nil {
		return nil, err
	}
	if err := c.store.UpdateVersion(ctx, v); err != nil {
		return nil, fmt.Errorf("catalog: attach dag: %w", err)
	}
	return v, nil
}

// Publish validates the draft's DAG and makes it the candidate for new runs.
// A *workflow.ValidationError lists every problem when the DAG is rejected.
func (c *Catalog) Publish(ctx context.Context, versionID string) (*workflow.WorkflowVersion, error) {
	v, err := c.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if err := v.Publish(); err != nil {
		log.Warn().Err(err).Str("version_id", versionID).Msg("publish rejected")
		return nil, err
	}
	if err := c.store.UpdateVersion(ctx, v); err != nil {
		return nil, fmt.Errorf("catalog: publish: %w", err)
	}
	log.Info().Str("workflow_id", v.WorkflowID).Str("version_id", v.ID).Int("version", v.Version).Msg("version published")
	return v, nil
}

// Archive retires a published version. Runs already started keep using it.
func (c *Catalog) Archive(ctx context.Context, versionID string) (*workflow.WorkflowVersion, error) {
	v, err := c.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if err := v.Archive(); err != nil {
		return nil, err
	}
	if err := c.store.UpdateVersion(ctx, v); err != nil {
		return nil, fmt.Errorf("catalog: archive: %w", err)
	}
	return v, nil
}

func (c *Catalog) Get(ctx context.Context, versionID string) (*workflow.WorkflowVersion, error) {
	if err := workflow.CheckID(workflow.KindVersion, versionID); err != nil {
		return nil, err
	}
	return c.store.GetVersion(ctx, versionID)
}

// LatestPublished returns the highest published version of workflowID.
func (c *Catalog) LatestPublished(ctx context.Context, workflowID string) (*workflow.WorkflowVersion, error) {
	if err := workflow.CheckID(workflow.KindWorkflow, workflowID); err != nil {
		return nil, err
	}
	return c.store.LatestPublished(ctx, workflowID)
}

func (c *Catalog) List(ctx context.Context, workflowID string) ([]workflow.WorkflowVersion, error) {
	if err := workflow.CheckID(workflow.KindWorkflow, workflowID); err != nil {
		return nil, err
	}
	return c.store.ListVersions(ctx, workflowID)
}
