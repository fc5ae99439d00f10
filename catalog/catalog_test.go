package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/workflow"
	"github.com/meikuraledutech/workflow/memory"
)

func validDag() *workflow.Dag {
	return &workflow.Dag{
		Nodes: []workflow.DagNode{
			{Key: "trigger", Type: workflow.NodeWebhook},
			{Key: "answer", Type: workflow.NodeAgentTask},
			{Key: "out", Type: workflow.NodeOutput},
		},
		Edges: []workflow.DagEdge{{From: "trigger", To: "answer"}, {From: "answer", To: "out"}},
	}
}

func TestCatalog_Lifecycle(t *testing.T) {
	ctx := context.Background()
	c := New(memory.New())

	v1, err := c.CreateDraft(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.NoError(t, workflow.CheckID(workflow.KindWorkflow, v1.WorkflowID))

	_, err = c.LatestPublished(ctx, v1.WorkflowID)
	assert.ErrorIs(t, err, workflow.ErrWorkflowVersionNotFound)

	_, err = c.AttachDag(ctx, v1.ID, validDag())
	require.NoError(t, err)
	published, err := c.Publish(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.VersionPublished, published.Status)

	v2, err := c.CreateDraft(ctx, v1.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	latest, err := c.LatestPublished(ctx, v1.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, latest.ID)

	_, err = c.AttachDag(ctx, v2.ID, validDag())
	require.NoError(t, err)
	_, err = c.Publish(ctx, v2.ID)
	require.NoError(t, err)
	latest, err = c.LatestPublished(ctx, v1.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, latest.ID)

	_, err = c.Archive(ctx, v2.ID)
	require.NoError(t, err)
	latest, err = c.LatestPublished(ctx, v1.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, latest.ID)

	list, err := c.List(ctx, v1.WorkflowID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestCatalog_PublishRejectsInvalidDag(t *testing.T) {
	ctx := context.Background()
	c := New(memory.New())
	v, err := c.CreateDraft(ctx, "")
	require.NoError(t, err)

	bad := validDag()
	bad.Nodes[1].Type = workflow.NodeManual
	bad.Edges = append(bad.Edges, workflow.DagEdge{From: "out", To: "answer"})
	_, err = c.AttachDag(ctx, v.ID, bad)
	require.NoError(t, err)

	_, err = c.Publish(ctx, v.ID)
	var verr *workflow.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Errors, 2)

	stored, err := c.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.VersionDraft, stored.Status)
}

func TestCatalog_PublishedDagIsImmutable(t *testing.T) {
	ctx := context.Background()
	c := New(memory.New())
	v, err := c.CreateDraft(ctx, "")
	require.NoError(t, err)
	_, err = c.AttachDag(ctx, v.ID, validDag())
	require.NoError(t, err)
	_, err = c.Publish(ctx, v.ID)
	require.NoError(t, err)

	_, err = c.AttachDag(ctx, v.ID, validDag())
	assert.ErrorIs(t, err, workflow.ErrDagImmutable)
	assert.True(t, workflow.IsConflict(err))
}

func TestCatalog_RejectsMalformedIDs(t *testing.T) {
	ctx := context.Background()
	c := New(memory.New())

	_, err := c.CreateDraft(ctx, "not-an-id")
	assert.ErrorIs(t, err, workflow.ErrInvalidID)
	_, err = c.Get(ctx, workflow.NewID(workflow.KindRun))
	assert.ErrorIs(t, err, workflow.ErrInvalidID)
	_, err = c.Get(ctx, workflow.NewID(workflow.KindVersion))
	assert.ErrorIs(t, err, workflow.ErrVersionNotFound)
}
