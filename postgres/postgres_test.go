package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meikuraledutech/workflow"
)

func newTestStore(t *testing.T) *PGStore {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("workflow"),
		tcpostgres.WithUsername("user"),
		tcpostgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate container: %s", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := Connect(ctx, connStr, PoolOptions{MaxConns: 8, MinConns: 1})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := New(pool)
	require.NoError(t, s.CreateSchema(ctx))
	return s
}

func publishedVersion(t *testing.T, ctx context.Context, s *PGStore, workflowID string) *workflow.WorkflowVersion {
	t.Helper()
	v := workflow.NewDraft(workflowID)
	require.NoError(t, s.CreateVersion(ctx, v))
	require.NoError(t, v.AttachDag(&workflow.Dag{
		Nodes: []workflow.DagNode{
			{Key: "t", Type: workflow.NodeManual},
			{Key: "o", Type: workflow.NodeOutput, TimeoutMs: 500, Retry: &workflow.RetryPolicy{MaxAttempts: 2}},
		},
		Edges: []workflow.DagEdge{{From: "t", To: "o", Condition: `ok == true`}},
	}))
	require.NoError(t, v.Publish())
	require.NoError(t, s.UpdateVersion(ctx, v))
	return v
}

func TestPGStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := workflow.NewID(workflow.KindWorkflow)

	t.Run("versions", func(t *testing.T) {
		_, err := s.LatestPublished(ctx, wf)
		assert.ErrorIs(t, err, workflow.ErrWorkflowVersionNotFound)

		v1 := publishedVersion(t, ctx, s, wf)
		assert.Equal(t, 1, v1.Version)
		v2 := workflow.NewDraft(wf)
		require.NoError(t, s.CreateVersion(ctx, v2))
		assert.Equal(t, 2, v2.Version)

		latest, err := s.LatestPublished(ctx, wf)
		require.NoError(t, err)
		assert.Equal(t, v1.ID, latest.ID)
		assert.Equal(t, v1.Dag, latest.Dag)

		list, err := s.ListVersions(ctx, wf)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Nil(t, list[1].Dag)

		_, err = s.GetVersion(ctx, workflow.NewID(workflow.KindVersion))
		assert.ErrorIs(t, err, workflow.ErrVersionNotFound)
	})

	t.Run("runs", func(t *testing.T) {
		v := publishedVersion(t, ctx, s, workflow.NewID(workflow.KindWorkflow))
		run := workflow.NewRun("org-1", v, map[string]any{"q": "x"}, "k1")
		nodes := []*workflow.RunNode{
			workflow.NewRunNode(run.ID, v.Dag.Nodes[0]),
			workflow.NewRunNode(run.ID, v.Dag.Nodes[1]),
		}
		require.NoError(t, s.CreateRun(ctx, run, nodes))

		active, err := s.ListActiveRuns(ctx)
		require.NoError(t, err)
		assert.Contains(t, active, run.ID)

		require.NoError(t, run.Start())
		require.NoError(t, s.SaveRun(ctx, run))
		require.NoError(t, nodes[0].Start(run.Input))
		require.NoError(t, nodes[0].Fail(workflow.NodeError{Code: "503", Message: "down"}))
		require.NoError(t, s.SaveRunNode(ctx, nodes[0]))
		require.NoError(t, nodes[1].Skip())
		require.NoError(t, s.SaveRunNode(ctx, nodes[1]))
		require.NoError(t, run.Fail(workflow.NodeError{Code: "503", Message: "down", NodeKey: "t"}))
		require.NoError(t, s.SaveRun(ctx, run))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, workflow.RunFailed, got.Status)
		assert.Equal(t, "t", got.Error.NodeKey)
		assert.Equal(t, map[string]any{"q": "x"}, got.Input)
		assert.NotNil(t, got.FinishedAt)

		stored, err := s.ListRunNodes(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, stored, 2)
		assert.Equal(t, "t", stored[0].NodeKey)
		assert.Equal(t, workflow.NodeFailed, stored[0].Status)
		assert.Equal(t, 1, stored[0].Attempts)
		assert.Equal(t, "503", stored[0].Error.Code)
		assert.Equal(t, workflow.NodeSkipped, stored[1].Status)

		active, err = s.ListActiveRuns(ctx)
		require.NoError(t, err)
		assert.NotContains(t, active, run.ID)

		_, err = s.GetRun(ctx, workflow.NewID(workflow.KindRun))
		assert.ErrorIs(t, err, workflow.ErrRunNotFound)
		_, err = s.ListRunNodes(ctx, workflow.NewID(workflow.KindRun))
		assert.ErrorIs(t, err, workflow.ErrRunNotFound)
	})

	t.Run("idempotency claims race", func(t *testing.T) {
		const n = 16
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			claimed int
			winners = map[string]bool{}
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				winner, ok, err := s.Claim(ctx, "org-1", "order-7", fmt.Sprintf("run_%02d", i))
				assert.NoError(t, err)
				mu.Lock()
				defer mu.Unlock()
				winners[winner] = true
				if ok {
					claimed++
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, claimed)
		assert.Len(t, winners, 1)

		_, found, err := s.Lookup(ctx, "org-2", "order-7")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("release only by holder", func(t *testing.T) {
		_, claimed, err := s.Claim(ctx, "org-3", "order-8", "run_a")
		require.NoError(t, err)
		require.True(t, claimed)

		require.NoError(t, s.Release(ctx, "org-3", "order-8", "run_b"))
		_, found, err := s.Lookup(ctx, "org-3", "order-8")
		require.NoError(t, err)
		assert.True(t, found)

		require.NoError(t, s.Release(ctx, "org-3", "order-8", "run_a"))
		_, claimed, err = s.Claim(ctx, "org-3", "order-8", "run_c")
		require.NoError(t, err)
		assert.True(t, claimed)
	})
}
