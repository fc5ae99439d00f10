package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/meikuraledutech/workflow"
	"github.com/meikuraledutech/workflow/catalog"
	"github.com/meikuraledutech/workflow/coordinator"
	"github.com/meikuraledutech/workflow/handlers"
	"github.com/meikuraledutech/workflow/memory"
	"github.com/meikuraledutech/workflow/postgres"
)

func main() {
	ctx := context.Background()

	// Postgres when DATABASE_URL is set, memory otherwise.
	var (
		versions workflow.VersionStore
		runs     workflow.RunStore
		idem     workflow.IdempotencyStore
	)
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := postgres.Connect(ctx, dbURL, postgres.PoolOptions{})
		if err != nil {
			log.Fatalf("connect: %v", err)
		}
		defer pool.Close()
		pg := postgres.New(pool)
		if err := pg.CreateSchema(ctx); err != nil {
			log.Fatalf("schema: %v", err)
		}
		fmt.Println("schema created")
		versions, runs, idem = pg, pg, pg
	} else {
		mem := memory.New()
		versions, runs, idem = mem, mem, memory.NewIdempotencyStore()
	}

	// ── Publish a workflow ────────────────────────────────────────────
	cat := catalog.New(versions)
	draft, err := cat.CreateDraft(ctx, "")
	if err != nil {
		log.Fatalf("draft: %v", err)
	}

	onboarding := &workflow.Dag{
		Nodes: []workflow.DagNode{
			{Key: "signup", Type: workflow.NodeWebhook},
			{Key: "lookup", Type: "tool_http", TimeoutMs: 2000,
				Retry: &workflow.RetryPolicy{MaxAttempts: 3, BackoffMs: 100}},
			{Key: "welcome", Type: workflow.NodeTransform, Config: map[string]any{
				"set": map[string]any{"template": "welcome-developer"},
			}},
			{Key: "nurture", Type: workflow.NodeTransform, Config: map[string]any{
				"set": map[string]any{"template": "welcome-designer"},
			}},
		},
		Edges: []workflow.DagEdge{
			{From: "signup", To: "lookup"},
			{From: "lookup", To: "welcome", Condition: `role == "developer"`},
			{From: "lookup", To: "nurture", Condition: `role == "designer"`},
		},
	}
	if _, err := cat.AttachDag(ctx, draft.ID, onboarding); err != nil {
		log.Fatalf("attach: %v", err)
	}
	v, err := cat.Publish(ctx, draft.ID)
	if err != nil {
		log.Fatalf("publish: %v", err)
	}
	fmt.Printf("published %s v%d\n", v.WorkflowID, v.Version)

	// ── Handlers ──────────────────────────────────────────────────────
	// The lookup tool fails once with a retryable 503 before answering.
	var calls atomic.Int32
	reg := handlers.WithBuiltins()
	reg.RegisterFunc(handlers.ToolWildcard, func(_ context.Context, _ workflow.ExecuteRequest, _ map[string]any, _ map[string]string) workflow.ExecuteResult {
		start := time.Now()
		if calls.Add(1) == 1 {
			return workflow.Failed("503", "directory unavailable", time.Since(start))
		}
		return workflow.Succeeded(map[string]any{"role": "developer"}, time.Since(start))
	})

	// ── Run ───────────────────────────────────────────────────────────
	coord := coordinator.New(versions, runs, idem, reg)
	serveCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		if err := coord.Serve(serveCtx); err != nil {
			log.Printf("serve: %v", err)
		}
	}()

	req := coordinator.StartRequest{
		WorkflowID:     v.WorkflowID,
		OrgID:          "org-demo",
		Input:          map[string]any{"email": "ada@example.com"},
		IdempotencyKey: "signup-ada",
	}
	res, err := coord.Start(ctx, req)
	if err != nil {
		log.Fatalf("start: %v", err)
	}
	fmt.Printf("run %s created=%v\n", res.RunID, res.Created)

	// Same key, same run.
	again, err := coord.Start(ctx, req)
	if err != nil {
		log.Fatalf("start again: %v", err)
	}
	fmt.Printf("run %s created=%v\n", again.RunID, again.Created)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	snap, err := coord.Wait(waitCtx, res.RunID)
	if err != nil {
		log.Fatalf("wait: %v", err)
	}
	fmt.Printf("\nrun finished: %s\n", snap.Run.Status)
	printJSON(snap)
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
