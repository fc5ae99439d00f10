// Package coordinator starts, drives and cancels workflow runs.
//
// Each run is owned by one runActor. Every mutation of the run and its nodes
// happens under the actor's lock, and only the worker driving the run
// dispatches handlers for it.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/meikuraledutech/workflow"
	"github.com/meikuraledutech/workflow/condition"
	"github.com/meikuraledutech/workflow/schedule"
)

// CodeInterrupted marks runs and nodes that were in flight when the process
// stopped.
const CodeInterrupted = "interrupted"

// CodeStalled marks a run that could make no progress with nodes left queued.
const CodeStalled = "stalled"

// BackoffFunc returns the delay before retrying a node that has used attempts.
type BackoffFunc func(policy workflow.RetryPolicy, attempts int) time.Duration

type options struct {
	maxParallelism    int
	maxConcurrentRuns int
	queueSize         int
	backoff           BackoffFunc
	evaluator         workflow.ConditionEvaluator
	secrets           workflow.SecretsProvider
	events            workflow.EventSink
	planner           *schedule.Planner
	logger            zerolog.Logger
	pollInterval      time.Duration
}

type Option func(*options)

// WithMaxParallelism caps the nodes of one run executing at once.
func WithMaxParallelism(n int) Option { return func(o *options) { o.maxParallelism = n } }

// WithMaxConcurrentRuns caps the runs driven at once by Serve.
func WithMaxConcurrentRuns(n int) Option { return func(o *options) { o.maxConcurrentRuns = n } }

// WithQueueSize sets how many started runs may wait for a worker.
func WithQueueSize(n int) Option { return func(o *options) { o.queueSize = n } }

func WithBackoff(f BackoffFunc) Option { return func(o *options) { o.backoff = f } }

func WithEvaluator(e workflow.ConditionEvaluator) Option {
	return func(o *options) { o.evaluator = e }
}

func WithSecrets(p workflow.SecretsProvider) Option { return func(o *options) { o.secrets = p } }

func WithEvents(s workflow.EventSink) Option { return func(o *options) { o.events = s } }

func WithPlanner(p *schedule.Planner) Option { return func(o *options) { o.planner = p } }

func WithLogger(l zerolog.Logger) Option { return func(o *options) { o.logger = l } }

type noopSink struct{}

func (noopSink) Emit(workflow.Event) {}

// Coordinator is the run engine.
type Coordinator struct {
	versions workflow.VersionStore
	runs     workflow.RunStore
	idem     workflow.IdempotencyStore
	handlers workflow.HandlerRegistry
	opts     options

	queue chan string

	mu     sync.Mutex
	actors map[string]*runActor
}

// New wires a coordinator. Without WithPlanner an uncached planner is used;
// without WithEvaluator conditions are govaluate expressions.
func New(versions workflow.VersionStore, runs workflow.RunStore, idem workflow.IdempotencyStore,
	handlers workflow.HandlerRegistry, opts ...Option) *Coordinator {
	o := options{
		maxParallelism:    8,
		maxConcurrentRuns: 16,
		queueSize:         1024,
		backoff:           func(p workflow.RetryPolicy, attempts int) time.Duration { return p.Backoff(attempts) },
		evaluator:         condition.New(),
		events:            noopSink{},
		logger:            log.Logger.With().Str("component", "coordinator").Logger(),
		pollInterval:      50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxParallelism < 1 {
		o.maxParallelism = 1
	}
	if o.maxConcurrentRuns < 1 {
		o.maxConcurrentRuns = 1
	}
	if o.planner == nil {
		o.planner, _ = schedule.NewPlanner(schedule.CacheConfig{})
	}
	return &Coordinator{
		versions: versions,
		runs:     runs,
		idem:     idem,
		handlers: handlers,
		opts:     o,
		queue:    make(chan string, o.queueSize),
		actors:   make(map[string]*runActor),
	}
}

// StartRequest asks for a run of the latest published version of WorkflowID.
type StartRequest struct {
	WorkflowID     string         `json:"workflowId"`
	OrgID          string         `json:"orgId"`
	Input          map[string]any `json:"input,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
}

// StartResult identifies the run. Created is false when an earlier start with
// the same idempotency key already created it.
type StartResult struct {
	RunID   string `json:"runId"`
	Created bool   `json:"created"`
}

// Start creates a QUEUED run and hands it to the workers. Handler failures
// never surface here; they are recorded on the run's nodes. If ctx ends
// before a worker slot frees up, the run id is returned with the error and
// the run waits for Recover.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	if err := workflow.CheckID(workflow.KindWorkflow, req.WorkflowID); err != nil {
		return StartResult{}, err
	}
	if req.OrgID == "" {
		return StartResult{}, fmt.Errorf("%w: org id is required", workflow.ErrInvalidID)
	}

	if req.IdempotencyKey != "" {
		runID, found, err := c.idem.Lookup(ctx, req.OrgID, req.IdempotencyKey)
		if err != nil {
			return StartResult{}, fmt.Errorf("coordinator: idempotency lookup: %w", err)
		}
		if found {
			c.opts.logger.Info().Str("org_id", req.OrgID).Str("idempotency_key", req.IdempotencyKey).
				Str("run_id", runID).Msg("idempotent start hit")
			return StartResult{RunID: runID}, nil
		}
	}

	v, err := c.versions.LatestPublished(ctx, req.WorkflowID)
	if err != nil {
		return StartResult{}, err
	}
	order, err := c.opts.planner.Plan(v.Dag)
	if err != nil {
		return StartResult{}, err
	}

	run := workflow.NewRun(req.OrgID, v, cloneInput(req.Input), req.IdempotencyKey)
	if req.IdempotencyKey != "" {
		winner, claimed, err := c.idem.Claim(ctx, req.OrgID, req.IdempotencyKey, run.ID)
		if err != nil {
			return StartResult{}, fmt.Errorf("coordinator: idempotency claim: %w", err)
		}
		if !claimed {
			return StartResult{RunID: winner}, nil
		}
	}

	nodes := make([]*workflow.RunNode, 0, len(order))
	for _, key := range order {
		dn, _ := v.Dag.Node(key)
		nodes = append(nodes, workflow.NewRunNode(run.ID, dn))
	}
	if err := c.runs.CreateRun(ctx, run, nodes); err != nil {
		if req.IdempotencyKey != "" {
			// free the key so a retry of the same request can create the run
			if rerr := c.idem.Release(context.WithoutCancel(ctx), req.OrgID, req.IdempotencyKey, run.ID); rerr != nil {
				c.opts.logger.Error().Err(rerr).Str("org_id", req.OrgID).Str("idempotency_key", req.IdempotencyKey).
					Msg("cannot release idempotency key")
			}
		}
		return StartResult{}, fmt.Errorf("coordinator: create run: %w", err)
	}

	a := newActor(run, v.Dag, nodes)
	c.register(a)
	c.opts.events.Emit(workflow.RunEvent(run))
	c.opts.logger.Info().Str("run_id", run.ID).Str("workflow_id", run.WorkflowID).
		Str("version_id", run.WorkflowVersionID).Int("nodes", len(nodes)).Msg("run queued")

	if err := c.enqueue(ctx, run.ID); err != nil {
		// the run is persisted QUEUED; without an actor Recover picks it up
		c.forget(a)
		c.opts.logger.Warn().Err(err).Str("run_id", run.ID).Msg("run left queued for recovery")
		return StartResult{RunID: run.ID, Created: true}, err
	}
	return StartResult{RunID: run.ID, Created: true}, nil
}

func (c *Coordinator) enqueue(ctx context.Context, runID string) error {
	select {
	case c.queue <- runID:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("coordinator: enqueue %s: %w", runID, ctx.Err())
	}
}

func (c *Coordinator) register(a *runActor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actors[a.run.ID] = a
}

func (c *Coordinator) actor(runID string) *runActor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.actors[runID]
}

// forget drops an actor that no worker has picked up.
func (c *Coordinator) forget(a *runActor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.actors[a.run.ID] == a {
		delete(c.actors, a.run.ID)
	}
}

// release closes the actor's done channel and forgets it. The store holds the
// final state from here on.
func (c *Coordinator) release(a *runActor) {
	a.closeDone()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.actors[a.run.ID] == a {
		delete(c.actors, a.run.ID)
	}
}

// Snapshot is a consistent copy of a run and its nodes in plan order.
type Snapshot struct {
	Run   *workflow.Run       `json:"run"`
	Nodes []*workflow.RunNode `json:"nodes"`
}

// Get returns the current state of runID.
func (c *Coordinator) Get(ctx context.Context, runID string) (*Snapshot, error) {
	if err := workflow.CheckID(workflow.KindRun, runID); err != nil {
		return nil, err
	}
	if a := c.actor(runID); a != nil {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.snapshot(), nil
	}
	run, err := c.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	nodes, err := c.runs.ListRunNodes(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Run: run, Nodes: nodes}, nil
}

// Wait blocks until runID is terminal or ctx is done.
func (c *Coordinator) Wait(ctx context.Context, runID string) (*Snapshot, error) {
	if err := workflow.CheckID(workflow.KindRun, runID); err != nil {
		return nil, err
	}
	if a := c.actor(runID); a != nil {
		select {
		case <-a.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return c.Get(ctx, runID)
	}

	// not owned by this process: poll the store
	ticker := time.NewTicker(c.opts.pollInterval)
	defer ticker.Stop()
	for {
		snap, err := c.Get(ctx, runID)
		if err != nil {
			return nil, err
		}
		if snap.Run.IsTerminal() {
			return snap, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Cancel stops a non-terminal run. Queued nodes are skipped; results of
// in-flight nodes are discarded when they arrive. A terminal run is left
// unchanged and ErrRunAlreadyTerminal is returned.
func (c *Coordinator) Cancel(ctx context.Context, runID, orgID string) (*workflow.Run, error) {
	if err := workflow.CheckID(workflow.KindRun, runID); err != nil {
		return nil, err
	}
	if a := c.actor(runID); a != nil {
		return c.cancelActor(ctx, a, orgID)
	}

	run, err := c.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.OrgID != orgID {
		return nil, workflow.ErrRunNotFound
	}
	if run.IsTerminal() {
		return nil, workflow.ErrRunAlreadyTerminal
	}
	nodes, err := c.runs.ListRunNodes(ctx, runID)
	if err != nil {
		return nil, err
	}
	a := newActor(run, nil, nodes)
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.run.Cancel(); err != nil {
		return nil, err
	}
	c.closeOut(ctx, a, workflow.NodeError{Code: workflow.CodeRunCanceled, Message: "run canceled"})
	c.saveRun(ctx, a)
	return a.run.Clone(), nil
}

func (c *Coordinator) cancelActor(ctx context.Context, a *runActor, orgID string) (*workflow.Run, error) {
	a.mu.Lock()
	if a.run.OrgID != orgID {
		a.mu.Unlock()
		return nil, workflow.ErrRunNotFound
	}
	wasQueued := a.run.Status == workflow.RunQueued
	if err := a.run.Cancel(); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	a.stopTimers()
	for _, key := range a.order {
		n := a.nodes[key]
		if n.Status == workflow.NodeQueued {
			c.transitionNode(ctx, a, n, n.Skip)
		}
	}
	c.saveRun(ctx, a)
	if a.cancel != nil {
		a.cancel()
	}
	out := a.run.Clone()
	a.mu.Unlock()

	c.opts.logger.Info().Str("run_id", out.ID).Bool("was_queued", wasQueued).Msg("run canceled")
	if wasQueued {
		c.release(a)
	} else {
		a.signal()
	}
	return out, nil
}

// Serve drives queued runs with up to max_concurrent_runs workers until ctx
// is done.
func (c *Coordinator) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.opts.maxConcurrentRuns; i++ {
		worker := i
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case runID := <-c.queue:
					c.driveID(gctx, worker, runID)
				}
			}
		})
	}
	c.opts.logger.Info().Int("workers", c.opts.maxConcurrentRuns).Int("max_parallelism", c.opts.maxParallelism).
		Msg("coordinator serving")
	return g.Wait()
}

func (c *Coordinator) driveID(ctx context.Context, worker int, runID string) {
	a := c.actor(runID)
	if a == nil {
		var err error
		if a, err = c.load(ctx, runID); err != nil {
			c.opts.logger.Error().Err(err).Str("run_id", runID).Msg("cannot load queued run")
			return
		}
		c.register(a)
	}
	c.opts.logger.Debug().Int("worker", worker).Str("run_id", runID).Msg("driving run")
	c.drive(ctx, a)
}

func (c *Coordinator) load(ctx context.Context, runID string) (*runActor, error) {
	run, err := c.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	nodes, err := c.runs.ListRunNodes(ctx, runID)
	if err != nil {
		return nil, err
	}
	v, err := c.versions.GetVersion(ctx, run.WorkflowVersionID)
	if err != nil {
		return nil, err
	}
	return newActor(run, v.Dag, nodes), nil
}

// Recover re-enqueues QUEUED runs left by a previous process and fails RUNNING
// ones as interrupted, since their in-flight handler calls were lost.
func (c *Coordinator) Recover(ctx context.Context) (requeued, interrupted int, err error) {
	ids, err := c.runs.ListActiveRuns(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("coordinator: list active runs: %w", err)
	}
	for _, id := range ids {
		if c.actor(id) != nil {
			continue
		}
		a, err := c.load(ctx, id)
		if err != nil {
			return requeued, interrupted, err
		}
		switch a.run.Status {
		case workflow.RunQueued:
			c.register(a)
			if err := c.enqueue(ctx, id); err != nil {
				c.forget(a)
				return requeued, interrupted, err
			}
			requeued++
		case workflow.RunRunning:
			a.mu.Lock()
			cause := workflow.NodeError{Code: CodeInterrupted, Message: "process stopped while run was in flight"}
			c.closeOut(ctx, a, cause)
			if failed := a.firstFailed(); failed != nil {
				cause.NodeKey = failed.NodeKey
			}
			if err := a.run.Fail(cause); err == nil {
				c.saveRun(ctx, a)
			}
			a.mu.Unlock()
			interrupted++
		}
	}
	c.opts.logger.Info().Int("requeued", requeued).Int("interrupted", interrupted).Msg("recovery finished")
	return requeued, interrupted, nil
}

func cloneInput(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
