package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/meikuraledutech/workflow"
	"github.com/meikuraledutech/workflow/schedule"
)

// runActor holds the in-memory state of one run. All fields are guarded by mu.
type runActor struct {
	mu       sync.Mutex
	run      *workflow.Run
	dag      *workflow.Dag
	nodes    map[string]*workflow.RunNode
	order    []string
	retrying map[string]*time.Timer
	inFlight int
	cancel   context.CancelFunc

	wake     chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func newActor(run *workflow.Run, dag *workflow.Dag, nodes []*workflow.RunNode) *runActor {
	a := &runActor{
		run:      run,
		dag:      dag,
		nodes:    make(map[string]*workflow.RunNode, len(nodes)),
		order:    make([]string, 0, len(nodes)),
		retrying: make(map[string]*time.Timer),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, n := range nodes {
		a.nodes[n.NodeKey] = n
		a.order = append(a.order, n.NodeKey)
	}
	return a
}

func (a *runActor) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *runActor) closeDone() {
	a.doneOnce.Do(func() { close(a.done) })
}

func (a *runActor) stopTimers() {
	for key, t := range a.retrying {
		t.Stop()
		delete(a.retrying, key)
	}
}

func (a *runActor) snapshot() *Snapshot {
	s := &Snapshot{Run: a.run.Clone(), Nodes: make([]*workflow.RunNode, 0, len(a.order))}
	for _, key := range a.order {
		s.Nodes = append(s.Nodes, a.nodes[key].Clone())
	}
	return s
}

func (a *runActor) firstFailed() *workflow.RunNode {
	for _, key := range a.order {
		if n := a.nodes[key]; n.Status == workflow.NodeFailed {
			return n
		}
	}
	return nil
}

// settled are the nodes whose successors may proceed: SUCCEEDED or SKIPPED.
func (a *runActor) settled() map[string]bool {
	s := make(map[string]bool, len(a.nodes))
	for key, n := range a.nodes {
		if n.Status == workflow.NodeSucceeded || n.Status == workflow.NodeSkipped {
			s[key] = true
		}
	}
	return s
}

type nodeResult struct {
	key    string
	result workflow.ExecuteResult
}

// drive runs the dispatch loop of one run until it is terminal and nothing is
// in flight, or until ctx is done.
func (c *Coordinator) drive(ctx context.Context, a *runActor) {
	persist := context.WithoutCancel(ctx)

	a.mu.Lock()
	if a.run.IsTerminal() {
		a.mu.Unlock()
		c.release(a)
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.cancel = cancel
	if err := a.run.Start(); err != nil {
		a.mu.Unlock()
		c.opts.logger.Error().Err(err).Str("run_id", a.run.ID).Msg("cannot start run")
		return
	}
	c.saveRun(persist, a)
	c.skipUnreachable(persist, a)
	a.mu.Unlock()

	results := make(chan nodeResult, len(a.nodes))
	p := pool.New().WithMaxGoroutines(c.opts.maxParallelism)
	defer p.Wait()

	for {
		a.mu.Lock()
		if a.run.IsTerminal() {
			// canceled: wait for in-flight nodes to report, then stop
			if a.inFlight == 0 {
				a.mu.Unlock()
				break
			}
		} else {
			c.dispatch(runCtx, persist, a, p, results)
			if a.inFlight == 0 && len(a.retrying) == 0 {
				c.finish(persist, a)
				a.mu.Unlock()
				break
			}
		}
		a.mu.Unlock()

		select {
		case res := <-results:
			a.mu.Lock()
			c.complete(persist, a, res)
			a.mu.Unlock()
		case <-a.wake:
		case <-ctx.Done():
			// shutdown: leave the run RUNNING for Recover and drop late results
			a.mu.Lock()
			a.stopTimers()
			n := a.inFlight
			a.mu.Unlock()
			c.opts.logger.Warn().Str("run_id", a.run.ID).Int("in_flight", n).Msg("run abandoned on shutdown")
			return
		}
	}
	c.release(a)
}

// skipUnreachable skips every node the trigger cannot reach.
func (c *Coordinator) skipUnreachable(ctx context.Context, a *runActor) {
	trigger, ok := a.dag.Trigger()
	if !ok {
		return
	}
	reach := schedule.Reachable(a.dag, trigger.Key)
	for _, key := range a.order {
		n := a.nodes[key]
		if key != trigger.Key && !reach[key] && n.Status == workflow.NodeQueued {
			c.transitionNode(ctx, a, n, n.Skip)
		}
	}
}

// dispatch starts every ready node while the per-run cap allows. Nodes whose
// incoming edges are all inactive are skipped, which can make further nodes
// ready, so it repeats until nothing changes.
func (c *Coordinator) dispatch(runCtx, persist context.Context, a *runActor, p *pool.Pool, results chan<- nodeResult) {
	for progressed := true; progressed; {
		progressed = false
		for _, key := range schedule.ReadySet(a.dag, a.settled()) {
			n := a.nodes[key]
			if n.Status != workflow.NodeQueued {
				continue
			}
			if _, waiting := a.retrying[key]; waiting {
				continue
			}
			input, active := c.nodeInput(a, key)
			if !active {
				c.transitionNode(persist, a, n, n.Skip)
				progressed = true
				continue
			}
			if a.inFlight >= c.opts.maxParallelism {
				return
			}
			if err := n.Start(input); err != nil {
				c.opts.logger.Error().Err(err).Str("run_id", a.run.ID).Str("node_key", key).Msg("cannot start node")
				continue
			}
			c.saveNode(persist, a, n)
			a.inFlight++

			dn, _ := a.dag.Node(key)
			req := workflow.ExecuteRequest{
				RunID:    a.run.ID,
				OrgID:    a.run.OrgID,
				NodeKey:  key,
				NodeType: dn.Type,
				Attempt:  n.Attempts,
				Input:    cloneInput(input),
			}
			p.Go(func() {
				results <- nodeResult{key: key, result: c.execute(runCtx, dn, req)}
			})
		}
	}
}

// nodeInput collects the outputs of predecessors over active edges. The
// trigger, which has no incoming edges, receives the run input.
func (c *Coordinator) nodeInput(a *runActor, key string) (map[string]any, bool) {
	incoming := a.dag.Incoming(key)
	if len(incoming) == 0 {
		return cloneInput(a.run.Input), true
	}
	input := make(map[string]any, len(incoming))
	active := false
	for _, e := range incoming {
		pred := a.nodes[e.From]
		if pred == nil || pred.Status != workflow.NodeSucceeded {
			continue
		}
		if e.Condition != "" {
			ok, err := c.opts.evaluator.Evaluate(e.Condition, pred.Output)
			if err != nil {
				c.opts.logger.Warn().Err(err).Str("run_id", a.run.ID).Str("from", e.From).Str("to", e.To).
					Msg("edge condition failed, treating as false")
			}
			if err != nil || !ok {
				continue
			}
		}
		input[e.From] = pred.Output
		active = true
	}
	return input, active
}

// complete records a handler result and applies retry or failure propagation.
func (c *Coordinator) complete(ctx context.Context, a *runActor, res nodeResult) {
	a.inFlight--
	n := a.nodes[res.key]

	if a.run.IsTerminal() {
		late := workflow.NodeError{Code: workflow.CodeRunCanceled, Message: "result discarded, run canceled", NodeKey: res.key}
		c.transitionNode(ctx, a, n, func() error { return n.Fail(late) })
		return
	}

	if res.result.Success {
		c.transitionNode(ctx, a, n, func() error { return n.Succeed(res.result.Data) })
		return
	}

	nerr := *res.result.Error
	nerr.NodeKey = res.key
	if !c.transitionNode(ctx, a, n, func() error { return n.Fail(nerr) }) {
		return
	}

	dn, _ := a.dag.Node(res.key)
	policy := dn.PolicyFor()
	if class, ok := workflow.ClassifyError(nerr.Code); ok && policy.Retries(class) && n.CanRetry(policy.MaxAttempts) {
		delay := c.opts.backoff(policy, n.Attempts)
		if !c.transitionNode(ctx, a, n, n.ResetForRetry) {
			return
		}
		key := res.key
		a.retrying[key] = time.AfterFunc(delay, func() {
			a.mu.Lock()
			delete(a.retrying, key)
			a.mu.Unlock()
			a.signal()
		})
		c.opts.logger.Info().Str("run_id", a.run.ID).Str("node_key", key).Int("attempts", n.Attempts).
			Str("class", string(class)).Dur("backoff", delay).Msg("node retry scheduled")
		return
	}

	for _, key := range schedule.Descendants(a.dag, res.key) {
		if d := a.nodes[key]; d.Status == workflow.NodeQueued {
			c.transitionNode(ctx, a, d, d.Skip)
		}
	}
}

// finish moves the run to its terminal state once nothing can progress.
func (c *Coordinator) finish(ctx context.Context, a *runActor) {
	if failed := a.firstFailed(); failed != nil {
		cause := *failed.Error
		cause.NodeKey = failed.NodeKey
		c.closeOut(ctx, a, cause)
		if err := a.run.Fail(cause); err != nil {
			c.opts.logger.Error().Err(err).Str("run_id", a.run.ID).Str("error_code", cause.Code).Msg("cannot fail run")
		}
		c.saveRun(ctx, a)
		return
	}
	for _, key := range a.order {
		if a.nodes[key].Status == workflow.NodeQueued {
			cause := workflow.NodeError{Code: CodeStalled, Message: "no node could make progress", NodeKey: key}
			c.closeOut(ctx, a, cause)
			if err := a.run.Fail(cause); err != nil {
				c.opts.logger.Error().Err(err).Str("run_id", a.run.ID).Str("error_code", cause.Code).Msg("cannot fail run")
			}
			c.saveRun(ctx, a)
			return
		}
	}
	if err := a.run.Succeed(c.output(a)); err != nil {
		c.opts.logger.Error().Err(err).Str("run_id", a.run.ID).Msg("cannot complete run")
	}
	c.saveRun(ctx, a)
}

// output is the data of the single output node when the DAG has exactly one
// and it succeeded. Otherwise it maps every succeeded leaf to its data.
func (c *Coordinator) output(a *runActor) map[string]any {
	var outputs []string
	for _, dn := range a.dag.Nodes {
		if dn.Type == workflow.NodeOutput {
			outputs = append(outputs, dn.Key)
		}
	}
	if len(outputs) == 1 {
		if n := a.nodes[outputs[0]]; n.Status == workflow.NodeSucceeded {
			return cloneInput(n.Output)
		}
	}
	out := make(map[string]any)
	for _, key := range a.order {
		if n := a.nodes[key]; n.Status == workflow.NodeSucceeded && a.dag.IsLeaf(key) {
			out[key] = n.Output
		}
	}
	return out
}

// closeOut leaves no node open: RUNNING nodes fail with cause, QUEUED nodes
// are skipped.
func (c *Coordinator) closeOut(ctx context.Context, a *runActor, cause workflow.NodeError) {
	a.stopTimers()
	for _, key := range a.order {
		n := a.nodes[key]
		switch n.Status {
		case workflow.NodeRunning:
			e := cause
			e.NodeKey = key
			c.transitionNode(ctx, a, n, func() error { return n.Fail(e) })
		case workflow.NodeQueued:
			c.transitionNode(ctx, a, n, n.Skip)
		}
	}
}

// transitionNode applies op, then persists and reports the new node state.
func (c *Coordinator) transitionNode(ctx context.Context, a *runActor, n *workflow.RunNode, op func() error) bool {
	if err := op(); err != nil {
		c.opts.logger.Error().Err(err).Str("run_id", a.run.ID).Str("node_key", n.NodeKey).Msg("rejected node transition")
		return false
	}
	c.saveNode(ctx, a, n)
	return true
}

func (c *Coordinator) saveNode(ctx context.Context, a *runActor, n *workflow.RunNode) {
	if err := c.runs.SaveRunNode(ctx, n); err != nil {
		c.opts.logger.Error().Err(err).Str("run_id", a.run.ID).Str("node_key", n.NodeKey).Msg("persist node")
	}
	c.opts.events.Emit(workflow.NodeEvent(a.run, n))
}

func (c *Coordinator) saveRun(ctx context.Context, a *runActor) {
	if err := c.runs.SaveRun(ctx, a.run); err != nil {
		c.opts.logger.Error().Err(err).Str("run_id", a.run.ID).Msg("persist run")
	}
	c.opts.events.Emit(workflow.RunEvent(a.run))
}
