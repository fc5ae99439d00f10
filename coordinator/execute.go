package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meikuraledutech/workflow"
)

// execute calls the node's handler with its timeout applied. The handler runs
// on its own goroutine so a handler that ignores its context still cannot
// hold the node past the timeout or a cancel.
func (c *Coordinator) execute(ctx context.Context, node workflow.DagNode, req workflow.ExecuteRequest) workflow.ExecuteResult {
	start := time.Now()

	h, ok := c.handlers.Lookup(node.Type)
	if !ok {
		return workflow.Failed(workflow.CodeHandlerNotFound, fmt.Sprintf("no handler for node type %q", node.Type), time.Since(start))
	}

	// triggers only hand on the run input and are never given secrets
	var secrets map[string]string
	if c.opts.secrets != nil && !node.Type.IsTrigger() {
		s, err := c.opts.secrets.Secrets(ctx, req.OrgID, node)
		if err != nil {
			return workflow.Failed(workflow.CodeSecrets, err.Error(), time.Since(start))
		}
		secrets = s
	}

	if node.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(node.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	done := make(chan workflow.ExecuteResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.opts.logger.Error().Str("run_id", req.RunID).Str("node_key", req.NodeKey).
					Interface("panic", r).Msg("handler panicked")
				done <- workflow.Failed(workflow.CodeHandlerPanic, fmt.Sprint(r), time.Since(start))
			}
		}()
		done <- h.Execute(ctx, req, cloneInput(node.Config), secrets)
	}()

	var res workflow.ExecuteResult
	select {
	case res = <-done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return workflow.Failed(workflow.CodeTimeout, fmt.Sprintf("node exceeded %dms", node.TimeoutMs), time.Since(start))
		}
		return workflow.Failed(workflow.CodeRunCanceled, "run canceled", time.Since(start))
	}
	return normalize(res, time.Since(start))
}

func normalize(res workflow.ExecuteResult, took time.Duration) workflow.ExecuteResult {
	if res.DurationMs <= 0 {
		res.DurationMs = took.Milliseconds()
	}
	if res.Success {
		res.Error = nil
		if res.Data == nil {
			res.Data = map[string]any{}
		}
		return res
	}
	if res.Error == nil {
		res.Error = &workflow.NodeError{Code: workflow.CodeHandlerError, Message: "handler reported failure without an error"}
	}
	res.Data = nil
	return res
}
