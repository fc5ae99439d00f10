package workflow

import (
	"context"
	"time"
)

// Error codes produced by the coordinator itself rather than by a handler.
const (
	CodeHandlerNotFound = "handler_not_found"
	CodeHandlerPanic    = "handler_panic"
	CodeHandlerError    = "handler_error"
	CodeTimeout         = "timeout"
	CodeRunCanceled     = "run_canceled"
	CodeSecrets         = "secrets_unavailable"
)

// ExecuteRequest identifies the node a handler is asked to execute.
type ExecuteRequest struct {
	RunID    string         `json:"runId"`
	OrgID    string         `json:"orgId"`
	NodeKey  string         `json:"nodeKey"`
	NodeType NodeType       `json:"nodeType"`
	Attempt  int            `json:"attempt"`
	Input    map[string]any `json:"input,omitempty"`
}

// ExecuteResult is what a handler reports back. Data is set on success,
// Error on failure.
type ExecuteResult struct {
	Success    bool           `json:"success"`
	Data       map[string]any `json:"data,omitempty"`
	Error      *NodeError     `json:"error,omitempty"`
	DurationMs int64          `json:"durationMs"`
}

// Handler performs the side effect of one node type. The context is
// cancelled when the node times out or the run is canceled; honouring it is
// optional.
type Handler interface {
	Execute(ctx context.Context, req ExecuteRequest, config map[string]any, secrets map[string]string) ExecuteResult
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req ExecuteRequest, config map[string]any, secrets map[string]string) ExecuteResult

func (f HandlerFunc) Execute(ctx context.Context, req ExecuteRequest, config map[string]any, secrets map[string]string) ExecuteResult {
	return f(ctx, req, config, secrets)
}

// HandlerRegistry resolves the handler for a node type.
type HandlerRegistry interface {
	Lookup(t NodeType) (Handler, bool)
}

// ConditionEvaluator decides whether a conditional edge is taken given the
// output of its source node.
type ConditionEvaluator interface {
	Evaluate(condition string, output map[string]any) (bool, error)
}

// SecretsProvider supplies the secrets passed to a node's handler.
type SecretsProvider interface {
	Secrets(ctx context.Context, orgID string, node DagNode) (map[string]string, error)
}

// Succeeded builds a successful result.
func Succeeded(data map[string]any, took time.Duration) ExecuteResult {
	return ExecuteResult{Success: true, Data: data, DurationMs: took.Milliseconds()}
}

// Failed builds a failed result.
func Failed(code, message string, took time.Duration) ExecuteResult {
	return ExecuteResult{Error: &NodeError{Code: code, Message: message}, DurationMs: took.Milliseconds()}
}
