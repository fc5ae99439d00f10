// Package handlers holds the node-type to handler registry and the built-in
// handlers for node types whose behaviour needs no external service.
package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/meikuraledutech/workflow"
)

// ToolWildcard registers a handler for every tool_* type without an exact
// registration of its own.
const ToolWildcard workflow.NodeType = "tool_*"

// Registry resolves handlers by node type. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[workflow.NodeType]workflow.Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[workflow.NodeType]workflow.Handler)}
}

// WithBuiltins returns a registry preloaded with the built-in handlers.
func WithBuiltins() *Registry {
	r := NewRegistry()
	for _, t := range []workflow.NodeType{workflow.NodeManual, workflow.NodeWebhook, workflow.NodeSchedule} {
		r.Register(t, Passthrough())
	}
	r.Register(workflow.NodeTransform, Transform())
	r.Register(workflow.NodeOutput, Output())
	return r
}

// Register binds h to t, replacing any previous binding.
func (r *Registry) Register(t workflow.NodeType, h workflow.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// RegisterFunc is Register for a plain function.
func (r *Registry) RegisterFunc(t workflow.NodeType, f workflow.HandlerFunc) {
	r.Register(t, f)
}

// Lookup implements workflow.HandlerRegistry.
func (r *Registry) Lookup(t workflow.NodeType) (workflow.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[t]; ok {
		return h, true
	}
	if t.IsTool() {
		h, ok := r.handlers[ToolWildcard]
		return h, ok
	}
	return nil, false
}

// Types lists the registered node types.
func (r *Registry) Types() []workflow.NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]workflow.NodeType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}

// Passthrough returns the node input unchanged. Trigger nodes use it to hand
// the run input to their successors.
func Passthrough() workflow.Handler {
	return workflow.HandlerFunc(func(_ context.Context, req workflow.ExecuteRequest, _ map[string]any, _ map[string]string) workflow.ExecuteResult {
		start := time.Now()
		return workflow.Succeeded(copyInput(req.Input), time.Since(start))
	})
}

// Transform merges config["set"] over the node input. With no config it
// behaves like Passthrough.
func Transform() workflow.Handler {
	return workflow.HandlerFunc(func(_ context.Context, req workflow.ExecuteRequest, config map[string]any, _ map[string]string) workflow.ExecuteResult {
		start := time.Now()
		out := copyInput(req.Input)
		if set, ok := config["set"].(map[string]any); ok {
			for k, v := range set {
				out[k] = v
			}
		}
		return workflow.Succeeded(out, time.Since(start))
	})
}

// Output collects its predecessors' outputs. A single predecessor's output is
// unwrapped so the run output is that node's data.
func Output() workflow.Handler {
	return workflow.HandlerFunc(func(_ context.Context, req workflow.ExecuteRequest, _ map[string]any, _ map[string]string) workflow.ExecuteResult {
		start := time.Now()
		if len(req.Input) == 1 {
			for _, v := range req.Input {
				if m, ok := v.(map[string]any); ok {
					return workflow.Succeeded(copyInput(m), time.Since(start))
				}
			}
		}
		return workflow.Succeeded(copyInput(req.Input), time.Since(start))
	})
}

func copyInput(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
