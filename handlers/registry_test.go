package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/workflow"
)

func execute(t *testing.T, r *Registry, nt workflow.NodeType, input, config map[string]any) workflow.ExecuteResult {
	t.Helper()
	h, ok := r.Lookup(nt)
	require.True(t, ok, "no handler for %s", nt)
	return h.Execute(context.Background(), workflow.ExecuteRequest{NodeType: nt, Input: input}, config, nil)
}

func TestRegistry_Lookup(t *testing.T) {
	r := WithBuiltins()

	_, ok := r.Lookup(workflow.NodeAgentTask)
	assert.False(t, ok)
	_, ok = r.Lookup("tool_slack")
	assert.False(t, ok)

	calls := 0
	r.RegisterFunc(ToolWildcard, func(context.Context, workflow.ExecuteRequest, map[string]any, map[string]string) workflow.ExecuteResult {
		calls++
		return workflow.Succeeded(map[string]any{"via": "wildcard"}, 0)
	})
	r.RegisterFunc("tool_http", func(context.Context, workflow.ExecuteRequest, map[string]any, map[string]string) workflow.ExecuteResult {
		return workflow.Succeeded(map[string]any{"via": "exact"}, 0)
	})

	assert.Equal(t, "wildcard", execute(t, r, "tool_slack", nil, nil).Data["via"])
	assert.Equal(t, "exact", execute(t, r, "tool_http", nil, nil).Data["via"])
	assert.Equal(t, 1, calls)

	_, ok = r.Lookup(workflow.NodeTransform)
	assert.True(t, ok)
	assert.Contains(t, r.Types(), ToolWildcard)
}

func TestBuiltins(t *testing.T) {
	r := WithBuiltins()
	in := map[string]any{"q": "hello"}

	res := execute(t, r, workflow.NodeManual, in, nil)
	require.True(t, res.Success)
	assert.Equal(t, in, res.Data)
	res.Data["q"] = "changed"
	assert.Equal(t, "hello", in["q"])

	res = execute(t, r, workflow.NodeTransform, in, map[string]any{"set": map[string]any{"lang": "en"}})
	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"q": "hello", "lang": "en"}, res.Data)

	res = execute(t, r, workflow.NodeOutput, map[string]any{"fetch": map[string]any{"body": "x"}}, nil)
	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"body": "x"}, res.Data)

	res = execute(t, r, workflow.NodeOutput, map[string]any{"a": map[string]any{"v": 1}, "b": map[string]any{"v": 2}}, nil)
	assert.Len(t, res.Data, 2)
	assert.LessOrEqual(t, res.DurationMs, time.Second.Milliseconds())
}
