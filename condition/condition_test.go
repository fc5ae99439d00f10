package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_Evaluate(t *testing.T) {
	output := map[string]any{
		"status": "ok",
		"score":  0.8,
		"count":  3,
		"http":   map[string]any{"code": 503},
	}
	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"empty is true", "", true},
		{"blank is true", "   ", true},
		{"string equality", `status == "ok"`, true},
		{"string inequality", `status != "ok"`, false},
		{"float comparison", "score >= 0.5", true},
		{"int parameter", "count > 2 && count < 4", true},
		{"nested field", "[http.code] >= 500", true},
		{"len function", "len(status) == 2", true},
		{"contains function", `contains(status, "k")`, true},
	}
	e := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(tt.expr, output)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluator_Errors(t *testing.T) {
	e := New()

	_, err := e.Evaluate("status ==", map[string]any{"status": "ok"})
	assert.Error(t, err)

	_, err = e.Evaluate("missing > 1", map[string]any{})
	assert.Error(t, err)

	_, err = e.Evaluate("score + 1", map[string]any{"score": 1})
	assert.ErrorContains(t, err, "want bool")

	assert.NoError(t, e.Check(`status == "ok"`))
	assert.Error(t, e.Check("((("))
}
