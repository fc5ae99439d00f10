package telemetry

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/meikuraledutech/workflow"
)

type recorder struct{ events []workflow.Event }

func (r *recorder) Emit(e workflow.Event) { r.events = append(r.events, e) }

func TestLogSink_WritesFields(t *testing.T) {
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer zerolog.SetGlobalLevel(prev)

	var buf bytes.Buffer
	s := &LogSink{logger: zerolog.New(&buf)}
	ms := int64(12)
	s.Emit(workflow.Event{
		Kind: workflow.EventNode, RunID: "run_1", OrgID: "org", NodeKey: "fetch",
		Status: string(workflow.NodeFailed), Attempts: 3, DurationMs: &ms, ErrorCode: "503", At: time.Now(),
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "fetch", line["node_key"])
	assert.Equal(t, "503", line["error_code"])
	assert.EqualValues(t, 3, line["attempts"])
	assert.EqualValues(t, 12, line["duration_ms"])
}

func TestMetricSink_Noop(t *testing.T) {
	s, err := NewMetricSink(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	ms := int64(5)
	assert.NotPanics(t, func() {
		s.Emit(workflow.Event{Kind: workflow.EventRun, Status: string(workflow.RunSucceeded), DurationMs: &ms})
		s.Emit(workflow.Event{Kind: workflow.EventNode, Status: string(workflow.NodeRunning)})
	})
}

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := Multi{a, nil, b}
	m.Emit(workflow.Event{Kind: workflow.EventRun, Status: "RUNNING"})
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}
