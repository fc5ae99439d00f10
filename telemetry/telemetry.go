// Package telemetry turns run and node transition events into log lines and
// OpenTelemetry metrics.
package telemetry

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/meikuraledutech/workflow"
)

const instrumentationName = "github.com/meikuraledutech/workflow"

// LogSink writes every event through zerolog. Terminal events are logged at
// info, failures at warn, the rest at debug.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink logs through the global logger.
func NewLogSink() *LogSink {
	return &LogSink{logger: log.Logger.With().Str("component", "events").Logger()}
}

func (s *LogSink) Emit(e workflow.Event) {
	var ev *zerolog.Event
	switch {
	case e.ErrorCode != "" && e.Terminal():
		ev = s.logger.Warn()
	case e.Terminal():
		ev = s.logger.Info()
	default:
		ev = s.logger.Debug()
	}
	ev = ev.Str("kind", string(e.Kind)).
		Str("run_id", e.RunID).
		Str("org_id", e.OrgID).
		Str("status", e.Status)
	if e.NodeKey != "" {
		ev = ev.Str("node_key", e.NodeKey).Int("attempts", e.Attempts)
	}
	if e.DurationMs != nil {
		ev = ev.Int64("duration_ms", *e.DurationMs)
	}
	if e.ErrorCode != "" {
		ev = ev.Str("error_code", e.ErrorCode)
	}
	ev.Msg("transition")
}

// MetricSink records transition counts and terminal durations.
type MetricSink struct {
	transitions metric.Int64Counter
	runDuration metric.Float64Histogram
	nodeDur     metric.Float64Histogram
	attempts    metric.Int64Histogram
}

// NewMetricSink creates the instruments on the global meter provider when
// meter is nil.
func NewMetricSink(meter metric.Meter) (*MetricSink, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	transitions, err := meter.Int64Counter("workflow.transitions",
		metric.WithDescription("Run and node state transitions"))
	if err != nil {
		return nil, err
	}
	runDuration, err := meter.Float64Histogram("workflow.run.duration",
		metric.WithDescription("Duration of terminal runs"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	nodeDur, err := meter.Float64Histogram("workflow.node.duration",
		metric.WithDescription("Duration of the final attempt of terminal nodes"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	attempts, err := meter.Int64Histogram("workflow.node.attempts",
		metric.WithDescription("Attempts used by terminal nodes"))
	if err != nil {
		return nil, err
	}
	return &MetricSink{transitions: transitions, runDuration: runDuration, nodeDur: nodeDur, attempts: attempts}, nil
}

func (s *MetricSink) Emit(e workflow.Event) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("kind", string(e.Kind)),
		attribute.String("status", e.Status),
	}
	if e.ErrorCode != "" {
		attrs = append(attrs, attribute.String("error_code", e.ErrorCode))
	}
	s.transitions.Add(ctx, 1, metric.WithAttributes(attrs...))
	if !e.Terminal() {
		return
	}
	switch e.Kind {
	case workflow.EventRun:
		if e.DurationMs != nil {
			s.runDuration.Record(ctx, float64(*e.DurationMs), metric.WithAttributes(attrs...))
		}
	case workflow.EventNode:
		if e.DurationMs != nil {
			s.nodeDur.Record(ctx, float64(*e.DurationMs), metric.WithAttributes(attrs...))
		}
		s.attempts.Record(ctx, int64(e.Attempts), metric.WithAttributes(attrs...))
	}
}

// Multi fans an event out to several sinks in order.
type Multi []workflow.EventSink

func (m Multi) Emit(e workflow.Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}
