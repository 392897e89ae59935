package rewire

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/danpasecinic/rewire"

type telemetry struct {
	tracer trace.Tracer
	meter  metric.Meter
	logger *slog.Logger

	metricsOnce   sync.Once
	nodeDuration  metric.Float64Histogram
	nodeOutcomes  metric.Int64Counter
	activeNodes   metric.Int64UpDownCounter
	solveDuration metric.Float64Histogram
	taskOutcomes  metric.Int64Counter
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider, logger *slog.Logger) *telemetry {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	return &telemetry{
		tracer: tp.Tracer(instrumentationName),
		meter:  mp.Meter(instrumentationName),
		logger: logger,
	}
}

// initMetrics creates the instruments on first use. A failing instrument is
// logged and left nil; recording on it is skipped.
func (t *telemetry) initMetrics() {
	t.metricsOnce.Do(func() {
		var failed []string

		var err error
		t.nodeDuration, err = t.meter.Float64Histogram("rewire_node_duration_seconds",
			metric.WithDescription("Time spent running each node callback"),
			metric.WithUnit("s"),
		)
		if err != nil {
			failed = append(failed, "node_duration: "+err.Error())
		}

		t.nodeOutcomes, err = t.meter.Int64Counter("rewire_node_outcome_total",
			metric.WithDescription("Number of node outcomes by state"),
		)
		if err != nil {
			failed = append(failed, "node_outcomes: "+err.Error())
		}

		t.activeNodes, err = t.meter.Int64UpDownCounter("rewire_active_nodes",
			metric.WithDescription("Number of node callbacks currently running"),
		)
		if err != nil {
			failed = append(failed, "active_nodes: "+err.Error())
		}

		t.solveDuration, err = t.meter.Float64Histogram("rewire_solve_duration_seconds",
			metric.WithDescription("Total time of a solve pass"),
			metric.WithUnit("s"),
		)
		if err != nil {
			failed = append(failed, "solve_duration: "+err.Error())
		}

		t.taskOutcomes, err = t.meter.Int64Counter("rewire_task_outcome_total",
			metric.WithDescription("Number of lifecycle tasks that exited, by outcome"),
		)
		if err != nil {
			failed = append(failed, "task_outcomes: "+err.Error())
		}

		if len(failed) > 0 {
			t.logger.Error("failed to initialize some metrics",
				slog.Int("failed_count", len(failed)),
				slog.Any("errors", failed),
			)
		}
	})
}

func (t *telemetry) startSolve(ctx context.Context, nodes int) (context.Context, trace.Span) {
	t.initMetrics()
	return t.tracer.Start(ctx, "rewire.Solve",
		trace.WithAttributes(attribute.Int("rewire.node_count", nodes)),
	)
}

func (t *telemetry) endSolve(ctx context.Context, span trace.Span, d time.Duration, err error) {
	if t.solveDuration != nil {
		t.solveDuration.Record(ctx, d.Seconds(),
			metric.WithAttributes(attribute.Bool("success", err == nil)),
		)
	}
	endSpan(span, err)
}

func (t *telemetry) startNode(ctx context.Context, n *Node, deps []*Node) (context.Context, trace.Span) {
	labels := make([]string, len(deps))
	for i, d := range deps {
		labels[i] = d.label
	}

	ctx, span := t.tracer.Start(ctx, n.label,
		trace.WithAttributes(
			attribute.String("rewire.node", n.label),
			attribute.String("rewire.node_id", n.id.String()),
			attribute.StringSlice("rewire.dependencies", labels),
		),
	)
	if t.activeNodes != nil {
		t.activeNodes.Add(ctx, 1)
	}
	return ctx, span
}

func (t *telemetry) endNode(ctx context.Context, span trace.Span, n *Node, d time.Duration, err error) {
	if t.activeNodes != nil {
		t.activeNodes.Add(ctx, -1)
	}
	if t.nodeDuration != nil {
		t.nodeDuration.Record(ctx, d.Seconds(),
			metric.WithAttributes(attribute.String("node", n.label)),
		)
	}
	state := StateDone
	if err != nil {
		state = StateFailed
	}
	t.countNode(ctx, n, state)
	endSpan(span, err)
}

func (t *telemetry) countNode(ctx context.Context, n *Node, state State) {
	if t.nodeOutcomes != nil {
		t.nodeOutcomes.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("node", n.label),
				attribute.String("state", state.String()),
			),
		)
	}
}

func (t *telemetry) countTask(ctx context.Context, name string, err error) {
	t.initMetrics()
	if t.taskOutcomes != nil {
		t.taskOutcomes.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("task", name),
				attribute.Bool("success", err == nil),
			),
		)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
