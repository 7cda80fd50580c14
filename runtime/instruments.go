package runtime

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/BDNK1/sagaworker/runtime"

var tracer = otel.Tracer(instrumentationName)

type instruments struct {
	invocations  metric.Int64Counter
	duration     metric.Float64Histogram
	reportErrors metric.Int64Counter
}

func newInstruments() (*instruments, error) {
	meter := otel.Meter(instrumentationName)

	invocations, err := meter.Int64Counter("sagaworker.step.invocations",
		metric.WithDescription("Step handler invocations by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create invocations counter: %w", err)
	}

	duration, err := meter.Float64Histogram("sagaworker.step.duration",
		metric.WithDescription("Step handler invocation duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	reportErrors, err := meter.Int64Counter("sagaworker.report.errors",
		metric.WithDescription("Failed completion/failure reports to the orchestrator"))
	if err != nil {
		return nil, fmt.Errorf("failed to create report errors counter: %w", err)
	}

	return &instruments{
		invocations:  invocations,
		duration:     duration,
		reportErrors: reportErrors,
	}, nil
}

func (i *instruments) recordInvocation(ctx context.Context, stepType, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("step_type", stepType),
		attribute.String("outcome", outcome),
	)
	i.invocations.Add(ctx, 1, attrs)
	i.duration.Record(ctx, elapsed.Seconds(), attrs)
}

func (i *instruments) recordReportError(ctx context.Context, stepType, report string) {
	i.reportErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step_type", stepType),
		attribute.String("report", report),
	))
}
