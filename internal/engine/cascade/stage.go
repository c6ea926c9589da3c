package cascade

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/kitt/internal/engine"
	"github.com/MrWong99/kitt/internal/observe"
)

// runStage runs one provider call inside its own span, records its latency in
// hist and the provider request outcome, and wraps a failure in a
// [*engine.StageError].
func runStage[T any](ctx context.Context, e *Engine, stage engine.Stage, hist metric.Float64Histogram, fn func(context.Context) (T, error)) (T, error) {
	provider := e.names[stage]
	ctx, span := observe.StartSpan(ctx, "cascade."+stage.String(),
		trace.WithAttributes(
			observe.Attr("kitt.stage", stage.String()),
			observe.Attr("kitt.provider", provider),
		),
	)
	defer span.End()

	start := time.Now()
	v, err := fn(ctx)
	elapsed := time.Since(start)

	hist.Record(ctx, elapsed.Seconds(), metric.WithAttributes(observe.Attr("provider", provider)))

	if err != nil {
		e.metrics.RecordProviderRequest(ctx, provider, stage.Kind(), "error")
		e.metrics.RecordProviderError(ctx, provider, stage.Kind())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observe.Logger(ctx).Error("turn stage failed",
			"stage", stage.String(),
			"provider", provider,
			"duration", elapsed,
			"err", err,
		)
		var zero T
		return zero, &engine.StageError{Stage: stage, Err: err}
	}

	e.metrics.RecordProviderRequest(ctx, provider, stage.Kind(), "ok")
	observe.Logger(ctx).Debug("turn stage completed",
		"stage", stage.String(),
		"provider", provider,
		"duration", elapsed,
	)
	return v, nil
}
