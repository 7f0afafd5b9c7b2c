package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span and metric attributes must stay low-cardinality: tiers, operations and
// statuses only. URLs, flip ids and paths go to the logs instead.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation runs fn inside a span named after the operation.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		// the message lives in the span status, not in an attribute
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDBOperation(operation, status, time.Since(start))

	return err
}

// InstrumentDownload instruments a single resource fetch into the given tier.
func (t *Telemetry) InstrumentDownload(ctx context.Context, tier string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.IncrementActiveDownloads()
	defer t.DecrementActiveDownloads()

	err := t.InstrumentOperation(ctx, "download", "downloader", func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("download.tier", tier))

		return fn(ctx)
	})

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDownload(tier, status, time.Since(start))

	return err
}

// InstrumentResolve instruments a facade lookup; the caller reports hit or miss.
func (t *Telemetry) InstrumentResolve(ctx context.Context, fn func(ctx context.Context) (hit bool, err error)) error {
	if t == nil {
		_, err := fn(ctx)

		return err
	}

	var hit bool

	err := t.InstrumentOperation(ctx, "resolve", "caching", func(ctx context.Context) error {
		var err error

		hit, err = fn(ctx)

		return err
	})

	t.RecordCacheLookup(hit)

	return err
}
