package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "fleet-log-router/delivery"

// Instruments holds the tracer and counters used by the delivery targets.
type Instruments struct {
	tracer    trace.Tracer
	delivered metric.Int64Counter
	sent      metric.Int64Counter
	failed    metric.Int64Counter
}

// NewInstruments creates delivery instruments from the given providers.
func NewInstruments(tp trace.TracerProvider, mp metric.MeterProvider) (*Instruments, error) {
	meter := mp.Meter(instrumentationName)
	delivered, err := meter.Int64Counter("fleetlog.records.delivered",
		metric.WithDescription("Records handed off to a delivery target"),
		metric.WithUnit("{record}"))
	if err != nil {
		return nil, err
	}
	sent, err := meter.Int64Counter("fleetlog.batches.sent",
		metric.WithDescription("Batches accepted by the destination"),
		metric.WithUnit("{batch}"))
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("fleetlog.batches.failed",
		metric.WithDescription("Batches rejected by the destination or lost in transport"),
		metric.WithUnit("{batch}"))
	if err != nil {
		return nil, err
	}
	return &Instruments{
		tracer:    tp.Tracer(instrumentationName),
		delivered: delivered,
		sent:      sent,
		failed:    failed,
	}, nil
}

// NopInstruments returns instruments that record nothing.
func NopInstruments() *Instruments {
	inst, _ := NewInstruments(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	return inst
}

// Tracer returns the tracer for delivery spans.
func (i *Instruments) Tracer() trace.Tracer {
	return i.tracer
}

// BatchSent counts one accepted batch of n records for target.
func (i *Instruments) BatchSent(ctx context.Context, target string, n int) {
	attrs := metric.WithAttributes(attribute.String("target", target))
	i.sent.Add(ctx, 1, attrs)
	i.delivered.Add(ctx, int64(n), attrs)
}

// BatchFailed counts one failed batch for target.
func (i *Instruments) BatchFailed(ctx context.Context, target string) {
	i.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("target", target)))
}
