package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/toolhub/ghmcp"

// Providers owns the SDK tracer and meter providers. Finished spans and
// periodic metric snapshots are exported as log records.
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

func NewProviders(logger *slog.Logger, version string, interval time.Duration) *Providers {
	res := resource.NewSchemaless(
		attribute.String("service.name", "ghmcp"),
		attribute.String("service.version", version),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(&logSpanExporter{logger: logger})),
		sdktrace.WithResource(res),
	)

	reader := sdkmetric.NewPeriodicReader(&logMetricExporter{logger: logger}, sdkmetric.WithInterval(interval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	return &Providers{tp: tp, mp: mp}
}

// Install makes the providers the process-wide otel defaults.
func (p *Providers) Install() {
	otel.SetTracerProvider(p.tp)
	otel.SetMeterProvider(p.mp)
}

func (p *Providers) Tracer() trace.Tracer { return p.tp.Tracer(instrumentationName) }

func (p *Providers) Meter() metric.Meter { return p.mp.Meter(instrumentationName) }

// Shutdown flushes pending spans and a last metric snapshot.
func (p *Providers) Shutdown(ctx context.Context) error {
	return errors.Join(p.tp.Shutdown(ctx), p.mp.Shutdown(ctx))
}

type logSpanExporter struct {
	logger *slog.Logger
}

func (e *logSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		args := []any{
			"span", s.Name(),
			"trace_id", s.SpanContext().TraceID().String(),
			"span_id", s.SpanContext().SpanID().String(),
			"duration_ms", s.EndTime().Sub(s.StartTime()).Milliseconds(),
			"status", s.Status().Code.String(),
		}
		if d := s.Status().Description; d != "" {
			args = append(args, "status_message", d)
		}
		if attrs := formatAttributes(s.Attributes()); attrs != "" {
			args = append(args, "attributes", attrs)
		}
		e.logger.DebugContext(ctx, "otel span", args...)
	}
	return nil
}

func (e *logSpanExporter) Shutdown(context.Context) error { return nil }

type logMetricExporter struct {
	logger *slog.Logger
}

func (e *logMetricExporter) Temporality(k sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(k)
}

func (e *logMetricExporter) Aggregation(k sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(k)
}

func (e *logMetricExporter) Export(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			for _, point := range dataPoints(m.Data) {
				e.logger.DebugContext(ctx, "otel metric", "metric", m.Name, "unit", m.Unit, "value", point)
			}
		}
	}
	return nil
}

func (e *logMetricExporter) ForceFlush(context.Context) error { return nil }

func (e *logMetricExporter) Shutdown(context.Context) error { return nil }

// dataPoints renders each point of the aggregations OTelSink produces.
func dataPoints(data metricdata.Aggregation) []string {
	var out []string
	switch d := data.(type) {
	case metricdata.Sum[int64]:
		for _, p := range d.DataPoints {
			out = append(out, pointString(p.Attributes, fmt.Sprint(p.Value)))
		}
	case metricdata.Gauge[int64]:
		for _, p := range d.DataPoints {
			out = append(out, pointString(p.Attributes, fmt.Sprint(p.Value)))
		}
	case metricdata.Histogram[float64]:
		for _, p := range d.DataPoints {
			out = append(out, pointString(p.Attributes, fmt.Sprintf("count=%d sum=%.1f", p.Count, p.Sum)))
		}
	}
	return out
}

func pointString(set attribute.Set, value string) string {
	if attrs := formatAttributes(set.ToSlice()); attrs != "" {
		return "{" + attrs + "} " + value
	}
	return value
}

func formatAttributes(kvs []attribute.KeyValue) string {
	parts := make([]string, 0, len(kvs))
	for _, kv := range kvs {
		parts = append(parts, string(kv.Key)+"="+kv.Value.Emit())
	}
	return strings.Join(parts, ",")
}
