package emit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns engine events into OpenTelemetry spans.
//
// Each event becomes one span named after event.Msg with the attributes
// coachgraph.thread_id, coachgraph.step and coachgraph.node_id, plus one
// coachgraph.meta.<key> attribute per Meta entry. An event carrying
// "duration_ms" gets a span that starts that long before it ends, so node
// executions show their real extent on a trace timeline. An "error" entry
// marks the span as failed.
//
// Usage:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//	engine, _ := graph.New(reduce, st, graph.WithEmitter(emit.NewOTelEmitter(otel.Tracer("coachgraph"))))
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter. A nil tracer uses the global
// provider's "coachgraph" tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	if tracer == nil {
		tracer = otel.Tracer("coachgraph")
	}
	return &OTelEmitter{tracer: tracer}
}

// Emit records event as a span.
func (o *OTelEmitter) Emit(event Event) {
	o.emit(context.Background(), event)
}

// EmitBatch records several events under ctx, which may carry a parent span.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.emit(ctx, event)
	}
	return nil
}

func (o *OTelEmitter) emit(ctx context.Context, event Event) {
	end := time.Now()
	start := end
	if ms, ok := durationMillis(event.Meta["duration_ms"]); ok {
		start = end.Add(-time.Duration(ms) * time.Millisecond)
	}

	_, span := o.tracer.Start(ctx, event.Msg, trace.WithTimestamp(start))
	span.SetAttributes(
		attribute.String("coachgraph.thread_id", event.ThreadID),
		attribute.Int("coachgraph.step", event.Step),
		attribute.String("coachgraph.node_id", event.NodeID),
	)
	for key, value := range event.Meta {
		span.SetAttributes(metaAttribute("coachgraph.meta."+key, value))
	}
	if msg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, msg)
		span.RecordError(errors.New(msg))
	}
	span.End(trace.WithTimestamp(end))
}

func durationMillis(v interface{}) (int64, bool) {
	switch d := v.(type) {
	case int64:
		return d, true
	case int:
		return int64(d), true
	case float64:
		return int64(d), true
	}
	return 0, false
}

func metaAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case time.Duration:
		return attribute.Int64(key, v.Milliseconds())
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

// Flush forces export of spans buffered by the global tracer provider.
// It is a no-op for providers that do not buffer.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}
