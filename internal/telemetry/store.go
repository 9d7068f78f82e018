package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"drawboard/internal/domain"
	"drawboard/internal/engine"
)

const storeScopeName = "drawboard/store"

// InstrumentedStore decorates an engine.TaskStore with a span and metrics per call.
type InstrumentedStore struct {
	inner  engine.TaskStore
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapStore returns s instrumented, or s itself when telemetry is disabled.
func WrapStore(s engine.TaskStore) engine.TaskStore {
	if !Enabled() {
		return s
	}
	return NewInstrumentedStore(s, Tracer(storeScopeName), Meter(storeScopeName))
}

func NewInstrumentedStore(s engine.TaskStore, tracer trace.Tracer, m metric.Meter) *InstrumentedStore {
	ops, _ := m.Int64Counter("drawboard.store.operations",
		metric.WithDescription("Task store operations executed"),
	)
	dur, _ := m.Float64Histogram("drawboard.store.operation.duration",
		metric.WithDescription("Task store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("drawboard.store.errors",
		metric.WithDescription("Task store operation errors"),
	)
	return &InstrumentedStore{inner: s, tracer: tracer, ops: ops, dur: dur, errs: errs}
}

func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "store."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedStore) Insert(ctx context.Context, task domain.Task, audit ...domain.AuditEntry) (domain.Task, error) {
	attrs := []attribute.KeyValue{attribute.String("drawboard.project.id", task.ProjectID)}
	ctx, span, t := s.op(ctx, "Insert", attrs...)
	v, err := s.inner.Insert(ctx, task, audit...)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) Fetch(ctx context.Context, id string) (domain.Task, error) {
	attrs := []attribute.KeyValue{attribute.String("drawboard.task.id", id)}
	ctx, span, t := s.op(ctx, "Fetch", attrs...)
	v, err := s.inner.Fetch(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) List(ctx context.Context, f domain.TaskFilter) ([]domain.Task, error) {
	attrs := []attribute.KeyValue{
		attribute.String("drawboard.project.id", f.ProjectID),
		attribute.Int("drawboard.filter.statuses", len(f.Statuses)),
	}
	ctx, span, t := s.op(ctx, "List", attrs...)
	v, err := s.inner.List(ctx, f)
	span.SetAttributes(attribute.Int("drawboard.task.count", len(v)))
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) Mutate(ctx context.Context, id string, m domain.TaskMutation) (domain.Task, error) {
	attrs := []attribute.KeyValue{
		attribute.String("drawboard.task.id", id),
		attribute.Int("drawboard.history.appended", len(m.Append)),
	}
	if m.Status != nil {
		attrs = append(attrs, attribute.String("drawboard.task.status", string(*m.Status)))
	}
	ctx, span, t := s.op(ctx, "Mutate", attrs...)
	v, err := s.inner.Mutate(ctx, id, m)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}
