package metrics

import (
	"context"
	"errors"
	"time"

	gocid "github.com/ipfs/go-cid"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/systemshift/memex-log/internal/dag"
)

// StoreMetrics is the subset of *Prometheus used by InstrumentedStore.
type StoreMetrics interface {
	ObserveStoreOp(op, result string, d time.Duration, bytes int)
}

// InstrumentedStore decorates a dag.ContentStore with metrics and spans.
type InstrumentedStore struct {
	inner   dag.ContentStore
	metrics StoreMetrics
	tracer  oteltrace.Tracer
	now     func() time.Time
}

// NewInstrumentedStore wraps inner. A nil tracer disables spans.
func NewInstrumentedStore(inner dag.ContentStore, m StoreMetrics, tracer oteltrace.Tracer) *InstrumentedStore {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &InstrumentedStore{inner: inner, metrics: m, tracer: tracer, now: time.Now}
}

// Put delegates to the wrapped store.
func (s *InstrumentedStore) Put(ctx context.Context, data []byte) (gocid.Cid, error) {
	ctx, span := s.tracer.Start(ctx, "store.Put", oteltrace.WithAttributes(attribute.Int("block.bytes", len(data))))
	defer span.End()

	start := s.now()
	c, err := s.inner.Put(ctx, data)
	s.observe(span, "put", start, len(data), err)
	if err == nil {
		span.SetAttributes(attribute.String("block.cid", c.String()))
	}
	return c, err
}

// Get delegates to the wrapped store.
func (s *InstrumentedStore) Get(ctx context.Context, c gocid.Cid) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "store.Get", oteltrace.WithAttributes(attribute.String("block.cid", c.String())))
	defer span.End()

	start := s.now()
	data, err := s.inner.Get(ctx, c)
	s.observe(span, "get", start, len(data), err)
	return data, err
}

func (s *InstrumentedStore) observe(span oteltrace.Span, op string, start time.Time, n int, err error) {
	result := "ok"
	switch {
	case errors.Is(err, dag.ErrNotFound):
		result = "not_found"
		n = 0
	case err != nil:
		result = "error"
		n = 0
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	if s.metrics != nil {
		s.metrics.ObserveStoreOp(op, result, s.now().Sub(start), n)
	}
}

var _ dag.ContentStore = (*InstrumentedStore)(nil)
