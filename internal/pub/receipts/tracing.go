package receipts

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"pulsarpub/internal/pub"
	"pulsarpub/internal/pub/tracing"
)

// TracedStore wraps a pub.ReceiptStore with distributed tracing
// Layer order: TracedStore -> MetricsStore -> Store (real thing)
type TracedStore struct {
	store  pub.ReceiptStore
	tracer *tracing.Tracer
}

// NewTracedStore creates a new traced receipt store
func NewTracedStore(store pub.ReceiptStore, tracer *tracing.Tracer) pub.ReceiptStore {
	return &TracedStore{
		store:  store,
		tracer: tracer,
	}
}

// Record implements pub.ReceiptStore.Record with distributed tracing
func (s *TracedStore) Record(ctx context.Context, r pub.Receipt) error {
	ctx, span := s.tracer.StartSpan(ctx, "receipts.record")
	span.SetAttributes(s.tracer.DatabaseAttributes("record")...)
	span.SetAttributes(
		attribute.String("pub.receipt_id", r.ID),
		attribute.Int("pub.partition", int(r.Partition)),
	)

	err := s.store.Record(ctx, r)
	s.tracer.End(ctx, err)

	return err
}

// Get implements pub.ReceiptStore.Get with distributed tracing
func (s *TracedStore) Get(ctx context.Context, key string) (*pub.Receipt, error) {
	ctx, span := s.tracer.StartSpan(ctx, "receipts.get")
	span.SetAttributes(s.tracer.DatabaseAttributes("get")...)
	span.SetAttributes(attribute.String("pub.receipt_id", key))

	r, err := s.store.Get(ctx, key)
	s.tracer.End(ctx, err)

	return r, err
}
