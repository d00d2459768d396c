package receipts

import (
	"context"
	"time"

	"pulsarpub/internal/pub"
	"pulsarpub/internal/pub/metrics"
)

// MetricsStore wraps a pub.ReceiptStore with metrics collection
type MetricsStore struct {
	store    pub.ReceiptStore
	registry *metrics.Registry
}

// NewMetricsStore creates a new instrumented receipt store
func NewMetricsStore(store pub.ReceiptStore, registry *metrics.Registry) pub.ReceiptStore {
	return &MetricsStore{
		store:    store,
		registry: registry,
	}
}

// Record implements pub.ReceiptStore.Record with metrics collection
func (s *MetricsStore) Record(ctx context.Context, r pub.Receipt) error {
	start := time.Now()

	err := s.store.Record(ctx, r)
	s.registry.RecordReceiptOperation("record", time.Since(start), err)

	return err
}

// Get implements pub.ReceiptStore.Get with metrics collection
func (s *MetricsStore) Get(ctx context.Context, key string) (*pub.Receipt, error) {
	start := time.Now()

	r, err := s.store.Get(ctx, key)
	s.registry.RecordReceiptOperation("get", time.Since(start), err)

	return r, err
}
