// Package receipts persists the receipt ledger of acknowledged messages.
package receipts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	"pulsarpub/internal/pub"
	"pulsarpub/internal/validator"
)

// DefaultExpiry is how long a receipt is kept.
const DefaultExpiry = 7 * 24 * time.Hour

// ErrNotFound is returned by Get for an unknown receipt key.
var ErrNotFound = errors.New("receipt not found")

// Documents is the typed collection receipts are written to.
// *couchbase.Couchbase[pub.Receipt] implements it.
type Documents interface {
	Insert(ctx context.Context, key string, value pub.Receipt, opts *gocb.InsertOptions) error
	Get(ctx context.Context, key string, opts *gocb.GetOptions) (*pub.Receipt, error)
}

// Store implements pub.ReceiptStore on a Couchbase collection.
type Store struct {
	docs   Documents
	expiry time.Duration
}

type Option func(*Store)

// WithExpiry overrides DefaultExpiry.
func WithExpiry(d time.Duration) Option {
	return func(s *Store) {
		s.expiry = d
	}
}

func NewStore(docs Documents, opts ...Option) (*Store, error) {
	s := Store{
		docs:   docs,
		expiry: DefaultExpiry,
	}
	for _, opt := range opts {
		opt(&s)
	}

	if err := validator.Validate("receipt store", s.docs, s.expiry); err != nil {
		return nil, fmt.Errorf("failed to validate receipt store deps: %w", err)
	}

	return &s, nil
}

// Record implements pub.ReceiptStore.Record. A receipt that already exists
// was recorded by an earlier attempt and counts as success.
func (s *Store) Record(ctx context.Context, r pub.Receipt) error {
	err := s.docs.Insert(ctx, r.ID, r, &gocb.InsertOptions{Expiry: s.expiry})
	switch {
	case err == nil, errors.Is(err, gocb.ErrDocumentExists):
		return nil
	default:
		return fmt.Errorf("failed to record receipt %s: %w", r.ID, err)
	}
}

// Get implements pub.ReceiptStore.Get.
func (s *Store) Get(ctx context.Context, key string) (*pub.Receipt, error) {
	r, err := s.docs.Get(ctx, key, nil)
	switch {
	case err == nil:
		return r, nil
	case errors.Is(err, gocb.ErrDocumentNotFound):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	default:
		return nil, fmt.Errorf("failed to get receipt %s: %w", key, err)
	}
}
