package pub

import (
	"context"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	"pulsarpub/internal/couchbase"
)

// Receipt records one acknowledged message in the receipt ledger.
type Receipt struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	MessageID   string    `json:"messageID"`
	LedgerID    uint64    `json:"ledgerID"`
	EntryID     uint64    `json:"entryID"`
	Partition   int32     `json:"partition"`
	Key         string    `json:"key,omitempty"`
	PayloadSize int       `json:"payloadSize"`
	RecordedAt  time.Time `json:"recordedAt"`

	couchbase.Cas `json:"-"`
}

// ReceiptStore persists receipts of acknowledged messages.
type ReceiptStore interface {
	// Record stores the receipt. Recording the same receipt twice is not an error.
	Record(ctx context.Context, r Receipt) error

	// Get loads a receipt by its key.
	Get(ctx context.Context, key string) (*Receipt, error)
}

// NewReceipt builds the ledger entry for an acknowledged message id.
func NewReceipt(topic, msgID, key string, payloadSize int, now time.Time) (Receipt, error) {
	id, err := ParseMessageID(msgID)
	if err != nil {
		return Receipt{}, err
	}

	return Receipt{
		ID:          ReceiptKey(topic, msgID),
		Topic:       topic,
		MessageID:   msgID,
		LedgerID:    id.LedgerID,
		EntryID:     id.EntryID,
		Partition:   id.Partition,
		Key:         key,
		PayloadSize: payloadSize,
		RecordedAt:  now.UTC(),
	}, nil
}

// NewReceiptsStore returns the typed collection receipts are stored in.
func NewReceiptsStore(cluster *gocb.Cluster, bucket *gocb.Bucket, scope string) (*couchbase.Couchbase[Receipt], error) {
	return couchbase.NewCouchbase[Receipt](cluster, bucket, scope, "receipts")
}

func ReceiptKey(topic, msgID string) string {
	return fmt.Sprintf("receipt::%s::%s", topic, msgID)
}
