package pub

import (
	"fmt"
	"strconv"
	"strings"
)

// MessageID holds the broker-assigned coordinates of a persisted message.
type MessageID struct {
	LedgerID   uint64
	EntryID    uint64
	Partition  int32
	BatchIndex int32
}

// String serializes the id as "ledger:entry:partition:batch".
func (id MessageID) String() string {
	return fmt.Sprintf("%d:%d:%d:%d", id.LedgerID, id.EntryID, id.Partition, id.BatchIndex)
}

// ParseMessageID parses the form produced by MessageID.String.
func ParseMessageID(s string) (MessageID, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return MessageID{}, fmt.Errorf("invalid message id %q: expected 4 fields, got %d", s, len(parts))
	}

	ledger, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return MessageID{}, fmt.Errorf("invalid message id %q: ledger: %w", s, err)
	}
	entry, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return MessageID{}, fmt.Errorf("invalid message id %q: entry: %w", s, err)
	}
	partition, err := strconv.ParseInt(parts[2], 10, 32)
	if err != nil {
		return MessageID{}, fmt.Errorf("invalid message id %q: partition: %w", s, err)
	}
	batch, err := strconv.ParseInt(parts[3], 10, 32)
	if err != nil {
		return MessageID{}, fmt.Errorf("invalid message id %q: batch index: %w", s, err)
	}

	return MessageID{
		LedgerID:   ledger,
		EntryID:    entry,
		Partition:  int32(partition),
		BatchIndex: int32(batch),
	}, nil
}
