package pub

import "context"

// PartitionProducer is a per-partition publisher bound to one connection.
// Its id is the producer id the broker assigned and doubles as the
// partition index reported in message ids.
type PartitionProducer interface {
	ID() uint64
	Name() string
	Topic() string

	// Send writes the frame and blocks until the next response is read.
	Send(ctx context.Context, frame []byte) (*Response, error)

	// SendAsync writes the frame and returns once it is queued.
	SendAsync(ctx context.Context, frame []byte) error

	Close() error
}

// Connection is the acknowledgment stream shared by the partition producers.
type Connection interface {
	// Wait blocks until the next response arrives.
	Wait(ctx context.Context) (*Response, error)

	Close() error
}
