package pub

import "context"

// Callback receives the serialized message id of an acknowledged message, or
// the error that resolved its pending acknowledgment instead.
type Callback func(msgID string, err error)

// Producer defines the interface for publishing messages to a partitioned topic.
type Producer interface {
	// Send publishes a message and blocks until the broker acknowledges it.
	// Returns the serialized message id carrying the partition that sent it.
	Send(ctx context.Context, payload []byte, opts MessageOptions) (string, error)

	// SendAsync publishes a message without waiting for its acknowledgment.
	// The callback runs from Wait once the acknowledgment arrives.
	SendAsync(ctx context.Context, payload []byte, opts MessageOptions, callback Callback) error

	// Wait drains acknowledgments until no asynchronous send is pending.
	Wait(ctx context.Context) error

	// Close closes every partition producer and then the shared connection.
	Close() error
}
