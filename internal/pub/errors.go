package pub

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPartitions is returned when a send is attempted without any partition producer.
	ErrNoPartitions = errors.New("no partition producers available")
	// ErrUnknownSequence marks an acknowledgment whose sequence id has no pending entry.
	ErrUnknownSequence = errors.New("acknowledgment for unknown sequence id")
	// ErrDuplicateSequence marks a send whose sequence id is already in flight.
	ErrDuplicateSequence = errors.New("sequence id already in flight")
	// ErrLateAck marks an acknowledgment for a sequence id that was already
	// given up on, after a timeout or a canceled send.
	ErrLateAck = errors.New("late acknowledgment for abandoned sequence id")
	// ErrAckTimeout resolves a pending acknowledgment that outlived the ack timeout.
	ErrAckTimeout = errors.New("acknowledgment timed out")
	// ErrProducerClosed is returned by a producer after Close.
	ErrProducerClosed = errors.New("producer closed")
)

// ConfigurationError reports invalid producer options. It is only returned
// while constructing a producer.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid producer configuration %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// EncodeError reports a command or metadata structure that failed to serialize.
type EncodeError struct {
	Structure string
	Err       error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("failed to encode %s: %v", e.Structure, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// CorrelationError reports an acknowledgment that cannot be matched to
// exactly one pending send.
type CorrelationError struct {
	SequenceID uint64
	Err        error
}

func (e *CorrelationError) Error() string {
	return fmt.Sprintf("sequence id %d: %v", e.SequenceID, e.Err)
}

func (e *CorrelationError) Unwrap() error {
	return e.Err
}

// BrokerError is a SEND_ERROR returned by the broker for one message.
type BrokerError struct {
	SequenceID uint64
	Code       int32
	Message    string
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker rejected sequence id %d (code %d): %s", e.SequenceID, e.Code, e.Message)
}
