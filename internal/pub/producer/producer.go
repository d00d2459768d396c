package producer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pulsarpub/internal/pub"
	"pulsarpub/internal/pub/compression"
	"pulsarpub/internal/pub/config"
	"pulsarpub/internal/pub/correlator"
	"pulsarpub/internal/pub/frame"
	"pulsarpub/internal/pub/partition"
	"pulsarpub/internal/validator"
)

// Producer publishes messages to a partitioned topic over one connection.
// It is not safe for concurrent use.
type Producer struct {
	partitions []pub.PartitionProducer
	conn       pub.Connection
	builder    *frame.Builder
	selector   *partition.Selector
	acks       *correlator.Correlator
	logger     *zap.Logger
	now        func() time.Time
	ackTimeout time.Duration

	nextSequenceID uint64
	closed         bool
}

type Option func(*Producer)

// WithSelector sets the partition selector.
func WithSelector(s *partition.Selector) Option {
	return func(p *Producer) {
		p.selector = s
	}
}

// WithClock sets the time source for frame timestamps and ack deadlines.
func WithClock(now func() time.Time) Option {
	return func(p *Producer) {
		p.now = now
	}
}

func NewProducer(partitions []pub.PartitionProducer, conn pub.Connection, opts config.Options, logger *zap.Logger, options ...Option) (*Producer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(partitions) != opts.Partitions {
		return nil, &pub.ConfigurationError{
			Field: "partitions",
			Err:   fmt.Errorf("configured %d, got %d partition producers", opts.Partitions, len(partitions)),
		}
	}

	p := Producer{
		partitions:     partitions,
		conn:           conn,
		selector:       partition.NewSelector(nil),
		logger:         logger,
		now:            time.Now,
		ackTimeout:     opts.AckTimeout,
		nextSequenceID: opts.InitialSequenceID,
	}
	for _, o := range options {
		o(&p)
	}

	if err := validator.Validate("producer", p.partitions, p.conn, p.selector, p.logger, p.now); err != nil {
		return nil, fmt.Errorf("failed to validate producer deps: %w", err)
	}

	strategy, err := compression.New(opts.Compression)
	if err != nil {
		return nil, &pub.ConfigurationError{Field: "compression", Err: err}
	}
	if p.builder, err = frame.NewBuilder(strategy, frame.WithClock(p.now)); err != nil {
		return nil, fmt.Errorf("failed to create frame builder: %w", err)
	}

	p.acks = correlator.New(correlator.WithClock(p.now))
	p.logger = logger.Named("producer").With(
		zap.String("topic", opts.Topic),
		zap.String("compression", strategy.Name()),
	)

	return &p, nil
}

// Send publishes a message and blocks until it is acknowledged.
func (p *Producer) Send(ctx context.Context, payload []byte, opts pub.MessageOptions) (string, error) {
	if p.closed {
		return "", pub.ErrProducerClosed
	}

	part, seq, b, err := p.prepare(payload, opts)
	if err != nil {
		return "", err
	}

	// Asynchronous acks share the connection, so the next response read
	// may not be ours.
	if p.acks.Len() > 0 {
		return p.sendCorrelated(ctx, part, seq, b)
	}

	sendCtx := ctx
	if p.ackTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, p.ackTimeout)
		defer cancel()
	}

	resp, err := part.Send(sendCtx, b)
	for {
		if err != nil {
			p.acks.Abandon(seq)
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				return "", &pub.CorrelationError{SequenceID: seq, Err: pub.ErrAckTimeout}
			}
			return "", fmt.Errorf("failed to send sequence id %d on partition %d: %w", seq, part.ID(), err)
		}

		got, ok := resp.SequenceID()
		if ok && got == seq {
			break
		}
		// A receipt for a send that timed out earlier may still be queued
		// ahead of ours.
		if !ok || !p.acks.Discard(got) {
			p.acks.Abandon(seq)
			return "", &pub.CorrelationError{SequenceID: got, Err: pub.ErrUnknownSequence}
		}
		p.dropLate(got)

		resp, err = p.conn.Wait(sendCtx)
	}

	if resp.Error != nil {
		return "", &pub.BrokerError{SequenceID: seq, Code: resp.Error.Code, Message: resp.Error.Message}
	}

	id := resp.Receipt.MessageID
	id.Partition = int32(part.ID())

	p.logger.Debug("message acknowledged",
		zap.Uint64("sequence_id", seq),
		zap.Uint64("partition", part.ID()),
		zap.Stringer("message_id", id),
	)

	return id.String(), nil
}

func (p *Producer) sendCorrelated(ctx context.Context, part pub.PartitionProducer, seq uint64, b []byte) (string, error) {
	var (
		msgID  string
		ackErr error
		done   bool
	)
	err := p.acks.Register(seq, part.ID(), func(id string, err error) {
		msgID, ackErr, done = id, err, true
	})
	if err != nil {
		return "", err
	}

	if err := part.SendAsync(ctx, b); err != nil {
		p.acks.Abandon(seq)
		return "", fmt.Errorf("failed to send sequence id %d on partition %d: %w", seq, part.ID(), err)
	}

	for !done {
		if err := p.next(ctx); err != nil {
			p.acks.Abandon(seq)
			return "", err
		}
	}

	return msgID, ackErr
}

// SendAsync publishes a message. callback runs from Wait, or from a later
// Send, once the acknowledgment is read.
func (p *Producer) SendAsync(ctx context.Context, payload []byte, opts pub.MessageOptions, callback pub.Callback) error {
	if p.closed {
		return pub.ErrProducerClosed
	}

	part, seq, b, err := p.prepare(payload, opts)
	if err != nil {
		return err
	}

	if err := p.acks.Register(seq, part.ID(), callback); err != nil {
		return err
	}
	if err := part.SendAsync(ctx, b); err != nil {
		p.acks.Abandon(seq)
		return fmt.Errorf("failed to send sequence id %d on partition %d: %w", seq, part.ID(), err)
	}

	p.logger.Debug("message sent",
		zap.Uint64("sequence_id", seq),
		zap.Uint64("partition", part.ID()),
		zap.Int("pending", p.acks.Len()),
	)

	return nil
}

// Wait reads acknowledgments until none is pending.
func (p *Producer) Wait(ctx context.Context) error {
	if p.closed {
		return pub.ErrProducerClosed
	}

	for p.acks.Len() > 0 {
		if err := p.next(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Close closes the partition producers and the connection, then fails any
// acknowledgment still pending with pub.ErrProducerClosed.
func (p *Producer) Close() error {
	if p.closed {
		return pub.ErrProducerClosed
	}
	p.closed = true

	var errs []error
	for _, part := range p.partitions {
		if err := part.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close partition producer %d: %w", part.ID(), err))
		}
	}
	if err := p.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
	}

	if n := p.acks.FailAll(pub.ErrProducerClosed); n > 0 {
		p.logger.Warn("producer closed with pending acknowledgments", zap.Int("pending", n))
	}

	return errors.Join(errs...)
}

// prepare selects a partition, assigns the sequence id and builds the frame.
func (p *Producer) prepare(payload []byte, opts pub.MessageOptions) (pub.PartitionProducer, uint64, []byte, error) {
	part, err := p.selector.Select(p.partitions)
	if err != nil {
		return nil, 0, nil, err
	}

	seq := p.sequenceID(opts)
	b, err := p.builder.Build(part, payload, opts, seq)
	if err != nil {
		return nil, 0, nil, err
	}

	return part, seq, b, nil
}

// sequenceID returns the caller's id when set, else the next counter value.
// The counter never falls behind an id already used.
func (p *Producer) sequenceID(opts pub.MessageOptions) uint64 {
	if opts.SequenceID == nil {
		seq := p.nextSequenceID
		p.nextSequenceID++
		return seq
	}

	seq := *opts.SequenceID
	if seq >= p.nextSequenceID {
		p.nextSequenceID = seq + 1
	}
	return seq
}

// next reads one acknowledgment and resolves it. With an ack timeout the
// read is bounded by the oldest pending deadline, and expired entries are
// failed instead.
func (p *Producer) next(ctx context.Context) error {
	readCtx := ctx
	if p.ackTimeout > 0 {
		if oldest, ok := p.acks.Oldest(); ok {
			remaining := oldest.Add(p.ackTimeout).Sub(p.now())
			if remaining <= 0 {
				p.expire()
				return nil
			}

			var cancel context.CancelFunc
			readCtx, cancel = context.WithTimeout(ctx, remaining)
			defer cancel()
		}
	}

	resp, err := p.conn.Wait(readCtx)
	switch {
	case err == nil:
	case ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
		p.expire()
		return nil
	default:
		return fmt.Errorf("failed to read acknowledgment: %w", err)
	}

	err = p.acks.Resolve(resp)
	var corrErr *pub.CorrelationError
	if errors.Is(err, pub.ErrLateAck) && errors.As(err, &corrErr) {
		p.dropLate(corrErr.SequenceID)
		return nil
	}

	return err
}

func (p *Producer) dropLate(seq uint64) {
	p.logger.Warn("dropped late acknowledgment", zap.Uint64("sequence_id", seq))
}

func (p *Producer) expire() {
	if n := p.acks.Expire(p.ackTimeout); n > 0 {
		p.logger.Warn("acknowledgments timed out",
			zap.Int("expired", n),
			zap.Duration("ack_timeout", p.ackTimeout),
		)
	}
}
