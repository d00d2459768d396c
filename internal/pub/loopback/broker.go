// Package loopback is an in-memory broker that accepts SEND frames, checks
// them the way a broker would and answers with encoded receipts. It stands
// in for the network transport in tests and in the e2e driver.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulsarpub/internal/pub"
	"pulsarpub/internal/pub/command"
	"pulsarpub/internal/pub/compression"
	"pulsarpub/internal/pub/frame"
	"pulsarpub/internal/validator"
)

// ErrClosed is returned by partition producers and the connection after Close.
var ErrClosed = errors.New("loopback: closed")

// Message is a frame the broker accepted, decoded.
type Message struct {
	Topic        string
	Partition    uint64
	ProducerName string
	SequenceID   uint64
	MessageID    pub.MessageID
	Key          string
	Properties   map[string]string
	PublishTime  time.Time
	DeliverAt    time.Time
	Compression  compression.Type
	Payload      []byte
}

// Broker owns the response queue shared by its partition producers.
type Broker struct {
	logger      *zap.Logger
	ledgerStart uint64

	mu       sync.Mutex
	ready    [][]byte
	held     [][]byte
	paused   bool
	closed   bool
	reject   int
	messages []Message
	notify   chan struct{}
	done     chan struct{}
}

type Option func(*Broker)

// WithLedgerStart sets the ledger id of partition 0. Partition n writes to
// ledger start+n.
func WithLedgerStart(id uint64) Option {
	return func(b *Broker) {
		b.ledgerStart = id
	}
}

func NewBroker(logger *zap.Logger, opts ...Option) (*Broker, error) {
	if err := validator.Validate("loopback broker", logger); err != nil {
		return nil, fmt.Errorf("failed to validate loopback broker deps: %w", err)
	}

	b := Broker{
		logger:      logger.Named("loopback"),
		ledgerStart: 1,
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(&b)
	}

	return &b, nil
}

// NewPartitionProducer registers a producer for one partition of topic. Its
// producer id is the partition index.
func (b *Broker) NewPartitionProducer(id uint64, topic string) *PartitionProducer {
	return &PartitionProducer{
		broker: b,
		id:     id,
		name:   fmt.Sprintf("standalone-%s-%d", uuid.NewString(), id),
		topic:  topic,
		ledger: b.ledgerStart + id,
	}
}

// Connection returns the acknowledgment stream of the broker.
func (b *Broker) Connection() *Connection {
	return &Connection{broker: b}
}

// Pause holds every response queued from now on until Release.
func (b *Broker) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.paused = true
}

// Release makes the held responses readable, in reverse order when reverse
// is set.
func (b *Broker) Release(reverse bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if reverse {
		slices.Reverse(b.held)
	}
	b.ready = append(b.ready, b.held...)
	b.held = nil
	b.paused = false
	b.signal()
}

// RejectNext corrupts the next n frames before verification, as if they had
// been damaged on the wire.
func (b *Broker) RejectNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.reject += n
}

// Messages returns the accepted messages in acceptance order.
func (b *Broker) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Clone(b.messages)
}

// Close stops the broker. Pending responses are dropped.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)

	return nil
}

func (b *Broker) enqueue(resp []byte) {
	if b.paused {
		b.held = append(b.held, resp)
		return
	}
	b.ready = append(b.ready, resp)
	b.signal()
}

// signal must be called with mu held.
func (b *Broker) signal() {
	if len(b.ready) == 0 {
		return
	}
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// handle verifies one frame and queues the response to it.
func (b *Broker) handle(p *PartitionProducer, raw []byte) error {
	cmd, err := frame.Command(raw)
	if err != nil {
		return fmt.Errorf("failed to read send command: %w", err)
	}
	send, err := command.DecodeSend(cmd)
	if err != nil {
		return fmt.Errorf("failed to decode send command: %w", err)
	}
	if send.ProducerID != p.id {
		return fmt.Errorf("send command for producer %d on producer %d", send.ProducerID, p.id)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	if b.reject > 0 {
		b.reject--
		raw = slices.Clone(raw)
		raw[len(raw)-1] ^= 0xff
	}

	msg, err := decodeMessage(raw)
	if err != nil {
		code := command.ServerErrorUnknown
		if errors.Is(err, frame.ErrChecksumMismatch) {
			code = command.ServerErrorChecksum
		}
		b.logger.Debug("rejected frame",
			zap.Uint64("producer_id", p.id),
			zap.Uint64("sequence_id", send.SequenceID),
			zap.Error(err),
		)

		resp, encErr := command.EncodeSendError(pub.SendError{
			ProducerID: p.id,
			SequenceID: send.SequenceID,
			Code:       code,
			Message:    err.Error(),
		})
		if encErr != nil {
			return encErr
		}
		b.enqueue(resp)
		return nil
	}

	msg.Topic = p.topic
	msg.Partition = p.id
	msg.SequenceID = send.SequenceID
	msg.MessageID = pub.MessageID{
		LedgerID:   p.ledger,
		EntryID:    p.nextEntry,
		Partition:  -1,
		BatchIndex: -1,
	}
	p.nextEntry++
	b.messages = append(b.messages, msg)

	b.logger.Debug("accepted frame",
		zap.Uint64("producer_id", p.id),
		zap.Uint64("sequence_id", send.SequenceID),
		zap.Stringer("message_id", msg.MessageID),
	)

	resp, err := command.EncodeSendReceipt(pub.SendReceipt{
		ProducerID:        p.id,
		SequenceID:        send.SequenceID,
		MessageID:         msg.MessageID,
		HighestSequenceID: send.SequenceID,
	})
	if err != nil {
		return err
	}
	b.enqueue(resp)

	return nil
}

// decodeMessage checks the checksum, the compressed size and the payload
// size of a frame and returns its contents.
func decodeMessage(raw []byte) (Message, error) {
	f, err := frame.Parse(raw)
	if err != nil {
		return Message{}, err
	}

	metadata, err := command.DecodeMessageMetadata(f.Metadata)
	if err != nil {
		return Message{}, fmt.Errorf("failed to decode message metadata: %w", err)
	}

	strategy, err := compression.ForType(compression.Type(metadata.Compression))
	if err != nil {
		return Message{}, err
	}
	packet, err := strategy.Decode(f.Payload, int(metadata.UncompressedSize))
	if err != nil {
		return Message{}, fmt.Errorf("failed to decompress payload: %w", err)
	}
	if len(packet) != int(metadata.UncompressedSize) {
		return Message{}, fmt.Errorf("uncompressed size %d, metadata says %d", len(packet), metadata.UncompressedSize)
	}

	singleBytes, payload, err := frame.SplitPacket(packet)
	if err != nil {
		return Message{}, err
	}
	single, err := command.DecodeSingleMessageMetadata(singleBytes)
	if err != nil {
		return Message{}, fmt.Errorf("failed to decode single message metadata: %w", err)
	}
	if int(single.PayloadSize) != len(payload) {
		return Message{}, fmt.Errorf("payload size %d, metadata says %d", len(payload), single.PayloadSize)
	}

	msg := Message{
		ProducerName: metadata.ProducerName,
		Key:          single.PartitionKey,
		PublishTime:  time.UnixMilli(int64(metadata.PublishTime)),
		Compression:  compression.Type(metadata.Compression),
		Payload:      slices.Clone(payload),
	}
	if metadata.DeliverAtTime != 0 {
		msg.DeliverAt = time.UnixMilli(metadata.DeliverAtTime)
	}
	if len(single.Properties) > 0 {
		msg.Properties = make(map[string]string, len(single.Properties))
		for _, kv := range single.Properties {
			msg.Properties[kv.Key] = kv.Value
		}
	}

	return msg, nil
}

// PartitionProducer writes frames for one partition.
type PartitionProducer struct {
	broker *Broker
	id     uint64
	name   string
	topic  string
	ledger uint64

	// nextEntry is guarded by broker.mu.
	nextEntry uint64
	closed    bool
}

func (p *PartitionProducer) ID() uint64    { return p.id }
func (p *PartitionProducer) Name() string  { return p.name }
func (p *PartitionProducer) Topic() string { return p.topic }

// Send writes the frame and reads the next response from the connection.
func (p *PartitionProducer) Send(ctx context.Context, raw []byte) (*pub.Response, error) {
	if err := p.SendAsync(ctx, raw); err != nil {
		return nil, err
	}

	return p.broker.Connection().Wait(ctx)
}

// SendAsync writes the frame. Its response is queued on the connection.
func (p *PartitionProducer) SendAsync(ctx context.Context, raw []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.isClosed() {
		return ErrClosed
	}

	return p.broker.handle(p, raw)
}

func (p *PartitionProducer) Close() error {
	p.broker.mu.Lock()
	defer p.broker.mu.Unlock()

	p.closed = true
	return nil
}

func (p *PartitionProducer) isClosed() bool {
	p.broker.mu.Lock()
	defer p.broker.mu.Unlock()

	return p.closed
}

// Connection reads responses queued by the broker.
type Connection struct {
	broker *Broker
}

// Wait blocks until a response is readable, ctx is done or the broker is
// closed.
func (c *Connection) Wait(ctx context.Context) (*pub.Response, error) {
	b := c.broker
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		if len(b.ready) > 0 {
			raw := b.ready[0]
			b.ready = b.ready[1:]
			b.signal()
			b.mu.Unlock()

			resp, err := command.DecodeResponse(raw)
			if err != nil {
				return nil, fmt.Errorf("failed to decode response: %w", err)
			}
			return resp, nil
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.done:
		case <-b.notify:
		}
	}
}

// Close closes the broker behind the connection.
func (c *Connection) Close() error {
	return c.broker.Close()
}
