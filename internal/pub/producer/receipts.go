package producer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"pulsarpub/internal/pub"
)

// ReceiptProducer records a pub.Receipt for every acknowledged message.
// Synchronous sends are recorded immediately; asynchronous acknowledgments
// are buffered by their callbacks and recorded after Wait.
type ReceiptProducer struct {
	producer pub.Producer
	store    pub.ReceiptStore
	topic    string
	logger   *zap.Logger

	mu      sync.Mutex
	pending []pub.Receipt
}

// NewReceiptProducer creates a producer that records receipts in store
func NewReceiptProducer(producer pub.Producer, store pub.ReceiptStore, topic string, logger *zap.Logger) pub.Producer {
	return &ReceiptProducer{
		producer: producer,
		store:    store,
		topic:    topic,
		logger:   logger.Named("receipts"),
	}
}

func (p *ReceiptProducer) Send(ctx context.Context, payload []byte, opts pub.MessageOptions) (string, error) {
	msgID, err := p.producer.Send(ctx, payload, opts)
	if err != nil {
		return "", err
	}

	if r, ok := p.receipt(msgID, opts.Key, len(payload)); ok {
		p.record(ctx, r)
	}

	// Acks of earlier async sends may have resolved during this send.
	p.flush(ctx)

	return msgID, nil
}

func (p *ReceiptProducer) SendAsync(ctx context.Context, payload []byte, opts pub.MessageOptions, callback pub.Callback) error {
	size := len(payload)
	return p.producer.SendAsync(ctx, payload, opts, func(msgID string, err error) {
		if err == nil {
			if r, ok := p.receipt(msgID, opts.Key, size); ok {
				p.mu.Lock()
				p.pending = append(p.pending, r)
				p.mu.Unlock()
			}
		}
		if callback != nil {
			callback(msgID, err)
		}
	})
}

func (p *ReceiptProducer) Wait(ctx context.Context) error {
	err := p.producer.Wait(ctx)
	p.flush(ctx)

	return err
}

func (p *ReceiptProducer) Close() error {
	err := p.producer.Close()
	p.flush(context.Background())

	return err
}

func (p *ReceiptProducer) receipt(msgID, key string, size int) (pub.Receipt, bool) {
	r, err := pub.NewReceipt(p.topic, msgID, key, size, time.Now())
	if err != nil {
		p.logger.Error("failed to build receipt", zap.String("message_id", msgID), zap.Error(err))
		return pub.Receipt{}, false
	}
	return r, true
}

func (p *ReceiptProducer) flush(ctx context.Context) {
	p.mu.Lock()
	receipts := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, r := range receipts {
		p.record(ctx, r)
	}
}

func (p *ReceiptProducer) record(ctx context.Context, r pub.Receipt) {
	if err := p.store.Record(ctx, r); err != nil {
		p.logger.Error("failed to record receipt",
			zap.String("receipt_id", r.ID),
			zap.String("message_id", r.MessageID),
			zap.Error(err),
		)
		return
	}

	p.logger.Debug("receipt recorded", zap.String("receipt_id", r.ID))
}
