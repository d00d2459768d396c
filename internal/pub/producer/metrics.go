package producer

import (
	"context"
	"time"

	"pulsarpub/internal/pub"
	"pulsarpub/internal/pub/metrics"
)

// MetricsProducer wraps a pub.Producer with metrics collection
type MetricsProducer struct {
	producer pub.Producer
	registry *metrics.Registry
}

// NewMetricsProducer creates a new instrumented producer
func NewMetricsProducer(producer pub.Producer, registry *metrics.Registry) pub.Producer {
	return &MetricsProducer{
		producer: producer,
		registry: registry,
	}
}

// Send implements pub.Producer.Send with metrics collection
func (p *MetricsProducer) Send(ctx context.Context, payload []byte, opts pub.MessageOptions) (string, error) {
	start := time.Now()

	msgID, err := p.producer.Send(ctx, payload, opts)
	p.registry.RecordPublish("sync", len(payload), time.Since(start), err)
	p.registry.RecordAck(err)

	return msgID, err
}

// SendAsync implements pub.Producer.SendAsync and counts the acknowledgment
// once the callback fires.
func (p *MetricsProducer) SendAsync(ctx context.Context, payload []byte, opts pub.MessageOptions, callback pub.Callback) error {
	start := time.Now()

	err := p.producer.SendAsync(ctx, payload, opts, func(msgID string, err error) {
		p.registry.DecPendingAcks()
		p.registry.RecordAck(err)
		if callback != nil {
			callback(msgID, err)
		}
	})
	p.registry.RecordPublish("async", len(payload), time.Since(start), err)
	if err == nil {
		p.registry.IncPendingAcks()
	}

	return err
}

// Wait implements pub.Producer.Wait and records the drain time
func (p *MetricsProducer) Wait(ctx context.Context) error {
	start := time.Now()

	err := p.producer.Wait(ctx)
	p.registry.RecordDrain(time.Since(start))

	return err
}

func (p *MetricsProducer) Close() error {
	return p.producer.Close()
}
