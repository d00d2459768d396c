package producer

import (
	"context"

	"pulsarpub/internal/pub"
	"pulsarpub/internal/pub/tracing"
)

// TracedProducer wraps a pub.Producer with distributed tracing
// Layer order: TracedProducer -> MetricsProducer -> ReceiptProducer -> Producer (real thing)
type TracedProducer struct {
	producer pub.Producer
	tracer   *tracing.Tracer
}

// NewTracedProducer creates a new traced producer that wraps a metrics producer
func NewTracedProducer(producer pub.Producer, tracer *tracing.Tracer) pub.Producer {
	return &TracedProducer{
		producer: producer,
		tracer:   tracer,
	}
}

// Send implements pub.Producer.Send with distributed tracing
func (p *TracedProducer) Send(ctx context.Context, payload []byte, opts pub.MessageOptions) (string, error) {
	ctx, span := p.tracer.StartSpan(ctx, "producer.send")
	span.SetAttributes(p.tracer.MessageAttributes(opts.Key, len(payload), opts.SequenceID)...)

	msgID, err := p.producer.Send(ctx, payload, opts)
	if err == nil {
		span.SetAttributes(p.tracer.MessageIDAttributes(msgID)...)
	}
	p.tracer.End(ctx, err)

	return msgID, err
}

// SendAsync implements pub.Producer.SendAsync. The span covers the write
// only; the acknowledgment is traced by the producer.wait span that reads it.
func (p *TracedProducer) SendAsync(ctx context.Context, payload []byte, opts pub.MessageOptions, callback pub.Callback) error {
	ctx, span := p.tracer.StartSpan(ctx, "producer.send_async")
	span.SetAttributes(p.tracer.MessageAttributes(opts.Key, len(payload), opts.SequenceID)...)

	err := p.producer.SendAsync(ctx, payload, opts, callback)
	p.tracer.End(ctx, err)

	return err
}

// Wait implements pub.Producer.Wait with distributed tracing
func (p *TracedProducer) Wait(ctx context.Context) error {
	ctx, _ = p.tracer.StartSpan(ctx, "producer.wait")

	err := p.producer.Wait(ctx)
	p.tracer.End(ctx, err)

	return err
}

// Close implements pub.Producer.Close with distributed tracing
func (p *TracedProducer) Close() error {
	ctx, _ := p.tracer.StartSpan(context.Background(), "producer.close")

	err := p.producer.Close()
	p.tracer.End(ctx, err)

	return err
}
