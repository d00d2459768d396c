// Package frame builds the length-prefixed, checksummed SEND frames a
// partition producer writes to the broker:
//
//	[totalSize][commandSize][command][magic][checksum][metadataSize][metadata][payload]
//
// totalSize excludes itself. The checksum is CRC32C over
// [metadataSize][metadata][payload], where payload is the compressed packet
// [singleMetadataSize][singleMetadata][message payload].
package frame

import (
	"encoding/binary"
	"fmt"
	"maps"
	"slices"
	"time"

	"pulsarpub/internal/pub"
	"pulsarpub/internal/pub/checksum"
	"pulsarpub/internal/pub/command"
	"pulsarpub/internal/pub/compression"
	"pulsarpub/internal/validator"
)

// MagicNumber separates the command from the checksummed message region.
const MagicNumber uint16 = 0x0e01

// Identity is the partition producer a frame is built for.
type Identity interface {
	ID() uint64
	Name() string
}

// Builder assembles SEND frames for one compression strategy.
type Builder struct {
	compression compression.Strategy
	now         func() time.Time
}

type Option func(*Builder)

// WithClock sets the time source for publish and event times.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

func NewBuilder(strategy compression.Strategy, opts ...Option) (*Builder, error) {
	b := Builder{
		compression: strategy,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&b)
	}

	if err := validator.Validate("frame builder", b.compression, b.now); err != nil {
		return nil, fmt.Errorf("failed to validate frame builder deps: %w", err)
	}

	return &b, nil
}

// Build returns the complete wire frame for one message.
func (b *Builder) Build(p Identity, payload []byte, opts pub.MessageOptions, sequenceID uint64) ([]byte, error) {
	now := b.now()
	nowMillis := uint64(now.UnixMilli())

	cmd, err := command.EncodeSend(command.Send{
		ProducerID:  p.ID(),
		SequenceID:  sequenceID,
		NumMessages: 1,
	})
	if err != nil {
		return nil, &pub.EncodeError{Structure: "send command", Err: err}
	}

	// totalSize is patched in once the frame is complete.
	buf := make([]byte, 4, 64+len(cmd)+len(payload))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(cmd)))
	buf = append(buf, cmd...)
	buf = binary.BigEndian.AppendUint16(buf, MagicNumber)

	props, err := encodeProperties(opts.Properties)
	if err != nil {
		return nil, &pub.EncodeError{Structure: "message properties", Err: err}
	}

	single := command.SingleMessageMetadata{
		Properties:   props,
		PartitionKey: opts.Key,
		PayloadSize:  int32(len(payload)),
		EventTime:    nowMillis,
	}
	singleBytes, err := single.Marshal()
	if err != nil {
		return nil, &pub.EncodeError{Structure: "single message metadata", Err: err}
	}

	packet := make([]byte, 0, 4+len(singleBytes)+len(payload))
	packet = binary.BigEndian.AppendUint32(packet, uint32(len(singleBytes)))
	packet = append(packet, singleBytes...)
	packet = append(packet, payload...)

	metadata := command.MessageMetadata{
		ProducerName:       p.Name(),
		SequenceID:         0,
		PublishTime:        nowMillis,
		PartitionKey:       opts.Key,
		Compression:        int32(b.compression.Type()),
		UncompressedSize:   uint32(len(packet)),
		NumMessagesInBatch: 1,
	}
	if at, ok := opts.DeliverAtTime(now); ok {
		metadata.DeliverAtTime = at.UnixMilli()
	}
	metadataBytes, err := metadata.Marshal()
	if err != nil {
		return nil, &pub.EncodeError{Structure: "message metadata", Err: err}
	}

	compressed, err := b.compression.Encode(packet)
	if err != nil {
		return nil, &pub.EncodeError{Structure: b.compression.Name() + " payload", Err: err}
	}

	var metadataSize [4]byte
	binary.BigEndian.PutUint32(metadataSize[:], uint32(len(metadataBytes)))

	h := checksum.New()
	h.Write(metadataSize[:])
	h.Write(metadataBytes)
	h.Write(compressed)

	buf = binary.BigEndian.AppendUint32(buf, h.Sum32())
	buf = append(buf, metadataSize[:]...)
	buf = append(buf, metadataBytes...)
	buf = append(buf, compressed...)

	binary.BigEndian.PutUint32(buf[0:4], uint32(len(buf)-4))
	return buf, nil
}

// encodeProperties flattens properties in key order.
func encodeProperties(props map[string]pub.Property) ([]command.KeyValue, error) {
	if len(props) == 0 {
		return nil, nil
	}

	kvs := make([]command.KeyValue, 0, len(props))
	for _, key := range slices.Sorted(maps.Keys(props)) {
		value, err := props[key].Encode()
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", key, err)
		}
		kvs = append(kvs, command.KeyValue{Key: key, Value: value})
	}

	return kvs, nil
}
