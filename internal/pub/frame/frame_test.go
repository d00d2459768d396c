package frame_test

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsarpub/internal/pub"
	"pulsarpub/internal/pub/checksum"
	"pulsarpub/internal/pub/command"
	"pulsarpub/internal/pub/compression"
	"pulsarpub/internal/pub/frame"
)

var fixedNow = time.UnixMilli(1_700_000_000_123)

type identity struct {
	id   uint64
	name string
}

func (i identity) ID() uint64   { return i.id }
func (i identity) Name() string { return i.name }

func newBuilder(t *testing.T, name string) *frame.Builder {
	t.Helper()

	strategy, err := compression.New(name)
	require.NoError(t, err)

	b, err := frame.NewBuilder(strategy, frame.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return b
}

// decoded unpacks every layer of a built frame.
type decoded struct {
	frame    *frame.Frame
	send     command.Send
	metadata *command.MessageMetadata
	single   *command.SingleMessageMetadata
	packet   []byte
	payload  []byte
}

func decode(t *testing.T, b []byte) decoded {
	t.Helper()

	f, err := frame.Parse(b)
	require.NoError(t, err)

	send, err := command.DecodeSend(f.Command)
	require.NoError(t, err)

	metadata, err := command.DecodeMessageMetadata(f.Metadata)
	require.NoError(t, err)

	strategy, err := compression.ForType(compression.Type(metadata.Compression))
	require.NoError(t, err)
	packet, err := strategy.Decode(f.Payload, int(metadata.UncompressedSize))
	require.NoError(t, err)

	singleBytes, payload, err := frame.SplitPacket(packet)
	require.NoError(t, err)
	single, err := command.DecodeSingleMessageMetadata(singleBytes)
	require.NoError(t, err)

	return decoded{
		frame:    f,
		send:     send,
		metadata: metadata,
		single:   single,
		packet:   packet,
		payload:  payload,
	}
}

func TestBuild_HelloScenario(t *testing.T) {
	b := newBuilder(t, "none")

	out, err := b.Build(identity{id: 0, name: "p1"}, []byte("hello"), pub.MessageOptions{}, 7)
	require.NoError(t, err)

	assert.Equal(t, uint32(len(out)-4), binary.BigEndian.Uint32(out[0:4]))

	d := decode(t, out)
	assert.Equal(t, command.Send{ProducerID: 0, SequenceID: 7, NumMessages: 1}, d.send)

	assert.Equal(t, int32(5), d.single.PayloadSize)
	assert.Equal(t, uint64(fixedNow.UnixMilli()), d.single.EventTime)
	assert.Equal(t, []byte("hello"), d.payload)

	subMetadataSize := binary.BigEndian.Uint32(d.packet[0:4])
	assert.Equal(t, uint32(4)+subMetadataSize+5, d.metadata.UncompressedSize)

	assert.Equal(t, "p1", d.metadata.ProducerName)
	assert.Equal(t, uint64(0), d.metadata.SequenceID, "metadata sequence id is a batching placeholder")
	assert.Equal(t, uint64(fixedNow.UnixMilli()), d.metadata.PublishTime)
	assert.Equal(t, int32(1), d.metadata.NumMessagesInBatch)
	assert.Equal(t, int32(compression.None), d.metadata.Compression)
	assert.Empty(t, d.metadata.PartitionKey)
	assert.Zero(t, d.metadata.DeliverAtTime)

	// none leaves the packet uncompressed on the wire.
	assert.Equal(t, d.packet, d.frame.Payload)
}

func TestBuild_Layout(t *testing.T) {
	b := newBuilder(t, "none")

	out, err := b.Build(identity{id: 3, name: "p3"}, []byte("hello"), pub.MessageOptions{}, 9)
	require.NoError(t, err)

	commandSize := int(binary.BigEndian.Uint32(out[4:8]))
	cmd := out[8 : 8+commandSize]
	_, err = command.DecodeSend(cmd)
	require.NoError(t, err)

	magicAt := 8 + commandSize
	assert.Equal(t, frame.MagicNumber, binary.BigEndian.Uint16(out[magicAt:magicAt+2]))

	regionAt := frame.ChecksumOffset(commandSize)
	transmitted := binary.BigEndian.Uint32(out[regionAt-4 : regionAt])
	assert.Equal(t, transmitted, checksum.Compute(out[regionAt:]))

	metadataSize := int(binary.BigEndian.Uint32(out[regionAt : regionAt+4]))
	_, err = command.DecodeMessageMetadata(out[regionAt+4 : regionAt+4+metadataSize])
	require.NoError(t, err)
}

func TestBuild_InvariantsAcrossCompression(t *testing.T) {
	payload := []byte(`{"order_id":"ORD-0001","amount":12.5,"note":"repeat repeat repeat repeat repeat"}`)

	for _, name := range []string{"none", "zlib", "lz4", "zstd", "snappy"} {
		name := name
		t.Run(name, func(t *testing.T) {
			b := newBuilder(t, name)

			out, err := b.Build(identity{id: 1, name: "producer-1"}, payload, pub.MessageOptions{Key: "k"}, 42)
			require.NoError(t, err)

			assert.Equal(t, uint32(len(out)-4), binary.BigEndian.Uint32(out[0:4]))

			d := decode(t, out)
			assert.Equal(t, d.frame.Checksum, d.frame.ComputeChecksum())
			assert.Equal(t, payload, d.payload)
			assert.Equal(t, uint32(len(d.packet)), d.metadata.UncompressedSize)
			want, err := compression.New(name)
			require.NoError(t, err)
			assert.Equal(t, int32(want.Type()), d.metadata.Compression)
			assert.Equal(t, uint64(42), d.send.SequenceID)
		})
	}
}

func TestBuild_KeyAndDelivery(t *testing.T) {
	b := newBuilder(t, "none")

	tests := []struct {
		name      string
		opts      pub.MessageOptions
		deliverAt int64
	}{
		{
			name: "no delay",
			opts: pub.MessageOptions{Key: "user-1"},
		},
		{
			name:      "absolute",
			opts:      pub.MessageOptions{Key: "user-1", DeliverAt: fixedNow.Add(time.Hour)},
			deliverAt: fixedNow.Add(time.Hour).UnixMilli(),
		},
		{
			name:      "relative",
			opts:      pub.MessageOptions{Key: "user-1", DeliverAfter: 30 * time.Second},
			deliverAt: fixedNow.Add(30 * time.Second).UnixMilli(),
		},
		{
			name:      "absolute wins",
			opts:      pub.MessageOptions{Key: "user-1", DeliverAt: fixedNow.Add(time.Minute), DeliverAfter: time.Hour},
			deliverAt: fixedNow.Add(time.Minute).UnixMilli(),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			out, err := b.Build(identity{name: "p"}, []byte("x"), tt.opts, 1)
			require.NoError(t, err)

			d := decode(t, out)
			assert.Equal(t, "user-1", d.metadata.PartitionKey)
			assert.Equal(t, "user-1", d.single.PartitionKey)
			assert.Equal(t, tt.deliverAt, d.metadata.DeliverAtTime)
		})
	}
}

func TestBuild_Properties(t *testing.T) {
	b := newBuilder(t, "none")

	opts := pub.MessageOptions{
		Properties: map[string]pub.Property{
			"zeta":  pub.StringProperty("last"),
			"alpha": pub.JSONProperty(map[string]any{"url": "http://a/b", "name": "café", "expr": "a<b"}),
			"list":  pub.JSONProperty([]int{1, 2, 3}),
		},
	}

	out, err := b.Build(identity{name: "p"}, []byte("x"), opts, 1)
	require.NoError(t, err)

	d := decode(t, out)
	assert.Equal(t, []command.KeyValue{
		{Key: "alpha", Value: `{"expr":"a<b","name":"café","url":"http://a/b"}`},
		{Key: "list", Value: `[1,2,3]`},
		{Key: "zeta", Value: "last"},
	}, d.single.Properties)
	assert.Empty(t, d.metadata.Properties)
}

func TestBuild_EncodeErrors(t *testing.T) {
	b := newBuilder(t, "none")

	t.Run("missing producer name", func(t *testing.T) {
		_, err := b.Build(identity{id: 1}, []byte("x"), pub.MessageOptions{}, 1)

		var encodeErr *pub.EncodeError
		require.True(t, errors.As(err, &encodeErr))
		assert.Equal(t, "message metadata", encodeErr.Structure)
		assert.ErrorIs(t, err, command.ErrMissingField)
	})

	t.Run("unserializable property", func(t *testing.T) {
		opts := pub.MessageOptions{Properties: map[string]pub.Property{"ch": pub.JSONProperty(make(chan int))}}
		_, err := b.Build(identity{name: "p"}, []byte("x"), opts, 1)

		var encodeErr *pub.EncodeError
		require.True(t, errors.As(err, &encodeErr))
		assert.Equal(t, "message properties", encodeErr.Structure)
	})
}

func TestBuild_Deterministic(t *testing.T) {
	b := newBuilder(t, "zlib")
	opts := pub.MessageOptions{Properties: map[string]pub.Property{
		"a": pub.StringProperty("1"),
		"b": pub.StringProperty("2"),
		"c": pub.StringProperty("3"),
	}}

	first, err := b.Build(identity{name: "p"}, []byte("same"), opts, 5)
	require.NoError(t, err)
	second, err := b.Build(identity{name: "p"}, []byte("same"), opts, 5)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestParse_Rejects(t *testing.T) {
	b := newBuilder(t, "none")
	valid, err := b.Build(identity{name: "p1"}, []byte("hello"), pub.MessageOptions{}, 7)
	require.NoError(t, err)

	corrupt := func(mutate func([]byte) []byte) []byte {
		return mutate(append([]byte(nil), valid...))
	}

	tests := []struct {
		name  string
		input []byte
		want  error
	}{
		{"empty", nil, frame.ErrShortFrame},
		{"truncated", valid[:len(valid)-1], frame.ErrSizeMismatch},
		{"payload flipped", corrupt(func(b []byte) []byte { b[len(b)-1] ^= 0xff; return b }), frame.ErrChecksumMismatch},
		{"checksum flipped", corrupt(func(b []byte) []byte {
			at := frame.ChecksumOffset(int(binary.BigEndian.Uint32(b[4:8]))) - 1
			b[at] ^= 0x01
			return b
		}), frame.ErrChecksumMismatch},
		{"bad magic", corrupt(func(b []byte) []byte {
			at := 8 + int(binary.BigEndian.Uint32(b[4:8]))
			b[at] = 0xff
			return b
		}), frame.ErrBadMagic},
		{"command size overflow", corrupt(func(b []byte) []byte {
			binary.BigEndian.PutUint32(b[4:8], uint32(len(b)))
			return b
		}), frame.ErrShortFrame},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := frame.Parse(tt.input)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewBuilder_RequiresStrategy(t *testing.T) {
	_, err := frame.NewBuilder(nil)
	require.Error(t, err)
}

func TestCommand_SurvivesCorruptPayload(t *testing.T) {
	b := newBuilder(t, "none")
	out, err := b.Build(identity{id: 2, name: "p2"}, []byte("hello"), pub.MessageOptions{}, 11)
	require.NoError(t, err)
	out[len(out)-1] ^= 0xff

	_, err = frame.Parse(out)
	require.ErrorIs(t, err, frame.ErrChecksumMismatch)

	cmd, err := frame.Command(out)
	require.NoError(t, err)
	send, err := command.DecodeSend(cmd)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), send.SequenceID)
	assert.Equal(t, uint64(2), send.ProducerID)

	_, err = frame.Command(out[:6])
	require.ErrorIs(t, err, frame.ErrShortFrame)
}
