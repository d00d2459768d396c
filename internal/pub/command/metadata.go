package command

import "fmt"

// KeyValue is a message property.
type KeyValue struct {
	Key   string
	Value string
}

// MessageMetadata is the top-level metadata block of a frame.
// Empty PartitionKey and zero DeliverAtTime are left out of the encoding.
type MessageMetadata struct {
	ProducerName       string
	SequenceID         uint64
	PublishTime        uint64
	Properties         []KeyValue
	PartitionKey       string
	Compression        int32
	UncompressedSize   uint32
	NumMessagesInBatch int32
	DeliverAtTime      int64
}

// Marshal serializes the metadata. ProducerName is required.
func (m *MessageMetadata) Marshal() ([]byte, error) {
	if m.ProducerName == "" {
		return nil, fmt.Errorf("message metadata producer_name: %w", ErrMissingField)
	}

	var e encoder
	e.string(1, m.ProducerName)
	e.uint64(2, m.SequenceID)
	e.uint64(3, m.PublishTime)
	for _, kv := range m.Properties {
		e.message(4, marshalKeyValue(kv))
	}
	if m.PartitionKey != "" {
		e.string(6, m.PartitionKey)
	}
	e.int32(8, m.Compression)
	e.uint64(9, uint64(m.UncompressedSize))
	e.int32(11, m.NumMessagesInBatch)
	if m.DeliverAtTime != 0 {
		e.int64(19, m.DeliverAtTime)
	}

	return e.b, nil
}

// DecodeMessageMetadata parses a serialized MessageMetadata.
func DecodeMessageMetadata(b []byte) (*MessageMetadata, error) {
	m := MessageMetadata{NumMessagesInBatch: 1}
	err := walk(b, func(f field) error {
		switch f.Num {
		case 1:
			m.ProducerName = string(f.Bytes)
		case 2:
			m.SequenceID = f.Varint
		case 3:
			m.PublishTime = f.Varint
		case 4:
			kv, err := decodeKeyValue(f.Bytes)
			if err != nil {
				return err
			}
			m.Properties = append(m.Properties, kv)
		case 6:
			m.PartitionKey = string(f.Bytes)
		case 8:
			m.Compression = int32(f.Varint)
		case 9:
			m.UncompressedSize = uint32(f.Varint)
		case 11:
			m.NumMessagesInBatch = int32(f.Varint)
		case 19:
			m.DeliverAtTime = int64(f.Varint)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode message metadata: %w", err)
	}

	return &m, nil
}

// SingleMessageMetadata describes one message inside the compressed packet.
type SingleMessageMetadata struct {
	Properties   []KeyValue
	PartitionKey string
	PayloadSize  int32
	EventTime    uint64
}

// Marshal serializes the single message metadata.
func (m *SingleMessageMetadata) Marshal() ([]byte, error) {
	var e encoder
	for _, kv := range m.Properties {
		e.message(1, marshalKeyValue(kv))
	}
	if m.PartitionKey != "" {
		e.string(2, m.PartitionKey)
	}
	e.int32(3, m.PayloadSize)
	if m.EventTime != 0 {
		e.uint64(5, m.EventTime)
	}

	return e.b, nil
}

// DecodeSingleMessageMetadata parses a serialized SingleMessageMetadata.
func DecodeSingleMessageMetadata(b []byte) (*SingleMessageMetadata, error) {
	var m SingleMessageMetadata
	err := walk(b, func(f field) error {
		switch f.Num {
		case 1:
			kv, err := decodeKeyValue(f.Bytes)
			if err != nil {
				return err
			}
			m.Properties = append(m.Properties, kv)
		case 2:
			m.PartitionKey = string(f.Bytes)
		case 3:
			m.PayloadSize = int32(f.Varint)
		case 5:
			m.EventTime = f.Varint
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode single message metadata: %w", err)
	}

	return &m, nil
}

func marshalKeyValue(kv KeyValue) []byte {
	var e encoder
	e.string(1, kv.Key)
	e.string(2, kv.Value)
	return e.b
}

func decodeKeyValue(b []byte) (KeyValue, error) {
	var kv KeyValue
	err := walk(b, func(f field) error {
		switch f.Num {
		case 1:
			kv.Key = string(f.Bytes)
		case 2:
			kv.Value = string(f.Bytes)
		}
		return nil
	})
	if err != nil {
		return KeyValue{}, fmt.Errorf("failed to decode key value: %w", err)
	}
	return kv, nil
}
