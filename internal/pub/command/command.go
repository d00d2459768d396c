package command

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"pulsarpub/internal/pub"
)

// BaseCommand field numbers.
const (
	baseType        protowire.Number = 1
	baseSend        protowire.Number = 6
	baseSendReceipt protowire.Number = 7
	baseSendError   protowire.Number = 8
)

// Send is the CommandSend carried by a SEND frame.
type Send struct {
	ProducerID     uint64
	SequenceID     uint64
	NumMessages    int32
	TxnIDLeastBits *uint64
	TxnIDMostBits  *uint64
}

// EncodeSend serializes BaseCommand{type: SEND, send: s}.
func EncodeSend(s Send) ([]byte, error) {
	var send encoder
	send.uint64(1, s.ProducerID)
	send.uint64(2, s.SequenceID)
	send.int32(3, s.NumMessages)
	if s.TxnIDLeastBits != nil {
		send.uint64(4, *s.TxnIDLeastBits)
	}
	if s.TxnIDMostBits != nil {
		send.uint64(5, *s.TxnIDMostBits)
	}

	var base encoder
	base.int32(baseType, int32(pub.CommandSend))
	base.message(baseSend, send.b)
	return base.b, nil
}

// DecodeSend parses a serialized BaseCommand that must carry a CommandSend.
func DecodeSend(b []byte) (Send, error) {
	var (
		typ  pub.CommandType
		body []byte
	)
	err := walk(b, func(f field) error {
		switch f.Num {
		case baseType:
			typ = pub.CommandType(f.Varint)
		case baseSend:
			body = f.Bytes
		}
		return nil
	})
	if err != nil {
		return Send{}, fmt.Errorf("failed to decode base command: %w", err)
	}
	if typ != pub.CommandSend || body == nil {
		return Send{}, fmt.Errorf("expected %s command, got %s", pub.CommandSend, typ)
	}

	s := Send{NumMessages: 1}
	err = walk(body, func(f field) error {
		switch f.Num {
		case 1:
			s.ProducerID = f.Varint
		case 2:
			s.SequenceID = f.Varint
		case 3:
			s.NumMessages = int32(f.Varint)
		case 4:
			v := f.Varint
			s.TxnIDLeastBits = &v
		case 5:
			v := f.Varint
			s.TxnIDMostBits = &v
		}
		return nil
	})
	if err != nil {
		return Send{}, fmt.Errorf("failed to decode send command: %w", err)
	}

	return s, nil
}
