package command

import (
	"fmt"

	"pulsarpub/internal/pub"
)

// Server error codes used in SEND_ERROR responses.
const (
	ServerErrorUnknown  int32 = 0
	ServerErrorChecksum int32 = 10
)

// EncodeSendReceipt serializes BaseCommand{type: SEND_RECEIPT}.
// Partition and BatchIndex of -1 are left to their schema default.
func EncodeSendReceipt(r pub.SendReceipt) ([]byte, error) {
	var id encoder
	id.uint64(1, r.MessageID.LedgerID)
	id.uint64(2, r.MessageID.EntryID)
	if r.MessageID.Partition != -1 {
		id.int32(3, r.MessageID.Partition)
	}
	if r.MessageID.BatchIndex != -1 {
		id.int32(4, r.MessageID.BatchIndex)
	}

	var receipt encoder
	receipt.uint64(1, r.ProducerID)
	receipt.uint64(2, r.SequenceID)
	receipt.message(3, id.b)
	if r.HighestSequenceID != 0 {
		receipt.uint64(4, r.HighestSequenceID)
	}

	var base encoder
	base.int32(baseType, int32(pub.CommandSendReceipt))
	base.message(baseSendReceipt, receipt.b)
	return base.b, nil
}

// EncodeSendError serializes BaseCommand{type: SEND_ERROR}.
func EncodeSendError(e pub.SendError) ([]byte, error) {
	if e.Message == "" {
		return nil, fmt.Errorf("send error message: %w", ErrMissingField)
	}

	var body encoder
	body.uint64(1, e.ProducerID)
	body.uint64(2, e.SequenceID)
	body.int32(3, e.Code)
	body.string(4, e.Message)

	var base encoder
	base.int32(baseType, int32(pub.CommandSendError))
	base.message(baseSendError, body.b)
	return base.b, nil
}

// DecodeResponse parses a BaseCommand answering a SEND.
func DecodeResponse(b []byte) (*pub.Response, error) {
	var (
		typ     pub.CommandType
		receipt []byte
		sendErr []byte
	)
	err := walk(b, func(f field) error {
		switch f.Num {
		case baseType:
			typ = pub.CommandType(f.Varint)
		case baseSendReceipt:
			receipt = f.Bytes
		case baseSendError:
			sendErr = f.Bytes
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode base command: %w", err)
	}

	switch {
	case typ == pub.CommandSendReceipt && receipt != nil:
		r, err := decodeSendReceipt(receipt)
		if err != nil {
			return nil, err
		}
		return &pub.Response{Type: typ, Receipt: r}, nil
	case typ == pub.CommandSendError && sendErr != nil:
		e, err := decodeSendError(sendErr)
		if err != nil {
			return nil, err
		}
		return &pub.Response{Type: typ, Error: e}, nil
	default:
		return nil, fmt.Errorf("unexpected %s command in send response", typ)
	}
}

func decodeSendReceipt(b []byte) (*pub.SendReceipt, error) {
	var (
		r  pub.SendReceipt
		id []byte
	)
	err := walk(b, func(f field) error {
		switch f.Num {
		case 1:
			r.ProducerID = f.Varint
		case 2:
			r.SequenceID = f.Varint
		case 3:
			id = f.Bytes
		case 4:
			r.HighestSequenceID = f.Varint
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode send receipt: %w", err)
	}

	r.MessageID = pub.MessageID{Partition: -1, BatchIndex: -1}
	err = walk(id, func(f field) error {
		switch f.Num {
		case 1:
			r.MessageID.LedgerID = f.Varint
		case 2:
			r.MessageID.EntryID = f.Varint
		case 3:
			r.MessageID.Partition = int32(f.Varint)
		case 4:
			r.MessageID.BatchIndex = int32(f.Varint)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode message id: %w", err)
	}

	return &r, nil
}

func decodeSendError(b []byte) (*pub.SendError, error) {
	var e pub.SendError
	err := walk(b, func(f field) error {
		switch f.Num {
		case 1:
			e.ProducerID = f.Varint
		case 2:
			e.SequenceID = f.Varint
		case 3:
			e.Code = int32(f.Varint)
		case 4:
			e.Message = string(f.Bytes)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode send error: %w", err)
	}

	return &e, nil
}
