package pub

// CommandType mirrors the broker's BaseCommand.Type values used by producers.
type CommandType int32

const (
	CommandSend        CommandType = 6
	CommandSendReceipt CommandType = 7
	CommandSendError   CommandType = 8
)

func (t CommandType) String() string {
	switch t {
	case CommandSend:
		return "SEND"
	case CommandSendReceipt:
		return "SEND_RECEIPT"
	case CommandSendError:
		return "SEND_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Response is a decoded broker command answering a SEND.
// Exactly one of Receipt and Error is set.
type Response struct {
	Type    CommandType
	Receipt *SendReceipt
	Error   *SendError
}

// SendReceipt confirms that the broker persisted a message.
type SendReceipt struct {
	ProducerID        uint64
	SequenceID        uint64
	MessageID         MessageID
	HighestSequenceID uint64
}

// SendError reports that the broker rejected a message.
type SendError struct {
	ProducerID uint64
	SequenceID uint64
	Code       int32
	Message    string
}

// SequenceID returns the sequence id the response refers to.
func (r *Response) SequenceID() (uint64, bool) {
	switch {
	case r == nil:
		return 0, false
	case r.Receipt != nil:
		return r.Receipt.SequenceID, true
	case r.Error != nil:
		return r.Error.SequenceID, true
	default:
		return 0, false
	}
}
