package protocol

const (
	// MaxPayloadSize bounds a single chat message payload.
	MaxPayloadSize = 64 * 1024
)

type MessageType uint16

const (
	MsgPing        MessageType = 0x0001
	MsgPong        MessageType = 0x0002
	MsgHello       MessageType = 0x0010
	MsgEnvelope    MessageType = 0x0020
	MsgSubscribe   MessageType = 0x0030
	MsgUnsubscribe MessageType = 0x0031
	MsgGraft       MessageType = 0x0040
	MsgPrune       MessageType = 0x0041
	MsgError       MessageType = 0x00FF
)

func (t MessageType) String() string {
	switch t {
	case MsgPing:
		return "PING"
	case MsgPong:
		return "PONG"
	case MsgHello:
		return "HELLO"
	case MsgEnvelope:
		return "ENVELOPE"
	case MsgSubscribe:
		return "SUBSCRIBE"
	case MsgUnsubscribe:
		return "UNSUBSCRIBE"
	case MsgGraft:
		return "GRAFT"
	case MsgPrune:
		return "PRUNE"
	case MsgError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

type ErrorCode uint16

const (
	ErrUnknown       ErrorCode = 0x0000
	ErrInvalidMsg    ErrorCode = 0x0001
	ErrNotSubscribed ErrorCode = 0x0002
	ErrInternal      ErrorCode = 0x00FF
)

func (e ErrorCode) String() string {
	switch e {
	case ErrInvalidMsg:
		return "INVALID_MESSAGE"
	case ErrNotSubscribed:
		return "NOT_SUBSCRIBED"
	case ErrInternal:
		return "INTERNAL_ERROR"
	case ErrUnknown:
		return "UNKNOWN"
	default:
		return "UNKNOWN"
	}
}
