package bridge

import (
	"context"
	"fmt"
)

type Kind int

const (
	// KindText carries one engine-protocol message.
	KindText Kind = iota
	// KindClose means the peer closed the connection.
	KindClose
	// KindOther is any other message, which is ignored.
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindClose:
		return "close"
	case KindOther:
		return "other"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

type Message struct {
	Kind Kind
	Text string
}

func Text(s string) Message { return Message{Kind: KindText, Text: s} }

// Sender is the send-only half of a connection.
type Sender interface {
	SendText(ctx context.Context, text string) error
}

// Receiver is the receive-only half of a connection.
type Receiver interface {
	Receive(ctx context.Context) (Message, error)
}
