package testutils

import (
	"github.com/argus-labs/gemrush/pkg/protocol"
)

// Sent is one recorded notification.
type Sent struct {
	To  string
	Msg protocol.Message
}

// Notifications records every message sent through it, in order.
type Notifications struct {
	Log []Sent
}

var _ protocol.Notifier = (*Notifications)(nil)

func (n *Notifications) Send(participantID string, msg protocol.Message) {
	n.Log = append(n.Log, Sent{To: participantID, Msg: msg})
}

// To returns the messages sent to one participant.
func (n *Notifications) To(participantID string) []protocol.Message {
	var out []protocol.Message
	for _, s := range n.Log {
		if s.To == participantID {
			out = append(out, s.Msg)
		}
	}
	return out
}

// Ops returns the op codes sent to one participant, in order.
func (n *Notifications) Ops(participantID string) []protocol.OpCode {
	var out []protocol.OpCode
	for _, m := range n.To(participantID) {
		out = append(out, m.OpCode())
	}
	return out
}

// Count returns how many messages with the given op code were sent to anyone.
func (n *Notifications) Count(op protocol.OpCode) int {
	c := 0
	for _, s := range n.Log {
		if s.Msg.OpCode() == op {
			c++
		}
	}
	return c
}

// Last returns the most recent message of type T sent to participantID.
func Last[T protocol.Message](n *Notifications, participantID string) (T, bool) {
	var zero T
	for i := len(n.Log) - 1; i >= 0; i-- {
		if n.Log[i].To != participantID {
			continue
		}
		if m, ok := n.Log[i].Msg.(T); ok {
			return m, true
		}
	}
	return zero, false
}

func (n *Notifications) Reset() {
	n.Log = nil
}
