package nakama

import (
	"github.com/argus-labs/gemrush/pkg/protocol"
	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/rs/zerolog"
)

type outgoing struct {
	participantID string
	msg           protocol.Message
}

// outbox collects what a session sends during one match callback. Nakama only hands out a dispatcher
// for the duration of a callback, so messages are delivered when the callback returns.
type outbox struct {
	pending []outgoing
}

var _ protocol.Notifier = (*outbox)(nil)

func (o *outbox) Send(participantID string, msg protocol.Message) {
	o.pending = append(o.pending, outgoing{participantID: participantID, msg: msg})
}

// flush delivers pending messages in order. Participants that were sent Kicked are removed from the
// match after their messages went out.
func (o *outbox) flush(dispatcher runtime.MatchDispatcher, presences map[string]runtime.Presence, log zerolog.Logger) {
	if len(o.pending) == 0 {
		return
	}
	pending := o.pending
	o.pending = nil

	var kick []runtime.Presence
	kicked := make(map[string]struct{})
	for _, out := range pending {
		presence, ok := presences[out.participantID]
		if !ok {
			continue
		}
		body, err := protocol.EncodeBody(out.msg)
		if err != nil {
			log.Error().Err(err).Str("op", out.msg.OpCode().String()).Msg("failed to encode message")
			continue
		}
		err = dispatcher.BroadcastMessage(int64(out.msg.OpCode()), body, []runtime.Presence{presence}, nil, true)
		if err != nil {
			log.Warn().Err(err).Str("participant_id", out.participantID).Msg("failed to send message")
		}
		if _, done := kicked[out.participantID]; !done && out.msg.OpCode() == protocol.OpKicked {
			kicked[out.participantID] = struct{}{}
			kick = append(kick, presence)
		}
	}

	if len(kick) > 0 {
		if err := dispatcher.MatchKick(kick); err != nil {
			log.Warn().Err(err).Int("count", len(kick)).Msg("failed to kick participants")
		}
	}
}
