package protocol

import (
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

var ErrUnknownOpCode = eris.New("unknown op code")

// Envelope is the wire frame for transports that don't carry the op code out of band.
type Envelope struct {
	Op   OpCode          `json:"op"`
	Body json.RawMessage `json:"body,omitempty"`
}

type decodeFunc func(body []byte) (Message, error)

var decoders = map[OpCode]decodeFunc{
	OpMatchState:           decodeAs[MatchState],
	OpScore:                decodeAs[Score],
	OpGemCount:             decodeAs[GemCount],
	OpTimer:                decodeAs[Timer],
	OpHelpLine:             decodeAs[HelpLine],
	OpGemSpawned:           decodeAs[GemSpawned],
	OpGemHidden:            decodeAs[GemHidden],
	OpGroupCompleted:       decodeAs[GroupCompleted],
	OpRespawn:              decodeAs[Respawn],
	OpPlayerJoined:         decodeAs[PlayerJoined],
	OpPlayerLeft:           decodeAs[PlayerLeft],
	OpRegistrationStarting: decodeAs[RegistrationStarting],
	OpRegistrationRequest:  decodeAs[RegistrationRequest],
	OpRosterUpdate:         decodeAs[RosterUpdate],
	OpMatchResult:          decodeAs[MatchResult],
	OpKicked:               decodeAs[Kicked],
	OpReady:                decodeAs[Ready],
	OpOutOfBounds:          decodeAs[OutOfBounds],
	OpCollectGem:           decodeAs[CollectGem],
	OpArbitrationAck:       decodeAs[ArbitrationAck],
	OpRosterAck:            decodeAs[RosterAck],
	OpCheckpoint:           decodeAs[Checkpoint],
	OpFinishReached:        decodeAs[FinishReached],
	OpLoadMission:          decodeAs[LoadMission],
	OpStartMatch:           decodeAs[StartMatch],
}

func decodeAs[T Message](body []byte) (Message, error) {
	var msg T
	if len(body) == 0 {
		return msg, nil
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, eris.Wrapf(err, "failed to decode %s body", msg.OpCode())
	}
	return msg, nil
}

// Encode wraps msg in an Envelope and marshals it.
func Encode(msg Message) ([]byte, error) {
	body, err := EncodeBody(msg)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(Envelope{Op: msg.OpCode(), Body: body})
	if err != nil {
		return nil, eris.Wrap(err, "failed to marshal envelope")
	}
	return data, nil
}

// EncodeBody marshals only the message body.
func EncodeBody(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, eris.New("cannot encode nil message")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to marshal %s body", msg.OpCode())
	}
	return body, nil
}

// Decode unmarshals an Envelope and its body. The returned message is a value of the concrete type
// registered for the envelope's op code, e.g. protocol.Ready.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, eris.Wrap(err, "failed to unmarshal envelope")
	}
	return DecodeBody(env.Op, env.Body)
}

// DecodeBody decodes a body whose op code travelled separately.
func DecodeBody(op OpCode, body []byte) (Message, error) {
	decode, ok := decoders[op]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownOpCode, "op code %d", op)
	}
	return decode(body)
}
