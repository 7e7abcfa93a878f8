package micro

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"github.com/shamaton/msgpack/v3"
)

// ErrRemote wraps an error reported by the responder.
var ErrRemote = eris.New("remote error")

// Reply is the frame every responder sends back. Error is empty on success.
type Reply struct {
	Error string `msgpack:"error"`
	Body  []byte `msgpack:"body"`
}

// Handler serves one request. The returned value is msgpack encoded into Reply.Body.
type Handler func(ctx context.Context, data []byte) (any, error)

// Serve subscribes handler to subject. Each request is answered with a Reply; handler errors travel
// back as Reply.Error.
func (c *Client) Serve(subject string, handler Handler) (*nats.Subscription, error) {
	sub, err := c.Subscribe(subject, func(msg *nats.Msg) {
		reply := Reply{}
		body, err := handler(context.Background(), msg.Data)
		if err != nil {
			reply.Error = err.Error()
		} else if body != nil {
			encoded, encErr := encode(body)
			if encErr != nil {
				reply.Error = encErr.Error()
			} else {
				reply.Body = encoded
			}
		}

		data, err := encode(reply)
		if err != nil {
			c.log.Error().Err(err).Str("subject", subject).Msg("failed to marshal reply")
			return
		}
		if err := msg.Respond(data); err != nil {
			c.log.Warn().Err(err).Str("subject", subject).Msg("failed to send reply")
		}
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to subscribe to %s", subject)
	}
	return sub, nil
}

// Decode unmarshals a msgpack request body inside a Handler.
func Decode(data []byte, v any) error {
	return decode(data, v)
}

func encode(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "failed to serialize")
	}
	return data, nil
}

func decode(data []byte, v any) (err error) {
	defer func() {
		// shamaton/msgpack/v3 can panic on malformed input instead of returning an error.
		if r := recover(); r != nil {
			err = eris.Wrap(fmt.Errorf("panic: %v", r), "failed to deserialize")
		}
	}()

	if err := msgpack.Unmarshal(data, v); err != nil {
		return eris.Wrap(err, "failed to deserialize")
	}
	return nil
}
