package arbitration

import (
	"context"

	"github.com/argus-labs/gemrush/pkg/micro"
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
)

const (
	subjectRegister = "register"
	subjectRoster   = "roster"
)

type registerRequest struct {
	SessionID string `msgpack:"session_id"`
	HostID    string `msgpack:"host_id"`
}

type rosterRequest struct {
	SessionID string `msgpack:"session_id"`
}

type rosterResponse struct {
	ParticipantIDs []string `msgpack:"participant_ids"`
}

// NATSService reaches the fairness service through NATS request-reply under a subject prefix.
type NATSService struct {
	client *micro.Client
	prefix string
}

var _ Service = (*NATSService)(nil)

func NewNATSService(client *micro.Client, prefix string) (*NATSService, error) {
	if client == nil {
		return nil, eris.New("nats client is required")
	}
	if prefix == "" {
		return nil, eris.New("subject prefix is required")
	}
	return &NATSService{client: client, prefix: prefix}, nil
}

func (s *NATSService) RegisterHost(ctx context.Context, sessionID, hostID string) error {
	req := registerRequest{SessionID: sessionID, HostID: hostID}
	return s.client.Call(ctx, subject(s.prefix, subjectRegister), req, nil)
}

func (s *NATSService) Roster(ctx context.Context, sessionID string) ([]string, error) {
	var resp rosterResponse
	if err := s.client.Call(ctx, subject(s.prefix, subjectRoster), rosterRequest{SessionID: sessionID}, &resp); err != nil {
		return nil, err
	}
	return resp.ParticipantIDs, nil
}

// Serve exposes svc on the subjects NATSService calls. The returned subscriptions should be
// unsubscribed by the caller on shutdown.
func Serve(client *micro.Client, prefix string, svc Service) ([]*nats.Subscription, error) {
	register, err := client.Serve(subject(prefix, subjectRegister), func(ctx context.Context, data []byte) (any, error) {
		var req registerRequest
		if err := micro.Decode(data, &req); err != nil {
			return nil, err
		}
		return nil, svc.RegisterHost(ctx, req.SessionID, req.HostID)
	})
	if err != nil {
		return nil, err
	}

	roster, err := client.Serve(subject(prefix, subjectRoster), func(ctx context.Context, data []byte) (any, error) {
		var req rosterRequest
		if err := micro.Decode(data, &req); err != nil {
			return nil, err
		}
		ids, err := svc.Roster(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		return rosterResponse{ParticipantIDs: ids}, nil
	})
	if err != nil {
		_ = register.Unsubscribe()
		return nil, err
	}
	return []*nats.Subscription{register, roster}, nil
}

func subject(prefix, name string) string {
	return prefix + "." + name
}
