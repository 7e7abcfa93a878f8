package nakama

import (
	"context"
	"testing"
	"time"

	"github.com/argus-labs/gemrush/pkg/protocol"
	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockModule struct {
	mock.Mock
}

func (m *mockModule) LeaderboardRecordWrite(ctx context.Context, id, ownerID, username string, score, subscore int64,
	metadata map[string]interface{}, overrideOperator *int,
) (*api.LeaderboardRecord, error) {
	args := m.Called(ctx, id, ownerID, username, score, subscore, metadata, overrideOperator)
	return nil, args.Error(0)
}

func (m *mockModule) StorageWrite(ctx context.Context, writes []*runtime.StorageWrite) ([]*api.StorageObjectAck, error) {
	args := m.Called(ctx, writes)
	return nil, args.Error(0)
}

// permissiveModule accepts every write.
func permissiveModule() *mockModule {
	m := &mockModule{}
	m.On("StorageWrite", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("LeaderboardRecordWrite", mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	return m
}

type presence struct {
	userID   string
	username string
}

var _ runtime.Presence = presence{}

func (p presence) GetUserId() string    { return p.userID }
func (p presence) GetSessionId() string { return "session-" + p.userID }
func (p presence) GetNodeId() string    { return "node-1" }
func (p presence) GetHidden() bool      { return false }
func (p presence) GetPersistence() bool { return false }
func (p presence) GetUsername() string  { return p.username }
func (p presence) GetStatus() string    { return "" }
func (p presence) GetReason() runtime.PresenceReason {
	return runtime.PresenceReasonUnknown
}

type matchData struct {
	presence
	op   protocol.OpCode
	data []byte
}

var _ runtime.MatchData = matchData{}

func (d matchData) GetOpCode() int64      { return int64(d.op) }
func (d matchData) GetData() []byte       { return d.data }
func (d matchData) GetReliable() bool     { return true }
func (d matchData) GetReceiveTime() int64 { return 0 }

func inbound(t *testing.T, userID string, msg protocol.Message) matchData {
	t.Helper()
	body, err := protocol.EncodeBody(msg)
	require.NoError(t, err)
	return matchData{presence: presence{userID: userID}, op: msg.OpCode(), data: body}
}

type sent struct {
	to  string
	msg protocol.Message
}

type dispatcher struct {
	sent   []sent
	kicked []string
	labels []string
}

var _ runtime.MatchDispatcher = (*dispatcher)(nil)

func (d *dispatcher) BroadcastMessage(opCode int64, data []byte, presences []runtime.Presence, _ runtime.Presence,
	_ bool,
) error {
	msg, err := protocol.DecodeBody(protocol.OpCode(opCode), data)
	if err != nil {
		return err
	}
	for _, p := range presences {
		d.sent = append(d.sent, sent{to: p.GetUserId(), msg: msg})
	}
	return nil
}

func (d *dispatcher) BroadcastMessageDeferred(opCode int64, data []byte, presences []runtime.Presence,
	sender runtime.Presence, reliable bool,
) error {
	return d.BroadcastMessage(opCode, data, presences, sender, reliable)
}

func (d *dispatcher) MatchKick(presences []runtime.Presence) error {
	for _, p := range presences {
		d.kicked = append(d.kicked, p.GetUserId())
	}
	return nil
}

func (d *dispatcher) MatchLabelUpdate(label string) error {
	d.labels = append(d.labels, label)
	return nil
}

// states returns the MatchState sequence sent to a participant.
func (d *dispatcher) states(userID string) []string {
	var out []string
	for _, s := range d.sent {
		if ms, ok := s.msg.(protocol.MatchState); ok && s.to == userID {
			out = append(out, ms.State)
		}
	}
	return out
}

type fixture struct {
	clock time.Time
	nk    *mockModule
	h     *Handler
	m     *Match
	d     *dispatcher
	st    *State
}

func newFixture(t *testing.T, params map[string]interface{}) *fixture {
	t.Helper()

	nk := permissiveModule()
	h, err := NewHandler(nk, HandlerOptions{Logger: zerolog.Nop()})
	require.NoError(t, err)

	f := &fixture{clock: time.Unix(1_000, 0), nk: nk, h: h, d: &dispatcher{}}
	h.now = func() time.Time { return f.clock }

	rm, err := h.NewMatch(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	f.m = rm.(*Match)

	//nolint:staticcheck // nakama stores the match id under this key.
	ctx := context.WithValue(context.Background(), runtime.RUNTIME_CTX_MATCH_ID, "match-1.nakama")
	state, tickRate, _ := f.m.MatchInit(ctx, nil, nil, nil, params)
	require.NotNil(t, state)
	require.Equal(t, h.cfg.TickRate, tickRate)
	f.st = state.(*State)
	return f
}

func (f *fixture) join(userIDs ...string) {
	var ps []runtime.Presence
	for _, id := range userIDs {
		ps = append(ps, presence{userID: id, username: "name-" + id})
	}
	f.m.MatchJoin(context.Background(), nil, nil, nil, f.d, 0, f.st, ps)
}

// loop advances the clock by d and runs one MatchLoop with the given messages.
func (f *fixture) loop(d time.Duration, msgs ...runtime.MatchData) interface{} {
	f.clock = f.clock.Add(d)
	return f.m.MatchLoop(context.Background(), nil, nil, nil, f.d, 0, f.st, msgs)
}
