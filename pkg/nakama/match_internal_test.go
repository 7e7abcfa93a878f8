package nakama

import (
	"context"
	"testing"
	"time"

	"github.com/argus-labs/gemrush/pkg/match"
	"github.com/argus-labs/gemrush/pkg/protocol"
	"github.com/goccy/go-json"
	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func multiplayer() map[string]interface{} {
	return map[string]interface{}{"multiplayer": true, "min_players": 2, "mission_id": "desert"}
}

func TestMatch_Init(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]interface{}{
		"mission_id":  "desert",
		"level":       3,
		"multiplayer": true,
		"spawn_points": []interface{}{
			map[string]interface{}{"id": 1, "position": []interface{}{0, 0, 0}},
			map[string]interface{}{"id": 2, "position": []interface{}{500, 0, 0}},
		},
	})

	snap := f.st.Session().Snapshot()
	assert.Equal(t, "match-1.nakama", snap.SessionID)
	assert.Equal(t, "desert", snap.MissionID)
	assert.Equal(t, 3, snap.Level)
	assert.True(t, snap.Multiplayer)
	assert.Len(t, f.st.Session().Pool().Groups(), 2)

	var label matchLabel
	require.NoError(t, json.Unmarshal([]byte(f.st.label), &label))
	assert.Equal(t, matchLabel{MissionID: "desert", State: "wait", Open: true}, label)
}

func TestMatch_InitRejectsBadParams(t *testing.T) {
	t.Parallel()

	h, err := NewHandler(permissiveModule(), HandlerOptions{Logger: zerolog.Nop()})
	require.NoError(t, err)
	m := &Match{h: h}

	tests := []struct {
		name   string
		params map[string]interface{}
	}{
		{name: "negative duration", params: map[string]interface{}{"duration_ms": -5}},
		{name: "wrong type", params: map[string]interface{}{"min_players": "two"}},
		{name: "ranked without arbiter", params: map[string]interface{}{"ranked": true}},
		{name: "bad victory condition", params: map[string]interface{}{"victory_condition": "leader +"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			state, tickRate, label := m.MatchInit(context.Background(), nil, nil, nil, tt.params)
			assert.Nil(t, state)
			assert.Zero(t, tickRate)
			assert.Empty(t, label)
		})
	}
}

func TestMatch_SinglePlayerRunsOnMatchLoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.join("a")

	assert.Equal(t, []string{"start", "ready"}, f.d.states("a"))
	require.NotEmpty(t, f.d.labels)
	assert.Contains(t, f.d.labels[len(f.d.labels)-1], `"state":"ready"`)

	require.NotNil(t, f.loop(match.ReadyToGoDelay))
	assert.Equal(t, match.StateGo, f.st.Session().State())
	require.NotNil(t, f.loop(match.GoToPlayDelay))
	assert.Equal(t, match.StatePlay, f.st.Session().State())
	assert.Equal(t, []string{"start", "ready", "go", "play"}, f.d.states("a"))
}

func TestMatch_LoopDispatchesInbound(t *testing.T) {
	t.Parallel()

	f := newFixture(t, multiplayer())
	f.join("a", "b")
	require.Equal(t, match.StateWait, f.st.Session().State())

	f.loop(0,
		inbound(t, "a", protocol.Ready{Ready: true}),
		// Outbound ops and undecodable bodies are dropped.
		inbound(t, "a", protocol.Score{ParticipantID: "a", Score: 100}),
		matchData{presence: presence{userID: "b"}, op: protocol.OpCollectGem, data: []byte("{")},
		inbound(t, "b", protocol.Ready{Ready: true}),
	)

	assert.Equal(t, match.StateStart, f.st.Session().State())
	for _, p := range f.st.Session().Roster().All() {
		assert.Zero(t, p.Score)
	}
	assert.Equal(t, []string{"start"}, f.d.states("b"))
}

func TestMatch_JoinAttempt(t *testing.T) {
	t.Parallel()

	f := newFixture(t, multiplayer())
	attempt := func(id string) (bool, string) {
		_, ok, reason := f.m.MatchJoinAttempt(context.Background(), nil, nil, nil, f.d, 0, f.st,
			presence{userID: id}, nil)
		return ok, reason
	}

	ok, _ := attempt("a")
	assert.True(t, ok)
	f.join("a")

	ok, reason := attempt("a")
	assert.False(t, ok)
	assert.Equal(t, "already joined", reason)

	f.st.Session().SetAcceptingJoins(false)
	ok, _ = attempt("b")
	assert.False(t, ok)
}

func TestMatch_LeaveForwardsToSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, multiplayer())
	f.join("a", "b")

	f.m.MatchLeave(context.Background(), nil, nil, nil, f.d, 0, f.st, []runtime.Presence{presence{userID: "b"}})

	assert.Equal(t, 1, f.st.Session().Roster().Len())
	left := false
	for _, s := range f.d.sent {
		if pl, ok := s.msg.(protocol.PlayerLeft); ok && s.to == "a" && pl.ParticipantID == "b" {
			left = true
		}
	}
	assert.True(t, left)

	// A second leave for the same presence is harmless.
	f.m.MatchLeave(context.Background(), nil, nil, nil, f.d, 0, f.st, []runtime.Presence{presence{userID: "b"}})
	assert.Equal(t, 1, f.st.Session().Roster().Len())
}

func TestMatch_EmptyTimeoutEndsMatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, multiplayer())
	f.h.cfg.EmptyTimeout = time.Minute

	require.NotNil(t, f.loop(time.Second))
	require.NotNil(t, f.loop(30*time.Second))

	// Someone joining resets the countdown.
	f.join("a")
	require.NotNil(t, f.loop(time.Second))
	f.m.MatchLeave(context.Background(), nil, nil, nil, f.d, 0, f.st, []runtime.Presence{presence{userID: "a"}})

	require.NotNil(t, f.loop(time.Second))
	require.NotNil(t, f.loop(time.Minute-time.Millisecond))
	assert.Nil(t, f.loop(time.Millisecond))
}

func TestMatch_SignalEndGame(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	_, resp := f.m.MatchSignal(context.Background(), nil, nil, nil, f.d, 0, f.st, SignalEndGame)
	assert.Contains(t, resp, "no match running")

	f.join("a")
	f.loop(match.ReadyToGoDelay)
	f.loop(match.GoToPlayDelay)
	require.Equal(t, match.StatePlay, f.st.Session().State())

	_, resp = f.m.MatchSignal(context.Background(), nil, nil, nil, f.d, 0, f.st, SignalEndGame)
	var snap match.Snapshot
	require.NoError(t, json.Unmarshal([]byte(resp), &snap))
	assert.Equal(t, "end", snap.State)
	require.NotNil(t, snap.LastResult)
	assert.Equal(t, "a", snap.LastResult.Rows[0].ParticipantID)

	f.nk.AssertCalled(t, "StorageWrite", mock.Anything, mock.MatchedBy(func(writes []*runtime.StorageWrite) bool {
		return len(writes) == 1 && writes[0].Collection == MatchCollection
	}))
	f.nk.AssertCalled(t, "LeaderboardRecordWrite", mock.Anything, "gemrush_hunt", "a", "name-a",
		int64(0), int64(0), mock.Anything, mock.Anything)

	_, resp = f.m.MatchSignal(context.Background(), nil, nil, nil, f.d, 0, f.st, SignalDestroyGame)
	require.NoError(t, json.Unmarshal([]byte(resp), &snap))
	assert.Equal(t, "wait", snap.State)
}

func TestMatch_TerminateResetsSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.join("a")
	require.Equal(t, match.StateReady, f.st.Session().State())

	f.m.MatchTerminate(context.Background(), nil, nil, nil, f.d, 0, f.st, 10)
	assert.Equal(t, match.StateWait, f.st.Session().State())
}

func TestOutbox_KicksAfterDelivery(t *testing.T) {
	t.Parallel()

	o := &outbox{}
	d := &dispatcher{}
	presences := map[string]runtime.Presence{
		"a": presence{userID: "a"},
		"b": presence{userID: "b"},
	}

	o.Send("a", protocol.HelpLine{Text: "hi"})
	o.Send("a", protocol.Kicked{Reason: "registration failed"})
	o.Send("a", protocol.Kicked{Reason: "registration failed"})
	o.Send("b", protocol.HelpLine{Text: "hi"})
	o.Send("gone", protocol.HelpLine{Text: "hi"})
	o.flush(d, presences, zerolog.Nop())

	assert.Len(t, d.sent, 4)
	assert.Equal(t, []string{"a"}, d.kicked)
	assert.Empty(t, o.pending)
}
