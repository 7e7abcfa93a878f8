package match

import (
	"context"
	"testing"
	"time"

	"github.com/argus-labs/gemrush/pkg/gempool"
	"github.com/argus-labs/gemrush/pkg/protocol"
	"github.com/argus-labs/gemrush/pkg/scheduler"
	"github.com/argus-labs/gemrush/pkg/stats"
	"github.com/argus-labs/gemrush/pkg/testutils"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingStats struct {
	results  []stats.MatchResult
	finished []string
	parTime  []string
	err      error
}

func (r *recordingStats) SubmitMatchResult(_ context.Context, result stats.MatchResult) error {
	r.results = append(r.results, result)
	return r.err
}

func (r *recordingStats) MissionFinished(_ context.Context, participantID string, _ int) error {
	r.finished = append(r.finished, participantID)
	return nil
}

func (r *recordingStats) ParTimeAchieved(_ context.Context, participantID string, _ int) error {
	r.parTime = append(r.parTime, participantID)
	return nil
}

type recordingLobby struct {
	completed []stats.MatchResult
	aborted   []error
}

func (l *recordingLobby) MatchCompleted(_ string, result stats.MatchResult) {
	l.completed = append(l.completed, result)
}

func (l *recordingLobby) MatchAborted(_ string, err error) {
	l.aborted = append(l.aborted, err)
}

// fakeArbiter admits a fixed roster. The registered host is added to it unless registration fails.
type fakeArbiter struct {
	admitted    []string
	registerErr error
	host        string
}

func (a *fakeArbiter) RegisterHost(_ context.Context, _ string, hostID string) error {
	if a.registerErr != nil {
		return a.registerErr
	}
	a.host = hostID
	return nil
}

func (a *fakeArbiter) Roster(context.Context, string) ([]string, error) {
	ids := append([]string(nil), a.admitted...)
	if a.host != "" {
		ids = append(ids, a.host)
	}
	return ids, nil
}

type fixture struct {
	sched *scheduler.Scheduler
	notes *testutils.Notifications
	stats *recordingStats
	lobby *recordingLobby
	s     *Session
}

// testSpawnPoints lays out four clusters of three points, 100 units apart.
func testSpawnPoints() []gempool.SpawnPoint {
	var points []gempool.SpawnPoint
	for g := range 4 {
		for k := range 3 {
			points = append(points, gempool.SpawnPoint{
				ID:       g*3 + k,
				Position: gempool.Vec3{X: float64(g)*100 + float64(k)},
			})
		}
	}
	return points
}

func newFixture(t *testing.T, opts Options, mutate ...func(*Deps)) *fixture {
	t.Helper()

	f := &fixture{
		sched: scheduler.New(time.Unix(0, 0)),
		notes: &testutils.Notifications{},
		stats: &recordingStats{},
		lobby: &recordingLobby{},
	}
	if opts.SessionID == "" {
		opts.SessionID = "session-1"
	}
	if opts.SpawnPoints == nil {
		opts.SpawnPoints = testSpawnPoints()
	}
	if opts.Gems.Seed == 0 {
		opts.Gems.Seed = testutils.Seed | 1
	}

	deps := Deps{
		Scheduler:    f.sched,
		Notifier:     f.notes,
		Stats:        f.stats,
		Achievements: f.stats,
		Lobby:        f.lobby,
		Logger:       zerolog.Nop(),
	}
	for _, m := range mutate {
		m(&deps)
	}

	s, err := New(opts, deps)
	require.NoError(t, err)
	f.s = s
	return f
}

// states returns the MatchState sequence a participant was sent.
func (f *fixture) states(id string) []string {
	var out []string
	for _, msg := range f.notes.To(id) {
		if ms, ok := msg.(protocol.MatchState); ok {
			out = append(out, ms.State)
		}
	}
	return out
}

// joinReady joins every id and marks it ready.
func (f *fixture) joinReady(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, f.s.Join(id, "name-"+id))
	}
	for _, id := range ids {
		require.NoError(t, f.s.SetReady(id, true))
	}
}

// toPlay advances from Start through Ready and Go.
func (f *fixture) toPlay(t *testing.T) {
	t.Helper()
	f.sched.Advance(StartToReadyDelay + ReadyToGoDelay + GoToPlayDelay)
	require.Equal(t, StatePlay, f.s.State())
}

// collectAny collects the first collectable gem on the map for id and runs the deferred recycle.
func (f *fixture) collectAny(t *testing.T, id string) gempool.Gem {
	t.Helper()
	for _, gem := range f.s.Pool().LiveGems() {
		if err := f.s.CollectGem(id, gem.ID); err == nil {
			f.sched.Advance(0)
			return gem
		}
	}
	require.Fail(t, "no collectable gem")
	return gempool.Gem{}
}
