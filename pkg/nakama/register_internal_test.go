package nakama

import (
	"context"
	"database/sql"
	"testing"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// leaderboardModule implements only the runtime calls Register makes.
type leaderboardModule struct {
	runtime.NakamaModule
	mock.Mock
}

func (m *leaderboardModule) LeaderboardCreate(ctx context.Context, id string, authoritative bool, sortOrder,
	operator, resetSchedule string, metadata map[string]interface{},
) error {
	args := m.Called(ctx, id, authoritative, sortOrder, operator, resetSchedule, metadata)
	return args.Error(0)
}

type recordingInitializer struct {
	runtime.Initializer
	matches []string
	rpcs    []string
}

func (i *recordingInitializer) RegisterMatch(name string,
	_ func(context.Context, runtime.Logger, *sql.DB, runtime.NakamaModule) (runtime.Match, error),
) error {
	i.matches = append(i.matches, name)
	return nil
}

func (i *recordingInitializer) RegisterRpc(id string,
	_ func(context.Context, runtime.Logger, *sql.DB, runtime.NakamaModule, string) (string, error),
) error {
	i.rpcs = append(i.rpcs, id)
	return nil
}

func TestRegister_CreatesLeaderboards(t *testing.T) {
	t.Parallel()

	nk := &leaderboardModule{}
	nk.On("LeaderboardCreate", mock.Anything, mock.Anything, true, "desc", "best", "",
		map[string]interface{}(nil)).Return(nil)
	initializer := &recordingInitializer{}

	h, err := Register(context.Background(), nk, initializer, HandlerOptions{Logger: zerolog.Nop()})
	require.NoError(t, err)

	for _, mission := range h.cfg.Missions {
		nk.AssertCalled(t, "LeaderboardCreate", mock.Anything, h.writer.LeaderboardID(mission), true, "desc",
			"best", "", map[string]interface{}(nil))
	}
	nk.AssertNumberOfCalls(t, "LeaderboardCreate", len(h.cfg.Missions))
	assert.Equal(t, []string{ModuleName}, initializer.matches)
	assert.Equal(t, []string{CreateMatchRPC}, initializer.rpcs)
}

func TestRegister_LeaderboardFailure(t *testing.T) {
	t.Parallel()

	nk := &leaderboardModule{}
	nk.On("LeaderboardCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything).Return(eris.New("db down"))
	initializer := &recordingInitializer{}

	_, err := Register(context.Background(), nk, initializer, HandlerOptions{Logger: zerolog.Nop()})
	require.Error(t, err)
	assert.Empty(t, initializer.matches, "nothing is registered after a failed leaderboard")
}
