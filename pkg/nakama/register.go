package nakama

import (
	"context"
	"database/sql"

	"github.com/goccy/go-json"
	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/rotisserie/eris"
)

const CreateMatchRPC = "gemrush_create_match"

type createMatchResponse struct {
	MatchID string `json:"match_id"`
}

// Register creates the mission leaderboards and registers the match handler and its RPCs.
func Register(ctx context.Context, nk runtime.NakamaModule, initializer runtime.Initializer, opts HandlerOptions) (*Handler, error) {
	h, err := NewHandler(nk, opts)
	if err != nil {
		return nil, err
	}

	for _, mission := range h.cfg.Missions {
		id := h.writer.LeaderboardID(mission)
		if err := nk.LeaderboardCreate(ctx, id, true, "desc", "best", "", nil); err != nil {
			return nil, eris.Wrapf(err, "failed to create leaderboard %s", id)
		}
	}

	if err := initializer.RegisterMatch(ModuleName, h.NewMatch); err != nil {
		return nil, eris.Wrap(err, "failed to register match handler")
	}
	if err := initializer.RegisterRpc(CreateMatchRPC, h.CreateMatch); err != nil {
		return nil, eris.Wrap(err, "failed to register create match rpc")
	}
	h.log.Info().Strs("missions", h.cfg.Missions).Msg("gemrush module registered")
	return h, nil
}

// CreateMatch is the RPC that creates a match from a JSON params payload.
func (h *Handler) CreateMatch(ctx context.Context, _ runtime.Logger, _ *sql.DB, nk runtime.NakamaModule,
	payload string,
) (string, error) {
	params := map[string]interface{}{}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &params); err != nil {
			return "", runtime.NewError("payload must be a JSON object", 3) // INVALID_ARGUMENT
		}
	}
	p, err := parseParams(params)
	if err != nil {
		return "", runtime.NewError(err.Error(), 3)
	}
	if p.Ranked && h.opts.Arbiter == nil {
		return "", runtime.NewError("ranked matches are not available", 9) // FAILED_PRECONDITION
	}

	matchID, err := nk.MatchCreate(ctx, ModuleName, params)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to create match")
		return "", runtime.NewError("failed to create match", 13) // INTERNAL
	}

	resp, err := json.Marshal(createMatchResponse{MatchID: matchID})
	if err != nil {
		return "", eris.Wrap(err, "failed to marshal response")
	}
	return string(resp), nil
}
