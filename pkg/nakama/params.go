package nakama

import (
	"time"

	"github.com/argus-labs/gemrush/pkg/match"
	"github.com/argus-labs/gemrush/pkg/protocol"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// matchParams are the MatchCreate params of a gemrush match. Zero values fall back to the
// environment defaults of the match package.
type matchParams struct {
	SessionID        string                `json:"session_id,omitempty"`
	MissionID        string                `json:"mission_id,omitempty"`
	Level            int                   `json:"level,omitempty"`
	Multiplayer      bool                  `json:"multiplayer,omitempty"`
	Ranked           bool                  `json:"ranked,omitempty"`
	MinPlayers       int                   `json:"min_players,omitempty"`
	DurationMs       int64                 `json:"duration_ms,omitempty"`
	ParTimeMs        int64                 `json:"par_time_ms,omitempty"`
	VictoryCondition string                `json:"victory_condition,omitempty"`
	SpawnPoints      []protocol.SpawnPoint `json:"spawn_points,omitempty"`
}

// parseParams round-trips the loosely typed params map through JSON.
func parseParams(params map[string]interface{}) (matchParams, error) {
	var p matchParams
	if len(params) == 0 {
		return p, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return p, eris.Wrap(err, "failed to marshal match params")
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, eris.Wrap(err, "failed to unmarshal match params")
	}
	if p.DurationMs < 0 || p.ParTimeMs < 0 {
		return p, eris.New("durations cannot be negative")
	}
	return p, nil
}

func (p matchParams) options() match.Options {
	return match.Options{
		SessionID:        p.SessionID,
		MissionID:        p.MissionID,
		Level:            p.Level,
		Duration:         time.Duration(p.DurationMs) * time.Millisecond,
		ParTime:          time.Duration(p.ParTimeMs) * time.Millisecond,
		Multiplayer:      p.Multiplayer,
		Ranked:           p.Ranked,
		MinPlayers:       p.MinPlayers,
		VictoryCondition: p.VictoryCondition,
		SpawnPoints:      match.SpawnPoints(p.SpawnPoints),
	}
}
