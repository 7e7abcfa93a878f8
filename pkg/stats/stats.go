// Package stats is the boundary between a match session and the external stats, leaderboard and
// achievement services. The session computes ranks; implementations here only store them.
package stats

import (
	"context"
	"time"
)

// ResultRow is one participant's final standing. Rank uses the countdown numbering of the ranking
// package; Position is the 0-is-best leaderboard index derived from it.
type ResultRow struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name,omitempty"`
	Score         int    `json:"score"`
	Rank          int    `json:"rank"`
	Position      int    `json:"position"`
	Dropped       bool   `json:"dropped,omitempty"`
}

type MatchResult struct {
	SessionID    string        `json:"session_id"`
	MissionID    string        `json:"mission_id"`
	Level        int           `json:"level"`
	Rows         []ResultRow   `json:"rows"`
	TiedForFirst bool          `json:"tied_for_first"`
	Duration     time.Duration `json:"duration"`
	EndedAt      time.Time     `json:"ended_at"`
}

// Writer hands a finished match to the stats/leaderboard service.
type Writer interface {
	SubmitMatchResult(ctx context.Context, result MatchResult) error
}

// AchievementTracker receives achievement-eligibility signals.
type AchievementTracker interface {
	MissionFinished(ctx context.Context, participantID string, level int) error
	ParTimeAchieved(ctx context.Context, participantID string, level int) error
}

// Nop discards everything.
type Nop struct{}

var (
	_ Writer             = Nop{}
	_ AchievementTracker = Nop{}
)

func (Nop) SubmitMatchResult(context.Context, MatchResult) error { return nil }
func (Nop) MissionFinished(context.Context, string, int) error   { return nil }
func (Nop) ParTimeAchieved(context.Context, string, int) error   { return nil }
