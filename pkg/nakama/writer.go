package nakama

import (
	"context"
	"strconv"
	"time"

	"github.com/argus-labs/gemrush/pkg/stats"
	"github.com/goccy/go-json"
	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/rotisserie/eris"
)

const (
	MatchCollection       = "gemrush_matches"
	AchievementCollection = "gemrush_achievements"

	// Storage permissions as defined by nakama.
	permissionOwnerRead = 1
	permissionPublic    = 2
	permissionNoWrite   = 0
)

// Module is the subset of runtime.NakamaModule the writer needs.
type Module interface {
	LeaderboardRecordWrite(ctx context.Context, id, ownerID, username string, score, subscore int64,
		metadata map[string]interface{}, overrideOperator *int) (*api.LeaderboardRecord, error)
	StorageWrite(ctx context.Context, writes []*runtime.StorageWrite) ([]*api.StorageObjectAck, error)
}

// Writer stores match results in nakama: one leaderboard per mission for the scores of participants
// who finished, and a public storage object with the full result.
type Writer struct {
	nk     Module
	prefix string
	now    func() time.Time
}

var (
	_ stats.Writer             = (*Writer)(nil)
	_ stats.AchievementTracker = (*Writer)(nil)
)

func NewWriter(nk Module, leaderboardPrefix string) *Writer {
	return &Writer{nk: nk, prefix: leaderboardPrefix, now: time.Now}
}

// LeaderboardID is the leaderboard a mission's scores are written to.
func (w *Writer) LeaderboardID(missionID string) string {
	return w.prefix + missionID
}

func (w *Writer) SubmitMatchResult(ctx context.Context, result stats.MatchResult) error {
	value, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "failed to marshal match result")
	}
	_, err = w.nk.StorageWrite(ctx, []*runtime.StorageWrite{{
		Collection:      MatchCollection,
		Key:             result.SessionID + ":" + strconv.FormatInt(result.EndedAt.UnixMilli(), 10),
		Value:           string(value),
		PermissionRead:  permissionPublic,
		PermissionWrite: permissionNoWrite,
	}})
	if err != nil {
		return eris.Wrap(err, "failed to store match result")
	}

	boardID := w.LeaderboardID(result.MissionID)
	for _, row := range result.Rows {
		if row.Dropped {
			continue
		}
		metadata := map[string]interface{}{
			"session_id": result.SessionID,
			"position":   row.Position,
			"level":      result.Level,
		}
		_, err := w.nk.LeaderboardRecordWrite(ctx, boardID, row.ParticipantID, row.Name,
			int64(row.Score), 0, metadata, nil)
		if err != nil {
			return eris.Wrapf(err, "failed to write leaderboard record for %s", row.ParticipantID)
		}
	}
	return nil
}

func (w *Writer) MissionFinished(ctx context.Context, participantID string, level int) error {
	return w.award(ctx, participantID, "mission_finished_"+strconv.Itoa(level))
}

func (w *Writer) ParTimeAchieved(ctx context.Context, participantID string, level int) error {
	return w.award(ctx, participantID, "par_time_"+strconv.Itoa(level))
}

type achievement struct {
	EarnedAt int64 `json:"earned_at"`
}

func (w *Writer) award(ctx context.Context, participantID, key string) error {
	value, err := json.Marshal(achievement{EarnedAt: w.now().Unix()})
	if err != nil {
		return eris.Wrap(err, "failed to marshal achievement")
	}
	_, err = w.nk.StorageWrite(ctx, []*runtime.StorageWrite{{
		Collection:      AchievementCollection,
		Key:             key,
		UserID:          participantID,
		Value:           string(value),
		PermissionRead:  permissionOwnerRead,
		PermissionWrite: permissionNoWrite,
	}})
	if err != nil {
		return eris.Wrapf(err, "failed to store achievement %s", key)
	}
	return nil
}
