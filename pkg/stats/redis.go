package stats

import (
	"context"

	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// RedisConfig is read from the environment.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// KeyPrefix namespaces every key written by the stats writer.
	KeyPrefix string `env:"GEMRUSH_STATS_PREFIX" envDefault:"GEMRUSH"`
	// RecentLimit caps the per-mission list of recent match records.
	RecentLimit int `env:"GEMRUSH_STATS_RECENT_LIMIT" envDefault:"20"`
}

func LoadRedisConfig() (RedisConfig, error) {
	cfg, err := env.ParseAs[RedisConfig]()
	if err != nil {
		return cfg, eris.Wrap(err, "failed to parse redis config")
	}
	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "invalid redis config")
	}
	return cfg, nil
}

func (cfg RedisConfig) validate() error {
	if cfg.Addr == "" {
		return eris.New("redis address cannot be empty")
	}
	if cfg.KeyPrefix == "" {
		return eris.New("key prefix cannot be empty")
	}
	if cfg.RecentLimit <= 0 {
		return eris.New("recent limit must be positive")
	}
	return nil
}

// NewClient connects to redis with the given config.
func (cfg RedisConfig) NewClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisWriter stores match results as a per-mission best-score leaderboard plus a capped list of
// recent match records, and achievements as per-participant sets.
type RedisWriter struct {
	client      redis.Cmdable
	prefix      string
	recentLimit int64
	log         zerolog.Logger
}

var (
	_ Writer             = (*RedisWriter)(nil)
	_ AchievementTracker = (*RedisWriter)(nil)
)

func NewRedisWriter(client redis.Cmdable, cfg RedisConfig, log zerolog.Logger) (*RedisWriter, error) {
	if err := cfg.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid redis config")
	}
	return &RedisWriter{
		client:      client,
		prefix:      cfg.KeyPrefix,
		recentLimit: int64(cfg.RecentLimit),
		log:         log,
	}, nil
}

// SubmitMatchResult writes the match in one transaction. Dropped participants are recorded in the match
// history but never reach the leaderboard.
func (w *RedisWriter) SubmitMatchResult(ctx context.Context, result MatchResult) error {
	record, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "failed to marshal match result")
	}

	_, err = w.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		best := bestScoresKey(w.prefix, result.MissionID)
		for _, row := range result.Rows {
			if row.Dropped {
				continue
			}
			// GT keeps the stored score unless the new one beats it.
			pipe.ZAddArgs(ctx, best, redis.ZAddArgs{
				GT:      true,
				Members: []redis.Z{{Score: float64(row.Score), Member: row.ParticipantID}},
			})
		}

		pipe.Set(ctx, matchKey(w.prefix, result.SessionID, result.EndedAt.UnixNano()), record, 0)

		recent := recentMatchesKey(w.prefix, result.MissionID)
		pipe.LPush(ctx, recent, record)
		pipe.LTrim(ctx, recent, 0, w.recentLimit-1)
		return nil
	})
	if err != nil {
		return eris.Wrap(err, "failed to write match result")
	}

	w.log.Debug().
		Str("session_id", result.SessionID).
		Str("mission_id", result.MissionID).
		Int("rows", len(result.Rows)).
		Msg("match result stored")
	return nil
}

func (w *RedisWriter) MissionFinished(ctx context.Context, participantID string, level int) error {
	return w.award(ctx, participantID, missionFinishedAchievement(level))
}

func (w *RedisWriter) ParTimeAchieved(ctx context.Context, participantID string, level int) error {
	return w.award(ctx, participantID, parTimeAchievement(level))
}

func (w *RedisWriter) award(ctx context.Context, participantID, achievement string) error {
	if err := w.client.SAdd(ctx, achievementsKey(w.prefix, participantID), achievement).Err(); err != nil {
		return eris.Wrapf(err, "failed to award %s to %s", achievement, participantID)
	}
	return nil
}

// LeaderboardEntry is one line of a mission's best-score leaderboard.
type LeaderboardEntry struct {
	ParticipantID string `json:"participant_id"`
	Score         int    `json:"score"`
	Position      int    `json:"position"`
}

// Leaderboard returns the top n best scores of a mission. Equal scores share a position.
func (w *RedisWriter) Leaderboard(ctx context.Context, missionID string, n int64) ([]LeaderboardEntry, error) {
	zs, err := w.client.ZRevRangeWithScores(ctx, bestScoresKey(w.prefix, missionID), 0, n-1).Result()
	if err != nil {
		return nil, eris.Wrap(err, "failed to read leaderboard")
	}

	out := make([]LeaderboardEntry, len(zs))
	for i, z := range zs {
		member, _ := z.Member.(string)
		out[i] = LeaderboardEntry{ParticipantID: member, Score: int(z.Score), Position: i}
		if i > 0 && zs[i-1].Score == z.Score {
			out[i].Position = out[i-1].Position
		}
	}
	return out, nil
}

// RecentMatches returns up to n of the newest match records of a mission.
func (w *RedisWriter) RecentMatches(ctx context.Context, missionID string, n int64) ([]MatchResult, error) {
	raw, err := w.client.LRange(ctx, recentMatchesKey(w.prefix, missionID), 0, n-1).Result()
	if err != nil {
		return nil, eris.Wrap(err, "failed to read recent matches")
	}

	out := make([]MatchResult, 0, len(raw))
	for _, r := range raw {
		var m MatchResult
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, eris.Wrap(err, "failed to unmarshal match record")
		}
		out = append(out, m)
	}
	return out, nil
}

// Achievements returns every achievement a participant has earned.
func (w *RedisWriter) Achievements(ctx context.Context, participantID string) ([]string, error) {
	members, err := w.client.SMembers(ctx, achievementsKey(w.prefix, participantID)).Result()
	if err != nil {
		return nil, eris.Wrap(err, "failed to read achievements")
	}
	return members, nil
}
