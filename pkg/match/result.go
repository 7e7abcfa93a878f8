package match

import (
	"context"

	"github.com/argus-labs/gemrush/pkg/protocol"
	"github.com/argus-labs/gemrush/pkg/ranking"
	"github.com/argus-labs/gemrush/pkg/stats"
	"github.com/argus-labs/gemrush/pkg/telemetry"
	"github.com/argus-labs/gemrush/pkg/telemetry/sentry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// rank builds the result of the match that just ended. Every participant of the match is ranked,
// dropped ones with the dropped score.
func (s *Session) rank() stats.MatchResult {
	participants := s.roster.All()
	entries := make([]ranking.Entry, len(participants))
	for i, p := range participants {
		entries[i] = ranking.Entry{
			ParticipantID: p.ID,
			Score:         p.Score,
			Dropped:       p.Dropped,
			Connected:     p.Connected,
			IsHost:        p.IsHost,
		}
	}

	ranked := ranking.Rank(ranking.FromEntries(entries))
	if len(ranked.Rows) == 0 {
		s.log.Warn().Msg("ranking without participants")
	}

	result := stats.MatchResult{
		SessionID:    s.id,
		MissionID:    s.missionID,
		Level:        s.level,
		Rows:         make([]stats.ResultRow, len(ranked.Rows)),
		TiedForFirst: ranked.TiedForFirst,
		Duration:     s.Elapsed(),
		EndedAt:      s.endAt,
	}
	for i, row := range ranked.Rows {
		p, _ := s.roster.Get(row.ParticipantID)
		result.Rows[i] = stats.ResultRow{
			ParticipantID: row.ParticipantID,
			Name:          p.Name,
			Score:         p.Score,
			Rank:          row.Rank,
			Position:      ranked.Position(i),
			Dropped:       row.Score == ranking.DroppedScore,
		}
	}
	return result
}

func resultMessage(result stats.MatchResult) protocol.MatchResult {
	msg := protocol.MatchResult{
		Rows:         make([]protocol.ResultRow, len(result.Rows)),
		TiedForFirst: result.TiedForFirst,
	}
	for i, row := range result.Rows {
		msg.Rows[i] = protocol.ResultRow{
			ParticipantID: row.ParticipantID,
			Score:         row.Score,
			Rank:          row.Rank,
			Position:      row.Position,
		}
	}
	return msg
}

// submitResult hands the result to the stats service, once per match. The call blocks the loop for at
// most WritebackTimeout.
func (s *Session) submitResult(result stats.MatchResult) {
	if s.written == s.match {
		s.log.Warn().Uint64("match", s.match).Msg("match result already submitted")
		return
	}
	s.written = s.match
	if len(result.Rows) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WritebackTimeout)
	defer cancel()
	ctx, span := s.deps.Tracer.Start(ctx, "match.writeback")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", s.id),
		attribute.String("mission.id", s.missionID),
		attribute.Int("rows", len(result.Rows)),
	)

	if err := s.deps.Stats.SubmitMatchResult(ctx, result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log := telemetry.WithTrace(ctx, s.log)
		log.Error().Err(err).Msg("failed to submit match result")
		sentry.CaptureException(ctx, err, map[string]string{"session_id": s.id, "mission_id": s.missionID})
		return
	}
	span.SetStatus(codes.Ok, "")
}

// signalAchievements reports mission completion. A forced end earns nothing. In single player the
// finisher also gets par time when the clock stayed within it.
func (s *Session) signalAchievements() {
	if s.endReason == endForced {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WritebackTimeout)
	defer cancel()

	var finishers []string
	if s.finisher != "" {
		finishers = []string{s.finisher}
	} else {
		for _, p := range s.roster.Connected() {
			if !p.Dropped {
				finishers = append(finishers, p.ID)
			}
		}
	}

	parTime := s.endReason == endFinish && s.opts.ParTime > 0 && s.Elapsed() <= s.opts.ParTime
	for _, id := range finishers {
		if err := s.deps.Achievements.MissionFinished(ctx, id, s.level); err != nil {
			s.log.Warn().Err(err).Str("participant_id", id).Msg("failed to signal mission finished")
		}
		if !parTime {
			continue
		}
		if err := s.deps.Achievements.ParTimeAchieved(ctx, id, s.level); err != nil {
			s.log.Warn().Err(err).Str("participant_id", id).Msg("failed to signal par time")
		}
	}
}
