// Package nakama hosts match sessions as nakama authoritative matches.
//
// Each nakama match owns one session and one scheduler. Inbound match data carries the protocol op
// code out of band and the JSON body as payload; outbound messages are sent the same way. The
// scheduler is ticked with the wall clock at the end of every MatchLoop call.
package nakama

import (
	"context"
	"database/sql"
	"time"

	"github.com/argus-labs/gemrush/pkg/arbitration"
	"github.com/argus-labs/gemrush/pkg/match"
	"github.com/argus-labs/gemrush/pkg/protocol"
	"github.com/argus-labs/gemrush/pkg/scheduler"
	"github.com/goccy/go-json"
	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

const ModuleName = "gemrush"

// Signals understood by MatchSignal. Anything else returns the session snapshot.
const (
	SignalEndGame     = "end_game"
	SignalDestroyGame = "destroy_game"
)

type HandlerOptions struct {
	// Arbiter is required to create ranked matches.
	Arbiter arbitration.Service
	Lobby   match.Lobby
	Logger  zerolog.Logger
	Tracer  trace.Tracer
}

// Handler creates matches. Everything it holds is shared by all matches of the module.
type Handler struct {
	writer *Writer
	opts   HandlerOptions
	cfg    config
	log    zerolog.Logger
	now    func() time.Time
}

func NewHandler(nk Module, opts HandlerOptions) (*Handler, error) {
	if nk == nil {
		return nil, eris.New("nakama module is required")
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return &Handler{
		writer: NewWriter(nk, cfg.LeaderboardPrefix),
		opts:   opts,
		cfg:    cfg,
		log:    opts.Logger,
		now:    time.Now,
	}, nil
}

// NewMatch is the factory registered with nakama.
func (h *Handler) NewMatch(context.Context, runtime.Logger, *sql.DB, runtime.NakamaModule) (runtime.Match, error) {
	return &Match{h: h}, nil
}

// Match implements runtime.Match on top of a match session.
type Match struct {
	h *Handler
}

var _ runtime.Match = (*Match)(nil)

// State is the per-match state nakama threads through the callbacks.
type State struct {
	session   *match.Session
	sched     *scheduler.Scheduler
	out       *outbox
	presences map[string]runtime.Presence
	log       zerolog.Logger

	label      string
	emptySince time.Time
}

func (s *State) Session() *match.Session { return s.session }

type matchLabel struct {
	MissionID    string `json:"mission_id"`
	State        string `json:"state"`
	Open         bool   `json:"open"`
	Ranked       bool   `json:"ranked"`
	Participants int    `json:"participants"`
}

func (s *State) buildLabel() string {
	snap := s.session.Snapshot()
	connected := 0
	for _, p := range snap.Participants {
		if p.Connected {
			connected++
		}
	}
	data, err := json.Marshal(matchLabel{
		MissionID:    snap.MissionID,
		State:        snap.State,
		Open:         snap.AcceptingJoins,
		Ranked:       snap.Ranked,
		Participants: connected,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal match label")
		return s.label
	}
	return string(data)
}

// sync delivers queued messages and refreshes the label when it changed.
func (s *State) sync(dispatcher runtime.MatchDispatcher) {
	s.out.flush(dispatcher, s.presences, s.log)
	if label := s.buildLabel(); label != s.label {
		if err := dispatcher.MatchLabelUpdate(label); err != nil {
			s.log.Warn().Err(err).Msg("failed to update match label")
			return
		}
		s.label = label
	}
}

func (m *Match) MatchInit(ctx context.Context, _ runtime.Logger, _ *sql.DB, _ runtime.NakamaModule,
	params map[string]interface{},
) (interface{}, int, string) {
	p, err := parseParams(params)
	if err != nil {
		m.h.log.Error().Err(err).Msg("invalid match params")
		return nil, 0, ""
	}
	if p.SessionID == "" {
		p.SessionID, _ = ctx.Value(runtime.RUNTIME_CTX_MATCH_ID).(string)
	}

	sched := scheduler.New(m.h.now())
	out := &outbox{}
	log := m.h.log.With().Str("match_id", p.SessionID).Logger()
	session, err := match.New(p.options(), match.Deps{
		Scheduler:    sched,
		Notifier:     out,
		Stats:        m.h.writer,
		Achievements: m.h.writer,
		Arbiter:      m.h.opts.Arbiter,
		Lobby:        m.h.opts.Lobby,
		Logger:       log,
		Tracer:       m.h.opts.Tracer,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create session")
		return nil, 0, ""
	}

	state := &State{
		session:   session,
		sched:     sched,
		out:       out,
		presences: make(map[string]runtime.Presence),
		log:       log,
	}
	state.label = state.buildLabel()
	log.Info().Str("mission_id", p.MissionID).Bool("ranked", p.Ranked).Msg("match created")
	return state, m.h.cfg.TickRate, state.label
}

func (m *Match) MatchJoinAttempt(_ context.Context, _ runtime.Logger, _ *sql.DB, _ runtime.NakamaModule,
	_ runtime.MatchDispatcher, _ int64, state interface{}, presence runtime.Presence, _ map[string]string,
) (interface{}, bool, string) {
	s, ok := state.(*State)
	if !ok {
		return state, false, "invalid match state"
	}
	if !s.session.AcceptingJoins() {
		return s, false, "match is not accepting joins"
	}
	if _, ok := s.presences[presence.GetUserId()]; ok {
		return s, false, "already joined"
	}
	return s, true, ""
}

func (m *Match) MatchJoin(_ context.Context, _ runtime.Logger, _ *sql.DB, _ runtime.NakamaModule,
	dispatcher runtime.MatchDispatcher, _ int64, state interface{}, presences []runtime.Presence,
) interface{} {
	s, ok := state.(*State)
	if !ok {
		return state
	}
	for _, p := range presences {
		id := p.GetUserId()
		s.presences[id] = p
		if err := s.session.Join(id, p.GetUsername()); err != nil {
			s.log.Info().Err(err).Str("participant_id", id).Msg("join refused")
			s.out.Send(id, protocol.Kicked{Reason: err.Error()})
		}
	}
	s.emptySince = time.Time{}
	s.sync(dispatcher)
	return s
}

func (m *Match) MatchLeave(_ context.Context, _ runtime.Logger, _ *sql.DB, _ runtime.NakamaModule,
	dispatcher runtime.MatchDispatcher, _ int64, state interface{}, presences []runtime.Presence,
) interface{} {
	s, ok := state.(*State)
	if !ok {
		return state
	}
	for _, p := range presences {
		id := p.GetUserId()
		delete(s.presences, id)
		if err := s.session.Leave(id); err != nil {
			s.log.Debug().Err(err).Str("participant_id", id).Msg("leave ignored")
		}
	}
	s.sync(dispatcher)
	return s
}

// MatchLoop dispatches inbound messages, then ticks the scheduler. Returning nil ends the match, which
// happens once it has been empty for the configured timeout.
func (m *Match) MatchLoop(_ context.Context, _ runtime.Logger, _ *sql.DB, _ runtime.NakamaModule,
	dispatcher runtime.MatchDispatcher, _ int64, state interface{}, messages []runtime.MatchData,
) interface{} {
	s, ok := state.(*State)
	if !ok {
		return state
	}

	for _, data := range messages {
		id := data.GetUserId()
		op := protocol.OpCode(data.GetOpCode())
		if !op.Inbound() {
			s.log.Debug().Str("participant_id", id).Int64("op", data.GetOpCode()).Msg("dropping non-inbound op")
			continue
		}
		msg, err := protocol.DecodeBody(op, data.GetData())
		if err != nil {
			s.log.Debug().Err(err).Str("participant_id", id).Msg("dropping undecodable message")
			continue
		}
		if err := s.session.Dispatch(id, msg); err != nil {
			s.log.Debug().Err(err).Str("participant_id", id).Str("op", op.String()).Msg("command rejected")
		}
	}

	now := m.h.now()
	s.sched.Tick(now)
	s.sync(dispatcher)

	if len(s.presences) > 0 {
		s.emptySince = time.Time{}
		return s
	}
	if s.emptySince.IsZero() {
		s.emptySince = now
	}
	if now.Sub(s.emptySince) >= m.h.cfg.EmptyTimeout {
		s.log.Info().Msg("match empty, closing")
		return nil
	}
	return s
}

func (m *Match) MatchTerminate(_ context.Context, _ runtime.Logger, _ *sql.DB, _ runtime.NakamaModule,
	dispatcher runtime.MatchDispatcher, _ int64, state interface{}, graceSeconds int,
) interface{} {
	s, ok := state.(*State)
	if !ok {
		return state
	}
	s.log.Info().Int("grace_seconds", graceSeconds).Msg("match terminating")
	s.session.DestroyGame()
	s.sync(dispatcher)
	return s
}

func (m *Match) MatchSignal(_ context.Context, _ runtime.Logger, _ *sql.DB, _ runtime.NakamaModule,
	dispatcher runtime.MatchDispatcher, _ int64, state interface{}, data string,
) (interface{}, string) {
	s, ok := state.(*State)
	if !ok {
		return state, ""
	}

	switch data {
	case SignalEndGame:
		if err := s.session.EndGame(); err != nil {
			s.sync(dispatcher)
			return s, err.Error()
		}
	case SignalDestroyGame:
		s.session.DestroyGame()
	}
	s.sync(dispatcher)

	snap, err := json.Marshal(s.session.Snapshot())
	if err != nil {
		return s, ""
	}
	return s, string(snap)
}
