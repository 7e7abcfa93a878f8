// Package match runs a gem hunt session: the Wait, Start, Ready, Go, Play, End state machine, the
// inbound gameplay triggers, respawns, early victory and the end-of-match stats writeback.
//
// A Session is owned by a single event loop. Every method, and every callback it schedules, must run
// on that loop; the transports in pkg/server and pkg/nakama take care of that.
package match

import (
	"time"

	"github.com/argus-labs/gemrush/pkg/arbitration"
	"github.com/argus-labs/gemrush/pkg/gempool"
	"github.com/argus-labs/gemrush/pkg/protocol"
	"github.com/argus-labs/gemrush/pkg/roster"
	"github.com/argus-labs/gemrush/pkg/scheduler"
	"github.com/argus-labs/gemrush/pkg/stats"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	ErrNoMatchRunning     = eris.New("no match running")
	ErrAlreadyRunning     = eris.New("match already running")
	ErrNotPlaying         = eris.New("match is not in play")
	ErrJoinsClosed        = eris.New("session is not accepting joins")
	ErrNotHost            = eris.New("only the host may do this")
	ErrNotRanked          = eris.New("session is not ranked")
	ErrUnknownParticipant = eris.New("unknown participant")
	ErrUnsupportedMessage = eris.New("unsupported inbound message")
)

// Drop and leave reasons sent in PlayerLeft and Kicked.
const (
	ReasonLeft              = "left"
	ReasonArbitrationFailed = "arbitration failed"
)

// Lobby is told when a session is done with a match and wants the next mission or the lobby.
type Lobby interface {
	MatchCompleted(sessionID string, result stats.MatchResult)
	MatchAborted(sessionID string, err error)
}

type nopLobby struct{}

func (nopLobby) MatchCompleted(string, stats.MatchResult) {}
func (nopLobby) MatchAborted(string, error)               {}

// Deps are the collaborators of a Session. Scheduler and Notifier are required, Arbiter is required
// for ranked sessions.
type Deps struct {
	Scheduler    *scheduler.Scheduler
	Notifier     protocol.Notifier
	Stats        stats.Writer
	Achievements stats.AchievementTracker
	Arbiter      arbitration.Service
	Lobby        Lobby
	Logger       zerolog.Logger
	Tracer       trace.Tracer
	Rand         gempool.Rand
}

func (d *Deps) setDefaults() {
	if d.Stats == nil {
		d.Stats = stats.Nop{}
	}
	if d.Achievements == nil {
		d.Achievements = stats.Nop{}
	}
	if d.Lobby == nil {
		d.Lobby = nopLobby{}
	}
	if d.Tracer == nil {
		d.Tracer = noop.NewTracerProvider().Tracer("match")
	}
}

type endReason uint8

const (
	endForced endReason = iota
	endDuration
	endVictory
	endFinish
)

func (r endReason) String() string {
	switch r {
	case endForced:
		return "forced"
	case endDuration:
		return "duration"
	case endVictory:
		return "victory"
	case endFinish:
		return "finish"
	default:
		return "unknown"
	}
}

// Session is one match session and everything that hangs off it.
type Session struct {
	id    string
	opts  Options
	deps  Deps
	log   zerolog.Logger
	sched *scheduler.Scheduler

	roster  *roster.Roster
	pool    *gempool.Pool
	arb     *arbitration.Protocol
	victory *vm.Program

	missionID string
	level     int

	state State
	// stateTimer holds the auto-advance of the current state.
	stateTimer    scheduler.Slot
	durationTimer scheduler.Slot
	respawns      map[string]*scheduler.Slot
	// startDwelt is set once Start's minimum dwell elapsed without everyone being ready.
	startDwelt     bool
	acceptingJoins bool

	// match counts matches started; written is the last match whose result was handed to Stats.
	match      uint64
	written    uint64
	goAt       time.Time
	endAt      time.Time
	endReason  endReason
	finisher   string
	lastResult *stats.MatchResult
}

var _ arbitration.Host = (*Session)(nil)

func New(opts Options, deps Deps) (*Session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	options := Options{}
	cfg.applyToOptions(&options)
	options.apply(opts)
	if options.SessionID == "" {
		options.SessionID = uuid.NewString()
	}
	if err := options.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid match options")
	}

	if deps.Scheduler == nil {
		return nil, eris.New("scheduler is required")
	}
	if deps.Notifier == nil {
		return nil, eris.New("notifier is required")
	}
	if options.Ranked && deps.Arbiter == nil {
		return nil, eris.New("ranked sessions require an arbiter")
	}
	deps.setDefaults()

	s := &Session{
		id:             options.SessionID,
		opts:           options,
		deps:           deps,
		log:            deps.Logger.With().Str("session_id", options.SessionID).Logger(),
		sched:          deps.Scheduler,
		roster:         roster.New(),
		respawns:       make(map[string]*scheduler.Slot),
		missionID:      options.MissionID,
		level:          options.Level,
		state:          StateWait,
		acceptingJoins: true,
	}

	if options.VictoryCondition != "" {
		s.victory, err = compileVictory(options.VictoryCondition)
		if err != nil {
			return nil, err
		}
	}

	rnd := deps.Rand
	if rnd == nil && options.Gems.Seed != 0 {
		rnd = gempool.NewSeededRand(options.Gems.Seed)
	}
	s.pool, err = gempool.New(
		gempool.ClusterSpawnPoints(options.SpawnPoints, options.Gems.Radius),
		gempool.Options{
			Radius:              options.Gems.Radius,
			ActiveGroups:        options.Gems.ActiveGroups,
			AllowOccupiedPoints: options.Gems.AllowOccupiedPoints,
			Rand:                rnd,
			Deferrer:            s.sched,
			Listener:            gemEvents{s},
			Logger:              s.log.With().Str("module", "gempool").Logger(),
		},
	)
	if err != nil {
		return nil, err
	}

	if options.Ranked {
		s.arb, err = arbitration.New(s, deps.Arbiter, s.sched, arbitration.Options{
			RegistrationTimeout: options.Arbitration.RegistrationTimeout,
			RosterTimeout:       options.Arbitration.RosterTimeout,
			CallTimeout:         options.Arbitration.CallTimeout,
			OnReady:             s.arbitrationReady,
			OnAbort:             s.arbitrationAborted,
			Logger:              s.log.With().Str("module", "arbitration").Logger(),
			Tracer:              deps.Tracer,
		})
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Session) SessionID() string { return s.id }

func (s *Session) Roster() *roster.Roster { return s.roster }

func (s *Session) State() State { return s.state }

func (s *Session) Pool() *gempool.Pool { return s.pool }

// Arbitration returns the ranked handshake, nil for unranked sessions.
func (s *Session) Arbitration() *arbitration.Protocol { return s.arb }

func (s *Session) AcceptingJoins() bool { return s.acceptingJoins }

func (s *Session) SetAcceptingJoins(accepting bool) { s.acceptingJoins = accepting }

// LastResult returns the result of the most recently ended match.
func (s *Session) LastResult() (stats.MatchResult, bool) {
	if s.lastResult == nil {
		return stats.MatchResult{}, false
	}
	return *s.lastResult, true
}

// Elapsed is the match clock. It starts when Go is entered and stops at End.
func (s *Session) Elapsed() time.Duration {
	switch {
	case s.goAt.IsZero():
		return 0
	case s.state == StateEnd || (s.state == StateWait && !s.endAt.IsZero()):
		return s.endAt.Sub(s.goAt)
	case s.state == StateGo || s.state == StatePlay:
		return s.sched.Now().Sub(s.goAt)
	default:
		return 0
	}
}

// Notify sends a message to one participant.
func (s *Session) Notify(participantID string, msg protocol.Message) {
	s.deps.Notifier.Send(participantID, msg)
}

// broadcast sends every message to every connected participant, in connection order.
func (s *Session) broadcast(msgs ...protocol.Message) {
	for _, p := range s.roster.Connected() {
		for _, msg := range msgs {
			s.deps.Notifier.Send(p.ID, msg)
		}
	}
}

func (s *Session) gemCount(p *roster.Participant) protocol.GemCount {
	return protocol.GemCount{Found: p.Gems, Total: s.pool.Remaining()}
}

// Drop removes a participant from the current attempt on behalf of arbitration. The participant is
// told why, kept in the roster as dropped while a match is running and removed otherwise.
func (s *Session) Drop(participantID, reason string) {
	p, ok := s.roster.Get(participantID)
	if !ok || !p.Connected {
		return
	}
	s.Notify(participantID, protocol.Kicked{Reason: reason})
	s.disconnect(p, reason)
	s.log.Info().Str("participant_id", participantID).Str("reason", reason).Msg("participant dropped")
}

// disconnect takes a participant out of play and tells everyone else.
func (s *Session) disconnect(p *roster.Participant, reason string) {
	if slot, ok := s.respawns[p.ID]; ok {
		slot.Cancel()
		delete(s.respawns, p.ID)
	}
	p.Connected = false
	p.Ready = false
	if s.state == StateWait {
		_, _ = s.roster.Remove(p.ID)
	} else {
		p.Dropped = true
	}
	s.broadcast(protocol.PlayerLeft{ParticipantID: p.ID, Reason: reason})
}

func (s *Session) arbitrationReady() {
	if s.state != StateWait {
		return
	}
	s.transition(StateStart)
}

// arbitrationAborted sends everyone back out of the join flow. The session itself stays in Wait.
func (s *Session) arbitrationAborted(err error) {
	s.roster.ResetReady()
	for _, p := range s.roster.Connected() {
		s.Notify(p.ID, protocol.Kicked{Reason: ReasonArbitrationFailed})
	}
	s.deps.Lobby.MatchAborted(s.id, err)
}

// Snapshot is a read-only view of a session for labels and status endpoints.
type Snapshot struct {
	SessionID       string               `json:"session_id"`
	MissionID       string               `json:"mission_id"`
	Level           int                  `json:"level"`
	State           string               `json:"state"`
	Multiplayer     bool                 `json:"multiplayer"`
	Ranked          bool                 `json:"ranked"`
	AcceptingJoins  bool                 `json:"accepting_joins"`
	Participants    []roster.Participant `json:"participants"`
	GemsLive        int                  `json:"gems_live"`
	GemsRemaining   int                  `json:"gems_remaining"`
	GroupsCompleted int                  `json:"groups_completed"`
	SpawnDegraded   bool                 `json:"spawn_degraded"`
	ElapsedMs       int64                `json:"elapsed_ms"`
	LastResult      *stats.MatchResult   `json:"last_result,omitempty"`
	Arbitration     string               `json:"arbitration,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		SessionID:       s.id,
		MissionID:       s.missionID,
		Level:           s.level,
		State:           s.state.String(),
		Multiplayer:     s.opts.Multiplayer,
		Ranked:          s.opts.Ranked,
		AcceptingJoins:  s.acceptingJoins,
		Participants:    s.roster.Snapshot(),
		GemsLive:        s.pool.Live(),
		GemsRemaining:   s.pool.Remaining(),
		GroupsCompleted: s.pool.Completed(),
		SpawnDegraded:   s.pool.Degraded(),
		ElapsedMs:       s.Elapsed().Milliseconds(),
	}
	if s.lastResult != nil {
		result := *s.lastResult
		snap.LastResult = &result
	}
	if s.arb != nil {
		snap.Arbitration = s.arb.Phase().String()
	}
	return snap
}

// gemEvents forwards pool events to every participant.
type gemEvents struct {
	s *Session
}

func (e gemEvents) GemSpawned(gem gempool.Gem) {
	e.s.broadcast(gem.Message())
}

func (e gemEvents) GemHidden(gem gempool.Gem) {
	e.s.broadcast(protocol.GemHidden{GemID: gem.ID})
	for _, p := range e.s.roster.Connected() {
		e.s.Notify(p.ID, e.s.gemCount(p))
	}
}

func (e gemEvents) GroupCompleted(count int) {
	e.s.broadcast(protocol.GroupCompleted{Count: count})
}
