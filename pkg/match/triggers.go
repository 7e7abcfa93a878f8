package match

import (
	"github.com/argus-labs/gemrush/pkg/gempool"
	"github.com/argus-labs/gemrush/pkg/protocol"
	"github.com/argus-labs/gemrush/pkg/roster"
	"github.com/argus-labs/gemrush/pkg/scheduler"
	"github.com/rotisserie/eris"
)

func (s *Session) participant(id string) (*roster.Participant, error) {
	p, ok := s.roster.Get(id)
	if !ok || !p.Connected {
		return nil, eris.Wrapf(ErrUnknownParticipant, "participant %s", id)
	}
	return p, nil
}

// Join adds a participant. In a running match the joiner is caught up with the current state.
func (s *Session) Join(id, name string) error {
	if !s.acceptingJoins {
		return eris.Wrapf(ErrJoinsClosed, "participant %s", id)
	}
	if p, ok := s.roster.Get(id); ok && !p.Connected {
		return eris.Wrapf(roster.ErrDuplicateParticipant, "participant %s forfeited this match", id)
	}
	p, err := s.roster.Add(id, name, s.sched.Now())
	if err != nil {
		return err
	}

	s.broadcast(protocol.PlayerJoined{ParticipantID: p.ID, Name: p.Name, IsHost: p.IsHost})
	for _, other := range s.roster.Connected() {
		if other != p {
			s.Notify(p.ID, protocol.PlayerJoined{ParticipantID: other.ID, Name: other.Name, IsHost: other.IsHost})
		}
	}
	s.log.Info().Str("participant_id", id).Bool("host", p.IsHost).Msg("participant joined")

	if s.state == StateWait {
		if !s.opts.Multiplayer && s.roster.ConnectedCount() == 1 {
			return s.startMatch()
		}
		return nil
	}

	s.replay(p)
	s.pollReady()
	return nil
}

// replay sends a late joiner what everyone else already knows about the running match.
func (s *Session) replay(p *roster.Participant) {
	for _, msg := range s.payload() {
		s.Notify(p.ID, msg)
	}
	if s.state == StateGo || s.state == StatePlay {
		s.Notify(p.ID, s.runningTimer())
	}
	for _, gem := range s.pool.LiveGems() {
		s.Notify(p.ID, gem.Message())
	}
	for _, other := range s.roster.All() {
		s.Notify(p.ID, protocol.Score{ParticipantID: other.ID, Score: other.Score})
	}
	s.Notify(p.ID, s.gemCount(p))
}

// Leave handles a disconnect. A participant leaving a running match forfeits and stays in the roster
// to be ranked last. When nobody is left the session is reset.
func (s *Session) Leave(id string) error {
	p, err := s.participant(id)
	if err != nil {
		return err
	}
	wasHost := p.IsHost
	s.disconnect(p, ReasonLeft)
	s.log.Info().Str("participant_id", id).Str("state", s.state.String()).Msg("participant left")

	if s.roster.ConnectedCount() == 0 {
		s.DestroyGame()
		return nil
	}
	if s.arb != nil {
		s.arb.ParticipantLeft(id, wasHost)
	}
	if wasHost && s.state != StateWait {
		// Host duties move on for the rest of the match.
		s.promoteHost()
	}

	switch {
	case s.state == StateWait:
		s.maybeStartMultiplayer()
	case s.state == StateStart:
		s.pollReady()
	}
	return nil
}

func (s *Session) promoteHost() {
	if s.roster.Host() != nil && s.roster.Host().Connected {
		return
	}
	for _, p := range s.roster.Connected() {
		if old := s.roster.Host(); old != nil {
			old.IsHost = false
		}
		p.IsHost = true
		return
	}
}

// SetReady updates a participant's ready flag. Everyone being ready starts a multiplayer match or
// moves a waiting Start on.
func (s *Session) SetReady(id string, ready bool) error {
	p, err := s.participant(id)
	if err != nil {
		return err
	}
	p.Ready = ready

	if s.state == StateWait {
		s.maybeStartMultiplayer()
		return nil
	}
	s.pollReady()
	return nil
}

func (s *Session) maybeStartMultiplayer() {
	if !s.opts.Multiplayer || s.arbitrating() {
		return
	}
	if s.roster.ConnectedCount() < s.opts.MinPlayers || !s.roster.AllReady() {
		return
	}
	if err := s.startMatch(); err != nil {
		s.log.Warn().Err(err).Msg("failed to start match")
	}
}

// StartMatch starts a match on the host's request.
func (s *Session) StartMatch(id string) error {
	p, err := s.participant(id)
	if err != nil {
		return err
	}
	if !p.IsHost {
		return eris.Wrapf(ErrNotHost, "participant %s", id)
	}
	return s.startMatch()
}

func (s *Session) arbitrating() bool {
	return s.arb != nil && s.arb.InProgress()
}

// startMatch leaves Wait. Ranked sessions run arbitration first and enter Start once it settles.
func (s *Session) startMatch() error {
	if s.state != StateWait {
		return eris.Wrapf(ErrAlreadyRunning, "state %s", s.state)
	}
	if s.arbitrating() {
		return eris.Wrap(ErrAlreadyRunning, "arbitration in progress")
	}
	if s.arb != nil {
		return s.arb.Begin()
	}
	s.transition(StateStart)
	return nil
}

// OutOfBounds schedules a respawn for the participant. At most one respawn is pending per participant.
func (s *Session) OutOfBounds(id string) error {
	p, err := s.participant(id)
	if err != nil {
		return err
	}
	if s.state == StateWait || s.state == StateEnd {
		return eris.Wrapf(ErrNoMatchRunning, "out of bounds in state %s", s.state)
	}

	slot, ok := s.respawns[id]
	if !ok {
		slot = &scheduler.Slot{}
		s.respawns[id] = slot
	}
	if slot.Pending() {
		return nil
	}
	slot.Arm(s.sched, RespawnDelay, func() {
		delete(s.respawns, id)
		s.broadcast(protocol.Respawn{ParticipantID: id, Checkpoint: p.Checkpoint})
	})
	return nil
}

// CollectGem credits a gem to a participant. The gem disappears on the next tick.
func (s *Session) CollectGem(id, gemID string) error {
	p, err := s.participant(id)
	if err != nil {
		return err
	}
	if s.state != StatePlay {
		return eris.Wrapf(ErrNotPlaying, "collect in state %s", s.state)
	}
	gem, err := s.pool.Collect(gemID)
	if err != nil {
		return err
	}

	p.Score += gem.Value
	p.Gems++
	s.broadcast(protocol.Score{ParticipantID: p.ID, Score: p.Score})
	s.Notify(p.ID, protocol.GemCount{Found: p.Gems, Total: s.pool.Remaining()})
	s.checkVictory()
	return nil
}

// DurationExpired ends a timed match.
func (s *Session) DurationExpired() {
	if err := s.end(endDuration); err != nil {
		s.log.Debug().Err(err).Msg("duration expired outside a match")
	}
}

// CheckpointReached records single-player progress used for respawns.
func (s *Session) CheckpointReached(id string, index int) error {
	p, err := s.participant(id)
	if err != nil {
		return err
	}
	if !s.state.Running() {
		return eris.Wrapf(ErrNoMatchRunning, "checkpoint in state %s", s.state)
	}
	if index > p.Checkpoint {
		p.Checkpoint = index
	}
	return nil
}

// FinishReached ends the match with the participant as finisher.
func (s *Session) FinishReached(id string) error {
	if _, err := s.participant(id); err != nil {
		return err
	}
	if s.state != StatePlay {
		return eris.Wrapf(ErrNotPlaying, "finish in state %s", s.state)
	}
	s.finisher = id
	return s.end(endFinish)
}

// EndGame ends the running match. Without a match running it does nothing and reports why.
func (s *Session) EndGame() error {
	if err := s.end(endForced); err != nil {
		s.log.Warn().Err(err).Msg("end game ignored")
		return err
	}
	return nil
}

// DestroyGame forces the session back to Wait from any state.
func (s *Session) DestroyGame() {
	s.log.Info().Str("state", s.state.String()).Msg("destroying game")
	s.transition(StateWait)
}

// LoadMission replaces the gem layout. Host only, and only between matches.
func (s *Session) LoadMission(id, missionID string, level int, points []gempool.SpawnPoint) error {
	p, err := s.participant(id)
	if err != nil {
		return err
	}
	if !p.IsHost {
		return eris.Wrapf(ErrNotHost, "participant %s", id)
	}
	if s.state != StateWait || s.arbitrating() {
		return eris.Wrapf(ErrAlreadyRunning, "load mission in state %s", s.state)
	}

	if missionID != "" {
		s.missionID = missionID
	}
	s.level = level
	s.pool.Load(gempool.ClusterSpawnPoints(points, s.opts.Gems.Radius))
	s.log.Info().
		Str("mission_id", s.missionID).
		Int("spawn_groups", len(s.pool.Groups())).
		Msg("mission loaded")
	return nil
}

func (s *Session) ArbitrationAck(id string, success bool) error {
	if s.arb == nil {
		return ErrNotRanked
	}
	return s.arb.RegistrationAck(id, success)
}

func (s *Session) RosterAck(id string) error {
	if s.arb == nil {
		return ErrNotRanked
	}
	return s.arb.RosterAck(id)
}

// Dispatch routes an inbound message from a participant to its trigger.
func (s *Session) Dispatch(id string, msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.Ready:
		return s.SetReady(id, m.Ready)
	case protocol.OutOfBounds:
		return s.OutOfBounds(id)
	case protocol.CollectGem:
		return s.CollectGem(id, m.GemID)
	case protocol.ArbitrationAck:
		return s.ArbitrationAck(id, m.Success)
	case protocol.RosterAck:
		return s.RosterAck(id)
	case protocol.Checkpoint:
		return s.CheckpointReached(id, m.Index)
	case protocol.FinishReached:
		return s.FinishReached(id)
	case protocol.LoadMission:
		return s.LoadMission(id, m.MissionID, m.Level, SpawnPoints(m.SpawnPoints))
	case protocol.StartMatch:
		return s.StartMatch(id)
	default:
		return eris.Wrapf(ErrUnsupportedMessage, "op %s", msg.OpCode())
	}
}

// SpawnPoints converts mission-file spawn points to the pool's representation.
func SpawnPoints(points []protocol.SpawnPoint) []gempool.SpawnPoint {
	out := make([]gempool.SpawnPoint, len(points))
	for i, sp := range points {
		out[i] = gempool.SpawnPoint{
			ID:       sp.ID,
			Position: gempool.Vec3{X: sp.Position[0], Y: sp.Position[1], Z: sp.Position[2]},
			Rotation: sp.Rotation,
		}
	}
	return out
}
