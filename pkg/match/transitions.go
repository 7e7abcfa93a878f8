package match

import (
	"time"

	"github.com/argus-labs/gemrush/pkg/protocol"
	"github.com/argus-labs/gemrush/pkg/statsd"
	"github.com/rotisserie/eris"
)

// transition enters next: it cancels the current state's timer, runs the state's handlers around the
// payload broadcast and schedules the auto-advance.
func (s *Session) transition(next State) {
	prev := s.state
	s.stateTimer.Cancel()
	s.state = next

	statsd.EmitStateTransition(prev.String(), next.String())
	s.log.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("state transition")

	spec := states[next]
	if spec.enter != nil {
		spec.enter(s)
	}
	s.broadcast(spec.payload(s)...)
	if spec.entered != nil && s.state == next {
		spec.entered(s)
	}

	if spec.delay > 0 && s.state == next && !s.stateTimer.Pending() {
		s.stateTimer.Arm(s.sched, spec.delay, func() { spec.advance(s) })
	}
}

// payload returns what a participant needs to know about the current state, used both for state
// entry broadcasts and late-join replays.
func (s *Session) payload() []protocol.Message {
	return states[s.state].payload(s)
}

func (s *Session) waitPayload() []protocol.Message {
	return []protocol.Message{
		protocol.MatchState{State: StateWait.String()},
		protocol.Timer{Mode: protocol.TimerReset},
		protocol.HelpLine{Text: "Waiting for players"},
	}
}

func (s *Session) startPayload() []protocol.Message {
	return []protocol.Message{
		protocol.MatchState{State: StateStart.String(), Duration: s.opts.Duration.Milliseconds()},
		protocol.Timer{Mode: protocol.TimerReset},
		protocol.HelpLine{Text: "Get ready"},
	}
}

func (s *Session) readyPayload() []protocol.Message {
	return []protocol.Message{
		protocol.MatchState{State: StateReady.String(), Banner: "Ready", Duration: s.opts.Duration.Milliseconds()},
	}
}

func (s *Session) goPayload() []protocol.Message {
	return []protocol.Message{
		protocol.MatchState{State: StateGo.String(), Banner: "Go!", Duration: s.opts.Duration.Milliseconds()},
		s.runningTimer(),
		protocol.HelpLine{Text: "Collect the gems"},
	}
}

func (s *Session) playPayload() []protocol.Message {
	return []protocol.Message{
		protocol.MatchState{
			State:    StatePlay.String(),
			Duration: s.opts.Duration.Milliseconds(),
			Elapsed:  s.Elapsed().Milliseconds(),
		},
	}
}

func (s *Session) endPayload() []protocol.Message {
	msgs := []protocol.Message{
		protocol.MatchState{
			State:    StateEnd.String(),
			Duration: s.opts.Duration.Milliseconds(),
			Elapsed:  s.Elapsed().Milliseconds(),
		},
		protocol.Timer{Mode: protocol.TimerStop, Value: s.Elapsed().Milliseconds()},
	}
	if s.lastResult != nil {
		msgs = append(msgs, resultMessage(*s.lastResult))
	}
	return msgs
}

// runningTimer is the timer a client shows while the clock runs: a countdown for timed missions.
func (s *Session) runningTimer() protocol.Timer {
	if s.opts.Duration > 0 {
		return protocol.Timer{Mode: protocol.TimerCountdown, Value: (s.opts.Duration - s.Elapsed()).Milliseconds()}
	}
	return protocol.Timer{Mode: protocol.TimerStart, Value: s.Elapsed().Milliseconds()}
}

// enterWait resets the session to the pre-match state. Safe to run at any time, any number of times.
func (s *Session) enterWait() {
	s.durationTimer.Cancel()
	s.cancelRespawns()
	if s.arb != nil {
		s.arb.Reset()
	}
	s.pool.Reset()
	for _, id := range s.roster.Prune() {
		s.log.Debug().Str("participant_id", id).Msg("pruned disconnected participant")
	}
	s.roster.ResetReady()
	s.startDwelt = false
	s.acceptingJoins = true
}

func (s *Session) enterStart() {
	s.match++
	s.goAt = time.Time{}
	s.endAt = time.Time{}
	s.endReason = endForced
	s.finisher = ""
	s.startDwelt = false
	s.roster.ResetScores()
	for _, p := range s.roster.All() {
		p.Dropped = false
	}
}

func (s *Session) startEntered() {
	if err := s.pool.Populate(); err != nil {
		s.log.Debug().Err(err).Msg("match starts without gems")
	}
	for _, p := range s.roster.Connected() {
		s.Notify(p.ID, s.gemCount(p))
	}

	if !s.opts.Multiplayer && s.roster.ConnectedCount() == 1 {
		s.transition(StateReady)
	}
}

// startDwellElapsed runs once Start's minimum dwell is over. The match moves on only when everyone is
// ready; otherwise readiness changes and late joins poll again.
func (s *Session) startDwellElapsed() {
	s.startDwelt = true
	s.pollReady()
}

// pollReady fast-forwards Start to Ready once its dwell is over and every participant is ready.
func (s *Session) pollReady() {
	if s.state != StateStart || !s.startDwelt {
		return
	}
	if !s.roster.AllReady() && !(s.roster.ConnectedCount() == 1 && !s.opts.Multiplayer) {
		return
	}
	s.transition(StateReady)
}

func (s *Session) enterGo() {
	s.goAt = s.sched.Now()
	if s.opts.Duration > 0 {
		s.durationTimer.Arm(s.sched, s.opts.Duration, s.DurationExpired)
	}
}

func (s *Session) enterEnd() {
	s.durationTimer.Cancel()
	s.cancelRespawns()
	s.pool.Freeze()
	s.endAt = s.sched.Now()

	result := s.rank()
	s.lastResult = &result
}

func (s *Session) endEntered() {
	result := *s.lastResult
	statsd.EmitMatchDuration(result.Duration, s.missionID)
	s.submitResult(result)
	s.signalAchievements()
	s.log.Info().
		Str("reason", s.endReason.String()).
		Bool("tied_for_first", result.TiedForFirst).
		Int("participants", len(result.Rows)).
		Msg("match ended")
}

func (s *Session) endPauseElapsed() {
	s.transition(StateWait)
	if s.lastResult != nil {
		s.deps.Lobby.MatchCompleted(s.id, *s.lastResult)
	}
}

func (s *Session) cancelRespawns() {
	for id, slot := range s.respawns {
		slot.Cancel()
		delete(s.respawns, id)
	}
}

// end moves a running match to End.
func (s *Session) end(reason endReason) error {
	if !s.state.Running() {
		return eris.Wrapf(ErrNoMatchRunning, "cannot end match in state %s", s.state)
	}
	s.endReason = reason
	s.transition(StateEnd)
	return nil
}
