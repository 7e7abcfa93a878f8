package server

import (
	"context"
	"time"

	"github.com/argus-labs/gemrush/pkg/match"
	"github.com/argus-labs/gemrush/pkg/scheduler"
	"github.com/argus-labs/gemrush/pkg/statsd"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

var ErrLoopStopped = eris.New("event loop stopped")

type command struct {
	fn   func(*match.Session) error
	done chan error
}

// Loop is the only goroutine that touches a session and its scheduler. Everything else posts
// commands to it.
type Loop struct {
	session  *match.Session
	sched    *scheduler.Scheduler
	interval time.Duration
	log      zerolog.Logger

	commands chan command
	stopped  chan struct{}
}

func NewLoop(session *match.Session, sched *scheduler.Scheduler, interval time.Duration, log zerolog.Logger) (*Loop, error) {
	if session == nil || sched == nil {
		return nil, eris.New("session and scheduler are required")
	}
	if interval <= 0 {
		return nil, eris.New("tick interval must be positive")
	}
	return &Loop{
		session:  session,
		sched:    sched,
		interval: interval,
		log:      log,
		commands: make(chan command, 1024),
		stopped:  make(chan struct{}),
	}, nil
}

// Run ticks the scheduler and executes commands until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.log.Info().Dur("interval", l.interval).Msg("event loop started")
	for {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("event loop stopped")
			return nil
		case now := <-ticker.C:
			start := time.Now()
			l.sched.Tick(now)
			statsd.EmitTickStat(start, "tick")
		case cmd := <-l.commands:
			err := cmd.fn(l.session)
			if cmd.done != nil {
				cmd.done <- err
			}
		}
	}
}

// Do runs fn on the loop and waits for its result.
func (l *Loop) Do(ctx context.Context, fn func(*match.Session) error) error {
	cmd := command{fn: fn, done: make(chan error, 1)}
	select {
	case l.commands <- cmd:
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "failed to post command")
	}

	select {
	case err := <-cmd.done:
		return err
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "command did not complete")
	}
}

// Post queues fn without waiting. Errors are logged at debug level since inbound commands that
// violate a precondition are expected.
func (l *Loop) Post(participantID string, fn func(*match.Session) error) {
	cmd := command{fn: func(s *match.Session) error {
		if err := fn(s); err != nil {
			l.log.Debug().Err(err).Str("participant_id", participantID).Msg("command rejected")
		}
		return nil
	}}
	select {
	case l.commands <- cmd:
	case <-l.stopped:
	}
}
