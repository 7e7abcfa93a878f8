// Package arbitration agrees with an external fairness service on the roster of a ranked match
// before it starts.
//
// The handshake has two ack rounds. In registration every participant is asked to register with the
// service; participants that report failure are dropped. Once everyone acked, or the registration
// timeout fired, the host registers itself and fetches the authoritative roster. Connected
// participants missing from it are dropped, the rest are sent the roster and must ack it. The match
// may start once every remaining participant acked the roster or the second timeout fired.
//
// Failures that concern the host abort the attempt. Failures of other participants only drop that
// participant.
package arbitration

import (
	"context"
	"time"

	"github.com/argus-labs/gemrush/pkg/protocol"
	"github.com/argus-labs/gemrush/pkg/roster"
	"github.com/argus-labs/gemrush/pkg/scheduler"
	"github.com/argus-labs/gemrush/pkg/statsd"
	"github.com/argus-labs/gemrush/pkg/telemetry"
	"github.com/argus-labs/gemrush/pkg/telemetry/sentry"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	ErrHostNotInRoster    = eris.New("host missing from authoritative roster")
	ErrNoHost             = eris.New("session has no host")
	ErrInProgress         = eris.New("arbitration already in progress")
	ErrWrongPhase         = eris.New("ack not expected in current phase")
	ErrUnknownParticipant = eris.New("unknown participant")
)

// Drop reasons passed to Host.Drop.
const (
	ReasonRegistrationFailed = "registration failed"
	ReasonNotInRoster        = "not in arbitrated roster"
)

// Service is the external fairness service.
type Service interface {
	RegisterHost(ctx context.Context, sessionID, hostID string) error
	Roster(ctx context.Context, sessionID string) ([]string, error)
}

// Host is the session running the handshake.
type Host interface {
	SessionID() string
	Roster() *roster.Roster
	Notify(participantID string, msg protocol.Message)
	SetAcceptingJoins(accepting bool)
	Drop(participantID, reason string)
}

type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseRegistering
	PhaseReconciling
	PhaseDone
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRegistering:
		return "registering"
	case PhaseReconciling:
		return "reconciling"
	case PhaseDone:
		return "done"
	case PhaseAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

type Options struct {
	RegistrationTimeout time.Duration
	RosterTimeout       time.Duration
	// CallTimeout bounds each request to the fairness service.
	CallTimeout time.Duration

	// OnReady runs once the roster is settled and the match may start.
	OnReady func()
	// OnAbort runs when a host-level failure ends the attempt.
	OnAbort func(err error)

	Logger zerolog.Logger
	Tracer trace.Tracer
}

func (opt *Options) setDefaults() {
	if opt.RegistrationTimeout <= 0 {
		opt.RegistrationTimeout = 10 * time.Second
	}
	if opt.RosterTimeout <= 0 {
		opt.RosterTimeout = 5 * time.Second
	}
	if opt.CallTimeout <= 0 {
		opt.CallTimeout = 5 * time.Second
	}
	if opt.OnReady == nil {
		opt.OnReady = func() {}
	}
	if opt.OnAbort == nil {
		opt.OnAbort = func(error) {}
	}
	if opt.Tracer == nil {
		opt.Tracer = noop.NewTracerProvider().Tracer("arbitration")
	}
}

// Protocol runs the handshake for one session. It is driven by the session's scheduler and is not
// safe for concurrent use.
type Protocol struct {
	host    Host
	service Service
	sched   *scheduler.Scheduler
	opts    Options
	log     zerolog.Logger

	phase Phase
	// awaitingRoster is set once the roster was broadcast and roster acks count.
	awaitingRoster bool
	timeout        scheduler.Slot
	// attempt invalidates deferred work from an earlier Begin.
	attempt uint64
	dropped int
}

func New(host Host, service Service, sched *scheduler.Scheduler, opts Options) (*Protocol, error) {
	if host == nil || service == nil || sched == nil {
		return nil, eris.New("host, service and scheduler are required")
	}
	opts.setDefaults()
	return &Protocol{
		host:    host,
		service: service,
		sched:   sched,
		opts:    opts,
		log:     opts.Logger,
	}, nil
}

func (p *Protocol) Phase() Phase { return p.phase }

// Dropped returns how many participants the current attempt dropped.
func (p *Protocol) Dropped() int { return p.dropped }

// InProgress reports whether a handshake is running.
func (p *Protocol) InProgress() bool {
	return p.phase == PhaseRegistering || p.phase == PhaseReconciling
}

// Begin starts the registration round.
func (p *Protocol) Begin() error {
	if p.InProgress() {
		return ErrInProgress
	}
	r := p.host.Roster()
	hostP := r.Host()
	if hostP == nil || !hostP.Connected {
		return ErrNoHost
	}

	p.attempt++
	p.phase = PhaseRegistering
	p.awaitingRoster = false
	p.dropped = 0
	p.host.SetAcceptingJoins(false)

	connected := r.Connected()
	for _, part := range connected {
		p.host.Notify(part.ID, protocol.RegistrationStarting{})
		part.AckedRegistration = false
		part.RegistrationSucceeded = false
		part.AckedRosterUpdate = false
	}
	hostP.AckedRegistration = true
	hostP.RegistrationSucceeded = true

	req := protocol.RegistrationRequest{SessionID: p.host.SessionID()}
	for _, part := range connected {
		if part != hostP {
			p.host.Notify(part.ID, req)
		}
	}

	p.log.Info().
		Str("session_id", p.host.SessionID()).
		Int("participants", len(connected)).
		Msg("arbitration registration started")

	p.timeout.Arm(p.sched, p.opts.RegistrationTimeout, func() {
		p.log.Info().Str("session_id", p.host.SessionID()).Msg("registration timed out")
		p.endRegistration()
	})
	p.check()
	return nil
}

// RegistrationAck records a participant's registration outcome. A failed participant is dropped on the
// next scheduler tick.
func (p *Protocol) RegistrationAck(participantID string, success bool) error {
	if p.phase != PhaseRegistering {
		return eris.Wrapf(ErrWrongPhase, "registration ack in phase %s", p.phase)
	}
	part, ok := p.host.Roster().Get(participantID)
	if !ok || !part.Connected {
		return eris.Wrapf(ErrUnknownParticipant, "participant %s", participantID)
	}
	if part.IsHost || part.AckedRegistration {
		return nil
	}

	part.AckedRegistration = true
	part.RegistrationSucceeded = success
	if !success {
		p.dropped++
		attempt := p.attempt
		p.sched.Defer(func() {
			if p.attempt != attempt {
				return
			}
			p.host.Drop(participantID, ReasonRegistrationFailed)
		})
	}
	p.check()
	return nil
}

// RosterAck records that a participant received the arbitrated roster.
func (p *Protocol) RosterAck(participantID string) error {
	if p.phase != PhaseReconciling || !p.awaitingRoster {
		return eris.Wrapf(ErrWrongPhase, "roster ack in phase %s", p.phase)
	}
	part, ok := p.host.Roster().Get(participantID)
	if !ok || !part.Connected {
		return eris.Wrapf(ErrUnknownParticipant, "participant %s", participantID)
	}
	part.AckedRosterUpdate = true
	p.check()
	return nil
}

// ParticipantLeft re-evaluates the current ack round after a participant disconnected. The attempt
// aborts when the leaver was the host, even if the roster already promoted someone else.
func (p *Protocol) ParticipantLeft(participantID string, wasHost bool) {
	if !p.InProgress() {
		return
	}
	if hostP := p.host.Roster().Host(); wasHost || hostP == nil || !hostP.Connected {
		p.abort(context.Background(), eris.Wrapf(ErrNoHost, "host %s left", participantID))
		return
	}
	p.check()
}

// Reset abandons any running handshake without calling OnAbort.
func (p *Protocol) Reset() {
	p.attempt++
	p.timeout.Cancel()
	p.phase = PhaseIdle
	p.awaitingRoster = false
	p.dropped = 0
}

func (p *Protocol) check() {
	switch {
	case p.phase == PhaseRegistering:
		for _, part := range p.host.Roster().Connected() {
			if !part.AckedRegistration {
				return
			}
		}
		p.endRegistration()
	case p.phase == PhaseReconciling && p.awaitingRoster:
		for _, part := range p.host.Roster().Connected() {
			if !part.AckedRosterUpdate {
				return
			}
		}
		p.finish()
	}
}

// endRegistration moves on to host registration on the next tick, after any pending drops ran.
func (p *Protocol) endRegistration() {
	p.timeout.Cancel()
	p.phase = PhaseReconciling
	attempt := p.attempt
	p.sched.Defer(func() {
		if p.attempt != attempt {
			return
		}
		p.reconcile()
	})
}

func (p *Protocol) reconcile() {
	sessionID := p.host.SessionID()
	hostP := p.host.Roster().Host()
	if hostP == nil || !hostP.Connected {
		p.abort(context.Background(), ErrNoHost)
		return
	}

	ctx, span := p.opts.Tracer.Start(context.Background(), "arbitration.reconcile",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	ids, err := p.fetchRoster(ctx, sessionID, hostP.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.abort(ctx, err)
		return
	}

	allowed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}
	if _, ok := allowed[hostP.ID]; !ok {
		err := eris.Wrapf(ErrHostNotInRoster, "host %s", hostP.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.abort(ctx, err)
		return
	}

	for _, part := range p.host.Roster().Connected() {
		if _, ok := allowed[part.ID]; !ok {
			p.dropped++
			p.host.Drop(part.ID, ReasonNotInRoster)
		}
	}

	connected := p.host.Roster().Connected()
	update := protocol.RosterUpdate{ParticipantIDs: make([]string, 0, len(connected))}
	for _, part := range connected {
		part.AckedRosterUpdate = false
		update.ParticipantIDs = append(update.ParticipantIDs, part.ID)
	}
	hostP.AckedRosterUpdate = true
	for _, part := range connected {
		p.host.Notify(part.ID, update)
	}
	span.SetAttributes(attribute.Int("roster.size", len(connected)), attribute.Int("roster.dropped", p.dropped))
	span.SetStatus(codes.Ok, "")

	p.awaitingRoster = true
	p.timeout.Arm(p.sched, p.opts.RosterTimeout, func() {
		p.log.Info().Str("session_id", sessionID).Msg("roster ack timed out")
		p.finish()
	})
	p.check()
}

func (p *Protocol) fetchRoster(ctx context.Context, sessionID, hostID string) ([]string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
	defer cancel()

	if err := p.service.RegisterHost(callCtx, sessionID, hostID); err != nil {
		return nil, eris.Wrap(err, "host registration failed")
	}
	ids, err := p.service.Roster(callCtx, sessionID)
	if err != nil {
		return nil, eris.Wrap(err, "failed to fetch roster")
	}
	return ids, nil
}

func (p *Protocol) finish() {
	p.timeout.Cancel()
	p.phase = PhaseDone
	p.awaitingRoster = false
	statsd.EmitArbitration("ready", p.dropped)
	p.log.Info().
		Str("session_id", p.host.SessionID()).
		Int("dropped", p.dropped).
		Msg("arbitration complete")
	p.opts.OnReady()
}

func (p *Protocol) abort(ctx context.Context, err error) {
	p.attempt++
	p.timeout.Cancel()
	p.phase = PhaseAborted
	p.awaitingRoster = false
	p.host.SetAcceptingJoins(true)

	statsd.EmitArbitration("aborted", p.dropped)
	log := telemetry.WithTrace(ctx, p.log)
	log.Error().Err(err).Str("session_id", p.host.SessionID()).Msg("arbitration aborted")
	sentry.CaptureException(ctx, err, map[string]string{"session_id": p.host.SessionID()})
	p.opts.OnAbort(err)
}
