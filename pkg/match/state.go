package match

import (
	"time"

	"github.com/argus-labs/gemrush/pkg/protocol"
)

type State uint8

const (
	StateWait State = iota
	StateStart
	StateReady
	StateGo
	StatePlay
	StateEnd

	stateCount
)

func (s State) String() string {
	switch s {
	case StateWait:
		return "wait"
	case StateStart:
		return "start"
	case StateReady:
		return "ready"
	case StateGo:
		return "go"
	case StatePlay:
		return "play"
	case StateEnd:
		return "end"
	case stateCount:
		return "unknown"
	default:
		return "unknown"
	}
}

// Running reports whether a match is in progress, End excluded.
func (s State) Running() bool {
	return s >= StateStart && s <= StatePlay
}

// stateSpec describes one state. On entry enter runs first, then payload is broadcast, then entered
// runs. When delay is non-zero, advance is scheduled on the state's timer unless the session already
// moved elsewhere.
type stateSpec struct {
	enter   func(s *Session)
	payload func(s *Session) []protocol.Message
	entered func(s *Session)
	delay   time.Duration
	advance func(s *Session)
}

//nolint:gochecknoglobals // closed handler table
var states [stateCount]stateSpec

// The table is filled in init because its handlers refer back to it through transition.
func init() { //nolint:gochecknoinits // see above
	states = [stateCount]stateSpec{
		StateWait: {
			enter:   (*Session).enterWait,
			payload: (*Session).waitPayload,
		},
		StateStart: {
			enter:   (*Session).enterStart,
			payload: (*Session).startPayload,
			entered: (*Session).startEntered,
			delay:   StartToReadyDelay,
			advance: (*Session).startDwellElapsed,
		},
		StateReady: {
			payload: (*Session).readyPayload,
			delay:   ReadyToGoDelay,
			advance: func(s *Session) { s.transition(StateGo) },
		},
		StateGo: {
			enter:   (*Session).enterGo,
			payload: (*Session).goPayload,
			delay:   GoToPlayDelay,
			advance: func(s *Session) { s.transition(StatePlay) },
		},
		StatePlay: {
			payload: (*Session).playPayload,
		},
		StateEnd: {
			enter:   (*Session).enterEnd,
			payload: (*Session).endPayload,
			entered: (*Session).endEntered,
			delay:   EndToWaitDelay,
			advance: (*Session).endPauseElapsed,
		},
	}
}
