// Package protocol defines the messages exchanged between a match session and its participants, and
// the JSON envelope they travel in.
package protocol

// OpCode identifies a message type on the wire. Outbound codes are below 100, inbound codes start at
// 100 so a transport can tell directions apart without decoding the body.
type OpCode int64

const (
	OpUnknown OpCode = iota

	// Outbound.
	OpMatchState
	OpScore
	OpGemCount
	OpTimer
	OpHelpLine
	OpGemSpawned
	OpGemHidden
	OpGroupCompleted
	OpRespawn
	OpPlayerJoined
	OpPlayerLeft
	OpRegistrationStarting
	OpRegistrationRequest
	OpRosterUpdate
	OpMatchResult
	OpKicked
)

const (
	// Inbound.
	OpReady OpCode = iota + 100
	OpOutOfBounds
	OpCollectGem
	OpArbitrationAck
	OpRosterAck
	OpCheckpoint
	OpFinishReached
	OpLoadMission
	OpStartMatch
)

var opNames = map[OpCode]string{
	OpMatchState:           "match_state",
	OpScore:                "score",
	OpGemCount:             "gem_count",
	OpTimer:                "timer",
	OpHelpLine:             "help_line",
	OpGemSpawned:           "gem_spawned",
	OpGemHidden:            "gem_hidden",
	OpGroupCompleted:       "group_completed",
	OpRespawn:              "respawn",
	OpPlayerJoined:         "player_joined",
	OpPlayerLeft:           "player_left",
	OpRegistrationStarting: "registration_starting",
	OpRegistrationRequest:  "registration_request",
	OpRosterUpdate:         "roster_update",
	OpMatchResult:          "match_result",
	OpKicked:               "kicked",
	OpReady:                "ready",
	OpOutOfBounds:          "out_of_bounds",
	OpCollectGem:           "collect_gem",
	OpArbitrationAck:       "arbitration_ack",
	OpRosterAck:            "roster_ack",
	OpCheckpoint:           "checkpoint",
	OpFinishReached:        "finish_reached",
	OpLoadMission:          "load_mission",
	OpStartMatch:           "start_match",
}

func (o OpCode) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "unknown"
}

// Inbound reports whether the op code is sent by participants.
func (o OpCode) Inbound() bool {
	return o >= OpReady
}
