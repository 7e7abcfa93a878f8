package protocol

// Message is anything that can be sent through the envelope codec.
type Message interface {
	OpCode() OpCode
}

// Notifier delivers outbound messages to a single participant. Implementations must not block the
// caller on network I/O.
type Notifier interface {
	Send(participantID string, msg Message)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(participantID string, msg Message)

func (f NotifierFunc) Send(participantID string, msg Message) { f(participantID, msg) }

// -------------------------------------------------------------------------------------------------
// Outbound
// -------------------------------------------------------------------------------------------------

// MatchState is the per-state payload broadcast on every state entry and replayed to late joiners.
type MatchState struct {
	State string `json:"state"`
	// Banner is the large center-screen text ("Ready", "Go!"), empty when none.
	Banner string `json:"banner,omitempty"`
	// Duration is the mission's time limit in milliseconds, zero when untimed.
	Duration int64 `json:"duration_ms,omitempty"`
	// Elapsed is the match clock in milliseconds at the time the payload was built.
	Elapsed int64 `json:"elapsed_ms,omitempty"`
}

type Score struct {
	ParticipantID string `json:"participant_id"`
	Score         int    `json:"score"`
}

type GemCount struct {
	Found int `json:"found"`
	Total int `json:"total"`
}

// Timer modes.
const (
	TimerReset = "reset"
	TimerStart = "start"
	TimerStop  = "stop"
	// TimerCountdown counts down from Value milliseconds.
	TimerCountdown = "countdown"
)

type Timer struct {
	Mode  string `json:"mode"`
	Value int64  `json:"value_ms"`
}

type HelpLine struct {
	Text string `json:"text"`
}

type GemSpawned struct {
	GemID    string     `json:"gem_id"`
	Variant  string     `json:"variant"`
	Value    int        `json:"value"`
	PointID  int        `json:"point_id"`
	Position [3]float64 `json:"position"`
}

type GemHidden struct {
	GemID string `json:"gem_id"`
}

type GroupCompleted struct {
	Count int `json:"count"`
}

type Respawn struct {
	ParticipantID string `json:"participant_id"`
	Checkpoint    int    `json:"checkpoint"`
}

type PlayerJoined struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
	IsHost        bool   `json:"is_host"`
}

type PlayerLeft struct {
	ParticipantID string `json:"participant_id"`
	Reason        string `json:"reason,omitempty"`
}

type RegistrationStarting struct{}

type RegistrationRequest struct {
	SessionID string `json:"session_id"`
}

type RosterUpdate struct {
	ParticipantIDs []string `json:"participant_ids"`
}

type ResultRow struct {
	ParticipantID string `json:"participant_id"`
	Score         int    `json:"score"`
	Rank          int    `json:"rank"`
	Position      int    `json:"position"`
}

type MatchResult struct {
	Rows         []ResultRow `json:"rows"`
	TiedForFirst bool        `json:"tied_for_first"`
}

type Kicked struct {
	Reason string `json:"reason"`
}

func (MatchState) OpCode() OpCode           { return OpMatchState }
func (Score) OpCode() OpCode                { return OpScore }
func (GemCount) OpCode() OpCode             { return OpGemCount }
func (Timer) OpCode() OpCode                { return OpTimer }
func (HelpLine) OpCode() OpCode             { return OpHelpLine }
func (GemSpawned) OpCode() OpCode           { return OpGemSpawned }
func (GemHidden) OpCode() OpCode            { return OpGemHidden }
func (GroupCompleted) OpCode() OpCode       { return OpGroupCompleted }
func (Respawn) OpCode() OpCode              { return OpRespawn }
func (PlayerJoined) OpCode() OpCode         { return OpPlayerJoined }
func (PlayerLeft) OpCode() OpCode           { return OpPlayerLeft }
func (RegistrationStarting) OpCode() OpCode { return OpRegistrationStarting }
func (RegistrationRequest) OpCode() OpCode  { return OpRegistrationRequest }
func (RosterUpdate) OpCode() OpCode         { return OpRosterUpdate }
func (MatchResult) OpCode() OpCode          { return OpMatchResult }
func (Kicked) OpCode() OpCode               { return OpKicked }

// -------------------------------------------------------------------------------------------------
// Inbound
// -------------------------------------------------------------------------------------------------

type Ready struct {
	Ready bool `json:"ready"`
}

type OutOfBounds struct{}

type CollectGem struct {
	GemID string `json:"gem_id"`
}

type ArbitrationAck struct {
	Success bool `json:"success"`
}

type RosterAck struct{}

type Checkpoint struct {
	Index int `json:"index"`
}

type FinishReached struct{}

// SpawnPoint is a gem spawn location as shipped in a mission file.
type SpawnPoint struct {
	ID       int        `json:"id"`
	Position [3]float64 `json:"position"`
	Rotation [4]float64 `json:"rotation,omitempty"`
}

// LoadMission replaces the session's mission. Only the host may send it, and only while waiting.
type LoadMission struct {
	MissionID   string       `json:"mission_id"`
	Level       int          `json:"level"`
	SpawnPoints []SpawnPoint `json:"spawn_points"`
}

type StartMatch struct{}

func (Ready) OpCode() OpCode          { return OpReady }
func (OutOfBounds) OpCode() OpCode    { return OpOutOfBounds }
func (CollectGem) OpCode() OpCode     { return OpCollectGem }
func (ArbitrationAck) OpCode() OpCode { return OpArbitrationAck }
func (RosterAck) OpCode() OpCode      { return OpRosterAck }
func (Checkpoint) OpCode() OpCode     { return OpCheckpoint }
func (FinishReached) OpCode() OpCode  { return OpFinishReached }
func (LoadMission) OpCode() OpCode    { return OpLoadMission }
func (StartMatch) OpCode() OpCode     { return OpStartMatch }
