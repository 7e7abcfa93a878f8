package match

import (
	"time"

	"github.com/argus-labs/gemrush/pkg/gempool"
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
)

// Fixed state delays.
const (
	StartToReadyDelay = 500 * time.Millisecond
	ReadyToGoDelay    = 3000 * time.Millisecond
	GoToPlayDelay     = 2000 * time.Millisecond
	EndToWaitDelay    = 5000 * time.Millisecond
	RespawnDelay      = 2500 * time.Millisecond
)

type config struct {
	MissionID string `env:"GEMRUSH_MISSION_ID" envDefault:"hunt"`
	Level     int    `env:"GEMRUSH_LEVEL" envDefault:"1"`

	// Duration is the match time limit. Zero means untimed.
	Duration time.Duration `env:"GEMRUSH_DURATION" envDefault:"0s"`
	ParTime  time.Duration `env:"GEMRUSH_PAR_TIME" envDefault:"0s"`

	Multiplayer bool `env:"GEMRUSH_MULTIPLAYER" envDefault:"false"`
	Ranked      bool `env:"GEMRUSH_RANKED" envDefault:"false"`
	MinPlayers  int  `env:"GEMRUSH_MIN_PLAYERS" envDefault:"2"`

	// VictoryCondition is an expr boolean evaluated after every score change, e.g. "leader >= 50".
	VictoryCondition string `env:"GEMRUSH_VICTORY_CONDITION"`

	GemRadius           float64 `env:"GEMRUSH_GEM_RADIUS" envDefault:"20"`
	ActiveGemGroups     int     `env:"GEMRUSH_ACTIVE_GEM_GROUPS" envDefault:"2"`
	AllowOccupiedPoints bool    `env:"GEMRUSH_ALLOW_OCCUPIED_POINTS" envDefault:"false"`
	// GemSeed makes spawn selection replayable when non-zero.
	GemSeed uint64 `env:"GEMRUSH_GEM_SEED" envDefault:"0"`

	RegistrationTimeout time.Duration `env:"GEMRUSH_REGISTRATION_TIMEOUT" envDefault:"10s"`
	RosterTimeout       time.Duration `env:"GEMRUSH_ROSTER_TIMEOUT" envDefault:"5s"`
	ArbiterCallTimeout  time.Duration `env:"GEMRUSH_ARBITER_CALL_TIMEOUT" envDefault:"5s"`
	WritebackTimeout    time.Duration `env:"GEMRUSH_WRITEBACK_TIMEOUT" envDefault:"5s"`
}

func loadConfig() (config, error) {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		return cfg, eris.Wrap(err, "failed to parse match config")
	}
	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate match config")
	}
	return cfg, nil
}

func (cfg *config) validate() error {
	if cfg.Duration < 0 || cfg.ParTime < 0 {
		return eris.New("durations cannot be negative")
	}
	if cfg.MinPlayers < 1 {
		return eris.New("min players must be at least 1")
	}
	if cfg.GemRadius <= 0 {
		return eris.New("gem radius must be positive")
	}
	if cfg.ActiveGemGroups < 1 {
		return eris.New("at least one active gem group is required")
	}
	if cfg.RegistrationTimeout <= 0 || cfg.RosterTimeout <= 0 || cfg.ArbiterCallTimeout <= 0 {
		return eris.New("arbitration timeouts must be positive")
	}
	if cfg.WritebackTimeout <= 0 {
		return eris.New("writeback timeout must be positive")
	}
	return nil
}

func (cfg *config) applyToOptions(opt *Options) {
	opt.MissionID = cfg.MissionID
	opt.Level = cfg.Level
	opt.Duration = cfg.Duration
	opt.ParTime = cfg.ParTime
	opt.Multiplayer = cfg.Multiplayer
	opt.Ranked = cfg.Ranked
	opt.MinPlayers = cfg.MinPlayers
	opt.VictoryCondition = cfg.VictoryCondition
	opt.Gems = GemOptions{
		Radius:              cfg.GemRadius,
		ActiveGroups:        cfg.ActiveGemGroups,
		AllowOccupiedPoints: cfg.AllowOccupiedPoints,
		Seed:                cfg.GemSeed,
	}
	opt.Arbitration = ArbitrationOptions{
		RegistrationTimeout: cfg.RegistrationTimeout,
		RosterTimeout:       cfg.RosterTimeout,
		CallTimeout:         cfg.ArbiterCallTimeout,
	}
	opt.WritebackTimeout = cfg.WritebackTimeout
}

// Options configures a Session. Values loaded from GEMRUSH_* environment variables are overridden
// by any non-zero field passed to New.
type Options struct {
	SessionID string
	MissionID string
	Level     int
	Duration  time.Duration
	ParTime   time.Duration

	// Multiplayer sessions wait for every participant to be ready instead of starting on first join.
	Multiplayer bool
	// Ranked sessions run arbitration before every match.
	Ranked     bool
	MinPlayers int

	VictoryCondition string

	// SpawnPoints is the initial mission's gem layout. LoadMission replaces it.
	SpawnPoints []gempool.SpawnPoint

	Gems        GemOptions
	Arbitration ArbitrationOptions

	WritebackTimeout time.Duration
}

type GemOptions struct {
	Radius              float64
	ActiveGroups        int
	AllowOccupiedPoints bool
	Seed                uint64
}

type ArbitrationOptions struct {
	RegistrationTimeout time.Duration
	RosterTimeout       time.Duration
	CallTimeout         time.Duration
}

// apply merges the given options into the current options, overriding non-zero values.
func (opt *Options) apply(newOpt Options) {
	if newOpt.SessionID != "" {
		opt.SessionID = newOpt.SessionID
	}
	if newOpt.MissionID != "" {
		opt.MissionID = newOpt.MissionID
	}
	if newOpt.Level != 0 {
		opt.Level = newOpt.Level
	}
	if newOpt.Duration != 0 {
		opt.Duration = newOpt.Duration
	}
	if newOpt.ParTime != 0 {
		opt.ParTime = newOpt.ParTime
	}
	if newOpt.Multiplayer {
		opt.Multiplayer = true
	}
	if newOpt.Ranked {
		opt.Ranked = true
	}
	if newOpt.MinPlayers != 0 {
		opt.MinPlayers = newOpt.MinPlayers
	}
	if newOpt.VictoryCondition != "" {
		opt.VictoryCondition = newOpt.VictoryCondition
	}
	if newOpt.SpawnPoints != nil {
		opt.SpawnPoints = newOpt.SpawnPoints
	}
	if newOpt.Gems.Radius != 0 {
		opt.Gems.Radius = newOpt.Gems.Radius
	}
	if newOpt.Gems.ActiveGroups != 0 {
		opt.Gems.ActiveGroups = newOpt.Gems.ActiveGroups
	}
	if newOpt.Gems.AllowOccupiedPoints {
		opt.Gems.AllowOccupiedPoints = true
	}
	if newOpt.Gems.Seed != 0 {
		opt.Gems.Seed = newOpt.Gems.Seed
	}
	if newOpt.Arbitration.RegistrationTimeout != 0 {
		opt.Arbitration.RegistrationTimeout = newOpt.Arbitration.RegistrationTimeout
	}
	if newOpt.Arbitration.RosterTimeout != 0 {
		opt.Arbitration.RosterTimeout = newOpt.Arbitration.RosterTimeout
	}
	if newOpt.Arbitration.CallTimeout != 0 {
		opt.Arbitration.CallTimeout = newOpt.Arbitration.CallTimeout
	}
	if newOpt.WritebackTimeout != 0 {
		opt.WritebackTimeout = newOpt.WritebackTimeout
	}
}

func (opt *Options) validate() error {
	if opt.MissionID == "" {
		return eris.New("mission id cannot be empty")
	}
	if opt.Duration < 0 || opt.ParTime < 0 {
		return eris.New("durations cannot be negative")
	}
	if opt.MinPlayers < 1 {
		return eris.New("min players must be at least 1")
	}
	if opt.Gems.Radius <= 0 {
		return eris.New("gem radius must be positive")
	}
	if opt.Gems.ActiveGroups < 1 {
		return eris.New("at least one active gem group is required")
	}
	if opt.WritebackTimeout <= 0 {
		return eris.New("writeback timeout must be positive")
	}
	return nil
}
