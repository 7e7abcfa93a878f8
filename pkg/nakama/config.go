package nakama

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
)

type config struct {
	// TickRate is the number of MatchLoop calls per second.
	TickRate int `env:"GEMRUSH_NAKAMA_TICK_RATE" envDefault:"10"`

	// EmptyTimeout ends a match nobody has been connected to for this long.
	EmptyTimeout time.Duration `env:"GEMRUSH_NAKAMA_EMPTY_TIMEOUT" envDefault:"2m"`

	// Missions get a leaderboard created on module init.
	Missions []string `env:"GEMRUSH_NAKAMA_MISSIONS" envDefault:"hunt" envSeparator:","`

	// LeaderboardPrefix is prepended to the mission id to form the leaderboard id.
	LeaderboardPrefix string `env:"GEMRUSH_NAKAMA_LEADERBOARD_PREFIX" envDefault:"gemrush_"`
}

func loadConfig() (config, error) {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		return cfg, eris.Wrap(err, "failed to parse nakama config")
	}
	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate nakama config")
	}
	return cfg, nil
}

func (cfg *config) validate() error {
	if cfg.TickRate <= 0 || cfg.TickRate > 60 {
		return eris.New("tick rate must be between 1 and 60")
	}
	if cfg.EmptyTimeout <= 0 {
		return eris.New("empty timeout must be positive")
	}
	if cfg.LeaderboardPrefix == "" {
		return eris.New("leaderboard prefix cannot be empty")
	}
	return nil
}
