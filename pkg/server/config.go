package server

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

type config struct {
	// Port the HTTP server listens on.
	Port string `env:"GEMRUSH_HTTP_PORT" envDefault:"4040"`

	// TickRate is how many times per second the loop ticks the scheduler.
	TickRate int `env:"GEMRUSH_TICK_RATE" envDefault:"20"`

	// SendBuffer is the number of outbound messages queued per connection before it is dropped.
	SendBuffer int `env:"GEMRUSH_SEND_BUFFER" envDefault:"256"`

	// ShutdownTimeout bounds the graceful shutdown of the HTTP server.
	ShutdownTimeout time.Duration `env:"GEMRUSH_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

func loadConfig() (config, error) {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		return cfg, eris.Wrap(err, "failed to parse server config")
	}
	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate server config")
	}
	return cfg, nil
}

func (cfg *config) validate() error {
	if cfg.Port == "" {
		return eris.New("port cannot be empty")
	}
	if cfg.TickRate <= 0 {
		return eris.New("tick rate must be positive")
	}
	if cfg.SendBuffer <= 0 {
		return eris.New("send buffer must be positive")
	}
	return nil
}

func (cfg *config) applyToOptions(opt *Options) {
	opt.Port = cfg.Port
	opt.TickRate = cfg.TickRate
	opt.SendBuffer = cfg.SendBuffer
	opt.ShutdownTimeout = cfg.ShutdownTimeout
}

type Options struct {
	Port            string
	TickRate        int
	SendBuffer      int
	ShutdownTimeout time.Duration

	// Leaderboard serves GET /leaderboard/:mission when set.
	Leaderboard Leaderboard
	Logger      zerolog.Logger
}

// LoadOptions reads the environment and overrides it with the non-zero fields of opts.
func LoadOptions(opts Options) (Options, error) {
	cfg, err := loadConfig()
	if err != nil {
		return Options{}, err
	}
	options := Options{}
	cfg.applyToOptions(&options)
	options.apply(opts)
	if err := options.validate(); err != nil {
		return Options{}, eris.Wrap(err, "invalid server options")
	}
	return options, nil
}

func (opt *Options) apply(newOpt Options) {
	if newOpt.Port != "" {
		opt.Port = newOpt.Port
	}
	if newOpt.TickRate != 0 {
		opt.TickRate = newOpt.TickRate
	}
	if newOpt.SendBuffer != 0 {
		opt.SendBuffer = newOpt.SendBuffer
	}
	if newOpt.ShutdownTimeout != 0 {
		opt.ShutdownTimeout = newOpt.ShutdownTimeout
	}
	if newOpt.Leaderboard != nil {
		opt.Leaderboard = newOpt.Leaderboard
	}
	opt.Logger = newOpt.Logger
}

func (opt *Options) validate() error {
	if opt.TickRate <= 0 {
		return eris.New("tick rate must be positive")
	}
	if opt.SendBuffer <= 0 {
		return eris.New("send buffer must be positive")
	}
	return nil
}

// TickInterval returns the period between scheduler ticks.
func (opt *Options) TickInterval() time.Duration {
	return time.Second / time.Duration(opt.TickRate)
}
