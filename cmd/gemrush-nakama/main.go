// Command gemrush-nakama is the nakama runtime plugin that hosts gemrush matches. Build it with
// -buildmode=plugin and drop it into nakama's module directory.
package main

import (
	"context"
	"database/sql"

	"github.com/argus-labs/gemrush/pkg/arbitration"
	"github.com/argus-labs/gemrush/pkg/micro"
	"github.com/argus-labs/gemrush/pkg/nakama"
	"github.com/argus-labs/gemrush/pkg/statsd"
	"github.com/argus-labs/gemrush/pkg/telemetry"
	"github.com/caarlos0/env/v11"
	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/rotisserie/eris"
)

type config struct {
	StatsdAddress string   `env:"STATSD_ADDRESS"`
	StatsdTags    []string `env:"STATSD_TAGS" envSeparator:","`
	ArbiterPrefix string   `env:"GEMRUSH_ARBITER_PREFIX"`
}

// InitModule is looked up by nakama when the plugin is loaded.
func InitModule(
	ctx context.Context,
	logger runtime.Logger,
	_ *sql.DB,
	nk runtime.NakamaModule,
	initializer runtime.Initializer,
) error {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		return eris.Wrap(err, "failed to parse config")
	}

	tel, err := telemetry.New(telemetry.Options{ServiceName: "gemrush-nakama"})
	if err != nil {
		return eris.Wrap(err, "failed to init telemetry")
	}

	if cfg.StatsdAddress != "" {
		if err := statsd.Init(cfg.StatsdAddress, cfg.StatsdTags); err != nil {
			return eris.Wrap(err, "failed to init statsd")
		}
	}

	opts := nakama.HandlerOptions{
		Logger: tel.GetLogger("match"),
		Tracer: tel.Tracer,
	}
	if cfg.ArbiterPrefix != "" {
		// The connection lives as long as the nakama process.
		nc, err := micro.NewClient(micro.WithLogger(tel.GetLogger("nats")))
		if err != nil {
			return eris.Wrap(err, "failed to connect to nats")
		}
		arbiter, err := arbitration.NewNATSService(nc, cfg.ArbiterPrefix)
		if err != nil {
			return err
		}
		opts.Arbiter = arbiter
	}

	if _, err := nakama.Register(ctx, nk, initializer, opts); err != nil {
		return eris.Wrap(err, "failed to register gemrush")
	}
	logger.Info("gemrush module loaded")
	return nil
}

// main is never called in plugin mode.
func main() {}
