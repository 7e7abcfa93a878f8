// Command gemrush runs a single authoritative match session behind a websocket endpoint.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/argus-labs/gemrush/pkg/arbitration"
	"github.com/argus-labs/gemrush/pkg/match"
	"github.com/argus-labs/gemrush/pkg/micro"
	"github.com/argus-labs/gemrush/pkg/scheduler"
	"github.com/argus-labs/gemrush/pkg/server"
	"github.com/argus-labs/gemrush/pkg/stats"
	"github.com/argus-labs/gemrush/pkg/statsd"
	"github.com/argus-labs/gemrush/pkg/telemetry"
	"github.com/argus-labs/gemrush/pkg/telemetry/sentry"
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const serviceName = "gemrush"

type config struct {
	StatsdAddress string   `env:"STATSD_ADDRESS"`
	StatsdTags    []string `env:"STATSD_TAGS" envSeparator:","`

	// StatsEnabled writes match results and achievements to redis.
	StatsEnabled bool `env:"GEMRUSH_STATS_ENABLED" envDefault:"true"`
	// ArbiterPrefix is the NATS subject prefix of the fairness service. Ranked sessions need it.
	ArbiterPrefix string `env:"GEMRUSH_ARBITER_PREFIX"`
}

func main() {
	defer sentry.RecoverAndFlush(true)
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("gemrush exited")
	}
}

func run() error {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		return eris.Wrap(err, "failed to parse config")
	}

	tel, err := telemetry.New(telemetry.Options{ServiceName: serviceName})
	if err != nil {
		return eris.Wrap(err, "failed to init telemetry")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			tel.Logger.Warn().Err(err).Msg("failed to shut down telemetry")
		}
	}()

	if cfg.StatsdAddress != "" {
		if err := statsd.Init(cfg.StatsdAddress, cfg.StatsdTags); err != nil {
			return eris.Wrap(err, "failed to init statsd")
		}
		defer func() {
			_ = statsd.Close()
		}()
	}

	deps := match.Deps{
		Scheduler: scheduler.New(time.Now()),
		Lobby:     lobby{log: tel.GetLogger("lobby")},
		Logger:    tel.GetLogger("match"),
		Tracer:    tel.Tracer,
	}
	serverOpts := server.Options{Logger: tel.GetLogger("server")}

	if cfg.StatsEnabled {
		redisCfg, err := stats.LoadRedisConfig()
		if err != nil {
			return err
		}
		client := redisCfg.NewClient()
		defer client.Close()

		writer, err := stats.NewRedisWriter(client, redisCfg, tel.GetLogger("stats"))
		if err != nil {
			return eris.Wrap(err, "failed to create stats writer")
		}
		deps.Stats = writer
		deps.Achievements = writer
		serverOpts.Leaderboard = writer
	}

	if cfg.ArbiterPrefix != "" {
		nc, err := micro.NewClient(micro.WithLogger(tel.GetLogger("nats")))
		if err != nil {
			return eris.Wrap(err, "failed to connect to nats")
		}
		defer nc.Close()

		arbiter, err := arbitration.NewNATSService(nc, cfg.ArbiterPrefix)
		if err != nil {
			return err
		}
		deps.Arbiter = arbiter
	}

	serverOpts, err = server.LoadOptions(serverOpts)
	if err != nil {
		return err
	}
	hub := server.NewHub(serverOpts.SendBuffer, tel.GetLogger("hub"))
	deps.Notifier = hub

	session, err := match.New(match.Options{}, deps)
	if err != nil {
		return eris.Wrap(err, "failed to create session")
	}
	loop, err := server.NewLoop(session, deps.Scheduler, serverOpts.TickInterval(), tel.GetLogger("loop"))
	if err != nil {
		return err
	}
	srv, err := server.New(loop, hub, serverOpts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel.Logger.Info().
		Str("session", session.SessionID()).
		Str("port", serverOpts.Port).
		Msg("starting gemrush")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(ctx) })
	g.Go(func() error { return srv.Serve(ctx) })
	return g.Wait()
}

// lobby logs what a standalone session would otherwise hand to a lobby service.
type lobby struct {
	log zerolog.Logger
}

func (l lobby) MatchCompleted(sessionID string, result stats.MatchResult) {
	winners := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		if row.Position == 0 && !row.Dropped {
			winners = append(winners, row.ParticipantID)
		}
	}
	l.log.Info().
		Str("session", sessionID).
		Str("mission", result.MissionID).
		Str("winners", strings.Join(winners, ",")).
		Dur("duration", result.Duration).
		Msg("match completed")
}

func (l lobby) MatchAborted(sessionID string, err error) {
	l.log.Warn().Err(err).Str("session", sessionID).Msg("match aborted")
}
