// Package statsd is a helper package that wraps the handful of statsd calls match sessions emit.
// It hides the datadog dependency so a different backend only needs changes in this file. The client
// is a no-op until Init succeeds.
package statsd

import (
	"time"

	ddstatsd "github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

const namespace = "gemrush."

var client ddstatsd.ClientInterface = &ddstatsd.NoOpClient{}

func Client() ddstatsd.ClientInterface {
	return client
}

func Init(address string, tags []string) error {
	if address == "" {
		return eris.New("address must not be empty")
	}
	opts := []ddstatsd.Option{
		// The statsd namespace is the prefix of all metrics
		ddstatsd.WithNamespace(namespace),
	}
	if len(tags) > 0 {
		opts = append(opts, ddstatsd.WithTags(tags))
	}

	newClient, err := ddstatsd.New(address, opts...)
	if err != nil {
		return eris.Wrap(err, "failed to create statsd client")
	}
	client = newClient
	return nil
}

// Close flushes and closes the client. The package falls back to the no-op client afterwards.
func Close() error {
	c := client
	client = &ddstatsd.NoOpClient{}
	return c.Close()
}

func warn(err error, metric string) {
	if err != nil {
		log.Logger.Warn().Err(err).Str("metric", metric).Msg("failed to emit stat")
	}
}

func EmitTickStat(start time.Time, stage string) {
	warn(Client().Timing("tick", time.Since(start), []string{"stage:" + stage}, 1), "tick")
}

func EmitStateTransition(from, to string) {
	warn(Client().Incr("match.state", []string{"from:" + from, "to:" + to}, 1), "match.state")
}

func EmitGemsSpawned(n int) {
	warn(Client().Count("gems.spawned", int64(n), nil, 1), "gems.spawned")
}

func EmitGemsRecycled(n int) {
	warn(Client().Count("gems.recycled", int64(n), nil, 1), "gems.recycled")
}

func EmitGroupCompleted() {
	warn(Client().Incr("gems.group_completed", nil, 1), "gems.group_completed")
}

// EmitArbitration records the outcome of a ranked-session handshake ("ready", "aborted").
func EmitArbitration(outcome string, dropped int) {
	warn(Client().Incr("arbitration", []string{"outcome:" + outcome}, 1), "arbitration")
	if dropped > 0 {
		warn(Client().Count("arbitration.dropped", int64(dropped), nil, 1), "arbitration.dropped")
	}
}

func EmitMatchDuration(d time.Duration, missionID string) {
	warn(Client().Timing("match.duration", d, []string{"mission:" + missionID}, 1), "match.duration")
}
