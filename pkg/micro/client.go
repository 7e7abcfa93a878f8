// Package micro is the NATS request-reply client gemrush uses to reach the services around a match,
// such as the fairness service of ranked sessions. Bodies are msgpack encoded and every reply is
// wrapped in a Reply frame.
package micro

import (
	"context"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

type Client struct {
	*nats.Conn
	log zerolog.Logger
	cfg NATSConfig
}

type NATSConfig struct {
	Name            string `env:"NATS_NAME" envDefault:"gemrush"`
	URL             string `env:"NATS_URL" envDefault:"nats://nats:4222"`
	CredentialsFile string `env:"NATS_CREDENTIALS_FILE"`

	// Zero values keep the nats.go defaults.
	MaxReconnects int           `env:"NATS_MAX_RECONNECTS" envDefault:"10"`
	ReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"5s"`
}

// Validate reports whether the config can be used to connect. Credentials are optional.
func (cfg NATSConfig) Validate() error {
	if cfg.URL == "" {
		return eris.New("NATS URL is required")
	}
	if cfg.MaxReconnects < 0 || cfg.ReconnectWait < 0 {
		return eris.New("reconnect settings cannot be negative")
	}
	return nil
}

func (cfg NATSConfig) options() []nats.Option {
	var opts []nats.Option
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.MaxReconnects > 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredentialsFile))
	}
	return opts
}

// NewClient connects with the NATS_* environment, which opts may override.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg, err := env.ParseAs[NATSConfig]()
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse NATS config")
	}
	c := &Client{cfg: cfg, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.cfg.Validate(); err != nil {
		return nil, eris.Wrap(err, "invalid NATS config")
	}

	natsOpts := append(c.cfg.options(),
		nats.DisconnectErrHandler(c.onDisconnect),
		nats.ReconnectHandler(c.onReconnect),
		nats.ErrorHandler(c.onError),
	)
	conn, err := nats.Connect(c.cfg.URL, natsOpts...)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to connect to NATS at %s", c.cfg.URL)
	}
	c.Conn = conn

	c.log.Info().Str("url", conn.ConnectedUrl()).Str("name", c.cfg.Name).Msg("connected to NATS")
	return c, nil
}

// Call sends req to subject and decodes the reply body into resp, which may be nil. A Reply.Error
// set by the responder comes back wrapping ErrRemote. The deadline is taken from ctx.
func (c *Client) Call(ctx context.Context, subject string, req, resp any) error {
	data, err := encode(req)
	if err != nil {
		return eris.Wrap(err, "failed to encode request")
	}

	msg, err := c.RequestWithContext(ctx, subject, data)
	if err != nil {
		return eris.Wrapf(err, "request to %s failed", subject)
	}

	var reply Reply
	if err := decode(msg.Data, &reply); err != nil {
		return eris.Wrapf(err, "bad reply from %s", subject)
	}
	if reply.Error != "" {
		return eris.Wrapf(ErrRemote, "%s: %s", subject, reply.Error)
	}
	if resp == nil || len(reply.Body) == 0 {
		return nil
	}
	return eris.Wrapf(decode(reply.Body, resp), "bad reply body from %s", subject)
}

func (c *Client) Close() {
	if c.Conn == nil {
		return
	}
	c.Conn.Close()
	c.log.Info().Msg("NATS connection closed")
}

func (c *Client) onDisconnect(nc *nats.Conn, err error) {
	if err != nil {
		c.log.Error().Err(err).Uint64("reconnects", nc.Reconnects).Msg("disconnected from NATS")
		return
	}
	c.log.Warn().Uint64("reconnects", nc.Reconnects).Msg("disconnected from NATS")
}

func (c *Client) onReconnect(nc *nats.Conn) {
	c.log.Info().Str("url", nc.ConnectedUrl()).Uint64("reconnects", nc.Reconnects).Msg("reconnected to NATS")
}

func (c *Client) onError(_ *nats.Conn, sub *nats.Subscription, err error) {
	ev := c.log.Error().Err(err)
	if sub != nil {
		ev = ev.Str("subject", sub.Subject)
	}
	ev.Msg("NATS async error")
}

type ClientOption func(*Client)

func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// WithNATSConfig replaces the environment config.
func WithNATSConfig(cfg NATSConfig) ClientOption {
	return func(c *Client) {
		c.cfg = cfg
	}
}
