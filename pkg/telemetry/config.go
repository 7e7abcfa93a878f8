package telemetry

import (
	"io"
	"os"
	"strings"

	"github.com/argus-labs/gemrush/pkg/telemetry/sentry"
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

type config struct {
	LogLevel  string `env:"GEMRUSH_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"GEMRUSH_LOG_FORMAT" envDefault:"json"`

	// TracingEnabled exports spans to the OTLP collector. Logging is always on.
	TracingEnabled  bool    `env:"GEMRUSH_TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint    string  `env:"GEMRUSH_OTLP_ENDPOINT" envDefault:"jaeger:4317"`
	TraceSampleRate float64 `env:"GEMRUSH_TRACE_SAMPLE_RATE" envDefault:"1.0"`

	SentryDSN string `env:"GEMRUSH_SENTRY_DSN"`
	SentryEnv string `env:"GEMRUSH_SENTRY_ENV"`
}

func loadConfig() (config, error) {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		return cfg, eris.Wrap(err, "failed to parse telemetry config")
	}
	return cfg, nil
}

func (cfg *config) applyToOptions(opt *Options) {
	opt.LogLevel = cfg.LogLevel
	opt.LogFormat = ParseLogFormat(cfg.LogFormat)
	opt.Tracing = TracingOptions{
		Enabled:    cfg.TracingEnabled,
		Endpoint:   cfg.OTLPEndpoint,
		SampleRate: cfg.TraceSampleRate,
	}
	opt.Sentry = sentry.Options{Dsn: cfg.SentryDSN, Environment: cfg.SentryEnv}
}

type Options struct {
	// ServiceName prefixes every component logger and names the tracer.
	ServiceName    string
	ServiceVersion string

	LogLevel  string
	LogFormat LogFormat
	// Output receives log lines. Defaults to stdout.
	Output io.Writer

	Tracing TracingOptions
	Sentry  sentry.Options
}

type TracingOptions struct {
	Enabled    bool
	Endpoint   string
	SampleRate float64
}

// apply overrides opt with the non-zero fields of newOpt. Tracing is taken as a whole once it is
// enabled in newOpt.
func (opt *Options) apply(newOpt Options) {
	if newOpt.ServiceName != "" {
		opt.ServiceName = newOpt.ServiceName
	}
	if newOpt.ServiceVersion != "" {
		opt.ServiceVersion = newOpt.ServiceVersion
	}
	if newOpt.LogLevel != "" {
		opt.LogLevel = newOpt.LogLevel
	}
	if newOpt.LogFormat != LogFormatUndefined {
		opt.LogFormat = newOpt.LogFormat
	}
	if newOpt.Output != nil {
		opt.Output = newOpt.Output
	}
	if newOpt.Tracing.Enabled {
		opt.Tracing = newOpt.Tracing
	}
	if newOpt.Sentry.Dsn != "" {
		opt.Sentry.Dsn = newOpt.Sentry.Dsn
	}
	if newOpt.Sentry.Tags != nil {
		opt.Sentry.Tags = newOpt.Sentry.Tags
	}
	if opt.ServiceVersion == "" {
		opt.ServiceVersion = "dev"
	}
	if opt.Output == nil {
		opt.Output = os.Stdout
	}
}

func (opt *Options) validate() error {
	if opt.ServiceName == "" {
		return eris.New("service name cannot be empty")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(opt.LogLevel)); err != nil || opt.LogLevel == "" {
		return eris.Errorf("invalid log level %q", opt.LogLevel)
	}
	if opt.LogFormat == LogFormatUndefined {
		return eris.New("log format must be json or pretty")
	}
	if opt.Tracing.Enabled {
		if opt.Tracing.Endpoint == "" {
			return eris.New("otlp endpoint cannot be empty when tracing is enabled")
		}
		if opt.Tracing.SampleRate < 0 || opt.Tracing.SampleRate > 1 {
			return eris.New("trace sample rate must be between 0 and 1")
		}
	}
	return nil
}

type LogFormat uint8

const (
	LogFormatUndefined LogFormat = iota
	LogFormatJSON
	LogFormatPretty
)

var logFormatNames = [...]string{
	LogFormatUndefined: "undefined",
	LogFormatJSON:      "json",
	LogFormatPretty:    "pretty",
}

func (f LogFormat) String() string {
	if int(f) < len(logFormatNames) {
		return logFormatNames[f]
	}
	return logFormatNames[LogFormatUndefined]
}

// ParseLogFormat is case-insensitive. Unknown names map to LogFormatUndefined.
func ParseLogFormat(s string) LogFormat {
	s = strings.ToLower(s)
	for i, name := range logFormatNames {
		if i > 0 && name == s {
			return LogFormat(i) //nolint:gosec // bounded by the table
		}
	}
	return LogFormatUndefined
}
