// Package telemetry builds the logger, tracer and Sentry client shared by a gemrush process.
package telemetry

import (
	"context"
	"time"

	"github.com/argus-labs/gemrush/pkg/telemetry/sentry"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type Telemetry struct {
	Logger      zerolog.Logger
	Tracer      trace.Tracer
	serviceName string

	shutdown func(context.Context) error
}

// New reads the GEMRUSH_* telemetry environment and overrides it with the non-zero fields of opts.
func New(opts Options) (Telemetry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return Telemetry{}, err
	}

	options := Options{}
	cfg.applyToOptions(&options)
	options.apply(opts)
	if err := options.validate(); err != nil {
		return Telemetry{}, eris.Wrap(err, "invalid telemetry options")
	}

	if err := sentry.New(options.Sentry); err != nil {
		return Telemetry{}, err
	}

	tracer, shutdown, err := newTracer(context.Background(), options)
	if err != nil {
		return Telemetry{}, eris.Wrap(err, "failed to setup tracing")
	}

	return Telemetry{
		Logger:      newLogger(options),
		Tracer:      tracer,
		serviceName: options.ServiceName,
		shutdown:    shutdown,
	}, nil
}

// Shutdown flushes Sentry and the trace exporter.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	sentry.Shutdown(ctx, 5*time.Second)
	if t.shutdown == nil {
		return nil
	}
	return eris.Wrap(t.shutdown(ctx), "failed to shut down tracer provider")
}

// GetLogger returns a logger tagged with component=<service>.<component>.
func (t *Telemetry) GetLogger(component string) zerolog.Logger {
	return t.Logger.With().Str("component", t.serviceName+"."+component).Logger()
}

// WithTrace adds the trace and span ids of the span in ctx to log, if it is recording.
func WithTrace(ctx context.Context, log zerolog.Logger) zerolog.Logger {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return log
	}
	sc := span.SpanContext()
	return log.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
}
