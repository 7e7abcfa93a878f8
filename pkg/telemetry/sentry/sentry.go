// Package sentry reports unexpected errors and panics. Every function is a no-op until New is
// called with a DSN.
package sentry

import (
	"context"
	"time"

	sentrygo "github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/trace"
)

const flushTimeout = 5 * time.Second

type Options struct {
	Dsn         string
	Environment string
	Tags        map[string]string
}

func New(opt Options) error {
	if opt.Dsn == "" {
		return nil
	}
	err := sentrygo.Init(sentrygo.ClientOptions{
		Dsn:         opt.Dsn,
		Environment: opt.Environment,
		Tags:        opt.Tags,
	})
	return eris.Wrap(err, "failed to initialize sentry")
}

func enabled() bool {
	return sentrygo.CurrentHub().Client() != nil
}

// CaptureException reports a handled error. tags usually carry the session and mission ids; the
// trace of ctx is attached when there is one.
func CaptureException(ctx context.Context, err error, tags map[string]string) {
	if err == nil || !enabled() {
		return
	}
	sentrygo.WithScope(func(scope *sentrygo.Scope) {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			scope.SetTag("trace_id", sc.TraceID().String())
			scope.SetTag("span_id", sc.SpanID().String())
		}
		scope.SetTags(tags)
		sentrygo.CaptureException(err)
	})
}

// RecoverAndFlush is deferred at the top of a goroutine. It reports a panic, flushes, and panics
// again when repanic is set.
func RecoverAndFlush(repanic bool) {
	if !enabled() {
		return
	}
	r := recover()
	if r != nil {
		sentrygo.CurrentHub().Recover(r)
	}
	sentrygo.Flush(flushTimeout)
	if r != nil && repanic {
		panic(r)
	}
}

// Shutdown flushes buffered events within timeout, or sooner if ctx has an earlier deadline.
func Shutdown(ctx context.Context, timeout time.Duration) {
	if !enabled() {
		return
	}
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); until < timeout {
			timeout = until
		}
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	sentrygo.Flush(timeout)
}
