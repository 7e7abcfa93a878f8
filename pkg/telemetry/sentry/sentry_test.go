package sentry

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledWithoutDSN(t *testing.T) {
	require.NoError(t, New(Options{}))
	assert.False(t, enabled())

	// Every entry point is a no-op while disabled.
	assert.NotPanics(t, func() {
		CaptureException(context.Background(), eris.New("boom"), map[string]string{"session_id": "s1"})
		Shutdown(context.Background(), time.Second)
		RecoverAndFlush(false)
	})
}
