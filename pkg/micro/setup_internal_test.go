package micro

import (
	"os"
	"testing"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testNATS *server.Server

func TestMain(m *testing.M) {
	testNATS = test.RunServer(&server.Options{
		Host:                  "127.0.0.1",
		Port:                  -1,
		NoLog:                 true,
		NoSigs:                true,
		MaxControlLine:        4096,
		DisableShortFirstPing: true,
	})
	code := m.Run()
	testNATS.Shutdown()
	os.Exit(code)
}

// newTestClient connects to the in-process server and closes the connection when the test ends.
func newTestClient(t *testing.T) *Client {
	t.Helper()

	c, err := NewClient(
		WithNATSConfig(NATSConfig{Name: t.Name(), URL: testNATS.ClientURL()}),
		WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}
