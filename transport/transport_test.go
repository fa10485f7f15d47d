package transport

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocatorUnix(t *testing.T) {
	network, address, err := parseLocator("unix:///var/run/ramcached.sock")
	require.NoError(t, err)
	assert.Equal(t, "unix", network)
	assert.Equal(t, "/var/run/ramcached.sock", address)
}

func TestParseLocatorTCP(t *testing.T) {
	network, address, err := parseLocator("tcp://127.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, "tcp", network)
	assert.Equal(t, "127.0.0.1:9000", address)
}

func TestParseLocatorRejectsUnknownScheme(t *testing.T) {
	_, _, err := parseLocator("pipe:///tmp/x")
	assert.Error(t, err)
}

func TestParseLocatorRejectsMissingScheme(t *testing.T) {
	_, _, err := parseLocator("/tmp/x")
	assert.Error(t, err)
}

func TestRunControlLoopInvokesOnReleaseAndReturnsOnEOF(t *testing.T) {
	var released int
	stdin := strings.NewReader("xRRy")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := RunControlLoop(ctx, stdin, func() { released++ })
	require.NoError(t, err)
	assert.Equal(t, 2, released)
}

func TestRunControlLoopReturnsOnContextCancel(t *testing.T) {
	blocked, _ := io.Pipe()
	defer blocked.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunControlLoop(ctx, blocked, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
