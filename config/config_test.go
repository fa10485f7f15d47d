package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEnv(kv map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := kv[key]
		return v, ok
	}
}

func TestLoadRequiresLocator(t *testing.T) {
	_, err := Load(fakeEnv(nil))
	assert.ErrorIs(t, err, ErrMissingLocator)
}

func TestLoadDefaultsMaxSize(t *testing.T) {
	cfg, err := Load(fakeEnv(map[string]string{EnvLocator: "unix:///tmp/ramcached.sock"}))
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxSize, cfg.MaxSize)
}

func TestLoadParsesMaxSize(t *testing.T) {
	cfg, err := Load(fakeEnv(map[string]string{
		EnvLocator: "unix:///tmp/ramcached.sock",
		EnvMaxSize: "1048576",
	}))
	require.NoError(t, err)
	assert.EqualValues(t, 1048576, cfg.MaxSize)
}

func TestLoadRejectsUnparseableMaxSize(t *testing.T) {
	_, err := Load(fakeEnv(map[string]string{
		EnvLocator: "unix:///tmp/ramcached.sock",
		EnvMaxSize: "not-a-number",
	}))
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, EnvMaxSize, perr.Key)
}

func TestLoadAppliesOptionsAfterEnv(t *testing.T) {
	cfg, err := Load(
		fakeEnv(map[string]string{EnvLocator: "unix:///tmp/ramcached.sock", EnvMaxSize: "100"}),
		WithMaxSize(200),
		WithPartitionHint(10, 20, 30),
	)
	require.NoError(t, err)
	assert.EqualValues(t, 200, cfg.MaxSize)
	assert.EqualValues(t, 10, cfg.PinnedHint)
	assert.EqualValues(t, 20, cfg.RegularHint)
	assert.EqualValues(t, 30, cfg.VolatileHint)
}

func TestLoadParsesPartitionHints(t *testing.T) {
	cfg, err := Load(fakeEnv(map[string]string{
		EnvLocator:      "unix:///tmp/ramcached.sock",
		EnvPinnedHint:   "10",
		EnvRegularHint:  "20",
		EnvVolatileHint: "30",
	}))
	require.NoError(t, err)
	assert.EqualValues(t, 10, cfg.PinnedHint)
	assert.EqualValues(t, 20, cfg.RegularHint)
	assert.EqualValues(t, 30, cfg.VolatileHint)
}
