package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoArgs(t *testing.T) {
	cli, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, DefaultConcurrencyMode, cli.ConcurrencyMode)
	require.Equal(t, DefaultCacheEvictionPolicy, cli.CacheEvictionPolicy)
}

func TestLoadOverridesFromFlags(t *testing.T) {
	cli, err := Load([]string{"-concurrency-mode", "static", "-concurrency-max", "16", "-retry-backoff-seconds", "5s"})
	require.NoError(t, err)
	require.Equal(t, "static", cli.ConcurrencyMode)
	require.Equal(t, 16, cli.ConcurrencyMax)
	require.Equal(t, 5*time.Second, cli.RetryBackoffSeconds)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("MEDIAINDEX_WATCH_PATH", "/media/incoming")
	cli, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, "/media/incoming", cli.WatchPath)
}
