package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
	assert.Equal(t, 3*time.Second, cfg.LoginPollInterval)
	assert.Equal(t, 1500*time.Millisecond, cfg.MonitorInterval)
}

func TestFileOverridesDefaultsAndEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "settings.yaml", `
platform:
  show_url: http://file-show
  timeout: 5s
  rate: 8
login:
  poll_interval: 2s
monitor:
  interval: 500ms
rush:
  workers: 4
status:
  addr: 127.0.0.1:9000
`)
	t.Setenv(EnvPrefix+"MONITOR_INTERVAL", "250ms")
	t.Setenv(EnvPrefix+"RUSH_WORKERS", "6")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://file-show", cfg.Endpoints.Show)
	assert.Equal(t, Defaults().Endpoints.Passport, cfg.Endpoints.Passport)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.InDelta(t, 8.0, cfg.RequestRate, 0)
	assert.Equal(t, 2*time.Second, cfg.LoginPollInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.MonitorInterval)
	assert.Equal(t, 6, cfg.RushWorkers)
	assert.Equal(t, "127.0.0.1:9000", cfg.StatusAddr)
}

func TestZeroTransportRetriesIsKept(t *testing.T) {
	cfg, err := Load(writeFile(t, "settings.yaml", "login:\n  transport_retries: 0\n"))
	require.NoError(t, err)
	assert.Zero(t, cfg.TransportRetries)

	cfg, err = Load(writeFile(t, "settings.yaml", "login:\n  poll_interval: 1s\n"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().TransportRetries, cfg.TransportRetries)

	t.Setenv(EnvPrefix+"TRANSPORT_RETRIES", "0")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Zero(t, cfg.TransportRetries)
}

func TestInvalidEnvFallsBack(t *testing.T) {
	t.Setenv(EnvPrefix+"RUSH_ATTEMPTS", "lots")
	t.Setenv(EnvPrefix+"LOGIN_POLL_INTERVAL", "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().RushAttempts, cfg.RushAttempts)
	assert.Equal(t, Defaults().LoginPollInterval, cfg.LoginPollInterval)
}

func TestLoadRejectsBadSettings(t *testing.T) {
	_, err := Load(writeFile(t, "bad.yaml", "platform: [not, a, map]"))
	require.Error(t, err)

	t.Setenv(EnvPrefix+"RUSH_WORKERS", "0")
	_, err = Load("")
	require.Error(t, err)
}

func TestEnvBool(t *testing.T) {
	assert.False(t, EnvBool("DEBUG", false))
	t.Setenv(EnvPrefix+"DEBUG", "true")
	assert.True(t, EnvBool("DEBUG", false))
}

func TestStateRoundTripAndComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	missing, err := LoadState(path)
	require.NoError(t, err)
	assert.Equal(t, State{}, missing)

	state := State{
		Cookie:    "SESSDATA=abc",
		ProjectID: 85939,
		ScreenID:  1,
		SkuID:     11,
		Count:     2,
		Name:      "n",
		Phone:     "p",
		BuyerIDs:  []int64{7, 8},
	}
	require.NoError(t, SaveState(path, state))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadState(path)
	require.NoError(t, err)
	assert.Equal(t, state, loaded)

	commented := writeFile(t, "config.json", `{
  // restored from last run
  "cookie": "SESSDATA=xyz",
  "count": 1, /* one ticket */
}`)
	loaded, err = LoadState(commented)
	require.NoError(t, err)
	assert.Equal(t, State{Cookie: "SESSDATA=xyz", Count: 1}, loaded)
}

func TestLoadStateMalformed(t *testing.T) {
	_, err := LoadState(writeFile(t, "config.json", `{"count": "two"}`))
	require.Error(t, err)
}
