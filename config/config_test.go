package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "solacelive.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
[log]
level = "debug"

[pipeline]
dispatch_interval_ms = 40
jitter_delay_ms = 80

[soak]
packets = 500
loss_rate = 0.05
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, uint32(40), cfg.Pipeline.DispatchIntervalMs)
	assert.Equal(t, uint32(80), cfg.Pipeline.JitterDelayMs)
	assert.Equal(t, 500, cfg.Soak.Packets)
	assert.InDelta(t, 0.05, cfg.Soak.LossRate, 1e-9)

	// Untouched sections keep defaults.
	assert.Equal(t, Default().Serve.Listen, cfg.Serve.Listen)
	assert.True(t, cfg.Pipeline.JitterAdaptive)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/solacelive.toml")
	assert.Error(t, err)
}

func TestLoadRejectsBadDispatchInterval(t *testing.T) {
	path := writeTempConfig(t, `
[pipeline]
dispatch_interval_ms = 500
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvertedJitterBand(t *testing.T) {
	path := writeTempConfig(t, `
[pipeline]
jitter_min_delay_ms = 300
jitter_max_delay_ms = 100
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadLossRate(t *testing.T) {
	path := writeTempConfig(t, `
[soak]
loss_rate = 1.5
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestFrameIntervalDefault(t *testing.T) {
	s := SoakConfig{}
	assert.Equal(t, "20ms", s.FrameInterval().String())
}
