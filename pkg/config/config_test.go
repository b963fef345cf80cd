package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Load(t *testing.T) {
	t.Run("Should produce validated defaults without environment input", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Discovery.CacheTTL)
		assert.Equal(t, 10*time.Second, cfg.Watcher.PollInterval)
		assert.Equal(t, 30*time.Second, cfg.Execution.Timeout)
		assert.Equal(t, 30*time.Second, cfg.Schedule.PollInterval)
		assert.Equal(t, time.Hour, cfg.Anomaly.RefreshInterval)
		assert.Equal(t, 20, cfg.Anomaly.MinSamples)
		assert.True(t, cfg.Anomaly.Enabled)
		assert.InDelta(t, 2, cfg.Anomaly.ThresholdLow, 1e-9)
		assert.InDelta(t, 5, cfg.Anomaly.ThresholdCritical, 1e-9)
	})

	t.Run("Should override severity thresholds from the environment", func(t *testing.T) {
		t.Setenv("GATEWAY_ANOMALY_THRESHOLD_HIGH", "3.5")
		cfg, err := Load()
		require.NoError(t, err)
		assert.InDelta(t, 3.5, cfg.Anomaly.ThresholdHigh, 1e-9)
	})

	t.Run("Should override values from the environment", func(t *testing.T) {
		t.Setenv("GATEWAY_SERVER_PORT", "9191")
		t.Setenv("GATEWAY_DISCOVERY_CACHE_TTL", "5s")
		t.Setenv("GATEWAY_SCHEDULE_ENABLED", "false")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 9191, cfg.Server.Port)
		assert.Equal(t, 5*time.Second, cfg.Discovery.CacheTTL)
		assert.False(t, cfg.Schedule.Enabled)
	})

	t.Run("Should reject out-of-range values", func(t *testing.T) {
		t.Setenv("GATEWAY_SERVER_PORT", "70000")
		_, err := Load()
		require.Error(t, err)
	})
}

func TestConfig_TransformEnvKey(t *testing.T) {
	t.Run("Should map section prefix to a dotted path", func(t *testing.T) {
		assert.Equal(t, "schedule.poll_interval", transformEnvKey("SCHEDULE_POLL_INTERVAL"))
		assert.Equal(t, "server.port", transformEnvKey("SERVER_PORT"))
		assert.Equal(t, "anomaly.refresh_interval", transformEnvKey("ANOMALY_REFRESH_INTERVAL"))
	})

	t.Run("Should tolerate degenerate keys", func(t *testing.T) {
		assert.Equal(t, "", transformEnvKey("___"))
		assert.Equal(t, "server", transformEnvKey("SERVER"))
	})
}
