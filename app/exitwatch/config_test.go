package exitwatch

import (
	"testing"
	"time"

	"github.com/canopy-network/exitwatch/pkg/db/models/exits"
	"github.com/canopy-network/exitwatch/pkg/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigRequiresBeaconURL(t *testing.T) {
	t.Setenv("BEACON_URL", "")
	t.Setenv("POSTGRES_URL", "postgres://localhost/exitwatch")

	_, err := LoadConfig()
	require.ErrorIs(t, err, monitor.ErrConfiguration)
}

func TestLoadConfigRequiresPostgresURL(t *testing.T) {
	t.Setenv("BEACON_URL", "http://beacon:5052")
	t.Setenv("POSTGRES_URL", "")

	_, err := LoadConfig()
	require.ErrorIs(t, err, monitor.ErrConfiguration)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("BEACON_URL", "http://a:5052, http://b:5052")
	t.Setenv("POSTGRES_URL", "postgres://localhost/exitwatch")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a:5052", "http://b:5052"}, cfg.BeaconURLs)
	assert.Equal(t, exits.SlotDuration, cfg.CacheWindow)
	assert.Equal(t, uint64(2), cfg.SamplePeriodEpochs)
	assert.Equal(t, uint64(100), cfg.PartialWithdrawalBlockLimit)
	assert.Equal(t, []string{exits.StatusActiveExiting}, cfg.TrackedStatuses)
	assert.Equal(t, 12*time.Second, cfg.ExitPeriod)
	assert.False(t, cfg.RedisEnabled)
	assert.Equal(t, 3, cfg.UpstreamRetry().MaxRetries)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("BEACON_URL", "http://a:5052")
	t.Setenv("POSTGRES_URL", "postgres://localhost/exitwatch")
	t.Setenv("CREDENTIALS_SAMPLE_PERIOD_EPOCHS", "4")
	t.Setenv("TRACKED_STATUSES", "active_exiting,exited_unslashed")
	t.Setenv("PERSISTENCE_RETRIES", "9")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), cfg.SamplePeriodEpochs)
	assert.Equal(t, []string{"active_exiting", "exited_unslashed"}, cfg.TrackedStatuses)
	assert.Equal(t, 9, cfg.PersistenceRetry().MaxRetries)
	assert.True(t, cfg.RedisEnabled)
}

func TestLoadConfigRejectsTickTimeoutBelowWindow(t *testing.T) {
	t.Setenv("BEACON_URL", "http://a:5052")
	t.Setenv("POSTGRES_URL", "postgres://localhost/exitwatch")
	t.Setenv("CACHE_WINDOW", "30s")
	t.Setenv("TICK_TIMEOUT", "10s")

	_, err := LoadConfig()
	require.ErrorIs(t, err, monitor.ErrConfiguration)
}
