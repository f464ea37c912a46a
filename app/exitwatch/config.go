package exitwatch

import (
	"fmt"
	"time"

	"github.com/canopy-network/exitwatch/pkg/db/models/exits"
	"github.com/canopy-network/exitwatch/pkg/monitor"
	"github.com/canopy-network/exitwatch/pkg/retry"
	"github.com/canopy-network/exitwatch/pkg/utils"
)

// Config is read once at startup from the environment.
type Config struct {
	// BeaconURLs are tried in order; the first one is the primary.
	BeaconURLs    []string
	BeaconRPS     int
	BeaconBurst   int
	BeaconTimeout time.Duration
	// ExecutionURL is optional; without it the partial withdrawal monitor is not scheduled.
	ExecutionURL string
	PostgresURL  string
	RedisEnabled bool

	CacheWindow                 time.Duration
	SamplePeriodEpochs          uint64
	PartialWithdrawalBlockLimit uint64
	TrackedStatuses             []string
	VerifyConcurrency           int

	ExitPeriod        time.Duration
	StatusPeriod      time.Duration
	WithdrawalPeriod  time.Duration
	CredentialsPeriod time.Duration

	TickTimeout            time.Duration
	UpstreamRetries        int
	PersistenceRetries     int
	MaxConsecutiveFailures int
	RestartBackoff         time.Duration
	RestartBackoffMax      time.Duration
	ShutdownTimeout        time.Duration

	Addr             string
	MetricsNamespace string
}

// LoadConfig reads the configuration. A missing beacon or Postgres URL is an ErrConfiguration.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		BeaconURLs:    utils.EnvList("BEACON_URL", nil),
		BeaconRPS:     utils.EnvInt("BEACON_RPS", 15),
		BeaconBurst:   utils.EnvInt("BEACON_BURST", 30),
		BeaconTimeout: utils.EnvDuration("BEACON_TIMEOUT", 60*time.Second),
		ExecutionURL:  utils.Env("EXECUTION_URL", ""),
		PostgresURL:   utils.Env("POSTGRES_URL", ""),
		RedisEnabled:  utils.Env("REDIS_ENABLED", "false") == "true",

		CacheWindow:                 utils.EnvDuration("CACHE_WINDOW", exits.SlotDuration),
		SamplePeriodEpochs:          uint64(utils.EnvInt64("CREDENTIALS_SAMPLE_PERIOD_EPOCHS", monitor.DefaultSamplePeriodEpochs)),
		PartialWithdrawalBlockLimit: uint64(utils.EnvInt64("PARTIAL_WITHDRAWAL_BLOCK_LIMIT", monitor.DefaultPartialWithdrawalBlockLimit)),
		TrackedStatuses:             utils.EnvList("TRACKED_STATUSES", []string{exits.StatusActiveExiting}),
		VerifyConcurrency:           utils.EnvInt("VERIFY_CONCURRENCY", monitor.DefaultVerifyConcurrency),

		ExitPeriod:        utils.EnvDuration("EXIT_TICK_PERIOD", exits.SlotDuration),
		StatusPeriod:      utils.EnvDuration("STATUS_TICK_PERIOD", exits.SlotDuration),
		WithdrawalPeriod:  utils.EnvDuration("WITHDRAWAL_TICK_PERIOD", exits.SlotDuration),
		CredentialsPeriod: utils.EnvDuration("CREDENTIALS_TICK_PERIOD", exits.SlotDuration),

		TickTimeout:            utils.EnvDuration("TICK_TIMEOUT", 2*exits.SlotDuration),
		UpstreamRetries:        utils.EnvInt("UPSTREAM_RETRIES", retry.UpstreamConfig().MaxRetries),
		PersistenceRetries:     utils.EnvInt("PERSISTENCE_RETRIES", retry.PersistenceConfig().MaxRetries),
		MaxConsecutiveFailures: utils.EnvInt("MAX_CONSECUTIVE_FAILURES", 5),
		RestartBackoff:         utils.EnvDuration("RESTART_BACKOFF", exits.SlotDuration),
		RestartBackoffMax:      utils.EnvDuration("RESTART_BACKOFF_MAX", exits.EpochDuration),
		ShutdownTimeout:        utils.EnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
		Addr:             utils.Env("ADDR", ":3010"),
		MetricsNamespace: utils.Env("METRICS_NAMESPACE", "exitwatch"),
	}

	if len(cfg.BeaconURLs) == 0 {
		return nil, fmt.Errorf("%w: BEACON_URL is required", monitor.ErrConfiguration)
	}
	if cfg.PostgresURL == "" {
		return nil, fmt.Errorf("%w: POSTGRES_URL is required", monitor.ErrConfiguration)
	}
	if cfg.TickTimeout < cfg.CacheWindow {
		return nil, fmt.Errorf("%w: TICK_TIMEOUT %s is shorter than CACHE_WINDOW %s",
			monitor.ErrConfiguration, cfg.TickTimeout, cfg.CacheWindow)
	}
	return cfg, nil
}

// UpstreamRetry is the retry budget of beacon and execution reads inside a tick.
func (c *Config) UpstreamRetry() retry.Config {
	r := retry.UpstreamConfig()
	r.MaxRetries = c.UpstreamRetries
	return r
}

// PersistenceRetry is the write budget of the persistence gateway.
func (c *Config) PersistenceRetry() retry.Config {
	r := retry.PersistenceConfig()
	r.MaxRetries = c.PersistenceRetries
	return r
}

// RestartRetry spaces monitor restarts: attempt n waits RestartBackoff * 2^(n-1), capped.
func (c *Config) RestartRetry() retry.Config {
	return retry.Config{
		InitialDelay:  c.RestartBackoff,
		MaxDelay:      c.RestartBackoffMax,
		Multiplier:    2.0,
		JitterEnabled: true,
	}
}
