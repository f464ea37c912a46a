package exitwatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/canopy-network/exitwatch/pkg/logging"
	"github.com/canopy-network/exitwatch/pkg/metrics"
	"github.com/canopy-network/exitwatch/pkg/monitor"
	"github.com/canopy-network/exitwatch/pkg/retry"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// MonitorHealth is the supervisor's view of one monitor, served on /status.
type MonitorHealth struct {
	Name                string        `json:"name"`
	Period              time.Duration `json:"period_ns"`
	LastTick            time.Time     `json:"last_tick"`
	LastSuccess         time.Time     `json:"last_success"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Restarts            int           `json:"restarts"`
	BackoffUntil        time.Time     `json:"backoff_until"`
}

// Healthy is false while the monitor waits out a restart backoff.
func (h MonitorHealth) Healthy(now time.Time) bool {
	return !now.Before(h.BackoffUntil)
}

// SupervisorConfig bounds ticks and restarts.
type SupervisorConfig struct {
	TickTimeout            time.Duration
	MaxConsecutiveFailures int
	Restart                retry.Config
	ShutdownTimeout        time.Duration
	// OnRestart runs before a restarted monitor's first tick.
	OnRestart func(name string)
}

// Supervisor ticks every monitor on its own cron entry. Ticks of one monitor never overlap.
type Supervisor struct {
	cron    *cron.Cron
	cfg     SupervisorConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	health  *xsync.Map[string, MonitorHealth]
	entries map[string]*entry

	root   context.Context
	cancel context.CancelFunc
}

// entry is only touched from its own cron job.
type entry struct {
	monitor monitor.Monitor
	period  time.Duration

	failures       int
	restarts       int
	backoffUntil   time.Time
	restartPending bool
	lastTick       time.Time
	lastSuccess    time.Time
	lastErr        error
}

func NewSupervisor(ctx context.Context, cfg SupervisorConfig, m *metrics.Metrics, logger *zap.Logger) *Supervisor {
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 5
	}
	cronLogger := logging.NewCronAdapter(logger)
	root, cancel := context.WithCancel(ctx)
	return &Supervisor{
		// Seconds field, optional
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cronLogger)), cron.WithLogger(cronLogger)),
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
		health:  xsync.NewMap[string, MonitorHealth](),
		entries: make(map[string]*entry),
		root:    root,
		cancel:  cancel,
	}
}

// Add schedules m every period. It must be called before Start.
func (s *Supervisor) Add(m monitor.Monitor, period time.Duration) error {
	name := m.Name()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%w: monitor %s scheduled twice", monitor.ErrConfiguration, name)
	}
	if period <= 0 {
		return fmt.Errorf("%w: monitor %s has period %s", monitor.ErrConfiguration, name, period)
	}

	e := &entry{monitor: m, period: period}
	job := cron.NewChain(cron.SkipIfStillRunning(logging.NewCronAdapter(s.logger.With(zap.String("monitor", name))))).
		Then(cron.FuncJob(func() { s.run(e) }))
	if _, err := s.cron.AddJob(fmt.Sprintf("@every %s", period), job); err != nil {
		return fmt.Errorf("schedule monitor %s: %w", name, err)
	}
	s.entries[name] = e
	s.publish(e)
	return nil
}

// Start starts the cron scheduler.
func (s *Supervisor) Start() {
	s.cron.Start()
	for name, e := range s.entries {
		s.logger.Info("Monitor scheduled", zap.String("monitor", name), zap.Duration("period", e.period))
	}
}

// Stop cancels running ticks and waits for them, at most ShutdownTimeout.
func (s *Supervisor) Stop() {
	s.cancel()
	done := s.cron.Stop().Done()
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-done:
		s.logger.Info("All monitor ticks drained")
	case <-time.After(timeout):
		s.logger.Warn("Shutdown timeout reached with ticks still running", zap.Duration("timeout", timeout))
	}
}

// Health returns a snapshot of every monitor's health.
func (s *Supervisor) Health() []MonitorHealth {
	out := make([]MonitorHealth, 0, s.health.Size())
	s.health.Range(func(_ string, h MonitorHealth) bool {
		out = append(out, h)
		return true
	})
	return out
}

// Ready reports whether no monitor is waiting out a restart backoff.
func (s *Supervisor) Ready() bool {
	now := s.now()
	ready := true
	s.health.Range(func(_ string, h MonitorHealth) bool {
		ready = h.Healthy(now)
		return ready
	})
	return ready
}

// run performs one tick of e.
func (s *Supervisor) run(e *entry) {
	if s.root.Err() != nil {
		return
	}
	name := e.monitor.Name()
	logger := s.logger.With(zap.String("monitor", name))

	now := s.now()
	if now.Before(e.backoffUntil) {
		s.metrics.IncSkippedTick(name)
		return
	}
	if e.restartPending {
		if s.cfg.OnRestart != nil {
			s.cfg.OnRestart(name)
		}
		e.monitor.Reset()
		e.restartPending = false
		s.metrics.IncRestart(name)
		logger.Info("Monitor restarted", zap.Int("restarts", e.restarts))
	}

	ctx, cancel := context.WithTimeout(s.root, s.cfg.TickTimeout)
	start := time.Now()
	err := e.monitor.Tick(ctx)
	cancel()
	s.metrics.ObserveTick(name, time.Since(start), err)

	e.lastTick = now
	e.lastErr = err
	switch {
	case err == nil:
		e.failures = 0
		e.lastSuccess = now
	case s.root.Err() != nil:
		// shutting down, not a failure of the monitor
	default:
		e.failures++
		s.logTickError(logger, err, e.failures)
		if e.failures >= s.cfg.MaxConsecutiveFailures {
			e.restarts++
			wait := retry.Delay(s.cfg.Restart, e.restarts)
			e.backoffUntil = now.Add(wait)
			e.restartPending = true
			e.failures = 0
			logger.Error("Monitor failed repeatedly, restarting after backoff",
				zap.Int("restarts", e.restarts),
				zap.Duration("backoff", wait),
				zap.Error(err))
		}
	}
	s.publish(e)
}

func (s *Supervisor) logTickError(logger *zap.Logger, err error, failures int) {
	fields := []zap.Field{zap.Int("consecutive_failures", failures), zap.Error(err)}
	switch {
	case errors.Is(err, monitor.ErrTransientUpstream):
		logger.Warn("Tick failed on upstream, retrying next period", fields...)
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("Tick timed out", fields...)
	default:
		logger.Error("Tick failed", fields...)
	}
}

func (s *Supervisor) publish(e *entry) {
	h := MonitorHealth{
		Name:                e.monitor.Name(),
		Period:              e.period,
		LastTick:            e.lastTick,
		LastSuccess:         e.lastSuccess,
		ConsecutiveFailures: e.failures,
		Restarts:            e.restarts,
		BackoffUntil:        e.backoffUntil,
	}
	if e.lastErr != nil {
		h.LastError = e.lastErr.Error()
	}
	s.health.Store(h.Name, h)
}
