// Package monitor holds the periodic jobs that turn beacon and execution chain data into records.
// Each monitor owns its state and is ticked sequentially by the supervisor.
package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/canopy-network/exitwatch/pkg/beacon"
	"github.com/canopy-network/exitwatch/pkg/db"
	"github.com/canopy-network/exitwatch/pkg/db/models/exits"
	"github.com/canopy-network/exitwatch/pkg/metrics"
	"github.com/canopy-network/exitwatch/pkg/retry"
	"go.uber.org/zap"
)

// Monitor names, also used as metric and log labels.
const (
	VoluntaryExitsName     = "voluntary_exits"
	StatusTransitionsName  = "status_transitions"
	PartialWithdrawalsName = "partial_withdrawals"
	CredentialsName        = "credentials"
)

// Monitor is one independently scheduled job.
type Monitor interface {
	Name() string
	// Tick performs one observation. It must not be called concurrently with itself.
	Tick(ctx context.Context) error
	// Reset drops in-memory state so the next tick starts as after a restart.
	Reset()
}

// PositionResolver returns the shared chain position. *cache.Cache satisfies it.
type PositionResolver interface {
	Resolve(ctx context.Context) (exits.ChainPosition, error)
}

// Deps are shared by every monitor.
type Deps struct {
	Beacon    beacon.Client
	Positions PositionResolver
	Gateway   *db.Gateway
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	// Retry bounds upstream reads inside a tick.
	Retry retry.Config
}

type base struct {
	name      string
	beacon    beacon.Client
	positions PositionResolver
	gateway   *db.Gateway
	metrics   *metrics.Metrics
	logger    *zap.Logger
	retry     retry.Config
}

func newBase(name string, d Deps) base {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{
		name:      name,
		beacon:    d.Beacon,
		positions: d.Positions,
		gateway:   d.Gateway,
		metrics:   d.Metrics,
		logger:    logger.With(zap.String("monitor", name)),
		retry:     d.Retry,
	}
}

func (b *base) Name() string { return b.name }

func (b *base) resolve(ctx context.Context) (exits.ChainPosition, error) {
	pos, err := b.positions.Resolve(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return exits.ChainPosition{}, ctx.Err()
		}
		return exits.ChainPosition{}, fmt.Errorf("%w: %w", ErrTransientUpstream, err)
	}
	b.metrics.SetHead(uint64(pos.Slot), uint64(pos.Epoch))
	return pos, nil
}

// fetch runs an upstream read under the retry budget. Not-found and context errors pass through,
// anything else is reported as ErrTransientUpstream.
func (b *base) fetch(ctx context.Context, op string, fn func() error) error {
	err := retry.WithBackoff(ctx, b.retry, b.logger, op, fn)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, beacon.ErrNotFound):
		return err
	default:
		return fmt.Errorf("%w: %s: %w", ErrTransientUpstream, op, err)
	}
}
