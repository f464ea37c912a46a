// Package cache shares one head position across all monitors for the duration of a slot.
package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/canopy-network/exitwatch/pkg/db/models/exits"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultWindow is one slot.
const DefaultWindow = exits.SlotDuration

// HeadSource returns the current head slot. beacon.Client satisfies it.
type HeadSource interface {
	HeadSlot(ctx context.Context) (phase0.Slot, error)
}

// RemoteTier lets several processes share a position. Errors are treated as misses.
type RemoteTier interface {
	GetPosition(ctx context.Context) (pos exits.ChainPosition, expiresAt time.Time, ok bool, err error)
	SetPosition(ctx context.Context, pos exits.ChainPosition, expiresAt time.Time) error
}

type entry struct {
	position  exits.ChainPosition
	expiresAt time.Time
}

// Stats counts how Resolve calls were served.
type Stats struct {
	Hits       atomic.Uint64
	RemoteHits atomic.Uint64
	Fetches    atomic.Uint64
	Failures   atomic.Uint64
}

// Cache holds the most recent chain position. Reads are lock-free; refreshes are collapsed so
// that at most one upstream query is in flight per expiry.
type Cache struct {
	source HeadSource
	remote RemoteTier
	window time.Duration
	now    func() time.Time
	logger *zap.Logger

	current atomic.Pointer[entry]
	flight  singleflight.Group
	stats   Stats
}

type Option func(*Cache)

// WithWindow sets how long a position stays fresh.
func WithWindow(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithRemoteTier consults and populates rt around upstream fetches.
func WithRemoteTier(rt RemoteTier) Option {
	return func(c *Cache) { c.remote = rt }
}

func New(source HeadSource, logger *zap.Logger, opts ...Option) *Cache {
	c := &Cache{
		source: source,
		window: DefaultWindow,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the cached position while fresh, otherwise refreshes it.
// Failures are not cached: the next call tries again.
func (c *Cache) Resolve(ctx context.Context) (exits.ChainPosition, error) {
	if pos, ok := c.fresh(); ok {
		c.stats.Hits.Add(1)
		return pos, nil
	}

	ch := c.flight.DoChan("position", func() (any, error) {
		// a flight that finished just before this one started may already have refreshed
		if pos, ok := c.fresh(); ok {
			return pos, nil
		}
		// the flight serves every waiting caller, so it must outlive the one that started it
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.window)
		defer cancel()
		return c.refresh(fctx)
	})

	select {
	case <-ctx.Done():
		return exits.ChainPosition{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return exits.ChainPosition{}, res.Err
		}
		return res.Val.(exits.ChainPosition), nil
	}
}

// Invalidate drops the cached position.
func (c *Cache) Invalidate() {
	c.current.Store(nil)
}

// Stats returns the live counters.
func (c *Cache) Stats() *Stats {
	return &c.stats
}

func (c *Cache) fresh() (exits.ChainPosition, bool) {
	e := c.current.Load()
	if e == nil || !c.now().Before(e.expiresAt) {
		return exits.ChainPosition{}, false
	}
	return e.position, true
}

func (c *Cache) refresh(ctx context.Context) (exits.ChainPosition, error) {
	if c.remote != nil {
		pos, expiresAt, ok, err := c.remote.GetPosition(ctx)
		switch {
		case err != nil:
			c.logger.Debug("Remote position tier unavailable", zap.Error(err))
		case ok && c.now().Before(expiresAt):
			c.current.Store(&entry{position: pos, expiresAt: expiresAt})
			c.stats.RemoteHits.Add(1)
			return pos, nil
		}
	}

	slot, err := c.source.HeadSlot(ctx)
	if err != nil {
		c.stats.Failures.Add(1)
		return exits.ChainPosition{}, fmt.Errorf("resolve chain position: %w", err)
	}
	c.stats.Fetches.Add(1)

	now := c.now()
	e := &entry{
		position:  exits.NewChainPosition(slot, now),
		expiresAt: now.Add(c.window),
	}
	c.current.Store(e)

	if c.remote != nil {
		if err := c.remote.SetPosition(ctx, e.position, e.expiresAt); err != nil {
			c.logger.Debug("Failed to publish position to remote tier", zap.Error(err))
		}
	}

	c.logger.Debug("Chain position refreshed",
		zap.Uint64("slot", uint64(e.position.Slot)),
		zap.Uint64("epoch", uint64(e.position.Epoch)))
	return e.position, nil
}
