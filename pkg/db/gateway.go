package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/canopy-network/exitwatch/pkg/db/models/exits"
	"github.com/canopy-network/exitwatch/pkg/retry"
	"go.uber.org/zap"
)

// ErrPersistence is returned once the retry budget for a write or lookup is exhausted.
var ErrPersistence = errors.New("persistence failed")

// EventsChannel is the pub/sub channel new records are announced on.
const EventsChannel = "exitwatch:events"

// Event kinds published on EventsChannel.
const (
	EventVoluntaryExit     = "voluntary_exit"
	EventStatusTransition  = "status_transition"
	EventPartialWithdrawal = "partial_withdrawal"
	EventCredentialsSample = "credentials_sample"
	EventExitQueueSummary  = "exit_queue_summary"
)

// Event is the payload published for a newly written record.
type Event struct {
	Kind   string `json:"kind"`
	Record any    `json:"record"`
}

// Gateway is the single write path into the Store. It retries with backoff and announces new rows.
type Gateway struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
	cfg       retry.Config
}

// NewGateway wraps store. publisher may be nil.
func NewGateway(store Store, publisher Publisher, logger *zap.Logger, cfg retry.Config) *Gateway {
	return &Gateway{
		store:     store,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
	}
}

func (g *Gateway) UpsertVoluntaryExit(ctx context.Context, rec *exits.VoluntaryExit) (bool, error) {
	return g.write(ctx, "upsert_voluntary_exit", EventVoluntaryExit, rec, func(ctx context.Context) (bool, error) {
		return g.store.UpsertVoluntaryExit(ctx, rec)
	})
}

func (g *Gateway) UpsertStatusTransition(ctx context.Context, rec *exits.StatusTransition) (bool, error) {
	return g.write(ctx, "upsert_status_transition", EventStatusTransition, rec, func(ctx context.Context) (bool, error) {
		return g.store.UpsertStatusTransition(ctx, rec)
	})
}

func (g *Gateway) UpsertPartialWithdrawal(ctx context.Context, rec *exits.PartialWithdrawal) (bool, error) {
	return g.write(ctx, "upsert_partial_withdrawal", EventPartialWithdrawal, rec, func(ctx context.Context) (bool, error) {
		return g.store.UpsertPartialWithdrawal(ctx, rec)
	})
}

func (g *Gateway) UpsertCredentialsSample(ctx context.Context, rec *exits.CredentialsSample) (bool, error) {
	return g.write(ctx, "upsert_credentials_sample", EventCredentialsSample, rec, func(ctx context.Context) (bool, error) {
		return g.store.UpsertCredentialsSample(ctx, rec)
	})
}

func (g *Gateway) UpsertExitQueueSummary(ctx context.Context, rec *exits.ExitQueueSummary) (bool, error) {
	return g.write(ctx, "upsert_exit_queue_summary", EventExitQueueSummary, rec, func(ctx context.Context) (bool, error) {
		return g.store.UpsertExitQueueSummary(ctx, rec)
	})
}

// RecordedExits returns the set of validators already stored for slot.
func (g *Gateway) RecordedExits(ctx context.Context, slot phase0.Slot) (map[phase0.ValidatorIndex]struct{}, error) {
	var indices []phase0.ValidatorIndex
	err := g.do(ctx, "recorded_exits", func() error {
		var err error
		indices, err = g.store.RecordedExits(ctx, slot)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make(map[phase0.ValidatorIndex]struct{}, len(indices))
	for _, idx := range indices {
		out[idx] = struct{}{}
	}
	return out, nil
}

// RecordedWithdrawals returns the set of withdrawal keys already stored for the given transactions.
func (g *Gateway) RecordedWithdrawals(ctx context.Context, txHashes []string) (map[exits.WithdrawalKey]struct{}, error) {
	out := make(map[exits.WithdrawalKey]struct{})
	if len(txHashes) == 0 {
		return out, nil
	}
	var keys []exits.WithdrawalKey
	err := g.do(ctx, "recorded_withdrawals", func() error {
		var err error
		keys, err = g.store.RecordedWithdrawals(ctx, txHashes)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out, nil
}

func (g *Gateway) LastSampledEpoch(ctx context.Context) (phase0.Epoch, bool, error) {
	var (
		epoch phase0.Epoch
		ok    bool
	)
	err := g.do(ctx, "last_sampled_epoch", func() error {
		var err error
		epoch, ok, err = g.store.LastSampledEpoch(ctx)
		return err
	})
	return epoch, ok, err
}

// Ping reports store health without retrying.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.store.Ping(ctx)
}

func (g *Gateway) write(ctx context.Context, op, kind string, rec any, fn func(ctx context.Context) (bool, error)) (bool, error) {
	var inserted bool
	err := g.do(ctx, op, func() error {
		var err error
		inserted, err = fn(ctx)
		return err
	})
	if err != nil {
		return false, err
	}
	if inserted {
		g.publish(ctx, kind, rec)
	}
	return inserted, nil
}

func (g *Gateway) do(ctx context.Context, op string, fn func() error) error {
	if err := retry.WithBackoff(ctx, g.cfg, g.logger, op, fn); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func (g *Gateway) publish(ctx context.Context, kind string, rec any) {
	if g.publisher == nil {
		return
	}
	payload, err := json.Marshal(Event{Kind: kind, Record: rec})
	if err != nil {
		g.logger.Warn("Failed to encode record event", zap.String("kind", kind), zap.Error(err))
		return
	}
	g.publisher.Publish(ctx, EventsChannel, payload)
}
