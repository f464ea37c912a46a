package db

import (
	"context"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/canopy-network/exitwatch/pkg/db/models/exits"
)

// Store is the durable record store. Every Upsert is idempotent on the record's identity key and
// reports whether a new row was written.
type Store interface {
	UpsertVoluntaryExit(ctx context.Context, rec *exits.VoluntaryExit) (bool, error)
	UpsertStatusTransition(ctx context.Context, rec *exits.StatusTransition) (bool, error)
	UpsertPartialWithdrawal(ctx context.Context, rec *exits.PartialWithdrawal) (bool, error)
	UpsertCredentialsSample(ctx context.Context, rec *exits.CredentialsSample) (bool, error)
	UpsertExitQueueSummary(ctx context.Context, rec *exits.ExitQueueSummary) (bool, error)

	// RecordedExits returns the validator indices with an exit already stored for slot.
	RecordedExits(ctx context.Context, slot phase0.Slot) ([]phase0.ValidatorIndex, error)
	// RecordedWithdrawals returns the stored keys among the given transaction hashes.
	RecordedWithdrawals(ctx context.Context, txHashes []string) ([]exits.WithdrawalKey, error)
	// LastSampledEpoch returns the highest sampled epoch, ok=false when nothing is stored yet.
	LastSampledEpoch(ctx context.Context) (epoch phase0.Epoch, ok bool, err error)

	Ping(ctx context.Context) error
	Close() error
}

// Publisher receives a notification for every newly written record. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{})
}
