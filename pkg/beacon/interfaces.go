package beacon

import (
	"context"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/canopy-network/exitwatch/pkg/db/models/exits"
)

// Client captures the beacon node queries used by the monitors. All state reads are against head.
type Client interface {
	HeadSlot(ctx context.Context) (phase0.Slot, error)
	Genesis(ctx context.Context) (*Genesis, error)
	// ValidatorsByStatus returns the server-side filtered validator list.
	ValidatorsByStatus(ctx context.Context, statuses []string) ([]exits.ValidatorSnapshot, error)
	// ValidatorsByIDs returns validators by index or pubkey. Unknown ids are omitted.
	ValidatorsByIDs(ctx context.Context, ids []string) ([]exits.ValidatorSnapshot, error)
	// Validator fetches a single validator. Returns ErrNotFound when it does not exist.
	Validator(ctx context.Context, id string) (*exits.ValidatorSnapshot, error)
	// StreamValidators visits the full validator set without holding it in memory.
	StreamValidators(ctx context.Context, fn func(exits.ValidatorSnapshot) error) error
	// BlockBySlot returns the block at slot or ErrNotFound for a missed slot.
	BlockBySlot(ctx context.Context, slot phase0.Slot) (*Block, error)
}

var _ Client = (*HTTPClient)(nil)
