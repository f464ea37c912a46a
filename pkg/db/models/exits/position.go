package exits

import (
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
)

const (
	// SlotsPerEpoch is the mainnet preset value.
	SlotsPerEpoch = 32
	// SecondsPerSlot is the mainnet slot duration.
	SecondsPerSlot = 12
	// SlotDuration is SecondsPerSlot as a time.Duration.
	SlotDuration = SecondsPerSlot * time.Second
	// EpochDuration is the wall time of one epoch.
	EpochDuration = SlotsPerEpoch * SlotDuration
)

// ChainPosition is the head slot/epoch observed at a point in time.
type ChainPosition struct {
	Slot       phase0.Slot  `json:"slot"`
	Epoch      phase0.Epoch `json:"epoch"`
	ObservedAt time.Time    `json:"observed_at"`
}

// NewChainPosition derives the epoch from slot so the two can never disagree.
func NewChainPosition(slot phase0.Slot, observedAt time.Time) ChainPosition {
	return ChainPosition{
		Slot:       slot,
		Epoch:      EpochOf(slot),
		ObservedAt: observedAt,
	}
}

// EpochOf returns the epoch containing slot.
func EpochOf(slot phase0.Slot) phase0.Epoch {
	return phase0.Epoch(uint64(slot) / SlotsPerEpoch)
}

// StartSlot returns the first slot of epoch.
func StartSlot(epoch phase0.Epoch) phase0.Slot {
	return phase0.Slot(uint64(epoch) * SlotsPerEpoch)
}

// FarFutureEpoch is the exit epoch of a validator that has not initiated an exit.
const FarFutureEpoch = phase0.Epoch(^uint64(0))
