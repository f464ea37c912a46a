package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/canopy-network/exitwatch/pkg/beacon"
	"github.com/canopy-network/exitwatch/pkg/db/models/exits"
	"go.uber.org/zap"
)

// maxExitCatchUp bounds how many slots one tick walks back when ticks fell behind the head.
const maxExitCatchUp = exits.SlotsPerEpoch

// ExitMonitor records voluntary exits included in beacon blocks.
type ExitMonitor struct {
	base

	lastSlot  phase0.Slot
	processed bool
}

var _ Monitor = (*ExitMonitor)(nil)

func NewExitMonitor(d Deps) *ExitMonitor {
	return &ExitMonitor{base: newBase(VoluntaryExitsName, d)}
}

func (m *ExitMonitor) Reset() {
	m.processed = false
	m.lastSlot = 0
}

// Tick processes every slot after the last processed one up to the head. The first tick after a
// start only looks at the head slot.
func (m *ExitMonitor) Tick(ctx context.Context) error {
	pos, err := m.resolve(ctx)
	if err != nil {
		return err
	}
	if m.processed && pos.Slot <= m.lastSlot {
		return nil
	}

	from := pos.Slot
	if m.processed {
		from = m.lastSlot + 1
		if pos.Slot-from >= maxExitCatchUp {
			m.logger.Warn("Exit monitor fell behind, skipping slots",
				zap.Uint64("from", uint64(from)),
				zap.Uint64("head", uint64(pos.Slot)))
			from = pos.Slot - maxExitCatchUp + 1
		}
	}

	for slot := from; slot <= pos.Slot; slot++ {
		if err := m.processSlot(ctx, slot, pos); err != nil {
			return err
		}
		m.lastSlot = slot
		m.processed = true
	}
	return nil
}

func (m *ExitMonitor) processSlot(ctx context.Context, slot phase0.Slot, pos exits.ChainPosition) error {
	var block *beacon.Block
	err := m.fetch(ctx, "block_by_slot", func() error {
		var err error
		block, err = m.beacon.BlockBySlot(ctx, slot)
		return err
	})
	if errors.Is(err, beacon.ErrNotFound) {
		m.logger.Debug("Missed slot", zap.Uint64("slot", uint64(slot)))
		return nil
	}
	if err != nil {
		return err
	}
	if len(block.VoluntaryExits) == 0 {
		return nil
	}

	recorded, err := m.gateway.RecordedExits(ctx, slot)
	if err != nil {
		return err
	}

	pending := make([]beacon.SignedVoluntaryExit, 0, len(block.VoluntaryExits))
	ids := make([]string, 0, len(block.VoluntaryExits))
	for _, ve := range block.VoluntaryExits {
		if _, ok := recorded[ve.ValidatorIndex]; ok {
			continue
		}
		pending = append(pending, ve)
		ids = append(ids, strconv.FormatUint(uint64(ve.ValidatorIndex), 10))
	}
	if len(pending) == 0 {
		return nil
	}

	var snapshots []exits.ValidatorSnapshot
	err = m.fetch(ctx, "validators_by_ids", func() error {
		var err error
		snapshots, err = m.beacon.ValidatorsByIDs(ctx, ids)
		return err
	})
	if err != nil {
		return err
	}
	byIndex := make(map[phase0.ValidatorIndex]exits.ValidatorSnapshot, len(snapshots))
	for _, s := range snapshots {
		byIndex[s.Index] = s
	}

	written := 0
	for _, ve := range pending {
		snap, ok := byIndex[ve.ValidatorIndex]
		if !ok {
			return fmt.Errorf("%w: validator %d from slot %d missing from head state", ErrTransientUpstream, ve.ValidatorIndex, slot)
		}
		rec := &exits.VoluntaryExit{
			ValidatorIndex:    ve.ValidatorIndex,
			ExitEpoch:         snap.ExitEpoch,
			WithdrawableEpoch: snap.WithdrawableEpoch,
			Balance:           snap.Balance,
			EffectiveBalance:  snap.EffectiveBalance,
			Pubkey:            snap.Pubkey,
			Signature:         ve.Signature,
			Slot:              slot,
			Epoch:             exits.EpochOf(slot),
			ObservedAt:        pos.ObservedAt,
		}
		inserted, err := m.gateway.UpsertVoluntaryExit(ctx, rec)
		if err != nil {
			return fmt.Errorf("record exit of validator %d at slot %d: %w", ve.ValidatorIndex, slot, err)
		}
		if inserted {
			written++
		}
	}

	m.metrics.AddRecords(VoluntaryExitsName, written)
	m.logger.Info("Voluntary exits recorded",
		zap.Uint64("slot", uint64(slot)),
		zap.Int("exits", len(pending)),
		zap.Int("new", written))
	return nil
}
