package exits

import (
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
)

const VoluntaryExitsTableName = "voluntary_exits"

// VoluntaryExit is a signed exit request included in a beacon block, enriched with the
// validator's head-state context at the time it was observed.
type VoluntaryExit struct {
	ValidatorIndex    phase0.ValidatorIndex `json:"validator_index"`
	ExitEpoch         phase0.Epoch          `json:"exit_epoch"`
	WithdrawableEpoch phase0.Epoch          `json:"withdrawable_epoch"`
	Balance           phase0.Gwei           `json:"balance"`
	EffectiveBalance  phase0.Gwei           `json:"effective_balance"`
	Pubkey            string                `json:"pubkey"`
	Signature         string                `json:"signature"`
	Slot              phase0.Slot           `json:"slot"`  // block slot
	Epoch             phase0.Epoch          `json:"epoch"` // block epoch
	ObservedAt        time.Time             `json:"observed_at"`
}

// ExitKey identifies a voluntary exit: a validator appears at most once per block.
type ExitKey struct {
	ValidatorIndex phase0.ValidatorIndex
	Slot           phase0.Slot
}

func (v *VoluntaryExit) Key() ExitKey {
	return ExitKey{ValidatorIndex: v.ValidatorIndex, Slot: v.Slot}
}
