package exits

import (
	"sort"

	"github.com/attestantio/go-eth2-client/spec/phase0"
)

const ExitQueueSummariesTableName = "exit_queue_summaries"

// ExitQueueSummary condenses the exiting set at one epoch.
type ExitQueueSummary struct {
	Slot                      phase0.Slot           `json:"slot"`
	Epoch                     phase0.Epoch          `json:"epoch"`
	ValidatorsInQueue         uint64                `json:"validators_in_queue"`
	EarliestExitEpoch         phase0.Epoch          `json:"earliest_exit_epoch"`
	EarliestWithdrawableEpoch phase0.Epoch          `json:"earliest_withdrawable_epoch"`
	LatestExitEpoch           phase0.Epoch          `json:"latest_exit_epoch"`
	LatestWithdrawableEpoch   phase0.Epoch          `json:"latest_withdrawable_epoch"`
	FirstValidatorIndex       phase0.ValidatorIndex `json:"first_validator_index"`
	FirstValidatorPubkey      string                `json:"first_validator_pubkey"`
	LastValidatorIndex        phase0.ValidatorIndex `json:"last_validator_index"`
	LastValidatorPubkey       string                `json:"last_validator_pubkey"`
	BalanceInQueue            phase0.Gwei           `json:"balance_in_queue"`
}

// SummarizeExitQueue orders the set by exit epoch (ties by index) and reports both ends.
// An empty set yields a zero summary at the given position.
func SummarizeExitQueue(pos ChainPosition, set []ValidatorSnapshot) *ExitQueueSummary {
	summary := &ExitQueueSummary{Slot: pos.Slot, Epoch: pos.Epoch}
	if len(set) == 0 {
		return summary
	}

	ordered := make([]ValidatorSnapshot, len(set))
	copy(ordered, set)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].ExitEpoch != ordered[j].ExitEpoch {
			return ordered[i].ExitEpoch < ordered[j].ExitEpoch
		}
		return ordered[i].Index < ordered[j].Index
	})

	for _, v := range ordered {
		summary.BalanceInQueue += v.Balance
	}
	first, last := ordered[0], ordered[len(ordered)-1]
	summary.ValidatorsInQueue = uint64(len(ordered))
	summary.EarliestExitEpoch = first.ExitEpoch
	summary.EarliestWithdrawableEpoch = first.WithdrawableEpoch
	summary.LatestExitEpoch = last.ExitEpoch
	summary.LatestWithdrawableEpoch = last.WithdrawableEpoch
	summary.FirstValidatorIndex = first.Index
	summary.FirstValidatorPubkey = first.Pubkey
	summary.LastValidatorIndex = last.Index
	summary.LastValidatorPubkey = last.Pubkey
	return summary
}
