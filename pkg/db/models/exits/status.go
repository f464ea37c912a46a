package exits

import (
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
)

const ExitingValidatorsTableName = "exiting_validators"

// Validator statuses as returned by the beacon API.
const (
	StatusPendingInitialized = "pending_initialized"
	StatusPendingQueued      = "pending_queued"
	StatusActiveOngoing      = "active_ongoing"
	StatusActiveExiting      = "active_exiting"
	StatusActiveSlashed      = "active_slashed"
	StatusExitedUnslashed    = "exited_unslashed"
	StatusExitedSlashed      = "exited_slashed"
	StatusWithdrawalPossible = "withdrawal_possible"
	StatusWithdrawalDone     = "withdrawal_done"

	// StatusUnknown is the previous status of a validator seen for the first time.
	StatusUnknown = "unknown"
	// StatusLeftTrackedSet marks a validator that dropped out of the tracked set and whose
	// new status could not be confirmed.
	StatusLeftTrackedSet = "left_tracked_set"
)

// ValidatorSnapshot is one validator's head state. Kept in memory only.
type ValidatorSnapshot struct {
	Index                 phase0.ValidatorIndex
	Status                string
	ExitEpoch             phase0.Epoch
	WithdrawableEpoch     phase0.Epoch
	Balance               phase0.Gwei
	EffectiveBalance      phase0.Gwei
	Pubkey                string
	WithdrawalCredentials string
}

// StatusTransition records a validator entering, changing within or leaving the tracked status set.
type StatusTransition struct {
	ValidatorIndex    phase0.ValidatorIndex `json:"validator_index"`
	PreviousStatus    string                `json:"previous_status"`
	Status            string                `json:"status"`
	ExitEpoch         phase0.Epoch          `json:"exit_epoch"`
	WithdrawableEpoch phase0.Epoch          `json:"withdrawable_epoch"`
	Balance           phase0.Gwei           `json:"balance"`
	EffectiveBalance  phase0.Gwei           `json:"effective_balance"`
	Pubkey            string                `json:"pubkey"`
	ObservedAt        time.Time             `json:"timestamp"`
	// Bucket groups re-observations of the same status. It is the chain-assigned exit epoch,
	// which stays stable across restarts.
	Bucket         phase0.Epoch `json:"bucket"`
	LeftTrackedSet bool         `json:"left_tracked_set"`
}

// TransitionKey identifies a status transition row.
type TransitionKey struct {
	ValidatorIndex phase0.ValidatorIndex
	Status         string
	Bucket         phase0.Epoch
}

func (s *StatusTransition) Key() TransitionKey {
	return TransitionKey{ValidatorIndex: s.ValidatorIndex, Status: s.Status, Bucket: s.Bucket}
}

// NewStatusTransition builds a transition from the verified snapshot.
func NewStatusTransition(previousStatus string, verified ValidatorSnapshot, observedAt time.Time) *StatusTransition {
	return &StatusTransition{
		ValidatorIndex:    verified.Index,
		PreviousStatus:    previousStatus,
		Status:            verified.Status,
		ExitEpoch:         verified.ExitEpoch,
		WithdrawableEpoch: verified.WithdrawableEpoch,
		Balance:           verified.Balance,
		EffectiveBalance:  verified.EffectiveBalance,
		Pubkey:            verified.Pubkey,
		ObservedAt:        observedAt,
		Bucket:            verified.ExitEpoch,
	}
}
