package exits

import (
	"math/big"

	"github.com/attestantio/go-eth2-client/spec/phase0"
)

const PartialWithdrawalsTableName = "partial_withdrawals"

// PartialWithdrawal is an execution-layer triggered withdrawal request with a non-zero amount.
type PartialWithdrawal struct {
	ValidatorIndex   phase0.ValidatorIndex `json:"validator_index"`
	ExitEpoch        phase0.Epoch          `json:"exit_epoch"`
	Balance          phase0.Gwei           `json:"balance"`
	EffectiveBalance phase0.Gwei           `json:"effective_balance"`
	Pubkey           string                `json:"pubkey"`
	RecipientAddress string                `json:"recipient_address"`
	Amount           phase0.Gwei           `json:"partial_withdrawal_amount"`
	FeePaid          *big.Int              `json:"request_fee_paid"` // wei
	BlockNumber      uint64                `json:"block_number"`
	TransactionHash  string                `json:"transaction_hash"`
	LogIndex         uint                  `json:"log_index"`
	Slot             phase0.Slot           `json:"slot"`
	Epoch            phase0.Epoch          `json:"epoch"`
}

// WithdrawalKey identifies a partial withdrawal. One transaction may carry several requests.
type WithdrawalKey struct {
	TransactionHash string
	ValidatorIndex  phase0.ValidatorIndex
}

func (p *PartialWithdrawal) Key() WithdrawalKey {
	return WithdrawalKey{TransactionHash: p.TransactionHash, ValidatorIndex: p.ValidatorIndex}
}
