package beacon

import (
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/canopy-network/exitwatch/pkg/db/models/exits"
)

// Wire types follow the beacon REST API, where every uint64 is a decimal string.

type headerResponse struct {
	Root   string `json:"root"`
	Header struct {
		Message struct {
			Slot phase0.Slot `json:"slot,string"`
		} `json:"message"`
	} `json:"header"`
}

type genesisResponse struct {
	GenesisTime           uint64 `json:"genesis_time,string"`
	GenesisValidatorsRoot string `json:"genesis_validators_root"`
	GenesisForkVersion    string `json:"genesis_fork_version"`
}

// Genesis identifies the chain.
type Genesis struct {
	Time           time.Time
	ValidatorsRoot string
	ForkVersion    string
}

// SlotAt returns the slot in progress at t.
func (g *Genesis) SlotAt(t time.Time) phase0.Slot {
	if t.Before(g.Time) {
		return 0
	}
	return phase0.Slot(t.Sub(g.Time) / exits.SlotDuration)
}

// RpcValidator is one entry of the validators endpoints.
type RpcValidator struct {
	Index     phase0.ValidatorIndex `json:"index,string"`
	Balance   phase0.Gwei           `json:"balance,string"`
	Status    string                `json:"status"`
	Validator struct {
		Pubkey                string       `json:"pubkey"`
		WithdrawalCredentials string       `json:"withdrawal_credentials"`
		EffectiveBalance      phase0.Gwei  `json:"effective_balance,string"`
		Slashed               bool         `json:"slashed"`
		ExitEpoch             phase0.Epoch `json:"exit_epoch,string"`
		WithdrawableEpoch     phase0.Epoch `json:"withdrawable_epoch,string"`
	} `json:"validator"`
}

// ToSnapshot converts the wire type to the in-memory model.
func (v *RpcValidator) ToSnapshot() exits.ValidatorSnapshot {
	return exits.ValidatorSnapshot{
		Index:                 v.Index,
		Status:                v.Status,
		ExitEpoch:             v.Validator.ExitEpoch,
		WithdrawableEpoch:     v.Validator.WithdrawableEpoch,
		Balance:               v.Balance,
		EffectiveBalance:      v.Validator.EffectiveBalance,
		Pubkey:                v.Validator.Pubkey,
		WithdrawalCredentials: v.Validator.WithdrawalCredentials,
	}
}

type blockResponse struct {
	Message struct {
		Slot phase0.Slot `json:"slot,string"`
		Body struct {
			VoluntaryExits []struct {
				Message struct {
					Epoch          phase0.Epoch          `json:"epoch,string"`
					ValidatorIndex phase0.ValidatorIndex `json:"validator_index,string"`
				} `json:"message"`
				Signature string `json:"signature"`
			} `json:"voluntary_exits"`
			ExecutionPayload *struct {
				BlockNumber uint64 `json:"block_number,string"`
				BlockHash   string `json:"block_hash"`
				Timestamp   uint64 `json:"timestamp,string"`
			} `json:"execution_payload"`
		} `json:"body"`
	} `json:"message"`
}

// SignedVoluntaryExit is an exit operation included in a block.
type SignedVoluntaryExit struct {
	ValidatorIndex phase0.ValidatorIndex
	Epoch          phase0.Epoch
	Signature      string
}

// Block carries the parts of a beacon block the monitors use.
type Block struct {
	Slot           phase0.Slot
	VoluntaryExits []SignedVoluntaryExit
	// ExecutionBlockNumber is zero before the merge.
	ExecutionBlockNumber uint64
	ExecutionBlockHash   string
}

func (b *blockResponse) toBlock() *Block {
	out := &Block{Slot: b.Message.Slot}
	for _, ve := range b.Message.Body.VoluntaryExits {
		out.VoluntaryExits = append(out.VoluntaryExits, SignedVoluntaryExit{
			ValidatorIndex: ve.Message.ValidatorIndex,
			Epoch:          ve.Message.Epoch,
			Signature:      ve.Signature,
		})
	}
	if p := b.Message.Body.ExecutionPayload; p != nil {
		out.ExecutionBlockNumber = p.BlockNumber
		out.ExecutionBlockHash = p.BlockHash
	}
	return out
}
