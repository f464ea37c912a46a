package execution

import (
	"encoding/binary"
	"fmt"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	addressLength = 20
	pubkeyLength  = 48
	amountLength  = 8
	// RequestDataLength is the size of one EIP-7002 request log payload.
	RequestDataLength = addressLength + pubkeyLength + amountLength
)

// WithdrawalRequest is one decoded EIP-7002 request log.
type WithdrawalRequest struct {
	SourceAddress common.Address
	Pubkey        string // 0x-prefixed hex
	Amount        phase0.Gwei
	BlockNumber   uint64
	TxHash        common.Hash
	LogIndex      uint
}

// IsPartial reports whether the request withdraws a partial amount. Zero requests a full exit.
func (r *WithdrawalRequest) IsPartial() bool {
	return r.Amount > 0
}

// DecodeWithdrawalRequest parses source address, validator pubkey and big-endian amount from the log data.
func DecodeWithdrawalRequest(l types.Log) (*WithdrawalRequest, error) {
	if len(l.Data) != RequestDataLength {
		return nil, fmt.Errorf("withdrawal request data is %d bytes, want %d", len(l.Data), RequestDataLength)
	}
	data := l.Data
	return &WithdrawalRequest{
		SourceAddress: common.BytesToAddress(data[:addressLength]),
		Pubkey:        hexutil.Encode(data[addressLength : addressLength+pubkeyLength]),
		Amount:        phase0.Gwei(binary.BigEndian.Uint64(data[addressLength+pubkeyLength:])),
		BlockNumber:   l.BlockNumber,
		TxHash:        l.TxHash,
		LogIndex:      l.Index,
	}, nil
}
