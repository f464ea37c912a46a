package monitor

import (
	"context"
	"errors"
	"math/big"

	"github.com/canopy-network/exitwatch/pkg/beacon"
	"github.com/canopy-network/exitwatch/pkg/db/models/exits"
	"github.com/canopy-network/exitwatch/pkg/execution"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// DefaultPartialWithdrawalBlockLimit caps the execution blocks scanned per tick.
const DefaultPartialWithdrawalBlockLimit = 100

// WithdrawalMonitor records partial withdrawal requests submitted through the execution layer.
type WithdrawalMonitor struct {
	base

	exec       execution.Source
	blockLimit uint64

	lastBlock uint64
	started   bool
}

var _ Monitor = (*WithdrawalMonitor)(nil)

func NewWithdrawalMonitor(d Deps, source execution.Source, blockLimit uint64) *WithdrawalMonitor {
	if blockLimit == 0 {
		blockLimit = DefaultPartialWithdrawalBlockLimit
	}
	return &WithdrawalMonitor{
		base:       newBase(PartialWithdrawalsName, d),
		exec:       source,
		blockLimit: blockLimit,
	}
}

func (m *WithdrawalMonitor) Reset() {
	m.started = false
	m.lastBlock = 0
}

// LastScannedBlock returns the newest fully processed execution block.
func (m *WithdrawalMonitor) LastScannedBlock() (uint64, bool) {
	return m.lastBlock, m.started
}

func (m *WithdrawalMonitor) Tick(ctx context.Context) error {
	pos, err := m.resolve(ctx)
	if err != nil {
		return err
	}

	head, err := m.executionHead(ctx, pos)
	if err != nil {
		return err
	}

	from := head
	if m.started {
		from = m.lastBlock + 1
	}
	if from > head {
		return nil
	}
	to := min(head, from+m.blockLimit-1)

	if err := m.scan(ctx, pos, from, to); err != nil {
		return err
	}
	m.lastBlock = to
	m.started = true
	m.metrics.SetLastScannedBlock(to)
	return nil
}

// executionHead is the execution block carried by the head beacon block, or the execution node's
// latest block when the head slot was missed.
func (m *WithdrawalMonitor) executionHead(ctx context.Context, pos exits.ChainPosition) (uint64, error) {
	var block *beacon.Block
	err := m.fetch(ctx, "block_by_slot", func() error {
		var err error
		block, err = m.beacon.BlockBySlot(ctx, pos.Slot)
		return err
	})
	switch {
	case err == nil && block.ExecutionBlockNumber > 0:
		return block.ExecutionBlockNumber, nil
	case err != nil && !errors.Is(err, beacon.ErrNotFound):
		return 0, err
	}

	var n uint64
	err = m.fetch(ctx, "execution_head", func() error {
		var err error
		n, err = m.exec.HeadBlockNumber(ctx)
		return err
	})
	return n, err
}

func (m *WithdrawalMonitor) scan(ctx context.Context, pos exits.ChainPosition, from, to uint64) error {
	var requests []execution.WithdrawalRequest
	err := m.fetch(ctx, "withdrawal_requests", func() error {
		var err error
		requests, err = m.exec.WithdrawalRequests(ctx, from, to)
		return err
	})
	if err != nil {
		return err
	}

	partial := make([]execution.WithdrawalRequest, 0, len(requests))
	pubkeys := make([]string, 0, len(requests))
	seenPubkey := make(map[string]struct{})
	hashes := make([]string, 0, len(requests))
	seenHash := make(map[string]struct{})
	for _, r := range requests {
		if !r.IsPartial() {
			continue
		}
		partial = append(partial, r)
		if !has(seenPubkey, r.Pubkey) {
			seenPubkey[r.Pubkey] = struct{}{}
			pubkeys = append(pubkeys, r.Pubkey)
		}
		if h := r.TxHash.Hex(); !has(seenHash, h) {
			seenHash[h] = struct{}{}
			hashes = append(hashes, h)
		}
	}
	if len(partial) == 0 {
		return nil
	}

	var snapshots []exits.ValidatorSnapshot
	err = m.fetch(ctx, "validators_by_pubkey", func() error {
		var err error
		snapshots, err = m.beacon.ValidatorsByIDs(ctx, pubkeys)
		return err
	})
	if err != nil {
		return err
	}
	byPubkey := make(map[string]exits.ValidatorSnapshot, len(snapshots))
	for _, s := range snapshots {
		byPubkey[s.Pubkey] = s
	}

	recorded, err := m.gateway.RecordedWithdrawals(ctx, hashes)
	if err != nil {
		return err
	}

	fees := make(map[common.Hash]*big.Int)
	written := 0
	for _, r := range partial {
		snap, ok := byPubkey[r.Pubkey]
		if !ok {
			// the consensus layer drops requests for unknown pubkeys
			m.logger.Warn("Withdrawal request for unknown validator",
				zap.String("pubkey", r.Pubkey),
				zap.String("tx", r.TxHash.Hex()))
			continue
		}
		key := exits.WithdrawalKey{TransactionHash: r.TxHash.Hex(), ValidatorIndex: snap.Index}
		if _, ok := recorded[key]; ok {
			continue
		}

		fee, ok := fees[r.TxHash]
		if !ok {
			err := m.fetch(ctx, "transaction_value", func() error {
				var err error
				fee, err = m.exec.TransactionValue(ctx, r.TxHash)
				return err
			})
			if err != nil {
				return err
			}
			fees[r.TxHash] = fee
		}

		rec := &exits.PartialWithdrawal{
			ValidatorIndex:   snap.Index,
			ExitEpoch:        snap.ExitEpoch,
			Balance:          snap.Balance,
			EffectiveBalance: snap.EffectiveBalance,
			Pubkey:           snap.Pubkey,
			RecipientAddress: r.SourceAddress.Hex(),
			Amount:           r.Amount,
			FeePaid:          fee,
			BlockNumber:      r.BlockNumber,
			TransactionHash:  key.TransactionHash,
			LogIndex:         r.LogIndex,
			Slot:             pos.Slot,
			Epoch:            pos.Epoch,
		}
		inserted, err := m.gateway.UpsertPartialWithdrawal(ctx, rec)
		if err != nil {
			return err
		}
		if inserted {
			written++
		}
	}

	m.metrics.AddRecords(PartialWithdrawalsName, written)
	m.logger.Info("Partial withdrawal requests processed",
		zap.Uint64("from_block", from),
		zap.Uint64("to_block", to),
		zap.Int("requests", len(partial)),
		zap.Int("new", written))
	return nil
}

func has(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
