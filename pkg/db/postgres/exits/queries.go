package exits

import (
	"context"
	"fmt"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	models "github.com/canopy-network/exitwatch/pkg/db/models/exits"
)

// RecordedExits returns the validator indices with an exit stored at slot
func (db *DB) RecordedExits(ctx context.Context, slot phase0.Slot) ([]phase0.ValidatorIndex, error) {
	query := `SELECT validator_index FROM voluntary_exits WHERE slot = $1`

	rows, err := db.conn.Query(ctx, query, int64(slot))
	if err != nil {
		return nil, fmt.Errorf("query recorded exits: %w", err)
	}
	defer rows.Close()

	var out []phase0.ValidatorIndex
	for rows.Next() {
		var idx int64
		if err := rows.Scan(&idx); err != nil {
			return nil, fmt.Errorf("scan recorded exit: %w", err)
		}
		out = append(out, phase0.ValidatorIndex(idx))
	}
	return out, rows.Err()
}

// RecordedWithdrawals returns the stored (transaction_hash, validator_index) keys among txHashes
func (db *DB) RecordedWithdrawals(ctx context.Context, txHashes []string) ([]models.WithdrawalKey, error) {
	if len(txHashes) == 0 {
		return nil, nil
	}
	query := `SELECT transaction_hash, validator_index FROM partial_withdrawals WHERE transaction_hash = ANY($1)`

	rows, err := db.conn.Query(ctx, query, txHashes)
	if err != nil {
		return nil, fmt.Errorf("query recorded withdrawals: %w", err)
	}
	defer rows.Close()

	var out []models.WithdrawalKey
	for rows.Next() {
		var (
			hash string
			idx  int64
		)
		if err := rows.Scan(&hash, &idx); err != nil {
			return nil, fmt.Errorf("scan recorded withdrawal: %w", err)
		}
		out = append(out, models.WithdrawalKey{TransactionHash: hash, ValidatorIndex: phase0.ValidatorIndex(idx)})
	}
	return out, rows.Err()
}

// LastSampledEpoch returns the newest credentials sample epoch
func (db *DB) LastSampledEpoch(ctx context.Context) (phase0.Epoch, bool, error) {
	query := `SELECT MAX(epoch) FROM validator_withdrawal_credentials`

	var epoch *int64
	if err := db.conn.QueryRow(ctx, query).Scan(&epoch); err != nil {
		return 0, false, fmt.Errorf("query last sampled epoch: %w", err)
	}
	if epoch == nil {
		return 0, false, nil
	}
	return phase0.Epoch(*epoch), true, nil
}
