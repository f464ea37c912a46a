package exits

import (
	"context"
	"math/big"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	models "github.com/canopy-network/exitwatch/pkg/db/models/exits"
	"github.com/jackc/pgx/v5/pgtype"
)

// Every insert is keyed on the record identity and never overwrites: rows are write-once.

// UpsertVoluntaryExit inserts a voluntary exit unless (validator_index, slot) is already stored
func (db *DB) UpsertVoluntaryExit(ctx context.Context, rec *models.VoluntaryExit) (bool, error) {
	query := `
		INSERT INTO voluntary_exits (
			validator_index, exit_epoch, withdrawable_epoch, balance, effective_balance,
			pubkey, signature, slot, epoch, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (validator_index, slot) DO NOTHING
	`

	n, err := db.conn.Exec(ctx, query,
		int64(rec.ValidatorIndex), epochArg(rec.ExitEpoch), epochArg(rec.WithdrawableEpoch),
		int64(rec.Balance), int64(rec.EffectiveBalance),
		rec.Pubkey, rec.Signature, int64(rec.Slot), int64(rec.Epoch), rec.ObservedAt,
	)
	return n > 0, err
}

// UpsertStatusTransition inserts a transition unless (validator_index, status, bucket) is already stored
func (db *DB) UpsertStatusTransition(ctx context.Context, rec *models.StatusTransition) (bool, error) {
	query := `
		INSERT INTO exiting_validators (
			validator_index, previous_status, status, exit_epoch, withdrawable_epoch,
			balance, effective_balance, pubkey, timestamp, bucket, left_tracked_set
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (validator_index, status, bucket) DO NOTHING
	`

	n, err := db.conn.Exec(ctx, query,
		int64(rec.ValidatorIndex), rec.PreviousStatus, rec.Status,
		epochArg(rec.ExitEpoch), epochArg(rec.WithdrawableEpoch),
		int64(rec.Balance), int64(rec.EffectiveBalance), rec.Pubkey, rec.ObservedAt,
		bucketArg(rec.Bucket), rec.LeftTrackedSet,
	)
	return n > 0, err
}

// UpsertPartialWithdrawal inserts a withdrawal request unless (transaction_hash, validator_index) is already stored
func (db *DB) UpsertPartialWithdrawal(ctx context.Context, rec *models.PartialWithdrawal) (bool, error) {
	query := `
		INSERT INTO partial_withdrawals (
			transaction_hash, validator_index, exit_epoch, balance, effective_balance,
			pubkey, recipient_address, partial_withdrawal_amount, request_fee_paid,
			block_number, log_index, slot, epoch
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (transaction_hash, validator_index) DO NOTHING
	`

	n, err := db.conn.Exec(ctx, query,
		rec.TransactionHash, int64(rec.ValidatorIndex), epochArg(rec.ExitEpoch),
		int64(rec.Balance), int64(rec.EffectiveBalance),
		rec.Pubkey, rec.RecipientAddress, int64(rec.Amount), weiArg(rec.FeePaid),
		int64(rec.BlockNumber), int32(rec.LogIndex), int64(rec.Slot), int64(rec.Epoch),
	)
	return n > 0, err
}

// UpsertCredentialsSample inserts the sample for an epoch unless one is already stored
func (db *DB) UpsertCredentialsSample(ctx context.Context, rec *models.CredentialsSample) (bool, error) {
	query := `
		INSERT INTO validator_withdrawal_credentials (
			epoch, slot, timestamp,
			num_0x00_validators, num_0x01_validators, num_0x02_validators, total_validators
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (epoch) DO NOTHING
	`

	n, err := db.conn.Exec(ctx, query,
		int64(rec.Epoch), int64(rec.Slot), rec.Timestamp,
		int64(rec.Count0x00), int64(rec.Count0x01), int64(rec.Count0x02), int64(rec.Total),
	)
	return n > 0, err
}

// UpsertExitQueueSummary inserts the queue summary for an epoch unless one is already stored
func (db *DB) UpsertExitQueueSummary(ctx context.Context, rec *models.ExitQueueSummary) (bool, error) {
	query := `
		INSERT INTO exit_queue_summaries (
			epoch, slot, validators_in_queue,
			earliest_exit_epoch, earliest_withdrawable_epoch, latest_exit_epoch, latest_withdrawable_epoch,
			first_validator_index, first_validator_pubkey, last_validator_index, last_validator_pubkey,
			balance_in_queue
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (epoch) DO NOTHING
	`

	n, err := db.conn.Exec(ctx, query,
		int64(rec.Epoch), int64(rec.Slot), int64(rec.ValidatorsInQueue),
		bucketArg(rec.EarliestExitEpoch), bucketArg(rec.EarliestWithdrawableEpoch),
		bucketArg(rec.LatestExitEpoch), bucketArg(rec.LatestWithdrawableEpoch),
		int64(rec.FirstValidatorIndex), rec.FirstValidatorPubkey,
		int64(rec.LastValidatorIndex), rec.LastValidatorPubkey,
		int64(rec.BalanceInQueue),
	)
	return n > 0, err
}

// epochArg maps the far future epoch to NULL, it does not fit a BIGINT.
func epochArg(e phase0.Epoch) *int64 {
	if e == models.FarFutureEpoch {
		return nil
	}
	v := int64(e)
	return &v
}

// bucketArg is used for NOT NULL epoch columns; the far future epoch is stored as -1.
func bucketArg(e phase0.Epoch) int64 {
	if e == models.FarFutureEpoch {
		return -1
	}
	return int64(e)
}

func weiArg(v *big.Int) pgtype.Numeric {
	if v == nil {
		return pgtype.Numeric{Int: big.NewInt(0), Valid: true}
	}
	return pgtype.Numeric{Int: new(big.Int).Set(v), Valid: true}
}
