package exits

import (
	"context"

	models "github.com/canopy-network/exitwatch/pkg/db/models/exits"
)

const (
	VoluntaryExitsTable                 = models.VoluntaryExitsTableName
	ExitingValidatorsTable              = models.ExitingValidatorsTableName
	PartialWithdrawalsTable             = models.PartialWithdrawalsTableName
	ValidatorWithdrawalCredentialsTable = models.ValidatorWithdrawalCredentialsTableName
	ExitQueueSummariesTable             = models.ExitQueueSummariesTableName
)

// initVoluntaryExits creates the voluntary_exits table
func (db *DB) initVoluntaryExits(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS voluntary_exits (
			validator_index BIGINT NOT NULL,
			exit_epoch BIGINT, -- NULL for far future
			withdrawable_epoch BIGINT,
			balance BIGINT NOT NULL DEFAULT 0,
			effective_balance BIGINT NOT NULL DEFAULT 0,
			pubkey TEXT NOT NULL,
			signature TEXT NOT NULL,
			slot BIGINT NOT NULL,
			epoch BIGINT NOT NULL,
			observed_at TIMESTAMP WITH TIME ZONE NOT NULL,
			PRIMARY KEY (validator_index, slot)
		);

		CREATE INDEX IF NOT EXISTS idx_voluntary_exits_slot ON voluntary_exits(slot);
	`

	return db.exec(ctx, query)
}

// initExitingValidators creates the exiting_validators table
func (db *DB) initExitingValidators(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS exiting_validators (
			validator_index BIGINT NOT NULL,
			previous_status TEXT NOT NULL,
			status TEXT NOT NULL,
			exit_epoch BIGINT, -- NULL for far future
			withdrawable_epoch BIGINT,
			balance BIGINT NOT NULL DEFAULT 0,
			effective_balance BIGINT NOT NULL DEFAULT 0,
			pubkey TEXT NOT NULL,
			timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
			bucket BIGINT NOT NULL,
			left_tracked_set BOOLEAN NOT NULL DEFAULT false,
			PRIMARY KEY (validator_index, status, bucket)
		);

		CREATE INDEX IF NOT EXISTS idx_exiting_validators_exit_epoch ON exiting_validators(exit_epoch);
	`

	return db.exec(ctx, query)
}

// initPartialWithdrawals creates the partial_withdrawals table
func (db *DB) initPartialWithdrawals(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS partial_withdrawals (
			transaction_hash TEXT NOT NULL,
			validator_index BIGINT NOT NULL,
			exit_epoch BIGINT, -- NULL for far future
			balance BIGINT NOT NULL DEFAULT 0,
			effective_balance BIGINT NOT NULL DEFAULT 0,
			pubkey TEXT NOT NULL,
			recipient_address TEXT NOT NULL,
			partial_withdrawal_amount BIGINT NOT NULL,
			request_fee_paid NUMERIC(78, 0) NOT NULL DEFAULT 0, -- wei
			block_number BIGINT NOT NULL,
			log_index INTEGER NOT NULL,
			slot BIGINT NOT NULL,
			epoch BIGINT NOT NULL,
			PRIMARY KEY (transaction_hash, validator_index)
		);

		CREATE INDEX IF NOT EXISTS idx_partial_withdrawals_block_number ON partial_withdrawals(block_number);
	`

	return db.exec(ctx, query)
}

// initValidatorWithdrawalCredentials creates the validator_withdrawal_credentials table
func (db *DB) initValidatorWithdrawalCredentials(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS validator_withdrawal_credentials (
			epoch BIGINT NOT NULL PRIMARY KEY,
			slot BIGINT NOT NULL,
			timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
			num_0x00_validators BIGINT NOT NULL DEFAULT 0,
			num_0x01_validators BIGINT NOT NULL DEFAULT 0,
			num_0x02_validators BIGINT NOT NULL DEFAULT 0,
			total_validators BIGINT NOT NULL DEFAULT 0
		);
	`

	return db.exec(ctx, query)
}

// initExitQueueSummaries creates the exit_queue_summaries table
func (db *DB) initExitQueueSummaries(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS exit_queue_summaries (
			epoch BIGINT NOT NULL PRIMARY KEY,
			slot BIGINT NOT NULL,
			validators_in_queue BIGINT NOT NULL DEFAULT 0,
			earliest_exit_epoch BIGINT NOT NULL DEFAULT 0,
			earliest_withdrawable_epoch BIGINT NOT NULL DEFAULT 0,
			latest_exit_epoch BIGINT NOT NULL DEFAULT 0,
			latest_withdrawable_epoch BIGINT NOT NULL DEFAULT 0,
			first_validator_index BIGINT NOT NULL DEFAULT 0,
			first_validator_pubkey TEXT NOT NULL DEFAULT '',
			last_validator_index BIGINT NOT NULL DEFAULT 0,
			last_validator_pubkey TEXT NOT NULL DEFAULT '',
			balance_in_queue BIGINT NOT NULL DEFAULT 0
		);
	`

	return db.exec(ctx, query)
}
