package db_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/canopy-network/exitwatch/pkg/db"
	"github.com/canopy-network/exitwatch/pkg/db/dbtest"
	"github.com/canopy-network/exitwatch/pkg/db/models/exits"
	"github.com/canopy-network/exitwatch/pkg/retry"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastRetry() retry.Config {
	return retry.Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestGatewayUpsertsAreIdempotent(t *testing.T) {
	store := dbtest.NewMemoryStore()
	pub := &dbtest.Publisher{}
	gw := db.NewGateway(store, pub, zaptest.NewLogger(t), fastRetry())
	ctx := context.Background()

	exit := &exits.VoluntaryExit{ValidatorIndex: 42, Slot: 3200, Epoch: 100, ExitEpoch: 105}
	inserted, err := gw.UpsertVoluntaryExit(ctx, exit)
	require.NoError(t, err)
	require.True(t, inserted)
	inserted, err = gw.UpsertVoluntaryExit(ctx, exit)
	require.NoError(t, err)
	require.False(t, inserted)
	require.Equal(t, 1, store.ExitCount())

	wd := &exits.PartialWithdrawal{ValidatorIndex: 7, TransactionHash: "0xabc", Amount: 1_000_000_000, FeePaid: big.NewInt(1)}
	for i := 0; i < 2; i++ {
		_, err = gw.UpsertPartialWithdrawal(ctx, wd)
		require.NoError(t, err)
	}
	require.Equal(t, 1, store.WithdrawalCount())

	tr := exits.NewStatusTransition(exits.StatusUnknown, exits.ValidatorSnapshot{Index: 9, Status: exits.StatusActiveExiting, ExitEpoch: 300}, time.Now())
	for i := 0; i < 2; i++ {
		_, err = gw.UpsertStatusTransition(ctx, tr)
		require.NoError(t, err)
	}
	require.Equal(t, 1, store.TransitionCount())

	// only new rows are announced
	require.Equal(t, 3, pub.Count())
}

func TestGatewayRetriesTransientWrites(t *testing.T) {
	store := dbtest.NewMemoryStore()
	store.FailWrites = 2
	store.WriteErr = errors.New("connection reset")
	gw := db.NewGateway(store, nil, zaptest.NewLogger(t), fastRetry())

	inserted, err := gw.UpsertCredentialsSample(context.Background(), &exits.CredentialsSample{Epoch: 100})
	require.NoError(t, err)
	require.True(t, inserted)
	require.Equal(t, 3, store.Writes)
}

func TestGatewayExhaustionWrapsErrPersistence(t *testing.T) {
	store := dbtest.NewMemoryStore()
	store.FailWrites = 10
	store.WriteErr = errors.New("connection refused")
	gw := db.NewGateway(store, nil, zaptest.NewLogger(t), fastRetry())

	_, err := gw.UpsertExitQueueSummary(context.Background(), &exits.ExitQueueSummary{Epoch: 1})
	require.Error(t, err)
	require.ErrorIs(t, err, db.ErrPersistence)
	require.ErrorIs(t, err, store.WriteErr)
	require.Equal(t, 3, store.Writes)
	require.Empty(t, store.Summaries)
}

func TestGatewayLookups(t *testing.T) {
	store := dbtest.NewMemoryStore()
	gw := db.NewGateway(store, nil, zaptest.NewLogger(t), fastRetry())
	ctx := context.Background()

	_, ok, err := gw.LastSampledEpoch(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	for _, e := range []phase0.Epoch{98, 100} {
		_, err = gw.UpsertCredentialsSample(ctx, &exits.CredentialsSample{Epoch: e})
		require.NoError(t, err)
	}
	epoch, ok, err := gw.LastSampledEpoch(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, phase0.Epoch(100), epoch)

	_, err = gw.UpsertVoluntaryExit(ctx, &exits.VoluntaryExit{ValidatorIndex: 1, Slot: 10})
	require.NoError(t, err)
	_, err = gw.UpsertVoluntaryExit(ctx, &exits.VoluntaryExit{ValidatorIndex: 2, Slot: 11})
	require.NoError(t, err)
	recorded, err := gw.RecordedExits(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	require.Contains(t, recorded, phase0.ValidatorIndex(1))

	_, err = gw.UpsertPartialWithdrawal(ctx, &exits.PartialWithdrawal{ValidatorIndex: 5, TransactionHash: "0x01"})
	require.NoError(t, err)
	keys, err := gw.RecordedWithdrawals(ctx, []string{"0x01", "0x02"})
	require.NoError(t, err)
	require.Contains(t, keys, exits.WithdrawalKey{TransactionHash: "0x01", ValidatorIndex: 5})
	require.Len(t, keys, 1)

	empty, err := gw.RecordedWithdrawals(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}
