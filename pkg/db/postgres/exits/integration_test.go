package exits_test

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	models "github.com/canopy-network/exitwatch/pkg/db/models/exits"
	"github.com/canopy-network/exitwatch/pkg/db/postgres/exits"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	testDB        *exits.DB
	testContainer *postgres.PostgresContainer
	testLogger    *zap.Logger
)

// TestMain starts a Postgres container when Docker is available. Without Docker the unit tests
// still run and the integration tests skip.
func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	var err error
	testLogger, err = cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}

	if os.Getenv("SKIP_INTEGRATION") != "" || !isDockerAvailable() {
		return m.Run()
	}

	testContainer, err = postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("exitwatch_test"),
		postgres.WithUsername("exitwatch"),
		postgres.WithPassword("exitwatch"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		testLogger.Error("Failed to start Postgres container", zap.Error(err))
		return 1
	}
	defer cleanup(ctx)

	dsn, err := testContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		testLogger.Error("Failed to get connection string", zap.Error(err))
		return 1
	}

	testDB, err = exits.New(ctx, testLogger, dsn)
	if err != nil {
		testLogger.Error("Failed to connect to Postgres", zap.Error(err))
		return 1
	}

	return m.Run()
}

// cleanup closes the pool and terminates the container
func cleanup(ctx context.Context) {
	if testDB != nil {
		if err := testDB.Close(); err != nil {
			testLogger.Error("Failed to close database connection", zap.Error(err))
		}
	}
	if testContainer != nil {
		terminateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := testContainer.Terminate(terminateCtx); err != nil {
			testLogger.Error("Failed to terminate container", zap.Error(err))
		}
	}
}

// isDockerAvailable checks if Docker is available on the system
func isDockerAvailable() bool {
	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()
	return true
}

func requireDB(t *testing.T) *exits.DB {
	t.Helper()
	if testDB == nil {
		t.Skip("Docker not available, skipping integration test")
	}
	return testDB
}

func TestIntegrationUpsertsAreIdempotent(t *testing.T) {
	store := requireDB(t)
	ctx := context.Background()
	observed := time.Unix(1_700_000_000, 0).UTC()

	exit := &models.VoluntaryExit{
		ValidatorIndex:    1001,
		ExitEpoch:         405,
		WithdrawableEpoch: 661,
		Balance:           32_000_000_000,
		EffectiveBalance:  32_000_000_000,
		Pubkey:            "0xaa",
		Signature:         "0xbb",
		Slot:              12_800,
		Epoch:             400,
		ObservedAt:        observed,
	}
	inserted, err := store.UpsertVoluntaryExit(ctx, exit)
	require.NoError(t, err)
	require.True(t, inserted)
	inserted, err = store.UpsertVoluntaryExit(ctx, exit)
	require.NoError(t, err)
	require.False(t, inserted)

	recorded, err := store.RecordedExits(ctx, 12_800)
	require.NoError(t, err)
	require.Equal(t, []phase0.ValidatorIndex{1001}, recorded)

	transition := models.NewStatusTransition(models.StatusUnknown, models.ValidatorSnapshot{
		Index:             1001,
		Status:            models.StatusActiveExiting,
		ExitEpoch:         405,
		WithdrawableEpoch: models.FarFutureEpoch,
	}, observed)
	inserted, err = store.UpsertStatusTransition(ctx, transition)
	require.NoError(t, err)
	require.True(t, inserted)
	inserted, err = store.UpsertStatusTransition(ctx, transition)
	require.NoError(t, err)
	require.False(t, inserted)

	withdrawal := &models.PartialWithdrawal{
		ValidatorIndex:  1001,
		ExitEpoch:       models.FarFutureEpoch,
		Amount:          1_000_000_000,
		FeePaid:         new(big.Int).Lsh(big.NewInt(1), 70),
		BlockNumber:     21_000_000,
		TransactionHash: "0x01",
		Slot:            12_800,
		Epoch:           400,
	}
	inserted, err = store.UpsertPartialWithdrawal(ctx, withdrawal)
	require.NoError(t, err)
	require.True(t, inserted)
	inserted, err = store.UpsertPartialWithdrawal(ctx, withdrawal)
	require.NoError(t, err)
	require.False(t, inserted)

	keys, err := store.RecordedWithdrawals(ctx, []string{"0x01", "0x02"})
	require.NoError(t, err)
	require.Equal(t, []models.WithdrawalKey{{TransactionHash: "0x01", ValidatorIndex: 1001}}, keys)
}

func TestIntegrationLastSampledEpoch(t *testing.T) {
	store := requireDB(t)
	ctx := context.Background()

	for _, epoch := range []phase0.Epoch{96, 100, 98} {
		_, err := store.UpsertCredentialsSample(ctx, &models.CredentialsSample{
			Epoch:     epoch,
			Slot:      models.StartSlot(epoch),
			Timestamp: time.Unix(1_700_000_000, 0).UTC(),
			Total:     3,
		})
		require.NoError(t, err)
	}

	epoch, ok, err := store.LastSampledEpoch(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, phase0.Epoch(100), epoch)
}
