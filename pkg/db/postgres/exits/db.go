package exits

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/canopy-network/exitwatch/pkg/db/postgres"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Conn is the subset of postgres.Client the store needs.
type Conn interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// DB is the Postgres implementation of db.Store.
type DB struct {
	conn   Conn
	logger *zap.Logger
}

// New connects to dbURL and ensures every table exists.
func New(ctx context.Context, logger *zap.Logger, dbURL string) (*DB, error) {
	client, err := postgres.New(ctx, logger.With(zap.String("component", "monitors")), dbURL,
		postgres.GetPoolConfigForComponent("monitors"))
	if err != nil {
		return nil, err
	}

	db := NewWithConn(&client, logger)
	if err := db.InitializeDB(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return db, nil
}

// NewWithConn wraps an existing connection without touching the schema.
func NewWithConn(conn Conn, logger *zap.Logger) *DB {
	return &DB{conn: conn, logger: logger}
}

// InitializeDB ensures the required tables exist
// Creates all tables in parallel for efficiency
func (db *DB) InitializeDB(ctx context.Context) error {
	initStart := time.Now()

	initOps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{VoluntaryExitsTable, db.initVoluntaryExits},
		{ExitingValidatorsTable, db.initExitingValidators},
		{PartialWithdrawalsTable, db.initPartialWithdrawals},
		{ValidatorWithdrawalCredentialsTable, db.initValidatorWithdrawalCredentials},
		{ExitQueueSummariesTable, db.initExitQueueSummaries},
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(initOps))

	for _, op := range initOps {
		wg.Add(1)
		go func(name string, fn func(context.Context) error) {
			defer wg.Done()
			db.logger.Debug("Initializing table", zap.String("table", name))
			if err := fn(ctx); err != nil {
				errChan <- fmt.Errorf("init %s: %w", name, err)
			}
		}(op.name, op.fn)
	}

	wg.Wait()
	close(errChan)

	for err := range errChan {
		return err
	}

	db.logger.Info("Exit database initialized successfully",
		zap.Int("tables", len(initOps)),
		zap.Duration("duration", time.Since(initStart)))

	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.Ping(ctx)
}

// Close terminates the underlying PostgreSQL connection
func (db *DB) Close() error {
	db.conn.Close()
	return nil
}

func (db *DB) exec(ctx context.Context, query string, args ...any) error {
	_, err := db.conn.Exec(ctx, query, args...)
	return err
}
