package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pitchforge/deckgen-api/internal/platform/logger"
)

// TxFn is a function that executes within a database transaction.
// It receives the context and a transaction, and returns an error if the operation fails.
// The transaction is committed if the function returns nil, or rolled back if it returns an error.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// TxRunner is the narrow transaction interface components depend on instead
// of *sql.DB directly, so unit tests can substitute an in-memory runner.
type TxRunner interface {
	// RunInTransaction executes fn inside a read-committed transaction.
	RunInTransaction(ctx context.Context, fn TxFn) error

	// RunInSerializableTransaction executes fn inside a serializable
	// transaction, retrying the whole function on conflict aborts up to a
	// fixed budget. Exhausting the budget surfaces ErrAborted.
	RunInSerializableTransaction(ctx context.Context, fn TxFn) error
}

// Conflict retry budget for serializable transactions. Aborts are expected
// under concurrent appenders, so the backoff stays short.
const (
	conflictRetryLimit        = 5
	conflictRetryInitialDelay = 20 * time.Millisecond
	conflictRetryMaxDelay     = 250 * time.Millisecond
)

// SQLRunner implements TxRunner over a *sql.DB.
type SQLRunner struct {
	DB *sql.DB
}

// NewSQLRunner wraps the given database handle in a TxRunner.
func NewSQLRunner(db *sql.DB) *SQLRunner {
	return &SQLRunner{DB: db}
}

// RunInTransaction implements TxRunner.
func (r *SQLRunner) RunInTransaction(ctx context.Context, fn TxFn) error {
	return runInTransaction(ctx, r.DB, nil, fn)
}

// RunInSerializableTransaction implements TxRunner.
func (r *SQLRunner) RunInSerializableTransaction(ctx context.Context, fn TxFn) error {
	log := logger.FromContext(ctx)
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}

	delay := conflictRetryInitialDelay
	var err error
	for attempt := 0; attempt <= conflictRetryLimit; attempt++ {
		err = runInTransaction(ctx, r.DB, opts, fn)
		if err == nil || !IsAbortedError(err) {
			return err
		}

		if attempt == conflictRetryLimit {
			break
		}

		// Jittered backoff keeps two conflicting writers from re-colliding.
		sleep := delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))
		log.Debug("serialization conflict, retrying transaction",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", sleep))

		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
		}

		delay *= 2
		if delay > conflictRetryMaxDelay {
			delay = conflictRetryMaxDelay
		}
	}

	log.Warn("serialization conflict retries exhausted",
		slog.Int("attempts", conflictRetryLimit+1),
		slog.String("error", err.Error()))
	return err
}

// RunInTransaction executes the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// Otherwise, the transaction is committed.
func RunInTransaction(ctx context.Context, db *sql.DB, fn TxFn) error {
	return runInTransaction(ctx, db, nil, fn)
}

func runInTransaction(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn TxFn) error {
	log := logger.FromContext(ctx)

	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		log.Error("failed to begin transaction",
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Roll back the transaction and re-raise if fn panics.
	defer func() {
		if p := recover(); p != nil {
			if txErr := tx.Rollback(); txErr != nil {
				log.Error("failed to roll back transaction after panic",
					slog.String("error", txErr.Error()),
					slog.Any("panic", p))
			}
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			log.Error("failed to roll back transaction",
				slog.String("rollback_error", rollbackErr.Error()),
				slog.String("original_error", err.Error()))
			return fmt.Errorf(
				"error rolling back transaction: %v (original error: %w)",
				rollbackErr,
				err,
			)
		}
		if isSerializationFailure(err) && !IsAbortedError(err) {
			return fmt.Errorf("%w: %v", ErrAborted, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		// Serialization conflicts can surface at commit time rather than
		// from the statement that caused them.
		if isSerializationFailure(err) {
			return fmt.Errorf("%w: commit: %v", ErrAborted, err)
		}
		log.Error("failed to commit transaction",
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: commit: %v", ErrTransactionFailed, err)
	}

	return nil
}

// serializationFailureCode is the PostgreSQL SQLSTATE for a serializable
// transaction aborted by a conflicting concurrent transaction.
const serializationFailureCode = "40001"

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailureCode
}
