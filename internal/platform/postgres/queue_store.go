package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pitchforge/deckgen-api/internal/domain"
	"github.com/pitchforge/deckgen-api/internal/platform/logger"
	"github.com/pitchforge/deckgen-api/internal/store"
)

// PostgresQueueStore implements the store.QueueStore interface.
//
// Claims are recorded as a status flip plus a timestamp instead of locks; a
// staleness sweep reclaims entries whose worker died mid-task.
type PostgresQueueStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresQueueStore creates a new PostgreSQL implementation of the QueueStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresQueueStore(db store.DBTX, logger *slog.Logger) *PostgresQueueStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresQueueStore{
		db:     db,
		logger: logger.With(slog.String("component", "queue_store")),
	}
}

// Ensure PostgresQueueStore implements store.QueueStore interface
var _ store.QueueStore = (*PostgresQueueStore)(nil)

// Enqueue implements store.QueueStore.Enqueue
func (s *PostgresQueueStore) Enqueue(ctx context.Context, entry *domain.QueueEntry) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Now().UTC()
	}

	// One entry per slide: re-enqueueing re-arms the existing row with the
	// caller's attempt count and clears any stale claim.
	query := `
		INSERT INTO generation_queue (slide_id, deck_id, user_id, status, attempts, enqueued_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULL)
		ON CONFLICT (slide_id) DO UPDATE
		SET status = EXCLUDED.status,
		    attempts = EXCLUDED.attempts,
		    enqueued_at = EXCLUDED.enqueued_at,
		    processed_at = NULL
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		entry.SlideID,
		entry.DeckID,
		entry.UserID,
		domain.QueueStatusQueued,
		entry.Attempts,
		entry.EnqueuedAt,
	)
	if err != nil {
		log.Error("failed to enqueue entry",
			slog.String("error", err.Error()),
			slog.String("slide_id", entry.SlideID.String()))
		return MapError(err)
	}

	log.Debug("queue entry enqueued",
		slog.String("slide_id", entry.SlideID.String()),
		slog.Int("attempts", entry.Attempts))
	return nil
}

// Claim implements store.QueueStore.Claim
func (s *PostgresQueueStore) Claim(ctx context.Context, slideID uuid.UUID, now time.Time) (*domain.QueueEntry, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE generation_queue
		SET status = $1, processed_at = $2
		WHERE slide_id = $3 AND status = $4
		RETURNING slide_id, deck_id, user_id, status, attempts, enqueued_at, processed_at
	`

	var entry domain.QueueEntry
	var processedAt sql.NullTime
	err := s.db.QueryRowContext(
		ctx,
		query,
		domain.QueueStatusProcessing,
		now.UTC(),
		slideID,
		domain.QueueStatusQueued,
	).Scan(
		&entry.SlideID,
		&entry.DeckID,
		&entry.UserID,
		&entry.Status,
		&entry.Attempts,
		&entry.EnqueuedAt,
		&processedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrQueueEntryNotFound
		}
		log.Error("failed to claim queue entry",
			slog.String("error", err.Error()),
			slog.String("slide_id", slideID.String()))
		return nil, MapError(err)
	}

	if processedAt.Valid {
		t := processedAt.Time
		entry.ProcessedAt = &t
	}

	return &entry, nil
}

// Delete implements store.QueueStore.Delete
func (s *PostgresQueueStore) Delete(ctx context.Context, slideID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM generation_queue WHERE slide_id = $1`, slideID)
	return MapError(err)
}

// ListDue implements store.QueueStore.ListDue
func (s *PostgresQueueStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueueEntry, error) {
	// An entry is due when it is queued and its task carries no retry gate,
	// or the gate has passed.
	query := `
		SELECT q.slide_id, q.deck_id, q.user_id, q.status, q.attempts, q.enqueued_at, q.processed_at
		FROM generation_queue q
		LEFT JOIN slide_prompt_tasks t ON t.slide_id = q.slide_id
		WHERE q.status = $1
		  AND (t.next_retry_at IS NULL OR t.next_retry_at <= $2)
		ORDER BY q.enqueued_at
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, domain.QueueStatusQueued, now.UTC(), limit)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*domain.QueueEntry
	for rows.Next() {
		var entry domain.QueueEntry
		var processedAt sql.NullTime
		if err := rows.Scan(
			&entry.SlideID,
			&entry.DeckID,
			&entry.UserID,
			&entry.Status,
			&entry.Attempts,
			&entry.EnqueuedAt,
			&processedAt,
		); err != nil {
			return nil, MapError(err)
		}
		if processedAt.Valid {
			t := processedAt.Time
			entry.ProcessedAt = &t
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return entries, nil
}

// ResetStale implements store.QueueStore.ResetStale
func (s *PostgresQueueStore) ResetStale(ctx context.Context, olderThan time.Duration, now time.Time) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	cutoff := now.UTC().Add(-olderThan)
	result, err := s.db.ExecContext(ctx,
		`UPDATE generation_queue
		 SET status = $1, processed_at = NULL
		 WHERE status = $2 AND processed_at < $3`,
		domain.QueueStatusQueued,
		domain.QueueStatusProcessing,
		cutoff,
	)
	if err != nil {
		log.Error("failed to reset stale queue entries",
			slog.String("error", err.Error()))
		return 0, MapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, MapError(err)
	}

	if rows > 0 {
		log.Info("reset stale queue entries",
			slog.Int64("count", rows),
			slog.Duration("older_than", olderThan))
	}
	return int(rows), nil
}

// WithTx implements store.QueueStore.WithTx
func (s *PostgresQueueStore) WithTx(tx *sql.Tx) store.QueueStore {
	return &PostgresQueueStore{
		db:     tx,
		logger: s.logger,
	}
}
