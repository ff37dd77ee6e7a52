package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/pitchforge/deckgen-api/internal/domain"
	"github.com/pitchforge/deckgen-api/internal/platform/logger"
	"github.com/pitchforge/deckgen-api/internal/store"
)

// PostgresUsageStore implements the store.UsageStore interface.
//
// The request ID primary key makes event creation idempotent at the schema
// level; Claim and MarkCalculated are guarded updates so a racing
// reconciliation sweep can never double-apply a cost.
type PostgresUsageStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresUsageStore creates a new PostgreSQL implementation of the UsageStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresUsageStore(db store.DBTX, logger *slog.Logger) *PostgresUsageStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresUsageStore{
		db:     db,
		logger: logger.With(slog.String("component", "usage_store")),
	}
}

// Ensure PostgresUsageStore implements store.UsageStore interface
var _ store.UsageStore = (*PostgresUsageStore)(nil)

const usageColumns = `
	request_id, user_id, project_id, operation_key, model_key, token_kind,
	input_tokens, output_tokens, cost_status, cost, pricing_id,
	pricing_version, processing, processing_at, created_at
`

// GetByRequestID implements store.UsageStore.GetByRequestID
func (s *PostgresUsageStore) GetByRequestID(ctx context.Context, requestID string) (*domain.UsageEvent, error) {
	query := `SELECT ` + usageColumns + ` FROM usage_events WHERE request_id = $1`
	return s.scanEvent(s.db.QueryRowContext(ctx, query, requestID))
}

// Create implements store.UsageStore.Create
func (s *PostgresUsageStore) Create(ctx context.Context, event *domain.UsageEvent) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := event.Validate(); err != nil {
		return err
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO usage_events (` + usageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		event.RequestID,
		event.UserID,
		event.ProjectID,
		event.OperationKey,
		event.ModelKey,
		event.TokenKind,
		event.InputTokens,
		event.OutputTokens,
		event.CostStatus,
		event.Cost,
		event.PricingID,
		event.PricingVersion,
		event.Processing,
		event.ProcessingAt,
		event.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return store.ErrDuplicate
		}
		log.Error("failed to create usage event",
			slog.String("error", err.Error()),
			slog.String("request_id", event.RequestID))
		return MapError(err)
	}

	return nil
}

// ListPending implements store.UsageStore.ListPending
func (s *PostgresUsageStore) ListPending(ctx context.Context, staleBefore time.Time, limit int) ([]*domain.UsageEvent, error) {
	query := `
		SELECT ` + usageColumns + `
		FROM usage_events
		WHERE cost_status = $1
		  AND (processing = FALSE OR processing_at < $2)
		ORDER BY created_at
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, domain.CostStatusPending, staleBefore.UTC(), limit)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var events []*domain.UsageEvent
	for rows.Next() {
		event, err := s.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return events, nil
}

// Claim implements store.UsageStore.Claim
func (s *PostgresUsageStore) Claim(ctx context.Context, requestID string, now, staleBefore time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE usage_events
		 SET processing = TRUE, processing_at = $1
		 WHERE request_id = $2 AND cost_status = $3
		   AND (processing = FALSE OR processing_at < $4)`,
		now.UTC(),
		requestID,
		domain.CostStatusPending,
		staleBefore.UTC(),
	)
	if err != nil {
		return false, MapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, MapError(err)
	}
	return rows > 0, nil
}

// MarkCalculated implements store.UsageStore.MarkCalculated
func (s *PostgresUsageStore) MarkCalculated(
	ctx context.Context,
	requestID string,
	cost float64,
	pricingID string,
	pricingVersion time.Time,
) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx,
		`UPDATE usage_events
		 SET cost_status = $1, cost = $2, pricing_id = $3, pricing_version = $4,
		     processing = FALSE, processing_at = NULL
		 WHERE request_id = $5 AND cost_status = $6`,
		domain.CostStatusCalculated,
		cost,
		pricingID,
		pricingVersion.UTC(),
		requestID,
		domain.CostStatusPending,
	)
	if err != nil {
		log.Error("failed to mark usage event calculated",
			slog.String("error", err.Error()),
			slog.String("request_id", requestID))
		return false, MapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, MapError(err)
	}
	return rows > 0, nil
}

// ReleaseClaim implements store.UsageStore.ReleaseClaim
func (s *PostgresUsageStore) ReleaseClaim(ctx context.Context, requestID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE usage_events
		 SET processing = FALSE, processing_at = NULL
		 WHERE request_id = $1`,
		requestID,
	)
	return MapError(err)
}

// WithTx implements store.UsageStore.WithTx
func (s *PostgresUsageStore) WithTx(tx *sql.Tx) store.UsageStore {
	return &PostgresUsageStore{
		db:     tx,
		logger: s.logger,
	}
}

func (s *PostgresUsageStore) scanEvent(row rowScanner) (*domain.UsageEvent, error) {
	var event domain.UsageEvent
	var cost sql.NullFloat64
	var pricingID sql.NullString
	var pricingVersion, processingAt sql.NullTime

	err := row.Scan(
		&event.RequestID,
		&event.UserID,
		&event.ProjectID,
		&event.OperationKey,
		&event.ModelKey,
		&event.TokenKind,
		&event.InputTokens,
		&event.OutputTokens,
		&event.CostStatus,
		&cost,
		&pricingID,
		&pricingVersion,
		&event.Processing,
		&processingAt,
		&event.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, MapError(err)
	}

	if cost.Valid {
		event.Cost = cost.Float64
	}
	if pricingID.Valid {
		event.PricingID = pricingID.String
	}
	if pricingVersion.Valid {
		t := pricingVersion.Time
		event.PricingVersion = &t
	}
	if processingAt.Valid {
		t := processingAt.Time
		event.ProcessingAt = &t
	}

	return &event, nil
}
