package postgres

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/pitchforge/deckgen-api/internal/domain"
	"github.com/pitchforge/deckgen-api/internal/store"
)

// PostgresPricingStore implements the store.PricingStore interface.
// Pricing rows are maintained out of band and read-mostly; consumers cache
// them with a short TTL.
type PostgresPricingStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresPricingStore creates a new PostgreSQL implementation of the PricingStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresPricingStore(db store.DBTX, logger *slog.Logger) *PostgresPricingStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresPricingStore{
		db:     db,
		logger: logger.With(slog.String("component", "pricing_store")),
	}
}

// Ensure PostgresPricingStore implements store.PricingStore interface
var _ store.PricingStore = (*PostgresPricingStore)(nil)

// GetByModel implements store.PricingStore.GetByModel
func (s *PostgresPricingStore) GetByModel(ctx context.Context, modelKey string) (*domain.ModelPricing, error) {
	query := `
		SELECT id, input_price_per_1m, output_price_per_1m, updated_at
		FROM model_pricing
		WHERE id = $1
	`

	var pricing domain.ModelPricing
	err := s.db.QueryRowContext(ctx, query, modelKey).Scan(
		&pricing.ID,
		&pricing.InputPricePer1MTokens,
		&pricing.OutputPricePer1MToken,
		&pricing.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrPricingNotFound
		}
		return nil, MapError(err)
	}

	return &pricing, nil
}
