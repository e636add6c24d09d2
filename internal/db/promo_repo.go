package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"resonate/internal/types"
)

// PromotionRepo implements billing.PromotionStore over Postgres.
type PromotionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewPromotionRepo creates a new PromotionRepo backed by the given database
// connection (pool or transaction).
func NewPromotionRepo(db DBTX, logger *slog.Logger) *PromotionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &PromotionRepo{db: db, logger: logger}
}

// GetByID returns the promotion row, or (nil, nil) when no row matches.
func (r *PromotionRepo) GetByID(ctx context.Context, id string) (*types.Promotion, error) {
	var promo types.Promotion
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, track_name, track_url, artist_name, package_tier,
		        total_cost, status, start_date, created_at, updated_at
		 FROM promotions
		 WHERE id = $1`,
		id,
	).Scan(
		&promo.ID, &promo.UserID, &promo.TrackName, &promo.TrackURL, &promo.ArtistName,
		&promo.PackageTier, &promo.TotalCost, &promo.Status, &promo.StartDate,
		&promo.CreatedAt, &promo.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan promotion", err)
	}
	return &promo, nil
}

// Insert persists a new promotion row.
func (r *PromotionRepo) Insert(ctx context.Context, promo *types.Promotion) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO promotions (
			id, user_id, track_name, track_url, artist_name, package_tier,
			total_cost, status, start_date, created_at, updated_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		promo.ID, promo.UserID, promo.TrackName, promo.TrackURL, promo.ArtistName,
		promo.PackageTier, promo.TotalCost, promo.Status, promo.StartDate,
		promo.CreatedAt, promo.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert promotion", err)
	}
	return nil
}

// Update overwrites the mutable fields of an existing row by primary key.
func (r *PromotionRepo) Update(ctx context.Context, promo *types.Promotion) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE promotions
		 SET track_name = $1,
		     track_url = $2,
		     artist_name = $3,
		     package_tier = $4,
		     total_cost = $5,
		     status = $6,
		     start_date = $7,
		     updated_at = $8
		 WHERE id = $9`,
		promo.TrackName, promo.TrackURL, promo.ArtistName, promo.PackageTier,
		promo.TotalCost, promo.Status, promo.StartDate, promo.UpdatedAt, promo.ID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update promotion", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundPromotion, "promotion row vanished during update", nil)
	}
	return nil
}
