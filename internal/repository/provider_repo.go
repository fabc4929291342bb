package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paidcall/backend/internal/apperr"
	"github.com/paidcall/backend/internal/models"
)

// ProviderRepo reads provider profiles. Profiles are written by the
// marketplace service; this side only needs price and payout destination.
type ProviderRepo struct {
	pool *pgxpool.Pool
}

func NewProviderRepo(pool *pgxpool.Pool) *ProviderRepo {
	return &ProviderRepo{pool: pool}
}

// GetProvider returns a NotFound error when the user has no provider profile.
func (r *ProviderRepo) GetProvider(ctx context.Context, userID uuid.UUID) (*models.ProviderProfile, error) {
	var p models.ProviderProfile
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, display_name, price_minor_units, payout_destination
		FROM provider_profiles WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.DisplayName, &p.PriceMinorUnits, &p.PayoutDestination)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.CodeNotFound, "provider %s not found", userID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
