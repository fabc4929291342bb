package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paidcall/backend/internal/apperr"
	"github.com/paidcall/backend/internal/models"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *Repository) db(tx pgx.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.pool
}

const paymentColumns = `id, booking_id, external_hold_id, amount_gross, platform_fee, currency, status, transfer_id, created_at, updated_at`

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(&p.ID, &p.BookingID, &p.ExternalHoldID, &p.AmountGross, &p.PlatformFee, &p.Currency, &p.Status, &p.TransferID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "payment not found")
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) GetPayment(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (*models.Payment, error) {
	return scanPayment(r.db(tx).QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id = $1`, bookingID))
}

func (r *Repository) GetPaymentByHold(ctx context.Context, holdID string) (*models.Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE external_hold_id = $1`, holdID))
}

// InsertPayment runs inside the caller's transaction. It reports false when
// a payment for the booking already exists.
func (r *Repository) InsertPayment(ctx context.Context, tx pgx.Tx, p *models.Payment) (bool, error) {
	tag, err := r.db(tx).Exec(ctx, `
		INSERT INTO payments (id, booking_id, external_hold_id, amount_gross, platform_fee, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (booking_id) DO NOTHING
	`, p.ID, p.BookingID, p.ExternalHoldID, p.AmountGross, p.PlatformFee, p.Currency, p.Status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AdvancePayment moves the payment from one status to another. It reports
// false when the payment was not in from.
func (r *Repository) AdvancePayment(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, from, to models.PaymentStatus, transferID *string) (bool, error) {
	tag, err := r.db(tx).Exec(ctx, `
		UPDATE payments SET status = $3, transfer_id = COALESCE($4, transfer_id), updated_at = now()
		WHERE booking_id = $1 AND status = $2
	`, bookingID, from, to, transferID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const payoutColumns = `id, booking_id, provider_payout_destination, amount_net, status, created_at, updated_at`

func (r *Repository) GetPayout(ctx context.Context, bookingID uuid.UUID) (*models.Payout, error) {
	var po models.Payout
	err := r.pool.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE booking_id = $1`, bookingID).
		Scan(&po.ID, &po.BookingID, &po.ProviderPayoutDestination, &po.AmountNet, &po.Status, &po.CreatedAt, &po.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "payout not found")
	}
	if err != nil {
		return nil, err
	}
	return &po, nil
}

// UpsertPendingPayout creates the payout or refreshes its destination while
// it is still pending. It reports false when an existing payout has already
// left pending.
func (r *Repository) UpsertPendingPayout(ctx context.Context, po *models.Payout) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO payouts (id, booking_id, provider_payout_destination, amount_net, status)
		VALUES ($1, $2, $3, $4, 'pending')
		ON CONFLICT (booking_id) DO UPDATE
		SET provider_payout_destination = EXCLUDED.provider_payout_destination, updated_at = now()
		WHERE payouts.status = 'pending'
	`, po.ID, po.BookingID, po.ProviderPayoutDestination, po.AmountNet)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) AdvancePayout(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, from, to models.PayoutStatus) (bool, error) {
	tag, err := r.db(tx).Exec(ctx, `
		UPDATE payouts SET status = $3, updated_at = now() WHERE booking_id = $1 AND status = $2
	`, bookingID, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// BlockPayout blocks the booking's payout whatever its status. A missing
// payout is not an error.
func (r *Repository) BlockPayout(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) error {
	_, err := r.db(tx).Exec(ctx, `
		UPDATE payouts SET status = 'blocked', updated_at = now() WHERE booking_id = $1 AND status = 'pending'
	`, bookingID)
	return err
}

// FeedbackQCStatus returns missing when no feedback has been submitted.
func (r *Repository) FeedbackQCStatus(ctx context.Context, bookingID uuid.UUID) (models.QCStatus, error) {
	var s models.QCStatus
	err := r.pool.QueryRow(ctx, `SELECT qc_status FROM feedback WHERE booking_id = $1`, bookingID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.QCMissing, nil
	}
	return s, err
}
