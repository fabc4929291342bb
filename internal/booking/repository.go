package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paidcall/backend/internal/apperr"
	"github.com/paidcall/backend/internal/models"
	"github.com/paidcall/backend/internal/qc"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
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

const bookingColumns = `id, requester_id, provider_id, status, start_at, end_at, timezone, price_minor_units,
	meeting_id, meeting_join_url, requester_joined_at, provider_joined_at,
	cancelled_by, cancelled_at, cancellation_reason, needs_manual_review, created_at, updated_at`

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(&b.ID, &b.RequesterID, &b.ProviderID, &b.Status, &b.StartAt, &b.EndAt, &b.Timezone, &b.PriceMinorUnits,
		&b.MeetingID, &b.MeetingJoinURL, &b.RequesterJoinedAt, &b.ProviderJoinedAt,
		&b.CancelledBy, &b.CancelledAt, &b.CancellationReason, &b.NeedsManualReview, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "booking not found")
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) Create(ctx context.Context, tx pgx.Tx, b *models.Booking) error {
	row := r.db(tx).QueryRow(ctx, `
		INSERT INTO bookings (id, requester_id, provider_id, status, start_at, end_at, timezone, price_minor_units)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, b.ID, b.RequesterID, b.ProviderID, b.Status, b.StartAt, b.EndAt, b.Timezone, b.PriceMinorUnits)
	return row.Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return scanBooking(r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
}

// Save writes the mutable fields of b, provided the stored status is still
// from. Another writer having moved the booking first yields InvalidState.
func (r *Repository) Save(ctx context.Context, tx pgx.Tx, b *models.Booking, from models.BookingStatus) error {
	tag, err := r.db(tx).Exec(ctx, `
		UPDATE bookings SET
			status = $3, start_at = $4, end_at = $5, meeting_id = $6, meeting_join_url = $7,
			requester_joined_at = $8, provider_joined_at = $9,
			cancelled_by = $10, cancelled_at = $11, cancellation_reason = $12, updated_at = now()
		WHERE id = $1 AND status = $2
	`, b.ID, from, b.Status, b.StartAt, b.EndAt, b.MeetingID, b.MeetingJoinURL,
		b.RequesterJoinedAt, b.ProviderJoinedAt, b.CancelledBy, b.CancelledAt, b.CancellationReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.CodeInvalidState, "booking %s is no longer %s", b.ID, from)
	}
	return nil
}

func (r *Repository) SetNeedsManualReview(ctx context.Context, id uuid.UUID, flag bool) error {
	_, err := r.pool.Exec(ctx, `UPDATE bookings SET needs_manual_review = $2, updated_at = now() WHERE id = $1`, id, flag)
	return err
}

func (r *Repository) ListNeedingReview(ctx context.Context, limit int) ([]*models.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE needs_manual_review ORDER BY updated_at LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

const feedbackColumns = `booking_id, text, action_items, rating_clarity, rating_depth, rating_actionability,
	word_count, qc_status, qc_reasons, version, submitted_at, evaluated_at`

func (r *Repository) GetFeedback(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (*models.Feedback, error) {
	var fb models.Feedback
	err := r.db(tx).QueryRow(ctx, `SELECT `+feedbackColumns+` FROM feedback WHERE booking_id = $1`, bookingID).
		Scan(&fb.BookingID, &fb.Text, &fb.ActionItems, &fb.Ratings.Clarity, &fb.Ratings.Depth, &fb.Ratings.Actionability,
			&fb.WordCount, &fb.QCStatus, &fb.QCReasons, &fb.Version, &fb.SubmittedAt, &fb.EvaluatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "feedback not found")
	}
	if err != nil {
		return nil, err
	}
	return &fb, nil
}

// UpsertFeedback stores a submission. The row's version must be fb.Version-1
// for an update to apply; a concurrent resubmission yields InvalidState.
func (r *Repository) UpsertFeedback(ctx context.Context, tx pgx.Tx, fb *models.Feedback) error {
	tag, err := r.db(tx).Exec(ctx, `
		INSERT INTO feedback (booking_id, text, action_items, rating_clarity, rating_depth, rating_actionability,
			word_count, qc_status, qc_reasons, version, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (booking_id) DO UPDATE SET
			text = EXCLUDED.text, action_items = EXCLUDED.action_items,
			rating_clarity = EXCLUDED.rating_clarity, rating_depth = EXCLUDED.rating_depth,
			rating_actionability = EXCLUDED.rating_actionability, word_count = EXCLUDED.word_count,
			qc_status = EXCLUDED.qc_status, qc_reasons = EXCLUDED.qc_reasons, version = EXCLUDED.version,
			submitted_at = EXCLUDED.submitted_at, evaluated_at = NULL
		WHERE feedback.version = EXCLUDED.version - 1 AND feedback.qc_status = 'revise'
	`, fb.BookingID, fb.Text, fb.ActionItems, fb.Ratings.Clarity, fb.Ratings.Depth, fb.Ratings.Actionability,
		fb.WordCount, fb.QCStatus, fb.QCReasons, fb.Version, fb.SubmittedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.CodeInvalidState, "feedback for booking %s changed concurrently", fb.BookingID)
	}
	return nil
}

// SaveVerdict records the evaluator's verdict for version. It reports false
// when a newer version exists or an administrator already failed the
// feedback.
func (r *Repository) SaveVerdict(ctx context.Context, bookingID uuid.UUID, version int, v qc.Verdict, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE feedback SET qc_status = $3, qc_reasons = $4, word_count = $5, evaluated_at = $6
		WHERE booking_id = $1 AND version = $2 AND qc_status <> 'failed'
	`, bookingID, version, v.Status, v.Reasons, v.WordCount, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkQCFailed forces the feedback to failed. It reports false when no
// feedback exists.
func (r *Repository) MarkQCFailed(ctx context.Context, bookingID uuid.UUID, reason string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE feedback SET qc_status = 'failed', qc_reasons = ARRAY[$2::text], evaluated_at = $3
		WHERE booking_id = $1
	`, bookingID, reason, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
