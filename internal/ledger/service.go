// Package ledger owns escrow payments and provider payouts. Payment status
// only moves held->released or held->refunded and payout status only moves
// pending->releasing->paid or pending->blocked, so every write is
// conditional on the prior status and replays are harmless. A payout is
// claimed as releasing before its transfer is sent; a refund blocks the
// payout before its refund is sent. Whichever claim lands first wins.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/paidcall/backend/internal/apperr"
	"github.com/paidcall/backend/internal/models"
	"github.com/paidcall/backend/internal/payments"
)

// Store persists payments and payouts. Methods taking a pgx.Tx accept nil to
// run outside a transaction.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetPayment(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (*models.Payment, error)
	GetPaymentByHold(ctx context.Context, holdID string) (*models.Payment, error)
	InsertPayment(ctx context.Context, tx pgx.Tx, p *models.Payment) (bool, error)
	AdvancePayment(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, from, to models.PaymentStatus, transferID *string) (bool, error)
	GetPayout(ctx context.Context, bookingID uuid.UUID) (*models.Payout, error)
	UpsertPendingPayout(ctx context.Context, po *models.Payout) (bool, error)
	AdvancePayout(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, from, to models.PayoutStatus) (bool, error)
	BlockPayout(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) error
	FeedbackQCStatus(ctx context.Context, bookingID uuid.UUID) (models.QCStatus, error)
}

// Gateway is the payment collaborator.
type Gateway interface {
	CreateHold(ctx context.Context, req payments.HoldRequest) (string, error)
	Refund(ctx context.Context, holdID string, amount int64) error
	Transfer(ctx context.Context, req payments.TransferRequest) (string, error)
	FindTransfer(ctx context.Context, idempotencyKey string) (string, bool, error)
}

type Service interface {
	OpenEscrow(ctx context.Context, tx pgx.Tx, in OpenEscrowInput) (*models.Payment, error)
	Refund(ctx context.Context, bookingID uuid.UUID) error
	MarkQCPassed(ctx context.Context, bookingID uuid.UUID, destination string) (*models.Payout, error)
	ReleasePayout(ctx context.Context, bookingID uuid.UUID) error
	ReleaseEscrow(ctx context.Context, bookingID uuid.UUID, transferID string) error
	BlockPayout(ctx context.Context, bookingID uuid.UUID) error
	ReconcileFromWebhook(ctx context.Context, externalHoldID, externalStatus string) (*Reconciliation, error)
	Payment(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error)
	Payout(ctx context.Context, bookingID uuid.UUID) (*models.Payout, error)
}

type OpenEscrowInput struct {
	BookingID   uuid.UUID
	AmountGross int64
	TakeRate    float64
	Currency    string
	Source      string
}

// Reconciliation reports the payment after a webhook was applied and
// whether this call moved it.
type Reconciliation struct {
	Payment *models.Payment
	Changed bool
}

type service struct {
	store   Store
	gateway Gateway
	log     *slog.Logger
	tracer  trace.Tracer
}

func NewService(store Store, gateway Gateway, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{
		store:   store,
		gateway: gateway,
		log:     log,
		tracer:  otel.Tracer("github.com/paidcall/backend/internal/ledger"),
	}
}

var _ Service = (*service)(nil)

// PlatformFee is round(gross * rate), clamped to [0, gross].
func PlatformFee(gross int64, rate float64) int64 {
	fee := int64(math.Round(float64(gross) * rate))
	if fee < 0 {
		return 0
	}
	if fee > gross {
		return gross
	}
	return fee
}

// OpenEscrow runs inside the caller's transaction. It is idempotent by
// booking: an existing payment is returned unchanged.
func (s *service) OpenEscrow(ctx context.Context, tx pgx.Tx, in OpenEscrowInput) (*models.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.OpenEscrow", trace.WithAttributes(attribute.String("booking_id", in.BookingID.String())))
	defer span.End()

	if in.AmountGross <= 0 {
		return nil, apperr.Newf(apperr.CodeInvalidInput, "amount must be positive, got %d", in.AmountGross)
	}
	existing, err := s.store.GetPayment(ctx, tx, in.BookingID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	holdID, err := s.gateway.CreateHold(ctx, payments.HoldRequest{
		BookingID:      in.BookingID,
		Amount:         in.AmountGross,
		Currency:       in.Currency,
		Source:         in.Source,
		IdempotencyKey: payments.HoldKey(in.BookingID),
	})
	if err != nil {
		span.RecordError(err)
		return nil, apperr.Wrap(apperr.CodeExternal, "create escrow hold", err)
	}

	p := &models.Payment{
		ID:             uuid.New(),
		BookingID:      in.BookingID,
		ExternalHoldID: holdID,
		AmountGross:    in.AmountGross,
		PlatformFee:    PlatformFee(in.AmountGross, in.TakeRate),
		Currency:       in.Currency,
		Status:         models.PaymentHeld,
	}
	inserted, err := s.store.InsertPayment(ctx, tx, p)
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	if !inserted {
		return s.store.GetPayment(ctx, tx, in.BookingID)
	}
	s.log.Info("escrow opened", "booking_id", in.BookingID, "hold_id", holdID, "amount_gross", p.AmountGross, "platform_fee", p.PlatformFee)
	return p, nil
}

// Refund returns the hold to the requester. The payout is blocked first, so
// a release that has not been claimed yet can no longer start; a payout
// already being released makes the refund fail instead.
func (s *service) Refund(ctx context.Context, bookingID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "ledger.Refund", trace.WithAttributes(attribute.String("booking_id", bookingID.String())))
	defer span.End()

	p, err := s.store.GetPayment(ctx, nil, bookingID)
	if err != nil {
		return err
	}
	switch p.Status {
	case models.PaymentRefunded:
		return apperr.ErrAlreadyProcessed
	case models.PaymentReleased:
		return apperr.Newf(apperr.CodeInvalidState, "payment for booking %s already released", bookingID)
	}

	if err := s.store.BlockPayout(ctx, nil, bookingID); err != nil {
		return fmt.Errorf("block payout: %w", err)
	}
	po, err := s.store.GetPayout(ctx, bookingID)
	switch {
	case err == nil && (po.Status == models.PayoutReleasing || po.Status == models.PayoutPaid):
		return apperr.Newf(apperr.CodeInvalidState, "payout for booking %s is %s", bookingID, po.Status)
	case err != nil && !errors.Is(err, apperr.ErrNotFound):
		return err
	}

	if err := s.gateway.Refund(ctx, p.ExternalHoldID, p.AmountGross); err != nil {
		span.RecordError(err)
		return apperr.Wrap(apperr.CodeExternal, "refund escrow hold", err)
	}
	if _, err := s.applyRefund(ctx, p); err != nil {
		return err
	}
	s.log.Info("escrow refunded", "booking_id", bookingID, "hold_id", p.ExternalHoldID)
	return nil
}

// applyRefund records a refund the provider has confirmed. It reports
// whether this call moved the payment.
func (s *service) applyRefund(ctx context.Context, p *models.Payment) (bool, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	moved, err := s.store.AdvancePayment(ctx, tx, p.BookingID, models.PaymentHeld, models.PaymentRefunded, nil)
	if err != nil {
		return false, err
	}
	if !moved {
		current, err := s.store.GetPayment(ctx, tx, p.BookingID)
		if err != nil {
			return false, err
		}
		if current.Status != models.PaymentRefunded {
			return false, apperr.Newf(apperr.CodeInvalidState, "payment for booking %s is %s", p.BookingID, current.Status)
		}
	}
	if err := s.store.BlockPayout(ctx, tx, p.BookingID); err != nil {
		return false, err
	}
	return moved, tx.Commit(ctx)
}

// MarkQCPassed creates or refreshes the pending payout for the booking.
func (s *service) MarkQCPassed(ctx context.Context, bookingID uuid.UUID, destination string) (*models.Payout, error) {
	p, err := s.store.GetPayment(ctx, nil, bookingID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PaymentHeld {
		return nil, apperr.Newf(apperr.CodeInvalidState, "payment for booking %s is %s", bookingID, p.Status)
	}
	qc, err := s.store.FeedbackQCStatus(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if qc != models.QCPassed {
		return nil, apperr.Newf(apperr.CodeInvalidState, "feedback for booking %s is %s", bookingID, qc)
	}

	ok, err := s.store.UpsertPendingPayout(ctx, &models.Payout{
		ID:                        uuid.New(),
		BookingID:                 bookingID,
		ProviderPayoutDestination: destination,
		AmountNet:                 p.AmountNet(),
		Status:                    models.PayoutPending,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert payout: %w", err)
	}
	po, err := s.store.GetPayout(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if po.Status == models.PayoutPaid || po.Status == models.PayoutReleasing {
			return po, apperr.ErrAlreadyProcessed
		}
		return po, apperr.Newf(apperr.CodeInvalidState, "payout for booking %s is %s", bookingID, po.Status)
	}
	return po, nil
}

// ReleasePayout is the release step. The payout is claimed as releasing
// before the transfer is sent. A payout found releasing belongs to an
// earlier attempt whose transfer may have gone out, so the provider is
// asked for it before a new transfer is created.
func (s *service) ReleasePayout(ctx context.Context, bookingID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "ledger.ReleasePayout", trace.WithAttributes(attribute.String("booking_id", bookingID.String())))
	defer span.End()

	p, err := s.store.GetPayment(ctx, nil, bookingID)
	if err != nil {
		return err
	}
	po, err := s.store.GetPayout(ctx, bookingID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Newf(apperr.CodeInvalidState, "booking %s has no payout", bookingID)
		}
		return err
	}
	if p.Status == models.PaymentReleased && po.Status == models.PayoutPaid {
		return apperr.ErrAlreadyProcessed
	}
	if p.Status != models.PaymentHeld {
		return apperr.Newf(apperr.CodeInvalidState, "cannot release: payment %s, payout %s", p.Status, po.Status)
	}

	key := payments.TransferKey(bookingID)
	resumed := po.Status == models.PayoutReleasing
	if !resumed {
		claimed, err := s.store.AdvancePayout(ctx, nil, bookingID, models.PayoutPending, models.PayoutReleasing)
		if err != nil {
			return fmt.Errorf("claim payout: %w", err)
		}
		if !claimed {
			return apperr.Newf(apperr.CodeInvalidState, "cannot release: payout for booking %s is no longer pending", bookingID)
		}
	}

	var transferID string
	if resumed {
		id, found, err := s.gateway.FindTransfer(ctx, key)
		if err != nil {
			span.RecordError(err)
			return apperr.Wrap(apperr.CodeExternal, "look up transfer", err)
		}
		if found {
			s.log.Info("transfer from earlier attempt found", "booking_id", bookingID, "transfer_id", id)
			transferID = id
		}
	}
	if transferID == "" {
		transferID, err = s.gateway.Transfer(ctx, payments.TransferRequest{
			BookingID:      bookingID,
			Amount:         po.AmountNet,
			Destination:    po.ProviderPayoutDestination,
			SourceHoldID:   p.ExternalHoldID,
			IdempotencyKey: key,
		})
		if err != nil {
			span.RecordError(err)
			if errors.Is(err, payments.ErrRejected) {
				// Nothing was sent; hand the payout back so a refund can block it.
				if _, uerr := s.store.AdvancePayout(ctx, nil, bookingID, models.PayoutReleasing, models.PayoutPending); uerr != nil {
					s.log.Error("could not return rejected payout to pending", "booking_id", bookingID, "error", uerr)
				}
			}
			return apperr.Wrap(apperr.CodeExternal, "transfer payout", err)
		}
	}
	return s.ReleaseEscrow(ctx, bookingID, transferID)
}

// ReleaseEscrow records a confirmed transfer: payment released, payout paid.
func (s *service) ReleaseEscrow(ctx context.Context, bookingID uuid.UUID, transferID string) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	moved, err := s.store.AdvancePayment(ctx, tx, bookingID, models.PaymentHeld, models.PaymentReleased, &transferID)
	if err != nil {
		return err
	}
	if !moved {
		current, err := s.store.GetPayment(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if current.Status == models.PaymentReleased {
			return apperr.ErrAlreadyProcessed
		}
		return apperr.Newf(apperr.CodeInvalidState, "payment for booking %s is %s", bookingID, current.Status)
	}
	paid, err := s.markPaid(ctx, tx, bookingID)
	if err != nil {
		return err
	}
	if !paid {
		return apperr.Newf(apperr.CodeInvalidState, "payout for booking %s is not pending or releasing", bookingID)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.log.Info("escrow released", "booking_id", bookingID, "transfer_id", transferID)
	return nil
}

// markPaid moves the payout to paid from releasing or, when the release
// was not started here, from pending.
func (s *service) markPaid(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (bool, error) {
	paid, err := s.store.AdvancePayout(ctx, tx, bookingID, models.PayoutReleasing, models.PayoutPaid)
	if err != nil || paid {
		return paid, err
	}
	return s.store.AdvancePayout(ctx, tx, bookingID, models.PayoutPending, models.PayoutPaid)
}

func (s *service) BlockPayout(ctx context.Context, bookingID uuid.UUID) error {
	return s.store.BlockPayout(ctx, nil, bookingID)
}

// ReconcileFromWebhook applies a provider-reported status. Only forward
// moves out of held are applied; a status the payment already has is a
// no-op.
func (s *service) ReconcileFromWebhook(ctx context.Context, externalHoldID, externalStatus string) (*Reconciliation, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.ReconcileFromWebhook", trace.WithAttributes(attribute.String("hold_id", externalHoldID)))
	defer span.End()

	target := models.PaymentStatus(externalStatus)
	switch target {
	case models.PaymentHeld, models.PaymentReleased, models.PaymentRefunded:
	default:
		return nil, apperr.Newf(apperr.CodeInvalidInput, "unknown payment status %q", externalStatus)
	}

	p, err := s.store.GetPaymentByHold(ctx, externalHoldID)
	if err != nil {
		return nil, err
	}
	if p.Status == target {
		return &Reconciliation{Payment: p}, nil
	}
	if p.Status != models.PaymentHeld {
		return &Reconciliation{Payment: p}, apperr.Newf(apperr.CodeInvalidState, "payment %s is %s, ignoring %s", p.ID, p.Status, target)
	}

	var moved bool
	switch target {
	case models.PaymentRefunded:
		moved, err = s.applyRefund(ctx, p)
	case models.PaymentReleased:
		moved, err = s.applyRelease(ctx, p)
	}
	if err != nil {
		return nil, err
	}
	current, err := s.store.GetPayment(ctx, nil, p.BookingID)
	if err != nil {
		return nil, err
	}
	return &Reconciliation{Payment: current, Changed: moved}, nil
}

func (s *service) applyRelease(ctx context.Context, p *models.Payment) (bool, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)
	moved, err := s.store.AdvancePayment(ctx, tx, p.BookingID, models.PaymentHeld, models.PaymentReleased, nil)
	if err != nil {
		return false, err
	}
	if moved {
		if _, err := s.markPaid(ctx, tx, p.BookingID); err != nil {
			return false, err
		}
	}
	return moved, tx.Commit(ctx)
}

func (s *service) Payment(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	return s.store.GetPayment(ctx, nil, bookingID)
}

func (s *service) Payout(ctx context.Context, bookingID uuid.UUID) (*models.Payout, error) {
	return s.store.GetPayout(ctx, bookingID)
}
