// Package booking is the coordinator for a consultation's lifecycle. It is
// the only writer of booking status and drives the escrow ledger and the
// deferred QC and reminder jobs.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/paidcall/backend/internal/apperr"
	"github.com/paidcall/backend/internal/execution"
	"github.com/paidcall/backend/internal/ledger"
	"github.com/paidcall/backend/internal/meeting"
	"github.com/paidcall/backend/internal/models"
	"github.com/paidcall/backend/internal/notify"
	"github.com/paidcall/backend/internal/qc"
	"github.com/paidcall/backend/internal/slots"
)

// Store persists bookings and feedback. Methods taking a pgx.Tx accept nil.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, tx pgx.Tx, b *models.Booking) error
	Get(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	Save(ctx context.Context, tx pgx.Tx, b *models.Booking, from models.BookingStatus) error
	SetNeedsManualReview(ctx context.Context, id uuid.UUID, flag bool) error
	ListNeedingReview(ctx context.Context, limit int) ([]*models.Booking, error)
	GetFeedback(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (*models.Feedback, error)
	UpsertFeedback(ctx context.Context, tx pgx.Tx, fb *models.Feedback) error
	SaveVerdict(ctx context.Context, bookingID uuid.UUID, version int, v qc.Verdict, at time.Time) (bool, error)
	MarkQCFailed(ctx context.Context, bookingID uuid.UUID, reason string, at time.Time) (bool, error)
}

// Ledger is the subset of the escrow ledger the coordinator drives.
type Ledger interface {
	OpenEscrow(ctx context.Context, tx pgx.Tx, in ledger.OpenEscrowInput) (*models.Payment, error)
	Refund(ctx context.Context, bookingID uuid.UUID) error
	MarkQCPassed(ctx context.Context, bookingID uuid.UUID, destination string) (*models.Payout, error)
	BlockPayout(ctx context.Context, bookingID uuid.UUID) error
}

type ProviderDirectory interface {
	GetProvider(ctx context.Context, userID uuid.UUID) (*models.ProviderProfile, error)
}

type MeetingScheduler interface {
	CreateMeeting(ctx context.Context, topic string, start time.Time, duration time.Duration, externalRef string) (meeting.Meeting, error)
}

type Notifier interface {
	Send(ctx context.Context, msg notify.Message) error
}

// Enqueuer schedules deferred work. With a non-nil tx the job commits with
// the caller's writes.
type Enqueuer interface {
	Enqueue(ctx context.Context, tx pgx.Tx, args river.JobArgs, delay time.Duration, idempotencyKey string) error
}

type Service interface {
	RequestBooking(ctx context.Context, in RequestInput) (*models.Booking, error)
	ScheduleBooking(ctx context.Context, bookingID, actorID uuid.UUID, chosenStart time.Time) (*models.Booking, error)
	DeclineBooking(ctx context.Context, bookingID, actorID uuid.UUID) (*models.Booking, error)
	RecordJoin(ctx context.Context, bookingID, actorID uuid.UUID, joinedAt time.Time) (*models.Booking, error)
	SubmitFeedback(ctx context.Context, bookingID, providerID uuid.UUID, in FeedbackInput) (*models.Feedback, error)
	CancelBooking(ctx context.Context, bookingID, actorID uuid.UUID, reason string) (*models.Booking, error)
	OverrideQCFailed(ctx context.Context, bookingID, adminID uuid.UUID, reason string) error
	MarkRefundedExternally(ctx context.Context, bookingID uuid.UUID) error
	RunQualityCheck(ctx context.Context, bookingID uuid.UUID, version int) error
	SendNudge(ctx context.Context, bookingID uuid.UUID, version, sequence int) error
	Get(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
	GetFeedback(ctx context.Context, bookingID uuid.UUID) (*models.Feedback, error)
	ListNeedingReview(ctx context.Context, limit int) ([]*models.Booking, error)
}

type RequestInput struct {
	RequesterID   uuid.UUID
	ProviderID    uuid.UUID
	Slots         []slots.Range
	PaymentSource string
}

type FeedbackInput struct {
	Text        string
	ActionItems []string
	Ratings     models.Ratings
}

// Deps wires a coordinator. Now and Log are optional.
type Deps struct {
	Store     Store
	Ledger    Ledger
	Providers ProviderDirectory
	Meetings  MeetingScheduler
	Notifier  Notifier
	Queue     Enqueuer
	Locker    Locker
	Policy    Policy
	Now       func() time.Time
	Log       *slog.Logger
}

type service struct {
	Deps
	tracer trace.Tracer
}

// NewService returns *service so it can also serve as the QC and nudge job
// handler.
func NewService(d Deps) *service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Locker == nil {
		d.Locker = NewLocalLocker()
	}
	if len(d.Policy.NudgeOffsets) == 0 {
		d.Policy.NudgeOffsets = DefaultPolicy().NudgeOffsets
	}
	return &service{Deps: d, tracer: otel.Tracer("github.com/paidcall/backend/internal/booking")}
}

var (
	_ Service                  = (*service)(nil)
	_ execution.QualityChecker = (*service)(nil)
	_ execution.Nudger         = (*service)(nil)
)

func (s *service) start(ctx context.Context, op string, bookingID uuid.UUID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "booking."+op, trace.WithAttributes(attribute.String("booking_id", bookingID.String())))
}

// lockAndGet takes the booking's lock and loads it. The caller must call
// unlock.
func (s *service) lockAndGet(ctx context.Context, id uuid.UUID) (*models.Booking, func(), error) {
	unlock, err := s.Locker.Lock(ctx, id.String())
	if err != nil {
		return nil, nil, fmt.Errorf("lock booking %s: %w", id, err)
	}
	b, err := s.Store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return b, unlock, nil
}

// notify is fire-and-forget; failures are logged.
func (s *service) notify(ctx context.Context, msg notify.Message) {
	if s.Notifier == nil {
		return
	}
	msg.SentAt = s.Now().UTC()
	if err := s.Notifier.Send(ctx, msg); err != nil {
		s.Log.Warn("notification failed", "template", msg.Template, "booking_id", msg.BookingID, "recipient_id", msg.RecipientID, "error", err)
	}
}

func (s *service) notifyBoth(ctx context.Context, b *models.Booking, template string, data map[string]any) {
	for _, to := range []uuid.UUID{b.RequesterID, b.ProviderID} {
		s.notify(ctx, notify.Message{
			ID:          fmt.Sprintf("%s:%s:%s", b.ID, template, to),
			RecipientID: to,
			Template:    template,
			BookingID:   b.ID,
			Data:        data,
		})
	}
}

// RequestBooking creates a requested booking on the earliest valid slot and
// opens its escrow in the same transaction.
func (s *service) RequestBooking(ctx context.Context, in RequestInput) (*models.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.RequestBooking")
	defer span.End()

	if in.RequesterID == in.ProviderID {
		return nil, apperr.New(apperr.CodeForbidden, "cannot book yourself")
	}
	window, ok := slots.Earliest(in.Slots)
	if !ok {
		return nil, apperr.ErrInvalidSlots
	}
	provider, err := s.Providers.GetProvider(ctx, in.ProviderID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Wrap(apperr.CodeInvalidProvider, "unknown provider", err)
		}
		return nil, err
	}
	if provider.PriceMinorUnits == nil || *provider.PriceMinorUnits <= 0 {
		return nil, apperr.ErrInvalidProvider
	}

	b := &models.Booking{
		ID:              uuid.New(),
		RequesterID:     in.RequesterID,
		ProviderID:      in.ProviderID,
		Status:          models.BookingRequested,
		StartAt:         &window.Start,
		EndAt:           &window.End,
		Timezone:        window.Timezone,
		PriceMinorUnits: *provider.PriceMinorUnits,
	}
	span.SetAttributes(attribute.String("booking_id", b.ID.String()))

	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.Store.Create(ctx, tx, b); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}
	if _, err := s.Ledger.OpenEscrow(ctx, tx, ledger.OpenEscrowInput{
		BookingID:   b.ID,
		AmountGross: b.PriceMinorUnits,
		TakeRate:    s.Policy.TakeRate,
		Currency:    s.Policy.Currency,
		Source:      in.PaymentSource,
	}); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.Log.Info("booking requested", "booking_id", b.ID, "requester_id", b.RequesterID, "provider_id", b.ProviderID, "price", b.PriceMinorUnits)
	s.notify(ctx, notify.Message{
		RecipientID: b.ProviderID,
		Template:    notify.TemplateBookingRequested,
		BookingID:   b.ID,
		Data:        map[string]any{"start_at": window.Start, "timezone": window.Timezone},
	})
	return b, nil
}

// ScheduleBooking fixes the session time, books a meeting room and accepts
// the booking. Only the provider may schedule.
func (s *service) ScheduleBooking(ctx context.Context, bookingID, actorID uuid.UUID, chosenStart time.Time) (*models.Booking, error) {
	ctx, span := s.start(ctx, "ScheduleBooking", bookingID)
	defer span.End()

	b, unlock, err := s.lockAndGet(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if actorID != b.ProviderID {
		return nil, apperr.ErrForbidden
	}
	if b.Status != models.BookingRequested {
		return nil, apperr.Newf(apperr.CodeInvalidState, "booking %s is %s, not requested", b.ID, b.Status)
	}
	if chosenStart.IsZero() {
		return nil, apperr.New(apperr.CodeInvalidInput, "start time is required")
	}

	start := chosenStart.UTC()
	end := start.Add(s.Policy.SessionLength)
	m, err := s.Meetings.CreateMeeting(ctx, "Consultation "+b.ID.String(), start, s.Policy.SessionLength, b.ID.String())
	if err != nil {
		span.RecordError(err)
		return nil, apperr.Wrap(apperr.CodeExternal, "create meeting", err)
	}

	b.StartAt, b.EndAt = &start, &end
	b.MeetingID, b.MeetingJoinURL = &m.ID, &m.JoinURL
	b.Status = models.BookingAccepted
	if err := s.Store.Save(ctx, nil, b, models.BookingRequested); err != nil {
		return nil, err
	}

	s.Log.Info("booking scheduled", "booking_id", b.ID, "start_at", start, "meeting_id", m.ID)
	s.notifyBoth(ctx, b, notify.TemplateBookingScheduled, map[string]any{"start_at": start, "join_url": m.JoinURL})
	return b, nil
}

// DeclineBooking lets the provider turn a request down. The refund happens
// first so a failed refund leaves the booking requested for a retry.
func (s *service) DeclineBooking(ctx context.Context, bookingID, actorID uuid.UUID) (*models.Booking, error) {
	ctx, span := s.start(ctx, "DeclineBooking", bookingID)
	defer span.End()

	b, unlock, err := s.lockAndGet(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if actorID != b.ProviderID {
		return nil, apperr.ErrForbidden
	}
	if b.Status != models.BookingRequested {
		return nil, apperr.Newf(apperr.CodeInvalidState, "booking %s is %s, not requested", b.ID, b.Status)
	}
	if err := s.refund(ctx, b); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.cancel(ctx, b, actorID, "declined by provider"); err != nil {
		return nil, err
	}
	return b, nil
}

// RecordJoin stamps a participant's first join. Once both parties have
// joined an accepted booking it moves to completed_pending_feedback.
func (s *service) RecordJoin(ctx context.Context, bookingID, actorID uuid.UUID, joinedAt time.Time) (*models.Booking, error) {
	ctx, span := s.start(ctx, "RecordJoin", bookingID)
	defer span.End()

	b, unlock, err := s.lockAndGet(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !b.IsParticipant(actorID) {
		return nil, apperr.ErrForbidden
	}
	if b.Status != models.BookingAccepted && b.Status != models.BookingCompletedPendingFeedback {
		return nil, apperr.Newf(apperr.CodeInvalidState, "booking %s is %s", b.ID, b.Status)
	}
	if joinedAt.IsZero() {
		joinedAt = s.Now()
	}
	joinedAt = joinedAt.UTC()

	from := b.Status
	changed := false
	if actorID == b.RequesterID && b.RequesterJoinedAt == nil {
		b.RequesterJoinedAt = &joinedAt
		changed = true
	}
	if actorID == b.ProviderID && b.ProviderJoinedAt == nil {
		b.ProviderJoinedAt = &joinedAt
		changed = true
	}
	if b.RequesterJoinedAt != nil && b.ProviderJoinedAt != nil && b.Status == models.BookingAccepted {
		b.Status = models.BookingCompletedPendingFeedback
		changed = true
	}
	if !changed {
		return b, nil
	}
	if err := s.Store.Save(ctx, nil, b, from); err != nil {
		return nil, err
	}
	if b.Status != from {
		s.Log.Info("session attended by both parties", "booking_id", b.ID)
	}
	return b, nil
}

// SubmitFeedback stores the provider's feedback and queues its QC check.
// The first submission completes the booking; later submissions are only
// accepted while the previous version needs revision.
func (s *service) SubmitFeedback(ctx context.Context, bookingID, providerID uuid.UUID, in FeedbackInput) (*models.Feedback, error) {
	ctx, span := s.start(ctx, "SubmitFeedback", bookingID)
	defer span.End()

	b, unlock, err := s.lockAndGet(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if providerID != b.ProviderID {
		return nil, apperr.ErrForbidden
	}
	prev, err := s.Store.GetFeedback(ctx, nil, bookingID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	switch b.Status {
	case models.BookingCompletedPendingFeedback:
	case models.BookingCompleted:
		if prev == nil || prev.QCStatus != models.QCRevise {
			return nil, apperr.Newf(apperr.CodeInvalidState, "feedback for booking %s cannot be resubmitted", b.ID)
		}
	default:
		return nil, apperr.Newf(apperr.CodeInvalidState, "booking %s is %s", b.ID, b.Status)
	}

	fb := &models.Feedback{
		BookingID:   bookingID,
		Text:        in.Text,
		ActionItems: in.ActionItems,
		Ratings:     in.Ratings,
		WordCount:   qc.WordCount(in.Text),
		QCStatus:    models.QCRevise,
		QCReasons:   []string{},
		Version:     1,
		SubmittedAt: s.Now().UTC(),
	}
	if prev != nil {
		fb.Version = prev.Version + 1
	}

	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.Store.UpsertFeedback(ctx, tx, fb); err != nil {
		return nil, err
	}
	if b.Status == models.BookingCompletedPendingFeedback {
		b.Status = models.BookingCompleted
		if err := s.Store.Save(ctx, tx, b, models.BookingCompletedPendingFeedback); err != nil {
			return nil, err
		}
	}
	if err := s.Queue.Enqueue(ctx, tx, execution.QCCheckArgs{BookingID: bookingID, Version: fb.Version},
		s.Policy.QCDebounce, execution.QCKey(bookingID, fb.Version)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.Log.Info("feedback submitted", "booking_id", bookingID, "version", fb.Version, "word_count", fb.WordCount)
	return fb, nil
}

// CancelBooking applies the cancellation policy, refunds the escrow and
// cancels the booking.
func (s *service) CancelBooking(ctx context.Context, bookingID, actorID uuid.UUID, reason string) (*models.Booking, error) {
	ctx, span := s.start(ctx, "CancelBooking", bookingID)
	defer span.End()

	b, unlock, err := s.lockAndGet(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !b.IsParticipant(actorID) {
		return nil, apperr.ErrForbidden
	}
	if !CanTransition(b.Status, models.BookingCancelled) {
		return nil, apperr.Newf(apperr.CodeInvalidState, "booking %s is %s", b.ID, b.Status)
	}
	if err := s.Policy.CheckCancellation(b, actorID, s.Now()); err != nil {
		return nil, err
	}
	if err := s.refund(ctx, b); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.cancel(ctx, b, actorID, reason); err != nil {
		return nil, err
	}
	return b, nil
}

// refund returns the escrow for b. A refund that already happened is fine,
// and a draft booking has no escrow to return.
func (s *service) refund(ctx context.Context, b *models.Booking) error {
	err := s.Ledger.Refund(ctx, b.ID)
	switch {
	case err == nil:
		s.notify(ctx, notify.Message{
			RecipientID: b.RequesterID,
			Template:    notify.TemplateRefundIssued,
			BookingID:   b.ID,
			Data:        map[string]any{"amount": b.PriceMinorUnits},
		})
		return nil
	case errors.Is(err, apperr.ErrAlreadyProcessed):
		return nil
	case errors.Is(err, apperr.ErrNotFound) && b.Status == models.BookingDraft:
		return nil
	default:
		return err
	}
}

func (s *service) cancel(ctx context.Context, b *models.Booking, actorID uuid.UUID, reason string) error {
	from := b.Status
	now := s.Now().UTC()
	b.Status = models.BookingCancelled
	b.CancelledBy = &actorID
	b.CancelledAt = &now
	if reason != "" {
		b.CancellationReason = &reason
	}
	if err := s.Store.Save(ctx, nil, b, from); err != nil {
		return err
	}
	s.Log.Info("booking cancelled", "booking_id", b.ID, "cancelled_by", actorID, "from", from)
	s.notifyBoth(ctx, b, notify.TemplateBookingCancelled, map[string]any{"reason": reason})
	return nil
}

// OverrideQCFailed is the administrator's failing verdict. The feedback is
// failed without evaluation, the payout blocked and the escrow refunded. A
// refund that cannot be completed flags the booking for manual review. The
// booking status itself does not change.
func (s *service) OverrideQCFailed(ctx context.Context, bookingID, adminID uuid.UUID, reason string) error {
	ctx, span := s.start(ctx, "OverrideQCFailed", bookingID)
	defer span.End()

	b, unlock, err := s.lockAndGet(ctx, bookingID)
	if err != nil {
		return err
	}
	defer unlock()

	if reason == "" {
		reason = "failed by administrator"
	}
	found, err := s.Store.MarkQCFailed(ctx, bookingID, reason, s.Now().UTC())
	if err != nil {
		return err
	}
	if !found {
		return apperr.Newf(apperr.CodeInvalidState, "booking %s has no feedback", bookingID)
	}
	if err := s.Ledger.BlockPayout(ctx, bookingID); err != nil {
		return s.flagForReview(ctx, b, adminID, fmt.Errorf("block payout: %w", err))
	}
	if err := s.Ledger.Refund(ctx, bookingID); err != nil && !errors.Is(err, apperr.ErrAlreadyProcessed) {
		span.RecordError(err)
		return s.flagForReview(ctx, b, adminID, err)
	}

	s.Log.Info("qc failed by administrator", "booking_id", bookingID, "admin_id", adminID, "reason", reason)
	s.notify(ctx, notify.Message{
		RecipientID: b.RequesterID,
		Template:    notify.TemplateRefundIssued,
		BookingID:   b.ID,
		Data:        map[string]any{"amount": b.PriceMinorUnits},
	})
	return nil
}

func (s *service) flagForReview(ctx context.Context, b *models.Booking, adminID uuid.UUID, cause error) error {
	if err := s.Store.SetNeedsManualReview(ctx, b.ID, true); err != nil {
		s.Log.Error("could not flag booking for manual review", "booking_id", b.ID, "error", err, "cause", cause)
		return errors.Join(cause, err)
	}
	b.NeedsManualReview = true
	s.Log.Error("qc override incomplete, booking flagged for manual review", "booking_id", b.ID, "admin_id", adminID, "error", cause)
	if apperr.CodeOf(cause) == "" {
		return apperr.Wrap(apperr.CodeExternal, "qc override incomplete, flagged for manual review", cause)
	}
	return cause
}

// MarkRefundedExternally records a refund made outside the coordinator,
// reported by the payment provider. Terminal bookings are left as they are.
func (s *service) MarkRefundedExternally(ctx context.Context, bookingID uuid.UUID) error {
	ctx, span := s.start(ctx, "MarkRefundedExternally", bookingID)
	defer span.End()

	b, unlock, err := s.lockAndGet(ctx, bookingID)
	if err != nil {
		return err
	}
	defer unlock()

	if !CanTransition(b.Status, models.BookingRefunded) {
		s.Log.Info("external refund on settled booking, status kept", "booking_id", b.ID, "status", b.Status)
		return nil
	}
	from := b.Status
	b.Status = models.BookingRefunded
	if err := s.Store.Save(ctx, nil, b, from); err != nil {
		return err
	}
	s.Log.Info("booking refunded by provider event", "booking_id", b.ID, "from", from)
	if err := s.Ledger.BlockPayout(ctx, b.ID); err != nil {
		s.Log.Warn("block payout after external refund", "booking_id", b.ID, "error", err)
	}
	s.notify(ctx, notify.Message{
		RecipientID: b.RequesterID,
		Template:    notify.TemplateRefundIssued,
		BookingID:   b.ID,
		Data:        map[string]any{"amount": b.PriceMinorUnits},
	})
	return nil
}

// RunQualityCheck evaluates one feedback version. A stale version or an
// administrator's failed verdict makes it a no-op. A pass opens the payout
// and queues its release; a revise notifies the provider and schedules the
// reminders.
func (s *service) RunQualityCheck(ctx context.Context, bookingID uuid.UUID, version int) error {
	ctx, span := s.start(ctx, "RunQualityCheck", bookingID)
	defer span.End()
	span.SetAttributes(attribute.Int("version", version))

	fb, err := s.Store.GetFeedback(ctx, nil, bookingID)
	if err != nil {
		return err
	}
	if fb.Version != version || fb.QCStatus == models.QCFailed {
		s.Log.Info("qc check skipped", "booking_id", bookingID, "version", version, "current_version", fb.Version, "qc_status", fb.QCStatus)
		return nil
	}

	verdict := qc.Evaluate(fb.Text, fb.ActionItems, fb.Ratings)
	evaluatedAt := s.Now().UTC()
	saved, err := s.Store.SaveVerdict(ctx, bookingID, version, verdict, evaluatedAt)
	if err != nil {
		return err
	}
	if !saved {
		return nil
	}
	s.Log.Info("qc evaluated", "booking_id", bookingID, "version", version, "qc_status", verdict.Status, "reasons", verdict.Reasons)

	b, err := s.Store.Get(ctx, bookingID)
	if err != nil {
		return err
	}

	if verdict.Status == models.QCPassed {
		provider, err := s.Providers.GetProvider(ctx, b.ProviderID)
		if err != nil {
			return err
		}
		if _, err := s.Ledger.MarkQCPassed(ctx, bookingID, provider.PayoutDestination); err != nil && !errors.Is(err, apperr.ErrAlreadyProcessed) {
			return err
		}
		return s.Queue.Enqueue(ctx, nil, execution.PayoutReleaseArgs{BookingID: bookingID}, 0, execution.PayoutKey(bookingID))
	}

	s.notify(ctx, notify.Message{
		ID:          fmt.Sprintf("%s:%s:%d", bookingID, notify.TemplateFeedbackRevision, version),
		RecipientID: b.ProviderID,
		Template:    notify.TemplateFeedbackRevision,
		BookingID:   bookingID,
		Data:        map[string]any{"version": version, "reasons": verdict.Reasons},
	})
	for i, offset := range s.Policy.NudgeOffsets {
		seq := i + 1
		err := s.Queue.Enqueue(ctx, nil, execution.NudgeArgs{BookingID: bookingID, Version: version, Sequence: seq},
			offset, execution.NudgeKey(bookingID, version, seq))
		if err != nil {
			return err
		}
	}
	return nil
}

// SendNudge reminds the provider to revise. It does nothing once the
// version has been superseded or no longer needs revision.
func (s *service) SendNudge(ctx context.Context, bookingID uuid.UUID, version, sequence int) error {
	fb, err := s.Store.GetFeedback(ctx, nil, bookingID)
	if err != nil {
		return err
	}
	if fb.Version != version || fb.QCStatus != models.QCRevise || fb.EvaluatedAt == nil {
		return nil
	}
	b, err := s.Store.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.Status != models.BookingCompleted {
		return nil
	}
	if s.Notifier == nil {
		s.Log.Warn("no notifier configured, nudge dropped", "booking_id", bookingID, "version", version, "sequence", sequence)
		return nil
	}
	// Returned so the queue retries; the message id lets the mailer drop a
	// repeat.
	return s.Notifier.Send(ctx, notify.Message{
		ID:          execution.NudgeKey(bookingID, version, sequence),
		RecipientID: b.ProviderID,
		Template:    notify.TemplateRevisionNudge,
		BookingID:   bookingID,
		Data:        map[string]any{"version": version, "sequence": sequence, "reasons": fb.QCReasons},
		SentAt:      s.Now().UTC(),
	})
}

func (s *service) Get(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	return s.Store.Get(ctx, bookingID)
}

func (s *service) GetFeedback(ctx context.Context, bookingID uuid.UUID) (*models.Feedback, error) {
	return s.Store.GetFeedback(ctx, nil, bookingID)
}

func (s *service) ListNeedingReview(ctx context.Context, limit int) ([]*models.Booking, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.Store.ListNeedingReview(ctx, limit)
}
