package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/paidcall/backend/internal/apperr"
)

// QualityChecker is the booking side of a qc_check job.
type QualityChecker interface {
	RunQualityCheck(ctx context.Context, bookingID uuid.UUID, version int) error
}

// Nudger is the booking side of a feedback_nudge job.
type Nudger interface {
	SendNudge(ctx context.Context, bookingID uuid.UUID, version, sequence int) error
}

// PayoutReleaser is the ledger side of a payout_release job.
type PayoutReleaser interface {
	ReleasePayout(ctx context.Context, bookingID uuid.UUID) error
}

const (
	baseRetryDelay = 15 * time.Second
	maxRetryDelay  = time.Hour
)

// retryAt backs off exponentially from the attempt that just failed.
func retryAt(now time.Time, attempt int) time.Time {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(baseRetryDelay) * math.Pow(2, float64(attempt-1)))
	if d <= 0 || d > maxRetryDelay {
		d = maxRetryDelay
	}
	return now.Add(d)
}

// classify turns a handler result into what River should do with the job.
// Idempotent repeats succeed, precondition failures are final, anything else
// is retried.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperr.ErrAlreadyProcessed):
		return nil
	case errors.Is(err, apperr.ErrInvalidState),
		errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, apperr.ErrForbidden),
		errors.Is(err, apperr.ErrInvalidInput):
		return river.JobCancel(err)
	default:
		return err
	}
}

type QCCheckWorker struct {
	river.WorkerDefaults[QCCheckArgs]
	checker QualityChecker
}

func NewQCCheckWorker(c QualityChecker) *QCCheckWorker {
	return &QCCheckWorker{checker: c}
}

func (w *QCCheckWorker) Work(ctx context.Context, job *river.Job[QCCheckArgs]) error {
	err := w.checker.RunQualityCheck(ctx, job.Args.BookingID, job.Args.Version)
	if err != nil {
		return classify(fmt.Errorf("qc check %s v%d: %w", job.Args.BookingID, job.Args.Version, err))
	}
	return nil
}

func (w *QCCheckWorker) NextRetry(job *river.Job[QCCheckArgs]) time.Time {
	return retryAt(time.Now(), job.Attempt)
}

func (w *QCCheckWorker) Timeout(*river.Job[QCCheckArgs]) time.Duration { return time.Minute }

type NudgeWorker struct {
	river.WorkerDefaults[NudgeArgs]
	nudger Nudger
}

func NewNudgeWorker(n Nudger) *NudgeWorker {
	return &NudgeWorker{nudger: n}
}

func (w *NudgeWorker) Work(ctx context.Context, job *river.Job[NudgeArgs]) error {
	a := job.Args
	if err := w.nudger.SendNudge(ctx, a.BookingID, a.Version, a.Sequence); err != nil {
		return classify(fmt.Errorf("nudge %s v%d #%d: %w", a.BookingID, a.Version, a.Sequence, err))
	}
	return nil
}

func (w *NudgeWorker) NextRetry(job *river.Job[NudgeArgs]) time.Time {
	return retryAt(time.Now(), job.Attempt)
}

type PayoutReleaseWorker struct {
	river.WorkerDefaults[PayoutReleaseArgs]
	releaser PayoutReleaser
}

func NewPayoutReleaseWorker(r PayoutReleaser) *PayoutReleaseWorker {
	return &PayoutReleaseWorker{releaser: r}
}

func (w *PayoutReleaseWorker) Work(ctx context.Context, job *river.Job[PayoutReleaseArgs]) error {
	if err := w.releaser.ReleasePayout(ctx, job.Args.BookingID); err != nil {
		return classify(fmt.Errorf("release payout %s: %w", job.Args.BookingID, err))
	}
	return nil
}

func (w *PayoutReleaseWorker) NextRetry(job *river.Job[PayoutReleaseArgs]) time.Time {
	return retryAt(time.Now(), job.Attempt)
}

// ErrorHandler logs every failed attempt and flags jobs that have used
// their last attempt so an operator can inspect them.
type ErrorHandler struct {
	Log *slog.Logger
}

func (h *ErrorHandler) logger() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}

func (h *ErrorHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	attrs := []any{"job_id", job.ID, "kind", job.Kind, "queue", job.Queue, "attempt", job.Attempt, "max_attempts", job.MaxAttempts, "error", err}
	if job.Attempt >= job.MaxAttempts {
		h.logger().ErrorContext(ctx, "job exhausted retries, needs operator attention", attrs...)
		return nil
	}
	h.logger().WarnContext(ctx, "job attempt failed", attrs...)
	return nil
}

func (h *ErrorHandler) HandlePanic(ctx context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	h.logger().ErrorContext(ctx, "job panicked", "job_id", job.ID, "kind", job.Kind, "attempt", job.Attempt, "panic", fmt.Sprint(panicVal), "trace", trace)
	return nil
}

var _ river.ErrorHandler = (*ErrorHandler)(nil)
