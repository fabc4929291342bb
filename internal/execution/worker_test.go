package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/paidcall/backend/internal/apperr"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type recordingHandler struct {
	mu      sync.Mutex
	qcCalls []QCCheckArgs
	nudges  []NudgeArgs
	payouts []uuid.UUID
	err     error
}

func (r *recordingHandler) RunQualityCheck(_ context.Context, id uuid.UUID, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.qcCalls = append(r.qcCalls, QCCheckArgs{BookingID: id, Version: version})
	return r.err
}

func (r *recordingHandler) SendNudge(_ context.Context, id uuid.UUID, version, seq int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nudges = append(r.nudges, NudgeArgs{BookingID: id, Version: version, Sequence: seq})
	return r.err
}

func (r *recordingHandler) ReleasePayout(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payouts = append(r.payouts, id)
	return r.err
}

func jobOf[T river.JobArgs](args T, attempt int) *river.Job[T] {
	return &river.Job[T]{JobRow: &rivertype.JobRow{ID: 1, Attempt: attempt, MaxAttempts: 8}, Args: args}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestWorkersDelegate(t *testing.T) {
	h := &recordingHandler{}
	id := uuid.New()
	ctx := context.Background()

	if err := NewQCCheckWorker(h).Work(ctx, jobOf(QCCheckArgs{BookingID: id, Version: 2}, 1)); err != nil {
		t.Fatalf("qc work: %v", err)
	}
	if err := NewNudgeWorker(h).Work(ctx, jobOf(NudgeArgs{BookingID: id, Version: 2, Sequence: 3}, 1)); err != nil {
		t.Fatalf("nudge work: %v", err)
	}
	if err := NewPayoutReleaseWorker(h).Work(ctx, jobOf(PayoutReleaseArgs{BookingID: id}, 1)); err != nil {
		t.Fatalf("payout work: %v", err)
	}

	if len(h.qcCalls) != 1 || h.qcCalls[0].Version != 2 {
		t.Errorf("qc calls: got %+v", h.qcCalls)
	}
	if len(h.nudges) != 1 || h.nudges[0].Sequence != 3 {
		t.Errorf("nudges: got %+v", h.nudges)
	}
	if len(h.payouts) != 1 || h.payouts[0] != id {
		t.Errorf("payouts: got %v", h.payouts)
	}
}

func TestWorkerErrorClassification(t *testing.T) {
	transient := errors.New("connection reset")
	cases := []struct {
		name      string
		err       error
		wantNil   bool
		wantMatch error
	}{
		{"already processed succeeds", apperr.ErrAlreadyProcessed, true, nil},
		{"invalid state", apperr.Newf(apperr.CodeInvalidState, "payment refunded"), false, apperr.ErrInvalidState},
		{"not found", apperr.New(apperr.CodeNotFound, "feedback not found"), false, apperr.ErrNotFound},
		{"transient", transient, false, transient},
		{"external", apperr.Wrap(apperr.CodeExternal, "transfer payout", transient), false, apperr.ErrExternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := &recordingHandler{err: tc.err}
			err := NewPayoutReleaseWorker(h).Work(context.Background(), jobOf(PayoutReleaseArgs{BookingID: uuid.New()}, 1))
			if tc.wantNil {
				if err != nil {
					t.Fatalf("got %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tc.wantMatch) {
				t.Fatalf("got %v, want it to wrap %v", err, tc.wantMatch)
			}
		})
	}
}

func TestClassify_CancelsPreconditionFailures(t *testing.T) {
	plain := fmt.Errorf("wrapped: %w", errors.New("boom"))
	if got := classify(plain); got != plain {
		t.Errorf("transient errors must be returned unchanged for retry")
	}
	state := apperr.ErrInvalidState
	got := classify(state)
	if got == error(state) {
		t.Error("invalid state must be turned into a cancellation")
	}
	if !errors.Is(got, apperr.ErrInvalidState) {
		t.Errorf("cancellation must keep the cause, got %v", got)
	}
}

func TestRetryAt_BacksOffAndCaps(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	prev := time.Duration(0)
	for attempt := 1; attempt <= 6; attempt++ {
		d := retryAt(now, attempt).Sub(now)
		if d <= prev {
			t.Errorf("attempt %d: delay %v not above %v", attempt, d, prev)
		}
		prev = d
	}
	if d := retryAt(now, 1).Sub(now); d != baseRetryDelay {
		t.Errorf("first retry: got %v, want %v", d, baseRetryDelay)
	}
	if d := retryAt(now, 40).Sub(now); d != maxRetryDelay {
		t.Errorf("capped retry: got %v, want %v", d, maxRetryDelay)
	}
}

func TestErrorHandler_ReturnsNil(t *testing.T) {
	h := &ErrorHandler{}
	row := &rivertype.JobRow{ID: 7, Kind: "qc_check", Attempt: 8, MaxAttempts: 8}
	if res := h.HandleError(context.Background(), row, errors.New("boom")); res != nil {
		t.Errorf("HandleError: got %+v, want nil", res)
	}
	if res := h.HandlePanic(context.Background(), row, "nil map", "trace"); res != nil {
		t.Errorf("HandlePanic: got %+v, want nil", res)
	}
}
