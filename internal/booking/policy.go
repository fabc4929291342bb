package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/paidcall/backend/internal/apperr"
	"github.com/paidcall/backend/internal/models"
)

// Policy holds the tunables of the booking lifecycle.
type Policy struct {
	TakeRate         float64
	SessionLength    time.Duration
	LateCancelWindow time.Duration
	QCDebounce       time.Duration
	NudgeOffsets     []time.Duration
	Currency         string
}

func DefaultPolicy() Policy {
	return Policy{
		TakeRate:         0.20,
		SessionLength:    time.Hour,
		LateCancelWindow: 180 * time.Minute,
		QCDebounce:       30 * time.Second,
		NudgeOffsets:     []time.Duration{24 * time.Hour, 48 * time.Hour, 72 * time.Hour},
		Currency:         "thb",
	}
}

// CheckCancellation applies the cancellation rules for actorID at now.
// Providers may always cancel. Requesters may cancel until LateCancelWindow
// before the start; a booking without a start time is always cancellable.
func (p Policy) CheckCancellation(b *models.Booking, actorID uuid.UUID, now time.Time) error {
	switch actorID {
	case b.ProviderID:
		return nil
	case b.RequesterID:
		if b.StartAt == nil {
			return nil
		}
		if now.After(b.StartAt.Add(-p.LateCancelWindow)) {
			return apperr.Newf(apperr.CodeLateCancellation,
				"cancellation closes %s before the session starts", p.LateCancelWindow)
		}
		return nil
	default:
		return apperr.ErrForbidden
	}
}
