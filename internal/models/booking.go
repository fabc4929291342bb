package models

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingDraft                    BookingStatus = "draft"
	BookingRequested                BookingStatus = "requested"
	BookingAccepted                 BookingStatus = "accepted"
	BookingCompletedPendingFeedback BookingStatus = "completed_pending_feedback"
	BookingCompleted                BookingStatus = "completed"
	BookingCancelled                BookingStatus = "cancelled"
	BookingRefunded                 BookingStatus = "refunded"
)

// IsTerminal reports whether no further transition may leave s.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingCompleted, BookingCancelled, BookingRefunded:
		return true
	}
	return false
}

type Booking struct {
	ID                 uuid.UUID     `json:"id"`
	RequesterID        uuid.UUID     `json:"requester_id"`
	ProviderID         uuid.UUID     `json:"provider_id"`
	Status             BookingStatus `json:"status"`
	StartAt            *time.Time    `json:"start_at,omitempty"`
	EndAt              *time.Time    `json:"end_at,omitempty"`
	Timezone           string        `json:"timezone"`
	PriceMinorUnits    int64         `json:"price_minor_units"`
	MeetingID          *string       `json:"meeting_id,omitempty"`
	MeetingJoinURL     *string       `json:"meeting_join_url,omitempty"`
	RequesterJoinedAt  *time.Time    `json:"requester_joined_at,omitempty"`
	ProviderJoinedAt   *time.Time    `json:"provider_joined_at,omitempty"`
	CancelledBy        *uuid.UUID    `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
	CancellationReason *string       `json:"cancellation_reason,omitempty"`
	NeedsManualReview  bool          `json:"needs_manual_review"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// IsParticipant reports whether id is the requester or the provider.
func (b *Booking) IsParticipant(id uuid.UUID) bool {
	return id == b.RequesterID || id == b.ProviderID
}
