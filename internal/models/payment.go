package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus only advances held -> released or held -> refunded.
type PaymentStatus string

const (
	PaymentHeld     PaymentStatus = "held"
	PaymentReleased PaymentStatus = "released"
	PaymentRefunded PaymentStatus = "refunded"
)

// PayoutStatus advances pending -> releasing -> paid or pending -> blocked.
// A releasing payout has a transfer in flight and can no longer be blocked.
type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutReleasing PayoutStatus = "releasing"
	PayoutPaid      PayoutStatus = "paid"
	PayoutBlocked   PayoutStatus = "blocked"
)

// Payment is the escrow hold opened for a booking.
type Payment struct {
	ID             uuid.UUID     `json:"id"`
	BookingID      uuid.UUID     `json:"booking_id"`
	ExternalHoldID string        `json:"external_hold_id"`
	AmountGross    int64         `json:"amount_gross"`
	PlatformFee    int64         `json:"platform_fee"`
	Currency       string        `json:"currency"`
	Status         PaymentStatus `json:"status"`
	TransferID     *string       `json:"transfer_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// AmountNet is what the provider receives once the hold is released.
func (p *Payment) AmountNet() int64 { return p.AmountGross - p.PlatformFee }

type Payout struct {
	ID                        uuid.UUID    `json:"id"`
	BookingID                 uuid.UUID    `json:"booking_id"`
	ProviderPayoutDestination string       `json:"provider_payout_destination"`
	AmountNet                 int64        `json:"amount_net"`
	Status                    PayoutStatus `json:"status"`
	CreatedAt                 time.Time    `json:"created_at"`
	UpdatedAt                 time.Time    `json:"updated_at"`
}
