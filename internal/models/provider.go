package models

import "github.com/google/uuid"

// ProviderProfile is the read-only slice of a provider's profile the
// booking flow needs. Profiles are maintained elsewhere.
type ProviderProfile struct {
	UserID            uuid.UUID `json:"user_id"`
	DisplayName       string    `json:"display_name"`
	PriceMinorUnits   *int64    `json:"price_minor_units,omitempty"`
	PayoutDestination string    `json:"payout_destination"`
}
