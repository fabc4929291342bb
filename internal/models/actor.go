package models

import "github.com/google/uuid"

// Actor roles carried in access tokens.
const (
	RoleRequester = "requester"
	RoleProvider  = "provider"
	RoleAdmin     = "admin"
)

// Actor is the authenticated caller of an API operation.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role string    `json:"role"`
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }
