package models

import "github.com/google/uuid"

// User is the profile fragment this service cares about. Profiles,
// friends and session issuance live in sibling services; we only need
// an identity and a credit balance to escrow against.
type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`

	// Balance is the spendable credit total in whole credits.
	Balance int64 `json:"balance"`
}
