package models

import (
	"time"
)

// Card request lifecycle. A request stays pending until an admin approves
// it; there is no explicit reject state.
const (
	CardRequestPending  = "pending"
	CardRequestApproved = "approved"
)

// CardBinding maps a physical NFC card UID to exactly one account. A
// binding is soft-revoked (active=false, revoked_at set) rather than
// deleted, and the card_uid can later be rebound.
type CardBinding struct {
	CardUID   string     `json:"card_uid" db:"card_uid"`
	UserID    string     `json:"user_id" db:"user_id"`
	Active    bool       `json:"active" db:"active"`
	IssuedAt  time.Time  `json:"issued_at" db:"issued_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

// CardRequest is a user's request for a physical card.
type CardRequest struct {
	ID         string     `json:"id" db:"id"`
	UserID     string     `json:"user_id" db:"user_id"`
	Role       string     `json:"role" db:"role"`
	Status     string     `json:"status" db:"status"`
	CardUID    string     `json:"card_uid,omitempty" db:"card_uid"`
	NFCLink    string     `json:"nfc_link,omitempty" db:"nfc_link"`
	ApprovedBy string     `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}
