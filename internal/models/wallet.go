package models

import (
	"time"
)

// Roles recognised by the wallet. Limits are configured per role.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleVendor  = "vendor"
	RoleAdmin   = "admin"
)

// Ledger entry kinds.
const (
	KindDeposit     = "deposit"
	KindWithdrawal  = "withdrawal"
	KindTransferIn  = "transfer_in"
	KindTransferOut = "transfer_out"
	KindAdminAdjust = "admin_adjust"
	KindRefund      = "refund"
)

// Account is the wallet account row. BalanceCents is a materialized
// projection of the account's ledger entries; it is only ever written in
// the same database transaction as the entries that move it and can be
// rebuilt from them.
type Account struct {
	UserID       string    `json:"user_id" db:"user_id"`
	Role         string    `json:"role" db:"role"`
	Frozen       bool      `json:"frozen" db:"frozen"`
	BalanceCents int64     `json:"balance_cents" db:"balance_cents"`
	Version      int       `json:"version" db:"version"` // for optimistic locking
	Currency     string    `json:"currency" db:"currency"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is an immutable signed monetary record. Positive amounts are
// credits, negative amounts are debits. Corrections are new entries, never
// updates.
type LedgerEntry struct {
	ID            string    `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	AmountCents   int64     `json:"amount_cents" db:"amount_cents"`
	Currency      string    `json:"currency" db:"currency"`
	Kind          string    `json:"kind" db:"kind"`
	ReferenceID   string    `json:"reference_id" db:"reference_id"`
	CorrelationID string    `json:"correlation_id" db:"correlation_id"`
	Note          string    `json:"note,omitempty" db:"note"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// TransferResult summarises a completed double-entry transfer.
type TransferResult struct {
	ReferenceID   string    `json:"reference_id"`
	CorrelationID string    `json:"correlation_id"`
	FromUserID    string    `json:"from_user_id"`
	ToUserID      string    `json:"to_user_id"`
	AmountCents   int64     `json:"amount_cents"`
	Currency      string    `json:"currency"`
	DebitEntryID  string    `json:"debit_entry_id"`
	CreditEntryID string    `json:"credit_entry_id"`
	CreatedAt     time.Time `json:"created_at"`
	Replayed      bool      `json:"replayed"` // true when served from an earlier submission
}

// AdjustmentResult summarises an admin balance adjustment.
type AdjustmentResult struct {
	EntryID       string    `json:"entry_id"`
	CorrelationID string    `json:"correlation_id"`
	UserID        string    `json:"user_id"`
	AmountCents   int64     `json:"amount_cents"`
	BalanceCents  int64     `json:"balance_cents"`
	CreatedAt     time.Time `json:"created_at"`
	Replayed      bool      `json:"replayed"`
}

// RoleLimit caps spending for a role. Nil means unlimited.
type RoleLimit struct {
	Role                   string     `json:"role" db:"role"`
	PerTxLimitCents        *int64     `json:"per_tx_limit_cents" db:"per_tx_limit_cents"`
	DailyOutflowLimitCents *int64     `json:"daily_outflow_limit_cents" db:"daily_outflow_limit_cents"`
	UpdatedAt              *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}
