package services

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/campuspay/backend/internal/audit"
	"github.com/campuspay/backend/internal/models"
)

// DoubleLedgerService owns balance truth. Every balance movement is a
// ledger entry; the accounts.balance_cents column is a projection updated
// only in the same database transaction as the entries that move it.
type DoubleLedgerService struct {
	db       *sql.DB
	audit    *audit.Logger
	currency string
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

func NewDoubleLedgerService(db *sql.DB) *DoubleLedgerService {
	currency := "USD"
	if envCurrency := os.Getenv("WALLET_CURRENCY"); envCurrency != "" {
		currency = envCurrency
	}
	return &DoubleLedgerService{
		db:       db,
		audit:    audit.NewLogger(),
		currency: currency,
	}
}

// Transfer moves amountCents between two resolved accounts as a pair of
// ledger entries sharing one reference_id. It is idempotent on
// correlationID: a resubmission returns the originally recorded result
// without writing new entries. Identity resolution and PIN verification
// belong to the caller; frozen state, role limits and balance sufficiency
// are enforced here, under row locks, so concurrent transfers on the same
// account serialize and the balance never goes negative.
func (s *DoubleLedgerService) Transfer(fromUserID, toUserID string, amountCents int64, note, correlationID string) (*models.TransferResult, error) {
	if amountCents <= 0 {
		return nil, walletErr(ErrInvalidInput, "amount must be positive")
	}
	if correlationID == "" {
		return nil, walletErr(ErrInvalidInput, "correlation id is required")
	}
	if fromUserID == toUserID {
		return nil, walletErr(ErrSelfTransfer, "cannot transfer to self")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Lock accounts in consistent order to prevent deadlocks
	firstLock, secondLock := fromUserID, toUserID
	if fromUserID > toUserID {
		firstLock, secondLock = toUserID, fromUserID
	}

	fromAccount, err := s.lockAccount(tx, firstLock)
	if err != nil {
		return nil, err
	}

	toAccount, err := s.lockAccount(tx, secondLock)
	if err != nil {
		return nil, err
	}

	if firstLock != fromUserID {
		fromAccount, toAccount = toAccount, fromAccount
	}

	// Replay check under the sender lock, so a concurrent retry of the
	// same correlation id cannot write a second entry pair.
	if prior, err := s.findTransfer(tx, correlationID); err != nil {
		return nil, err
	} else if prior != nil {
		prior.Replayed = true
		return prior, nil
	}

	if fromAccount.Frozen {
		return nil, walletErr(ErrAccountFrozen, "sender account is frozen")
	}

	if err := s.checkLimits(tx, fromAccount, amountCents); err != nil {
		return nil, err
	}

	if fromAccount.BalanceCents < amountCents {
		return nil, walletErr(ErrInsufficientFunds, "insufficient balance")
	}

	now := time.Now().UTC()
	referenceID := uuid.NewString()
	debit := models.LedgerEntry{
		ID:            uuid.NewString(),
		UserID:        fromAccount.UserID,
		AmountCents:   -amountCents,
		Currency:      s.currency,
		Kind:          models.KindTransferOut,
		ReferenceID:   referenceID,
		CorrelationID: correlationID,
		Note:          note,
		CreatedAt:     now,
	}
	credit := models.LedgerEntry{
		ID:            uuid.NewString(),
		UserID:        toAccount.UserID,
		AmountCents:   amountCents,
		Currency:      s.currency,
		Kind:          models.KindTransferIn,
		ReferenceID:   referenceID,
		CorrelationID: correlationID,
		Note:          note,
		CreatedAt:     now,
	}

	if err := s.appendEntry(tx, &debit); err != nil {
		return nil, err
	}
	if err := s.appendEntry(tx, &credit); err != nil {
		return nil, err
	}

	if err := s.updateAccountBalance(tx, fromAccount.UserID, fromAccount.BalanceCents-amountCents, fromAccount.Version); err != nil {
		return nil, err
	}
	if err := s.updateAccountBalance(tx, toAccount.UserID, toAccount.BalanceCents+amountCents, toAccount.Version); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogTransfer(correlationID, fromAccount.UserID, toAccount.UserID, amountCents, "SUCCESS")

	return &models.TransferResult{
		ReferenceID:   referenceID,
		CorrelationID: correlationID,
		FromUserID:    fromAccount.UserID,
		ToUserID:      toAccount.UserID,
		AmountCents:   amountCents,
		Currency:      s.currency,
		DebitEntryID:  debit.ID,
		CreditEntryID: credit.ID,
		CreatedAt:     now,
	}, nil
}

// FindTransfer returns the recorded result for a correlation id, or nil
// when the transfer has not been applied. Callers use this before PIN and
// limit checks so a retried request replays without re-verification.
func (s *DoubleLedgerService) FindTransfer(correlationID string) (*models.TransferResult, error) {
	result, err := s.findTransfer(s.db, correlationID)
	if err != nil {
		return nil, err
	}
	if result != nil {
		result.Replayed = true
	}
	return result, nil
}

func (s *DoubleLedgerService) findTransfer(q querier, correlationID string) (*models.TransferResult, error) {
	rows, err := q.Query(`
		SELECT id, user_id, amount_cents, currency, kind, reference_id, created_at
		FROM ledger_entries
		WHERE correlation_id = $1 AND kind IN ('transfer_out', 'transfer_in')`,
		correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result *models.TransferResult
	for rows.Next() {
		var entry models.LedgerEntry
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.AmountCents, &entry.Currency,
			&entry.Kind, &entry.ReferenceID, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if result == nil {
			result = &models.TransferResult{
				ReferenceID:   entry.ReferenceID,
				CorrelationID: correlationID,
				Currency:      entry.Currency,
				CreatedAt:     entry.CreatedAt,
			}
		}
		if entry.Kind == models.KindTransferOut {
			result.FromUserID = entry.UserID
			result.DebitEntryID = entry.ID
			result.AmountCents = -entry.AmountCents
		} else {
			result.ToUserID = entry.UserID
			result.CreditEntryID = entry.ID
		}
	}
	return result, rows.Err()
}

// AdminAdjust credits or debits a single account with one signed entry.
// No PIN, no limits; debits still may not overdraw the account unless
// allowOverdraft is set. Idempotent on correlationID.
func (s *DoubleLedgerService) AdminAdjust(userID string, amountCents int64, note, correlationID string, allowOverdraft bool) (*models.AdjustmentResult, error) {
	if amountCents == 0 {
		return nil, walletErr(ErrInvalidInput, "amount must be non-zero")
	}
	if correlationID == "" {
		return nil, walletErr(ErrInvalidInput, "correlation id is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := s.lockAccount(tx, userID)
	if err != nil {
		return nil, err
	}

	var priorID string
	var priorAmount int64
	var priorAt time.Time
	err = tx.QueryRow(`
		SELECT id, amount_cents, created_at FROM ledger_entries
		WHERE correlation_id = $1 AND kind = 'admin_adjust' AND user_id = $2`,
		correlationID, userID).Scan(&priorID, &priorAmount, &priorAt)
	if err == nil {
		return &models.AdjustmentResult{
			EntryID:       priorID,
			CorrelationID: correlationID,
			UserID:        userID,
			AmountCents:   priorAmount,
			BalanceCents:  account.BalanceCents,
			CreatedAt:     priorAt,
			Replayed:      true,
		}, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	newBalance := account.BalanceCents + amountCents
	if newBalance < 0 && !allowOverdraft {
		return nil, walletErr(ErrInsufficientFunds, "adjustment would overdraw account")
	}

	now := time.Now().UTC()
	entry := models.LedgerEntry{
		ID:            uuid.NewString(),
		UserID:        userID,
		AmountCents:   amountCents,
		Currency:      s.currency,
		Kind:          models.KindAdminAdjust,
		ReferenceID:   uuid.NewString(),
		CorrelationID: correlationID,
		Note:          note,
		CreatedAt:     now,
	}
	if err := s.appendEntry(tx, &entry); err != nil {
		return nil, err
	}

	if err := s.updateAccountBalance(tx, userID, newBalance, account.Version); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogAdjustment(correlationID, userID, amountCents, note)

	return &models.AdjustmentResult{
		EntryID:       entry.ID,
		CorrelationID: correlationID,
		UserID:        userID,
		AmountCents:   amountCents,
		BalanceCents:  newBalance,
		CreatedAt:     now,
	}, nil
}

// SetFrozen flips the frozen flag. A frozen account cannot be the sender
// side of a transfer.
func (s *DoubleLedgerService) SetFrozen(userID string, frozen bool) error {
	result, err := s.db.Exec(`
		UPDATE accounts SET frozen = $1, updated_at = NOW() WHERE user_id = $2`,
		frozen, userID)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return walletErr(ErrNotFound, "account not found")
	}
	s.audit.LogOperation("", userID, "SET_FROZEN", fmt.Sprintf("frozen=%t", frozen))
	return nil
}

// CurrentBalance returns the account's balance projection in cents.
func (s *DoubleLedgerService) CurrentBalance(userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(`SELECT balance_cents FROM accounts WHERE user_id = $1`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, walletErr(ErrNotFound, "account not found")
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// ListEntries returns an account's ledger entries, newest first.
func (s *DoubleLedgerService) ListEntries(userID string, limit int) ([]models.LedgerEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, amount_cents, currency, kind, reference_id, correlation_id, COALESCE(note, ''), created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var entry models.LedgerEntry
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.AmountCents, &entry.Currency,
			&entry.Kind, &entry.ReferenceID, &entry.CorrelationID, &entry.Note, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// RebuildBalance recomputes the projection from entries under the account
// lock. Used for administrative repair; a healthy projection is a no-op.
func (s *DoubleLedgerService) RebuildBalance(userID string) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	account, err := s.lockAccount(tx, userID)
	if err != nil {
		return 0, err
	}

	var sum int64
	if err := tx.QueryRow(`
		SELECT COALESCE(SUM(amount_cents), 0) FROM ledger_entries WHERE user_id = $1`,
		userID).Scan(&sum); err != nil {
		return 0, err
	}

	if sum != account.BalanceCents {
		if err := s.updateAccountBalance(tx, userID, sum, account.Version); err != nil {
			return 0, err
		}
	}

	return sum, tx.Commit()
}

// RoleOutflowStat aggregates transfer outflow per sender role.
type RoleOutflowStat struct {
	Role         string `json:"role"`
	OutflowCents int64  `json:"outflow_cents"`
	Count        int64  `json:"count"`
}

// OutflowStats sums transfer_out entries since the given instant, grouped
// by the sender's role.
func (s *DoubleLedgerService) OutflowStats(since time.Time) ([]RoleOutflowStat, error) {
	rows, err := s.db.Query(`
		SELECT a.role, COALESCE(SUM(-e.amount_cents), 0), COUNT(*)
		FROM ledger_entries e
		JOIN accounts a ON a.user_id = e.user_id
		WHERE e.kind = 'transfer_out' AND e.created_at >= $1
		GROUP BY a.role`,
		since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []RoleOutflowStat{}
	for rows.Next() {
		var st RoleOutflowStat
		if err := rows.Scan(&st.Role, &st.OutflowCents, &st.Count); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func (s *DoubleLedgerService) checkLimits(tx *sql.Tx, account *models.Account, amountCents int64) error {
	limits, err := s.roleLimits(tx, account.Role)
	if err != nil {
		return err
	}
	if limits == nil {
		return nil
	}

	if limits.PerTxLimitCents != nil && amountCents > *limits.PerTxLimitCents {
		return walletErr(ErrLimitExceeded, "amount exceeds per-transaction limit")
	}

	if limits.DailyOutflowLimitCents != nil {
		spent, err := s.dailyOutflow(tx, account.UserID, utcDayStart(time.Now()))
		if err != nil {
			return err
		}
		if spent+amountCents > *limits.DailyOutflowLimitCents {
			return walletErr(ErrLimitExceeded, "daily outflow limit reached")
		}
	}
	return nil
}

func (s *DoubleLedgerService) roleLimits(q querier, role string) (*models.RoleLimit, error) {
	var perTx, daily sql.NullInt64
	err := q.QueryRow(`
		SELECT per_tx_limit_cents, daily_outflow_limit_cents FROM role_limits WHERE role = $1`,
		role).Scan(&perTx, &daily)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	limits := &models.RoleLimit{Role: role}
	if perTx.Valid {
		limits.PerTxLimitCents = &perTx.Int64
	}
	if daily.Valid {
		limits.DailyOutflowLimitCents = &daily.Int64
	}
	return limits, nil
}

func (s *DoubleLedgerService) dailyOutflow(q querier, userID string, since time.Time) (int64, error) {
	var spent int64
	err := q.QueryRow(`
		SELECT COALESCE(SUM(-amount_cents), 0) FROM ledger_entries
		WHERE user_id = $1 AND amount_cents < 0
		  AND kind IN ('transfer_out', 'admin_adjust')
		  AND created_at >= $2`,
		userID, since).Scan(&spent)
	return spent, err
}

func (s *DoubleLedgerService) lockAccount(tx *sql.Tx, userID string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT user_id, role, frozen, balance_cents, version
		FROM accounts
		WHERE user_id = $1
		FOR UPDATE`, userID).Scan(&account.UserID, &account.Role, &account.Frozen, &account.BalanceCents, &account.Version)
	if err == sql.ErrNoRows {
		return nil, walletErr(ErrNotFound, "account not found")
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *DoubleLedgerService) appendEntry(tx *sql.Tx, entry *models.LedgerEntry) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_entries (id, user_id, amount_cents, currency, kind, reference_id, correlation_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.UserID, entry.AmountCents, entry.Currency, entry.Kind,
		entry.ReferenceID, entry.CorrelationID, entry.Note, entry.CreatedAt)
	return err
}

func (s *DoubleLedgerService) updateAccountBalance(tx *sql.Tx, userID string, newBalance int64, version int) error {
	result, err := tx.Exec(`
		UPDATE accounts
		SET balance_cents = $1, version = version + 1, updated_at = NOW()
		WHERE user_id = $2 AND version = $3`,
		newBalance, userID, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s", userID)
	}

	return nil
}

// utcDayStart anchors the daily-outflow window at UTC midnight. The window
// boundary is fixed here so limit enforcement is testable and does not
// drift with server timezone.
func utcDayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
