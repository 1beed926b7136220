package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

const (
	lockAccountQuery   = "SELECT user_id, role, frozen, balance_cents, version FROM accounts WHERE user_id = \\$1 FOR UPDATE"
	findTransferQuery  = "SELECT id, user_id, amount_cents, currency, kind, reference_id, created_at FROM ledger_entries WHERE correlation_id = \\$1"
	roleLimitsQuery    = "SELECT per_tx_limit_cents, daily_outflow_limit_cents FROM role_limits WHERE role = \\$1"
	dailyOutflowQuery  = "SELECT COALESCE\\(SUM\\(-amount_cents\\), 0\\) FROM ledger_entries WHERE user_id = \\$1 AND amount_cents < 0"
	insertEntryQuery   = "INSERT INTO ledger_entries"
	updateBalanceQuery = "UPDATE accounts SET balance_cents = \\$1, version = version \\+ 1, updated_at = NOW\\(\\) WHERE user_id = \\$2 AND version = \\$3"
)

func accountRows(userID, role string, frozen bool, balance int64, version int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"user_id", "role", "frozen", "balance_cents", "version"}).
		AddRow(userID, role, frozen, balance, version)
}

func emptyTransferRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "amount_cents", "currency", "kind", "reference_id", "created_at"})
}

func TestDoubleLedgerService_Transfer(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewDoubleLedgerService(db)

	t.Run("successful transfer", func(t *testing.T) {
		correlationID := "corr-1"
		amount := int64(1000)

		mock.ExpectBegin()

		// alice < bob, so the sender lock comes first
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("alice").
			WillReturnRows(accountRows("alice", "student", false, 5000, 1))

		mock.ExpectQuery(lockAccountQuery).
			WithArgs("bob").
			WillReturnRows(accountRows("bob", "vendor", false, 2000, 3))

		mock.ExpectQuery(findTransferQuery).
			WithArgs(correlationID).
			WillReturnRows(emptyTransferRows())

		mock.ExpectQuery(roleLimitsQuery).
			WithArgs("student").
			WillReturnRows(sqlmock.NewRows([]string{"per_tx_limit_cents", "daily_outflow_limit_cents"}).
				AddRow(5000, 20000))

		mock.ExpectQuery(dailyOutflowQuery).
			WithArgs("alice", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(0))

		// Debit entry
		mock.ExpectExec(insertEntryQuery).
			WithArgs(sqlmock.AnyArg(), "alice", -amount, "USD", "transfer_out",
				sqlmock.AnyArg(), correlationID, "lunch", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		// Credit entry
		mock.ExpectExec(insertEntryQuery).
			WithArgs(sqlmock.AnyArg(), "bob", amount, "USD", "transfer_in",
				sqlmock.AnyArg(), correlationID, "lunch", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec(updateBalanceQuery).
			WithArgs(int64(4000), "alice", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec(updateBalanceQuery).
			WithArgs(int64(3000), "bob", 3).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		result, err := service.Transfer("alice", "bob", amount, "lunch", correlationID)
		assert.NoError(t, err)
		assert.Equal(t, "alice", result.FromUserID)
		assert.Equal(t, "bob", result.ToUserID)
		assert.Equal(t, amount, result.AmountCents)
		assert.False(t, result.Replayed)
		assert.NotEmpty(t, result.ReferenceID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("locks in key order when sender sorts second", func(t *testing.T) {
		correlationID := "corr-order"

		mock.ExpectBegin()

		// Sender is zed but alice locks first.
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("alice").
			WillReturnRows(accountRows("alice", "student", false, 100, 1))

		mock.ExpectQuery(lockAccountQuery).
			WithArgs("zed").
			WillReturnRows(accountRows("zed", "teacher", false, 9000, 1))

		mock.ExpectQuery(findTransferQuery).
			WithArgs(correlationID).
			WillReturnRows(emptyTransferRows())

		mock.ExpectQuery(roleLimitsQuery).
			WithArgs("teacher").
			WillReturnRows(sqlmock.NewRows([]string{"per_tx_limit_cents", "daily_outflow_limit_cents"}).
				AddRow(nil, nil))

		mock.ExpectExec(insertEntryQuery).
			WithArgs(sqlmock.AnyArg(), "zed", int64(-500), "USD", "transfer_out",
				sqlmock.AnyArg(), correlationID, "", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec(insertEntryQuery).
			WithArgs(sqlmock.AnyArg(), "alice", int64(500), "USD", "transfer_in",
				sqlmock.AnyArg(), correlationID, "", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec(updateBalanceQuery).
			WithArgs(int64(8500), "zed", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec(updateBalanceQuery).
			WithArgs(int64(600), "alice", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		result, err := service.Transfer("zed", "alice", 500, "", correlationID)
		assert.NoError(t, err)
		assert.Equal(t, "zed", result.FromUserID)
		assert.Equal(t, "alice", result.ToUserID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("idempotent replay returns the original result", func(t *testing.T) {
		correlationID := "corr-replay"
		recorded := time.Now().UTC()

		mock.ExpectBegin()

		mock.ExpectQuery(lockAccountQuery).
			WithArgs("alice").
			WillReturnRows(accountRows("alice", "student", false, 4000, 2))

		mock.ExpectQuery(lockAccountQuery).
			WithArgs("bob").
			WillReturnRows(accountRows("bob", "vendor", false, 3000, 4))

		mock.ExpectQuery(findTransferQuery).
			WithArgs(correlationID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "amount_cents", "currency", "kind", "reference_id", "created_at"}).
				AddRow("e1", "alice", -1000, "USD", "transfer_out", "ref1", recorded).
				AddRow("e2", "bob", 1000, "USD", "transfer_in", "ref1", recorded))

		mock.ExpectRollback()

		result, err := service.Transfer("alice", "bob", 1000, "lunch", correlationID)
		assert.NoError(t, err)
		assert.True(t, result.Replayed)
		assert.Equal(t, "ref1", result.ReferenceID)
		assert.Equal(t, int64(1000), result.AmountCents)
		assert.Equal(t, "alice", result.FromUserID)
		assert.Equal(t, "bob", result.ToUserID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance", func(t *testing.T) {
		correlationID := "corr-2"

		mock.ExpectBegin()

		mock.ExpectQuery(lockAccountQuery).
			WithArgs("alice").
			WillReturnRows(accountRows("alice", "student", false, 500, 1))

		mock.ExpectQuery(lockAccountQuery).
			WithArgs("bob").
			WillReturnRows(accountRows("bob", "vendor", false, 2000, 1))

		mock.ExpectQuery(findTransferQuery).
			WithArgs(correlationID).
			WillReturnRows(emptyTransferRows())

		mock.ExpectQuery(roleLimitsQuery).
			WithArgs("student").
			WillReturnRows(sqlmock.NewRows([]string{"per_tx_limit_cents", "daily_outflow_limit_cents"}).
				AddRow(5000, 20000))

		mock.ExpectQuery(dailyOutflowQuery).
			WithArgs("alice", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(0))

		mock.ExpectRollback()

		_, err := service.Transfer("alice", "bob", 1000, "", correlationID)
		assert.Error(t, err)
		assert.True(t, IsKind(err, ErrInsufficientFunds))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("frozen sender is rejected", func(t *testing.T) {
		correlationID := "corr-3"

		mock.ExpectBegin()

		mock.ExpectQuery(lockAccountQuery).
			WithArgs("alice").
			WillReturnRows(accountRows("alice", "student", true, 5000, 1))

		mock.ExpectQuery(lockAccountQuery).
			WithArgs("bob").
			WillReturnRows(accountRows("bob", "vendor", false, 2000, 1))

		mock.ExpectQuery(findTransferQuery).
			WithArgs(correlationID).
			WillReturnRows(emptyTransferRows())

		mock.ExpectRollback()

		_, err := service.Transfer("alice", "bob", 1000, "", correlationID)
		assert.Error(t, err)
		assert.True(t, IsKind(err, ErrAccountFrozen))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("per-transaction limit exceeded", func(t *testing.T) {
		correlationID := "corr-4"

		mock.ExpectBegin()

		mock.ExpectQuery(lockAccountQuery).
			WithArgs("alice").
			WillReturnRows(accountRows("alice", "student", false, 50000, 1))

		mock.ExpectQuery(lockAccountQuery).
			WithArgs("bob").
			WillReturnRows(accountRows("bob", "vendor", false, 2000, 1))

		mock.ExpectQuery(findTransferQuery).
			WithArgs(correlationID).
			WillReturnRows(emptyTransferRows())

		mock.ExpectQuery(roleLimitsQuery).
			WithArgs("student").
			WillReturnRows(sqlmock.NewRows([]string{"per_tx_limit_cents", "daily_outflow_limit_cents"}).
				AddRow(5000, 20000))

		mock.ExpectRollback()

		_, err := service.Transfer("alice", "bob", 5001, "", correlationID)
		assert.Error(t, err)
		assert.True(t, IsKind(err, ErrLimitExceeded))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("daily outflow limit counts prior spending", func(t *testing.T) {
		correlationID := "corr-5"

		mock.ExpectBegin()

		mock.ExpectQuery(lockAccountQuery).
			WithArgs("alice").
			WillReturnRows(accountRows("alice", "student", false, 50000, 1))

		mock.ExpectQuery(lockAccountQuery).
			WithArgs("bob").
			WillReturnRows(accountRows("bob", "vendor", false, 2000, 1))

		mock.ExpectQuery(findTransferQuery).
			WithArgs(correlationID).
			WillReturnRows(emptyTransferRows())

		mock.ExpectQuery(roleLimitsQuery).
			WithArgs("student").
			WillReturnRows(sqlmock.NewRows([]string{"per_tx_limit_cents", "daily_outflow_limit_cents"}).
				AddRow(5000, 20000))

		// 19500 already spent today; 1000 more would breach 20000.
		mock.ExpectQuery(dailyOutflowQuery).
			WithArgs("alice", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(19500))

		mock.ExpectRollback()

		_, err := service.Transfer("alice", "bob", 1000, "", correlationID)
		assert.Error(t, err)
		assert.True(t, IsKind(err, ErrLimitExceeded))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("self transfer is rejected without touching the database", func(t *testing.T) {
		_, err := service.Transfer("alice", "alice", 1000, "", "corr-6")
		assert.Error(t, err)
		assert.True(t, IsKind(err, ErrSelfTransfer))
	})

	t.Run("non-positive amount is rejected", func(t *testing.T) {
		_, err := service.Transfer("alice", "bob", 0, "", "corr-7")
		assert.Error(t, err)
		assert.True(t, IsKind(err, ErrInvalidInput))

		_, err = service.Transfer("alice", "bob", -100, "", "corr-7")
		assert.Error(t, err)
		assert.True(t, IsKind(err, ErrInvalidInput))
	})

	t.Run("missing correlation id is rejected", func(t *testing.T) {
		_, err := service.Transfer("alice", "bob", 1000, "", "")
		assert.Error(t, err)
		assert.True(t, IsKind(err, ErrInvalidInput))
	})

	t.Run("unknown recipient", func(t *testing.T) {
		correlationID := "corr-8"

		mock.ExpectBegin()

		mock.ExpectQuery(lockAccountQuery).
			WithArgs("alice").
			WillReturnRows(accountRows("alice", "student", false, 5000, 1))

		mock.ExpectQuery(lockAccountQuery).
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "role", "frozen", "balance_cents", "version"}))

		mock.ExpectRollback()

		_, err := service.Transfer("alice", "ghost", 1000, "", correlationID)
		assert.Error(t, err)
		assert.True(t, IsKind(err, ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDoubleLedgerService_AdminAdjust(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewDoubleLedgerService(db)

	adjustReplayQuery := "SELECT id, amount_cents, created_at FROM ledger_entries WHERE correlation_id = \\$1 AND kind = 'admin_adjust' AND user_id = \\$2"

	t.Run("credit adjustment", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery(lockAccountQuery).
			WithArgs("alice").
			WillReturnRows(accountRows("alice", "student", false, 1000, 1))

		mock.ExpectQuery(adjustReplayQuery).
			WithArgs("adj-1", "alice").
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount_cents", "created_at"}))

		mock.ExpectExec(insertEntryQuery).
			WithArgs(sqlmock.AnyArg(), "alice", int64(2500), "USD", "admin_adjust",
				sqlmock.AnyArg(), "adj-1", "term top-up", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec(updateBalanceQuery).
			WithArgs(int64(3500), "alice", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		result, err := service.AdminAdjust("alice", 2500, "term top-up", "adj-1", false)
		assert.NoError(t, err)
		assert.Equal(t, int64(3500), result.BalanceCents)
		assert.False(t, result.Replayed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("debit past zero is rejected without overdraft flag", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery(lockAccountQuery).
			WithArgs("alice").
			WillReturnRows(accountRows("alice", "student", false, 1000, 1))

		mock.ExpectQuery(adjustReplayQuery).
			WithArgs("adj-2", "alice").
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount_cents", "created_at"}))

		mock.ExpectRollback()

		_, err := service.AdminAdjust("alice", -1500, "fine", "adj-2", false)
		assert.Error(t, err)
		assert.True(t, IsKind(err, ErrInsufficientFunds))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("debit past zero succeeds with overdraft flag", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery(lockAccountQuery).
			WithArgs("alice").
			WillReturnRows(accountRows("alice", "student", false, 1000, 1))

		mock.ExpectQuery(adjustReplayQuery).
			WithArgs("adj-3", "alice").
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount_cents", "created_at"}))

		mock.ExpectExec(insertEntryQuery).
			WithArgs(sqlmock.AnyArg(), "alice", int64(-1500), "USD", "admin_adjust",
				sqlmock.AnyArg(), "adj-3", "fine", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec(updateBalanceQuery).
			WithArgs(int64(-500), "alice", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		result, err := service.AdminAdjust("alice", -1500, "fine", "adj-3", true)
		assert.NoError(t, err)
		assert.Equal(t, int64(-500), result.BalanceCents)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replayed adjustment does not write", func(t *testing.T) {
		recorded := time.Now().UTC()

		mock.ExpectBegin()

		mock.ExpectQuery(lockAccountQuery).
			WithArgs("alice").
			WillReturnRows(accountRows("alice", "student", false, 3500, 2))

		mock.ExpectQuery(adjustReplayQuery).
			WithArgs("adj-1", "alice").
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount_cents", "created_at"}).
				AddRow("e9", 2500, recorded))

		mock.ExpectRollback()

		result, err := service.AdminAdjust("alice", 2500, "term top-up", "adj-1", false)
		assert.NoError(t, err)
		assert.True(t, result.Replayed)
		assert.Equal(t, "e9", result.EntryID)
		assert.Equal(t, int64(2500), result.AmountCents)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero amount is rejected", func(t *testing.T) {
		_, err := service.AdminAdjust("alice", 0, "", "adj-4", false)
		assert.Error(t, err)
		assert.True(t, IsKind(err, ErrInvalidInput))
	})
}

func TestDoubleLedgerService_SetFrozen(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewDoubleLedgerService(db)

	t.Run("freeze existing account", func(t *testing.T) {
		mock.ExpectExec("UPDATE accounts SET frozen = \\$1, updated_at = NOW\\(\\) WHERE user_id = \\$2").
			WithArgs(true, "alice").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := service.SetFrozen("alice", true)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account", func(t *testing.T) {
		mock.ExpectExec("UPDATE accounts SET frozen = \\$1, updated_at = NOW\\(\\) WHERE user_id = \\$2").
			WithArgs(true, "ghost").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := service.SetFrozen("ghost", true)
		assert.Error(t, err)
		assert.True(t, IsKind(err, ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDoubleLedgerService_RebuildBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewDoubleLedgerService(db)

	sumQuery := "SELECT COALESCE\\(SUM\\(amount_cents\\), 0\\) FROM ledger_entries WHERE user_id = \\$1"

	t.Run("drifted projection is repaired", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery(lockAccountQuery).
			WithArgs("alice").
			WillReturnRows(accountRows("alice", "student", false, 900, 5))

		mock.ExpectQuery(sumQuery).
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(1200))

		mock.ExpectExec(updateBalanceQuery).
			WithArgs(int64(1200), "alice", 5).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		balance, err := service.RebuildBalance("alice")
		assert.NoError(t, err)
		assert.Equal(t, int64(1200), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("healthy projection is untouched", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery(lockAccountQuery).
			WithArgs("alice").
			WillReturnRows(accountRows("alice", "student", false, 1200, 6))

		mock.ExpectQuery(sumQuery).
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(1200))

		mock.ExpectCommit()

		balance, err := service.RebuildBalance("alice")
		assert.NoError(t, err)
		assert.Equal(t, int64(1200), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDoubleLedgerService_FindTransfer(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewDoubleLedgerService(db)

	t.Run("unknown correlation id returns nil", func(t *testing.T) {
		mock.ExpectQuery(findTransferQuery).
			WithArgs("nope").
			WillReturnRows(emptyTransferRows())

		result, err := service.FindTransfer("nope")
		assert.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("recorded transfer is marked replayed", func(t *testing.T) {
		recorded := time.Now().UTC()
		mock.ExpectQuery(findTransferQuery).
			WithArgs("corr-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "amount_cents", "currency", "kind", "reference_id", "created_at"}).
				AddRow("e1", "alice", -1000, "USD", "transfer_out", "ref1", recorded).
				AddRow("e2", "bob", 1000, "USD", "transfer_in", "ref1", recorded))

		result, err := service.FindTransfer("corr-1")
		assert.NoError(t, err)
		assert.True(t, result.Replayed)
		assert.Equal(t, "alice", result.FromUserID)
		assert.Equal(t, "bob", result.ToUserID)
		assert.Equal(t, int64(1000), result.AmountCents)
	})
}

func TestUTCDayStart(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	local := time.Date(2025, 3, 10, 2, 30, 0, 0, loc) // 2025-03-09 21:30 UTC

	start := utcDayStart(local)
	assert.Equal(t, time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC), start)
}
