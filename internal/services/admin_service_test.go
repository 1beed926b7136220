package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func newAdminServiceForTest(t *testing.T) (*AdminService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	ledger := NewDoubleLedgerService(db)
	resolver := NewResolverService(db)
	return NewAdminService(db, ledger, resolver), mock, func() { db.Close() }
}

func TestAdminService_Adjust(t *testing.T) {
	service, mock, cleanup := newAdminServiceForTest(t)
	defer cleanup()

	adjustReplayQuery := "SELECT id, amount_cents, created_at FROM ledger_entries WHERE correlation_id = \\$1 AND kind = 'admin_adjust' AND user_id = \\$2"

	t.Run("credit by user id", func(t *testing.T) {
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

		body := `{"userId":"alice","amount":25,"note":"term top-up","idempotency_key":"adj-1"}`
		req := httptest.NewRequest(http.MethodPost, "/admin/wallet/adjust", strings.NewReader(body))
		rec := httptest.NewRecorder()

		service.Adjust(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			OK     bool `json:"ok"`
			Result struct {
				BalanceCents int64 `json:"balance_cents"`
			} `json:"result"`
		}
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.OK)
		assert.Equal(t, int64(3500), resp.Result.BalanceCents)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("target by identifier", func(t *testing.T) {
		mock.ExpectQuery("SELECT user_id FROM identifier_bindings WHERE handle = \\$1").
			WithArgs("ada_obi").
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("alice"))

		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("alice").
			WillReturnRows(accountRows("alice", "student", false, 1000, 1))
		mock.ExpectQuery(adjustReplayQuery).
			WithArgs("adj-2", "alice").
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount_cents", "created_at"}))
		mock.ExpectExec(insertEntryQuery).
			WithArgs(sqlmock.AnyArg(), "alice", int64(500), "USD", "admin_adjust",
				sqlmock.AnyArg(), "adj-2", "", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(updateBalanceQuery).
			WithArgs(int64(1500), "alice", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		body := `{"identifier":"@ada_obi","amount":5,"idempotency_key":"adj-2"}`
		req := httptest.NewRequest(http.MethodPost, "/admin/wallet/adjust", strings.NewReader(body))
		rec := httptest.NewRecorder()

		service.Adjust(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing target is invalid", func(t *testing.T) {
		body := `{"amount":5}`
		req := httptest.NewRequest(http.MethodPost, "/admin/wallet/adjust", strings.NewReader(body))
		rec := httptest.NewRecorder()

		service.Adjust(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("overdraw without flag is rejected", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("alice").
			WillReturnRows(accountRows("alice", "student", false, 1000, 1))
		mock.ExpectQuery(adjustReplayQuery).
			WithArgs("adj-3", "alice").
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount_cents", "created_at"}))
		mock.ExpectRollback()

		body := `{"userId":"alice","amount":-15,"idempotency_key":"adj-3"}`
		req := httptest.NewRequest(http.MethodPost, "/admin/wallet/adjust", strings.NewReader(body))
		rec := httptest.NewRecorder()

		service.Adjust(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdminService_Freeze(t *testing.T) {
	service, mock, cleanup := newAdminServiceForTest(t)
	defer cleanup()

	t.Run("freeze", func(t *testing.T) {
		mock.ExpectExec("UPDATE accounts SET frozen = \\$1, updated_at = NOW\\(\\) WHERE user_id = \\$2").
			WithArgs(true, "alice").
			WillReturnResult(sqlmock.NewResult(0, 1))

		body := `{"userId":"alice","frozen":true}`
		req := httptest.NewRequest(http.MethodPost, "/admin/wallet/freeze", strings.NewReader(body))
		rec := httptest.NewRecorder()

		service.Freeze(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown account", func(t *testing.T) {
		mock.ExpectExec("UPDATE accounts SET frozen = \\$1, updated_at = NOW\\(\\) WHERE user_id = \\$2").
			WithArgs(true, "ghost").
			WillReturnResult(sqlmock.NewResult(0, 0))

		body := `{"userId":"ghost","frozen":true}`
		req := httptest.NewRequest(http.MethodPost, "/admin/wallet/freeze", strings.NewReader(body))
		rec := httptest.NewRecorder()

		service.Freeze(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAdminService_Limits(t *testing.T) {
	service, mock, cleanup := newAdminServiceForTest(t)
	defer cleanup()

	t.Run("set limits converts to cents", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO role_limits").
			WithArgs("student", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		body := `{"role":"student","perTxLimit":50,"dailyOutflowLimit":200}`
		req := httptest.NewRequest(http.MethodPost, "/admin/wallet/limits", strings.NewReader(body))
		rec := httptest.NewRecorder()

		service.SetLimits(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown role is rejected", func(t *testing.T) {
		body := `{"role":"janitor","perTxLimit":50}`
		req := httptest.NewRequest(http.MethodPost, "/admin/wallet/limits", strings.NewReader(body))
		rec := httptest.NewRecorder()

		service.SetLimits(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get limits renders nulls as unlimited", func(t *testing.T) {
		mock.ExpectQuery("SELECT role, per_tx_limit_cents, daily_outflow_limit_cents FROM role_limits").
			WillReturnRows(sqlmock.NewRows([]string{"role", "per_tx_limit_cents", "daily_outflow_limit_cents"}).
				AddRow("student", 5000, 20000).
				AddRow("teacher", nil, nil))

		req := httptest.NewRequest(http.MethodGet, "/admin/wallet/limits", nil)
		rec := httptest.NewRecorder()

		service.GetLimits(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Limits []map[string]any `json:"limits"`
		}
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Limits, 2)
		assert.Equal(t, 50.0, resp.Limits[0]["perTxLimit"])
		assert.Nil(t, resp.Limits[1]["perTxLimit"])
	})
}

func TestAdminService_SetPIN(t *testing.T) {
	service, mock, cleanup := newAdminServiceForTest(t)
	defer cleanup()

	t.Run("upserts the hash", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO identifier_bindings").
			WithArgs("alice", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		body := `{"userId":"alice","pin":"4821"}`
		req := httptest.NewRequest(http.MethodPost, "/admin/users/set-pin", strings.NewReader(body))
		rec := httptest.NewRecorder()

		service.SetPIN(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects a malformed pin", func(t *testing.T) {
		body := `{"userId":"alice","pin":"abc"}`
		req := httptest.NewRequest(http.MethodPost, "/admin/users/set-pin", strings.NewReader(body))
		rec := httptest.NewRecorder()

		service.SetPIN(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAdminService_Stats(t *testing.T) {
	service, mock, cleanup := newAdminServiceForTest(t)
	defer cleanup()

	statsQuery := "SELECT a.role, COALESCE\\(SUM\\(-e.amount_cents\\), 0\\), COUNT\\(\\*\\) FROM ledger_entries e"

	t.Run("aggregates by role", func(t *testing.T) {
		mock.ExpectQuery(statsQuery).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"role", "outflow", "count"}).
				AddRow("student", 15000, 42).
				AddRow("teacher", 3000, 4))

		req := httptest.NewRequest(http.MethodGet, "/admin/transactions/stats?days=7", nil)
		rec := httptest.NewRecorder()

		service.Stats(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Days       int   `json:"days"`
			TotalCents int64 `json:"total_cents"`
			Count      int64 `json:"count"`
		}
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 7, resp.Days)
		assert.Equal(t, int64(18000), resp.TotalCents)
		assert.Equal(t, int64(46), resp.Count)
	})

	t.Run("window is clamped to 365 days", func(t *testing.T) {
		mock.ExpectQuery(statsQuery).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"role", "outflow", "count"}))

		req := httptest.NewRequest(http.MethodGet, "/admin/transactions/stats?days=9999", nil)
		rec := httptest.NewRecorder()

		service.Stats(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Days int `json:"days"`
		}
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 365, resp.Days)
	})
}
