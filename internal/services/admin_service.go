package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/campuspay/backend/internal/config"
)

// AdminService holds the privileged wallet operations. Routes mounted
// under the admin group are gated by the RequireRole middleware, so
// handlers here trust the verified caller context.
type AdminService struct {
	db        *sql.DB
	ledger    *DoubleLedgerService
	resolver  *ResolverService
	pins      *PinService
	validator *ValidationHelper
	cfg       *config.WalletConfig
}

func NewAdminService(db *sql.DB, ledger *DoubleLedgerService, resolver *ResolverService) *AdminService {
	return &AdminService{
		db:        db,
		ledger:    ledger,
		resolver:  resolver,
		pins:      NewPinService(),
		validator: NewValidationHelper(),
		cfg:       config.LoadWalletConfig(),
	}
}

// AdjustRequest credits (positive) or debits (negative) a single account.
type AdjustRequest struct {
	UserID         string  `json:"userId"`
	Identifier     string  `json:"identifier"`
	Amount         float64 `json:"amount" validate:"required"`
	Note           string  `json:"note" validate:"omitempty,max=200"`
	AllowOverdraft bool    `json:"allowOverdraft"`
	IdempotencyKey string  `json:"idempotency_key"`
}

// Adjust applies an administrative balance correction
// @Summary Adjust a wallet balance
// @Description Single-entry credit or debit, bypassing PIN and limits; idempotent on the idempotency key
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body AdjustRequest true "Adjustment"
// @Success 200 {object} models.AdjustmentResult
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /admin/wallet/adjust [post]
func (as *AdminService) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if !decodeBody(w, r, as.validator, &req) {
		return
	}

	userID, err := as.targetUserID(req.UserID, req.Identifier)
	if err != nil {
		SendWalletError(w, err)
		return
	}

	correlationID := req.IdempotencyKey
	if correlationID == "" {
		correlationID = r.Header.Get(as.cfg.IdempotencyHeader)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	result, err := as.ledger.AdminAdjust(userID, toCents(req.Amount), req.Note, correlationID, req.AllowOverdraft)
	if err != nil {
		SendWalletError(w, err)
		return
	}

	log.Printf("[ADMIN] Adjusted %s by %d cents (correlation %s)", userID, result.AmountCents, correlationID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

// Freeze sets or clears the frozen flag on an account
// @Summary Freeze or unfreeze a wallet
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{userId=string,frozen=bool} true "Freeze request"
// @Success 200 {object} object{ok=bool}
// @Failure 404 {object} ErrorResponse
// @Router /admin/wallet/freeze [post]
func (as *AdminService) Freeze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId" validate:"required"`
		Frozen bool   `json:"frozen"`
	}
	if !decodeBody(w, r, as.validator, &req) {
		return
	}

	if err := as.ledger.SetFrozen(req.UserID, req.Frozen); err != nil {
		SendWalletError(w, err)
		return
	}

	log.Printf("[ADMIN] Set frozen=%t for %s", req.Frozen, req.UserID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true})
}

// GetLimits returns per-role spending limits
// @Summary List role limits
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{limits=[]object}
// @Router /admin/wallet/limits [get]
func (as *AdminService) GetLimits(w http.ResponseWriter, r *http.Request) {
	rows, err := as.db.Query(`SELECT role, per_tx_limit_cents, daily_outflow_limit_cents FROM role_limits`)
	if err != nil {
		SendWalletError(w, err)
		return
	}
	defer rows.Close()

	limits := []map[string]any{}
	for rows.Next() {
		var role string
		var perTx, daily sql.NullInt64
		if err := rows.Scan(&role, &perTx, &daily); err != nil {
			SendWalletError(w, err)
			return
		}
		entry := map[string]any{"role": role, "perTxLimit": nil, "dailyOutflowLimit": nil}
		if perTx.Valid {
			entry["perTxLimit"] = fromCents(perTx.Int64)
		}
		if daily.Valid {
			entry["dailyOutflowLimit"] = fromCents(daily.Int64)
		}
		limits = append(limits, entry)
	}
	if err := rows.Err(); err != nil {
		SendWalletError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"limits": limits})
}

// SetLimitsRequest upserts the limits for one role. Nil means unlimited.
type SetLimitsRequest struct {
	Role              string   `json:"role" validate:"required,oneof=student teacher vendor admin"`
	PerTxLimit        *float64 `json:"perTxLimit"`
	DailyOutflowLimit *float64 `json:"dailyOutflowLimit"`
}

// SetLimits upserts per-role spending limits
// @Summary Set role limits
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body SetLimitsRequest true "Limits"
// @Success 200 {object} object{ok=bool}
// @Router /admin/wallet/limits [post]
func (as *AdminService) SetLimits(w http.ResponseWriter, r *http.Request) {
	var req SetLimitsRequest
	if !decodeBody(w, r, as.validator, &req) {
		return
	}

	var perTx, daily sql.NullInt64
	if req.PerTxLimit != nil {
		perTx = sql.NullInt64{Int64: toCents(*req.PerTxLimit), Valid: true}
	}
	if req.DailyOutflowLimit != nil {
		daily = sql.NullInt64{Int64: toCents(*req.DailyOutflowLimit), Valid: true}
	}

	_, err := as.db.Exec(`
		INSERT INTO role_limits (role, per_tx_limit_cents, daily_outflow_limit_cents, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (role) DO UPDATE
		SET per_tx_limit_cents = EXCLUDED.per_tx_limit_cents,
		    daily_outflow_limit_cents = EXCLUDED.daily_outflow_limit_cents,
		    updated_at = NOW()`,
		req.Role, perTx, daily)
	if err != nil {
		SendWalletError(w, err)
		return
	}

	log.Printf("[ADMIN] Updated limits for role %s", req.Role)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true})
}

// SetPIN sets a user's transaction PIN
// @Summary Set a transaction PIN
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{userId=string,identifier=string,pin=string} true "PIN request"
// @Success 200 {object} object{ok=bool}
// @Failure 400 {object} ErrorResponse
// @Router /admin/users/set-pin [post]
func (as *AdminService) SetPIN(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     string `json:"userId"`
		Identifier string `json:"identifier"`
		PIN        string `json:"pin" validate:"required"`
	}
	if !decodeBody(w, r, as.validator, &req) {
		return
	}

	userID, err := as.targetUserID(req.UserID, req.Identifier)
	if err != nil {
		SendWalletError(w, err)
		return
	}

	hash, err := as.pins.HashPIN(req.PIN)
	if err != nil {
		SendWalletError(w, err)
		return
	}

	_, err = as.db.Exec(`
		INSERT INTO identifier_bindings (user_id, pin_hash)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET pin_hash = EXCLUDED.pin_hash`,
		userID, hash)
	if err != nil {
		SendWalletError(w, err)
		return
	}

	log.Printf("[ADMIN] PIN updated for %s", userID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true})
}

// RebuildBalance recomputes an account's balance projection from entries
// @Summary Rebuild a balance projection
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{userId=string} true "Rebuild request"
// @Success 200 {object} object{balance_cents=int64}
// @Router /admin/wallet/rebuild [post]
func (as *AdminService) RebuildBalance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId" validate:"required"`
	}
	if !decodeBody(w, r, as.validator, &req) {
		return
	}

	cents, err := as.ledger.RebuildBalance(req.UserID)
	if err != nil {
		SendWalletError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"balance_cents": cents, "balance": fromCents(cents)})
}

// Stats aggregates recent transfer outflow per sender role
// @Summary Transfer outflow stats
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param days query int false "Window in days (1-365, default 30)"
// @Success 200 {object} object{days=int,total_cents=int64,by_role=[]object}
// @Router /admin/transactions/stats [get]
func (as *AdminService) Stats(w http.ResponseWriter, r *http.Request) {
	days := 30
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		if d, err := strconv.Atoi(daysStr); err == nil {
			days = d
		}
	}
	if days < 1 {
		days = 1
	}
	if days > 365 {
		days = 365
	}

	since := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	stats, err := as.ledger.OutflowStats(since)
	if err != nil {
		SendWalletError(w, err)
		return
	}

	var totalCents, count int64
	byRole := make([]map[string]any, 0, len(stats))
	for _, st := range stats {
		totalCents += st.OutflowCents
		count += st.Count
		byRole = append(byRole, map[string]any{
			"role":         st.Role,
			"amount_cents": st.OutflowCents,
			"amount":       fromCents(st.OutflowCents),
			"count":        st.Count,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"days":        days,
		"since":       since,
		"total_cents": totalCents,
		"total":       fromCents(totalCents),
		"by_role":     byRole,
		"count":       count,
	})
}

func (as *AdminService) targetUserID(userID, identifier string) (string, error) {
	if userID != "" {
		return userID, nil
	}
	if identifier == "" {
		return "", walletErr(ErrInvalidInput, "userId or identifier required")
	}
	return as.resolver.ResolveUserID(identifier)
}
