package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/campuspay/backend/internal/config"
	"github.com/campuspay/backend/internal/middleware"
	"github.com/campuspay/backend/internal/models"
)

// WalletService exposes the wallet operations over HTTP. Amounts cross
// the boundary as decimal USD and are converted to integer cents here;
// the ledger never sees floating point.
type WalletService struct {
	db        *sql.DB
	ledger    *DoubleLedgerService
	resolver  *ResolverService
	pins      *PinService
	validator *ValidationHelper
	cfg       *config.WalletConfig
}

func NewWalletService(db *sql.DB, ledger *DoubleLedgerService, resolver *ResolverService) *WalletService {
	return &WalletService{
		db:        db,
		ledger:    ledger,
		resolver:  resolver,
		pins:      NewPinService(),
		validator: NewValidationHelper(),
		cfg:       config.LoadWalletConfig(),
	}
}

// PayRequest is the PIN-gated payment payload. From and To accept any
// identifier the resolver understands (user_id, @handle, +phone,
// qr:SECRET, card:UID).
type PayRequest struct {
	From           string  `json:"from" validate:"required"`
	To             string  `json:"to" validate:"required"`
	Amount         float64 `json:"amount" validate:"required,gt=0"`
	PIN            string  `json:"pin" validate:"required,min=4,max=8"`
	Note           string  `json:"note" validate:"omitempty,max=200"`
	IdempotencyKey string  `json:"idempotency_key"`
}

// Pay executes a PIN-gated transfer between any two resolvable identities
// @Summary Pay a recipient
// @Description Resolve sender and recipient, verify the sender PIN, enforce limits and move funds
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body PayRequest true "Payment request"
// @Success 200 {object} models.TransferResult
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /pay [post]
func (ws *WalletService) Pay(w http.ResponseWriter, r *http.Request) {
	var req PayRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	correlationID := ws.correlationID(r, req.IdempotencyKey)

	// Idempotent replay short-circuits before PIN and limit checks.
	if prior, err := ws.ledger.FindTransfer(correlationID); err != nil {
		SendWalletError(w, err)
		return
	} else if prior != nil {
		log.Printf("[TRANSFER] Replaying transfer for correlation %s", correlationID)
		ws.writeTransfer(w, prior)
		return
	}

	fromUserID, err := ws.resolver.ResolveUserID(req.From)
	if err != nil {
		SendWalletError(w, err)
		return
	}
	toUserID, err := ws.resolver.ResolveUserID(req.To)
	if err != nil {
		SendWalletError(w, err)
		return
	}

	if !ws.pins.ValidPIN(req.PIN) {
		SendWalletError(w, walletErr(ErrInvalidInput, "PIN must be 4-8 digits"))
		return
	}

	pinHash, err := ws.fetchPinHash(fromUserID)
	if err != nil {
		SendWalletError(w, err)
		return
	}
	if !ws.pins.VerifyPIN(req.PIN, pinHash) {
		log.Printf("[TRANSFER] PIN verification failed for %s", fromUserID)
		SendWalletError(w, walletErr(ErrInvalidCredential, "invalid PIN"))
		return
	}

	result, err := ws.ledger.Transfer(fromUserID, toUserID, toCents(req.Amount), req.Note, correlationID)
	if err != nil {
		SendWalletError(w, err)
		return
	}

	ws.writeTransfer(w, result)
}

// TransferRequest is the session-authenticated transfer payload: the
// sender is the verified caller, so no PIN re-entry is required.
type TransferRequest struct {
	To             string  `json:"to" validate:"required"`
	Amount         float64 `json:"amount" validate:"required,gt=0"`
	Note           string  `json:"note" validate:"omitempty,max=200"`
	IdempotencyKey string  `json:"idempotency_key"`
}

// Transfer moves funds from the authenticated caller to a recipient
// @Summary Transfer from own wallet
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body TransferRequest true "Transfer request"
// @Success 200 {object} models.TransferResult
// @Failure 400 {object} ErrorResponse
// @Router /wallet/transfer [post]
func (ws *WalletService) Transfer(w http.ResponseWriter, r *http.Request) {
	fromUserID := middleware.CallerUserID(r.Context())
	if fromUserID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req TransferRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	toUserID, err := ws.resolver.ResolveUserID(req.To)
	if err != nil {
		SendWalletError(w, err)
		return
	}

	correlationID := ws.correlationID(r, req.IdempotencyKey)

	result, err := ws.ledger.Transfer(fromUserID, toUserID, toCents(req.Amount), req.Note, correlationID)
	if err != nil {
		SendWalletError(w, err)
		return
	}

	ws.writeTransfer(w, result)
}

// Balance returns the caller's balance
// @Summary Get wallet balance
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{balance_cents=int64,balance=float64}
// @Router /wallet/balance [get]
func (ws *WalletService) Balance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.CallerUserID(r.Context())
	if userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	cents, err := ws.ledger.CurrentBalance(userID)
	if err != nil {
		SendWalletError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"balance_cents": cents,
		"balance":       fromCents(cents),
	})
}

// Transactions lists the caller's ledger entries, newest first
// @Summary List wallet transactions
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max rows (default 50)"
// @Success 200 {object} object{transactions=[]object}
// @Router /wallet/transactions [get]
func (ws *WalletService) Transactions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.CallerUserID(r.Context())
	if userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > ws.cfg.MaxListLimit {
		limit = ws.cfg.MaxListLimit
	}

	entries, err := ws.ledger.ListEntries(userID, limit)
	if err != nil {
		SendWalletError(w, err)
		return
	}

	tx := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		tx = append(tx, map[string]any{
			"id":             e.ID,
			"amount":         fromCents(e.AmountCents),
			"amount_cents":   e.AmountCents,
			"currency":       e.Currency,
			"type":           e.Kind,
			"reference_id":   e.ReferenceID,
			"correlation_id": e.CorrelationID,
			"note":           e.Note,
			"createdAt":      e.CreatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"transactions": tx})
}

func (ws *WalletService) writeTransfer(w http.ResponseWriter, result *models.TransferResult) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"ok":       true,
		"transfer": result,
	})
}

func (ws *WalletService) correlationID(r *http.Request, bodyKey string) string {
	if bodyKey != "" {
		return bodyKey
	}
	if header := r.Header.Get(ws.cfg.IdempotencyHeader); header != "" {
		return header
	}
	// A generated key still makes the single request safe against a store
	// write racing its own retry, but callers must reuse their own key
	// across client-level retries.
	return uuid.NewString()
}

func (ws *WalletService) fetchPinHash(userID string) (string, error) {
	var hash sql.NullString
	err := ws.db.QueryRow(`SELECT pin_hash FROM identifier_bindings WHERE user_id = $1`, userID).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return hash.String, nil
}

func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func fromCents(cents int64) float64 {
	return float64(cents) / 100
}
