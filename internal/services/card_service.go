package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/campuspay/backend/internal/middleware"
	"github.com/campuspay/backend/internal/models"
)

// CardService manages card binding requests and the registry that maps
// physical card UIDs and QR secrets onto wallet accounts.
type CardService struct {
	db        *sql.DB
	resolver  *ResolverService
	validator *ValidationHelper
}

func NewCardService(db *sql.DB, resolver *ResolverService) *CardService {
	return &CardService{
		db:        db,
		resolver:  resolver,
		validator: NewValidationHelper(),
	}
}

// RequestCard opens a card request for the calling user
// @Summary Request a card
// @Description Opens a pending card request; repeated calls return the existing pending request
// @Tags cards
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.CardRequest
// @Failure 401 {object} ErrorResponse
// @Router /cards/request [post]
func (cs *CardService) RequestCard(w http.ResponseWriter, r *http.Request) {
	userID := middleware.CallerUserID(r.Context())
	if userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	role := middleware.CallerRole(r.Context())

	// One open request per user. A second call is a no-op returning
	// the request already on file.
	existing, err := cs.pendingRequest(userID)
	if err != nil {
		SendWalletError(w, err)
		return
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"request": existing, "replayed": true})
		return
	}

	req := models.CardRequest{
		ID:        uuid.NewString(),
		UserID:    userID,
		Role:      role,
		Status:    models.CardRequestPending,
		CreatedAt: time.Now().UTC(),
	}
	_, err = cs.db.Exec(`
		INSERT INTO card_requests (id, user_id, role, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		req.ID, req.UserID, req.Role, req.Status, req.CreatedAt)
	if err != nil {
		// A concurrent request slipped in between the check and the
		// insert; surface the one that won.
		if pqErr, isPq := err.(*pq.Error); isPq && pqErr.Code.Name() == "unique_violation" {
			if existing, lookupErr := cs.pendingRequest(userID); lookupErr == nil && existing != nil {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]any{"request": existing, "replayed": true})
				return
			}
		}
		SendWalletError(w, err)
		return
	}

	log.Printf("[CARDS] Opened card request %s for %s", req.ID, userID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"request": req, "replayed": false})
}

// ApproveRequest approves a pending card request and binds a card
// @Summary Approve a card request
// @Tags cards
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{requestId=string,cardUid=string} true "Approval"
// @Success 200 {object} models.CardRequest
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /admin/cards/requests/approve [post]
func (cs *CardService) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestID string `json:"requestId" validate:"required"`
		CardUID   string `json:"cardUid" validate:"required,min=4,max=64"`
	}
	if !decodeBody(w, r, cs.validator, &req) {
		return
	}

	approver := middleware.CallerUserID(r.Context())

	tx, err := cs.db.Begin()
	if err != nil {
		SendWalletError(w, err)
		return
	}
	defer tx.Rollback()

	var cardReq models.CardRequest
	err = tx.QueryRow(`
		SELECT id, user_id, role, status, created_at
		FROM card_requests WHERE id = $1 FOR UPDATE`, req.RequestID).
		Scan(&cardReq.ID, &cardReq.UserID, &cardReq.Role, &cardReq.Status, &cardReq.CreatedAt)
	if err == sql.ErrNoRows {
		SendWalletError(w, walletErr(ErrNotFound, "card request not found"))
		return
	}
	if err != nil {
		SendWalletError(w, err)
		return
	}
	if cardReq.Status != models.CardRequestPending {
		SendWalletError(w, walletErr(ErrConflict, "card request already processed"))
		return
	}

	if err := bindCard(tx, req.CardUID, cardReq.UserID); err != nil {
		SendWalletError(w, err)
		return
	}

	now := time.Now().UTC()
	nfcLink := "card:" + req.CardUID
	_, err = tx.Exec(`
		UPDATE card_requests
		SET status = $1, card_uid = $2, nfc_link = $3, approved_by = $4, approved_at = $5
		WHERE id = $6`,
		models.CardRequestApproved, req.CardUID, nfcLink, approver, now, cardReq.ID)
	if err != nil {
		SendWalletError(w, err)
		return
	}

	if err := tx.Commit(); err != nil {
		SendWalletError(w, err)
		return
	}

	cardReq.Status = models.CardRequestApproved
	cardReq.CardUID = req.CardUID
	cardReq.NFCLink = nfcLink
	cardReq.ApprovedBy = approver
	cardReq.ApprovedAt = &now

	log.Printf("[CARDS] Approved request %s, bound card %s to %s", cardReq.ID, req.CardUID, cardReq.UserID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"request": cardReq})
}

// ListRequests lists card requests, optionally filtered by status
// @Summary List card requests
// @Tags cards
// @Produce json
// @Security BearerAuth
// @Param status query string false "pending or approved"
// @Success 200 {object} object{requests=[]models.CardRequest}
// @Router /admin/cards/requests [get]
func (cs *CardService) ListRequests(w http.ResponseWriter, r *http.Request) {
	query := `
		SELECT id, user_id, role, status, COALESCE(card_uid, ''), COALESCE(nfc_link, ''),
		       COALESCE(approved_by, ''), approved_at, created_at
		FROM card_requests`
	args := []any{}
	if status := r.URL.Query().Get("status"); status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := cs.db.Query(query, args...)
	if err != nil {
		SendWalletError(w, err)
		return
	}
	defer rows.Close()

	requests := []models.CardRequest{}
	for rows.Next() {
		var cr models.CardRequest
		var approvedAt sql.NullTime
		if err := rows.Scan(&cr.ID, &cr.UserID, &cr.Role, &cr.Status, &cr.CardUID,
			&cr.NFCLink, &cr.ApprovedBy, &approvedAt, &cr.CreatedAt); err != nil {
			SendWalletError(w, err)
			return
		}
		if approvedAt.Valid {
			cr.ApprovedAt = &approvedAt.Time
		}
		requests = append(requests, cr)
	}
	if err := rows.Err(); err != nil {
		SendWalletError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"requests": requests})
}

// LinkCard binds a card UID to a user without a request
// @Summary Link a card
// @Tags cards
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{cardUid=string,userId=string} true "Binding"
// @Success 200 {object} object{ok=bool}
// @Failure 409 {object} ErrorResponse
// @Router /admin/cards/link [post]
func (cs *CardService) LinkCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CardUID string `json:"cardUid" validate:"required,min=4,max=64"`
		UserID  string `json:"userId" validate:"required"`
	}
	if !decodeBody(w, r, cs.validator, &req) {
		return
	}

	if err := bindCard(cs.db, req.CardUID, req.UserID); err != nil {
		SendWalletError(w, err)
		return
	}

	log.Printf("[CARDS] Linked card %s to %s", req.CardUID, req.UserID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true})
}

// UnlinkCard revokes a card binding
// @Summary Unlink a card
// @Tags cards
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{cardUid=string} true "Card UID"
// @Success 200 {object} object{ok=bool}
// @Failure 404 {object} ErrorResponse
// @Router /admin/cards/unlink [post]
func (cs *CardService) UnlinkCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CardUID string `json:"cardUid" validate:"required"`
	}
	if !decodeBody(w, r, cs.validator, &req) {
		return
	}

	result, err := cs.db.Exec(`
		UPDATE card_bindings SET active = FALSE, revoked_at = NOW()
		WHERE card_uid = $1 AND active = TRUE`, req.CardUID)
	if err != nil {
		SendWalletError(w, err)
		return
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		SendWalletError(w, walletErr(ErrNotFound, "no active binding for card"))
		return
	}

	log.Printf("[CARDS] Revoked card %s", req.CardUID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true})
}

// ListCards lists card bindings for a user
// @Summary List a user's cards
// @Tags cards
// @Produce json
// @Security BearerAuth
// @Param userId query string false "User id"
// @Param identifier query string false "Any resolvable identifier"
// @Success 200 {object} object{cards=[]models.CardBinding}
// @Router /admin/cards [get]
func (cs *CardService) ListCards(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		identifier := r.URL.Query().Get("identifier")
		if identifier == "" {
			SendWalletError(w, walletErr(ErrInvalidInput, "userId or identifier required"))
			return
		}
		resolved, err := cs.resolver.ResolveUserID(identifier)
		if err != nil {
			SendWalletError(w, err)
			return
		}
		userID = resolved
	}

	rows, err := cs.db.Query(`
		SELECT card_uid, user_id, active, issued_at, revoked_at
		FROM card_bindings WHERE user_id = $1 ORDER BY issued_at DESC`, userID)
	if err != nil {
		SendWalletError(w, err)
		return
	}
	defer rows.Close()

	cards := []models.CardBinding{}
	for rows.Next() {
		var cb models.CardBinding
		var revokedAt sql.NullTime
		if err := rows.Scan(&cb.CardUID, &cb.UserID, &cb.Active, &cb.IssuedAt, &revokedAt); err != nil {
			SendWalletError(w, err)
			return
		}
		if revokedAt.Valid {
			cb.RevokedAt = &revokedAt.Time
		}
		cards = append(cards, cb)
	}
	if err := rows.Err(); err != nil {
		SendWalletError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"cards": cards})
}

// EnsureQRSecret returns the user's QR secret, minting and persisting
// one on first use.
func (cs *CardService) EnsureQRSecret(userID string) (string, error) {
	var secret sql.NullString
	err := cs.db.QueryRow(`SELECT qr_secret FROM identifier_bindings WHERE user_id = $1`, userID).Scan(&secret)
	if err != nil && err != sql.ErrNoRows {
		return "", err
	}
	if secret.Valid && secret.String != "" {
		return secret.String, nil
	}

	fresh := uuid.NewString()
	_, err = cs.db.Exec(`
		INSERT INTO identifier_bindings (user_id, qr_secret)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET qr_secret = EXCLUDED.qr_secret
		WHERE identifier_bindings.qr_secret IS NULL`,
		userID, fresh)
	if err != nil {
		return "", err
	}

	// Re-read rather than assume our write won; a concurrent mint may
	// have persisted first.
	err = cs.db.QueryRow(`SELECT qr_secret FROM identifier_bindings WHERE user_id = $1`, userID).Scan(&secret)
	if err != nil {
		return "", err
	}
	return secret.String, nil
}

func (cs *CardService) pendingRequest(userID string) (*models.CardRequest, error) {
	var cr models.CardRequest
	err := cs.db.QueryRow(`
		SELECT id, user_id, role, status, created_at
		FROM card_requests WHERE user_id = $1 AND status = $2`,
		userID, models.CardRequestPending).
		Scan(&cr.ID, &cr.UserID, &cr.Role, &cr.Status, &cr.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cr, nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

// bindCard upserts an active binding for cardUid. A card already bound
// to a different user is a conflict; rebinding a revoked card
// reactivates it for the new owner.
func bindCard(q execer, cardUID, userID string) error {
	var boundTo string
	var active bool
	err := q.QueryRow(`SELECT user_id, active FROM card_bindings WHERE card_uid = $1`, cardUID).
		Scan(&boundTo, &active)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if err == nil && active && boundTo != userID {
		return walletErr(ErrConflict, "card already bound to another user")
	}

	_, err = q.Exec(`
		INSERT INTO card_bindings (card_uid, user_id, active, issued_at, revoked_at)
		VALUES ($1, $2, TRUE, NOW(), NULL)
		ON CONFLICT (card_uid) DO UPDATE
		SET user_id = EXCLUDED.user_id, active = TRUE, issued_at = NOW(), revoked_at = NULL`,
		cardUID, userID)
	return err
}
