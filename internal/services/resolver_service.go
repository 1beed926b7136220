package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"

	"github.com/campuspay/backend/internal/middleware"
	"github.com/campuspay/backend/internal/models"
)

// ResolverService maps user-supplied identifier strings to canonical
// account ids. Every other component resolves through here so the
// qr:/card:/@/+ parsing cannot drift between call sites.
type ResolverService struct {
	db        *sql.DB
	validator *ValidationHelper
}

var (
	phoneFormat  = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	handleFormat = regexp.MustCompile(`^[a-z0-9_]{3,30}$`)
	nonPhone     = regexp.MustCompile(`[^0-9+]`)
)

func NewResolverService(db *sql.DB) *ResolverService {
	return &ResolverService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// ResolveUserID resolves an identifier to a canonical account id.
// Parsing precedence: qr: secret, card: UID, @handle, phone, literal
// user_id. Read-only; a miss is a NotFound, never a partial match.
func (rs *ResolverService) ResolveUserID(identifier string) (string, error) {
	norm := strings.TrimSpace(identifier)
	if norm == "" {
		return "", walletErr(ErrInvalidInput, "identifier is required")
	}

	if secret, ok := strings.CutPrefix(norm, "qr:"); ok {
		return rs.lookupBinding("qr_secret", strings.ToLower(secret))
	}

	if uid, ok := strings.CutPrefix(norm, "card:"); ok {
		return rs.lookupCard(uid)
	}

	lower := strings.ToLower(norm)
	if handle, ok := strings.CutPrefix(lower, "@"); ok {
		return rs.lookupBinding("handle", handle)
	}

	if phone, ok := NormalizePhone(norm); ok {
		return rs.lookupBinding("phone", phone)
	}

	// Literal user_id fallback, verified against accounts.
	var userID string
	err := rs.db.QueryRow(`SELECT user_id FROM accounts WHERE user_id = $1`, norm).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", walletErr(ErrNotFound, "user not found")
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (rs *ResolverService) lookupBinding(column, value string) (string, error) {
	var userID string
	var err error
	switch column {
	case "qr_secret":
		err = rs.db.QueryRow(`SELECT user_id FROM identifier_bindings WHERE qr_secret = $1`, value).Scan(&userID)
	case "handle":
		err = rs.db.QueryRow(`SELECT user_id FROM identifier_bindings WHERE handle = $1`, value).Scan(&userID)
	case "phone":
		err = rs.db.QueryRow(`SELECT user_id FROM identifier_bindings WHERE phone = $1`, value).Scan(&userID)
	}
	if err == sql.ErrNoRows {
		return "", walletErr(ErrNotFound, "user not found")
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (rs *ResolverService) lookupCard(cardUID string) (string, error) {
	var userID string
	var active bool
	err := rs.db.QueryRow(`SELECT user_id, active FROM card_bindings WHERE card_uid = $1`, cardUID).Scan(&userID, &active)
	if err == sql.ErrNoRows {
		return "", walletErr(ErrNotFound, "card not bound")
	}
	if err != nil {
		return "", err
	}
	if !active {
		return "", walletErr(ErrNotFound, "card revoked")
	}
	return userID, nil
}

// NormalizePhone strips separators and returns an E.164-ish "+"-prefixed
// digit string when the input looks like a phone number (7-15 digits).
func NormalizePhone(raw string) (string, bool) {
	digits := nonPhone.ReplaceAllString(strings.TrimSpace(raw), "")
	if !phoneFormat.MatchString(digits) {
		return "", false
	}
	if !strings.HasPrefix(digits, "+") {
		digits = "+" + digits
	}
	return digits, true
}

// NormalizeHandle lowercases and strips leading @s; returns false when the
// result is not 3-30 chars of [a-z0-9_].
func NormalizeHandle(raw string) (string, bool) {
	h := strings.ToLower(strings.TrimLeft(strings.TrimSpace(raw), "@"))
	if !handleFormat.MatchString(h) {
		return "", false
	}
	return h, true
}

// Resolve looks up an account by any supported identifier
// @Summary Resolve identifier
// @Description Resolve a user id, @handle, phone, qr: secret or card: UID to an account
// @Tags directory
// @Produce json
// @Security BearerAuth
// @Param q query string true "Identifier"
// @Success 200 {object} models.DirectoryEntry
// @Failure 404 {object} ErrorResponse
// @Router /resolve [get]
func (rs *ResolverService) Resolve(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		SendErrorResponse(w, "q is required", http.StatusBadRequest, nil)
		return
	}

	userID, err := rs.ResolveUserID(q)
	if err != nil {
		SendWalletError(w, err)
		return
	}

	entry, err := rs.fetchDirectoryEntry(userID)
	if err != nil {
		SendWalletError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"user": entry})
}

// GetDirectory returns the caller's own directory entry
// @Summary Get own directory entry
// @Tags directory
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.DirectoryEntry
// @Router /directory [get]
func (rs *ResolverService) GetDirectory(w http.ResponseWriter, r *http.Request) {
	userID := middleware.CallerUserID(r.Context())
	if userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	entry, err := rs.fetchDirectoryEntry(userID)
	if err != nil {
		SendWalletError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"user": entry})
}

// UpdateDirectory upserts the caller's handle, phone and display name
// @Summary Update own directory entry
// @Tags directory
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{handle=string,phone=string,displayName=string} true "Directory update"
// @Success 200 {object} models.DirectoryEntry
// @Failure 409 {object} ErrorResponse
// @Router /directory [post]
func (rs *ResolverService) UpdateDirectory(w http.ResponseWriter, r *http.Request) {
	userID := middleware.CallerUserID(r.Context())
	if userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Handle      string `json:"handle"`
		Phone       string `json:"phone"`
		DisplayName string `json:"displayName" validate:"omitempty,max=100"`
	}

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

	if err := rs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var handle, phone sql.NullString
	if req.Handle != "" {
		h, ok := NormalizeHandle(req.Handle)
		if !ok {
			SendWalletError(w, walletErr(ErrInvalidInput, "handle must be 3-30 chars: lowercase letters, numbers, underscore"))
			return
		}
		handle = sql.NullString{String: h, Valid: true}
	}
	if req.Phone != "" {
		p, ok := NormalizePhone(req.Phone)
		if !ok {
			SendWalletError(w, walletErr(ErrInvalidInput, "phone must be 7-15 digits, optionally starting with +"))
			return
		}
		phone = sql.NullString{String: p, Valid: true}
	}

	// Uniqueness checks up front for friendlier errors; the unique indexes
	// still backstop races.
	if handle.Valid {
		if taken, err := rs.boundToOther("handle", handle.String, userID); err != nil {
			SendWalletError(w, err)
			return
		} else if taken {
			SendWalletError(w, walletErr(ErrConflict, "handle already taken"))
			return
		}
	}
	if phone.Valid {
		if taken, err := rs.boundToOther("phone", phone.String, userID); err != nil {
			SendWalletError(w, err)
			return
		} else if taken {
			SendWalletError(w, walletErr(ErrConflict, "phone already in use"))
			return
		}
	}

	displayName := sql.NullString{String: strings.TrimSpace(req.DisplayName), Valid: strings.TrimSpace(req.DisplayName) != ""}

	_, err := rs.db.Exec(`
		INSERT INTO identifier_bindings (user_id, handle, phone, display_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET handle = EXCLUDED.handle, phone = EXCLUDED.phone, display_name = EXCLUDED.display_name`,
		userID, handle, phone, displayName)
	if err != nil {
		log.Printf("[RESOLVE] Directory upsert failed for %s: %v", userID, err)
		SendWalletError(w, walletErr(ErrConflict, "identifier already in use"))
		return
	}

	entry, err := rs.fetchDirectoryEntry(userID)
	if err != nil {
		SendWalletError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"user": entry})
}

func (rs *ResolverService) boundToOther(column, value, userID string) (bool, error) {
	var owner string
	var err error
	if column == "handle" {
		err = rs.db.QueryRow(`SELECT user_id FROM identifier_bindings WHERE handle = $1`, value).Scan(&owner)
	} else {
		err = rs.db.QueryRow(`SELECT user_id FROM identifier_bindings WHERE phone = $1`, value).Scan(&owner)
	}
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner != userID, nil
}

func (rs *ResolverService) fetchDirectoryEntry(userID string) (*models.DirectoryEntry, error) {
	entry := &models.DirectoryEntry{UserID: userID}
	var handle, phone, displayName sql.NullString
	err := rs.db.QueryRow(`
		SELECT handle, phone, display_name FROM identifier_bindings WHERE user_id = $1`,
		userID).Scan(&handle, &phone, &displayName)
	if err == sql.ErrNoRows {
		return entry, nil
	}
	if err != nil {
		return nil, err
	}
	entry.Handle = handle.String
	entry.Phone = phone.String
	entry.DisplayName = displayName.String
	return entry, nil
}
