package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/campuspay/backend/internal/config"
	"github.com/campuspay/backend/internal/middleware"
	"github.com/campuspay/backend/internal/services"
)

type QRHandler struct {
	cards     *services.CardService
	resolver  *services.ResolverService
	redis     *redis.Client
	validator *services.ValidationHelper
	cfg       *config.WalletConfig
}

func NewQRHandler(cards *services.CardService, resolver *services.ResolverService, redisClient *redis.Client) *QRHandler {
	return &QRHandler{
		cards:     cards,
		resolver:  resolver,
		redis:     redisClient,
		validator: services.NewValidationHelper(),
		cfg:       config.LoadWalletConfig(),
	}
}

// GetQR returns the caller's stable receive QR code
// @Summary Get receive QR code
// @Description Returns the scannable payload and a PNG image for receiving payments
// @Tags QR
// @Produce json
// @Security BearerAuth
// @Param identifier query string false "Look up another account's QR (defaults to caller)"
// @Success 200 {object} object{payload=string,qrImage=string}
// @Failure 401 {object} services.ErrorResponse
// @Router /qr [get]
func (h *QRHandler) GetQR(w http.ResponseWriter, r *http.Request) {
	userID := middleware.CallerUserID(r.Context())
	if userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	if identifier := r.URL.Query().Get("identifier"); identifier != "" {
		resolved, err := h.resolver.ResolveUserID(identifier)
		if err != nil {
			services.SendWalletError(w, err)
			return
		}
		userID = resolved
	}

	secret, err := h.cards.EnsureQRSecret(userID)
	if err != nil {
		services.SendWalletError(w, err)
		return
	}

	payload := "qr:" + secret
	image, err := h.renderPNG(payload)
	if err != nil {
		services.SendWalletError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"payload": payload,
		"qrImage": image,
	})
}

// CreatePaymentQR mints a short-lived amount-bearing payment request
// @Summary Create a payment request QR
// @Description Encodes the caller's identity and a requested amount; expires after five minutes
// @Tags QR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=float64,note=string} true "Payment request"
// @Success 200 {object} object{requestId=string,qrImage=string}
// @Failure 400 {object} services.ErrorResponse
// @Router /qr/request [post]
func (h *QRHandler) CreatePaymentQR(w http.ResponseWriter, r *http.Request) {
	userID := middleware.CallerUserID(r.Context())
	if userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount float64 `json:"amount" validate:"required,gt=0"`
		Note   string  `json:"note" validate:"omitempty,max=200"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	requestID := uuid.NewString()
	payload, _ := json.Marshal(map[string]any{
		"requestId": requestID,
		"to":        userID,
		"amount":    req.Amount,
		"note":      req.Note,
		"createdAt": time.Now().Unix(),
	})

	if h.redis != nil {
		key := fmt.Sprintf("payreq:%s", requestID)
		if err := h.redis.Set(r.Context(), key, payload, 5*time.Minute).Err(); err != nil {
			services.SendWalletError(w, err)
			return
		}
	}

	image, err := h.renderPNG(base64.URLEncoding.EncodeToString(payload))
	if err != nil {
		services.SendWalletError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"requestId": requestID,
		"qrImage":   image,
	})
}

// ResolvePaymentQR looks up a scanned payment request
// @Summary Resolve a payment request QR
// @Tags QR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{requestId=string} true "Scanned request id"
// @Success 200 {object} map[string]any
// @Failure 404 {object} services.ErrorResponse
// @Router /qr/resolve [post]
func (h *QRHandler) ResolvePaymentQR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestID string `json:"requestId" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if h.redis == nil {
		services.SendErrorResponse(w, "Payment requests unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	key := fmt.Sprintf("payreq:%s", req.RequestID)
	data, err := h.redis.Get(r.Context(), key).Bytes()
	if err == redis.Nil {
		services.SendErrorResponse(w, "Invalid or expired payment request", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		services.SendWalletError(w, err)
		return
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		services.SendWalletError(w, err)
		return
	}

	// One scan per request.
	h.redis.Del(r.Context(), key)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"request": result})
}

func (h *QRHandler) renderPNG(content string) (string, error) {
	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(h.cfg.QRImageSize)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
