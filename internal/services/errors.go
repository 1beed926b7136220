package services

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
)

// ErrorKind classifies the recoverable failure modes of wallet operations.
// The transport layer maps each kind to a status code; the services only
// produce the kind plus an optional detail string.
type ErrorKind string

const (
	ErrNotFound          ErrorKind = "not_found"
	ErrInvalidCredential ErrorKind = "invalid_credential"
	ErrInsufficientFunds ErrorKind = "insufficient_funds"
	ErrLimitExceeded     ErrorKind = "limit_exceeded"
	ErrAccountFrozen     ErrorKind = "account_frozen"
	ErrSelfTransfer      ErrorKind = "self_transfer"
	ErrConflict          ErrorKind = "conflict"
	ErrForbidden         ErrorKind = "forbidden"
	ErrInvalidInput      ErrorKind = "invalid_input"
	ErrUnavailable       ErrorKind = "unavailable"
)

type WalletError struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

func (e *WalletError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Detail
}

func walletErr(kind ErrorKind, detail string) *WalletError {
	return &WalletError{Kind: kind, Detail: detail}
}

// HTTPStatus maps the error kind to its transport status code.
func (e *WalletError) HTTPStatus() int {
	switch e.Kind {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrInvalidCredential:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict:
		return http.StatusConflict
	case ErrInsufficientFunds, ErrLimitExceeded, ErrAccountFrozen, ErrSelfTransfer, ErrInvalidInput:
		return http.StatusBadRequest
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsKind reports whether err is a WalletError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var we *WalletError
	return errors.As(err, &we) && we.Kind == kind
}

// SendWalletError writes a structured error response. Unexpected errors
// (driver failures, timeouts) are reported as a retryable internal error
// without leaking the underlying message.
func SendWalletError(w http.ResponseWriter, err error) {
	var we *WalletError
	if !errors.As(err, &we) {
		log.Printf("[WALLET] Internal error: %v", err)
		we = walletErr(ErrUnavailable, "operation failed, safe to retry with the same idempotency key")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(we.HTTPStatus())
	json.NewEncoder(w).Encode(map[string]any{
		"error": we.Detail,
		"kind":  we.Kind,
	})
}
