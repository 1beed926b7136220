package audit

import (
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	CorrelationID string    `json:"correlation_id"`
	UserID        string    `json:"user_id"`
	AmountCents   int64     `json:"amount_cents"`
	Status        string    `json:"status"`
	Details       any       `json:"details"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogTransfer(correlationID, fromUserID, toUserID string, amountCents int64, status string) {
	event := Event{
		Timestamp:     time.Now(),
		EventType:     "TRANSFER",
		CorrelationID: correlationID,
		AmountCents:   amountCents,
		Status:        status,
		Details: map[string]string{
			"from_user": fromUserID,
			"to_user":   toUserID,
		},
	}
	a.log(event)
}

func (a *Logger) LogAdjustment(correlationID, userID string, amountCents int64, note string) {
	event := Event{
		Timestamp:     time.Now(),
		EventType:     "ADMIN_ADJUST",
		CorrelationID: correlationID,
		UserID:        userID,
		AmountCents:   amountCents,
		Status:        "SUCCESS",
		Details:       map[string]string{"note": note},
	}
	a.log(event)
}

func (a *Logger) LogError(correlationID, userID string, err error) {
	event := Event{
		Timestamp:     time.Now(),
		EventType:     "ERROR",
		CorrelationID: correlationID,
		UserID:        userID,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *Logger) LogOperation(correlationID, userID, operation, details string) {
	event := Event{
		Timestamp:     time.Now(),
		EventType:     operation,
		CorrelationID: correlationID,
		UserID:        userID,
		Status:        "SUCCESS",
		Details:       map[string]string{"details": details},
	}
	a.log(event)
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
