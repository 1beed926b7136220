package config

import (
	"os"
	"strconv"
	"time"
)

type WalletConfig struct {
	Currency          string
	DefaultRole       string
	MaxNoteLength     int
	MaxListLimit      int
	QRImageSize       int
	IdempotencyHeader string
	RequestTimeout    time.Duration
}

func LoadWalletConfig() *WalletConfig {
	return &WalletConfig{
		Currency:          getEnv("WALLET_CURRENCY", "USD"),
		DefaultRole:       getEnv("WALLET_DEFAULT_ROLE", "student"),
		MaxNoteLength:     getEnvAsInt("WALLET_MAX_NOTE_LENGTH", 200),
		MaxListLimit:      getEnvAsInt("WALLET_MAX_LIST_LIMIT", 200),
		QRImageSize:       getEnvAsInt("WALLET_QR_IMAGE_SIZE", 256),
		IdempotencyHeader: getEnv("WALLET_IDEMPOTENCY_HEADER", "X-Idempotency-Key"),
		RequestTimeout:    getEnvAsDuration("WALLET_REQUEST_TIMEOUT", 60*time.Second),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
