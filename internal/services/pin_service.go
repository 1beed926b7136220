package services

import (
	cryptorand "crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"regexp"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Transaction PIN hashing. The stored format is "v1$<salt>$<key>" (both
// base64) so the version tag and per-account salt travel with the hash.
const (
	pinHashVersion = "v1"
	pinSaltLength  = 16
	pinTime        = 1
	pinMemory      = 64 * 1024
	pinThreads     = 4
	pinKeyLength   = 32
)

var pinFormat = regexp.MustCompile(`^[0-9]{4,8}$`)

type PinService struct{}

func NewPinService() *PinService {
	return &PinService{}
}

// ValidPIN reports whether the PIN is 4-8 decimal digits.
func (p *PinService) ValidPIN(pin string) bool {
	return pinFormat.MatchString(pin)
}

// HashPIN derives a salted argon2id hash for a transaction PIN.
func (p *PinService) HashPIN(pin string) (string, error) {
	if !p.ValidPIN(pin) {
		return "", walletErr(ErrInvalidInput, "PIN must be 4-8 digits")
	}

	salt := make([]byte, pinSaltLength)
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(pin), salt, pinTime, pinMemory, pinThreads, pinKeyLength)
	return pinHashVersion + "$" +
		base64.StdEncoding.EncodeToString(salt) + "$" +
		base64.StdEncoding.EncodeToString(key), nil
}

// VerifyPIN checks a PIN against a stored hash in constant time. A missing
// or malformed stored hash verifies false, never errors.
func (p *PinService) VerifyPIN(pin, stored string) bool {
	if stored == "" || !p.ValidPIN(pin) {
		return false
	}

	parts := strings.Split(stored, "$")
	if len(parts) != 3 || parts[0] != pinHashVersion {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	target, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}

	derived := argon2.IDKey([]byte(pin), salt, pinTime, pinMemory, pinThreads, uint32(len(target)))
	return subtle.ConstantTimeCompare(derived, target) == 1
}
