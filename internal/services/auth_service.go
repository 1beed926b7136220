package services

import (
	"context"
	cryptorand "crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"

	"github.com/campuspay/backend/internal/database"
	"github.com/campuspay/backend/internal/middleware"
	"github.com/campuspay/backend/internal/models"
)

type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *ValidationHelper
}

// RegisterRequest represents the registration request payload
// @Description Registration request structure
type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email" example:"ada@school.edu"`       // User email address
	Password    string `json:"password" validate:"required,min=8" example:"password123"`       // User password
	DisplayName string `json:"displayName" validate:"required,min=2" example:"Ada Obi"`        // Display name
	Role        string `json:"role" validate:"omitempty,oneof=student teacher vendor"`         // Account role (default student)
	Handle      string `json:"handle" validate:"omitempty" example:"ada_obi"`                  // Optional directory handle
	PhoneNumber string `json:"phoneNumber" validate:"omitempty" example:"+2348012345678"`      // Optional phone number
}

// LoginRequest represents the login request payload
// @Description Login request structure
type LoginRequest struct {
	Email       string `json:"email" validate:"omitempty,email" example:"ada@school.edu"` // Email (or use phoneNumber)
	PhoneNumber string `json:"phoneNumber" validate:"omitempty" example:"+2348012345678"` // Phone (or use email)
	Password    string `json:"password" validate:"required,min=8" example:"password123"`  // User password
}

// AuthResponse represents the authentication response
// @Description Authentication response structure
type AuthResponse struct {
	Token string      `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."` // JWT token
	User  models.User `json:"user"`                                                    // User information
}

func NewAuthService(db *sql.DB, redisClient *redis.Client) *AuthService {
	return &AuthService{
		db:        db,
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

// Register handles user registration
// @Summary Register a new user
// @Description Creates the user, a zero-balance wallet account and the identifier bindings in one step
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration request"
// @Success 200 {object} AuthResponse "Registration successful"
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /auth/register [post]
func (s *AuthService) Register(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Registration attempt from IP: %s", r.RemoteAddr)

	var req RegisterRequest
	if !decodeBody(w, r, s.validator, &req) {
		return
	}

	role := req.Role
	if role == "" {
		role = models.RoleStudent
	}

	handle := req.Handle
	if handle != "" {
		normalized, ok := NormalizeHandle(handle)
		if !ok {
			SendWalletError(w, walletErr(ErrInvalidInput, "handle must be 3-30 chars of a-z, 0-9 or _"))
			return
		}
		handle = normalized
	}
	phone := req.PhoneNumber
	if phone != "" {
		normalized, ok := NormalizePhone(phone)
		if !ok {
			SendWalletError(w, walletErr(ErrInvalidInput, "phone number is not valid"))
			return
		}
		phone = normalized
	}

	hashedPassword, err := hashPassword(req.Password)
	if err != nil {
		log.Printf("[AUTH] Password hashing failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	userID := uuid.NewString()
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[AUTH] Transaction start failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO users (id, email, password, display_name, role, phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		userID, strings.ToLower(req.Email), hashedPassword, req.DisplayName, role, phone, now)
	if err != nil {
		log.Printf("[AUTH] User creation failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Email Already Exists", http.StatusConflict, nil)
		return
	}

	currency := viper.GetString("wallet.currency")
	if currency == "" {
		currency = "USD"
	}
	_, err = tx.Exec(`
		INSERT INTO accounts (user_id, role, frozen, balance_cents, version, currency, created_at, updated_at)
		VALUES ($1, $2, FALSE, 0, 1, $3, $4, $4)`,
		userID, role, currency, now)
	if err != nil {
		log.Printf("[AUTH] Account creation failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	var nullableHandle, nullablePhone any
	if handle != "" {
		nullableHandle = handle
	}
	if phone != "" {
		nullablePhone = phone
	}
	_, err = tx.Exec(`
		INSERT INTO identifier_bindings (user_id, handle, phone)
		VALUES ($1, $2, $3)`,
		userID, nullableHandle, nullablePhone)
	if err != nil {
		log.Printf("[AUTH] Binding creation failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Handle or phone already in use", http.StatusConflict, nil)
		return
	}

	if err = tx.Commit(); err != nil {
		log.Printf("[AUTH] Transaction commit failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] User created successfully - ID: %s, Email: %s", userID, req.Email)

	token, err := generateJWT(userID, role)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	response := AuthResponse{
		Token: token,
		User: models.User{
			ID:          userID,
			Email:       strings.ToLower(req.Email),
			DisplayName: req.DisplayName,
			Role:        role,
			Phone:       phone,
			CreatedAt:   now,
		},
	}

	log.Printf("[AUTH] Registration successful for user %s", userID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// Login handles user authentication
// @Summary Login user
// @Description Authenticate with email or phone number plus password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse "Login successful"
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	var req LoginRequest
	if !decodeBody(w, r, s.validator, &req) {
		return
	}
	if req.Email == "" && req.PhoneNumber == "" {
		SendErrorResponse(w, "Email or phone number required", http.StatusBadRequest, nil)
		return
	}

	query := `SELECT id, email, password, display_name, role, COALESCE(phone, ''), created_at FROM users WHERE email = $1`
	arg := strings.ToLower(req.Email)
	if req.Email == "" {
		normalized, ok := NormalizePhone(req.PhoneNumber)
		if !ok {
			SendWalletError(w, walletErr(ErrInvalidInput, "phone number is not valid"))
			return
		}
		query = `SELECT id, email, password, display_name, role, COALESCE(phone, ''), created_at FROM users WHERE phone = $1`
		arg = normalized
	}

	var user models.User
	var hashedPassword string
	err := s.db.QueryRow(query, arg).
		Scan(&user.ID, &user.Email, &hashedPassword, &user.DisplayName, &user.Role, &user.Phone, &user.CreatedAt)
	if err != nil {
		log.Printf("[AUTH] User not found for login: %s", arg)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if !verifyPassword(req.Password, hashedPassword) {
		log.Printf("[AUTH] Invalid password for user: %s", user.ID)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	token, err := generateJWT(user.ID, user.Role)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for user %s: %v", user.ID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Login successful for user %s", user.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Token: token, User: user})
}

// Logout handles user logout
// @Summary Logout user
// @Description Blacklists the presented token until it would have expired
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string "Logout successful"
// @Router /auth/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if len(token) > 7 {
		token = token[7:] // Remove "Bearer " prefix

		expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
		if err := database.BlacklistToken(context.Background(), s.redis, token, expiry); err != nil {
			log.Printf("[AUTH] Failed to blacklist token: %v", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Logout successful"})
}

// GetUserAccount retrieves user account details from auth token
// @Summary Get user account details
// @Description Get the authenticated user's profile, wallet balance and directory entry
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]any "User account details"
// @Failure 401 {object} ErrorResponse
// @Router /auth/account [get]
func (s *AuthService) GetUserAccount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.CallerUserID(r.Context())
	if userID == "" {
		log.Printf("[AUTH] Unauthorized account request - no user ID in context")
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var user models.User
	var balanceCents int64
	var frozen bool
	err := s.db.QueryRow(`
		SELECT users.id, users.email, users.display_name, users.role, COALESCE(users.phone, ''),
		       users.created_at, accounts.balance_cents, accounts.frozen
		FROM users JOIN accounts ON users.id = accounts.user_id
		WHERE users.id = $1`, userID).
		Scan(&user.ID, &user.Email, &user.DisplayName, &user.Role, &user.Phone,
			&user.CreatedAt, &balanceCents, &frozen)
	if err != nil {
		if err == sql.ErrNoRows {
			SendWalletError(w, walletErr(ErrNotFound, "user not found"))
		} else {
			log.Printf("[AUTH] Failed to fetch user details for %s: %v", userID, err)
			SendWalletError(w, err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"user":          user,
		"balance_cents": balanceCents,
		"balance":       fromCents(balanceCents),
		"frozen":        frozen,
	})
}

func generateJWT(userID, role string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour).Unix(),
	})

	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return base64.StdEncoding.EncodeToString(salt) + "$" + base64.StdEncoding.EncodeToString(hash), nil
}

func verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return subtle.ConstantTimeCompare(hash, computedHash) == 1
}
