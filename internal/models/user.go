package models

import "time"

type User struct {
	ID          string    `json:"id" db:"id"`
	Email       string    `json:"email" db:"email"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Role        string    `json:"role" db:"role"`
	Phone       string    `json:"phone,omitempty" db:"phone"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// DirectoryEntry is the public identity record for an account, keyed by
// user_id. Handle and phone are unique across the directory.
type DirectoryEntry struct {
	UserID      string `json:"user_id" db:"user_id"`
	Handle      string `json:"handle,omitempty" db:"handle"`
	Phone       string `json:"phone,omitempty" db:"phone"`
	DisplayName string `json:"display_name,omitempty" db:"display_name"`
}
