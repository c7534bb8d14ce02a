package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// StringList is a list column stored as a JSON array in a text field, which
// keeps it portable between PostgreSQL and SQLite.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(value any) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("StringList: unsupported type %T", value)
	}
	if len(b) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(b, (*[]string)(l))
}

// AdminUser represents a human account for console access
// Authentication is email/password based with Argon2 password hashing
type AdminUser struct {
	ID           uuid.UUID  `db:"id"`
	Email        string     `db:"email"`
	PasswordHash string     `db:"password_hash"` // Argon2 hash
	Roles        StringList `db:"roles"`         // e.g., ["admin", "viewer"]
	Enabled      bool       `db:"enabled"`
	LastLoginAt  *time.Time `db:"last_login_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// HasRole checks if the user has a specific role
func (u *AdminUser) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// HasAnyRole checks if the user has any of the specified roles
func (u *AdminUser) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if u.HasRole(role) {
			return true
		}
	}
	return false
}

// IsValid checks if the user account is enabled
func (u *AdminUser) IsValid() bool {
	return u.Enabled
}
