package storage

import (
	"fmt"

	"keypool/internal/utils"
)

var (
	// ErrKeyNotFound is returned when a key is not found
	ErrKeyNotFound = fmt.Errorf("key %w", utils.ErrNotFound)

	// ErrDuplicateKey is returned when a key name or secret already exists
	ErrDuplicateKey = fmt.Errorf("key already exists: %w", utils.ErrConflict)

	// ErrConfigNotFound is returned when a config key is not found
	ErrConfigNotFound = fmt.Errorf("config %w", utils.ErrNotFound)

	// ErrAdminUserNotFound is returned when an admin user is not found
	ErrAdminUserNotFound = fmt.Errorf("admin user %w", utils.ErrNotFound)

	// ErrDuplicateAdminUser is returned when an admin email already exists
	ErrDuplicateAdminUser = fmt.Errorf("admin user already exists: %w", utils.ErrConflict)
)
