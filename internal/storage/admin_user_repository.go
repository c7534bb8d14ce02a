package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"keypool/internal/models"
)

const adminUserColumns = `id, email, password_hash, roles, enabled, last_login_at, created_at, updated_at`

// AdminUserRepository handles admin user database operations
type AdminUserRepository struct {
	db *DB
}

// NewAdminUserRepository creates a new admin user repository
func NewAdminUserRepository(db *DB) *AdminUserRepository {
	return &AdminUserRepository{
		db: db,
	}
}

// GetByEmail retrieves an admin user by email
func (r *AdminUserRepository) GetByEmail(ctx context.Context, email string) (*models.AdminUser, error) {
	query := r.db.rebind(`SELECT ` + adminUserColumns + ` FROM admin_users WHERE email = ?`)
	return r.get(ctx, query, email)
}

// GetByID retrieves an admin user by ID
func (r *AdminUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AdminUser, error) {
	query := r.db.rebind(`SELECT ` + adminUserColumns + ` FROM admin_users WHERE id = ?`)
	return r.get(ctx, query, id.String())
}

func (r *AdminUserRepository) get(ctx context.Context, query string, arg interface{}) (*models.AdminUser, error) {
	var user models.AdminUser
	err := r.db.conn.GetContext(ctx, &user, query, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAdminUserNotFound
		}
		return nil, fmt.Errorf("failed to get admin user: %w", err)
	}

	return &user, nil
}

// Create creates a new admin user
func (r *AdminUserRepository) Create(ctx context.Context, user *models.AdminUser) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	ts := now()
	user.CreatedAt = ts
	user.UpdatedAt = ts

	query := r.db.rebind(`
		INSERT INTO admin_users (id, email, password_hash, roles, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := r.db.conn.ExecContext(
		ctx, query,
		user.ID.String(), user.Email, user.PasswordHash, user.Roles, user.Enabled, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAdminUser
		}
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	return nil
}

// Update updates an existing admin user
func (r *AdminUserRepository) Update(ctx context.Context, user *models.AdminUser) error {
	user.UpdatedAt = now()
	query := r.db.rebind(`
		UPDATE admin_users
		SET email = ?, password_hash = ?, roles = ?, enabled = ?, last_login_at = ?, updated_at = ?
		WHERE id = ?
	`)

	result, err := r.db.conn.ExecContext(
		ctx, query,
		user.Email, user.PasswordHash, user.Roles, user.Enabled, user.LastLoginAt, user.UpdatedAt, user.ID.String(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAdminUser
		}
		return fmt.Errorf("failed to update admin user: %w", err)
	}

	return r.requireRow(result)
}

// UpdateLastLogin updates the last login timestamp for a user
func (r *AdminUserRepository) UpdateLastLogin(ctx context.Context, id uuid.UUID) error {
	query := r.db.rebind(`UPDATE admin_users SET last_login_at = ? WHERE id = ?`)

	result, err := r.db.conn.ExecContext(ctx, query, now(), id.String())
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}

	return r.requireRow(result)
}

// Delete deletes an admin user by ID
func (r *AdminUserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := r.db.rebind(`DELETE FROM admin_users WHERE id = ?`)

	result, err := r.db.conn.ExecContext(ctx, query, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete admin user: %w", err)
	}

	return r.requireRow(result)
}

// List retrieves all admin users with optional filters
func (r *AdminUserRepository) List(ctx context.Context, enabledOnly bool) ([]*models.AdminUser, error) {
	query := `SELECT ` + adminUserColumns + ` FROM admin_users`
	var args []interface{}

	if enabledOnly {
		query += " WHERE enabled = ?"
		args = append(args, true)
	}

	query += " ORDER BY created_at DESC"

	var users []*models.AdminUser
	err := r.db.conn.SelectContext(ctx, &users, r.db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list admin users: %w", err)
	}

	return users, nil
}

func (r *AdminUserRepository) requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrAdminUserNotFound
	}

	return nil
}
