package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"keypool/internal/models"
	"keypool/internal/utils"
)

const keyColumns = `id, name, api_key, ua, proxy, enabled, balance, total_balance,
	balance_last_update, error_code, memo, create_time, update_time`

// KeyRepository handles upstream key database operations
type KeyRepository struct {
	db *DB
}

// NewKeyRepository creates a new key repository
func NewKeyRepository(db *DB) *KeyRepository {
	return &KeyRepository{db: db}
}

// GetByID retrieves a key by ID
func (r *KeyRepository) GetByID(ctx context.Context, id int64) (*models.APIKey, error) {
	var key models.APIKey
	query := r.db.rebind(`SELECT ` + keyColumns + ` FROM api_keys WHERE id = ?`)

	err := r.db.conn.GetContext(ctx, &key, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get key: %w", err)
	}

	return &key, nil
}

// ExistsBySecret reports whether a key with the credential exists
func (r *KeyRepository) ExistsBySecret(ctx context.Context, secret string) (bool, error) {
	var count int
	query := r.db.rebind(`SELECT COUNT(*) FROM api_keys WHERE api_key = ?`)
	if err := r.db.conn.GetContext(ctx, &count, query, secret); err != nil {
		return false, fmt.Errorf("failed to check key secret: %w", err)
	}
	return count > 0, nil
}

// ExistsByName reports whether a key with the name exists
func (r *KeyRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	var count int
	query := r.db.rebind(`SELECT COUNT(*) FROM api_keys WHERE name = ?`)
	if err := r.db.conn.GetContext(ctx, &count, query, name); err != nil {
		return false, fmt.Errorf("failed to check key name: %w", err)
	}
	return count > 0, nil
}

// ListEnabled returns every enabled key ordered by id
func (r *KeyRepository) ListEnabled(ctx context.Context) ([]*models.APIKey, error) {
	query := r.db.rebind(`SELECT ` + keyColumns + ` FROM api_keys WHERE enabled = ? ORDER BY id`)

	var keys []*models.APIKey
	if err := r.db.conn.SelectContext(ctx, &keys, query, true); err != nil {
		return nil, fmt.Errorf("failed to list enabled keys: %w", err)
	}
	return keys, nil
}

// KeyListFilters contains filter parameters for listing keys
type KeyListFilters struct {
	Name        string
	Enabled     *bool
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	MinBalance  *decimal.Decimal
	Page        int
	PageSize    int
}

// KeyListResult contains paginated key list results
type KeyListResult struct {
	Keys       []*models.APIKey
	TotalCount int
	Page       int
	PageSize   int
}

// ListWithFilters returns keys with filtering and pagination, newest first
func (r *KeyRepository) ListWithFilters(ctx context.Context, filters KeyListFilters) (*KeyListResult, error) {
	var whereClauses []string
	var args []interface{}

	if filters.Name != "" {
		whereClauses = append(whereClauses, `LOWER(name) LIKE LOWER(?) ESCAPE '\'`)
		args = append(args, containsPattern(filters.Name))
	}

	if filters.Enabled != nil {
		whereClauses = append(whereClauses, "enabled = ?")
		args = append(args, *filters.Enabled)
	}

	if filters.CreatedFrom != nil {
		whereClauses = append(whereClauses, "create_time >= ?")
		args = append(args, filters.CreatedFrom.UTC())
	}

	if filters.CreatedTo != nil {
		whereClauses = append(whereClauses, "create_time < ?")
		args = append(args, filters.CreatedTo.UTC())
	}

	if filters.MinBalance != nil {
		whereClauses = append(whereClauses, "balance >= ?")
		args = append(args, *filters.MinBalance)
	}

	whereClause := ""
	if len(whereClauses) > 0 {
		whereClause = "WHERE " + strings.Join(whereClauses, " AND ")
	}

	// Get total count
	countQuery := r.db.rebind(fmt.Sprintf("SELECT COUNT(*) FROM api_keys %s", whereClause))
	var totalCount int
	if err := r.db.conn.GetContext(ctx, &totalCount, countQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to count keys: %w", err)
	}

	// Get paginated results
	offset := (filters.Page - 1) * filters.PageSize
	dataQuery := r.db.rebind(fmt.Sprintf(`
		SELECT %s
		FROM api_keys
		%s
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`, keyColumns, whereClause))

	args = append(args, filters.PageSize, offset)

	keys := []*models.APIKey{}
	if err := r.db.conn.SelectContext(ctx, &keys, dataQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	return &KeyListResult{
		Keys:       keys,
		TotalCount: totalCount,
		Page:       filters.Page,
		PageSize:   filters.PageSize,
	}, nil
}

// Create inserts a new key. A duplicate name or secret yields ErrDuplicateKey.
func (r *KeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	if exists, err := r.ExistsBySecret(ctx, key.Secret); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("api_key: %w", ErrDuplicateKey)
	}
	if exists, err := r.ExistsByName(ctx, key.Name); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("name %q: %w", key.Name, ErrDuplicateKey)
	}

	ts := now()
	key.CreatedAt = ts
	key.UpdatedAt = ts
	if key.Balance.Valid && key.BalanceLastUpdate == nil {
		key.BalanceLastUpdate = &ts
	}

	query := r.db.rebind(`
		INSERT INTO api_keys (name, api_key, ua, proxy, enabled, balance, total_balance,
		                      balance_last_update, error_code, memo, create_time, update_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	err := r.db.conn.QueryRowxContext(
		ctx, query,
		key.Name, key.Secret, key.UserAgent, key.Proxy, key.Enabled, key.Balance, key.TotalBalance,
		key.BalanceLastUpdate, key.ErrorCode, key.Memo, key.CreatedAt, key.UpdatedAt,
	).Scan(&key.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to create key: %w", err)
	}

	return nil
}

// Update applies the non-nil fields of update. Re-enabling a key clears its
// error code; writing a balance stamps balance_last_update.
func (r *KeyRepository) Update(ctx context.Context, id int64, update models.APIKeyUpdate) (*models.APIKey, error) {
	ts := now()
	sets := []string{"update_time = ?"}
	args := []interface{}{ts}

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.UserAgent != nil {
		sets = append(sets, "ua = ?")
		args = append(args, *update.UserAgent)
	}
	if update.Proxy != nil {
		sets = append(sets, "proxy = ?")
		args = append(args, utils.NilIfEmpty(*update.Proxy))
	}
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
		if *update.Enabled {
			sets = append(sets, "error_code = NULL")
		}
	}
	if update.Balance != nil {
		sets = append(sets, "balance = ?", "balance_last_update = ?")
		args = append(args, *update.Balance, ts)
	}
	if update.TotalBalance != nil {
		sets = append(sets, "total_balance = ?")
		args = append(args, *update.TotalBalance)
	}
	if update.Memo != nil {
		sets = append(sets, "memo = ?")
		args = append(args, utils.NilIfEmpty(*update.Memo))
	}

	query := r.db.rebind(fmt.Sprintf("UPDATE api_keys SET %s WHERE id = ?", strings.Join(sets, ", ")))
	args = append(args, id)

	if err := r.exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateKey
		}
		return nil, err
	}

	return r.GetByID(ctx, id)
}

// Delete hard-deletes a key
func (r *KeyRepository) Delete(ctx context.Context, id int64) error {
	query := r.db.rebind("DELETE FROM api_keys WHERE id = ?")
	return r.exec(ctx, query, id)
}

// RecordCheckSuccess stores a passed liveness check in one statement:
// balance becomes total_balance minus the cost of the key's successful
// requests, and the error code is cleared.
func (r *KeyRepository) RecordCheckSuccess(ctx context.Context, id int64) error {
	ts := now()
	query := r.db.rebind(`
		UPDATE api_keys
		SET balance = CASE
		        WHEN total_balance IS NULL THEN balance
		        ELSE ROUND(total_balance - (
		            SELECT COALESCE(SUM(cost), 0) FROM usage_logs
		            WHERE usage_logs.key_id = api_keys.id AND usage_logs.status = ?
		        ), 2)
		    END,
		    balance_last_update = ?,
		    error_code = NULL,
		    update_time = ?
		WHERE id = ?
	`)
	return r.exec(ctx, query, models.UsageStatusSuccess, ts, ts, id)
}

// RecordCheckFailure disables the key and stores the failure reason in one statement
func (r *KeyRepository) RecordCheckFailure(ctx context.Context, id int64, errorCode string) error {
	query := r.db.rebind(`UPDATE api_keys SET enabled = ?, error_code = ?, update_time = ? WHERE id = ?`)
	return r.exec(ctx, query, false, errorCode, now(), id)
}

// UpdateAssignment rewrites the UA and proxy of a key
func (r *KeyRepository) UpdateAssignment(ctx context.Context, id int64, ua string, proxy *string) error {
	query := r.db.rebind(`UPDATE api_keys SET ua = ?, proxy = ?, update_time = ? WHERE id = ?`)
	return r.exec(ctx, query, ua, proxy, now(), id)
}

// BalanceStats summarizes the credit available across the pool
func (r *KeyRepository) BalanceStats(ctx context.Context) (*models.KeyBalanceStats, error) {
	query := r.db.rebind(`
		SELECT COUNT(*) AS total_keys,
		       COALESCE(SUM(CASE WHEN enabled = ? THEN 1 ELSE 0 END), 0) AS enabled_keys,
		       COALESCE(SUM(CASE WHEN enabled = ? AND balance IS NOT NULL THEN balance ELSE 0 END), 0) AS total_balance,
		       COALESCE(SUM(CASE WHEN enabled = ? AND balance IS NOT NULL THEN 1 ELSE 0 END), 0) AS keys_with_balance
		FROM api_keys
	`)

	var stats models.KeyBalanceStats
	if err := r.db.conn.GetContext(ctx, &stats, query, true, true, true); err != nil {
		return nil, fmt.Errorf("failed to compute balance stats: %w", err)
	}
	return &stats, nil
}

func (r *KeyRepository) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to update key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrKeyNotFound
	}

	return nil
}
