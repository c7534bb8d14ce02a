package storage

import (
	"context"
	"fmt"
	"strings"
)

// schema is written once with dialect tokens:
//
//	{{id}}  auto-increment primary key
//	{{ts}}  timestamp column type
var schema = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		id {{id}},
		name VARCHAR(100) NOT NULL UNIQUE,
		api_key VARCHAR(255) NOT NULL UNIQUE,
		ua TEXT NOT NULL,
		proxy VARCHAR(255),
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		balance NUMERIC(10,2),
		total_balance NUMERIC(10,2),
		balance_last_update {{ts}},
		error_code VARCHAR(50),
		memo TEXT,
		create_time {{ts}} NOT NULL,
		update_time {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_enabled ON api_keys (enabled)`,

	`CREATE TABLE IF NOT EXISTS system_configs (
		id {{id}},
		config_key VARCHAR(100) NOT NULL UNIQUE,
		config_value TEXT NOT NULL,
		memo TEXT,
		create_time {{ts}} NOT NULL,
		update_time {{ts}} NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS usage_logs (
		id {{id}},
		create_time {{ts}} NOT NULL,
		request_id VARCHAR(64) NOT NULL,
		key_id BIGINT,
		api_key VARCHAR(255),
		proxy VARCHAR(255),
		provider VARCHAR(20) NOT NULL,
		model VARCHAR(100) NOT NULL,
		res_model VARCHAR(100),
		prompt_tokens BIGINT NOT NULL DEFAULT 0,
		completion_tokens BIGINT NOT NULL DEFAULT 0,
		input_tokens BIGINT NOT NULL DEFAULT 0,
		output_tokens BIGINT NOT NULL DEFAULT 0,
		cache_creation_input_tokens BIGINT NOT NULL DEFAULT 0,
		cache_read_input_tokens BIGINT NOT NULL DEFAULT 0,
		total_tokens BIGINT NOT NULL DEFAULT 0,
		cost NUMERIC(12,6) NOT NULL DEFAULT 0,
		latency_ms BIGINT,
		status VARCHAR(20) NOT NULL,
		http_status_code INTEGER,
		error_type VARCHAR(50),
		error_message TEXT,
		request_body TEXT,
		response_body TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_logs_create_time ON usage_logs (create_time)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_logs_key_id ON usage_logs (key_id)`,

	`CREATE TABLE IF NOT EXISTS api_request_stats (
		id {{id}},
		stat_date VARCHAR(10) NOT NULL,
		stat_hour INTEGER NOT NULL,
		stat_type VARCHAR(20) NOT NULL,
		dimension VARCHAR(100) NOT NULL,
		request_count BIGINT NOT NULL DEFAULT 0,
		success_count BIGINT NOT NULL DEFAULT 0,
		error_count BIGINT NOT NULL DEFAULT 0,
		total_tokens BIGINT NOT NULL DEFAULT 0,
		total_cost NUMERIC(14,6) NOT NULL DEFAULT 0,
		avg_latency_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
		create_time {{ts}} NOT NULL,
		UNIQUE (stat_date, stat_hour, stat_type, dimension)
	)`,

	`CREATE TABLE IF NOT EXISTS admin_users (
		id VARCHAR(36) PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		roles TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		last_login_at {{ts}},
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
}

func (db *DB) dialect(stmt string) string {
	id, ts := "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ"
	if db.driver == DriverSQLite {
		id, ts = "INTEGER PRIMARY KEY AUTOINCREMENT", "TIMESTAMP"
	}
	return strings.NewReplacer("{{id}}", id, "{{ts}}", ts).Replace(stmt)
}

// Migrate creates missing tables and indexes. It is safe to run repeatedly.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, db.dialect(stmt)); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
