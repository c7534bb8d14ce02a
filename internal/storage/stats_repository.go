package storage

import (
	"context"
	"fmt"

	"keypool/internal/models"
)

// SnapshotSlot identifies one (date, hour) group of snapshot rows
type SnapshotSlot struct {
	Date string
	Hour int
}

// StatsRepository persists aggregate snapshots
type StatsRepository struct {
	db *DB
}

// NewStatsRepository creates a new stats repository
func NewStatsRepository(db *DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// ReplaceSnapshots deletes every row of the given slots and inserts rows in
// their place, in one transaction
func (r *StatsRepository) ReplaceSnapshots(ctx context.Context, slots []SnapshotSlot, rows []*models.RequestStat) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	del := r.db.rebind(`DELETE FROM api_request_stats WHERE stat_date = ? AND stat_hour = ?`)
	for _, slot := range slots {
		if _, err := tx.ExecContext(ctx, del, slot.Date, slot.Hour); err != nil {
			return fmt.Errorf("failed to clear stats %s/%d: %w", slot.Date, slot.Hour, err)
		}
	}

	ts := now()
	insert := r.db.rebind(`
		INSERT INTO api_request_stats (
			stat_date, stat_hour, stat_type, dimension, request_count, success_count, error_count,
			total_tokens, total_cost, avg_latency_ms, create_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for _, row := range rows {
		row.CreatedAt = ts
		_, err := tx.ExecContext(ctx, insert,
			row.StatDate, row.StatHour, row.StatType, row.Dimension, row.RequestCount, row.SuccessCount,
			row.ErrorCount, row.TotalTokens, row.TotalCost, row.AvgLatencyMs, row.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert stats row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListSnapshots returns the rows stored for one slot, ordered by type and dimension
func (r *StatsRepository) ListSnapshots(ctx context.Context, slot SnapshotSlot) ([]*models.RequestStat, error) {
	query := r.db.rebind(`
		SELECT id, stat_date, stat_hour, stat_type, dimension, request_count, success_count, error_count,
		       total_tokens, total_cost, avg_latency_ms, create_time
		FROM api_request_stats
		WHERE stat_date = ? AND stat_hour = ?
		ORDER BY stat_type, dimension
	`)

	rows := []*models.RequestStat{}
	if err := r.db.conn.SelectContext(ctx, &rows, query, slot.Date, slot.Hour); err != nil {
		return nil, fmt.Errorf("failed to list stats: %w", err)
	}
	return rows, nil
}
