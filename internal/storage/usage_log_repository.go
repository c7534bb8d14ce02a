package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"keypool/internal/models"
)

const usageLogColumns = `id, create_time, request_id, key_id, api_key, proxy, provider, model, res_model,
	prompt_tokens, completion_tokens, input_tokens, output_tokens,
	cache_creation_input_tokens, cache_read_input_tokens, total_tokens,
	cost, latency_ms, status, http_status_code, error_type, error_message,
	request_body, response_body`

// UsageLogRepository handles usage log persistence and aggregation
type UsageLogRepository struct {
	db *DB
}

// NewUsageLogRepository creates a new usage log repository
func NewUsageLogRepository(db *DB) *UsageLogRepository {
	return &UsageLogRepository{db: db}
}

// Create appends one usage entry
func (r *UsageLogRepository) Create(ctx context.Context, entry *models.UsageLog) error {
	return r.insert(ctx, r.db.conn, entry)
}

// CreateBatch appends entries in a single transaction; either all are written or none
func (r *UsageLogRepository) CreateBatch(ctx context.Context, entries []*models.UsageLog) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, entry := range entries {
		if err := r.insert(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *UsageLogRepository) insert(ctx context.Context, ext sqlx.ExtContext, entry *models.UsageLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now()
	} else {
		entry.CreatedAt = entry.CreatedAt.UTC()
	}

	query := r.db.rebind(`
		INSERT INTO usage_logs (
			create_time, request_id, key_id, api_key, proxy, provider, model, res_model,
			prompt_tokens, completion_tokens, input_tokens, output_tokens,
			cache_creation_input_tokens, cache_read_input_tokens, total_tokens,
			cost, latency_ms, status, http_status_code, error_type, error_message,
			request_body, response_body
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	err := ext.QueryRowxContext(
		ctx, query,
		entry.CreatedAt, entry.RequestID, entry.KeyID, entry.Secret, entry.Proxy,
		entry.Provider, entry.Model, entry.ResponseModel,
		entry.PromptTokens, entry.CompletionTokens, entry.InputTokens, entry.OutputTokens,
		entry.CacheCreationInputTokens, entry.CacheReadInputTokens, entry.TotalTokens,
		entry.Cost, entry.LatencyMs, entry.Status, entry.HTTPStatusCode, entry.ErrorType, entry.ErrorMessage,
		entry.RequestBody, entry.ResponseBody,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to create usage log: %w", err)
	}
	return nil
}

// UsageLogFilters contains filter parameters for listing usage logs
type UsageLogFilters struct {
	KeyID     *int64
	Secret    string // substring match on the recorded credential
	Status    string
	Provider  string
	Model     string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	PageSize  int
}

// UsageLogListResult contains paginated usage log results
type UsageLogListResult struct {
	Logs       []*models.UsageLog
	TotalCount int
	Page       int
	PageSize   int
}

// ListWithFilters returns usage logs with filtering and pagination, newest first
func (r *UsageLogRepository) ListWithFilters(ctx context.Context, filters UsageLogFilters) (*UsageLogListResult, error) {
	var whereClauses []string
	var args []interface{}

	if filters.KeyID != nil {
		whereClauses = append(whereClauses, "key_id = ?")
		args = append(args, *filters.KeyID)
	}

	if filters.Secret != "" {
		whereClauses = append(whereClauses, `api_key LIKE ? ESCAPE '\'`)
		args = append(args, containsPattern(filters.Secret))
	}

	if filters.Status != "" {
		whereClauses = append(whereClauses, "status = ?")
		args = append(args, filters.Status)
	}

	if filters.Provider != "" {
		whereClauses = append(whereClauses, "provider = ?")
		args = append(args, filters.Provider)
	}

	if filters.Model != "" {
		whereClauses = append(whereClauses, "model = ?")
		args = append(args, filters.Model)
	}

	if filters.StartTime != nil {
		whereClauses = append(whereClauses, "create_time >= ?")
		args = append(args, filters.StartTime.UTC())
	}

	if filters.EndTime != nil {
		whereClauses = append(whereClauses, "create_time <= ?")
		args = append(args, filters.EndTime.UTC())
	}

	whereClause := ""
	if len(whereClauses) > 0 {
		whereClause = "WHERE " + strings.Join(whereClauses, " AND ")
	}

	countQuery := r.db.rebind(fmt.Sprintf("SELECT COUNT(*) FROM usage_logs %s", whereClause))
	var totalCount int
	if err := r.db.conn.GetContext(ctx, &totalCount, countQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to count usage logs: %w", err)
	}

	offset := (filters.Page - 1) * filters.PageSize
	dataQuery := r.db.rebind(fmt.Sprintf(`
		SELECT %s
		FROM usage_logs
		%s
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`, usageLogColumns, whereClause))

	args = append(args, filters.PageSize, offset)

	logs := []*models.UsageLog{}
	if err := r.db.conn.SelectContext(ctx, &logs, dataQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to list usage logs: %w", err)
	}

	return &UsageLogListResult{
		Logs:       logs,
		TotalCount: totalCount,
		Page:       filters.Page,
		PageSize:   filters.PageSize,
	}, nil
}

// UsageTotals is the reduction of usage rows over one group
type UsageTotals struct {
	Provider     string          `db:"provider"`
	Model        string          `db:"model"`
	RequestCount int64           `db:"request_count"`
	SuccessCount int64           `db:"success_count"`
	ErrorCount   int64           `db:"error_count"`
	TotalTokens  int64           `db:"total_tokens"`
	TotalCost    decimal.Decimal `db:"total_cost"`
	AvgLatencyMs float64         `db:"avg_latency_ms"`
}

const totalsSelect = `
	COUNT(*) AS request_count,
	COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS success_count,
	COALESCE(SUM(CASE WHEN status = ? THEN 0 ELSE 1 END), 0) AS error_count,
	COALESCE(SUM(total_tokens), 0) AS total_tokens,
	COALESCE(SUM(cost), 0) AS total_cost,
	COALESCE(AVG(latency_ms), 0) AS avg_latency_ms`

// AggregateTotals reduces every row in window into one set of totals
func (r *UsageLogRepository) AggregateTotals(ctx context.Context, window models.TimeWindow) (*UsageTotals, error) {
	query := r.db.rebind(`
		SELECT '' AS provider, '' AS model,` + totalsSelect + `
		FROM usage_logs
		WHERE create_time >= ? AND create_time < ?
	`)

	var totals UsageTotals
	err := r.db.conn.GetContext(ctx, &totals, query,
		models.UsageStatusSuccess, models.UsageStatusSuccess, window.Start.UTC(), window.End.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	return &totals, nil
}

// AggregateByProvider groups the rows in window by provider, busiest first
func (r *UsageLogRepository) AggregateByProvider(ctx context.Context, window models.TimeWindow) ([]*UsageTotals, error) {
	query := r.db.rebind(`
		SELECT provider, '' AS model,` + totalsSelect + `
		FROM usage_logs
		WHERE create_time >= ? AND create_time < ?
		GROUP BY provider
		ORDER BY request_count DESC, provider
	`)

	totals := []*UsageTotals{}
	err := r.db.conn.SelectContext(ctx, &totals, query,
		models.UsageStatusSuccess, models.UsageStatusSuccess, window.Start.UTC(), window.End.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage by provider: %w", err)
	}
	return totals, nil
}

// AggregateByModel groups the rows in window by model, busiest first.
// A limit of zero or less returns every model.
func (r *UsageLogRepository) AggregateByModel(ctx context.Context, window models.TimeWindow, limit int) ([]*UsageTotals, error) {
	query := `
		SELECT provider, model,` + totalsSelect + `
		FROM usage_logs
		WHERE create_time >= ? AND create_time < ?
		GROUP BY model, provider
		ORDER BY request_count DESC, model
	`
	args := []interface{}{models.UsageStatusSuccess, models.UsageStatusSuccess, window.Start.UTC(), window.End.UTC()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	totals := []*UsageTotals{}
	if err := r.db.conn.SelectContext(ctx, &totals, r.db.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to aggregate usage by model: %w", err)
	}
	return totals, nil
}

// CountErrorsByType counts failed rows in window per error type, most frequent
// first. Untyped failures are counted as OtherError.
func (r *UsageLogRepository) CountErrorsByType(ctx context.Context, window models.TimeWindow) ([]models.ErrorTypeCount, error) {
	query := r.db.rebind(`
		SELECT error_type, COUNT(*) AS count
		FROM usage_logs
		WHERE create_time >= ? AND create_time < ? AND status = ?
		GROUP BY error_type
	`)

	rows := []struct {
		ErrorType *string `db:"error_type"`
		Count     int64   `db:"count"`
	}{}
	err := r.db.conn.SelectContext(ctx, &rows, query, window.Start.UTC(), window.End.UTC(), models.UsageStatusError)
	if err != nil {
		return nil, fmt.Errorf("failed to count errors: %w", err)
	}

	byType := make(map[string]int64, len(rows))
	for _, row := range rows {
		errorType := models.ErrorTypeOther
		if row.ErrorType != nil && *row.ErrorType != "" {
			errorType = *row.ErrorType
		}
		byType[errorType] += row.Count
	}

	counts := make([]models.ErrorTypeCount, 0, len(byType))
	for errorType, count := range byType {
		counts = append(counts, models.ErrorTypeCount{ErrorType: errorType, Count: count})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].ErrorType < counts[j].ErrorType
	})
	return counts, nil
}
