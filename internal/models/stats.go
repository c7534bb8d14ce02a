package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot stat types persisted in api_request_stats
const (
	StatTypeGlobal   = "global"
	StatTypeProvider = "provider"
	StatTypeModel    = "model"
)

// FullDayHour marks a snapshot row covering a whole day
const FullDayHour = -1

// TimeWindow is a half-open [Start, End) interval
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// DayWindow returns the calendar day containing t in loc
func DayWindow(t time.Time, loc *time.Location) TimeWindow {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return TimeWindow{Start: start, End: start.AddDate(0, 0, 1)}
}

// HourWindow returns the clock hour containing t in loc
func HourWindow(t time.Time, loc *time.Location) TimeWindow {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)
	return TimeWindow{Start: start, End: start.Add(time.Hour)}
}

// Overview aggregates all usage in a window
type Overview struct {
	RequestCount int64           `json:"request_count"`
	SuccessCount int64           `json:"success_count"`
	ErrorCount   int64           `json:"error_count"`
	SuccessRate  float64         `json:"success_rate"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	TotalTokens  int64           `json:"total_tokens"`
	AvgLatencyMs float64         `json:"avg_latency_ms"`
}

// HourlyBucket is one point of the hourly trend
type HourlyBucket struct {
	Hour         string          `json:"hour"`
	RequestCount int64           `json:"request_count"`
	SuccessCount int64           `json:"success_count"`
	ErrorCount   int64           `json:"error_count"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	TotalTokens  int64           `json:"total_tokens"`
}

// ProviderStat is one row of the provider distribution
type ProviderStat struct {
	Provider     string          `json:"provider"`
	RequestCount int64           `json:"request_count"`
	SuccessRate  float64         `json:"success_rate"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	TotalTokens  int64           `json:"total_tokens"`
}

// ModelStat is one row of the model distribution
type ModelStat struct {
	Model        string          `json:"model"`
	Provider     string          `json:"provider"`
	RequestCount int64           `json:"request_count"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	TotalTokens  int64           `json:"total_tokens"`
	AvgLatencyMs float64         `json:"avg_latency_ms"`
}

// ErrorTypeCount is one row of the error distribution
type ErrorTypeCount struct {
	ErrorType string `json:"error_type"`
	Count     int64  `json:"count"`
}

// ErrorStats aggregates failed attempts by error type
type ErrorStats struct {
	TotalErrors       int64            `json:"total_errors"`
	ErrorDistribution []ErrorTypeCount `json:"error_distribution"`
}

// RequestStat is a persisted aggregate snapshot row
type RequestStat struct {
	ID           int64           `db:"id" json:"-"`
	StatDate     string          `db:"stat_date" json:"stat_date"`
	StatHour     int             `db:"stat_hour" json:"stat_hour"`
	StatType     string          `db:"stat_type" json:"stat_type"`
	Dimension    string          `db:"dimension" json:"dimension"`
	RequestCount int64           `db:"request_count" json:"request_count"`
	SuccessCount int64           `db:"success_count" json:"success_count"`
	ErrorCount   int64           `db:"error_count" json:"error_count"`
	TotalTokens  int64           `db:"total_tokens" json:"total_tokens"`
	TotalCost    decimal.Decimal `db:"total_cost" json:"total_cost"`
	AvgLatencyMs float64         `db:"avg_latency_ms" json:"avg_latency_ms"`
	CreatedAt    time.Time       `db:"create_time" json:"create_time"`
}

// SuccessRate divides successes by requests, 0 when there were none
func SuccessRate(success, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(success) / float64(total)
}
