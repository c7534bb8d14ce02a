package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keypool/internal/models"
	"keypool/internal/utils"
)

func seedUsage(t *testing.T, db *DB, at time.Time) int64 {
	t.Helper()
	ctx := context.Background()

	key := createTestKey(t, db.NewKeyRepository(), "k", "sk-usage-123")
	repo := db.NewUsageLogRepository()

	entries := []*models.UsageLog{
		newTestUsage(key.ID, models.ProviderOpenAI, "gpt-4o", models.UsageStatusSuccess, "0.5", at),
		newTestUsage(key.ID, models.ProviderOpenAI, "gpt-4o", models.UsageStatusSuccess, "0.25", at.Add(time.Second)),
		newTestUsage(key.ID, models.ProviderOpenAI, "gpt-4o-mini", models.UsageStatusError, "0", at.Add(2*time.Second)),
		newTestUsage(key.ID, models.ProviderAnthropic, "claude-sonnet-4", models.UsageStatusSuccess, "1", at.Add(3*time.Second)),
	}
	untyped := newTestUsage(key.ID, models.ProviderAnthropic, "claude-sonnet-4", models.UsageStatusError, "0", at.Add(4*time.Second))
	untyped.ErrorType = nil
	entries = append(entries, untyped)
	for _, e := range entries {
		e.Secret = utils.StringPtr("sk-usage-123")
	}

	require.NoError(t, repo.CreateBatch(ctx, entries))
	for _, e := range entries {
		assert.NotZero(t, e.ID)
	}
	return key.ID
}

func TestUsageLogRepository_ListWithFilters(t *testing.T) {
	db := newTestDB(t)
	repo := db.NewUsageLogRepository()
	ctx := context.Background()

	at := time.Now().Add(-time.Minute)
	keyID := seedUsage(t, db, at)

	all, err := repo.ListWithFilters(ctx, UsageLogFilters{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 5, all.TotalCount)
	require.Len(t, all.Logs, 5)
	assert.Greater(t, all.Logs[0].ID, all.Logs[4].ID)

	tests := []struct {
		name    string
		filters UsageLogFilters
		want    int
	}{
		{"key", UsageLogFilters{KeyID: &keyID}, 5},
		{"other key", UsageLogFilters{KeyID: utils.Int64Ptr(keyID + 1)}, 0},
		{"secret substring", UsageLogFilters{Secret: "usage-1"}, 5},
		{"status", UsageLogFilters{Status: models.UsageStatusError}, 2},
		{"provider", UsageLogFilters{Provider: models.ProviderAnthropic}, 2},
		{"model", UsageLogFilters{Model: "gpt-4o"}, 2},
		{"start time", UsageLogFilters{StartTime: timePtr(at.Add(3 * time.Second))}, 2},
		{"end time", UsageLogFilters{EndTime: timePtr(at.Add(500 * time.Millisecond))}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.filters.Page, tt.filters.PageSize = 1, 10
			result, err := repo.ListWithFilters(ctx, tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.TotalCount)
			assert.Len(t, result.Logs, tt.want)
		})
	}
}

func TestUsageLogRepository_SecretFilterIsLiteral(t *testing.T) {
	db := newTestDB(t)
	repo := db.NewUsageLogRepository()
	ctx := context.Background()
	at := time.Now().UTC().Add(-time.Minute)

	key := createTestKey(t, db.NewKeyRepository(), "k", "sk-usage")
	for i, secret := range []string{"sk_live_1", "skXliveX1", "sk%1"} {
		entry := newTestUsage(key.ID, models.ProviderOpenAI, "gpt-4o", models.UsageStatusSuccess, "0", at.Add(time.Duration(i)*time.Second))
		entry.Secret = utils.StringPtr(secret)
		require.NoError(t, repo.Create(ctx, entry))
	}

	result, err := repo.ListWithFilters(ctx, UsageLogFilters{Secret: "sk_live", Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, 1, result.TotalCount)
	assert.Equal(t, "sk_live_1", utils.StringPtrValue(result.Logs[0].Secret))

	result, err = repo.ListWithFilters(ctx, UsageLogFilters{Secret: "%", Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, 1, result.TotalCount)
	assert.Equal(t, "sk%1", utils.StringPtrValue(result.Logs[0].Secret))
}

func TestUsageLogRepository_Aggregates(t *testing.T) {
	db := newTestDB(t)
	repo := db.NewUsageLogRepository()
	ctx := context.Background()

	at := time.Now().Add(-time.Minute)
	seedUsage(t, db, at)
	window := models.TimeWindow{Start: at.Add(-time.Hour), End: at.Add(time.Hour)}

	totals, err := repo.AggregateTotals(ctx, window)
	require.NoError(t, err)
	assert.EqualValues(t, 5, totals.RequestCount)
	assert.EqualValues(t, 3, totals.SuccessCount)
	assert.EqualValues(t, 2, totals.ErrorCount)
	assert.EqualValues(t, 75, totals.TotalTokens)
	assert.True(t, totals.TotalCost.Equal(decimal.RequireFromString("1.75")), "cost was %s", totals.TotalCost)
	assert.InDelta(t, 100, totals.AvgLatencyMs, 0.001)

	byProvider, err := repo.AggregateByProvider(ctx, window)
	require.NoError(t, err)
	require.Len(t, byProvider, 2)
	assert.Equal(t, models.ProviderOpenAI, byProvider[0].Provider)
	assert.EqualValues(t, 3, byProvider[0].RequestCount)
	assert.EqualValues(t, 2, byProvider[0].SuccessCount)

	byModel, err := repo.AggregateByModel(ctx, window, 2)
	require.NoError(t, err)
	require.Len(t, byModel, 2)
	assert.Equal(t, "claude-sonnet-4", byModel[0].Model)
	assert.Equal(t, models.ProviderAnthropic, byModel[0].Provider)
	assert.Equal(t, "gpt-4o", byModel[1].Model)

	errs, err := repo.CountErrorsByType(ctx, window)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.ErrorTypeCount{
		{ErrorType: models.ErrorTypeOther, Count: 1},
		{ErrorType: models.ErrorTypeRateLimit, Count: 1},
	}, errs)

	empty := models.TimeWindow{Start: at.Add(-48 * time.Hour), End: at.Add(-24 * time.Hour)}
	none, err := repo.AggregateTotals(ctx, empty)
	require.NoError(t, err)
	assert.EqualValues(t, 0, none.RequestCount)
	assert.True(t, none.TotalCost.IsZero())
}

func timePtr(t time.Time) *time.Time {
	return &t
}
