package storage

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keypool/internal/models"
)

func TestStatsRepository_ReplaceSnapshots(t *testing.T) {
	db := newTestDB(t)
	repo := db.NewStatsRepository()
	ctx := context.Background()

	day := SnapshotSlot{Date: "2026-10-19", Hour: models.FullDayHour}
	hour := SnapshotSlot{Date: "2026-10-19", Hour: 14}

	first := []*models.RequestStat{
		{StatDate: day.Date, StatHour: day.Hour, StatType: models.StatTypeGlobal, Dimension: "all", RequestCount: 3, SuccessCount: 2, ErrorCount: 1, TotalCost: decimal.RequireFromString("0.5")},
		{StatDate: day.Date, StatHour: day.Hour, StatType: models.StatTypeProvider, Dimension: "openai", RequestCount: 3},
		{StatDate: hour.Date, StatHour: hour.Hour, StatType: models.StatTypeGlobal, Dimension: "all", RequestCount: 1},
	}
	require.NoError(t, repo.ReplaceSnapshots(ctx, []SnapshotSlot{day, hour}, first))

	rows, err := repo.ListSnapshots(ctx, day)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.StatTypeGlobal, rows[0].StatType)
	assert.EqualValues(t, 3, rows[0].RequestCount)
	assert.True(t, rows[0].TotalCost.Equal(decimal.RequireFromString("0.5")))

	// Re-running a pass replaces the slot instead of duplicating rows
	second := []*models.RequestStat{
		{StatDate: day.Date, StatHour: day.Hour, StatType: models.StatTypeGlobal, Dimension: "all", RequestCount: 7},
	}
	require.NoError(t, repo.ReplaceSnapshots(ctx, []SnapshotSlot{day}, second))

	rows, err = repo.ListSnapshots(ctx, day)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 7, rows[0].RequestCount)

	// Slots not named are untouched
	rows, err = repo.ListSnapshots(ctx, hour)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
