package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keypool/internal/models"
	"keypool/internal/utils"
)

func TestKeyRepository_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := db.NewKeyRepository()
	ctx := context.Background()

	key := createTestKey(t, repo, "primary", "sk-primary")
	assert.NotZero(t, key.ID)
	assert.False(t, key.CreatedAt.IsZero())
	require.NotNil(t, key.BalanceLastUpdate)

	got, err := repo.GetByID(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, "primary", got.Name)
	assert.Equal(t, "sk-primary", got.Secret)
	assert.Equal(t, "ua-1", got.UserAgent)
	assert.Nil(t, got.Proxy)
	assert.True(t, got.Enabled)
	assert.True(t, got.Balance.Valid)
	assert.True(t, got.Balance.Decimal.Equal(decimal.NewFromInt(10)))
	assert.WithinDuration(t, key.CreatedAt, got.CreatedAt, time.Second)

	exists, err := repo.ExistsBySecret(ctx, "sk-primary")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = repo.GetByID(ctx, key.ID+100)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestKeyRepository_CreateConflicts(t *testing.T) {
	db := newTestDB(t)
	repo := db.NewKeyRepository()
	ctx := context.Background()

	createTestKey(t, repo, "primary", "sk-primary")

	t.Run("duplicate secret", func(t *testing.T) {
		err := repo.Create(ctx, &models.APIKey{Name: "other", Secret: "sk-primary", UserAgent: "ua", Enabled: true})
		assert.ErrorIs(t, err, ErrDuplicateKey)
		assert.ErrorIs(t, err, utils.ErrConflict)
	})

	t.Run("duplicate name", func(t *testing.T) {
		err := repo.Create(ctx, &models.APIKey{Name: "primary", Secret: "sk-other", UserAgent: "ua", Enabled: true})
		assert.ErrorIs(t, err, ErrDuplicateKey)
	})

	result, err := repo.ListWithFilters(ctx, KeyListFilters{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalCount)
}

func TestKeyRepository_ListWithFilters(t *testing.T) {
	db := newTestDB(t)
	repo := db.NewKeyRepository()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		createTestKey(t, repo, fmt.Sprintf("Batch-%d", i), fmt.Sprintf("sk-%d", i))
	}
	other := createTestKey(t, repo, "other", "sk-other")
	_, err := repo.Update(ctx, other.ID, models.APIKeyUpdate{Enabled: utils.BoolPtr(false), Balance: utils.DecimalPtr(2)})
	require.NoError(t, err)

	t.Run("pagination newest first", func(t *testing.T) {
		result, err := repo.ListWithFilters(ctx, KeyListFilters{Page: 1, PageSize: 4})
		require.NoError(t, err)
		assert.Equal(t, 6, result.TotalCount)
		require.Len(t, result.Keys, 4)
		assert.Equal(t, "other", result.Keys[0].Name)
		for i := 1; i < len(result.Keys); i++ {
			assert.Greater(t, result.Keys[i-1].ID, result.Keys[i].ID)
		}

		page2, err := repo.ListWithFilters(ctx, KeyListFilters{Page: 2, PageSize: 4})
		require.NoError(t, err)
		assert.Len(t, page2.Keys, 2)
	})

	t.Run("name substring is case-insensitive", func(t *testing.T) {
		result, err := repo.ListWithFilters(ctx, KeyListFilters{Name: "batch", Page: 1, PageSize: 10})
		require.NoError(t, err)
		assert.Equal(t, 5, result.TotalCount)
	})

	t.Run("enabled", func(t *testing.T) {
		result, err := repo.ListWithFilters(ctx, KeyListFilters{Enabled: utils.BoolPtr(false), Page: 1, PageSize: 10})
		require.NoError(t, err)
		require.Equal(t, 1, result.TotalCount)
		assert.Equal(t, "other", result.Keys[0].Name)
	})

	t.Run("min balance", func(t *testing.T) {
		result, err := repo.ListWithFilters(ctx, KeyListFilters{MinBalance: utils.DecimalPtr(5), Page: 1, PageSize: 10})
		require.NoError(t, err)
		assert.Equal(t, 5, result.TotalCount)
	})

	t.Run("created range", func(t *testing.T) {
		from := time.Now().Add(-time.Hour)
		to := time.Now().Add(time.Hour)
		result, err := repo.ListWithFilters(ctx, KeyListFilters{CreatedFrom: &from, CreatedTo: &to, Page: 1, PageSize: 10})
		require.NoError(t, err)
		assert.Equal(t, 6, result.TotalCount)

		past := time.Now().Add(-48 * time.Hour)
		pastEnd := time.Now().Add(-24 * time.Hour)
		result, err = repo.ListWithFilters(ctx, KeyListFilters{CreatedFrom: &past, CreatedTo: &pastEnd, Page: 1, PageSize: 10})
		require.NoError(t, err)
		assert.Equal(t, 0, result.TotalCount)
		assert.Empty(t, result.Keys)
	})
}

func TestKeyRepository_NameFilterIsLiteral(t *testing.T) {
	db := newTestDB(t)
	repo := db.NewKeyRepository()
	ctx := context.Background()

	createTestKey(t, repo, "team_a", "sk-1")
	createTestKey(t, repo, "teamXa", "sk-2")
	createTestKey(t, repo, "cap 100%", "sk-3")
	createTestKey(t, repo, "cap 1000", "sk-4")
	createTestKey(t, repo, `dir\one`, "sk-5")

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"underscore", "team_", []string{"team_a"}},
		{"percent", "100%", []string{"cap 100%"}},
		{"backslash", `r\o`, []string{`dir\one`}},
		{"case insensitive", "TEAM_A", []string{"team_a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := repo.ListWithFilters(ctx, KeyListFilters{Name: tt.query, Page: 1, PageSize: 10})
			require.NoError(t, err)
			var names []string
			for _, key := range result.Keys {
				names = append(names, key.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestKeyRepository_Update(t *testing.T) {
	db := newTestDB(t)
	repo := db.NewKeyRepository()
	ctx := context.Background()

	key := createTestKey(t, repo, "primary", "sk-primary")
	createTestKey(t, repo, "taken", "sk-taken")

	t.Run("partial fields", func(t *testing.T) {
		updated, err := repo.Update(ctx, key.ID, models.APIKeyUpdate{
			UserAgent: utils.StringPtr("ua-2"),
			Proxy:     utils.StringPtr("socks5://127.0.0.1:1080"),
			Memo:      utils.StringPtr("rotated"),
		})
		require.NoError(t, err)
		assert.Equal(t, "ua-2", updated.UserAgent)
		assert.Equal(t, "socks5://127.0.0.1:1080", updated.ProxyAddress())
		assert.Equal(t, "rotated", utils.StringPtrValue(updated.Memo))
		assert.Equal(t, "primary", updated.Name)
	})

	t.Run("empty proxy clears it", func(t *testing.T) {
		updated, err := repo.Update(ctx, key.ID, models.APIKeyUpdate{Proxy: utils.StringPtr("")})
		require.NoError(t, err)
		assert.Nil(t, updated.Proxy)
	})

	t.Run("re-enabling clears error code", func(t *testing.T) {
		require.NoError(t, repo.RecordCheckFailure(ctx, key.ID, models.ErrorCodeUnauthorized))

		failed, err := repo.GetByID(ctx, key.ID)
		require.NoError(t, err)
		assert.False(t, failed.Enabled)
		assert.Equal(t, models.ErrorCodeUnauthorized, utils.StringPtrValue(failed.ErrorCode))

		updated, err := repo.Update(ctx, key.ID, models.APIKeyUpdate{Enabled: utils.BoolPtr(true)})
		require.NoError(t, err)
		assert.True(t, updated.Enabled)
		assert.Nil(t, updated.ErrorCode)
	})

	t.Run("duplicate name", func(t *testing.T) {
		_, err := repo.Update(ctx, key.ID, models.APIKeyUpdate{Name: utils.StringPtr("taken")})
		assert.ErrorIs(t, err, ErrDuplicateKey)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := repo.Update(ctx, 9999, models.APIKeyUpdate{Memo: utils.StringPtr("x")})
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})
}

func TestKeyRepository_Delete(t *testing.T) {
	db := newTestDB(t)
	repo := db.NewKeyRepository()
	ctx := context.Background()

	key := createTestKey(t, repo, "primary", "sk-primary")

	require.NoError(t, repo.Delete(ctx, key.ID))
	assert.ErrorIs(t, repo.Delete(ctx, key.ID), ErrKeyNotFound)

	_, err := repo.GetByID(ctx, key.ID)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestKeyRepository_RecordCheckSuccess(t *testing.T) {
	db := newTestDB(t)
	repo := db.NewKeyRepository()
	usage := db.NewUsageLogRepository()
	ctx := context.Background()

	key := createTestKey(t, repo, "primary", "sk-primary")
	noLimit := &models.APIKey{Name: "no-limit", Secret: "sk-nolimit", UserAgent: "ua", Enabled: true}
	require.NoError(t, repo.Create(ctx, noLimit))

	at := time.Now()
	require.NoError(t, usage.Create(ctx, newTestUsage(key.ID, models.ProviderOpenAI, "gpt-4o", models.UsageStatusSuccess, "1.25", at)))
	require.NoError(t, usage.Create(ctx, newTestUsage(key.ID, models.ProviderOpenAI, "gpt-4o", models.UsageStatusSuccess, "0.75", at.Add(time.Millisecond))))
	// failed requests are not billed
	require.NoError(t, usage.Create(ctx, newTestUsage(key.ID, models.ProviderOpenAI, "gpt-4o", models.UsageStatusError, "5", at.Add(2*time.Millisecond))))

	require.NoError(t, repo.RecordCheckFailure(ctx, key.ID, models.ErrorCodeTimeout))
	require.NoError(t, repo.RecordCheckSuccess(ctx, key.ID))

	got, err := repo.GetByID(ctx, key.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Decimal.Equal(decimal.NewFromInt(8)), "balance was %s", got.Balance.Decimal)
	assert.Nil(t, got.ErrorCode)
	assert.False(t, got.Enabled, "a passing check does not re-enable a key")
	require.NotNil(t, got.BalanceLastUpdate)

	require.NoError(t, repo.RecordCheckSuccess(ctx, noLimit.ID))
	got, err = repo.GetByID(ctx, noLimit.ID)
	require.NoError(t, err)
	assert.False(t, got.Balance.Valid)
	assert.NotNil(t, got.BalanceLastUpdate)

	assert.ErrorIs(t, repo.RecordCheckSuccess(ctx, 9999), ErrKeyNotFound)
}

func TestKeyRepository_ListEnabledAndAssignment(t *testing.T) {
	db := newTestDB(t)
	repo := db.NewKeyRepository()
	ctx := context.Background()

	a := createTestKey(t, repo, "a", "sk-a")
	b := createTestKey(t, repo, "b", "sk-b")
	require.NoError(t, repo.RecordCheckFailure(ctx, b.ID, models.ErrorCodeCheckFailed))

	enabled, err := repo.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, a.ID, enabled[0].ID)

	proxy := "http://10.0.0.1:3128"
	require.NoError(t, repo.UpdateAssignment(ctx, a.ID, "ua-new", &proxy))
	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "ua-new", got.UserAgent)
	assert.Equal(t, proxy, got.ProxyAddress())
}

func TestKeyRepository_BalanceStats(t *testing.T) {
	db := newTestDB(t)
	repo := db.NewKeyRepository()
	ctx := context.Background()

	empty, err := repo.BalanceStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalKeys)
	assert.True(t, empty.TotalBalance.IsZero())

	createTestKey(t, repo, "a", "sk-a")
	createTestKey(t, repo, "b", "sk-b")
	c := createTestKey(t, repo, "c", "sk-c")
	require.NoError(t, repo.RecordCheckFailure(ctx, c.ID, models.ErrorCodeCheckFailed))
	require.NoError(t, repo.Create(ctx, &models.APIKey{Name: "d", Secret: "sk-d", UserAgent: "ua", Enabled: true}))

	stats, err := repo.BalanceStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalKeys)
	assert.Equal(t, 3, stats.EnabledKeys)
	assert.Equal(t, 2, stats.KeysWithBalance)
	assert.True(t, stats.TotalBalance.Equal(decimal.NewFromInt(20)), "total was %s", stats.TotalBalance)
}
