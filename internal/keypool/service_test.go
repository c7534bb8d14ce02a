package keypool

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keypool/internal/models"
	"keypool/internal/storage"
	"keypool/internal/utils"
)

func TestService_Create(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key, err := env.service.Create(ctx, CreateKeyInput{
		Name:      "  primary ",
		Secret:    " sk-primary ",
		UserAgent: "ua-1",
		Proxy:     "socks5://127.0.0.1:1080",
		Balance:   utils.DecimalPtr(5.5),
	})
	require.NoError(t, err)
	assert.Equal(t, "primary", key.Name)
	assert.Equal(t, "sk-primary", key.Secret)
	assert.True(t, key.Enabled)
	assert.Equal(t, "socks5://127.0.0.1:1080", key.ProxyAddress())
	assert.True(t, key.Balance.Decimal.Equal(decimal.RequireFromString("5.5")))

	disabled, err := env.service.Create(ctx, CreateKeyInput{
		Name: "off", Secret: "sk-off", UserAgent: "ua-1", Enabled: utils.BoolPtr(false),
	})
	require.NoError(t, err)
	assert.False(t, disabled.Enabled)

	tests := []struct {
		name string
		in   CreateKeyInput
		kind error
	}{
		{"missing name", CreateKeyInput{Secret: "sk-x", UserAgent: "ua"}, utils.ErrInvalidArgument},
		{"missing secret", CreateKeyInput{Name: "x", UserAgent: "ua"}, utils.ErrInvalidArgument},
		{"missing ua", CreateKeyInput{Name: "x", Secret: "sk-x"}, utils.ErrInvalidArgument},
		{"bad proxy", CreateKeyInput{Name: "x", Secret: "sk-x", UserAgent: "ua", Proxy: "ftp://host"}, utils.ErrInvalidArgument},
		{"duplicate secret", CreateKeyInput{Name: "x", Secret: "sk-primary", UserAgent: "ua"}, utils.ErrConflict},
		{"duplicate name", CreateKeyInput{Name: "primary", Secret: "sk-x", UserAgent: "ua"}, utils.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.Create(ctx, tt.in)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestService_List(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	keys := env.addKeys(t, 12)
	_, err := env.service.Update(ctx, keys[0].ID, models.APIKeyUpdate{Enabled: utils.BoolPtr(false)})
	require.NoError(t, err)

	page, total, err := env.service.List(ctx, ListKeysInput{})
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	require.Len(t, page, utils.DefaultPageSize)
	assert.Equal(t, keys[11].ID, page[0].ID, "newest first")

	second, _, err := env.service.List(ctx, ListKeysInput{Page: 2})
	require.NoError(t, err)
	assert.Len(t, second, 2)

	enabled, total, err := env.service.List(ctx, ListKeysInput{Enabled: utils.BoolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, keys[0].ID, enabled[0].ID)

	_, total, err = env.service.List(ctx, ListKeysInput{Name: "KEY-1"})
	require.NoError(t, err)
	assert.Equal(t, 4, total, "key-1, key-10, key-11, key-12")

	today := time.Now().UTC().Format(time.DateOnly)
	_, total, err = env.service.List(ctx, ListKeysInput{CreateDate: today})
	require.NoError(t, err)
	assert.Equal(t, 12, total)

	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format(time.DateOnly)
	_, total, err = env.service.List(ctx, ListKeysInput{CreateDate: yesterday})
	require.NoError(t, err)
	assert.Zero(t, total)

	_, _, err = env.service.List(ctx, ListKeysInput{CreateDate: "19/10/2026"})
	assert.ErrorIs(t, err, utils.ErrInvalidArgument)

	_, _, err = env.service.List(ctx, ListKeysInput{PageSize: utils.MaxPageSize + 1})
	assert.ErrorIs(t, err, utils.ErrInvalidArgument)
}

func TestService_Update(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := env.addKeys(t, 1)[0]

	updated, err := env.service.Update(ctx, key.ID, models.APIKeyUpdate{
		Name:  utils.StringPtr(" renamed "),
		Proxy: utils.StringPtr("http://proxy:8080"),
		Memo:  utils.StringPtr("note"),
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, "http://proxy:8080", updated.ProxyAddress())
	assert.Equal(t, "sk-test-1", updated.Secret)

	cleared, err := env.service.Update(ctx, key.ID, models.APIKeyUpdate{Proxy: utils.StringPtr("")})
	require.NoError(t, err)
	assert.Nil(t, cleared.Proxy)

	_, err = env.service.Update(ctx, key.ID, models.APIKeyUpdate{})
	assert.ErrorIs(t, err, utils.ErrInvalidArgument)

	_, err = env.service.Update(ctx, key.ID, models.APIKeyUpdate{Name: utils.StringPtr("  ")})
	assert.ErrorIs(t, err, utils.ErrInvalidArgument)

	_, err = env.service.Update(ctx, key.ID, models.APIKeyUpdate{Proxy: utils.StringPtr("not a url")})
	assert.ErrorIs(t, err, utils.ErrInvalidArgument)

	_, err = env.service.Update(ctx, key.ID+99, models.APIKeyUpdate{Memo: utils.StringPtr("x")})
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestService_Delete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	keys := env.addKeys(t, 3)

	require.NoError(t, env.service.Delete(ctx, keys[0].ID))
	_, err := env.service.Get(ctx, keys[0].ID)
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)

	assert.ErrorIs(t, env.service.Delete(ctx, keys[0].ID), utils.ErrNotFound)
	assert.ErrorIs(t, env.service.Delete(ctx, 0), utils.ErrInvalidArgument)

	result, err := env.service.BatchDelete(ctx, []int64{keys[1].ID, keys[2].ID, 9999})
	require.NoError(t, err)
	assert.Equal(t, BatchResult{SuccessCount: 2, FailCount: 1, TotalCount: 3}, *result)

	_, err = env.service.BatchDelete(ctx, nil)
	assert.ErrorIs(t, err, utils.ErrInvalidArgument)
}

func TestService_BalanceStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i, balance := range []float64{10, 2.5} {
		_, err := env.service.Create(ctx, CreateKeyInput{
			Name: "k" + string(rune('a'+i)), Secret: "sk-" + string(rune('a'+i)), UserAgent: "ua",
			Balance: utils.DecimalPtr(balance),
		})
		require.NoError(t, err)
	}
	_, err := env.service.Create(ctx, CreateKeyInput{
		Name: "off", Secret: "sk-off", UserAgent: "ua", Enabled: utils.BoolPtr(false), Balance: utils.DecimalPtr(100),
	})
	require.NoError(t, err)

	stats, err := env.service.BalanceStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalKeys)
	assert.Equal(t, 2, stats.EnabledKeys)
	assert.Equal(t, 2, stats.KeysWithBalance)
	assert.True(t, stats.TotalBalance.Equal(decimal.RequireFromString("12.5")), stats.TotalBalance.String())
}
