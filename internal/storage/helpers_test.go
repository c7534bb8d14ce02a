package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"keypool/internal/models"
	"keypool/internal/utils"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewMemoryDB(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func createTestKey(t *testing.T, repo *KeyRepository, name, secret string) *models.APIKey {
	t.Helper()

	key := &models.APIKey{
		Name:         name,
		Secret:       secret,
		UserAgent:    "ua-1",
		Enabled:      true,
		Balance:      decimal.NewNullDecimal(decimal.NewFromInt(10)),
		TotalBalance: decimal.NewNullDecimal(decimal.NewFromInt(10)),
	}
	require.NoError(t, repo.Create(context.Background(), key))

	return key
}

func newTestUsage(keyID int64, provider, model, status string, cost string, at time.Time) *models.UsageLog {
	entry := &models.UsageLog{
		CreatedAt: at,
		RequestID: "req-" + at.Format("150405.000000000"),
		KeyID:     &keyID,
		Provider:  provider,
		Model:     model,
		Status:    status,
		Cost:      decimal.RequireFromString(cost),
		LatencyMs: utils.Int64Ptr(100),
	}
	if provider == models.ProviderAnthropic {
		entry.InputTokens, entry.OutputTokens = 10, 5
	} else {
		entry.PromptTokens, entry.CompletionTokens = 10, 5
	}
	entry.TotalTokens = entry.DerivedTotalTokens()
	if status == models.UsageStatusError {
		entry.ErrorType = utils.StringPtr(models.ErrorTypeRateLimit)
	}
	return entry
}
