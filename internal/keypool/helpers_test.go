package keypool

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"keypool/internal/configstore"
	"keypool/internal/models"
	"keypool/internal/storage"
)

type testEnv struct {
	db      *storage.DB
	keys    *storage.KeyRepository
	config  *configstore.Store
	service *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := storage.NewMemoryDB(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := configstore.New(db.NewConfigRepository())
	require.NoError(t, store.Seed(ctx))

	keys := db.NewKeyRepository()
	service := NewService(keys, store, time.UTC)
	store.SetReconciler(service)

	return &testEnv{db: db, keys: keys, config: store, service: service}
}

func (e *testEnv) addKeys(t *testing.T, n int) []*models.APIKey {
	t.Helper()

	created := make([]*models.APIKey, 0, n)
	for i := 1; i <= n; i++ {
		key, err := e.service.Create(context.Background(), CreateKeyInput{
			Name:      fmt.Sprintf("key-%d", i),
			Secret:    fmt.Sprintf("sk-test-%d", i),
			UserAgent: "ua-1",
		})
		require.NoError(t, err)
		created = append(created, key)
	}
	return created
}
