package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keypool/internal/models"
	"keypool/internal/queue"
)

// flakyWriter fails the first failures single inserts and every batch insert
type flakyWriter struct {
	mu       sync.Mutex
	entries  []*models.UsageLog
	failures int
	calls    int
}

func (w *flakyWriter) Create(ctx context.Context, entry *models.UsageLog) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.calls++
	if w.failures > 0 {
		w.failures--
		return errors.New("database is locked")
	}
	w.entries = append(w.entries, entry)
	return nil
}

func (w *flakyWriter) CreateBatch(ctx context.Context, entries []*models.UsageLog) error {
	return errors.New("batch rejected")
}

func (w *flakyWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

func testQueueConfig() *queue.Config {
	config := queue.DefaultConfig("test-usage")
	config.BatchSize = 10
	config.BatchTimeout = 50 * time.Millisecond
	config.MaxRetries = 2
	config.RetryBackoff = time.Millisecond
	return config
}

func TestUsageQueueWorker_WritesBatches(t *testing.T) {
	db := newTestDB(t)
	key := createTestKey(t, db.NewKeyRepository(), "k", "sk-worker")

	config := testQueueConfig()
	q, dlq := queue.New[*models.UsageLog](config, nil)
	worker := NewUsageQueueWorker(q, dlq, db.NewUsageLogRepository(), config)

	ctx := context.Background()
	at := time.Now()
	for i := 0; i < 25; i++ {
		entry := newTestUsage(key.ID, models.ProviderOpenAI, "gpt-4o", models.UsageStatusSuccess, "0.01", at.Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, worker.Enqueue(ctx, entry))
	}

	length, err := worker.GetQueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25, length)

	worker.Start(ctx)
	require.NoError(t, worker.Stop())

	result, err := db.NewUsageLogRepository().ListWithFilters(ctx, UsageLogFilters{Page: 1, PageSize: 100})
	require.NoError(t, err)
	assert.Equal(t, 25, result.TotalCount)

	items, err := worker.GetDeadLetterItems(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestUsageQueueWorker_RetriesIndividually(t *testing.T) {
	writer := &flakyWriter{failures: 2}
	config := testQueueConfig()
	q, dlq := queue.New[*models.UsageLog](config, nil)
	worker := NewUsageQueueWorker(q, dlq, writer, config)

	ctx := context.Background()
	require.NoError(t, worker.Enqueue(ctx, &models.UsageLog{RequestID: "r1", Provider: models.ProviderOpenAI}))

	assert.Equal(t, 1, worker.processBatch(ctx))
	assert.Equal(t, 1, writer.count())
	assert.Equal(t, 3, writer.calls)

	items, err := worker.GetDeadLetterItems(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestUsageQueueWorker_DeadLetterAndRetry(t *testing.T) {
	writer := &flakyWriter{failures: 3}
	config := testQueueConfig()
	q, dlq := queue.New[*models.UsageLog](config, nil)
	worker := NewUsageQueueWorker(q, dlq, writer, config)

	ctx := context.Background()
	require.NoError(t, worker.Enqueue(ctx, &models.UsageLog{RequestID: "r1", Provider: models.ProviderOpenAI}))

	worker.processBatch(ctx)
	assert.Equal(t, 0, writer.count())

	items, err := worker.GetDeadLetterItems(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "r1", items[0].Item.RequestID)
	assert.Equal(t, "database is locked", items[0].Error)

	require.NoError(t, worker.RetryDeadLetterItem(ctx, items[0].ID))
	assert.ErrorIs(t, worker.RetryDeadLetterItem(ctx, items[0].ID), queue.ErrItemNotFound)

	worker.processBatch(ctx)
	assert.Equal(t, 1, writer.count())
}

func TestUsageQueueWorker_StopsOnContextCancel(t *testing.T) {
	config := testQueueConfig()
	q, dlq := queue.New[*models.UsageLog](config, nil)
	worker := NewUsageQueueWorker(q, dlq, &flakyWriter{}, config)

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)
	cancel()

	select {
	case <-worker.stoppedChan:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}

func TestUsageQueueWorker_StopWithoutStart(t *testing.T) {
	config := testQueueConfig()
	q, dlq := queue.New[*models.UsageLog](config, nil)
	worker := NewUsageQueueWorker(q, dlq, &flakyWriter{}, config)

	done := make(chan struct{})
	go func() {
		worker.Stop()
		worker.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a worker that was never started")
	}
}
