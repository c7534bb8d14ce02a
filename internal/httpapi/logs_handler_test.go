package httpapi

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keypool/internal/models"
	"keypool/internal/queue"
	"keypool/internal/storage"
	"keypool/internal/utils"
)

func recordUsage(t *testing.T, srv *testServer, body map[string]interface{}) *models.UsageLog {
	t.Helper()
	resp := call[*models.UsageLog](t, srv, "/api/logs/record", body)
	require.True(t, resp.Success, resp.Msg)
	return resp.Data
}

func TestRecordLog(t *testing.T) {
	srv := newTestServer(t)
	key := srv.createKey(t, "k", "sk-abcdef")

	entry := recordUsage(t, srv, map[string]interface{}{
		"key_id":            key.ID,
		"api_key":           "sk-abcdef",
		"provider":          "OpenAI",
		"model":             "gpt-4o-mini",
		"prompt_tokens":     12,
		"completion_tokens": 30,
		"cost":              0.0021,
		"latency_ms":        340,
		"status":            "success",
		"request_body":      `{"messages":[]}`,
	})
	assert.NotZero(t, entry.ID)
	assert.NotEmpty(t, entry.RequestID)
	assert.Equal(t, "openai", entry.Provider)
	assert.Equal(t, int64(42), entry.TotalTokens)
	assert.Nil(t, entry.RequestBody, "bodies are dropped while conversation logging is off")

	failed := recordUsage(t, srv, map[string]interface{}{
		"provider":         "anthropic",
		"model":            "claude-3-5-sonnet",
		"status":           "error",
		"http_status_code": 429,
		"error_message":    "slow down",
	})
	require.NotNil(t, failed.ErrorType)
	assert.Equal(t, models.ErrorTypeRateLimit, *failed.ErrorType)

	t.Run("rejects unknown provider", func(t *testing.T) {
		bad := call[any](t, srv, "/api/logs/record", map[string]interface{}{
			"provider": "mistral", "model": "m", "status": "success",
		})
		assert.False(t, bad.Success)
		assert.Equal(t, http.StatusBadRequest, bad.Code)
	})

	t.Run("rejects negative cost", func(t *testing.T) {
		bad := call[any](t, srv, "/api/logs/record", map[string]interface{}{
			"provider": "openai", "model": "m", "status": "success", "cost": -1,
		})
		assert.Equal(t, http.StatusBadRequest, bad.Code)
	})
}

func TestRecordLogAsync(t *testing.T) {
	srv := newTestServer(t)
	srv.deps.UsageWorker.Start(context.Background())

	resp := call[map[string]string](t, srv, "/api/logs/record", map[string]interface{}{
		"provider": "openai",
		"model":    "gpt-4o",
		"status":   "success",
		"async":    true,
	})
	require.True(t, resp.Success, resp.Msg)
	assert.NotEmpty(t, resp.Data["request_id"])

	// Stop drains the queue
	require.NoError(t, srv.deps.UsageWorker.Stop())

	list := call[utils.PageData[*models.UsageLog]](t, srv, "/api/logs/list", nil)
	require.Equal(t, 1, list.Data.Total)
	assert.Equal(t, resp.Data["request_id"], list.Data.Items[0].RequestID)
}

func TestListLogs(t *testing.T) {
	srv := newTestServer(t)
	key := srv.createKey(t, "k", "sk-abcdef")

	for i := 0; i < 3; i++ {
		recordUsage(t, srv, map[string]interface{}{
			"key_id": key.ID, "api_key": "sk-abcdef", "provider": "openai", "model": "gpt-4o-mini", "status": "success",
		})
	}
	recordUsage(t, srv, map[string]interface{}{
		"provider": "anthropic", "model": "claude-3-haiku", "status": "error", "http_status_code": 500,
	})

	all := call[utils.PageData[*models.UsageLog]](t, srv, "/api/logs/list", nil)
	require.True(t, all.Success)
	assert.Equal(t, 4, all.Data.Total)
	assert.Equal(t, "anthropic", all.Data.Items[0].Provider, "newest first")

	byKey := call[utils.PageData[*models.UsageLog]](t, srv, "/api/logs/list", map[string]interface{}{"key_id": key.ID})
	assert.Equal(t, 3, byKey.Data.Total)

	bySecret := call[utils.PageData[*models.UsageLog]](t, srv, "/api/logs/list", map[string]string{"api_key": "bcde"})
	assert.Equal(t, 3, bySecret.Data.Total)

	errorsOnly := call[utils.PageData[*models.UsageLog]](t, srv, "/api/logs/list", map[string]string{"status": "error"})
	assert.Equal(t, 1, errorsOnly.Data.Total)

	paged := call[utils.PageData[*models.UsageLog]](t, srv, "/api/logs/list", map[string]int{"page": 2, "page_size": 3})
	assert.Len(t, paged.Data.Items, 1)
	assert.Equal(t, 3, paged.Data.PageSize)

	now := time.Now().UTC()
	window := call[utils.PageData[*models.UsageLog]](t, srv, "/api/logs/list", map[string]string{
		"start_time": now.Add(-time.Hour).Format(time.DateTime),
		"end_time":   now.Add(time.Hour).Format(time.DateTime),
	})
	assert.Equal(t, 4, window.Data.Total)

	future := call[utils.PageData[*models.UsageLog]](t, srv, "/api/logs/list", map[string]string{
		"start_time": now.Add(time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, 0, future.Data.Total)

	badTime := call[any](t, srv, "/api/logs/list", map[string]string{"start_time": "yesterday"})
	assert.Equal(t, http.StatusBadRequest, badTime.Code)

	reversed := call[any](t, srv, "/api/logs/list", map[string]string{
		"start_time": "2026-10-19 12:00:00",
		"end_time":   "2026-10-19 11:00:00",
	})
	assert.Equal(t, http.StatusBadRequest, reversed.Code)
}

func TestDeadLetters(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	cfg := queue.DefaultConfig("usage")
	q, dlq := queue.New[*models.UsageLog](cfg, nil)
	srv.deps.UsageWorker = storage.NewUsageQueueWorker(q, dlq, srv.deps.DB.NewUsageLogRepository(), cfg)

	require.NoError(t, dlq.Add(ctx, &models.UsageLog{
		RequestID: "req-1", Provider: models.ProviderOpenAI, Model: "gpt-4o", Status: models.UsageStatusSuccess,
	}, errors.New("database is locked")))
	require.NoError(t, dlq.Add(ctx, &models.UsageLog{
		RequestID: "req-2", Provider: models.ProviderOpenAI, Model: "gpt-4o", Status: models.UsageStatusSuccess,
	}, errors.New("database is locked")))

	limited := call[[]queue.DeadLetterItem[*models.UsageLog]](t, srv, "/api/logs/dlq/list", map[string]int{"limit": 1})
	require.True(t, limited.Success, limited.Msg)
	assert.Len(t, limited.Data, 1)

	list := call[[]queue.DeadLetterItem[*models.UsageLog]](t, srv, "/api/logs/dlq/list", nil)
	require.True(t, list.Success, list.Msg)
	require.Len(t, list.Data, 2)
	first := list.Data[0]
	assert.Equal(t, "req-1", first.Item.RequestID)
	assert.Contains(t, first.Error, "locked")

	retried := call[map[string]string](t, srv, "/api/logs/dlq/retry", map[string]string{"id": first.ID})
	require.True(t, retried.Success, retried.Msg)
	assert.Equal(t, first.ID, retried.Data["id"])

	queued, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)

	list = call[[]queue.DeadLetterItem[*models.UsageLog]](t, srv, "/api/logs/dlq/list", nil)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "req-2", list.Data[0].Item.RequestID)

	missing := call[any](t, srv, "/api/logs/dlq/retry", map[string]string{"id": first.ID})
	assert.False(t, missing.Success)
	assert.Equal(t, http.StatusNotFound, missing.Code)

	blank := call[any](t, srv, "/api/logs/dlq/retry", map[string]string{"id": ""})
	assert.Equal(t, http.StatusBadRequest, blank.Code)

	negative := call[any](t, srv, "/api/logs/dlq/list", map[string]int{"limit": -1})
	assert.Equal(t, http.StatusBadRequest, negative.Code)

	viewer := decode[any](t, srv.do(t, "/api/logs/dlq/list", srv.viewer, nil))
	assert.Equal(t, http.StatusForbidden, viewer.Code)
}
