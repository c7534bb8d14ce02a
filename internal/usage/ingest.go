// Package usage records proxied upstream attempts and serves the usage log.
package usage

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"keypool/internal/models"
	"keypool/internal/queue"
	"keypool/internal/storage"
	"keypool/internal/utils"
)

// Store persists and lists usage entries. *storage.UsageLogRepository satisfies it.
type Store interface {
	Create(ctx context.Context, entry *models.UsageLog) error
	ListWithFilters(ctx context.Context, filters storage.UsageLogFilters) (*storage.UsageLogListResult, error)
}

// Enqueuer accepts entries for asynchronous persistence. *storage.UsageQueueWorker satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, entry *models.UsageLog) error
}

// ConfigSource yields the live system configuration
type ConfigSource interface {
	Snapshot() models.SystemConfig
}

// Ingest validates and appends usage entries
type Ingest struct {
	store  Store
	queue  Enqueuer
	config ConfigSource
	logger *utils.Logger
}

// NewIngest creates an ingest. queue may be nil, in which case Enqueue writes synchronously.
func NewIngest(store Store, queue Enqueuer, config ConfigSource) *Ingest {
	return &Ingest{
		store:  store,
		queue:  queue,
		config: config,
		logger: utils.NewLogger("usage"),
	}
}

// Record validates entry and appends it. No deduplication is done.
func (i *Ingest) Record(ctx context.Context, entry *models.UsageLog) (*models.UsageLog, error) {
	if err := i.prepare(entry); err != nil {
		return nil, err
	}
	if err := i.store.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Enqueue validates entry and hands it to the background writer. Without a
// queue, or when the queue is full, the entry is written synchronously.
func (i *Ingest) Enqueue(ctx context.Context, entry *models.UsageLog) error {
	if i.queue == nil {
		_, err := i.Record(ctx, entry)
		return err
	}
	if err := i.prepare(entry); err != nil {
		return err
	}

	err := i.queue.Enqueue(ctx, entry)
	if errors.Is(err, queue.ErrQueueFull) {
		i.logger.Warn("Usage queue full, writing synchronously", "request_id", entry.RequestID)
		return i.store.Create(ctx, entry)
	}
	return err
}

// prepare validates required fields and fills in derived ones. Bodies are
// dropped unless conversation logging is enabled at this moment.
func (i *Ingest) prepare(entry *models.UsageLog) error {
	if entry == nil {
		return utils.Errorf(utils.ErrInvalidArgument, "usage entry is required")
	}

	entry.Provider = strings.ToLower(strings.TrimSpace(entry.Provider))
	entry.Model = strings.TrimSpace(entry.Model)
	entry.Status = strings.ToLower(strings.TrimSpace(entry.Status))

	switch entry.Provider {
	case "":
		return utils.Errorf(utils.ErrInvalidArgument, "provider is required")
	case models.ProviderOpenAI, models.ProviderAnthropic:
	default:
		return utils.Errorf(utils.ErrInvalidArgument, "unsupported provider %q", entry.Provider)
	}
	if entry.Model == "" {
		return utils.Errorf(utils.ErrInvalidArgument, "model is required")
	}
	switch entry.Status {
	case "":
		return utils.Errorf(utils.ErrInvalidArgument, "status is required")
	case models.UsageStatusSuccess, models.UsageStatusError:
	default:
		return utils.Errorf(utils.ErrInvalidArgument, "status must be %q or %q", models.UsageStatusSuccess, models.UsageStatusError)
	}
	if entry.Cost.IsNegative() {
		return utils.Errorf(utils.ErrInvalidArgument, "cost must not be negative")
	}

	if entry.TotalTokens == 0 {
		entry.TotalTokens = entry.DerivedTotalTokens()
	}
	if entry.RequestID == "" {
		entry.RequestID = uuid.NewString()
	}
	if !entry.IsSuccess() && utils.StringPtrValue(entry.ErrorType) == "" {
		code := 0
		if entry.HTTPStatusCode != nil {
			code = *entry.HTTPStatusCode
		}
		entry.ErrorType = utils.StringPtr(ClassifyErrorType(code, utils.StringPtrValue(entry.ErrorMessage)))
	}

	if !i.config.Snapshot().LogConversationContent {
		entry.RequestBody = nil
		entry.ResponseBody = nil
	}
	return nil
}

// ListLogsInput holds usage log filters
type ListLogsInput struct {
	KeyID     *int64
	Secret    string
	Status    string
	Provider  string
	Model     string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	PageSize  int
}

// List returns one page of usage entries, newest first, and the total match count
func (i *Ingest) List(ctx context.Context, in ListLogsInput) ([]*models.UsageLog, int, error) {
	page, pageSize, err := utils.NormalizePage(in.Page, in.PageSize)
	if err != nil {
		return nil, 0, err
	}
	if in.StartTime != nil && in.EndTime != nil && in.EndTime.Before(*in.StartTime) {
		return nil, 0, utils.Errorf(utils.ErrInvalidArgument, "end_time must not be before start_time")
	}

	result, err := i.store.ListWithFilters(ctx, storage.UsageLogFilters{
		KeyID:     in.KeyID,
		Secret:    strings.TrimSpace(in.Secret),
		Status:    strings.TrimSpace(in.Status),
		Provider:  strings.TrimSpace(in.Provider),
		Model:     strings.TrimSpace(in.Model),
		StartTime: in.StartTime,
		EndTime:   in.EndTime,
		Page:      page,
		PageSize:  pageSize,
	})
	if err != nil {
		return nil, 0, err
	}
	return result.Logs, result.TotalCount, nil
}

// ClassifyErrorType buckets a failed attempt by its HTTP status and error text
func ClassifyErrorType(statusCode int, message string) string {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return models.ErrorTypeAuth
	case statusCode == http.StatusTooManyRequests:
		return models.ErrorTypeRateLimit
	case statusCode == http.StatusNotFound:
		return models.ErrorTypeNotFound
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return models.ErrorTypeTimeout
	case statusCode >= 500:
		return models.ErrorTypeServer
	}

	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline"):
		return models.ErrorTypeTimeout
	case strings.Contains(msg, "connection") || strings.Contains(msg, "dial") || strings.Contains(msg, "eof"):
		return models.ErrorTypeConnection
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "api key"):
		return models.ErrorTypeAuth
	case strings.Contains(msg, "rate limit"):
		return models.ErrorTypeRateLimit
	default:
		return models.ErrorTypeOther
	}
}
