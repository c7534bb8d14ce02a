package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"keypool/internal/models"
	"keypool/internal/queue"
	"keypool/internal/utils"
)

// UsageWriter persists usage entries. *UsageLogRepository satisfies it.
type UsageWriter interface {
	Create(ctx context.Context, entry *models.UsageLog) error
	CreateBatch(ctx context.Context, entries []*models.UsageLog) error
}

// UsageQueueWorker drains the usage queue into the database in batches
type UsageQueueWorker struct {
	queue       queue.Queue[*models.UsageLog]
	dlq         queue.DeadLetterQueue[*models.UsageLog]
	writer      UsageWriter
	config      *queue.Config
	logger      *utils.Logger
	started     atomic.Bool
	stopOnce    sync.Once
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewUsageQueueWorker creates a new usage queue worker
func NewUsageQueueWorker(q queue.Queue[*models.UsageLog], dlq queue.DeadLetterQueue[*models.UsageLog], writer UsageWriter, config *queue.Config) *UsageQueueWorker {
	if config == nil {
		config = queue.DefaultConfig("usage")
	}

	return &UsageQueueWorker{
		queue:       q,
		dlq:         dlq,
		writer:      writer,
		config:      config,
		logger:      utils.NewLogger("usage-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *UsageQueueWorker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

// Stop drains what is already queued, then stops the worker
func (w *UsageQueueWorker) Stop() error {
	w.stopOnce.Do(func() { close(w.stopChan) })
	if w.started.Load() {
		<-w.stoppedChan
	}
	return nil
}

// Enqueue adds a usage entry to the queue
func (w *UsageQueueWorker) Enqueue(ctx context.Context, entry *models.UsageLog) error {
	return w.queue.Enqueue(ctx, entry)
}

// run is the main worker loop
func (w *UsageQueueWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.drain(ctx)
			w.logger.Info("Usage worker stopped")
			return
		case <-ctx.Done():
			w.logger.Info("Usage worker context cancelled")
			return
		default:
			w.processBatch(ctx)
		}
	}
}

// drain flushes entries that were queued before Stop
func (w *UsageQueueWorker) drain(ctx context.Context) {
	for {
		n, err := w.queue.Length(ctx)
		if err != nil || n == 0 {
			return
		}
		if w.processBatch(ctx) == 0 {
			return
		}
	}
}

// processBatch writes one batch and returns how many entries it dequeued
func (w *UsageQueueWorker) processBatch(ctx context.Context) int {
	entries, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("Failed to dequeue usage entries", "error", err)
			time.Sleep(1 * time.Second) // Back off on error
		}
		return 0
	}

	if len(entries) == 0 {
		return 0
	}

	w.logger.Debug("Processing usage batch", "count", len(entries))

	if err := w.writer.CreateBatch(ctx, entries); err != nil {
		w.logger.Warn("Batch insert failed, falling back to individual inserts", "count", len(entries), "error", err)
		for _, entry := range entries {
			if err := w.processItem(ctx, entry); err != nil {
				w.logger.Error("Failed to process usage entry", "request_id", entry.RequestID, "error", err)
			}
		}
	}

	return len(entries)
}

// processItem writes a single entry with retries, parking it in the DLQ when they run out
func (w *UsageQueueWorker) processItem(ctx context.Context, entry *models.UsageLog) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			w.logger.Debug("Retrying usage entry", "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := w.writer.Create(ctx, entry); err != nil {
			lastErr = err
			continue
		}

		return nil
	}

	if w.dlq != nil {
		if err := w.dlq.Add(ctx, entry, lastErr); err != nil {
			w.logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			w.logger.Warn("Usage entry moved to DLQ", "request_id", entry.RequestID, "error", lastErr)
		}
	}

	return fmt.Errorf("%w: %w", queue.ErrMaxRetriesExceeded, lastErr)
}

// GetQueueLength returns the current queue length
func (w *UsageQueueWorker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems returns items from the dead letter queue
func (w *UsageQueueWorker) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem[*models.UsageLog], error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem moves an entry from the dead letter queue back onto the queue
func (w *UsageQueueWorker) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}

	for _, dlItem := range items {
		if dlItem.ID == id {
			if err := w.queue.Enqueue(ctx, dlItem.Item); err != nil {
				return fmt.Errorf("failed to re-enqueue item: %w", err)
			}

			if err := w.dlq.Remove(ctx, id); err != nil {
				return fmt.Errorf("failed to remove from DLQ: %w", err)
			}

			return nil
		}
	}

	return queue.ErrItemNotFound
}
