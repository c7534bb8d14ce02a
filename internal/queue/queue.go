// Package queue buffers usage entries between request handlers and the
// database writer. Two backends share one interface:
//
//   - Memory: a buffered channel. Nothing survives a restart; suited to a
//     single process with the SQLite driver.
//   - Redis: a list per queue and a hash per dead-letter queue. Items survive
//     restarts and several replicas may drain the same list.
//
// Items that keep failing after MaxRetries land in the dead-letter queue,
// from where an operator can list and re-enqueue them.
package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue is a FIFO of T
type Queue[T any] interface {
	// Enqueue adds an item to the queue
	Enqueue(ctx context.Context, item T) error

	// DequeueWithTimeout waits up to timeout for the first item, then takes
	// whatever else is immediately available, up to maxItems.
	// An empty slice means the timeout elapsed.
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]T, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue
	Close() error
}

// DeadLetterQueue holds items that exhausted their retries
type DeadLetterQueue[T any] interface {
	// Add records a failed item with the error that stopped it
	Add(ctx context.Context, item T, err error) error

	// List returns up to maxItems entries, oldest first; maxItems <= 0 lists all
	List(ctx context.Context, maxItems int) ([]DeadLetterItem[T], error)

	// Remove deletes an entry by ID
	Remove(ctx context.Context, id string) error

	// Close shuts down the dead letter queue
	Close() error
}

// DeadLetterItem is a failed item plus diagnostics
type DeadLetterItem[T any] struct {
	ID        string    `json:"id"`
	Item      T         `json:"item"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	Retries   int       `json:"retries"`
}

// Config holds queue configuration
type Config struct {
	// BatchSize is the maximum number of items to process in a batch
	BatchSize int

	// BatchTimeout is how long to wait before processing a partial batch
	BatchTimeout time.Duration

	// MaxRetries is the maximum number of retry attempts
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries
	RetryBackoff time.Duration

	// Capacity bounds the memory backend; 0 means ten batches
	Capacity int

	// QueueName is the name/key for the queue
	QueueName string
}

func (c *Config) capacity() int {
	if c.Capacity > 0 {
		return c.Capacity
	}
	if c.BatchSize > 0 {
		return c.BatchSize * 10
	}
	return 1000
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		QueueName:    queueName,
	}
}

// New returns a Redis-backed queue pair when client is non-nil and an
// in-memory pair otherwise
func New[T any](config *Config, client *redis.Client) (Queue[T], DeadLetterQueue[T]) {
	if config == nil {
		config = DefaultConfig("usage")
	}
	if client != nil {
		return NewRedisQueue[T](client, config), NewRedisDeadLetterQueue[T](client, config)
	}
	return NewMemoryQueue[T](config), NewMemoryDeadLetterQueue[T]()
}
