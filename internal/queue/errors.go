package queue

import (
	"errors"
	"fmt"

	"keypool/internal/utils"
)

var (
	// ErrQueueClosed is returned by every operation after Close
	ErrQueueClosed = errors.New("usage queue is closed")

	// ErrQueueFull is returned by the memory backend when its buffer is at capacity
	ErrQueueFull = errors.New("usage queue is full")

	// ErrItemNotFound is returned for an unknown dead-letter id
	ErrItemNotFound = fmt.Errorf("dead-letter item %w", utils.ErrNotFound)

	// ErrMaxRetriesExceeded wraps the last write error of an item sent to the dead-letter queue
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)
