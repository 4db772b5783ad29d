package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/corpus/internal/models"
)

// QueueManager provides named at-least-once work queues with visibility
// timeouts. A received message stays invisible until deleted, extended, or
// its lease expires, after which it is redelivered with an incremented
// receive count.
type QueueManager interface {
	// Enqueue appends a message to the named queue and returns its id.
	Enqueue(ctx context.Context, queue string, msg *models.StageMessage) (string, error)

	// Receive leases the oldest visible message, or models.ErrNoMessage.
	Receive(ctx context.Context, queue string) (*QueueMessage, error)

	// Delete acknowledges a leased message.
	Delete(ctx context.Context, queue string, id string) error

	// Extend pushes the lease deadline out for slow handlers.
	Extend(ctx context.Context, queue string, id string, d time.Duration) error

	Stats(ctx context.Context, queue string) (*QueueStats, error)
	Close() error
}

// QueueMessage is a leased message together with its delivery bookkeeping.
type QueueMessage struct {
	ID           string               `json:"id"`
	Queue        string               `json:"queue"`
	Body         *models.StageMessage `json:"body"`
	ReceiveCount int                  `json:"receive_count"`
	EnqueuedAt   time.Time            `json:"enqueued_at"`
}

// QueueStats reports visible and leased message counts.
type QueueStats struct {
	Queue    string `json:"queue"`
	Visible  int    `json:"visible"`
	InFlight int    `json:"in_flight"`
}
