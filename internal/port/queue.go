package port

import (
	"context"
	"time"

	"github.com/bnema/harvest/internal/domain"
)

const (
	QueueJobs  = "jobs"
	QueueFlush = "flush"
)

// Queue is a durable FIFO of string payloads keyed by queue name.
type Queue interface {
	Push(ctx context.Context, queue, payload string) error
	// Pop waits up to timeout for an item. ok is false when none arrived.
	Pop(ctx context.Context, queue string, timeout time.Duration) (payload string, ok bool, err error)
	Len(ctx context.Context, queue string) (int, error)
}

type DeliveryQueue interface {
	// TakePending removes and returns up to limit of the job's oldest entries.
	TakePending(ctx context.Context, jobID string, limit int) ([]domain.PendingDelivery, error)
	RequeuePending(ctx context.Context, entry domain.PendingDelivery) error
	PendingCount(ctx context.Context, jobID string) (int, error)
}
