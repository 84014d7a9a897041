package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/harvest/internal/adapter/storage/sqlite/sqlitedb"
	"github.com/bnema/harvest/internal/port"
)

const defaultPollInterval = 100 * time.Millisecond

// Queue is a durable FIFO backed by the queue_items table. A blocking pop
// polls the table until an item shows up or the timeout elapses.
type Queue struct {
	queries      *sqlitedb.Queries
	pollInterval time.Duration
}

func NewQueue(store *Store) *Queue {
	return &Queue{
		queries:      store.queries,
		pollInterval: defaultPollInterval,
	}
}

func (q *Queue) Push(ctx context.Context, queue, payload string) error {
	if err := q.queries.PushQueueItem(ctx, queue, payload, time.Now().UTC()); err != nil {
		return fmt.Errorf("push %s: %w", queue, err)
	}
	return nil
}

func (q *Queue) Pop(ctx context.Context, queue string, timeout time.Duration) (string, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		payload, err := q.queries.PopQueueItem(ctx, queue)
		if err == nil {
			return payload, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", false, fmt.Errorf("pop %s: %w", queue, err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", false, nil
		}
		wait := min(q.pollInterval, remaining)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", false, ctx.Err()
		case <-timer.C:
		}
	}
}

func (q *Queue) Len(ctx context.Context, queue string) (int, error) {
	n, err := q.queries.CountQueueItems(ctx, queue)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", queue, err)
	}
	return int(n), nil
}

var _ port.Queue = (*Queue)(nil)
