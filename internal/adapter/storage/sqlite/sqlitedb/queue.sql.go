package sqlitedb

import (
	"context"
	"time"
)

const pushQueueItem = `INSERT INTO queue_items (queue, payload, enqueued_at) VALUES (?, ?, ?)`

func (q *Queries) PushQueueItem(ctx context.Context, queue, payload string, enqueuedAt time.Time) error {
	_, err := q.db.ExecContext(ctx, pushQueueItem, queue, payload, enqueuedAt)
	return err
}

const popQueueItem = `DELETE FROM queue_items
WHERE id = (SELECT id FROM queue_items WHERE queue = ? ORDER BY id LIMIT 1)
RETURNING payload`

func (q *Queries) PopQueueItem(ctx context.Context, queue string) (string, error) {
	var payload string
	err := q.db.QueryRowContext(ctx, popQueueItem, queue).Scan(&payload)
	return payload, err
}

const countQueueItems = `SELECT COUNT(*) FROM queue_items WHERE queue = ?`

func (q *Queries) CountQueueItems(ctx context.Context, queue string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countQueueItems, queue).Scan(&n)
	return n, err
}

const queueContains = `SELECT EXISTS (SELECT 1 FROM queue_items WHERE queue = ? AND payload = ?)`

func (q *Queries) QueueContains(ctx context.Context, queue, payload string) (bool, error) {
	var found bool
	err := q.db.QueryRowContext(ctx, queueContains, queue, payload).Scan(&found)
	return found, err
}
