package sqlite

import (
	"context"
	"fmt"
	"sort"

	"github.com/bnema/harvest/internal/adapter/storage/sqlite/sqlitedb"
	"github.com/bnema/harvest/internal/domain"
	"github.com/bnema/harvest/internal/port"
)

type DeliveryQueue struct {
	queries *sqlitedb.Queries
}

func NewDeliveryQueue(store *Store) *DeliveryQueue {
	return &DeliveryQueue{queries: store.queries}
}

func (d *DeliveryQueue) TakePending(ctx context.Context, jobID string, limit int) ([]domain.PendingDelivery, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := d.queries.TakePendingDeliveries(ctx, jobID, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("take pending deliveries of job %s: %w", jobID, err)
	}
	entries := make([]domain.PendingDelivery, len(rows))
	for i, row := range rows {
		entries[i] = pendingFromRow(row)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}

// RequeuePending appends the entry again with one more attempt counted.
func (d *DeliveryQueue) RequeuePending(ctx context.Context, entry domain.PendingDelivery) error {
	err := d.queries.InsertPendingDelivery(ctx, sqlitedb.InsertPendingDeliveryParams{
		JobID:    entry.JobID,
		VideoID:  entry.VideoID,
		FilePath: entry.FilePath,
		Attempts: int64(entry.Attempts + 1),
	})
	if err != nil {
		return fmt.Errorf("requeue delivery %s/%s: %w", entry.JobID, entry.VideoID, err)
	}
	return nil
}

func (d *DeliveryQueue) PendingCount(ctx context.Context, jobID string) (int, error) {
	n, err := d.queries.CountPendingDeliveries(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("count pending deliveries of job %s: %w", jobID, err)
	}
	return int(n), nil
}

var _ port.DeliveryQueue = (*DeliveryQueue)(nil)
