package sqlitedb

import "context"

const insertPendingDelivery = `INSERT INTO pending_deliveries (job_id, video_id, file_path, attempts)
VALUES (?, ?, ?, ?)`

type InsertPendingDeliveryParams struct {
	JobID    string
	VideoID  string
	FilePath string
	Attempts int64
}

func (q *Queries) InsertPendingDelivery(ctx context.Context, arg InsertPendingDeliveryParams) error {
	_, err := q.db.ExecContext(ctx, insertPendingDelivery, arg.JobID, arg.VideoID, arg.FilePath, arg.Attempts)
	return err
}

const countPendingDeliveries = `SELECT COUNT(*) FROM pending_deliveries WHERE job_id = ?`

func (q *Queries) CountPendingDeliveries(ctx context.Context, jobID string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countPendingDeliveries, jobID).Scan(&n)
	return n, err
}

const takePendingDeliveries = `DELETE FROM pending_deliveries
WHERE seq IN (SELECT seq FROM pending_deliveries WHERE job_id = ? ORDER BY seq LIMIT ?)
RETURNING seq, job_id, video_id, file_path, attempts`

func (q *Queries) TakePendingDeliveries(ctx context.Context, jobID string, limit int64) ([]PendingDelivery, error) {
	rows, err := q.db.QueryContext(ctx, takePendingDeliveries, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []PendingDelivery
	for rows.Next() {
		var i PendingDelivery
		if err := rows.Scan(&i.Seq, &i.JobID, &i.VideoID, &i.FilePath, &i.Attempts); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deletePendingByJob = `DELETE FROM pending_deliveries WHERE job_id = ?`

func (q *Queries) DeletePendingByJob(ctx context.Context, jobID string) error {
	_, err := q.db.ExecContext(ctx, deletePendingByJob, jobID)
	return err
}
