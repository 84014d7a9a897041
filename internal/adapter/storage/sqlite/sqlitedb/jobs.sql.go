package sqlitedb

import (
	"context"
	"time"
)

const jobColumns = `id, username, max_videos, subscriber_id, status, total_videos,
    downloaded_count, failed_count, new_videos, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (Job, error) {
	var i Job
	err := row.Scan(
		&i.ID,
		&i.Username,
		&i.MaxVideos,
		&i.SubscriberID,
		&i.Status,
		&i.TotalVideos,
		&i.DownloadedCount,
		&i.FailedCount,
		&i.NewVideos,
		&i.ErrorMessage,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const insertJob = `INSERT INTO jobs (id, username, max_videos, subscriber_id, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

type InsertJobParams struct {
	ID           string
	Username     string
	MaxVideos    int64
	SubscriberID string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (q *Queries) InsertJob(ctx context.Context, arg InsertJobParams) error {
	_, err := q.db.ExecContext(ctx, insertJob,
		arg.ID,
		arg.Username,
		arg.MaxVideos,
		arg.SubscriberID,
		arg.Status,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return err
}

const getJob = `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

func (q *Queries) GetJob(ctx context.Context, id string) (Job, error) {
	return scanJob(q.db.QueryRowContext(ctx, getJob, id))
}

const listJobs = `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC, id`

func (q *Queries) ListJobs(ctx context.Context) ([]Job, error) {
	rows, err := q.db.QueryContext(ctx, listJobs)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []Job
	for rows.Next() {
		i, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listJobIDsByStatus = `SELECT id FROM jobs WHERE status = ? ORDER BY created_at, id`

func (q *Queries) ListJobIDsByStatus(ctx context.Context, status string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listJobIDsByStatus, status)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

const deleteJob = `DELETE FROM jobs WHERE id = ?`

func (q *Queries) DeleteJob(ctx context.Context, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteJob, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const transitionJob = `UPDATE jobs SET status = ?, error_message = ?, updated_at = ?
WHERE id = ? AND status = ?`

type TransitionJobParams struct {
	Status       string
	ErrorMessage string
	UpdatedAt    time.Time
	ID           string
	FromStatus   string
}

func (q *Queries) TransitionJob(ctx context.Context, arg TransitionJobParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, transitionJob,
		arg.Status,
		arg.ErrorMessage,
		arg.UpdatedAt,
		arg.ID,
		arg.FromStatus,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const setJobTotals = `UPDATE jobs SET total_videos = ?, new_videos = ?, updated_at = ? WHERE id = ?`

type SetJobTotalsParams struct {
	TotalVideos int64
	NewVideos   int64
	UpdatedAt   time.Time
	ID          string
}

func (q *Queries) SetJobTotals(ctx context.Context, arg SetJobTotalsParams) error {
	_, err := q.db.ExecContext(ctx, setJobTotals, arg.TotalVideos, arg.NewVideos, arg.UpdatedAt, arg.ID)
	return err
}

const incrementJobDownloaded = `UPDATE jobs SET downloaded_count = downloaded_count + 1, updated_at = ?
WHERE id = ? AND status = 'downloading'`

func (q *Queries) IncrementJobDownloaded(ctx context.Context, updatedAt time.Time, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, incrementJobDownloaded, updatedAt, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const incrementJobFailed = `UPDATE jobs SET failed_count = failed_count + 1, updated_at = ?
WHERE id = ? AND status = 'downloading'`

func (q *Queries) IncrementJobFailed(ctx context.Context, updatedAt time.Time, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, incrementJobFailed, updatedAt, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const completeJobIfDone = `UPDATE jobs SET status = 'completed', updated_at = ?
WHERE id = ? AND status = 'downloading' AND downloaded_count + failed_count >= total_videos`

func (q *Queries) CompleteJobIfDone(ctx context.Context, updatedAt time.Time, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, completeJobIfDone, updatedAt, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listJobIDsWithPending = `SELECT DISTINCT p.job_id FROM pending_deliveries p
JOIN jobs j ON j.id = p.job_id
WHERE j.status IN ('completed', 'failed')`

func (q *Queries) ListFinishedJobIDsWithPending(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listJobIDsWithPending)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
