package sqlitedb

import (
	"context"
	"time"
)

const taskColumns = `seq, job_id, video_id, source_url, owner_username, description, status,
    progress, file_path, error_message, reused, updated_at`

func scanTask(row rowScanner) (VideoTask, error) {
	var i VideoTask
	err := row.Scan(
		&i.Seq,
		&i.JobID,
		&i.VideoID,
		&i.SourceUrl,
		&i.OwnerUsername,
		&i.Description,
		&i.Status,
		&i.Progress,
		&i.FilePath,
		&i.ErrorMessage,
		&i.Reused,
		&i.UpdatedAt,
	)
	return i, err
}

const insertTask = `INSERT INTO video_tasks (job_id, video_id, source_url, owner_username, description, status, updated_at)
VALUES (?, ?, ?, ?, ?, 'queued', ?)
ON CONFLICT (job_id, video_id) DO NOTHING`

type InsertTaskParams struct {
	JobID         string
	VideoID       string
	SourceUrl     string
	OwnerUsername string
	Description   string
	UpdatedAt     time.Time
}

func (q *Queries) InsertTask(ctx context.Context, arg InsertTaskParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertTask,
		arg.JobID,
		arg.VideoID,
		arg.SourceUrl,
		arg.OwnerUsername,
		arg.Description,
		arg.UpdatedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const claimNextTask = `UPDATE video_tasks SET status = 'downloading', progress = 0, updated_at = ?
WHERE seq = (
    SELECT t.seq FROM video_tasks t
    JOIN jobs j ON j.id = t.job_id
    WHERE t.status = 'queued' AND j.status = 'downloading'
    ORDER BY t.seq
    LIMIT 1
)
RETURNING seq`

func (q *Queries) ClaimNextTask(ctx context.Context, updatedAt time.Time) (int64, error) {
	var seq int64
	err := q.db.QueryRowContext(ctx, claimNextTask, updatedAt).Scan(&seq)
	return seq, err
}

const getTaskBySeq = `SELECT ` + taskColumns + ` FROM video_tasks WHERE seq = ?`

func (q *Queries) GetTaskBySeq(ctx context.Context, seq int64) (VideoTask, error) {
	return scanTask(q.db.QueryRowContext(ctx, getTaskBySeq, seq))
}

const getTask = `SELECT ` + taskColumns + ` FROM video_tasks WHERE job_id = ? AND video_id = ?`

func (q *Queries) GetTask(ctx context.Context, jobID, videoID string) (VideoTask, error) {
	return scanTask(q.db.QueryRowContext(ctx, getTask, jobID, videoID))
}

const listTasksByJob = `SELECT ` + taskColumns + ` FROM video_tasks WHERE job_id = ? ORDER BY seq`

func (q *Queries) ListTasksByJob(ctx context.Context, jobID string) ([]VideoTask, error) {
	rows, err := q.db.QueryContext(ctx, listTasksByJob, jobID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []VideoTask
	for rows.Next() {
		i, err := scanTask(rows)
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

const updateTaskProgress = `UPDATE video_tasks SET progress = ?, updated_at = ?
WHERE job_id = ? AND video_id = ? AND status = 'downloading'`

type UpdateTaskProgressParams struct {
	Progress  int64
	UpdatedAt time.Time
	JobID     string
	VideoID   string
}

func (q *Queries) UpdateTaskProgress(ctx context.Context, arg UpdateTaskProgressParams) error {
	_, err := q.db.ExecContext(ctx, updateTaskProgress, arg.Progress, arg.UpdatedAt, arg.JobID, arg.VideoID)
	return err
}

const finishTask = `UPDATE video_tasks
SET status = ?, progress = ?, file_path = ?, error_message = ?, reused = ?, updated_at = ?
WHERE job_id = ? AND video_id = ? AND status = 'downloading'`

type FinishTaskParams struct {
	Status       string
	Progress     int64
	FilePath     string
	ErrorMessage string
	Reused       bool
	UpdatedAt    time.Time
	JobID        string
	VideoID      string
}

func (q *Queries) FinishTask(ctx context.Context, arg FinishTaskParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, finishTask,
		arg.Status,
		arg.Progress,
		arg.FilePath,
		arg.ErrorMessage,
		arg.Reused,
		arg.UpdatedAt,
		arg.JobID,
		arg.VideoID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const requeueTask = `UPDATE video_tasks SET status = 'queued', progress = 0, updated_at = ?
WHERE job_id = ? AND video_id = ? AND status = 'downloading'`

func (q *Queries) RequeueTask(ctx context.Context, updatedAt time.Time, jobID, videoID string) error {
	_, err := q.db.ExecContext(ctx, requeueTask, updatedAt, jobID, videoID)
	return err
}

const resetStalledTasks = `UPDATE video_tasks SET status = 'queued', progress = 0, updated_at = ?
WHERE status = 'downloading'`

func (q *Queries) ResetStalledTasks(ctx context.Context, updatedAt time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx, resetStalledTasks, updatedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteTasksByJob = `DELETE FROM video_tasks WHERE job_id = ?`

func (q *Queries) DeleteTasksByJob(ctx context.Context, jobID string) error {
	_, err := q.db.ExecContext(ctx, deleteTasksByJob, jobID)
	return err
}
