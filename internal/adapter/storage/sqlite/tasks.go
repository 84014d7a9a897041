package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/harvest/internal/adapter/storage/sqlite/sqlitedb"
	"github.com/bnema/harvest/internal/domain"
	"github.com/bnema/harvest/internal/port"
)

func (s *Store) ClaimNextTask(ctx context.Context) (*domain.VideoTask, error) {
	seq, err := s.queries.ClaimNextTask(ctx, time.Now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim next task: %w", err)
	}
	row, err := s.queries.GetTaskBySeq(ctx, seq)
	if err != nil {
		return nil, fmt.Errorf("load claimed task %d: %w", seq, err)
	}
	return taskFromRow(row), nil
}

func (s *Store) GetTask(ctx context.Context, jobID, videoID string) (*domain.VideoTask, error) {
	row, err := s.queries.GetTask(ctx, jobID, videoID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get task %s/%s: %w", jobID, videoID, err)
	}
	return taskFromRow(row), nil
}

func (s *Store) ListTasks(ctx context.Context, jobID string) ([]domain.VideoTask, error) {
	rows, err := s.queries.ListTasksByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list tasks of job %s: %w", jobID, err)
	}
	tasks := make([]domain.VideoTask, len(rows))
	for i, row := range rows {
		tasks[i] = *taskFromRow(row)
	}
	return tasks, nil
}

func (s *Store) UpdateTaskProgress(ctx context.Context, jobID, videoID string, percent int) error {
	err := s.queries.UpdateTaskProgress(ctx, sqlitedb.UpdateTaskProgressParams{
		Progress:  int64(percent),
		UpdatedAt: time.Now().UTC(),
		JobID:     jobID,
		VideoID:   videoID,
	})
	if err != nil {
		return fmt.Errorf("update progress of %s/%s: %w", jobID, videoID, err)
	}
	return nil
}

func (s *Store) RequeueTask(ctx context.Context, jobID, videoID string) error {
	if err := s.queries.RequeueTask(ctx, time.Now().UTC(), jobID, videoID); err != nil {
		return fmt.Errorf("requeue task %s/%s: %w", jobID, videoID, err)
	}
	return nil
}

var _ port.TaskStore = (*Store)(nil)
