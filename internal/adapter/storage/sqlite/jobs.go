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

// CreateJob stores the job and queues it for scraping in one transaction.
func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	return s.withTx(ctx, func(q *sqlitedb.Queries) error {
		err := q.InsertJob(ctx, sqlitedb.InsertJobParams{
			ID:           job.ID,
			Username:     job.Username,
			MaxVideos:    int64(job.MaxVideos),
			SubscriberID: job.SubscriberID,
			Status:       string(job.Status),
			CreatedAt:    job.CreatedAt,
			UpdatedAt:    job.UpdatedAt,
		})
		if err != nil {
			return fmt.Errorf("insert job %s: %w", job.ID, err)
		}
		if err := q.PushQueueItem(ctx, port.QueueJobs, job.ID, job.CreatedAt); err != nil {
			return fmt.Errorf("enqueue job %s: %w", job.ID, err)
		}
		return nil
	})
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return getJob(ctx, s.queries, id)
}

func getJob(ctx context.Context, q *sqlitedb.Queries, id string) (*domain.Job, error) {
	row, err := q.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return jobFromRow(row), nil
}

func (s *Store) ListJobs(ctx context.Context) ([]*domain.Job, error) {
	rows, err := s.queries.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]*domain.Job, len(rows))
	for i, row := range rows {
		jobs[i] = jobFromRow(row)
	}
	return jobs, nil
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	return s.withTx(ctx, func(q *sqlitedb.Queries) error {
		n, err := q.DeleteJob(ctx, id)
		if err != nil {
			return fmt.Errorf("delete job %s: %w", id, err)
		}
		if n == 0 {
			return domain.ErrNotFound
		}
		if err := q.DeleteTasksByJob(ctx, id); err != nil {
			return fmt.Errorf("delete tasks of job %s: %w", id, err)
		}
		if err := q.DeletePendingByJob(ctx, id); err != nil {
			return fmt.Errorf("delete pending deliveries of job %s: %w", id, err)
		}
		return nil
	})
}

// TransitionJob returns the job as currently stored alongside
// domain.ErrInvalidTransition when it was not in the from status.
func (s *Store) TransitionJob(ctx context.Context, id string, from, to domain.JobStatus, errMsg string) (*domain.Job, error) {
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	var job *domain.Job
	err := s.withTx(ctx, func(q *sqlitedb.Queries) error {
		var err error
		job, err = transition(ctx, q, id, from, to, errMsg)
		return err
	})
	if err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		return nil, err
	}
	return job, err
}

func transition(ctx context.Context, q *sqlitedb.Queries, id string, from, to domain.JobStatus, errMsg string) (*domain.Job, error) {
	n, err := q.TransitionJob(ctx, sqlitedb.TransitionJobParams{
		Status:       string(to),
		ErrorMessage: errMsg,
		UpdatedAt:    time.Now().UTC(),
		ID:           id,
		FromStatus:   string(from),
	})
	if err != nil {
		return nil, fmt.Errorf("transition job %s: %w", id, err)
	}
	job, err := getJob(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return job, fmt.Errorf("%w: job %s is %s, not %s", domain.ErrInvalidTransition, id, job.Status, from)
	}
	return job, nil
}

func (s *Store) StartDownloading(ctx context.Context, id string, tasks []domain.VideoTask, newVideos int) (*domain.Job, error) {
	var job *domain.Job
	err := s.withTx(ctx, func(q *sqlitedb.Queries) error {
		if _, err := transition(ctx, q, id, domain.JobStatusScraping, domain.JobStatusDownloading, ""); err != nil {
			return err
		}
		now := time.Now().UTC()
		var inserted int64
		for _, t := range tasks {
			n, err := q.InsertTask(ctx, sqlitedb.InsertTaskParams{
				JobID:         id,
				VideoID:       t.VideoID,
				SourceUrl:     t.SourceURL,
				OwnerUsername: t.OwnerUsername,
				Description:   t.Description,
				UpdatedAt:     now,
			})
			if err != nil {
				return fmt.Errorf("insert task %s/%s: %w", id, t.VideoID, err)
			}
			inserted += n
		}
		err := q.SetJobTotals(ctx, sqlitedb.SetJobTotalsParams{
			TotalVideos: inserted,
			NewVideos:   int64(newVideos),
			UpdatedAt:   now,
			ID:          id,
		})
		if err != nil {
			return fmt.Errorf("set totals of job %s: %w", id, err)
		}
		job, err = getJob(ctx, q, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Store) RecordTaskOutcome(ctx context.Context, o domain.TaskOutcome) (*domain.OutcomeResult, error) {
	if !o.Status.IsFinished() {
		return nil, fmt.Errorf("record outcome of %s/%s: status %q is not final", o.JobID, o.VideoID, o.Status)
	}
	res := &domain.OutcomeResult{}
	err := s.withTx(ctx, func(q *sqlitedb.Queries) error {
		now := time.Now().UTC()
		var progress int64
		if o.Status == domain.TaskStatusCompleted {
			progress = 100
		}
		n, err := q.FinishTask(ctx, sqlitedb.FinishTaskParams{
			Status:       string(o.Status),
			Progress:     progress,
			FilePath:     o.FilePath,
			ErrorMessage: o.ErrorMessage,
			Reused:       o.Reused,
			UpdatedAt:    now,
			JobID:        o.JobID,
			VideoID:      o.VideoID,
		})
		if err != nil {
			return fmt.Errorf("finish task %s/%s: %w", o.JobID, o.VideoID, err)
		}
		if n == 0 {
			return nil
		}
		res.Counted = true

		increment := q.IncrementJobFailed
		if o.Status == domain.TaskStatusCompleted {
			increment = q.IncrementJobDownloaded
		}
		if _, err := increment(ctx, now, o.JobID); err != nil {
			return fmt.Errorf("count outcome of job %s: %w", o.JobID, err)
		}

		if o.Status == domain.TaskStatusCompleted {
			err := q.InsertPendingDelivery(ctx, sqlitedb.InsertPendingDeliveryParams{
				JobID:    o.JobID,
				VideoID:  o.VideoID,
				FilePath: o.FilePath,
			})
			if err != nil {
				return fmt.Errorf("queue delivery of %s/%s: %w", o.JobID, o.VideoID, err)
			}
		}
		pending, err := q.CountPendingDeliveries(ctx, o.JobID)
		if err != nil {
			return fmt.Errorf("count pending deliveries of job %s: %w", o.JobID, err)
		}
		res.PendingCount = int(pending)

		completed, err := q.CompleteJobIfDone(ctx, now, o.JobID)
		if err != nil {
			return fmt.Errorf("complete job %s: %w", o.JobID, err)
		}
		res.Completed = completed == 1

		res.Job, err = getJob(ctx, q, o.JobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) CompleteJobIfDone(ctx context.Context, id string) (bool, error) {
	n, err := s.queries.CompleteJobIfDone(ctx, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("complete job %s: %w", id, err)
	}
	return n == 1, nil
}

// ResetStalled requeues interrupted downloads, drops their claims and
// re-enqueues jobs that never finished scraping.
func (s *Store) ResetStalled(ctx context.Context) error {
	return s.withTx(ctx, func(q *sqlitedb.Queries) error {
		now := time.Now().UTC()
		if _, err := q.ResetStalledTasks(ctx, now); err != nil {
			return fmt.Errorf("reset stalled tasks: %w", err)
		}
		if _, err := q.DeleteStalledClaims(ctx); err != nil {
			return fmt.Errorf("release stalled download claims: %w", err)
		}

		for _, status := range []domain.JobStatus{domain.JobStatusPending, domain.JobStatusScraping} {
			ids, err := q.ListJobIDsByStatus(ctx, string(status))
			if err != nil {
				return fmt.Errorf("list %s jobs: %w", status, err)
			}
			for _, id := range ids {
				queued, err := q.QueueContains(ctx, port.QueueJobs, id)
				if err != nil {
					return fmt.Errorf("check job queue: %w", err)
				}
				if queued {
					continue
				}
				if err := q.PushQueueItem(ctx, port.QueueJobs, id, now); err != nil {
					return fmt.Errorf("re-enqueue job %s: %w", id, err)
				}
			}
		}

		ids, err := q.ListFinishedJobIDsWithPending(ctx)
		if err != nil {
			return fmt.Errorf("list undelivered jobs: %w", err)
		}
		for _, id := range ids {
			sig := domain.FlushSignal{JobID: id, Drain: true}
			if err := q.PushQueueItem(ctx, port.QueueFlush, sig.Encode(), now); err != nil {
				return fmt.Errorf("re-enqueue flush of job %s: %w", id, err)
			}
		}
		return nil
	})
}

var _ port.JobStore = (*Store)(nil)
