package port

import (
	"context"

	"github.com/bnema/harvest/internal/domain"
)

type JobStore interface {
	// CreateJob stores a pending job and queues it for scraping atomically.
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context) ([]*domain.Job, error)
	// DeleteJob removes the job with its tasks and pending deliveries.
	DeleteJob(ctx context.Context, id string) error
	// TransitionJob moves a job from one status to another only if it is
	// still in the from status.
	TransitionJob(ctx context.Context, id string, from, to domain.JobStatus, errMsg string) (*domain.Job, error)
	// StartDownloading records the scraped tasks and moves the job from
	// scraping to downloading in one transaction.
	StartDownloading(ctx context.Context, id string, tasks []domain.VideoTask, newVideos int) (*domain.Job, error)
	// RecordTaskOutcome counts a finished task exactly once, queues its
	// file for delivery and completes the job when every task is done.
	RecordTaskOutcome(ctx context.Context, outcome domain.TaskOutcome) (*domain.OutcomeResult, error)
	CompleteJobIfDone(ctx context.Context, id string) (bool, error)
	// ResetStalled recovers state left behind by an interrupted process.
	ResetStalled(ctx context.Context) error
	Ping(ctx context.Context) error
}

type TaskStore interface {
	// ClaimNextTask marks the oldest queued task as downloading. It returns
	// nil when nothing is queued.
	ClaimNextTask(ctx context.Context) (*domain.VideoTask, error)
	GetTask(ctx context.Context, jobID, videoID string) (*domain.VideoTask, error)
	ListTasks(ctx context.Context, jobID string) ([]domain.VideoTask, error)
	UpdateTaskProgress(ctx context.Context, jobID, videoID string, percent int) error
	// RequeueTask puts an interrupted download back in the queue.
	RequeueTask(ctx context.Context, jobID, videoID string) error
}
