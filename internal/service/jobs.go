package service

import (
	"context"
	"fmt"

	"github.com/bnema/harvest/internal/domain"
	"github.com/bnema/harvest/internal/infrastructure/logger"
	"github.com/bnema/harvest/internal/port"
)

// JobDetail is a job with its tasks in scrape order.
type JobDetail struct {
	*domain.Job
	Tasks []domain.VideoTask `json:"tasks"`
}

// JobService is the request boundary used by the HTTP adapter.
type JobService struct {
	orchestrator      *Orchestrator
	jobs              port.JobStore
	tasks             port.TaskStore
	queue             port.Queue
	defaultSubscriber string
}

func NewJobService(orchestrator *Orchestrator, jobs port.JobStore, tasks port.TaskStore, queue port.Queue, defaultSubscriber string) *JobService {
	return &JobService{
		orchestrator:      orchestrator,
		jobs:              jobs,
		tasks:             tasks,
		queue:             queue,
		defaultSubscriber: defaultSubscriber,
	}
}

// CreateJob records a harvest request. An empty subscriberID falls back to
// the configured default subscriber.
func (s *JobService) CreateJob(ctx context.Context, username string, maxVideos int, subscriberID string) (*domain.Job, error) {
	if err := domain.ValidateUsername(username); err != nil {
		return nil, err
	}
	if subscriberID == "" {
		subscriberID = s.defaultSubscriber
	}
	job := domain.NewJob(username, maxVideos, subscriberID)
	if err := s.orchestrator.Submit(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *JobService) GetJob(ctx context.Context, id string) (*JobDetail, error) {
	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	tasks, err := s.tasks.ListTasks(ctx, id)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []domain.VideoTask{}
	}
	return &JobDetail{Job: job, Tasks: tasks}, nil
}

func (s *JobService) ListJobs(ctx context.Context) ([]*domain.Job, error) {
	jobs, err := s.jobs.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []*domain.Job{}
	}
	return jobs, nil
}

// DeleteJob removes a job, its tasks and its pending deliveries. Downloaded
// files stay, they belong to the global download set.
func (s *JobService) DeleteJob(ctx context.Context, id string) error {
	if err := s.jobs.DeleteJob(ctx, id); err != nil {
		return err
	}
	logger.Info.Printf("job %s deleted", id)
	return nil
}

// FlushJob asks the delivery consumer to drain the job's pending deliveries.
func (s *JobService) FlushJob(ctx context.Context, id string) error {
	if _, err := s.jobs.GetJob(ctx, id); err != nil {
		return err
	}
	sig := domain.FlushSignal{JobID: id, Drain: true}
	if err := s.queue.Push(ctx, port.QueueFlush, sig.Encode()); err != nil {
		return fmt.Errorf("queue flush of job %s: %w", id, err)
	}
	return nil
}

func (s *JobService) Ping(ctx context.Context) error {
	return s.jobs.Ping(ctx)
}
