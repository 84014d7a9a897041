package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/harvest/internal/domain"
	"github.com/bnema/harvest/internal/infrastructure/logger"
	"github.com/bnema/harvest/internal/infrastructure/ratelimit"
	"github.com/bnema/harvest/internal/port"
)

type OrchestratorConfig struct {
	PollTimeout    time.Duration
	FlushThreshold int
	NotifyTimeout  time.Duration
}

// Orchestrator owns the job lifecycle. It is the only component that
// changes a job's status.
type Orchestrator struct {
	jobs     port.JobStore
	queue    port.Queue
	source   port.VideoSource
	cache    port.ScrapeCache
	notifier port.Notifier
	events   EventPublisher
	backoff  *ratelimit.Backoff
	cfg      OrchestratorConfig
}

func NewOrchestrator(
	jobs port.JobStore,
	queue port.Queue,
	source port.VideoSource,
	cache port.ScrapeCache,
	notifier port.Notifier,
	events EventPublisher,
	cfg OrchestratorConfig,
) *Orchestrator {
	if events == nil {
		events = nopPublisher{}
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = 5
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 30 * time.Second
	}
	return &Orchestrator{
		jobs:     jobs,
		queue:    queue,
		source:   source,
		cache:    cache,
		notifier: notifier,
		events:   events,
		backoff:  ratelimit.NewBackoff(500*time.Millisecond, 30*time.Second, 2),
		cfg:      cfg,
	}
}

// Submit persists a new job and queues it for scraping.
func (o *Orchestrator) Submit(ctx context.Context, job *domain.Job) error {
	if err := o.jobs.CreateJob(ctx, job); err != nil {
		return err
	}
	waiting, err := o.queue.Len(ctx, port.QueueJobs)
	if err != nil {
		logger.Debug.Printf("job %s: queue length: %v", job.ID, err)
	}
	logger.Info.Printf("job %s created for @%s (max=%d, %d jobs waiting)", job.ID, job.Username, job.MaxVideos, waiting)
	o.publishStatus(job)
	return nil
}

// Run is the scrape consumer. Jobs are scraped one at a time.
func (o *Orchestrator) Run(ctx context.Context) error {
	logger.Info.Printf("scrape consumer started")
	failures := 0
	for {
		if ctx.Err() != nil {
			logger.Info.Printf("scrape consumer shutting down")
			return nil
		}

		jobID, ok, err := o.queue.Pop(ctx, port.QueueJobs, o.cfg.PollTimeout)
		if err == nil && ok {
			if err = o.scrape(ctx, jobID); err != nil {
				if pushErr := o.queue.Push(context.WithoutCancel(ctx), port.QueueJobs, jobID); pushErr != nil {
					logger.Error.Printf("scrape consumer: requeue job %s: %v", jobID, pushErr)
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			failures++
			logger.Error.Printf("scrape consumer: %v (attempt %d)", err, failures)
			o.backoff.Wait(ctx, failures)
			continue
		}
		failures = 0
	}
}

// scrape lists a job's videos and hands them to the download queue. The
// returned error is a store failure; source failures fail the job instead.
func (o *Orchestrator) scrape(ctx context.Context, jobID string) error {
	job, err := o.jobs.TransitionJob(ctx, jobID, domain.JobStatusPending, domain.JobStatusScraping, "")
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		logger.Warn.Printf("scrape: job %s no longer exists", jobID)
		return nil
	case errors.Is(err, domain.ErrInvalidTransition) && job != nil && job.Status == domain.JobStatusScraping:
		logger.Info.Printf("scrape: resuming job %s", jobID)
	case errors.Is(err, domain.ErrInvalidTransition):
		logger.Warn.Printf("scrape: skipping job %s: %v", jobID, err)
		return nil
	default:
		return fmt.Errorf("start scraping job %s: %w", jobID, err)
	}
	o.publishStatus(job)

	username := job.Username
	logger.Info.Printf("scrape: listing @%s for job %s", logger.SanitizeForLog(username), job.ID)

	profile, err := o.source.Profile(ctx, username)
	if err != nil {
		return o.failScrape(ctx, job, err)
	}

	empty := false
	videos, err := o.source.Videos(ctx, username, job.MaxVideos)
	if err != nil {
		if !domain.IsEmptyProfile(err) {
			return o.failScrape(ctx, job, err)
		}
		empty = true
		videos = nil
	}

	tasks, ids := buildTasks(job, videos)
	if len(tasks) == 0 && !empty {
		// A profile that lists nothing without saying it is empty is
		// most likely hiding its videos from us.
		return o.failScrape(ctx, job, domain.NewSourceError(domain.SourceBlocked, username,
			fmt.Errorf("listing returned %d usable videos", len(tasks))))
	}

	newVideos := len(ids)
	if o.cache != nil && len(ids) > 0 {
		if n, err := o.cache.Merge(username, ids); err != nil {
			logger.Warn.Printf("scrape: update scrape cache of @%s: %v", username, err)
		} else {
			newVideos = n
		}
	}

	job, err = o.jobs.StartDownloading(ctx, jobID, tasks, newVideos)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
			logger.Warn.Printf("scrape: job %s changed while scraping: %v", jobID, err)
			return nil
		}
		return fmt.Errorf("start downloading job %s: %w", jobID, err)
	}
	logger.Info.Printf("scrape: job %s has %d videos (%d new)", job.ID, job.TotalVideos, job.NewVideos)
	o.publishStatus(job)

	if job.TotalVideos == 0 {
		done, err := o.jobs.CompleteJobIfDone(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("complete empty job %s: %w", job.ID, err)
		}
		if done {
			job.Status = domain.JobStatusCompleted
			o.publishStatus(job)
			o.notify(job.SubscriberID, emptyText(username))
		}
		return nil
	}

	o.notify(job.SubscriberID, startText(job, profile))
	return nil
}

func buildTasks(job *domain.Job, videos []domain.VideoDescriptor) ([]domain.VideoTask, []string) {
	tasks := make([]domain.VideoTask, 0, len(videos))
	ids := make([]string, 0, len(videos))
	seen := make(map[string]struct{}, len(videos))
	for _, v := range videos {
		if err := domain.ValidateVideoID(v.ID); err != nil || v.URL == "" {
			logger.Warn.Printf("scrape: ignoring video %q of @%s", logger.SanitizeForLog(v.ID), job.Username)
			continue
		}
		if _, dup := seen[v.ID]; dup {
			continue
		}
		seen[v.ID] = struct{}{}
		ids = append(ids, v.ID)
		tasks = append(tasks, domain.VideoTask{
			JobID:         job.ID,
			VideoID:       v.ID,
			SourceURL:     v.URL,
			OwnerUsername: job.Username,
			Description:   v.Description,
			Status:        domain.TaskStatusQueued,
		})
		if job.MaxVideos > 0 && len(tasks) == job.MaxVideos {
			break
		}
	}
	return tasks, ids
}

func (o *Orchestrator) failScrape(ctx context.Context, job *domain.Job, cause error) error {
	if ctx.Err() != nil {
		// Shutting down: the job stays in scraping and is resumed on restart.
		return nil
	}
	failed, err := o.jobs.TransitionJob(ctx, job.ID, domain.JobStatusScraping, domain.JobStatusFailed, cause.Error())
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
			logger.Warn.Printf("scrape: cannot fail job %s: %v", job.ID, err)
			return nil
		}
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	logger.Warn.Printf("scrape: job %s failed: %s", job.ID, logger.SanitizeForLog(cause.Error()))
	o.publishStatus(failed)
	o.notify(job.SubscriberID, failureText(job.Username, cause))
	return nil
}

// TaskFinished records a download outcome. Completing the last task
// completes the job and queues a final drain of its deliveries.
func (o *Orchestrator) TaskFinished(ctx context.Context, outcome domain.TaskOutcome) error {
	res, err := o.jobs.RecordTaskOutcome(ctx, outcome)
	if err != nil {
		return err
	}
	if !res.Counted {
		logger.Debug.Printf("task %s/%s already counted", outcome.JobID, outcome.VideoID)
		return nil
	}
	if res.Job != nil {
		o.publishStatus(res.Job)
	}

	if res.Completed {
		logger.Info.Printf("job %s completed: %d downloaded, %d failed",
			outcome.JobID, res.Job.DownloadedCount, res.Job.FailedCount)
		sig := domain.FlushSignal{JobID: outcome.JobID, Drain: true, Completed: true}
		if err := o.queue.Push(ctx, port.QueueFlush, sig.Encode()); err != nil {
			return fmt.Errorf("queue final flush of job %s: %w", outcome.JobID, err)
		}
		return nil
	}

	if outcome.Status == domain.TaskStatusCompleted && res.PendingCount > 0 && res.PendingCount%o.cfg.FlushThreshold == 0 {
		sig := domain.FlushSignal{JobID: outcome.JobID}
		if err := o.queue.Push(ctx, port.QueueFlush, sig.Encode()); err != nil {
			return fmt.Errorf("queue flush of job %s: %w", outcome.JobID, err)
		}
	}
	return nil
}

func (o *Orchestrator) publishStatus(job *domain.Job) {
	snapshot := *job
	o.events.Publish(job.ID, Event{
		Type:   EventStatus,
		Status: string(job.Status),
		Job:    &snapshot,
	})
}

func (o *Orchestrator) notify(subscriberID, text string) {
	if subscriberID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.NotifyTimeout)
	defer cancel()
	if err := o.notifier.SendText(ctx, subscriberID, text); err != nil {
		logger.Warn.Printf("notify %s: %v", subscriberID, err)
	}
}
