package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bnema/harvest/internal/domain"
	"github.com/bnema/harvest/internal/infrastructure/logger"
	"github.com/bnema/harvest/internal/infrastructure/ratelimit"
	"github.com/bnema/harvest/internal/port"
)

type BatcherConfig struct {
	Threshold   int
	SendDelay   time.Duration
	MaxAttempts int
	PollTimeout time.Duration
	SendTimeout time.Duration
}

// DeliveryBatcher sends downloaded videos to the job's subscriber in
// batches, at most once per (subscriber, video).
type DeliveryBatcher struct {
	jobs     port.JobStore
	tasks    port.TaskStore
	queue    port.Queue
	pending  port.DeliveryQueue
	dedup    port.DedupIndex
	notifier port.Notifier
	prober   port.Prober
	events   EventPublisher
	backoff  *ratelimit.Backoff
	cfg      BatcherConfig
}

func NewDeliveryBatcher(
	jobs port.JobStore,
	tasks port.TaskStore,
	queue port.Queue,
	pending port.DeliveryQueue,
	dedup port.DedupIndex,
	notifier port.Notifier,
	prober port.Prober,
	events EventPublisher,
	cfg BatcherConfig,
) *DeliveryBatcher {
	if events == nil {
		events = nopPublisher{}
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2 * time.Minute
	}
	return &DeliveryBatcher{
		jobs:     jobs,
		tasks:    tasks,
		queue:    queue,
		pending:  pending,
		dedup:    dedup,
		notifier: notifier,
		prober:   prober,
		events:   events,
		backoff:  ratelimit.NewBackoff(500*time.Millisecond, 30*time.Second, 2),
		cfg:      cfg,
	}
}

// Run is the delivery consumer.
func (b *DeliveryBatcher) Run(ctx context.Context) error {
	logger.Info.Printf("delivery consumer started (batch size %d)", b.cfg.Threshold)
	failures := 0
	for {
		if ctx.Err() != nil {
			logger.Info.Printf("delivery consumer shutting down")
			return nil
		}

		payload, ok, err := b.queue.Pop(ctx, port.QueueFlush, b.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			failures++
			logger.Error.Printf("delivery consumer: %v (attempt %d)", err, failures)
			b.backoff.Wait(ctx, failures)
			continue
		}
		failures = 0
		if !ok {
			continue
		}

		sig, err := domain.DecodeFlushSignal(payload)
		if err != nil {
			logger.Error.Printf("delivery consumer: dropping %q: %v", logger.SanitizeForLog(payload), err)
			continue
		}
		if err := b.Handle(ctx, sig); err != nil && ctx.Err() == nil {
			logger.Error.Printf("delivery consumer: job %s: %v", sig.JobID, err)
		}
	}
}

// Handle performs the flushes a signal asks for.
func (b *DeliveryBatcher) Handle(ctx context.Context, sig domain.FlushSignal) error {
	job, err := b.jobs.GetJob(ctx, sig.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Debug.Printf("flush: job %s no longer exists", sig.JobID)
			return nil
		}
		return err
	}

	// Entries requeued during this drain wait for a later flush.
	var requeued int
	for {
		res, err := b.Flush(ctx, job)
		if err != nil {
			return err
		}
		requeued += res.Failed
		if !sig.Drain || res.Total() == 0 {
			break
		}
		n, err := b.pending.PendingCount(ctx, job.ID)
		if err != nil {
			return err
		}
		if n <= requeued {
			break
		}
	}

	if sig.Completed && job.SubscriberID != "" {
		if latest, err := b.jobs.GetJob(ctx, job.ID); err == nil {
			job = latest
		}
		b.send(ctx, func(ctx context.Context) error {
			return b.notifier.SendText(ctx, job.SubscriberID, jobSummaryText(job))
		})
	}
	return nil
}

// Flush delivers up to one batch of the job's pending videos.
func (b *DeliveryBatcher) Flush(ctx context.Context, job *domain.Job) (domain.FlushResult, error) {
	var res domain.FlushResult

	entries, err := b.pending.TakePending(ctx, job.ID, b.cfg.Threshold)
	if err != nil {
		return res, err
	}
	if len(entries) == 0 {
		return res, nil
	}

	subscriber := job.SubscriberID
	if subscriber == "" {
		res.Dropped = len(entries)
		logger.Warn.Printf("flush: job %s: %v, dropping %d deliveries", job.ID, domain.ErrNoSubscriber, len(entries))
		b.publish(job.ID, res)
		return res, nil
	}

	sent := 0
	for _, e := range entries {
		switch b.deliver(ctx, job, subscriber, e, sent > 0) {
		case deliverySent:
			sent++
			res.Sent++
		case deliverySkipped:
			res.Skipped++
		case deliveryDropped:
			res.Dropped++
		case deliveryFailed:
			res.Failed++
		}
	}

	logger.Info.Printf("flush: job %s: sent %d, skipped %d, failed %d, dropped %d",
		job.ID, res.Sent, res.Skipped, res.Failed, res.Dropped)
	if res.Sent > 0 || res.Skipped > 0 || res.Failed > 0 {
		b.send(ctx, func(ctx context.Context) error {
			return b.notifier.SendText(ctx, subscriber, flushSummaryText(job.Username, res))
		})
	}
	b.publish(job.ID, res)
	return res, nil
}

type deliveryResult int

const (
	deliverySent deliveryResult = iota
	deliverySkipped
	deliveryDropped
	deliveryFailed
)

func (b *DeliveryBatcher) deliver(ctx context.Context, job *domain.Job, subscriber string, e domain.PendingDelivery, pause bool) deliveryResult {
	claimed, err := b.dedup.ClaimDelivery(ctx, subscriber, e.VideoID)
	if err != nil {
		logger.Error.Printf("flush: %v", err)
		return b.retryLater(ctx, e)
	}
	if !claimed {
		logger.Debug.Printf("flush: %s already delivered to %s", e.VideoID, subscriber)
		return deliverySkipped
	}

	info, err := os.Stat(e.FilePath)
	if err != nil {
		logger.Warn.Printf("flush: job %s: dropping %s: %v", job.ID, e.VideoID, err)
		b.release(ctx, subscriber, e.VideoID)
		return deliveryDropped
	}

	if pause && b.cfg.SendDelay > 0 && !sleep(ctx, b.cfg.SendDelay) {
		b.release(ctx, subscriber, e.VideoID)
		return b.retryLater(ctx, e)
	}

	file := b.describe(ctx, job, e, info.Size())
	err = b.send(ctx, func(ctx context.Context) error {
		return b.notifier.SendFile(ctx, subscriber, file)
	})
	if err != nil {
		b.release(ctx, subscriber, e.VideoID)
		return b.retryLater(ctx, e)
	}
	return deliverySent
}

func (b *DeliveryBatcher) describe(ctx context.Context, job *domain.Job, e domain.PendingDelivery, size int64) domain.OutgoingFile {
	var description string
	if task, err := b.tasks.GetTask(ctx, e.JobID, e.VideoID); err == nil {
		description = task.Description
	}

	var probe *domain.ProbeResult
	if b.prober != nil {
		p, err := b.prober.Probe(ctx, e.FilePath)
		if err != nil {
			logger.Debug.Printf("flush: probe %s: %v", e.FilePath, err)
		} else {
			probe = p
		}
	}

	file := domain.OutgoingFile{
		Path:    e.FilePath,
		Caption: caption(job.Username, e.VideoID, description, size, probe),
	}
	if probe != nil {
		file.Duration = int(probe.DurationSeconds() + 0.5)
	}
	return file
}

// retryLater requeues a delivery unless it used up its attempts.
func (b *DeliveryBatcher) retryLater(ctx context.Context, e domain.PendingDelivery) deliveryResult {
	if e.Attempts+1 >= b.cfg.MaxAttempts {
		logger.Warn.Printf("flush: giving up on %s/%s after %d attempts", e.JobID, e.VideoID, e.Attempts+1)
		return deliveryDropped
	}
	if err := b.pending.RequeuePending(context.WithoutCancel(ctx), e); err != nil {
		logger.Error.Printf("flush: %v", err)
		return deliveryDropped
	}
	return deliveryFailed
}

func (b *DeliveryBatcher) release(ctx context.Context, subscriber, videoID string) {
	if err := b.dedup.ReleaseDelivery(context.WithoutCancel(ctx), subscriber, videoID); err != nil {
		logger.Error.Printf("flush: %v", err)
	}
}

func (b *DeliveryBatcher) send(ctx context.Context, fn func(ctx context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, b.cfg.SendTimeout)
	defer cancel()
	if err := fn(sctx); err != nil {
		logger.Warn.Printf("flush: send: %s", logger.SanitizeForLog(err.Error()))
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (b *DeliveryBatcher) publish(jobID string, res domain.FlushResult) {
	b.events.Publish(jobID, Event{Type: EventDelivery, Flush: &res})
}
