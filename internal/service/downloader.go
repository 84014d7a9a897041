package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"

	"github.com/bnema/harvest/internal/domain"
	"github.com/bnema/harvest/internal/infrastructure/logger"
	"github.com/bnema/harvest/internal/infrastructure/ratelimit"
	"github.com/bnema/harvest/internal/port"
)

// OutcomeReporter receives exactly one outcome per downloaded task.
type OutcomeReporter interface {
	TaskFinished(ctx context.Context, outcome domain.TaskOutcome) error
}

type DownloaderConfig struct {
	Root          string
	MaxConcurrent int
	FetchTimeout  time.Duration
	// IdleWait is how long the dispatcher sleeps when no task is queued.
	IdleWait time.Duration
	// ClaimWait is how often a task re-checks a video another task is fetching.
	ClaimWait time.Duration
	// StoreRetryBase is the first delay between attempts at a store write
	// that must not be lost.
	StoreRetryBase time.Duration
}

const storeRetries = 4

// DownloadManager runs queued video tasks with bounded parallelism and
// never fetches a video that was already downloaded.
type DownloadManager struct {
	tasks    port.TaskStore
	dedup    port.DedupIndex
	fetcher  port.Fetcher
	reporter OutcomeReporter
	events   EventPublisher
	limiter  *semaphore.Weighted
	backoff  *ratelimit.Backoff
	cfg      DownloaderConfig
	wg       sync.WaitGroup
}

func NewDownloadManager(
	tasks port.TaskStore,
	dedup port.DedupIndex,
	fetcher port.Fetcher,
	reporter OutcomeReporter,
	events EventPublisher,
	cfg DownloaderConfig,
) *DownloadManager {
	if events == nil {
		events = nopPublisher{}
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Minute
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = 500 * time.Millisecond
	}
	if cfg.ClaimWait <= 0 {
		cfg.ClaimWait = 250 * time.Millisecond
	}
	if cfg.StoreRetryBase <= 0 {
		cfg.StoreRetryBase = 500 * time.Millisecond
	}
	return &DownloadManager{
		tasks:    tasks,
		dedup:    dedup,
		fetcher:  fetcher,
		reporter: reporter,
		events:   events,
		limiter:  semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		backoff:  ratelimit.NewBackoff(500*time.Millisecond, 30*time.Second, 2),
		cfg:      cfg,
	}
}

// Run dispatches queued tasks until ctx is cancelled, then waits for the
// running downloads to wind down.
func (m *DownloadManager) Run(ctx context.Context) error {
	logger.Info.Printf("download dispatcher started (max %d concurrent)", m.cfg.MaxConcurrent)
	defer m.wg.Wait()

	failures := 0
	for {
		// A slot is taken before claiming so that tasks waiting for one
		// stay queued instead of showing as downloading.
		if err := m.limiter.Acquire(ctx, 1); err != nil {
			logger.Info.Printf("download dispatcher shutting down")
			return nil
		}

		task, err := m.tasks.ClaimNextTask(ctx)
		if err != nil || task == nil {
			m.limiter.Release(1)
			if ctx.Err() != nil {
				logger.Info.Printf("download dispatcher shutting down")
				return nil
			}
			if err != nil {
				failures++
				logger.Error.Printf("download dispatcher: %v (attempt %d)", err, failures)
				m.backoff.Wait(ctx, failures)
			} else {
				sleep(ctx, m.cfg.IdleWait)
			}
			continue
		}
		failures = 0

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.process(ctx, task)
		}()
	}
}

// process runs one claimed task. The caller's admission slot is released
// when it returns.
func (m *DownloadManager) process(ctx context.Context, task *domain.VideoTask) {
	holding := true
	defer func() {
		if holding {
			m.limiter.Release(1)
		}
	}()

	m.events.Publish(task.JobID, Event{Type: EventTask, VideoID: task.VideoID, Status: string(domain.TaskStatusDownloading)})

	for {
		claim, err := m.dedup.ClaimDownload(ctx, task.VideoID, task.JobID)
		if err != nil {
			m.abandon(ctx, task, fmt.Errorf("claim download: %w", err))
			return
		}

		switch claim.State {
		case port.ClaimDone:
			logger.Info.Printf("download %s/%s: reusing %s", task.JobID, task.VideoID, claim.FilePath)
			m.report(task, domain.TaskOutcome{
				JobID:    task.JobID,
				VideoID:  task.VideoID,
				Status:   domain.TaskStatusCompleted,
				FilePath: claim.FilePath,
				Reused:   true,
			})
			return

		case port.ClaimAcquired:
			m.fetchClaimed(ctx, task)
			return

		case port.ClaimBusy:
			// Let other videos use the slot while another task fetches this one.
			m.limiter.Release(1)
			holding = false
			if !sleep(ctx, m.cfg.ClaimWait) {
				m.abandon(ctx, task, ctx.Err())
				return
			}
			if err := m.limiter.Acquire(ctx, 1); err != nil {
				m.abandon(ctx, task, err)
				return
			}
			holding = true
		}
	}
}

func (m *DownloadManager) fetchClaimed(ctx context.Context, task *domain.VideoTask) {
	path, size, err := m.fetch(ctx, task)
	if err != nil {
		m.releaseClaim(task)
		if ctx.Err() != nil {
			m.abandon(ctx, task, err)
			return
		}
		logger.Warn.Printf("download %s/%s failed: %s", task.JobID, task.VideoID, logger.SanitizeForLog(err.Error()))
		m.report(task, domain.TaskOutcome{
			JobID:        task.JobID,
			VideoID:      task.VideoID,
			Status:       domain.TaskStatusFailed,
			ErrorMessage: err.Error(),
		})
		return
	}

	if err := m.storeWrite(ctx, func(ctx context.Context) error {
		return m.dedup.CompleteDownload(ctx, task.VideoID, task.JobID, path)
	}); err != nil {
		// Other tasks wait on this claim, so it must not outlive the task.
		logger.Error.Printf("download %s/%s: record download: %v", task.JobID, task.VideoID, err)
		m.releaseClaim(task)
		m.report(task, domain.TaskOutcome{
			JobID:        task.JobID,
			VideoID:      task.VideoID,
			Status:       domain.TaskStatusFailed,
			ErrorMessage: fmt.Sprintf("record download: %v", err),
		})
		return
	}
	logger.Info.Printf("download %s/%s: saved %s (%s)", task.JobID, task.VideoID, path, humanize.Bytes(uint64(size)))
	m.report(task, domain.TaskOutcome{
		JobID:    task.JobID,
		VideoID:  task.VideoID,
		Status:   domain.TaskStatusCompleted,
		FilePath: path,
	})
}

// fetch streams the video to a temp file next to its final path and
// renames it into place once complete.
func (m *DownloadManager) fetch(ctx context.Context, task *domain.VideoTask) (string, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	defer cancel()

	dir := filepath.Join(m.cfg.Root, task.OwnerUsername)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", 0, fmt.Errorf("create directory: %w", err)
	}

	body, size, err := m.fetcher.Fetch(ctx, task.SourceURL)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = body.Close() }()

	tmp, err := os.CreateTemp(dir, "."+task.VideoID+".*.part")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	progress := newProgressTracker(size, func(percent int) {
		if err := m.tasks.UpdateTaskProgress(ctx, task.JobID, task.VideoID, percent); err != nil {
			logger.Debug.Printf("download %s/%s: progress: %v", task.JobID, task.VideoID, err)
		}
		m.events.Publish(task.JobID, Event{Type: EventProgress, VideoID: task.VideoID, Progress: percent})
	})

	written, err := io.Copy(io.MultiWriter(tmp, progress), body)
	if err != nil {
		return "", 0, fmt.Errorf("read body: %w", err)
	}
	if written == 0 {
		return "", 0, domain.ErrEmptyDownload
	}
	if size > 0 && written != size {
		return "", 0, fmt.Errorf("short body: got %d of %d bytes", written, size)
	}
	if err := tmp.Sync(); err != nil {
		return "", 0, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("close temp file: %w", err)
	}

	final := domain.StoragePath(m.cfg.Root, task.OwnerUsername, task.VideoID)
	if err := os.Rename(tmpPath, final); err != nil {
		return "", 0, fmt.Errorf("move into place: %w", err)
	}
	committed = true
	return final, written, nil
}

func (m *DownloadManager) releaseClaim(task *domain.VideoTask) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.dedup.ReleaseDownload(ctx, task.VideoID, task.JobID); err != nil {
		logger.Error.Printf("download %s/%s: release claim: %v", task.JobID, task.VideoID, err)
	}
}

// abandon puts a task back in the queue without counting it. Used when the
// process is stopping or the store is unreachable.
func (m *DownloadManager) abandon(ctx context.Context, task *domain.VideoTask, cause error) {
	logger.Warn.Printf("download %s/%s interrupted: %v", task.JobID, task.VideoID, cause)
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := m.tasks.RequeueTask(rctx, task.JobID, task.VideoID); err != nil {
		logger.Error.Printf("download %s/%s: requeue: %v", task.JobID, task.VideoID, err)
	}
}

func (m *DownloadManager) report(task *domain.VideoTask, outcome domain.TaskOutcome) {
	m.events.Publish(task.JobID, Event{
		Type:    EventTask,
		VideoID: task.VideoID,
		Status:  string(outcome.Status),
		Message: outcome.ErrorMessage,
	})

	err := m.storeWrite(context.Background(), func(ctx context.Context) error {
		return m.reporter.TaskFinished(ctx, outcome)
	})
	if err != nil {
		// The task stays in downloading and is requeued on the next start.
		logger.Error.Printf("download %s/%s: record outcome: %v", task.JobID, task.VideoID, err)
	}
}

// storeWrite retries fn with capped exponential backoff for up to 30s. It
// ignores cancellation of ctx so that shutdown does not drop the write.
func (m *DownloadManager) storeWrite(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	backoff := retry.NewExponential(m.cfg.StoreRetryBase)
	backoff = retry.WithCappedDuration(5*time.Second, backoff)
	backoff = retry.WithMaxRetries(storeRetries, backoff)
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
}

// progressTracker turns written byte counts into throttled percentages.
type progressTracker struct {
	total    int64
	written  int64
	last     int
	lastSent time.Time
	report   func(percent int)
}

const (
	progressStep     = 5
	progressInterval = 500 * time.Millisecond
)

func newProgressTracker(total int64, report func(int)) *progressTracker {
	p := &progressTracker{total: total, last: 0, report: report}
	if total <= 0 {
		p.last = domain.ProgressUnknown
		report(domain.ProgressUnknown)
	}
	return p
}

func (p *progressTracker) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.total <= 0 {
		return len(b), nil
	}
	percent := int(p.written * 100 / p.total)
	if percent > 100 {
		percent = 100
	}
	if percent == p.last {
		return len(b), nil
	}
	if percent-p.last >= progressStep || percent == 100 || time.Since(p.lastSent) >= progressInterval {
		p.last = percent
		p.lastSent = time.Now()
		p.report(percent)
	}
	return len(b), nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
