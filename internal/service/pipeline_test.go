package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/harvest/internal/domain"
)

func TestPipeline_BatchesOfThreshold(t *testing.T) {
	p := newPipeline(t, pipelineOptions{maxConcurrent: 3, threshold: 5})
	p.source.set("alice", videoIDs("v", 12)...)
	p.start(t)

	job, err := p.jobs.CreateJob(context.Background(), "alice", 0, "chat-1")
	require.NoError(t, err)

	done := p.waitForStatus(t, job.ID, domain.JobStatusCompleted)
	assert.Equal(t, 12, done.TotalVideos)
	assert.Equal(t, 12, done.DownloadedCount)
	assert.Zero(t, done.FailedCount)
	p.waitForSummary(t, 1)

	// Files between two flush summaries form one batch.
	var (
		batches []int
		current int
	)
	log := p.notifier.snapshot()
	for _, s := range log {
		switch {
		case s.file != nil:
			current++
		case strings.HasPrefix(s.text, "📦"):
			batches = append(batches, current)
			current = 0
		}
	}
	total := 0
	for _, n := range batches {
		assert.LessOrEqual(t, n, 5)
		total += n
	}
	assert.Equal(t, 12, total)
	assert.Zero(t, current)
	assert.True(t, strings.HasPrefix(log[len(log)-1].text, "✅"), "job summary comes last")

	files := p.notifier.files()
	require.Len(t, files, 12)
	for _, f := range files {
		assert.FileExists(t, f.Path)
		assert.True(t, strings.HasPrefix(f.Path, p.root))
		assert.Contains(t, f.Caption, "@alice")
	}
}

func TestPipeline_PartialFailure(t *testing.T) {
	p := newPipeline(t, pipelineOptions{})
	ids := videoIDs("v", 10)
	p.source.set("alice", ids...)
	for _, id := range ids[:3] {
		p.fetcher.fail[videoURL(id)] = errors.New("status 403")
	}
	p.start(t)

	job, err := p.jobs.CreateJob(context.Background(), "alice", 0, "chat-1")
	require.NoError(t, err)

	done := p.waitForStatus(t, job.ID, domain.JobStatusCompleted)
	assert.Equal(t, 7, done.DownloadedCount)
	assert.Equal(t, 3, done.FailedCount)
	assert.Equal(t, 10, done.TotalVideos)

	p.waitForSummary(t, 1)
	assert.Len(t, p.notifier.files(), 7)
	assert.Contains(t, p.notifier.textsWithPrefix("✅")[0], "3 failed")

	detail, err := p.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	failed := 0
	for _, task := range detail.Tasks {
		if task.Status == domain.TaskStatusFailed {
			failed++
			assert.Contains(t, task.ErrorMessage, "403")
			_, ok, err := p.dedup.DownloadedPath(context.Background(), task.VideoID)
			require.NoError(t, err)
			assert.False(t, ok, "failed downloads leave no mapping")
		}
	}
	assert.Equal(t, 3, failed)
}

func TestPipeline_SourceFailure(t *testing.T) {
	p := newPipeline(t, pipelineOptions{})
	p.source.videosErr = domain.NewSourceError(domain.SourceNotFound, "ghost", errors.New("status 404"))
	p.start(t)

	job, err := p.jobs.CreateJob(context.Background(), "ghost", 0, "chat-1")
	require.NoError(t, err)

	failed := p.waitForStatus(t, job.ID, domain.JobStatusFailed)
	assert.NotEmpty(t, failed.ErrorMessage)
	assert.Contains(t, failed.ErrorMessage, "not_found")

	detail, err := p.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Empty(t, detail.Tasks)

	require.Eventually(t, func() bool {
		return len(p.notifier.textsWithPrefix("❌")) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, p.notifier.textsWithPrefix("❌")[0], "does not exist")
}

func TestPipeline_EmptyProfileCompletes(t *testing.T) {
	p := newPipeline(t, pipelineOptions{})
	p.source.videosErr = domain.NewSourceError(domain.SourceEmpty, "quiet", nil)
	p.start(t)

	job, err := p.jobs.CreateJob(context.Background(), "quiet", 0, "chat-1")
	require.NoError(t, err)

	done := p.waitForStatus(t, job.ID, domain.JobStatusCompleted)
	assert.Zero(t, done.TotalVideos)
	require.Eventually(t, func() bool {
		return len(p.notifier.textsWithPrefix("📭")) == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPipeline_SilentZeroVideosFails(t *testing.T) {
	p := newPipeline(t, pipelineOptions{})
	p.source.set("hidden")
	p.start(t)

	job, err := p.jobs.CreateJob(context.Background(), "hidden", 0, "")
	require.NoError(t, err)

	failed := p.waitForStatus(t, job.ID, domain.JobStatusFailed)
	assert.Contains(t, failed.ErrorMessage, "blocked")
}

func TestPipeline_MaxVideos(t *testing.T) {
	p := newPipeline(t, pipelineOptions{})
	p.source.set("alice", videoIDs("v", 10)...)
	p.start(t)

	job, err := p.jobs.CreateJob(context.Background(), "alice", 4, "chat-1")
	require.NoError(t, err)

	done := p.waitForStatus(t, job.ID, domain.JobStatusCompleted)
	assert.Equal(t, 4, done.TotalVideos)
	assert.Equal(t, 4, done.DownloadedCount)
}

func TestPipeline_DownloadReuseAndDeliveryOnce(t *testing.T) {
	p := newPipeline(t, pipelineOptions{})
	ids := videoIDs("v", 3)
	p.source.set("alice", ids...)
	p.start(t)
	ctx := context.Background()

	first, err := p.jobs.CreateJob(ctx, "alice", 0, "chat-1")
	require.NoError(t, err)
	p.waitForStatus(t, first.ID, domain.JobStatusCompleted)
	p.waitForSummary(t, 1)

	second, err := p.jobs.CreateJob(ctx, "alice", 0, "chat-1")
	require.NoError(t, err)
	p.waitForStatus(t, second.ID, domain.JobStatusCompleted)
	p.waitForSummary(t, 2)

	third, err := p.jobs.CreateJob(ctx, "alice", 0, "chat-2")
	require.NoError(t, err)
	p.waitForStatus(t, third.ID, domain.JobStatusCompleted)
	p.waitForSummary(t, 3)

	for _, id := range ids {
		assert.Equal(t, 1, p.fetcher.callsFor(videoURL(id)), "video %s fetched more than once", id)
	}

	detail, err := p.jobs.GetJob(ctx, second.ID)
	require.NoError(t, err)
	for _, task := range detail.Tasks {
		assert.True(t, task.Reused)
		assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	}

	perSubscriber := map[string]map[string]int{}
	for _, s := range p.notifier.snapshot() {
		if s.file == nil {
			continue
		}
		if perSubscriber[s.subscriber] == nil {
			perSubscriber[s.subscriber] = map[string]int{}
		}
		perSubscriber[s.subscriber][s.file.Path]++
	}
	require.Len(t, perSubscriber, 2)
	for sub, paths := range perSubscriber {
		assert.Len(t, paths, 3, "subscriber %s", sub)
		for path, n := range paths {
			assert.Equal(t, 1, n, "%s delivered %d times to %s", path, n, sub)
		}
	}
}

func TestPipeline_ConcurrentJobsShareDownloads(t *testing.T) {
	p := newPipeline(t, pipelineOptions{maxConcurrent: 4})
	p.fetcher.delay = 50 * time.Millisecond
	ids := videoIDs("s", 6)
	p.source.set("alice", ids...)
	p.start(t)
	ctx := context.Background()

	a, err := p.jobs.CreateJob(ctx, "alice", 0, "chat-a")
	require.NoError(t, err)
	b, err := p.jobs.CreateJob(ctx, "alice", 0, "chat-b")
	require.NoError(t, err)

	p.waitForStatus(t, a.ID, domain.JobStatusCompleted)
	p.waitForStatus(t, b.ID, domain.JobStatusCompleted)

	for _, id := range ids {
		assert.Equal(t, 1, p.fetcher.callsFor(videoURL(id)))
	}
}

func TestPipeline_ConcurrencyBound(t *testing.T) {
	p := newPipeline(t, pipelineOptions{maxConcurrent: 3})
	p.fetcher.delay = 60 * time.Millisecond
	p.source.set("alice", videoIDs("v", 9)...)
	p.start(t)

	job, err := p.jobs.CreateJob(context.Background(), "alice", 0, "chat-1")
	require.NoError(t, err)
	p.waitForStatus(t, job.ID, domain.JobStatusCompleted)

	assert.LessOrEqual(t, p.fetcher.peak(), 3)
	assert.GreaterOrEqual(t, p.fetcher.peak(), 1)
}

func TestPipeline_TransportErrorRetriesDelivery(t *testing.T) {
	p := newPipeline(t, pipelineOptions{threshold: 5, maxAttempts: 3})
	p.notifier.failFile = errors.New("telegram: 502")
	p.source.set("alice", videoIDs("v", 2)...)
	p.start(t)
	ctx := context.Background()

	job, err := p.jobs.CreateJob(ctx, "alice", 0, "chat-1")
	require.NoError(t, err)
	p.waitForStatus(t, job.ID, domain.JobStatusCompleted)
	p.waitForSummary(t, 1)

	assert.Empty(t, p.notifier.files())
	for _, id := range videoIDs("v", 2) {
		delivered, err := p.dedup.Delivered(ctx, "chat-1", id)
		require.NoError(t, err)
		assert.False(t, delivered, "failed sends release their claim")
	}
	// Failed sends wait in the queue for a later flush.
	n, err := p.deliveries.PendingCount(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, p.jobs.FlushJob(ctx, job.ID))
	require.Eventually(t, func() bool {
		return len(p.notifier.textsWithPrefix("📦")) == 2
	}, 5*time.Second, 20*time.Millisecond)

	// Third attempt is the last one: the entries are dropped.
	require.NoError(t, p.jobs.FlushJob(ctx, job.ID))
	require.Eventually(t, func() bool {
		n, err := p.deliveries.PendingCount(ctx, job.ID)
		return err == nil && n == 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.Len(t, p.notifier.textsWithPrefix("📦"), 2)
}

func TestJobService_Validation(t *testing.T) {
	p := newPipeline(t, pipelineOptions{})
	ctx := context.Background()

	_, err := p.jobs.CreateJob(ctx, "../etc", 0, "")
	assert.ErrorIs(t, err, domain.ErrInvalidUsername)

	_, err = p.jobs.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, p.jobs.DeleteJob(ctx, "missing"), domain.ErrNotFound)
	assert.ErrorIs(t, p.jobs.FlushJob(ctx, "missing"), domain.ErrNotFound)
}

func TestJobService_DefaultSubscriber(t *testing.T) {
	p := newPipeline(t, pipelineOptions{})
	p.jobs.defaultSubscriber = "fallback"
	ctx := context.Background()

	job, err := p.jobs.CreateJob(ctx, "alice", 0, "")
	require.NoError(t, err)
	assert.Equal(t, "fallback", job.SubscriberID)

	explicit, err := p.jobs.CreateJob(ctx, "alice", 0, "chat-9")
	require.NoError(t, err)
	assert.Equal(t, "chat-9", explicit.SubscriberID)

	jobs, err := p.jobs.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestPipeline_DownloadedFilesLayout(t *testing.T) {
	p := newPipeline(t, pipelineOptions{})
	p.source.set("alice", "abc123")
	p.start(t)

	job, err := p.jobs.CreateJob(context.Background(), "alice", 0, "")
	require.NoError(t, err)
	p.waitForStatus(t, job.ID, domain.JobStatusCompleted)

	path := domain.StoragePath(p.root, "alice", "abc123")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "video bytes of "+videoURL("abc123"), string(data))

	entries, err := os.ReadDir(p.root + "/alice")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
