package service

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/harvest/internal/adapter/storage/sqlite"
	"github.com/bnema/harvest/internal/domain"
)

type recordingReporter struct {
	mu       sync.Mutex
	outcomes []domain.TaskOutcome
}

func (r *recordingReporter) TaskFinished(_ context.Context, outcome domain.TaskOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
	return nil
}

func (r *recordingReporter) all() []domain.TaskOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TaskOutcome(nil), r.outcomes...)
}

type staticFetcher struct {
	body string
	size int64
}

func (f staticFetcher) Fetch(context.Context, string) (io.ReadCloser, int64, error) {
	return io.NopCloser(strings.NewReader(f.body)), f.size, nil
}

// lockedDedup fails CompleteDownload the given number of times before
// passing calls through.
type lockedDedup struct {
	*sqlite.DedupIndex
	mu       sync.Mutex
	failures int
}

func (d *lockedDedup) CompleteDownload(ctx context.Context, videoID, owner, filePath string) error {
	d.mu.Lock()
	fail := d.failures > 0
	if fail {
		d.failures--
	}
	d.mu.Unlock()
	if fail {
		return errors.New("database is locked")
	}
	return d.DedupIndex.CompleteDownload(ctx, videoID, owner, filePath)
}

func queueTask(t *testing.T, store *sqlite.Store, videoID string) *domain.Job {
	t.Helper()
	ctx := context.Background()
	job := domain.NewJob("alice", 0, "chat-1")
	require.NoError(t, store.CreateJob(ctx, job))
	_, err := store.TransitionJob(ctx, job.ID, domain.JobStatusPending, domain.JobStatusScraping, "")
	require.NoError(t, err)
	_, err = store.StartDownloading(ctx, job.ID, []domain.VideoTask{
		{VideoID: videoID, SourceURL: videoURL(videoID), OwnerUsername: "alice"},
	}, 1)
	require.NoError(t, err)
	return job
}

func runDownloads(t *testing.T, m *DownloadManager, reporter *recordingReporter, want int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(reporter.all()) >= want
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDownloadManager_EmptyBodyLeavesNoFiles(t *testing.T) {
	store, err := sqlite.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	root := t.TempDir()
	job := queueTask(t, store, "v1")
	dedup := sqlite.NewDedupIndex(store)
	reporter := &recordingReporter{}
	m := NewDownloadManager(store, dedup, staticFetcher{}, reporter, nil, DownloaderConfig{
		Root:     root,
		IdleWait: 10 * time.Millisecond,
	})

	runDownloads(t, m, reporter, 1)

	outcomes := reporter.all()
	require.Len(t, outcomes, 1)
	assert.Equal(t, job.ID, outcomes[0].JobID)
	assert.Equal(t, domain.TaskStatusFailed, outcomes[0].Status)
	assert.Contains(t, outcomes[0].ErrorMessage, domain.ErrEmptyDownload.Error())

	entries, err := os.ReadDir(filepath.Join(root, "alice"))
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file left behind")

	// The claim is released so a later job can try again.
	_, ok, err := dedup.DownloadedPath(context.Background(), "v1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDownloadManager_ShortBodyFails(t *testing.T) {
	store, err := sqlite.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	queueTask(t, store, "v1")
	reporter := &recordingReporter{}
	m := NewDownloadManager(store, sqlite.NewDedupIndex(store), staticFetcher{body: "abc", size: 10}, reporter, nil, DownloaderConfig{
		Root:     t.TempDir(),
		IdleWait: 10 * time.Millisecond,
	})

	runDownloads(t, m, reporter, 1)

	outcomes := reporter.all()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.TaskStatusFailed, outcomes[0].Status)
	assert.Contains(t, outcomes[0].ErrorMessage, "short body")
}

func TestDownloadManager_SavesFile(t *testing.T) {
	store, err := sqlite.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	root := t.TempDir()
	queueTask(t, store, "v1")
	dedup := sqlite.NewDedupIndex(store)
	reporter := &recordingReporter{}
	m := NewDownloadManager(store, dedup, staticFetcher{body: "0123456789", size: 10}, reporter, nil, DownloaderConfig{
		Root:     root,
		IdleWait: 10 * time.Millisecond,
	})

	runDownloads(t, m, reporter, 1)

	want := filepath.Join(root, "alice", "v1.mp4")
	outcomes := reporter.all()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.TaskStatusCompleted, outcomes[0].Status)
	assert.Equal(t, want, outcomes[0].FilePath)
	assert.False(t, outcomes[0].Reused)

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))

	path, ok, err := dedup.DownloadedPath(context.Background(), "v1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, path)
}

func TestDownloadManager_RecordDownloadRetried(t *testing.T) {
	store, err := sqlite.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	queueTask(t, store, "v1")
	queueTask(t, store, "v1")
	dedup := &lockedDedup{DedupIndex: sqlite.NewDedupIndex(store), failures: 1}
	reporter := &recordingReporter{}
	m := NewDownloadManager(store, dedup, staticFetcher{body: "0123456789", size: 10}, reporter, nil, DownloaderConfig{
		Root:           t.TempDir(),
		IdleWait:       10 * time.Millisecond,
		ClaimWait:      10 * time.Millisecond,
		StoreRetryBase: 5 * time.Millisecond,
	})

	runDownloads(t, m, reporter, 2)

	outcomes := reporter.all()
	require.Len(t, outcomes, 2)
	reused := 0
	for _, o := range outcomes {
		assert.Equal(t, domain.TaskStatusCompleted, o.Status, o.ErrorMessage)
		if o.Reused {
			reused++
		}
	}
	assert.Equal(t, 1, reused)
}

func TestDownloadManager_RecordDownloadFailureReleasesClaim(t *testing.T) {
	store, err := sqlite.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	queueTask(t, store, "v1")
	queueTask(t, store, "v1")
	// Enough failures to exhaust the first claimant's retries only.
	dedup := &lockedDedup{DedupIndex: sqlite.NewDedupIndex(store), failures: storeRetries + 1}
	reporter := &recordingReporter{}
	m := NewDownloadManager(store, dedup, staticFetcher{body: "0123456789", size: 10}, reporter, nil, DownloaderConfig{
		Root:           t.TempDir(),
		IdleWait:       10 * time.Millisecond,
		ClaimWait:      10 * time.Millisecond,
		StoreRetryBase: 5 * time.Millisecond,
	})

	runDownloads(t, m, reporter, 2)

	outcomes := reporter.all()
	require.Len(t, outcomes, 2)
	byStatus := map[domain.TaskStatus]domain.TaskOutcome{}
	for _, o := range outcomes {
		byStatus[o.Status] = o
	}
	require.Contains(t, byStatus, domain.TaskStatusFailed)
	require.Contains(t, byStatus, domain.TaskStatusCompleted)
	assert.Contains(t, byStatus[domain.TaskStatusFailed].ErrorMessage, "record download")
	assert.False(t, byStatus[domain.TaskStatusCompleted].Reused)

	_, ok, err := dedup.DownloadedPath(context.Background(), "v1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProgressTracker(t *testing.T) {
	t.Run("known size", func(t *testing.T) {
		var got []int
		p := newProgressTracker(100, func(percent int) { got = append(got, percent) })
		for i := 0; i < 100; i++ {
			_, _ = p.Write([]byte{0})
		}
		require.NotEmpty(t, got)
		assert.Equal(t, 100, got[len(got)-1])
		for i := 1; i < len(got); i++ {
			assert.Greater(t, got[i], got[i-1])
		}
		// 1% steps are throttled to at least 5%.
		assert.LessOrEqual(t, len(got), 21)
	})

	t.Run("unknown size", func(t *testing.T) {
		var got []int
		p := newProgressTracker(0, func(percent int) { got = append(got, percent) })
		_, _ = p.Write([]byte("abc"))
		assert.Equal(t, []int{domain.ProgressUnknown}, got)
	})
}
