package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bnema/harvest/internal/adapter/storage/sqlite"
	"github.com/bnema/harvest/internal/domain"
)

type fakeSource struct {
	mu         sync.Mutex
	videos     map[string][]domain.VideoDescriptor
	profileErr error
	videosErr  error
	calls      int
}

func newFakeSource() *fakeSource {
	return &fakeSource{videos: make(map[string][]domain.VideoDescriptor)}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Profile(_ context.Context, username string) (*domain.ProfileSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	return &domain.ProfileSummary{Username: username, VideoCount: len(f.videos[username])}, nil
}

func (f *fakeSource) Videos(_ context.Context, username string, _ int) ([]domain.VideoDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.videosErr != nil {
		return nil, f.videosErr
	}
	return f.videos[username], nil
}

func (f *fakeSource) set(username string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	videos := make([]domain.VideoDescriptor, len(ids))
	for i, id := range ids {
		videos[i] = domain.VideoDescriptor{ID: id, URL: videoURL(id), Description: "clip " + id}
	}
	f.videos[username] = videos
}

func videoURL(id string) string {
	return "https://cdn.example.com/" + id + ".mp4"
}

func videoIDs(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s%02d", prefix, i)
	}
	return ids
}

type fakeFetcher struct {
	mu        sync.Mutex
	fail      map[string]error
	calls     map[string]int
	delay     time.Duration
	active    int
	maxActive int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{fail: make(map[string]error), calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	f.mu.Lock()
	f.calls[url]++
	err := f.fail[url]
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	delay := f.delay
	f.mu.Unlock()

	done := func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}

	if delay > 0 {
		select {
		case <-ctx.Done():
			done()
			return nil, 0, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		done()
		return nil, 0, err
	}
	body := "video bytes of " + url
	return &trackedBody{Reader: strings.NewReader(body), onClose: done}, int64(len(body)), nil
}

func (f *fakeFetcher) callsFor(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

type trackedBody struct {
	io.Reader
	once    sync.Once
	onClose func()
}

func (b *trackedBody) Close() error {
	b.once.Do(b.onClose)
	return nil
}

// sent is one notifier call, in order.
type sent struct {
	subscriber string
	file       *domain.OutgoingFile
	text       string
}

type fakeNotifier struct {
	mu       sync.Mutex
	log      []sent
	failFile error
}

func (n *fakeNotifier) SendFile(_ context.Context, subscriberID string, file domain.OutgoingFile) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failFile != nil {
		return n.failFile
	}
	n.log = append(n.log, sent{subscriber: subscriberID, file: &file})
	return nil
}

func (n *fakeNotifier) SendText(_ context.Context, subscriberID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.log = append(n.log, sent{subscriber: subscriberID, text: text})
	return nil
}

func (n *fakeNotifier) snapshot() []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sent(nil), n.log...)
}

func (n *fakeNotifier) files() []domain.OutgoingFile {
	var out []domain.OutgoingFile
	for _, s := range n.snapshot() {
		if s.file != nil {
			out = append(out, *s.file)
		}
	}
	return out
}

func (n *fakeNotifier) textsWithPrefix(prefix string) []string {
	var out []string
	for _, s := range n.snapshot() {
		if s.file == nil && strings.HasPrefix(s.text, prefix) {
			out = append(out, s.text)
		}
	}
	return out
}

type pipeline struct {
	store      *sqlite.Store
	queue      *sqlite.Queue
	dedup      *sqlite.DedupIndex
	deliveries *sqlite.DeliveryQueue
	source     *fakeSource
	fetcher    *fakeFetcher
	notifier   *fakeNotifier
	bus        *EventBus
	jobs       *JobService
	runner     *Runner
	root       string
}

type pipelineOptions struct {
	maxConcurrent int
	threshold     int
	maxAttempts   int
}

func newPipeline(t *testing.T, opts pipelineOptions) *pipeline {
	t.Helper()
	if opts.maxConcurrent == 0 {
		opts.maxConcurrent = 3
	}
	if opts.threshold == 0 {
		opts.threshold = 5
	}

	store, err := sqlite.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	p := &pipeline{
		store:      store,
		queue:      sqlite.NewQueue(store),
		dedup:      sqlite.NewDedupIndex(store),
		deliveries: sqlite.NewDeliveryQueue(store),
		source:     newFakeSource(),
		fetcher:    newFakeFetcher(),
		notifier:   &fakeNotifier{},
		bus:        NewEventBus(),
		root:       t.TempDir(),
	}

	orch := NewOrchestrator(store, p.queue, p.source, nil, p.notifier, p.bus, OrchestratorConfig{
		PollTimeout:    200 * time.Millisecond,
		FlushThreshold: opts.threshold,
	})
	downloads := NewDownloadManager(store, p.dedup, p.fetcher, orch, p.bus, DownloaderConfig{
		Root:          p.root,
		MaxConcurrent: opts.maxConcurrent,
		FetchTimeout:  5 * time.Second,
		IdleWait:      20 * time.Millisecond,
		ClaimWait:     20 * time.Millisecond,
	})
	batcher := NewDeliveryBatcher(store, store, p.queue, p.deliveries, p.dedup, p.notifier, nil, p.bus, BatcherConfig{
		Threshold:   opts.threshold,
		MaxAttempts: opts.maxAttempts,
		PollTimeout: 200 * time.Millisecond,
	})
	p.jobs = NewJobService(orch, store, store, p.queue, "")
	p.runner = NewRunner(store, orch, downloads, batcher)
	return p
}

func (p *pipeline) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.runner.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("runner did not stop")
		}
	})
}

func (p *pipeline) waitForStatus(t *testing.T, jobID string, status domain.JobStatus) *domain.Job {
	t.Helper()
	var job *domain.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = p.store.GetJob(context.Background(), jobID)
		return err == nil && job.Status == status
	}, 15*time.Second, 20*time.Millisecond, "job %s never reached %s", jobID, status)
	return job
}

func (p *pipeline) waitForSummary(t *testing.T, count int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(p.notifier.textsWithPrefix("✅")) >= count
	}, 15*time.Second, 20*time.Millisecond, "job summary never sent")
}
