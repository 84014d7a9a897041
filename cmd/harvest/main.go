package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"

	"github.com/bnema/harvest/config"
	"github.com/bnema/harvest/internal/adapter/fetcher"
	HTTPAdapter "github.com/bnema/harvest/internal/adapter/http"
	"github.com/bnema/harvest/internal/adapter/notifier/logonly"
	"github.com/bnema/harvest/internal/adapter/notifier/telegram"
	"github.com/bnema/harvest/internal/adapter/prober/ffprobe"
	"github.com/bnema/harvest/internal/adapter/source"
	"github.com/bnema/harvest/internal/adapter/source/webpage"
	"github.com/bnema/harvest/internal/adapter/source/ytdlp"
	"github.com/bnema/harvest/internal/adapter/storage/jsonfile"
	sqlitestore "github.com/bnema/harvest/internal/adapter/storage/sqlite"
	"github.com/bnema/harvest/internal/infrastructure/logger"
	"github.com/bnema/harvest/internal/infrastructure/ratelimit"
	"github.com/bnema/harvest/internal/port"
	"github.com/bnema/harvest/internal/service"
)

func main() {
	hashKey := flag.String("hash-key", "", "print the API_KEY_HASH value for the given key and exit")
	flag.Parse()

	if *hashKey != "" {
		hash, err := service.HashKey(*hashKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hash key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error.Printf("failed to load config: %v", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	logger.Info.Printf("starting harvest on port %d, sources=%v", cfg.Port, cfg.SourcePreference)

	for _, dir := range []string{cfg.DataDir, cfg.DownloadDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Error.Printf("failed to create directory %s: %v", dir, err)
			os.Exit(1)
		}
	}

	store, err := openStore(cfg.DataDir)
	if err != nil {
		logger.Error.Printf("failed to create store: %v", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	videoSource, err := selectSource(cfg)
	if err != nil {
		logger.Error.Printf("no usable video source: %v", err)
		os.Exit(1)
	}

	cache, err := jsonfile.NewScrapeCache(cfg.DataDir)
	if err != nil {
		logger.Error.Printf("failed to open scrape cache: %v", err)
		os.Exit(1)
	}

	notifier, err := newNotifier(cfg.TelegramBotToken, cfg.SendTimeout)
	if err != nil {
		logger.Error.Printf("failed to create notifier: %v", err)
		os.Exit(1)
	}

	var prober port.Prober
	if p := ffprobe.New(); p.Available() {
		prober = p
	} else {
		logger.Warn.Printf("ffprobe not found, captions will not include video metadata")
	}

	authSvc, err := service.NewAuthService(cfg.APIKeyHash)
	if err != nil {
		logger.Error.Printf("invalid API_KEY_HASH: %v", err)
		os.Exit(1)
	}
	if !authSvc.Enabled() {
		logger.Warn.Printf("API_KEY_HASH is not set, the API is open to anyone who can reach it")
	}

	queue := sqlitestore.NewQueue(store)
	eventBus := service.NewEventBus()

	orchestrator := service.NewOrchestrator(store, queue, videoSource, cache, notifier, eventBus, service.OrchestratorConfig{
		PollTimeout:    cfg.PollTimeout,
		FlushThreshold: cfg.FlushThreshold,
	})
	downloads := service.NewDownloadManager(
		store,
		sqlitestore.NewDedupIndex(store).WithClaimTTL(2*cfg.FetchTimeout),
		fetcher.NewHTTPFetcher(cfg.ProfileBaseURL+"/"),
		orchestrator,
		eventBus,
		service.DownloaderConfig{
			Root:          cfg.DownloadDir,
			MaxConcurrent: cfg.MaxConcurrentDownloads,
			FetchTimeout:  cfg.FetchTimeout,
		},
	)
	batcher := service.NewDeliveryBatcher(
		store,
		store,
		queue,
		sqlitestore.NewDeliveryQueue(store),
		sqlitestore.NewDedupIndex(store),
		notifier,
		prober,
		eventBus,
		service.BatcherConfig{
			Threshold:   cfg.FlushThreshold,
			SendDelay:   cfg.SendDelay,
			MaxAttempts: cfg.MaxDeliveryAttempts,
			PollTimeout: cfg.PollTimeout,
			SendTimeout: cfg.SendTimeout,
		},
	)
	jobSvc := service.NewJobService(orchestrator, store, store, queue, cfg.DefaultSubscriberID)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	runnerDone := make(chan error, 1)
	go func() {
		runnerDone <- service.NewRunner(store, orchestrator, downloads, batcher).Run(workerCtx)
	}()

	limiter := ratelimit.NewLimiter(cfg.JobCreateLimit, time.Minute)
	defer limiter.Close()

	server := HTTPAdapter.NewServer(jobSvc, eventBus, authSvc, limiter)

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	shutdownDone := make(chan error, 1)
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		var sig os.Signal
		select {
		case sig = <-sigChan:
			logger.Info.Printf("received %s, shutting down", sig)
		case err := <-runnerDone:
			// Consumers only return early on a store failure.
			logger.Error.Printf("consumers stopped unexpectedly: %v", err)
			runnerDone <- err
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		errs := httpServer.Shutdown(shutdownCtx)

		// In-flight downloads finish writing their temp files before Run returns.
		workerCancel()
		if err := <-runnerDone; err != nil && !errors.Is(err, context.Canceled) {
			errs = multierr.Append(errs, err)
		}
		shutdownDone <- errs
	}()

	logger.Info.Printf("server listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error.Printf("server failed: %v", err)
		os.Exit(1)
	}

	if err := <-shutdownDone; err != nil {
		for _, e := range multierr.Errors(err) {
			logger.Error.Printf("shutdown: %v", e)
		}
		os.Exit(1)
	}
	logger.Info.Printf("shutdown complete")
}

// openStore retries briefly because another process may still hold the
// database lock during a rolling restart.
func openStore(dataDir string) (*sqlitestore.Store, error) {
	var store *sqlitestore.Store
	backoff := retry.WithMaxRetries(4, retry.NewExponential(250*time.Millisecond))
	err := retry.Do(context.Background(), backoff, func(ctx context.Context) error {
		s, err := sqlitestore.NewStore(dataDir)
		if err != nil {
			logger.Warn.Printf("open store: %v", err)
			return retry.RetryableError(err)
		}
		store = s
		return nil
	})
	return store, err
}

func selectSource(cfg *config.Config) (port.VideoSource, error) {
	variants := make([]port.ProbingSource, 0, len(cfg.SourcePreference))
	for _, name := range cfg.SourcePreference {
		switch name {
		case "ytdlp":
			variants = append(variants, ytdlp.New(cfg.YtdlpPath, cfg.ProfileBaseURL))
		case "webpage":
			variants = append(variants, webpage.New(cfg.ProfileBaseURL, cfg.SourceCookie))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	selected, err := source.Select(ctx, variants...)
	if err != nil {
		return nil, err
	}
	logger.Info.Printf("using %s source", selected.Name())
	return source.WithRetry(selected, cfg.SourceRetries), nil
}

func newNotifier(token string, timeout time.Duration) (port.Notifier, error) {
	if token == "" {
		logger.Warn.Printf("TELEGRAM_BOT_TOKEN is not set, deliveries are only logged")
		return logonly.New(), nil
	}
	return telegram.New(token, timeout)
}
