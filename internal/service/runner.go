package service

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/bnema/harvest/internal/infrastructure/logger"
	"github.com/bnema/harvest/internal/port"
)

// Runner starts the long-lived consumers after recovering state left by a
// previous run.
type Runner struct {
	jobs         port.JobStore
	orchestrator *Orchestrator
	downloads    *DownloadManager
	batcher      *DeliveryBatcher
}

func NewRunner(jobs port.JobStore, orchestrator *Orchestrator, downloads *DownloadManager, batcher *DeliveryBatcher) *Runner {
	return &Runner{
		jobs:         jobs,
		orchestrator: orchestrator,
		downloads:    downloads,
		batcher:      batcher,
	}
}

// Run blocks until ctx is cancelled and every consumer has returned.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.jobs.ResetStalled(ctx); err != nil {
		return fmt.Errorf("recover stalled state: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.orchestrator.Run(ctx) })
	g.Go(func() error { return r.downloads.Run(ctx) })
	g.Go(func() error { return r.batcher.Run(ctx) })

	err := g.Wait()
	logger.Info.Printf("consumers stopped")
	return err
}
