package port

import (
	"context"

	"github.com/bnema/harvest/internal/domain"
)

// VideoSource lists a profile's videos. Errors are *domain.SourceError.
type VideoSource interface {
	Name() string
	Profile(ctx context.Context, username string) (*domain.ProfileSummary, error)
	Videos(ctx context.Context, username string, max int) ([]domain.VideoDescriptor, error)
}

// ProbingSource can tell whether it is usable in this environment.
type ProbingSource interface {
	VideoSource
	Probe(ctx context.Context) error
}

type ScrapeCache interface {
	// Merge records ids as seen for username and returns how many were new.
	Merge(username string, ids []string) (int, error)
}
