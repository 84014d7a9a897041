package port

import (
	"context"
	"io"

	"github.com/bnema/harvest/internal/domain"
)

type Fetcher interface {
	// Fetch opens the video body. size is -1 when unknown.
	Fetch(ctx context.Context, url string) (body io.ReadCloser, size int64, err error)
}

type Notifier interface {
	SendFile(ctx context.Context, subscriberID string, file domain.OutgoingFile) error
	SendText(ctx context.Context, subscriberID, text string) error
}

type Prober interface {
	Probe(ctx context.Context, path string) (*domain.ProbeResult, error)
}
