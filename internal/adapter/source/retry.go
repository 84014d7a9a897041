package source

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/bnema/harvest/internal/domain"
	"github.com/bnema/harvest/internal/infrastructure/logger"
	"github.com/bnema/harvest/internal/port"
)

// Retrying retries unavailable and blocked listings with exponential
// backoff. Other failures are returned as is.
type Retrying struct {
	next    port.VideoSource
	retries uint64
	base    time.Duration
	max     time.Duration
}

func WithRetry(next port.VideoSource, retries int) *Retrying {
	if retries < 0 {
		retries = 0
	}
	return &Retrying{
		next:    next,
		retries: uint64(retries),
		base:    time.Second,
		max:     30 * time.Second,
	}
}

func (r *Retrying) Name() string {
	return r.next.Name()
}

func (r *Retrying) Profile(ctx context.Context, username string) (*domain.ProfileSummary, error) {
	var profile *domain.ProfileSummary
	err := r.do(ctx, "profile", username, func(ctx context.Context) error {
		p, err := r.next.Profile(ctx, username)
		if err != nil {
			return err
		}
		profile = p
		return nil
	})
	return profile, err
}

func (r *Retrying) Videos(ctx context.Context, username string, max int) ([]domain.VideoDescriptor, error) {
	var videos []domain.VideoDescriptor
	err := r.do(ctx, "videos", username, func(ctx context.Context) error {
		v, err := r.next.Videos(ctx, username, max)
		if err != nil {
			return err
		}
		videos = v
		return nil
	})
	return videos, err
}

// Probe forwards to the wrapped source when it can be probed.
func (r *Retrying) Probe(ctx context.Context) error {
	if p, ok := r.next.(port.ProbingSource); ok {
		return p.Probe(ctx)
	}
	return nil
}

func (r *Retrying) do(ctx context.Context, op, username string, fn func(context.Context) error) error {
	b := retry.NewExponential(r.base)
	b = retry.WithCappedDuration(r.max, b)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithMaxRetries(r.retries, b)

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var se *domain.SourceError
		if errors.As(err, &se) && se.Retryable() && ctx.Err() == nil {
			logger.Warn.Printf("%s %s of @%s failed (attempt %d): %s",
				r.next.Name(), op, username, attempt, logger.SanitizeForLog(err.Error()))
			return retry.RetryableError(err)
		}
		return err
	})
}

var _ port.ProbingSource = (*Retrying)(nil)
