// Package source picks and wraps the video listing backends.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/bnema/harvest/internal/infrastructure/logger"
	"github.com/bnema/harvest/internal/port"
)

// ErrNoSource is returned by Select when no variant passed its probe.
var ErrNoSource = errors.New("no usable video source")

const probeTimeout = 15 * time.Second

// Select probes the variants in preference order and returns the first
// healthy one.
func Select(ctx context.Context, variants ...port.ProbingSource) (port.ProbingSource, error) {
	var errs error
	for _, v := range variants {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := v.Probe(pctx)
		cancel()
		if err == nil {
			logger.Info.Printf("video source: using %s", v.Name())
			return v, nil
		}
		logger.Warn.Printf("video source: %s unavailable: %v", v.Name(), err)
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", v.Name(), err))
	}
	if errs == nil {
		return nil, ErrNoSource
	}
	return nil, fmt.Errorf("%w: %w", ErrNoSource, errs)
}
