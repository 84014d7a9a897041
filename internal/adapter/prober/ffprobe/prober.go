// Package ffprobe reads video metadata with the ffprobe command.
package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/bnema/harvest/internal/domain"
	"github.com/bnema/harvest/internal/port"
)

var errInvalidPath = errors.New("invalid input path")

type Prober struct {
	binary  string
	timeout time.Duration
	output  func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func New() *Prober {
	return &Prober{
		binary:  "ffprobe",
		timeout: 15 * time.Second,
		output: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

// Available reports whether the ffprobe binary is on PATH.
func (p *Prober) Available() bool {
	_, err := exec.LookPath(p.binary)
	return err == nil
}

func (p *Prober) Probe(ctx context.Context, inputPath string) (*domain.ProbeResult, error) {
	if err := validatePath(inputPath); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	output, err := p.output(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	)
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var res domain.ProbeResult
	if err := json.Unmarshal(output, &res); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if res.VideoStream() == nil {
		return nil, fmt.Errorf("no video stream found in %s", inputPath)
	}
	return &res, nil
}

func validatePath(path string) error {
	if path == "" || strings.ContainsRune(path, 0) || strings.HasPrefix(path, "-") {
		return fmt.Errorf("%w: %q", errInvalidPath, path)
	}
	return nil
}

var _ port.Prober = (*Prober)(nil)
