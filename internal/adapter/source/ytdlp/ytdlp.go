// Package ytdlp lists a profile's videos with the yt-dlp command line tool.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/harvest/internal/domain"
	"github.com/bnema/harvest/internal/infrastructure/logger"
	"github.com/bnema/harvest/internal/port"
)

// runFunc runs a command and returns its stdout and stderr.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)

type Source struct {
	binary  string
	base    string
	timeout time.Duration
	run     runFunc
}

func New(binary, baseURL string) *Source {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &Source{
		binary:  binary,
		base:    strings.TrimSuffix(baseURL, "/"),
		timeout: 3 * time.Minute,
		run:     execRun,
	}
}

func execRun(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func (s *Source) Name() string {
	return "ytdlp"
}

// Probe checks that the binary runs.
func (s *Source) Probe(ctx context.Context) error {
	out, stderr, err := s.run(ctx, s.binary, "--version")
	if err != nil {
		return fmt.Errorf("%s --version: %w: %s", s.binary, err, strings.TrimSpace(string(stderr)))
	}
	logger.Debug.Printf("ytdlp: version %s", strings.TrimSpace(string(out)))
	return nil
}

type playlist struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Uploader      string  `json:"uploader"`
	Channel       string  `json:"channel"`
	Description   string  `json:"description"`
	PlaylistCount *int    `json:"playlist_count"`
	Entries       []entry `json:"entries"`
}

type entry struct {
	ID          string  `json:"id"`
	URL         string  `json:"url"`
	WebpageURL  string  `json:"webpage_url"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Duration    float64 `json:"duration"`
	Timestamp   int64   `json:"timestamp"`
}

// Profile reads the playlist header without resolving any video.
func (s *Source) Profile(ctx context.Context, username string) (*domain.ProfileSummary, error) {
	pl, err := s.list(ctx, username, "--flat-playlist", "--playlist-end", "1")
	if err != nil {
		return nil, err
	}
	summary := &domain.ProfileSummary{
		Username:   username,
		Nickname:   firstNonEmpty(pl.Channel, pl.Uploader, pl.Title),
		Bio:        pl.Description,
		VideoCount: -1,
	}
	if pl.PlaylistCount != nil {
		summary.VideoCount = *pl.PlaylistCount
	}
	return summary, nil
}

// Videos resolves each video so that entries carry a direct media URL.
func (s *Source) Videos(ctx context.Context, username string, max int) ([]domain.VideoDescriptor, error) {
	args := []string{"-f", "b"}
	if max > 0 {
		args = append(args, "--playlist-end", strconv.Itoa(max))
	}
	pl, err := s.list(ctx, username, args...)
	if err != nil {
		return nil, err
	}

	videos := make([]domain.VideoDescriptor, 0, len(pl.Entries))
	for _, e := range pl.Entries {
		if e.ID == "" {
			continue
		}
		u := e.URL
		if u == "" {
			u = e.WebpageURL
		}
		v := domain.VideoDescriptor{
			ID:          e.ID,
			URL:         u,
			Description: firstNonEmpty(e.Description, e.Title),
			Duration:    e.Duration,
		}
		if e.Timestamp > 0 {
			v.PublishedAt = time.Unix(e.Timestamp, 0).UTC()
		}
		videos = append(videos, v)
	}

	if len(videos) == 0 && pl.PlaylistCount != nil && *pl.PlaylistCount == 0 {
		return nil, domain.NewSourceError(domain.SourceEmpty, username, nil)
	}
	if max > 0 && len(videos) > max {
		videos = videos[:max]
	}
	return videos, nil
}

func (s *Source) list(ctx context.Context, username string, extra ...string) (*playlist, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := append([]string{"-J", "--no-warnings", "--ignore-errors"}, extra...)
	args = append(args, s.base+"/@"+username)

	out, stderr, err := s.run(ctx, s.binary, args...)
	if err != nil {
		// With --ignore-errors yt-dlp may still print a usable playlist.
		if pl, perr := decode(out); perr == nil && len(pl.Entries) > 0 {
			logger.Warn.Printf("ytdlp: @%s listed with errors: %s", username, logger.SanitizeForLog(lastLine(stderr)))
			return pl, nil
		}
		return nil, classify(username, err, stderr)
	}
	pl, err := decode(out)
	if err != nil {
		return nil, domain.NewSourceError(domain.SourceUnavailable, username, err)
	}
	return pl, nil
}

func decode(out []byte) (*playlist, error) {
	var pl playlist
	if err := json.Unmarshal(bytes.TrimSpace(out), &pl); err != nil {
		return nil, fmt.Errorf("decode yt-dlp output: %w", err)
	}
	return &pl, nil
}

// classify maps yt-dlp's error output to a source error kind.
func classify(username string, err error, stderr []byte) error {
	msg := strings.ToLower(string(stderr))
	cause := err
	if line := lastLine(stderr); line != "" {
		cause = fmt.Errorf("%w: %s", err, line)
	}

	var execErr *exec.Error
	switch {
	case errors.As(err, &execErr):
		return domain.NewSourceError(domain.SourceUnavailable, username, err)
	case strings.Contains(msg, "does not have any videos"):
		return domain.NewSourceError(domain.SourceEmpty, username, cause)
	case strings.Contains(msg, "http error 404"), strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "couldn't find this account"), strings.Contains(msg, "unable to find"):
		return domain.NewSourceError(domain.SourceNotFound, username, cause)
	case strings.Contains(msg, "http error 403"), strings.Contains(msg, "http error 429"),
		strings.Contains(msg, "captcha"), strings.Contains(msg, "blocked"), strings.Contains(msg, "login"):
		return domain.NewSourceError(domain.SourceBlocked, username, cause)
	}
	return domain.NewSourceError(domain.SourceUnavailable, username, cause)
}

func lastLine(b []byte) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

var _ port.ProbingSource = (*Source)(nil)
