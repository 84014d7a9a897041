// Package webpage lists a profile's videos from its public web page.
package webpage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bnema/harvest/internal/domain"
	"github.com/bnema/harvest/internal/infrastructure/logger"
	"github.com/bnema/harvest/internal/port"
)

const (
	userAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxPageSize = 8 << 20
)

type Source struct {
	client *http.Client
	base   string
	cookie string
}

// New returns a source reading profiles under baseURL. cookie is either a
// full Cookie header or a bare session id.
func New(baseURL, cookie string) *Source {
	return &Source{
		client: &http.Client{Timeout: 30 * time.Second},
		base:   strings.TrimSuffix(baseURL, "/"),
		cookie: cookieHeader(cookie),
	}
}

func (s *Source) Name() string {
	return "webpage"
}

// Probe checks that the site answers at all.
func (s *Source) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.base+"/", nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (s *Source) Profile(ctx context.Context, username string) (*domain.ProfileSummary, error) {
	p, st, err := s.load(ctx, username)
	if err != nil {
		return nil, err
	}

	summary := &domain.ProfileSummary{Username: username, VideoCount: -1}
	if st.info != nil {
		summary.Nickname = st.info.User.Nickname
		summary.Bio = st.info.User.Signature
		if st.info.Stats != nil {
			summary.Followers = st.info.Stats.FollowerCount
			if st.info.Stats.VideoCount != nil {
				summary.VideoCount = *st.info.Stats.VideoCount
			}
		}
		return summary, nil
	}

	summary.Nickname = strings.TrimSpace(p.meta["og:title"])
	summary.Bio = strings.TrimSpace(p.meta["og:description"])
	return summary, nil
}

func (s *Source) Videos(ctx context.Context, username string, max int) ([]domain.VideoDescriptor, error) {
	p, st, err := s.load(ctx, username)
	if err != nil {
		return nil, err
	}

	var videos []domain.VideoDescriptor
	for _, raw := range st.items {
		it := raw.unwrap()
		if it.ID == "" {
			continue
		}
		u := it.Video.DownloadAddr
		if u == "" {
			u = it.Video.PlayAddr
		}
		if u == "" {
			u = s.videoPage(username, it.ID)
		}
		v := domain.VideoDescriptor{
			ID:          it.ID,
			URL:         u,
			Description: it.Desc,
			Duration:    float64(it.Video.Duration),
		}
		if it.CreateTime > 0 {
			v.PublishedAt = time.Unix(int64(it.CreateTime), 0).UTC()
		}
		videos = append(videos, v)
	}

	if len(videos) == 0 {
		for _, id := range p.videoIDs {
			videos = append(videos, domain.VideoDescriptor{ID: id, URL: s.videoPage(username, id)})
		}
	}

	if len(videos) == 0 && st.info != nil && st.info.Stats != nil &&
		st.info.Stats.VideoCount != nil && *st.info.Stats.VideoCount == 0 {
		return nil, domain.NewSourceError(domain.SourceEmpty, username, nil)
	}

	if max > 0 && len(videos) > max {
		videos = videos[:max]
	}
	logger.Debug.Printf("webpage: @%s lists %d videos", username, len(videos))
	return videos, nil
}

// load fetches and parses the profile page, mapping failures to source
// error kinds.
func (s *Source) load(ctx context.Context, username string) (*page, state, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.profileURL(username), nil)
	if err != nil {
		return nil, state{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if s.cookie != "" {
		req.Header.Set("Cookie", s.cookie)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, state{}, domain.NewSourceError(domain.SourceUnavailable, username, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, state{}, domain.NewSourceError(domain.SourceNotFound, username, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return nil, state{}, domain.NewSourceError(domain.SourceBlocked, username, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, state{}, domain.NewSourceError(domain.SourceUnavailable, username, fmt.Errorf("status %d", resp.StatusCode))
	}

	p, err := parsePage(io.LimitReader(resp.Body, maxPageSize), username)
	if err != nil {
		return nil, state{}, domain.NewSourceError(domain.SourceUnavailable, username, fmt.Errorf("parse page: %w", err))
	}
	st := p.state(username)

	if st.found && st.statusCode != 0 {
		return nil, state{}, domain.NewSourceError(domain.SourceNotFound, username, fmt.Errorf("profile status code %d", st.statusCode))
	}
	if !st.found && p.meta["og:title"] == "" && len(p.videoIDs) == 0 {
		// Captcha and login walls carry none of the profile markup.
		return nil, state{}, domain.NewSourceError(domain.SourceBlocked, username, fmt.Errorf("page has no profile data"))
	}
	return p, st, nil
}

func (s *Source) profileURL(username string) string {
	return s.base + "/@" + url.PathEscape(username)
}

func (s *Source) videoPage(username, id string) string {
	return s.profileURL(username) + "/video/" + id
}

func cookieHeader(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 2 && (raw[0] == '"' || raw[0] == '\'') && raw[len(raw)-1] == raw[0] {
		raw = strings.TrimSpace(raw[1 : len(raw)-1])
	}
	if raw == "" || strings.Contains(raw, "=") {
		return raw
	}
	return "sessionid=" + raw
}

var _ port.ProbingSource = (*Source)(nil)
