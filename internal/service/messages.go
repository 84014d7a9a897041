package service

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/bnema/harvest/internal/domain"
)

const captionExcerptLen = 200

func startText(job *domain.Job, profile *domain.ProfileSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📥 @%s: found %d videos (%d new), downloading…", job.Username, job.TotalVideos, job.NewVideos)
	if profile != nil && profile.Followers > 0 {
		fmt.Fprintf(&b, "\n%s followers", humanize.Comma(profile.Followers))
	}
	return b.String()
}

func emptyText(username string) string {
	return fmt.Sprintf("📭 @%s has not published any videos.", username)
}

func failureText(username string, err error) string {
	var reason string
	switch domain.SourceErrorKindOf(err) {
	case domain.SourceNotFound:
		reason = "the profile does not exist"
	case domain.SourceBlocked:
		reason = "the site refused to list the videos, try again later"
	case domain.SourceEmpty:
		reason = "the profile has no videos"
	default:
		reason = "the video source is unavailable"
	}
	return fmt.Sprintf("❌ Could not harvest @%s: %s.", username, reason)
}

func flushSummaryText(username string, res domain.FlushResult) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("sent %d", res.Sent))
	if res.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d already delivered", res.Skipped))
	}
	if res.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", res.Failed))
	}
	return fmt.Sprintf("📦 @%s: %s", username, strings.Join(parts, ", "))
}

func jobSummaryText(job *domain.Job) string {
	if job.FailedCount == 0 {
		return fmt.Sprintf("✅ Finished @%s: %d videos downloaded.", job.Username, job.DownloadedCount)
	}
	return fmt.Sprintf("✅ Finished @%s: %d of %d videos downloaded, %d failed.",
		job.Username, job.DownloadedCount, job.TotalVideos, job.FailedCount)
}

// caption describes one delivered video. probe may be nil.
func caption(username, videoID, description string, size int64, probe *domain.ProbeResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "@%s · %s", username, videoID)

	if description = strings.TrimSpace(description); description != "" {
		b.WriteString("\n")
		b.WriteString(excerpt(description, captionExcerptLen))
	}

	var facts []string
	if size > 0 {
		facts = append(facts, humanize.Bytes(uint64(size)))
	}
	if probe != nil {
		if d := probe.DurationSeconds(); d > 0 {
			facts = append(facts, domain.FormatDuration(d))
		}
		if w, h := probe.Dimensions(); w > 0 && h > 0 {
			facts = append(facts, fmt.Sprintf("%dx%d", w, h))
		}
	}
	if len(facts) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(facts, " · "))
	}
	return b.String()
}

func excerpt(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max])) + "…"
}
