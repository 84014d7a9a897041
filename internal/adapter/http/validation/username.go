package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/bnema/harvest/internal/domain"
)

const maxSubscriberLength = 64

// Username accepts a bare username, "@username" or a profile URL such as
// https://www.tiktok.com/@username?lang=en and returns the bare username.
func Username(raw string) (string, error) {
	s := strings.TrimSpace(raw)

	if strings.Contains(s, "/") {
		if !strings.Contains(s, "://") {
			s = "https://" + s
		}
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("%w: %q", domain.ErrInvalidUsername, raw)
		}
		s = ""
		for _, seg := range strings.Split(u.Path, "/") {
			if strings.HasPrefix(seg, "@") {
				s = seg
				break
			}
		}
	}

	s = strings.TrimPrefix(s, "@")
	if err := domain.ValidateUsername(s); err != nil {
		return "", err
	}
	return s, nil
}

// SubscriberID checks an optional subscriber id. Empty is allowed.
func SubscriberID(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if len(s) > maxSubscriberLength {
		return "", fmt.Errorf("subscriber id longer than %d characters", maxSubscriberLength)
	}
	for _, r := range s {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return "", fmt.Errorf("subscriber id contains invalid characters")
		}
	}
	return s, nil
}
