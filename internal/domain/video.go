package domain

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

type VideoDescriptor struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Description string    `json:"description,omitempty"`
	Duration    float64   `json:"duration,omitempty"`
	PublishedAt time.Time `json:"published_at,omitzero"`
}

// ProfileSummary describes a profile. VideoCount is -1 when the source
// does not report it.
type ProfileSummary struct {
	Username   string `json:"username"`
	Nickname   string `json:"nickname,omitempty"`
	Bio        string `json:"bio,omitempty"`
	Followers  int64  `json:"followers,omitempty"`
	VideoCount int    `json:"video_count"`
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.]{1,31}$`)

func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	return nil
}

type SourceErrorKind string

const (
	SourceUnavailable SourceErrorKind = "unavailable"
	SourceBlocked     SourceErrorKind = "blocked"
	SourceNotFound    SourceErrorKind = "not_found"
	SourceEmpty       SourceErrorKind = "empty"
)

type SourceError struct {
	Kind     SourceErrorKind
	Username string
	Err      error
}

func NewSourceError(kind SourceErrorKind, username string, err error) *SourceError {
	return &SourceError{Kind: kind, Username: username, Err: err}
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("source %s for @%s", e.Kind, e.Username)
	}
	return fmt.Sprintf("source %s for @%s: %v", e.Kind, e.Username, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Retryable is true for kinds that may clear up on their own.
func (e *SourceError) Retryable() bool {
	return e.Kind == SourceUnavailable || e.Kind == SourceBlocked
}

// SourceErrorKindOf returns the kind of a wrapped SourceError, or
// SourceUnavailable for any other error.
func SourceErrorKindOf(err error) SourceErrorKind {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return SourceUnavailable
}

// IsEmptyProfile reports a profile that exists but has published nothing.
func IsEmptyProfile(err error) bool {
	var se *SourceError
	return errors.As(err, &se) && se.Kind == SourceEmpty
}
