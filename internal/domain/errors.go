package domain

import "errors"

var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrInvalidUsername   = errors.New("invalid username")
	ErrInvalidVideoID    = errors.New("invalid video id")
	ErrEmptyDownload     = errors.New("download produced zero bytes")
	ErrNoSubscriber      = errors.New("job has no subscriber")
)
