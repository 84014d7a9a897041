package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"
	JobStatusScraping    JobStatus = "scraping"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusFailed      JobStatus = "failed"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:     {JobStatusScraping},
	JobStatusScraping:    {JobStatusDownloading, JobStatusFailed},
	JobStatusDownloading: {JobStatusCompleted, JobStatusFailed},
}

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusScraping, JobStatusDownloading, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

type Job struct {
	ID              string    `json:"job_id"`
	Username        string    `json:"username"`
	MaxVideos       int       `json:"max_videos"`
	SubscriberID    string    `json:"subscriber_id,omitempty"`
	Status          JobStatus `json:"status"`
	TotalVideos     int       `json:"total_videos"`
	DownloadedCount int       `json:"downloaded_count"`
	FailedCount     int       `json:"failed_count"`
	NewVideos       int       `json:"new_videos"`
	ErrorMessage    string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewJob returns a pending job. maxVideos <= 0 means no limit.
func NewJob(username string, maxVideos int, subscriberID string) *Job {
	if maxVideos < 0 {
		maxVideos = 0
	}
	now := time.Now().UTC()
	return &Job{
		ID:           uuid.NewString(),
		Username:     username,
		MaxVideos:    maxVideos,
		SubscriberID: subscriberID,
		Status:       JobStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Finished is the number of tasks that reached a terminal state.
func (j *Job) Finished() int {
	return j.DownloadedCount + j.FailedCount
}

func (j *Job) ProgressPercent() int {
	if j.TotalVideos == 0 {
		if j.Status == JobStatusCompleted {
			return 100
		}
		return 0
	}
	return j.Finished() * 100 / j.TotalVideos
}
