package domain

import (
	"path/filepath"
	"regexp"
	"time"
)

type TaskStatus string

const (
	TaskStatusQueued      TaskStatus = "queued"
	TaskStatusDownloading TaskStatus = "downloading"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusFailed      TaskStatus = "failed"
)

func (s TaskStatus) IsFinished() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// ProgressUnknown marks a download whose size was not announced.
const ProgressUnknown = -1

type VideoTask struct {
	Seq           int64      `json:"seq"`
	JobID         string     `json:"job_id"`
	VideoID       string     `json:"video_id"`
	SourceURL     string     `json:"source_url"`
	OwnerUsername string     `json:"owner_username"`
	Description   string     `json:"description,omitempty"`
	Status        TaskStatus `json:"status"`
	Progress      int        `json:"progress_percent"`
	FilePath      string     `json:"file_path,omitempty"`
	ErrorMessage  string     `json:"error,omitempty"`
	Reused        bool       `json:"reused"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TaskOutcome is what the download manager reports once per task.
type TaskOutcome struct {
	JobID        string
	VideoID      string
	Status       TaskStatus
	FilePath     string
	ErrorMessage string
	Reused       bool
}

// OutcomeResult describes the effect of recording a TaskOutcome.
// Counted is false when the task had already been finished.
type OutcomeResult struct {
	Counted      bool
	Completed    bool
	PendingCount int
	Job          *Job
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func ValidateVideoID(id string) error {
	if !videoIDPattern.MatchString(id) {
		return ErrInvalidVideoID
	}
	return nil
}

// StoragePath is where a video owned by owner is kept under root.
func StoragePath(root, owner, videoID string) string {
	return filepath.Join(root, owner, videoID+".mp4")
}
