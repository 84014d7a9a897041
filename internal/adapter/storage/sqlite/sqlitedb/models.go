package sqlitedb

import "time"

type Job struct {
	ID              string
	Username        string
	MaxVideos       int64
	SubscriberID    string
	Status          string
	TotalVideos     int64
	DownloadedCount int64
	FailedCount     int64
	NewVideos       int64
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type VideoTask struct {
	Seq           int64
	JobID         string
	VideoID       string
	SourceUrl     string
	OwnerUsername string
	Description   string
	Status        string
	Progress      int64
	FilePath      string
	ErrorMessage  string
	Reused        bool
	UpdatedAt     time.Time
}

type QueueItem struct {
	ID         int64
	Queue      string
	Payload    string
	EnqueuedAt time.Time
}

type Download struct {
	VideoID   string
	Status    string
	Owner     string
	FilePath  string
	ClaimedAt time.Time
}

type PendingDelivery struct {
	Seq      int64
	JobID    string
	VideoID  string
	FilePath string
	Attempts int64
}
