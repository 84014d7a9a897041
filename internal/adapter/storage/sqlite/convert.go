package sqlite

import (
	"github.com/bnema/harvest/internal/adapter/storage/sqlite/sqlitedb"
	"github.com/bnema/harvest/internal/domain"
)

func jobFromRow(row sqlitedb.Job) *domain.Job {
	return &domain.Job{
		ID:              row.ID,
		Username:        row.Username,
		MaxVideos:       int(row.MaxVideos),
		SubscriberID:    row.SubscriberID,
		Status:          domain.JobStatus(row.Status),
		TotalVideos:     int(row.TotalVideos),
		DownloadedCount: int(row.DownloadedCount),
		FailedCount:     int(row.FailedCount),
		NewVideos:       int(row.NewVideos),
		ErrorMessage:    row.ErrorMessage,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

func taskFromRow(row sqlitedb.VideoTask) *domain.VideoTask {
	return &domain.VideoTask{
		Seq:           row.Seq,
		JobID:         row.JobID,
		VideoID:       row.VideoID,
		SourceURL:     row.SourceUrl,
		OwnerUsername: row.OwnerUsername,
		Description:   row.Description,
		Status:        domain.TaskStatus(row.Status),
		Progress:      int(row.Progress),
		FilePath:      row.FilePath,
		ErrorMessage:  row.ErrorMessage,
		Reused:        row.Reused,
		UpdatedAt:     row.UpdatedAt,
	}
}

func pendingFromRow(row sqlitedb.PendingDelivery) domain.PendingDelivery {
	return domain.PendingDelivery{
		Seq:      row.Seq,
		JobID:    row.JobID,
		VideoID:  row.VideoID,
		FilePath: row.FilePath,
		Attempts: int(row.Attempts),
	}
}
