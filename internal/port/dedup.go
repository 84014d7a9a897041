package port

import "context"

type ClaimState int

const (
	// ClaimAcquired means the caller now owns the fetch of this video.
	ClaimAcquired ClaimState = iota
	// ClaimBusy means another task is fetching the video right now.
	ClaimBusy
	// ClaimDone means the video was already downloaded.
	ClaimDone
)

func (s ClaimState) String() string {
	switch s {
	case ClaimAcquired:
		return "acquired"
	case ClaimBusy:
		return "busy"
	case ClaimDone:
		return "done"
	}
	return "unknown"
}

type DownloadClaim struct {
	State    ClaimState
	FilePath string
}

// DedupIndex holds the global download set and the per subscriber
// delivery set. Every check-and-record is a single atomic operation.
type DedupIndex interface {
	ClaimDownload(ctx context.Context, videoID, owner string) (DownloadClaim, error)
	CompleteDownload(ctx context.Context, videoID, owner, filePath string) error
	ReleaseDownload(ctx context.Context, videoID, owner string) error

	// ClaimDelivery returns false if the pair was already delivered.
	ClaimDelivery(ctx context.Context, subscriberID, videoID string) (bool, error)
	ReleaseDelivery(ctx context.Context, subscriberID, videoID string) error
}
