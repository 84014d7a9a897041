package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/harvest/internal/adapter/storage/sqlite/sqlitedb"
	"github.com/bnema/harvest/internal/port"
)

const downloadStatusDone = "done"

type DedupIndex struct {
	queries  *sqlitedb.Queries
	claimTTL time.Duration
	now      func() time.Time
}

func NewDedupIndex(store *Store) *DedupIndex {
	return &DedupIndex{queries: store.queries, now: time.Now}
}

// WithClaimTTL lets a new claimant take over a fetching claim older than
// ttl. Zero keeps claims until they are completed or released.
func (d *DedupIndex) WithClaimTTL(ttl time.Duration) *DedupIndex {
	d.claimTTL = ttl
	return d
}

// ClaimDownload inserts a fetching claim for videoID. When the row already
// exists the existing state decides the answer.
func (d *DedupIndex) ClaimDownload(ctx context.Context, videoID, owner string) (port.DownloadClaim, error) {
	now := d.now().UTC()
	n, err := d.queries.InsertDownloadClaim(ctx, videoID, owner, now)
	if err != nil {
		return port.DownloadClaim{}, fmt.Errorf("claim download %s: %w", videoID, err)
	}
	if n == 1 {
		return port.DownloadClaim{State: port.ClaimAcquired}, nil
	}

	row, err := d.queries.GetDownload(ctx, videoID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Released between the insert and the read.
			return port.DownloadClaim{State: port.ClaimBusy}, nil
		}
		return port.DownloadClaim{}, fmt.Errorf("read download %s: %w", videoID, err)
	}
	if row.Status == downloadStatusDone {
		return port.DownloadClaim{State: port.ClaimDone, FilePath: row.FilePath}, nil
	}
	if d.claimTTL > 0 && row.Owner != owner && now.Sub(row.ClaimedAt) > d.claimTTL {
		n, err := d.queries.TakeOverDownloadClaim(ctx, owner, now, videoID, row.Owner)
		if err != nil {
			return port.DownloadClaim{}, fmt.Errorf("take over download %s: %w", videoID, err)
		}
		if n == 1 {
			return port.DownloadClaim{State: port.ClaimAcquired}, nil
		}
	}
	return port.DownloadClaim{State: port.ClaimBusy}, nil
}

func (d *DedupIndex) CompleteDownload(ctx context.Context, videoID, owner, filePath string) error {
	n, err := d.queries.MarkDownloadDone(ctx, filePath, videoID, owner)
	if err != nil {
		return fmt.Errorf("complete download %s: %w", videoID, err)
	}
	if n == 0 {
		return fmt.Errorf("complete download %s: claim not held by %s", videoID, owner)
	}
	return nil
}

func (d *DedupIndex) ReleaseDownload(ctx context.Context, videoID, owner string) error {
	if err := d.queries.DeleteDownloadClaim(ctx, videoID, owner); err != nil {
		return fmt.Errorf("release download %s: %w", videoID, err)
	}
	return nil
}

func (d *DedupIndex) DownloadedPath(ctx context.Context, videoID string) (string, bool, error) {
	row, err := d.queries.GetDownload(ctx, videoID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read download %s: %w", videoID, err)
	}
	if row.Status != downloadStatusDone {
		return "", false, nil
	}
	return row.FilePath, true, nil
}

func (d *DedupIndex) ClaimDelivery(ctx context.Context, subscriberID, videoID string) (bool, error) {
	n, err := d.queries.InsertDelivery(ctx, subscriberID, videoID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("claim delivery %s to %s: %w", videoID, subscriberID, err)
	}
	return n == 1, nil
}

func (d *DedupIndex) ReleaseDelivery(ctx context.Context, subscriberID, videoID string) error {
	if err := d.queries.DeleteDelivery(ctx, subscriberID, videoID); err != nil {
		return fmt.Errorf("release delivery %s to %s: %w", videoID, subscriberID, err)
	}
	return nil
}

func (d *DedupIndex) Delivered(ctx context.Context, subscriberID, videoID string) (bool, error) {
	found, err := d.queries.DeliveryExists(ctx, subscriberID, videoID)
	if err != nil {
		return false, fmt.Errorf("check delivery %s to %s: %w", videoID, subscriberID, err)
	}
	return found, nil
}

var _ port.DedupIndex = (*DedupIndex)(nil)
