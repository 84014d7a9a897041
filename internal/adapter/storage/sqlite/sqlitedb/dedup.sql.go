package sqlitedb

import (
	"context"
	"time"
)

const insertDownloadClaim = `INSERT INTO downloads (video_id, status, owner, file_path, claimed_at)
VALUES (?, 'fetching', ?, '', ?)
ON CONFLICT (video_id) DO NOTHING`

func (q *Queries) InsertDownloadClaim(ctx context.Context, videoID, owner string, claimedAt time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertDownloadClaim, videoID, owner, claimedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const getDownload = `SELECT video_id, status, owner, file_path, claimed_at FROM downloads WHERE video_id = ?`

func (q *Queries) GetDownload(ctx context.Context, videoID string) (Download, error) {
	var i Download
	err := q.db.QueryRowContext(ctx, getDownload, videoID).Scan(
		&i.VideoID,
		&i.Status,
		&i.Owner,
		&i.FilePath,
		&i.ClaimedAt,
	)
	return i, err
}

const markDownloadDone = `UPDATE downloads SET status = 'done', file_path = ?
WHERE video_id = ? AND owner = ? AND status = 'fetching'`

func (q *Queries) MarkDownloadDone(ctx context.Context, filePath, videoID, owner string) (int64, error) {
	result, err := q.db.ExecContext(ctx, markDownloadDone, filePath, videoID, owner)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const takeOverDownloadClaim = `UPDATE downloads SET owner = ?, claimed_at = ?
WHERE video_id = ? AND owner = ? AND status = 'fetching'`

func (q *Queries) TakeOverDownloadClaim(ctx context.Context, owner string, claimedAt time.Time, videoID, previousOwner string) (int64, error) {
	result, err := q.db.ExecContext(ctx, takeOverDownloadClaim, owner, claimedAt, videoID, previousOwner)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteDownloadClaim = `DELETE FROM downloads WHERE video_id = ? AND owner = ? AND status = 'fetching'`

func (q *Queries) DeleteDownloadClaim(ctx context.Context, videoID, owner string) error {
	_, err := q.db.ExecContext(ctx, deleteDownloadClaim, videoID, owner)
	return err
}

const deleteStalledClaims = `DELETE FROM downloads WHERE status = 'fetching'`

func (q *Queries) DeleteStalledClaims(ctx context.Context) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteStalledClaims)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const insertDelivery = `INSERT INTO deliveries (subscriber_id, video_id, delivered_at)
VALUES (?, ?, ?)
ON CONFLICT (subscriber_id, video_id) DO NOTHING`

func (q *Queries) InsertDelivery(ctx context.Context, subscriberID, videoID string, deliveredAt time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertDelivery, subscriberID, videoID, deliveredAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteDelivery = `DELETE FROM deliveries WHERE subscriber_id = ? AND video_id = ?`

func (q *Queries) DeleteDelivery(ctx context.Context, subscriberID, videoID string) error {
	_, err := q.db.ExecContext(ctx, deleteDelivery, subscriberID, videoID)
	return err
}

const deliveryExists = `SELECT EXISTS (SELECT 1 FROM deliveries WHERE subscriber_id = ? AND video_id = ?)`

func (q *Queries) DeliveryExists(ctx context.Context, subscriberID, videoID string) (bool, error) {
	var found bool
	err := q.db.QueryRowContext(ctx, deliveryExists, subscriberID, videoID).Scan(&found)
	return found, err
}
