package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"streamforge/internal/models"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS videos (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	tags TEXT[] NOT NULL DEFAULT '{}',
	visibility TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	source_file TEXT NOT NULL DEFAULT '',
	source_size BIGINT NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	probe JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
)`,
	`CREATE TABLE IF NOT EXISTS renditions (
	id TEXT PRIMARY KEY,
	video_id TEXT NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
	quality TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	bitrate_kbps INTEGER NOT NULL,
	codec TEXT NOT NULL DEFAULT '',
	frame_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	segment_duration DOUBLE PRECISION NOT NULL,
	segment_count INTEGER NOT NULL DEFAULT 0,
	duration DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_bytes BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (video_id, quality)
)`,
	`CREATE TABLE IF NOT EXISTS segments (
	id TEXT PRIMARY KEY,
	rendition_id TEXT NOT NULL REFERENCES renditions(id) ON DELETE CASCADE,
	idx INTEGER NOT NULL,
	size_bytes BIGINT NOT NULL,
	duration DOUBLE PRECISION NOT NULL,
	start_time DOUBLE PRECISION NOT NULL,
	end_time DOUBLE PRECISION NOT NULL,
	checksum TEXT NOT NULL,
	payload BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (rendition_id, idx)
)`,
	`CREATE TABLE IF NOT EXISTS thumbnails (
	video_id TEXT PRIMARY KEY REFERENCES videos(id) ON DELETE CASCADE,
	content_type TEXT NOT NULL,
	small BYTEA NOT NULL,
	medium BYTEA NOT NULL,
	large BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS videos_owner_idx ON videos (owner_id)`,
	`CREATE INDEX IF NOT EXISTS videos_status_idx ON videos (status)`,
	`CREATE INDEX IF NOT EXISTS renditions_video_idx ON renditions (video_id)`,
	`CREATE INDEX IF NOT EXISTS segments_rendition_idx ON segments (rendition_id, idx)`,
}

func (r *PostgresRepository) ensureSchema(ctx context.Context) error {
	return r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		for _, statement := range schemaStatements {
			if _, err := conn.Exec(ctx, statement); err != nil {
				return fmt.Errorf("apply schema statement: %w", err)
			}
		}
		return nil
	})
}

func (r *PostgresRepository) importSnapshot(ctx context.Context, snapshot *Snapshot) error {
	if r == nil || r.pool == nil {
		return ErrPostgresUnavailable
	}
	return r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin snapshot transaction: %w", err)
		}
		defer rollbackTx(ctx, tx)

		if err := importSnapshotVideos(ctx, tx, snapshot.Videos); err != nil {
			return err
		}
		if err := importSnapshotRenditions(ctx, tx, snapshot.Renditions); err != nil {
			return err
		}
		if err := importSnapshotSegments(ctx, tx, snapshot); err != nil {
			return err
		}
		if err := importSnapshotThumbnails(ctx, tx, snapshot); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit snapshot import: %w", err)
		}
		return nil
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func importSnapshotVideos(ctx context.Context, tx pgx.Tx, videos map[string]models.Video) error {
	for _, key := range sortedKeys(videos) {
		video := videos[key]
		if strings.TrimSpace(video.ID) == "" {
			video.ID = key
		}
		if video.CreatedAt.IsZero() {
			video.CreatedAt = time.Now().UTC()
		}
		if video.UpdatedAt.IsZero() {
			video.UpdatedAt = video.CreatedAt
		}
		args, err := videoRowArgs(video)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
INSERT INTO videos (id, owner_id, title, description, category, tags, visibility, status, error, source_file, source_size, content_type, metadata, probe, created_at, updated_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (id) DO NOTHING
`, args...)
		if err != nil {
			return fmt.Errorf("insert video %s: %w", video.ID, err)
		}
	}
	return nil
}

func importSnapshotRenditions(ctx context.Context, tx pgx.Tx, renditions map[string]models.Rendition) error {
	for _, key := range sortedKeys(renditions) {
		rendition := renditions[key]
		if strings.TrimSpace(rendition.ID) == "" {
			rendition.ID = key
		}
		_, err := tx.Exec(ctx, `
INSERT INTO renditions (id, video_id, quality, width, height, bitrate_kbps, codec, frame_rate, status, error, segment_duration, segment_count, duration, total_bytes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (id) DO NOTHING
`, rendition.ID, rendition.VideoID, rendition.Quality, rendition.Width, rendition.Height,
			rendition.Bitrate, rendition.Codec, rendition.FrameRate, rendition.Status, rendition.Error,
			rendition.SegmentDuration, rendition.SegmentCount, rendition.Duration, rendition.TotalBytes,
			rendition.CreatedAt.UTC(), rendition.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert rendition %s: %w", rendition.ID, err)
		}
	}
	return nil
}

func importSnapshotSegments(ctx context.Context, tx pgx.Tx, snapshot *Snapshot) error {
	for _, renditionID := range sortedKeys(snapshot.Segments) {
		rendition, ok := snapshot.Renditions[renditionID]
		if !ok {
			return fmt.Errorf("segments reference unknown rendition %s", renditionID)
		}
		segments := append([]models.Segment(nil), snapshot.Segments[renditionID]...)
		sort.Slice(segments, func(i, j int) bool { return segments[i].Index < segments[j].Index })
		for _, segment := range segments {
			payload, err := snapshot.segmentPayload(rendition.VideoID, rendition.Quality, segment.Index)
			if err != nil {
				return err
			}
			if checksumPayload(payload) != segment.Checksum {
				return fmt.Errorf("segment %s/%d payload does not match recorded checksum", renditionID, segment.Index)
			}
			_, err = tx.Exec(ctx, `
INSERT INTO segments (id, rendition_id, idx, size_bytes, duration, start_time, end_time, checksum, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO NOTHING
`, segment.ID, renditionID, segment.Index, segment.SizeBytes, segment.Duration,
				segment.StartTime, segment.EndTime, segment.Checksum, payload, segment.CreatedAt.UTC())
			if err != nil {
				return fmt.Errorf("insert segment %s/%d: %w", renditionID, segment.Index, err)
			}
		}
	}
	return nil
}

func importSnapshotThumbnails(ctx context.Context, tx pgx.Tx, snapshot *Snapshot) error {
	for _, videoID := range sortedKeys(snapshot.Thumbnails) {
		set := snapshot.Thumbnails[videoID]
		small, err := snapshot.thumbnailPayload(videoID, models.ThumbnailSizeSmall, set.ContentType)
		if err != nil {
			return err
		}
		medium, err := snapshot.thumbnailPayload(videoID, models.ThumbnailSizeMedium, set.ContentType)
		if err != nil {
			return err
		}
		large, err := snapshot.thumbnailPayload(videoID, models.ThumbnailSizeLarge, set.ContentType)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
INSERT INTO thumbnails (video_id, content_type, small, medium, large, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (video_id) DO NOTHING
`, videoID, set.ContentType, small, medium, large, set.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert thumbnails %s: %w", videoID, err)
		}
	}
	return nil
}
