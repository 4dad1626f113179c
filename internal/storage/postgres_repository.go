package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"streamforge/internal/models"
)

// ErrPostgresUnavailable is returned when an operation reaches a repository
// whose connection pool was never opened.
var ErrPostgresUnavailable = fmt.Errorf("postgres repository unavailable")

const defaultPostgresOpTimeout = 30 * time.Second

// PostgresRepository persists the video pipeline dataset in Postgres. Segment
// and thumbnail payloads are stored inline as BYTEA so one database holds the
// complete state.
type PostgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
	now  func() time.Time
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository opens a Postgres-backed repository and bootstraps the
// schema when it does not exist yet.
func NewPostgresRepository(dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &PostgresRepository{pool: pool, cfg: cfg, now: cfg.Clock}

	ctx, cancel := repo.opCtx()
	defer cancel()
	if err := repo.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// Close releases the connection pool, honouring the context deadline.
func (r *PostgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return ErrPostgresUnavailable
	}
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) opCtx() (context.Context, context.CancelFunc) {
	timeout := r.cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = defaultPostgresOpTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (r *PostgresRepository) withConn(ctx context.Context, fn func(context.Context, *pgxpool.Conn) error) error {
	if r == nil || r.pool == nil {
		return ErrPostgresUnavailable
	}
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire postgres connection: %w", err)
	}
	defer conn.Release()
	return fn(ctx, conn)
}

func (r *PostgresRepository) withTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	return r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer rollbackTx(ctx, tx)
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

func rollbackTx(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(ctx)
}

func isNoRows(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrNoRows)
}

const videoColumns = "id, owner_id, title, description, category, tags, visibility, status, error, source_file, source_size, content_type, metadata, probe, created_at, updated_at, completed_at"

func scanVideo(row pgx.Row) (models.Video, error) {
	var video models.Video
	var tags []string
	var metadataJSON []byte
	var probeJSON []byte
	var completedAt *time.Time
	if err := row.Scan(
		&video.ID, &video.OwnerID, &video.Title, &video.Description, &video.Category,
		&tags, &video.Visibility, &video.Status, &video.Error, &video.SourceFile,
		&video.SourceSize, &video.ContentType, &metadataJSON, &probeJSON,
		&video.CreatedAt, &video.UpdatedAt, &completedAt,
	); err != nil {
		return models.Video{}, err
	}
	video.Tags = tags
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &video.Metadata); err != nil {
			return models.Video{}, fmt.Errorf("decode video metadata: %w", err)
		}
	}
	if len(probeJSON) > 0 {
		var probe models.SourceProbe
		if err := json.Unmarshal(probeJSON, &probe); err != nil {
			return models.Video{}, fmt.Errorf("decode video probe: %w", err)
		}
		video.Probe = &probe
	}
	video.CompletedAt = completedAt
	return video, nil
}

func videoRowArgs(video models.Video) ([]any, error) {
	metadataJSON, err := json.Marshal(video.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode video metadata: %w", err)
	}
	var probeJSON any
	if video.Probe != nil {
		encoded, err := json.Marshal(*video.Probe)
		if err != nil {
			return nil, fmt.Errorf("encode video probe: %w", err)
		}
		probeJSON = encoded
	}
	var completedAt any
	if video.CompletedAt != nil {
		completedAt = video.CompletedAt.UTC()
	}
	tags := video.Tags
	if tags == nil {
		tags = []string{}
	}
	return []any{
		video.ID, video.OwnerID, video.Title, video.Description, video.Category,
		tags, video.Visibility, video.Status, video.Error, video.SourceFile,
		video.SourceSize, video.ContentType, metadataJSON, probeJSON,
		video.CreatedAt.UTC(), video.UpdatedAt.UTC(), completedAt,
	}, nil
}

func (r *PostgresRepository) CreateVideo(params CreateVideoParams) (models.Video, error) {
	ownerID := strings.TrimSpace(params.OwnerID)
	if ownerID == "" {
		return models.Video{}, fmt.Errorf("owner id required")
	}
	title, err := validateTitle(params.Title)
	if err != nil {
		return models.Video{}, err
	}
	description, err := validateDescription(params.Description)
	if err != nil {
		return models.Video{}, err
	}
	visibility, err := normalizeVisibility(params.Visibility)
	if err != nil {
		return models.Video{}, err
	}
	id, err := generateID()
	if err != nil {
		return models.Video{}, err
	}

	now := r.now()
	metadata := make(map[string]string, len(params.Metadata))
	for k, v := range params.Metadata {
		if strings.TrimSpace(k) == "" {
			continue
		}
		metadata[k] = v
	}

	video := models.Video{
		ID:          id,
		OwnerID:     ownerID,
		Title:       title,
		Description: description,
		Category:    strings.TrimSpace(params.Category),
		Tags:        normalizeTags(params.Tags),
		Visibility:  visibility,
		Status:      models.VideoStatusUploaded,
		SourceFile:  strings.TrimSpace(params.SourceFile),
		SourceSize:  params.SourceSize,
		ContentType: strings.TrimSpace(params.ContentType),
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	args, err := videoRowArgs(video)
	if err != nil {
		return models.Video{}, err
	}

	ctx, cancel := r.opCtx()
	defer cancel()
	_, err = r.pool.Exec(ctx, `
INSERT INTO videos (id, owner_id, title, description, category, tags, visibility, status, error, source_file, source_size, content_type, metadata, probe, created_at, updated_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
`, args...)
	if err != nil {
		return models.Video{}, fmt.Errorf("insert video %s: %w", id, err)
	}
	return video, nil
}

func (r *PostgresRepository) GetVideo(id string) (models.Video, bool) {
	ctx, cancel := r.opCtx()
	defer cancel()
	row := r.pool.QueryRow(ctx, "SELECT "+videoColumns+" FROM videos WHERE id = $1", id)
	video, err := scanVideo(row)
	if err != nil {
		return models.Video{}, false
	}
	return video, true
}

func (r *PostgresRepository) ListVideos(filter VideoFilter) []models.Video {
	query := "SELECT " + videoColumns + " FROM videos"
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filter.Visibility != "" {
		args = append(args, filter.Visibility)
		conditions = append(conditions, fmt.Sprintf("visibility = $%d", len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"

	ctx, cancel := r.opCtx()
	defer cancel()
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return []models.Video{}
	}
	defer rows.Close()

	videos := make([]models.Video, 0)
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return videos
		}
		videos = append(videos, video)
	}
	return videos
}

func (r *PostgresRepository) UpdateVideo(id string, update VideoUpdate) (models.Video, error) {
	var updated models.Video
	ctx, cancel := r.opCtx()
	defer cancel()
	err := r.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, "SELECT "+videoColumns+" FROM videos WHERE id = $1 FOR UPDATE", id)
		video, err := scanVideo(row)
		if isNoRows(err) {
			return fmt.Errorf("video %s not found", id)
		} else if err != nil {
			return fmt.Errorf("load video %s: %w", id, err)
		}

		if err := applyVideoUpdate(&video, update, r.now()); err != nil {
			return err
		}

		args, err := videoRowArgs(video)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
UPDATE videos SET owner_id = $2, title = $3, description = $4, category = $5, tags = $6, visibility = $7, status = $8, error = $9, source_file = $10, source_size = $11, content_type = $12, metadata = $13, probe = $14, created_at = $15, updated_at = $16, completed_at = $17
WHERE id = $1
`, args...)
		if err != nil {
			return fmt.Errorf("update video %s: %w", id, err)
		}
		updated = video
		return nil
	})
	if err != nil {
		return models.Video{}, err
	}
	return updated, nil
}

func (r *PostgresRepository) DeleteVideo(id string) error {
	ctx, cancel := r.opCtx()
	defer cancel()
	tag, err := r.pool.Exec(ctx, "DELETE FROM videos WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete video %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("video %s not found", id)
	}
	return nil
}

func (r *PostgresRepository) ClaimVideo(id string, allowedFrom []string, to string) (models.Video, error) {
	var claimed models.Video
	ctx, cancel := r.opCtx()
	defer cancel()
	err := r.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
UPDATE videos SET status = $3, error = '', completed_at = NULL, updated_at = $4
WHERE id = $1 AND status = ANY($2)
RETURNING `+videoColumns, id, allowedFrom, to, r.now())
		video, err := scanVideo(row)
		if isNoRows(err) {
			var current string
			lookupErr := tx.QueryRow(ctx, "SELECT status FROM videos WHERE id = $1", id).Scan(&current)
			if isNoRows(lookupErr) {
				return fmt.Errorf("video %s not found", id)
			} else if lookupErr != nil {
				return fmt.Errorf("load video %s: %w", id, lookupErr)
			}
			return fmt.Errorf("video %s is %s: %w", id, current, ErrPipelineActive)
		} else if err != nil {
			return fmt.Errorf("claim video %s: %w", id, err)
		}

		if _, err := tx.Exec(ctx, "DELETE FROM renditions WHERE video_id = $1", id); err != nil {
			return fmt.Errorf("drop stale renditions for %s: %w", id, err)
		}
		claimed = video
		return nil
	})
	if err != nil {
		return models.Video{}, err
	}
	return claimed, nil
}

// StuckVideos lists videos abandoned mid-pipeline, oldest first.
func (r *PostgresRepository) StuckVideos() []models.Video {
	ctx, cancel := r.opCtx()
	defer cancel()
	rows, err := r.pool.Query(ctx, "SELECT "+videoColumns+" FROM videos WHERE status = ANY($1) ORDER BY updated_at ASC, id ASC",
		[]string{models.VideoStatusAnalyzing, models.VideoStatusProcessing})
	if err != nil {
		return []models.Video{}
	}
	defer rows.Close()

	stuck := make([]models.Video, 0)
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return stuck
		}
		stuck = append(stuck, video)
	}
	return stuck
}

const renditionColumns = "id, video_id, quality, width, height, bitrate_kbps, codec, frame_rate, status, error, segment_duration, segment_count, duration, total_bytes, created_at, updated_at"

func scanRendition(row pgx.Row) (models.Rendition, error) {
	var rendition models.Rendition
	if err := row.Scan(
		&rendition.ID, &rendition.VideoID, &rendition.Quality, &rendition.Width,
		&rendition.Height, &rendition.Bitrate, &rendition.Codec, &rendition.FrameRate,
		&rendition.Status, &rendition.Error, &rendition.SegmentDuration,
		&rendition.SegmentCount, &rendition.Duration, &rendition.TotalBytes,
		&rendition.CreatedAt, &rendition.UpdatedAt,
	); err != nil {
		return models.Rendition{}, err
	}
	return rendition, nil
}

func (r *PostgresRepository) CreateRenditions(videoID string, specs []CreateRenditionParams) ([]models.Rendition, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("rendition plan empty")
	}

	now := r.now()
	created := make([]models.Rendition, 0, len(specs))
	for _, spec := range specs {
		quality := strings.TrimSpace(spec.Quality)
		if quality == "" {
			return nil, fmt.Errorf("rendition quality required")
		}
		id, err := generateID()
		if err != nil {
			return nil, err
		}
		segmentDuration := spec.SegmentDuration
		if segmentDuration <= 0 {
			segmentDuration = DefaultSegmentSeconds
		}
		created = append(created, models.Rendition{
			ID:              id,
			VideoID:         videoID,
			Quality:         quality,
			Width:           spec.Width,
			Height:          spec.Height,
			Bitrate:         spec.Bitrate,
			Codec:           strings.TrimSpace(spec.Codec),
			FrameRate:       spec.FrameRate,
			Status:          models.RenditionStatusPending,
			SegmentDuration: segmentDuration,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	ctx, cancel := r.opCtx()
	defer cancel()
	err := r.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM videos WHERE id = $1)", videoID).Scan(&exists); err != nil {
			return fmt.Errorf("check video %s: %w", videoID, err)
		}
		if !exists {
			return fmt.Errorf("video %s not found", videoID)
		}
		for _, rendition := range created {
			_, err := tx.Exec(ctx, `
INSERT INTO renditions (id, video_id, quality, width, height, bitrate_kbps, codec, frame_rate, status, error, segment_duration, segment_count, duration, total_bytes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
`, rendition.ID, rendition.VideoID, rendition.Quality, rendition.Width, rendition.Height,
				rendition.Bitrate, rendition.Codec, rendition.FrameRate, rendition.Status, rendition.Error,
				rendition.SegmentDuration, rendition.SegmentCount, rendition.Duration, rendition.TotalBytes,
				rendition.CreatedAt.UTC(), rendition.UpdatedAt.UTC())
			if err != nil {
				return fmt.Errorf("insert rendition %s/%s: %w", videoID, rendition.Quality, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PostgresRepository) GetRendition(id string) (models.Rendition, bool) {
	ctx, cancel := r.opCtx()
	defer cancel()
	row := r.pool.QueryRow(ctx, "SELECT "+renditionColumns+" FROM renditions WHERE id = $1", id)
	rendition, err := scanRendition(row)
	if err != nil {
		return models.Rendition{}, false
	}
	return rendition, true
}

func (r *PostgresRepository) RenditionByQuality(videoID, quality string) (models.Rendition, bool) {
	ctx, cancel := r.opCtx()
	defer cancel()
	row := r.pool.QueryRow(ctx, "SELECT "+renditionColumns+" FROM renditions WHERE video_id = $1 AND quality = $2", videoID, quality)
	rendition, err := scanRendition(row)
	if err != nil {
		return models.Rendition{}, false
	}
	return rendition, true
}

func (r *PostgresRepository) listRenditions(videoID string, onlyReady bool) ([]models.Rendition, error) {
	ctx, cancel := r.opCtx()
	defer cancel()

	var exists bool
	if err := r.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM videos WHERE id = $1)", videoID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check video %s: %w", videoID, err)
	}
	if !exists {
		return nil, fmt.Errorf("video %s not found", videoID)
	}

	query := "SELECT " + renditionColumns + " FROM renditions WHERE video_id = $1"
	args := []any{videoID}
	if onlyReady {
		args = append(args, models.RenditionStatusReady)
		query += " AND status = $2"
	}
	query += " ORDER BY height ASC, bitrate_kbps ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list renditions for %s: %w", videoID, err)
	}
	defer rows.Close()

	renditions := make([]models.Rendition, 0)
	for rows.Next() {
		rendition, err := scanRendition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rendition: %w", err)
		}
		renditions = append(renditions, rendition)
	}
	return renditions, rows.Err()
}

func (r *PostgresRepository) ListRenditions(videoID string) ([]models.Rendition, error) {
	return r.listRenditions(videoID, false)
}

func (r *PostgresRepository) ListReadyRenditions(videoID string) ([]models.Rendition, error) {
	return r.listRenditions(videoID, true)
}

func (r *PostgresRepository) UpdateRendition(id string, update RenditionUpdate) (models.Rendition, error) {
	var updated models.Rendition
	ctx, cancel := r.opCtx()
	defer cancel()
	err := r.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, "SELECT "+renditionColumns+" FROM renditions WHERE id = $1 FOR UPDATE", id)
		rendition, err := scanRendition(row)
		if isNoRows(err) {
			return fmt.Errorf("rendition %s not found", id)
		} else if err != nil {
			return fmt.Errorf("load rendition %s: %w", id, err)
		}

		applyRenditionUpdate(&rendition, update, r.now())

		_, err = tx.Exec(ctx, `
UPDATE renditions SET status = $2, error = $3, segment_count = $4, duration = $5, total_bytes = $6, frame_rate = $7, updated_at = $8
WHERE id = $1
`, id, rendition.Status, rendition.Error, rendition.SegmentCount, rendition.Duration, rendition.TotalBytes, rendition.FrameRate, rendition.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("update rendition %s: %w", id, err)
		}
		updated = rendition
		return nil
	})
	if err != nil {
		return models.Rendition{}, err
	}
	return updated, nil
}

const segmentColumns = "id, rendition_id, idx, size_bytes, duration, start_time, end_time, checksum, created_at"

func scanSegment(row pgx.Row) (models.Segment, error) {
	var segment models.Segment
	if err := row.Scan(
		&segment.ID, &segment.RenditionID, &segment.Index, &segment.SizeBytes,
		&segment.Duration, &segment.StartTime, &segment.EndTime, &segment.Checksum,
		&segment.CreatedAt,
	); err != nil {
		return models.Segment{}, err
	}
	return segment, nil
}

func (r *PostgresRepository) AppendSegment(renditionID string, params AppendSegmentParams) (models.Segment, error) {
	if len(params.Payload) == 0 {
		return models.Segment{}, fmt.Errorf("segment %d payload empty", params.Index)
	}

	checksum := strings.ToLower(strings.TrimSpace(params.Checksum))
	computed := checksumPayload(params.Payload)
	if checksum == "" {
		checksum = computed
	} else if checksum != computed {
		return models.Segment{}, fmt.Errorf("segment %d checksum mismatch for rendition %s", params.Index, renditionID)
	}

	id, err := generateID()
	if err != nil {
		return models.Segment{}, err
	}

	var segment models.Segment
	ctx, cancel := r.opCtx()
	defer cancel()
	err = r.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, "SELECT status FROM renditions WHERE id = $1 FOR UPDATE", renditionID).Scan(&status)
		if isNoRows(err) {
			return fmt.Errorf("rendition %s not found", renditionID)
		} else if err != nil {
			return fmt.Errorf("load rendition %s: %w", renditionID, err)
		}
		if models.RenditionStatusTerminal(status) {
			return fmt.Errorf("rendition %s is %s: %w", renditionID, status, ErrRenditionClosed)
		}

		var count int
		if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM segments WHERE rendition_id = $1", renditionID).Scan(&count); err != nil {
			return fmt.Errorf("count segments for %s: %w", renditionID, err)
		}
		if params.Index != count {
			return fmt.Errorf("rendition %s expects segment %d, got %d: %w", renditionID, count, params.Index, ErrSegmentSequence)
		}

		segment = models.Segment{
			ID:          id,
			RenditionID: renditionID,
			Index:       params.Index,
			SizeBytes:   int64(len(params.Payload)),
			Duration:    params.Duration,
			StartTime:   params.StartTime,
			EndTime:     params.EndTime,
			Checksum:    checksum,
			CreatedAt:   r.now(),
		}

		_, err = tx.Exec(ctx, `
INSERT INTO segments (id, rendition_id, idx, size_bytes, duration, start_time, end_time, checksum, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`, segment.ID, segment.RenditionID, segment.Index, segment.SizeBytes, segment.Duration,
			segment.StartTime, segment.EndTime, segment.Checksum, params.Payload, segment.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert segment %s/%d: %w", renditionID, params.Index, err)
		}
		return nil
	})
	if err != nil {
		return models.Segment{}, err
	}
	return segment, nil
}

func (r *PostgresRepository) ClearSegments(renditionID string) error {
	ctx, cancel := r.opCtx()
	defer cancel()
	return r.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM renditions WHERE id = $1)", renditionID).Scan(&exists); err != nil {
			return fmt.Errorf("check rendition %s: %w", renditionID, err)
		}
		if !exists {
			return fmt.Errorf("rendition %s not found", renditionID)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM segments WHERE rendition_id = $1", renditionID); err != nil {
			return fmt.Errorf("clear segments for %s: %w", renditionID, err)
		}
		return nil
	})
}

func (r *PostgresRepository) ListSegments(renditionID string) ([]models.Segment, error) {
	ctx, cancel := r.opCtx()
	defer cancel()

	var exists bool
	if err := r.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM renditions WHERE id = $1)", renditionID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check rendition %s: %w", renditionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("rendition %s not found", renditionID)
	}

	rows, err := r.pool.Query(ctx, "SELECT "+segmentColumns+" FROM segments WHERE rendition_id = $1 ORDER BY idx ASC", renditionID)
	if err != nil {
		return nil, fmt.Errorf("list segments for %s: %w", renditionID, err)
	}
	defer rows.Close()

	segments := make([]models.Segment, 0)
	for rows.Next() {
		segment, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segments = append(segments, segment)
	}
	return segments, rows.Err()
}

func (r *PostgresRepository) GetSegment(videoID, quality string, index int) (models.Segment, []byte, error) {
	ctx, cancel := r.opCtx()
	defer cancel()

	var renditionID string
	err := r.pool.QueryRow(ctx, "SELECT id FROM renditions WHERE video_id = $1 AND quality = $2", videoID, quality).Scan(&renditionID)
	if isNoRows(err) {
		return models.Segment{}, nil, fmt.Errorf("rendition %s/%s not found", videoID, quality)
	} else if err != nil {
		return models.Segment{}, nil, fmt.Errorf("load rendition %s/%s: %w", videoID, quality, err)
	}

	row := r.pool.QueryRow(ctx, "SELECT "+segmentColumns+", payload FROM segments WHERE rendition_id = $1 AND idx = $2", renditionID, index)
	var segment models.Segment
	var payload []byte
	if err := row.Scan(
		&segment.ID, &segment.RenditionID, &segment.Index, &segment.SizeBytes,
		&segment.Duration, &segment.StartTime, &segment.EndTime, &segment.Checksum,
		&segment.CreatedAt, &payload,
	); err != nil {
		if isNoRows(err) {
			return models.Segment{}, nil, fmt.Errorf("segment %d not found for %s/%s", index, videoID, quality)
		}
		return models.Segment{}, nil, fmt.Errorf("load segment %s/%d: %w", renditionID, index, err)
	}
	if checksumPayload(payload) != segment.Checksum {
		return models.Segment{}, nil, fmt.Errorf("segment %d for %s/%s failed checksum verification", index, videoID, quality)
	}
	return segment, payload, nil
}

func (r *PostgresRepository) PutThumbnails(videoID string, params PutThumbnailsParams) (models.ThumbnailSet, error) {
	if len(params.Small) == 0 || len(params.Medium) == 0 || len(params.Large) == 0 {
		return models.ThumbnailSet{}, fmt.Errorf("thumbnail payloads incomplete for video %s", videoID)
	}
	contentType := strings.TrimSpace(params.ContentType)
	if contentType == "" {
		contentType = "image/jpeg"
	}

	set := models.ThumbnailSet{
		VideoID:     videoID,
		ContentType: contentType,
		SmallBytes:  int64(len(params.Small)),
		MediumBytes: int64(len(params.Medium)),
		LargeBytes:  int64(len(params.Large)),
		CreatedAt:   r.now(),
	}

	ctx, cancel := r.opCtx()
	defer cancel()
	err := r.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM videos WHERE id = $1)", videoID).Scan(&exists); err != nil {
			return fmt.Errorf("check video %s: %w", videoID, err)
		}
		if !exists {
			return fmt.Errorf("video %s not found", videoID)
		}
		_, err := tx.Exec(ctx, `
INSERT INTO thumbnails (video_id, content_type, small, medium, large, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (video_id) DO UPDATE SET content_type = EXCLUDED.content_type, small = EXCLUDED.small, medium = EXCLUDED.medium, large = EXCLUDED.large, created_at = EXCLUDED.created_at
`, videoID, contentType, params.Small, params.Medium, params.Large, set.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("store thumbnails for %s: %w", videoID, err)
		}
		return nil
	})
	if err != nil {
		return models.ThumbnailSet{}, err
	}
	return set, nil
}

func (r *PostgresRepository) GetThumbnail(videoID, size string) ([]byte, string, error) {
	ctx, cancel := r.opCtx()
	defer cancel()

	row := r.pool.QueryRow(ctx, "SELECT content_type, small, medium, large FROM thumbnails WHERE video_id = $1", videoID)
	var contentType string
	var small, medium, large []byte
	if err := row.Scan(&contentType, &small, &medium, &large); err != nil {
		if isNoRows(err) {
			return nil, "", fmt.Errorf("thumbnails for video %s not found", videoID)
		}
		return nil, "", fmt.Errorf("load thumbnails for %s: %w", videoID, err)
	}

	switch strings.ToLower(strings.TrimSpace(size)) {
	case models.ThumbnailSizeSmall:
		return small, contentType, nil
	case models.ThumbnailSizeMedium:
		return medium, contentType, nil
	default:
		return large, contentType, nil
	}
}
