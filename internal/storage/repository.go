package storage

import (
	"context"

	"streamforge/internal/models"
)

// Repository exposes the datastore operations required by the API handlers
// and the pipeline orchestrator. Both the JSON file store and the Postgres
// repository satisfy it; callers that need teardown type-assert for
// Close(context.Context).
type Repository interface {
	Ping(ctx context.Context) error

	CreateVideo(params CreateVideoParams) (models.Video, error)
	GetVideo(id string) (models.Video, bool)
	ListVideos(filter VideoFilter) []models.Video
	UpdateVideo(id string, update VideoUpdate) (models.Video, error)
	DeleteVideo(id string) error

	// ClaimVideo performs the pipeline lease compare-and-set: the video moves
	// to the target status only when its current status is in allowedFrom,
	// otherwise ErrPipelineActive is returned. Existing renditions from a
	// previous run are dropped as part of a successful claim.
	ClaimVideo(id string, allowedFrom []string, to string) (models.Video, error)

	CreateRenditions(videoID string, specs []CreateRenditionParams) ([]models.Rendition, error)
	GetRendition(id string) (models.Rendition, bool)
	RenditionByQuality(videoID, quality string) (models.Rendition, bool)
	ListRenditions(videoID string) ([]models.Rendition, error)
	ListReadyRenditions(videoID string) ([]models.Rendition, error)
	UpdateRendition(id string, update RenditionUpdate) (models.Rendition, error)

	AppendSegment(renditionID string, params AppendSegmentParams) (models.Segment, error)
	ClearSegments(renditionID string) error
	ListSegments(renditionID string) ([]models.Segment, error)
	GetSegment(videoID, quality string, index int) (models.Segment, []byte, error)

	PutThumbnails(videoID string, params PutThumbnailsParams) (models.ThumbnailSet, error)
	GetThumbnail(videoID, size string) ([]byte, string, error)

	// StuckVideos lists videos left in a non-terminal pipeline state, used by
	// the orchestrator to resume interrupted work after a restart.
	StuckVideos() []models.Video
}

var _ Repository = (*Storage)(nil)

// NewJSONRepository opens the JSON-backed datastore and returns it as a
// Repository.
func NewJSONRepository(path string, opts ...Option) (Repository, error) {
	return NewStorage(path, opts...)
}
