package storage

import (
	"errors"
	"sync"
	"time"

	"streamforge/internal/models"
)

const (
	// MaxTitleLength bounds video titles at creation and update time.
	MaxTitleLength = 255
	// MaxDescriptionLength bounds video descriptions.
	MaxDescriptionLength = 4096
	// DefaultSegmentSeconds is the nominal chunk duration applied when a
	// rendition plan does not specify one.
	DefaultSegmentSeconds = 4.0
)

var (
	// ErrPipelineActive is returned by ClaimVideo when another pipeline run
	// already holds the video's processing lease.
	ErrPipelineActive = errors.New("processing already in progress")

	// ErrSegmentSequence is returned by AppendSegment when the supplied index
	// does not extend the stored sequence by exactly one.
	ErrSegmentSequence = errors.New("segment index out of sequence")

	// ErrRenditionClosed is returned by AppendSegment once the rendition has
	// reached a terminal status and its segment set is frozen.
	ErrRenditionClosed = errors.New("rendition no longer accepts segments")
)

type dataset struct {
	Videos     map[string]models.Video        `json:"videos"`
	Renditions map[string]models.Rendition    `json:"renditions"`
	Segments   map[string][]models.Segment    `json:"segments"`
	Thumbnails map[string]models.ThumbnailSet `json:"thumbnails"`
}

type Storage struct {
	mu       sync.RWMutex
	filePath string
	blobDir  string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
	now             func() time.Time
}

// CreateVideoParams captures the attributes accepted when registering an
// uploaded video.
type CreateVideoParams struct {
	OwnerID     string
	Title       string
	Description string
	Category    string
	Tags        []string
	Visibility  string
	SourceFile  string
	SourceSize  int64
	ContentType string
	Metadata    map[string]string
}

// VideoUpdate describes the mutable fields of a video. Nil pointers leave the
// corresponding field untouched.
type VideoUpdate struct {
	Title       *string
	Description *string
	Category    *string
	Tags        []string
	Visibility  *string
	Status      *string
	Error       *string
	Probe       *models.SourceProbe
	Metadata    map[string]string
	CompletedAt *time.Time
}

// VideoFilter narrows ListVideos results. Empty fields match everything.
type VideoFilter struct {
	OwnerID    string
	Visibility string
}

// CreateRenditionParams describes one planned rendition row.
type CreateRenditionParams struct {
	Quality         string
	Width           int
	Height          int
	Bitrate         int
	Codec           string
	FrameRate       float64
	SegmentDuration float64
}

// RenditionUpdate describes the mutable fields of a rendition.
type RenditionUpdate struct {
	Status       *string
	Error        *string
	SegmentCount *int
	Duration     *float64
	TotalBytes   *int64
	FrameRate    *float64
}

// AppendSegmentParams carries one segment descriptor plus its payload. Index
// must equal the number of segments already stored for the rendition.
type AppendSegmentParams struct {
	Index     int
	Duration  float64
	StartTime float64
	EndTime   float64
	Checksum  string
	Payload   []byte
}

// PutThumbnailsParams carries the three poster payloads captured from the
// source.
type PutThumbnailsParams struct {
	ContentType string
	Small       []byte
	Medium      []byte
	Large       []byte
}
