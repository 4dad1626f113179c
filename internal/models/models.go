package models

import (
	"fmt"
	"time"
)

// Video pipeline statuses. A video is mutated into exactly one of the terminal
// states (ready, partially_ready, failed) by the pipeline once every rendition
// has finished; the intermediate states mark the active pipeline lease.
const (
	VideoStatusUploaded       = "uploaded"
	VideoStatusAnalyzing      = "analyzing"
	VideoStatusProcessing     = "processing"
	VideoStatusReady          = "ready"
	VideoStatusPartiallyReady = "partially_ready"
	VideoStatusFailed         = "failed"
)

// Rendition statuses. Each rendition advances independently of its siblings.
const (
	RenditionStatusPending    = "pending"
	RenditionStatusEncoding   = "encoding"
	RenditionStatusSegmenting = "segmenting"
	RenditionStatusReady      = "ready"
	RenditionStatusFailed     = "failed"
)

// Video visibility values.
const (
	VisibilityPublic   = "public"
	VisibilityUnlisted = "unlisted"
	VisibilityPrivate  = "private"
)

// Thumbnail size labels.
const (
	ThumbnailSizeSmall  = "small"
	ThumbnailSizeMedium = "medium"
	ThumbnailSizeLarge  = "large"
)

// VideoStatusTerminal reports whether a video status allows a new pipeline
// claim. Submitting a video in a non-terminal, non-uploaded state conflicts
// with the active pipeline.
func VideoStatusTerminal(status string) bool {
	switch status {
	case VideoStatusReady, VideoStatusPartiallyReady, VideoStatusFailed:
		return true
	}
	return false
}

// RenditionStatusTerminal reports whether a rendition has finished, either way.
func RenditionStatusTerminal(status string) bool {
	return status == RenditionStatusReady || status == RenditionStatusFailed
}

type Video struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"ownerId"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Category    string            `json:"category,omitempty"`
	Tags        []string          `json:"tags"`
	Visibility  string            `json:"visibility"`
	Status      string            `json:"status"`
	Error       string            `json:"error,omitempty"`
	SourceFile  string            `json:"sourceFile,omitempty"`
	SourceSize  int64             `json:"sourceSize"`
	ContentType string            `json:"contentType,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Probe       *SourceProbe      `json:"probe,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
}

// SourceProbe captures the container metadata extracted from the uploaded
// source. It is attached to the video once analysis succeeds and never
// mutated afterwards.
type SourceProbe struct {
	Duration  float64   `json:"durationSeconds"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Codec     string    `json:"codec"`
	FrameRate float64   `json:"frameRate"`
	ProbedAt  time.Time `json:"probedAt"`
}

// Resolution renders the probe dimensions as "WxH".
func (p SourceProbe) Resolution() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

type Rendition struct {
	ID              string    `json:"id"`
	VideoID         string    `json:"videoId"`
	Quality         string    `json:"quality"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	Bitrate         int       `json:"bitrateKbps"`
	Codec           string    `json:"codec"`
	FrameRate       float64   `json:"frameRate"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	SegmentDuration float64   `json:"segmentDurationSeconds"`
	SegmentCount    int       `json:"segmentCount"`
	Duration        float64   `json:"durationSeconds"`
	TotalBytes      int64     `json:"totalBytes"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Resolution renders the rendition dimensions as "WxH".
func (r Rendition) Resolution() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Segment describes one stored chunk of a rendition. The binary payload is
// kept by the repository; Segment carries only addressing and integrity
// metadata. Indices are contiguous from zero and segments are append-only.
type Segment struct {
	ID          string    `json:"id"`
	RenditionID string    `json:"renditionId"`
	Index       int       `json:"index"`
	SizeBytes   int64     `json:"sizeBytes"`
	Duration    float64   `json:"durationSeconds"`
	StartTime   float64   `json:"startSeconds"`
	EndTime     float64   `json:"endSeconds"`
	Checksum    string    `json:"checksum"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ThumbnailSet records the poster images captured from the source. The three
// sizes share one content type and are generated together, exactly once.
type ThumbnailSet struct {
	VideoID     string    `json:"videoId"`
	ContentType string    `json:"contentType"`
	SmallBytes  int64     `json:"smallBytes"`
	MediumBytes int64     `json:"mediumBytes"`
	LargeBytes  int64     `json:"largeBytes"`
	CreatedAt   time.Time `json:"createdAt"`
}
