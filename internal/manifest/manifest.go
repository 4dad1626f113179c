package manifest

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"streamforge/internal/media"
	"streamforge/internal/models"
)

// ErrNoReadyRenditions is returned by Build when a video has nothing
// playable yet. Handlers map it to a 404.
var ErrNoReadyRenditions = errors.New("no ready renditions")

// Segment is one playable chunk reference inside a manifest.
type Segment struct {
	Index     int     `json:"index"`
	Duration  float64 `json:"durationSeconds"`
	StartTime float64 `json:"startSeconds"`
	EndTime   float64 `json:"endSeconds"`
	SizeBytes int64   `json:"sizeBytes"`
	URL       string  `json:"url"`
}

// Quality describes one ready rendition and its full segment list.
type Quality struct {
	Quality         string    `json:"quality"`
	Resolution      string    `json:"resolution"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	Bitrate         int       `json:"bitrateKbps"`
	Codec           string    `json:"codec"`
	FrameRate       float64   `json:"frameRate"`
	SegmentDuration float64   `json:"segmentDurationSeconds"`
	SegmentCount    int       `json:"segmentCount"`
	TotalBytes      int64     `json:"totalBytes"`
	Segments        []Segment `json:"segments"`
}

// Manifest is the adaptive-streaming descriptor served to players. Qualities
// are ordered lowest to highest so clients can step up the ladder.
type Manifest struct {
	VideoID            string    `json:"videoId"`
	Title              string    `json:"title"`
	Duration           float64   `json:"durationSeconds"`
	Qualities          []Quality `json:"qualities"`
	AvailableQualities []string  `json:"availableQualities"`
	DefaultQuality     string    `json:"defaultQuality"`
	SegmentBaseURL     string    `json:"segmentBaseUrl"`
}

// Build assembles the manifest for a video from its renditions and their
// segments, keyed by rendition ID. Only ready renditions appear. The default
// quality is the lowest ready rung unless the client's bandwidth hint (kbps,
// zero when absent) sustains a higher one; the pick is always clamped to the
// ready set.
func Build(video models.Video, renditions []models.Rendition, segments map[string][]models.Segment, baseURL string, bandwidthKbps int) (Manifest, error) {
	base := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")

	qualities := make([]Quality, 0, len(renditions))
	for _, rendition := range renditions {
		if rendition.Status != models.RenditionStatusReady {
			continue
		}
		entries := append([]models.Segment(nil), segments[rendition.ID]...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Index < entries[j].Index })
		list := make([]Segment, 0, len(entries))
		for _, segment := range entries {
			list = append(list, Segment{
				Index:     segment.Index,
				Duration:  segment.Duration,
				StartTime: segment.StartTime,
				EndTime:   segment.EndTime,
				SizeBytes: segment.SizeBytes,
				URL:       segmentURL(base, video.ID, rendition.Quality, segment.Index),
			})
		}
		qualities = append(qualities, Quality{
			Quality:         rendition.Quality,
			Resolution:      rendition.Resolution(),
			Width:           rendition.Width,
			Height:          rendition.Height,
			Bitrate:         rendition.Bitrate,
			Codec:           rendition.Codec,
			FrameRate:       rendition.FrameRate,
			SegmentDuration: rendition.SegmentDuration,
			SegmentCount:    rendition.SegmentCount,
			TotalBytes:      rendition.TotalBytes,
			Segments:        list,
		})
	}
	if len(qualities) == 0 {
		return Manifest{}, ErrNoReadyRenditions
	}
	sort.Slice(qualities, func(i, j int) bool {
		return qualities[i].Width*qualities[i].Height < qualities[j].Width*qualities[j].Height
	})

	available := make([]string, 0, len(qualities))
	for _, quality := range qualities {
		available = append(available, quality.Quality)
	}

	var duration float64
	if video.Probe != nil {
		duration = video.Probe.Duration
	}

	return Manifest{
		VideoID:            video.ID,
		Title:              video.Title,
		Duration:           duration,
		Qualities:          qualities,
		AvailableQualities: available,
		DefaultQuality:     defaultQuality(available, bandwidthKbps),
		SegmentBaseURL:     fmt.Sprintf("%s/api/videos/%s/segments", base, video.ID),
	}, nil
}

func segmentURL(base, videoID, quality string, index int) string {
	return fmt.Sprintf("%s/api/videos/%s/segments/%s/%d", base, videoID, quality, index)
}

// defaultQuality picks the starting rung: the highest available quality the
// bandwidth hint sustains, or the lowest available one when the hint is
// absent or below everything on offer. available must be ordered lowest to
// highest.
func defaultQuality(available []string, bandwidthKbps int) string {
	if bandwidthKbps <= 0 {
		return available[0]
	}
	targetPixels := ladderPixels(media.QualityForBandwidth(bandwidthKbps))
	pick := available[0]
	for _, quality := range available {
		if ladderPixels(quality) <= targetPixels {
			pick = quality
		}
	}
	return pick
}

func ladderPixels(quality string) int {
	if spec, ok := media.PresetByQuality(quality); ok {
		return spec.Width * spec.Height
	}
	return 0
}
