package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"streamforge/internal/models"
)

func thumbnailExtension(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func (s *Storage) thumbnailPath(videoID, size, contentType string) string {
	return filepath.Join(s.blobDir, "thumbnails", videoID, size+thumbnailExtension(contentType))
}

// PutThumbnails stores the three poster payloads for a video, replacing any
// earlier set.
func (s *Storage) PutThumbnails(videoID string, params PutThumbnailsParams) (models.ThumbnailSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureDatasetInitializedLocked()

	if _, ok := s.data.Videos[videoID]; !ok {
		return models.ThumbnailSet{}, fmt.Errorf("video %s not found", videoID)
	}
	if len(params.Small) == 0 || len(params.Medium) == 0 || len(params.Large) == 0 {
		return models.ThumbnailSet{}, fmt.Errorf("thumbnail payloads incomplete for video %s", videoID)
	}

	contentType := strings.TrimSpace(params.ContentType)
	if contentType == "" {
		contentType = "image/jpeg"
	}

	payloads := map[string][]byte{
		models.ThumbnailSizeSmall:  params.Small,
		models.ThumbnailSizeMedium: params.Medium,
		models.ThumbnailSizeLarge:  params.Large,
	}
	written := make([]string, 0, len(payloads))
	for _, size := range []string{models.ThumbnailSizeSmall, models.ThumbnailSizeMedium, models.ThumbnailSizeLarge} {
		path := s.thumbnailPath(videoID, size, contentType)
		if err := writeBlob(path, payloads[size]); err != nil {
			for _, done := range written {
				_ = os.Remove(done)
			}
			return models.ThumbnailSet{}, err
		}
		written = append(written, path)
	}

	previous, hadPrevious := s.data.Thumbnails[videoID]
	set := models.ThumbnailSet{
		VideoID:     videoID,
		ContentType: contentType,
		SmallBytes:  int64(len(params.Small)),
		MediumBytes: int64(len(params.Medium)),
		LargeBytes:  int64(len(params.Large)),
		CreatedAt:   s.now(),
	}

	s.data.Thumbnails[videoID] = set
	if err := s.persist(); err != nil {
		if hadPrevious {
			s.data.Thumbnails[videoID] = previous
		} else {
			delete(s.data.Thumbnails, videoID)
		}
		for _, done := range written {
			_ = os.Remove(done)
		}
		return models.ThumbnailSet{}, err
	}
	return set, nil
}

// GetThumbnail returns the stored poster payload and content type. Unknown
// size labels fall back to the large poster.
func (s *Storage) GetThumbnail(videoID, size string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.data.Thumbnails[videoID]
	if !ok {
		return nil, "", fmt.Errorf("thumbnails for video %s not found", videoID)
	}

	normalized := strings.ToLower(strings.TrimSpace(size))
	switch normalized {
	case models.ThumbnailSizeSmall, models.ThumbnailSizeMedium, models.ThumbnailSizeLarge:
	default:
		normalized = models.ThumbnailSizeLarge
	}

	payload, err := os.ReadFile(s.thumbnailPath(videoID, normalized, set.ContentType))
	if err != nil {
		return nil, "", fmt.Errorf("read thumbnail blob: %w", err)
	}
	return payload, set.ContentType, nil
}
