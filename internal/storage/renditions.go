package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"streamforge/internal/models"
)

func sortRenditions(renditions []models.Rendition) {
	sort.Slice(renditions, func(i, j int) bool {
		if renditions[i].Height == renditions[j].Height {
			return renditions[i].Bitrate < renditions[j].Bitrate
		}
		return renditions[i].Height < renditions[j].Height
	})
}

// CreateRenditions registers the planned ladder for a video in one shot. All
// rows start pending; qualities must be unique per video.
func (s *Storage) CreateRenditions(videoID string, specs []CreateRenditionParams) ([]models.Rendition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureDatasetInitializedLocked()

	if _, ok := s.data.Videos[videoID]; !ok {
		return nil, fmt.Errorf("video %s not found", videoID)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("rendition plan empty")
	}

	qualities := make(map[string]struct{})
	for _, rendition := range s.data.Renditions {
		if rendition.VideoID == videoID {
			qualities[rendition.Quality] = struct{}{}
		}
	}

	now := s.now()
	created := make([]models.Rendition, 0, len(specs))
	for _, spec := range specs {
		quality := strings.TrimSpace(spec.Quality)
		if quality == "" {
			return nil, fmt.Errorf("rendition quality required")
		}
		if _, dup := qualities[quality]; dup {
			return nil, fmt.Errorf("rendition %s already planned for video %s", quality, videoID)
		}
		qualities[quality] = struct{}{}

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

	for _, rendition := range created {
		s.data.Renditions[rendition.ID] = rendition
	}
	if err := s.persist(); err != nil {
		for _, rendition := range created {
			delete(s.data.Renditions, rendition.ID)
		}
		return nil, err
	}
	return append([]models.Rendition(nil), created...), nil
}

func (s *Storage) GetRendition(id string) (models.Rendition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rendition, ok := s.data.Renditions[id]
	return rendition, ok
}

func (s *Storage) renditionByQualityLocked(videoID, quality string) (models.Rendition, bool) {
	for _, rendition := range s.data.Renditions {
		if rendition.VideoID == videoID && rendition.Quality == quality {
			return rendition, true
		}
	}
	return models.Rendition{}, false
}

func (s *Storage) RenditionByQuality(videoID, quality string) (models.Rendition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.renditionByQualityLocked(videoID, quality)
}

func (s *Storage) ListRenditions(videoID string) ([]models.Rendition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.data.Videos[videoID]; !ok {
		return nil, fmt.Errorf("video %s not found", videoID)
	}

	renditions := make([]models.Rendition, 0)
	for _, rendition := range s.data.Renditions {
		if rendition.VideoID == videoID {
			renditions = append(renditions, rendition)
		}
	}
	sortRenditions(renditions)
	return renditions, nil
}

func (s *Storage) ListReadyRenditions(videoID string) ([]models.Rendition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.data.Videos[videoID]; !ok {
		return nil, fmt.Errorf("video %s not found", videoID)
	}

	renditions := make([]models.Rendition, 0)
	for _, rendition := range s.data.Renditions {
		if rendition.VideoID == videoID && rendition.Status == models.RenditionStatusReady {
			renditions = append(renditions, rendition)
		}
	}
	sortRenditions(renditions)
	return renditions, nil
}

// applyRenditionUpdate mutates rendition in place according to update. Shared
// by both drivers.
func applyRenditionUpdate(rendition *models.Rendition, update RenditionUpdate, now time.Time) {
	if update.Status != nil {
		rendition.Status = strings.TrimSpace(*update.Status)
	}
	if update.Error != nil {
		rendition.Error = strings.TrimSpace(*update.Error)
	}
	if update.SegmentCount != nil {
		count := *update.SegmentCount
		if count < 0 {
			count = 0
		}
		rendition.SegmentCount = count
	}
	if update.Duration != nil && *update.Duration >= 0 {
		rendition.Duration = *update.Duration
	}
	if update.TotalBytes != nil && *update.TotalBytes >= 0 {
		rendition.TotalBytes = *update.TotalBytes
	}
	if update.FrameRate != nil && *update.FrameRate > 0 {
		rendition.FrameRate = *update.FrameRate
	}
	rendition.UpdatedAt = now
}

func (s *Storage) UpdateRendition(id string, update RenditionUpdate) (models.Rendition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.data.Renditions[id]
	if !ok {
		return models.Rendition{}, fmt.Errorf("rendition %s not found", id)
	}

	rendition := original
	applyRenditionUpdate(&rendition, update, s.now())

	s.data.Renditions[id] = rendition
	if err := s.persist(); err != nil {
		s.data.Renditions[id] = original
		return models.Rendition{}, err
	}
	return rendition, nil
}
