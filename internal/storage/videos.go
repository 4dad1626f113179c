package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"streamforge/internal/models"
)

func normalizeTags(tags []string) []string {
	normalized := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	return normalized
}

func normalizeVisibility(visibility string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(visibility))
	switch trimmed {
	case "":
		return models.VisibilityPublic, nil
	case models.VisibilityPublic, models.VisibilityUnlisted, models.VisibilityPrivate:
		return trimmed, nil
	default:
		return "", fmt.Errorf("visibility %q not recognised", visibility)
	}
}

func validateTitle(title string) (string, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return "", fmt.Errorf("title required")
	}
	if len(trimmed) > MaxTitleLength {
		return "", fmt.Errorf("title exceeds %d characters", MaxTitleLength)
	}
	return trimmed, nil
}

func validateDescription(description string) (string, error) {
	trimmed := strings.TrimSpace(description)
	if len(trimmed) > MaxDescriptionLength {
		return "", fmt.Errorf("description exceeds %d characters", MaxDescriptionLength)
	}
	return trimmed, nil
}

func (s *Storage) CreateVideo(params CreateVideoParams) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureDatasetInitializedLocked()

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

	now := s.now()
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

	s.data.Videos[id] = video
	if err := s.persist(); err != nil {
		delete(s.data.Videos, id)
		return models.Video{}, err
	}
	return cloneVideo(video), nil
}

func (s *Storage) GetVideo(id string) (models.Video, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, false
	}
	return cloneVideo(video), true
}

func (s *Storage) ListVideos(filter VideoFilter) []models.Video {
	s.mu.RLock()
	defer s.mu.RUnlock()

	videos := make([]models.Video, 0)
	for _, video := range s.data.Videos {
		if filter.OwnerID != "" && video.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Visibility != "" && video.Visibility != filter.Visibility {
			continue
		}
		videos = append(videos, cloneVideo(video))
	}
	sort.Slice(videos, func(i, j int) bool {
		if videos[i].CreatedAt.Equal(videos[j].CreatedAt) {
			return videos[i].ID < videos[j].ID
		}
		return videos[i].CreatedAt.After(videos[j].CreatedAt)
	})
	return videos
}

// applyVideoUpdate mutates video in place according to update. Both drivers
// funnel through it so field semantics never drift between backends.
func applyVideoUpdate(video *models.Video, update VideoUpdate, now time.Time) error {
	if update.Title != nil {
		title, err := validateTitle(*update.Title)
		if err != nil {
			return err
		}
		video.Title = title
	}
	if update.Description != nil {
		description, err := validateDescription(*update.Description)
		if err != nil {
			return err
		}
		video.Description = description
	}
	if update.Category != nil {
		video.Category = strings.TrimSpace(*update.Category)
	}
	if update.Tags != nil {
		video.Tags = normalizeTags(update.Tags)
	}
	if update.Visibility != nil {
		visibility, err := normalizeVisibility(*update.Visibility)
		if err != nil {
			return err
		}
		video.Visibility = visibility
	}
	if update.Status != nil {
		video.Status = strings.TrimSpace(*update.Status)
	}
	if update.Error != nil {
		video.Error = strings.TrimSpace(*update.Error)
	}
	if update.Probe != nil {
		probe := *update.Probe
		if probe.ProbedAt.IsZero() {
			probe.ProbedAt = now
		}
		video.Probe = &probe
	}
	if update.Metadata != nil {
		if video.Metadata == nil {
			video.Metadata = make(map[string]string, len(update.Metadata))
		}
		for k, v := range update.Metadata {
			if strings.TrimSpace(k) == "" {
				continue
			}
			if v == "" {
				delete(video.Metadata, k)
				continue
			}
			video.Metadata[k] = v
		}
	}
	if update.CompletedAt != nil {
		if update.CompletedAt.IsZero() {
			video.CompletedAt = nil
		} else {
			completed := update.CompletedAt.UTC()
			video.CompletedAt = &completed
		}
	}
	video.UpdatedAt = now
	return nil
}

func (s *Storage) UpdateVideo(id string, update VideoUpdate) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, fmt.Errorf("video %s not found", id)
	}

	video := cloneVideo(original)
	if err := applyVideoUpdate(&video, update, s.now()); err != nil {
		return models.Video{}, err
	}

	s.data.Videos[id] = video
	if err := s.persist(); err != nil {
		s.data.Videos[id] = original
		return models.Video{}, err
	}
	return cloneVideo(video), nil
}

func (s *Storage) DeleteVideo(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Videos[id]; !ok {
		return fmt.Errorf("video %s not found", id)
	}

	if err := s.removeVideoBlobsLocked(id); err != nil {
		return err
	}

	snapshot := cloneDataset(s.data)

	delete(s.data.Videos, id)
	for renditionID, rendition := range s.data.Renditions {
		if rendition.VideoID != id {
			continue
		}
		delete(s.data.Renditions, renditionID)
		delete(s.data.Segments, renditionID)
	}
	delete(s.data.Thumbnails, id)

	if err := s.persist(); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// ClaimVideo is the pipeline lease compare-and-set. The move succeeds only
// when the current status is one of allowedFrom; renditions and segments left
// over from a previous run are dropped so the new run plans from scratch.
func (s *Storage) ClaimVideo(id string, allowedFrom []string, to string) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, fmt.Errorf("video %s not found", id)
	}

	allowed := false
	for _, status := range allowedFrom {
		if video.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return models.Video{}, fmt.Errorf("video %s is %s: %w", id, video.Status, ErrPipelineActive)
	}

	if err := os.RemoveAll(filepath.Join(s.blobDir, "segments", id)); err != nil {
		return models.Video{}, fmt.Errorf("remove stale segments: %w", err)
	}

	snapshot := cloneDataset(s.data)

	for renditionID, rendition := range s.data.Renditions {
		if rendition.VideoID != id {
			continue
		}
		delete(s.data.Renditions, renditionID)
		delete(s.data.Segments, renditionID)
	}

	video = cloneVideo(video)
	video.Status = to
	video.Error = ""
	video.CompletedAt = nil
	video.UpdatedAt = s.now()
	s.data.Videos[id] = video

	if err := s.persist(); err != nil {
		s.data = snapshot
		return models.Video{}, err
	}
	return cloneVideo(video), nil
}

// StuckVideos returns videos abandoned mid-pipeline, oldest first, so a
// restarted orchestrator can resume them in the order they stalled.
func (s *Storage) StuckVideos() []models.Video {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stuck := make([]models.Video, 0)
	for _, video := range s.data.Videos {
		switch video.Status {
		case models.VideoStatusAnalyzing, models.VideoStatusProcessing:
			stuck = append(stuck, cloneVideo(video))
		}
	}
	sort.Slice(stuck, func(i, j int) bool {
		if stuck[i].UpdatedAt.Equal(stuck[j].UpdatedAt) {
			return stuck[i].ID < stuck[j].ID
		}
		return stuck[i].UpdatedAt.Before(stuck[j].UpdatedAt)
	})
	return stuck
}

func (s *Storage) removeVideoBlobsLocked(videoID string) error {
	for _, dir := range []string{
		filepath.Join(s.blobDir, "segments", videoID),
		filepath.Join(s.blobDir, "thumbnails", videoID),
	} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove blobs %s: %w", dir, err)
		}
	}
	return nil
}
