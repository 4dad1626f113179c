package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"streamforge/internal/models"
)

func newDataset() dataset {
	return dataset{
		Videos:     make(map[string]models.Video),
		Renditions: make(map[string]models.Rendition),
		Segments:   make(map[string][]models.Segment),
		Thumbnails: make(map[string]models.ThumbnailSet),
	}
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Videos == nil {
		s.data.Videos = make(map[string]models.Video)
	}
	if s.data.Renditions == nil {
		s.data.Renditions = make(map[string]models.Rendition)
	}
	if s.data.Segments == nil {
		s.data.Segments = make(map[string][]models.Segment)
	}
	if s.data.Thumbnails == nil {
		s.data.Thumbnails = make(map[string]models.ThumbnailSet)
	}
}

func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		blobDir:  filepath.Dir(path),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(s.blobDir, 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	s.ensureDatasetInitializedLocked()

	return nil
}

func (s *Storage) persist() error {
	return s.persistDataset(s.data)
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

// Ping verifies the backing file's directory is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Dir(s.filePath)); err != nil {
		return fmt.Errorf("stat data dir: %w", err)
	}
	return nil
}

func cloneVideo(video models.Video) models.Video {
	cloned := video
	if video.Tags != nil {
		cloned.Tags = append([]string(nil), video.Tags...)
	}
	if video.Metadata != nil {
		meta := make(map[string]string, len(video.Metadata))
		for k, v := range video.Metadata {
			meta[k] = v
		}
		cloned.Metadata = meta
	}
	if video.Probe != nil {
		probe := *video.Probe
		cloned.Probe = &probe
	}
	if video.CompletedAt != nil {
		completed := *video.CompletedAt
		cloned.CompletedAt = &completed
	}
	return cloned
}

func cloneSegments(segments []models.Segment) []models.Segment {
	if segments == nil {
		return nil
	}
	return append([]models.Segment(nil), segments...)
}

func cloneDataset(src dataset) dataset {
	clone := dataset{}

	if src.Videos != nil {
		clone.Videos = make(map[string]models.Video, len(src.Videos))
		for id, video := range src.Videos {
			clone.Videos[id] = cloneVideo(video)
		}
	}

	if src.Renditions != nil {
		clone.Renditions = make(map[string]models.Rendition, len(src.Renditions))
		for id, rendition := range src.Renditions {
			clone.Renditions[id] = rendition
		}
	}

	if src.Segments != nil {
		clone.Segments = make(map[string][]models.Segment, len(src.Segments))
		for renditionID, segments := range src.Segments {
			clone.Segments[renditionID] = cloneSegments(segments)
		}
	}

	if src.Thumbnails != nil {
		clone.Thumbnails = make(map[string]models.ThumbnailSet, len(src.Thumbnails))
		for videoID, set := range src.Thumbnails {
			clone.Thumbnails[videoID] = set
		}
	}

	return clone
}
