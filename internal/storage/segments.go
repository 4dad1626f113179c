package storage

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"

	"streamforge/internal/models"
)

// segmentPath returns the blob location for one stored chunk. Payloads are
// grouped by video and quality so cascade deletes remove one directory.
func (s *Storage) segmentPath(videoID, quality string, index int) string {
	return filepath.Join(s.blobDir, "segments", videoID, quality, strconv.Itoa(index)+".m4s")
}

// checksumPayload hashes a segment payload with BLAKE2b-256 and returns the
// lowercase hex digest.
func checksumPayload(payload []byte) string {
	digest := blake2b.Sum256(payload)
	return hex.EncodeToString(digest[:])
}

func writeBlob(path string, payload []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, "blob-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(payload); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush blob: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace blob: %w", err)
	}
	success = true
	return nil
}

// AppendSegment stores the next chunk for a rendition. The index must extend
// the stored sequence by exactly one, and the rendition must still be open.
// When the caller supplies a checksum it is verified against the payload;
// otherwise the digest is computed here.
func (s *Storage) AppendSegment(renditionID string, params AppendSegmentParams) (models.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureDatasetInitializedLocked()

	rendition, ok := s.data.Renditions[renditionID]
	if !ok {
		return models.Segment{}, fmt.Errorf("rendition %s not found", renditionID)
	}
	if models.RenditionStatusTerminal(rendition.Status) {
		return models.Segment{}, fmt.Errorf("rendition %s is %s: %w", renditionID, rendition.Status, ErrRenditionClosed)
	}

	current := s.data.Segments[renditionID]
	if params.Index != len(current) {
		return models.Segment{}, fmt.Errorf("rendition %s expects segment %d, got %d: %w", renditionID, len(current), params.Index, ErrSegmentSequence)
	}
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

	path := s.segmentPath(rendition.VideoID, rendition.Quality, params.Index)
	if err := writeBlob(path, params.Payload); err != nil {
		return models.Segment{}, err
	}

	segment := models.Segment{
		ID:          id,
		RenditionID: renditionID,
		Index:       params.Index,
		SizeBytes:   int64(len(params.Payload)),
		Duration:    params.Duration,
		StartTime:   params.StartTime,
		EndTime:     params.EndTime,
		Checksum:    checksum,
		CreatedAt:   s.now(),
	}

	s.data.Segments[renditionID] = append(current, segment)
	if err := s.persist(); err != nil {
		if len(current) == 0 {
			delete(s.data.Segments, renditionID)
		} else {
			s.data.Segments[renditionID] = current
		}
		_ = os.Remove(path)
		return models.Segment{}, err
	}
	return segment, nil
}

// ClearSegments wipes a rendition's chunks ahead of a retry re-run so the
// replacement sequence starts from index zero again.
func (s *Storage) ClearSegments(renditionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rendition, ok := s.data.Renditions[renditionID]
	if !ok {
		return fmt.Errorf("rendition %s not found", renditionID)
	}

	dir := filepath.Join(s.blobDir, "segments", rendition.VideoID, rendition.Quality)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove segment blobs: %w", err)
	}

	existing, has := s.data.Segments[renditionID]
	if !has {
		return nil
	}

	delete(s.data.Segments, renditionID)
	if err := s.persist(); err != nil {
		s.data.Segments[renditionID] = existing
		return err
	}
	return nil
}

func (s *Storage) ListSegments(renditionID string) ([]models.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.data.Renditions[renditionID]; !ok {
		return nil, fmt.Errorf("rendition %s not found", renditionID)
	}

	segments := cloneSegments(s.data.Segments[renditionID])
	if segments == nil {
		segments = []models.Segment{}
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].Index < segments[j].Index
	})
	return segments, nil
}

// GetSegment resolves a chunk by video, quality, and index and returns its
// metadata together with the stored payload. The payload is re-hashed on the
// way out so disk corruption surfaces as an error rather than bad bytes.
func (s *Storage) GetSegment(videoID, quality string, index int) (models.Segment, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rendition, ok := s.renditionByQualityLocked(videoID, quality)
	if !ok {
		return models.Segment{}, nil, fmt.Errorf("rendition %s/%s not found", videoID, quality)
	}

	var segment models.Segment
	found := false
	for _, candidate := range s.data.Segments[rendition.ID] {
		if candidate.Index == index {
			segment = candidate
			found = true
			break
		}
	}
	if !found {
		return models.Segment{}, nil, fmt.Errorf("segment %d not found for %s/%s", index, videoID, quality)
	}

	payload, err := os.ReadFile(s.segmentPath(videoID, quality, index))
	if err != nil {
		return models.Segment{}, nil, fmt.Errorf("read segment blob: %w", err)
	}
	if checksumPayload(payload) != segment.Checksum {
		return models.Segment{}, nil, fmt.Errorf("segment %d for %s/%s failed checksum verification", index, videoID, quality)
	}
	return segment, payload, nil
}
