package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"streamforge/internal/models"
)

// Snapshot captures a complete JSON-serialisable view of the datastore,
// grouping each collection by its primary identifier so the state can be
// exported from the JSON driver and replayed into Postgres. The layout
// matches the JSON store file, so a store file doubles as a snapshot.
type Snapshot struct {
	Videos     map[string]models.Video        `json:"videos"`
	Renditions map[string]models.Rendition    `json:"renditions"`
	Segments   map[string][]models.Segment    `json:"segments"`
	Thumbnails map[string]models.ThumbnailSet `json:"thumbnails"`

	// BlobDir locates the segment and thumbnail payload files referenced by
	// the snapshot. LoadSnapshotFromJSON defaults it to the snapshot file's
	// directory.
	BlobDir string `json:"-"`
}

// SnapshotCounts summarises the size of each collection in a Snapshot so
// operators can verify an import moved everything.
type SnapshotCounts struct {
	Videos     int
	Renditions int
	Segments   int
	Thumbnails int
}

// LoadSnapshotFromJSON reads a previously persisted store file from disk,
// rehydrating the datastore state so it can be imported or inspected.
func LoadSnapshotFromJSON(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var snapshot Snapshot
	if err := decoder.Decode(&snapshot); err != nil {
		if err == io.EOF {
			snapshot.BlobDir = filepath.Dir(path)
			snapshot.ensureInitialized()
			return &snapshot, nil
		}
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	snapshot.BlobDir = filepath.Dir(path)
	snapshot.ensureInitialized()
	return &snapshot, nil
}

func (s *Snapshot) ensureInitialized() {
	if s.Videos == nil {
		s.Videos = make(map[string]models.Video)
	}
	if s.Renditions == nil {
		s.Renditions = make(map[string]models.Rendition)
	}
	if s.Segments == nil {
		s.Segments = make(map[string][]models.Segment)
	}
	if s.Thumbnails == nil {
		s.Thumbnails = make(map[string]models.ThumbnailSet)
	}
}

// Counts walks the Snapshot and reports how many entities of each type will
// be serialised for import.
func (s *Snapshot) Counts() SnapshotCounts {
	if s == nil {
		return SnapshotCounts{}
	}
	counts := SnapshotCounts{
		Videos:     len(s.Videos),
		Renditions: len(s.Renditions),
		Thumbnails: len(s.Thumbnails),
	}
	for _, segments := range s.Segments {
		counts.Segments += len(segments)
	}
	return counts
}

func (s *Snapshot) segmentPayload(videoID, quality string, index int) ([]byte, error) {
	path := filepath.Join(s.BlobDir, "segments", videoID, quality, strconv.Itoa(index)+".m4s")
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read segment payload %s: %w", path, err)
	}
	return payload, nil
}

func (s *Snapshot) thumbnailPayload(videoID, size, contentType string) ([]byte, error) {
	path := filepath.Join(s.BlobDir, "thumbnails", videoID, size+thumbnailExtension(contentType))
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read thumbnail payload %s: %w", path, err)
	}
	return payload, nil
}

// ImportSnapshotToPostgres hands a Snapshot to the Postgres repository so the
// serialised datastore state, payloads included, can be bulk-loaded.
func ImportSnapshotToPostgres(ctx context.Context, repo Repository, snapshot *Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is required")
	}
	pgRepo, ok := repo.(*PostgresRepository)
	if !ok {
		return fmt.Errorf("postgres repository required for snapshot import")
	}
	snapshot.ensureInitialized()
	return pgRepo.importSnapshot(ctx, snapshot)
}
