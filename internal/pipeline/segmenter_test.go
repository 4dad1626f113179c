package pipeline

import (
	"context"
	"encoding/hex"
	"math"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/blake2b"

	"streamforge/internal/models"
	"streamforge/internal/storage"
)

func TestSegmentDurations(t *testing.T) {
	cases := []struct {
		name    string
		total   float64
		nominal float64
		count   int
		want    []float64
	}{
		{name: "short last chunk", total: 10, nominal: 4, count: 3, want: []float64{4, 4, 2}},
		{name: "exact multiple", total: 8, nominal: 4, count: 2, want: []float64{4, 4}},
		{name: "single short chunk", total: 3, nominal: 4, count: 1, want: []float64{3}},
		{name: "fractional remainder", total: 9.5, nominal: 4, count: 3, want: []float64{4, 4, 1.5}},
		{name: "unknown total", total: 0, nominal: 4, count: 2, want: []float64{4, 4}},
		{name: "total exceeds chunks", total: 20, nominal: 4, count: 3, want: []float64{4, 4, 4}},
		{name: "no chunks", total: 10, nominal: 4, count: 0, want: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := segmentDurations(tc.total, tc.nominal, tc.count)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d durations, got %d", len(tc.want), len(got))
			}
			for i := range got {
				if math.Abs(got[i]-tc.want[i]) > 1e-9 {
					t.Fatalf("duration %d: expected %.3f, got %.3f", i, tc.want[i], got[i])
				}
			}
		})
	}
}

func newSegmenterFixture(t *testing.T) (storage.Repository, models.Video, models.Rendition) {
	t.Helper()
	repo, err := storage.NewJSONRepository(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	video, err := repo.CreateVideo(storage.CreateVideoParams{
		OwnerID:     "owner-1",
		Title:       "Segmenter Fixture",
		Visibility:  "public",
		SourceFile:  "/uploads/source.mp4",
		SourceSize:  2048,
		ContentType: "video/mp4",
	})
	if err != nil {
		t.Fatalf("create video: %v", err)
	}
	renditions, err := repo.CreateRenditions(video.ID, []storage.CreateRenditionParams{{
		Quality:         "360p",
		Width:           640,
		Height:          360,
		Bitrate:         700,
		Codec:           "h264",
		FrameRate:       30,
		SegmentDuration: 4,
	}})
	if err != nil {
		t.Fatalf("create renditions: %v", err)
	}
	return repo, video, renditions[0]
}

func writeChunkFiles(t *testing.T, payloads [][]byte) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 0, len(payloads))
	for i, payload := range payloads {
		path := filepath.Join(dir, "chunk-"+string(rune('a'+i))+".ts")
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			t.Fatalf("write chunk %d: %v", i, err)
		}
		paths = append(paths, path)
	}
	return paths
}

func TestStoreSegmentsPersistsChecksummedChunks(t *testing.T) {
	repo, video, rendition := newSegmenterFixture(t)

	payloads := [][]byte{
		[]byte("first chunk payload"),
		[]byte("second chunk with more bytes"),
		[]byte("tail"),
	}
	paths := writeChunkFiles(t, payloads)

	summary, err := storeSegments(context.Background(), repo, rendition.ID, paths, 10, 4)
	if err != nil {
		t.Fatalf("store segments: %v", err)
	}
	if summary.Count != 3 {
		t.Fatalf("expected 3 segments, got %d", summary.Count)
	}
	if math.Abs(summary.Duration-10) > 1e-9 {
		t.Fatalf("expected total duration 10, got %.3f", summary.Duration)
	}
	wantBytes := int64(len(payloads[0]) + len(payloads[1]) + len(payloads[2]))
	if summary.TotalBytes != wantBytes {
		t.Fatalf("expected %d total bytes, got %d", wantBytes, summary.TotalBytes)
	}

	segments, err := repo.ListSegments(rendition.ID)
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	if len(segments) != 3 {
		t.Fatalf("expected 3 stored segments, got %d", len(segments))
	}
	wantDurations := []float64{4, 4, 2}
	for i, segment := range segments {
		if segment.Index != i {
			t.Fatalf("segment %d: expected index %d, got %d", i, i, segment.Index)
		}
		sum := blake2b.Sum256(payloads[i])
		if segment.Checksum != hex.EncodeToString(sum[:]) {
			t.Fatalf("segment %d: checksum mismatch", i)
		}
		if math.Abs(segment.Duration-wantDurations[i]) > 1e-9 {
			t.Fatalf("segment %d: expected duration %.1f, got %.3f", i, wantDurations[i], segment.Duration)
		}
	}
	if math.Abs(segments[2].EndTime-10) > 1e-9 {
		t.Fatalf("expected final end time 10, got %.3f", segments[2].EndTime)
	}

	_, payload, err := repo.GetSegment(video.ID, rendition.Quality, 1)
	if err != nil {
		t.Fatalf("get segment: %v", err)
	}
	if string(payload) != string(payloads[1]) {
		t.Fatalf("unexpected segment payload: %q", payload)
	}
}

func TestStoreSegmentsReplacesEarlierAttempt(t *testing.T) {
	repo, _, rendition := newSegmenterFixture(t)

	first := writeChunkFiles(t, [][]byte{[]byte("stale-0"), []byte("stale-1"), []byte("stale-2")})
	if _, err := storeSegments(context.Background(), repo, rendition.ID, first, 10, 4); err != nil {
		t.Fatalf("first store: %v", err)
	}

	second := writeChunkFiles(t, [][]byte{[]byte("fresh-0"), []byte("fresh-1")})
	summary, err := storeSegments(context.Background(), repo, rendition.ID, second, 6, 4)
	if err != nil {
		t.Fatalf("second store: %v", err)
	}
	if summary.Count != 2 {
		t.Fatalf("expected 2 segments after replacement, got %d", summary.Count)
	}

	segments, err := repo.ListSegments(rendition.ID)
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 stored segments, got %d", len(segments))
	}
	sum := blake2b.Sum256([]byte("fresh-0"))
	if segments[0].Checksum != hex.EncodeToString(sum[:]) {
		t.Fatalf("replacement did not overwrite first segment")
	}
}

func TestStoreSegmentsRequiresChunks(t *testing.T) {
	repo, _, rendition := newSegmenterFixture(t)
	if _, err := storeSegments(context.Background(), repo, rendition.ID, nil, 10, 4); err == nil {
		t.Fatalf("expected error for empty chunk list")
	}
}
