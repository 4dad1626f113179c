package storage

import (
	"bytes"
	"errors"
	"testing"

	"streamforge/internal/models"
)

// RepositoryFactory constructs a repository backed by either the JSON store
// or the Postgres implementation so the same scenarios assert both drivers.
type RepositoryFactory func(t *testing.T, opts ...Option) (Repository, func(), error)

func runRepository(t *testing.T, factory RepositoryFactory, opts ...Option) Repository {
	t.Helper()
	if factory == nil {
		t.Fatal("repository factory is required")
	}
	repo, cleanup, err := factory(t, opts...)
	if errors.Is(err, ErrPostgresUnavailable) {
		t.Skip("postgres repository unavailable")
	}
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	if repo == nil {
		t.Fatal("repository factory returned nil repository")
	}
	if cleanup != nil {
		t.Cleanup(cleanup)
	}
	return repo
}

func requireAvailable(t *testing.T, err error, operation string) {
	t.Helper()
	if errors.Is(err, ErrPostgresUnavailable) {
		t.Skip("postgres repository unavailable")
	}
	if err != nil {
		t.Fatalf("%s: %v", operation, err)
	}
}

func createTestVideo(t *testing.T, repo Repository, title string) models.Video {
	t.Helper()
	video, err := repo.CreateVideo(CreateVideoParams{
		OwnerID:     "owner-1",
		Title:       title,
		SourceFile:  "/uploads/source.mp4",
		SourceSize:  2048,
		ContentType: "video/mp4",
	})
	requireAvailable(t, err, "create video")
	return video
}

func createTestRendition(t *testing.T, repo Repository, videoID, quality string, height int) models.Rendition {
	t.Helper()
	renditions, err := repo.CreateRenditions(videoID, []CreateRenditionParams{{
		Quality: quality,
		Width:   height * 16 / 9,
		Height:  height,
		Bitrate: height * 2,
		Codec:   "h264",
	}})
	requireAvailable(t, err, "create rendition")
	if len(renditions) != 1 {
		t.Fatalf("expected one rendition, got %d", len(renditions))
	}
	return renditions[0]
}

// RunRepositoryVideoLifecycle walks a video through create, update, list, and
// delete against the provided repository.
func RunRepositoryVideoLifecycle(t *testing.T, factory RepositoryFactory) {
	repo := runRepository(t, factory)

	video := createTestVideo(t, repo, "Launch Recap")
	if video.Status != models.VideoStatusUploaded {
		t.Fatalf("expected uploaded status, got %q", video.Status)
	}
	if video.Visibility != models.VisibilityPublic {
		t.Fatalf("expected default public visibility, got %q", video.Visibility)
	}

	fetched, ok := repo.GetVideo(video.ID)
	if !ok {
		t.Fatalf("expected video %s to exist", video.ID)
	}
	if fetched.Title != "Launch Recap" {
		t.Fatalf("expected title to round-trip, got %q", fetched.Title)
	}

	title := "Launch Recap (final)"
	description := "Full event recording."
	visibility := models.VisibilityUnlisted
	updated, err := repo.UpdateVideo(video.ID, VideoUpdate{
		Title:       &title,
		Description: &description,
		Visibility:  &visibility,
		Tags:        []string{"launch", "Launch", "event"},
	})
	requireAvailable(t, err, "update video")
	if updated.Title != title || updated.Description != description {
		t.Fatalf("expected update to apply, got %+v", updated)
	}
	if updated.Visibility != models.VisibilityUnlisted {
		t.Fatalf("expected unlisted visibility, got %q", updated.Visibility)
	}
	if len(updated.Tags) != 2 {
		t.Fatalf("expected duplicate tags to collapse, got %v", updated.Tags)
	}

	listed := repo.ListVideos(VideoFilter{OwnerID: "owner-1"})
	if len(listed) != 1 || listed[0].ID != video.ID {
		t.Fatalf("expected owner filter to return the video, got %+v", listed)
	}
	if hidden := repo.ListVideos(VideoFilter{OwnerID: "someone-else"}); len(hidden) != 0 {
		t.Fatalf("expected no videos for other owner, got %d", len(hidden))
	}

	if err := repo.DeleteVideo(video.ID); err != nil {
		t.Fatalf("DeleteVideo: %v", err)
	}
	if _, ok := repo.GetVideo(video.ID); ok {
		t.Fatalf("expected video %s to be gone", video.ID)
	}
	if err := repo.DeleteVideo(video.ID); err == nil {
		t.Fatalf("expected delete of missing video to fail")
	}
}

// RunRepositoryPipelineClaim exercises the compare-and-set lease that guards
// a video against concurrent pipeline runs.
func RunRepositoryPipelineClaim(t *testing.T, factory RepositoryFactory) {
	repo := runRepository(t, factory)

	video := createTestVideo(t, repo, "Claim Target")
	allowed := []string{
		models.VideoStatusUploaded,
		models.VideoStatusReady,
		models.VideoStatusPartiallyReady,
		models.VideoStatusFailed,
	}

	claimed, err := repo.ClaimVideo(video.ID, allowed, models.VideoStatusAnalyzing)
	requireAvailable(t, err, "claim video")
	if claimed.Status != models.VideoStatusAnalyzing {
		t.Fatalf("expected analyzing status, got %q", claimed.Status)
	}

	if _, err := repo.ClaimVideo(video.ID, allowed, models.VideoStatusAnalyzing); !errors.Is(err, ErrPipelineActive) {
		t.Fatalf("expected ErrPipelineActive for second claim, got %v", err)
	}

	if _, err := repo.ClaimVideo("missing", allowed, models.VideoStatusAnalyzing); err == nil || errors.Is(err, ErrPipelineActive) {
		t.Fatalf("expected not-found error for missing video, got %v", err)
	}

	// A terminal video can be claimed again for reprocessing, and the claim
	// drops renditions left over from the finished run.
	status := models.VideoStatusReady
	if _, err := repo.UpdateVideo(video.ID, VideoUpdate{Status: &status}); err != nil {
		t.Fatalf("UpdateVideo: %v", err)
	}
	stale := createTestRendition(t, repo, video.ID, "480p", 480)

	reclaimed, err := repo.ClaimVideo(video.ID, allowed, models.VideoStatusAnalyzing)
	requireAvailable(t, err, "reclaim video")
	if reclaimed.Status != models.VideoStatusAnalyzing {
		t.Fatalf("expected analyzing after reclaim, got %q", reclaimed.Status)
	}
	if _, ok := repo.GetRendition(stale.ID); ok {
		t.Fatalf("expected stale rendition %s to be dropped by reclaim", stale.ID)
	}
	renditions, err := repo.ListRenditions(video.ID)
	requireAvailable(t, err, "list renditions")
	if len(renditions) != 0 {
		t.Fatalf("expected no renditions after reclaim, got %d", len(renditions))
	}
}

// RunRepositorySegmentStreaming appends a short chunk sequence and reads it
// back through the serving-path accessors.
func RunRepositorySegmentStreaming(t *testing.T, factory RepositoryFactory) {
	repo := runRepository(t, factory)

	video := createTestVideo(t, repo, "Segmented")
	rendition := createTestRendition(t, repo, video.ID, "720p", 720)

	payloads := [][]byte{
		bytes.Repeat([]byte{0xAA}, 256),
		bytes.Repeat([]byte{0xBB}, 512),
		bytes.Repeat([]byte{0xCC}, 128),
	}
	for i, payload := range payloads {
		segment, err := repo.AppendSegment(rendition.ID, AppendSegmentParams{
			Index:     i,
			Duration:  4,
			StartTime: float64(i) * 4,
			EndTime:   float64(i)*4 + 4,
			Payload:   payload,
		})
		requireAvailable(t, err, "append segment")
		if segment.Index != i {
			t.Fatalf("expected index %d, got %d", i, segment.Index)
		}
		if segment.SizeBytes != int64(len(payload)) {
			t.Fatalf("expected size %d, got %d", len(payload), segment.SizeBytes)
		}
		if segment.Checksum == "" {
			t.Fatalf("expected computed checksum for segment %d", i)
		}
	}

	// Out-of-order appends are rejected.
	if _, err := repo.AppendSegment(rendition.ID, AppendSegmentParams{Index: 5, Payload: []byte{1}}); !errors.Is(err, ErrSegmentSequence) {
		t.Fatalf("expected ErrSegmentSequence, got %v", err)
	}

	segments, err := repo.ListSegments(rendition.ID)
	requireAvailable(t, err, "list segments")
	if len(segments) != len(payloads) {
		t.Fatalf("expected %d segments, got %d", len(payloads), len(segments))
	}
	for i, segment := range segments {
		if segment.Index != i {
			t.Fatalf("expected contiguous indices, got %d at position %d", segment.Index, i)
		}
	}

	segment, payload, err := repo.GetSegment(video.ID, "720p", 1)
	requireAvailable(t, err, "get segment")
	if !bytes.Equal(payload, payloads[1]) {
		t.Fatalf("expected payload round-trip for segment 1")
	}
	if segment.Checksum != segments[1].Checksum {
		t.Fatalf("expected stored checksum to match listing")
	}

	if _, _, err := repo.GetSegment(video.ID, "720p", 99); err == nil {
		t.Fatalf("expected missing segment error")
	}
	if _, _, err := repo.GetSegment(video.ID, "1080p", 0); err == nil {
		t.Fatalf("expected missing rendition error")
	}

	// Once the rendition is terminal its segment set is frozen.
	status := models.RenditionStatusReady
	count := len(payloads)
	if _, err := repo.UpdateRendition(rendition.ID, RenditionUpdate{Status: &status, SegmentCount: &count}); err != nil {
		t.Fatalf("UpdateRendition: %v", err)
	}
	if _, err := repo.AppendSegment(rendition.ID, AppendSegmentParams{Index: 3, Payload: []byte{1}}); !errors.Is(err, ErrRenditionClosed) {
		t.Fatalf("expected ErrRenditionClosed, got %v", err)
	}

	// ClearSegments resets the sequence so a retry starts from zero.
	pending := models.RenditionStatusSegmenting
	if _, err := repo.UpdateRendition(rendition.ID, RenditionUpdate{Status: &pending}); err != nil {
		t.Fatalf("UpdateRendition: %v", err)
	}
	if err := repo.ClearSegments(rendition.ID); err != nil {
		t.Fatalf("ClearSegments: %v", err)
	}
	segments, err = repo.ListSegments(rendition.ID)
	requireAvailable(t, err, "list segments after clear")
	if len(segments) != 0 {
		t.Fatalf("expected empty segment list after clear, got %d", len(segments))
	}
	if _, err := repo.AppendSegment(rendition.ID, AppendSegmentParams{Index: 0, Payload: []byte{0xDD}}); err != nil {
		t.Fatalf("append after clear: %v", err)
	}
}

// RunRepositoryThumbnailLifecycle stores a poster set and reads each size
// back, including the fallback for unknown labels.
func RunRepositoryThumbnailLifecycle(t *testing.T, factory RepositoryFactory) {
	repo := runRepository(t, factory)

	video := createTestVideo(t, repo, "Poster Frames")

	if _, err := repo.PutThumbnails(video.ID, PutThumbnailsParams{Small: []byte{1}}); err == nil {
		t.Fatalf("expected incomplete thumbnail payloads to fail")
	}
	if _, err := repo.PutThumbnails("missing", PutThumbnailsParams{
		Small: []byte{1}, Medium: []byte{2}, Large: []byte{3},
	}); err == nil {
		t.Fatalf("expected missing video error")
	}

	set, err := repo.PutThumbnails(video.ID, PutThumbnailsParams{
		ContentType: "image/jpeg",
		Small:       bytes.Repeat([]byte{0x01}, 10),
		Medium:      bytes.Repeat([]byte{0x02}, 20),
		Large:       bytes.Repeat([]byte{0x03}, 30),
	})
	requireAvailable(t, err, "put thumbnails")
	if set.SmallBytes != 10 || set.MediumBytes != 20 || set.LargeBytes != 30 {
		t.Fatalf("expected recorded sizes, got %+v", set)
	}

	payload, contentType, err := repo.GetThumbnail(video.ID, models.ThumbnailSizeMedium)
	requireAvailable(t, err, "get medium thumbnail")
	if contentType != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %q", contentType)
	}
	if len(payload) != 20 {
		t.Fatalf("expected 20 byte medium payload, got %d", len(payload))
	}

	fallback, _, err := repo.GetThumbnail(video.ID, "gigantic")
	requireAvailable(t, err, "get fallback thumbnail")
	if len(fallback) != 30 {
		t.Fatalf("expected unknown size to fall back to large, got %d bytes", len(fallback))
	}

	if _, _, err := repo.GetThumbnail("missing", models.ThumbnailSizeSmall); err == nil {
		t.Fatalf("expected missing thumbnails error")
	}
}

// RunRepositoryCascadeDelete checks that removing a video takes its
// renditions, segments, and thumbnails with it.
func RunRepositoryCascadeDelete(t *testing.T, factory RepositoryFactory) {
	repo := runRepository(t, factory)

	video := createTestVideo(t, repo, "Doomed")
	rendition := createTestRendition(t, repo, video.ID, "360p", 360)
	if _, err := repo.AppendSegment(rendition.ID, AppendSegmentParams{Index: 0, Payload: []byte{0xEE, 0xEF}}); err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}
	if _, err := repo.PutThumbnails(video.ID, PutThumbnailsParams{
		Small: []byte{1}, Medium: []byte{2}, Large: []byte{3},
	}); err != nil {
		t.Fatalf("PutThumbnails: %v", err)
	}

	if err := repo.DeleteVideo(video.ID); err != nil {
		t.Fatalf("DeleteVideo: %v", err)
	}

	if _, ok := repo.GetRendition(rendition.ID); ok {
		t.Fatalf("expected rendition to be removed with video")
	}
	if _, _, err := repo.GetSegment(video.ID, "360p", 0); err == nil {
		t.Fatalf("expected segment lookup to fail after delete")
	}
	if _, _, err := repo.GetThumbnail(video.ID, models.ThumbnailSizeSmall); err == nil {
		t.Fatalf("expected thumbnail lookup to fail after delete")
	}
}

// RunRepositoryStuckVideoRecovery verifies the restart sweep sees videos left
// in intermediate pipeline states.
func RunRepositoryStuckVideoRecovery(t *testing.T, factory RepositoryFactory) {
	repo := runRepository(t, factory)

	analyzing := createTestVideo(t, repo, "Interrupted Analysis")
	processing := createTestVideo(t, repo, "Interrupted Processing")
	done := createTestVideo(t, repo, "Finished")

	for id, status := range map[string]string{
		analyzing.ID:  models.VideoStatusAnalyzing,
		processing.ID: models.VideoStatusProcessing,
		done.ID:       models.VideoStatusReady,
	} {
		update := status
		if _, err := repo.UpdateVideo(id, VideoUpdate{Status: &update}); err != nil {
			t.Fatalf("UpdateVideo %s: %v", id, err)
		}
	}

	stuck := repo.StuckVideos()
	if len(stuck) != 2 {
		t.Fatalf("expected two stuck videos, got %d", len(stuck))
	}
	seen := map[string]bool{}
	for _, video := range stuck {
		seen[video.ID] = true
	}
	if !seen[analyzing.ID] || !seen[processing.ID] {
		t.Fatalf("expected analyzing and processing videos, got %v", seen)
	}
}
