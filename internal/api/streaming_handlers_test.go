package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"streamforge/internal/manifest"
	"streamforge/internal/media"
	"streamforge/internal/models"
	"streamforge/internal/storage"
)

// seedProbedVideo creates a video that already passed analysis so manifest
// and segment routes have dimensions and a duration to work with.
func seedProbedVideo(t *testing.T, repo storage.Repository) models.Video {
	t.Helper()
	video, err := repo.CreateVideo(storage.CreateVideoParams{
		OwnerID:     "alice",
		Title:       "Launch keynote",
		SourceFile:  "/srv/staging/keynote.mp4",
		SourceSize:  1 << 20,
		ContentType: "video/mp4",
	})
	if err != nil {
		t.Fatalf("CreateVideo error: %v", err)
	}
	video, err = repo.UpdateVideo(video.ID, storage.VideoUpdate{
		Probe: &models.SourceProbe{Duration: 10, Width: 1280, Height: 720, Codec: "h264", FrameRate: 30},
	})
	if err != nil {
		t.Fatalf("UpdateVideo error: %v", err)
	}
	return video
}

// seedRendition creates one rendition in the given status. Payloads are
// appended as 4s segments before the status flips because the store refuses
// appends on terminal renditions.
func seedRendition(t *testing.T, repo storage.Repository, videoID, quality, status string, payloads [][]byte) models.Rendition {
	t.Helper()
	spec, ok := media.PresetByQuality(quality)
	if !ok {
		t.Fatalf("unknown quality %s", quality)
	}
	created, err := repo.CreateRenditions(videoID, []storage.CreateRenditionParams{{
		Quality:         spec.Quality,
		Width:           spec.Width,
		Height:          spec.Height,
		Bitrate:         spec.Bitrate,
		Codec:           spec.Codec,
		FrameRate:       float64(spec.FPS),
		SegmentDuration: 4,
	}})
	if err != nil {
		t.Fatalf("CreateRenditions error: %v", err)
	}
	rendition := created[0]
	var total int64
	for i, payload := range payloads {
		if _, err := repo.AppendSegment(rendition.ID, storage.AppendSegmentParams{
			Index:     i,
			Duration:  4,
			StartTime: float64(i) * 4,
			EndTime:   float64(i)*4 + 4,
			Payload:   payload,
		}); err != nil {
			t.Fatalf("AppendSegment %d error: %v", i, err)
		}
		total += int64(len(payload))
	}
	update := storage.RenditionUpdate{Status: &status}
	if status == models.RenditionStatusReady {
		count := len(payloads)
		duration := float64(count) * 4
		update.SegmentCount = &count
		update.Duration = &duration
		update.TotalBytes = &total
	}
	rendition, err = repo.UpdateRendition(rendition.ID, update)
	if err != nil {
		t.Fatalf("UpdateRendition error: %v", err)
	}
	return rendition
}

func getVideoSubresource(t *testing.T, handler *Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	handler.VideoByID(rec, req)
	return rec
}

func decodeManifest(t *testing.T, rec *httptest.ResponseRecorder) manifest.Manifest {
	t.Helper()
	var built manifest.Manifest
	if err := json.Unmarshal(rec.Body.Bytes(), &built); err != nil {
		t.Fatalf("decode manifest: %v (%s)", err, rec.Body.String())
	}
	return built
}

func TestManifestIncludesOnlyReadyRenditions(t *testing.T) {
	handler, repo := newTestHandler(t)
	video := seedProbedVideo(t, repo)
	seedRendition(t, repo, video.ID, "360p", models.RenditionStatusReady, [][]byte{
		[]byte("chunk-0"), []byte("chunk-1"), []byte("chunk-2"),
	})
	seedRendition(t, repo, video.ID, "720p", models.RenditionStatusFailed, nil)

	rec := getVideoSubresource(t, handler, "/api/videos/"+video.ID+"/manifest", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	built := decodeManifest(t, rec)
	if built.VideoID != video.ID || built.Title != "Launch keynote" {
		t.Fatalf("unexpected manifest identity: %+v", built)
	}
	if built.Duration != 10 {
		t.Fatalf("expected duration 10, got %v", built.Duration)
	}
	if len(built.Qualities) != 1 || built.Qualities[0].Quality != "360p" {
		t.Fatalf("expected only the ready 360p rung, got %+v", built.Qualities)
	}
	if built.DefaultQuality != "360p" {
		t.Fatalf("expected default quality 360p, got %q", built.DefaultQuality)
	}
	rung := built.Qualities[0]
	if rung.SegmentCount != 3 || len(rung.Segments) != 3 {
		t.Fatalf("expected 3 segments, got count=%d entries=%d", rung.SegmentCount, len(rung.Segments))
	}
	for i, segment := range rung.Segments {
		if segment.Index != i {
			t.Fatalf("segment %d out of order: %+v", i, segment)
		}
		wantURL := fmt.Sprintf("/api/videos/%s/segments/360p/%d", video.ID, i)
		if segment.URL != wantURL {
			t.Fatalf("segment %d URL = %q, want %q", i, segment.URL, wantURL)
		}
	}
	wantBase := fmt.Sprintf("/api/videos/%s/segments", video.ID)
	if built.SegmentBaseURL != wantBase {
		t.Fatalf("segment base URL = %q, want %q", built.SegmentBaseURL, wantBase)
	}
}

func TestManifestNotFoundBeforeAnyRenditionReady(t *testing.T) {
	handler, repo := newTestHandler(t)
	video := seedProbedVideo(t, repo)
	seedRendition(t, repo, video.ID, "360p", models.RenditionStatusEncoding, nil)

	rec := getVideoSubresource(t, handler, "/api/videos/"+video.ID+"/manifest", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	if msg := decodeErrorBody(t, rec); !strings.Contains(msg, "no streamable renditions") {
		t.Fatalf("unexpected error message %q", msg)
	}
}

func TestManifestBandwidthHint(t *testing.T) {
	handler, repo := newTestHandler(t)
	video := seedProbedVideo(t, repo)
	seedRendition(t, repo, video.ID, "144p", models.RenditionStatusReady, [][]byte{[]byte("low")})
	seedRendition(t, repo, video.ID, "720p", models.RenditionStatusReady, [][]byte{[]byte("high")})

	rec := getVideoSubresource(t, handler, "/api/videos/"+video.ID+"/manifest", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	built := decodeManifest(t, rec)
	if got := built.AvailableQualities; len(got) != 2 || got[0] != "144p" || got[1] != "720p" {
		t.Fatalf("expected qualities ordered lowest first, got %v", got)
	}
	if built.DefaultQuality != "144p" {
		t.Fatalf("expected lowest rung without a hint, got %q", built.DefaultQuality)
	}

	rec = getVideoSubresource(t, handler, "/api/videos/"+video.ID+"/manifest?bandwidth=3000", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if built := decodeManifest(t, rec); built.DefaultQuality != "720p" {
		t.Fatalf("expected 3000 kbps to pick 720p, got %q", built.DefaultQuality)
	}

	for _, hint := range []string{"abc", "-5"} {
		rec = getVideoSubresource(t, handler, "/api/videos/"+video.ID+"/manifest?bandwidth="+hint, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("bandwidth=%s: expected status 400, got %d", hint, rec.Code)
		}
		if msg := decodeErrorBody(t, rec); !strings.Contains(msg, "bandwidth") {
			t.Fatalf("bandwidth=%s: unexpected error message %q", hint, msg)
		}
	}
}

func TestSegmentFullRead(t *testing.T) {
	handler, repo := newTestHandler(t)
	video := seedProbedVideo(t, repo)
	payload := []byte("segment-zero-bytes!")
	seedRendition(t, repo, video.ID, "360p", models.RenditionStatusReady, [][]byte{payload})

	rec := getVideoSubresource(t, handler, "/api/videos/"+video.ID+"/segments/360p/0", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	headers := map[string]string{
		"Content-Type":    "video/mp4",
		"Accept-Ranges":   "bytes",
		"Cache-Control":   "public, max-age=3600",
		"X-Segment-Index": "0",
		"X-Video-Quality": "360p",
		"Content-Length":  fmt.Sprintf("%d", len(payload)),
	}
	for key, want := range headers {
		if got := rec.Header().Get(key); got != want {
			t.Fatalf("header %s = %q, want %q", key, got, want)
		}
	}
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Fatalf("payload mismatch: got %q", rec.Body.Bytes())
	}
}

func TestSegmentRangeRequests(t *testing.T) {
	handler, repo := newTestHandler(t)
	video := seedProbedVideo(t, repo)
	payload := []byte("segment-zero-bytes!") // 19 bytes
	seedRendition(t, repo, video.ID, "360p", models.RenditionStatusReady, [][]byte{payload})
	path := "/api/videos/" + video.ID + "/segments/360p/0"

	cases := []struct {
		name        string
		rangeHeader string
		wantStatus  int
		wantRange   string
		wantPayload []byte
	}{
		{"closed range", "bytes=0-3", http.StatusPartialContent, "bytes 0-3/19", payload[0:4]},
		{"open range", "bytes=4-", http.StatusPartialContent, "bytes 4-18/19", payload[4:]},
		{"suffix range", "bytes=-4", http.StatusPartialContent, "bytes 15-18/19", payload[15:]},
		{"end clamped", "bytes=0-999", http.StatusPartialContent, "bytes 0-18/19", payload},
		{"start past end", "bytes=999-", http.StatusRequestedRangeNotSatisfiable, "bytes */19", nil},
		{"garbage spec", "bytes=abc", http.StatusRequestedRangeNotSatisfiable, "bytes */19", nil},
		{"unknown unit", "candy=0-1", http.StatusRequestedRangeNotSatisfiable, "bytes */19", nil},
		{"inverted range", "bytes=2-1", http.StatusRequestedRangeNotSatisfiable, "bytes */19", nil},
		{"multi range uses first", "bytes=0-1,4-5", http.StatusPartialContent, "bytes 0-1/19", payload[0:2]},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := getVideoSubresource(t, handler, path, map[string]string{"Range": tc.rangeHeader})
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.wantStatus, rec.Body.String())
			}
			if got := rec.Header().Get("Content-Range"); got != tc.wantRange {
				t.Fatalf("Content-Range = %q, want %q", got, tc.wantRange)
			}
			if tc.wantPayload == nil {
				return
			}
			if !bytes.Equal(rec.Body.Bytes(), tc.wantPayload) {
				t.Fatalf("payload = %q, want %q", rec.Body.Bytes(), tc.wantPayload)
			}
			wantLength := fmt.Sprintf("%d", len(tc.wantPayload))
			if got := rec.Header().Get("Content-Length"); got != wantLength {
				t.Fatalf("Content-Length = %q, want %q", got, wantLength)
			}
		})
	}
}

func TestSegmentNotFoundCases(t *testing.T) {
	handler, repo := newTestHandler(t)
	video := seedProbedVideo(t, repo)
	seedRendition(t, repo, video.ID, "360p", models.RenditionStatusReady, [][]byte{
		[]byte("chunk-0"), []byte("chunk-1"), []byte("chunk-2"),
	})
	seedRendition(t, repo, video.ID, "720p", models.RenditionStatusEncoding, nil)

	cases := []struct {
		name string
		path string
	}{
		{"unknown quality", "/segments/480p/0"},
		{"rendition not ready", "/segments/720p/0"},
		{"index past end", "/segments/360p/3"},
		{"negative index", "/segments/360p/-1"},
		{"non numeric index", "/segments/360p/first"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := getVideoSubresource(t, handler, "/api/videos/"+video.ID+tc.path, nil)
			if rec.Code != http.StatusNotFound {
				t.Fatalf("status = %d, want 404 (%s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestThumbnailServing(t *testing.T) {
	handler, repo := newTestHandler(t)
	video := seedProbedVideo(t, repo)
	if _, err := repo.PutThumbnails(video.ID, storage.PutThumbnailsParams{
		ContentType: "image/jpeg",
		Small:       []byte("small-poster"),
		Medium:      []byte("medium-poster"),
		Large:       []byte("large-poster"),
	}); err != nil {
		t.Fatalf("PutThumbnails error: %v", err)
	}

	rec := getVideoSubresource(t, handler, "/api/videos/"+video.ID+"/thumbnails/small", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "small-poster" {
		t.Fatalf("payload = %q, want small-poster", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/jpeg" {
		t.Fatalf("Content-Type = %q, want image/jpeg", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=86400" {
		t.Fatalf("Cache-Control = %q", got)
	}

	// Unknown sizes fall back to the large poster.
	rec = getVideoSubresource(t, handler, "/api/videos/"+video.ID+"/thumbnails/huge", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "large-poster" {
		t.Fatalf("expected large fallback, got %d %q", rec.Code, rec.Body.String())
	}

	bare := seedProbedVideo(t, repo)
	rec = getVideoSubresource(t, handler, "/api/videos/"+bare.ID+"/thumbnails/small", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for missing thumbnails, got %d", rec.Code)
	}
	if msg := decodeErrorBody(t, rec); !strings.Contains(msg, "thumbnails") {
		t.Fatalf("unexpected error message %q", msg)
	}
}

func TestStreamingRoutesRejectNonGet(t *testing.T) {
	handler, repo := newTestHandler(t)
	video := seedProbedVideo(t, repo)
	seedRendition(t, repo, video.ID, "360p", models.RenditionStatusReady, [][]byte{[]byte("chunk")})

	cases := []struct {
		name   string
		method string
		path   string
	}{
		{"manifest", http.MethodPost, "/api/videos/" + video.ID + "/manifest"},
		{"segment", http.MethodPut, "/api/videos/" + video.ID + "/segments/360p/0"},
		{"thumbnail", http.MethodDelete, "/api/videos/" + video.ID + "/thumbnails/small"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			rec := httptest.NewRecorder()
			handler.VideoByID(rec, req)
			if rec.Code != http.StatusMethodNotAllowed {
				t.Fatalf("status = %d, want 405", rec.Code)
			}
			if allow := rec.Header().Get("Allow"); allow != "GET" {
				t.Fatalf("Allow = %q, want GET", allow)
			}
		})
	}
}
