package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"streamforge/internal/models"
	"streamforge/internal/storage"
)

type createVideoRequest struct {
	OwnerID     string   `json:"ownerId"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Visibility  string   `json:"visibility"`

	// SourcePath points at a pre-staged file for JSON intake. Multipart
	// intake carries the bytes in the "file" part instead.
	SourcePath string `json:"sourcePath"`
}

type uploadedSource struct {
	tempPath     string
	size         int64
	originalName string
	contentType  string
}

// Videos handles the collection routes: newest-first listing and intake.
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter := storage.VideoFilter{
			OwnerID:    strings.TrimSpace(r.URL.Query().Get("owner")),
			Visibility: strings.TrimSpace(r.URL.Query().Get("visibility")),
		}
		writeJSON(w, http.StatusOK, h.Store.ListVideos(filter))
	case http.MethodPost:
		if !h.requireAuthorized(w, r) {
			return
		}
		contentType := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Type")))
		if strings.HasPrefix(contentType, "multipart/form-data") {
			h.createVideoFromMultipart(w, r)
			return
		}
		h.createVideoFromJSON(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// VideoByID routes the per-video subtree: detail, delete, submit, status,
// manifest, segments, and thumbnails.
func (h *Handler) VideoByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/videos/"), "/")
	if path == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("video id missing"))
		return
	}
	parts := strings.Split(path, "/")
	videoID := strings.TrimSpace(parts[0])
	video, ok := h.Store.GetVideo(videoID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", videoID))
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, video)
		case http.MethodDelete:
			if !h.requireAuthorized(w, r) {
				return
			}
			h.deleteVideo(w, video)
		default:
			w.Header().Set("Allow", "GET, DELETE")
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		}
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "submit":
		h.submitVideo(w, r, video)
	case len(parts) == 2 && parts[1] == "status":
		h.videoStatus(w, r, video)
	case len(parts) == 2 && parts[1] == "manifest":
		h.serveManifest(w, r, video)
	case len(parts) == 4 && parts[1] == "segments":
		h.serveSegment(w, r, video, parts[2], parts[3])
	case len(parts) == 3 && parts[1] == "thumbnails":
		h.serveThumbnail(w, r, video, parts[2])
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("no such resource"))
	}
}

func (h *Handler) createVideoFromJSON(w http.ResponseWriter, r *http.Request) {
	var req createVideoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}
	sourcePath := strings.TrimSpace(req.SourcePath)
	if sourcePath == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("sourcePath is required"))
		return
	}
	info, err := os.Stat(sourcePath)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("source file not accessible: %w", err))
		return
	}
	if info.IsDir() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("source path %s is a directory", sourcePath))
		return
	}
	video, status, err := h.createVideoEntry(req, sourcePath, info.Size(), sourceContentType(sourcePath))
	if err != nil {
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, video)
}

func (h *Handler) createVideoFromMultipart(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes())
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart payload"))
		return
	}
	req := createVideoRequest{}
	var source *uploadedSource
	discardTemp := func() {
		if source != nil && source.tempPath != "" {
			_ = os.Remove(source.tempPath)
		}
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			discardTemp()
			writeError(w, intakeErrorStatus(err), fmt.Errorf("read multipart data: %w", err))
			return
		}
		name := part.FormName()
		if name == "" {
			_ = part.Close()
			continue
		}
		if name == "file" {
			if source != nil {
				_ = part.Close()
				continue
			}
			saved, saveErr := h.saveMultipartFile(part)
			if saveErr != nil {
				writeError(w, intakeErrorStatus(saveErr), saveErr)
				return
			}
			source = saved
			continue
		}
		payload, readErr := io.ReadAll(part)
		_ = part.Close()
		if readErr != nil {
			discardTemp()
			writeError(w, intakeErrorStatus(readErr), fmt.Errorf("read form field: %w", readErr))
			return
		}
		value := strings.TrimSpace(string(payload))
		switch name {
		case "ownerId":
			req.OwnerID = value
		case "title":
			req.Title = value
		case "description":
			req.Description = value
		case "category":
			req.Category = value
		case "tags":
			req.Tags = splitTags(value)
		case "visibility":
			req.Visibility = value
		}
	}
	if source == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("file part is required"))
		return
	}
	finalPath, err := h.persistSource(source)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	video, status, err := h.createVideoEntry(req, finalPath, source.size, source.contentType)
	if err != nil {
		_ = os.Remove(finalPath)
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, video)
}

// intakeErrorStatus distinguishes the body-size cap from other intake
// failures so oversized uploads report 413 instead of a generic 400.
func intakeErrorStatus(err error) int {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// createVideoEntry persists the video row and hands it to the pipeline. The
// returned int is the HTTP status to report when err is non-nil.
func (h *Handler) createVideoEntry(req createVideoRequest, sourcePath string, sourceSize int64, contentType string) (models.Video, int, error) {
	params := storage.CreateVideoParams{
		OwnerID:     req.OwnerID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Tags:        req.Tags,
		Visibility:  req.Visibility,
		SourceFile:  sourcePath,
		SourceSize:  sourceSize,
		ContentType: contentType,
	}
	video, err := h.Store.CreateVideo(params)
	if err != nil {
		return models.Video{}, http.StatusBadRequest, err
	}
	if h.Pipeline != nil {
		// Intake succeeded either way: a submit failure lands on the video
		// row and the client can resubmit explicitly.
		_ = h.Pipeline.Submit(video.ID)
		if updated, ok := h.Store.GetVideo(video.ID); ok {
			video = updated
		}
	}
	return video, 0, nil
}

func (h *Handler) saveMultipartFile(part *multipart.Part) (*uploadedSource, error) {
	defer part.Close()
	dir := h.uploadSourceDir()
	tmp, err := os.CreateTemp(dir, "pending-source-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer tmp.Close()
	written, err := io.Copy(tmp, part)
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("save upload: %w", err)
	}
	return &uploadedSource{
		tempPath:     tmp.Name(),
		size:         written,
		originalName: part.FileName(),
		contentType:  part.Header.Get("Content-Type"),
	}, nil
}

func (h *Handler) persistSource(source *uploadedSource) (string, error) {
	if source == nil || source.tempPath == "" {
		return "", fmt.Errorf("source payload missing")
	}
	defer func() {
		if source.tempPath != "" {
			_ = os.Remove(source.tempPath)
		}
	}()
	ext := strings.ToLower(filepath.Ext(source.originalName))
	if ext == "" {
		ext = ".bin"
	}
	finalPath := filepath.Join(h.uploadSourceDir(), fmt.Sprintf("%s%s", uuid.NewString(), ext))
	if err := os.Rename(source.tempPath, finalPath); err != nil {
		return "", fmt.Errorf("store source file: %w", err)
	}
	source.tempPath = ""
	return finalPath, nil
}

func (h *Handler) deleteVideo(w http.ResponseWriter, video models.Video) {
	if h.Pipeline != nil {
		h.Pipeline.Cancel(video.ID)
	}
	if err := h.Store.DeleteVideo(video.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.removeSourceFile(video)
	w.WriteHeader(http.StatusNoContent)
}

// removeSourceFile deletes source bytes the handler persisted itself.
// Pre-staged files referenced by path stay untouched.
func (h *Handler) removeSourceFile(video models.Video) {
	source := strings.TrimSpace(video.SourceFile)
	if source == "" {
		return
	}
	if filepath.Dir(filepath.Clean(source)) != h.uploadSourceDir() {
		return
	}
	_ = os.Remove(source)
}

func (h *Handler) submitVideo(w http.ResponseWriter, r *http.Request, video models.Video) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if !h.requireAuthorized(w, r) {
		return
	}
	if h.Pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("pipeline unavailable"))
		return
	}
	if err := h.Pipeline.Submit(video.ID); err != nil {
		if errors.Is(err, storage.ErrPipelineActive) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if updated, ok := h.Store.GetVideo(video.ID); ok {
		video = updated
	}
	writeJSON(w, http.StatusAccepted, video)
}

type renditionStatusEntry struct {
	Quality         string `json:"quality"`
	Status          string `json:"status"`
	ProgressPercent int    `json:"progressPercent"`
	SegmentCount    int    `json:"segmentCount"`
	TotalBytes      int64  `json:"totalBytes"`
	Error           string `json:"error,omitempty"`
}

type videoStatusResponse struct {
	VideoID        string                 `json:"videoId"`
	Status         string                 `json:"status"`
	Error          string                 `json:"error,omitempty"`
	Renditions     []renditionStatusEntry `json:"renditions"`
	StreamingReady bool                   `json:"streamingReady"`
	ManifestURL    string                 `json:"manifestUrl,omitempty"`
}

func (h *Handler) videoStatus(w http.ResponseWriter, r *http.Request, video models.Video) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	renditions, err := h.Store.ListRenditions(video.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	response := videoStatusResponse{
		VideoID:    video.ID,
		Status:     video.Status,
		Error:      video.Error,
		Renditions: make([]renditionStatusEntry, 0, len(renditions)),
	}
	for _, rendition := range renditions {
		response.Renditions = append(response.Renditions, renditionStatusEntry{
			Quality:         rendition.Quality,
			Status:          rendition.Status,
			ProgressPercent: renditionProgress(rendition.Status),
			SegmentCount:    rendition.SegmentCount,
			TotalBytes:      rendition.TotalBytes,
			Error:           rendition.Error,
		})
		if rendition.Status == models.RenditionStatusReady {
			response.StreamingReady = true
		}
	}
	if response.StreamingReady {
		response.ManifestURL = fmt.Sprintf("/api/videos/%s/manifest", video.ID)
	}
	writeJSON(w, http.StatusOK, response)
}

// renditionProgress maps rendition statuses onto the coarse percentages
// reported by the status endpoint.
func renditionProgress(status string) int {
	switch status {
	case models.RenditionStatusEncoding:
		return 25
	case models.RenditionStatusSegmenting:
		return 60
	case models.RenditionStatusReady:
		return 100
	default:
		return 0
	}
}

// sourceContentType guesses a content type for pre-staged files. The mime
// database misses common video containers on minimal systems, so the usual
// suspects are pinned.
func sourceContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".avi":
		return "video/x-msvideo"
	}
	return mime.TypeByExtension(ext)
}

func splitTags(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
