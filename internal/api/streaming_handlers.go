package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"streamforge/internal/manifest"
	"streamforge/internal/models"
	"streamforge/internal/observability/metrics"
)

func (h *Handler) serveManifest(w http.ResponseWriter, r *http.Request, video models.Video) {
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
	segments := make(map[string][]models.Segment, len(renditions))
	for _, rendition := range renditions {
		if rendition.Status != models.RenditionStatusReady {
			continue
		}
		entries, err := h.Store.ListSegments(rendition.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		segments[rendition.ID] = entries
	}
	bandwidth := 0
	if hint := strings.TrimSpace(r.URL.Query().Get("bandwidth")); hint != "" {
		parsed, err := strconv.Atoi(hint)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid bandwidth hint %q", hint))
			return
		}
		bandwidth = parsed
	}
	built, err := manifest.Build(video, renditions, segments, h.ManifestBaseURL, bandwidth)
	if err != nil {
		if errors.Is(err, manifest.ErrNoReadyRenditions) {
			writeError(w, http.StatusNotFound, fmt.Errorf("no streamable renditions for video %s", video.ID))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, built)
}

func (h *Handler) serveSegment(w http.ResponseWriter, r *http.Request, video models.Video, quality, indexRaw string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	quality = strings.TrimSpace(quality)
	index, err := strconv.Atoi(strings.TrimSpace(indexRaw))
	if err != nil || index < 0 {
		writeError(w, http.StatusNotFound, fmt.Errorf("segment %s not found for %s/%s", indexRaw, video.ID, quality))
		return
	}
	rendition, ok := h.Store.RenditionByQuality(video.ID, quality)
	if !ok || rendition.Status != models.RenditionStatusReady {
		writeError(w, http.StatusNotFound, fmt.Errorf("rendition %s/%s not available", video.ID, quality))
		return
	}
	if index >= rendition.SegmentCount {
		writeError(w, http.StatusNotFound, fmt.Errorf("segment %d not found for %s/%s", index, video.ID, quality))
		return
	}
	_, payload, err := h.Store.GetSegment(video.ID, quality, index)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	total := int64(len(payload))
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("X-Segment-Index", strconv.Itoa(index))
	w.Header().Set("X-Video-Quality", quality)

	rangeHeader := strings.TrimSpace(r.Header.Get("Range"))
	if rangeHeader == "" {
		metrics.ObserveSegmentRead(quality)
		w.Header().Set("Content-Length", strconv.FormatInt(total, 10))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
		return
	}
	ranges, err := parseByteRanges(rangeHeader, total)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", total))
		writeError(w, http.StatusRequestedRangeNotSatisfiable, err)
		return
	}
	// Multi-range requests degrade to the first range.
	first := ranges[0]
	metrics.ObserveSegmentRead(quality)
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", first.start, first.end, total))
	w.Header().Set("Content-Length", strconv.FormatInt(first.end-first.start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(payload[first.start : first.end+1])
}

func (h *Handler) serveThumbnail(w http.ResponseWriter, r *http.Request, video models.Video, size string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	payload, contentType, err := h.Store.GetThumbnail(video.ID, size)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("thumbnails for video %s not found", video.ID))
		return
	}
	if strings.TrimSpace(contentType) == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

type byteRange struct {
	start int64
	end   int64
}

// parseByteRanges handles the bytes unit of RFC 7233: explicit (a-b), open
// (a-), and suffix (-n) forms. Malformed specs and range sets with no overlap
// against the payload both surface as errors the caller answers with 416.
func parseByteRanges(header string, size int64) ([]byteRange, error) {
	const prefix = "bytes="
	if !strings.HasPrefix(strings.ToLower(header), prefix) {
		return nil, fmt.Errorf("unsupported range unit in %q", header)
	}
	specs := strings.Split(header[len(prefix):], ",")
	ranges := make([]byteRange, 0, len(specs))
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		dash := strings.Index(spec, "-")
		if dash < 0 {
			return nil, fmt.Errorf("malformed range %q", spec)
		}
		startRaw := strings.TrimSpace(spec[:dash])
		endRaw := strings.TrimSpace(spec[dash+1:])
		if startRaw == "" {
			n, err := strconv.ParseInt(endRaw, 10, 64)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("malformed suffix range %q", spec)
			}
			if size == 0 {
				continue
			}
			start := size - n
			if start < 0 {
				start = 0
			}
			ranges = append(ranges, byteRange{start: start, end: size - 1})
			continue
		}
		start, err := strconv.ParseInt(startRaw, 10, 64)
		if err != nil || start < 0 {
			return nil, fmt.Errorf("malformed range %q", spec)
		}
		if start >= size {
			// Well-formed but past the payload; satisfiable specs may follow.
			continue
		}
		end := size - 1
		if endRaw != "" {
			parsed, err := strconv.ParseInt(endRaw, 10, 64)
			if err != nil || parsed < start {
				return nil, fmt.Errorf("malformed range %q", spec)
			}
			if parsed < end {
				end = parsed
			}
		}
		ranges = append(ranges, byteRange{start: start, end: end})
	}
	if len(ranges) == 0 {
		return nil, fmt.Errorf("unsatisfiable range %q", header)
	}
	return ranges, nil
}
