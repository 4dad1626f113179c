package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"streamforge/internal/media"
	"streamforge/internal/observability/metrics"
	"streamforge/internal/pipeline"
	"streamforge/internal/storage"
)

// defaultMaxUploadBytes caps multipart intake at 1 GiB unless configured.
const defaultMaxUploadBytes = 1 << 30

type Handler struct {
	Store     storage.Repository
	Pipeline  *pipeline.Orchestrator
	Toolchain media.Toolchain

	// SourceDir receives uploaded source files. Defaults to a directory
	// under os.TempDir when unset.
	SourceDir string

	// MaxUploadBytes bounds multipart request bodies via http.MaxBytesReader.
	MaxUploadBytes int64

	// ManifestBaseURL prefixes segment URLs in served manifests. Relative
	// URLs are emitted when empty.
	ManifestBaseURL string

	// APIToken, when set, must be presented as a bearer token on mutating
	// routes. Read-only routes stay open.
	APIToken string

	sourceDirOnce sync.Once
	sourceDir     string
}

func NewHandler(store storage.Repository, orchestrator *pipeline.Orchestrator) *Handler {
	return &Handler{Store: store, Pipeline: orchestrator}
}

func (h *Handler) maxUploadBytes() int64 {
	if h.MaxUploadBytes > 0 {
		return h.MaxUploadBytes
	}
	return defaultMaxUploadBytes
}

func (h *Handler) uploadSourceDir() string {
	h.sourceDirOnce.Do(func() {
		dir := strings.TrimSpace(h.SourceDir)
		if dir == "" {
			dir = filepath.Join(os.TempDir(), "streamforge-sources")
		}
		dir = filepath.Clean(dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			dir = filepath.Join(os.TempDir(), "streamforge-sources")
			_ = os.MkdirAll(dir, 0o755)
		}
		h.sourceDir = dir
	})
	if h.sourceDir == "" {
		return filepath.Join(os.TempDir(), "streamforge-sources")
	}
	return h.sourceDir
}

// Health reports per-dependency statuses and degrades the response code when
// any component check fails. Component states are mirrored into the metrics
// recorder so /metrics tracks the same view.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	components, status, code := h.componentHealth(r.Context())
	for _, component := range components {
		metrics.SetComponentHealth(component.Component, component.Status)
	}
	writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}
