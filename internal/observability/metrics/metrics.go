package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// TranscodeJobLabel identifies a transcode job outcome counter by the
// rendition quality being produced and the lifecycle status observed.
type TranscodeJobLabel struct {
	Quality string
	Status  string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP
// requests, pipeline lifecycle events, transcode job outcomes, segment
// delivery, and component health. It coordinates concurrent writers via a
// RWMutex while exposing a thread-safe gauge for active encode tracking.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	pipelineEvents  map[string]uint64
	transcodeEvents map[TranscodeJobLabel]uint64
	segmentReads    map[string]uint64
	healthValue     map[string]float64
	healthState     map[string]string
	activeEncodes   atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		pipelineEvents:  make(map[string]uint64),
		transcodeEvents: make(map[TranscodeJobLabel]uint64),
		segmentReads:    make(map[string]uint64),
		healthValue:     make(map[string]float64),
		healthState:     make(map[string]string),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObservePipelineEvent records a pipeline lifecycle event keyed by name
// (e.g. "submitted", "recovered", "video_ready", "video_failed").
func (r *Recorder) ObservePipelineEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.pipelineEvents[normalized]++
	r.mu.Unlock()
}

// TranscodeJobStarted records the beginning of a transcode job for the given
// rendition quality and increments the active encode gauge.
func (r *Recorder) TranscodeJobStarted(quality string) {
	r.recordTranscodeEvent(quality, "start")
	r.activeEncodes.Add(1)
}

// TranscodeJobCompleted records the completion of a transcode job and
// decrements the active encode gauge.
func (r *Recorder) TranscodeJobCompleted(quality string) {
	r.recordTranscodeEvent(quality, "complete")
	r.decrementGauge(&r.activeEncodes)
}

// TranscodeJobFailed records a failed transcode job and decrements the active
// encode gauge (without allowing it to go negative if the job never started).
func (r *Recorder) TranscodeJobFailed(quality string) {
	r.recordTranscodeEvent(quality, "fail")
	r.decrementGauge(&r.activeEncodes)
}

func (r *Recorder) recordTranscodeEvent(quality, status string) {
	label := TranscodeJobLabel{
		Quality: normalizeName(quality),
		Status:  normalizeName(status),
	}
	r.mu.Lock()
	r.transcodeEvents[label]++
	r.mu.Unlock()
}

// ObserveSegmentRead records one segment served to a client for the given
// rendition quality.
func (r *Recorder) ObserveSegmentRead(quality string) {
	normalized := normalizeName(quality)
	r.mu.Lock()
	r.segmentReads[normalized]++
	r.mu.Unlock()
}

// ActiveEncodes exposes the current gauge of concurrently running encodes.
func (r *Recorder) ActiveEncodes() int64 {
	return r.activeEncodes.Load()
}

// SetComponentHealth normalizes component identifiers, maps status strings to
// numeric health values, and stores both representations for export. It backs
// the datastore, toolchain, and queue rows of the health endpoint.
func (r *Recorder) SetComponentHealth(component, status string) {
	normalizedComponent := normalizeName(component)
	normalizedStatus := strings.ToLower(strings.TrimSpace(status))
	value := 0.0
	switch normalizedStatus {
	case "ok", "healthy":
		value = 1
	case "disabled":
		value = 0
	default:
		value = -1
	}
	r.mu.Lock()
	r.healthValue[normalizedComponent] = value
	r.healthState[normalizedComponent] = normalizedStatus
	r.mu.Unlock()
}

// PipelineEventCounts returns a copy of the pipeline event counters for
// testing and reporting purposes.
func (r *Recorder) PipelineEventCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make(map[string]uint64, len(r.pipelineEvents))
	for k, v := range r.pipelineEvents {
		events[k] = v
	}
	return events
}

// TranscodeJobCounts returns copies of transcode job event counters and the
// current active encode gauge value.
func (r *Recorder) TranscodeJobCounts() (events map[TranscodeJobLabel]uint64, active int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events = make(map[TranscodeJobLabel]uint64, len(r.transcodeEvents))
	for k, v := range r.transcodeEvents {
		events[k] = v
	}
	return events, r.activeEncodes.Load()
}

// SegmentReadCounts returns a copy of the segment delivery counters keyed by
// quality.
func (r *Recorder) SegmentReadCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reads := make(map[string]uint64, len(r.segmentReads))
	for k, v := range r.segmentReads {
		reads[k] = v
	}
	return reads
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.pipelineEvents = make(map[string]uint64)
	r.transcodeEvents = make(map[TranscodeJobLabel]uint64)
	r.segmentReads = make(map[string]uint64)
	r.healthValue = make(map[string]float64)
	r.healthState = make(map[string]string)
	r.activeEncodes.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	pipelineEvents := r.sortedPipelineEvents()
	transcodeEvents := r.sortedTranscodeJobLabels()
	segmentQualities := r.sortedSegmentQualities()
	components := r.sortedComponents()

	fmt.Fprintln(w, "# HELP streamforge_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE streamforge_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "streamforge_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP streamforge_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE streamforge_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "streamforge_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP streamforge_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE streamforge_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "streamforge_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP streamforge_pipeline_events_total Pipeline lifecycle events by type")
	fmt.Fprintln(w, "# TYPE streamforge_pipeline_events_total counter")
	for _, event := range pipelineEvents {
		value := r.pipelineEvents[event]
		fmt.Fprintf(w, "streamforge_pipeline_events_total{event=\"%s\"} %d\n", event, value)
	}

	fmt.Fprintln(w, "# HELP streamforge_transcode_jobs_total Transcode job events by rendition quality and status")
	fmt.Fprintln(w, "# TYPE streamforge_transcode_jobs_total counter")
	for _, label := range transcodeEvents {
		count := r.transcodeEvents[label]
		fmt.Fprintf(w, "streamforge_transcode_jobs_total{quality=\"%s\",status=\"%s\"} %d\n", label.Quality, label.Status, count)
	}

	fmt.Fprintln(w, "# HELP streamforge_active_encodes Current number of running encode jobs")
	fmt.Fprintln(w, "# TYPE streamforge_active_encodes gauge")
	fmt.Fprintf(w, "streamforge_active_encodes %d\n", r.activeEncodes.Load())

	fmt.Fprintln(w, "# HELP streamforge_segment_reads_total Segments served to clients by rendition quality")
	fmt.Fprintln(w, "# TYPE streamforge_segment_reads_total counter")
	for _, quality := range segmentQualities {
		count := r.segmentReads[quality]
		fmt.Fprintf(w, "streamforge_segment_reads_total{quality=\"%s\"} %d\n", quality, count)
	}

	fmt.Fprintln(w, "# HELP streamforge_component_health Health status reported by pipeline dependencies (1=ok,0=disabled,-1=degraded)")
	fmt.Fprintln(w, "# TYPE streamforge_component_health gauge")
	for _, component := range components {
		value := r.healthValue[component]
		status := r.healthState[component]
		fmt.Fprintf(w, "streamforge_component_health{component=\"%s\",status=\"%s\"} %f\n", component, status, value)
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedPipelineEvents() []string {
	events := make([]string, 0, len(r.pipelineEvents))
	for event := range r.pipelineEvents {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func (r *Recorder) sortedTranscodeJobLabels() []TranscodeJobLabel {
	labels := make([]TranscodeJobLabel, 0, len(r.transcodeEvents))
	for label := range r.transcodeEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Quality != labels[j].Quality {
			return labels[i].Quality < labels[j].Quality
		}
		return labels[i].Status < labels[j].Status
	})
	return labels
}

func (r *Recorder) sortedSegmentQualities() []string {
	qualities := make([]string, 0, len(r.segmentReads))
	for quality := range r.segmentReads {
		qualities = append(qualities, quality)
	}
	sort.Strings(qualities)
	return qualities
}

func (r *Recorder) sortedComponents() []string {
	components := make([]string, 0, len(r.healthValue))
	for component := range r.healthValue {
		components = append(components, component)
	}
	sort.Strings(components)
	return components
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObservePipelineEvent records a pipeline event on the default recorder.
func ObservePipelineEvent(event string) {
	defaultRecorder.ObservePipelineEvent(event)
}

// TranscodeJobStarted records the start of a transcode job on the default recorder.
func TranscodeJobStarted(quality string) {
	defaultRecorder.TranscodeJobStarted(quality)
}

// TranscodeJobCompleted records the completion of a transcode job on the default recorder.
func TranscodeJobCompleted(quality string) {
	defaultRecorder.TranscodeJobCompleted(quality)
}

// TranscodeJobFailed records a failed transcode job on the default recorder.
func TranscodeJobFailed(quality string) {
	defaultRecorder.TranscodeJobFailed(quality)
}

// ObserveSegmentRead records a served segment on the default recorder.
func ObserveSegmentRead(quality string) {
	defaultRecorder.ObserveSegmentRead(quality)
}

// SetComponentHealth updates component health on the default recorder.
func SetComponentHealth(component, status string) {
	defaultRecorder.SetComponentHealth(component, status)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
