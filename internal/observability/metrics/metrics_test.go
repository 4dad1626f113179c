package metrics

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestObserveRequestAndNormalizePath(t *testing.T) {
	recorder := New()

	type testCase struct {
		name     string
		method   string
		path     string
		status   int
		duration time.Duration
	}

	cases := []testCase{
		{
			name:     "root path",
			method:   "get",
			path:     "/",
			status:   200,
			duration: 50 * time.Millisecond,
		},
		{
			name:     "empty path",
			method:   "GET",
			path:     "",
			status:   200,
			duration: 25 * time.Millisecond,
		},
		{
			name:     "id segment",
			method:   "post",
			path:     "/videos/123",
			status:   201,
			duration: 100 * time.Millisecond,
		},
		{
			name:     "trailing slash and alpha id",
			method:   "POST",
			path:     "/videos/abc123def/",
			status:   201,
			duration: 50 * time.Millisecond,
		},
		{
			name:     "multi ids",
			method:   "PATCH",
			path:     "videos/abc/456/extra",
			status:   404,
			duration: 10 * time.Millisecond,
		},
	}

	expectedCounts := make(map[requestLabel]struct {
		count    uint64
		duration time.Duration
	})

	for _, tc := range cases {
		recorder.ObserveRequest(tc.method, tc.path, tc.status, tc.duration)

		label := requestLabel{
			method: strings.ToUpper(tc.method),
			path:   normalizePath(tc.path),
			status: fmt.Sprintf("%d", tc.status),
		}
		current := expectedCounts[label]
		current.count++
		current.duration += tc.duration
		expectedCounts[label] = current
	}

	if len(recorder.requestCount) != len(expectedCounts) {
		t.Fatalf("unexpected number of labels: got %d want %d", len(recorder.requestCount), len(expectedCounts))
	}

	for label, expected := range expectedCounts {
		gotCount := recorder.requestCount[label]
		gotDuration := recorder.requestDuration[label]
		if gotCount != expected.count {
			t.Errorf("count mismatch for %+v: got %d want %d", label, gotCount, expected.count)
		}
		if gotDuration != expected.duration {
			t.Errorf("duration mismatch for %+v: got %s want %s", label, gotDuration, expected.duration)
		}
	}

	labels := recorder.sortedRequestLabels()
	sortedExpected := make([]requestLabel, 0, len(expectedCounts))
	for label := range expectedCounts {
		sortedExpected = append(sortedExpected, label)
	}
	sort.Slice(sortedExpected, func(i, j int) bool {
		if sortedExpected[i].method != sortedExpected[j].method {
			return sortedExpected[i].method < sortedExpected[j].method
		}
		if sortedExpected[i].path != sortedExpected[j].path {
			return sortedExpected[i].path < sortedExpected[j].path
		}
		return sortedExpected[i].status < sortedExpected[j].status
	})

	if len(labels) != len(sortedExpected) {
		t.Fatalf("sorted labels length mismatch: got %d want %d", len(labels), len(sortedExpected))
	}

	for i := range labels {
		if labels[i] != sortedExpected[i] {
			t.Errorf("sorted label %d mismatch: got %+v want %+v", i, labels[i], sortedExpected[i])
		}
	}
}

func TestEncodeGaugeConcurrent(t *testing.T) {
	recorder := New()

	var wg sync.WaitGroup
	starts := 100
	completes := 150

	wg.Add(starts + completes)
	for i := 0; i < starts; i++ {
		go func() {
			defer wg.Done()
			recorder.TranscodeJobStarted("720p")
		}()
	}
	for i := 0; i < completes; i++ {
		go func() {
			defer wg.Done()
			recorder.TranscodeJobCompleted("720p")
		}()
	}

	wg.Wait()

	if active := recorder.ActiveEncodes(); active != 0 {
		t.Fatalf("active encodes should not go negative; got %d", active)
	}

	if count := recorder.transcodeEvents[TranscodeJobLabel{Quality: "720p", Status: "start"}]; count != uint64(starts) {
		t.Fatalf("unexpected start events: got %d want %d", count, starts)
	}
	if count := recorder.transcodeEvents[TranscodeJobLabel{Quality: "720p", Status: "complete"}]; count != uint64(completes) {
		t.Fatalf("unexpected complete events: got %d want %d", count, completes)
	}
}

func TestWriteAndHandlerOutput(t *testing.T) {
	recorder := New()

	recorder.ObserveRequest("GET", "/videos/abc123def", 200, 150*time.Millisecond)
	recorder.ObserveRequest("get", "/videos/456/", 200, 50*time.Millisecond)

	recorder.ObservePipelineEvent("submitted")
	recorder.ObservePipelineEvent("Video_Ready")
	recorder.ObservePipelineEvent("submitted")

	recorder.TranscodeJobStarted("720p")
	recorder.TranscodeJobCompleted("720p")
	recorder.TranscodeJobFailed("1080p")
	recorder.TranscodeJobStarted("480p")

	recorder.ObserveSegmentRead("720p")
	recorder.ObserveSegmentRead("720p")
	recorder.ObserveSegmentRead("240p")

	recorder.SetComponentHealth(" Datastore ", "OK")
	recorder.SetComponentHealth("queue", "Degraded")

	var buf bytes.Buffer
	recorder.Write(&buf)

	expected := `# HELP streamforge_http_requests_total Total number of HTTP requests processed by the API
# TYPE streamforge_http_requests_total counter
streamforge_http_requests_total{method="GET",path="/videos/:id",status="200"} 2
# HELP streamforge_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds
# TYPE streamforge_http_request_duration_seconds_sum counter
streamforge_http_request_duration_seconds_sum{method="GET",path="/videos/:id",status="200"} 0.200000
# HELP streamforge_http_request_duration_seconds_count Total number of observations for request durations
# TYPE streamforge_http_request_duration_seconds_count counter
streamforge_http_request_duration_seconds_count{method="GET",path="/videos/:id",status="200"} 2
# HELP streamforge_pipeline_events_total Pipeline lifecycle events by type
# TYPE streamforge_pipeline_events_total counter
streamforge_pipeline_events_total{event="submitted"} 2
streamforge_pipeline_events_total{event="video_ready"} 1
# HELP streamforge_transcode_jobs_total Transcode job events by rendition quality and status
# TYPE streamforge_transcode_jobs_total counter
streamforge_transcode_jobs_total{quality="1080p",status="fail"} 1
streamforge_transcode_jobs_total{quality="480p",status="start"} 1
streamforge_transcode_jobs_total{quality="720p",status="complete"} 1
streamforge_transcode_jobs_total{quality="720p",status="start"} 1
# HELP streamforge_active_encodes Current number of running encode jobs
# TYPE streamforge_active_encodes gauge
streamforge_active_encodes 1
# HELP streamforge_segment_reads_total Segments served to clients by rendition quality
# TYPE streamforge_segment_reads_total counter
streamforge_segment_reads_total{quality="240p"} 1
streamforge_segment_reads_total{quality="720p"} 2
# HELP streamforge_component_health Health status reported by pipeline dependencies (1=ok,0=disabled,-1=degraded)
# TYPE streamforge_component_health gauge
streamforge_component_health{component="datastore",status="ok"} 1.000000
streamforge_component_health{component="queue",status="degraded"} -1.000000`

	if diff := compareLines(buf.String(), expected); diff != "" {
		t.Fatalf("unexpected write output:\n%s", diff)
	}

	res := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(res, httptest.NewRequest("GET", "/metrics", nil))

	if contentType := res.Result().Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/plain") {
		t.Fatalf("unexpected content type: %s", contentType)
	}

	if diff := compareLines(res.Body.String(), expected); diff != "" {
		t.Fatalf("unexpected handler output:\n%s", diff)
	}
}

func TestResetClearsCounters(t *testing.T) {
	recorder := New()
	recorder.ObservePipelineEvent("submitted")
	recorder.TranscodeJobStarted("720p")
	recorder.ObserveSegmentRead("720p")

	recorder.Reset()

	if events := recorder.PipelineEventCounts(); len(events) != 0 {
		t.Fatalf("expected pipeline events cleared, got %v", events)
	}
	events, active := recorder.TranscodeJobCounts()
	if len(events) != 0 || active != 0 {
		t.Fatalf("expected transcode counters cleared, got %v active=%d", events, active)
	}
	if reads := recorder.SegmentReadCounts(); len(reads) != 0 {
		t.Fatalf("expected segment reads cleared, got %v", reads)
	}
}

func compareLines(actual, expected string) string {
	actualLines := strings.Split(strings.TrimSpace(actual), "\n")
	expectedLines := strings.Split(strings.TrimSpace(expected), "\n")
	if len(actualLines) != len(expectedLines) {
		return formatDiff(actualLines, expectedLines)
	}
	for i := range actualLines {
		if actualLines[i] != expectedLines[i] {
			return formatDiff(actualLines, expectedLines)
		}
	}
	return ""
}

func formatDiff(actual, expected []string) string {
	var b strings.Builder
	b.WriteString("expected\n")
	for _, line := range expected {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("got\n")
	for _, line := range actual {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
