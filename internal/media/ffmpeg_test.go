package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseProbeOutput(t *testing.T) {
	payload := []byte(`{
		"format": {"format_name": "mov,mp4,m4a", "duration": "10.5"},
		"streams": [
			{"codec_type": "audio", "codec_name": "aac"},
			{"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "avg_frame_rate": "30000/1001"}
		]
	}`)
	result, err := parseProbeOutput(payload)
	if err != nil {
		t.Fatalf("parse probe output: %v", err)
	}
	if result.Duration != 10.5 {
		t.Fatalf("expected duration 10.5, got %v", result.Duration)
	}
	if result.Width != 1920 || result.Height != 1080 {
		t.Fatalf("unexpected dimensions %dx%d", result.Width, result.Height)
	}
	if result.Codec != "h264" {
		t.Fatalf("unexpected codec %q", result.Codec)
	}
	if result.FrameRate < 29.9 || result.FrameRate > 30.0 {
		t.Fatalf("unexpected frame rate %v", result.FrameRate)
	}
}

func TestParseProbeOutputNoVideoStream(t *testing.T) {
	payload := []byte(`{
		"format": {"duration": "10"},
		"streams": [{"codec_type": "audio", "codec_name": "mp3"}]
	}`)
	_, err := parseProbeOutput(payload)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestParseProbeOutputCorruptCases(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{name: "malformed json", payload: `{"format":`},
		{
			name:    "missing duration",
			payload: `{"format": {}, "streams": [{"codec_type": "video", "codec_name": "h264", "width": 640, "height": 360}]}`,
		},
		{
			name:    "zero dimensions",
			payload: `{"format": {"duration": "5"}, "streams": [{"codec_type": "video", "codec_name": "h264"}]}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseProbeOutput([]byte(tc.payload))
			if !errors.Is(err, ErrCorruptInput) {
				t.Fatalf("expected ErrCorruptInput, got %v", err)
			}
		})
	}
}

func TestParseProbeOutputFallsBackToStreamDuration(t *testing.T) {
	payload := []byte(`{
		"format": {},
		"streams": [{"codec_type": "video", "codec_name": "vp9", "width": 640, "height": 360, "duration": "7.25", "r_frame_rate": "24/1"}]
	}`)
	result, err := parseProbeOutput(payload)
	if err != nil {
		t.Fatalf("parse probe output: %v", err)
	}
	if result.Duration != 7.25 {
		t.Fatalf("expected stream duration fallback, got %v", result.Duration)
	}
	if result.FrameRate != 24 {
		t.Fatalf("expected r_frame_rate fallback, got %v", result.FrameRate)
	}
}

func TestParseFrameRate(t *testing.T) {
	cases := []struct {
		raw      string
		expected float64
	}{
		{raw: "30/1", expected: 30},
		{raw: "24", expected: 24},
		{raw: "0/0", expected: 0},
		{raw: "", expected: 0},
		{raw: "abc", expected: 0},
		{raw: "30/0", expected: 0},
	}
	for _, tc := range cases {
		if got := parseFrameRate(tc.raw); got != tc.expected {
			t.Fatalf("parseFrameRate(%q): expected %v, got %v", tc.raw, tc.expected, got)
		}
	}
}

func TestBuildTranscodeArgs(t *testing.T) {
	spec, ok := PresetByQuality("720p")
	if !ok {
		t.Fatal("missing 720p preset")
	}
	args := buildTranscodeArgs("/in/src.mp4", spec, "/out/720p.mp4")
	joined := strings.Join(args, " ")
	for _, fragment := range []string{
		"-i /in/src.mp4",
		"-c:v libx264",
		"-profile:v high",
		"-preset slow",
		"-b:v 3000k",
		"-maxrate 3000k",
		"-bufsize 6000k",
		"-vf scale=1280:720",
		"-r 30",
		"-c:a aac",
	} {
		if !strings.Contains(joined, fragment) {
			t.Fatalf("expected args to contain %q, got %q", fragment, joined)
		}
	}
	if args[len(args)-1] != "/out/720p.mp4" {
		t.Fatalf("expected output path last, got %q", args[len(args)-1])
	}
}

func TestBuildSegmentArgs(t *testing.T) {
	args := buildSegmentArgs("/out/720p.mp4", 4, "/out/segments")
	joined := strings.Join(args, " ")
	for _, fragment := range []string{
		"-c copy",
		"-f segment",
		"-segment_time 4",
		"-reset_timestamps 1",
	} {
		if !strings.Contains(joined, fragment) {
			t.Fatalf("expected args to contain %q, got %q", fragment, joined)
		}
	}
	last := args[len(args)-1]
	if !strings.HasPrefix(last, "/out/segments") || !strings.Contains(last, "segment_") {
		t.Fatalf("unexpected segment pattern %q", last)
	}
}

func TestBuildThumbnailArgs(t *testing.T) {
	args := buildThumbnailArgs("/in/src.mp4", 1, 320, 180, "/tmp/thumb.jpg")
	joined := strings.Join(args, " ")
	for _, fragment := range []string{"-ss 1", "-frames:v 1", "-vf scale=320:180"} {
		if !strings.Contains(joined, fragment) {
			t.Fatalf("expected args to contain %q, got %q", fragment, joined)
		}
	}
}

func TestClassifyProbeFailure(t *testing.T) {
	base := errors.New("exit status 1")
	err := classifyProbeFailure([]byte("src.bin: Invalid data found when processing input\n"), base)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	err = classifyProbeFailure([]byte("moov atom not found\n"), base)
	if !errors.Is(err, ErrCorruptInput) {
		t.Fatalf("expected ErrCorruptInput, got %v", err)
	}
	err = classifyProbeFailure([]byte("permission denied\n"), base)
	if errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, ErrCorruptInput) {
		t.Fatalf("expected unclassified failure, got %v", err)
	}
}

func TestClassifyTranscodeFailure(t *testing.T) {
	base := errors.New("exit status 1")

	err := classifyTranscodeFailure(context.Background(), "720p", []byte("Unknown encoder 'libx264'\n"), base)
	var tErr *TranscodeError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TranscodeError, got %v", err)
	}
	if tErr.Transient {
		t.Fatal("unknown encoder must be permanent")
	}
	if tErr.Quality != "720p" {
		t.Fatalf("expected quality tag, got %q", tErr.Quality)
	}

	err = classifyTranscodeFailure(context.Background(), "480p", []byte("Conversion failed!\n"), base)
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TranscodeError, got %v", err)
	}
	if !tErr.Transient {
		t.Fatal("unclassified crash must stay retryable")
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err = classifyTranscodeFailure(cancelled, "360p", nil, cancelled.Err())
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TranscodeError, got %v", err)
	}
	if !tErr.Transient {
		t.Fatal("context cancellation must classify transient")
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(&TranscodeError{Transient: true, Err: errors.New("boom")}) != true {
		t.Fatal("transient TranscodeError must report transient")
	}
	if IsTransient(&TranscodeError{Transient: false, Err: errors.New("boom")}) {
		t.Fatal("permanent TranscodeError must not report transient")
	}
	if IsTransient(fmt.Errorf("probe: %w", ErrUnsupportedFormat)) {
		t.Fatal("unsupported format is never retryable")
	}
	if IsTransient(fmt.Errorf("probe: %w", ErrCorruptInput)) {
		t.Fatal("corrupt input is never retryable")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Fatal("deadline errors are retryable")
	}
}

func TestListSegmentFilesOrdersByIndex(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"segment_00002.mp4", "segment_00000.mp4", "segment_00001.mp4", "encoded.mp4"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}
	files, err := listSegmentFiles(dir)
	if err != nil {
		t.Fatalf("list segment files: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(files))
	}
	for i, path := range files {
		expected := fmt.Sprintf("segment_%05d.mp4", i)
		if filepath.Base(path) != expected {
			t.Fatalf("expected %s at position %d, got %s", expected, i, filepath.Base(path))
		}
	}
}

func TestListSegmentFilesEmptyDirFails(t *testing.T) {
	dir := t.TempDir()
	if _, err := listSegmentFiles(dir); err == nil {
		t.Fatal("expected error for empty segment dir")
	}
}
