package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	defaultFFmpegBin  = "ffmpeg"
	defaultFFprobeBin = "ffprobe"

	segmentFilePattern = "segment_%05d.mp4"
	audioBitrate       = "128k"

	// stderrTailLimit bounds how much process output is retained for error
	// classification and messages.
	stderrTailLimit = 8 * 1024
)

// FFmpegToolchain implements Toolchain by shelling out to ffmpeg and ffprobe.
type FFmpegToolchain struct {
	ffmpegPath  string
	ffprobePath string
	logger      *slog.Logger
}

// NewFFmpegToolchain builds a toolchain around the given binaries. Empty
// paths fall back to resolving ffmpeg/ffprobe on PATH.
func NewFFmpegToolchain(ffmpegPath, ffprobePath string, logger *slog.Logger) *FFmpegToolchain {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = defaultFFmpegBin
	}
	if strings.TrimSpace(ffprobePath) == "" {
		ffprobePath = defaultFFprobeBin
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegToolchain{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		logger:      logger,
	}
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

type ffprobeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	Duration     string `json:"duration"`
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

// Probe runs ffprobe with JSON output and maps its findings onto a
// ProbeResult. Containers ffprobe cannot identify surface as
// ErrUnsupportedFormat; recognised containers with unusable metadata surface
// as ErrCorruptInput.
func (t *FFmpegToolchain) Probe(ctx context.Context, sourcePath string) (ProbeResult, error) {
	args := buildProbeArgs(sourcePath)
	stdout, stderr, err := t.run(ctx, t.ffprobePath, args)
	if err != nil {
		if ctx.Err() != nil {
			return ProbeResult{}, ctx.Err()
		}
		return ProbeResult{}, classifyProbeFailure(stderr, err)
	}
	return parseProbeOutput(stdout)
}

func parseProbeOutput(stdout []byte) (ProbeResult, error) {
	var parsed ffprobeOutput
	if err := json.Unmarshal(stdout, &parsed); err != nil {
		return ProbeResult{}, fmt.Errorf("%w: decode probe output: %v", ErrCorruptInput, err)
	}

	video, found := firstVideoStream(parsed.Streams)
	if !found {
		return ProbeResult{}, fmt.Errorf("%w: no video stream", ErrUnsupportedFormat)
	}
	if video.Width <= 0 || video.Height <= 0 {
		return ProbeResult{}, fmt.Errorf("%w: missing video dimensions", ErrCorruptInput)
	}

	duration := parseProbeDuration(parsed.Format.Duration, video.Duration)
	if duration <= 0 {
		return ProbeResult{}, fmt.Errorf("%w: missing duration", ErrCorruptInput)
	}

	frameRate := parseFrameRate(video.AvgFrameRate)
	if frameRate <= 0 {
		frameRate = parseFrameRate(video.RFrameRate)
	}

	return ProbeResult{
		Duration:  duration,
		Width:     video.Width,
		Height:    video.Height,
		Codec:     video.CodecName,
		FrameRate: frameRate,
	}, nil
}

// Transcode encodes sourcePath into one rendition at outputPath. Audio is
// re-encoded to AAC so every rendition is self-contained regardless of the
// source track.
func (t *FFmpegToolchain) Transcode(ctx context.Context, sourcePath string, spec QualitySpec, outputPath string) error {
	args := buildTranscodeArgs(sourcePath, spec, outputPath)
	_, stderr, err := t.run(ctx, t.ffmpegPath, args)
	if err != nil {
		return classifyTranscodeFailure(ctx, spec.Quality, stderr, err)
	}

	info, statErr := os.Stat(outputPath)
	if statErr != nil {
		return &TranscodeError{Quality: spec.Quality, Transient: true, Err: fmt.Errorf("stat output: %w", statErr)}
	}
	if info.Size() == 0 {
		return &TranscodeError{Quality: spec.Quality, Transient: false, Err: fmt.Errorf("encoder produced empty output")}
	}
	return nil
}

// Segment stream-copies encodedPath into fixed-duration chunks under
// outputDir and returns the chunk paths ordered by index.
func (t *FFmpegToolchain) Segment(ctx context.Context, encodedPath string, segmentSeconds float64, outputDir string) ([]string, error) {
	if segmentSeconds <= 0 {
		return nil, fmt.Errorf("segment duration must be positive")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create segment dir: %w", err)
	}
	args := buildSegmentArgs(encodedPath, segmentSeconds, outputDir)
	_, stderr, err := t.run(ctx, t.ffmpegPath, args)
	if err != nil {
		return nil, classifyTranscodeFailure(ctx, "", stderr, err)
	}
	return listSegmentFiles(outputDir)
}

// Thumbnails captures one frame at offsetSeconds and scales it to the three
// poster sizes as JPEG.
func (t *FFmpegToolchain) Thumbnails(ctx context.Context, sourcePath string, offsetSeconds float64) (ThumbnailSet, error) {
	dir, err := os.MkdirTemp("", "thumbs-*")
	if err != nil {
		return ThumbnailSet{}, fmt.Errorf("create thumbnail dir: %w", err)
	}
	defer os.RemoveAll(dir)

	set := ThumbnailSet{ContentType: "image/jpeg"}
	captures := []struct {
		width  int
		height int
		dest   *[]byte
	}{
		{320, 180, &set.Small},
		{480, 270, &set.Medium},
		{640, 360, &set.Large},
	}
	for _, capture := range captures {
		outPath := filepath.Join(dir, fmt.Sprintf("thumb_%dx%d.jpg", capture.width, capture.height))
		args := buildThumbnailArgs(sourcePath, offsetSeconds, capture.width, capture.height, outPath)
		if _, stderr, runErr := t.run(ctx, t.ffmpegPath, args); runErr != nil {
			if ctx.Err() != nil {
				return ThumbnailSet{}, ctx.Err()
			}
			return ThumbnailSet{}, fmt.Errorf("capture %dx%d thumbnail: %w: %s", capture.width, capture.height, runErr, stderrTail(stderr))
		}
		payload, readErr := os.ReadFile(outPath)
		if readErr != nil {
			return ThumbnailSet{}, fmt.Errorf("read thumbnail: %w", readErr)
		}
		*capture.dest = payload
	}
	return set, nil
}

// Check confirms both binaries respond to -version.
func (t *FFmpegToolchain) Check(ctx context.Context) error {
	for _, bin := range []string{t.ffmpegPath, t.ffprobePath} {
		if _, _, err := t.run(ctx, bin, []string{"-version"}); err != nil {
			return fmt.Errorf("%s unavailable: %w", filepath.Base(bin), err)
		}
	}
	return nil
}

func (t *FFmpegToolchain) run(ctx context.Context, bin string, args []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout bytes.Buffer
	stderr := &processLog{logger: t.logger, prefix: filepath.Base(bin), limit: stderrTailLimit}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	err := cmd.Run()
	stderr.flush()
	return stdout.Bytes(), stderr.tail(), err
}

// processLog splits process output into lines for debug logging while
// retaining a bounded tail for error messages.
type processLog struct {
	logger *slog.Logger
	prefix string
	limit  int

	mu      sync.Mutex
	pending []byte
	kept    []byte
}

func (w *processLog) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, p...)
	for {
		idx := bytes.IndexByte(w.pending, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSpace(string(w.pending[:idx]))
		w.pending = w.pending[idx+1:]
		w.recordLocked(line)
	}
	return len(p), nil
}

func (w *processLog) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if line := strings.TrimSpace(string(w.pending)); line != "" {
		w.recordLocked(line)
	}
	w.pending = nil
}

func (w *processLog) recordLocked(line string) {
	if line == "" {
		return
	}
	if w.logger != nil {
		w.logger.Debug("media process output", "bin", w.prefix, "line", line)
	}
	w.kept = append(w.kept, line...)
	w.kept = append(w.kept, '\n')
	if w.limit > 0 && len(w.kept) > w.limit {
		w.kept = w.kept[len(w.kept)-w.limit:]
	}
}

func (w *processLog) tail() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]byte, len(w.kept))
	copy(out, w.kept)
	return out
}

func buildProbeArgs(sourcePath string) []string {
	return []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		sourcePath,
	}
}

func buildTranscodeArgs(sourcePath string, spec QualitySpec, outputPath string) []string {
	bitrate := fmt.Sprintf("%dk", spec.Bitrate)
	bufsize := fmt.Sprintf("%dk", spec.Bitrate*2)
	return []string{
		"-hide_banner",
		"-nostats",
		"-y",
		"-i", sourcePath,
		"-c:v", "libx264",
		"-profile:v", spec.Profile,
		"-preset", spec.Preset,
		"-b:v", bitrate,
		"-maxrate", bitrate,
		"-bufsize", bufsize,
		"-vf", fmt.Sprintf("scale=%d:%d", spec.Width, spec.Height),
		"-r", strconv.Itoa(spec.FPS),
		"-c:a", "aac",
		"-b:a", audioBitrate,
		"-movflags", "+faststart",
		outputPath,
	}
}

func buildSegmentArgs(encodedPath string, segmentSeconds float64, outputDir string) []string {
	return []string{
		"-hide_banner",
		"-nostats",
		"-y",
		"-i", encodedPath,
		"-c", "copy",
		"-f", "segment",
		"-segment_time", strconv.FormatFloat(segmentSeconds, 'f', -1, 64),
		"-reset_timestamps", "1",
		filepath.Join(outputDir, segmentFilePattern),
	}
}

func buildThumbnailArgs(sourcePath string, offsetSeconds float64, width, height int, outputPath string) []string {
	return []string{
		"-hide_banner",
		"-nostats",
		"-y",
		"-ss", strconv.FormatFloat(offsetSeconds, 'f', -1, 64),
		"-i", sourcePath,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-q:v", "4",
		outputPath,
	}
}

func listSegmentFiles(outputDir string) ([]string, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, fmt.Errorf("read segment dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, "segment_") && strings.HasSuffix(name, ".mp4") {
			files = append(files, filepath.Join(outputDir, name))
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, &TranscodeError{Transient: false, Err: fmt.Errorf("segmenter produced no chunks")}
	}
	return files, nil
}

func firstVideoStream(streams []ffprobeStream) (ffprobeStream, bool) {
	for _, stream := range streams {
		if stream.CodecType == "video" {
			return stream, true
		}
	}
	return ffprobeStream{}, false
}

func parseProbeDuration(formatDuration, streamDuration string) float64 {
	for _, raw := range []string{formatDuration, streamDuration} {
		if raw == "" {
			continue
		}
		if value, err := strconv.ParseFloat(raw, 64); err == nil && value > 0 {
			return value
		}
	}
	return 0
}

// parseFrameRate reduces an ffprobe rational rate ("30000/1001") or plain
// number to a float. Returns 0 when the value is absent or malformed.
func parseFrameRate(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0/0" {
		return 0
	}
	if !strings.Contains(raw, "/") {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0
		}
		return value
	}
	parts := strings.SplitN(raw, "/", 2)
	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0
	}
	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || den == 0 {
		return 0
	}
	return num / den
}

func classifyProbeFailure(stderr []byte, err error) error {
	message := strings.ToLower(string(stderr))
	switch {
	case strings.Contains(message, "invalid data found"),
		strings.Contains(message, "unknown format"),
		strings.Contains(message, "not supported"):
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, stderrTail(stderr))
	case strings.Contains(message, "moov atom not found"),
		strings.Contains(message, "error reading header"),
		strings.Contains(message, "end of file"):
		return fmt.Errorf("%w: %s", ErrCorruptInput, stderrTail(stderr))
	default:
		return fmt.Errorf("probe: %w: %s", err, stderrTail(stderr))
	}
}

func classifyTranscodeFailure(ctx context.Context, quality string, stderr []byte, err error) error {
	if ctx.Err() != nil {
		return &TranscodeError{Quality: quality, Transient: true, Err: ctx.Err()}
	}
	message := strings.ToLower(string(stderr))
	switch {
	case strings.Contains(message, "unknown encoder"),
		strings.Contains(message, "invalid argument"),
		strings.Contains(message, "error initializing output stream"):
		return &TranscodeError{Quality: quality, Transient: false, Err: fmt.Errorf("%w: %s", err, stderrTail(stderr))}
	default:
		// Crashes, OOM kills, and I/O hiccups are retryable.
		return &TranscodeError{Quality: quality, Transient: true, Err: fmt.Errorf("%w: %s", err, stderrTail(stderr))}
	}
}

func stderrTail(stderr []byte) string {
	lines := strings.Split(strings.TrimSpace(string(stderr)), "\n")
	if len(lines) == 0 {
		return ""
	}
	last := strings.TrimSpace(lines[len(lines)-1])
	if len(last) > 300 {
		last = last[:300]
	}
	return last
}

var _ Toolchain = (*FFmpegToolchain)(nil)
