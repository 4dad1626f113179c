package media

import "context"

// ProbeResult captures the container metadata extracted from a source file.
//
// Duration is expressed in seconds. FrameRate is the average frame rate of
// the primary video stream; rational rates such as 30000/1001 are reduced to
// a float.
type ProbeResult struct {
	Duration  float64 `json:"durationSeconds"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Codec     string  `json:"codec"`
	FrameRate float64 `json:"frameRate"`
}

// ThumbnailSet holds the poster images captured from a source, one payload
// per size label. All three share a single content type.
type ThumbnailSet struct {
	ContentType string
	Small       []byte
	Medium      []byte
	Large       []byte
}

// Toolchain abstracts the external media tooling the pipeline drives. The
// production implementation shells out to ffmpeg/ffprobe; tests substitute
// deterministic fakes.
//
// Implementations must be safe for concurrent use: the pipeline invokes
// Transcode and Segment from multiple workers at once.
type Toolchain interface {
	// Probe extracts duration, dimensions, codec, and frame rate from the
	// source. Unidentifiable containers are reported by wrapping
	// ErrUnsupportedFormat and unparsable metadata by wrapping
	// ErrCorruptInput.
	Probe(ctx context.Context, sourcePath string) (ProbeResult, error)

	// Transcode encodes the source into one rendition described by spec,
	// writing the result to outputPath. Failures carry a *TranscodeError so
	// callers can distinguish transient from permanent causes.
	Transcode(ctx context.Context, sourcePath string, spec QualitySpec, outputPath string) error

	// Segment splits an encoded rendition into chunks of segmentSeconds
	// (the last chunk may be shorter) inside outputDir and returns the chunk
	// file paths in index order. Splitting the same input twice yields
	// byte-identical chunks.
	Segment(ctx context.Context, encodedPath string, segmentSeconds float64, outputDir string) ([]string, error)

	// Thumbnails captures the poster images at the given offset.
	Thumbnails(ctx context.Context, sourcePath string, offsetSeconds float64) (ThumbnailSet, error)

	// Check verifies the underlying tooling is available.
	Check(ctx context.Context) error
}

// ThumbnailOffset returns the capture position for a source of the given
// duration: one second in, or the midpoint for clips shorter than that.
func ThumbnailOffset(duration float64) float64 {
	if duration < 2 {
		offset := duration / 2
		if offset < 0 {
			return 0
		}
		return offset
	}
	return 1
}
