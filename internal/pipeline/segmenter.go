package pipeline

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"golang.org/x/crypto/blake2b"

	"streamforge/internal/storage"
)

// segmentDurations assigns a playback duration to each of n chunks cut at
// nominal-second boundaries. Every chunk lasts the nominal length except the
// final one, which carries the remainder of the total runtime. When the total
// is unknown (failed or absent probe metadata) every chunk falls back to the
// nominal length so manifests stay well-formed.
func segmentDurations(total, nominal float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	durations := make([]float64, n)
	for i := range durations {
		durations[i] = nominal
	}
	if total <= 0 {
		return durations
	}
	last := total - nominal*float64(n-1)
	if last <= 0 || last > nominal {
		return durations
	}
	durations[n-1] = last
	return durations
}

// segmentSummary reports what storeSegments persisted for one rendition.
type segmentSummary struct {
	Count      int
	Duration   float64
	TotalBytes int64
}

// storeSegments replaces a rendition's stored segments with the chunk files
// produced by the toolchain, appending them in index order with BLAKE2b-256
// checksums so the store can verify payload integrity on every read.
func storeSegments(ctx context.Context, store storage.Repository, renditionID string, chunkPaths []string, totalDuration, nominalSeconds float64) (segmentSummary, error) {
	if len(chunkPaths) == 0 {
		return segmentSummary{}, fmt.Errorf("no segment chunks produced")
	}
	if err := store.ClearSegments(renditionID); err != nil {
		return segmentSummary{}, fmt.Errorf("clear segments: %w", err)
	}

	durations := segmentDurations(totalDuration, nominalSeconds, len(chunkPaths))
	var totalBytes int64
	var elapsed float64
	for index, path := range chunkPaths {
		if err := ctx.Err(); err != nil {
			return segmentSummary{}, err
		}
		payload, err := os.ReadFile(path)
		if err != nil {
			return segmentSummary{}, fmt.Errorf("read chunk %d: %w", index, err)
		}
		sum := blake2b.Sum256(payload)
		start := elapsed
		elapsed += durations[index]
		if _, err := store.AppendSegment(renditionID, storage.AppendSegmentParams{
			Index:     index,
			Duration:  durations[index],
			StartTime: start,
			EndTime:   elapsed,
			Checksum:  hex.EncodeToString(sum[:]),
			Payload:   payload,
		}); err != nil {
			return segmentSummary{}, fmt.Errorf("append segment %d: %w", index, err)
		}
		totalBytes += int64(len(payload))
	}
	return segmentSummary{Count: len(chunkPaths), Duration: elapsed, TotalBytes: totalBytes}, nil
}
