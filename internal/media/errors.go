package media

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat indicates the container or codec could not be
	// identified. Videos hitting this fail immediately without retries.
	ErrUnsupportedFormat = errors.New("unsupported media format")

	// ErrCorruptInput indicates the container was recognised but its
	// metadata could not be parsed. Not retryable.
	ErrCorruptInput = errors.New("corrupt media input")
)

// TranscodeError reports a failed encode or segment run. Transient failures
// (killed process, resource exhaustion, timeout) are worth retrying;
// permanent ones (unknown encoder, empty output) are not.
type TranscodeError struct {
	Quality   string
	Transient bool
	Err       error
}

func (e *TranscodeError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Quality != "" {
		return fmt.Sprintf("transcode %s (%s): %v", e.Quality, kind, e.Err)
	}
	return fmt.Sprintf("transcode (%s): %v", kind, e.Err)
}

func (e *TranscodeError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying. Transcode errors carry
// the decision explicitly; context cancellation and deadline expiry count as
// transient so an interrupted attempt can be replayed after a restart.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var tErr *TranscodeError
	if errors.As(err, &tErr) {
		return tErr.Transient
	}
	if errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, ErrCorruptInput) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
