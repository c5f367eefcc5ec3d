package scan

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrWorkerFailure is wrapped by every ScanError.
	ErrWorkerFailure = errors.New("worker failure")

	// ErrCanceled is returned when the caller's context ended before every
	// chunk finished.
	ErrCanceled = errors.New("scan canceled")

	// ErrInvalidParams is returned for unusable scan parameters.
	ErrInvalidParams = errors.New("invalid scan parameters")
)

// ChunkError reports a chunk that failed on every attempt.
type ChunkError struct {
	Chunk    int
	Attempts int
	Err      error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d failed after %d attempt(s): %v", e.Chunk, e.Attempts, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// ScanError lists every chunk that could not be processed. A scan returning a
// ScanError never reports a complete result.
type ScanError struct {
	Failed []*ChunkError
}

func (e *ScanError) Error() string {
	ids := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		ids[i] = fmt.Sprint(f.Chunk)
	}
	msg := fmt.Sprintf("%v: %d chunk(s) failed [%s]", ErrWorkerFailure, len(e.Failed), strings.Join(ids, ", "))
	if len(e.Failed) > 0 {
		msg += ": " + e.Failed[0].Err.Error()
	}
	return msg
}

// Unwrap exposes ErrWorkerFailure and each chunk error to errors.Is and errors.As.
func (e *ScanError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed)+1)
	errs = append(errs, ErrWorkerFailure)
	for _, f := range e.Failed {
		errs = append(errs, f)
	}
	return errs
}

// Chunks returns the indices of the failed chunks.
func (e *ScanError) Chunks() []int {
	out := make([]int, len(e.Failed))
	for i, f := range e.Failed {
		out[i] = f.Chunk
	}
	return out
}
