package playbackmodule

import "errors"

var (
	// ErrNotFound is returned for a missing media part or job; callers
	// surface it as a definite failure and do not retry
	ErrNotFound = errors.New("not found")

	// ErrNotReady is returned when a segment is not on disk yet; callers
	// may retry after a short delay
	ErrNotReady = errors.New("not ready")

	// ErrTooManyJobs is returned when admission control rejects a new job
	ErrTooManyJobs = errors.New("too many concurrent transcode jobs")

	// ErrProcessingFailed is returned when the external transcoder failed
	// to produce the requested output
	ErrProcessingFailed = errors.New("processing failed")
)
