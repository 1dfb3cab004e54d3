package crawler

import "errors"

var (
	// ErrPlatformUnsupported rejects platforms outside the supported set.
	ErrPlatformUnsupported = errors.New("platform not supported")
	// ErrProviderUnavailable wraps network and timeout failures talking to the provider.
	ErrProviderUnavailable = errors.New("crawl provider unavailable")
	// ErrProviderError is a non-success answer from the provider.
	ErrProviderError = errors.New("crawl provider error")
	// ErrJobNotFound is returned for unknown job identifiers.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotCompleted is returned when results are requested too early.
	ErrJobNotCompleted = errors.New("job not completed")
	// ErrInvalidTransition rejects a job status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrInvalidParams rejects malformed per-platform parameters.
	ErrInvalidParams = errors.New("invalid platform parameters")
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
)

// ErrQueueClosed is returned by a queue that no longer delivers items.
var ErrQueueClosed = errors.New("queue closed")
