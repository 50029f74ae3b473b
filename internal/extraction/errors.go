package extraction

import "errors"

// Sentinel errors shared across the pipeline. Structural errors are
// never retried; transient errors are eligible for bounded retry.
var (
	// ErrNoDirectory is returned when no article folder matches an identifier.
	ErrNoDirectory = errors.New("no directory matches article number")

	// ErrSidecarCorrupt is returned when an html-data.json sidecar cannot be decoded.
	ErrSidecarCorrupt = errors.New("sidecar corrupt")

	// ErrImageMissing is returned when a required image file does not exist.
	ErrImageMissing = errors.New("image missing")

	// ErrImageEmpty is returned when an image file exists but holds no data.
	ErrImageEmpty = errors.New("image empty")

	// ErrImageTooLarge is returned when an image exceeds the configured size ceiling.
	ErrImageTooLarge = errors.New("image exceeds size ceiling")

	// ErrPoolClosed is returned when borrowing from a closed engine pool.
	ErrPoolClosed = errors.New("engine pool closed")

	// ErrRecognitionTimeout is returned when a single recognition call
	// exceeds its per-call deadline.
	ErrRecognitionTimeout = errors.New("recognition call timed out")

	// ErrEngineTransient is returned for engine failures worth retrying,
	// such as an overloaded or momentarily unreachable service.
	ErrEngineTransient = errors.New("transient engine failure")

	// ErrBatchNotFound is returned when a batch ID is unknown to the store.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrBatchExists is returned when creating a batch with a taken ID.
	ErrBatchExists = errors.New("batch already exists")

	// ErrQueueClosed is returned by queue operations after shutdown began.
	ErrQueueClosed = errors.New("queue closed")
)
