package domain

import "errors"

// Pipeline failure classes. None of them is process-fatal; each is isolated to its unit of work
var (
	// malformed batch, caller fixes and retries
	ErrValidation = errors.New("validation error")
	// store unavailable or non-conflict write failure, fails the whole batch
	ErrPersistence = errors.New("persistence error")
	// read failure during a scan, that chain's cycle is skipped
	ErrAggregation = errors.New("aggregation error")
	// text generation failed, recovered with the fallback template
	ErrComposition = errors.New("composition error")
	// posting failed, item is requeued
	ErrDelivery = errors.New("delivery error")

	ErrNotFound = errors.New("not found")
)
