package embeddings

import "errors"

var (
	// ErrRateLimited marks a provider failure that is safe to retry
	// with backoff (rate limit or transient network error).
	ErrRateLimited = errors.New("embedding provider rate limited")

	// ErrInvalidInput marks a provider rejection that must surface
	// immediately and never be retried.
	ErrInvalidInput = errors.New("embedding input rejected")

	// ErrFingerprintConflict is returned when a cache put sees a
	// different vector for an existing fingerprint. Fingerprints are
	// content-deterministic, so this indicates a provider or caller
	// bug.
	ErrFingerprintConflict = errors.New("conflicting vector for embedding fingerprint")

	// ErrRetryExhausted is returned when the bounded retry budget is
	// spent without a successful provider response.
	ErrRetryExhausted = errors.New("embedding retry budget exhausted")
)
