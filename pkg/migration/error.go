package migration

import "errors"

var (
	// ErrJobNotFound indicates the job id is unknown to the store.
	ErrJobNotFound = errors.New("migration job not found")

	// ErrInvalidTransition indicates a state change the lifecycle
	// does not permit.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrChecksumMismatch indicates a copied batch read back from the
	// target differs from the source.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrValidationFailed indicates whole-collection validation found
	// a discrepancy between source and target.
	ErrValidationFailed = errors.New("migration validation failed")
)
