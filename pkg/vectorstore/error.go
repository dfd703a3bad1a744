package vectorstore

import "errors"

var (
	// ErrAlreadyExists is returned when creating a collection whose
	// name is taken with a different dimension or metric.
	ErrAlreadyExists = errors.New("collection already exists with different config")

	// ErrCollectionNotFound is returned when operating on a collection
	// that was never created.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDimensionMismatch is returned when a vector length differs
	// from the collection dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrConnection is returned when the backend connection fails.
	ErrConnection = errors.New("vector store connection failed")

	// ErrInvalidConfig is returned for unusable adapter configuration.
	ErrInvalidConfig = errors.New("invalid vector store config")
)
