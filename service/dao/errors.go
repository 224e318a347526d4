package dao

import "errors"

// Common, reusable store errors. Sentinel variables let callers detect
// conditions via errors.Is instead of brittle string comparisons.

var (
	// ErrNotFound is returned when the requested entity does not exist in
	// the underlying storage.
	ErrNotFound = errors.New("dao: not found")

	// ErrInvalidID indicates that the supplied ID/key is empty or otherwise
	// invalid.
	ErrInvalidID = errors.New("dao: invalid id")

	// ErrNilEntity is returned when the caller attempts to persist a nil
	// pointer.
	ErrNilEntity = errors.New("dao: nil entity")

	// ErrVersionConflict is returned by Save when the expected version no
	// longer matches the stored one, i.e. a concurrent writer won the race.
	ErrVersionConflict = errors.New("dao: version conflict")
)
