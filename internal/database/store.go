package database

import "errors"

// Sentinel errors shared by all store implementations. Services translate
// these into domain errors; stores never construct domain errors themselves.
var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned by compare-and-set writes when the
	// stored (status, version) pair no longer matches the caller's
	// expectation.
	ErrVersionConflict = errors.New("version conflict")

	// ErrDuplicate is returned when an insert violates a uniqueness
	// constraint.
	ErrDuplicate = errors.New("duplicate record")
)
