// Package store declares the errors shared by the persistence
// implementations in its subpackages.
package store

import "errors"

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("store: record not found")
