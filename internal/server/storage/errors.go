package storage

import "errors"

// Common storage errors
var (
	// ErrInvalidKey indicates that tenant, collection or user of the key is empty
	ErrInvalidKey = errors.New("invalid replica key")

	// ErrInvalidEntry indicates a document without id or with non-JSON content
	ErrInvalidEntry = errors.New("invalid replica entry")
)
