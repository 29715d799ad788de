package storage

import "errors"

// Common storage errors
var (
	// ErrDocumentNotFound indicates that document was not found
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDocumentExists indicates that document with the same id is already stored
	ErrDocumentExists = errors.New("document already exists")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")

	// ErrInvalidDocument indicates that document has no id or its content is not JSON
	ErrInvalidDocument = errors.New("invalid document")
)
