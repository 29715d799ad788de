package storage

import (
	"context"

	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/pkg/api"
)

//go:generate moq -out collection_mock.go . Collection

// Collection defines the part of a document collection the replication engine consumes
type Collection interface {
	// Name returns the collection name
	Name() string

	// GetDocument retrieves a document by ID
	// Returns ErrDocumentNotFound if document doesn't exist
	GetDocument(ctx context.Context, id string) (*api.Document, error)

	// PutDocument stores the document as is (LastModified is not restamped)
	// and notifies subscribers with the given source
	PutDocument(ctx context.Context, doc *api.Document, source string) error

	// RemoveDocument deletes the document and notifies subscribers
	// Returns ErrDocumentNotFound if document doesn't exist
	RemoveDocument(ctx context.Context, id string, timestamp int64, source string) error

	// ModifiedBetween returns documents with since < LastModified <= until
	ModifiedBetween(ctx context.Context, since, until int64) ([]*api.Document, error)

	// MaxLastModified returns the maximum LastModified in the collection
	MaxLastModified(ctx context.Context) (int64, error)

	// Subscribe registers a change listener and returns a function removing it
	Subscribe(listener ChangeListener) (unsubscribe func())
}

// ChangeListener receives change notifications of a collection
type ChangeListener interface {
	OnChange(ctx context.Context, event models.ChangeEvent)
}

// ChangeListenerFunc adapts a function to ChangeListener
type ChangeListenerFunc func(ctx context.Context, event models.ChangeEvent)

// OnChange calls f(ctx, event)
func (f ChangeListenerFunc) OnChange(ctx context.Context, event models.ChangeEvent) {
	f(ctx, event)
}

//go:generate moq -out tombstones_mock.go . TombstoneStore

// TombstoneStore defines the tombstone map (document id -> deletion timestamp)
type TombstoneStore interface {
	// GetTombstone returns the deletion timestamp and whether a tombstone exists
	GetTombstone(ctx context.Context, id string) (int64, bool, error)

	// PutTombstone stores or replaces a tombstone
	PutTombstone(ctx context.Context, id string, timestamp int64) error

	// DeleteTombstone removes a tombstone; missing ids are ignored
	DeleteTombstone(ctx context.Context, id string) error

	// Tombstones returns all tombstones
	Tombstones(ctx context.Context) (map[string]int64, error)
}

//go:generate moq -out metadata_mock.go . MetadataStorage

// MetadataStorage defines the typed metadata record of a replicated collection
type MetadataStorage interface {
	// LoadMetadata returns the stored metadata or an empty record
	LoadMetadata(ctx context.Context) (*models.Metadata, error)

	// UpdateMetadata atomically applies fn to the stored record and persists it
	UpdateMetadata(ctx context.Context, fn func(*models.Metadata) error) (*models.Metadata, error)
}
