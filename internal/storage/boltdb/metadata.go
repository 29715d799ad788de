package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/storage"
	"github.com/iudanet/docsync/pkg/api"
)

// Metadata is the metadata record of one collection.
// It implements storage.MetadataStorage.
type Metadata struct {
	store *Storage
	key   []byte
}

var _ storage.MetadataStorage = (*Metadata)(nil)

// LoadMetadata retrieves the metadata record
// Returns an empty record if nothing has been saved yet
func (m *Metadata) LoadMetadata(ctx context.Context) (*models.Metadata, error) {
	var meta *models.Metadata

	err := m.store.view(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		var err error
		meta, err = decodeMetadata(bucket.Get(m.key))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}

	return meta, nil
}

// UpdateMetadata applies fn to the stored record and saves it in one transaction.
// If fn returns an error nothing is saved.
func (m *Metadata) UpdateMetadata(ctx context.Context, fn func(*models.Metadata) error) (*models.Metadata, error) {
	var meta *models.Metadata

	err := m.store.update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		var err error
		meta, err = decodeMetadata(bucket.Get(m.key))
		if err != nil {
			return err
		}
		if err := fn(meta); err != nil {
			return err
		}

		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		return bucket.Put(m.key, data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update metadata: %w", err)
	}

	return meta.Clone(), nil
}

func decodeMetadata(data []byte) (*models.Metadata, error) {
	meta := &models.Metadata{JournalReceipt: api.NewReceipt()}
	if data == nil {
		return meta, nil
	}
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	// Из JSON может прийти null
	meta.JournalReceipt = api.NewReceipt().Merge(meta.JournalReceipt)
	return meta, nil
}
