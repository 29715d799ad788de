package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/storage"
	"github.com/iudanet/docsync/pkg/api"
)

// Collection is a document collection stored in its own nested bucket.
// It implements storage.Collection.
type Collection struct {
	store     *Storage
	listeners map[int]storage.ChangeListener
	name      string
	nextID    int
	mu        sync.RWMutex // защищает listeners
}

var _ storage.Collection = (*Collection)(nil)

// Name returns the collection name
func (c *Collection) Name() string {
	return c.name
}

// Insert stores a new document stamped with the local clock
// Returns ErrDocumentExists if document with the same id is stored
func (c *Collection) Insert(ctx context.Context, id string, content json.RawMessage) (*api.Document, error) {
	doc := &api.Document{ID: id, Content: content}
	if err := validate(doc); err != nil {
		return nil, err
	}

	err := c.store.update(func(tx *bbolt.Tx) error {
		bucket := c.bucket(tx)
		if bucket.Get([]byte(id)) != nil {
			return storage.ErrDocumentExists
		}
		doc.LastModified = c.store.clock.Now()
		return putDocument(bucket, doc)
	})
	if err != nil {
		return nil, err
	}

	c.notify(ctx, models.ChangeEvent{
		Document:  doc.Clone(),
		Type:      models.ChangeInsert,
		Timestamp: doc.LastModified,
	})
	return doc, nil
}

// Update replaces the content of a stored document and restamps it
// Returns ErrDocumentNotFound if document doesn't exist
func (c *Collection) Update(ctx context.Context, id string, content json.RawMessage) (*api.Document, error) {
	doc := &api.Document{ID: id, Content: content}
	if err := validate(doc); err != nil {
		return nil, err
	}

	err := c.store.update(func(tx *bbolt.Tx) error {
		bucket := c.bucket(tx)
		if bucket.Get([]byte(id)) == nil {
			return storage.ErrDocumentNotFound
		}
		doc.LastModified = c.store.clock.Now()
		return putDocument(bucket, doc)
	})
	if err != nil {
		return nil, err
	}

	c.notify(ctx, models.ChangeEvent{
		Document:  doc.Clone(),
		Type:      models.ChangeUpdate,
		Timestamp: doc.LastModified,
	})
	return doc, nil
}

// Remove deletes a document, the deletion is stamped with the local clock
// Returns ErrDocumentNotFound if document doesn't exist
func (c *Collection) Remove(ctx context.Context, id string) error {
	return c.remove(ctx, id, 0, "")
}

// Find returns all documents sorted by id
func (c *Collection) Find(ctx context.Context) ([]*api.Document, error) {
	var docs []*api.Document

	err := c.store.view(func(tx *bbolt.Tx) error {
		bucket := c.bucket(tx)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			doc, err := decodeDocument(v)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find documents: %w", err)
	}

	return docs, nil
}

// GetDocument retrieves a document by ID
func (c *Collection) GetDocument(ctx context.Context, id string) (*api.Document, error) {
	var doc *api.Document

	err := c.store.view(func(tx *bbolt.Tx) error {
		bucket := c.bucket(tx)
		if bucket == nil {
			return storage.ErrDocumentNotFound
		}
		data := bucket.Get([]byte(id))
		if data == nil {
			return storage.ErrDocumentNotFound
		}

		var err error
		doc, err = decodeDocument(data)
		return err
	})
	if err != nil {
		return nil, err
	}

	return doc, nil
}

// PutDocument stores the document keeping its LastModified
func (c *Collection) PutDocument(ctx context.Context, doc *api.Document, source string) error {
	stored := doc.Clone()
	if err := validate(stored); err != nil {
		return err
	}

	changeType := models.ChangeUpdate
	err := c.store.update(func(tx *bbolt.Tx) error {
		bucket := c.bucket(tx)
		if bucket.Get([]byte(stored.ID)) == nil {
			changeType = models.ChangeInsert
		}
		return putDocument(bucket, stored)
	})
	if err != nil {
		return err
	}

	c.store.clock.Observe(stored.LastModified)
	c.notify(ctx, models.ChangeEvent{
		Document:  stored,
		Type:      changeType,
		Source:    source,
		Timestamp: stored.LastModified,
	})
	return nil
}

// RemoveDocument deletes the document, the deletion is stamped with timestamp
func (c *Collection) RemoveDocument(ctx context.Context, id string, timestamp int64, source string) error {
	return c.remove(ctx, id, timestamp, source)
}

// ModifiedBetween returns documents with since < LastModified <= until sorted by id
func (c *Collection) ModifiedBetween(ctx context.Context, since, until int64) ([]*api.Document, error) {
	var docs []*api.Document

	err := c.store.view(func(tx *bbolt.Tx) error {
		bucket := c.bucket(tx)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			doc, err := decodeDocument(v)
			if err != nil {
				return err
			}

			// Фильтруем по timestamp
			if doc.LastModified > since && doc.LastModified <= until {
				docs = append(docs, doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get documents modified between %d and %d: %w", since, until, err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// MaxLastModified returns the maximum LastModified in the collection
func (c *Collection) MaxLastModified(ctx context.Context) (int64, error) {
	var maxTS int64

	err := c.store.view(func(tx *bbolt.Tx) error {
		bucket := c.bucket(tx)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			doc, err := decodeDocument(v)
			if err != nil {
				return err
			}
			maxTS = max(maxTS, doc.LastModified)
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get max last modified: %w", err)
	}

	return maxTS, nil
}

// Subscribe registers a change listener
func (c *Collection) Subscribe(listener storage.ChangeListener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = listener

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Collection) remove(ctx context.Context, id string, timestamp int64, source string) error {
	var removed *api.Document

	err := c.store.update(func(tx *bbolt.Tx) error {
		bucket := c.bucket(tx)
		data := bucket.Get([]byte(id))
		if data == nil {
			return storage.ErrDocumentNotFound
		}

		var err error
		removed, err = decodeDocument(data)
		if err != nil {
			return err
		}
		return bucket.Delete([]byte(id))
	})
	if err != nil {
		return err
	}

	if timestamp == 0 {
		timestamp = c.store.clock.Now()
	} else {
		c.store.clock.Observe(timestamp)
	}

	c.notify(ctx, models.ChangeEvent{
		Document:  removed,
		Type:      models.ChangeRemove,
		Source:    source,
		Timestamp: timestamp,
	})
	return nil
}

// notify вызывает подписчиков после фиксации транзакции
func (c *Collection) notify(ctx context.Context, event models.ChangeEvent) {
	c.mu.RLock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]storage.ChangeListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, c.listeners[id])
	}
	c.mu.RUnlock()

	for _, listener := range listeners {
		listener.OnChange(ctx, event)
	}
}

func (c *Collection) bucket(tx *bbolt.Tx) *bbolt.Bucket {
	return tx.Bucket(bucketCollections).Bucket([]byte(c.name))
}

func validate(doc *api.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: empty id", storage.ErrInvalidDocument)
	}
	if len(doc.Content) > 0 && !json.Valid(doc.Content) {
		return fmt.Errorf("%w: content of %q is not JSON", storage.ErrInvalidDocument, doc.ID)
	}
	return doc.Compact()
}

func putDocument(bucket *bbolt.Bucket, doc *api.Document) error {
	// Сериализуем документ в JSON
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	if err := bucket.Put([]byte(doc.ID), data); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func decodeDocument(data []byte) (*api.Document, error) {
	doc := &api.Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return doc, nil
}
