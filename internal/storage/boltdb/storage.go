package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/iudanet/docsync/internal/crdt"
	"github.com/iudanet/docsync/internal/storage"
	"github.com/iudanet/docsync/pkg/api"
)

var (
	// BoltDB bucket names
	bucketCollections = []byte("collections") // вложенный bucket на коллекцию
	bucketTombstones  = []byte("tombstones")  // вложенный bucket на карту tombstones
	bucketMetadata    = []byte("metadata")    // ключ - имя коллекции, значение - JSON models.Metadata
)

// Storage represents BoltDB storage of replicated collections
type Storage struct {
	db          *bbolt.DB
	clock       *crdt.Clock
	collections map[string]*Collection
	mu          sync.Mutex
}

// New creates a new BoltDB storage instance
// dbPath is the path to the BoltDB database file
func New(ctx context.Context, dbPath string) (*Storage, error) {
	return NewWithClock(ctx, dbPath, crdt.NewClock())
}

// NewWithClock creates a storage stamping local changes with the given clock
func NewWithClock(ctx context.Context, dbPath string, clock *crdt.Clock) (*Storage, error) {
	// Открываем BoltDB
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	s := &Storage{
		db:          db,
		clock:       clock,
		collections: make(map[string]*Collection),
	}

	// Инициализируем buckets
	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	// Часы не должны выдавать отметки меньше уже сохраненных
	if err := s.observeStored(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to restore clock: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Clock returns the clock stamping local changes
func (s *Storage) Clock() *crdt.Clock {
	return s.clock
}

// Collection returns the named collection, creating it on first use
func (s *Storage) Collection(name string) (*Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}
	if c, ok := s.collections[name]; ok {
		return c, nil
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.Bucket(bucketCollections).CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %q: %w", name, err)
	}

	c := &Collection{
		store:     s,
		name:      name,
		listeners: make(map[int]storage.ChangeListener),
	}
	s.collections[name] = c
	return c, nil
}

// Tombstones returns the named tombstone map, creating it on first use
func (s *Storage) Tombstones(mapName string) (*Tombstones, error) {
	err := s.update(func(tx *bbolt.Tx) error {
		_, err := tx.Bucket(bucketTombstones).CreateBucketIfNotExists([]byte(mapName))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tombstone map %q: %w", mapName, err)
	}
	return &Tombstones{store: s, name: []byte(mapName)}, nil
}

// Metadata returns the metadata record of the collection
func (s *Storage) Metadata(collection string) *Metadata {
	return &Metadata{store: s, key: []byte(collection)}
}

// initBuckets создает необходимые buckets если они не существуют
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketCollections, bucketTombstones, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

// observeStored продвигает часы за максимальную сохраненную отметку
func (s *Storage) observeStored() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		collections := tx.Bucket(bucketCollections)
		err := collections.ForEachBucket(func(name []byte) error {
			return collections.Bucket(name).ForEach(func(_, v []byte) error {
				var doc api.Document
				if err := json.Unmarshal(v, &doc); err != nil {
					return fmt.Errorf("failed to unmarshal document: %w", err)
				}
				s.clock.Observe(doc.LastModified)
				return nil
			})
		})
		if err != nil {
			return err
		}

		tombstones := tx.Bucket(bucketTombstones)
		return tombstones.ForEachBucket(func(name []byte) error {
			return tombstones.Bucket(name).ForEach(func(_, v []byte) error {
				ts, err := decodeTimestamp(v)
				if err != nil {
					return err
				}
				s.clock.Observe(ts)
				return nil
			})
		})
	})
}

func (s *Storage) view(fn func(tx *bbolt.Tx) error) error {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()

	if db == nil {
		return storage.ErrStorageClosed
	}
	return db.View(fn)
}

func (s *Storage) update(fn func(tx *bbolt.Tx) error) error {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()

	if db == nil {
		return storage.ErrStorageClosed
	}
	return db.Update(fn)
}
