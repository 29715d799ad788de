package boltdb

import (
	"context"
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/docsync/internal/storage"
)

// Tombstones is a tombstone map (document id -> deletion timestamp).
// It implements storage.TombstoneStore.
type Tombstones struct {
	store *Storage
	name  []byte
}

var _ storage.TombstoneStore = (*Tombstones)(nil)

// GetTombstone returns the deletion timestamp of id
func (t *Tombstones) GetTombstone(ctx context.Context, id string) (int64, bool, error) {
	var (
		ts    int64
		found bool
	)

	err := t.store.view(func(tx *bbolt.Tx) error {
		data := t.bucket(tx).Get([]byte(id))
		if data == nil {
			return nil
		}

		var err error
		ts, err = decodeTimestamp(data)
		found = err == nil
		return err
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to get tombstone %q: %w", id, err)
	}

	return ts, found, nil
}

// PutTombstone stores or replaces a tombstone
func (t *Tombstones) PutTombstone(ctx context.Context, id string, timestamp int64) error {
	err := t.store.update(func(tx *bbolt.Tx) error {
		return t.bucket(tx).Put([]byte(id), encodeTimestamp(timestamp))
	})
	if err != nil {
		return fmt.Errorf("failed to save tombstone %q: %w", id, err)
	}

	t.store.clock.Observe(timestamp)
	return nil
}

// DeleteTombstone removes a tombstone
func (t *Tombstones) DeleteTombstone(ctx context.Context, id string) error {
	err := t.store.update(func(tx *bbolt.Tx) error {
		return t.bucket(tx).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete tombstone %q: %w", id, err)
	}
	return nil
}

// Tombstones returns all tombstones
func (t *Tombstones) Tombstones(ctx context.Context) (map[string]int64, error) {
	result := make(map[string]int64)

	err := t.store.view(func(tx *bbolt.Tx) error {
		return t.bucket(tx).ForEach(func(k, v []byte) error {
			ts, err := decodeTimestamp(v)
			if err != nil {
				return err
			}
			result[string(k)] = ts
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get tombstones: %w", err)
	}

	return result, nil
}

func (t *Tombstones) bucket(tx *bbolt.Tx) *bbolt.Bucket {
	return tx.Bucket(bucketTombstones).Bucket(t.name)
}

// Отметки хранятся как big-endian uint64
func encodeTimestamp(ts int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(ts))
	return buf
}

func decodeTimestamp(data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid timestamp length: %d", len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}
