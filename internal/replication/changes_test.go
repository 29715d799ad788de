package replication

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/docsync/internal/events"
	"github.com/iudanet/docsync/internal/models"
)

func TestChangeListener_MaintainsTombstones(t *testing.T) {
	ctx := context.Background()
	r := newTestReplica(t, "ws://127.0.0.1:1", nil)

	inserted, err := r.collection.Insert(ctx, "a", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.NoError(t, r.collection.Remove(ctx, "a"))

	ts, found, err := r.tombstones.GetTombstone(ctx, "a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Greater(t, ts, inserted.LastModified)

	// Повторная вставка снимает устаревший tombstone
	_, err = r.collection.Insert(ctx, "a", json.RawMessage(`{"again":true}`))
	require.NoError(t, err)
	_, found, err = r.tombstones.GetTombstone(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)

	// Без обмена feed ничего не отправляется и не журналируется
	meta, err := r.metadata.LoadMetadata(ctx)
	require.NoError(t, err)
	assert.True(t, meta.JournalReceipt.IsEmpty())
	assert.Zero(t, r.events.count(events.Error))
}

func TestChangeListener_IgnoresReplicatorChanges(t *testing.T) {
	ctx := context.Background()
	r := newTestReplica(t, "ws://127.0.0.1:1", nil)

	require.NoError(t, r.tombstones.PutTombstone(ctx, "a", 10))
	require.NoError(t, r.collection.PutDocument(ctx, doc("a", 5), models.SourceReplicator))
	require.NoError(t, r.collection.RemoveDocument(ctx, "a", 20, models.SourceReplicator))

	ts, found, err := r.tombstones.GetTombstone(ctx, "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(10), ts, "replicator changes do not touch tombstones")
}
