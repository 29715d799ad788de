package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/iudanet/docsync/internal/server/storage"
	"github.com/iudanet/docsync/pkg/api"
)

// entry строка таблицы replica_entries
type entry struct {
	id           string
	content      []byte
	lastModified int64
	deleted      bool
}

// Merge применяет дельту по правилам LWW в одной транзакции.
// Победившие записи получают общую отметку synced.
func (s *Storage) Merge(ctx context.Context, key storage.Key, origin string, delta api.DeltaStates) (storage.MergeResult, error) {
	result := storage.MergeResult{
		Receipt: delta.Receipt(),
		Applied: api.NewDeltaStates(),
	}
	if err := key.Validate(); err != nil {
		return result, err
	}
	if delta.IsEmpty() {
		return result, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	synced := s.clock.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for i := range delta.ChangeSet {
		doc := delta.ChangeSet[i].Clone()
		if doc.ID == "" {
			return result, fmt.Errorf("%w: document without id", storage.ErrInvalidEntry)
		}
		if err := doc.Compact(); err != nil {
			return result, fmt.Errorf("%w: %w", storage.ErrInvalidEntry, err)
		}

		current, err := getEntry(ctx, tx, key, doc.ID)
		if err != nil {
			return result, err
		}
		if !documentWins(doc, current) {
			continue
		}

		next := entry{id: doc.ID, content: doc.Content, lastModified: doc.LastModified}
		if err := putEntry(ctx, tx, key, origin, synced, next); err != nil {
			return result, err
		}
		result.Applied.ChangeSet = append(result.Applied.ChangeSet, *doc)
	}

	ids := make([]string, 0, len(delta.TombstoneMap))
	for id := range delta.TombstoneMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if id == "" {
			return result, fmt.Errorf("%w: tombstone without id", storage.ErrInvalidEntry)
		}
		timestamp := delta.TombstoneMap[id]

		current, err := getEntry(ctx, tx, key, id)
		if err != nil {
			return result, err
		}
		if current != nil && timestamp <= current.lastModified {
			continue
		}

		next := entry{id: id, lastModified: timestamp, deleted: true}
		if err := putEntry(ctx, tx, key, origin, synced, next); err != nil {
			return result, err
		}
		result.Applied.TombstoneMap[id] = timestamp
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit merge: %w", err)
	}

	if !result.Applied.IsEmpty() {
		result.Synced = synced
	}
	return result, nil
}

// documentWins сравнивает входящий документ с сохраненной записью.
// При равном времени документ побеждает tombstone (add-wins).
func documentWins(doc *api.Document, current *entry) bool {
	if current == nil {
		return true
	}
	if current.deleted {
		return doc.LastModified >= current.lastModified
	}
	stored := &api.Document{ID: current.id, Content: current.content, LastModified: current.lastModified}
	return doc.IsNewerThan(stored)
}

func getEntry(ctx context.Context, tx *sql.Tx, key storage.Key, id string) (*entry, error) {
	query := `
		SELECT id, content, last_modified, deleted
		FROM replica_entries
		WHERE tenant = ? AND collection = ? AND user_name = ? AND id = ?
	`

	var (
		e       entry
		content sql.NullString
	)
	err := tx.QueryRowContext(ctx, query, key.Tenant, key.Collection, key.User, id).
		Scan(&e.id, &content, &e.lastModified, &e.deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry %q: %w", id, err)
	}
	if content.Valid {
		e.content = []byte(content.String)
	}

	return &e, nil
}

func putEntry(ctx context.Context, tx *sql.Tx, key storage.Key, origin string, synced int64, e entry) error {
	query := `
		INSERT INTO replica_entries (tenant, collection, user_name, id, content, last_modified, deleted, synced, origin)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant, collection, user_name, id) DO UPDATE SET
			content = excluded.content,
			last_modified = excluded.last_modified,
			deleted = excluded.deleted,
			synced = excluded.synced,
			origin = excluded.origin
	`

	content := sql.NullString{String: string(e.content), Valid: !e.deleted}
	_, err := tx.ExecContext(ctx, query,
		key.Tenant, key.Collection, key.User, e.id,
		content, e.lastModified, e.deleted, synced, origin,
	)
	if err != nil {
		return fmt.Errorf("failed to put entry %q: %w", e.id, err)
	}

	return nil
}

// ChangesSince возвращает страницу записей с since < synced <= until в порядке id
func (s *Storage) ChangesSince(
	ctx context.Context,
	key storage.Key,
	origin string,
	since, until int64,
	afterID string,
	limit int,
) (storage.Page, error) {
	page := storage.Page{Delta: api.NewDeltaStates(), LastID: afterID}
	if err := key.Validate(); err != nil {
		return page, err
	}
	if limit <= 0 {
		return page, fmt.Errorf("invalid page limit %d", limit)
	}

	query := `
		SELECT id, content, last_modified, deleted
		FROM replica_entries
		WHERE tenant = ? AND collection = ? AND user_name = ?
			AND synced > ? AND synced <= ?
			AND origin <> ?
			AND id > ?
		ORDER BY id
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		key.Tenant, key.Collection, key.User,
		since, until, origin, afterID, limit+1,
	)
	if err != nil {
		return page, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var (
			e       entry
			content sql.NullString
		)
		if err := rows.Scan(&e.id, &content, &e.lastModified, &e.deleted); err != nil {
			return page, fmt.Errorf("failed to scan entry: %w", err)
		}

		if count == limit {
			page.More = true
			break
		}
		count++
		page.LastID = e.id

		if e.deleted {
			page.Delta.TombstoneMap[e.id] = e.lastModified
			continue
		}
		page.Delta.ChangeSet = append(page.Delta.ChangeSet, api.Document{
			ID:           e.id,
			Content:      []byte(content.String),
			LastModified: e.lastModified,
		})
	}

	if err := rows.Err(); err != nil {
		return page, fmt.Errorf("failed to iterate entries: %w", err)
	}

	return page, nil
}

var _ storage.ReplicaStore = (*Storage)(nil)
