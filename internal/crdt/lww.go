package crdt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/storage"
	"github.com/iudanet/docsync/pkg/api"
)

// LWWMap представляет Last-Write-Wins Map CRDT поверх коллекции документов
// и карты tombstones. Для каждого ключа побеждает версия с большей отметкой времени,
// поэтому реплики сходятся независимо от порядка доставки изменений.
type LWWMap struct {
	collection storage.Collection
	tombstones storage.TombstoneStore
	snapshot   *pageSnapshot // ключи текущего окна пагинации
	mu         sync.Mutex    // сериализует мутации и пагинацию
}

// MergeResult итог слияния дельты
type MergeResult struct {
	Updated []string // Updated документы, записанные в коллекцию
	Removed []string // Removed принятые tombstones
	Skipped int      // Skipped ключи, проигравшие локальной версии
}

// pageSnapshot фиксирует упорядоченный список ключей окна (since, until].
// Значения читаются заново при выдаче страницы.
type pageSnapshot struct {
	keys  []changeKey
	since int64
	until int64
}

type changeKey struct {
	id      string
	removed bool
}

// NewLWWMap создает CRDT поверх коллекции и ее карты tombstones
func NewLWWMap(collection storage.Collection, tombstones storage.TombstoneStore) *LWWMap {
	return &LWWMap{
		collection: collection,
		tombstones: tombstones,
	}
}

// GetChangesSince возвращает страницу [offset, offset+limit) изменений с отметкой в (since, until].
// Документы и tombstones объединены в один список, упорядоченный по id.
// Список ключей окна фиксируется при первом обращении, поэтому увеличивающиеся offset
// разбивают окно без пропусков и повторов, даже если коллекция меняется во время прохода.
func (m *LWWMap) GetChangesSince(ctx context.Context, since, until int64, offset, limit int) (api.DeltaStates, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delta := api.NewDeltaStates()
	if limit <= 0 || offset < 0 {
		return delta, nil
	}

	if m.snapshot == nil || m.snapshot.since != since || m.snapshot.until != until {
		snapshot, err := m.takeSnapshot(ctx, since, until)
		if err != nil {
			return delta, err
		}
		m.snapshot = snapshot
	}

	keys := m.snapshot.keys
	if offset >= len(keys) {
		return delta, nil
	}
	end := min(offset+limit, len(keys))

	for _, key := range keys[offset:end] {
		if key.removed {
			ts, found, err := m.tombstones.GetTombstone(ctx, key.id)
			if err != nil {
				return delta, err
			}
			// Tombstone мог быть собран или перекрыт документом после снимка
			if found {
				delta.TombstoneMap[key.id] = ts
			}
			continue
		}

		doc, err := m.collection.GetDocument(ctx, key.id)
		if errors.Is(err, storage.ErrDocumentNotFound) {
			continue
		}
		if err != nil {
			return delta, err
		}
		delta.ChangeSet = append(delta.ChangeSet, *doc)
	}

	return delta, nil
}

// ResetCounter сбрасывает состояние пагинации перед новым проходом
func (m *LWWMap) ResetCounter() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshot = nil
}

// Merge объединяет локальное состояние с удаленной дельтой.
// Для каждого ключа применяется правило LWW:
// - документ против документа: побеждает больший LastModified, при равенстве большее содержимое
// - документ против tombstone: документ побеждает, если LastModified >= отметки удаления
// - tombstone против документа: принимается, если отметка удаления > LastModified
// - tombstone против tombstone: сохраняется больший
// Операция коммутативна и идемпотентна.
func (m *LWWMap) Merge(ctx context.Context, delta api.DeltaStates) (MergeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result MergeResult

	docs := make([]api.Document, len(delta.ChangeSet))
	copy(docs, delta.ChangeSet)
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

	for i := range docs {
		applied, err := m.mergeDocument(ctx, docs[i].Clone())
		if err != nil {
			return result, err
		}
		if applied {
			result.Updated = append(result.Updated, docs[i].ID)
		} else {
			result.Skipped++
		}
	}

	ids := make([]string, 0, len(delta.TombstoneMap))
	for id := range delta.TombstoneMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		applied, err := m.mergeTombstone(ctx, id, delta.TombstoneMap[id])
		if err != nil {
			return result, err
		}
		if applied {
			result.Removed = append(result.Removed, id)
		} else {
			result.Skipped++
		}
	}

	return result, nil
}

func (m *LWWMap) mergeDocument(ctx context.Context, remote *api.Document) (bool, error) {
	if err := remote.Compact(); err != nil {
		return false, fmt.Errorf("%w: %v", storage.ErrInvalidDocument, err)
	}

	deletedAt, tombstoned, err := m.tombstones.GetTombstone(ctx, remote.ID)
	if err != nil {
		return false, err
	}
	if tombstoned {
		// При равенстве отметок побеждает добавление
		if remote.LastModified < deletedAt {
			return false, nil
		}
		if err := m.tombstones.DeleteTombstone(ctx, remote.ID); err != nil {
			return false, err
		}
	}

	local, err := m.collection.GetDocument(ctx, remote.ID)
	switch {
	case errors.Is(err, storage.ErrDocumentNotFound):
	case err != nil:
		return false, err
	case !remote.IsNewerThan(local):
		return false, nil
	}

	if err := m.collection.PutDocument(ctx, remote, models.SourceReplicator); err != nil {
		return false, fmt.Errorf("failed to put document %q: %w", remote.ID, err)
	}
	return true, nil
}

func (m *LWWMap) mergeTombstone(ctx context.Context, id string, deletedAt int64) (bool, error) {
	local, err := m.collection.GetDocument(ctx, id)
	switch {
	case errors.Is(err, storage.ErrDocumentNotFound):
	case err != nil:
		return false, err
	case deletedAt <= local.LastModified:
		return false, nil
	default:
		if err := m.collection.RemoveDocument(ctx, id, deletedAt, models.SourceReplicator); err != nil {
			return false, fmt.Errorf("failed to remove document %q: %w", id, err)
		}
	}

	existing, found, err := m.tombstones.GetTombstone(ctx, id)
	if err != nil {
		return false, err
	}
	if found && existing >= deletedAt {
		return false, nil
	}

	if err := m.tombstones.PutTombstone(ctx, id, deletedAt); err != nil {
		return false, err
	}
	return true, nil
}

// CreateTombstone записывает tombstone локально удаленного документа
func (m *LWWMap) CreateTombstone(ctx context.Context, id string, deletedAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, found, err := m.tombstones.GetTombstone(ctx, id)
	if err != nil {
		return err
	}
	if found && existing >= deletedAt {
		return nil
	}
	return m.tombstones.PutTombstone(ctx, id, deletedAt)
}

// ClearTombstone удаляет tombstone, перекрытый документом с отметкой upTo
func (m *LWWMap) ClearTombstone(ctx context.Context, id string, upTo int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, found, err := m.tombstones.GetTombstone(ctx, id)
	if err != nil || !found || existing > upTo {
		return err
	}
	return m.tombstones.DeleteTombstone(ctx, id)
}

// CollectGarbage удаляет tombstones с отметкой меньше before.
// Tombstones из pending.Removed еще не подтверждены пиром и не удаляются.
// Возвращает удаленные id.
func (m *LWWMap) CollectGarbage(ctx context.Context, before int64, pending api.Receipt) (api.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	collected := api.NewReceipt()

	all, err := m.tombstones.Tombstones(ctx)
	if err != nil {
		return collected, err
	}

	keep := make(map[string]struct{}, len(pending.Removed))
	for _, id := range pending.Removed {
		keep[id] = struct{}{}
	}

	for id, ts := range all {
		if ts >= before {
			continue
		}
		if _, ok := keep[id]; ok {
			continue
		}
		if err := m.tombstones.DeleteTombstone(ctx, id); err != nil {
			return collected, err
		}
		collected.Removed = append(collected.Removed, id)
	}

	sort.Strings(collected.Removed)
	return collected, nil
}

// LastModifiedTime возвращает максимальную отметку среди документов и tombstones
func (m *LWWMap) LastModifiedTime(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	last, err := m.collection.MaxLastModified(ctx)
	if err != nil {
		return 0, err
	}

	all, err := m.tombstones.Tombstones(ctx)
	if err != nil {
		return 0, err
	}
	for _, ts := range all {
		last = max(last, ts)
	}

	return last, nil
}

// StateFor собирает текущее состояние ключей receipt для повторной отправки.
// Второе значение содержит id, которых больше нет ни среди документов, ни среди tombstones.
func (m *LWWMap) StateFor(ctx context.Context, receipt api.Receipt) (api.DeltaStates, api.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delta := api.NewDeltaStates()
	missing := api.NewReceipt()

	for _, id := range receipt.Added {
		doc, err := m.collection.GetDocument(ctx, id)
		if errors.Is(err, storage.ErrDocumentNotFound) {
			missing.Added = append(missing.Added, id)
			continue
		}
		if err != nil {
			return delta, missing, err
		}
		delta.ChangeSet = append(delta.ChangeSet, *doc)
	}

	for _, id := range receipt.Removed {
		ts, found, err := m.tombstones.GetTombstone(ctx, id)
		if err != nil {
			return delta, missing, err
		}
		if !found {
			missing.Removed = append(missing.Removed, id)
			continue
		}
		delta.TombstoneMap[id] = ts
	}

	return delta, missing, nil
}

func (m *LWWMap) takeSnapshot(ctx context.Context, since, until int64) (*pageSnapshot, error) {
	docs, err := m.collection.ModifiedBetween(ctx, since, until)
	if err != nil {
		return nil, err
	}
	all, err := m.tombstones.Tombstones(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]changeKey, 0, len(docs)+len(all))
	for _, doc := range docs {
		keys = append(keys, changeKey{id: doc.ID})
	}
	for id, ts := range all {
		if ts > since && ts <= until {
			keys = append(keys, changeKey{id: id, removed: true})
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].id != keys[j].id {
			return keys[i].id < keys[j].id
		}
		return !keys[i].removed && keys[j].removed
	})

	return &pageSnapshot{since: since, until: until, keys: keys}, nil
}
