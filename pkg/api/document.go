package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Document представляет реплицируемую запись коллекции.
// Содержимое непрозрачно для движка репликации: сравнивается только
// время изменения и (при равенстве) байты содержимого.
type Document struct {
	ID           string          `json:"id"`                // ID уникальный идентификатор документа
	Content      json.RawMessage `json:"content,omitempty"` // Content тело документа (JSON)
	LastModified int64           `json:"lastModified"`      // LastModified время изменения в миллисекундах
}

// IsNewerThan сравнивает две версии документа по правилу LWW.
// 1. Больший LastModified выигрывает
// 2. При равных LastModified выигрывает лексикографически большее содержимое,
// поэтому результат не зависит от порядка доставки.
// Возвращает true, если d строго новее other.
func (d *Document) IsNewerThan(other *Document) bool {
	if d.LastModified != other.LastModified {
		return d.LastModified > other.LastModified
	}
	return bytes.Compare(d.Content, other.Content) > 0
}

// Compact приводит содержимое к компактному виду JSON,
// чтобы одинаковые документы совпадали побайтно.
func (d *Document) Compact() error {
	if len(d.Content) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, d.Content); err != nil {
		return fmt.Errorf("failed to compact content of %q: %w", d.ID, err)
	}
	d.Content = buf.Bytes()
	return nil
}

// Clone создает глубокую копию документа
func (d *Document) Clone() *Document {
	content := make(json.RawMessage, len(d.Content))
	copy(content, d.Content)

	return &Document{
		ID:           d.ID,
		Content:      content,
		LastModified: d.LastModified,
	}
}

// DeltaStates is a bounded page of CRDT state exchanged between replicas.
type DeltaStates struct {
	TombstoneMap map[string]int64 `json:"tombstoneMap"`
	ChangeSet    []Document       `json:"changeSet"`
}

// NewDeltaStates returns an empty, non-nil delta.
func NewDeltaStates() DeltaStates {
	return DeltaStates{
		ChangeSet:    []Document{},
		TombstoneMap: map[string]int64{},
	}
}

// Size returns the number of keys carried by the delta.
func (s DeltaStates) Size() int {
	return len(s.ChangeSet) + len(s.TombstoneMap)
}

// IsEmpty reports whether the delta carries no keys.
func (s DeltaStates) IsEmpty() bool {
	return s.Size() == 0
}

// Receipt returns the ids carried by the delta.
func (s DeltaStates) Receipt() Receipt {
	receipt := NewReceipt()
	for _, doc := range s.ChangeSet {
		receipt.Added = append(receipt.Added, doc.ID)
	}
	for id := range s.TombstoneMap {
		receipt.Removed = append(receipt.Removed, id)
	}
	receipt.normalize()
	return receipt
}

// Receipt содержит идентификаторы, отправленные пиру, но ещё не подтверждённые им.
// Added - документы, Removed - tombstones.
type Receipt struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// NewReceipt returns an empty, non-nil receipt.
func NewReceipt() Receipt {
	return Receipt{Added: []string{}, Removed: []string{}}
}

// IsEmpty reports whether nothing is outstanding.
func (r Receipt) IsEmpty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0
}

// Merge adds the ids of other into r (set union).
func (r Receipt) Merge(other Receipt) Receipt {
	merged := Receipt{
		Added:   append(append([]string{}, r.Added...), other.Added...),
		Removed: append(append([]string{}, r.Removed...), other.Removed...),
	}
	merged.normalize()
	return merged
}

// Subtract removes the ids of other from r (set difference).
func (r Receipt) Subtract(other Receipt) Receipt {
	result := Receipt{
		Added:   difference(r.Added, other.Added),
		Removed: difference(r.Removed, other.Removed),
	}
	result.normalize()
	return result
}

// normalize сортирует и удаляет дубликаты, чтобы receipt вел себя как множество
func (r *Receipt) normalize() {
	r.Added = uniqueSorted(r.Added)
	r.Removed = uniqueSorted(r.Removed)
}

func uniqueSorted(ids []string) []string {
	result := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

func difference(ids, remove []string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, id := range remove {
		drop[id] = struct{}{}
	}

	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := drop[id]; !ok {
			result = append(result, id)
		}
	}
	return result
}
