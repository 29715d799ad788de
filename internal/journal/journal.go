// Package journal ведет учет изменений, отправленных пиру, но еще не подтвержденных им.
// Receipt хранится в метаданных коллекции, поэтому после перезапуска передача
// продолжается с неподтвержденных id, а не с начала (доставка at-least-once).
package journal

import (
	"context"
	"sync"

	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/storage"
	"github.com/iudanet/docsync/internal/syncerr"
	"github.com/iudanet/docsync/pkg/api"
)

// FeedJournal журнал отправленных изменений одной коллекции
type FeedJournal struct {
	metadata storage.MetadataStorage
	mu       sync.Mutex
}

// New создает журнал поверх метаданных коллекции
func New(metadata storage.MetadataStorage) *FeedJournal {
	return &FeedJournal{metadata: metadata}
}

// Write добавляет id документов и tombstones дельты в receipt
func (j *FeedJournal) Write(ctx context.Context, state api.DeltaStates) error {
	if state.IsEmpty() {
		return nil
	}
	return j.update(ctx, "journal write", func(receipt api.Receipt) api.Receipt {
		return receipt.Merge(state.Receipt())
	})
}

// WriteOff удаляет подтвержденные пиром id из receipt
func (j *FeedJournal) WriteOff(ctx context.Context, receipt api.Receipt) error {
	if receipt.IsEmpty() {
		return nil
	}
	return j.update(ctx, "journal write-off", func(current api.Receipt) api.Receipt {
		return current.Subtract(receipt)
	})
}

// FinalReceipt возвращает текущий неподтвержденный receipt
func (j *FeedJournal) FinalReceipt(ctx context.Context) (api.Receipt, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	meta, err := j.metadata.LoadMetadata(ctx)
	if err != nil {
		return api.NewReceipt(), syncerr.Handler("journal read", err, false)
	}
	return api.NewReceipt().Merge(meta.JournalReceipt), nil
}

func (j *FeedJournal) update(ctx context.Context, op string, fn func(api.Receipt) api.Receipt) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.metadata.UpdateMetadata(ctx, func(meta *models.Metadata) error {
		meta.JournalReceipt = fn(meta.JournalReceipt)
		return nil
	})
	if err != nil {
		return syncerr.Handler(op, err, false)
	}
	return nil
}
