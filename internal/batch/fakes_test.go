package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/iudanet/docsync/internal/protocol"
	"github.com/iudanet/docsync/pkg/api"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFactory() *protocol.Factory {
	return protocol.NewFactory(protocol.Identity{
		Collection: "notes",
		ReplicaID:  "replica-1",
		UserName:   "alice",
		Tenant:     "acme",
	})
}

// memoryChanges отдает страницы из упорядоченного списка документов
type memoryChanges struct {
	docs []api.Document
	err  error
}

func newMemoryChanges(n int) *memoryChanges {
	c := &memoryChanges{}
	for i := 0; i < n; i++ {
		c.docs = append(c.docs, api.Document{
			ID:           fmt.Sprintf("doc-%02d", i),
			Content:      json.RawMessage(`{}`),
			LastModified: int64(i + 1),
		})
	}
	return c
}

func (c *memoryChanges) GetChangesSince(_ context.Context, since, until int64, offset, limit int) (api.DeltaStates, error) {
	page := api.NewDeltaStates()
	if c.err != nil {
		return page, c.err
	}

	var window []api.Document
	for _, doc := range c.docs {
		if doc.LastModified > since && doc.LastModified <= until {
			window = append(window, doc)
		}
	}
	if offset >= len(window) {
		return page, nil
	}
	page.ChangeSet = append(page.ChangeSet, window[offset:min(offset+limit, len(window))]...)
	return page, nil
}

func (c *memoryChanges) StateFor(_ context.Context, receipt api.Receipt) (api.DeltaStates, api.Receipt, error) {
	state := api.NewDeltaStates()
	missing := api.NewReceipt()

	byID := make(map[string]api.Document, len(c.docs))
	for _, doc := range c.docs {
		byID[doc.ID] = doc
	}
	for _, id := range receipt.Added {
		if doc, ok := byID[id]; ok {
			state.ChangeSet = append(state.ChangeSet, doc)
		} else {
			missing.Added = append(missing.Added, id)
		}
	}
	missing.Removed = append(missing.Removed, receipt.Removed...)
	return state, missing, nil
}

// memoryJournal хранит receipt в памяти и считает записи
type memoryJournal struct {
	receipt   api.Receipt
	writes    int
	writeOffs []api.Receipt
	mu        sync.Mutex
}

func newMemoryJournal() *memoryJournal {
	return &memoryJournal{receipt: api.NewReceipt()}
}

func (j *memoryJournal) Write(_ context.Context, state api.DeltaStates) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.writes++
	j.receipt = j.receipt.Merge(state.Receipt())
	return nil
}

func (j *memoryJournal) WriteOff(_ context.Context, receipt api.Receipt) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.writeOffs = append(j.writeOffs, receipt)
	j.receipt = j.receipt.Subtract(receipt)
	return nil
}

func (j *memoryJournal) FinalReceipt(context.Context) (api.Receipt, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.receipt, nil
}

// recordingOutbox запоминает отправленные сообщения
type recordingOutbox struct {
	onSend   func(msg api.DataGateMessage)
	err      error
	messages []api.DataGateMessage
	mu       sync.Mutex
}

func (o *recordingOutbox) Send(_ context.Context, msg api.DataGateMessage) error {
	o.mu.Lock()
	if o.err != nil {
		o.mu.Unlock()
		return o.err
	}
	o.messages = append(o.messages, msg)
	onSend := o.onSend
	o.mu.Unlock()

	if onSend != nil {
		onSend(msg)
	}
	return nil
}

func (o *recordingOutbox) types() []api.MessageType {
	o.mu.Lock()
	defer o.mu.Unlock()

	result := make([]api.MessageType, 0, len(o.messages))
	for _, msg := range o.messages {
		result = append(result, msg.GetHeader().MessageType)
	}
	return result
}
