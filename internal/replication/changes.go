package replication

import (
	"context"

	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/protocol"
	"github.com/iudanet/docsync/internal/syncerr"
	"github.com/iudanet/docsync/pkg/api"
)

// changeListener переводит локальные изменения коллекции в состояние CRDT
// и, пока включен обмен feed, сразу отправляет их пиру
type changeListener struct {
	t *Template
}

func (l *changeListener) OnChange(ctx context.Context, event models.ChangeEvent) {
	if event.FromReplicator() || event.Document == nil {
		return
	}
	t := l.t
	id := event.Document.ID
	delta := api.NewDeltaStates()

	switch event.Type {
	case models.ChangeInsert, models.ChangeUpdate:
		if err := t.crdt.ClearTombstone(ctx, id, event.Document.LastModified); err != nil {
			t.fail(syncerr.Handler("local change", err, false))
			return
		}
		delta.ChangeSet = append(delta.ChangeSet, *event.Document.Clone())
	case models.ChangeRemove:
		if err := t.crdt.CreateTombstone(ctx, id, event.Timestamp); err != nil {
			t.fail(syncerr.Handler("local change", err, false))
			return
		}
		delta.TombstoneMap[id] = event.Timestamp
	default:
		return
	}

	if !t.ShouldExchangeFeed() {
		return
	}

	if err := t.journal.Write(ctx, delta); err != nil {
		t.fail(err)
		return
	}
	if err := t.Send(ctx, t.factory.DataGateFeed(protocol.NewTransactionID(), delta)); err != nil {
		t.fail(err)
	}
}
