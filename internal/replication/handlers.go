package replication

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iudanet/docsync/internal/events"
	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/syncerr"
	"github.com/iudanet/docsync/pkg/api"
)

// ErrUnauthorized is reported when the DataGate rejects the credentials.
var ErrUnauthorized = errors.New("datagate rejected credentials")

// handlers реализует dispatch.Handlers для стороны реплики
type handlers struct {
	t *Template
}

func (h *handlers) HandleConnectAck(ctx context.Context, msg *api.ConnectAck) error {
	t := h.t
	t.connected.Store(true)
	t.connecting.Store(0)
	t.logger.Info("Connected to DataGate", "tombstone_ttl", msg.TombstoneTTL)

	if _, err := t.CollectGarbage(ctx, time.Duration(msg.TombstoneTTL)*time.Millisecond); err != nil {
		return syncerr.Handler("connect ack", err, false)
	}
	return t.SendChanges(ctx)
}

func (h *handlers) HandleDisconnect(_ context.Context, _ *api.Disconnect) error {
	h.t.StopReplication("server disconnect")
	return nil
}

func (h *handlers) HandleBatchChangeStart(ctx context.Context, msg *api.BatchChangeStart) error {
	return h.mergeBatch(ctx, msg.Header, msg.Feed)
}

func (h *handlers) HandleBatchChangeContinue(ctx context.Context, msg *api.BatchChangeContinue) error {
	return h.mergeBatch(ctx, msg.Header, msg.Feed)
}

// mergeBatch применяет страницу пира и подтверждает ее receipt
func (h *handlers) mergeBatch(ctx context.Context, header *api.MessageHeader, feed api.DeltaStates) error {
	t := h.t

	result, err := t.crdt.Merge(ctx, feed)
	if err != nil {
		return syncerr.Handler("merge batch", err, true)
	}
	t.logger.Debug("Batch merged",
		"transaction_id", header.TransactionID,
		"updated", len(result.Updated),
		"removed", len(result.Removed),
		"skipped", result.Skipped)

	return t.Send(ctx, t.factory.BatchAck(header.TransactionID, feed.Receipt()))
}

func (h *handlers) HandleBatchChangeEnd(ctx context.Context, msg *api.BatchChangeEnd) error {
	t := h.t

	_, err := t.metadata.UpdateMetadata(ctx, func(m *models.Metadata) error {
		m.RemoteSyncTime = max(m.RemoteSyncTime, msg.EndTime)
		return nil
	})
	if err != nil {
		return syncerr.Handler("batch change end", err, false)
	}

	t.acceptCheckpoint.Store(true)
	if err := t.Send(ctx, t.factory.BatchEndAck(msg.Header.TransactionID)); err != nil {
		return err
	}
	t.post(events.Event{Type: events.Received})
	return nil
}

func (h *handlers) HandleBatchAck(ctx context.Context, msg *api.BatchAck) error {
	return h.t.journal.WriteOff(ctx, msg.Receipt)
}

func (h *handlers) HandleBatchEndAck(ctx context.Context, msg *api.BatchEndAck) error {
	t := h.t

	pass, ok := t.scheduler.Current()
	if !ok || pass.TransactionID != msg.Header.TransactionID {
		t.logger.Warn("Batch end ack for unknown pass", "transaction_id", msg.Header.TransactionID)
		return nil
	}

	_, err := t.metadata.UpdateMetadata(ctx, func(m *models.Metadata) error {
		m.LastSyncTime = max(m.LastSyncTime, pass.EndTime)
		return nil
	})
	if err != nil {
		return syncerr.Handler("batch end ack", err, false)
	}

	t.exchangeFlag.Store(true)
	t.logger.Info("Batch pass completed", "transaction_id", pass.TransactionID, "end_time", pass.EndTime)
	t.post(events.Event{Type: events.Completed})
	return nil
}

func (h *handlers) HandleDataGateFeed(ctx context.Context, msg *api.DataGateFeed) error {
	t := h.t

	if _, err := t.crdt.Merge(ctx, msg.Feed); err != nil {
		return syncerr.Handler("merge feed", err, true)
	}
	if err := t.Send(ctx, t.factory.DataGateFeedAck(msg.Header.TransactionID, msg.Feed.Receipt())); err != nil {
		return err
	}

	if !t.ShouldAcceptCheckpoint() {
		return nil
	}
	_, err := t.metadata.UpdateMetadata(ctx, func(m *models.Metadata) error {
		m.RemoteSyncTime = max(m.RemoteSyncTime, msg.Header.Timestamp)
		return nil
	})
	if err != nil {
		return syncerr.Handler("feed checkpoint", err, false)
	}
	return nil
}

func (h *handlers) HandleDataGateFeedAck(ctx context.Context, msg *api.DataGateFeedAck) error {
	return h.t.journal.WriteOff(ctx, msg.Receipt)
}

// HandleError публикует ошибку DataGate; отказ в авторизации останавливает репликацию
func (h *handlers) HandleError(_ context.Context, msg *api.Error) error {
	if isAuthFailure(msg.Reason) {
		return syncerr.Handler("datagate error", fmt.Errorf("%w: %s", ErrUnauthorized, msg.Reason), true)
	}
	return syncerr.Handler("datagate error", errors.New(msg.Reason), false)
}

func isAuthFailure(reason string) bool {
	reason = strings.ToLower(reason)
	return strings.Contains(reason, "unauthorized") || strings.Contains(reason, "forbidden")
}
