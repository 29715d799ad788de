// Package replication связывает CRDT, журнал, протокол и транспорт в цикл
// двусторонней синхронизации коллекции с DataGate.
package replication

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iudanet/docsync/internal/batch"
	"github.com/iudanet/docsync/internal/config"
	"github.com/iudanet/docsync/internal/crdt"
	"github.com/iudanet/docsync/internal/dispatch"
	"github.com/iudanet/docsync/internal/events"
	"github.com/iudanet/docsync/internal/journal"
	"github.com/iudanet/docsync/internal/protocol"
	"github.com/iudanet/docsync/internal/storage"
	"github.com/iudanet/docsync/internal/syncerr"
	"github.com/iudanet/docsync/internal/transport"
	"github.com/iudanet/docsync/pkg/api"
)

// Template держит состояние репликации одной коллекции:
// флаги соединения, активный socket, планировщик проходов и диспетчер.
type Template struct {
	ctx        context.Context
	collection storage.Collection
	metadata   storage.MetadataStorage
	registry   *transport.Registry
	logger     *slog.Logger
	crdt       *crdt.LWWMap
	journal    *journal.FeedJournal
	factory    *protocol.Factory
	sender     *batch.Sender
	scheduler  *batch.Scheduler
	dispatcher *dispatch.Dispatcher
	bus        *events.Bus
	socket     *transport.Socket
	now        func() time.Time
	cancel     context.CancelFunc
	cfg        config.Config
	codec      protocol.Codec
	mu         sync.Mutex // защищает socket

	connected        atomic.Bool
	exchangeFlag     atomic.Bool
	acceptCheckpoint atomic.Bool
	connecting       atomic.Int64 // connecting время начала попытки подключения в мс, 0 - нет попытки
}

func newTemplate(
	cfg config.Config,
	replicaID string,
	collection storage.Collection,
	tombstones storage.TombstoneStore,
	metadata storage.MetadataStorage,
	registry *transport.Registry,
	logger *slog.Logger,
) *Template {
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With("collection", cfg.Collection, "replica_id", replicaID)

	t := &Template{
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		collection: collection,
		metadata:   metadata,
		registry:   registry,
		logger:     logger,
		now:        time.Now,
		crdt:       crdt.NewLWWMap(collection, tombstones),
		journal:    journal.New(metadata),
		bus:        events.NewBus(),
		factory: protocol.NewFactory(protocol.Identity{
			Collection: cfg.Collection,
			ReplicaID:  replicaID,
			UserName:   cfg.UserName,
			Tenant:     cfg.Tenant,
		}),
	}

	t.sender = batch.NewSender(t.crdt, t.journal, t, t.factory, cfg.RetryPolicy(), cfg.ChunkSize, logger)
	t.scheduler = batch.NewScheduler(t.sender, cfg.Debounce.Duration, t.fail, logger)
	t.dispatcher = dispatch.New(dispatch.Config{
		Handlers:     &handlers{t: t},
		FeedExchange: t.ShouldExchangeFeed,
		OnError:      t.onHandlerError,
		Logger:       logger,
		Workers:      cfg.Workers,
	})

	return t
}

// IsConnected reports whether the DataGate acknowledged the current connection.
func (t *Template) IsConnected() bool {
	return t.connected.Load()
}

// ShouldExchangeFeed reports whether single changes are exchanged as DataGateFeed.
func (t *Template) ShouldExchangeFeed() bool {
	return t.exchangeFlag.Load()
}

// ShouldAcceptCheckpoint reports whether DataGateFeed timestamps advance the remote marker.
func (t *Template) ShouldAcceptCheckpoint() bool {
	return t.acceptCheckpoint.Load()
}

// Connect открывает соединение и отправляет Connect.
// Ошибки сети не возвращаются, а публикуются событием Error.
func (t *Template) Connect(ctx context.Context) {
	if t.hasSocket() {
		// предыдущая попытка не получила ConnectAck
		t.StopReplication("connect timeout")
	}
	t.connecting.Store(t.now().UnixMilli())

	url, err := t.cfg.DataGateURL()
	if err != nil {
		t.connecting.Store(0)
		t.fail(syncerr.Transport("connect", err))
		return
	}

	t.logger.Debug("Connecting to DataGate", "url", url)
	if _, err := transport.Open(ctx, url, nil, t.registry, t.cfg.TransportSettings(), &socketListener{t: t}, t.logger); err != nil {
		t.connecting.Store(0)
		t.post(events.Event{Type: events.Error, Err: syncerr.Transport("connect", err)})
		t.logger.Warn("Failed to connect to DataGate", "error", err)
	}
}

// connectInFlight reports whether a connect attempt younger than timeout awaits ConnectAck.
func (t *Template) connectInFlight() bool {
	started := t.connecting.Load()
	if started == 0 {
		return false
	}
	return t.now().UnixMilli()-started < t.cfg.Timeout.Milliseconds()
}

// Disconnect сообщает DataGate об отключении и останавливает репликацию
func (t *Template) Disconnect(ctx context.Context) {
	if t.IsConnected() {
		if err := t.Send(ctx, t.factory.Disconnect()); err != nil {
			t.logger.Debug("Failed to send disconnect", "error", err)
		}
	}
	t.StopReplication("user disconnect")
}

// StopReplication останавливает проход, закрывает соединение с причиной
// и сбрасывает флаги. Повторный вызов ничего не делает.
func (t *Template) StopReplication(reason string) {
	t.scheduler.Stop()

	socket := t.takeSocket(nil)
	if socket != nil {
		socket.Close(reason)
	}

	wasConnected := t.connected.Swap(false)
	t.exchangeFlag.Store(false)
	t.acceptCheckpoint.Store(false)
	t.connecting.Store(0)

	if socket == nil && !wasConnected {
		return
	}

	t.logger.Info("Replication stopped", "reason", reason)
	t.post(events.Event{Type: events.Stopped, Reason: reason})
}

// Send кодирует и отправляет сообщение. Без подтвержденного соединения
// возвращает фатальную ошибку IllegalState.
func (t *Template) Send(_ context.Context, msg api.DataGateMessage) error {
	if !t.IsConnected() {
		return syncerr.IllegalState(fmt.Sprintf("send %s", msg.GetHeader().MessageType))
	}

	t.mu.Lock()
	socket := t.socket
	t.mu.Unlock()
	if socket == nil {
		return syncerr.IllegalState(fmt.Sprintf("send %s", msg.GetHeader().MessageType))
	}

	return t.sendTo(socket, msg)
}

func (t *Template) sendTo(socket *transport.Socket, msg api.DataGateMessage) error {
	data, err := t.codec.Encode(msg)
	if err != nil {
		return err
	}
	if err := socket.Send(data); err != nil {
		return syncerr.Transport(fmt.Sprintf("send %s", msg.GetHeader().MessageType), err)
	}

	t.logger.Debug("Message sent",
		"message_type", string(msg.GetHeader().MessageType),
		"transaction_id", msg.GetHeader().TransactionID)
	return nil
}

// SendChanges запускает проход по локальным изменениям после LastSyncTime
func (t *Template) SendChanges(ctx context.Context) error {
	meta, err := t.metadata.LoadMetadata(ctx)
	if err != nil {
		return syncerr.Handler("send changes", err, true)
	}
	end, err := t.crdt.LastModifiedTime(ctx)
	if err != nil {
		return syncerr.Handler("send changes", err, true)
	}

	t.crdt.ResetCounter()
	pass := t.sender.Begin(protocol.NewTransactionID(), meta.Markers(), max(end, meta.LastSyncTime))

	t.logger.Debug("Scheduling batch pass",
		"transaction_id", pass.TransactionID,
		"start_time", pass.StartTime,
		"end_time", pass.EndTime)
	t.scheduler.Schedule(t.ctx, pass)
	return nil
}

// CollectGarbage удаляет tombstones старше ttl, кроме еще не подтвержденных пиром.
// Tombstones новее LastSyncTime не вошли ни в один подтвержденный проход и тоже остаются:
// окно прохода (start, end] закрывается отметкой LastSyncTime.
func (t *Template) CollectGarbage(ctx context.Context, ttl time.Duration) (api.Receipt, error) {
	if ttl <= 0 {
		return api.NewReceipt(), nil
	}

	pending, err := t.journal.FinalReceipt(ctx)
	if err != nil {
		return api.NewReceipt(), err
	}
	meta, err := t.metadata.LoadMetadata(ctx)
	if err != nil {
		return api.NewReceipt(), fmt.Errorf("failed to load replica metadata: %w", err)
	}

	before := min(t.now().Add(-ttl).UnixMilli(), meta.LastSyncTime+1)
	collected, err := t.crdt.CollectGarbage(ctx, before, pending)
	if err != nil {
		return collected, fmt.Errorf("failed to collect garbage: %w", err)
	}

	if len(collected.Removed) > 0 {
		t.logger.Info("Tombstones collected", "count", len(collected.Removed))
	}
	return collected, nil
}

// Subscribe регистрирует подписчика событий репликации
func (t *Template) Subscribe(listener events.Listener) func() {
	return t.bus.Subscribe(listener)
}

// close останавливает репликацию и все фоновые задачи.
// Метаданные коллекции сохраняются.
func (t *Template) close() {
	t.StopReplication("replica closed")
	t.cancel()
	t.dispatcher.Close()
	t.bus.Close()
}

// fail публикует ошибку и при фатальной ошибке останавливает репликацию
func (t *Template) fail(err error) {
	t.post(events.Event{Type: events.Error, Err: err})

	if syncerr.IsFatal(err) {
		t.logger.Error("Replication failed", "error", err)
		t.StopReplication(err.Error())
		return
	}
	t.logger.Warn("Replication error", "error", err)
}

func (t *Template) onHandlerError(msg api.DataGateMessage, err error) {
	t.logger.Debug("Handler failed", "message_type", string(msg.GetHeader().MessageType), "error", err)
	t.fail(err)
}

func (t *Template) post(event events.Event) {
	event.Collection = t.cfg.Collection
	t.bus.Post(event)
}

func (t *Template) hasSocket() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.socket != nil
}

func (t *Template) setSocket(socket *transport.Socket) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.socket = socket
}

// takeSocket снимает текущий socket. Если only не nil, socket снимается,
// только когда он совпадает с only; так события старого соединения
// не затрагивают новое.
func (t *Template) takeSocket(only *transport.Socket) *transport.Socket {
	t.mu.Lock()
	defer t.mu.Unlock()

	socket := t.socket
	if socket == nil || (only != nil && socket != only) {
		return nil
	}
	t.socket = nil
	return socket
}
