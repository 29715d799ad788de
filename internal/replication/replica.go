package replication

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/docsync/internal/config"
	"github.com/iudanet/docsync/internal/events"
	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/storage"
	"github.com/iudanet/docsync/internal/storage/boltdb"
	"github.com/iudanet/docsync/internal/transport"
	"github.com/iudanet/docsync/pkg/api"
)

// Replica реплицирует одну коллекцию с DataGate.
// Переподключение выполняет поллер: каждые pollingRate он проверяет соединение
// и, если оно не подтверждено, повторяет подключение.
type Replica struct {
	template    *Template
	logger      *slog.Logger
	unsubscribe func()
	stopPoller  context.CancelFunc
	pollerDone  chan struct{}
	replicaID   string
	mu          sync.Mutex // защищает поллер
	closed      bool
}

// New проверяет конфигурацию, назначает реплике постоянный идентификатор
// и подписывается на изменения коллекции. Соединение не открывается.
func New(
	ctx context.Context,
	cfg config.Config,
	collection storage.Collection,
	tombstones storage.TombstoneStore,
	metadata storage.MetadataStorage,
	registry *transport.Registry,
	logger *slog.Logger,
) (*Replica, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if collection.Name() != cfg.Collection {
		return nil, fmt.Errorf("collection %q does not match configured %q", collection.Name(), cfg.Collection)
	}
	if registry == nil {
		registry = transport.DefaultRegistry(cfg.TransportSettings())
	}

	meta, err := metadata.UpdateMetadata(ctx, func(m *models.Metadata) error {
		if m.ReplicaID == "" {
			m.ReplicaID = newReplicaID(cfg.ReplicaName)
		}
		if m.TombstoneMapName == "" {
			m.TombstoneMapName = cfg.TombstoneMapName()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize replica metadata: %w", err)
	}

	t := newTemplate(cfg, meta.ReplicaID, collection, tombstones, metadata, registry, logger)
	r := &Replica{
		template:  t,
		logger:    t.logger,
		replicaID: meta.ReplicaID,
	}
	r.unsubscribe = collection.Subscribe(&changeListener{t: t})

	return r, nil
}

// Open создает реплику коллекции bbolt хранилища.
// Карта tombstones берется из метаданных, если она уже назначена.
func Open(ctx context.Context, cfg config.Config, store *boltdb.Storage, registry *transport.Registry, logger *slog.Logger) (*Replica, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	collection, err := store.Collection(cfg.Collection)
	if err != nil {
		return nil, err
	}

	metadata := store.Metadata(cfg.Collection)
	meta, err := metadata.LoadMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load replica metadata: %w", err)
	}
	mapName := meta.TombstoneMapName
	if mapName == "" {
		mapName = cfg.TombstoneMapName()
	}

	tombstones, err := store.Tombstones(mapName)
	if err != nil {
		return nil, err
	}

	return New(ctx, cfg, collection, tombstones, metadata, registry, logger)
}

func newReplicaID(name string) string {
	if name == "" {
		return uuid.NewString()
	}
	return fmt.Sprintf("%s[%s]", name, uuid.NewString())
}

// ReplicaID returns the persistent replica identifier.
func (r *Replica) ReplicaID() string {
	return r.replicaID
}

// Connect запускает поллер подключения и сразу возвращается.
// Ошибки сети публикуются событиями. Повторный вызов ничего не делает.
func (r *Replica) Connect(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.stopPoller != nil {
		return
	}

	pollCtx, cancel := context.WithCancel(ctx)
	r.stopPoller = cancel
	r.pollerDone = make(chan struct{})
	go r.poll(pollCtx, r.pollerDone)
}

// Disconnect отправляет Disconnect, останавливает репликацию и поллер
func (r *Replica) Disconnect(ctx context.Context) {
	r.stopPolling()
	r.template.Disconnect(ctx)
}

// Close останавливает поллер и репликацию, отписывается от коллекции.
// Метаданные остаются для продолжения синхронизации.
func (r *Replica) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.stopPolling()
	r.unsubscribe()
	r.template.close()
}

// IsConnected reports whether the DataGate acknowledged the connection.
func (r *Replica) IsConnected() bool {
	return r.template.IsConnected()
}

// Subscribe регистрирует подписчика событий репликации
func (r *Replica) Subscribe(listener events.Listener) func() {
	return r.template.Subscribe(listener)
}

// CollectGarbage удаляет tombstones старше ttl
func (r *Replica) CollectGarbage(ctx context.Context, ttl time.Duration) (api.Receipt, error) {
	return r.template.CollectGarbage(ctx, ttl)
}

func (r *Replica) stopPolling() {
	r.mu.Lock()
	cancel, done := r.stopPoller, r.pollerDone
	r.stopPoller, r.pollerDone = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// poll проверяет соединение с периодом pollingRate; первая проверка сразу
func (r *Replica) poll(ctx context.Context, done chan struct{}) {
	defer close(done)

	rate := r.template.cfg.PollingRate.Duration
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	r.logger.Debug("Connection poller started", "polling_rate", rate)
	for {
		r.checkConnection(ctx)

		select {
		case <-ctx.Done():
			r.logger.Debug("Connection poller stopped")
			return
		case <-ticker.C:
		}
	}
}

func (r *Replica) checkConnection(ctx context.Context) {
	t := r.template
	if t.IsConnected() || t.connectInFlight() {
		return
	}
	t.Connect(ctx)
}
