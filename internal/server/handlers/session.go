package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/iudanet/docsync/internal/dispatch"
	"github.com/iudanet/docsync/internal/protocol"
	"github.com/iudanet/docsync/internal/server/storage"
	"github.com/iudanet/docsync/internal/transport"
	"github.com/iudanet/docsync/pkg/api"
)

// ServerReplicaID подписывает заголовки сообщений DataGate
const ServerReplicaID = "datagate"

// ReasonUnauthorized причина отказа в Connect
const ReasonUnauthorized = "Unauthorized"

var errNotConnected = errors.New("session is not connected")

// TokenVerifier проверяет токен из Connect
type TokenVerifier interface {
	Verify(token string) (*gojwt.RegisteredClaims, error)
}

// SessionConfig параметры сессии DataGate
type SessionConfig struct {
	// BatchSize размер страницы прохода сервера
	BatchSize int
	// TombstoneTTL сообщается реплике в ConnectAck; 0 - без сборки мусора
	TombstoneTTL time.Duration
}

// Session обслуживает одно websocket соединение реплики.
// Сообщения обрабатываются по одному в порядке получения.
type Session struct {
	ctx        context.Context
	store      storage.ReplicaStore
	verifier   TokenVerifier
	hub        *Hub
	factory    *protocol.Factory
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	socket     *transport.Socket
	cancel     context.CancelFunc
	key        storage.Key
	origin     string // идентификатор реплики из Connect
	cfg        SessionConfig
	codec      protocol.Codec
	mu         sync.RWMutex // защищает socket и origin
	closeOnce  sync.Once
	authorized atomic.Bool
	streaming  atomic.Bool // проход сервера отправлен, можно пересылать feed
}

func newSession(key storage.Key, store storage.ReplicaStore, verifier TokenVerifier, hub *Hub, cfg SessionConfig, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ctx:      ctx,
		cancel:   cancel,
		key:      key,
		store:    store,
		verifier: verifier,
		hub:      hub,
		cfg:      cfg,
		logger:   logger.With("session", key.String()),
		factory: protocol.NewFactory(protocol.Identity{
			Collection: key.Collection,
			ReplicaID:  ServerReplicaID,
			UserName:   key.User,
			Tenant:     key.Tenant,
		}),
	}
	s.dispatcher = dispatch.New(dispatch.Config{
		Handlers:     s,
		FeedExchange: func() bool { return true },
		OnError:      s.onHandlerError,
		Logger:       s.logger,
		Workers:      1,
	})
	return s
}

// Origin возвращает идентификатор подключенной реплики
func (s *Session) Origin() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.origin
}

// Close закрывает соединение сессии
func (s *Session) Close(reason string) {
	s.mu.RLock()
	socket := s.socket
	s.mu.RUnlock()

	if socket != nil {
		socket.Close(reason)
	}
}

// OnOpen implements transport.Listener.
func (s *Session) OnOpen(socket *transport.Socket) {
	s.mu.Lock()
	s.socket = socket
	s.mu.Unlock()

	s.logger.Debug("Session opened")
}

// OnMessage implements transport.Listener.
func (s *Session) OnMessage(data []byte) {
	msg, err := s.codec.Decode(data)
	if err == nil {
		err = protocol.Validate(msg)
	}
	if err != nil {
		s.logger.Warn("Invalid message", "error", err)
		s.send(s.factory.Error("", err.Error()))
		return
	}

	if err := s.dispatcher.Dispatch(s.ctx, msg); err != nil {
		s.logger.Warn("Failed to dispatch message", "error", err)
		s.send(s.factory.Error(msg.GetHeader().TransactionID, err.Error()))
	}
}

// OnFailure implements transport.Listener.
func (s *Session) OnFailure(err error) {
	s.logger.Warn("Session failed", "error", err)
	s.teardown()
}

// OnClosed implements transport.Listener.
func (s *Session) OnClosed(code int, reason string) {
	s.logger.Debug("Session closed", "code", code, "reason", reason)
	s.teardown()
}

func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		s.hub.remove(s)
		s.cancel()
		s.dispatcher.Close()
	})
}

func (s *Session) onHandlerError(msg api.DataGateMessage, err error) {
	s.logger.Error("Message handler failed",
		"message_type", string(msg.GetHeader().MessageType),
		"error", err)
	s.send(s.factory.Error(msg.GetHeader().TransactionID, err.Error()))
}

func (s *Session) send(msg api.DataGateMessage) {
	s.mu.RLock()
	socket := s.socket
	s.mu.RUnlock()

	if socket == nil {
		return
	}

	data, err := s.codec.Encode(msg)
	if err != nil {
		s.logger.Error("Failed to encode message", "error", err)
		return
	}
	if err := socket.Send(data); err != nil {
		s.logger.Warn("Failed to send message",
			"message_type", string(msg.GetHeader().MessageType),
			"error", err)
	}
}

// relay пересылает изменения другой реплики как DataGateFeed.
// Timestamp заголовка - серверная отметка synced, по ней реплика ведет checkpoint.
func (s *Session) relay(delta api.DeltaStates, synced int64) {
	if !s.streaming.Load() {
		return
	}
	msg := s.factory.DataGateFeed(protocol.NewTransactionID(), delta)
	msg.Header.Timestamp = synced
	s.send(msg)
}

// HandleConnect проверяет токен: subject должен совпадать с пользователем пути и заголовка
func (s *Session) HandleConnect(_ context.Context, msg *api.Connect) error {
	tx := msg.Header.TransactionID

	if err := s.authorize(msg); err != nil {
		s.logger.Warn("Connect rejected", "error", err)
		s.send(s.factory.Error(tx, ReasonUnauthorized))
		return nil
	}

	s.mu.Lock()
	s.origin = msg.Header.Origin
	s.mu.Unlock()

	s.authorized.Store(true)
	s.streaming.Store(false)
	s.hub.add(s)

	s.logger.Info("Replica connected", "replica_id", msg.Header.Origin)
	s.send(s.factory.ConnectAck(tx, s.cfg.TombstoneTTL.Milliseconds()))
	return nil
}

func (s *Session) authorize(msg *api.Connect) error {
	h := msg.Header
	if h.UserName != s.key.User || h.Collection != s.key.Collection || h.Tenant != s.key.Tenant {
		return fmt.Errorf("header %s/%s@%s does not match session", h.Tenant, h.UserName, h.Collection)
	}

	claims, err := s.verifier.Verify(msg.AuthToken)
	if err != nil {
		return err
	}
	if claims.Subject != s.key.User {
		return fmt.Errorf("token subject %q does not match user %q", claims.Subject, s.key.User)
	}
	return nil
}

// requireConnected отвечает Error на сообщения до подтвержденного Connect
func (s *Session) requireConnected(header *api.MessageHeader) error {
	if s.authorized.Load() {
		return nil
	}
	s.send(s.factory.Error(header.TransactionID, ReasonUnauthorized))
	return errNotConnected
}

func (s *Session) HandleConnectAck(_ context.Context, _ *api.ConnectAck) error {
	s.logger.Debug("Unexpected connect ack")
	return nil
}

func (s *Session) HandleDisconnect(_ context.Context, _ *api.Disconnect) error {
	s.logger.Info("Replica disconnected", "replica_id", s.Origin())
	s.Close("client disconnect")
	return nil
}

func (s *Session) HandleBatchChangeStart(ctx context.Context, msg *api.BatchChangeStart) error {
	return s.mergeBatch(ctx, msg.Header, msg.Feed)
}

func (s *Session) HandleBatchChangeContinue(ctx context.Context, msg *api.BatchChangeContinue) error {
	return s.mergeBatch(ctx, msg.Header, msg.Feed)
}

func (s *Session) mergeBatch(ctx context.Context, header *api.MessageHeader, feed api.DeltaStates) error {
	if err := s.requireConnected(header); err != nil {
		return nil
	}

	result, err := s.store.Merge(ctx, s.key, s.Origin(), feed)
	if err != nil {
		return fmt.Errorf("failed to merge batch: %w", err)
	}

	s.send(s.factory.BatchAck(header.TransactionID, result.Receipt))
	s.hub.Broadcast(s, result.Applied, result.Synced)
	return nil
}

// HandleBatchChangeEnd подтверждает проход реплики и отправляет ей изменения
// с отметками synced в (LastSynced, now]
func (s *Session) HandleBatchChangeEnd(ctx context.Context, msg *api.BatchChangeEnd) error {
	if err := s.requireConnected(msg.Header); err != nil {
		return nil
	}
	s.send(s.factory.BatchEndAck(msg.Header.TransactionID))

	if err := s.sendChanges(ctx, msg.LastSynced); err != nil {
		return err
	}
	s.streaming.Store(true)
	return nil
}

func (s *Session) sendChanges(ctx context.Context, since int64) error {
	tx := protocol.NewTransactionID()
	until := s.store.Now()
	batchSize := s.cfg.BatchSize

	afterID := ""
	first := true
	pages := 0
	for {
		page, err := s.store.ChangesSince(ctx, s.key, s.Origin(), since, until, afterID, batchSize)
		if err != nil {
			return fmt.Errorf("failed to read changes: %w", err)
		}

		if first {
			s.send(s.factory.BatchChangeStart(tx, page.Delta, batchSize, since, until))
			first = false
		} else {
			s.send(s.factory.BatchChangeContinue(tx, page.Delta, batchSize, since, until))
		}
		pages++

		if !page.More {
			break
		}
		afterID = page.LastID
	}

	s.send(s.factory.BatchChangeEnd(tx, batchSize, since, until, 0))
	s.logger.Debug("Server pass sent",
		"transaction_id", tx,
		"start_time", since,
		"end_time", until,
		"pages", pages)
	return nil
}

func (s *Session) HandleBatchAck(_ context.Context, msg *api.BatchAck) error {
	s.logger.Debug("Batch acknowledged",
		"transaction_id", msg.Header.TransactionID,
		"added", len(msg.Receipt.Added),
		"removed", len(msg.Receipt.Removed))
	return nil
}

func (s *Session) HandleBatchEndAck(_ context.Context, msg *api.BatchEndAck) error {
	s.logger.Debug("Server pass acknowledged", "transaction_id", msg.Header.TransactionID)
	return nil
}

func (s *Session) HandleDataGateFeed(ctx context.Context, msg *api.DataGateFeed) error {
	if err := s.requireConnected(msg.Header); err != nil {
		return nil
	}

	result, err := s.store.Merge(ctx, s.key, s.Origin(), msg.Feed)
	if err != nil {
		return fmt.Errorf("failed to merge feed: %w", err)
	}

	s.send(s.factory.DataGateFeedAck(msg.Header.TransactionID, result.Receipt))
	s.hub.Broadcast(s, result.Applied, result.Synced)
	return nil
}

func (s *Session) HandleDataGateFeedAck(_ context.Context, msg *api.DataGateFeedAck) error {
	s.logger.Debug("Feed acknowledged", "transaction_id", msg.Header.TransactionID)
	return nil
}

func (s *Session) HandleError(_ context.Context, msg *api.Error) error {
	s.logger.Warn("Replica reported error", "reason", msg.Reason)
	return nil
}

var (
	_ dispatch.Handlers       = (*Session)(nil)
	_ dispatch.ConnectHandler = (*Session)(nil)
	_ transport.Listener      = (*Session)(nil)
)
