// Package dispatch направляет входящие сообщения DataGate обработчикам
// на ограниченном пуле горутин.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/iudanet/docsync/internal/syncerr"
	"github.com/iudanet/docsync/pkg/api"
)

//go:generate moq -out handlers_mock_test.go . Handlers

// Handlers обрабатывает по одному типу сообщений на метод
type Handlers interface {
	HandleConnectAck(ctx context.Context, msg *api.ConnectAck) error
	HandleDisconnect(ctx context.Context, msg *api.Disconnect) error
	HandleBatchChangeStart(ctx context.Context, msg *api.BatchChangeStart) error
	HandleBatchChangeContinue(ctx context.Context, msg *api.BatchChangeContinue) error
	HandleBatchChangeEnd(ctx context.Context, msg *api.BatchChangeEnd) error
	HandleBatchAck(ctx context.Context, msg *api.BatchAck) error
	HandleBatchEndAck(ctx context.Context, msg *api.BatchEndAck) error
	HandleDataGateFeed(ctx context.Context, msg *api.DataGateFeed) error
	HandleDataGateFeedAck(ctx context.Context, msg *api.DataGateFeedAck) error
	HandleError(ctx context.Context, msg *api.Error) error
}

// ConnectHandler принимает Connect. Реализуется только стороной DataGate;
// если обработчики его не реализуют, Connect отбрасывается.
type ConnectHandler interface {
	HandleConnect(ctx context.Context, msg *api.Connect) error
}

// Config параметры диспетчера
type Config struct {
	Handlers Handlers
	// FeedExchange сообщает, включен ли обмен DataGateFeed; nil - выключен
	FeedExchange func() bool
	// OnError получает ошибки обработчиков
	OnError func(msg api.DataGateMessage, err error)
	Logger  *slog.Logger
	// Workers размер пула; 0 - runtime.NumCPU()
	Workers int
}

// Dispatcher направляет сообщения обработчикам
type Dispatcher struct {
	handlers     Handlers
	feedExchange func() bool
	onError      func(msg api.DataGateMessage, err error)
	logger       *slog.Logger
	sem          *semaphore.Weighted
	wg           sync.WaitGroup
	lane         *passLane
	mu           sync.RWMutex // закрытие не пересекается с wg.Add
	closed       atomic.Bool
}

// New создает диспетчер
func New(cfg Config) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	feedExchange := cfg.FeedExchange
	if feedExchange == nil {
		feedExchange = func() bool { return false }
	}
	onError := cfg.OnError
	if onError == nil {
		onError = func(api.DataGateMessage, error) {}
	}

	return &Dispatcher{
		handlers:     cfg.Handlers,
		feedExchange: feedExchange,
		onError:      onError,
		logger:       cfg.Logger,
		sem:          semaphore.NewWeighted(int64(workers)),
		lane:         &passLane{logger: cfg.Logger},
	}
}

// Dispatch запускает обработчик сообщения на пуле.
// Блокируется, только если все горутины пула заняты.
// Страницы проходов пира и фиды выполняются строго по порядку вызовов Dispatch.
// Возвращает фатальную ошибку протокола для сообщения неизвестного типа.
func (d *Dispatcher) Dispatch(ctx context.Context, msg api.DataGateMessage) error {
	call, err := d.route(msg)
	if err != nil {
		return err
	}
	if call == nil {
		d.logger.Debug("Message dropped", "message_type", string(msg.GetHeader().MessageType))
		return nil
	}
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil
	}

	d.mu.RLock()
	if d.closed.Load() {
		d.mu.RUnlock()
		d.sem.Release(1)
		return nil
	}
	d.wg.Add(1)
	d.mu.RUnlock()

	// Предыдущий шаг очереди уже держит свой слот пула, поэтому ожидание не блокирует его
	if ordered(msg) {
		call = d.lane.chain(msg.GetHeader().TransactionID, call)
	}

	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)

		if err := d.invoke(ctx, call); err != nil {
			d.onError(msg, err)
		}
	}()

	return nil
}

// Close перестает принимать сообщения и ждет завершения запущенных обработчиков
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed.Store(true)
	d.mu.Unlock()

	d.wg.Wait()
}

// invoke вызывает обработчик; паника превращается в фатальную ошибку
func (d *Dispatcher) invoke(ctx context.Context, call func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = syncerr.Handler("dispatch", fmt.Errorf("handler panic: %v", r), true)
		}
	}()
	return call(ctx)
}

// route сопоставляет вариант сообщения обработчику.
// nil без ошибки - сообщение не применимо в текущем режиме и отбрасывается.
func (d *Dispatcher) route(msg api.DataGateMessage) (func(context.Context) error, error) {
	h := d.handlers

	switch m := msg.(type) {
	case *api.Connect:
		if ch, ok := h.(ConnectHandler); ok {
			return func(ctx context.Context) error { return ch.HandleConnect(ctx, m) }, nil
		}
		return nil, nil
	case *api.ConnectAck:
		return func(ctx context.Context) error { return h.HandleConnectAck(ctx, m) }, nil
	case *api.Disconnect:
		return func(ctx context.Context) error { return h.HandleDisconnect(ctx, m) }, nil
	case *api.BatchChangeStart:
		return func(ctx context.Context) error { return h.HandleBatchChangeStart(ctx, m) }, nil
	case *api.BatchChangeContinue:
		return func(ctx context.Context) error { return h.HandleBatchChangeContinue(ctx, m) }, nil
	case *api.BatchChangeEnd:
		return func(ctx context.Context) error { return h.HandleBatchChangeEnd(ctx, m) }, nil
	case *api.BatchAck:
		return func(ctx context.Context) error { return h.HandleBatchAck(ctx, m) }, nil
	case *api.BatchEndAck:
		return func(ctx context.Context) error { return h.HandleBatchEndAck(ctx, m) }, nil
	case *api.DataGateFeed:
		if !d.feedExchange() {
			return nil, nil
		}
		return func(ctx context.Context) error { return h.HandleDataGateFeed(ctx, m) }, nil
	case *api.DataGateFeedAck:
		if !d.feedExchange() {
			return nil, nil
		}
		return func(ctx context.Context) error { return h.HandleDataGateFeedAck(ctx, m) }, nil
	case *api.Error:
		return func(ctx context.Context) error { return h.HandleError(ctx, m) }, nil
	}

	return nil, syncerr.Protocolf("no handler for message %T", msg)
}
