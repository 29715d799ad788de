// Package transport реализует websocket соединение с DataGate.
// Запись выполняет отдельная горутина из буферизованного канала,
// чтение - горутина с дедлайном, который продлевается pong-ответами.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrSocketClosed is returned by Send after the socket is closed
	ErrSocketClosed = errors.New("socket is closed")

	// ErrBufferFull is returned by Send when the write buffer is full
	ErrBufferFull = errors.New("socket write buffer is full")

	// ErrUnknownScheme is returned by Open when no dialer is registered for the URL scheme
	ErrUnknownScheme = errors.New("no dialer for url scheme")
)

// Settings параметры соединения
type Settings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration // ReadTimeout должен быть больше PingInterval
	BufferSize       int
}

// DefaultSettings возвращает параметры по умолчанию
func DefaultSettings() Settings {
	return Settings{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		BufferSize:       256,
	}
}

// Listener получает события соединения.
// После OnOpen вызывается ровно одно из OnFailure или OnClosed.
type Listener interface {
	OnOpen(socket *Socket)
	OnMessage(data []byte)
	OnFailure(err error)
	OnClosed(code int, reason string)
}

// Socket websocket соединение
type Socket struct {
	conn        *websocket.Conn
	logger      *slog.Logger
	send        chan []byte
	cancel      context.CancelFunc
	writerDone  chan struct{}
	closeReason string
	settings    Settings
	closeOnce   sync.Once
	mu          sync.Mutex // защищает closeReason
	open        atomic.Bool
	closing     atomic.Bool
}

// Open устанавливает соединение, запускает обмен и вызывает listener.OnOpen.
// Dialer выбирается по схеме URL в registry.
func Open(ctx context.Context, rawURL string, header http.Header, registry *Registry, settings Settings, listener Listener, logger *slog.Logger) (*Socket, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url: %w", err)
	}
	dialer, ok := registry.Lookup(u.Scheme)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, u.Scheme)
	}

	dialCtx, cancel := context.WithTimeout(ctx, settings.HandshakeTimeout)
	defer cancel()

	conn, err := dialer.Dial(dialCtx, rawURL, header)
	if err != nil {
		return nil, err
	}

	s := newSocket(conn, settings, logger)
	s.start(listener)
	return s, nil
}

// Accept запускает обмен по соединению, принятому сервером
func Accept(conn *websocket.Conn, settings Settings, listener Listener, logger *slog.Logger) *Socket {
	s := newSocket(conn, settings, logger)
	s.start(listener)
	return s
}

func newSocket(conn *websocket.Conn, settings Settings, logger *slog.Logger) *Socket {
	if settings.BufferSize <= 0 {
		settings.BufferSize = DefaultSettings().BufferSize
	}
	return &Socket{
		conn:       conn,
		settings:   settings,
		logger:     logger,
		send:       make(chan []byte, settings.BufferSize),
		writerDone: make(chan struct{}),
	}
}

// Send ставит текстовое сообщение в очередь записи без ожидания
func (s *Socket) Send(data []byte) error {
	if !s.IsOpen() {
		return ErrSocketClosed
	}
	select {
	case s.send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// IsOpen reports whether the socket is open and not closing.
func (s *Socket) IsOpen() bool {
	return s.open.Load() && !s.closing.Load()
}

// Close дописывает сообщения из очереди, отправляет close frame с причиной
// и закрывает соединение. Повторные вызовы ничего не делают.
func (s *Socket) Close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeReason = reason
		s.mu.Unlock()
		s.closing.Store(true)

		s.cancel()
		select {
		case <-s.writerDone:
		case <-time.After(s.settings.WriteTimeout):
			s.logger.Debug("Writer did not drain in time")
		}

		deadline := time.Now().Add(s.settings.WriteTimeout)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, truncateReason(reason))
		if err := s.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			s.logger.Debug("Failed to send close frame", "error", err)
		}
		s.conn.Close()
	})
}

func (s *Socket) start(listener Listener) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.open.Store(true)

	go s.writeLoop(ctx)
	listener.OnOpen(s)
	go s.readLoop(ctx, listener)
}

func (s *Socket) writeLoop(ctx context.Context) {
	defer close(s.writerDone)

	ticker := time.NewTicker(s.settings.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.closing.Load() {
				s.drain()
			}
			return
		case data := <-s.send:
			if err := s.write(data); err != nil {
				// после ошибки записи соединение непригодно, читатель сообщит о сбое
				s.logger.Debug("Write failed", "error", err)
				s.conn.Close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(s.settings.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("Ping failed", "error", err)
				s.conn.Close()
				return
			}
		}
	}
}

func (s *Socket) write(data []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(s.settings.WriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// drain записывает сообщения, поставленные в очередь до Close
func (s *Socket) drain() {
	for {
		select {
		case data := <-s.send:
			if err := s.write(data); err != nil {
				s.logger.Debug("Write failed while closing", "error", err)
				return
			}
		default:
			return
		}
	}
}

func (s *Socket) readLoop(ctx context.Context, listener Listener) {
	defer func() {
		s.open.Store(false)
		s.cancel()
		s.conn.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.reportEnd(listener, err)
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))

		if messageType != websocket.TextMessage {
			continue
		}
		listener.OnMessage(data)
	}
}

// reportEnd сообщает о закрытии или сбое соединения
func (s *Socket) reportEnd(listener Listener, err error) {
	s.open.Store(false)

	if s.closing.Load() {
		s.mu.Lock()
		reason := s.closeReason
		s.mu.Unlock()
		listener.OnClosed(websocket.CloseNormalClosure, reason)
		return
	}

	// 1006 gorilla выставляет сам, когда соединение оборвалось без close frame
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
		listener.OnClosed(closeErr.Code, closeErr.Text)
		return
	}
	listener.OnFailure(err)
}

// Причина в close frame ограничена 123 байтами
func truncateReason(reason string) string {
	const maxReason = 123
	if len(reason) > maxReason {
		return reason[:maxReason]
	}
	return reason
}
