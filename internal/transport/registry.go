package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Dialer открывает websocket соединение по URL
type Dialer interface {
	Dial(ctx context.Context, rawURL string, header http.Header) (*websocket.Conn, error)
}

// DialerFunc adapts a function to Dialer
type DialerFunc func(ctx context.Context, rawURL string, header http.Header) (*websocket.Conn, error)

func (f DialerFunc) Dial(ctx context.Context, rawURL string, header http.Header) (*websocket.Conn, error) {
	return f(ctx, rawURL, header)
}

// WebsocketDialer dials with gorilla/websocket
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

// NewWebsocketDialer создает Dialer с таймаутом handshake
func NewWebsocketDialer(handshakeTimeout time.Duration) WebsocketDialer {
	return WebsocketDialer{Dialer: &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}}
}

func (d WebsocketDialer) Dial(ctx context.Context, rawURL string, header http.Header) (*websocket.Conn, error) {
	conn, _, err := d.Dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rawURL, err)
	}
	return conn, nil
}

// Registry сопоставляет схему URL реализации Dialer.
// Создается один раз и передается по ссылке.
type Registry struct {
	dialers map[string]Dialer
	mu      sync.RWMutex
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{dialers: make(map[string]Dialer)}
}

// DefaultRegistry регистрирует ws и wss
func DefaultRegistry(settings Settings) *Registry {
	r := NewRegistry()
	dialer := NewWebsocketDialer(settings.HandshakeTimeout)
	r.Register("ws", dialer)
	r.Register("wss", dialer)
	return r
}

// Register добавляет или заменяет Dialer схемы
func (r *Registry) Register(scheme string, dialer Dialer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dialers[scheme] = dialer
}

// Lookup возвращает Dialer схемы
func (r *Registry) Lookup(scheme string) (Dialer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dialer, ok := r.dialers[scheme]
	return dialer, ok
}
