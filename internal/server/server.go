// Package server собирает эталонный DataGate: websocket endpoint репликации,
// health check и служебный API поверх хранилища реплик.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/iudanet/docsync/internal/server/handlers"
	"github.com/iudanet/docsync/internal/server/middleware"
	"github.com/iudanet/docsync/internal/server/storage"
	"github.com/iudanet/docsync/internal/transport"
)

// Store хранилище реплик с проверкой доступности
type Store interface {
	storage.ReplicaStore
	handlers.Pinger
}

// Options параметры сервера
type Options struct {
	Version string
	Session handlers.SessionConfig
	// ConnectRate число подключений клиента к одной коллекции за RateWindow; 0 - без ограничения
	ConnectRate     int
	RateWindow      time.Duration
	ShutdownTimeout time.Duration
	Settings        transport.Settings
}

// DefaultOptions возвращает параметры по умолчанию
func DefaultOptions() Options {
	return Options{
		Version: "dev",
		Session: handlers.SessionConfig{
			BatchSize:    100,
			TombstoneTTL: 30 * 24 * time.Hour,
		},
		ConnectRate:     30,
		RateWindow:      time.Minute,
		ShutdownTimeout: 10 * time.Second,
		Settings:        transport.DefaultSettings(),
	}
}

// Server HTTP сервер DataGate
type Server struct {
	handler http.Handler
	hub     *handlers.Hub
	limiter *middleware.RateLimiter
	logger  *slog.Logger
	opts    Options
}

// New собирает маршруты и middleware
func New(logger *slog.Logger, store Store, verifier handlers.TokenVerifier, opts Options) *Server {
	hub := handlers.NewHub()
	datagate := handlers.NewDataGateHandler(logger, store, verifier, hub, opts.Settings, opts.Session)
	health := handlers.NewHealthHandler(logger, store, opts.Version)

	s := &Server{
		hub:    hub,
		logger: logger,
		opts:   opts,
	}

	var connect http.Handler = http.HandlerFunc(datagate.Connect)
	if opts.ConnectRate > 0 {
		s.limiter = middleware.NewRateLimiter(opts.ConnectRate, opts.RateWindow, logger)
		connect = middleware.RateLimitMiddleware(s.limiter, middleware.ByClientAndPath)(connect)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.Health)
	mux.Handle("GET /ws/datagate/{tenant}/{collection}/{user}", connect)
	mux.Handle("GET /api/v1/sessions/{tenant}/{collection}",
		middleware.AuthMiddleware(logger, verifier)(http.HandlerFunc(datagate.Sessions)))

	s.handler = middleware.Chain(mux,
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingWithSkip(logger, []string{"/health"}),
	)
	return s
}

// Handler возвращает корневой http.Handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub возвращает реестр сессий
func (s *Server) Hub() *handlers.Hub {
	return s.hub
}

// Close закрывает открытые сессии и останавливает rate limiter
func (s *Server) Close() {
	s.hub.CloseAll("server shutdown")
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// ListenAndServe обслуживает addr до отмены ctx, затем корректно останавливается
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("DataGate listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("DataGate shutting down")
	// websocket соединения перехвачены и Shutdown их не ждет
	s.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to shutdown: %w", err)
	}
	return nil
}
