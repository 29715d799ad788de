package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/iudanet/docsync/internal/server/storage"
	"github.com/iudanet/docsync/internal/transport"
)

// contextKey тип для ключей контекста
type contextKey string

// UsernameKey ключ для хранения subject токена в контексте
const UsernameKey contextKey = "username"

// GetUsername извлекает username из контекста запроса
func GetUsername(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(UsernameKey).(string)
	return username, ok
}

// DataGateHandler принимает websocket соединения реплик
type DataGateHandler struct {
	logger   *slog.Logger
	store    storage.ReplicaStore
	verifier TokenVerifier
	hub      *Hub
	upgrader websocket.Upgrader
	settings transport.Settings
	cfg      SessionConfig
}

// NewDataGateHandler creates a new datagate handler
func NewDataGateHandler(
	logger *slog.Logger,
	store storage.ReplicaStore,
	verifier TokenVerifier,
	hub *Hub,
	settings transport.Settings,
	cfg SessionConfig,
) *DataGateHandler {
	return &DataGateHandler{
		logger:   logger,
		store:    store,
		verifier: verifier,
		hub:      hub,
		settings: settings,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: settings.HandshakeTimeout,
			// реплики не браузерные клиенты, Origin не проверяем
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Connect обрабатывает GET /ws/datagate/{tenant}/{collection}/{user}
func (h *DataGateHandler) Connect(w http.ResponseWriter, r *http.Request) {
	key := keyFromPath(r)
	if err := key.Validate(); err != nil {
		h.logger.Warn("Invalid datagate path", "path", r.URL.Path)
		http.Error(w, "Bad Request: tenant, collection and user are required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	session := newSession(key, h.store, h.verifier, h.hub, h.cfg, h.logger)
	transport.Accept(conn, h.settings, session, h.logger)
}

// SessionsResponse ответ GET /api/v1/sessions
type SessionsResponse struct {
	Tenant     string `json:"tenant"`
	Collection string `json:"collection"`
	User       string `json:"user"`
	Sessions   int    `json:"sessions"`
}

// Sessions обрабатывает GET /api/v1/sessions/{tenant}/{collection}.
// Пользователь берется из токена (устанавливается AuthMiddleware).
func (h *DataGateHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	userName, ok := GetUsername(r.Context())
	if !ok {
		h.logger.Error("Username not found in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	key := storage.Key{
		Tenant:     r.PathValue("tenant"),
		Collection: r.PathValue("collection"),
		User:       userName,
	}
	if err := key.Validate(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	resp := SessionsResponse{
		Tenant:     key.Tenant,
		Collection: key.Collection,
		User:       key.User,
		Sessions:   h.hub.Count(key),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode sessions response", slog.Any("error", err))
	}
}

func keyFromPath(r *http.Request) storage.Key {
	return storage.Key{
		Tenant:     r.PathValue("tenant"),
		Collection: r.PathValue("collection"),
		User:       r.PathValue("user"),
	}
}
