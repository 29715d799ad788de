package handlers

import (
	"sync"

	"github.com/iudanet/docsync/internal/server/storage"
	"github.com/iudanet/docsync/pkg/api"
)

// Hub реестр открытых сессий, сгруппированных по ключу реплики
type Hub struct {
	sessions map[storage.Key]map[*Session]struct{}
	mu       sync.RWMutex
}

// NewHub создает пустой реестр
func NewHub() *Hub {
	return &Hub{sessions: make(map[storage.Key]map[*Session]struct{})}
}

func (h *Hub) add(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.sessions[s.key]
	if !ok {
		group = make(map[*Session]struct{})
		h.sessions[s.key] = group
	}
	group[s] = struct{}{}
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group := h.sessions[s.key]
	delete(group, s)
	if len(group) == 0 {
		delete(h.sessions, s.key)
	}
}

// Broadcast рассылает примененные изменения остальным сессиям того же ключа
func (h *Hub) Broadcast(from *Session, delta api.DeltaStates, synced int64) {
	if delta.IsEmpty() {
		return
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions[from.key]))
	for s := range h.sessions[from.key] {
		if s != from {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.relay(delta, synced)
	}
}

// Count возвращает число сессий ключа
func (h *Hub) Count(key storage.Key) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.sessions[key])
}

// CloseAll закрывает все сессии, например при остановке сервера
func (h *Hub) CloseAll(reason string) {
	h.mu.RLock()
	var all []*Session
	for _, group := range h.sessions {
		for s := range group {
			all = append(all, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range all {
		s.Close(reason)
	}
}
