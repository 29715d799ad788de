// Package events публикует события жизненного цикла репликации подписчикам.
package events

import (
	"sort"
	"sync"
	"time"
)

// Type тип события репликации
type Type string

const (
	Started   Type = "started"   // Started соединение открыто, отправлен Connect
	Stopped   Type = "stopped"   // Stopped репликация остановлена
	Error     Type = "error"     // Error ошибка; событие публикуется до любых действий по остановке
	Completed Type = "completed" // Completed проход синхронизации подтвержден пиром
	Received  Type = "received"  // Received проход пира получен целиком
)

// Event событие репликации
type Event struct {
	Err        error
	Type       Type
	Collection string
	Reason     string // Reason причина остановки
	Timestamp  time.Time
}

// Listener получает события. Вызывается синхронно, не должен блокироваться.
type Listener func(Event)

// Bus шина событий одной реплики
type Bus struct {
	listeners map[int]Listener
	nextID    int
	mu        sync.RWMutex
}

// NewBus создает пустую шину
func NewBus() *Bus {
	return &Bus{listeners: make(map[int]Listener)}
}

// Subscribe регистрирует подписчика и возвращает функцию отписки
func (b *Bus) Subscribe(listener Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.listeners[id] = listener

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// Post доставляет событие подписчикам в порядке подписки
func (b *Bus) Post(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	ids := make([]int, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, b.listeners[id])
	}
	b.mu.RUnlock()

	for _, listener := range listeners {
		listener(event)
	}
}

// Close отписывает всех подписчиков
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listeners = make(map[int]Listener)
}
