package crdt

import (
	"sync"
	"time"
)

// Clock выдает строго возрастающие отметки времени в миллисекундах.
// Отметка близка к физическому времени, но никогда не повторяется и не идет назад:
// Now() = max(wall, last+1). Observe продвигает часы за отметки, полученные от пира,
// как в алгоритме Лампорта.
type Clock struct {
	now  func() time.Time // источник физического времени
	last int64            // последняя выданная отметка
	mu   sync.Mutex       // мьютекс для потокобезопасности
}

// NewClock создает часы на основе time.Now
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockWithSource создает часы с заданным источником времени.
// Используется для тестирования.
func NewClockWithSource(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Now возвращает новую отметку времени для локального события
func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.now().UnixMilli()
	if wall <= c.last {
		wall = c.last + 1
	}
	c.last = wall
	return wall
}

// Observe учитывает отметку, полученную от другой реплики,
// чтобы следующая локальная отметка была строго больше нее
func (c *Clock) Observe(remote int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if remote > c.last {
		c.last = remote
	}
}

// Last возвращает последнюю выданную или учтенную отметку без изменения часов
func (c *Clock) Last() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.last
}
