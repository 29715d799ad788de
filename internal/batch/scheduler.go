package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Stepper выполняет переход прохода
type Stepper interface {
	Step(ctx context.Context, pass Pass) (Pass, error)
}

// Scheduler вызывает Step с периодом debounce, пока проход не завершится.
// Одновременно активен не более чем один проход: Schedule отменяет предыдущий.
type Scheduler struct {
	stepper  Stepper
	onError  func(error)
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	current  Pass
	debounce time.Duration
	mu       sync.Mutex
	started  bool
}

// NewScheduler создает планировщик. onError вызывается с ошибкой шага,
// после того как планировщик остановился.
func NewScheduler(stepper Stepper, debounce time.Duration, onError func(error), logger *slog.Logger) *Scheduler {
	return &Scheduler{
		stepper:  stepper,
		debounce: debounce,
		onError:  onError,
		logger:   logger,
	}
}

// Schedule запускает проход. Первый шаг выполняется сразу, следующие - по таймеру.
func (s *Scheduler) Schedule(ctx context.Context, pass Pass) {
	s.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.current = pass
	s.started = true
	s.mu.Unlock()

	go s.run(runCtx, pass, done)
}

// Stop отменяет активный проход и дожидается завершения его шага
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Current возвращает состояние последнего запущенного прохода
func (s *Scheduler) Current() (Pass, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current, s.started
}

// Running reports whether a pass is in flight.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cancel != nil
}

func (s *Scheduler) run(ctx context.Context, pass Pass, done chan struct{}) {
	ticker := time.NewTicker(s.debounce)
	defer ticker.Stop()

	var err error
	// Schedule мог прийти уже после отмены родительского контекста
	for ctx.Err() == nil {
		pass, err = s.stepper.Step(ctx, pass)
		s.setCurrent(ctx, pass)
		if err != nil || pass.Done() {
			break
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}

	// finish отменяет ctx, поэтому причину остановки фиксируем до него
	cancelled := ctx.Err() != nil
	s.finish(done)

	if err != nil && !cancelled {
		s.logger.Error("Batch step failed",
			"transaction_id", pass.TransactionID,
			"state", pass.State.String(),
			"error", err)
		if s.onError != nil {
			s.onError(err)
		}
	}
}

func (s *Scheduler) setCurrent(ctx context.Context, pass Pass) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Отмененный проход не перезаписывает состояние нового
	if ctx.Err() == nil {
		s.current = pass
	}
}

// finish снимает проход с учета и закрывает done
func (s *Scheduler) finish(done chan struct{}) {
	s.mu.Lock()
	if s.done == done {
		s.cancel()
		s.cancel, s.done = nil, nil
	}
	s.mu.Unlock()

	close(done)
}
