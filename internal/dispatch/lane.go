package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/iudanet/docsync/pkg/api"
)

// passLane выполняет страницы проходов пира по порядку получения.
// После упавшей страницы остальные сообщения той же транзакции
// пропускаются, чтобы End не сдвинул checkpoint поверх непримененных данных.
type passLane struct {
	logger *slog.Logger
	last   *laneStep
	mu     sync.Mutex
}

type laneStep struct {
	done          chan struct{}
	transactionID string
	failed        bool // пишется до close(done)
}

// ordered сообщает, идет ли сообщение через очередь проходов
func ordered(msg api.DataGateMessage) bool {
	switch msg.(type) {
	case *api.BatchChangeStart, *api.BatchChangeContinue, *api.BatchChangeEnd, *api.DataGateFeed:
		return true
	}
	return false
}

// chain ставит вызов в конец очереди. Вызывать в порядке получения сообщений,
// и только для вызова, который гарантированно будет запущен.
func (l *passLane) chain(transactionID string, call func(context.Context) error) func(context.Context) error {
	step := &laneStep{done: make(chan struct{}), transactionID: transactionID}

	l.mu.Lock()
	prev := l.last
	l.last = step
	l.mu.Unlock()

	return func(ctx context.Context) error {
		// паника обработчика тоже считается сбоем страницы
		failed := true
		defer func() {
			step.failed = failed
			close(step.done)
		}()

		if prev != nil {
			<-prev.done
			if prev.failed && transactionID != "" && prev.transactionID == transactionID {
				l.logger.Warn("Pass message skipped after failed page", "transaction_id", transactionID)
				return nil
			}
		}

		err := call(ctx)
		failed = err != nil
		return err
	}
}
