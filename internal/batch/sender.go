package batch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/protocol"
	"github.com/iudanet/docsync/pkg/api"
)

//go:generate moq -out mocks_test.go . ChangeSource Journal Outbox

// ChangeSource отдает страницы изменений CRDT
type ChangeSource interface {
	GetChangesSince(ctx context.Context, since, until int64, offset, limit int) (api.DeltaStates, error)
	StateFor(ctx context.Context, receipt api.Receipt) (api.DeltaStates, api.Receipt, error)
}

// Journal учитывает отправленные, но не подтвержденные id
type Journal interface {
	Write(ctx context.Context, state api.DeltaStates) error
	WriteOff(ctx context.Context, receipt api.Receipt) error
	FinalReceipt(ctx context.Context) (api.Receipt, error)
}

// Outbox отправляет сообщение пиру без ожидания ответа
type Outbox interface {
	Send(ctx context.Context, msg api.DataGateMessage) error
}

// Sender выполняет переходы прохода
type Sender struct {
	changes   ChangeSource
	journal   Journal
	outbox    Outbox
	retry     RetryPolicy
	factory   *protocol.Factory
	logger    *slog.Logger
	chunkSize int
}

// NewSender создает Sender. Если retry nil, используется DefaultRetryPolicy.
func NewSender(
	changes ChangeSource,
	journal Journal,
	outbox Outbox,
	factory *protocol.Factory,
	retry RetryPolicy,
	chunkSize int,
	logger *slog.Logger,
) *Sender {
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	return &Sender{
		changes:   changes,
		journal:   journal,
		outbox:    outbox,
		retry:     retry,
		factory:   factory,
		logger:    logger,
		chunkSize: chunkSize,
	}
}

// Begin создает проход окна (markers.LocalNext, end]
func (s *Sender) Begin(transactionID string, markers models.Markers, end int64) Pass {
	return Pass{
		TransactionID: transactionID,
		StartTime:     markers.LocalNext,
		EndTime:       end,
		LastSynced:    markers.RemoteNext,
		State:         ReadyToSend,
	}
}

// Step выполняет один переход и возвращает новое состояние прохода.
// При ошибке возвращается исходное состояние.
func (s *Sender) Step(ctx context.Context, pass Pass) (Pass, error) {
	switch pass.State {
	case ReadyToSend:
		return s.sendStart(ctx, pass)
	case StartSent:
		return s.sendNext(ctx, pass)
	case ChangesSent:
		return pass, nil
	}
	return pass, fmt.Errorf("unknown batch state %s", pass.State)
}

func (s *Sender) sendStart(ctx context.Context, pass Pass) (Pass, error) {
	page, err := s.changes.GetChangesSince(ctx, pass.StartTime, pass.EndTime, 0, s.chunkSize)
	if err != nil {
		return pass, fmt.Errorf("failed to read first page: %w", err)
	}

	if err := s.journal.Write(ctx, page); err != nil {
		return pass, err
	}
	msg := s.factory.BatchChangeStart(pass.TransactionID, page, s.chunkSize, pass.StartTime, pass.EndTime)
	if err := s.outbox.Send(ctx, msg); err != nil {
		return pass, err
	}

	s.logger.Debug("Batch started",
		"transaction_id", pass.TransactionID,
		"start_time", pass.StartTime,
		"end_time", pass.EndTime,
		"size", page.Size())

	next := pass
	next.Offset = s.chunkSize
	next.State = StartSent
	return next, nil
}

func (s *Sender) sendNext(ctx context.Context, pass Pass) (Pass, error) {
	page, err := s.changes.GetChangesSince(ctx, pass.StartTime, pass.EndTime, pass.Offset, s.chunkSize)
	if err != nil {
		return pass, fmt.Errorf("failed to read page at offset %d: %w", pass.Offset, err)
	}

	if !page.IsEmpty() {
		if err := s.sendContinue(ctx, pass, page, true); err != nil {
			return pass, err
		}
		next := pass
		next.Offset += s.chunkSize
		return next, nil
	}

	resent, err := s.resendOutstanding(ctx, pass)
	if err != nil {
		return pass, err
	}
	if resent {
		next := pass
		next.Retries++
		return next, nil
	}

	msg := s.factory.BatchChangeEnd(pass.TransactionID, s.chunkSize, pass.StartTime, pass.EndTime, pass.LastSynced)
	if err := s.outbox.Send(ctx, msg); err != nil {
		return pass, err
	}

	s.logger.Debug("Batch changes sent",
		"transaction_id", pass.TransactionID,
		"offset", pass.Offset,
		"retries", pass.Retries)

	next := pass
	next.State = ChangesSent
	return next, nil
}

// resendOutstanding повторно отправляет неподтвержденные id, если это разрешает политика.
// Id, которых больше нет, списываются из журнала.
func (s *Sender) resendOutstanding(ctx context.Context, pass Pass) (bool, error) {
	outstanding, err := s.journal.FinalReceipt(ctx)
	if err != nil {
		return false, err
	}
	if outstanding.IsEmpty() || !s.retry.ShouldRetry(outstanding, pass.Retries+1) {
		return false, nil
	}

	state, missing, err := s.changes.StateFor(ctx, retryWindow(outstanding, pass.Retries*s.chunkSize, s.chunkSize))
	if err != nil {
		return false, fmt.Errorf("failed to rebuild outstanding state: %w", err)
	}
	if err := s.journal.WriteOff(ctx, missing); err != nil {
		return false, err
	}
	if state.IsEmpty() {
		return false, nil
	}

	s.logger.Debug("Resending unacknowledged changes",
		"transaction_id", pass.TransactionID,
		"attempt", pass.Retries+1,
		"size", state.Size())

	return true, s.sendContinue(ctx, pass, state, false)
}

func (s *Sender) sendContinue(ctx context.Context, pass Pass, page api.DeltaStates, journal bool) error {
	if journal {
		if err := s.journal.Write(ctx, page); err != nil {
			return err
		}
	}
	msg := s.factory.BatchChangeContinue(pass.TransactionID, page, s.chunkSize, pass.StartTime, pass.EndTime)
	return s.outbox.Send(ctx, msg)
}

// retryWindow выбирает из receipt не больше n id, начиная с позиции offset по кругу.
// Каждая попытка сдвигает окно, поэтому хвост тоже уходит повторно в пределах прохода.
func retryWindow(receipt api.Receipt, offset, n int) api.Receipt {
	total := len(receipt.Added) + len(receipt.Removed)
	result := api.NewReceipt()
	if total == 0 || n <= 0 {
		return result
	}
	if n > total {
		n = total
	}

	added := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		added[(offset+i)%total] = true
	}
	for i, id := range receipt.Added {
		if added[i] {
			result.Added = append(result.Added, id)
		}
	}
	for i, id := range receipt.Removed {
		if added[len(receipt.Added)+i] {
			result.Removed = append(result.Removed, id)
		}
	}
	return result
}
