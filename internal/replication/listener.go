package replication

import (
	"fmt"

	"github.com/iudanet/docsync/internal/events"
	"github.com/iudanet/docsync/internal/protocol"
	"github.com/iudanet/docsync/internal/syncerr"
	"github.com/iudanet/docsync/internal/transport"
)

// socketListener принимает события одного соединения
type socketListener struct {
	t      *Template
	socket *transport.Socket
}

// OnOpen отправляет Connect до подтверждения соединения
func (l *socketListener) OnOpen(socket *transport.Socket) {
	t := l.t
	l.socket = socket
	t.setSocket(socket)

	if err := t.sendTo(socket, t.factory.Connect(t.cfg.AuthToken)); err != nil {
		t.fail(err)
		return
	}

	t.logger.Info("Connection opened")
	t.post(events.Event{Type: events.Started})
}

// OnMessage декодирует, проверяет и передает сообщение диспетчеру.
// Ошибки декодирования и проверки фатальны.
func (l *socketListener) OnMessage(data []byte) {
	t := l.t

	msg, err := t.codec.Decode(data)
	if err != nil {
		t.fail(err)
		return
	}
	if err := protocol.Validate(msg); err != nil {
		t.fail(err)
		return
	}

	t.logger.Debug("Message received",
		"message_type", string(msg.GetHeader().MessageType),
		"transaction_id", msg.GetHeader().TransactionID)

	if err := t.dispatcher.Dispatch(t.ctx, msg); err != nil {
		t.fail(err)
	}
}

// OnFailure публикует ошибку транспорта и снимает соединение
func (l *socketListener) OnFailure(err error) {
	t := l.t
	t.post(events.Event{Type: events.Error, Err: syncerr.Transport("connection", err)})
	l.teardown(fmt.Sprintf("connection failure: %v", err))
}

// OnClosed снимает закрытое пиром соединение
func (l *socketListener) OnClosed(code int, reason string) {
	l.teardown(fmt.Sprintf("connection closed (%d): %s", code, reason))
}

// teardown выполняет остановку, только если соединение еще текущее;
// после StopReplication socket уже снят и событие повторно не публикуется
func (l *socketListener) teardown(reason string) {
	t := l.t
	if t.takeSocket(l.socket) == nil {
		t.logger.Debug("Stale connection ended", "reason", reason)
		return
	}

	t.scheduler.Stop()
	t.connected.Store(false)
	t.exchangeFlag.Store(false)
	t.acceptCheckpoint.Store(false)
	t.connecting.Store(0)

	t.logger.Info("Replication stopped", "reason", reason)
	t.post(events.Event{Type: events.Stopped, Reason: reason})
}
