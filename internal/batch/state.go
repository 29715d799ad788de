// Package batch реализует постраничную передачу изменений CRDT пиру.
// Проход описывается значением Pass, а Sender.Step - функция перехода
// ReadyToSend -> StartSent -> ChangesSent, которую вызывает Scheduler по таймеру.
package batch

import "fmt"

// State состояние прохода
type State int

const (
	ReadyToSend State = iota // ReadyToSend проход создан, ничего не отправлено
	StartSent                // StartSent отправлен BatchChangeStart, идут страницы
	ChangesSent              // ChangesSent отправлен BatchChangeEnd, проход завершен
)

func (s State) String() string {
	switch s {
	case ReadyToSend:
		return "ReadyToSend"
	case StartSent:
		return "StartSent"
	case ChangesSent:
		return "ChangesSent"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Pass состояние одного прохода синхронизации.
// Все сообщения прохода несут один TransactionID и одно окно (StartTime, EndTime].
type Pass struct {
	TransactionID string
	StartTime     int64 // StartTime локальная отметка, до которой изменения уже доставлены
	EndTime       int64 // EndTime верхняя граница окна
	LastSynced    int64 // LastSynced отметка пира, до которой его изменения получены
	Offset        int   // Offset смещение следующей страницы
	Retries       int   // Retries число повторных отправок неподтвержденных id
	State         State
}

// Done reports whether the pass reached its terminal state.
func (p Pass) Done() bool {
	return p.State == ChangesSent
}
