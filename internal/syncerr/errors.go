// Package syncerr описывает таксономию ошибок репликации.
// Каждая ошибка несет вид (Kind) и признак фатальности: фатальные ошибки
// приводят к закрытию соединения, нефатальные только публикуются как события.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind вид ошибки репликации
type Kind string

const (
	KindProtocol     Kind = "protocol"      // KindProtocol некорректное или неизвестное сообщение
	KindTransport    Kind = "transport"     // KindTransport сбой или неожиданное закрытие соединения
	KindHandler      Kind = "handler"       // KindHandler ошибка обработчика сообщения
	KindIllegalState Kind = "illegal_state" // KindIllegalState отправка без активного соединения
)

// ErrNotConnected is returned when a message is sent without an acknowledged connection.
var ErrNotConnected = errors.New("datagate client is not connected")

// Error ошибка репликации
type Error struct {
	Err   error
	Kind  Kind
	Op    string
	Fatal bool
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Protocol создает фатальную ошибку протокола
func Protocol(op string, err error) *Error {
	return &Error{Kind: KindProtocol, Op: op, Err: err, Fatal: true}
}

// Protocolf создает фатальную ошибку протокола с форматированным сообщением
func Protocolf(format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Err: fmt.Errorf(format, args...), Fatal: true}
}

// Transport создает ошибку транспорта; она фатальна для текущего соединения
func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err, Fatal: true}
}

// Handler создает ошибку обработчика с явным признаком фатальности
func Handler(op string, err error, fatal bool) *Error {
	return &Error{Kind: KindHandler, Op: op, Err: err, Fatal: fatal}
}

// IllegalState создает ошибку отправки без соединения
func IllegalState(op string) *Error {
	return &Error{Kind: KindIllegalState, Op: op, Err: ErrNotConnected, Fatal: true}
}

// IsFatal reports whether err must tear down the connection.
// Errors outside the taxonomy are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var syncErr *Error
	if errors.As(err, &syncErr) {
		return syncErr.Fatal
	}
	return true
}

// KindOf returns the kind of err, or an empty kind for foreign errors.
func KindOf(err error) Kind {
	var syncErr *Error
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	return ""
}
