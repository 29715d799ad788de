package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSettings() Settings {
	settings := DefaultSettings()
	settings.HandshakeTimeout = time.Second
	settings.WriteTimeout = time.Second
	settings.PingInterval = 20 * time.Millisecond
	settings.ReadTimeout = time.Second
	return settings
}

// recordingListener собирает события соединения
type recordingListener struct {
	opened   chan *Socket
	messages chan string
	closed   chan string
	failed   chan error
	code     int
	mu       sync.Mutex
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		opened:   make(chan *Socket, 1),
		messages: make(chan string, 16),
		closed:   make(chan string, 1),
		failed:   make(chan error, 1),
	}
}

func (l *recordingListener) OnOpen(socket *Socket) { l.opened <- socket }
func (l *recordingListener) OnMessage(data []byte) { l.messages <- string(data) }
func (l *recordingListener) OnFailure(err error)   { l.failed <- err }
func (l *recordingListener) OnClosed(code int, reason string) {
	l.mu.Lock()
	l.code = code
	l.mu.Unlock()
	l.closed <- reason
}

// echoServer отвечает на каждое текстовое сообщение тем же сообщением.
// Сообщение "close" закрывает соединение кодом 4000.
func echoServer(t *testing.T) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "close" {
				msg := websocket.FormatCloseMessage(4000, "bye")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteMessage(messageType, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func receive[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	var zero T
	return zero
}

func TestSocket_SendReceiveClose(t *testing.T) {
	listener := newRecordingListener()
	registry := DefaultRegistry(testSettings())

	socket, err := Open(context.Background(), echoServer(t), nil, registry, testSettings(), listener, testLogger())
	require.NoError(t, err)
	assert.Same(t, socket, receive(t, listener.opened))
	assert.True(t, socket.IsOpen())

	require.NoError(t, socket.Send([]byte(`{"hello":"world"}`)))
	assert.Equal(t, `{"hello":"world"}`, receive(t, listener.messages))

	// Пинги не мешают обмену
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, socket.Send([]byte("again")))
	assert.Equal(t, "again", receive(t, listener.messages))

	socket.Close("client disconnect")
	socket.Close("second close is ignored")

	assert.Equal(t, "client disconnect", receive(t, listener.closed))
	assert.False(t, socket.IsOpen())
	assert.ErrorIs(t, socket.Send([]byte("late")), ErrSocketClosed)
	assert.Empty(t, listener.failed)
}

func TestSocket_ServerClose(t *testing.T) {
	listener := newRecordingListener()

	socket, err := Open(context.Background(), echoServer(t), nil, DefaultRegistry(testSettings()), testSettings(), listener, testLogger())
	require.NoError(t, err)
	receive(t, listener.opened)

	require.NoError(t, socket.Send([]byte("close")))
	assert.Equal(t, "bye", receive(t, listener.closed))

	listener.mu.Lock()
	assert.Equal(t, 4000, listener.code)
	listener.mu.Unlock()
	assert.Eventually(t, func() bool { return !socket.IsOpen() }, time.Second, 5*time.Millisecond)
}

func TestSocket_Failure(t *testing.T) {
	listener := newRecordingListener()

	// Сервер обрывает соединение без close frame
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, _, _ = conn.ReadMessage()
		conn.NetConn().Close()
	}))
	defer server.Close()

	socket, err := Open(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http"), nil, DefaultRegistry(testSettings()), testSettings(), listener, testLogger())
	require.NoError(t, err)
	receive(t, listener.opened)

	require.NoError(t, socket.Send([]byte("anything")))
	assert.Error(t, receive(t, listener.failed))
	assert.Empty(t, listener.closed)
}

func TestOpen_Errors(t *testing.T) {
	listener := newRecordingListener()

	_, err := Open(context.Background(), "ftp://localhost/x", nil, DefaultRegistry(testSettings()), testSettings(), listener, testLogger())
	assert.ErrorIs(t, err, ErrUnknownScheme)

	_, err = Open(context.Background(), "ws://127.0.0.1:1/unreachable", nil, DefaultRegistry(testSettings()), testSettings(), listener, testLogger())
	assert.Error(t, err)

	assert.Empty(t, listener.opened, "OnOpen is not called when dial fails")
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	_, ok := registry.Lookup("ws")
	assert.False(t, ok)

	called := false
	registry.Register("mem", DialerFunc(func(context.Context, string, http.Header) (*websocket.Conn, error) {
		called = true
		return nil, io.EOF
	}))

	dialer, ok := registry.Lookup("mem")
	require.True(t, ok)
	_, err := dialer.Dial(context.Background(), "mem://x", nil)
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, called)

	defaults := DefaultRegistry(DefaultSettings())
	for _, scheme := range []string{"ws", "wss"} {
		_, ok := defaults.Lookup(scheme)
		assert.True(t, ok, scheme)
	}
}

func TestAccept(t *testing.T) {
	serverListener := newRecordingListener()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		Accept(conn, testSettings(), serverListener, testLogger())
	}))
	defer server.Close()

	clientListener := newRecordingListener()
	client, err := Open(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http"), nil, DefaultRegistry(testSettings()), testSettings(), clientListener, testLogger())
	require.NoError(t, err)

	serverSocket := receive(t, serverListener.opened)
	require.NoError(t, client.Send([]byte("ping from client")))
	assert.Equal(t, "ping from client", receive(t, serverListener.messages))

	require.NoError(t, serverSocket.Send([]byte("pong from server")))
	assert.Equal(t, "pong from server", receive(t, clientListener.messages))

	client.Close("done")
	assert.Equal(t, "done", receive(t, serverListener.closed))
}

func TestSocket_CloseFlushesQueue(t *testing.T) {
	serverListener := newRecordingListener()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		Accept(conn, testSettings(), serverListener, testLogger())
	}))
	defer server.Close()

	client, err := Open(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http"), nil, DefaultRegistry(testSettings()), testSettings(), newRecordingListener(), testLogger())
	require.NoError(t, err)
	receive(t, serverListener.opened)

	// Сообщение из очереди уходит до close frame
	require.NoError(t, client.Send([]byte("last words")))
	client.Close("bye")

	assert.Equal(t, "last words", receive(t, serverListener.messages))
	assert.Equal(t, "bye", receive(t, serverListener.closed))
}
