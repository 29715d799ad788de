package replication

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/docsync/internal/config"
	"github.com/iudanet/docsync/internal/events"
	"github.com/iudanet/docsync/internal/protocol"
	"github.com/iudanet/docsync/internal/storage/boltdb"
	"github.com/iudanet/docsync/pkg/api"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGate минимальный DataGate: подтверждает Connect, страницы и feed
// и записывает все полученные сообщения
type fakeGate struct {
	server  *httptest.Server
	factory *protocol.Factory
	// respond заменяет ответы по умолчанию; true - сообщение обработано
	respond  func(c *gateConn, msg api.DataGateMessage) bool
	received []api.DataGateMessage
	conns    []*gateConn
	codec    protocol.Codec
	ttl      int64
	mu       sync.Mutex
}

type gateConn struct {
	gate *fakeGate
	conn *websocket.Conn
	mu   sync.Mutex
}

func newFakeGate(t *testing.T) *fakeGate {
	t.Helper()

	g := &fakeGate{
		factory: protocol.NewFactory(protocol.Identity{
			Collection: "notes",
			ReplicaID:  "datagate",
			UserName:   "alice",
			Tenant:     "default",
		}),
	}

	upgrader := websocket.Upgrader{}
	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := &gateConn{gate: g, conn: conn}

		g.mu.Lock()
		g.conns = append(g.conns, c)
		g.mu.Unlock()

		c.serve()
	}))
	t.Cleanup(g.server.Close)

	return g
}

func (g *fakeGate) url() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

func (g *fakeGate) connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.conns)
}

func (g *fakeGate) last() *gateConn {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.conns[len(g.conns)-1]
}

func (g *fakeGate) messages(messageType api.MessageType) []api.DataGateMessage {
	g.mu.Lock()
	defer g.mu.Unlock()

	var result []api.DataGateMessage
	for _, msg := range g.received {
		if msg.GetHeader().MessageType == messageType {
			result = append(result, msg)
		}
	}
	return result
}

// batchTypes возвращает типы сообщений прохода в порядке получения
func (g *fakeGate) batchTypes() []api.MessageType {
	g.mu.Lock()
	defer g.mu.Unlock()

	var result []api.MessageType
	for _, msg := range g.received {
		switch msg.GetHeader().MessageType {
		case api.MessageTypeBatchChangeStart, api.MessageTypeBatchChangeContinue, api.MessageTypeBatchChangeEnd:
			result = append(result, msg.GetHeader().MessageType)
		}
	}
	return result
}

func (c *gateConn) serve() {
	defer c.conn.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := c.gate.codec.Decode(data)
		if err != nil {
			return
		}

		c.gate.mu.Lock()
		c.gate.received = append(c.gate.received, msg)
		respond := c.gate.respond
		c.gate.mu.Unlock()

		if respond != nil && respond(c, msg) {
			continue
		}
		c.respondDefault(msg)
	}
}

func (c *gateConn) respondDefault(msg api.DataGateMessage) {
	f := c.gate.factory
	tx := msg.GetHeader().TransactionID

	switch m := msg.(type) {
	case *api.Connect:
		c.send(f.ConnectAck(tx, c.gate.ttl))
	case *api.BatchChangeStart:
		c.send(f.BatchAck(tx, m.Feed.Receipt()))
	case *api.BatchChangeContinue:
		c.send(f.BatchAck(tx, m.Feed.Receipt()))
	case *api.BatchChangeEnd:
		c.send(f.BatchEndAck(tx))
	case *api.DataGateFeed:
		c.send(f.DataGateFeedAck(tx, m.Feed.Receipt()))
	}
}

func (c *gateConn) send(msg api.DataGateMessage) {
	data, err := c.gate.codec.Encode(msg)
	if err != nil {
		panic(err)
	}
	c.sendRaw(data)
}

func (c *gateConn) sendRaw(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *gateConn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.conn.Close()
}

// eventRecorder собирает события реплики
type eventRecorder struct {
	events []events.Event
	mu     sync.Mutex
}

func (r *eventRecorder) listen(event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

func (r *eventRecorder) all(eventType events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []events.Event
	for _, event := range r.events {
		if event.Type == eventType {
			result = append(result, event)
		}
	}
	return result
}

func (r *eventRecorder) count(eventType events.Type) int {
	return len(r.all(eventType))
}

type testReplica struct {
	*Replica
	store      *boltdb.Storage
	collection *boltdb.Collection
	tombstones *boltdb.Tombstones
	metadata   *boltdb.Metadata
	events     *eventRecorder
}

func testConfig(remoteURL string) config.Config {
	cfg := config.Default()
	cfg.Collection = "notes"
	cfg.RemoteURL = remoteURL
	cfg.UserName = "alice"
	cfg.ChunkSize = 10
	cfg.Debounce = config.Duration{Duration: 5 * time.Millisecond}
	cfg.PollingRate = config.Duration{Duration: 20 * time.Millisecond}
	cfg.Timeout = config.Duration{Duration: time.Second}
	cfg.RetryAttempts = 0
	return cfg
}

func newTestReplica(t *testing.T, remoteURL string, modify func(*config.Config)) *testReplica {
	t.Helper()
	ctx := context.Background()

	store, err := boltdb.New(ctx, t.TempDir()+"/replica.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := testConfig(remoteURL)
	if modify != nil {
		modify(&cfg)
	}

	replica, err := Open(ctx, cfg, store, nil, testLogger())
	require.NoError(t, err)
	t.Cleanup(replica.Close)

	collection, err := store.Collection(cfg.Collection)
	require.NoError(t, err)
	tombstones, err := store.Tombstones(cfg.TombstoneMapName())
	require.NoError(t, err)

	recorder := &eventRecorder{}
	replica.Subscribe(recorder.listen)

	return &testReplica{
		Replica:    replica,
		store:      store,
		collection: collection,
		tombstones: tombstones,
		metadata:   store.Metadata(cfg.Collection),
		events:     recorder,
	}
}

func doc(id string, lastModified int64) *api.Document {
	return &api.Document{ID: id, Content: json.RawMessage(`{}`), LastModified: lastModified}
}
