package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/docsync/internal/syncerr"
	"github.com/iudanet/docsync/pkg/api"
)

const testTransactionID = "01JA2B3C4D5E6F7G8H9J0KMNPQ"

// fixedFactory создает фабрику с детерминированным заголовком для golden файлов
func fixedFactory() *Factory {
	factory := NewFactory(testIdentity)
	factory.newID = func() string { return "msg-1" }
	factory.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return factory
}

func testFeed() api.DeltaStates {
	feed := api.NewDeltaStates()
	feed.ChangeSet = append(feed.ChangeSet, api.Document{
		ID:           "d1",
		Content:      json.RawMessage(`{"title":"hello"}`),
		LastModified: 100,
	})
	feed.TombstoneMap["d2"] = 150
	return feed
}

func TestCodec_Golden(t *testing.T) {
	factory := fixedFactory()

	tests := []struct {
		msg  api.DataGateMessage
		name string
	}{
		{name: "connect", msg: factory.Connect("token")},
		{name: "connect_ack", msg: factory.ConnectAck(testTransactionID, 86400000)},
		{name: "batch_change_start", msg: factory.BatchChangeStart(testTransactionID, testFeed(), 10, 0, 200)},
		{name: "batch_change_end", msg: factory.BatchChangeEnd(testTransactionID, 10, 0, 200, 42)},
		{name: "batch_ack", msg: factory.BatchAck(testTransactionID, api.Receipt{Added: []string{"d1"}, Removed: []string{"d2"}})},
		{name: "data_gate_feed", msg: factory.DataGateFeed(testTransactionID, testFeed())},
		{name: "error", msg: factory.Error(testTransactionID, "Unauthorized")},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Codec{}.Encode(tt.msg)
			require.NoError(t, err)
			g.Assert(t, tt.name, data)

			decoded, err := Codec{}.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, decoded)
		})
	}
}

func TestCodec_Decode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{name: "not json", data: `{"header":`, wantErr: "decode"},
		{name: "missing header", data: `{"authToken":"x"}`, wantErr: "header is missing"},
		{name: "missing type", data: `{"header":{"collection":"notes"}}`, wantErr: "type is missing"},
		{name: "unknown type", data: `{"header":{"messageType":"Ping","collection":"notes"}}`, wantErr: `unknown message type "Ping"`},
		{name: "wrong payload", data: `{"header":{"messageType":"BatchAck"},"receipt":"oops"}`, wantErr: "decode BatchAck"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Codec{}.Decode([]byte(tt.data))
			require.Error(t, err)
			assert.Nil(t, msg)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, syncerr.IsFatal(err))
			assert.Equal(t, syncerr.KindProtocol, syncerr.KindOf(err))
		})
	}
}

func TestCodec_Decode_Variant(t *testing.T) {
	msg, err := Codec{}.Decode([]byte(`{"header":{"messageType":"DataGateFeedAck","collection":"notes"},"receipt":{"added":["a"],"removed":[]}}`))
	require.NoError(t, err)

	ack, ok := msg.(*api.DataGateFeedAck)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, ack.Receipt.Added)
	assert.Equal(t, "notes", ack.GetHeader().Collection)
}

func TestCodec_Encode_Invalid(t *testing.T) {
	_, err := Codec{}.Encode(nil)
	assert.Error(t, err)

	_, err = Codec{}.Encode(&api.BatchEndAck{})
	assert.Error(t, err)
}
